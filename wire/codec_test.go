package wire_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/outofforest/memexpose/wire"
)

func TestWriteLayout(t *testing.T) {
	requireT := require.New(t)

	b, err := wire.Encode(wire.New(0, &wire.Write{Offset: 0x1000, Value: 0xdeadbeef, Size: 4}))
	requireT.NoError(err)
	requireT.Equal([]byte{
		23, 0, 0, 0, // size
		byte(wire.KindWrite), // kind
		0,                    // priority
		0x00, 0x10, 0, 0, 0, 0, 0, 0, // offset
		0xef, 0xbe, 0xad, 0xde, 0, 0, 0, 0, // value
		4, // size
	}, b)
}

func TestShareNoneIsZeroed(t *testing.T) {
	requireT := require.New(t)

	b, err := wire.Encode(wire.New(0, &wire.WriteRet{Share: wire.ShareInfo{
		Kind:  wire.ShareNone,
		Start: 0x1234,
	}}))
	requireT.NoError(err)
	requireT.Len(b, 37)
	for _, v := range b[wire.HeaderSize:] {
		requireT.Zero(v)
	}
}

func TestMessageSizes(t *testing.T) {
	requireT := require.New(t)

	sizes := map[wire.Kind]uint32{
		wire.KindRead:                15,
		wire.KindWrite:               23,
		wire.KindReadRet:             45,
		wire.KindWriteRet:            37,
		wire.KindRegionInvalidate:    22,
		wire.KindRegionInvalidateRet: 6,
		wire.KindInterrupt:           142,
	}
	for _, msg := range testMessages() {
		requireT.Equal(sizes[msg.Header.Kind], msg.Header.Size, msg.Header.Kind.String())
	}
	requireT.EqualValues(wire.MaxMessageSize, sizes[wire.KindInterrupt])
}

func TestEncodeRejectsMismatchedKind(t *testing.T) {
	requireT := require.New(t)

	msg := wire.New(0, &wire.Read{})
	msg.Header.Kind = wire.KindWrite
	_, err := wire.Encode(msg)
	requireT.Error(err)
}

func TestDecodeRejectsWrongLength(t *testing.T) {
	requireT := require.New(t)

	b, err := wire.Encode(wire.New(0, &wire.Read{Offset: 1, Size: 1}))
	requireT.NoError(err)

	_, err = wire.Decode(b[:len(b)-1])
	requireT.Error(err)
}
