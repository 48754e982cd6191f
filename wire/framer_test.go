package wire_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/outofforest/memexpose/wire"
)

func testMessages() []wire.Message {
	intr := &wire.Interrupt{Type: 0x1122334455667788}
	for i := range intr.Data {
		intr.Data[i] = byte(i)
	}

	return []wire.Message{
		wire.New(0, &wire.Read{Offset: 0x1000, Size: 4}),
		wire.New(3, &wire.Write{Offset: 0x1000, Value: 0xdeadbeef, Size: 4}),
		wire.New(3, &wire.ReadRet{Result: -5, Value: 0xcafe}),
		wire.New(1, &wire.ReadRet{Value: 7, Share: wire.ShareInfo{
			Kind:        wire.ShareFD,
			Start:       0x2000,
			MmapStart:   0x10,
			Size:        0x4000,
			ReadOnly:    true,
			NonVolatile: true,
		}}),
		wire.New(2, &wire.WriteRet{}),
		wire.New(4, &wire.RegionInvalidate{Start: 0x3000, Size: 0x1000}),
		wire.New(4, &wire.RegionInvalidateRet{}),
		wire.New(0, intr),
	}
}

func feedByteByByte(requireT *require.Assertions, f *wire.Framer, b []byte) []wire.Message {
	var msgs []wire.Message
	for i := range b {
		requireT.GreaterOrEqual(f.CanReceive(), 1)
		status, msg, err := f.Consume(b[i : i+1])
		requireT.NoError(err)
		if status == wire.StatusMessageReady {
			msgs = append(msgs, msg)
		}
	}
	return msgs
}

func TestRoundTripByteByByte(t *testing.T) {
	for _, msg := range testMessages() {
		t.Run(msg.Header.Kind.String(), func(t *testing.T) {
			requireT := require.New(t)

			b, err := wire.Encode(msg)
			requireT.NoError(err)
			requireT.Len(b, int(msg.Header.Size))

			var f wire.Framer
			msgs := feedByteByByte(requireT, &f, b)
			requireT.Len(msgs, 1)
			requireT.Equal(msg, msgs[0])
			requireT.Equal(wire.StateReadSize, f.State())
		})
	}
}

func TestStreamOfMessages(t *testing.T) {
	requireT := require.New(t)

	var stream []byte
	expected := testMessages()
	for _, msg := range expected {
		b, err := wire.Encode(msg)
		requireT.NoError(err)
		stream = append(stream, b...)
	}

	var f wire.Framer
	var received []wire.Message
	for len(stream) > 0 {
		n := min(f.CanReceive(), len(stream))
		requireT.Positive(n)
		status, msg, err := f.Consume(stream[:n])
		requireT.NoError(err)
		stream = stream[n:]
		if status == wire.StatusMessageReady {
			received = append(received, msg)
		}
	}
	requireT.Equal(expected, received)
}

func TestCanReceive(t *testing.T) {
	requireT := require.New(t)

	b, err := wire.Encode(wire.New(0, &wire.Read{Offset: 1, Size: 1}))
	requireT.NoError(err)

	var f wire.Framer
	requireT.Equal(wire.SizeFieldSize, f.CanReceive())

	status, _, err := f.Consume(b[:2])
	requireT.NoError(err)
	requireT.Equal(wire.StatusNeedMore, status)
	requireT.Equal(2, f.CanReceive())

	status, _, err = f.Consume(b[2:4])
	requireT.NoError(err)
	requireT.Equal(wire.StatusNeedMore, status)
	requireT.Equal(wire.StateReadBody, f.State())
	requireT.Equal(len(b)-4, f.CanReceive())
}

func TestTooLargeSizeBreaksFramer(t *testing.T) {
	requireT := require.New(t)

	var f wire.Framer
	status, _, err := f.Consume([]byte{0xff, 0xff, 0x00, 0x00})
	requireT.Equal(wire.StatusError, status)
	requireT.ErrorIs(err, wire.ErrBroken)
	requireT.Equal(wire.StateBroken, f.State())
	requireT.Zero(f.CanReceive())

	status, _, err = f.Consume(nil)
	requireT.Equal(wire.StatusError, status)
	requireT.ErrorIs(err, wire.ErrBroken)
}

func TestTooSmallSizeBreaksFramer(t *testing.T) {
	requireT := require.New(t)

	var f wire.Framer
	status, _, err := f.Consume([]byte{0x03, 0x00, 0x00, 0x00})
	requireT.Equal(wire.StatusError, status)
	requireT.ErrorIs(err, wire.ErrBroken)
	requireT.Equal(wire.StateBroken, f.State())
}

func TestSizeNotMatchingKindBreaksFramer(t *testing.T) {
	requireT := require.New(t)

	// READ declared with the size of WRITE.
	b := make([]byte, 23)
	b[0] = 23
	b[4] = byte(wire.KindRead)

	var f wire.Framer
	status, _, err := f.Consume(b[:4])
	requireT.NoError(err)
	requireT.Equal(wire.StatusNeedMore, status)

	status, _, err = f.Consume(b[4:])
	requireT.Equal(wire.StatusError, status)
	requireT.ErrorIs(err, wire.ErrBroken)
	requireT.Equal(wire.StateBroken, f.State())
}

func TestUnknownKindIsDelivered(t *testing.T) {
	requireT := require.New(t)

	b := []byte{8, 0, 0, 0, 0x7f, 2, 0xaa, 0xbb}

	var f wire.Framer
	msgs := feedByteByByte(requireT, &f, b)
	requireT.Len(msgs, 1)
	requireT.Equal(wire.Header{Size: 8, Kind: 0x7f, Priority: 2}, msgs[0].Header)
	requireT.Equal(&wire.Unknown{K: 0x7f, Raw: []byte{0xaa, 0xbb}}, msgs[0].Body)
}
