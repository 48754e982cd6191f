package wire

import (
	"encoding/binary"

	"github.com/pkg/errors"
)

var order = binary.LittleEndian

// Kind returns the message kind.
func (*Read) Kind() Kind { return KindRead }

func (*Read) size() int { return readBodySize }

func (r *Read) marshal(b []byte) {
	order.PutUint64(b[0:8], r.Offset)
	b[8] = r.Size
}

func (r *Read) unmarshal(b []byte) {
	r.Offset = order.Uint64(b[0:8])
	r.Size = b[8]
}

// Kind returns the message kind.
func (*Write) Kind() Kind { return KindWrite }

func (*Write) size() int { return writeBodySize }

func (w *Write) marshal(b []byte) {
	order.PutUint64(b[0:8], w.Offset)
	order.PutUint64(b[8:16], w.Value)
	b[16] = w.Size
}

func (w *Write) unmarshal(b []byte) {
	w.Offset = order.Uint64(b[0:8])
	w.Value = order.Uint64(b[8:16])
	w.Size = b[16]
}

// Kind returns the message kind.
func (*ReadRet) Kind() Kind { return KindReadRet }

func (*ReadRet) size() int { return readRetBodySize }

func (r *ReadRet) marshal(b []byte) {
	order.PutUint32(b[0:4], uint32(r.Result))
	order.PutUint64(b[4:12], r.Value)
	r.Share.marshal(b[12:])
}

func (r *ReadRet) unmarshal(b []byte) {
	r.Result = int32(order.Uint32(b[0:4]))
	r.Value = order.Uint64(b[4:12])
	r.Share.unmarshal(b[12:])
}

// Kind returns the message kind.
func (*WriteRet) Kind() Kind { return KindWriteRet }

func (*WriteRet) size() int { return writeRetBodySize }

func (w *WriteRet) marshal(b []byte) {
	order.PutUint32(b[0:4], uint32(w.Result))
	w.Share.marshal(b[4:])
}

func (w *WriteRet) unmarshal(b []byte) {
	w.Result = int32(order.Uint32(b[0:4]))
	w.Share.unmarshal(b[4:])
}

// Kind returns the message kind.
func (*RegionInvalidate) Kind() Kind { return KindRegionInvalidate }

func (*RegionInvalidate) size() int { return regionInvalidateBodySize }

func (r *RegionInvalidate) marshal(b []byte) {
	order.PutUint64(b[0:8], r.Start)
	order.PutUint64(b[8:16], r.Size)
}

func (r *RegionInvalidate) unmarshal(b []byte) {
	r.Start = order.Uint64(b[0:8])
	r.Size = order.Uint64(b[8:16])
}

// Kind returns the message kind.
func (*RegionInvalidateRet) Kind() Kind { return KindRegionInvalidateRet }

func (*RegionInvalidateRet) size() int { return 0 }

func (*RegionInvalidateRet) marshal([]byte) {}

func (*RegionInvalidateRet) unmarshal([]byte) {}

// Kind returns the message kind.
func (*Interrupt) Kind() Kind { return KindInterrupt }

func (*Interrupt) size() int { return interruptBodySize }

func (i *Interrupt) marshal(b []byte) {
	order.PutUint64(b[0:8], i.Type)
	copy(b[8:], i.Data[:])
}

func (i *Interrupt) unmarshal(b []byte) {
	i.Type = order.Uint64(b[0:8])
	copy(i.Data[:], b[8:])
}

// Kind returns the message kind.
func (u *Unknown) Kind() Kind { return u.K }

func (u *Unknown) size() int { return len(u.Raw) }

func (u *Unknown) marshal(b []byte) {
	copy(b, u.Raw)
}

func (u *Unknown) unmarshal(b []byte) {
	u.Raw = append([]byte(nil), b...)
}

func (s *ShareInfo) marshal(b []byte) {
	clear(b[:shareInfoSize])
	b[0] = byte(s.Kind)
	if s.Kind != ShareFD {
		return
	}
	order.PutUint64(b[1:9], s.Start)
	order.PutUint64(b[9:17], s.MmapStart)
	order.PutUint64(b[17:25], s.Size)
	b[25] = boolToByte(s.ReadOnly)
	b[26] = boolToByte(s.NonVolatile)
}

func (s *ShareInfo) unmarshal(b []byte) {
	s.Kind = ShareKind(b[0])
	if s.Kind != ShareFD {
		return
	}
	s.Start = order.Uint64(b[1:9])
	s.MmapStart = order.Uint64(b[9:17])
	s.Size = order.Uint64(b[17:25])
	s.ReadOnly = b[25] != 0
	s.NonVolatile = b[26] != 0
}

func boolToByte(v bool) byte {
	if v {
		return 1
	}
	return 0
}

// Encode returns the wire representation of the message.
func Encode(msg Message) ([]byte, error) {
	if msg.Body == nil {
		return nil, errors.New("message has no body")
	}
	size := HeaderSize + msg.Body.size()
	if size < MinMessageSize || size > MaxMessageSize {
		return nil, errors.Errorf("invalid message size %d", size)
	}
	if msg.Body.Kind() != msg.Header.Kind {
		return nil, errors.Errorf("header kind %s does not match body kind %s", msg.Header.Kind,
			msg.Body.Kind())
	}

	b := make([]byte, size)
	order.PutUint32(b[0:4], uint32(size))
	b[4] = byte(msg.Header.Kind)
	b[5] = msg.Header.Priority
	msg.Body.marshal(b[HeaderSize:])
	return b, nil
}

// Decode decodes complete message.
func Decode(b []byte) (Message, error) {
	if len(b) < HeaderSize {
		return Message{}, errors.Errorf("message too short: %d", len(b))
	}
	header := Header{
		Size:     order.Uint32(b[0:4]),
		Kind:     Kind(b[4]),
		Priority: b[5],
	}
	if int(header.Size) != len(b) {
		return Message{}, errors.Errorf("declared size %d does not match received %d", header.Size, len(b))
	}

	body := newBody(header.Kind)
	if _, unknown := body.(*Unknown); !unknown && body.size() != len(b)-HeaderSize {
		return Message{}, errors.Errorf("invalid size %d of %s message", header.Size, header.Kind)
	}
	body.unmarshal(b[HeaderSize:])

	return Message{
		Header: header,
		Body:   body,
	}, nil
}

func newBody(kind Kind) Body {
	switch kind {
	case KindRead:
		return &Read{}
	case KindReadRet:
		return &ReadRet{}
	case KindWrite:
		return &Write{}
	case KindWriteRet:
		return &WriteRet{}
	case KindRegionInvalidate:
		return &RegionInvalidate{}
	case KindRegionInvalidateRet:
		return &RegionInvalidateRet{}
	case KindInterrupt:
		return &Interrupt{}
	default:
		return &Unknown{K: kind}
	}
}
