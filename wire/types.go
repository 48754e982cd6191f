package wire

import (
	"os"
)

// Kind is the type of the message.
type Kind uint8

// Message kinds.
const (
	KindRead Kind = iota
	KindReadRet
	KindWrite
	KindWriteRet
	KindRegionInvalidate
	KindRegionInvalidateRet
	KindInterrupt
)

func (k Kind) String() string {
	switch k {
	case KindRead:
		return "READ"
	case KindReadRet:
		return "READ_RET"
	case KindWrite:
		return "WRITE"
	case KindWriteRet:
		return "WRITE_RET"
	case KindRegionInvalidate:
		return "REGION_INVALIDATE"
	case KindRegionInvalidateRet:
		return "REGION_INVALIDATE_RET"
	case KindInterrupt:
		return "INTERRUPT"
	default:
		return "UNKNOWN"
	}
}

const (
	// HeaderSize is the size of the encoded header.
	HeaderSize = 6

	// SizeFieldSize is the size of the leading size field of the header.
	SizeFieldSize = 4

	// MaxInterruptDataSize is the size of the interrupt payload.
	MaxInterruptDataSize = 128

	// MinMessageSize is the smallest valid message.
	MinMessageSize = HeaderSize

	// MaxMessageSize is the largest valid message.
	MaxMessageSize = HeaderSize + interruptBodySize
)

const (
	readBodySize             = 8 + 1
	writeBodySize            = 8 + 8 + 1
	shareInfoSize            = 1 + 8 + 8 + 8 + 1 + 1
	readRetBodySize          = 4 + 8 + shareInfoSize
	writeRetBodySize         = 4 + shareInfoSize
	regionInvalidateBodySize = 8 + 8
	interruptBodySize        = 8 + MaxInterruptDataSize
)

// Header precedes every message.
type Header struct {
	Size     uint32
	Kind     Kind
	Priority uint8
}

// Body is the kind-specific part of the message.
type Body interface {
	Kind() Kind
	size() int
	marshal(b []byte)
	unmarshal(b []byte)
}

// Message is the unit exchanged between endpoints.
type Message struct {
	Header Header
	Body   Body
}

// New creates message with header matching the body.
func New(priority uint8, body Body) Message {
	return Message{
		Header: Header{
			Size:     uint32(HeaderSize + body.size()),
			Kind:     body.Kind(),
			Priority: priority,
		},
		Body: body,
	}
}

// Read requests value stored at offset.
type Read struct {
	Offset uint64
	Size   uint8
}

// Write requests value to be stored at offset.
type Write struct {
	Offset uint64
	Value  uint64
	Size   uint8
}

// ShareKind tells if the reply carries a shareable memory region.
type ShareKind uint8

// Share kinds.
const (
	ShareNone ShareKind = iota
	ShareFD
)

// ShareInfo describes memory area offered to the peer.
type ShareInfo struct {
	Kind        ShareKind
	Start       uint64
	MmapStart   uint64
	Size        uint64
	ReadOnly    bool
	NonVolatile bool

	// File is transferred out of band, next to the message referencing it.
	File *os.File
}

// ReadRet is the reply to Read.
type ReadRet struct {
	Result int32
	Value  uint64
	Share  ShareInfo
}

// WriteRet is the reply to Write.
type WriteRet struct {
	Result int32
	Share  ShareInfo
}

// RegionInvalidate tells the peer that memory layout of the range changed.
type RegionInvalidate struct {
	Start uint64
	Size  uint64
}

// RegionInvalidateRet is the reply to RegionInvalidate.
type RegionInvalidateRet struct{}

// Interrupt is the message delivered to the interrupt mailbox.
type Interrupt struct {
	Type uint64
	Data [MaxInterruptDataSize]byte
}

// Unknown carries the body of message of unrecognized kind.
type Unknown struct {
	K   Kind
	Raw []byte
}

// Sharer is implemented by bodies able to carry a share offer.
type Sharer interface {
	ShareInfo() *ShareInfo
}

var (
	_ Sharer = &ReadRet{}
	_ Sharer = &WriteRet{}
)

// ShareInfo returns the share offer.
func (r *ReadRet) ShareInfo() *ShareInfo {
	return &r.Share
}

// ShareInfo returns the share offer.
func (r *WriteRet) ShareInfo() *ShareInfo {
	return &r.Share
}
