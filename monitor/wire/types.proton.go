package wire

import (
	"reflect"

	"github.com/outofforest/proton"
	"github.com/outofforest/proton/helpers"
	"github.com/pkg/errors"
)

const (
	id2 uint64 = iota + 1
	id3
	id1
)

var _ proton.Marshaller = Marshaller{}

// NewMarshaller creates marshaller.
func NewMarshaller() Marshaller {
	return Marshaller{}
}

// Marshaller marshals and unmarshals messages.
type Marshaller struct {
}

// Messages returns list of the message types supported by marshaller.
func (m Marshaller) Messages() []any {
	return []any {
		Request{},
		Response{},
		Status{},
	}
}

// ID returns ID of message type.
func (m Marshaller) ID(msg any) (uint64, error) {
	switch msg.(type) {
	case *Request:
		return id2, nil
	case *Response:
		return id3, nil
	case *Status:
		return id1, nil
	default:
		return 0, errors.Errorf("unknown message type %T", msg)
	}
}

// Size computes the size of marshalled message.
func (m Marshaller) Size(msg any) (uint64, error) {
	switch msg2 := msg.(type) {
	case *Request:
		return size2(msg2), nil
	case *Response:
		return size3(msg2), nil
	case *Status:
		return size1(msg2), nil
	default:
		return 0, errors.Errorf("unknown message type %T", msg)
	}
}

// Marshal marshals message.
func (m Marshaller) Marshal(msg any, buf []byte) (retID, retSize uint64, retErr error) {
	defer helpers.RecoverMarshal(&retErr)

	switch msg2 := msg.(type) {
	case *Request:
		return id2, marshal2(msg2, buf), nil
	case *Response:
		return id3, marshal3(msg2, buf), nil
	case *Status:
		return id1, marshal1(msg2, buf), nil
	default:
		return 0, 0, errors.Errorf("unknown message type %T", msg)
	}
}

// Unmarshal unmarshals message.
func (m Marshaller) Unmarshal(id uint64, buf []byte) (retMsg any, retSize uint64, retErr error) {
	defer helpers.RecoverUnmarshal(&retErr)

	switch id {
	case id2:
		msg := &Request{}
		return msg, unmarshal2(msg, buf), nil
	case id3:
		msg := &Response{}
		return msg, unmarshal3(msg, buf), nil
	case id1:
		msg := &Status{}
		return msg, unmarshal1(msg, buf), nil
	default:
		return nil, 0, errors.Errorf("unknown ID %d", id)
	}
}

// MakePatch creates a patch.
func (m Marshaller) MakePatch(msgDst, msgSrc any, buf []byte) (retID, retSize uint64, retErr error) {
	defer helpers.RecoverMakePatch(&retErr)

	switch msg2 := msgDst.(type) {
	case *Request:
		return id2, makePatch2(msg2, msgSrc.(*Request), buf), nil
	case *Response:
		return id3, makePatch3(msg2, msgSrc.(*Response), buf), nil
	case *Status:
		return id1, makePatch1(msg2, msgSrc.(*Status), buf), nil
	default:
		return 0, 0, errors.Errorf("unknown message type %T", msgDst)
	}
}

// ApplyPatch applies patch.
func (m Marshaller) ApplyPatch(msg any, buf []byte) (retSize uint64, retErr error) {
	defer helpers.RecoverApplyPatch(&retErr)

	switch msg2 := msg.(type) {
	case *Request:
		return applyPatch2(msg2, buf), nil
	case *Response:
		return applyPatch3(msg2, buf), nil
	case *Status:
		return applyPatch1(msg2, buf), nil
	default:
		return 0, errors.Errorf("unknown message type %T", msg)
	}
}

func size0(m *Counter) uint64 {
	var n uint64 = 2
	{
		// Name

		{
			l := uint64(len(m.Name))
			helpers.UInt64Size(l, &n)
			n += l
		}
	}
	{
		// Value

		helpers.UInt64Size(m.Value, &n)
	}
	return n
}

func marshal0(m *Counter, b []byte) uint64 {
	var o uint64
	{
		// Name

		{
			l := uint64(len(m.Name))
			helpers.UInt64Marshal(l, b, &o)
			copy(b[o:o+l], m.Name)
			o += l
		}
	}
	{
		// Value

		helpers.UInt64Marshal(m.Value, b, &o)
	}

	return o
}

func unmarshal0(m *Counter, b []byte) uint64 {
	var o uint64
	{
		// Name

		{
			var l uint64
			helpers.UInt64Unmarshal(&l, b, &o)
			if l > 0 {
				m.Name = string(b[o:o+l])
				o += l
			}
		}
	}
	{
		// Value

		helpers.UInt64Unmarshal(&m.Value, b, &o)
	}

	return o
}

func size1(m *Status) uint64 {
	var n uint64 = 4
	{
		// Counters

		l := uint64(len(m.Counters))
		helpers.UInt64Size(l, &n)
		for _, sv1 := range m.Counters {
			n += size0(&sv1)
		}
	}
	{
		// MemState

		{
			l := uint64(len(m.MemState))
			helpers.UInt64Size(l, &n)
			n += l
		}
	}
	{
		// IntrState

		{
			l := uint64(len(m.IntrState))
			helpers.UInt64Size(l, &n)
			n += l
		}
	}
	{
		// Signal

		helpers.UInt64Size(m.Signal, &n)
	}
	return n
}

func marshal1(m *Status, b []byte) uint64 {
	var o uint64
	{
		// Counters

		helpers.UInt64Marshal(uint64(len(m.Counters)), b, &o)
		for _, sv1 := range m.Counters {
			o += marshal0(&sv1, b[o:])
		}
	}
	{
		// MemState

		{
			l := uint64(len(m.MemState))
			helpers.UInt64Marshal(l, b, &o)
			copy(b[o:o+l], m.MemState)
			o += l
		}
	}
	{
		// IntrState

		{
			l := uint64(len(m.IntrState))
			helpers.UInt64Marshal(l, b, &o)
			copy(b[o:o+l], m.IntrState)
			o += l
		}
	}
	{
		// Signal

		helpers.UInt64Marshal(m.Signal, b, &o)
	}

	return o
}

func unmarshal1(m *Status, b []byte) uint64 {
	var o uint64
	{
		// Counters

		var l uint64
		helpers.UInt64Unmarshal(&l, b, &o)
		if l > 0 {
			m.Counters = make([]Counter, l)
			for i1 := range l {
				o += unmarshal0(&m.Counters[i1], b[o:])
			}
		}
	}
	{
		// MemState

		{
			var l uint64
			helpers.UInt64Unmarshal(&l, b, &o)
			if l > 0 {
				m.MemState = string(b[o:o+l])
				o += l
			}
		}
	}
	{
		// IntrState

		{
			var l uint64
			helpers.UInt64Unmarshal(&l, b, &o)
			if l > 0 {
				m.IntrState = string(b[o:o+l])
				o += l
			}
		}
	}
	{
		// Signal

		helpers.UInt64Unmarshal(&m.Signal, b, &o)
	}

	return o
}

func makePatch1(m, mSrc *Status, b []byte) uint64 {
	var o uint64 = 1
	{
		// Counters

		if reflect.DeepEqual(m.Counters, mSrc.Counters) {
			b[0] &= 0xFE
		} else {
			b[0] |= 0x01
			helpers.UInt64Marshal(uint64(len(m.Counters)), b, &o)
			for _, sv1 := range m.Counters {
				o += marshal0(&sv1, b[o:])
			}
		}
	}
	{
		// MemState

		if reflect.DeepEqual(m.MemState, mSrc.MemState) {
			b[0] &= 0xFD
		} else {
			b[0] |= 0x02
			{
				l := uint64(len(m.MemState))
				helpers.UInt64Marshal(l, b, &o)
				copy(b[o:o+l], m.MemState)
				o += l
			}
		}
	}
	{
		// IntrState

		if reflect.DeepEqual(m.IntrState, mSrc.IntrState) {
			b[0] &= 0xFB
		} else {
			b[0] |= 0x04
			{
				l := uint64(len(m.IntrState))
				helpers.UInt64Marshal(l, b, &o)
				copy(b[o:o+l], m.IntrState)
				o += l
			}
		}
	}
	{
		// Signal

		if reflect.DeepEqual(m.Signal, mSrc.Signal) {
			b[0] &= 0xF7
		} else {
			b[0] |= 0x08
			helpers.UInt64Marshal(m.Signal, b, &o)
		}
	}

	return o
}

func applyPatch1(m *Status, b []byte) uint64 {
	var o uint64 = 1
	{
		// Counters

		if b[0]&0x01 != 0 {
			var l uint64
			helpers.UInt64Unmarshal(&l, b, &o)
			if l > 0 {
				m.Counters = make([]Counter, l)
				for i1 := range l {
					o += unmarshal0(&m.Counters[i1], b[o:])
				}
			}
		}
	}
	{
		// MemState

		if b[0]&0x02 != 0 {
			{
				var l uint64
				helpers.UInt64Unmarshal(&l, b, &o)
				if l > 0 {
					m.MemState = string(b[o:o+l])
					o += l
				}
			}
		}
	}
	{
		// IntrState

		if b[0]&0x04 != 0 {
			{
				var l uint64
				helpers.UInt64Unmarshal(&l, b, &o)
				if l > 0 {
					m.IntrState = string(b[o:o+l])
					o += l
				}
			}
		}
	}
	{
		// Signal

		if b[0]&0x08 != 0 {
			helpers.UInt64Unmarshal(&m.Signal, b, &o)
		}
	}

	return o
}

func size2(m *Request) uint64 {
	var n uint64 = 5
	{
		// Command

		{
			l := uint64(len(m.Command))
			helpers.UInt64Size(l, &n)
			n += l
		}
	}
	{
		// Address

		helpers.UInt64Size(m.Address, &n)
	}
	{
		// Size

		helpers.UInt64Size(m.Size, &n)
	}
	{
		// Value

		helpers.UInt64Size(m.Value, &n)
	}
	{
		// Data

		{
			l := uint64(len(m.Data))
			helpers.UInt64Size(l, &n)
			n += l
		}
	}
	return n
}

func marshal2(m *Request, b []byte) uint64 {
	var o uint64
	{
		// Command

		{
			l := uint64(len(m.Command))
			helpers.UInt64Marshal(l, b, &o)
			copy(b[o:o+l], m.Command)
			o += l
		}
	}
	{
		// Address

		helpers.UInt64Marshal(m.Address, b, &o)
	}
	{
		// Size

		helpers.UInt64Marshal(m.Size, b, &o)
	}
	{
		// Value

		helpers.UInt64Marshal(m.Value, b, &o)
	}
	{
		// Data

		{
			l := uint64(len(m.Data))
			helpers.UInt64Marshal(l, b, &o)
			copy(b[o:o+l], m.Data)
			o += l
		}
	}

	return o
}

func unmarshal2(m *Request, b []byte) uint64 {
	var o uint64
	{
		// Command

		{
			var l uint64
			helpers.UInt64Unmarshal(&l, b, &o)
			if l > 0 {
				m.Command = string(b[o:o+l])
				o += l
			}
		}
	}
	{
		// Address

		helpers.UInt64Unmarshal(&m.Address, b, &o)
	}
	{
		// Size

		helpers.UInt64Unmarshal(&m.Size, b, &o)
	}
	{
		// Value

		helpers.UInt64Unmarshal(&m.Value, b, &o)
	}
	{
		// Data

		{
			var l uint64
			helpers.UInt64Unmarshal(&l, b, &o)
			if l > 0 {
				m.Data = string(b[o:o+l])
				o += l
			}
		}
	}

	return o
}

func makePatch2(m, mSrc *Request, b []byte) uint64 {
	var o uint64 = 1
	{
		// Command

		if reflect.DeepEqual(m.Command, mSrc.Command) {
			b[0] &= 0xFE
		} else {
			b[0] |= 0x01
			{
				l := uint64(len(m.Command))
				helpers.UInt64Marshal(l, b, &o)
				copy(b[o:o+l], m.Command)
				o += l
			}
		}
	}
	{
		// Address

		if reflect.DeepEqual(m.Address, mSrc.Address) {
			b[0] &= 0xFD
		} else {
			b[0] |= 0x02
			helpers.UInt64Marshal(m.Address, b, &o)
		}
	}
	{
		// Size

		if reflect.DeepEqual(m.Size, mSrc.Size) {
			b[0] &= 0xFB
		} else {
			b[0] |= 0x04
			helpers.UInt64Marshal(m.Size, b, &o)
		}
	}
	{
		// Value

		if reflect.DeepEqual(m.Value, mSrc.Value) {
			b[0] &= 0xF7
		} else {
			b[0] |= 0x08
			helpers.UInt64Marshal(m.Value, b, &o)
		}
	}
	{
		// Data

		if reflect.DeepEqual(m.Data, mSrc.Data) {
			b[0] &= 0xEF
		} else {
			b[0] |= 0x10
			{
				l := uint64(len(m.Data))
				helpers.UInt64Marshal(l, b, &o)
				copy(b[o:o+l], m.Data)
				o += l
			}
		}
	}

	return o
}

func applyPatch2(m *Request, b []byte) uint64 {
	var o uint64 = 1
	{
		// Command

		if b[0]&0x01 != 0 {
			{
				var l uint64
				helpers.UInt64Unmarshal(&l, b, &o)
				if l > 0 {
					m.Command = string(b[o:o+l])
					o += l
				}
			}
		}
	}
	{
		// Address

		if b[0]&0x02 != 0 {
			helpers.UInt64Unmarshal(&m.Address, b, &o)
		}
	}
	{
		// Size

		if b[0]&0x04 != 0 {
			helpers.UInt64Unmarshal(&m.Size, b, &o)
		}
	}
	{
		// Value

		if b[0]&0x08 != 0 {
			helpers.UInt64Unmarshal(&m.Value, b, &o)
		}
	}
	{
		// Data

		if b[0]&0x10 != 0 {
			{
				var l uint64
				helpers.UInt64Unmarshal(&l, b, &o)
				if l > 0 {
					m.Data = string(b[o:o+l])
					o += l
				}
			}
		}
	}

	return o
}

func size3(m *Response) uint64 {
	var n uint64 = 3
	{
		// Value

		helpers.UInt64Size(m.Value, &n)
	}
	{
		// Data

		{
			l := uint64(len(m.Data))
			helpers.UInt64Size(l, &n)
			n += l
		}
	}
	{
		// Error

		{
			l := uint64(len(m.Error))
			helpers.UInt64Size(l, &n)
			n += l
		}
	}
	return n
}

func marshal3(m *Response, b []byte) uint64 {
	var o uint64
	{
		// Value

		helpers.UInt64Marshal(m.Value, b, &o)
	}
	{
		// Data

		{
			l := uint64(len(m.Data))
			helpers.UInt64Marshal(l, b, &o)
			copy(b[o:o+l], m.Data)
			o += l
		}
	}
	{
		// Error

		{
			l := uint64(len(m.Error))
			helpers.UInt64Marshal(l, b, &o)
			copy(b[o:o+l], m.Error)
			o += l
		}
	}

	return o
}

func unmarshal3(m *Response, b []byte) uint64 {
	var o uint64
	{
		// Value

		helpers.UInt64Unmarshal(&m.Value, b, &o)
	}
	{
		// Data

		{
			var l uint64
			helpers.UInt64Unmarshal(&l, b, &o)
			if l > 0 {
				m.Data = string(b[o:o+l])
				o += l
			}
		}
	}
	{
		// Error

		{
			var l uint64
			helpers.UInt64Unmarshal(&l, b, &o)
			if l > 0 {
				m.Error = string(b[o:o+l])
				o += l
			}
		}
	}

	return o
}

func makePatch3(m, mSrc *Response, b []byte) uint64 {
	var o uint64 = 1
	{
		// Value

		if reflect.DeepEqual(m.Value, mSrc.Value) {
			b[0] &= 0xFE
		} else {
			b[0] |= 0x01
			helpers.UInt64Marshal(m.Value, b, &o)
		}
	}
	{
		// Data

		if reflect.DeepEqual(m.Data, mSrc.Data) {
			b[0] &= 0xFD
		} else {
			b[0] |= 0x02
			{
				l := uint64(len(m.Data))
				helpers.UInt64Marshal(l, b, &o)
				copy(b[o:o+l], m.Data)
				o += l
			}
		}
	}
	{
		// Error

		if reflect.DeepEqual(m.Error, mSrc.Error) {
			b[0] &= 0xFB
		} else {
			b[0] |= 0x04
			{
				l := uint64(len(m.Error))
				helpers.UInt64Marshal(l, b, &o)
				copy(b[o:o+l], m.Error)
				o += l
			}
		}
	}

	return o
}

func applyPatch3(m *Response, b []byte) uint64 {
	var o uint64 = 1
	{
		// Value

		if b[0]&0x01 != 0 {
			helpers.UInt64Unmarshal(&m.Value, b, &o)
		}
	}
	{
		// Data

		if b[0]&0x02 != 0 {
			{
				var l uint64
				helpers.UInt64Unmarshal(&l, b, &o)
				if l > 0 {
					m.Data = string(b[o:o+l])
					o += l
				}
			}
		}
	}
	{
		// Error

		if b[0]&0x04 != 0 {
			{
				var l uint64
				helpers.UInt64Unmarshal(&l, b, &o)
				if l > 0 {
					m.Error = string(b[o:o+l])
					o += l
				}
			}
		}
	}

	return o
}
