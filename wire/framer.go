package wire

import (
	"github.com/pkg/errors"
)

// ErrBroken is returned by framer which received malformed data.
var ErrBroken = errors.New("framing broken")

// State is the state of the framer.
type State int

// Framer states.
const (
	StateReadSize State = iota
	StateReadBody
	StateBroken
)

// Status is the outcome of feeding bytes to the framer.
type Status int

// Consume statuses.
const (
	StatusNeedMore Status = iota
	StatusMessageReady
	StatusError
)

// Framer assembles messages from the byte stream.
type Framer struct {
	state State
	size  uint32
	buf   [MaxMessageSize]byte
	n     int
}

// State returns the current state.
func (f *Framer) State() State {
	return f.state
}

// CanReceive returns how many bytes framer accepts right now.
func (f *Framer) CanReceive() int {
	switch f.state {
	case StateReadSize:
		return SizeFieldSize - f.n
	case StateReadBody:
		return min(int(f.size), MaxMessageSize) - f.n
	default:
		return 0
	}
}

// Consume feeds bytes to the framer. The slice must not be longer than CanReceive reported.
func (f *Framer) Consume(b []byte) (Status, Message, error) {
	if len(b) > f.CanReceive() {
		return f.fail(errors.Errorf("%d bytes offered, at most %d accepted", len(b), f.CanReceive()))
	}

	switch f.state {
	case StateReadSize:
		f.n += copy(f.buf[f.n:], b)
		if f.n < SizeFieldSize {
			return StatusNeedMore, Message{}, nil
		}
		f.size = order.Uint32(f.buf[:SizeFieldSize])
		f.state = StateReadBody
		if err := f.validateSize(); err != nil {
			return f.fail(err)
		}
		return StatusNeedMore, Message{}, nil
	case StateReadBody:
		if err := f.validateSize(); err != nil {
			return f.fail(err)
		}
		f.n += copy(f.buf[f.n:], b)
		if f.n < int(f.size) {
			return StatusNeedMore, Message{}, nil
		}

		msg, err := Decode(f.buf[:f.n])
		if err != nil {
			return f.fail(err)
		}
		f.state = StateReadSize
		f.n = 0
		f.size = 0
		return StatusMessageReady, msg, nil
	default:
		return StatusError, Message{}, errors.WithStack(ErrBroken)
	}
}

func (f *Framer) validateSize() error {
	if f.size < MinMessageSize || f.size > MaxMessageSize {
		return errors.Errorf("invalid message size %d", f.size)
	}
	return nil
}

func (f *Framer) fail(err error) (Status, Message, error) {
	f.state = StateBroken
	return StatusError, Message{}, errors.Wrap(ErrBroken, err.Error())
}
