package memexpose

import (
	"context"
	"io"
	"net"
	"os"
	"sort"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/rs/xid"
	"go.uber.org/zap"

	"github.com/outofforest/logger"
	"github.com/outofforest/memexpose/wire"
	"github.com/outofforest/parallel"
)

const (
	readBufferSize = 4096
	inboxSize      = 64
)

var (
	// ErrDisconnected is returned when endpoint has no channel.
	ErrDisconnected = errors.New("endpoint disconnected")

	// ErrBroken is returned when channel received malformed data.
	ErrBroken = errors.New("endpoint broken")
)

// Channel is the byte stream connecting endpoints.
type Channel interface {
	Read(b []byte) (int, []*os.File, error)
	Write(b []byte, file *os.File) error
	Close() error
}

// Handler handles messages received by the endpoint.
type Handler interface {
	HandleMessage(ctx context.Context, msg wire.Message) error
}

// HandlerFunc adapts function to Handler.
type HandlerFunc func(ctx context.Context, msg wire.Message) error

// HandleMessage calls f.
func (f HandlerFunc) HandleMessage(ctx context.Context, msg wire.Message) error {
	return f(ctx, msg)
}

// EndpointConfig configures endpoint.
type EndpointConfig struct {
	Name     string
	Priority uint8
}

type link struct {
	id     xid.ID
	ch     Channel
	inbox  chan wire.Message
	broken atomic.Bool
	closed atomic.Bool
}

func (l *link) close() {
	if l.closed.CompareAndSwap(false, true) {
		_ = l.ch.Close()
	}
}

// Endpoint is one side of the message channel. Except for Run, methods must be called from the loop.
type Endpoint struct {
	name       string
	priority   uint8
	loop       *Loop
	handler    Handler
	link       atomic.Pointer[link]
	deferred   map[uint8][]wire.Message
	deferredBH *BH
}

// NewEndpoint creates endpoint.
func NewEndpoint(config EndpointConfig, loop *Loop, handler Handler) *Endpoint {
	ep := &Endpoint{
		name:     config.Name,
		priority: config.Priority,
		loop:     loop,
		handler:  handler,
		deferred: map[uint8][]wire.Message{},
	}
	ep.deferredBH = loop.NewBH(ep.flushDeferred)
	return ep
}

// Name returns the name of the endpoint.
func (ep *Endpoint) Name() string {
	return ep.name
}

// Priority returns the priority of requests sent by the endpoint.
func (ep *Endpoint) Priority() uint8 {
	return ep.priority
}

// Connect attaches channel. Run must be started afterwards to receive messages.
func (ep *Endpoint) Connect(ch Channel) {
	l := &link{
		id:    xid.New(),
		ch:    ch,
		inbox: make(chan wire.Message, inboxSize),
	}
	if old := ep.link.Swap(l); old != nil {
		old.close()
	}
}

// Disconnect detaches channel. Calling it on disconnected endpoint does nothing.
func (ep *Endpoint) Disconnect() {
	if l := ep.link.Swap(nil); l != nil {
		l.close()
	}
	for p, msgs := range ep.deferred {
		for _, msg := range msgs {
			closeSharedFile(msg)
		}
		delete(ep.deferred, p)
	}
	ep.deferredBH.Cancel()
}

// Connected tells if endpoint is able to exchange messages.
func (ep *Endpoint) Connected() bool {
	l := ep.link.Load()
	return l != nil && !l.closed.Load() && !l.broken.Load()
}

// Broken tells if channel has been shut down due to framing error.
func (ep *Endpoint) Broken() bool {
	l := ep.link.Load()
	return l != nil && l.broken.Load()
}

// Run receives messages from the channel until it is closed or context is canceled.
func (ep *Endpoint) Run(ctx context.Context) error {
	l := ep.link.Load()
	if l == nil {
		return errors.WithStack(ErrDisconnected)
	}

	return parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
		spawn("receiver", parallel.Exit, func(ctx context.Context) error {
			return ep.receive(ctx, l)
		})
		spawn("watchdog", parallel.Continue, func(ctx context.Context) error {
			<-ctx.Done()
			l.close()
			return nil
		})
		return nil
	})
}

// SendAsync sends message without waiting for reply.
func (ep *Endpoint) SendAsync(ctx context.Context, msg wire.Message) error {
	l, err := ep.activeLink()
	if err != nil {
		return err
	}
	return ep.write(ctx, l, msg)
}

// SendSync sends request and waits for the reply of the same priority. Higher priority messages received
// in the meantime are handled immediately, lower priority ones are deferred.
func (ep *Endpoint) SendSync(ctx context.Context, msg wire.Message) (wire.Message, error) {
	l, err := ep.activeLink()
	if err != nil {
		return wire.Message{}, err
	}
	if err := ep.write(ctx, l, msg); err != nil {
		return wire.Message{}, err
	}

	for {
		var resp wire.Message
		var ok bool
		select {
		case <-ctx.Done():
			return wire.Message{}, errors.WithStack(ctx.Err())
		case resp, ok = <-l.inbox:
		}

		if !ok {
			if l.broken.Load() {
				return wire.Message{}, errors.WithStack(ErrBroken)
			}
			return wire.Message{}, errors.WithStack(ErrDisconnected)
		}

		switch {
		case resp.Header.Priority > msg.Header.Priority:
			ep.dispatch(ctx, resp)
		case resp.Header.Priority < msg.Header.Priority:
			ep.deferMessage(ctx, resp)
		default:
			return resp, nil
		}
	}
}

func (ep *Endpoint) activeLink() (*link, error) {
	l := ep.link.Load()
	switch {
	case l == nil || l.closed.Load():
		return nil, errors.WithStack(ErrDisconnected)
	case l.broken.Load():
		return nil, errors.WithStack(ErrBroken)
	default:
		return l, nil
	}
}

func (ep *Endpoint) write(ctx context.Context, l *link, msg wire.Message) error {
	b, err := wire.Encode(msg)
	if err != nil {
		return err
	}

	var file *os.File
	if sharer, ok := msg.Body.(wire.Sharer); ok && sharer.ShareInfo().Kind == wire.ShareFD {
		file = sharer.ShareInfo().File
		if file == nil {
			return errors.Errorf("%s message offers descriptor but there is no file", msg.Header.Kind)
		}
	}

	if err := l.ch.Write(b, file); err != nil {
		logger.Get(ctx).Error("Sending message failed", zap.String("endpoint", ep.name),
			zap.Stringer("connection", l.id), zap.Error(err))
		return errors.Wrapf(err, "sending %s message failed", msg.Header.Kind)
	}
	return nil
}

func (ep *Endpoint) receive(ctx context.Context, l *link) error {
	defer close(l.inbox)

	log := logger.Get(ctx).With(zap.String("endpoint", ep.name), zap.Stringer("connection", l.id))

	var framer wire.Framer
	var files []*os.File
	defer func() {
		for _, f := range files {
			_ = f.Close()
		}
	}()

	buf := make([]byte, readBufferSize)
	for {
		n, received, err := l.ch.Read(buf)
		files = append(files, received...)
		if err != nil {
			if l.closed.Load() || ctx.Err() != nil || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				log.Info("Channel closed")
				return nil
			}
			log.Error("Receiving failed, channel is down", zap.Error(err))
			return nil
		}

		data := buf[:n]
		for len(data) > 0 {
			chunk := data[:min(framer.CanReceive(), len(data))]
			status, msg, err := framer.Consume(chunk)
			if err != nil {
				l.broken.Store(true)
				log.Error("Framing error, channel is down", zap.Error(err))
				return nil
			}
			data = data[len(chunk):]
			if status != wire.StatusMessageReady {
				continue
			}

			files = attachSharedFile(ctx, msg, files)

			select {
			case <-ctx.Done():
				closeSharedFile(msg)
				return errors.WithStack(ctx.Err())
			case l.inbox <- msg:
			}
			ep.loop.Post(ep.pokeTask(l))
		}
	}
}

func (ep *Endpoint) pokeTask(l *link) Task {
	return func(ctx context.Context) {
		var msg wire.Message
		var ok bool
		select {
		case msg, ok = <-l.inbox:
		default:
		}
		if !ok {
			return
		}
		if ep.link.Load() != l {
			closeSharedFile(msg)
			return
		}

		ep.flushDeferred(ctx)
		ep.dispatch(ctx, msg)
	}
}

func (ep *Endpoint) deferMessage(ctx context.Context, msg wire.Message) {
	p := msg.Header.Priority
	if len(ep.deferred[p]) > 0 {
		logger.Get(ctx).Warn("Protocol violation: second deferred message of the same priority",
			zap.String("endpoint", ep.name), zap.Uint8("priority", p), zap.Stringer("kind", msg.Header.Kind))
	}
	ep.deferred[p] = append(ep.deferred[p], msg)
	ep.deferredBH.Schedule()
}

func (ep *Endpoint) flushDeferred(ctx context.Context) {
	for len(ep.deferred) > 0 {
		priorities := make([]int, 0, len(ep.deferred))
		for p := range ep.deferred {
			priorities = append(priorities, int(p))
		}
		sort.Sort(sort.Reverse(sort.IntSlice(priorities)))

		p := uint8(priorities[0])
		msg := ep.deferred[p][0]
		if len(ep.deferred[p]) == 1 {
			delete(ep.deferred, p)
		} else {
			ep.deferred[p] = ep.deferred[p][1:]
		}

		ep.dispatch(ctx, msg)
	}
}

func (ep *Endpoint) dispatch(ctx context.Context, msg wire.Message) {
	if err := ep.handler.HandleMessage(ctx, msg); err != nil {
		logger.Get(ctx).Error("Handling message failed", zap.String("endpoint", ep.name),
			zap.Stringer("kind", msg.Header.Kind), zap.Uint8("priority", msg.Header.Priority), zap.Error(err))
	}
}
