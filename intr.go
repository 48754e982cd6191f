package memexpose

import (
	"context"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/outofforest/logger"
	"github.com/outofforest/memexpose/wire"
)

// Offsets of the interrupt registers.
const (
	IntrEnableAddr = 0x000
	IntrRecvAddr   = 0x400
	IntrRxTypeAddr = 0x408
	IntrRxDataAddr = 0x410
	IntrSendAddr   = 0x800
	IntrTxTypeAddr = 0x808
	IntrTxDataAddr = 0x810

	// IntrMemSize is the size of the interrupt register block.
	IntrMemSize = 0x1000
)

// DefaultIntrQueueSize is the default capacity of the interrupt queue.
const DefaultIntrQueueSize = 16

//go:generate mockgen -destination=mock_memexpose_test.go -package=memexpose_test . Frontend

// Frontend is the part of the device the mailbox reports to.
type Frontend interface {
	// RaiseSignal sets the level of the interrupt line.
	RaiseSignal(ctx context.Context, level bool)

	// Enable is called when guest enables the mailbox. Mailbox stays disabled if error is returned.
	Enable(ctx context.Context) error

	// Disable is called when guest disables the mailbox.
	Disable(ctx context.Context)
}

// MailboxConfig configures mailbox.
type MailboxConfig struct {
	Name      string
	QueueSize int
}

// Mailbox exchanges interrupts with the peer. Methods must be called from the loop.
type Mailbox struct {
	ep       *Endpoint
	frontend Frontend
	stats    *Stats

	enabled bool
	queue   []wire.Interrupt
	start   int
	count   int
	rx      wire.Interrupt
	tx      wire.Interrupt
}

// NewMailbox creates mailbox.
func NewMailbox(config MailboxConfig, loop *Loop, frontend Frontend, stats *Stats) *Mailbox {
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultIntrQueueSize
	}
	if stats == nil {
		stats = &Stats{}
	}
	m := &Mailbox{
		frontend: frontend,
		stats:    stats,
		queue:    make([]wire.Interrupt, config.QueueSize),
	}
	m.ep = NewEndpoint(EndpointConfig{Name: config.Name}, loop, m)
	return m
}

// Endpoint returns endpoint used to exchange interrupts.
func (m *Mailbox) Endpoint() *Endpoint {
	return m.ep
}

// Enabled tells if mailbox is enabled.
func (m *Mailbox) Enabled() bool {
	return m.enabled
}

// Pending returns the number of queued interrupts.
func (m *Mailbox) Pending() int {
	return m.count
}

// Received returns the last popped interrupt.
func (m *Mailbox) Received() wire.Interrupt {
	return m.rx
}

// Stage sets interrupt to be sent by Send.
func (m *Mailbox) Stage(intr wire.Interrupt) {
	m.tx = intr
}

// SetEnabled enables or disables the mailbox through the frontend.
func (m *Mailbox) SetEnabled(ctx context.Context, enabled bool) {
	if !enabled {
		m.frontend.Disable(ctx)
		m.disable(ctx)
		return
	}

	if err := m.frontend.Enable(ctx); err != nil {
		logger.Get(ctx).Error("Enabling interrupts failed", zap.Error(err))
		m.disable(ctx)
		return
	}
	m.enabled = true
}

// Push queues interrupt received from the peer.
func (m *Mailbox) Push(ctx context.Context, intr wire.Interrupt) {
	log := logger.Get(ctx)
	if !m.enabled {
		m.stats.InterruptsDropped.Add(1)
		log.Debug("Interrupts disabled, dropping", zap.Uint64("type", intr.Type))
		return
	}
	if m.count == len(m.queue) {
		m.stats.InterruptsDropped.Add(1)
		log.Warn("Interrupt queue is full, dropping", zap.Uint64("type", intr.Type))
		return
	}

	m.queue[(m.start+m.count)%len(m.queue)] = intr
	m.count++
	m.stats.InterruptsReceived.Add(1)
	if m.count == 1 {
		m.frontend.RaiseSignal(ctx, true)
	}
}

// Pop moves the head of the queue to the receive registers. It returns false if queue is empty.
func (m *Mailbox) Pop(ctx context.Context) bool {
	if m.count == 0 {
		logger.Get(ctx).Debug("No queued interrupts")
		return false
	}

	m.rx = m.queue[m.start]
	m.start = (m.start + 1) % len(m.queue)
	m.count--
	if m.count == 0 {
		m.frontend.RaiseSignal(ctx, false)
	}
	logger.Get(ctx).Debug("Popped interrupt", zap.Uint64("type", m.rx.Type))
	return true
}

// Send sends staged interrupt to the peer.
func (m *Mailbox) Send(ctx context.Context) error {
	if !m.enabled {
		logger.Get(ctx).Debug("Interrupts disabled, not sending", zap.Uint64("type", m.tx.Type))
		return nil
	}

	tx := m.tx
	if err := m.ep.SendAsync(ctx, wire.New(0, &tx)); err != nil {
		return err
	}
	m.stats.InterruptsSent.Add(1)
	logger.Get(ctx).Debug("Sending interrupt", zap.Uint64("type", tx.Type))
	return nil
}

// HandleMessage handles message received from the peer.
func (m *Mailbox) HandleMessage(ctx context.Context, msg wire.Message) error {
	intr, ok := msg.Body.(*wire.Interrupt)
	if !ok {
		return errors.Errorf("unknown memexpose intr command %s", msg.Header.Kind)
	}
	m.Push(ctx, *intr)
	return nil
}

// ReadRegister handles read of the register block.
func (m *Mailbox) ReadRegister(ctx context.Context, addr uint64, size uint) uint64 {
	boff := 8 * (addr & 0x7)

	switch addr &^ 0x7 {
	case IntrRxTypeAddr:
		return (m.rx.Type >> boff) & laneMask(size)
	case IntrTxTypeAddr:
		return (m.tx.Type >> boff) & laneMask(size)
	case IntrRecvAddr:
		// Only the aligned access pops, so wide reads split into narrower ones pop once.
		if addr&0x7 != 0 {
			return 0
		}
		if m.Pop(ctx) {
			return 1
		}
		return 0
	case IntrEnableAddr:
		if addr&0x7 != 0 || !m.enabled {
			return 0
		}
		return 1
	}

	if data, ok := dataLane(m.rx.Data[:], addr, IntrRxDataAddr, size); ok {
		return readLane(data)
	}
	if data, ok := dataLane(m.tx.Data[:], addr, IntrTxDataAddr, size); ok {
		return readLane(data)
	}

	logger.Get(ctx).Debug("Invalid interrupt register read", zap.Uint64("addr", addr))
	return 0
}

// WriteRegister handles write to the register block.
func (m *Mailbox) WriteRegister(ctx context.Context, addr uint64, size uint, value uint64) {
	boff := 8 * (addr & 0x7)
	mask := laneMask(size) << boff

	switch addr &^ 0x7 {
	case IntrRxTypeAddr:
		m.rx.Type = m.rx.Type&^mask | (value<<boff)&mask
		return
	case IntrTxTypeAddr:
		m.tx.Type = m.tx.Type&^mask | (value<<boff)&mask
		return
	case IntrSendAddr:
		if addr&0x7 != 0 {
			return
		}
		if err := m.Send(ctx); err != nil {
			logger.Get(ctx).Error("Sending interrupt failed", zap.Error(err))
		}
		return
	case IntrEnableAddr:
		if addr&0x7 != 0 {
			return
		}
		m.SetEnabled(ctx, value != 0)
		return
	}

	if data, ok := dataLane(m.rx.Data[:], addr, IntrRxDataAddr, size); ok {
		writeLane(data, value)
		return
	}
	if data, ok := dataLane(m.tx.Data[:], addr, IntrTxDataAddr, size); ok {
		writeLane(data, value)
		return
	}

	logger.Get(ctx).Debug("Invalid interrupt register write", zap.Uint64("addr", addr))
}

func (m *Mailbox) disable(ctx context.Context) {
	wasPending := m.count > 0
	m.enabled = false
	m.start = 0
	m.count = 0
	if wasPending {
		m.frontend.RaiseSignal(ctx, false)
	}
}
