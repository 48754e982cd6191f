package memexpose

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/outofforest/logger"
	"github.com/outofforest/memexpose/chardev"
	"github.com/outofforest/memexpose/memory"
	"github.com/outofforest/memexpose/wire"
	"github.com/outofforest/parallel"
)

// Channel states reported by the device.
const (
	StateDisconnected = "disconnected"
	StateConnected    = "connected"
	StateBroken       = "broken"
)

// Device exposes memory and interrupts to the peer.
type Device struct {
	config  Config
	loop    *Loop
	stats   *Stats
	as      *memory.AddressSpace
	regions []*memory.Region
	bridge  *Bridge
	mailbox *Mailbox
	signal  atomic.Bool
}

// NewDevice creates device.
func NewDevice(ctx context.Context, config Config) (*Device, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	d := &Device{
		config: config,
		loop:   NewLoop(),
		stats:  &Stats{},
		as:     memory.NewAddressSpace("memexpose"),
	}

	for i, rc := range config.Mem.Regions {
		name := rc.Name
		if name == "" {
			name = fmt.Sprintf("ram%d", i)
		}

		var region *memory.Region
		var err error
		if rc.Private {
			region, err = memory.NewPrivateRAM(name, rc.Size)
		} else {
			region, err = memory.NewRAM(name, rc.Size)
		}
		if err != nil {
			d.closeRegions(ctx)
			return nil, err
		}
		region.SetReadOnly(rc.ReadOnly)
		region.SetNonVolatile(rc.NonVolatile)

		if err := d.as.Map(ctx, rc.Start, region); err != nil {
			_ = region.Close()
			d.closeRegions(ctx)
			return nil, err
		}
		d.regions = append(d.regions, region)
	}

	d.bridge = NewBridge(BridgeConfig{
		Name:       "mem",
		Priority:   config.Mem.Priority,
		WindowSize: config.Mem.WindowSize,
	}, d.loop, d.as, d.stats)
	d.mailbox = NewMailbox(MailboxConfig{
		Name:      "intr",
		QueueSize: config.Intr.QueueSize,
	}, d.loop, frontend{d: d}, d.stats)

	return d, nil
}

// Run connects channels and serves them until context is canceled.
func (d *Device) Run(ctx context.Context) error {
	defer d.close(ctx)

	return parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
		spawn("loop", parallel.Fail, d.loop.Run)
		spawn("mem", parallel.Continue, func(ctx context.Context) error {
			return d.runChannel(ctx, d.config.Mem.Chardev, d.bridge.Endpoint())
		})
		spawn("intr", parallel.Continue, func(ctx context.Context) error {
			return d.runChannel(ctx, d.config.Intr.Chardev, d.mailbox.Endpoint())
		})
		return nil
	})
}

// ReadMemory reads from the window backed by the peer.
func (d *Device) ReadMemory(ctx context.Context, addr uint64, size uint) (uint64, error) {
	var v uint64
	err := d.loop.Do(ctx, func(ctx context.Context) error {
		var err error
		v, err = d.bridge.Read(ctx, addr, size)
		return err
	})
	return v, err
}

// WriteMemory writes to the window backed by the peer.
func (d *Device) WriteMemory(ctx context.Context, addr uint64, size uint, value uint64) error {
	return d.loop.Do(ctx, func(ctx context.Context) error {
		return d.bridge.Write(ctx, addr, size, value)
	})
}

// ReadIntrRegister reads interrupt register.
func (d *Device) ReadIntrRegister(ctx context.Context, addr uint64, size uint) (uint64, error) {
	var v uint64
	err := d.loop.Do(ctx, func(ctx context.Context) error {
		v = d.mailbox.ReadRegister(ctx, addr, size)
		return nil
	})
	return v, err
}

// WriteIntrRegister writes interrupt register.
func (d *Device) WriteIntrRegister(ctx context.Context, addr uint64, size uint, value uint64) error {
	return d.loop.Do(ctx, func(ctx context.Context) error {
		d.mailbox.WriteRegister(ctx, addr, size, value)
		return nil
	})
}

// SendInterrupt sends interrupt to the peer.
func (d *Device) SendInterrupt(ctx context.Context, intrType uint64, data []byte) error {
	if len(data) > wire.MaxInterruptDataSize {
		return errors.Errorf("interrupt data of %d bytes exceeds %d bytes", len(data), wire.MaxInterruptDataSize)
	}

	intr := wire.Interrupt{Type: intrType}
	copy(intr.Data[:], data)
	return d.loop.Do(ctx, func(ctx context.Context) error {
		if !d.mailbox.Enabled() {
			return errors.New("interrupts are disabled")
		}
		d.mailbox.Stage(intr)
		return d.mailbox.Send(ctx)
	})
}

// ReceiveInterrupt pops the interrupt sent by the peer.
func (d *Device) ReceiveInterrupt(ctx context.Context) (wire.Interrupt, bool, error) {
	var intr wire.Interrupt
	var ok bool
	err := d.loop.Do(ctx, func(ctx context.Context) error {
		if ok = d.mailbox.Pop(ctx); ok {
			intr = d.mailbox.Received()
		}
		return nil
	})
	return intr, ok, err
}

// SetInterruptsEnabled enables or disables interrupts.
func (d *Device) SetInterruptsEnabled(ctx context.Context, enabled bool) error {
	return d.loop.Do(ctx, func(ctx context.Context) error {
		d.mailbox.SetEnabled(ctx, enabled)
		if enabled && !d.mailbox.Enabled() {
			return errors.New("enabling interrupts failed")
		}
		return nil
	})
}

// MapRegion maps region into local address space.
func (d *Device) MapRegion(ctx context.Context, start uint64, region *memory.Region) error {
	return d.loop.Do(ctx, func(ctx context.Context) error {
		return d.as.Map(ctx, start, region)
	})
}

// UnmapRegion removes region from local address space.
func (d *Device) UnmapRegion(ctx context.Context, region *memory.Region) error {
	return d.loop.Do(ctx, func(ctx context.Context) error {
		return d.as.Unmap(ctx, region)
	})
}

// Signal returns the level of the interrupt line.
func (d *Device) Signal() bool {
	return d.signal.Load()
}

// Stats returns counters of the device.
func (d *Device) Stats() StatsSnapshot {
	return d.stats.Snapshot()
}

// MemState returns the state of memory channel.
func (d *Device) MemState() string {
	return channelState(d.bridge.Endpoint())
}

// IntrState returns the state of interrupt channel.
func (d *Device) IntrState() string {
	return channelState(d.mailbox.Endpoint())
}

func (d *Device) runChannel(ctx context.Context, config chardev.Config, ep *Endpoint) error {
	log := logger.Get(ctx).With(zap.String("channel", ep.Name()), zap.String("path", config.Path))

	sock, err := chardev.Connect(ctx, config)
	if err != nil {
		return err
	}
	if err := d.loop.Do(ctx, func(ctx context.Context) error {
		ep.Connect(sock)
		return nil
	}); err != nil {
		_ = sock.Close()
		return err
	}

	log.Info("Channel connected")
	err = ep.Run(ctx)
	if ep.Broken() {
		log.Error("Channel is broken, device must be restarted")
	} else {
		log.Info("Channel disconnected")
	}
	return err
}

func (d *Device) close(ctx context.Context) {
	d.bridge.Close(ctx)
	d.mailbox.Endpoint().Disconnect()
	d.closeRegions(ctx)
}

func (d *Device) closeRegions(ctx context.Context) {
	for _, r := range d.regions {
		if err := r.Close(); err != nil {
			logger.Get(ctx).Error("Closing region failed", zap.String("region", r.Name()), zap.Error(err))
		}
	}
	d.regions = nil
}

func channelState(ep *Endpoint) string {
	switch {
	case ep.Broken():
		return StateBroken
	case ep.Connected():
		return StateConnected
	default:
		return StateDisconnected
	}
}

type frontend struct {
	d *Device
}

func (f frontend) RaiseSignal(ctx context.Context, level bool) {
	f.d.signal.Store(level)
	f.d.stats.SignalChanges.Add(1)
	logger.Get(ctx).Debug("Interrupt line changed", zap.Bool("level", level))
}

func (f frontend) Enable(ctx context.Context) error {
	if !f.d.mailbox.Endpoint().Connected() {
		return errors.WithStack(ErrDisconnected)
	}
	logger.Get(ctx).Info("Interrupts enabled")
	return nil
}

func (f frontend) Disable(ctx context.Context) {
	logger.Get(ctx).Info("Interrupts disabled")
}
