package monitor_test

import (
	"context"
	"net"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/outofforest/memexpose"
	"github.com/outofforest/memexpose/monitor"
	"github.com/outofforest/memexpose/monitor/wire"
	memwire "github.com/outofforest/memexpose/wire"
	"github.com/outofforest/parallel"
	"github.com/outofforest/qa"
)

var config = monitor.Config{
	MaxMessageSize: memexpose.DefaultMonitorMaxMessageSize,
}

type fakeTarget struct {
	mu      sync.Mutex
	memory  map[uint64]uint64
	pending []memwire.Interrupt
	sent    []memwire.Interrupt
}

func (t *fakeTarget) ReadMemory(_ context.Context, addr uint64, _ uint) (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	v, ok := t.memory[addr]
	if !ok {
		return 0, errors.WithStack(memexpose.ErrDisconnected)
	}
	return v, nil
}

func (t *fakeTarget) WriteMemory(_ context.Context, addr uint64, _ uint, value uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.memory[addr] = value
	return nil
}

func (t *fakeTarget) SendInterrupt(_ context.Context, intrType uint64, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	intr := memwire.Interrupt{Type: intrType}
	copy(intr.Data[:], data)
	t.sent = append(t.sent, intr)
	return nil
}

func (t *fakeTarget) ReceiveInterrupt(_ context.Context) (memwire.Interrupt, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.pending) == 0 {
		return memwire.Interrupt{}, false, nil
	}
	intr := t.pending[0]
	t.pending = t.pending[1:]
	return intr, true, nil
}

func (t *fakeTarget) Stats() memexpose.StatsSnapshot {
	return memexpose.StatsSnapshot{
		ReadsForwarded: 3,
		SignalChanges:  5,
	}
}

func (t *fakeTarget) MemState() string {
	return memexpose.StateConnected
}

func (t *fakeTarget) IntrState() string {
	return memexpose.StateBroken
}

func (t *fakeTarget) Signal() bool {
	return true
}

func startMonitor(t *testing.T, requireT *require.Assertions, target monitor.Target) (context.Context, string) {
	ctx := qa.NewContext(t)
	group := qa.NewGroup(ctx, t)
	t.Cleanup(func() {
		group.Exit(nil)
		requireT.NoError(group.Wait())
	})

	ls, err := net.Listen("tcp", "localhost:0")
	requireT.NoError(err)

	group.Spawn("monitor", parallel.Fail, func(ctx context.Context) error {
		return monitor.RunServer(ctx, ls, config, target)
	})
	return ctx, ls.Addr().String()
}

func TestStatus(t *testing.T) {
	requireT := require.New(t)
	ctx, addr := startMonitor(t, requireT, &fakeTarget{})

	status, err := monitor.Status(ctx, addr, config)
	requireT.NoError(err)
	requireT.Equal(memexpose.StateConnected, status.MemState)
	requireT.Equal(memexpose.StateBroken, status.IntrState)
	requireT.EqualValues(1, status.Signal)

	counters := map[string]uint64{}
	for _, c := range status.Counters {
		counters[c.Name] = c.Value
	}
	requireT.Len(counters, len(status.Counters))
	requireT.EqualValues(3, counters["ReadsForwarded"])
	requireT.EqualValues(5, counters["SignalChanges"])
	requireT.Contains(counters, "InterruptsDropped")
	requireT.Zero(counters["InterruptsDropped"])
}

func TestMemoryCommands(t *testing.T) {
	requireT := require.New(t)
	target := &fakeTarget{memory: map[uint64]uint64{}}
	ctx, addr := startMonitor(t, requireT, target)

	requireT.NoError(monitor.Write(ctx, addr, config, 0x1000, 8, 0xdeadbeef))
	v, err := monitor.Read(ctx, addr, config, 0x1000, 8)
	requireT.NoError(err)
	requireT.EqualValues(0xdeadbeef, v)

	_, err = monitor.Read(ctx, addr, config, 0x2000, 8)
	requireT.ErrorContains(err, memexpose.ErrDisconnected.Error())
}

func TestInterruptCommands(t *testing.T) {
	requireT := require.New(t)
	target := &fakeTarget{
		pending: []memwire.Interrupt{{Type: 4, Data: [memwire.MaxInterruptDataSize]byte{0xaa}}},
	}
	ctx, addr := startMonitor(t, requireT, target)

	requireT.NoError(monitor.Interrupt(ctx, addr, config, 2, []byte{0x01, 0x02}))
	target.mu.Lock()
	requireT.Len(target.sent, 1)
	requireT.EqualValues(2, target.sent[0].Type)
	requireT.Equal([]byte{0x01, 0x02, 0x00}, target.sent[0].Data[:3])
	target.mu.Unlock()

	intrType, data, ok, err := monitor.Receive(ctx, addr, config)
	requireT.NoError(err)
	requireT.True(ok)
	requireT.EqualValues(4, intrType)
	requireT.Len(data, memwire.MaxInterruptDataSize)
	requireT.EqualValues(0xaa, data[0])

	_, _, ok, err = monitor.Receive(ctx, addr, config)
	requireT.NoError(err)
	requireT.False(ok)
}

func TestUnknownCommand(t *testing.T) {
	requireT := require.New(t)
	ctx, addr := startMonitor(t, requireT, &fakeTarget{})

	resp, err := monitor.Query(ctx, addr, config, &wire.Request{Command: "reboot"})
	requireT.NoError(err)
	requireT.Equal(&wire.Response{Error: "unknown command reboot"}, resp)
}
