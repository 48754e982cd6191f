package monitor

import (
	"context"
	"net"
	"reflect"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/outofforest/logger"
	"github.com/outofforest/memexpose"
	"github.com/outofforest/memexpose/monitor/wire"
	memwire "github.com/outofforest/memexpose/wire"
	"github.com/outofforest/resonance"
)

// Target is the device controlled by the monitor.
type Target interface {
	ReadMemory(ctx context.Context, addr uint64, size uint) (uint64, error)
	WriteMemory(ctx context.Context, addr uint64, size uint, value uint64) error
	SendInterrupt(ctx context.Context, intrType uint64, data []byte) error
	ReceiveInterrupt(ctx context.Context) (memwire.Interrupt, bool, error)
	Stats() memexpose.StatsSnapshot
	MemState() string
	IntrState() string
	Signal() bool
}

// Config is the configuration of monitor connections.
type Config struct {
	MaxMessageSize uint64
}

// RunServer runs monitor server.
func RunServer(ctx context.Context, ls net.Listener, config Config, target Target) error {
	connConfig := resonance.Config{
		MaxMessageSize: config.MaxMessageSize,
	}

	logger.Get(ctx).Info("Monitor started", zap.Stringer("address", ls.Addr()))
	return resonance.RunServer(ctx, ls, connConfig,
		func(ctx context.Context, c *resonance.Connection) error {
			return runServerConn(ctx, c, target)
		})
}

func runServerConn(ctx context.Context, c *resonance.Connection, target Target) error {
	defer c.Close()

	m := wire.NewMarshaller()
	for {
		msg, err := c.ReceiveProton(m)
		if err != nil {
			return err
		}

		req, ok := msg.(*wire.Request)
		if !ok {
			return errors.New("request expected")
		}

		logger.Get(ctx).Debug("Monitor command received", zap.String("command", req.Command))
		if err := c.SendProton(execute(ctx, req, target), m); err != nil {
			return err
		}
	}
}

func execute(ctx context.Context, req *wire.Request, target Target) any {
	switch req.Command {
	case wire.CommandStatus:
		return status(target)
	case wire.CommandRead:
		v, err := target.ReadMemory(ctx, req.Address, uint(req.Size))
		return response(v, "", err)
	case wire.CommandWrite:
		return response(0, "", target.WriteMemory(ctx, req.Address, uint(req.Size), req.Value))
	case wire.CommandInterrupt:
		return response(0, "", target.SendInterrupt(ctx, req.Value, []byte(req.Data)))
	case wire.CommandReceive:
		intr, ok, err := target.ReceiveInterrupt(ctx)
		if err != nil || !ok {
			return response(0, "", err)
		}
		return response(intr.Type, string(intr.Data[:]), nil)
	default:
		return &wire.Response{Error: "unknown command " + req.Command}
	}
}

func response(value uint64, data string, err error) *wire.Response {
	resp := &wire.Response{
		Value: value,
		Data:  data,
	}
	if err != nil {
		resp.Error = err.Error()
	}
	return resp
}

func status(target Target) *wire.Status {
	stats := reflect.ValueOf(target.Stats())
	statsType := stats.Type()

	s := &wire.Status{
		Counters:  make([]wire.Counter, 0, stats.NumField()),
		MemState:  target.MemState(),
		IntrState: target.IntrState(),
	}
	if target.Signal() {
		s.Signal = 1
	}
	for i := range stats.NumField() {
		s.Counters = append(s.Counters, wire.Counter{
			Name:  statsType.Field(i).Name,
			Value: stats.Field(i).Uint(),
		})
	}
	return s
}
