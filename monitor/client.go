package monitor

import (
	"context"

	"github.com/pkg/errors"

	"github.com/outofforest/memexpose/monitor/wire"
	"github.com/outofforest/resonance"
)

// Query sends request to the monitor and returns its reply.
func Query(ctx context.Context, addr string, config Config, req *wire.Request) (any, error) {
	connConfig := resonance.Config{
		MaxMessageSize: config.MaxMessageSize,
	}

	var resp any
	err := resonance.RunClient(ctx, addr, connConfig,
		func(ctx context.Context, c *resonance.Connection) error {
			defer c.Close()

			m := wire.NewMarshaller()
			if err := c.SendProton(req, m); err != nil {
				return err
			}

			msg, err := c.ReceiveProton(m)
			if err != nil {
				return err
			}
			resp = msg
			return nil
		})
	if resp != nil {
		return resp, nil
	}
	if err == nil {
		err = errors.New("no reply received")
	}
	return nil, err
}

// Status returns the status of the device.
func Status(ctx context.Context, addr string, config Config) (*wire.Status, error) {
	resp, err := Query(ctx, addr, config, &wire.Request{Command: wire.CommandStatus})
	if err != nil {
		return nil, err
	}
	status, ok := resp.(*wire.Status)
	if !ok {
		return nil, errors.Errorf("unexpected reply %T", resp)
	}
	return status, nil
}

// Read reads from the memory window of the device.
func Read(ctx context.Context, addr string, config Config, address uint64, size uint) (uint64, error) {
	resp, err := execQuery(ctx, addr, config, &wire.Request{
		Command: wire.CommandRead,
		Address: address,
		Size:    uint64(size),
	})
	if err != nil {
		return 0, err
	}
	return resp.Value, nil
}

// Write writes to the memory window of the device.
func Write(ctx context.Context, addr string, config Config, address uint64, size uint, value uint64) error {
	_, err := execQuery(ctx, addr, config, &wire.Request{
		Command: wire.CommandWrite,
		Address: address,
		Size:    uint64(size),
		Value:   value,
	})
	return err
}

// Interrupt sends interrupt to the peer of the device.
func Interrupt(ctx context.Context, addr string, config Config, intrType uint64, data []byte) error {
	_, err := execQuery(ctx, addr, config, &wire.Request{
		Command: wire.CommandInterrupt,
		Value:   intrType,
		Data:    string(data),
	})
	return err
}

// Receive pops interrupt received by the device. It returns false if there is none.
func Receive(ctx context.Context, addr string, config Config) (uint64, []byte, bool, error) {
	resp, err := execQuery(ctx, addr, config, &wire.Request{Command: wire.CommandReceive})
	if err != nil {
		return 0, nil, false, err
	}
	if resp.Data == "" {
		return 0, nil, false, nil
	}
	return resp.Value, []byte(resp.Data), true, nil
}

func execQuery(ctx context.Context, addr string, config Config, req *wire.Request) (*wire.Response, error) {
	resp, err := Query(ctx, addr, config, req)
	if err != nil {
		return nil, err
	}
	r, ok := resp.(*wire.Response)
	if !ok {
		return nil, errors.Errorf("unexpected reply %T", resp)
	}
	if r.Error != "" {
		return nil, errors.Errorf("command %s failed: %s", req.Command, r.Error)
	}
	return r, nil
}
