package memexpose_test

import (
	"context"
	"sync"

	"github.com/stretchr/testify/require"

	"github.com/outofforest/memexpose"
	"github.com/outofforest/memexpose/chardev"
	"github.com/outofforest/memexpose/memory"
	"github.com/outofforest/memexpose/wire"
)

func connect(requireT *require.Assertions, ep1, ep2 *memexpose.Endpoint) {
	s1, s2, err := chardev.Pair()
	requireT.NoError(err)
	ep1.Connect(s1)
	ep2.Connect(s2)
}

func do(ctx context.Context, requireT *require.Assertions, loop *memexpose.Loop, fn func(ctx context.Context)) {
	requireT.NoError(loop.Do(ctx, func(ctx context.Context) error {
		fn(ctx)
		return nil
	}))
}

type events struct {
	mu     sync.Mutex
	events []string
}

func (e *events) Add(event string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.events = append(e.events, event)
}

func (e *events) Get() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	return append([]string{}, e.events...)
}

// fakePeer answers reads with share offers configured per offset.
type fakePeer struct {
	Loop     *memexpose.Loop
	Endpoint *memexpose.Endpoint

	mu     sync.Mutex
	shares map[uint64]*memory.Region
	starts map[uint64]uint64
	sizes  map[uint64]uint64
	reads  int
}

func newFakePeer() *fakePeer {
	p := &fakePeer{
		Loop:   memexpose.NewLoop(),
		shares: map[uint64]*memory.Region{},
		starts: map[uint64]uint64{},
		sizes:  map[uint64]uint64{},
	}
	p.Endpoint = memexpose.NewEndpoint(memexpose.EndpointConfig{Name: "peer", Priority: 1}, p.Loop,
		memexpose.HandlerFunc(p.handle))
	return p
}

// Offer makes the peer offer region as [start, start+size) in replies to reads at offset.
func (p *fakePeer) Offer(offset uint64, region *memory.Region, start, size uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.shares[offset] = region
	p.starts[offset] = start
	p.sizes[offset] = size
}

func (p *fakePeer) Reads() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return p.reads
}

func (p *fakePeer) handle(ctx context.Context, msg wire.Message) error {
	req, ok := msg.Body.(*wire.Read)
	if !ok {
		return nil
	}

	p.mu.Lock()
	p.reads++
	ret := &wire.ReadRet{Value: req.Offset}
	if region := p.shares[req.Offset]; region != nil {
		ret.Share = wire.ShareInfo{
			Kind:  wire.ShareFD,
			Start: p.starts[req.Offset],
			Size:  p.sizes[req.Offset],
			File:  region.File(),
		}
	}
	p.mu.Unlock()

	return p.Endpoint.SendAsync(ctx, wire.New(msg.Header.Priority, ret))
}
