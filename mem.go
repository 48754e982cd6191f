package memexpose

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/outofforest/logger"
	"github.com/outofforest/memexpose/memory"
	"github.com/outofforest/memexpose/wire"
)

// BridgeConfig configures bridge.
type BridgeConfig struct {
	Name       string
	Priority   uint8
	WindowSize uint64
}

type importedRegion struct {
	generation uint64
	start      uint64
	region     *memory.Region
	invalidate bool
}

func (r *importedRegion) contains(addr uint64, size uint) bool {
	return addr >= r.start && addr-r.start < r.region.Size() && uint64(size) <= r.region.Size()-(addr-r.start)
}

// Bridge makes the window backed by memory of the peer and serves requests of the peer using local address space.
// Methods must be called from the loop.
type Bridge struct {
	name       string
	windowSize uint64
	ep         *Endpoint
	as         *memory.AddressSpace
	stats      *Stats

	regions             []*importedRegion
	generation          uint64
	pendingInvalidation bool
	nothingShared       bool
	invalidateBH        *BH
	unregister          func()
}

// NewBridge creates bridge serving requests of the peer from address space.
func NewBridge(config BridgeConfig, loop *Loop, as *memory.AddressSpace, stats *Stats) *Bridge {
	if stats == nil {
		stats = &Stats{}
	}
	b := &Bridge{
		name:          config.Name,
		windowSize:    config.WindowSize,
		as:            as,
		stats:         stats,
		nothingShared: true,
	}
	b.ep = NewEndpoint(EndpointConfig{Name: config.Name, Priority: config.Priority}, loop, b)
	b.invalidateBH = loop.NewBH(b.removeInvalidated)
	b.unregister = as.AddListener(b)
	return b
}

// Endpoint returns endpoint used to exchange memory requests.
func (b *Bridge) Endpoint() *Endpoint {
	return b.ep
}

// WindowSize returns the size of the window backed by the peer.
func (b *Bridge) WindowSize() uint64 {
	return b.windowSize
}

// ImportedRegions returns the number of regions mapped from the peer.
func (b *Bridge) ImportedRegions() int {
	return len(b.regions)
}

// PendingInvalidation tells if imported regions are waiting to be unmapped.
func (b *Bridge) PendingInvalidation() bool {
	return b.pendingInvalidation
}

// Read reads value from the window.
func (b *Bridge) Read(ctx context.Context, addr uint64, size uint) (uint64, error) {
	if err := b.checkAccess(addr, size); err != nil {
		return 0, err
	}
	if r := b.findImported(addr, size); r != nil {
		b.stats.FastReads.Add(1)
		v, res := r.region.Read(addr-r.start, size)
		return v, res.Err()
	}
	return b.sendRead(ctx, addr, size)
}

// Write writes value to the window.
func (b *Bridge) Write(ctx context.Context, addr uint64, size uint, value uint64) error {
	if err := b.checkAccess(addr, size); err != nil {
		return err
	}
	if r := b.findImported(addr, size); r != nil && !r.region.ReadOnly() {
		b.stats.FastWrites.Add(1)
		return r.region.Write(addr-r.start, size, value).Err()
	}
	return b.sendWrite(ctx, addr, size, value)
}

// HandleMessage handles request of the peer.
func (b *Bridge) HandleMessage(ctx context.Context, msg wire.Message) error {
	var resp wire.Body
	switch body := msg.Body.(type) {
	case *wire.Read:
		resp = b.handleRead(ctx, body)
	case *wire.Write:
		resp = b.handleWrite(ctx, body)
	case *wire.RegionInvalidate:
		resp = b.handleInvalidate(ctx, body)
	default:
		closeSharedFile(msg)
		return errors.Errorf("unknown memexpose command %s", msg.Header.Kind)
	}
	return b.ep.SendAsync(ctx, wire.New(msg.Header.Priority, resp))
}

// RegionAdded sends invalidation when local memory layout changes.
func (b *Bridge) RegionAdded(ctx context.Context, section memory.Section) {
	b.invalidate(ctx, section)
}

// RegionRemoved sends invalidation when local memory layout changes.
func (b *Bridge) RegionRemoved(ctx context.Context, section memory.Section) {
	b.invalidate(ctx, section)
}

// Disable disconnects the bridge and drops everything imported from the peer.
func (b *Bridge) Disable(ctx context.Context) {
	b.ep.Disconnect()
	for _, r := range b.regions {
		b.closeRegion(ctx, r)
	}
	b.regions = nil
	b.stats.ImportedRegions.Store(0)
	b.invalidateBH.Cancel()
	b.pendingInvalidation = false
}

// Close disables the bridge and stops listening to the address space.
func (b *Bridge) Close(ctx context.Context) {
	b.Disable(ctx)
	b.unregister()
}

func (b *Bridge) checkAccess(addr uint64, size uint) error {
	if size < 1 || size > 8 || addr >= b.windowSize || uint64(size) > b.windowSize-addr {
		return errors.Wrapf(memory.ErrDecode, "access of %d bytes at 0x%x is outside the window", size, addr)
	}
	return nil
}

func (b *Bridge) findImported(addr uint64, size uint) *importedRegion {
	for _, r := range b.regions {
		if r.contains(addr, size) {
			return r
		}
	}
	return nil
}

func (b *Bridge) sendRead(ctx context.Context, addr uint64, size uint) (uint64, error) {
	b.stats.ReadsForwarded.Add(1)
	resp, err := b.ep.SendSync(ctx, wire.New(b.ep.Priority(), &wire.Read{
		Offset: addr,
		Size:   uint8(size),
	}))
	if err != nil {
		return 0, err
	}
	ret, ok := resp.Body.(*wire.ReadRet)
	if !ok {
		closeSharedFile(resp)
		return 0, errors.Errorf("unexpected reply %s to %s", resp.Header.Kind, wire.KindRead)
	}

	res := memory.Result(ret.Result)
	if res == memory.ResultOK {
		b.handleShare(ctx, &ret.Share)
	} else {
		closeSharedFile(resp)
	}
	return ret.Value & laneMask(size), res.Err()
}

func (b *Bridge) sendWrite(ctx context.Context, addr uint64, size uint, value uint64) error {
	b.stats.WritesForwarded.Add(1)
	resp, err := b.ep.SendSync(ctx, wire.New(b.ep.Priority(), &wire.Write{
		Offset: addr,
		Value:  value,
		Size:   uint8(size),
	}))
	if err != nil {
		return err
	}
	ret, ok := resp.Body.(*wire.WriteRet)
	if !ok {
		closeSharedFile(resp)
		return errors.Errorf("unexpected reply %s to %s", resp.Header.Kind, wire.KindWrite)
	}

	res := memory.Result(ret.Result)
	if res == memory.ResultOK {
		b.handleShare(ctx, &ret.Share)
	} else {
		closeSharedFile(resp)
	}
	return res.Err()
}

func (b *Bridge) handleShare(ctx context.Context, share *wire.ShareInfo) {
	if share.Kind != wire.ShareFD {
		return
	}

	log := logger.Get(ctx).With(zap.String("bridge", b.name), zap.Uint64("start", share.Start),
		zap.Uint64("size", share.Size), zap.Uint64("mmapStart", share.MmapStart))
	if b.pendingInvalidation {
		log.Debug("Invalidation pending, declining share offer")
		_ = share.File.Close()
		share.File = nil
		return
	}
	if err := b.importRegion(share); err != nil {
		b.stats.RegionsRejected.Add(1)
		log.Error("Share offer declined", zap.Error(err))
		return
	}
	log.Debug("Remote memory mapped")
}

// importRegion maps the memory offered by the peer. The file is owned by the bridge afterwards.
func (b *Bridge) importRegion(share *wire.ShareInfo) (retErr error) {
	file := share.File
	share.File = nil
	defer func() {
		if retErr != nil && file != nil {
			_ = file.Close()
		}
	}()

	if file == nil {
		return errors.New("no descriptor attached to the share offer")
	}
	if share.Size == 0 {
		return errors.New("empty share offer")
	}
	if share.Start >= b.windowSize {
		return errors.Errorf("shared memory start 0x%x is beyond the window of size 0x%x", share.Start,
			b.windowSize)
	}
	size := min(share.Size, b.windowSize-share.Start)
	for _, r := range b.regions {
		if overlaps(r.start, r.region.Size(), share.Start, size) {
			return errors.Errorf("shared memory 0x%x-0x%x overlaps with region 0x%x-0x%x", share.Start,
				share.Start+size, r.start, r.start+r.region.Size())
		}
	}

	name := fmt.Sprintf("%s shmem 0x%x-0x%x -> 0x%x", b.name, share.Start, share.Start+size, share.MmapStart)
	region, err := memory.NewRAMFromFile(name, file, share.MmapStart, size, share.ReadOnly)
	if err != nil {
		return err
	}
	file = nil
	region.SetNonVolatile(share.NonVolatile)

	b.generation++
	b.regions = append(b.regions, &importedRegion{
		generation: b.generation,
		start:      share.Start,
		region:     region,
	})
	b.stats.RegionsImported.Add(1)
	b.stats.ImportedRegions.Store(int64(len(b.regions)))
	return nil
}

func (b *Bridge) handleRead(ctx context.Context, req *wire.Read) *wire.ReadRet {
	b.stats.ReadsServed.Add(1)
	ret := &wire.ReadRet{}
	v, res := b.as.Read(req.Offset, uint(req.Size))
	ret.Result = int32(res)
	if res != memory.ResultOK {
		logger.Get(ctx).Debug("Failed to read", zap.Uint64("offset", req.Offset), zap.Uint8("size", req.Size))
		return ret
	}
	ret.Value = v
	ret.Share = b.prepareShare(ctx, req.Offset, uint64(req.Size))
	return ret
}

func (b *Bridge) handleWrite(ctx context.Context, req *wire.Write) *wire.WriteRet {
	b.stats.WritesServed.Add(1)
	ret := &wire.WriteRet{}
	if res := b.as.Write(req.Offset, uint(req.Size), req.Value); res != memory.ResultOK {
		logger.Get(ctx).Debug("Failed to write", zap.Uint64("offset", req.Offset), zap.Uint8("size", req.Size))
		ret.Result = int32(memory.ResultError)
		return ret
	}
	ret.Share = b.prepareShare(ctx, req.Offset, uint64(req.Size))
	return ret
}

func (b *Bridge) prepareShare(ctx context.Context, offset, size uint64) wire.ShareInfo {
	section, ok := b.as.FindFlatRange(offset, size)
	if !ok {
		logger.Get(ctx).Debug("No memory region under address", zap.Uint64("offset", offset))
		return wire.ShareInfo{}
	}
	if !section.Region.Shareable() {
		return wire.ShareInfo{}
	}

	b.nothingShared = false
	b.stats.RegionsOffered.Add(1)
	logger.Get(ctx).Debug("Offering memory", zap.Uint64("start", section.Start), zap.Uint64("size", section.Size),
		zap.Uint64("mmapStart", section.OffsetWithinRegion))
	return wire.ShareInfo{
		Kind:        wire.ShareFD,
		Start:       section.Start,
		MmapStart:   section.OffsetWithinRegion,
		Size:        section.Size,
		ReadOnly:    section.Region.ReadOnly(),
		NonVolatile: section.Region.NonVolatile(),
		File:        section.Region.File(),
	}
}

func (b *Bridge) invalidate(ctx context.Context, section memory.Section) {
	if b.nothingShared {
		return
	}

	log := logger.Get(ctx).With(zap.String("bridge", b.name), zap.Uint64("start", section.Start),
		zap.Uint64("size", section.Size))
	log.Debug("Region changed, sending invalidation request")

	resp, err := b.ep.SendSync(ctx, wire.New(b.ep.Priority(), &wire.RegionInvalidate{
		Start: section.Start,
		Size:  section.Size,
	}))
	if err != nil {
		log.Error("Sending invalidation request failed", zap.Error(err))
		return
	}
	if resp.Header.Kind != wire.KindRegionInvalidateRet {
		closeSharedFile(resp)
		log.Error("Unexpected reply to invalidation request", zap.Stringer("kind", resp.Header.Kind))
		return
	}
	b.stats.InvalidationsSent.Add(1)
}

func (b *Bridge) handleInvalidate(ctx context.Context, req *wire.RegionInvalidate) *wire.RegionInvalidateRet {
	b.stats.InvalidationsReceived.Add(1)
	for _, r := range b.regions {
		if overlaps(r.start, r.region.Size(), req.Start, req.Size) {
			r.invalidate = true
			b.pendingInvalidation = true
		}
	}
	if b.pendingInvalidation {
		logger.Get(ctx).Debug("Scheduling invalidation", zap.Uint64("start", req.Start), zap.Uint64("size", req.Size))
		b.invalidateBH.Schedule()
	}
	return &wire.RegionInvalidateRet{}
}

func (b *Bridge) removeInvalidated(ctx context.Context) {
	for i := 0; i < len(b.regions); {
		r := b.regions[i]
		if !r.invalidate {
			i++
			continue
		}

		last := len(b.regions) - 1
		b.regions[i] = b.regions[last]
		b.regions[last] = nil
		b.regions = b.regions[:last]
		b.closeRegion(ctx, r)
		b.stats.RegionsInvalidated.Add(1)
	}
	b.stats.ImportedRegions.Store(int64(len(b.regions)))
	b.pendingInvalidation = false
}

func (b *Bridge) closeRegion(ctx context.Context, r *importedRegion) {
	if err := r.region.Close(); err != nil {
		logger.Get(ctx).Error("Unmapping remote memory failed", zap.String("region", r.region.Name()),
			zap.Uint64("generation", r.generation), zap.Error(err))
	}
}
