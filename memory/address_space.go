package memory

import (
	"context"
	"sort"

	"github.com/pkg/errors"
)

// Section is the part of the address space covered by a single region.
type Section struct {
	Region             *Region
	OffsetWithinRegion uint64
	Start              uint64
	Size               uint64
}

// Listener is notified about changes in the topology of the address space.
type Listener interface {
	RegionAdded(ctx context.Context, section Section)
	RegionRemoved(ctx context.Context, section Section)
}

type mapping struct {
	start  uint64
	region *Region
}

func (m mapping) end() uint64 {
	return m.start + m.region.size
}

func (m mapping) section() Section {
	return Section{
		Region: m.region,
		Start:  m.start,
		Size:   m.region.size,
	}
}

// AddressSpace is a flat view of non-overlapping regions.
type AddressSpace struct {
	name      string
	mappings  []mapping
	listeners map[uint64]Listener
	nextID    uint64
}

// NewAddressSpace creates empty address space.
func NewAddressSpace(name string) *AddressSpace {
	return &AddressSpace{
		name:      name,
		listeners: map[uint64]Listener{},
	}
}

// Name returns the name of the address space.
func (as *AddressSpace) Name() string {
	return as.name
}

// Map maps region at start.
func (as *AddressSpace) Map(ctx context.Context, start uint64, region *Region) error {
	if region.size == 0 || start+region.size < start {
		return errors.Errorf("invalid range of region %q", region.name)
	}

	m := mapping{start: start, region: region}
	for _, m2 := range as.mappings {
		if m2.region == region {
			return errors.Errorf("region %q is already mapped", region.name)
		}
		if m.start < m2.end() && m2.start < m.end() {
			return errors.Errorf("region %q overlaps with %q", region.name, m2.region.name)
		}
	}

	as.mappings = append(as.mappings, m)
	sort.Slice(as.mappings, func(i, j int) bool {
		return as.mappings[i].start < as.mappings[j].start
	})

	for _, l := range as.sortedListeners() {
		l.RegionAdded(ctx, m.section())
	}
	return nil
}

// Unmap removes region from the address space.
func (as *AddressSpace) Unmap(ctx context.Context, region *Region) error {
	for i, m := range as.mappings {
		if m.region != region {
			continue
		}
		as.mappings = append(as.mappings[:i], as.mappings[i+1:]...)
		for _, l := range as.sortedListeners() {
			l.RegionRemoved(ctx, m.section())
		}
		return nil
	}
	return errors.Errorf("region %q is not mapped", region.name)
}

// AddListener registers listener. Returned function unregisters it.
func (as *AddressSpace) AddListener(l Listener) func() {
	id := as.nextID
	as.nextID++
	as.listeners[id] = l
	return func() {
		delete(as.listeners, id)
	}
}

// FindFlatRange returns the section containing the range.
func (as *AddressSpace) FindFlatRange(addr, size uint64) (Section, bool) {
	m, ok := as.find(addr, size)
	if !ok {
		return Section{}, false
	}
	return m.section(), true
}

// Read reads size bytes at addr.
func (as *AddressSpace) Read(addr uint64, size uint) (uint64, Result) {
	m, ok := as.find(addr, uint64(size))
	if !ok {
		return 0, ResultDecodeError
	}
	return m.region.Read(addr-m.start, size)
}

// Write writes size bytes at addr.
func (as *AddressSpace) Write(addr uint64, size uint, value uint64) Result {
	m, ok := as.find(addr, uint64(size))
	if !ok {
		return ResultDecodeError
	}
	return m.region.Write(addr-m.start, size, value)
}

func (as *AddressSpace) find(addr, size uint64) (mapping, bool) {
	i := sort.Search(len(as.mappings), func(i int) bool {
		return as.mappings[i].end() > addr
	})
	if i == len(as.mappings) {
		return mapping{}, false
	}
	m := as.mappings[i]
	if addr < m.start || size > m.end()-addr {
		return mapping{}, false
	}
	return m, true
}

func (as *AddressSpace) sortedListeners() []Listener {
	ids := make([]uint64, 0, len(as.listeners))
	for id := range as.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	listeners := make([]Listener, 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, as.listeners[id])
	}
	return listeners
}
