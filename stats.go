package memexpose

import "sync/atomic"

// Stats collects counters of the device. Counters are safe to read from any goroutine.
type Stats struct {
	ReadsForwarded        atomic.Uint64
	WritesForwarded       atomic.Uint64
	ReadsServed           atomic.Uint64
	WritesServed          atomic.Uint64
	FastReads             atomic.Uint64
	FastWrites            atomic.Uint64
	RegionsOffered        atomic.Uint64
	RegionsImported       atomic.Uint64
	RegionsRejected       atomic.Uint64
	RegionsInvalidated    atomic.Uint64
	ImportedRegions       atomic.Int64
	InvalidationsSent     atomic.Uint64
	InvalidationsReceived atomic.Uint64
	InterruptsSent        atomic.Uint64
	InterruptsReceived    atomic.Uint64
	InterruptsDropped     atomic.Uint64
	SignalChanges         atomic.Uint64
}

// StatsSnapshot is a copy of counters taken at one moment.
type StatsSnapshot struct {
	ReadsForwarded        uint64
	WritesForwarded       uint64
	ReadsServed           uint64
	WritesServed          uint64
	FastReads             uint64
	FastWrites            uint64
	RegionsOffered        uint64
	RegionsImported       uint64
	RegionsRejected       uint64
	RegionsInvalidated    uint64
	ImportedRegions       uint64
	InvalidationsSent     uint64
	InvalidationsReceived uint64
	InterruptsSent        uint64
	InterruptsReceived    uint64
	InterruptsDropped     uint64
	SignalChanges         uint64
}

// Snapshot returns current values of the counters.
func (s *Stats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		ReadsForwarded:        s.ReadsForwarded.Load(),
		WritesForwarded:       s.WritesForwarded.Load(),
		ReadsServed:           s.ReadsServed.Load(),
		WritesServed:          s.WritesServed.Load(),
		FastReads:             s.FastReads.Load(),
		FastWrites:            s.FastWrites.Load(),
		RegionsOffered:        s.RegionsOffered.Load(),
		RegionsImported:       s.RegionsImported.Load(),
		RegionsRejected:       s.RegionsRejected.Load(),
		RegionsInvalidated:    s.RegionsInvalidated.Load(),
		ImportedRegions:       uint64(max(s.ImportedRegions.Load(), 0)),
		InvalidationsSent:     s.InvalidationsSent.Load(),
		InvalidationsReceived: s.InvalidationsReceived.Load(),
		InterruptsSent:        s.InterruptsSent.Load(),
		InterruptsReceived:    s.InterruptsReceived.Load(),
		InterruptsDropped:     s.InterruptsDropped.Load(),
		SignalChanges:         s.SignalChanges.Load(),
	}
}
