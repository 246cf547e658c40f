package entity

import "sync/atomic"

// EngineStats process-wide counters bumped from the reader and the
// verdict sink. All fields are atomics; Snapshot gives a consistent
// enough view for reporting.
type EngineStats struct {
	TotalPackets     atomic.Uint64
	TotalBytes       atomic.Uint64
	TCPPackets       atomic.Uint64
	UDPPackets       atomic.Uint64
	OtherPackets     atomic.Uint64
	SkippedPackets   atomic.Uint64
	ForwardedPackets atomic.Uint64
	DroppedPackets   atomic.Uint64
	WriteErrors      atomic.Uint64
	WriteSuccesses   atomic.Uint64
}

// StatsSnapshot plain values for the report formatter.
type StatsSnapshot struct {
	TotalPackets     uint64
	TotalBytes       uint64
	TCPPackets       uint64
	UDPPackets       uint64
	OtherPackets     uint64
	SkippedPackets   uint64
	ForwardedPackets uint64
	DroppedPackets   uint64
	WriteErrors      uint64
	WriteSuccesses   uint64
}

func (s *EngineStats) Snapshot() StatsSnapshot {
	return StatsSnapshot{
		TotalPackets:     s.TotalPackets.Load(),
		TotalBytes:       s.TotalBytes.Load(),
		TCPPackets:       s.TCPPackets.Load(),
		UDPPackets:       s.UDPPackets.Load(),
		OtherPackets:     s.OtherPackets.Load(),
		SkippedPackets:   s.SkippedPackets.Load(),
		ForwardedPackets: s.ForwardedPackets.Load(),
		DroppedPackets:   s.DroppedPackets.Load(),
		WriteErrors:      s.WriteErrors.Load(),
		WriteSuccesses:   s.WriteSuccesses.Load(),
	}
}
