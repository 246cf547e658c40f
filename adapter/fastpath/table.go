// Package fastpath owns per-shard flow state and performs all
// per-packet work: flow tracking, classification and rule matching.
package fastpath

import (
	"time"

	"github.com/forest33/dpipe/business/entity"
)

// Table maps five-tuples to flow records. It belongs to exactly one
// worker and is accessed without locks; reporting reads it only after
// the worker has joined.
type Table struct {
	flows          map[entity.FiveTuple]*entity.Flow
	maxConnections int

	totalSeen  uint64
	classified uint64
	blocked    uint64
}

// TableStats owner-side counters of a flow table.
type TableStats struct {
	Active     int
	TotalSeen  uint64
	Classified uint64
	Blocked    uint64
}

func NewTable(maxConnections int) *Table {
	if maxConnections <= 0 {
		maxConnections = entity.DefaultMaxConnections
	}
	return &Table{
		flows:          make(map[entity.FiveTuple]*entity.Flow),
		maxConnections: maxConnections,
	}
}

// GetOrCreate returns the flow for the tuple, creating a NEW record if
// none exists. When the table is full the entry with the smallest
// last-seen timestamp is evicted first.
func (t *Table) GetOrCreate(tuple entity.FiveTuple) *entity.Flow {
	if flow, ok := t.flows[tuple]; ok {
		return flow
	}

	if len(t.flows) >= t.maxConnections {
		t.evictOldest()
	}

	now := time.Now()
	flow := &entity.Flow{
		Tuple:     tuple,
		State:     entity.StateNew,
		App:       entity.AppUnknown,
		FirstSeen: now,
		LastSeen:  now,
		Action:    entity.ActionForward,
	}
	t.flows[tuple] = flow
	t.totalSeen++

	return flow
}

// Get looks up the exact tuple, then its reverse.
func (t *Table) Get(tuple entity.FiveTuple) *entity.Flow {
	if flow, ok := t.flows[tuple]; ok {
		return flow
	}
	if flow, ok := t.flows[tuple.Reverse()]; ok {
		return flow
	}
	return nil
}

// Update bumps the direction counters and refreshes the last-seen
// timestamp.
func (t *Table) Update(flow *entity.Flow, size int, outbound bool) {
	flow.LastSeen = time.Now()
	if outbound {
		flow.PacketsOut++
		flow.BytesOut += uint64(size)
	} else {
		flow.PacketsIn++
		flow.BytesIn += uint64(size)
	}
}

// Classify records the application and domain identity once. A flow
// that is already classified keeps what it learned first.
func (t *Table) Classify(flow *entity.Flow, app entity.AppType, sni string) {
	if flow.State == entity.StateClassified {
		return
	}
	flow.App = app
	flow.SNI = sni
	flow.State = entity.StateClassified
	t.classified++
}

// Block marks the flow; every later packet drops without another
// classification pass.
func (t *Table) Block(flow *entity.Flow) {
	flow.State = entity.StateBlocked
	flow.Action = entity.ActionDrop
	t.blocked++
}

// Close marks the flow closed so the next cleanup removes it.
func (t *Table) Close(tuple entity.FiveTuple) {
	if flow, ok := t.flows[tuple]; ok {
		flow.State = entity.StateClosed
	}
}

// CleanupStale drops flows idle longer than the timeout and flows in
// the CLOSED state. Returns the number removed.
func (t *Table) CleanupStale(timeout time.Duration) int {
	now := time.Now()
	removed := 0
	for tuple, flow := range t.flows {
		if now.Sub(flow.LastSeen) > timeout || flow.State == entity.StateClosed {
			delete(t.flows, tuple)
			removed++
		}
	}
	return removed
}

// ForEach visits every flow. Only safe from the owning worker, or
// after it has joined.
func (t *Table) ForEach(fn func(*entity.Flow)) {
	for _, flow := range t.flows {
		fn(flow)
	}
}

func (t *Table) Len() int {
	return len(t.flows)
}

func (t *Table) Stats() TableStats {
	return TableStats{
		Active:     len(t.flows),
		TotalSeen:  t.totalSeen,
		Classified: t.classified,
		Blocked:    t.blocked,
	}
}

func (t *Table) evictOldest() {
	var oldestTuple entity.FiveTuple
	var oldest *entity.Flow
	for tuple, flow := range t.flows {
		if oldest == nil || flow.LastSeen.Before(oldest.LastSeen) {
			oldest = flow
			oldestTuple = tuple
		}
	}
	if oldest != nil {
		delete(t.flows, oldestTuple)
	}
}
