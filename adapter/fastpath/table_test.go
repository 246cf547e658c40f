package fastpath

import (
	"testing"
	"time"

	"github.com/forest33/dpipe/business/entity"
)

func tupleN(n int) entity.FiveTuple {
	return entity.FiveTuple{
		SrcIP:    uint32(n),
		DstIP:    0x02020202,
		SrcPort:  uint16(40000 + n),
		DstPort:  443,
		Protocol: entity.IPProtocolTCP,
	}
}

func TestGetOrCreate(t *testing.T) {
	tab := NewTable(10)

	f1 := tab.GetOrCreate(tupleN(1))
	if f1.State != entity.StateNew || f1.App != entity.AppUnknown {
		t.Fatalf("fresh flow = %+v", f1)
	}
	if f1.FirstSeen.After(f1.LastSeen) {
		t.Fatal("FirstSeen after LastSeen")
	}

	if f2 := tab.GetOrCreate(tupleN(1)); f2 != f1 {
		t.Fatal("GetOrCreate did not return the existing flow")
	}
	if tab.Len() != 1 {
		t.Fatalf("len = %d", tab.Len())
	}
}

func TestGetReverse(t *testing.T) {
	tab := NewTable(10)
	f := tab.GetOrCreate(tupleN(1))

	if got := tab.Get(tupleN(1)); got != f {
		t.Fatal("exact lookup failed")
	}
	if got := tab.Get(tupleN(1).Reverse()); got != f {
		t.Fatal("reverse lookup failed")
	}
	if got := tab.Get(tupleN(2)); got != nil {
		t.Fatal("lookup of unknown tuple succeeded")
	}
}

func TestEvictOldest(t *testing.T) {
	tab := NewTable(3)

	f1 := tab.GetOrCreate(tupleN(1))
	f2 := tab.GetOrCreate(tupleN(2))
	f3 := tab.GetOrCreate(tupleN(3))

	// Make flow 2 the stalest.
	now := time.Now()
	f1.LastSeen = now
	f2.LastSeen = now.Add(-time.Hour)
	f3.LastSeen = now.Add(-time.Minute)

	tab.GetOrCreate(tupleN(4))

	if tab.Len() != 3 {
		t.Fatalf("len = %d, want 3", tab.Len())
	}
	if tab.Get(tupleN(2)) != nil {
		t.Fatal("stalest flow not evicted")
	}
	if tab.Get(tupleN(1)) == nil || tab.Get(tupleN(3)) == nil || tab.Get(tupleN(4)) == nil {
		t.Fatal("wrong flow evicted")
	}
}

func TestClassifyOnce(t *testing.T) {
	tab := NewTable(10)
	f := tab.GetOrCreate(tupleN(1))

	tab.Classify(f, entity.AppYouTube, "www.youtube.com")
	if f.State != entity.StateClassified || f.App != entity.AppYouTube || f.SNI != "www.youtube.com" {
		t.Fatalf("flow = %+v", f)
	}

	// A later classification must not overwrite what was learned.
	tab.Classify(f, entity.AppNetflix, "netflix.com")
	if f.App != entity.AppYouTube || f.SNI != "www.youtube.com" {
		t.Fatalf("classification overwritten: %+v", f)
	}
	if tab.Stats().Classified != 1 {
		t.Fatalf("classified counter = %d", tab.Stats().Classified)
	}
}

func TestBlock(t *testing.T) {
	tab := NewTable(10)
	f := tab.GetOrCreate(tupleN(1))
	tab.Block(f)
	if f.State != entity.StateBlocked || f.Action != entity.ActionDrop {
		t.Fatalf("flow = %+v", f)
	}
	if tab.Stats().Blocked != 1 {
		t.Fatalf("blocked counter = %d", tab.Stats().Blocked)
	}
}

func TestCleanupStale(t *testing.T) {
	tab := NewTable(10)

	stale := tab.GetOrCreate(tupleN(1))
	stale.LastSeen = time.Now().Add(-10 * time.Minute)

	closed := tab.GetOrCreate(tupleN(2))
	closed.State = entity.StateClosed

	fresh := tab.GetOrCreate(tupleN(3))

	removed := tab.CleanupStale(5 * time.Minute)
	if removed != 2 {
		t.Fatalf("removed = %d, want 2", removed)
	}
	if tab.Get(tupleN(3)) != fresh {
		t.Fatal("fresh flow removed")
	}
}

func TestUpdateDirections(t *testing.T) {
	tab := NewTable(10)
	f := tab.GetOrCreate(tupleN(1))

	tab.Update(f, 100, true)
	tab.Update(f, 60, true)
	tab.Update(f, 40, false)

	if f.PacketsOut != 2 || f.BytesOut != 160 {
		t.Fatalf("out = %d/%d", f.PacketsOut, f.BytesOut)
	}
	if f.PacketsIn != 1 || f.BytesIn != 40 {
		t.Fatalf("in = %d/%d", f.PacketsIn, f.BytesIn)
	}
}
