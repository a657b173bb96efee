package idempotency

import (
	"context"
	"sync"
	"testing"
	"time"
)

func newTestGuard(t *testing.T, now time.Time) (*Guard, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	g := NewGuard(store, 24*time.Hour).WithClock(func() time.Time { return now })
	return g, store
}

func TestReserve_FirstCallerIsFresh(t *testing.T) {
	g, _ := newTestGuard(t, time.Now())

	res, err := g.Reserve(context.Background(), "cust-1", "key-a")
	if err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	if res.Status != StatusFresh {
		t.Errorf("Expected FRESH, got %s", res.Status)
	}
}

func TestReserve_SecondCallerSeesInFlight(t *testing.T) {
	g, _ := newTestGuard(t, time.Now())
	ctx := context.Background()

	if _, err := g.Reserve(ctx, "cust-1", "key-a"); err != nil {
		t.Fatalf("First reserve failed: %v", err)
	}
	if err := g.Bind(ctx, "cust-1", "key-a", "tr_1"); err != nil {
		t.Fatalf("Bind failed: %v", err)
	}

	res, err := g.Reserve(ctx, "cust-1", "key-a")
	if err != nil {
		t.Fatalf("Second reserve failed: %v", err)
	}
	if res.Status != StatusInFlight {
		t.Errorf("Expected IN_FLIGHT, got %s", res.Status)
	}
	if res.TransferID != "tr_1" {
		t.Errorf("Expected the bound transfer, got %q", res.TransferID)
	}
}

func TestReserve_CompletedReplaysResult(t *testing.T) {
	g, _ := newTestGuard(t, time.Now())
	ctx := context.Background()

	if _, err := g.Reserve(ctx, "cust-1", "key-a"); err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	if err := g.Bind(ctx, "cust-1", "key-a", "tr_1"); err != nil {
		t.Fatalf("Bind failed: %v", err)
	}
	if err := g.Complete(ctx, "cust-1", "key-a"); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	res, err := g.Reserve(ctx, "cust-1", "key-a")
	if err != nil {
		t.Fatalf("Reserve after complete failed: %v", err)
	}
	if res.Status != StatusCompleted {
		t.Errorf("Expected COMPLETED, got %s", res.Status)
	}
	if res.TransferID != "tr_1" {
		t.Errorf("Expected the same transfer on replay, got %q", res.TransferID)
	}
}

func TestReserve_DifferentRequestersDoNotCollide(t *testing.T) {
	g, _ := newTestGuard(t, time.Now())
	ctx := context.Background()

	if _, err := g.Reserve(ctx, "cust-1", "key-a"); err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	res, err := g.Reserve(ctx, "cust-2", "key-a")
	if err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	if res.Status != StatusFresh {
		t.Errorf("Same key under another requester must be FRESH, got %s", res.Status)
	}
}

func TestReserve_ExactlyOneFreshUnderContention(t *testing.T) {
	g, _ := newTestGuard(t, time.Now())
	ctx := context.Background()

	const callers = 32
	var wg sync.WaitGroup
	results := make([]Status, callers)
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			res, err := g.Reserve(ctx, "cust-1", "key-race")
			if err != nil {
				t.Errorf("caller %d: %v", i, err)
				return
			}
			results[i] = res.Status
		}(i)
	}
	wg.Wait()

	fresh := 0
	for _, s := range results {
		if s == StatusFresh {
			fresh++
		}
	}
	if fresh != 1 {
		t.Errorf("Expected exactly one FRESH reservation, got %d", fresh)
	}
}

func TestReserve_ExpiredRecordIsReclaimed(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	start := time.Now()
	early := NewGuard(store, 24*time.Hour).WithClock(func() time.Time { return start })
	if _, err := early.Reserve(ctx, "cust-1", "key-a"); err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}

	late := NewGuard(store, 24*time.Hour).WithClock(func() time.Time { return start.Add(24*time.Hour + time.Second) })
	res, err := late.Reserve(ctx, "cust-1", "key-a")
	if err != nil {
		t.Fatalf("Reserve after expiry failed: %v", err)
	}
	if res.Status != StatusFresh {
		t.Errorf("Expired record must be reclaimable, got %s", res.Status)
	}
}

func TestReserve_UnexpiredRecordBlocksReclaim(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	start := time.Now()
	early := NewGuard(store, 24*time.Hour).WithClock(func() time.Time { return start })
	if _, err := early.Reserve(ctx, "cust-1", "key-a"); err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	if err := early.Complete(ctx, "cust-1", "key-a"); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}

	late := NewGuard(store, 24*time.Hour).WithClock(func() time.Time { return start.Add(23 * time.Hour) })
	res, err := late.Reserve(ctx, "cust-1", "key-a")
	if err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	if res.Status != StatusCompleted {
		t.Errorf("Terminal record inside its window must replay, got %s", res.Status)
	}
}

func TestSweepExpired(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	start := time.Now()
	g := NewGuard(store, time.Hour).WithClock(func() time.Time { return start })
	if _, err := g.Reserve(ctx, "cust-1", "key-a"); err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}
	if _, err := g.Reserve(ctx, "cust-1", "key-b"); err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}

	later := NewGuard(store, time.Hour).WithClock(func() time.Time { return start.Add(2 * time.Hour) })
	removed, err := later.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("SweepExpired failed: %v", err)
	}
	if removed != 2 {
		t.Errorf("Expected 2 records removed, got %d", removed)
	}

	res, err := later.Reserve(ctx, "cust-1", "key-a")
	if err != nil {
		t.Fatalf("Reserve after sweep failed: %v", err)
	}
	if res.Status != StatusFresh {
		t.Errorf("Swept key must be FRESH again, got %s", res.Status)
	}
}
