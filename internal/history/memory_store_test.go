package history

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func TestMemoryStore_EmptyProfileIsDefault(t *testing.T) {
	store := NewMemoryStore()

	p, err := store.GetProfile(context.Background(), "cust-1")
	if err != nil {
		t.Fatalf("GetProfile failed: %v", err)
	}
	if p.HasHistory() {
		t.Error("Expected default profile without history")
	}
	if !p.AverageAmount.Equal(decimal.Zero) {
		t.Errorf("Expected zero average, got %s", p.AverageAmount)
	}
}

func TestMemoryStore_ProfileAggregation(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	store := NewMemoryStore().WithClock(func() time.Time { return now })
	ctx := context.Background()

	entries := []*Entry{
		{RequesterID: "cust-1", Amount: decimal.NewFromInt(100), Location: "DE", Destination: "acct-a", OccurredAt: now.Add(-2 * time.Hour)},
		{RequesterID: "cust-1", Amount: decimal.NewFromInt(300), Location: "DE", Destination: "acct-b", OccurredAt: now.Add(-3 * time.Hour)},
		{RequesterID: "cust-1", Amount: decimal.NewFromInt(200), Location: "FR", Destination: "acct-a", OccurredAt: now.Add(-48 * time.Hour)},
		// Different requester must not leak in.
		{RequesterID: "cust-2", Amount: decimal.NewFromInt(9999), Location: "US", Destination: "acct-x", OccurredAt: now.Add(-time.Hour)},
	}
	for _, e := range entries {
		if err := store.Record(ctx, e); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	p, err := store.GetProfile(ctx, "cust-1")
	if err != nil {
		t.Fatalf("GetProfile failed: %v", err)
	}
	if !p.AverageAmount.Equal(decimal.NewFromInt(200)) {
		t.Errorf("Expected average 200, got %s", p.AverageAmount)
	}
	if p.RecentCount != 2 {
		t.Errorf("Expected 2 recent transfers, got %d", p.RecentCount)
	}
	if !p.KnowsLocation("DE") || !p.KnowsLocation("FR") {
		t.Errorf("Expected DE and FR as prior locations, got %v", p.PriorLocations)
	}
	if p.KnowsLocation("US") {
		t.Error("Location from another requester leaked into profile")
	}
	if !p.KnowsDestination("acct-b") {
		t.Errorf("Expected acct-b among known destinations, got %v", p.KnownDestinations)
	}
}

func TestMemoryStore_OldEntriesExcluded(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	store := NewMemoryStore().WithClock(func() time.Time { return now })
	ctx := context.Background()

	// Only an entry older than the profile window.
	_ = store.Record(ctx, &Entry{
		RequesterID: "cust-old",
		Amount:      decimal.NewFromInt(500),
		OccurredAt:  now.Add(-ProfileWindow - time.Hour),
	})

	p, err := store.GetProfile(ctx, "cust-old")
	if err != nil {
		t.Fatalf("GetProfile failed: %v", err)
	}
	if p.HasHistory() {
		t.Error("Entries beyond the profile window should not contribute")
	}
}
