package history

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// maxEntriesPerRequester caps per-requester retention in memory.
const maxEntriesPerRequester = 1000

// MemoryStore is an in-memory history store for demo/development mode.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string][]*Entry // by requester ID, append order
	now     func() time.Time
}

// NewMemoryStore creates a new in-memory history store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string][]*Entry),
		now:     time.Now,
	}
}

// WithClock overrides the clock, for tests.
func (m *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	m.now = now
	return m
}

func (m *MemoryStore) Record(ctx context.Context, e *Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *e
	if cp.OccurredAt.IsZero() {
		cp.OccurredAt = m.now()
	}
	list := append(m.entries[e.RequesterID], &cp)

	// Prune beyond the profile window and cap size.
	cutoff := m.now().Add(-ProfileWindow)
	start := 0
	for start < len(list) && list[start].OccurredAt.Before(cutoff) {
		start++
	}
	list = list[start:]
	if len(list) > maxEntriesPerRequester {
		list = list[len(list)-maxEntriesPerRequester:]
	}
	m.entries[e.RequesterID] = list
	return nil
}

func (m *MemoryStore) GetProfile(ctx context.Context, requesterID string) (*Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := m.entries[requesterID]
	if len(list) == 0 {
		return DefaultProfile(requesterID), nil
	}

	now := m.now()
	profileCutoff := now.Add(-ProfileWindow)
	recentCutoff := now.Add(-RecentWindow)

	var (
		total     decimal.Decimal
		counted   int
		recent    int
		locations []string
		dests     []string
		seenLoc   = make(map[string]bool)
		seenDest  = make(map[string]bool)
	)

	for _, e := range list {
		if e.OccurredAt.Before(profileCutoff) {
			continue
		}
		total = total.Add(e.Amount)
		counted++
		if e.OccurredAt.After(recentCutoff) {
			recent++
		}
		if e.Location != "" && !seenLoc[e.Location] {
			seenLoc[e.Location] = true
			locations = append(locations, e.Location)
		}
		if e.Destination != "" && !seenDest[e.Destination] {
			seenDest[e.Destination] = true
			dests = append(dests, e.Destination)
		}
	}

	if counted == 0 {
		return DefaultProfile(requesterID), nil
	}

	return &Profile{
		RequesterID:       requesterID,
		AverageAmount:     total.Div(decimal.NewFromInt(int64(counted))),
		RecentCount:       recent,
		PriorLocations:    locations,
		KnownDestinations: dests,
	}, nil
}
