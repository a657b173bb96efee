package idempotency

import (
	"context"
	"sync"
	"time"
)

type recordKey struct {
	requesterID string
	key         string
}

// MemoryStore is an in-memory record store for tests and demo mode. The
// mutex gives Insert the same claim-or-reclaim atomicity the postgres
// store gets from its unique constraint.
type MemoryStore struct {
	mu      sync.Mutex
	records map[recordKey]*Record
}

// NewMemoryStore creates a new in-memory record store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[recordKey]*Record)}
}

func (m *MemoryStore) Insert(_ context.Context, r *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := recordKey{r.RequesterID, r.Key}
	if existing, ok := m.records[k]; ok && existing.ExpiresAt.After(r.CreatedAt) {
		return ErrKeyExists
	}

	cp := *r
	m.records[k] = &cp
	return nil
}

func (m *MemoryStore) Get(_ context.Context, requesterID, key string) (*Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.records[recordKey{requesterID, key}]
	if !ok {
		return nil, ErrRecordNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *MemoryStore) Bind(_ context.Context, requesterID, key, transferID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.records[recordKey{requesterID, key}]
	if !ok {
		return ErrRecordNotFound
	}
	r.TransferID = transferID
	return nil
}

func (m *MemoryStore) Complete(_ context.Context, requesterID, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.records[recordKey{requesterID, key}]
	if !ok {
		return ErrRecordNotFound
	}
	r.Completed = true
	return nil
}

func (m *MemoryStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for k, r := range m.records {
		if !r.ExpiresAt.After(now) {
			delete(m.records, k)
			removed++
		}
	}
	return removed, nil
}

var _ Store = (*MemoryStore)(nil)
