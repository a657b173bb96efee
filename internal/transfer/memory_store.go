package transfer

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory transfer store for tests and demo mode. The
// mutex gives UpdateVersioned the same compare-and-set atomicity the
// postgres store gets from its conditional UPDATE.
type MemoryStore struct {
	mu         sync.RWMutex
	transfers  map[string]*TransferRequest
	challenges map[string]*Challenge
	audit      map[string][]*AuditEntry
	nextAudit  int64
}

// NewMemoryStore creates a new in-memory transfer store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		transfers:  make(map[string]*TransferRequest),
		challenges: make(map[string]*Challenge),
		audit:      make(map[string][]*AuditEntry),
	}
}

func (m *MemoryStore) Create(_ context.Context, t *TransferRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *t
	m.transfers[t.ID] = &cp
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*TransferRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.transfers[id]
	if !ok {
		return nil, ErrTransferNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryStore) UpdateVersioned(_ context.Context, t *TransferRequest, expectedVersion int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.transfers[t.ID]
	if !ok {
		return ErrTransferNotFound
	}
	if existing.Version != expectedVersion {
		return ErrVersionConflict
	}

	t.Version = expectedVersion + 1
	cp := *t
	m.transfers[t.ID] = &cp
	return nil
}

func (m *MemoryStore) ListByRequester(_ context.Context, requesterID string, limit int) ([]*TransferRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*TransferRequest
	for _, t := range m.transfers {
		if t.RequesterID == requesterID {
			cp := *t
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *MemoryStore) ListDue(_ context.Context, states []State, before time.Time, limit int) ([]*TransferRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	wanted := make(map[State]bool, len(states))
	for _, s := range states {
		wanted[s] = true
	}

	var result []*TransferRequest
	for _, t := range m.transfers {
		if !wanted[t.State] || t.PendingUntil == nil || t.PendingUntil.After(before) {
			continue
		}
		cp := *t
		result = append(result, &cp)
		if len(result) >= limit {
			break
		}
	}
	return result, nil
}

func (m *MemoryStore) SaveChallenge(_ context.Context, c *Challenge) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *c
	m.challenges[c.TransferID] = &cp
	return nil
}

func (m *MemoryStore) GetChallenge(_ context.Context, transferID string) (*Challenge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.challenges[transferID]
	if !ok {
		return nil, ErrChallengeNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *MemoryStore) DeleteChallenge(_ context.Context, transferID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.challenges[transferID]; !ok {
		return ErrChallengeNotFound
	}
	delete(m.challenges, transferID)
	return nil
}

func (m *MemoryStore) AppendAudit(_ context.Context, e *AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextAudit++
	cp := *e
	cp.ID = m.nextAudit
	m.audit[e.TransferID] = append(m.audit[e.TransferID], &cp)
	return nil
}

func (m *MemoryStore) ListAudit(_ context.Context, transferID string) ([]*AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := m.audit[transferID]
	result := make([]*AuditEntry, len(entries))
	for i, e := range entries {
		cp := *e
		result[i] = &cp
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Version < result[j].Version
	})
	return result, nil
}

var _ Store = (*MemoryStore)(nil)
