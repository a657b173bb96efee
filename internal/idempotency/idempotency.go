// Package idempotency deduplicates transfer submissions keyed by a
// caller-supplied idempotency key.
//
// Reservation is a linearizable compare-and-set on (requesterID, key):
// exactly one caller observes Fresh; every concurrent or later caller with
// the same live key observes InFlight or Completed and must not re-run side
// effects. The store's unique constraint, not an in-process lock, is the
// serialization point, since multiple service instances may run at once.
package idempotency

import (
	"context"
	"errors"
	"time"

	"github.com/meridianbank/transferauth/internal/metrics"
)

// Errors
var (
	ErrRecordNotFound = errors.New("idempotency: record not found")
	ErrKeyExists      = errors.New("idempotency: key already reserved")
)

// DefaultTTL bounds record lifetime so storage cannot grow without bound.
const DefaultTTL = 24 * time.Hour

// Status is what a caller learns about its key.
type Status string

const (
	StatusFresh     Status = "FRESH"
	StatusInFlight  Status = "IN_FLIGHT"
	StatusCompleted Status = "COMPLETED"
)

// Record is one reserved key. TransferID is empty for the short window
// between reservation and Bind.
type Record struct {
	RequesterID string    `json:"requesterId"`
	Key         string    `json:"key"`
	TransferID  string    `json:"transferId,omitempty"`
	Completed   bool      `json:"completed"`
	CreatedAt   time.Time `json:"createdAt"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// Reservation is the outcome of Reserve. TransferID is set for InFlight and
// Completed; it always resolves to the same transfer for the life of the
// record.
type Reservation struct {
	Status     Status `json:"status"`
	TransferID string `json:"transferId,omitempty"`
}

// Store persists idempotency records.
//
// Insert must be atomic: create the record, or reclaim an expired one in the
// same statement, and return ErrKeyExists when a live record already holds
// the key. This is the one place the pipeline needs true mutual exclusion.
type Store interface {
	Insert(ctx context.Context, r *Record) error
	Get(ctx context.Context, requesterID, key string) (*Record, error)
	Bind(ctx context.Context, requesterID, key, transferID string) error
	Complete(ctx context.Context, requesterID, key string) error
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// Guard is the pipeline-facing API over a Store.
type Guard struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
}

// NewGuard creates a guard with the given record TTL. A non-positive TTL
// falls back to DefaultTTL.
func NewGuard(store Store, ttl time.Duration) *Guard {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Guard{store: store, ttl: ttl, now: time.Now}
}

// WithClock overrides the guard's clock, for tests.
func (g *Guard) WithClock(now func() time.Time) *Guard {
	g.now = now
	return g
}

// Reserve claims (requesterID, key). Exactly one caller gets Fresh; everyone
// else gets the existing record's status.
func (g *Guard) Reserve(ctx context.Context, requesterID, key string) (*Reservation, error) {
	now := g.now()
	err := g.store.Insert(ctx, &Record{
		RequesterID: requesterID,
		Key:         key,
		CreatedAt:   now,
		ExpiresAt:   now.Add(g.ttl),
	})
	if err == nil {
		return &Reservation{Status: StatusFresh}, nil
	}
	if !errors.Is(err, ErrKeyExists) {
		return nil, err
	}

	existing, err := g.store.Get(ctx, requesterID, key)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			// Lost the race against an expiry sweep between Insert and Get.
			return g.Reserve(ctx, requesterID, key)
		}
		return nil, err
	}

	metrics.IdempotencyReplaysTotal.Inc()
	if existing.Completed {
		return &Reservation{Status: StatusCompleted, TransferID: existing.TransferID}, nil
	}
	return &Reservation{Status: StatusInFlight, TransferID: existing.TransferID}, nil
}

// Bind attaches the transfer the key resolved to. Called once, right after
// the Fresh reservation created the transfer.
func (g *Guard) Bind(ctx context.Context, requesterID, key, transferID string) error {
	return g.store.Bind(ctx, requesterID, key, transferID)
}

// Complete marks the key's request as finished so later callers replay the
// result instead of learning it is in flight.
func (g *Guard) Complete(ctx context.Context, requesterID, key string) error {
	return g.store.Complete(ctx, requesterID, key)
}

// SweepExpired removes dead records. Returns the number removed.
func (g *Guard) SweepExpired(ctx context.Context) (int, error) {
	return g.store.DeleteExpired(ctx, g.now())
}
