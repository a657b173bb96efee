package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/meridianbank/transferauth/internal/metrics"
)

const sweepBatchSize = 100

// Timer periodically sweeps records past their deadline: expired 2FA
// challenges are rejected, stale approvals are escalated, and approved
// transfers whose debit hit an outage are retried.
//
// Safe to run concurrently with itself and with user-driven transitions: a
// lost optimistic-concurrency race means another actor already advanced the
// record, so the sweep treats it as a no-op.
type Timer struct {
	service  *Service
	store    Store
	interval time.Duration
	logger   *slog.Logger
	stop     chan struct{}
	running  atomic.Bool
	now      func() time.Time
}

// NewTimer creates a new escalation timer.
func NewTimer(service *Service, store Store, logger *slog.Logger) *Timer {
	return &Timer{
		service:  service,
		store:    store,
		interval: 30 * time.Second,
		logger:   logger,
		stop:     make(chan struct{}),
		now:      time.Now,
	}
}

// WithInterval overrides the sweep interval.
func (t *Timer) WithInterval(d time.Duration) *Timer {
	if d > 0 {
		t.interval = d
	}
	return t
}

// WithClock overrides the sweep clock, for tests.
func (t *Timer) WithClock(now func() time.Time) *Timer {
	t.now = now
	return t
}

// Running reports whether the timer loop is actively running.
func (t *Timer) Running() bool {
	return t.running.Load()
}

// Start begins the sweep loop. Call in a goroutine.
func (t *Timer) Start(ctx context.Context) {
	t.running.Store(true)
	defer t.running.Store(false)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stop:
			return
		case <-ticker.C:
			t.safeSweep(ctx)
		}
	}
}

// Stop signals the timer to stop.
func (t *Timer) Stop() {
	select {
	case t.stop <- struct{}{}:
	default:
	}
}

func (t *Timer) safeSweep(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("panic in transfer timer", "panic", fmt.Sprint(r))
		}
	}()
	t.Sweep(ctx)
}

// Sweep runs one pass over every due record. Exported so tests and the
// admin surface can trigger it directly.
func (t *Timer) Sweep(ctx context.Context) {
	now := t.now()

	due, err := t.store.ListDue(ctx, []State{StatePending2FA, StatePendingApproval, StateApproved}, now, sweepBatchSize)
	if err != nil {
		t.logger.Warn("failed to list due transfers", "error", err)
		return
	}

	for _, tr := range due {
		switch tr.State {
		case StatePending2FA:
			t.expireChallenge(ctx, tr)
		case StatePendingApproval:
			t.escalate(ctx, tr)
		case StateApproved:
			t.retryDebit(ctx, tr)
		}
	}
}

func (t *Timer) expireChallenge(ctx context.Context, tr *TransferRequest) {
	tr, err := t.service.machine.Transition(ctx, tr.ID, tr.Version, EventChallengeExpired, "timer", nil)
	if t.lostRace(err, "expire 2fa challenge") {
		return
	}
	t.service.discardChallenge(ctx, tr.ID)
	t.service.completeKey(ctx, tr)
	t.logger.Info("rejected transfer with expired challenge", "transferId", tr.ID)
}

func (t *Timer) escalate(ctx context.Context, tr *TransferRequest) {
	tr, err := t.service.machine.Transition(ctx, tr.ID, tr.Version, EventEscalate, "timer", nil)
	if t.lostRace(err, "escalate approval") {
		return
	}
	metrics.EscalationsTotal.Inc()
	t.service.notifier.NotifyApprovers(ctx, tr.ID)
	t.logger.Info("escalated transfer past approval SLA", "transferId", tr.ID)
}

func (t *Timer) retryDebit(ctx context.Context, tr *TransferRequest) {
	id := tr.ID
	tr, err := t.service.settle(ctx, tr)
	if err != nil {
		if errors.Is(err, ErrVersionConflict) {
			metrics.SweepConflictsTotal.Inc()
			return
		}
		t.logger.Warn("debit retry failed", "transferId", id, "error", err)
		return
	}
	if tr.State == StateCompleted {
		t.logger.Info("completed transfer on debit retry", "transferId", tr.ID)
	}
}

// lostRace classifies a transition error. A version conflict means another
// actor won; anything else is logged.
func (t *Timer) lostRace(err error, op string) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrVersionConflict) || errors.Is(err, ErrInvalidTransition) {
		metrics.SweepConflictsTotal.Inc()
		return true
	}
	t.logger.Warn("sweep transition failed", "op", op, "error", err)
	return true
}
