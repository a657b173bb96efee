package transfer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/meridianbank/transferauth/internal/events"
	"github.com/meridianbank/transferauth/internal/metrics"
	"github.com/meridianbank/transferauth/internal/traces"
)

// transitions is the full state table. Absence means the transition is
// invalid.
var transitions = map[State]map[Event]State{
	StateCreated: {
		EventRequirePin:       StatePendingPin,
		EventRequire2FA:       StatePending2FA,
		EventRequireApproval:  StatePendingApproval,
		EventAutoApprove:      StateApproved,
		EventRejectSuspicious: StateRejected,
	},
	StatePendingPin: {
		// The gate's verdict was decided at submission; PIN verification
		// only unlocks the already-chosen path.
		EventRequire2FA:      StatePending2FA,
		EventRequireApproval: StatePendingApproval,
		EventAutoApprove:     StateApproved,
		EventPinExhausted:    StateRejected,
	},
	StatePending2FA: {
		EventCodeVerified:     StateApproved,
		EventRequireApproval:  StatePendingApproval,
		EventCodeExhausted:    StateRejected,
		EventChallengeExpired: StateRejected,
	},
	StatePendingApproval: {
		EventApproverAccept: StateApproved,
		EventApproverReject: StateRejected,
		EventEscalate:       StateEscalated,
	},
	StateEscalated: {
		EventApproverAccept: StateApproved,
		EventApproverReject: StateRejected,
	},
	StateApproved: {
		EventBeginProcessing: StateProcessing,
		EventLedgerFailed:    StateFailed,
	},
	StateProcessing: {
		EventLedgerConfirmed: StateCompleted,
		EventLedgerFailed:    StateFailed,
	},
}

// Next returns the target state for (from, event), or ErrInvalidTransition.
func Next(from State, event Event) (State, error) {
	if to, ok := transitions[from][event]; ok {
		return to, nil
	}
	return "", fmt.Errorf("%w: %s on %s", ErrInvalidTransition, event, from)
}

// Machine applies transitions through the store's versioned update and
// records each one on the audit trail and the event stream.
type Machine struct {
	store     Store
	publisher events.Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewMachine creates a state machine over the given store.
func NewMachine(store Store, publisher events.Publisher, logger *slog.Logger) *Machine {
	if publisher == nil {
		publisher = events.Noop{}
	}
	return &Machine{store: store, publisher: publisher, logger: logger, now: time.Now}
}

// WithClock overrides the machine's clock, for tests.
func (m *Machine) WithClock(now func() time.Time) *Machine {
	m.now = now
	return m
}

// Transition moves a transfer to the state the table dictates for event,
// conditioned on expectedVersion. mutate, when non-nil, edits the record
// after the state change and before persisting (approver fields, deadlines,
// ledger references).
func (m *Machine) Transition(ctx context.Context, transferID string, expectedVersion int64, event Event, actor string, mutate func(*TransferRequest)) (*TransferRequest, error) {
	ctx, span := traces.StartSpan(ctx, "transfer.Transition",
		traces.TransferID(transferID), traces.Event(string(event)))
	defer span.End()

	t, err := m.store.Get(ctx, transferID)
	if err != nil {
		return nil, err
	}
	if t.Version != expectedVersion {
		return nil, fmt.Errorf("%w: expected version %d, have %d", ErrVersionConflict, expectedVersion, t.Version)
	}

	from := t.State
	to, err := Next(from, event)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(traces.State(string(to)))

	t.State = to
	t.PendingUntil = nil
	t.UpdatedAt = m.now()
	if mutate != nil {
		mutate(t)
	}

	if err := m.store.UpdateVersioned(ctx, t, expectedVersion); err != nil {
		return nil, err
	}

	if to.IsTerminal() {
		metrics.TransfersTerminalTotal.WithLabelValues(string(to)).Inc()
	}
	m.publisher.TransferTransitioned(ctx, t.ID, string(event), string(from), string(to))

	// Audit append is best-effort; the versioned row is the source of truth.
	entry := &AuditEntry{
		TransferID: t.ID,
		FromState:  from,
		ToState:    to,
		Event:      event,
		Actor:      actor,
		Version:    t.Version,
		CreatedAt:  t.UpdatedAt,
	}
	go func() {
		if err := m.store.AppendAudit(context.Background(), entry); err != nil {
			m.logger.Warn("failed to append transfer audit",
				"transferId", t.ID, "event", event, "error", err)
		}
	}()

	return t, nil
}
