// Package transfer owns the authoritative lifecycle of a transfer request.
//
// Flow:
//  1. Submission is deduplicated, risk-scored, and gated
//  2. The gate routes to auto-approval, a one-time code, or staff approval
//  3. Further proof (PIN/code/decision) re-enters the state machine
//  4. Approved transfers are debited against the ledger exactly once
//  5. A timer sweeps records past their SLA and promotes or expires them
//
// Every mutation goes through the state machine and is conditioned on the
// caller's expected version. A lost optimistic-concurrency race surfaces as
// ErrVersionConflict, never as a silent overwrite.
package transfer

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrTransferNotFound  = errors.New("transfer not found")
	ErrVersionConflict   = errors.New("transfer was modified concurrently")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrInvalidAmount     = errors.New("invalid amount")
	ErrDuplicateInFlight = errors.New("a submission with this idempotency key is still in flight")
)

// State is the lifecycle position of a transfer request.
type State string

const (
	StateCreated         State = "created"
	StatePendingPin      State = "pending_pin"
	StatePending2FA      State = "pending_2fa"
	StatePendingApproval State = "pending_approval"
	StateEscalated       State = "escalated"
	StateApproved        State = "approved"
	StateProcessing      State = "processing"
	StateRejected        State = "rejected"
	StateCompleted       State = "completed"
	StateFailed          State = "failed"
)

// IsTerminal returns true if the state is final. A transfer reaches exactly
// one terminal state and never leaves it.
func (s State) IsTerminal() bool {
	switch s {
	case StateRejected, StateCompleted, StateFailed:
		return true
	}
	return false
}

// Event names a state-machine transition cause.
type Event string

const (
	EventRequirePin       Event = "require_pin"
	EventAutoApprove      Event = "auto_approve"
	EventRequire2FA       Event = "require_2fa"
	EventRequireApproval  Event = "require_approval"
	EventRejectSuspicious Event = "reject_suspicious"
	EventPinExhausted     Event = "pin_exhausted"
	EventCodeVerified     Event = "code_verified"
	EventCodeExhausted    Event = "code_exhausted"
	EventChallengeExpired Event = "challenge_expired"
	EventEscalate         Event = "escalate"
	EventApproverAccept   Event = "approver_accept"
	EventApproverReject   Event = "approver_reject"
	EventBeginProcessing  Event = "begin_processing"
	EventLedgerConfirmed  Event = "ledger_confirmed"
	EventLedgerFailed     Event = "ledger_failed"
)

// TransferRequest is one submitted transfer. Created on submission, mutated
// only through state-machine transitions, never deleted.
type TransferRequest struct {
	ID                 string          `json:"id"`
	RequesterID        string          `json:"requesterId"`
	Amount             decimal.Decimal `json:"amount"`
	Currency           string          `json:"currency"`
	DestinationAccount string          `json:"destinationAccount"`
	DestinationBank    string          `json:"destinationBank,omitempty"`
	Description        string          `json:"description,omitempty"`
	DeviceFingerprint  string          `json:"deviceFingerprint,omitempty"`
	SourceIP           string          `json:"sourceIp,omitempty"`
	SourceLocation     string          `json:"sourceLocation,omitempty"`
	IdempotencyKey     string          `json:"idempotencyKey"`

	State   State `json:"state"`
	Version int64 `json:"version"`

	// Gate verdict, folded in at authorization time so later steps can
	// route without re-deciding.
	RiskScore        float64 `json:"riskScore"`
	RiskLevel        string  `json:"riskLevel"`
	Requires2FA      bool    `json:"requires2fa"`
	RequiresApproval bool    `json:"requiresApproval"`

	// PendingUntil is the SLA/expiry deadline for the current pending
	// state: challenge expiry in pending_2fa, approval SLA in
	// pending_approval, next debit retry in approved.
	PendingUntil *time.Time `json:"pendingUntil,omitempty"`

	ApproverID      string `json:"approverId,omitempty"`
	ApproverComment string `json:"approverComment,omitempty"`
	LedgerRef       string `json:"ledgerRef,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// AuditEntry is one appended lifecycle record. The trail is append-only.
type AuditEntry struct {
	ID         int64     `json:"id"`
	TransferID string    `json:"transferId"`
	FromState  State     `json:"fromState"`
	ToState    State     `json:"toState"`
	Event      Event     `json:"event"`
	Actor      string    `json:"actor,omitempty"`
	Note       string    `json:"note,omitempty"`
	Version    int64     `json:"version"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Store persists transfer requests, their 2FA challenges, and the audit
// trail.
//
// UpdateVersioned is the single serialization mechanism for concurrent
// mutation: it persists the record only when the stored version still equals
// expectedVersion, bumping the version in the same statement, and returns
// ErrVersionConflict otherwise.
type Store interface {
	Create(ctx context.Context, t *TransferRequest) error
	Get(ctx context.Context, id string) (*TransferRequest, error)
	UpdateVersioned(ctx context.Context, t *TransferRequest, expectedVersion int64) error
	ListByRequester(ctx context.Context, requesterID string, limit int) ([]*TransferRequest, error)
	// ListDue returns non-terminal records in the given states whose
	// PendingUntil deadline has passed.
	ListDue(ctx context.Context, states []State, before time.Time, limit int) ([]*TransferRequest, error)

	SaveChallenge(ctx context.Context, c *Challenge) error
	GetChallenge(ctx context.Context, transferID string) (*Challenge, error)
	DeleteChallenge(ctx context.Context, transferID string) error

	AppendAudit(ctx context.Context, e *AuditEntry) error
	ListAudit(ctx context.Context, transferID string) ([]*AuditEntry, error)
}

// PinProvider verifies a requester's PIN. Optional: a nil provider skips
// the pending_pin step entirely.
type PinProvider interface {
	VerifyPin(ctx context.Context, requesterID, pin string) (bool, error)
}
