package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/meridianbank/transferauth/internal/authz"
	"github.com/meridianbank/transferauth/internal/history"
	"github.com/meridianbank/transferauth/internal/idempotency"
	"github.com/meridianbank/transferauth/internal/idgen"
	"github.com/meridianbank/transferauth/internal/ledger"
	"github.com/meridianbank/transferauth/internal/metrics"
	"github.com/meridianbank/transferauth/internal/notify"
	"github.com/meridianbank/transferauth/internal/risk"
	"github.com/meridianbank/transferauth/internal/stp"
	"github.com/meridianbank/transferauth/internal/traces"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
)

// EntityType is the STP rule scope for transfer requests.
const EntityType = "transfer"

// Default SLA/retry windows.
const (
	DefaultApprovalSLA = 4 * time.Hour
	DefaultRetryDelay  = time.Minute
)

// RequiresAction tells the caller what proof the pipeline still needs.
type RequiresAction string

const (
	ActionNone     RequiresAction = "none"
	ActionPin      RequiresAction = "pin"
	ActionCode     RequiresAction = "2fa_code"
	ActionApproval RequiresAction = "approval"
)

// SubmitRequest contains the parameters for submitting a transfer.
type SubmitRequest struct {
	RequesterID        string `json:"requesterId" binding:"required"`
	Amount             string `json:"amount" binding:"required"`
	Currency           string `json:"currency" binding:"required"`
	DestinationAccount string `json:"destinationAccount" binding:"required"`
	DestinationBank    string `json:"destinationBank"`
	Description        string `json:"description"`
	DeviceFingerprint  string `json:"deviceFingerprint"`
	SourceIP           string `json:"-"`
	SourceLocation     string `json:"sourceLocation"`
	IdempotencyKey     string `json:"idempotencyKey"`
}

// SubmitResult is the caller's view after submission.
type SubmitResult struct {
	TransferID     string         `json:"transferId"`
	State          State          `json:"state"`
	RequiresAction RequiresAction `json:"requiresAction"`
	Replayed       bool           `json:"replayed"`
}

// StatusResult is the read-only audit/UI view of a transfer.
type StatusResult struct {
	Transfer       *TransferRequest `json:"transfer"`
	RiskAssessment *risk.Assessment `json:"riskAssessment,omitempty"`
	Version        int64            `json:"version"`
}

// Service implements the authorization pipeline.
type Service struct {
	store     Store
	machine   *Machine
	guard     *idempotency.Guard
	scorer    *risk.Scorer
	evaluator *stp.Evaluator
	gate      *authz.Gate

	riskStore risk.Store
	profiles  history.Store
	ledger    ledger.Service
	notifier  notify.Notifier
	pin       PinProvider

	challengeTTL time.Duration
	approvalSLA  time.Duration
	retryDelay   time.Duration

	logger *slog.Logger
	now    func() time.Time
}

// NewService creates the pipeline over its core stages. Collaborators
// default to safe no-ops and are attached with the WithX builders.
func NewService(store Store, machine *Machine, guard *idempotency.Guard, scorer *risk.Scorer, evaluator *stp.Evaluator, gate *authz.Gate, logger *slog.Logger) *Service {
	return &Service{
		store:        store,
		machine:      machine,
		guard:        guard,
		scorer:       scorer,
		evaluator:    evaluator,
		gate:         gate,
		notifier:     notify.Noop{},
		challengeTTL: DefaultChallengeTTL,
		approvalSLA:  DefaultApprovalSLA,
		retryDelay:   DefaultRetryDelay,
		logger:       logger,
		now:          time.Now,
	}
}

// WithProfiles attaches the historical-profile store feeding the scorer.
func (s *Service) WithProfiles(p history.Store) *Service {
	s.profiles = p
	return s
}

// WithRiskStore attaches the assessment store used by GetStatus.
func (s *Service) WithRiskStore(rs risk.Store) *Service {
	s.riskStore = rs
	return s
}

// WithLedger attaches the account ledger debited on approval.
func (s *Service) WithLedger(l ledger.Service) *Service {
	s.ledger = l
	return s
}

// WithNotifier attaches the code/approver notification channel.
func (s *Service) WithNotifier(n notify.Notifier) *Service {
	s.notifier = n
	return s
}

// WithPinProvider enables the pending_pin step. Nil leaves it disabled.
func (s *Service) WithPinProvider(p PinProvider) *Service {
	s.pin = p
	return s
}

// WithWindows overrides the challenge TTL, approval SLA, and ledger retry
// delay. Non-positive values keep the defaults.
func (s *Service) WithWindows(challengeTTL, approvalSLA, retryDelay time.Duration) *Service {
	if challengeTTL > 0 {
		s.challengeTTL = challengeTTL
	}
	if approvalSLA > 0 {
		s.approvalSLA = approvalSLA
	}
	if retryDelay > 0 {
		s.retryDelay = retryDelay
	}
	return s
}

// WithClock overrides the service clock, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	s.machine.WithClock(now)
	return s
}

// Submit runs the full authorization pipeline for one request.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	amount, err := parseAmount(req.Amount)
	if err != nil {
		return nil, err
	}
	if err := validateSubmit(req); err != nil {
		return nil, err
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = idgen.WithPrefix("idem_")
	}

	ctx, span := traces.StartSpan(ctx, "transfer.Submit",
		traces.RequesterID(req.RequesterID), traces.Amount(req.Amount))
	defer span.End()

	res, err := s.guard.Reserve(ctx, req.RequesterID, req.IdempotencyKey)
	if err != nil {
		return nil, fmt.Errorf("reserve idempotency key: %w", err)
	}
	if res.Status != idempotency.StatusFresh {
		return s.replay(ctx, res)
	}

	now := s.now()
	t := &TransferRequest{
		ID:                 idgen.WithPrefix("tr_"),
		RequesterID:        req.RequesterID,
		Amount:             amount,
		Currency:           strings.ToUpper(req.Currency),
		DestinationAccount: req.DestinationAccount,
		DestinationBank:    req.DestinationBank,
		Description:        req.Description,
		DeviceFingerprint:  req.DeviceFingerprint,
		SourceIP:           req.SourceIP,
		SourceLocation:     req.SourceLocation,
		IdempotencyKey:     req.IdempotencyKey,
		State:              StateCreated,
		Version:            1,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := s.store.Create(ctx, t); err != nil {
		return nil, fmt.Errorf("create transfer: %w", err)
	}
	if err := s.guard.Bind(ctx, req.RequesterID, req.IdempotencyKey, t.ID); err != nil {
		s.logger.Warn("failed to bind idempotency key", "transferId", t.ID, "error", err)
	}
	metrics.TransfersSubmittedTotal.Inc()

	profile := s.profile(ctx, t)
	assessment := s.scorer.Score(ctx, &risk.ScoreRequest{
		TransferID:  t.ID,
		RequesterID: t.RequesterID,
		Amount:      t.Amount,
		Destination: t.DestinationAccount,
		Location:    t.SourceLocation,
		SubmittedAt: now,
	}, profile)
	metrics.RiskScoreDistribution.Observe(assessment.Score)

	stpOutcome, err := s.evaluator.Evaluate(ctx, EntityType, stp.Attributes{
		RequesterID: t.RequesterID,
		Amount:      t.Amount,
		Currency:    t.Currency,
		Destination: t.DestinationAccount,
		RiskScore:   assessment.Score,
	})
	if err != nil {
		// Evaluate already degraded to REQUIRE_REVIEW.
		s.logger.Warn("stp evaluation degraded", "transferId", t.ID, "error", err)
	}

	decision := s.gate.Decide(assessment, t.Amount, stpOutcome)

	t, err = s.route(ctx, t, assessment, decision)
	if err != nil {
		return nil, err
	}

	s.recordHistory(t)

	return &SubmitResult{
		TransferID:     t.ID,
		State:          t.State,
		RequiresAction: s.requiredAction(t),
	}, nil
}

// route applies the gate verdict as the transfer's initial transition.
func (s *Service) route(ctx context.Context, t *TransferRequest, assessment *risk.Assessment, decision authz.Decision) (*TransferRequest, error) {
	fold := func(r *TransferRequest) {
		r.RiskScore = assessment.Score
		r.RiskLevel = string(assessment.Level)
		r.Requires2FA = decision.Requires2FA
		r.RequiresApproval = decision.RequiresApproval
	}

	if decision.Suspicious {
		t, err := s.machine.Transition(ctx, t.ID, t.Version, EventRejectSuspicious, "system", fold)
		if err != nil {
			return nil, err
		}
		s.completeKey(ctx, t)
		return t, nil
	}

	if s.pin != nil {
		return s.machine.Transition(ctx, t.ID, t.Version, EventRequirePin, "system", fold)
	}
	return s.routeDecided(ctx, t, fold, decision.Requires2FA, decision.RequiresApproval)
}

// routeDecided advances a transfer whose gate verdict is already known:
// straight from created, or out of pending_pin once the PIN checks out.
func (s *Service) routeDecided(ctx context.Context, t *TransferRequest, fold func(*TransferRequest), needs2FA, needsApproval bool) (*TransferRequest, error) {
	switch {
	case needs2FA:
		deadline := s.now().Add(s.challengeTTL)
		t, err := s.machine.Transition(ctx, t.ID, t.Version, EventRequire2FA, "system", func(r *TransferRequest) {
			if fold != nil {
				fold(r)
			}
			r.PendingUntil = &deadline
		})
		if err != nil {
			return nil, err
		}
		if err := s.issueChallenge(ctx, t); err != nil {
			return nil, err
		}
		return t, nil

	case needsApproval:
		deadline := s.now().Add(s.approvalSLA)
		t, err := s.machine.Transition(ctx, t.ID, t.Version, EventRequireApproval, "system", func(r *TransferRequest) {
			if fold != nil {
				fold(r)
			}
			r.PendingUntil = &deadline
		})
		if err != nil {
			return nil, err
		}
		s.notifier.NotifyApprovers(ctx, t.ID)
		return t, nil

	default:
		t, err := s.machine.Transition(ctx, t.ID, t.Version, EventAutoApprove, "system", fold)
		if err != nil {
			return nil, err
		}
		return s.settle(ctx, t)
	}
}

// VerifyPin checks the requester's PIN and unlocks the gate verdict chosen
// at submission.
func (s *Service) VerifyPin(ctx context.Context, transferID, pin string) (*TransferRequest, error) {
	if s.pin == nil {
		return nil, fmt.Errorf("%w: pin verification is not enabled", ErrInvalidTransition)
	}
	t, err := s.store.Get(ctx, transferID)
	if err != nil {
		return nil, err
	}
	if t.State != StatePendingPin {
		return nil, fmt.Errorf("%w: pin verification in %s", ErrInvalidTransition, t.State)
	}

	ok, err := s.pin.VerifyPin(ctx, t.RequesterID, pin)
	if err != nil {
		return nil, fmt.Errorf("verify pin: %w", err)
	}
	if !ok {
		t, terr := s.machine.Transition(ctx, t.ID, t.Version, EventPinExhausted, "system", nil)
		if terr != nil {
			return nil, terr
		}
		s.completeKey(ctx, t)
		return t, ErrCodeInvalid
	}

	return s.routeDecided(ctx, t, nil, t.Requires2FA, t.RequiresApproval)
}

// VerifyTwoFactor checks a presented one-time code.
func (s *Service) VerifyTwoFactor(ctx context.Context, transferID, code string) (*TransferRequest, error) {
	ctx, span := traces.StartSpan(ctx, "transfer.VerifyTwoFactor",
		traces.TransferID(transferID))
	defer span.End()

	t, err := s.store.Get(ctx, transferID)
	if err != nil {
		return nil, err
	}
	if t.State != StatePending2FA {
		return nil, fmt.Errorf("%w: code verification in %s", ErrInvalidTransition, t.State)
	}

	challenge, err := s.store.GetChallenge(ctx, t.ID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	verr := challenge.Verify(code, now)
	switch {
	case verr == nil:
		metrics.TwoFactorVerificationsTotal.WithLabelValues("success").Inc()
	case errors.Is(verr, ErrCodeExpired):
		metrics.TwoFactorVerificationsTotal.WithLabelValues("expired").Inc()
		t, terr := s.machine.Transition(ctx, t.ID, t.Version, EventChallengeExpired, "system", nil)
		if terr != nil {
			return nil, terr
		}
		s.discardChallenge(ctx, t.ID)
		s.completeKey(ctx, t)
		return t, verr
	default:
		challenge.Attempts++
		if serr := s.store.SaveChallenge(ctx, challenge); serr != nil {
			return nil, serr
		}
		if challenge.Attempts >= challenge.MaxAttempts {
			metrics.TwoFactorVerificationsTotal.WithLabelValues("exhausted").Inc()
			t, terr := s.machine.Transition(ctx, t.ID, t.Version, EventCodeExhausted, "system", nil)
			if terr != nil {
				return nil, terr
			}
			s.discardChallenge(ctx, t.ID)
			s.completeKey(ctx, t)
			return t, ErrCodeExhausted
		}
		metrics.TwoFactorVerificationsTotal.WithLabelValues("invalid").Inc()
		return t, ErrCodeInvalid
	}

	s.discardChallenge(ctx, t.ID)

	if t.RequiresApproval {
		deadline := now.Add(s.approvalSLA)
		t, err := s.machine.Transition(ctx, t.ID, t.Version, EventRequireApproval, "requester", func(r *TransferRequest) {
			r.PendingUntil = &deadline
		})
		if err != nil {
			return nil, err
		}
		s.notifier.NotifyApprovers(ctx, t.ID)
		return t, nil
	}

	t, err = s.machine.Transition(ctx, t.ID, t.Version, EventCodeVerified, "requester", nil)
	if err != nil {
		return nil, err
	}
	return s.settle(ctx, t)
}

// DecideApproval records a staff decision on a pending or escalated
// transfer.
func (s *Service) DecideApproval(ctx context.Context, transferID, approverID string, accept bool, comment string) (*TransferRequest, error) {
	ctx, span := traces.StartSpan(ctx, "transfer.DecideApproval",
		traces.TransferID(transferID), attribute.Bool("approval.accept", accept))
	defer span.End()

	t, err := s.store.Get(ctx, transferID)
	if err != nil {
		return nil, err
	}
	if t.State != StatePendingApproval && t.State != StateEscalated {
		return nil, fmt.Errorf("%w: approval decision in %s", ErrInvalidTransition, t.State)
	}

	event := EventApproverReject
	if accept {
		event = EventApproverAccept
	}
	t, err = s.machine.Transition(ctx, t.ID, t.Version, event, approverID, func(r *TransferRequest) {
		r.ApproverID = approverID
		r.ApproverComment = comment
	})
	if err != nil {
		return nil, err
	}

	if !accept {
		s.completeKey(ctx, t)
		return t, nil
	}
	return s.settle(ctx, t)
}

// GetStatus is the read-only audit/UI view.
func (s *Service) GetStatus(ctx context.Context, transferID string) (*StatusResult, error) {
	t, err := s.store.Get(ctx, transferID)
	if err != nil {
		return nil, err
	}
	result := &StatusResult{Transfer: t, Version: t.Version}
	if s.riskStore != nil {
		if a, err := s.riskStore.GetByTransfer(ctx, transferID); err == nil {
			result.RiskAssessment = a
		}
	}
	return result, nil
}

// Audit returns the transfer's append-only trail.
func (s *Service) Audit(ctx context.Context, transferID string) ([]*AuditEntry, error) {
	if _, err := s.store.Get(ctx, transferID); err != nil {
		return nil, err
	}
	return s.store.ListAudit(ctx, transferID)
}

// ListByRequester returns recent transfers for a requester.
func (s *Service) ListByRequester(ctx context.Context, requesterID string, limit int) ([]*TransferRequest, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return s.store.ListByRequester(ctx, requesterID, limit)
}

// settle debits the ledger for an approved transfer. Called exactly once
// per approval path; an unavailable ledger leaves the transfer approved
// with a retry deadline for the sweep to pick up.
func (s *Service) settle(ctx context.Context, t *TransferRequest) (*TransferRequest, error) {
	if s.ledger == nil {
		return t, nil
	}

	result, err := s.ledger.Debit(ctx, t.RequesterID, t.Amount, t.Currency)
	if err != nil {
		s.logger.Warn("ledger debit errored", "transferId", t.ID, "error", err)
		result = &ledger.DebitResult{Outcome: ledger.OutcomeUnavailable}
	}
	metrics.LedgerDebitsTotal.WithLabelValues(strings.ToLower(string(result.Outcome))).Inc()

	switch result.Outcome {
	case ledger.OutcomeSuccess:
		t, err = s.machine.Transition(ctx, t.ID, t.Version, EventBeginProcessing, "system", func(r *TransferRequest) {
			r.LedgerRef = result.Reference
		})
		if err != nil {
			return nil, err
		}
		t, err = s.machine.Transition(ctx, t.ID, t.Version, EventLedgerConfirmed, "system", nil)
		if err != nil {
			return nil, err
		}
		s.completeKey(ctx, t)
		return t, nil

	case ledger.OutcomeInsufficientFunds:
		t, err = s.machine.Transition(ctx, t.ID, t.Version, EventLedgerFailed, "system", nil)
		if err != nil {
			return nil, err
		}
		s.completeKey(ctx, t)
		return t, nil

	default:
		// Unavailable: the transfer stays approved with a retry deadline
		// for the sweep. No state change, just bookkeeping.
		retryAt := s.now().Add(s.retryDelay)
		t.PendingUntil = &retryAt
		t.UpdatedAt = s.now()
		if err := s.store.UpdateVersioned(ctx, t, t.Version); err != nil {
			s.logger.Warn("failed to schedule debit retry", "transferId", t.ID, "error", err)
		}
		return t, nil
	}
}

// profile fetches the requester's historical profile, degrading to the
// neutral default when the store is absent or errors.
func (s *Service) profile(ctx context.Context, t *TransferRequest) *history.Profile {
	if s.profiles == nil {
		return history.DefaultProfile(t.RequesterID)
	}
	p, err := s.profiles.GetProfile(ctx, t.RequesterID)
	if err != nil || p == nil {
		s.logger.Warn("profile fetch degraded", "requesterId", t.RequesterID, "error", err)
		return history.DefaultProfile(t.RequesterID)
	}
	return p
}

// recordHistory feeds this submission back into the rolling profile.
// Best-effort: profile data is advisory.
func (s *Service) recordHistory(t *TransferRequest) {
	if s.profiles == nil {
		return
	}
	entry := &history.Entry{
		RequesterID: t.RequesterID,
		Amount:      t.Amount,
		Location:    t.SourceLocation,
		Destination: t.DestinationAccount,
		OccurredAt:  t.CreatedAt,
	}
	go func() {
		if err := s.profiles.Record(context.Background(), entry); err != nil {
			s.logger.Warn("failed to record history entry", "requesterId", t.RequesterID, "error", err)
		}
	}()
}

// issueChallenge creates and delivers a one-time code.
func (s *Service) issueChallenge(ctx context.Context, t *TransferRequest) error {
	challenge, code, err := NewChallenge(t.ID, s.now(), s.challengeTTL)
	if err != nil {
		return err
	}
	if err := s.store.SaveChallenge(ctx, challenge); err != nil {
		return fmt.Errorf("save challenge: %w", err)
	}
	s.notifier.SendCode(ctx, t.RequesterID, code)
	return nil
}

func (s *Service) discardChallenge(ctx context.Context, transferID string) {
	if err := s.store.DeleteChallenge(ctx, transferID); err != nil && !errors.Is(err, ErrChallengeNotFound) {
		s.logger.Warn("failed to discard challenge", "transferId", transferID, "error", err)
	}
}

// completeKey marks the idempotency record terminal so resubmissions replay
// the result.
func (s *Service) completeKey(ctx context.Context, t *TransferRequest) {
	if !t.State.IsTerminal() {
		return
	}
	if err := s.guard.Complete(ctx, t.RequesterID, t.IdempotencyKey); err != nil {
		s.logger.Warn("failed to complete idempotency key", "transferId", t.ID, "error", err)
	}
}

// replay resolves a duplicate submission to its original transfer.
func (s *Service) replay(ctx context.Context, res *idempotency.Reservation) (*SubmitResult, error) {
	if res.TransferID == "" {
		// Reserved but not yet bound: the original submission is mid-flight.
		return nil, ErrDuplicateInFlight
	}
	t, err := s.store.Get(ctx, res.TransferID)
	if err != nil {
		return nil, err
	}
	return &SubmitResult{
		TransferID:     t.ID,
		State:          t.State,
		RequiresAction: s.requiredAction(t),
		Replayed:       true,
	}, nil
}

func (s *Service) requiredAction(t *TransferRequest) RequiresAction {
	switch t.State {
	case StatePendingPin:
		return ActionPin
	case StatePending2FA:
		return ActionCode
	case StatePendingApproval, StateEscalated:
		return ActionApproval
	default:
		return ActionNone
	}
}

func parseAmount(raw string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}
	if amount.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("%w: must be positive", ErrInvalidAmount)
	}
	return amount, nil
}

func validateSubmit(req SubmitRequest) error {
	if strings.TrimSpace(req.RequesterID) == "" {
		return errors.New("requesterId is required")
	}
	if len(req.Currency) != 3 {
		return fmt.Errorf("invalid currency %q", req.Currency)
	}
	if strings.TrimSpace(req.DestinationAccount) == "" {
		return errors.New("destinationAccount is required")
	}
	return nil
}
