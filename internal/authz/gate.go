// Package authz combines a risk assessment, the transfer amount, and the
// straight-through-processing outcome into a single authorization decision.
package authz

import (
	"github.com/meridianbank/transferauth/internal/metrics"
	"github.com/meridianbank/transferauth/internal/risk"
	"github.com/meridianbank/transferauth/internal/stp"
	"github.com/shopspring/decimal"
)

// Thresholds are the configured decision boundaries. All score comparisons
// are inclusive on the lower bound so the bands partition [0,1] with no gaps.
type Thresholds struct {
	// Suspicious marks the score at or above which the transfer is
	// rejected outright.
	Suspicious float64
	// TwoFactorScore is the score at or above which a one-time code is
	// required.
	TwoFactorScore float64
	// TwoFactorAmount is the amount at or above which a one-time code is
	// required regardless of score.
	TwoFactorAmount decimal.Decimal
	// ApprovalCeiling is the amount at or above which staff approval is
	// required regardless of score.
	ApprovalCeiling decimal.Decimal
}

// Decision is the gate's verdict. Not persisted on its own; the transfer
// state machine folds it into the request's state.
type Decision struct {
	Requires2FA      bool `json:"requires2fa"`
	RequiresApproval bool `json:"requiresApproval"`
	Suspicious       bool `json:"suspicious"`
}

// Outcome returns the dominant decision label, for logs and metrics.
func (d Decision) Outcome() string {
	switch {
	case d.Suspicious:
		return "suspicious"
	case d.RequiresApproval:
		return "approval"
	case d.Requires2FA:
		return "2fa"
	default:
		return "auto"
	}
}

// Gate is a pure decision table over the configured thresholds.
type Gate struct {
	t Thresholds
}

// NewGate creates a gate with the given thresholds.
func NewGate(t Thresholds) *Gate {
	return &Gate{t: t}
}

// Decide maps an assessment, amount, and STP outcome onto a decision.
// Deterministic: identical inputs always yield the identical decision.
func (g *Gate) Decide(assessment *risk.Assessment, amount decimal.Decimal, stpOutcome *stp.Outcome) Decision {
	d := Decision{}

	if assessment.Score >= g.t.Suspicious {
		d.Suspicious = true
	}

	if assessment.Score >= g.t.TwoFactorScore || amount.GreaterThanOrEqual(g.t.TwoFactorAmount) {
		d.Requires2FA = true
	}

	// Staff approval on HIGH risk or large amounts applies regardless of
	// the STP outcome; a REQUIRE_REVIEW outcome forces it on its own.
	if assessment.Level == risk.LevelHigh || amount.GreaterThanOrEqual(g.t.ApprovalCeiling) {
		d.RequiresApproval = true
	}
	if stpOutcome != nil && stpOutcome.Action == stp.ActionRequireReview {
		d.RequiresApproval = true
	}

	metrics.AuthDecisionsTotal.WithLabelValues(d.Outcome()).Inc()
	return d
}
