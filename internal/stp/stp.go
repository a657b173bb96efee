// Package stp provides straight-through-processing rules: read-mostly
// configuration that decides whether a transfer may bypass manual review.
//
// Rules are scoped to an entity type, ranked by priority, and carry a
// single typed condition. Evaluation is first-match-wins in descending
// priority order; no match defaults to REQUIRE_REVIEW, never to
// auto-approval.
package stp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Errors
var (
	ErrRuleNotFound = errors.New("stp: rule not found")
	ErrNameTaken    = errors.New("stp: rule name already exists for this entity type")
)

// Action is the outcome a matched rule yields.
type Action string

const (
	ActionAllowSTP      Action = "ALLOW_STP"
	ActionRequireReview Action = "REQUIRE_REVIEW"
)

// Rule is a single straight-through-processing rule.
type Rule struct {
	ID         string    `json:"id"`
	EntityType string    `json:"entityType"`
	Name       string    `json:"name"`
	Priority   int       `json:"priority"` // higher = evaluated first
	Active     bool      `json:"active"`
	Condition  Condition `json:"condition"`
	Action     Action    `json:"action"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Condition is a typed predicate with rule-type-specific params.
type Condition struct {
	Type   string          `json:"type"`
	Params json.RawMessage `json:"params"`
}

// AmountBelowParams matches when the transfer amount is strictly below Max.
type AmountBelowParams struct {
	Max string `json:"max"`
}

// CurrencyListParams matches when the transfer currency is in the list.
type CurrencyListParams struct {
	Currencies []string `json:"currencies"`
}

// DestinationListParams matches when the destination account is in the list.
type DestinationListParams struct {
	Destinations []string `json:"destinations"`
}

// MaxRiskParams matches when the fraud score is at or below Max.
type MaxRiskParams struct {
	Max float64 `json:"max"`
}

// RequesterListParams matches when the requester is in the list.
type RequesterListParams struct {
	Requesters []string `json:"requesters"`
}

// Attributes are the request facts a condition is evaluated against.
type Attributes struct {
	RequesterID string
	Amount      decimal.Decimal
	Currency    string
	Destination string
	RiskScore   float64
}

// Outcome is the result of evaluating the rule set for one request.
type Outcome struct {
	Action      Action `json:"action"`
	MatchedRule *Rule  `json:"matchedRule,omitempty"`
}

// Store persists STP rules.
type Store interface {
	Create(ctx context.Context, r *Rule) error
	Get(ctx context.Context, id string) (*Rule, error)
	List(ctx context.Context, entityType string) ([]*Rule, error)
	Update(ctx context.Context, r *Rule) error
	Delete(ctx context.Context, id string) error
}

// ValidateRule checks action, condition type, and condition params.
func ValidateRule(r *Rule) error {
	if r.EntityType == "" {
		return errors.New("entityType is required")
	}
	if r.Action != ActionAllowSTP && r.Action != ActionRequireReview {
		return fmt.Errorf("unknown action %q", r.Action)
	}
	return validateCondition(r.Condition)
}

func validateCondition(c Condition) error {
	switch c.Type {
	case "amount_below":
		var p AmountBelowParams
		if err := json.Unmarshal(c.Params, &p); err != nil {
			return fmt.Errorf("amount_below: invalid params: %w", err)
		}
		max, err := decimal.NewFromString(p.Max)
		if err != nil {
			return fmt.Errorf("amount_below: invalid max %q: %w", p.Max, err)
		}
		if max.Sign() <= 0 {
			return errors.New("amount_below: max must be positive")
		}
	case "currency_in":
		var p CurrencyListParams
		if err := json.Unmarshal(c.Params, &p); err != nil {
			return fmt.Errorf("currency_in: invalid params: %w", err)
		}
		if len(p.Currencies) == 0 {
			return errors.New("currency_in: currencies list must not be empty")
		}
	case "destination_in":
		var p DestinationListParams
		if err := json.Unmarshal(c.Params, &p); err != nil {
			return fmt.Errorf("destination_in: invalid params: %w", err)
		}
		if len(p.Destinations) == 0 {
			return errors.New("destination_in: destinations list must not be empty")
		}
	case "risk_at_most":
		var p MaxRiskParams
		if err := json.Unmarshal(c.Params, &p); err != nil {
			return fmt.Errorf("risk_at_most: invalid params: %w", err)
		}
		if p.Max < 0 || p.Max > 1 {
			return errors.New("risk_at_most: max must be in [0,1]")
		}
	case "requester_in":
		var p RequesterListParams
		if err := json.Unmarshal(c.Params, &p); err != nil {
			return fmt.Errorf("requester_in: invalid params: %w", err)
		}
		if len(p.Requesters) == 0 {
			return errors.New("requester_in: requesters list must not be empty")
		}
	default:
		return fmt.Errorf("unknown condition type %q", c.Type)
	}
	return nil
}
