// Package ledger defines the account-ledger collaborator the transfer
// pipeline debits once a request is approved.
package ledger

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// Errors
var (
	ErrAccountNotFound = errors.New("ledger: account not found")
)

// Outcome classifies a debit attempt. Unavailable is retryable; the
// transfer stays approved and the caller tries again. InsufficientFunds is
// not.
type Outcome string

const (
	OutcomeSuccess           Outcome = "SUCCESS"
	OutcomeInsufficientFunds Outcome = "INSUFFICIENT_FUNDS"
	OutcomeUnavailable       Outcome = "UNAVAILABLE"
)

// DebitResult is the ledger's answer. Reference is set on success and
// identifies the posting for reconciliation.
type DebitResult struct {
	Outcome   Outcome `json:"outcome"`
	Reference string  `json:"reference,omitempty"`
}

// Service is the ledger the pipeline debits. Implementations must be safe
// for concurrent use.
type Service interface {
	Debit(ctx context.Context, accountRef string, amount decimal.Decimal, currency string) (*DebitResult, error)
}
