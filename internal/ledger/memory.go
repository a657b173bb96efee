package ledger

import (
	"context"
	"sync"

	"github.com/meridianbank/transferauth/internal/idgen"
	"github.com/shopspring/decimal"
)

// MemoryLedger is an in-memory ledger for tests and demo mode. Unknown
// accounts are treated as funded with the configured default balance so a
// demo instance can accept transfers without seeding.
type MemoryLedger struct {
	mu             sync.Mutex
	balances       map[string]decimal.Decimal
	defaultBalance decimal.Decimal
	unavailable    bool
}

// NewMemoryLedger creates a ledger where unseeded accounts start with the
// given default balance.
func NewMemoryLedger(defaultBalance decimal.Decimal) *MemoryLedger {
	return &MemoryLedger{
		balances:       make(map[string]decimal.Decimal),
		defaultBalance: defaultBalance,
	}
}

// SetBalance seeds an account balance.
func (m *MemoryLedger) SetBalance(accountRef string, balance decimal.Decimal) {
	m.mu.Lock()
	m.balances[accountRef] = balance
	m.mu.Unlock()
}

// SetUnavailable toggles outage simulation, for tests.
func (m *MemoryLedger) SetUnavailable(down bool) {
	m.mu.Lock()
	m.unavailable = down
	m.mu.Unlock()
}

// Balance returns the current balance for an account.
func (m *MemoryLedger) Balance(accountRef string) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	if bal, ok := m.balances[accountRef]; ok {
		return bal
	}
	return m.defaultBalance
}

func (m *MemoryLedger) Debit(_ context.Context, accountRef string, amount decimal.Decimal, _ string) (*DebitResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.unavailable {
		return &DebitResult{Outcome: OutcomeUnavailable}, nil
	}

	bal, ok := m.balances[accountRef]
	if !ok {
		bal = m.defaultBalance
	}
	if bal.LessThan(amount) {
		return &DebitResult{Outcome: OutcomeInsufficientFunds}, nil
	}

	m.balances[accountRef] = bal.Sub(amount)
	return &DebitResult{Outcome: OutcomeSuccess, Reference: idgen.WithPrefix("post_")}, nil
}

var _ Service = (*MemoryLedger)(nil)
