package authz

import (
	"testing"

	"github.com/meridianbank/transferauth/internal/risk"
	"github.com/meridianbank/transferauth/internal/stp"
	"github.com/shopspring/decimal"
)

func testThresholds() Thresholds {
	return Thresholds{
		Suspicious:      0.70,
		TwoFactorScore:  0.40,
		TwoFactorAmount: decimal.NewFromInt(10000),
		ApprovalCeiling: decimal.NewFromInt(50000),
	}
}

func assess(score float64) *risk.Assessment {
	return &risk.Assessment{Score: score, Level: risk.LevelFor(score)}
}

func allow() *stp.Outcome {
	return &stp.Outcome{Action: stp.ActionAllowSTP}
}

func TestDecide_Table(t *testing.T) {
	gate := NewGate(testThresholds())
	tests := []struct {
		name   string
		score  float64
		amount int64
		stpOut *stp.Outcome
		want   Decision
	}{
		{"low score small amount", 0.1, 100, allow(), Decision{}},
		{"just below 2fa band", 0.399, 100, allow(), Decision{}},
		{"2fa boundary inclusive", 0.40, 100, allow(), Decision{Requires2FA: true}},
		{"amount forces 2fa", 0.1, 10000, allow(), Decision{Requires2FA: true}},
		{"just below 2fa amount", 0.1, 9999, allow(), Decision{}},
		{"just below suspicious", 0.699, 100, allow(), Decision{Requires2FA: true}},
		{"suspicious boundary inclusive", 0.70, 100, allow(), Decision{Suspicious: true, Requires2FA: true, RequiresApproval: true}},
		{"high risk forces approval", 0.75, 100, allow(), Decision{Suspicious: true, Requires2FA: true, RequiresApproval: true}},
		{"amount forces approval", 0.1, 50000, allow(), Decision{Requires2FA: true, RequiresApproval: true}},
		{"stp review forces approval", 0.1, 100, &stp.Outcome{Action: stp.ActionRequireReview}, Decision{RequiresApproval: true}},
		{"nil stp outcome treated as allow", 0.1, 100, nil, Decision{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := gate.Decide(assess(tt.score), decimal.NewFromInt(tt.amount), tt.stpOut)
			if got != tt.want {
				t.Errorf("Decide(score=%v, amount=%d) = %+v, want %+v", tt.score, tt.amount, got, tt.want)
			}
		})
	}
}

func TestDecide_Deterministic(t *testing.T) {
	gate := NewGate(testThresholds())
	a := assess(0.55)
	amount := decimal.NewFromInt(20000)

	first := gate.Decide(a, amount, allow())
	second := gate.Decide(a, amount, allow())
	if first != second {
		t.Errorf("Identical inputs produced different decisions: %+v vs %+v", first, second)
	}
}

func TestDecisionOutcome_Dominance(t *testing.T) {
	tests := []struct {
		d    Decision
		want string
	}{
		{Decision{}, "auto"},
		{Decision{Requires2FA: true}, "2fa"},
		{Decision{Requires2FA: true, RequiresApproval: true}, "approval"},
		{Decision{Requires2FA: true, RequiresApproval: true, Suspicious: true}, "suspicious"},
	}
	for _, tt := range tests {
		if got := tt.d.Outcome(); got != tt.want {
			t.Errorf("Outcome(%+v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
