package risk

import (
	"math"
	"testing"
)

func TestCreditScore_PerfectInputs(t *testing.T) {
	got := NewCreditScorer().Score(CreditInputs{
		PaymentHistory:     1,
		CreditUtilization:  1,
		AccountAge:         1,
		TransactionPattern: 1,
		RiskFactors:        1,
	})

	if got.Score != 850 {
		t.Errorf("Expected top score 850, got %v", got.Score)
	}
	if got.Band != CreditExcellent {
		t.Errorf("Expected EXCELLENT, got %s", got.Band)
	}
	if got.DefaultProbability != minDefaultProbability {
		t.Errorf("Expected floor probability %v, got %v", minDefaultProbability, got.DefaultProbability)
	}
}

func TestCreditScore_ZeroInputs(t *testing.T) {
	got := NewCreditScorer().Score(CreditInputs{})

	if got.Score != 0 {
		t.Errorf("Expected score 0, got %v", got.Score)
	}
	if got.Band != CreditVeryPoor {
		t.Errorf("Expected VERY_POOR, got %s", got.Band)
	}
	if got.DefaultProbability != maxDefaultProbability {
		t.Errorf("Expected ceiling probability %v, got %v", maxDefaultProbability, got.DefaultProbability)
	}
}

func TestCreditScore_InputsClamped(t *testing.T) {
	got := NewCreditScorer().Score(CreditInputs{
		PaymentHistory:     2.5,
		CreditUtilization:  -1,
		AccountAge:         1,
		TransactionPattern: 1,
		RiskFactors:        1,
	})

	// Clamped to 1/0/1/1/1: 0.35 + 0 + 0.15 + 0.15 + 0.05 = 0.70
	want := math.Round(0.70 * MaxCreditScore)
	if got.Score != want {
		t.Errorf("Expected clamped score %v, got %v", want, got.Score)
	}
}

func TestCreditScore_ProbabilityInterpolation(t *testing.T) {
	// Uniform 0.5 inputs weight to exactly half the scale.
	got := NewCreditScorer().Score(CreditInputs{
		PaymentHistory:     0.5,
		CreditUtilization:  0.5,
		AccountAge:         0.5,
		TransactionPattern: 0.5,
		RiskFactors:        0.5,
	})

	want := maxDefaultProbability - (got.Score/MaxCreditScore)*(maxDefaultProbability-minDefaultProbability)
	want = math.Round(want*10000) / 10000
	if got.DefaultProbability != want {
		t.Errorf("Expected interpolated probability %v, got %v", want, got.DefaultProbability)
	}
	if got.DefaultProbability <= minDefaultProbability || got.DefaultProbability >= maxDefaultProbability {
		t.Errorf("Midpoint probability %v should fall strictly between the bounds", got.DefaultProbability)
	}
}

func TestCreditBandFor_Boundaries(t *testing.T) {
	tests := []struct {
		score float64
		want  CreditBand
	}{
		{850, CreditExcellent},
		{750, CreditExcellent},
		{749, CreditGood},
		{650, CreditGood},
		{649, CreditFair},
		{550, CreditFair},
		{549, CreditPoor},
		{450, CreditPoor},
		{449, CreditVeryPoor},
		{0, CreditVeryPoor},
	}
	for _, tt := range tests {
		if got := creditBandFor(tt.score); got != tt.want {
			t.Errorf("creditBandFor(%v) = %s, want %s", tt.score, got, tt.want)
		}
	}
}
