package risk

import "math"

// Credit scoring is the segmentation-side sibling of fraud scoring: same
// weighted-factor shape, different weights and an 850-point scale.

// Credit factor weights. They sum to 1.0.
const (
	creditWeightPaymentHistory = 0.35
	creditWeightUtilization    = 0.30
	creditWeightAccountAge     = 0.15
	creditWeightPattern        = 0.15
	creditWeightRiskFactors    = 0.05
)

// MaxCreditScore is the top of the credit scale.
const MaxCreditScore = 850.0

// Default probability interpolation bounds.
const (
	minDefaultProbability = 0.01
	maxDefaultProbability = 0.30
)

// CreditBand is the named bucket a credit score falls into.
type CreditBand string

const (
	CreditExcellent CreditBand = "EXCELLENT" // >= 750
	CreditGood      CreditBand = "GOOD"      // >= 650
	CreditFair      CreditBand = "FAIR"      // >= 550
	CreditPoor      CreditBand = "POOR"      // >= 450
	CreditVeryPoor  CreditBand = "VERY_POOR" // < 450
)

// CreditInputs are the normalized sub-factors, each expected in [0,1].
// Out-of-range values are clamped rather than rejected.
type CreditInputs struct {
	PaymentHistory     float64 `json:"paymentHistory"`
	CreditUtilization  float64 `json:"creditUtilization"` // 1.0 = ideal (low utilization)
	AccountAge         float64 `json:"accountAge"`
	TransactionPattern float64 `json:"transactionPattern"`
	RiskFactors        float64 `json:"riskFactors"` // 1.0 = no adverse findings
}

// CreditScore is the outcome of a credit evaluation.
type CreditScore struct {
	Score              float64    `json:"score"` // 0-850
	Band               CreditBand `json:"band"`
	DefaultProbability float64    `json:"defaultProbability"`
}

// CreditScorer computes segmentation credit scores. Pure and stateless.
type CreditScorer struct{}

// NewCreditScorer creates a credit scorer.
func NewCreditScorer() *CreditScorer {
	return &CreditScorer{}
}

// Score combines the weighted sub-factors onto the 850-point scale, buckets
// the result, and interpolates a default probability between the configured
// bounds: maxP - (score/maxScore)*(maxP-minP).
func (c *CreditScorer) Score(in CreditInputs) *CreditScore {
	weighted := clamp01(in.PaymentHistory)*creditWeightPaymentHistory +
		clamp01(in.CreditUtilization)*creditWeightUtilization +
		clamp01(in.AccountAge)*creditWeightAccountAge +
		clamp01(in.TransactionPattern)*creditWeightPattern +
		clamp01(in.RiskFactors)*creditWeightRiskFactors

	score := math.Round(weighted * MaxCreditScore)

	probability := maxDefaultProbability -
		(score/MaxCreditScore)*(maxDefaultProbability-minDefaultProbability)
	probability = math.Round(probability*10000) / 10000

	return &CreditScore{
		Score:              score,
		Band:               creditBandFor(score),
		DefaultProbability: probability,
	}
}

func creditBandFor(score float64) CreditBand {
	switch {
	case score >= 750:
		return CreditExcellent
	case score >= 650:
		return CreditGood
	case score >= 550:
		return CreditFair
	case score >= 450:
		return CreditPoor
	default:
		return CreditVeryPoor
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
