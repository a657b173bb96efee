package risk

import (
	"context"
	"math"
	"time"

	"github.com/meridianbank/transferauth/internal/history"
	"github.com/meridianbank/transferauth/internal/idgen"
	"github.com/shopspring/decimal"
)

// Factor weights. They sum to 1.0 so the weighted total stays in [0,1].
const (
	weightAmount    = 0.25
	weightTimeOfDay = 0.20
	weightLocation  = 0.20
	weightPattern   = 0.20
	weightVelocity  = 0.15
)

// Neutral sub-scores used when the profile carries no signal for a factor.
const (
	neutralAmount   = 0.1
	neutralLocation = 0.2
	neutralPattern  = 0.3
)

var (
	two  = decimal.NewFromInt(2)
	five = decimal.NewFromInt(5)
)

// Scorer computes fraud risk assessments. It is pure: identical inputs
// always yield identical assessments, and malformed or sparse profiles
// degrade to documented neutral sub-scores instead of errors.
type Scorer struct {
	store Store
	now   func() time.Time
}

// NewScorer creates a scorer backed by the given audit store (may be nil).
func NewScorer(store Store) *Scorer {
	return &Scorer{store: store, now: time.Now}
}

// WithClock overrides the assessment timestamp clock, for tests.
func (s *Scorer) WithClock(now func() time.Time) *Scorer {
	s.now = now
	return s
}

// Score evaluates a transfer against the requester's profile.
func (s *Scorer) Score(ctx context.Context, req *ScoreRequest, profile *history.Profile) *Assessment {
	if profile == nil {
		profile = history.DefaultProfile(req.RequesterID)
	}

	factors := map[string]float64{
		"amount":      amountFactor(req.Amount, profile.AverageAmount),
		"time_of_day": timeOfDayFactor(req.SubmittedAt),
		"location":    locationFactor(req.Location, profile),
		"pattern":     patternFactor(req.Destination, profile),
		"velocity":    velocityFactor(profile.RecentCount),
	}

	score := factors["amount"]*weightAmount +
		factors["time_of_day"]*weightTimeOfDay +
		factors["location"]*weightLocation +
		factors["pattern"]*weightPattern +
		factors["velocity"]*weightVelocity

	// Clamp to [0, 1]
	if score > 1.0 {
		score = 1.0
	}
	if score < 0.0 {
		score = 0.0
	}
	score = math.Round(score*1000) / 1000 // 3 decimal places

	assessment := &Assessment{
		ID:          idgen.WithPrefix("risk_"),
		TransferID:  req.TransferID,
		Score:       score,
		Level:       LevelFor(score),
		Factors:     factors,
		EvaluatedAt: s.now(),
	}

	// Persist asynchronously (best-effort audit trail)
	if s.store != nil {
		go func() {
			_ = s.store.Record(context.Background(), assessment)
		}()
	}

	return assessment
}

// amountFactor bands the amount against the rolling average:
// >5x average = 0.8, >2x = 0.4, otherwise 0.1.
// A zero or missing average yields the neutral 0.1.
func amountFactor(amount, average decimal.Decimal) float64 {
	if average.Sign() <= 0 || amount.Sign() <= 0 {
		return neutralAmount
	}
	switch {
	case amount.GreaterThan(average.Mul(five)):
		return 0.8
	case amount.GreaterThan(average.Mul(two)):
		return 0.4
	default:
		return 0.1
	}
}

// timeOfDayFactor bands the submission hour (UTC). The tight night band
// [22:00, 06:00) scores 0.6; the shoulder band [20:00, 08:00) scores 0.3;
// daytime scores 0.1. The tighter band is checked first.
func timeOfDayFactor(at time.Time) float64 {
	hour := at.UTC().Hour()
	switch {
	case hour >= 22 || hour < 6:
		return 0.6
	case hour >= 20 || hour < 8:
		return 0.3
	default:
		return 0.1
	}
}

// locationFactor scores 0.6 for a location the profile has never seen,
// 0.1 for a known one. With no recorded locations at all the signal is
// weak, so it degrades to the neutral 0.2.
func locationFactor(location string, profile *history.Profile) float64 {
	if location == "" || len(profile.PriorLocations) == 0 {
		return neutralLocation
	}
	if profile.KnowsLocation(location) {
		return 0.1
	}
	return 0.6
}

// patternFactor scores 0.5 for a first-time destination account, 0.1 for a
// known one. With no destination history it degrades to the neutral 0.3.
func patternFactor(destination string, profile *history.Profile) float64 {
	if destination == "" || len(profile.KnownDestinations) == 0 {
		return neutralPattern
	}
	if profile.KnowsDestination(destination) {
		return 0.1
	}
	return 0.5
}

// velocityFactor bands the recent-transaction count: >10 = 0.7, >5 = 0.4,
// otherwise 0.1.
func velocityFactor(recentCount int) float64 {
	switch {
	case recentCount > 10:
		return 0.7
	case recentCount > 5:
		return 0.4
	default:
		return 0.1
	}
}
