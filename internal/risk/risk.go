// Package risk implements fraud risk scoring for outbound transfers.
//
// Scores are deterministic functions of a transfer request and the
// requester's behavioral profile. All scores live on the [0,1] scale;
// threshold comparisons elsewhere in the pipeline use the same scale.
package risk

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var ErrAssessmentNotFound = errors.New("risk assessment not found")

// Level is the banded risk classification derived from the total score.
type Level string

const (
	LevelLow    Level = "LOW"
	LevelMedium Level = "MEDIUM"
	LevelHigh   Level = "HIGH"
)

// Band lower bounds. Bands partition [0,1]; lower bounds are inclusive.
const (
	MediumBand = 0.40
	HighBand   = 0.70
)

// LevelFor returns the band a total score falls into.
func LevelFor(score float64) Level {
	switch {
	case score >= HighBand:
		return LevelHigh
	case score >= MediumBand:
		return LevelMedium
	default:
		return LevelLow
	}
}

// ScoreRequest carries the transfer attributes the scorer inspects.
type ScoreRequest struct {
	TransferID  string
	RequesterID string
	Amount      decimal.Decimal
	Destination string    // destination account reference
	Location    string    // requester country derived from source IP
	SubmittedAt time.Time // scoring uses the submission hour, in UTC
}

// Assessment is the immutable outcome of scoring one transfer.
type Assessment struct {
	ID          string             `json:"id"`
	TransferID  string             `json:"transferId"`
	Score       float64            `json:"score"` // weighted total, [0,1], 3 decimals
	Level       Level              `json:"level"`
	Factors     map[string]float64 `json:"factors"` // sub-scores, each [0,1]
	EvaluatedAt time.Time          `json:"evaluatedAt"`
}

// Store records assessments for audit, 1:1 with a transfer.
type Store interface {
	Record(ctx context.Context, a *Assessment) error
	GetByTransfer(ctx context.Context, transferID string) (*Assessment, error)
}
