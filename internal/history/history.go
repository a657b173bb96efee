// Package history provides the analytics-backed behavioral profile used by
// risk scoring.
//
// Profiles are best-effort: a requester with no recorded activity gets a
// neutral default profile rather than an error, so sparse data can never
// block an authorization decision.
package history

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// RecentWindow is the lookback used for the recent-transaction count feeding
// velocity scoring.
const RecentWindow = 24 * time.Hour

// ProfileWindow is the lookback used for rolling averages and known
// locations/destinations.
const ProfileWindow = 30 * 24 * time.Hour

// Profile summarizes a requester's recent outbound activity.
type Profile struct {
	RequesterID       string          `json:"requesterId"`
	AverageAmount     decimal.Decimal `json:"averageAmount"` // rolling average over ProfileWindow; zero when no history
	RecentCount       int             `json:"recentCount"`   // transfers within RecentWindow
	PriorLocations    []string        `json:"priorLocations"`
	KnownDestinations []string        `json:"knownDestinations"`
}

// HasHistory reports whether the profile carries any recorded activity.
func (p *Profile) HasHistory() bool {
	return p != nil && (p.AverageAmount.Sign() > 0 || p.RecentCount > 0 ||
		len(p.PriorLocations) > 0 || len(p.KnownDestinations) > 0)
}

// KnowsLocation reports whether loc appears among the profile's prior locations.
func (p *Profile) KnowsLocation(loc string) bool {
	for _, l := range p.PriorLocations {
		if l == loc {
			return true
		}
	}
	return false
}

// KnowsDestination reports whether dest appears among the profile's known
// destination accounts.
func (p *Profile) KnowsDestination(dest string) bool {
	for _, d := range p.KnownDestinations {
		if d == dest {
			return true
		}
	}
	return false
}

// DefaultProfile returns the neutral profile used when no data exists.
func DefaultProfile(requesterID string) *Profile {
	return &Profile{RequesterID: requesterID, AverageAmount: decimal.Zero}
}

// Entry is a single completed outbound transfer recorded for profiling.
type Entry struct {
	RequesterID string
	Amount      decimal.Decimal
	Location    string // source location (country code) at submission time
	Destination string // destination account reference
	OccurredAt  time.Time
}

// Provider serves behavioral profiles to the authorization pipeline.
type Provider interface {
	// GetProfile returns the requester's profile. Implementations must return
	// a usable default on sparse or missing data; errors are reserved for
	// infrastructure failures.
	GetProfile(ctx context.Context, requesterID string) (*Profile, error)
}

// Store persists history entries and serves aggregated profiles.
type Store interface {
	Provider
	Record(ctx context.Context, e *Entry) error
}
