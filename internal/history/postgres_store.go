package history

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// PostgresStore implements Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed history store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Record(ctx context.Context, e *Entry) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO transfer_history (requester_id, amount, location, destination, occurred_at)
		VALUES ($1, $2::NUMERIC(20,4), $3, $4, COALESCE(NULLIF($5::TIMESTAMPTZ, '0001-01-01'::TIMESTAMPTZ), NOW()))
	`, e.RequesterID, e.Amount.String(), e.Location, e.Destination, e.OccurredAt)
	if err != nil {
		return fmt.Errorf("record history entry: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetProfile(ctx context.Context, requesterID string) (*Profile, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(AVG(amount), 0),
			COUNT(*) FILTER (WHERE occurred_at > NOW() - $2::INTERVAL),
			COALESCE(ARRAY_AGG(DISTINCT location) FILTER (WHERE location <> ''), '{}'),
			COALESCE(ARRAY_AGG(DISTINCT destination) FILTER (WHERE destination <> ''), '{}')
		FROM transfer_history
		WHERE requester_id = $1 AND occurred_at > NOW() - $3::INTERVAL
	`, requesterID, RecentWindow.String(), ProfileWindow.String())

	var (
		avg       string
		recent    int
		locations pq.StringArray
		dests     pq.StringArray
	)
	if err := row.Scan(&avg, &recent, &locations, &dests); err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}

	avgDec, err := decimal.NewFromString(avg)
	if err != nil {
		return nil, fmt.Errorf("get profile: parse average %q: %w", avg, err)
	}

	if avgDec.Sign() == 0 && recent == 0 && len(locations) == 0 && len(dests) == 0 {
		return DefaultProfile(requesterID), nil
	}

	return &Profile{
		RequesterID:       requesterID,
		AverageAmount:     avgDec,
		RecentCount:       recent,
		PriorLocations:    locations,
		KnownDestinations: dests,
	}, nil
}
