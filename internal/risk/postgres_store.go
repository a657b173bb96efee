package risk

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)

// PostgresStore implements Store backed by PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed assessment store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Record(ctx context.Context, a *Assessment) error {
	factors, err := json.Marshal(a.Factors)
	if err != nil {
		return fmt.Errorf("marshal factors: %w", err)
	}

	// One assessment per transfer; a re-score of the same transfer replaces
	// the previous row.
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO risk_assessments (id, transfer_id, score, level, factors, evaluated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (transfer_id) DO UPDATE SET
			id = EXCLUDED.id,
			score = EXCLUDED.score,
			level = EXCLUDED.level,
			factors = EXCLUDED.factors,
			evaluated_at = EXCLUDED.evaluated_at
	`, a.ID, a.TransferID, a.Score, string(a.Level), factors, a.EvaluatedAt)
	if err != nil {
		return fmt.Errorf("record assessment: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetByTransfer(ctx context.Context, transferID string) (*Assessment, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, transfer_id, score, level, factors, evaluated_at
		FROM risk_assessments WHERE transfer_id = $1
	`, transferID)

	var (
		a       Assessment
		level   string
		factors []byte
	)
	err := row.Scan(&a.ID, &a.TransferID, &a.Score, &level, &factors, &a.EvaluatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrAssessmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get assessment: %w", err)
	}

	a.Level = Level(level)
	if err := json.Unmarshal(factors, &a.Factors); err != nil {
		return nil, fmt.Errorf("unmarshal factors: %w", err)
	}
	return &a, nil
}
