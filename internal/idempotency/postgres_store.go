package idempotency

import (
	"context"
	"database/sql"
	"time"
)

// PostgresStore persists idempotency records in PostgreSQL. The unique
// constraint on (requester_id, idempotency_key) is the linearization point
// for concurrent reservations.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed record store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Insert claims the key, reclaiming an expired record in the same statement.
// A live record makes the conditional upsert touch zero rows, which maps to
// ErrKeyExists.
func (p *PostgresStore) Insert(ctx context.Context, r *Record) error {
	result, err := p.db.ExecContext(ctx, `
		INSERT INTO idempotency_records (requester_id, idempotency_key, transfer_id, completed, created_at, expires_at)
		VALUES ($1, $2, '', false, $3, $4)
		ON CONFLICT (requester_id, idempotency_key) DO UPDATE
		SET transfer_id = '', completed = false, created_at = EXCLUDED.created_at, expires_at = EXCLUDED.expires_at
		WHERE idempotency_records.expires_at <= EXCLUDED.created_at`,
		r.RequesterID, r.Key, r.CreatedAt, r.ExpiresAt,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrKeyExists
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, requesterID, key string) (*Record, error) {
	r := &Record{}
	err := p.db.QueryRowContext(ctx, `
		SELECT requester_id, idempotency_key, transfer_id, completed, created_at, expires_at
		FROM idempotency_records
		WHERE requester_id = $1 AND idempotency_key = $2`,
		requesterID, key,
	).Scan(&r.RequesterID, &r.Key, &r.TransferID, &r.Completed, &r.CreatedAt, &r.ExpiresAt)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (p *PostgresStore) Bind(ctx context.Context, requesterID, key, transferID string) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE idempotency_records SET transfer_id = $3
		WHERE requester_id = $1 AND idempotency_key = $2`,
		requesterID, key, transferID,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (p *PostgresStore) Complete(ctx context.Context, requesterID, key string) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE idempotency_records SET completed = true
		WHERE requester_id = $1 AND idempotency_key = $2`,
		requesterID, key,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrRecordNotFound
	}
	return nil
}

func (p *PostgresStore) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	result, err := p.db.ExecContext(ctx,
		`DELETE FROM idempotency_records WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(rows), nil
}

var _ Store = (*PostgresStore)(nil)
