package transfer

import (
	"context"
	"database/sql"
	"time"

	"github.com/lib/pq"
)

// PostgresStore persists transfer requests in PostgreSQL. The version
// column and the conditional UPDATE in UpdateVersioned are the sole
// serialization mechanism for concurrent mutation.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed transfer store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const transferColumns = `id, requester_id, amount, currency, destination_account, destination_bank,
		       description, device_fingerprint, source_ip, source_location, idempotency_key,
		       state, version, risk_score, risk_level, requires_2fa, requires_approval,
		       pending_until, approver_id, approver_comment, ledger_ref, created_at, updated_at`

func (p *PostgresStore) Create(ctx context.Context, t *TransferRequest) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO transfer_requests (
			id, requester_id, amount, currency, destination_account, destination_bank,
			description, device_fingerprint, source_ip, source_location, idempotency_key,
			state, version, risk_score, risk_level, requires_2fa, requires_approval,
			pending_until, approver_id, approver_comment, ledger_ref, created_at, updated_at
		) VALUES (
			$1, $2, $3::NUMERIC(20,6), $4, $5, $6,
			$7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16, $17,
			$18, $19, $20, $21, $22, $23
		)`,
		t.ID, t.RequesterID, t.Amount, t.Currency, t.DestinationAccount, t.DestinationBank,
		t.Description, t.DeviceFingerprint, t.SourceIP, t.SourceLocation, t.IdempotencyKey,
		string(t.State), t.Version, t.RiskScore, t.RiskLevel, t.Requires2FA, t.RequiresApproval,
		nullTime(t.PendingUntil), t.ApproverID, t.ApproverComment, t.LedgerRef, t.CreatedAt, t.UpdatedAt,
	)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*TransferRequest, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+transferColumns+` FROM transfer_requests WHERE id = $1`, id)
	return scanTransfer(row)
}

func (p *PostgresStore) UpdateVersioned(ctx context.Context, t *TransferRequest, expectedVersion int64) error {
	result, err := p.db.ExecContext(ctx, `
		UPDATE transfer_requests SET
			state = $1, version = version + 1, risk_score = $2, risk_level = $3,
			requires_2fa = $4, requires_approval = $5, pending_until = $6,
			approver_id = $7, approver_comment = $8, ledger_ref = $9, updated_at = $10
		WHERE id = $11 AND version = $12`,
		string(t.State), t.RiskScore, t.RiskLevel,
		t.Requires2FA, t.RequiresApproval, nullTime(t.PendingUntil),
		t.ApproverID, t.ApproverComment, t.LedgerRef, t.UpdatedAt,
		t.ID, expectedVersion,
	)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		// Zero rows means the row is gone or another actor advanced it.
		var exists bool
		if err := p.db.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM transfer_requests WHERE id = $1)`, t.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrTransferNotFound
		}
		return ErrVersionConflict
	}
	t.Version = expectedVersion + 1
	return nil
}

func (p *PostgresStore) ListByRequester(ctx context.Context, requesterID string, limit int) ([]*TransferRequest, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+transferColumns+`
		FROM transfer_requests
		WHERE requester_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, requesterID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanTransfers(rows)
}

func (p *PostgresStore) ListDue(ctx context.Context, states []State, before time.Time, limit int) ([]*TransferRequest, error) {
	names := make([]string, len(states))
	for i, s := range states {
		names[i] = string(s)
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+transferColumns+`
		FROM transfer_requests
		WHERE state = ANY($1)
		  AND pending_until IS NOT NULL
		  AND pending_until <= $2
		ORDER BY pending_until ASC
		LIMIT $3`, pq.Array(names), before, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	return scanTransfers(rows)
}

func (p *PostgresStore) SaveChallenge(ctx context.Context, c *Challenge) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO two_factor_challenges (transfer_id, code_hash, issued_at, expires_at, attempts, max_attempts)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (transfer_id) DO UPDATE
		SET code_hash = EXCLUDED.code_hash, issued_at = EXCLUDED.issued_at,
		    expires_at = EXCLUDED.expires_at, attempts = EXCLUDED.attempts,
		    max_attempts = EXCLUDED.max_attempts`,
		c.TransferID, c.CodeHash, c.IssuedAt, c.ExpiresAt, c.Attempts, c.MaxAttempts,
	)
	return err
}

func (p *PostgresStore) GetChallenge(ctx context.Context, transferID string) (*Challenge, error) {
	c := &Challenge{}
	err := p.db.QueryRowContext(ctx, `
		SELECT transfer_id, code_hash, issued_at, expires_at, attempts, max_attempts
		FROM two_factor_challenges WHERE transfer_id = $1`, transferID,
	).Scan(&c.TransferID, &c.CodeHash, &c.IssuedAt, &c.ExpiresAt, &c.Attempts, &c.MaxAttempts)
	if err == sql.ErrNoRows {
		return nil, ErrChallengeNotFound
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (p *PostgresStore) DeleteChallenge(ctx context.Context, transferID string) error {
	result, err := p.db.ExecContext(ctx,
		`DELETE FROM two_factor_challenges WHERE transfer_id = $1`, transferID)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrChallengeNotFound
	}
	return nil
}

func (p *PostgresStore) AppendAudit(ctx context.Context, e *AuditEntry) error {
	return p.db.QueryRowContext(ctx, `
		INSERT INTO transfer_audit (transfer_id, from_state, to_state, event, actor, note, version, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		e.TransferID, string(e.FromState), string(e.ToState), string(e.Event),
		e.Actor, e.Note, e.Version, e.CreatedAt,
	).Scan(&e.ID)
}

func (p *PostgresStore) ListAudit(ctx context.Context, transferID string) ([]*AuditEntry, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, transfer_id, from_state, to_state, event, actor, note, version, created_at
		FROM transfer_audit
		WHERE transfer_id = $1
		ORDER BY version ASC, id ASC`, transferID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*AuditEntry
	for rows.Next() {
		e := &AuditEntry{}
		var from, to, event string
		if err := rows.Scan(&e.ID, &e.TransferID, &from, &to, &event,
			&e.Actor, &e.Note, &e.Version, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.FromState, e.ToState, e.Event = State(from), State(to), Event(event)
		result = append(result, e)
	}
	return result, rows.Err()
}

// scannable covers both *sql.Row and *sql.Rows.
type scannable interface {
	Scan(dest ...any) error
}

func scanTransfer(row scannable) (*TransferRequest, error) {
	t := &TransferRequest{}
	var state string
	var pendingUntil sql.NullTime
	err := row.Scan(
		&t.ID, &t.RequesterID, &t.Amount, &t.Currency, &t.DestinationAccount, &t.DestinationBank,
		&t.Description, &t.DeviceFingerprint, &t.SourceIP, &t.SourceLocation, &t.IdempotencyKey,
		&state, &t.Version, &t.RiskScore, &t.RiskLevel, &t.Requires2FA, &t.RequiresApproval,
		&pendingUntil, &t.ApproverID, &t.ApproverComment, &t.LedgerRef, &t.CreatedAt, &t.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrTransferNotFound
	}
	if err != nil {
		return nil, err
	}
	t.State = State(state)
	if pendingUntil.Valid {
		t.PendingUntil = &pendingUntil.Time
	}
	return t, nil
}

func scanTransfers(rows *sql.Rows) ([]*TransferRequest, error) {
	var result []*TransferRequest
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

var _ Store = (*PostgresStore)(nil)
