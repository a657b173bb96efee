package stp

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/lib/pq"
)

// PostgresStore persists STP rules in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed rule store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Create(ctx context.Context, r *Rule) error {
	condJSON, err := json.Marshal(r.Condition)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx, `
		INSERT INTO stp_rules (id, entity_type, name, priority, active, condition, action, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		r.ID, r.EntityType, r.Name, r.Priority, r.Active, condJSON, string(r.Action),
		r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrNameTaken
		}
		return err
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Rule, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, entity_type, name, priority, active, condition, action, created_at, updated_at
		FROM stp_rules WHERE id = $1`, id)
	return scanRule(row)
}

func (p *PostgresStore) List(ctx context.Context, entityType string) ([]*Rule, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, entity_type, name, priority, active, condition, action, created_at, updated_at
		FROM stp_rules WHERE entity_type = $1
		ORDER BY priority DESC, created_at ASC`, entityType)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Rule
	for rows.Next() {
		r := &Rule{}
		var condJSON []byte
		var action string
		if err := rows.Scan(&r.ID, &r.EntityType, &r.Name, &r.Priority, &r.Active,
			&condJSON, &action, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(condJSON, &r.Condition); err != nil {
			return nil, fmt.Errorf("corrupt condition for rule %s: %w", r.ID, err)
		}
		r.Action = Action(action)
		result = append(result, r)
	}
	return result, rows.Err()
}

func (p *PostgresStore) Update(ctx context.Context, r *Rule) error {
	condJSON, err := json.Marshal(r.Condition)
	if err != nil {
		return err
	}
	result, err := p.db.ExecContext(ctx, `
		UPDATE stp_rules
		SET name = $1, priority = $2, active = $3, condition = $4, action = $5, updated_at = $6
		WHERE id = $7 AND entity_type = $8`,
		r.Name, r.Priority, r.Active, condJSON, string(r.Action), r.UpdatedAt,
		r.ID, r.EntityType,
	)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return ErrNameTaken
		}
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrRuleNotFound
	}
	return nil
}

func (p *PostgresStore) Delete(ctx context.Context, id string) error {
	result, err := p.db.ExecContext(ctx, `DELETE FROM stp_rules WHERE id = $1`, id)
	if err != nil {
		return err
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrRuleNotFound
	}
	return nil
}

func scanRule(row *sql.Row) (*Rule, error) {
	r := &Rule{}
	var condJSON []byte
	var action string
	err := row.Scan(&r.ID, &r.EntityType, &r.Name, &r.Priority, &r.Active,
		&condJSON, &action, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrRuleNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(condJSON, &r.Condition); err != nil {
		return nil, fmt.Errorf("corrupt condition for rule %s: %w", r.ID, err)
	}
	r.Action = Action(action)
	return r, nil
}

var _ Store = (*PostgresStore)(nil)
