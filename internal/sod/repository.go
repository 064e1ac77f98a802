package sod

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicore/clinicore-authz/internal/shared"
)

// Repository provides persistence for segregation rules.
type Repository interface {
	ListRules(ctx context.Context) ([]Rule, error)
	CreateRule(ctx context.Context, rule Rule) (Rule, error)
	DeleteRule(ctx context.Context, id int64) error
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// ListRules returns all segregation rules.
func (r *PGRepository) ListRules(ctx context.Context) ([]Rule, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, permission_a, permission_b, severity, description, created_at FROM segregation_rules ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var rules []Rule
	for rows.Next() {
		var rule Rule
		if err := rows.Scan(&rule.ID, &rule.PermissionA, &rule.PermissionB, &rule.Severity, &rule.Description, &rule.CreatedAt); err != nil {
			return nil, err
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// CreateRule inserts a new segregation rule.
func (r *PGRepository) CreateRule(ctx context.Context, rule Rule) (Rule, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO segregation_rules (permission_a, permission_b, severity, description, created_at)
VALUES ($1, $2, $3, $4, NOW()) RETURNING id, created_at`,
		rule.PermissionA, rule.PermissionB, rule.Severity, rule.Description).Scan(&rule.ID, &rule.CreatedAt)
	if err != nil {
		return Rule{}, err
	}
	return rule, nil
}

// DeleteRule removes a rule by ID.
func (r *PGRepository) DeleteRule(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM segregation_rules WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("sod: rule %d: %w", id, shared.ErrNotFound)
	}
	return nil
}

var _ Repository = (*PGRepository)(nil)
