package grants

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicore/clinicore-authz/internal/platform/db"
	"github.com/clinicore/clinicore-authz/internal/shared"
)

// NamedOverride pairs an override decision with its permission name for the
// resolver.
type NamedOverride struct {
	PermissionName string
	Allowed        bool
}

// TxRepository groups the mutations that must share one transaction.
type TxRepository interface {
	InsertGrant(ctx context.Context, tp TemporaryPermission) (TemporaryPermission, error)
	DeactivateGrant(ctx context.Context, id int64) (bool, error)
	UpsertOverride(ctx context.Context, o Override) error
	DeleteOverride(ctx context.Context, userID, permissionID int64) (bool, error)
	AppendAudit(ctx context.Context, userID int64, actionType string, details map[string]any) error
}

// Repository provides persistence for temporary permissions and overrides.
type Repository interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetGrant(ctx context.Context, id int64) (TemporaryPermission, error)
	ListUserGrants(ctx context.Context, userID int64) ([]TemporaryPermission, error)
	EffectiveGrantNames(ctx context.Context, userID int64, now time.Time) ([]string, error)
	Overrides(ctx context.Context, userID int64) ([]NamedOverride, error)
	DeactivateExpired(ctx context.Context, now time.Time) (int64, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// WithTx runs fn inside a single transaction.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &pgTxRepository{tx: tx})
	})
}

// GetGrant fetches a temporary permission by ID.
func (r *PGRepository) GetGrant(ctx context.Context, id int64) (TemporaryPermission, error) {
	var tp TemporaryPermission
	err := r.pool.QueryRow(ctx, `SELECT id, user_id, permission_id, granted_by, granted_at, expires_at, reason, is_active
FROM temporary_permissions WHERE id = $1`, id).
		Scan(&tp.ID, &tp.UserID, &tp.PermissionID, &tp.GrantedBy, &tp.GrantedAt, &tp.ExpiresAt, &tp.Reason, &tp.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return TemporaryPermission{}, fmt.Errorf("grants: grant %d: %w", id, shared.ErrNotFound)
		}
		return TemporaryPermission{}, err
	}
	return tp, nil
}

// ListUserGrants returns all grants for a user, newest first.
func (r *PGRepository) ListUserGrants(ctx context.Context, userID int64) ([]TemporaryPermission, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, user_id, permission_id, granted_by, granted_at, expires_at, reason, is_active
FROM temporary_permissions WHERE user_id = $1 ORDER BY granted_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var grants []TemporaryPermission
	for rows.Next() {
		var tp TemporaryPermission
		if err := rows.Scan(&tp.ID, &tp.UserID, &tp.PermissionID, &tp.GrantedBy, &tp.GrantedAt, &tp.ExpiresAt, &tp.Reason, &tp.IsActive); err != nil {
			return nil, err
		}
		grants = append(grants, tp)
	}
	return grants, rows.Err()
}

// EffectiveGrantNames returns permission names from active, unexpired grants.
// The inner join drops grants whose permission was deleted.
func (r *PGRepository) EffectiveGrantNames(ctx context.Context, userID int64, now time.Time) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT p.name FROM temporary_permissions tp
JOIN permissions p ON p.id = tp.permission_id
WHERE tp.user_id = $1 AND tp.is_active AND tp.expires_at > $2`, userID, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Overrides returns the per-user override list with permission names.
func (r *PGRepository) Overrides(ctx context.Context, userID int64) ([]NamedOverride, error) {
	rows, err := r.pool.Query(ctx, `SELECT p.name, o.allowed FROM user_permission_overrides o
JOIN permissions p ON p.id = o.permission_id
WHERE o.user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var overrides []NamedOverride
	for rows.Next() {
		var o NamedOverride
		if err := rows.Scan(&o.PermissionName, &o.Allowed); err != nil {
			return nil, err
		}
		overrides = append(overrides, o)
	}
	return overrides, rows.Err()
}

// DeactivateExpired flips is_active on rows past their expiry. Hygiene only;
// the read-time check stays authoritative.
func (r *PGRepository) DeactivateExpired(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE temporary_permissions SET is_active = FALSE WHERE is_active AND expires_at <= $1`, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

type pgTxRepository struct {
	tx pgx.Tx
}

func (r *pgTxRepository) InsertGrant(ctx context.Context, tp TemporaryPermission) (TemporaryPermission, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO temporary_permissions (user_id, permission_id, granted_by, granted_at, expires_at, reason, is_active)
VALUES ($1, $2, $3, $4, $5, $6, TRUE) RETURNING id`,
		tp.UserID, tp.PermissionID, tp.GrantedBy, tp.GrantedAt, tp.ExpiresAt, tp.Reason).Scan(&tp.ID)
	if err != nil {
		return TemporaryPermission{}, err
	}
	tp.IsActive = true
	return tp, nil
}

func (r *pgTxRepository) DeactivateGrant(ctx context.Context, id int64) (bool, error) {
	tag, err := r.tx.Exec(ctx, `UPDATE temporary_permissions SET is_active = FALSE WHERE id = $1 AND is_active`, id)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *pgTxRepository) UpsertOverride(ctx context.Context, o Override) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO user_permission_overrides (user_id, permission_id, allowed, created_at, updated_at)
VALUES ($1, $2, $3, NOW(), NOW())
ON CONFLICT (user_id, permission_id) DO UPDATE SET allowed = EXCLUDED.allowed, updated_at = NOW()`,
		o.UserID, o.PermissionID, o.Allowed)
	return err
}

func (r *pgTxRepository) DeleteOverride(ctx context.Context, userID, permissionID int64) (bool, error) {
	tag, err := r.tx.Exec(ctx, `DELETE FROM user_permission_overrides WHERE user_id = $1 AND permission_id = $2`, userID, permissionID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *pgTxRepository) AppendAudit(ctx context.Context, userID int64, actionType string, details map[string]any) error {
	payload, err := json.Marshal(details)
	if err != nil {
		return err
	}
	_, err = r.tx.Exec(ctx, `INSERT INTO session_actions (session_id, user_id, action_type, details, performed_at)
VALUES (NULL, $1, $2, $3, NOW())`, userID, actionType, payload)
	return err
}

var _ Repository = (*PGRepository)(nil)
var _ TxRepository = (*pgTxRepository)(nil)
