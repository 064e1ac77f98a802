package requests

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicore/clinicore-authz/internal/platform/db"
	"github.com/clinicore/clinicore-authz/internal/shared"
)

// OverrideChange is one override row an approved request writes.
type OverrideChange struct {
	PermissionID   int64
	PermissionName string
	Allowed        bool
}

// Repository provides persistence for permission change requests.
type Repository interface {
	Create(ctx context.Context, r ChangeRequest) error
	Get(ctx context.Context, id uuid.UUID) (ChangeRequest, error)
	ListPending(ctx context.Context) ([]ChangeRequest, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to string, decidedBy *int64, decidedAt time.Time) (bool, error)
	ApproveAndApply(ctx context.Context, id uuid.UUID, userID, decidedBy int64, decidedAt time.Time, overrides []OverrideChange) (bool, error)
	ExpirePending(ctx context.Context, now time.Time) (int64, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// Create inserts a new change request.
func (r *PGRepository) Create(ctx context.Context, req ChangeRequest) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO permission_change_requests
(id, user_id, requested_by, permissions_to_add, permissions_to_remove, reason, status, expires_at, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		req.ID, req.UserID, req.RequestedBy, req.PermissionsToAdd, req.PermissionsToRemove,
		req.Reason, req.Status, req.ExpiresAt, req.CreatedAt)
	return err
}

// Get fetches a change request by ID.
func (r *PGRepository) Get(ctx context.Context, id uuid.UUID) (ChangeRequest, error) {
	var req ChangeRequest
	err := r.pool.QueryRow(ctx, `SELECT id, user_id, requested_by, permissions_to_add, permissions_to_remove, reason, status, expires_at, created_at, decided_by, decided_at
FROM permission_change_requests WHERE id = $1`, id).
		Scan(&req.ID, &req.UserID, &req.RequestedBy, &req.PermissionsToAdd, &req.PermissionsToRemove,
			&req.Reason, &req.Status, &req.ExpiresAt, &req.CreatedAt, &req.DecidedBy, &req.DecidedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ChangeRequest{}, fmt.Errorf("requests: request %s: %w", id, shared.ErrNotFound)
		}
		return ChangeRequest{}, err
	}
	return req, nil
}

// ListPending returns all pending change requests, oldest first.
func (r *PGRepository) ListPending(ctx context.Context) ([]ChangeRequest, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, user_id, requested_by, permissions_to_add, permissions_to_remove, reason, status, expires_at, created_at, decided_by, decided_at
FROM permission_change_requests WHERE status = $1 ORDER BY created_at`, StatusPending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var reqs []ChangeRequest
	for rows.Next() {
		var req ChangeRequest
		if err := rows.Scan(&req.ID, &req.UserID, &req.RequestedBy, &req.PermissionsToAdd, &req.PermissionsToRemove,
			&req.Reason, &req.Status, &req.ExpiresAt, &req.CreatedAt, &req.DecidedBy, &req.DecidedAt); err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}
	return reqs, rows.Err()
}

// UpdateStatus transitions a request from one status to another. Returns
// false when the row was not in the expected source state.
func (r *PGRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to string, decidedBy *int64, decidedAt time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE permission_change_requests
SET status = $3, decided_by = $4, decided_at = $5 WHERE id = $1 AND status = $2`,
		id, from, to, decidedBy, decidedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// ApproveAndApply flips a pending request to approved, writes its overrides
// and appends one audit action, all in a single transaction. Returns false
// without writing anything when the row was not pending.
func (r *PGRepository) ApproveAndApply(ctx context.Context, id uuid.UUID, userID, decidedBy int64, decidedAt time.Time, overrides []OverrideChange) (bool, error) {
	var changed bool
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE permission_change_requests
SET status = $3, decided_by = $4, decided_at = $5 WHERE id = $1 AND status = $2`,
			id, StatusPending, StatusApproved, decidedBy, decidedAt)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		changed = true

		allowed := make([]string, 0, len(overrides))
		denied := make([]string, 0, len(overrides))
		for _, ov := range overrides {
			if _, err := tx.Exec(ctx, `INSERT INTO user_permission_overrides (user_id, permission_id, allowed, created_at, updated_at)
VALUES ($1, $2, $3, NOW(), NOW())
ON CONFLICT (user_id, permission_id) DO UPDATE SET allowed = EXCLUDED.allowed, updated_at = NOW()`,
				userID, ov.PermissionID, ov.Allowed); err != nil {
				return err
			}
			if ov.Allowed {
				allowed = append(allowed, ov.PermissionName)
			} else {
				denied = append(denied, ov.PermissionName)
			}
		}

		details, err := json.Marshal(map[string]any{
			"request_id":  id.String(),
			"approved_by": decidedBy,
			"allowed":     allowed,
			"denied":      denied,
		})
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `INSERT INTO session_actions (session_id, user_id, action_type, details, performed_at)
VALUES (NULL, $1, $2, $3, NOW())`, userID, ActionApproveRequest, details)
		return err
	})
	return changed, err
}

// ExpirePending flips lapsed pending requests to expired. Requests stored
// with a zero expiry never lapse.
func (r *PGRepository) ExpirePending(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE permission_change_requests
SET status = $2 WHERE status = $1 AND expires_at <> $3 AND expires_at <= $4`,
		StatusPending, StatusExpired, time.Time{}, now)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

var _ Repository = (*PGRepository)(nil)
