package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicore/clinicore-authz/internal/shared"
)

// Repository provides append-only persistence for sessions and actions.
type Repository interface {
	CreateSession(ctx context.Context, s Session) error
	GetSession(ctx context.Context, id uuid.UUID) (Session, error)
	AppendAction(ctx context.Context, a Action) error
	ListUserActions(ctx context.Context, userID int64, since time.Time) ([]Action, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// CreateSession persists a new permission session.
func (r *PGRepository) CreateSession(ctx context.Context, s Session) error {
	_, err := r.pool.Exec(ctx, `INSERT INTO permission_sessions (id, user_id, started_at, ip_address, user_agent)
VALUES ($1, $2, $3, $4, $5)`, s.ID, s.UserID, s.StartedAt, s.IPAddress, s.UserAgent)
	return err
}

// GetSession fetches a session by ID.
func (r *PGRepository) GetSession(ctx context.Context, id uuid.UUID) (Session, error) {
	var s Session
	err := r.pool.QueryRow(ctx, `SELECT id, user_id, started_at, ip_address, user_agent FROM permission_sessions WHERE id = $1`, id).
		Scan(&s.ID, &s.UserID, &s.StartedAt, &s.IPAddress, &s.UserAgent)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Session{}, fmt.Errorf("audit: session %s: %w", id, shared.ErrNotFound)
		}
		return Session{}, err
	}
	return s, nil
}

// AppendAction writes one action row.
func (r *PGRepository) AppendAction(ctx context.Context, a Action) error {
	details, err := json.Marshal(a.Details)
	if err != nil {
		return err
	}
	_, err = r.pool.Exec(ctx, `INSERT INTO session_actions (session_id, user_id, action_type, details, performed_at)
VALUES ($1, $2, $3, $4, $5)`, a.SessionID, a.UserID, a.ActionType, details, a.PerformedAt)
	return err
}

// ListUserActions returns a user's actions since the given instant, oldest
// first.
func (r *PGRepository) ListUserActions(ctx context.Context, userID int64, since time.Time) ([]Action, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, session_id, user_id, action_type, details, performed_at
FROM session_actions WHERE user_id = $1 AND performed_at >= $2 ORDER BY performed_at`, userID, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var actions []Action
	for rows.Next() {
		var a Action
		var details []byte
		if err := rows.Scan(&a.ID, &a.SessionID, &a.UserID, &a.ActionType, &details, &a.PerformedAt); err != nil {
			return nil, err
		}
		if len(details) > 0 {
			if err := json.Unmarshal(details, &a.Details); err != nil {
				return nil, err
			}
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

// DeleteOlderThan removes actions and sessions past the retention window.
func (r *PGRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM session_actions WHERE performed_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	removed := tag.RowsAffected()
	if _, err := r.pool.Exec(ctx, `DELETE FROM permission_sessions ps
WHERE ps.started_at < $1 AND NOT EXISTS (SELECT 1 FROM session_actions sa WHERE sa.session_id = ps.id)`, cutoff); err != nil {
		return removed, err
	}
	return removed, nil
}

var _ Repository = (*PGRepository)(nil)
