package anomaly

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository supplies the windowed reads behind every check. Detection only
// reads, so concurrent scans need no coordination.
type Repository interface {
	GrantEvents(ctx context.Context, since time.Time, now time.Time) ([]GrantEvent, error)
	MutatingActionCounts(ctx context.Context, since time.Time, types []string) (map[int64]int, error)
	HourlyActivity(ctx context.Context, since time.Time) ([]HourActivity, error)
	PendingRequests(ctx context.Context) ([]PendingRequest, error)
	FailedLoginCount(ctx context.Context, since time.Time) (int64, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// GrantEvents returns active, unexpired grants created since the given
// instant. The inner join silently drops grants with dangling permission
// references.
func (r *PGRepository) GrantEvents(ctx context.Context, since, now time.Time) ([]GrantEvent, error) {
	rows, err := r.pool.Query(ctx, `SELECT tp.user_id, p.name, tp.granted_at
FROM temporary_permissions tp
JOIN permissions p ON p.id = tp.permission_id
WHERE tp.is_active AND tp.expires_at > $2 AND tp.granted_at >= $1
ORDER BY tp.granted_at`, since, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var events []GrantEvent
	for rows.Next() {
		var e GrantEvent
		if err := rows.Scan(&e.UserID, &e.PermissionName, &e.GrantedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// MutatingActionCounts counts permission-mutating session actions per user
// since the given instant.
func (r *PGRepository) MutatingActionCounts(ctx context.Context, since time.Time, types []string) (map[int64]int, error) {
	rows, err := r.pool.Query(ctx, `SELECT user_id, COUNT(*) FROM session_actions
WHERE performed_at >= $1 AND action_type = ANY($2) GROUP BY user_id`, since, types)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := make(map[int64]int)
	for rows.Next() {
		var userID int64
		var count int
		if err := rows.Scan(&userID, &count); err != nil {
			return nil, err
		}
		counts[userID] = count
	}
	return counts, rows.Err()
}

// HourlyActivity groups session actions per user by hour of day.
func (r *PGRepository) HourlyActivity(ctx context.Context, since time.Time) ([]HourActivity, error) {
	rows, err := r.pool.Query(ctx, `SELECT user_id, EXTRACT(HOUR FROM performed_at AT TIME ZONE 'UTC')::int AS hour, COUNT(*)
FROM session_actions WHERE performed_at >= $1 GROUP BY user_id, hour ORDER BY user_id, hour`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var activity []HourActivity
	for rows.Next() {
		var h HourActivity
		if err := rows.Scan(&h.UserID, &h.Hour, &h.Count); err != nil {
			return nil, err
		}
		activity = append(activity, h)
	}
	return activity, rows.Err()
}

// PendingRequests returns pending change requests with their requested
// permission names.
func (r *PGRepository) PendingRequests(ctx context.Context) ([]PendingRequest, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, user_id, permissions_to_add
FROM permission_change_requests WHERE status = 'pending'`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var reqs []PendingRequest
	for rows.Next() {
		var req PendingRequest
		if err := rows.Scan(&req.ID, &req.UserID, &req.Permissions); err != nil {
			return nil, err
		}
		reqs = append(reqs, req)
	}
	return reqs, rows.Err()
}

// FailedLoginCount counts failed-login audit actions since the given
// instant.
func (r *PGRepository) FailedLoginCount(ctx context.Context, since time.Time) (int64, error) {
	var count int64
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM session_actions
WHERE performed_at >= $1 AND action_type = 'failed_login'`, since).Scan(&count)
	return count, err
}

var _ Repository = (*PGRepository)(nil)
