package monitoring

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists metrics, alerts and health-check outcomes.
type Repository interface {
	InsertMetric(ctx context.Context, m Metric) (int64, error)
	RecentMetrics(ctx context.Context, metricType string, since time.Time) ([]Metric, error)
	InsertAlert(ctx context.Context, a Alert) (int64, error)
	RecentAlerts(ctx context.Context, since time.Time) ([]Alert, error)
	InsertHealthCheck(ctx context.Context, hc HealthCheck) (int64, error)
	LatestHealth(ctx context.Context) ([]HealthCheck, error)
}

// PGRepository implements Repository using PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) InsertMetric(ctx context.Context, m Metric) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `INSERT INTO permission_metrics (metric_type, value, metadata, recorded_at)
VALUES ($1, $2, $3, $4) RETURNING id`, m.Type, m.Value, m.Metadata, m.RecordedAt).Scan(&id)
	return id, err
}

func (r *PGRepository) RecentMetrics(ctx context.Context, metricType string, since time.Time) ([]Metric, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, metric_type, value, metadata, recorded_at
FROM permission_metrics WHERE metric_type = $1 AND recorded_at >= $2 ORDER BY recorded_at DESC`, metricType, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var metrics []Metric
	for rows.Next() {
		var m Metric
		if err := rows.Scan(&m.ID, &m.Type, &m.Value, &m.Metadata, &m.RecordedAt); err != nil {
			return nil, err
		}
		metrics = append(metrics, m)
	}
	return metrics, rows.Err()
}

func (r *PGRepository) InsertAlert(ctx context.Context, a Alert) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `INSERT INTO alerts (severity, title, message, metadata, created_at)
VALUES ($1, $2, $3, $4, $5) RETURNING id`, a.Severity, a.Title, a.Message, a.Metadata, a.CreatedAt).Scan(&id)
	return id, err
}

func (r *PGRepository) RecentAlerts(ctx context.Context, since time.Time) ([]Alert, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, severity, title, message, metadata, created_at
FROM alerts WHERE created_at >= $1 ORDER BY created_at DESC`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var alerts []Alert
	for rows.Next() {
		var a Alert
		if err := rows.Scan(&a.ID, &a.Severity, &a.Title, &a.Message, &a.Metadata, &a.CreatedAt); err != nil {
			return nil, err
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

func (r *PGRepository) InsertHealthCheck(ctx context.Context, hc HealthCheck) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx, `INSERT INTO health_checks (component, status, latency_ms, error, checked_at)
VALUES ($1, $2, $3, $4, $5) RETURNING id`, hc.Component, hc.Status, hc.LatencyMS, hc.Error, hc.CheckedAt).Scan(&id)
	return id, err
}

// LatestHealth returns the most recent check per component.
func (r *PGRepository) LatestHealth(ctx context.Context) ([]HealthCheck, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT ON (component) id, component, status, latency_ms, error, checked_at
FROM health_checks ORDER BY component, checked_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var checks []HealthCheck
	for rows.Next() {
		var hc HealthCheck
		if err := rows.Scan(&hc.ID, &hc.Component, &hc.Status, &hc.LatencyMS, &hc.Error, &hc.CheckedAt); err != nil {
			return nil, err
		}
		checks = append(checks, hc)
	}
	return checks, rows.Err()
}

var _ Repository = (*PGRepository)(nil)
