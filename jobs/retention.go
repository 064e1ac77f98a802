package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/clinicore/clinicore-authz/internal/audit"
	jobmetrics "github.com/clinicore/clinicore-authz/internal/jobs"
)

// AuditRetentionJob prunes audit rows past the configured retention window.
type AuditRetentionJob struct {
	Audit   *audit.Service
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewAuditRetentionJob initialises the retention handler.
func NewAuditRetentionJob(auditSvc *audit.Service, logger *slog.Logger, metrics *jobmetrics.Metrics) *AuditRetentionJob {
	return &AuditRetentionJob{Audit: auditSvc, Logger: logger, Metrics: metrics}
}

// Handle deletes expired audit rows.
func (j *AuditRetentionJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Audit == nil {
		return errors.New("audit retention: handler not configured")
	}
	tracker := j.metrics().Track(TaskAuditRetention)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	start := time.Now()
	deleted, err := j.Audit.Cleanup(ctx)
	if err != nil {
		resultErr = err
		j.log().Error("retention failed", slog.Any("error", err))
		return resultErr
	}
	j.log().Info("completed audit retention",
		slog.Int64("rows_deleted", deleted),
		slog.Duration("duration", time.Since(start)),
	)
	return resultErr
}

func (j *AuditRetentionJob) log() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskAuditRetention))
	}
	return slog.Default().With(slog.String("job", TaskAuditRetention))
}

func (j *AuditRetentionJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
