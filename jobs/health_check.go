package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/clinicore/clinicore-authz/internal/jobs"
	"github.com/clinicore/clinicore-authz/internal/monitoring"
)

// HealthCheckJob probes registered dependencies and persists the outcomes.
type HealthCheckJob struct {
	Monitor *monitoring.Service
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewHealthCheckJob initialises the probe handler.
func NewHealthCheckJob(monitor *monitoring.Service, logger *slog.Logger, metrics *jobmetrics.Metrics) *HealthCheckJob {
	return &HealthCheckJob{Monitor: monitor, Logger: logger, Metrics: metrics}
}

// Handle runs one probe round.
func (j *HealthCheckJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Monitor == nil {
		return errors.New("health check: handler not configured")
	}
	tracker := j.metrics().Track(TaskHealthCheck)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	checks, err := j.Monitor.CheckHealth(ctx)
	if err != nil {
		resultErr = err
		j.log().Error("health check failed", slog.Any("error", err))
		return resultErr
	}
	for _, hc := range checks {
		if hc.Status != monitoring.StatusHealthy {
			j.log().Warn("component degraded",
				slog.String("component", hc.Component),
				slog.String("status", hc.Status),
				slog.Int64("latency_ms", hc.LatencyMS))
		}
	}
	return resultErr
}

func (j *HealthCheckJob) log() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskHealthCheck))
	}
	return slog.Default().With(slog.String("job", TaskHealthCheck))
}

func (j *HealthCheckJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
