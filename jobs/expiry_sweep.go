package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/clinicore/clinicore-authz/internal/grants"
	jobmetrics "github.com/clinicore/clinicore-authz/internal/jobs"
	"github.com/clinicore/clinicore-authz/internal/requests"
)

// ExpirySweepJob deactivates lapsed temporary grants and marks lapsed
// change requests expired. Reads already treat lapsed rows as inactive, so
// the sweep is hygiene, not correctness.
type ExpirySweepJob struct {
	Grants   *grants.Service
	Requests *requests.Service
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// NewExpirySweepJob initialises the sweep handler.
func NewExpirySweepJob(grantSvc *grants.Service, requestSvc *requests.Service, logger *slog.Logger, metrics *jobmetrics.Metrics) *ExpirySweepJob {
	return &ExpirySweepJob{Grants: grantSvc, Requests: requestSvc, Logger: logger, Metrics: metrics}
}

// Handle runs both sweeps. Each sweep runs even if the other fails.
func (j *ExpirySweepJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("expiry sweep: handler not configured")
	}
	tracker := j.metrics().Track(TaskExpirySweep)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	start := time.Now()
	logger := j.log()

	var swept, expired int64
	var failed []error
	if j.Grants != nil {
		n, err := j.Grants.SweepExpired(ctx)
		if err != nil {
			failed = append(failed, err)
		}
		swept = n
	}
	if j.Requests != nil {
		n, err := j.Requests.SweepExpired(ctx)
		if err != nil {
			failed = append(failed, err)
		}
		expired = n
	}
	resultErr = errors.Join(failed...)
	if resultErr != nil {
		logger.Error("sweep incomplete", slog.Any("error", resultErr))
		return resultErr
	}

	logger.Info("completed expiry sweep",
		slog.Int64("grants_deactivated", swept),
		slog.Int64("requests_expired", expired),
		slog.Duration("duration", time.Since(start)),
	)
	return resultErr
}

func (j *ExpirySweepJob) log() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskExpirySweep))
	}
	return slog.Default().With(slog.String("job", TaskExpirySweep))
}

func (j *ExpirySweepJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
