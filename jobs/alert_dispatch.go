package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/clinicore/clinicore-authz/internal/jobs"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// AlertDispatchJob delivers persisted alerts to their recipients.
type AlertDispatchJob struct {
	Mailer  Mailer
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewAlertDispatchJob initialises the alert delivery handler.
func NewAlertDispatchJob(mailer Mailer, logger *slog.Logger, metrics *jobmetrics.Metrics) *AlertDispatchJob {
	return &AlertDispatchJob{Mailer: mailer, Logger: logger, Metrics: metrics}
}

// Handle sends the alert email. Escalated alerts get a marked subject so
// relay-side rules can page instead of merely notifying.
func (j *AlertDispatchJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("alert dispatch: handler not configured")
	}
	var payload AlertDispatchPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if len(payload.Recipients) == 0 {
		return asynq.SkipRetry
	}

	tracker := j.metrics().Track(TaskAlertDispatch)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	subject := fmt.Sprintf("[%s] %s", strings.ToUpper(payload.Severity), payload.Title)
	if payload.Escalate {
		subject = "[ESCALATION] " + subject
	}
	body := fmt.Sprintf("%s\n\nSeverity: %s\nRaised: %s\nAlert ID: %d\n",
		payload.Message, payload.Severity, payload.RaisedAt.Format("2006-01-02 15:04:05 UTC"), payload.AlertID)

	if j.Mailer == nil {
		j.log().Warn("alert dispatch skipped, mailer not configured",
			slog.Int64("alert_id", payload.AlertID),
			slog.String("severity", payload.Severity))
		return nil
	}
	if err := j.Mailer.Send(payload.Recipients, subject, body); err != nil {
		resultErr = fmt.Errorf("alert dispatch: send: %w", err)
		return resultErr
	}
	j.log().Info("alert delivered",
		slog.Int64("alert_id", payload.AlertID),
		slog.String("severity", payload.Severity),
		slog.Int("recipients", len(payload.Recipients)))
	return resultErr
}

func (j *AlertDispatchJob) log() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskAlertDispatch))
	}
	return slog.Default().With(slog.String("job", TaskAlertDispatch))
}

func (j *AlertDispatchJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
