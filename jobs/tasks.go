package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskAlertDispatch delivers one alert to its recipients.
	TaskAlertDispatch = "alerts:dispatch"
	// TaskAnomalyScan runs the permission anomaly checks.
	TaskAnomalyScan = "authz:anomaly_scan"
	// TaskExpirySweep deactivates lapsed grants and change requests.
	TaskExpirySweep = "authz:expiry_sweep"
	// TaskAuditRetention prunes audit rows past the retention window.
	TaskAuditRetention = "audit:retention"
	// TaskHealthCheck probes the service dependencies.
	TaskHealthCheck = "monitoring:health_check"
)

// AlertDispatchPayload carries one persisted alert to the delivery handler.
type AlertDispatchPayload struct {
	AlertID    int64     `json:"alert_id"`
	Severity   string    `json:"severity"`
	Title      string    `json:"title"`
	Message    string    `json:"message"`
	Recipients []string  `json:"recipients"`
	Escalate   bool      `json:"escalate"`
	RaisedAt   time.Time `json:"raised_at"`
}

// NewAlertDispatchTask constructs an alert delivery task.
func NewAlertDispatchTask(payload AlertDispatchPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskAlertDispatch, data), nil
}

// NewAnomalyScanTask constructs the periodic anomaly scan task.
func NewAnomalyScanTask() *asynq.Task {
	return asynq.NewTask(TaskAnomalyScan, nil)
}

// NewExpirySweepTask constructs the periodic expiry sweep task.
func NewExpirySweepTask() *asynq.Task {
	return asynq.NewTask(TaskExpirySweep, nil)
}

// NewAuditRetentionTask constructs the audit retention task.
func NewAuditRetentionTask() *asynq.Task {
	return asynq.NewTask(TaskAuditRetention, nil)
}

// NewHealthCheckTask constructs the dependency probe task.
func NewHealthCheckTask() *asynq.Task {
	return asynq.NewTask(TaskHealthCheck, nil)
}
