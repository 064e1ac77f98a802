package monitoring

import "time"

// Metric types the service understands. Each has a configured threshold.
const (
	MetricResponseTime   = "response_time_ms"
	MetricCacheHitRate   = "cache_hit_rate"
	MetricFailedAttempts = "failed_attempts_per_min"
)

// Alert severities.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
)

// Health statuses.
const (
	StatusHealthy  = "healthy"
	StatusWarning  = "warning"
	StatusCritical = "critical"
)

// Metric is one scalar observation with metadata.
type Metric struct {
	ID         int64
	Type       string
	Value      float64
	Metadata   map[string]any
	RecordedAt time.Time
}

// Alert is a threshold breach or a detector finding routed by severity.
type Alert struct {
	ID        int64
	Severity  string
	Title     string
	Message   string
	Metadata  map[string]any
	CreatedAt time.Time
}

// HealthCheck is the persisted outcome of one probe.
type HealthCheck struct {
	ID        int64
	Component string
	Status    string
	LatencyMS int64
	Error     string
	CheckedAt time.Time
}

// Thresholds configures when a metric observation raises an alert.
type Thresholds struct {
	ResponseTimeMS  int
	MinCacheHitRate float64
	MaxFailedPerMin int
}

// Routing maps severities to notification recipients. Severities absent
// from the table are logged only.
type Routing struct {
	CriticalRecipients []string
	HighRecipients     []string
}
