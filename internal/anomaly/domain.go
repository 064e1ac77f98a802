package anomaly

import (
	"time"

	"github.com/google/uuid"
)

// Anomaly types.
const (
	TypeBulkGrants     = "bulk_permission_grants"
	TypeHighRiskGrants = "high_risk_permission_grants"
	TypeRapidChanges   = "rapid_permission_changes"
	TypeUnusualHours   = "unusual_hours_activity"
	TypeEscalation     = "permission_escalation_attempt"
)

// Severities.
const (
	SeverityHigh   = "high"
	SeverityMedium = "medium"
)

// Anomaly is a detected deviation from expected permission-usage patterns.
// Data carries enough evidence for an operator to act without re-querying.
type Anomaly struct {
	Type        string         `json:"type"`
	Severity    string         `json:"severity"`
	UserID      int64          `json:"user_id"`
	Description string         `json:"description"`
	DetectedAt  time.Time      `json:"detected_at"`
	Data        map[string]any `json:"data"`
}

// Stats is the dashboard aggregate. Derived from the same queries as
// Detect so the numbers never drift from the findings.
type Stats struct {
	AnomalyCount       int   `json:"anomaly_count"`
	HighSeverityCount  int   `json:"high_severity_count"`
	HighRiskGrantCount int   `json:"high_risk_grant_count"`
	FailedLoginCount   int64 `json:"failed_login_count"`
	UnusualHourCount   int   `json:"unusual_hour_count"`
}

// Config parameterizes every check. All values are externally overridable.
type Config struct {
	BulkGrantThreshold   int
	BulkGrantWindow      time.Duration
	HighRiskThreshold    int
	HighRiskWindow       time.Duration
	RapidChangeThreshold int
	RapidChangeWindow    time.Duration
	UnusualHoursStart    int
	UnusualHoursEnd      int
	HighRiskPermissions  []string
}

// DefaultConfig mirrors the documented defaults.
func DefaultConfig() Config {
	return Config{
		BulkGrantThreshold:   5,
		BulkGrantWindow:      time.Hour,
		HighRiskThreshold:    2,
		HighRiskWindow:       time.Hour,
		RapidChangeThreshold: 10,
		RapidChangeWindow:    30 * time.Minute,
		UnusualHoursStart:    0,
		UnusualHoursEnd:      6,
		HighRiskPermissions:  []string{"delete-users", "manage-roles", "system-admin"},
	}
}

// GrantEvent is an active, unexpired temporary grant as seen by the
// detector. Grants whose permission was deleted never appear here.
type GrantEvent struct {
	UserID         int64
	PermissionName string
	GrantedAt      time.Time
}

// HourActivity counts one user's audited actions in one hour of day.
type HourActivity struct {
	UserID int64
	Hour   int
	Count  int
}

// PendingRequest is the slice of a change request the escalation check
// needs.
type PendingRequest struct {
	ID          uuid.UUID
	UserID      int64
	Permissions []string
}
