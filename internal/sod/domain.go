package sod

import "time"

// Severity levels for segregation rules.
const (
	SeverityCritical = "critical"
	SeverityHigh     = "high"
	SeverityMedium   = "medium"
	SeverityLow      = "low"
)

// Rule declares two permissions mutually exclusive for a single user.
type Rule struct {
	ID          int64
	PermissionA string
	PermissionB string
	Severity    string
	Description string
	CreatedAt   time.Time
}

// Violation reports that one user holds both permissions of a rule.
type Violation struct {
	RuleID      int64
	UserID      int64
	PermissionA string
	PermissionB string
	Severity    string
	Description string
}

// Blocking reports whether this violation must block the request. The caller
// enforces this; lower severities are logged and the request proceeds.
func (v Violation) Blocking() bool {
	return v.Severity == SeverityCritical
}

// ValidSeverity reports whether s is a recognised severity level.
func ValidSeverity(s string) bool {
	switch s {
	case SeverityCritical, SeverityHigh, SeverityMedium, SeverityLow:
		return true
	}
	return false
}
