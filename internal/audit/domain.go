package audit

import (
	"time"

	"github.com/google/uuid"
)

// Session groups permission-relevant actions taken by one authenticated
// identity. Sessions and actions are append-only; only retention cleanup
// removes them.
type Session struct {
	ID        uuid.UUID
	UserID    int64
	StartedAt time.Time
	IPAddress string
	UserAgent string
}

// Action records a single permission-relevant event within a session.
// SessionID is nil for actions appended by administrative flows outside an
// interactive session.
type Action struct {
	ID          int64
	SessionID   *uuid.UUID
	UserID      int64
	ActionType  string
	Details     map[string]any
	PerformedAt time.Time
}

// PermissionMutatingActions lists the action types the rapid-change anomaly
// detector counts.
var PermissionMutatingActions = []string{
	"grant_temporary_permission",
	"revoke_temporary_permission",
	"set_permission_override",
	"clear_permission_override",
	"assign_role",
	"set_role_permissions",
	"approve_change_request",
}
