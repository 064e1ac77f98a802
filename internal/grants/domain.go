package grants

import "time"

// TemporaryPermission is a time-bounded grant. Expiry is enforced at read
// time; the sweep job that flips is_active afterwards is hygiene only.
type TemporaryPermission struct {
	ID           int64
	UserID       int64
	PermissionID int64
	GrantedBy    int64
	GrantedAt    time.Time
	ExpiresAt    time.Time
	Reason       string
	IsActive     bool
}

// IsEffective reports whether the grant contributes to resolution at the
// given instant. The resolver and the anomaly detector both use this so
// their notion of "active" never diverges.
func IsEffective(tp TemporaryPermission, now time.Time) bool {
	return tp.IsActive && now.Before(tp.ExpiresAt)
}

// Override explicitly allows or denies a single permission for one user.
// A deny wins over every grant source. At most one row per user+permission.
type Override struct {
	UserID       int64
	PermissionID int64
	Allowed      bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
