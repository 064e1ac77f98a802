package requests

import (
	"time"

	"github.com/google/uuid"
)

// Change request statuses. pending transitions to approved, rejected or
// expired; terminal states are final.
const (
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
	StatusExpired  = "expired"
)

// ChangeRequest asks for a user's permission set to be amended.
type ChangeRequest struct {
	ID                  uuid.UUID
	UserID              int64
	RequestedBy         int64
	PermissionsToAdd    []string
	PermissionsToRemove []string
	Reason              string
	Status              string
	ExpiresAt           time.Time
	CreatedAt           time.Time
	DecidedBy           *int64
	DecidedAt           *time.Time
}

// Terminal reports whether the request can no longer change state.
func (r ChangeRequest) Terminal() bool {
	return r.Status != StatusPending
}

// ExpiredAt reports whether a still-pending request has lapsed at the given
// instant. Like temporary grants, expiry is a read-time check.
func (r ChangeRequest) ExpiredAt(now time.Time) bool {
	return r.Status == StatusPending && !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}
