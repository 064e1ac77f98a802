package shared

import (
	"context"
	"net/http"
	"strconv"
	"strings"
)

// Identity describes the authenticated actor as supplied by the upstream
// auth layer. The engine never authenticates; it trusts these values.
type Identity struct {
	UserID     int64
	SuperAdmin bool
	RoleName   string
	IPAddress  string
	UserAgent  string
}

// GetID returns the actor's user ID.
func (i Identity) GetID() int64 { return i.UserID }

// IsSuperAdmin reports whether the actor bypasses all checks.
func (i Identity) IsSuperAdmin() bool { return i.SuperAdmin }

type identityContextKey struct{}

// ContextWithIdentity stores the identity in context.
func ContextWithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, id)
}

// IdentityFromContext extracts the identity from context. The second return
// is false when no upstream auth layer populated the request.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityContextKey{}).(Identity)
	return id, ok
}

// IdentityFromRequest reads the trusted identity headers set by the gateway.
func IdentityFromRequest(r *http.Request) (Identity, bool) {
	raw := strings.TrimSpace(r.Header.Get("X-User-ID"))
	if raw == "" {
		return Identity{}, false
	}
	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || userID <= 0 {
		return Identity{}, false
	}
	return Identity{
		UserID:     userID,
		SuperAdmin: strings.EqualFold(r.Header.Get("X-Super-Admin"), "true"),
		RoleName:   strings.TrimSpace(r.Header.Get("X-User-Role")),
		IPAddress:  r.RemoteAddr,
		UserAgent:  r.UserAgent(),
	}, true
}
