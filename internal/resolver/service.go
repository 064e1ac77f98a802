package resolver

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/clinicore/clinicore-authz/internal/catalog"
	"github.com/clinicore/clinicore-authz/internal/grants"
)

// RoleSource supplies role-derived permissions. The normalized table and the
// legacy name-keyed table are both consulted until the migration completes;
// retiring the legacy provider only touches this interface's implementation.
type RoleSource interface {
	GetUserRole(ctx context.Context, userID int64) (catalog.UserRole, error)
	RolePermissionNames(ctx context.Context, roleID int64) ([]string, error)
	LegacyRolePermissionNames(ctx context.Context, roleName string) ([]string, error)
	ListPermissions(ctx context.Context) ([]catalog.Permission, error)
}

// GrantSource supplies permissions from active, unexpired temporary grants.
type GrantSource interface {
	EffectiveGrantNames(ctx context.Context, userID int64, now time.Time) ([]string, error)
}

// OverrideSource supplies per-user allow/deny overrides.
type OverrideSource interface {
	Overrides(ctx context.Context, userID int64) ([]grants.NamedOverride, error)
}

// DurationObserver records how long uncached resolutions take.
type DurationObserver interface {
	ObserveResolveDuration(d time.Duration)
}

// Service resolves a user's effective permission set from all sources.
type Service struct {
	roles     RoleSource
	grants    GrantSource
	overrides OverrideSource
	cache     *Cache
	metrics   DurationObserver
	logger    *slog.Logger
	group     singleflight.Group
	clock     func() time.Time
}

// NewService constructs the resolver.
func NewService(roles RoleSource, grantSrc GrantSource, overrides OverrideSource, cache *Cache, metrics DurationObserver, logger *slog.Logger) *Service {
	return &Service{
		roles:     roles,
		grants:    grantSrc,
		overrides: overrides,
		cache:     cache,
		metrics:   metrics,
		logger:    logger,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Resolve computes the effective permission set for a user, consulting the
// cache first. Concurrent misses for the same user collapse into a single
// resolution.
func (s *Service) Resolve(ctx context.Context, userID int64) (PermissionSet, error) {
	if set, _, ok, err := s.cacheGet(ctx, userID); err == nil && ok {
		return set, nil
	}

	result, err, _ := s.group.Do(strconv.FormatInt(userID, 10), func() (any, error) {
		start := s.clock()
		set, err := s.resolveUncached(ctx, userID)
		if err != nil {
			return nil, err
		}
		if s.metrics != nil {
			s.metrics.ObserveResolveDuration(time.Since(start))
		}
		if s.cache != nil {
			if err := s.cache.Set(ctx, userID, set, s.clock()); err != nil && s.logger != nil {
				s.logger.Warn("resolver: cache set failed", slog.Int64("user_id", userID), slog.Any("error", err))
			}
		}
		return set, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(PermissionSet), nil
}

// HasPermission is the single authorization check the rest of the system
// calls. Storage failures deny: authorization fails closed.
func (s *Service) HasPermission(ctx context.Context, userID int64, permission string) (bool, error) {
	set, err := s.Resolve(ctx, userID)
	if err != nil {
		return false, err
	}
	return set.Has(permission), nil
}

// resolveUncached applies the precedence order: Super Admin short-circuit,
// role union (normalized + legacy), temporary grants, then overrides with
// deny winning over every grant source.
func (s *Service) resolveUncached(ctx context.Context, userID int64) (PermissionSet, error) {
	userRole, err := s.roles.GetUserRole(ctx, userID)
	if err != nil {
		return nil, err
	}

	if catalog.IsSuperAdminRole(userRole.RoleName) {
		perms, err := s.roles.ListPermissions(ctx)
		if err != nil {
			return nil, fmt.Errorf("resolver: load catalog: %w", err)
		}
		set := make(PermissionSet, len(perms))
		for _, p := range perms {
			set.Add(p.Name)
		}
		return set, nil
	}

	set := make(PermissionSet)
	if userRole.RoleID != nil {
		names, err := s.roles.RolePermissionNames(ctx, *userRole.RoleID)
		if err != nil {
			return nil, err
		}
		for _, name := range names {
			set.Add(name)
		}
	}
	if userRole.RoleName != "" {
		names, err := s.roles.LegacyRolePermissionNames(ctx, userRole.RoleName)
		if err != nil {
			return nil, err
		}
		for _, name := range names {
			set.Add(name)
		}
	}

	grantNames, err := s.grants.EffectiveGrantNames(ctx, userID, s.clock())
	if err != nil {
		return nil, err
	}
	for _, name := range grantNames {
		set.Add(name)
	}

	overrides, err := s.overrides.Overrides(ctx, userID)
	if err != nil {
		return nil, err
	}
	for _, o := range overrides {
		if o.Allowed {
			set.Add(o.PermissionName)
		} else {
			set.Remove(o.PermissionName)
		}
	}

	return set, nil
}

// IsSuperAdmin reports whether the user holds the terminal role.
func (s *Service) IsSuperAdmin(ctx context.Context, userID int64) (bool, error) {
	userRole, err := s.roles.GetUserRole(ctx, userID)
	if err != nil {
		return false, err
	}
	return catalog.IsSuperAdminRole(userRole.RoleName), nil
}

func (s *Service) cacheGet(ctx context.Context, userID int64) (PermissionSet, time.Time, bool, error) {
	if s.cache == nil {
		return nil, time.Time{}, false, nil
	}
	set, at, ok, err := s.cache.Get(ctx, userID)
	if err != nil {
		// A broken cache must not break authorization; fall through to a
		// fresh resolution.
		if s.logger != nil {
			s.logger.Warn("resolver: cache read failed", slog.Int64("user_id", userID), slog.Any("error", err))
		}
		return nil, time.Time{}, false, nil
	}
	return set, at, ok, err
}
