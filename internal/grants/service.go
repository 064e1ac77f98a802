package grants

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/clinicore/clinicore-authz/internal/catalog"
	"github.com/clinicore/clinicore-authz/internal/shared"
)

// Audit action types appended by grant mutations.
const (
	ActionGrantTemporary  = "grant_temporary_permission"
	ActionRevokeTemporary = "revoke_temporary_permission"
	ActionSetOverride     = "set_permission_override"
	ActionClearOverride   = "clear_permission_override"
)

// Dependency policies.
const (
	PolicyReject  = "reject"
	PolicyInclude = "include"
)

// CatalogReader is the slice of the catalog the grant manager needs.
type CatalogReader interface {
	GetPermissionByName(ctx context.Context, name string) (catalog.Permission, error)
	DependencyNames(ctx context.Context, permissionID int64) ([]string, error)
}

// EffectiveChecker answers "does this user already hold this permission".
// Wired to the resolver at startup; declared here to avoid a package cycle.
type EffectiveChecker interface {
	HasPermission(ctx context.Context, userID int64, permission string) (bool, error)
}

// Invalidator clears cached permission sets after mutations.
type Invalidator interface {
	Invalidate(ctx context.Context, userID int64) error
}

// GrantRequest carries the inputs of a temporary grant operation.
type GrantRequest struct {
	UserID         int64
	PermissionName string
	GrantedBy      int64
	ExpiresAt      time.Time
	Reason         string
}

// Service manages the temporary-permission and override lifecycle.
type Service struct {
	repo             Repository
	catalog          CatalogReader
	checker          EffectiveChecker
	cache            Invalidator
	logger           *slog.Logger
	dependencyPolicy string
	clock            func() time.Time
}

// NewService constructs the grant manager. dependencyPolicy is PolicyReject
// or PolicyInclude.
func NewService(repo Repository, cat CatalogReader, checker EffectiveChecker, cache Invalidator, logger *slog.Logger, dependencyPolicy string) *Service {
	if dependencyPolicy == "" {
		dependencyPolicy = PolicyReject
	}
	return &Service{
		repo:             repo,
		catalog:          cat,
		checker:          checker,
		cache:            cache,
		logger:           logger,
		dependencyPolicy: strings.ToLower(dependencyPolicy),
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Grant creates an active temporary permission. Under PolicyInclude, unmet
// dependencies are granted alongside in the same transaction; under
// PolicyReject the call fails naming the first missing dependency.
func (s *Service) Grant(ctx context.Context, req GrantRequest) ([]TemporaryPermission, error) {
	now := s.clock()
	if !req.ExpiresAt.After(now) {
		return nil, fmt.Errorf("grants: expiry must be in the future: %w", shared.ErrValidation)
	}
	perm, err := s.catalog.GetPermissionByName(ctx, req.PermissionName)
	if err != nil {
		return nil, err
	}

	toGrant := []catalog.Permission{perm}
	deps, err := s.catalog.DependencyNames(ctx, perm.ID)
	if err != nil {
		return nil, err
	}
	for _, dep := range deps {
		held, err := s.checker.HasPermission(ctx, req.UserID, dep)
		if err != nil {
			return nil, err
		}
		if held {
			continue
		}
		if s.dependencyPolicy == PolicyReject {
			return nil, fmt.Errorf("grants: permission %q requires %q which user %d does not hold: %w",
				perm.Name, dep, req.UserID, shared.ErrValidation)
		}
		depPerm, err := s.catalog.GetPermissionByName(ctx, dep)
		if err != nil {
			return nil, err
		}
		toGrant = append(toGrant, depPerm)
	}

	created := make([]TemporaryPermission, 0, len(toGrant))
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		for _, p := range toGrant {
			tp, err := tx.InsertGrant(ctx, TemporaryPermission{
				UserID:       req.UserID,
				PermissionID: p.ID,
				GrantedBy:    req.GrantedBy,
				GrantedAt:    now,
				ExpiresAt:    req.ExpiresAt,
				Reason:       req.Reason,
			})
			if err != nil {
				return err
			}
			created = append(created, tp)
		}
		return tx.AppendAudit(ctx, req.UserID, ActionGrantTemporary, map[string]any{
			"permission": perm.Name,
			"granted_by": req.GrantedBy,
			"expires_at": req.ExpiresAt.Format(time.RFC3339),
			"reason":     req.Reason,
			"grants":     len(created),
		})
	})
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, req.UserID)
	return created, nil
}

// Revoke deactivates a grant. Revoking an already-inactive grant is a no-op.
func (s *Service) Revoke(ctx context.Context, grantID, revokedBy int64) error {
	grant, err := s.repo.GetGrant(ctx, grantID)
	if err != nil {
		return err
	}
	if !grant.IsActive {
		return nil
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		changed, err := tx.DeactivateGrant(ctx, grantID)
		if err != nil {
			return err
		}
		if !changed {
			// Lost the race with another revoke; still idempotent.
			return nil
		}
		return tx.AppendAudit(ctx, grant.UserID, ActionRevokeTemporary, map[string]any{
			"grant_id":   grantID,
			"revoked_by": revokedBy,
		})
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx, grant.UserID)
	return nil
}

// SetOverride records an explicit allow or deny for one user+permission.
func (s *Service) SetOverride(ctx context.Context, userID int64, permissionName string, allowed bool, actorID int64) error {
	perm, err := s.catalog.GetPermissionByName(ctx, permissionName)
	if err != nil {
		return err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.UpsertOverride(ctx, Override{UserID: userID, PermissionID: perm.ID, Allowed: allowed}); err != nil {
			return err
		}
		return tx.AppendAudit(ctx, userID, ActionSetOverride, map[string]any{
			"permission": perm.Name,
			"allowed":    allowed,
			"actor":      actorID,
		})
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx, userID)
	return nil
}

// ClearOverride removes an override if present.
func (s *Service) ClearOverride(ctx context.Context, userID int64, permissionName string, actorID int64) error {
	perm, err := s.catalog.GetPermissionByName(ctx, permissionName)
	if err != nil {
		return err
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		removed, err := tx.DeleteOverride(ctx, userID, perm.ID)
		if err != nil || !removed {
			return err
		}
		return tx.AppendAudit(ctx, userID, ActionClearOverride, map[string]any{
			"permission": perm.Name,
			"actor":      actorID,
		})
	})
	if err != nil {
		return err
	}
	s.invalidate(ctx, userID)
	return nil
}

// ListUserGrants exposes a user's grant history.
func (s *Service) ListUserGrants(ctx context.Context, userID int64) ([]TemporaryPermission, error) {
	return s.repo.ListUserGrants(ctx, userID)
}

// SweepExpired deactivates expired rows and reports how many were flipped.
func (s *Service) SweepExpired(ctx context.Context) (int64, error) {
	return s.repo.DeactivateExpired(ctx, s.clock())
}

func (s *Service) invalidate(ctx context.Context, userID int64) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, userID); err != nil && s.logger != nil {
		s.logger.Error("grants: cache invalidation failed", slog.Int64("user_id", userID), slog.Any("error", err))
	}
}
