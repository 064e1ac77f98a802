package requests

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/clinicore/clinicore-authz/internal/catalog"
	"github.com/clinicore/clinicore-authz/internal/shared"
)

// ActionApproveRequest is the audit action type appended when an approved
// request's overrides are written.
const ActionApproveRequest = "approve_change_request"

// CatalogReader resolves permission names before an approval writes anything.
type CatalogReader interface {
	GetPermissionByName(ctx context.Context, name string) (catalog.Permission, error)
}

// Invalidator clears cached permission sets after mutations.
type Invalidator interface {
	Invalidate(ctx context.Context, userID int64) error
}

// Service runs the change-request state machine.
type Service struct {
	repo    Repository
	catalog CatalogReader
	cache   Invalidator
	logger  *slog.Logger
	clock   func() time.Time
}

// NewService constructs the change-request service.
func NewService(repo Repository, cat CatalogReader, cache Invalidator, logger *slog.Logger) *Service {
	return &Service{
		repo:    repo,
		catalog: cat,
		cache:   cache,
		logger:  logger,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Submit creates a pending request.
func (s *Service) Submit(ctx context.Context, userID, requestedBy int64, add, remove []string, reason string, expiresAt time.Time) (ChangeRequest, error) {
	now := s.clock()
	if len(add) == 0 && len(remove) == 0 {
		return ChangeRequest{}, fmt.Errorf("requests: nothing to change: %w", shared.ErrValidation)
	}
	if !expiresAt.IsZero() && !expiresAt.After(now) {
		return ChangeRequest{}, fmt.Errorf("requests: expiry must be in the future: %w", shared.ErrValidation)
	}
	req := ChangeRequest{
		ID:                  uuid.New(),
		UserID:              userID,
		RequestedBy:         requestedBy,
		PermissionsToAdd:    add,
		PermissionsToRemove: remove,
		Reason:              reason,
		Status:              StatusPending,
		ExpiresAt:           expiresAt,
		CreatedAt:           now,
	}
	if err := s.repo.Create(ctx, req); err != nil {
		return ChangeRequest{}, err
	}
	return req, nil
}

// Approve moves a pending request to approved and applies its amendments as
// overrides: additions become explicit allows, removals explicit denies. All
// permission names resolve first, then the status flip, the override writes
// and the audit action commit together; a failure leaves the request pending
// with no overrides applied.
func (s *Service) Approve(ctx context.Context, id uuid.UUID, approvedBy int64) (ChangeRequest, error) {
	req, err := s.repo.Get(ctx, id)
	if err != nil {
		return ChangeRequest{}, err
	}
	now := s.clock()
	if req.Terminal() {
		return ChangeRequest{}, fmt.Errorf("requests: request %s is already %s: %w", id, req.Status, shared.ErrConflict)
	}
	if req.ExpiredAt(now) {
		return ChangeRequest{}, fmt.Errorf("requests: request %s has expired: %w", id, shared.ErrConflict)
	}

	overrides := make([]OverrideChange, 0, len(req.PermissionsToAdd)+len(req.PermissionsToRemove))
	for _, name := range req.PermissionsToAdd {
		perm, err := s.catalog.GetPermissionByName(ctx, name)
		if err != nil {
			return ChangeRequest{}, fmt.Errorf("requests: resolve %q: %w", name, err)
		}
		overrides = append(overrides, OverrideChange{PermissionID: perm.ID, PermissionName: perm.Name, Allowed: true})
	}
	for _, name := range req.PermissionsToRemove {
		perm, err := s.catalog.GetPermissionByName(ctx, name)
		if err != nil {
			return ChangeRequest{}, fmt.Errorf("requests: resolve %q: %w", name, err)
		}
		overrides = append(overrides, OverrideChange{PermissionID: perm.ID, PermissionName: perm.Name, Allowed: false})
	}

	changed, err := s.repo.ApproveAndApply(ctx, id, req.UserID, approvedBy, now, overrides)
	if err != nil {
		return ChangeRequest{}, err
	}
	if !changed {
		return ChangeRequest{}, fmt.Errorf("requests: request %s changed state concurrently: %w", id, shared.ErrConflict)
	}
	if err := s.cache.Invalidate(ctx, req.UserID); err != nil && s.logger != nil {
		s.logger.Warn("cache invalidation after approval", slog.Int64("user_id", req.UserID), slog.Any("error", err))
	}
	req.Status = StatusApproved
	req.DecidedBy = &approvedBy
	req.DecidedAt = &now
	return req, nil
}

// Reject moves a pending request to rejected.
func (s *Service) Reject(ctx context.Context, id uuid.UUID, rejectedBy int64) (ChangeRequest, error) {
	return s.transition(ctx, id, StatusRejected, rejectedBy)
}

// Get fetches a request, reporting lapsed pending requests as expired.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (ChangeRequest, error) {
	req, err := s.repo.Get(ctx, id)
	if err != nil {
		return ChangeRequest{}, err
	}
	if req.ExpiredAt(s.clock()) {
		req.Status = StatusExpired
	}
	return req, nil
}

// ListPending returns pending requests that have not lapsed.
func (s *Service) ListPending(ctx context.Context) ([]ChangeRequest, error) {
	reqs, err := s.repo.ListPending(ctx)
	if err != nil {
		return nil, err
	}
	now := s.clock()
	live := reqs[:0]
	for _, req := range reqs {
		if !req.ExpiredAt(now) {
			live = append(live, req)
		}
	}
	return live, nil
}

// SweepExpired persists the expired status on lapsed pending rows.
func (s *Service) SweepExpired(ctx context.Context) (int64, error) {
	return s.repo.ExpirePending(ctx, s.clock())
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, to string, decidedBy int64) (ChangeRequest, error) {
	req, err := s.repo.Get(ctx, id)
	if err != nil {
		return ChangeRequest{}, err
	}
	now := s.clock()
	if req.Terminal() {
		return ChangeRequest{}, fmt.Errorf("requests: request %s is already %s: %w", id, req.Status, shared.ErrConflict)
	}
	if req.ExpiredAt(now) {
		return ChangeRequest{}, fmt.Errorf("requests: request %s has expired: %w", id, shared.ErrConflict)
	}
	changed, err := s.repo.UpdateStatus(ctx, id, StatusPending, to, &decidedBy, now)
	if err != nil {
		return ChangeRequest{}, err
	}
	if !changed {
		return ChangeRequest{}, fmt.Errorf("requests: request %s changed state concurrently: %w", id, shared.ErrConflict)
	}
	req.Status = to
	req.DecidedBy = &decidedBy
	req.DecidedAt = &now
	return req, nil
}
