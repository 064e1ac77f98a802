package audit

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Service coordinates the append-only session log.
type Service struct {
	repo      Repository
	logger    *slog.Logger
	retention time.Duration
	clock     func() time.Time
}

// NewService constructs the audit service.
func NewService(repo Repository, logger *slog.Logger, retention time.Duration) *Service {
	return &Service{
		repo:      repo,
		logger:    logger,
		retention: retention,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// StartSession opens a session for an authenticated identity.
func (s *Service) StartSession(ctx context.Context, userID int64, ip, userAgent string) (Session, error) {
	if userID <= 0 {
		return Session{}, errors.New("audit: session requires a user")
	}
	sess := Session{
		ID:        uuid.New(),
		UserID:    userID,
		StartedAt: s.clock(),
		IPAddress: ip,
		UserAgent: userAgent,
	}
	if err := s.repo.CreateSession(ctx, sess); err != nil {
		return Session{}, err
	}
	return sess, nil
}

// RecordAction appends one action. Validation failures and storage errors
// are returned so handlers can decide; most callers use Record instead.
func (s *Service) RecordAction(ctx context.Context, sessionID *uuid.UUID, userID int64, actionType string, details map[string]any) error {
	actionType = strings.TrimSpace(actionType)
	if actionType == "" {
		return errors.New("audit: action type required")
	}
	if userID <= 0 {
		return errors.New("audit: action requires a user")
	}
	if sessionID != nil {
		if _, err := s.repo.GetSession(ctx, *sessionID); err != nil {
			return err
		}
	}
	return s.repo.AppendAction(ctx, Action{
		SessionID:   sessionID,
		UserID:      userID,
		ActionType:  actionType,
		Details:     details,
		PerformedAt: s.clock(),
	})
}

// Record is the fire-and-forget audit hook other modules call. Failures are
// logged, never surfaced; an audit hiccup must not fail the caller's
// mutation.
func (s *Service) Record(ctx context.Context, sessionID *uuid.UUID, userID int64, actionType string, details map[string]any) {
	if err := s.RecordAction(ctx, sessionID, userID, actionType, details); err != nil && s.logger != nil {
		s.logger.Error("audit: record failed",
			slog.Int64("user_id", userID),
			slog.String("action_type", actionType),
			slog.Any("error", err),
		)
	}
}

// UserActions lists a user's actions inside a lookback window.
func (s *Service) UserActions(ctx context.Context, userID int64, window time.Duration) ([]Action, error) {
	return s.repo.ListUserActions(ctx, userID, s.clock().Add(-window))
}

// Cleanup removes rows past the retention window.
func (s *Service) Cleanup(ctx context.Context) (int64, error) {
	if s.retention <= 0 {
		return 0, nil
	}
	return s.repo.DeleteOlderThan(ctx, s.clock().Add(-s.retention))
}
