package audit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/clinicore/clinicore-authz/internal/shared"
)

type memoryAuditRepo struct {
	sessions map[uuid.UUID]Session
	actions  []Action
}

func newMemoryAuditRepo() *memoryAuditRepo {
	return &memoryAuditRepo{sessions: make(map[uuid.UUID]Session)}
}

func (r *memoryAuditRepo) CreateSession(ctx context.Context, s Session) error {
	r.sessions[s.ID] = s
	return nil
}

func (r *memoryAuditRepo) GetSession(ctx context.Context, id uuid.UUID) (Session, error) {
	s, ok := r.sessions[id]
	if !ok {
		return Session{}, fmt.Errorf("audit: session %s: %w", id, shared.ErrNotFound)
	}
	return s, nil
}

func (r *memoryAuditRepo) AppendAction(ctx context.Context, a Action) error {
	r.actions = append(r.actions, a)
	return nil
}

func (r *memoryAuditRepo) ListUserActions(ctx context.Context, userID int64, since time.Time) ([]Action, error) {
	var out []Action
	for _, a := range r.actions {
		if a.UserID == userID && !a.PerformedAt.Before(since) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *memoryAuditRepo) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	kept := r.actions[:0]
	var n int64
	for _, a := range r.actions {
		if a.PerformedAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, a)
	}
	r.actions = kept
	return n, nil
}

func TestStartSessionRequiresUser(t *testing.T) {
	svc := NewService(newMemoryAuditRepo(), nil, 0)

	_, err := svc.StartSession(context.Background(), 0, "10.0.0.1", "test-agent")
	require.Error(t, err)
}

func TestRecordActionValidatesSession(t *testing.T) {
	repo := newMemoryAuditRepo()
	svc := NewService(repo, nil, 0)

	unknown := uuid.New()
	err := svc.RecordAction(context.Background(), &unknown, 1, "grant_temporary_permission", nil)
	require.ErrorIs(t, err, shared.ErrNotFound)

	sess, err := svc.StartSession(context.Background(), 1, "10.0.0.1", "test-agent")
	require.NoError(t, err)

	err = svc.RecordAction(context.Background(), &sess.ID, 1, "grant_temporary_permission", map[string]any{"permission": "edit-records"})
	require.NoError(t, err)
	require.Len(t, repo.actions, 1)
	require.Equal(t, "grant_temporary_permission", repo.actions[0].ActionType)
}

func TestRecordActionRejectsBlankType(t *testing.T) {
	svc := NewService(newMemoryAuditRepo(), nil, 0)

	err := svc.RecordAction(context.Background(), nil, 1, "   ", nil)
	require.Error(t, err)
}

func TestUserActionsWindowsByTime(t *testing.T) {
	repo := newMemoryAuditRepo()
	svc := NewService(repo, nil, 0)

	now := time.Now().UTC()
	repo.actions = []Action{
		{UserID: 1, ActionType: "assign_role", PerformedAt: now.Add(-2 * time.Hour)},
		{UserID: 1, ActionType: "assign_role", PerformedAt: now.Add(-30 * time.Hour)},
		{UserID: 2, ActionType: "assign_role", PerformedAt: now.Add(-time.Hour)},
	}

	actions, err := svc.UserActions(context.Background(), 1, 24*time.Hour)
	require.NoError(t, err)
	require.Len(t, actions, 1)
}

func TestCleanupHonorsRetention(t *testing.T) {
	repo := newMemoryAuditRepo()
	svc := NewService(repo, nil, 24*time.Hour)

	now := time.Now().UTC()
	repo.actions = []Action{
		{UserID: 1, PerformedAt: now.Add(-48 * time.Hour)},
		{UserID: 1, PerformedAt: now.Add(-time.Hour)},
	}

	n, err := svc.Cleanup(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(1), n)
	require.Len(t, repo.actions, 1)
}

func TestCleanupDisabledWithoutRetention(t *testing.T) {
	repo := newMemoryAuditRepo()
	svc := NewService(repo, nil, 0)
	repo.actions = []Action{{UserID: 1, PerformedAt: time.Now().UTC().Add(-1000 * time.Hour)}}

	n, err := svc.Cleanup(context.Background())
	require.NoError(t, err)
	require.Zero(t, n)
	require.Len(t, repo.actions, 1)
}
