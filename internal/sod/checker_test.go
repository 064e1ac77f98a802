package sod

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/clinicore/clinicore-authz/internal/resolver"
	"github.com/clinicore/clinicore-authz/internal/shared"
)

type memoryRuleRepo struct {
	rules  map[int64]Rule
	nextID int64
}

func newMemoryRuleRepo() *memoryRuleRepo {
	return &memoryRuleRepo{rules: make(map[int64]Rule)}
}

func (r *memoryRuleRepo) CreateRule(ctx context.Context, rule Rule) (Rule, error) {
	r.nextID++
	rule.ID = r.nextID
	r.rules[rule.ID] = rule
	return rule, nil
}

func (r *memoryRuleRepo) ListRules(ctx context.Context) ([]Rule, error) {
	var out []Rule
	for _, rule := range r.rules {
		out = append(out, rule)
	}
	return out, nil
}

func (r *memoryRuleRepo) DeleteRule(ctx context.Context, id int64) error {
	if _, ok := r.rules[id]; !ok {
		return shared.ErrNotFound
	}
	delete(r.rules, id)
	return nil
}

type stubResolver struct {
	sets   map[int64]resolver.PermissionSet
	supers map[int64]bool
}

func (s *stubResolver) Resolve(ctx context.Context, userID int64) (resolver.PermissionSet, error) {
	return s.sets[userID], nil
}

func (s *stubResolver) IsSuperAdmin(ctx context.Context, userID int64) (bool, error) {
	return s.supers[userID], nil
}

func TestCheckViolationsFlagsHeldPairs(t *testing.T) {
	repo := newMemoryRuleRepo()
	res := &stubResolver{sets: map[int64]resolver.PermissionSet{
		1: resolver.NewPermissionSet("prescribe-medication", "dispense-medication", "view-patients"),
	}}
	checker := NewChecker(repo, res)

	rule, err := checker.AddRule(context.Background(), Rule{
		PermissionA: "prescribe-medication",
		PermissionB: "dispense-medication",
		Severity:    SeverityCritical,
		Description: "prescriber must not dispense",
	})
	require.NoError(t, err)

	violations, err := checker.CheckViolations(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, violations, 1)
	require.Equal(t, rule.ID, violations[0].RuleID)
	require.Equal(t, int64(1), violations[0].UserID)
	require.True(t, violations[0].Blocking())
}

func TestCheckViolationsIgnoresPartialPairs(t *testing.T) {
	repo := newMemoryRuleRepo()
	res := &stubResolver{sets: map[int64]resolver.PermissionSet{
		1: resolver.NewPermissionSet("prescribe-medication", "view-patients"),
	}}
	checker := NewChecker(repo, res)

	_, err := checker.AddRule(context.Background(), Rule{
		PermissionA: "prescribe-medication",
		PermissionB: "dispense-medication",
		Severity:    SeverityHigh,
	})
	require.NoError(t, err)

	violations, err := checker.CheckViolations(context.Background(), 1)
	require.NoError(t, err)
	require.Empty(t, violations)
}

func TestCheckViolationsExemptsSuperAdmin(t *testing.T) {
	repo := newMemoryRuleRepo()
	res := &stubResolver{
		sets: map[int64]resolver.PermissionSet{
			9: resolver.NewPermissionSet("prescribe-medication", "dispense-medication"),
		},
		supers: map[int64]bool{9: true},
	}
	checker := NewChecker(repo, res)

	_, err := checker.AddRule(context.Background(), Rule{
		PermissionA: "prescribe-medication",
		PermissionB: "dispense-medication",
		Severity:    SeverityCritical,
	})
	require.NoError(t, err)

	violations, err := checker.CheckViolations(context.Background(), 9)
	require.NoError(t, err)
	require.Empty(t, violations)
}

func TestAddRuleValidation(t *testing.T) {
	checker := NewChecker(newMemoryRuleRepo(), &stubResolver{})

	_, err := checker.AddRule(context.Background(), Rule{PermissionA: "a", Severity: SeverityLow})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = checker.AddRule(context.Background(), Rule{PermissionA: "a", PermissionB: "a", Severity: SeverityLow})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = checker.AddRule(context.Background(), Rule{PermissionA: "a", PermissionB: "b", Severity: "extreme"})
	require.ErrorIs(t, err, shared.ErrValidation)

	rule, err := checker.AddRule(context.Background(), Rule{PermissionA: " a ", PermissionB: "b", Severity: "HIGH"})
	require.NoError(t, err)
	require.Equal(t, "a", rule.PermissionA)
	require.Equal(t, SeverityHigh, rule.Severity)
}

func TestOnlyCriticalViolationsBlock(t *testing.T) {
	require.True(t, Violation{Severity: SeverityCritical}.Blocking())
	require.False(t, Violation{Severity: SeverityHigh}.Blocking())
	require.False(t, Violation{Severity: SeverityMedium}.Blocking())
	require.False(t, Violation{Severity: SeverityLow}.Blocking())
}
