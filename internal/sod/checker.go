package sod

import (
	"context"
	"fmt"
	"strings"

	"github.com/clinicore/clinicore-authz/internal/resolver"
	"github.com/clinicore/clinicore-authz/internal/shared"
)

// Resolver is the slice of the permission resolver the checker needs.
type Resolver interface {
	Resolve(ctx context.Context, userID int64) (resolver.PermissionSet, error)
	IsSuperAdmin(ctx context.Context, userID int64) (bool, error)
}

// Checker evaluates segregation rules against resolved permission sets.
type Checker struct {
	repo     Repository
	resolver Resolver
}

// NewChecker constructs a Checker.
func NewChecker(repo Repository, res Resolver) *Checker {
	return &Checker{repo: repo, resolver: res}
}

// CheckViolations returns every rule whose permission pair the user holds
// simultaneously. Super Admins are exempt.
func (c *Checker) CheckViolations(ctx context.Context, userID int64) ([]Violation, error) {
	super, err := c.resolver.IsSuperAdmin(ctx, userID)
	if err != nil {
		return nil, err
	}
	if super {
		return nil, nil
	}

	set, err := c.resolver.Resolve(ctx, userID)
	if err != nil {
		return nil, err
	}
	rules, err := c.repo.ListRules(ctx)
	if err != nil {
		return nil, err
	}

	var violations []Violation
	for _, rule := range rules {
		if set.Has(rule.PermissionA) && set.Has(rule.PermissionB) {
			violations = append(violations, Violation{
				RuleID:      rule.ID,
				UserID:      userID,
				PermissionA: rule.PermissionA,
				PermissionB: rule.PermissionB,
				Severity:    rule.Severity,
				Description: rule.Description,
			})
		}
	}
	return violations, nil
}

// AddRule validates and stores a segregation rule.
func (c *Checker) AddRule(ctx context.Context, rule Rule) (Rule, error) {
	rule.PermissionA = strings.TrimSpace(rule.PermissionA)
	rule.PermissionB = strings.TrimSpace(rule.PermissionB)
	rule.Severity = strings.ToLower(strings.TrimSpace(rule.Severity))
	if rule.PermissionA == "" || rule.PermissionB == "" {
		return Rule{}, fmt.Errorf("sod: both permissions are required: %w", shared.ErrValidation)
	}
	if rule.PermissionA == rule.PermissionB {
		return Rule{}, fmt.Errorf("sod: a rule cannot pair a permission with itself: %w", shared.ErrValidation)
	}
	if !ValidSeverity(rule.Severity) {
		return Rule{}, fmt.Errorf("sod: unknown severity %q: %w", rule.Severity, shared.ErrValidation)
	}
	return c.repo.CreateRule(ctx, rule)
}

// ListRules returns all configured rules.
func (c *Checker) ListRules(ctx context.Context) ([]Rule, error) {
	return c.repo.ListRules(ctx)
}

// RemoveRule deletes a rule by ID.
func (c *Checker) RemoveRule(ctx context.Context, id int64) error {
	return c.repo.DeleteRule(ctx, id)
}
