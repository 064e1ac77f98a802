package anomaly

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/clinicore/clinicore-authz/internal/audit"
)

// Detector runs the time-windowed anomaly checks. Detection is stateless
// given current data: re-running without new data reproduces the same
// findings.
type Detector struct {
	repo   Repository
	cfg    Config
	logger *slog.Logger
	clock  func() time.Time
}

// NewDetector constructs a Detector.
func NewDetector(repo Repository, cfg Config, logger *slog.Logger) *Detector {
	if cfg.BulkGrantThreshold <= 0 {
		cfg = DefaultConfig()
	}
	return &Detector{
		repo:   repo,
		cfg:    cfg,
		logger: logger,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Detect runs every check at the given instant. A failing check is logged
// and skipped so one broken query never hides the other findings; the
// joined error flags the partial result to the caller. Monitoring failures
// must never affect authorization, so callers treat errors as
// empty-but-flagged, not fatal.
func (d *Detector) Detect(ctx context.Context, now time.Time) ([]Anomaly, error) {
	if now.IsZero() {
		now = d.clock()
	}

	checks := []struct {
		name string
		run  func(context.Context, time.Time) ([]Anomaly, error)
	}{
		{"bulk_grants", d.checkBulkGrants},
		{"high_risk_grants", d.checkHighRiskGrants},
		{"rapid_changes", d.checkRapidChanges},
		{"unusual_hours", d.checkUnusualHours},
		{"escalation_attempts", d.checkEscalationAttempts},
	}

	anomalies := make([]Anomaly, 0)
	var failed []error
	for _, check := range checks {
		found, err := check.run(ctx, now)
		if err != nil {
			if d.logger != nil {
				d.logger.Error("anomaly: check failed", slog.String("check", check.name), slog.Any("error", err))
			}
			failed = append(failed, fmt.Errorf("%s: %w", check.name, err))
			continue
		}
		anomalies = append(anomalies, found...)
	}
	return anomalies, errors.Join(failed...)
}

// GetStats computes the dashboard aggregate from the same queries Detect
// uses, plus today's failed-login tally.
func (d *Detector) GetStats(ctx context.Context, now time.Time) (Stats, error) {
	if now.IsZero() {
		now = d.clock()
	}
	anomalies, err := d.Detect(ctx, now)
	if err != nil {
		return Stats{}, err
	}
	stats := Stats{AnomalyCount: len(anomalies)}
	for _, a := range anomalies {
		if a.Severity == SeverityHigh {
			stats.HighSeverityCount++
		}
		switch a.Type {
		case TypeHighRiskGrants:
			if n, ok := a.Data["high_risk_permissions"].(int); ok {
				stats.HighRiskGrantCount += n
			}
		case TypeUnusualHours:
			if hours, ok := a.Data["hours"].([]int); ok {
				stats.UnusualHourCount += len(hours)
			}
		}
	}
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	failed, err := d.repo.FailedLoginCount(ctx, midnight)
	if err != nil {
		return Stats{}, err
	}
	stats.FailedLoginCount = failed
	return stats, nil
}

func (d *Detector) checkBulkGrants(ctx context.Context, now time.Time) ([]Anomaly, error) {
	events, err := d.repo.GrantEvents(ctx, now.Add(-d.cfg.BulkGrantWindow), now)
	if err != nil {
		return nil, err
	}
	byUser := make(map[int64][]string)
	for _, e := range events {
		byUser[e.UserID] = append(byUser[e.UserID], e.PermissionName)
	}
	var anomalies []Anomaly
	for userID, perms := range byUser {
		if len(perms) < d.cfg.BulkGrantThreshold {
			continue
		}
		sort.Strings(perms)
		anomalies = append(anomalies, Anomaly{
			Type:        TypeBulkGrants,
			Severity:    SeverityMedium,
			UserID:      userID,
			Description: fmt.Sprintf("%d temporary permissions granted within %s", len(perms), d.cfg.BulkGrantWindow),
			DetectedAt:  now,
			Data: map[string]any{
				"grant_count":    len(perms),
				"window_minutes": int(d.cfg.BulkGrantWindow.Minutes()),
				"permissions":    perms,
			},
		})
	}
	return anomalies, nil
}

func (d *Detector) checkHighRiskGrants(ctx context.Context, now time.Time) ([]Anomaly, error) {
	events, err := d.repo.GrantEvents(ctx, now.Add(-d.cfg.HighRiskWindow), now)
	if err != nil {
		return nil, err
	}
	byUser := make(map[int64][]string)
	for _, e := range events {
		if d.isHighRisk(e.PermissionName) {
			byUser[e.UserID] = append(byUser[e.UserID], e.PermissionName)
		}
	}
	var anomalies []Anomaly
	for userID, perms := range byUser {
		if len(perms) < d.cfg.HighRiskThreshold {
			continue
		}
		sort.Strings(perms)
		anomalies = append(anomalies, Anomaly{
			Type:        TypeHighRiskGrants,
			Severity:    SeverityHigh,
			UserID:      userID,
			Description: fmt.Sprintf("%d high-risk permissions granted within %s", len(perms), d.cfg.HighRiskWindow),
			DetectedAt:  now,
			Data: map[string]any{
				"high_risk_permissions": len(perms),
				"permissions":           perms,
			},
		})
	}
	return anomalies, nil
}

func (d *Detector) checkRapidChanges(ctx context.Context, now time.Time) ([]Anomaly, error) {
	counts, err := d.repo.MutatingActionCounts(ctx, now.Add(-d.cfg.RapidChangeWindow), audit.PermissionMutatingActions)
	if err != nil {
		return nil, err
	}
	var anomalies []Anomaly
	for userID, count := range counts {
		if count < d.cfg.RapidChangeThreshold {
			continue
		}
		anomalies = append(anomalies, Anomaly{
			Type:        TypeRapidChanges,
			Severity:    SeverityHigh,
			UserID:      userID,
			Description: fmt.Sprintf("%d permission changes within %s", count, d.cfg.RapidChangeWindow),
			DetectedAt:  now,
			Data: map[string]any{
				"change_count":   count,
				"window_minutes": int(d.cfg.RapidChangeWindow.Minutes()),
			},
		})
	}
	return anomalies, nil
}

func (d *Detector) checkUnusualHours(ctx context.Context, now time.Time) ([]Anomaly, error) {
	activity, err := d.repo.HourlyActivity(ctx, now.Add(-24*time.Hour))
	if err != nil {
		return nil, err
	}
	type evidence struct {
		hours []int
		count int
	}
	byUser := make(map[int64]*evidence)
	for _, h := range activity {
		if !d.inUnusualWindow(h.Hour) {
			continue
		}
		e, ok := byUser[h.UserID]
		if !ok {
			e = &evidence{}
			byUser[h.UserID] = e
		}
		e.hours = append(e.hours, h.Hour)
		e.count += h.Count
	}
	var anomalies []Anomaly
	for userID, e := range byUser {
		sort.Ints(e.hours)
		anomalies = append(anomalies, Anomaly{
			Type:        TypeUnusualHours,
			Severity:    SeverityMedium,
			UserID:      userID,
			Description: fmt.Sprintf("activity during unusual hours %v", e.hours),
			DetectedAt:  now,
			Data: map[string]any{
				"hours":        e.hours,
				"action_count": e.count,
			},
		})
	}
	return anomalies, nil
}

func (d *Detector) checkEscalationAttempts(ctx context.Context, now time.Time) ([]Anomaly, error) {
	pending, err := d.repo.PendingRequests(ctx)
	if err != nil {
		return nil, err
	}
	var anomalies []Anomaly
	for _, req := range pending {
		for _, requested := range req.Permissions {
			canonical, ok := d.highRiskMatch(requested)
			if !ok {
				continue
			}
			anomalies = append(anomalies, Anomaly{
				Type:        TypeEscalation,
				Severity:    SeverityHigh,
				UserID:      req.UserID,
				Description: fmt.Sprintf("pending change request asks for high-risk permission %q", canonical),
				DetectedAt:  now,
				Data: map[string]any{
					"permission": canonical,
					"requested":  requested,
					"request_id": req.ID.String(),
				},
			})
		}
	}
	return anomalies, nil
}

func (d *Detector) isHighRisk(name string) bool {
	_, ok := d.highRiskMatch(name)
	return ok
}

// highRiskMatch reports whether a permission name matches the configured
// high-risk list, case-insensitively, returning the canonical list entry.
func (d *Detector) highRiskMatch(name string) (string, bool) {
	lowered := strings.ToLower(name)
	for _, risky := range d.cfg.HighRiskPermissions {
		if strings.Contains(lowered, strings.ToLower(risky)) {
			return risky, true
		}
	}
	return "", false
}

func (d *Detector) inUnusualWindow(hour int) bool {
	start, end := d.cfg.UnusualHoursStart, d.cfg.UnusualHoursEnd
	if start <= end {
		return hour >= start && hour < end
	}
	// Window wraps midnight, e.g. 22-6.
	return hour >= start || hour < end
}
