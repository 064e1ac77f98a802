package monitoring

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type memoryMonitorRepo struct {
	metrics []Metric
	alerts  []Alert
	checks  []HealthCheck
}

func (r *memoryMonitorRepo) InsertMetric(ctx context.Context, m Metric) (int64, error) {
	r.metrics = append(r.metrics, m)
	return int64(len(r.metrics)), nil
}

func (r *memoryMonitorRepo) RecentMetrics(ctx context.Context, metricType string, since time.Time) ([]Metric, error) {
	var out []Metric
	for _, m := range r.metrics {
		if m.Type == metricType && !m.RecordedAt.Before(since) {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *memoryMonitorRepo) InsertAlert(ctx context.Context, a Alert) (int64, error) {
	r.alerts = append(r.alerts, a)
	return int64(len(r.alerts)), nil
}

func (r *memoryMonitorRepo) RecentAlerts(ctx context.Context, since time.Time) ([]Alert, error) {
	var out []Alert
	for _, a := range r.alerts {
		if !a.CreatedAt.Before(since) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *memoryMonitorRepo) InsertHealthCheck(ctx context.Context, hc HealthCheck) (int64, error) {
	r.checks = append(r.checks, hc)
	return int64(len(r.checks)), nil
}

func (r *memoryMonitorRepo) LatestHealth(ctx context.Context) ([]HealthCheck, error) {
	return r.checks, nil
}

type dispatched struct {
	alert      Alert
	recipients []string
	escalate   bool
}

type stubDispatcher struct {
	calls []dispatched
	err   error
}

func (s *stubDispatcher) DispatchAlert(ctx context.Context, alert Alert, recipients []string, escalate bool) error {
	s.calls = append(s.calls, dispatched{alert: alert, recipients: recipients, escalate: escalate})
	return s.err
}

type stubProbe struct {
	err   error
	delay time.Duration
}

func (p stubProbe) Ping(ctx context.Context) error {
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	return p.err
}

func testThresholds() Thresholds {
	return Thresholds{ResponseTimeMS: 200, MinCacheHitRate: 0.8, MaxFailedPerMin: 10}
}

func testRouting() Routing {
	return Routing{
		CriticalRecipients: []string{"oncall@clinicore.test"},
		HighRecipients:     []string{"security@clinicore.test"},
	}
}

func TestLogMetricWithinThresholdRaisesNothing(t *testing.T) {
	repo := &memoryMonitorRepo{}
	disp := &stubDispatcher{}
	svc := NewService(repo, disp, testThresholds(), testRouting(), nil)

	require.NoError(t, svc.LogMetric(context.Background(), MetricResponseTime, 50, nil))
	require.Len(t, repo.metrics, 1)
	require.Empty(t, repo.alerts)
	require.Empty(t, disp.calls)
}

func TestLogMetricBreachRaisesAlert(t *testing.T) {
	repo := &memoryMonitorRepo{}
	disp := &stubDispatcher{}
	svc := NewService(repo, disp, testThresholds(), testRouting(), nil)

	require.NoError(t, svc.LogMetric(context.Background(), MetricResponseTime, 450, nil))
	require.Len(t, repo.alerts, 1)
	require.Equal(t, SeverityHigh, repo.alerts[0].Severity)

	require.Len(t, disp.calls, 1)
	require.Equal(t, []string{"security@clinicore.test"}, disp.calls[0].recipients)
	require.False(t, disp.calls[0].escalate)
}

func TestCriticalAlertEscalates(t *testing.T) {
	repo := &memoryMonitorRepo{}
	disp := &stubDispatcher{}
	svc := NewService(repo, disp, testThresholds(), testRouting(), nil)

	require.NoError(t, svc.LogMetric(context.Background(), MetricFailedAttempts, 25, nil))
	require.Len(t, disp.calls, 1)
	require.Equal(t, []string{"oncall@clinicore.test"}, disp.calls[0].recipients)
	require.True(t, disp.calls[0].escalate)
}

func TestLowCacheHitRateIsLoggedNotDispatched(t *testing.T) {
	repo := &memoryMonitorRepo{}
	disp := &stubDispatcher{}
	svc := NewService(repo, disp, testThresholds(), testRouting(), nil)

	require.NoError(t, svc.LogMetric(context.Background(), MetricCacheHitRate, 0.4, nil))
	require.Len(t, repo.alerts, 1)
	require.Equal(t, SeverityMedium, repo.alerts[0].Severity)
	require.Empty(t, disp.calls, "medium severity must not page anyone")
}

func TestDispatchFailureDoesNotFailTheAlert(t *testing.T) {
	repo := &memoryMonitorRepo{}
	disp := &stubDispatcher{err: errors.New("queue down")}
	svc := NewService(repo, disp, testThresholds(), testRouting(), nil)

	require.NoError(t, svc.RaiseAlert(context.Background(), SeverityCritical, "test", "msg", nil))
	require.Len(t, repo.alerts, 1, "the alert must still be persisted")
}

func TestCheckHealthReportsPerComponent(t *testing.T) {
	repo := &memoryMonitorRepo{}
	disp := &stubDispatcher{}
	svc := NewService(repo, disp, testThresholds(), testRouting(), nil)
	svc.RegisterProbe("database", stubProbe{})
	svc.RegisterProbe("cache", stubProbe{err: errors.New("connection refused")})

	checks, err := svc.CheckHealth(context.Background())
	require.NoError(t, err)
	require.Len(t, checks, 2)

	byComponent := make(map[string]HealthCheck, len(checks))
	for _, hc := range checks {
		byComponent[hc.Component] = hc
	}
	require.Equal(t, StatusHealthy, byComponent["database"].Status)
	require.Equal(t, StatusCritical, byComponent["cache"].Status)
	require.Contains(t, byComponent["cache"].Error, "connection refused")

	// The failing component pages the critical route.
	require.Len(t, disp.calls, 1)
	require.True(t, disp.calls[0].escalate)

	status, err := svc.Status(context.Background())
	require.NoError(t, err)
	require.Len(t, status, 2)
}

func TestRecentAlertsWindowsByTime(t *testing.T) {
	repo := &memoryMonitorRepo{}
	svc := NewService(repo, nil, testThresholds(), Routing{}, nil)

	require.NoError(t, svc.RaiseAlert(context.Background(), SeverityLow, "old", "msg", nil))
	repo.alerts[0].CreatedAt = repo.alerts[0].CreatedAt.Add(-48 * time.Hour)
	require.NoError(t, svc.RaiseAlert(context.Background(), SeverityLow, "fresh", "msg", nil))

	alerts, err := svc.RecentAlerts(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	require.Len(t, alerts, 1)
	require.Equal(t, "fresh", alerts[0].Title)
}
