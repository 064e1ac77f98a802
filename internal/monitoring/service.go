package monitoring

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/clinicore/clinicore-authz/internal/shared"
)

// Dispatcher hands alerts off for delivery. Wired to the background queue
// at startup; delivery failures never block the caller.
type Dispatcher interface {
	DispatchAlert(ctx context.Context, alert Alert, recipients []string, escalate bool) error
}

// Pinger is a component probe. Both the database pool and the redis client
// satisfy it through thin adapters.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Service records metrics, raises alerts on threshold breaches and runs
// component health checks.
type Service struct {
	repo       Repository
	dispatcher Dispatcher
	thresholds Thresholds
	routing    Routing
	probes     map[string]Pinger
	logger     *slog.Logger
	printer    *message.Printer
	clock      func() time.Time
}

// NewService constructs the monitoring service.
func NewService(repo Repository, dispatcher Dispatcher, thresholds Thresholds, routing Routing, logger *slog.Logger) *Service {
	return &Service{
		repo:       repo,
		dispatcher: dispatcher,
		thresholds: thresholds,
		routing:    routing,
		probes:     make(map[string]Pinger),
		logger:     logger,
		printer:    message.NewPrinter(language.English),
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// RegisterProbe adds a named component to the health-check rotation.
func (s *Service) RegisterProbe(component string, p Pinger) {
	s.probes[component] = p
}

// LogMetric persists one observation and, when it breaches the configured
// threshold, raises an alert before returning.
func (s *Service) LogMetric(ctx context.Context, metricType string, value float64, metadata map[string]any) error {
	m := Metric{Type: metricType, Value: value, Metadata: metadata, RecordedAt: s.clock()}
	if _, err := s.repo.InsertMetric(ctx, m); err != nil {
		return fmt.Errorf("monitoring: insert metric: %w", err)
	}
	if breach, severity, msg := s.evaluate(metricType, value); breach {
		return s.RaiseAlert(ctx, severity, "metric threshold breached", msg, map[string]any{
			"metric_type": metricType,
			"value":       value,
		})
	}
	return nil
}

// RaiseAlert persists an alert and routes it by severity: critical alerts
// notify immediately and escalate, high alerts notify immediately, the rest
// are logged only.
func (s *Service) RaiseAlert(ctx context.Context, severity, title, msg string, metadata map[string]any) error {
	alert := Alert{Severity: severity, Title: title, Message: msg, Metadata: metadata, CreatedAt: s.clock()}
	id, err := s.repo.InsertAlert(ctx, alert)
	if err != nil {
		return fmt.Errorf("monitoring: insert alert: %w", err)
	}
	alert.ID = id

	switch severity {
	case SeverityCritical:
		s.dispatch(ctx, alert, s.routing.CriticalRecipients, true)
	case SeverityHigh:
		s.dispatch(ctx, alert, s.routing.HighRecipients, false)
	default:
		if s.logger != nil {
			s.logger.Warn("monitoring: alert raised",
				slog.String("severity", severity),
				slog.String("title", title),
				slog.String("message", msg))
		}
	}
	return nil
}

// CheckHealth probes every registered component, persists the outcomes and
// raises a critical alert per failing component. The slowest probe bounds
// the call; individual probes get their own deadline.
func (s *Service) CheckHealth(ctx context.Context) ([]HealthCheck, error) {
	checks := make([]HealthCheck, 0, len(s.probes))
	for component, probe := range s.probes {
		hc := s.probe(ctx, component, probe)
		if _, err := s.repo.InsertHealthCheck(ctx, hc); err != nil {
			return nil, fmt.Errorf("monitoring: persist health check %s: %w", component, err)
		}
		if hc.Status == StatusCritical {
			if err := s.RaiseAlert(ctx, SeverityCritical, "component unhealthy",
				s.printer.Sprintf("%s failed health check: %s", component, hc.Error),
				map[string]any{"component": component, "latency_ms": hc.LatencyMS}); err != nil {
				return nil, err
			}
		}
		checks = append(checks, hc)
	}
	return checks, nil
}

// Status returns the latest persisted outcome per component.
func (s *Service) Status(ctx context.Context) ([]HealthCheck, error) {
	checks, err := s.repo.LatestHealth(ctx)
	if err != nil {
		return nil, fmt.Errorf("monitoring: %w", shared.ErrStorageUnavailable)
	}
	return checks, nil
}

// RecentAlerts lists alerts raised in the given window.
func (s *Service) RecentAlerts(ctx context.Context, window time.Duration) ([]Alert, error) {
	return s.repo.RecentAlerts(ctx, s.clock().Add(-window))
}

func (s *Service) probe(ctx context.Context, component string, p Pinger) HealthCheck {
	probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	start := s.clock()
	err := p.Ping(probeCtx)
	latency := time.Since(start).Milliseconds()

	hc := HealthCheck{Component: component, LatencyMS: latency, CheckedAt: start}
	switch {
	case err != nil:
		hc.Status = StatusCritical
		hc.Error = err.Error()
	case latency > int64(s.thresholds.ResponseTimeMS):
		hc.Status = StatusWarning
	default:
		hc.Status = StatusHealthy
	}
	return hc
}

func (s *Service) evaluate(metricType string, value float64) (bool, string, string) {
	switch metricType {
	case MetricResponseTime:
		if value > float64(s.thresholds.ResponseTimeMS) {
			return true, SeverityHigh, s.printer.Sprintf("permission check took %.0f ms (threshold %d ms)", value, s.thresholds.ResponseTimeMS)
		}
	case MetricCacheHitRate:
		if value < s.thresholds.MinCacheHitRate {
			return true, SeverityMedium, s.printer.Sprintf("cache hit rate %.2f below minimum %.2f", value, s.thresholds.MinCacheHitRate)
		}
	case MetricFailedAttempts:
		if value > float64(s.thresholds.MaxFailedPerMin) {
			return true, SeverityCritical, s.printer.Sprintf("%.0f failed permission checks per minute (threshold %d)", value, s.thresholds.MaxFailedPerMin)
		}
	}
	return false, "", ""
}

func (s *Service) dispatch(ctx context.Context, alert Alert, recipients []string, escalate bool) {
	if s.dispatcher == nil || len(recipients) == 0 {
		if s.logger != nil {
			s.logger.Warn("monitoring: alert has no delivery route",
				slog.String("severity", alert.Severity),
				slog.String("title", alert.Title))
		}
		return
	}
	if err := s.dispatcher.DispatchAlert(ctx, alert, recipients, escalate); err != nil && s.logger != nil {
		s.logger.Error("monitoring: alert dispatch failed",
			slog.String("severity", alert.Severity),
			slog.Int64("alert_id", alert.ID),
			slog.Any("error", err))
	}
}
