package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/clinicore/clinicore-authz/internal/anomaly"
	"github.com/clinicore/clinicore-authz/internal/app"
	"github.com/clinicore/clinicore-authz/internal/audit"
	"github.com/clinicore/clinicore-authz/internal/catalog"
	"github.com/clinicore/clinicore-authz/internal/grants"
	"github.com/clinicore/clinicore-authz/internal/monitoring"
	"github.com/clinicore/clinicore-authz/internal/observability"
	"github.com/clinicore/clinicore-authz/internal/platform/cache"
	"github.com/clinicore/clinicore-authz/internal/platform/db"
	"github.com/clinicore/clinicore-authz/internal/requests"
	"github.com/clinicore/clinicore-authz/internal/resolver"
	"github.com/clinicore/clinicore-authz/internal/sod"
	"github.com/clinicore/clinicore-authz/jobs"
)

type redisPinger struct {
	client *redis.Client
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()

	catalogRepo := catalog.NewRepository(pool)
	grantsRepo := grants.NewRepository(pool)
	sodRepo := sod.NewRepository(pool)
	auditRepo := audit.NewRepository(pool)
	requestsRepo := requests.NewRepository(pool)
	anomalyRepo := anomaly.NewRepository(pool)
	monitoringRepo := monitoring.NewRepository(pool)

	permCache := resolver.NewCache(redisClient, cfg.PermissionCacheTTL, metrics)
	resolverSvc := resolver.NewService(catalogRepo, grantsRepo, grantsRepo, permCache, metrics, logger)

	catalogSvc := catalog.NewService(catalogRepo, permCache)
	auditSvc := audit.NewService(auditRepo, logger, cfg.AuditRetention)
	grantsSvc := grants.NewService(grantsRepo, catalogRepo, resolverSvc, permCache, logger, cfg.GrantDependencyPolicy)
	requestsSvc := requests.NewService(requestsRepo, catalogRepo, permCache, logger)
	sodChecker := sod.NewChecker(sodRepo, resolverSvc)

	detector := anomaly.NewDetector(anomalyRepo, anomaly.Config{
		BulkGrantThreshold:   cfg.BulkGrantThreshold,
		BulkGrantWindow:      cfg.BulkGrantWindow,
		HighRiskThreshold:    cfg.HighRiskThreshold,
		HighRiskWindow:       cfg.HighRiskWindow,
		RapidChangeThreshold: cfg.RapidChangeThreshold,
		RapidChangeWindow:    cfg.RapidChangeWindow,
		UnusualHoursStart:    cfg.UnusualHoursStart,
		UnusualHoursEnd:      cfg.UnusualHoursEnd,
		HighRiskPermissions:  cfg.HighRiskPermissions,
	}, logger)

	jobsClient, err := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	if err != nil {
		logger.Error("init jobs client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobsClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()

	monitoringSvc := monitoring.NewService(monitoringRepo, jobsClient, monitoring.Thresholds{
		ResponseTimeMS:  cfg.ResponseTimeThresholdMS,
		MinCacheHitRate: cfg.MinCacheHitRate,
		MaxFailedPerMin: cfg.MaxFailedAttemptsPerMin,
	}, monitoring.Routing{
		CriticalRecipients: cfg.AlertCriticalRecipients,
		HighRecipients:     cfg.AlertHighRecipients,
	}, logger)
	monitoringSvc.RegisterProbe("database", pool)
	monitoringSvc.RegisterProbe("cache", redisPinger{client: redisClient})

	sodMiddleware := sod.Middleware{Checker: sodChecker, Logger: logger}

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		CatalogHandler:    catalog.NewHandler(logger, catalogSvc, auditSvc),
		GrantsHandler:     grants.NewHandler(logger, grantsSvc),
		ResolverHandler:   resolver.NewHandler(logger, resolverSvc, metrics),
		SodHandler:        sod.NewHandler(logger, sodChecker),
		AuditHandler:      audit.NewHandler(logger, auditSvc),
		RequestsHandler:   requests.NewHandler(logger, requestsSvc),
		AnomalyHandler:    anomaly.NewHandler(logger, detector),
		MonitoringHandler: monitoring.NewHandler(logger, monitoringSvc),
		JobHandler:        jobs.NewHandler(inspector, jobsClient, logger),
		SodEnforcer:       sodMiddleware.Enforce,
		Metrics:           metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
