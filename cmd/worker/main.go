package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/clinicore/clinicore-authz/internal/anomaly"
	"github.com/clinicore/clinicore-authz/internal/app"
	"github.com/clinicore/clinicore-authz/internal/audit"
	"github.com/clinicore/clinicore-authz/internal/catalog"
	"github.com/clinicore/clinicore-authz/internal/grants"
	jobmetrics "github.com/clinicore/clinicore-authz/internal/jobs"
	"github.com/clinicore/clinicore-authz/internal/monitoring"
	"github.com/clinicore/clinicore-authz/internal/platform/cache"
	"github.com/clinicore/clinicore-authz/internal/platform/db"
	"github.com/clinicore/clinicore-authz/internal/requests"
	"github.com/clinicore/clinicore-authz/internal/resolver"
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
		slog.Default().Info("test mode detected, skipping worker startup")
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

	metrics := jobmetrics.NewMetrics(nil)

	catalogRepo := catalog.NewRepository(pool)
	grantsRepo := grants.NewRepository(pool)
	auditRepo := audit.NewRepository(pool)
	requestsRepo := requests.NewRepository(pool)
	anomalyRepo := anomaly.NewRepository(pool)
	monitoringRepo := monitoring.NewRepository(pool)

	permCache := resolver.NewCache(redisClient, cfg.PermissionCacheTTL, nil)
	resolverSvc := resolver.NewService(catalogRepo, grantsRepo, grantsRepo, permCache, nil, logger)

	auditSvc := audit.NewService(auditRepo, logger, cfg.AuditRetention)
	grantsSvc := grants.NewService(grantsRepo, catalogRepo, resolverSvc, permCache, logger, cfg.GrantDependencyPolicy)
	requestsSvc := requests.NewService(requestsRepo, catalogRepo, permCache, logger)

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

	mailer := jobs.NewSMTPMailer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPFrom)

	scanJob := jobs.NewAnomalyScanJob(detector, monitoringSvc, logger, metrics)
	sweepJob := jobs.NewExpirySweepJob(grantsSvc, requestsSvc, logger, metrics)
	retentionJob := jobs.NewAuditRetentionJob(auditSvc, logger, metrics)
	healthJob := jobs.NewHealthCheckJob(monitoringSvc, logger, metrics)
	alertJob := jobs.NewAlertDispatchJob(mailer, logger, metrics)

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskAlertDispatch, Handler: alertJob.Handle},
			{Type: jobs.TaskAnomalyScan, Handler: scanJob.Handle},
			{Type: jobs.TaskExpirySweep, Handler: sweepJob.Handle},
			{Type: jobs.TaskAuditRetention, Handler: retentionJob.Handle},
			{Type: jobs.TaskHealthCheck, Handler: healthJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: "*/15 * * * *", Task: jobs.NewAnomalyScanTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "*/5 * * * *", Task: jobs.NewExpirySweepTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: "*/5 * * * *", Task: jobs.NewHealthCheckTask(), Options: []asynq.Option{asynq.MaxRetry(1)}},
			{Spec: "0 3 * * *", Task: jobs.NewAuditRetentionTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
