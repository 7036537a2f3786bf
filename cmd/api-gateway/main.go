package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	_ "github.com/karripar/va-hybrid-api/api/swagger"
	"github.com/karripar/va-hybrid-api/internal/handler"
	"github.com/karripar/va-hybrid-api/internal/repository"
	"github.com/karripar/va-hybrid-api/internal/router"
	"github.com/karripar/va-hybrid-api/internal/service"
	"github.com/karripar/va-hybrid-api/pkg/cache"
	"github.com/karripar/va-hybrid-api/pkg/catalog"
	"github.com/karripar/va-hybrid-api/pkg/config"
	"github.com/karripar/va-hybrid-api/pkg/database"
	"github.com/karripar/va-hybrid-api/pkg/jobs"
	"github.com/karripar/va-hybrid-api/pkg/logger"
)

// @title VA Hybrid API
// @version 1.0.0
// @description Exchange application progress, document links, budgets and grants.
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

const (
	shutdownTimeout = 15 * time.Second
	// room for the redis and postgres writes after a link check
	jobStoreMargin  = 5 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if err := run(cfg, logr); err != nil {
		logr.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg *config.Config, logr *zap.Logger) error {
	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cat := catalog.Default()
	if cfg.Catalog.Path != "" {
		loaded, err := catalog.Load(cfg.Catalog.Path)
		if err != nil {
			return fmt.Errorf("load catalog: %w", err)
		}
		cat = loaded
	}

	db, err := database.NewPostgres(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()
	if err := database.Migrate(ctx, db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	rdb, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer rdb.Close()

	metrics := service.NewMetricsService()

	applications := repository.NewApplicationRepository(db)
	documents := repository.NewDocumentRepository(db)
	events := repository.NewEventRepository(db)
	budgets := repository.NewBudgetRepository(db)
	grants := repository.NewGrantRepository(db)
	validations := repository.NewValidationRepository(rdb, cfg.Documents.ResultTTL)

	cacheSvc := service.NewCacheService(repository.NewCacheRepository(rdb), metrics, cfg.Cache.TTL, logr, cfg.Cache.Enabled)
	progressSvc := service.NewProgressService(applications, cacheSvc, cat, cfg.Cache.TTL, logr)

	prober := service.NewLinkProber(service.LinkProberConfig{
		Timeout:         cfg.Documents.ProbeTimeout,
		RetryBackoff:    cfg.Documents.RetryBackoff,
		BreakerFailures: cfg.Documents.BreakerFailures,
		BreakerOpenFor:  cfg.Documents.BreakerOpenFor,
		UserAgent:       cfg.Documents.UserAgent,
		MaxRedirects:    cfg.Documents.MaxRedirects,
	}, logr)
	documentSvc := service.NewDocumentService(cat, prober, validations, documents, applications, metrics, logr, service.DocumentServiceConfig{})

	queue := jobs.NewQueue(service.JobTypeLinkValidation, documentSvc.HandleJob, jobs.QueueConfig{
		Workers:    cfg.Documents.Workers,
		BufferSize: cfg.Documents.QueueSize,
		JobTimeout: prober.MaxDuration() + jobStoreMargin,
		OnDrop:     documentSvc.DiscardJob,
		Logger:     logr,
	})
	documentSvc.AttachQueue(queue)
	queue.Start(ctx)
	defer queue.Stop()

	applicationSvc := service.NewApplicationService(applications, documents, events, service.NewStateMachine(cat), progressSvc, documentSvc, cacheSvc, cat, metrics, logr)
	budgetSvc := service.NewBudgetService(budgets, cacheSvc, cat, service.BudgetServiceConfig{
		Currency:     cfg.Budgets.Currency,
		HistoryLimit: cfg.Budgets.HistoryLimit,
	}, logr)
	grantSvc := service.NewGrantService(grants, budgets, cacheSvc, cat, cfg.Cache.TTL, logr)
	reportSvc := service.NewReportService(budgetSvc, grantSvc, cat, logr, nil, nil)
	tokens := service.NewTokenService(service.TokenConfig{
		Secret:   cfg.JWT.Secret,
		Issuer:   cfg.JWT.Issuer,
		Audience: cfg.JWT.Audience,
		Leeway:   30 * time.Second,
	})

	engine, err := router.New(router.Handlers{
		Applications: handler.NewApplicationHandler(applicationSvc),
		Documents:    handler.NewDocumentHandler(documentSvc),
		Budgets:      handler.NewBudgetHandler(budgetSvc),
		Grants:       handler.NewGrantHandler(grantSvc),
		Reports:      handler.NewReportHandler(reportSvc),
		Metrics: handler.NewMetricsHandler(metrics, map[string]handler.ReadinessCheck{
			"postgres": db.PingContext,
			"redis":    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		}),
	}, router.Options{
		APIPrefix:  cfg.APIPrefix,
		CORS:       cfg.CORS,
		EnableDocs: cfg.Env != config.EnvProduction,
		Verifier:   tokens,
		Metrics:    metrics,
		Catalog:    cat,
		Logger:     logr,
	})
	if err != nil {
		return fmt.Errorf("build router: %w", err)
	}

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logr.Info("server starting", zap.String("addr", server.Addr), zap.String("env", cfg.Env))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
