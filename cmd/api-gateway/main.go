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
	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-student-records/internal/handler"
	"github.com/noah-isme/sma-student-records/internal/middleware"
	"github.com/noah-isme/sma-student-records/internal/repository"
	"github.com/noah-isme/sma-student-records/internal/service"
	"github.com/noah-isme/sma-student-records/pkg/cache"
	"github.com/noah-isme/sma-student-records/pkg/config"
	"github.com/noah-isme/sma-student-records/pkg/database"
	"github.com/noah-isme/sma-student-records/pkg/jobs"
	"github.com/noah-isme/sma-student-records/pkg/logger"
)

// @title SMA Student Records API
// @version 1.0.0
// @description Multi-institution student records service
// @BasePath /
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

const shutdownTimeout = 15 * time.Second

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
		logr.Fatal("server stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logr *zap.Logger) error {
	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	if cfg.Database.AutoMigrate {
		if err := database.Migrate(db); err != nil {
			return fmt.Errorf("migrate database: %w", err)
		}
		logr.Info("database migrations applied")
	}

	metrics := service.NewMetricsService()
	if err := metrics.RegisterDB(db.DB, cfg.Database.Name); err != nil {
		logr.Warn("db stats collector not registered", zap.Error(err))
	}
	cacheRepo, redisClient := buildCacheRepository(cfg, metrics, logr)
	if redisClient != nil {
		defer redisClient.Close()
	}
	staleWindow := maxDuration(cfg.Cache.RecordTTL, cfg.Cache.ListTTL, cfg.Cache.DashboardTTL)
	cacheSvc := service.NewCacheService(cacheRepo, metrics, cfg.Cache.RecordTTL, logr, cfg.Cache.Enabled, service.WithStaleWindow(staleWindow))

	validate := validator.New()
	studentRepo := repository.NewStudentRepository(db)
	userRepo := repository.NewUserRepository(db)
	academicYearRepo := repository.NewAcademicYearRepository(db)
	lifetimeRepo := repository.NewLifetimeRepository(db)

	auditSvc := service.NewAuditService(userRepo, logr)
	auditQueue := jobs.NewQueue("audit", auditSvc.Handle, jobs.QueueConfig{
		Workers:    cfg.Audit.Workers,
		BufferSize: cfg.Audit.BufferSize,
		MaxRetries: cfg.Audit.Retries,
		Logger:     logr,
	})
	auditSvc.Bind(auditQueue)
	auditQueue.Start(ctx)
	defer auditQueue.Stop()

	authSvc := service.NewAuthService(userRepo, auditSvc, validate, logr, service.AuthConfig{
		AccessTokenSecret: cfg.JWT.Secret,
		AccessTokenExpiry: cfg.JWT.Expiration,
		Issuer:            cfg.JWT.Issuer,
	})
	studentSvc := service.NewStudentService(service.StudentServiceParams{
		Repo:          studentRepo,
		AcademicYears: academicYearRepo,
		Cache:         cacheSvc,
		Audit:         auditSvc,
		Metrics:       metrics,
		Validator:     validate,
		Logger:        logr,
		Config: service.StudentServiceConfig{
			RecordTTL: cfg.Cache.RecordTTL,
			ListTTL:   cfg.Cache.ListTTL,
		},
	})
	lifetimeSvc := service.NewLifetimeService(studentRepo, lifetimeRepo, metrics, logr, cfg.Lifetime.Concurrency)
	importSvc := service.NewImportService(studentSvc, metrics, logr, service.ImportConfig{MaxRows: cfg.Import.MaxRows})
	exportSvc := service.NewExportService(studentSvc, service.ExportConfig{MaxRows: cfg.Export.MaxRows}, logr, nil, nil, nil)
	dashboardSvc := service.NewDashboardService(studentRepo, cacheSvc, metrics, cfg.Cache.DashboardTTL, logr)

	// the cache is left out: an outage only costs hit rate
	checks := map[string]handler.ReadinessCheck{"database": db.PingContext}

	importLimiter := middleware.NewTenantRateLimiter(cfg.Import.RatePerMinute)
	go importLimiter.StartCleanup(ctx, 5*time.Minute)

	router := newRouter(cfg, logr, routerDeps{
		auth:      handler.NewAuthHandler(authSvc),
		students:  handler.NewStudentHandler(studentSvc, lifetimeSvc),
		transfer:  handler.NewStudentTransferHandler(importSvc, exportSvc, cfg.Import.MaxFileSizeBytes),
		dashboard: handler.NewDashboardHandler(dashboardSvc),
		system:    handler.NewMetricsHandler(metrics, checks),
		tokens:    authSvc,
		limiter:   importLimiter,
		metrics:   metrics,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// buildCacheRepository picks the configured backend. The in-process cache is only used when asked
// for explicitly: replicas share Redis so an invalidation on one is seen by all. An unreachable
// Redis is kept behind the breaker and reads miss until it answers again.
func buildCacheRepository(cfg *config.Config, metrics *service.MetricsService, logr *zap.Logger) (service.CacheRepository, *redis.Client) {
	if cfg.Cache.Backend == config.CacheBackendMemory || !cfg.Cache.Enabled {
		return repository.NewMemoryCacheRepository(), nil
	}
	client := cache.NewRedis(cfg.Redis)
	if err := cache.Ping(context.Background(), client); err != nil {
		logr.Warn("redis unavailable, cache reads will miss until it recovers", zap.Error(err))
	}
	breaker := cache.NewBreaker(cfg.Cache, func(err error) bool {
		return err == nil || repository.IsCacheMiss(err)
	}, metrics.ObserveBreakerState)
	return repository.NewCacheRepository(client, breaker, logr), client
}

func maxDuration(values ...time.Duration) time.Duration {
	var out time.Duration
	for _, v := range values {
		if v > out {
			out = v
		}
	}
	return out
}
