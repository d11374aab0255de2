package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/agendaworks/scheduling-engine/api/swagger"
	"github.com/agendaworks/scheduling-engine/internal/handler"
	"github.com/agendaworks/scheduling-engine/internal/middleware"
	"github.com/agendaworks/scheduling-engine/internal/models"
	"github.com/agendaworks/scheduling-engine/internal/repository"
	"github.com/agendaworks/scheduling-engine/internal/service"
	"github.com/agendaworks/scheduling-engine/internal/worker"
	"github.com/agendaworks/scheduling-engine/pkg/cache"
	"github.com/agendaworks/scheduling-engine/pkg/config"
	"github.com/agendaworks/scheduling-engine/pkg/database"
	"github.com/agendaworks/scheduling-engine/pkg/logger"
	corsmiddleware "github.com/agendaworks/scheduling-engine/pkg/middleware/cors"
	reqidmiddleware "github.com/agendaworks/scheduling-engine/pkg/middleware/requestid"
	"github.com/agendaworks/scheduling-engine/pkg/storage"
)

// @title Scheduling Engine API
// @version 1.0.0
// @description Appointment scheduling and conflict-resolution engine
// @BasePath /api/v1
// @schemes http

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

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to redis", "error", err)
	}
	defer redisClient.Close()

	exportStore, err := storage.NewLocalStorage(cfg.Exports.StorageDir)
	if err != nil {
		logr.Sugar().Fatalw("failed to init export storage", "error", err)
	}
	signer := storage.NewSignedURLSigner(cfg.Exports.SignedURLSecret, cfg.Exports.SignedURLTTL)

	appointments := repository.NewAppointmentRepository(db, cfg.Booking.LockTimeout)
	resources := repository.NewResourceRepository(db)
	teams := repository.NewTeamRepository(db)
	templates := repository.NewTemplateRepository(db)
	rules := repository.NewRuleRepository(db)
	conflicts := repository.NewConflictRepository(db)
	notifications := repository.NewNotificationRepository(db)
	directory := repository.NewDirectoryRepository(db)
	outbox := repository.NewOutboxRepository(db)
	analytics := repository.NewAnalyticsRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	validate := validator.New()
	metricsSvc := service.NewMetricsService()
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Availability.CacheTTL, logr, cfg.Availability.CacheEnabled)
	engine := service.NewRuleEngine(appointments, logr)

	notificationSvc := service.NewNotificationService(notifications, appointments, teams, directory,
		metricsSvc, logr, models.NotificationChannel(cfg.Notifications.DefaultChannel), cfg.Notifications.ReminderLead)
	conflictSvc := service.NewConflictService(conflicts, notificationSvc, metricsSvc, logr)
	availabilitySvc := service.NewAvailabilityService(appointments, resources, rules, cacheSvc, logr,
		cfg.Availability.SlotGrain, cfg.Availability.CacheTTL).WithTeams(teams)
	bookingSvc := service.NewBookingService(appointments, resources, rules, engine, conflictSvc,
		availabilitySvc, validate, metricsSvc, logr, service.BookingConfig{
			StrictConflicts: cfg.Booking.StrictConflicts,
			DefaultTimezone: cfg.Booking.DefaultTimezone,
		}).WithTemplates(templates).WithTeams(teams)
	ruleSvc := service.NewRuleService(rules, engine, validate, logr)
	templateSvc := service.NewTemplateService(templates, validate, logr)
	analyticsSvc := service.NewAnalyticsService(analytics, cacheSvc, exportStore, signer, logr, cfg.Analytics.CacheTTL)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	outboxWorker := worker.NewOutboxWorker(outbox, notificationSvc, conflictSvc, cfg.Outbox, logr)
	outboxWorker.Start(ctx)
	defer outboxWorker.Stop()

	aggregator := worker.NewAggregator(analytics, analyticsSvc, cfg.Analytics, logr)
	aggregator.Start(ctx)
	defer aggregator.Stop()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	handler.Register(r, cfg, handler.Handlers{
		Appointments: handler.NewAppointmentHandler(bookingSvc, notificationSvc),
		Conflicts:    handler.NewConflictHandler(conflictSvc),
		Rules:        handler.NewRuleHandler(ruleSvc),
		Templates:    handler.NewTemplateHandler(templateSvc),
		Availability: handler.NewAvailabilityHandler(availabilitySvc),
		Analytics:    handler.NewAnalyticsHandler(analyticsSvc),
		Metrics:      handler.NewMetricsHandler(metricsSvc, db, redisClient),
	})

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: r,
	}

	go func() {
		logr.Sugar().Infow("server starting", "addr", srv.Addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("server shutdown failed", "error", err)
	}
}
