package main

import (
	"context"
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

	_ "github.com/vie-scolaire/carte-api/api/swagger"
	"github.com/vie-scolaire/carte-api/internal/ecoledirecte"
	"github.com/vie-scolaire/carte-api/internal/handler"
	"github.com/vie-scolaire/carte-api/internal/isoweek"
	"github.com/vie-scolaire/carte-api/internal/middleware"
	"github.com/vie-scolaire/carte-api/internal/models"
	"github.com/vie-scolaire/carte-api/internal/repository"
	"github.com/vie-scolaire/carte-api/internal/service"
	"github.com/vie-scolaire/carte-api/pkg/cache"
	"github.com/vie-scolaire/carte-api/pkg/config"
	"github.com/vie-scolaire/carte-api/pkg/database"
	"github.com/vie-scolaire/carte-api/pkg/jobs"
	"github.com/vie-scolaire/carte-api/pkg/logger"
	corsmiddleware "github.com/vie-scolaire/carte-api/pkg/middleware/cors"
	reqidmiddleware "github.com/vie-scolaire/carte-api/pkg/middleware/requestid"
	"github.com/vie-scolaire/carte-api/pkg/storage"
)

// @title Carte API
// @version 1.0.0
// @description Vie scolaire dashboard for tracking forgotten canteen cards
// @BasePath /api/v1
// @schemes http https

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

	loc, err := time.LoadLocation(cfg.Alerts.TimeLocation)
	if err != nil {
		logr.Sugar().Fatalw("invalid ALERT_TIME_LOCATION", "location", cfg.Alerts.TimeLocation, "error", err)
	}
	calendar := isoweek.New(loc)

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect database", "error", err)
	}
	defer db.Close() //nolint:errcheck

	metricsSvc := service.NewMetricsService()

	var cacheSvc *service.CacheService
	if cfg.Stats.CacheEnabled {
		redisClient, err := cache.NewRedis(cfg.Redis)
		if err != nil {
			logr.Sugar().Warnw("redis unavailable, stats caching disabled", "error", err)
		} else {
			cacheRepo := repository.NewCacheRepository(redisClient, logr)
			cacheSvc = service.NewCacheService(cacheRepo, metricsSvc, cfg.Stats.CacheTTL, logr, true)
		}
	}

	validate := validator.New()

	userRepo := repository.NewUserRepository(db)
	studentRepo := repository.NewStudentRepository(db)
	classRepo := repository.NewClassRepository(db)
	forgotRepo := repository.NewForgotCardRepository(db)
	statsRepo := repository.NewStatsRepository(db)
	exportRepo := repository.NewExportRepository(db)

	authSvc := service.NewAuthService(userRepo, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "carte-api",
		SingleSession:      cfg.JWT.SingleSession,
	})

	rosterClient := ecoledirecte.NewClient(cfg.Roster.BaseURL, cfg.Roster.APIToken, cfg.Roster.Timeout)
	studentSvc := service.NewStudentService(studentRepo, classRepo, rosterClient, userRepo, logr)

	positionSvc := service.NewPositionService(forgotRepo, logr)
	forgotSvc := service.NewForgotCardService(forgotRepo, studentRepo, positionSvc, userRepo, cacheSvc, calendar, cfg.Alerts.Threshold, validate, logr)
	noteSvc := service.NewNoteService(forgotRepo, userRepo, cacheSvc, calendar, cfg.Alerts.Threshold, validate, logr)
	statsSvc := service.NewStatsService(statsRepo, cacheSvc, calendar, cfg.Alerts.Threshold, cfg.Stats.CacheTTL, logr)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var exportSvc *service.ExportService
	var exportQueue *jobs.Queue
	if cfg.Exports.Enabled {
		localStorage, err := storage.NewLocalStorage(cfg.Exports.StorageDir)
		if err != nil {
			logr.Sugar().Fatalw("failed to init export storage", "dir", cfg.Exports.StorageDir, "error", err)
		}
		signer := storage.NewSignedURLSigner(cfg.Exports.SignedURLSecret, cfg.Exports.SignedURLTTL)
		exportSvc = service.NewExportService(exportRepo, forgotRepo, noteSvc, localStorage, signer, userRepo, service.ExportServiceConfig{
			MaxRows:  cfg.Exports.MaxRows,
			BasePath: cfg.APIPrefix + "/exports/download",
		}, logr)
		exportQueue = jobs.NewQueue("exports", exportSvc.ProcessJob, jobs.QueueConfig{
			Workers:    cfg.Exports.WorkerConcurrency,
			MaxRetries: cfg.Exports.WorkerRetries,
			Logger:     logr,
		})
		exportSvc.SetQueue(exportQueue)
		exportQueue.Start(ctx)
		defer exportQueue.Stop()
		exportSvc.RecoverPendingJobs(ctx)
	}

	authHandler := handler.NewAuthHandler(authSvc)
	studentHandler := handler.NewStudentHandler(studentSvc)
	forgotHandler := handler.NewForgotCardHandler(forgotSvc, noteSvc)
	statsHandler := handler.NewStatsHandler(statsSvc, metricsSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))
	r.Use(middleware.WithResponseMeta())

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", func(c *gin.Context) {
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	{
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
		auth.POST("/logout", middleware.JWT(authSvc), authHandler.Logout)
		auth.GET("/profile", middleware.JWT(authSvc), authHandler.Profile)
		auth.POST("/change-password", middleware.JWT(authSvc), authHandler.ChangePassword)
	}

	protected := api.Group("")
	protected.Use(middleware.JWT(authSvc))

	students := protected.Group("/students")
	{
		students.GET("", studentHandler.List)
		students.GET("/search", studentHandler.Search)
		students.GET("/:id", studentHandler.Get)
		students.POST("/sync", middleware.RequireRoles(models.RoleAdmin), studentHandler.Sync)
	}
	protected.GET("/classes", studentHandler.Classes)

	forgotCards := protected.Group("/forgot-cards")
	{
		forgotCards.POST("", forgotHandler.Create)
		forgotCards.GET("", forgotHandler.List)
		forgotCards.GET("/requiring-note", forgotHandler.RequiringNote)
		forgotCards.POST("/mark-note", forgotHandler.MarkNote)
		forgotCards.POST("/unmark-note", forgotHandler.UnmarkNote)
		forgotCards.GET("/week/:studentId", forgotHandler.WeekCount)
		forgotCards.GET("/:id", forgotHandler.Get)
		forgotCards.DELETE("/:id", middleware.RequireRoles(models.RoleAdmin), forgotHandler.Delete)
	}

	stats := protected.Group("/stats")
	{
		stats.GET("", statsHandler.Statistics)
		stats.GET("/dashboard", statsHandler.Dashboard)
		stats.GET("/system", middleware.RequireRoles(models.RoleAdmin), statsHandler.System)
	}

	if exportSvc != nil {
		exportHandler := handler.NewExportHandler(exportSvc)
		// The download URL is signed; no session is required to follow it,
		// but claims are picked up when present so the audit entry carries
		// the user.
		api.GET("/exports/download/:token",
			middleware.OptionalJWT(authSvc),
			middleware.Audit(userRepo, models.AuditActionExportDownload, "export"),
			exportHandler.Download)
		exports := protected.Group("/exports")
		{
			exports.POST("", exportHandler.Create)
			exports.GET("/:id", exportHandler.Status)
		}
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Warnw("graceful shutdown failed", "error", err)
	}
}
