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
	"go.uber.org/zap"

	_ "github.com/upliftworks/enrollment-api/api/swagger"
	"github.com/upliftworks/enrollment-api/internal/handler"
	"github.com/upliftworks/enrollment-api/internal/middleware"
	"github.com/upliftworks/enrollment-api/internal/models"
	"github.com/upliftworks/enrollment-api/internal/repository"
	"github.com/upliftworks/enrollment-api/internal/service"
	"github.com/upliftworks/enrollment-api/pkg/cache"
	"github.com/upliftworks/enrollment-api/pkg/config"
	"github.com/upliftworks/enrollment-api/pkg/database"
	"github.com/upliftworks/enrollment-api/pkg/logger"
	corsmiddleware "github.com/upliftworks/enrollment-api/pkg/middleware/cors"
	reqidmiddleware "github.com/upliftworks/enrollment-api/pkg/middleware/requestid"
	"github.com/upliftworks/enrollment-api/pkg/storage"
)

// @title Uplift Works Enrollment API
// @version 1.0.0
// @description Enrollment funding pathway and onboarding workflow
// @BasePath /
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

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	// Redis is optional: without it the compliance gate reads sponsors
	// straight from postgres on every check.
	var cacheRepo service.CacheRepository
	cacheEnabled := false
	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Warn("redis unavailable, sponsor cache disabled", zap.Error(err))
	} else {
		defer redisClient.Close()
		cacheRepo = repository.NewCacheRepository(redisClient, logr)
		cacheEnabled = true
	}

	metricsSvc := service.NewMetricsService()
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Funding.SponsorCacheTTL, logr, cacheEnabled)

	validate := validator.New()

	enrollmentRepo := repository.NewEnrollmentRepository(db)
	intakeRepo := repository.NewIntakeRepository(db)
	sponsorRepo := repository.NewSponsorRepository(db)
	programRepo := repository.NewProgramRepository(db)
	userRepo := repository.NewUserRepository(db)

	auditSvc := service.NewAuditService(userRepo, logr, cfg.Audit)
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	auditSvc.Start(rootCtx)
	defer auditSvc.Stop()

	policy := service.NewFundingPolicy(cfg.Funding)
	gate := service.NewComplianceGate(policy, sponsorRepo, programRepo, cacheSvc, logr)

	authSvc := service.NewAuthService(userRepo, auditSvc, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             "enrollment-api",
		Audience:           []string{"enrollment-api"},
	})
	intakeSvc := service.NewIntakeService(intakeRepo, policy, auditSvc, validate, logr)
	enrollmentSvc := service.NewEnrollmentService(enrollmentRepo, intakeRepo, programRepo, userRepo, gate, auditSvc, metricsSvc, validate, logr)

	exportStore, err := storage.NewLocalStorage(cfg.Export.Dir)
	if err != nil {
		logr.Sugar().Fatalw("failed to prepare export storage", "error", err)
	}
	exportSigner := storage.NewSignedURLSigner(cfg.JWT.Secret, cfg.Export.SignedURLTTL)
	exportSvc := service.NewExportService(enrollmentRepo, exportStore, exportSigner, logr)
	sponsorSvc := service.NewSponsorService(sponsorRepo, cacheSvc, validate, logr)
	programSvc := service.NewProgramService(programRepo)

	authHandler := handler.NewAuthHandler(authSvc)
	intakeHandler := handler.NewIntakeHandler(intakeSvc)
	enrollmentHandler := handler.NewEnrollmentHandler(enrollmentSvc, exportSvc)
	sponsorHandler := handler.NewSponsorHandler(sponsorSvc)
	programHandler := handler.NewProgramHandler(programSvc)
	metricsHandler := handler.NewMetricsHandler(metricsSvc, db.Ping)

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	auth := r.Group("/auth")
	{
		auth.POST("/login", authHandler.Login)
		auth.POST("/refresh", authHandler.Refresh)
		auth.POST("/logout", middleware.JWT(authSvc), authHandler.Logout)
		auth.GET("/me", middleware.JWT(authSvc), authHandler.Me)
	}

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.JWT(authSvc))
	{
		api.GET("/programs", programHandler.List)

		intakes := api.Group("/intakes")
		{
			intakes.POST("", intakeHandler.Start)
			intakes.GET("", intakeHandler.Get)
			intakes.PATCH("/:id", intakeHandler.UpdateAnswers)
			intakes.POST("/:id/complete", intakeHandler.Complete)
			intakes.POST("/:id/pathway", middleware.RequireRoles(models.RoleAdmin, models.RoleStaff), intakeHandler.AssignPathway)
		}

		enrollments := api.Group("/enrollments")
		{
			enrollments.GET("", middleware.RequireRoles(models.RoleAdmin, models.RoleStaff, models.RoleEmployer), enrollmentHandler.List)
			enrollments.POST("", enrollmentHandler.Apply)
			enrollments.GET("/export", middleware.RequireRoles(models.RoleAdmin, models.RoleStaff), enrollmentHandler.Export)
			enrollments.POST("/export/archive", middleware.RequireRoles(models.RoleAdmin, models.RoleStaff), enrollmentHandler.ExportArchive)
			enrollments.GET("/export/download", middleware.RequireRoles(models.RoleAdmin, models.RoleStaff), enrollmentHandler.ExportDownload)
			enrollments.GET("/:id", enrollmentHandler.Detail)
			enrollments.POST("/:id/confirm", middleware.RequireRoles(models.RoleAdmin, models.RoleStaff), enrollmentHandler.Confirm)
			enrollments.POST("/:id/activate", middleware.RequireRoles(models.RoleAdmin, models.RoleStaff), enrollmentHandler.Activate)
			enrollments.POST("/:id/withdraw", middleware.RequireRoles(models.RoleAdmin, models.RoleStaff), enrollmentHandler.Withdraw)
			enrollments.POST("/events/orientation", middleware.RequireRoles(models.RoleAdmin, models.RoleStaff), enrollmentHandler.OrientationComplete)
			enrollments.POST("/events/documents", middleware.RequireRoles(models.RoleAdmin, models.RoleStaff), enrollmentHandler.DocumentsSubmitted)
		}

		sponsors := api.Group("/sponsors")
		sponsors.Use(middleware.RequireRoles(models.RoleAdmin, models.RoleStaff))
		{
			sponsors.GET("", sponsorHandler.List)
			sponsors.POST("", sponsorHandler.Create)
			sponsors.PUT("/:id/active", sponsorHandler.SetActive)
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

	<-rootCtx.Done()
	logr.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("forced shutdown", "error", err)
	}
}
