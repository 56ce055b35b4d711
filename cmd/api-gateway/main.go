package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/campushub/approval-api/api/swagger"
	"github.com/campushub/approval-api/internal/handler"
	"github.com/campushub/approval-api/internal/middleware"
	"github.com/campushub/approval-api/internal/models"
	"github.com/campushub/approval-api/internal/repository"
	"github.com/campushub/approval-api/internal/service"
	"github.com/campushub/approval-api/internal/store"
	"github.com/campushub/approval-api/internal/ws"
	"github.com/campushub/approval-api/pkg/cache"
	"github.com/campushub/approval-api/pkg/config"
	"github.com/campushub/approval-api/pkg/database"
	"github.com/campushub/approval-api/pkg/logger"
	corsmiddleware "github.com/campushub/approval-api/pkg/middleware/cors"
	reqidmiddleware "github.com/campushub/approval-api/pkg/middleware/requestid"
)

// @title CampusHub Approval API
// @version 1.0.0
// @description Multi-role sequential approval workflows for the institution admin dashboard
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

	notifier := store.NewRedisNotifier(redisClient, logr)
	docStore := store.NewPostgresStore(db, notifier, logr)

	requestRepo := repository.NewRequestRepository(docStore)
	userRepo := repository.NewUserRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	metricsSvc := service.NewMetricsService()
	cacheSvc := service.NewCacheService(cacheRepo, metricsSvc, cfg.Cache.TTL, logr, cfg.Cache.Enabled)

	authSvc := service.NewAuthService(userRepo, validator.New(), logr, service.AuthConfig{
		AccessTokenSecret:  cfg.JWT.Secret,
		AccessTokenExpiry:  cfg.JWT.Expiration,
		RefreshTokenExpiry: cfg.JWT.RefreshExpiration,
		Issuer:             cfg.JWT.Issuer,
		SingleSession:      cfg.JWT.SingleSession,
	})

	workflowSvc := service.NewWorkflowService(requestRepo, userRepo, logr,
		service.WithTransitionRecorder(metricsSvc),
		service.WithListingCache(cacheSvc),
	)
	exportSvc := service.NewExportService(requestRepo, userRepo, cfg.Exports.MaxRows, logr)

	hub := ws.NewHub(logr)
	go hub.Run()
	defer hub.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var notificationSvc *service.NotificationService
	if cfg.Notifications.Enabled {
		notificationSvc = service.NewNotificationService(notifier, hub, cfg.Notifications.Workers, logr)
		if err := notificationSvc.Start(ctx); err != nil {
			logr.Sugar().Fatalw("failed to start notification service", "error", err)
		}
		defer notificationSvc.Stop()
	}

	authHandler := handler.NewAuthHandler(authSvc)
	requestHandler := handler.NewRequestHandler(workflowSvc, exportSvc)
	wsHandler := handler.NewWSHandler(hub)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/ready", func(c *gin.Context) {
		if err := db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)

	auth := api.Group("/auth")
	auth.POST("/login", authHandler.Login)
	auth.POST("/refresh", authHandler.Refresh)
	auth.POST("/logout", middleware.JWT(authSvc), authHandler.Logout)
	auth.GET("/me", middleware.JWT(authSvc), authHandler.Me)

	requests := api.Group("/requests", middleware.JWT(authSvc))
	requests.POST("", requestHandler.Create)
	requests.GET("", requestHandler.List)
	requests.GET("/pending", middleware.RequireApprover(), requestHandler.Pending)
	requests.GET("/mine", requestHandler.Mine)
	if cfg.Exports.Enabled {
		requests.GET("/export",
			middleware.RequireApprover(),
			middleware.Audit(userRepo, models.AuditActionRegisterExport, "register"),
			requestHandler.Export)
	}
	requests.GET("/:id", requestHandler.Get)
	requests.POST("/:id/approve", middleware.RequireApprover(), requestHandler.Approve)
	requests.POST("/:id/reject", middleware.RequireApprover(), requestHandler.Reject)
	requests.POST("/:id/forward", middleware.RequireApprover(), requestHandler.Forward)

	api.GET("/ws", middleware.JWT(authSvc), wsHandler.Subscribe)

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down", zap.Duration("grace", 10*time.Second))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}
