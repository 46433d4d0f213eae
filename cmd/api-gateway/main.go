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
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	_ "github.com/noah-isme/journal-insights-api/api/swagger"
	"github.com/noah-isme/journal-insights-api/internal/bootstrap"
	"github.com/noah-isme/journal-insights-api/internal/handler"
	"github.com/noah-isme/journal-insights-api/internal/middleware"
	"github.com/noah-isme/journal-insights-api/pkg/config"
	"github.com/noah-isme/journal-insights-api/pkg/logger"
	corsmiddleware "github.com/noah-isme/journal-insights-api/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/journal-insights-api/pkg/middleware/requestid"
)

// @title Journal Insights API
// @version 1.0.0
// @description Journaling analytics snapshots and student risk flags.
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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	container, err := bootstrap.New(ctx, cfg, logr)
	if err != nil {
		logr.Fatal("bootstrap failed", zap.Error(err))
	}
	defer container.Close()

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	checks := make(map[string]handler.ReadinessCheck)
	for name, check := range container.ReadinessChecks() {
		checks[name] = check
	}
	metricsHandler := handler.NewMetricsHandler(container.Metrics, checks)
	analysisHandler := handler.NewAnalysisHandler(container.Analysis, container.Insights)
	flagHandler := handler.NewFlagHandler(container.Flags)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(container.Metrics, "/metrics", "/health", "/ready"))

	r.GET("/health", metricsHandler.Health)
	r.GET("/ready", metricsHandler.Ready)
	r.GET("/metrics", metricsHandler.Prometheus)

	if cfg.Docs.Enabled {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	api.Use(middleware.WithResponseMeta())
	api.GET("/metrics/summary", metricsHandler.Summary)

	analysis := api.Group("/analysis")
	analysis.POST("/runs", analysisHandler.Run)
	analysis.GET("/snapshots/latest", analysisHandler.Latest)
	analysis.GET("/snapshots", analysisHandler.History)

	flags := api.Group("/flags")
	flags.GET("", flagHandler.List)
	flags.DELETE("", flagHandler.Clear)
	flags.GET("/export", flagHandler.Export)
	flags.POST("/:studentId/:issueType/resources", flagHandler.DeliverResources)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logr.Info("server starting", zap.String("addr", srv.Addr), zap.String("env", cfg.Env))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logr.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Error("graceful shutdown failed", zap.Error(err))
	}
}
