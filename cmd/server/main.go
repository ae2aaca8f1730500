package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"basegraph.app/intake/common/id"
	"basegraph.app/intake/common/logger"
	"basegraph.app/intake/common/otel"
	"basegraph.app/intake/core/config"
	"basegraph.app/intake/internal/classifier"
	"basegraph.app/intake/internal/http/middleware"
	httprouter "basegraph.app/intake/internal/http/router"
	"basegraph.app/intake/internal/pipeline"
	"basegraph.app/intake/internal/service"
)

func main() {
	fmt.Printf("%s\n", banner)
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeServer)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	// OTel must init before logger (logger uses OTel provider in production)
	telemetry, err := otel.Setup(ctx, cfg, config.ServiceTypeServer)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger.Setup(cfg)

	if telemetry != nil {
		slog.InfoContext(ctx, "otel initialized", "endpoint", cfg.OTel.Endpoint)
	} else {
		slog.InfoContext(ctx, "otel disabled (no endpoint configured)")
	}

	slog.InfoContext(ctx, "intake server starting", "env", cfg.Env, "service", cfg.OTel.ServiceName)
	if err := id.Init(1); err != nil {
		slog.ErrorContext(ctx, "failed to initialize snowflake id generator", "error", err)
		os.Exit(1)
	}

	rt, err := pipeline.Open(ctx, cfg, pipeline.Options{Migrate: true})
	if err != nil {
		slog.ErrorContext(ctx, "failed to open runtime", "error", err)
		os.Exit(1)
	}
	defer rt.Close()

	cascade, err := rt.NewCascade(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to build classifier", "error", err)
		os.Exit(1)
	}

	services := service.NewServices(rt.Stores(), rt.TxRunner(), rt.Queues(), cascade, cfg.Outbox.MaxRetries)

	// Without shared Redis and Postgres no other process can see this
	// server's queue or outbox, so the worker and relay run here.
	runCtx, stopPipeline := context.WithCancel(ctx)
	pipelineDone := make(chan error, 1)
	if rt.SelfContained() {
		components, err := embeddedPipeline(runCtx, rt, cascade)
		if err != nil {
			slog.ErrorContext(ctx, "failed to build embedded pipeline", "error", err)
			os.Exit(1)
		}
		slog.WarnContext(ctx, "running worker and relay in-process", "queue_mode", rt.Queues().Health().Mode, "store_mode", cfg.StoreMode)
		go func() { pipelineDone <- pipeline.Run(runCtx, components...) }()
	} else {
		close(pipelineDone)
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := setupRouter(cfg, rt, services)
	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		slog.InfoContext(ctx, "http server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.ErrorContext(ctx, "http server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.InfoContext(ctx, "shutting down...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.ErrorContext(shutdownCtx, "http server shutdown error", "error", err)
	}

	stopPipeline()
	select {
	case err := <-pipelineDone:
		if err != nil {
			slog.ErrorContext(shutdownCtx, "embedded pipeline error", "error", err)
		}
	case <-shutdownCtx.Done():
		slog.WarnContext(shutdownCtx, "shutdown timeout exceeded")
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(shutdownCtx, "shutdown complete")
}

func embeddedPipeline(ctx context.Context, rt *pipeline.Runtime, cascade *classifier.Cascade) ([]pipeline.Component, error) {
	w, reclaimer, err := rt.NewWorker(ctx, cascade)
	if err != nil {
		return nil, err
	}
	relay, err := rt.NewRelay()
	if err != nil {
		return nil, err
	}
	components := []pipeline.Component{w, relay}
	if reclaimer != nil {
		components = append(components, reclaimer)
	}
	return components, nil
}

func setupRouter(cfg config.Config, rt *pipeline.Runtime, services *service.Services) *gin.Engine {
	router := gin.New()

	// Order matters: OTel creates span → Recovery catches panics → Logger logs with trace context
	if cfg.OTel.Enabled() {
		router.Use(otelgin.Middleware(cfg.OTel.ServiceName))
	}
	router.Use(middleware.Recovery())
	router.Use(middleware.Logger("/health", "/ready"))

	httprouter.SetupRoutes(router, services, httprouter.RouterConfig{
		TraceHeaderName: cfg.TraceHeaderName,
		AdminAPIKey:     cfg.AdminAPIKey,
		Redis:           rt.Queues().Redis(),
		StreamPrefix:    cfg.Queue.StreamPrefix,
	})

	return router
}

const banner = `
██╗███╗   ██╗████████╗ █████╗ ██╗  ██╗███████╗    ███████╗███████╗██████╗ ██╗   ██╗███████╗██████╗
██║████╗  ██║╚══██╔══╝██╔══██╗██║ ██╔╝██╔════╝    ██╔════╝██╔════╝██╔══██╗██║   ██║██╔════╝██╔══██╗
██║██╔██╗ ██║   ██║   ███████║█████╔╝ █████╗      ███████╗█████╗  ██████╔╝██║   ██║█████╗  ██████╔╝
██║██║╚██╗██║   ██║   ██╔══██║██╔═██╗ ██╔══╝      ╚════██║██╔══╝  ██╔══██╗╚██╗ ██╔╝██╔══╝  ██╔══██╗
██║██║ ╚████║   ██║   ██║  ██║██║  ██╗███████╗    ███████║███████╗██║  ██║ ╚████╔╝ ███████╗██║  ██║
╚═╝╚═╝  ╚═══╝   ╚═╝   ╚═╝  ╚═╝╚═╝  ╚═╝╚══════╝    ╚══════╝╚══════╝╚═╝  ╚═╝  ╚═══╝  ╚══════╝╚═╝  ╚═╝
`
