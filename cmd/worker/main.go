package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"basegraph.app/intake/common/id"
	"basegraph.app/intake/common/logger"
	"basegraph.app/intake/common/otel"
	"basegraph.app/intake/core/config"
	"basegraph.app/intake/internal/pipeline"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load(config.ServiceTypeWorker)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	telemetry, err := otel.Setup(ctx, cfg, config.ServiceTypeWorker)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	fmt.Printf("%s\n", banner)
	logger.Setup(cfg)

	slog.InfoContext(ctx, "intake worker starting",
		"env", cfg.Env,
		"consumer_group", cfg.Queue.Group,
		"consumer_name", cfg.Queue.Consumer)

	// Different node ID than server and relay
	if err := id.Init(2); err != nil {
		slog.ErrorContext(ctx, "failed to initialize id generator", "error", err)
		os.Exit(1)
	}

	rt, err := pipeline.Open(ctx, cfg, pipeline.Options{})
	if err != nil {
		slog.ErrorContext(ctx, "failed to open runtime", "error", err)
		os.Exit(1)
	}
	defer rt.Close()

	if rt.SelfContained() {
		slog.ErrorContext(ctx, "standalone worker needs a durable queue and postgres store; run the server alone instead",
			"queue_mode", rt.Queues().Health().Mode,
			"store_mode", cfg.StoreMode)
		os.Exit(1)
	}

	cascade, err := rt.NewCascade(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to build classifier", "error", err)
		os.Exit(1)
	}

	w, reclaimer, err := rt.NewWorker(ctx, cascade)
	if err != nil {
		slog.ErrorContext(ctx, "failed to create worker", "error", err)
		os.Exit(1)
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() {
		errCh <- pipeline.Run(runCtx, w, reclaimer)
	}()

	slog.InfoContext(ctx, "worker initialized and running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		slog.ErrorContext(ctx, "worker exited", "error", err)
		cancelRun()
		os.Exit(1)
	}

	slog.InfoContext(ctx, "shutting down worker...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	// Stop the reclaimer first (quick), then let the worker finish its batch.
	reclaimer.Stop()
	w.Stop()
	cancelRun()

	select {
	case <-shutdownCtx.Done():
		slog.WarnContext(ctx, "shutdown timeout exceeded")
	case err := <-errCh:
		if err != nil {
			slog.ErrorContext(ctx, "worker error during shutdown", "error", err)
		}
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(ctx, "worker shutdown complete")
}

const banner = `
██╗███╗   ██╗████████╗ █████╗ ██╗  ██╗███████╗    ██╗    ██╗ ██████╗ ██████╗ ██╗  ██╗███████╗██████╗
██║████╗  ██║╚══██╔══╝██╔══██╗██║ ██╔╝██╔════╝    ██║    ██║██╔═══██╗██╔══██╗██║ ██╔╝██╔════╝██╔══██╗
██║██╔██╗ ██║   ██║   ███████║█████╔╝ █████╗      ██║ █╗ ██║██║   ██║██████╔╝█████╔╝ █████╗  ██████╔╝
██║██║╚██╗██║   ██║   ██╔══██║██╔═██╗ ██╔══╝      ██║███╗██║██║   ██║██╔══██╗██╔═██╗ ██╔══╝  ██╔══██╗
██║██║ ╚████║   ██║   ██║  ██║██║  ██╗███████╗    ╚███╔███╔╝╚██████╔╝██║  ██║██║  ██╗███████╗██║  ██║
╚═╝╚═╝  ╚═══╝   ╚═╝   ╚═╝  ╚═╝╚═╝  ╚═╝╚══════╝     ╚══╝╚══╝  ╚═════╝ ╚═╝  ╚═╝╚═╝  ╚═╝╚══════╝╚═╝  ╚═╝
`
