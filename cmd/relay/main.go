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

	cfg, err := config.Load(config.ServiceTypeRelay)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load config", "error", err)
		os.Exit(1)
	}

	telemetry, err := otel.Setup(ctx, cfg, config.ServiceTypeRelay)
	if err != nil {
		os.Stderr.WriteString("failed to initialize otel: " + err.Error() + "\n")
		os.Exit(1)
	}

	fmt.Printf("%s\n", banner)
	logger.Setup(cfg)

	slog.InfoContext(ctx, "outbox relay starting",
		"env", cfg.Env,
		"lease_enabled", cfg.Relay.LeaseEnabled,
		"lease_key", cfg.Relay.LeaseKey)

	if err := id.Init(3); err != nil {
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
		slog.ErrorContext(ctx, "standalone relay needs a durable queue and postgres store; run the server alone instead",
			"queue_mode", rt.Queues().Health().Mode,
			"store_mode", cfg.StoreMode)
		os.Exit(1)
	}

	relay, err := rt.NewRelay()
	if err != nil {
		slog.ErrorContext(ctx, "failed to create relay", "error", err)
		os.Exit(1)
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() {
		errCh <- pipeline.Run(runCtx, relay)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		slog.ErrorContext(ctx, "relay exited", "error", err)
		cancelRun()
		os.Exit(1)
	}

	slog.InfoContext(ctx, "shutting down relay...")

	shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	// Stop releases the lease so a standby relay takes over without waiting out the TTL.
	relay.Stop()
	cancelRun()

	select {
	case <-shutdownCtx.Done():
		slog.WarnContext(ctx, "shutdown timeout exceeded")
	case err := <-errCh:
		if err != nil {
			slog.ErrorContext(ctx, "relay error during shutdown", "error", err)
		}
	}

	if telemetry != nil {
		if err := telemetry.Shutdown(shutdownCtx); err != nil {
			slog.ErrorContext(shutdownCtx, "otel shutdown error", "error", err)
		}
	}

	slog.InfoContext(ctx, "relay shutdown complete")
}

const banner = `
██╗███╗   ██╗████████╗ █████╗ ██╗  ██╗███████╗    ██████╗ ███████╗██╗      █████╗ ██╗   ██╗
██║████╗  ██║╚══██╔══╝██╔══██╗██║ ██╔╝██╔════╝    ██╔══██╗██╔════╝██║     ██╔══██╗╚██╗ ██╔╝
██║██╔██╗ ██║   ██║   ███████║█████╔╝ █████╗      ██████╔╝█████╗  ██║     ███████║ ╚████╔╝
██║██║╚██╗██║   ██║   ██╔══██║██╔═██╗ ██╔══╝      ██╔══██╗██╔══╝  ██║     ██╔══██║  ╚██╔╝
██║██║ ╚████║   ██║   ██║  ██║██║  ██╗███████╗    ██║  ██║███████╗███████╗██║  ██║   ██║
╚═╝╚═╝  ╚═══╝   ╚═╝   ╚═╝  ╚═╝╚═╝  ╚═╝╚══════╝    ╚═╝  ╚═╝╚══════╝╚══════╝╚═╝  ╚═╝   ╚═╝
`
