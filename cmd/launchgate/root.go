package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/keshew/launchgate/internal/api"
	"github.com/keshew/launchgate/internal/config"
	"github.com/keshew/launchgate/internal/connectivity"
	"github.com/keshew/launchgate/internal/gatestate"
	"github.com/keshew/launchgate/internal/notify"
	"github.com/keshew/launchgate/internal/remoteconfig"
	"github.com/keshew/launchgate/internal/routing"
)

// Version is set at build time via ldflags: -ldflags "-X main.Version=1.0.0"
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:   "launchgate",
	Short: "Launchgate - launch routing and remote config gate",
	RunE:  run,
}

func run(cmd *cobra.Command, args []string) error {
	// 1. Signal handling
	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer cancel()

	// 2. Load configuration (.env first, missing file is fine)
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	slog.Info("configuration loaded")

	// 3. Initialize logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Log.Level),
	}))
	slog.SetDefault(logger)
	slog.Info("logger initialized", "level", cfg.Log.Level)

	// 4. Initialize gate state store (migrations, WAL mode)
	db, err := gatestate.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return err
	}
	slog.Info("gate state initialized", "path", cfg.Database.Path)

	// 5. Initialize connectivity monitor
	monitor := connectivity.NewProbeMonitor(
		cfg.Connectivity.ProbeAddr,
		time.Duration(cfg.Connectivity.ProbeTimeout),
		time.Duration(cfg.Connectivity.Interval),
	)

	// 6. Initialize remote config client
	client := remoteconfig.NewHTTPClient(db, cfg.Gate.EndpointURL, remoteconfig.Identity{
		BundleID:          cfg.Gate.BundleID,
		OSTag:             cfg.Gate.OSTag,
		StoreID:           cfg.Gate.StoreID,
		Locale:            cfg.Gate.Locale,
		FirebaseProjectID: cfg.Gate.FirebaseProjectID,
	}, time.Duration(cfg.Gate.RequestTimeout))

	// 7. Initialize permission gate and routing machine
	gate := notify.NewGate(db, time.Duration(cfg.Notifications.DenialCooldown))
	status := api.NewStatusRegistry()
	machine := routing.New(db, client, gate, status, monitor,
		time.Duration(cfg.Routing.FallbackDelay))

	// 8. Initialize the shell API
	handler := api.NewHandler(machine, db, status, cfg.Auth.APIKey, Version)
	router := api.NewRouter(handler)
	slog.Info("router initialized")

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout),
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout),
	}

	// 9. Start workers
	var wg sync.WaitGroup
	startWorker(ctx, &wg, "connectivity", monitor.Run)
	startWorker(ctx, &wg, "routing", machine.Run)

	// 10. Start HTTP server in goroutine
	go func() {
		slog.Info("server starting", "address", addr)
		// ErrServerClosed is the expected error when Shutdown() is called
		// gracefully. Any other error indicates an actual server failure.
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	// 11. Block until signal received
	<-ctx.Done()
	slog.Info("shutdown initiated")

	// 12. Graceful shutdown sequence
	shutdownCtx, shutdownCancel := context.WithTimeout(
		context.Background(),
		time.Duration(cfg.Server.ShutdownTimeout))
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	wg.Wait()

	if err := db.Close(); err != nil {
		slog.Error("gate state close error", "error", err)
	}

	slog.Info("shutdown complete")
	return nil
}

func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// startWorker launches a background worker goroutine that respects
// context cancellation. Workers are tracked via WaitGroup for graceful
// shutdown.
func startWorker(ctx context.Context, wg *sync.WaitGroup, name string, fn func(ctx context.Context)) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("worker started", "worker", name)
		fn(ctx)
		slog.Info("worker stopped", "worker", name)
	}()
}
