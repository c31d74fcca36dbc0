package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"

	"github.com/leonunix/floe/internal/backend"
	"github.com/leonunix/floe/internal/config"
	"github.com/leonunix/floe/internal/floe"
	"github.com/leonunix/floe/internal/maintenance"
	"github.com/leonunix/floe/internal/util"
)

func main() {
	configPath := flag.String("config", "floe.yaml", "path to configuration file")
	once := flag.Bool("once", false, "run maintenance once and exit (ignore schedule)")
	history := flag.Int("history", 0, "print job records of the last N days and exit")
	flag.Parse()

	if err := run(*configPath, *once, *history); err != nil {
		slog.Error("floe-maint failed", "error", err)
		os.Exit(1)
	}
}

func run(configPath string, once bool, historyDays int) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	util.SetupLogger(cfg.Logging.Level)

	slog.Info("floe-maint starting",
		"engine", cfg.Engine.Addresses,
		"schedule", cfg.Maintenance.Schedule,
		"copy_jobs", len(cfg.Maintenance.Copy),
		"prune_jobs", len(cfg.Maintenance.Prune),
		"concurrency", cfg.Maintenance.Concurrency,
	)

	settings := floe.SettingsFromConfig(cfg)
	es, engine, err := floe.Connect(cfg)
	if err != nil {
		return fmt.Errorf("connecting engine: %w", err)
	}
	defer engine.Close()

	history, err := maintenance.NewIndexHistory(engine, settings)
	if err != nil {
		return fmt.Errorf("initializing job history: %w", err)
	}
	if historyDays > 0 {
		return printHistory(context.Background(), os.Stdout, history, historyDays)
	}

	lock := backend.NewLock(es)
	runner := maintenance.NewRunner(engine, settings, cfg.Maintenance,
		maintenance.WithLock(lock),
		maintenance.WithHistory(history),
	)

	if once {
		if err := runner.RunAll(context.Background()); err != nil {
			return fmt.Errorf("maintenance: %w", err)
		}
		slog.Info("maintenance completed, exiting")
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := cron.New()
	_, err = c.AddFunc(cfg.Maintenance.Schedule, func() {
		slog.Info("scheduled maintenance starting")
		if err := runner.RunAll(ctx); err != nil {
			slog.Error("scheduled maintenance failed", "error", err)
			return
		}
		slog.Info("scheduled maintenance completed")
	})
	if err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", cfg.Maintenance.Schedule, err)
	}

	srv := &http.Server{
		Addr:              cfg.Server.Listen,
		Handler:           metricsMux(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		slog.Info("metrics endpoint listening", "listen", cfg.Server.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", "error", err)
		}
	}()

	c.Start()
	slog.Info("maintenance scheduler started", "schedule", cfg.Maintenance.Schedule, "lock_owner", lock.Owner())

	// Wait for shutdown signal.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	slog.Info("shutting down...")
	cancel()
	cronCtx := c.Stop()
	<-cronCtx.Done()

	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("metrics server shutdown", "error", err)
	}
	slog.Info("floe-maint stopped")
	return nil
}

// printHistory writes one JSON line per recorded job.
func printHistory(ctx context.Context, w io.Writer, h *maintenance.IndexHistory, days int) error {
	records, err := h.Recent(ctx, days)
	if err != nil {
		return fmt.Errorf("reading job history: %w", err)
	}
	enc := json.NewEncoder(w)
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return err
		}
	}
	return nil
}

func metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return mux
}
