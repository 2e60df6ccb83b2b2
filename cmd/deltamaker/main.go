package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alejandrodnm/deltamaker/config"
	"github.com/alejandrodnm/deltamaker/internal/adapters/notify"
	"github.com/alejandrodnm/deltamaker/internal/adapters/storage"
	"github.com/alejandrodnm/deltamaker/internal/metrics"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	once := flag.Bool("once", false, "run one live cycle and exit")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	halt := flag.String("halt", "", "create the halt file with REASON and exit")
	resume := flag.Bool("resume", false, "remove the halt file, clear the persisted halt and exit")
	report := flag.Bool("report", false, "print risk state, alerts, daily history and recent placements")
	backtestFile := flag.String("backtest", "", "run the backtest over a JSON/JSONL snapshot FILE")
	montecarlo := flag.Int("montecarlo", 0, "with -backtest: run N probabilistic Monte Carlo runs")
	seed := flag.Uint64("seed", 0, "with -montecarlo: base seed (overrides config)")
	sweep := flag.String("sweep", "", "with -backtest: sensitivity sweep PARAM=v1,v2,...")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err, "path", *configPath)
		os.Exit(1)
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	setupLogger(cfg.Log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	console := notify.NewConsole()

	switch {
	case *halt != "":
		runHalt(cfg, *halt)
		return
	case *resume:
		runResume(ctx, cfg)
		return
	case *report:
		runReport(ctx, cfg, console)
		return
	case *backtestFile != "":
		if *seed != 0 {
			cfg.Backtest.Seed = *seed
		}
		runBacktest(ctx, cfg, console, backtestOptions{
			path:       *backtestFile,
			monteCarlo: *montecarlo,
			sweep:      *sweep,
		})
		return
	}

	slog.Info("deltamaker starting",
		"config", *configPath,
		"interval", cfg.Interval(),
		"strategy", cfg.Engine.Strategy,
		"position_size", cfg.Engine.PositionSize,
		"once", *once,
	)

	if cfg.Metrics.Listen != "" {
		srv := startMetrics(cfg.Metrics.Listen)
		defer func() {
			shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
			defer stop()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	store, err := storage.NewSQLiteStorage(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open storage", "err", err, "dsn", cfg.Storage.DSN)
		os.Exit(1)
	}
	defer store.Close()

	runLive(ctx, cfg, store, console, *once)
	slog.Info("deltamaker stopped cleanly")
}

func startMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", "err", err, "addr", addr)
		}
	}()
	slog.Info("metrics listening", "addr", addr)
	return srv
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
