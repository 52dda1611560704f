// Package main is the entry point for the adaptive resource controller.
// It loads the layered configuration, wires the sampler and limit applier
// into the controller, serves Prometheus metrics and runs until SIGINT or
// SIGTERM. SIGHUP reloads the configuration.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/vitalis-app/rescontrol/internal/alerting"
	"github.com/vitalis-app/rescontrol/internal/applier"
	"github.com/vitalis-app/rescontrol/internal/buffer"
	"github.com/vitalis-app/rescontrol/internal/collector"
	"github.com/vitalis-app/rescontrol/internal/config"
	"github.com/vitalis-app/rescontrol/internal/controller"
	"github.com/vitalis-app/rescontrol/internal/platform"
	"github.com/vitalis-app/rescontrol/internal/sender"
	"github.com/vitalis-app/rescontrol/internal/telemetry"
)

var (
	// version is set at build time via -ldflags.
	version = "dev"

	configPath  = flag.String("config", "", "Path to configuration file (default: search standard locations)")
	showVersion = flag.Bool("version", false, "Show version and exit")
	dumpConfig  = flag.String("write-config", "", "Write the effective configuration to this path and exit")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("rescontrol %s\n", version)
		os.Exit(0)
	}

	path := *configPath
	if path == "" {
		path = config.Locate()
	}

	provider, err := config.NewFileProvider(embeddedConfig, path, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	cfg := provider.Config()

	if *dumpConfig != "" {
		if err := config.WriteConfig(cfg, *dumpConfig); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to write config: %v\n", err)
			os.Exit(1)
		}
		os.Exit(0)
	}

	logger := initLogger(cfg)
	defer logger.Sync()

	logger.Info("Starting resource controller",
		zap.String("version", version),
		zap.String("config", path),
		zap.String("mode", string(cfg.Mode)),
		zap.Int("services", len(cfg.Services)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	go func() {
		for sig := range sigCh {
			if sig == syscall.SIGHUP {
				logger.Info("Received SIGHUP, reloading configuration")
				if err := provider.Reload(); err != nil {
					logger.Error("Reload failed", zap.Error(err))
				}
				continue
			}
			logger.Info("Received signal, shutting down",
				zap.String("signal", sig.String()))
			cancel()
			return
		}
	}()

	run(ctx, provider, logger)
	logger.Info("Controller stopped")
}

// run wires all components and blocks until ctx is cancelled.
func run(ctx context.Context, provider *config.FileProvider, logger *zap.Logger) {
	cfg := provider.Config()
	metrics := telemetry.New()

	services := make([]string, 0, len(cfg.Services))
	for _, p := range cfg.Services {
		services = append(services, p.Name)
	}
	registry := collector.NewDefaultRegistry(logger, platform.New(), services, time.Now)
	sampler := collector.NewSampler(registry, cfg.Sampling.Timeout.Duration, logger,
		collector.WithFailureHook(metrics.SamplingFailed))

	var limits applier.Applier
	if cfg.Allocation.DryRun {
		logger.Info("Dry run: limits are logged, not enforced")
		limits = applier.NewLogApplier(logger)
	} else {
		limits = applier.NewCgroupApplier(cfg.Allocation.CgroupRoot, logger)
	}

	spool := reportSpool(ctx, cfg, logger)

	maxMemory, err := collector.TotalMemoryMB(ctx)
	if err != nil {
		logger.Warn("Could not read total memory, sizing headroom from profiles", zap.Error(err))
	}

	ctrl, err := controller.New(controller.Deps{
		Provider:    provider,
		Sampler:     sampler,
		Applier:     applier.NewCounting(limits),
		Spool:       spool,
		Metrics:     metrics,
		Logger:      logger,
		MaxMemoryMB: maxMemory,
	})
	if err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	if cfg.Metrics.Listen != "" {
		srv := &http.Server{
			Addr:              cfg.Metrics.Listen,
			Handler:           metricsMux(metrics),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			logger.Info("Serving metrics", zap.String("listen", cfg.Metrics.Listen))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server failed", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	if err := ctrl.Run(ctx); err != nil {
		logger.Error("Controller failed", zap.Error(err))
	}
}

// reportSpool builds the report sink: the disk spool, the uploader, both
// chained, or nil when reports stay in memory.
func reportSpool(ctx context.Context, cfg *config.Config, logger *zap.Logger) alerting.Spool {
	var disk sender.Spool
	if cfg.Reporting.Dir != "" {
		buf, err := buffer.New(cfg.Reporting.Dir, cfg.Reporting.MaxSizeMB, logger)
		if err != nil {
			logger.Warn("Report spool unavailable",
				zap.String("dir", cfg.Reporting.Dir),
				zap.Error(err))
		} else {
			disk = buf
		}
	}

	if cfg.Reporting.UploadURL == "" {
		if disk == nil {
			return nil
		}
		return disk
	}

	up := sender.New(cfg.Reporting.UploadURL, cfg.Reporting.UploadToken, disk, logger)
	go func() {
		if n := up.Flush(ctx); n > 0 {
			logger.Info("Delivered spooled reports", zap.Int("reports", n))
		}
	}()
	return up
}

func metricsMux(metrics *telemetry.Metrics) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

// initLogger creates a zap logger based on the configuration.
// It outputs to both console (human-readable) and optionally a JSON log file.
func initLogger(cfg *config.Config) *zap.Logger {
	var level zapcore.Level
	switch cfg.Logging.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.TimeKey = "time"
	encoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	consoleCore := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderConfig),
		zapcore.AddSync(os.Stdout),
		level,
	)

	cores := []zapcore.Core{consoleCore}

	if cfg.Logging.File != "" {
		file, err := os.OpenFile(cfg.Logging.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0640)
		if err == nil {
			fileCore := zapcore.NewCore(
				zapcore.NewJSONEncoder(encoderConfig),
				zapcore.AddSync(file),
				level,
			)
			cores = append(cores, fileCore)
		}
	}

	return zap.New(zapcore.NewTee(cores...))
}
