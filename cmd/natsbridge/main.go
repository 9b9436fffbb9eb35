// Package main implements the entry point for natsbridge, a loopback HTTP
// interface to a NATS server for co-located processes.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/c360/natsbridge/bridge"
	"github.com/c360/natsbridge/config"
	"github.com/c360/natsbridge/metric"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "natsbridge"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(os.Args[1:]); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run(args []string) error {
	cliCfg, shouldExit, err := initializeCLI(args)
	if shouldExit || err != nil {
		return err
	}

	cfg, err := loadConfig(cliCfg.ConfigPath)
	if err != nil {
		return err
	}

	if cliCfg.Validate {
		slog.Info("Configuration is valid", "config_path", cliCfg.ConfigPath)
		return nil
	}

	return runBridge(cfg, cliCfg.ShutdownTimeout)
}

// initializeCLI parses flags and sets up logging
func initializeCLI(args []string) (*CLIConfig, bool, error) {
	cliCfg, err := parseFlags(args)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, true, nil
		}
		return nil, false, fmt.Errorf("invalid flags: %w", err)
	}
	if err := validateFlags(cliCfg); err != nil {
		return nil, false, fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil, true, nil
	}

	if cliCfg.ShowHelp {
		printDetailedHelp(os.Stderr, newFlagSet(&CLIConfig{}))
		return nil, true, nil
	}

	logger := setupLogger(os.Stderr, cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Starting natsbridge",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	return cliCfg, false, nil
}

// loadConfig loads and validates the configuration. An empty path uses
// defaults and environment overrides only.
func loadConfig(path string) (*config.Config, error) {
	loader := config.NewLoader()
	loader.EnableValidation(true)
	if path != "" {
		loader.AddLayer(path)
	}

	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// runBridge wires the bridge and serves until SIGINT or SIGTERM
func runBridge(cfg *config.Config, shutdownTimeout time.Duration) error {
	logger := slog.Default()

	registry := metric.NewMetricsRegistry()
	metrics := registry.CoreMetrics()

	out, err := bridge.BuildSink(cfg.Sink, os.Stdout, logger)
	if err != nil {
		return fmt.Errorf("build sink: %w", err)
	}

	b, err := bridge.New(cfg, out,
		bridge.WithLogger(logger),
		bridge.WithMetrics(metrics),
		bridge.WithShutdownTimeout(shutdownTimeout),
	)
	if err != nil {
		_ = out.Close()
		return fmt.Errorf("create bridge: %w", err)
	}

	var metricsServer *metric.Server
	if cfg.Metrics.Port > 0 {
		metricsServer = metric.NewServer(cfg.Metrics.Port, registry, b.Health)
		if err := metricsServer.Start(); err != nil {
			_ = b.Shutdown(context.Background())
			return fmt.Errorf("start metrics server: %w", err)
		}
		slog.Info("Metrics server listening", "addr", metricsServer.Addr())
	}

	signalCtx, signalCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	runErr := b.Run(signalCtx)
	if signalCtx.Err() != nil {
		slog.Info("Received shutdown signal")
	}

	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("Error stopping metrics server", "error", err)
		}
	}

	if runErr != nil {
		return fmt.Errorf("bridge stopped: %w", runErr)
	}

	slog.Info("natsbridge shutdown complete")
	return nil
}
