package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"time"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPath      string
	LogLevel        string
	LogFormat       string
	Debug           bool
	ShutdownTimeout time.Duration
	ShowVersion     bool
	ShowHelp        bool
	Validate        bool
}

// newFlagSet binds every flag to cfg
func newFlagSet(cfg *CLIConfig) *flag.FlagSet {
	fs := flag.NewFlagSet(appName, flag.ContinueOnError)

	// Define flags with environment variable fallback
	fs.StringVar(&cfg.ConfigPath, "config",
		getEnv("NATSBRIDGE_CONFIG", ""),
		"Path to a JSON or YAML configuration file (env: NATSBRIDGE_CONFIG)")

	fs.StringVar(&cfg.ConfigPath, "c",
		getEnv("NATSBRIDGE_CONFIG", ""),
		"Path to a JSON or YAML configuration file (env: NATSBRIDGE_CONFIG)")

	fs.StringVar(&cfg.LogLevel, "log-level",
		getEnv("NATSBRIDGE_LOG_LEVEL", "info"),
		"Log level: debug, info, warn, error (env: NATSBRIDGE_LOG_LEVEL)")

	fs.StringVar(&cfg.LogFormat, "log-format",
		getEnv("NATSBRIDGE_LOG_FORMAT", "json"),
		"Log format: json, text (env: NATSBRIDGE_LOG_FORMAT)")

	fs.BoolVar(&cfg.Debug, "debug",
		getEnvBool("NATSBRIDGE_DEBUG", false),
		"Enable debug logging (env: NATSBRIDGE_DEBUG)")

	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("NATSBRIDGE_SHUTDOWN_TIMEOUT", 30*time.Second),
		"Graceful shutdown timeout (env: NATSBRIDGE_SHUTDOWN_TIMEOUT)")

	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	fs.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	fs.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	fs.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")
	fs.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	fs.Usage = func() {
		printDetailedHelp(fs.Output(), fs)
	}
	return fs
}

func parseFlags(args []string) (*CLIConfig, error) {
	cfg := &CLIConfig{}
	if err := newFlagSet(cfg).Parse(args); err != nil {
		return nil, err
	}

	if cfg.Debug {
		cfg.LogLevel = "debug"
	}

	return cfg, nil
}

func validateFlags(cfg *CLIConfig) error {
	if cfg.ShowVersion || cfg.ShowHelp {
		return nil
	}

	if cfg.ConfigPath != "" {
		if _, err := os.Stat(cfg.ConfigPath); err != nil {
			return fmt.Errorf("config file not found: %s", cfg.ConfigPath)
		}
	}

	if !slices.Contains([]string{"debug", "info", "warn", "error"}, cfg.LogLevel) {
		return fmt.Errorf("invalid log level: %s", cfg.LogLevel)
	}

	if !slices.Contains([]string{"json", "text"}, cfg.LogFormat) {
		return fmt.Errorf("invalid log format: %s", cfg.LogFormat)
	}

	if cfg.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid shutdown timeout: %v", cfg.ShutdownTimeout)
	}

	return nil
}

func printDetailedHelp(w io.Writer, fs *flag.FlagSet) {
	_, _ = fmt.Fprintf(w, `%s - HTTP to NATS bridge

Usage: %s [options]

Options:
`, appName, appName)
	fs.SetOutput(w)
	fs.PrintDefaults()
	_, _ = fmt.Fprintf(w, `
Examples:
  # Run with a config file
  %[1]s --config=/etc/natsbridge/bridge.yaml

  # Run with defaults against another server
  NATSBRIDGE_NATS_URL=nats://bus.local:4222 %[1]s

  # Subscribe and publish over HTTP
  curl http://127.0.0.1:12345/orders
  curl -X POST -H 'topic: alerts' -d '{"level":"high"}' http://127.0.0.1:12345/

  # Validate configuration only
  %[1]s --config=bridge.json --validate

Version: %[2]s
Build: %[3]s
`, appName, Version, BuildTime)
}

// Environment variable helper functions
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
