package main

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"
)

// CLIConfig holds command-line configuration
type CLIConfig struct {
	ConfigPath      string
	LogLevel        string
	LogFormat       string
	LogFile         string
	OutputDir       string
	MetricsAddr     string
	Debug           bool
	AutoStart       bool
	NoConsole       bool
	ReportInterval  time.Duration
	ShutdownTimeout time.Duration
	ShowVersion     bool
	ShowHelp        bool
	Validate        bool
}

func parseFlags() *CLIConfig {
	return parseFlagSet(flag.CommandLine, os.Args[1:])
}

func parseFlagSet(fs *flag.FlagSet, args []string) *CLIConfig {
	cfg := &CLIConfig{}

	fs.StringVar(&cfg.ConfigPath, "config", getEnv("ORCHID_CONFIG", ""),
		"Path to YAML or JSON configuration file (env: ORCHID_CONFIG)")
	fs.StringVar(&cfg.ConfigPath, "c", getEnv("ORCHID_CONFIG", ""),
		"Path to configuration file (env: ORCHID_CONFIG)")
	fs.StringVar(&cfg.LogLevel, "log-level", "",
		"Log level: debug, info, warn, error (overrides config)")
	fs.StringVar(&cfg.LogFormat, "log-format", "",
		"Log format: json, text (overrides config)")
	fs.StringVar(&cfg.LogFile, "log-file", "",
		"Also write logs to this file, rotated (overrides config)")
	fs.StringVar(&cfg.OutputDir, "output-dir", "",
		"Directory for run files (overrides config)")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", "",
		"Metrics and health listen address (overrides config)")
	fs.BoolVar(&cfg.Debug, "debug", getEnvBool("ORCHID_DEBUG", false),
		"Enable debug logging (env: ORCHID_DEBUG)")
	fs.BoolVar(&cfg.AutoStart, "start", getEnvBool("ORCHID_AUTO_START", false),
		"Start a run immediately (env: ORCHID_AUTO_START)")
	fs.BoolVar(&cfg.NoConsole, "no-console", getEnvBool("ORCHID_NO_CONSOLE", false),
		"Do not read operator commands from stdin (env: ORCHID_NO_CONSOLE)")
	fs.DurationVar(&cfg.ReportInterval, "report-interval",
		getEnvDuration("ORCHID_REPORT_INTERVAL", 2*time.Second),
		"Status report cadence (env: ORCHID_REPORT_INTERVAL)")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout",
		getEnvDuration("ORCHID_SHUTDOWN_TIMEOUT", 30*time.Second),
		"Graceful shutdown timeout (env: ORCHID_SHUTDOWN_TIMEOUT)")
	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	fs.BoolVar(&cfg.ShowVersion, "v", false, "Show version information")
	fs.BoolVar(&cfg.ShowHelp, "help", false, "Show help information")
	fs.BoolVar(&cfg.ShowHelp, "h", false, "Show help information")
	fs.BoolVar(&cfg.Validate, "validate", false, "Validate configuration and exit")

	fs.Usage = printDetailedHelp
	_ = fs.Parse(args)
	return cfg
}

func printDetailedHelp() {
	_, _ = fmt.Fprintf(os.Stderr, `%s - detector data acquisition

Usage: %s [options]

Options:
`, appName, os.Args[0])
	flag.PrintDefaults()
	_, _ = fmt.Fprintf(os.Stderr, `
Console commands (stdin):
  start [title] [number]   start a run
  stop                     stop the run and flush all data
  interval <duration>      change the slow-controls poll interval
  status                   print a status snapshot as JSON
  health                   print the health report as JSON
  quit                     stop and exit (end of input only closes the console)

Examples:
  %s --config=orchid.yaml --start
  ORCHID_RUN_DIRECTORY=/data %s --log-file=/var/log/orchid.log

Version: %s
Build: %s
`, os.Args[0], os.Args[0], Version, BuildTime)
}

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
