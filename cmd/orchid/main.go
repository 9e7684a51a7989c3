// Package main implements the orchid acquisition daemon. It reads the
// digitizer boards, writes every event to the run files and polls the power
// supplies, with a line-based operator console on stdin.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/c360/orchid/config"
	"github.com/c360/orchid/engine"
	"github.com/c360/orchid/metric"
	"github.com/c360/orchid/pkg/tlsutil"
)

// Build information
const (
	Version   = "0.3.0"
	BuildTime = "dev"
	appName   = "orchid"
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

	if err := run(); err != nil {
		slog.Error("orchid failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		_, _ = fmt.Fprintf(os.Stderr, "warning: cannot read .env: %v\n", err)
	}

	cli := parseFlags()
	if cli.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cli.ShowHelp {
		printDetailedHelp()
		return nil
	}

	cfg, err := loadConfig(cli)
	if err != nil {
		return err
	}
	if cli.Validate {
		fmt.Println("configuration is valid")
		return nil
	}

	logger, closeLog, err := setupLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer closeLog()
	slog.SetDefault(logger)

	logger.Info("starting orchid",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cli.ConfigPath,
		"boards", len(cfg.Acquisition.Boards),
		"files", cfg.Output.Files)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := metric.NewMetricsRegistry()
	eng, err := engine.New(ctx, cfg, engine.WithLogger(logger), engine.WithRegistry(registry))
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	var server *metric.Server
	if cfg.Metrics.Enabled {
		tlsConfig, err := tlsutil.LoadServerConfig(cfg.Metrics.TLS)
		if err != nil {
			_ = eng.Shutdown(context.Background())
			return fmt.Errorf("metrics TLS: %w", err)
		}
		server = metric.NewServer(cfg.Metrics.Address, cfg.Metrics.Path, registry, eng.HealthFunc(),
			metric.WithTLS(tlsConfig))
		if err := server.Start(); err != nil {
			_ = eng.Shutdown(context.Background())
			return fmt.Errorf("start metrics server: %w", err)
		}
		logger.Info("metrics server listening",
			"address", server.Address(),
			"path", cfg.Metrics.Path,
			"tls", tlsConfig != nil)
	}

	if err := eng.Start(ctx); err != nil {
		return err
	}

	if cfg.Run.AutoStart || cli.AutoStart {
		if _, err := eng.StartRun(cfg.Run.Title, cfg.Run.Number); err != nil {
			logger.Error("auto start failed", "error", err)
		}
	}

	reporter := newReporter(eng, logger, cli.ReportInterval)
	go reporter.Run(ctx)

	if !cli.NoConsole {
		console := newConsole(eng, os.Stdin, os.Stdout, logger)
		go func() {
			if console.Run(ctx) {
				stop()
				return
			}
			logger.Debug("console input closed")
		}()
	}

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cli.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := eng.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("engine shutdown: %w", err))
	}
	if server != nil {
		if err := server.Stop(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("metrics server shutdown: %w", err))
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	logger.Info("orchid stopped")
	return nil
}

// loadConfig loads the configuration file, if any, and applies flag
// overrides.
func loadConfig(cli *CLIConfig) (*config.Config, error) {
	loader := config.NewLoader()
	if cli.ConfigPath != "" {
		loader.AddLayer(cli.ConfigPath)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if cli.LogLevel != "" {
		cfg.Log.Level = cli.LogLevel
	}
	if cli.LogFormat != "" {
		cfg.Log.Format = cli.LogFormat
	}
	if cli.LogFile != "" {
		cfg.Log.File = cli.LogFile
	}
	if cli.Debug {
		cfg.Log.Level = "debug"
	}
	if cli.OutputDir != "" {
		cfg.Run.Directory = cli.OutputDir
	}
	if cli.MetricsAddr != "" {
		cfg.Metrics.Address = cli.MetricsAddr
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
