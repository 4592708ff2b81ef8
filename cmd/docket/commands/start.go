package commands

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/docket-io/docket/internal/logger"
	"github.com/docket-io/docket/internal/telemetry"
	"github.com/docket-io/docket/pkg/config"
	"github.com/docket-io/docket/pkg/engine"
	"github.com/spf13/cobra"
)

var (
	startForeground bool
	startPidFile    string
	startLogFile    string
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the Docket server",
	Long: `Start the Docket server.

Without flags the server detaches and keeps running after the shell
exits; logs go to the daemon log file. --foreground keeps it attached
to the terminal, which is what you want under systemd, in a container,
or while debugging.

Configuration comes from --config, falling back to
$XDG_CONFIG_HOME/docket/config.yaml and then to built-in defaults.
DOCKET_* environment variables override either.

Examples:
  docket start
  docket start --foreground
  docket start --config /etc/docket/config.yaml
  DOCKET_LOG_LEVEL=DEBUG docket start --foreground`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().BoolVarP(&startForeground, "foreground", "f", false, "Stay attached to the terminal instead of daemonizing")
	startCmd.Flags().StringVar(&startPidFile, "pid-file", "", "Path to PID file (default: $XDG_STATE_HOME/docket/docket.pid)")
	startCmd.Flags().StringVar(&startLogFile, "log-file", "", "Path to log file for daemon mode (default: $XDG_STATE_HOME/docket/docket.log)")
}

func runStart(cmd *cobra.Command, args []string) error {
	if !startForeground {
		return startDaemon()
	}

	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}
	if err := InitLogger(cfg); err != nil {
		return err
	}

	// SIGINT/SIGTERM cancel the serve context; the engine drains before
	// Serve returns. Once the context is done the handler is removed, so
	// a second Ctrl+C during the drain kills the process outright.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	context.AfterFunc(ctx, stop)

	shutdownTelemetry, err := initTelemetry(ctx, cfg)
	if err != nil {
		return err
	}
	defer shutdownTelemetry()

	fmt.Println("Docket - Document store and ingestion engine")
	logStartupConfig(cfg)

	eng, err := engine.New(ctx, cfg, nil)
	if err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}

	logger.Info("Engine initialized",
		"root", cfg.Root,
		"backend", cfg.ObjectStore.Backend,
		"workers_min", cfg.Ingest.WorkerMin,
		"workers_max", cfg.Ingest.WorkerMax)

	if startPidFile != "" {
		removePid, err := writePidFile(startPidFile)
		if err != nil {
			return err
		}
		defer removePid()
	}

	logger.Info("Serving; Ctrl+C begins a graceful shutdown")

	// Serve blocks until the context is cancelled or the ops listener
	// fails, and has already run the graceful shutdown when it returns.
	err = eng.Serve(ctx)
	switch {
	case err == nil:
		logger.Info("Server exited")
	case errors.Is(err, context.Canceled):
		logger.Info("Server drained and exited")
	default:
		logger.Error("Server failed", "error", err)
		return err
	}
	return nil
}

// initTelemetry starts tracing and profiling per config and returns a
// shutdown that flushes both. The flush gets a fresh context: by the
// time it runs, the serve context is already cancelled.
func initTelemetry(ctx context.Context, cfg *config.Config) (func(), error) {
	shutdownTracing, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Tracing.Enabled,
		ServiceName:    "docket",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Tracing.Endpoint,
		Insecure:       cfg.Telemetry.Tracing.Insecure,
		SampleRate:     cfg.Telemetry.Tracing.SampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	shutdownProfiling, err := telemetry.InitProfiling(telemetry.ProfilingConfig{
		Enabled:        cfg.Telemetry.Profiling.Enabled,
		ServiceName:    "docket",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Profiling.ServerAddress,
	})
	if err != nil {
		if terr := shutdownTracing(context.Background()); terr != nil {
			logger.Error("Telemetry shutdown error", "error", terr)
		}
		return nil, fmt.Errorf("failed to initialize profiling: %w", err)
	}

	return func() {
		if err := shutdownProfiling(); err != nil {
			logger.Error("Profiling shutdown error", "error", err)
		}
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Error("Telemetry shutdown error", "error", err)
		}
	}, nil
}

// logStartupConfig reports the effective configuration at startup.
// Tracing and profiling only get a line when they are on; the ops
// listener always gets one because its absence changes what the status
// and logs commands can do.
func logStartupConfig(cfg *config.Config) {
	logger.Info("Using configuration",
		"source", configSource(GetConfigFile()),
		"log_level", cfg.Log.Level,
		"log_format", cfg.Log.Format)

	if telemetry.IsEnabled() {
		logger.Info("Tracing on",
			"endpoint", cfg.Telemetry.Tracing.Endpoint,
			"sample_rate", cfg.Telemetry.Tracing.SampleRate)
	}
	if telemetry.IsProfilingEnabled() {
		logger.Info("Profiling on", "server", cfg.Telemetry.Profiling.ServerAddress)
	}

	if cfg.Ops.Enabled {
		logger.Info("Ops listener configured",
			"addr", cfg.Ops.ListenAddr,
			"metrics", cfg.Metrics.Enabled)
	} else {
		logger.Info("Ops listener disabled; health, stats and metrics endpoints unavailable")
	}
}

// configSource names where the effective configuration came from, for
// the startup log.
func configSource(explicit string) string {
	if explicit != "" {
		return explicit
	}
	if config.DefaultConfigExists() {
		return config.GetDefaultConfigPath()
	}
	return "defaults"
}
