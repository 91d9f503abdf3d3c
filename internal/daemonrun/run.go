package daemonrun

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"gavel/internal/breaker"
	"gavel/internal/captions"
	"gavel/internal/config"
	"gavel/internal/daemon"
	"gavel/internal/deps"
	"gavel/internal/discovery"
	"gavel/internal/health"
	"gavel/internal/kv"
	"gavel/internal/logging"
	"gavel/internal/pipeline"
	"gavel/internal/publisher"
	"gavel/internal/queue"
	"gavel/internal/retention"
	"gavel/internal/services/vod"
	"gavel/internal/staging"
	"gavel/internal/taskstate"
	"gavel/internal/transcriber"
)

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel string
}

// Run assembles the daemon from configuration and blocks until the context is
// cancelled or a termination signal arrives.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("prepare directories: %w", err)
	}

	rotated := rotatePreviousLog(cfg.Paths.LogDir)

	logCfg := *cfg
	if strings.TrimSpace(opts.LogLevel) != "" {
		logCfg.Logging.Level = opts.LogLevel
	}
	logger, err := logging.NewFromConfig(&logCfg)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	if rotated != "" {
		logger.Debug("rotated previous daemon log", logging.String("path", rotated))
	}
	logging.CleanupOldLogs(logger, cfg.Logging.RetentionDays,
		logging.RetentionTarget{Dir: cfg.Paths.LogDir, Pattern: "gaveld-*.log"},
	)
	logDependencySnapshot(logger, cfg)

	pidPath := filepath.Join(cfg.Paths.LogDir, "gaveld.pid")
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer os.Remove(pidPath)

	kvStore, err := kv.Open(cfg.Paths.StateDB)
	if err != nil {
		logger.Error("open state database", logging.Error(err))
		return err
	}
	defer kvStore.Close()

	broker, err := queue.Open(cfg)
	if err != nil {
		logger.Error("open queue store", logging.Error(err))
		return err
	}
	defer broker.Close()

	tasks := taskstate.New(kvStore, cfg)
	vodClient := vod.NewClient(cfg)
	circuit := breaker.New("vod_api", breaker.OptionsFromConfig(cfg), kvStore, logger)

	// The resource probe reports live workers, but the orchestrator is built
	// after the health manager; probes only fire once the daemon starts, so
	// the late bind is safe.
	var orch *pipeline.Orchestrator
	liveWorkers := func() int {
		if orch == nil {
			return 0
		}
		return orch.LiveWorkers()
	}
	healthMgr := health.NewManager(cfg, kvStore, logger,
		health.DefaultProbes(cfg, vodClient, liveWorkers)...)

	orch, err = pipeline.New(cfg, tasks, broker, healthMgr, logger,
		discovery.NewDiscoverer(cfg, logger),
		transcriber.NewTranscriber(cfg, logger),
		captions.NewEmbedder(cfg, logger),
		captions.NewValidator(cfg, logger),
		publisher.NewPublisher(cfg, logger, vodClient, circuit),
		staging.NewCleaner(cfg, logger),
	)
	if err != nil {
		return fmt.Errorf("build pipeline: %w", err)
	}

	sweeper := retention.NewSweeper(cfg, tasks, broker, kvStore, logger, orch.ActiveTaskIDs)

	d, err := daemon.New(cfg, logger, kvStore, tasks, broker, orch, healthMgr, sweeper, circuit)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}
	defer d.Close()

	if err := d.Start(signalCtx); err != nil {
		logger.Error("daemon start failed",
			logging.Error(err),
			logging.String(logging.FieldEventType, "daemon_start_failed"),
			logging.String(logging.FieldErrorHint, "check the lock file, state database, and api bind address"),
			logging.String(logging.FieldImpact, "no tasks will be processed"),
		)
		return err
	}

	<-signalCtx.Done()
	logger.Info("gavel daemon shutting down")
	return nil
}

// rotatePreviousLog moves an existing daemon log aside so each run writes a
// fresh file. Rotated copies age out through CleanupOldLogs.
func rotatePreviousLog(logDir string) string {
	if strings.TrimSpace(logDir) == "" {
		return ""
	}
	current := filepath.Join(logDir, "gaveld.log")
	info, err := os.Stat(current)
	if err != nil || info.Size() == 0 {
		return ""
	}
	rotated := filepath.Join(logDir, "gaveld-"+time.Now().UTC().Format("20060102T150405")+".log")
	if err := os.Rename(current, rotated); err != nil {
		return ""
	}
	return rotated
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

func logDependencySnapshot(logger *slog.Logger, cfg *config.Config) {
	if logger == nil || cfg == nil {
		return
	}
	attrs := []logging.Attr{logging.String(logging.FieldEventType, "dependency_snapshot")}
	for _, status := range deps.Check(cfg) {
		key := strings.ToLower(status.Name)
		attrs = append(attrs,
			logging.Bool(key+"_available", status.Available),
			logging.String(key+"_binary", status.Command),
		)
	}
	logger.Info("dependency snapshot", logging.Args(attrs...)...)
}
