package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/harrison/aegis/internal/agent"
	"github.com/harrison/aegis/internal/config"
	"github.com/harrison/aegis/internal/executor"
	"github.com/harrison/aegis/internal/learning"
	"github.com/harrison/aegis/internal/logger"
)

// loadConfig reads --config (or .aegis/config.yaml), applies the flags the
// command defines and validates the result
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, _ := cmd.Flags().GetString("config")

	var cfg *config.Config
	var err error
	if configPath != "" {
		cfg, err = config.LoadConfig(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", configPath, err)
		}
	} else {
		cfg, err = config.LoadConfigFromDir(".")
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	}

	cfg.MergeWithFlags(
		changedString(cmd, "log-level"),
		changedString(cmd, "log-dir"),
		changedInt(cmd, "workers"),
		changedString(cmd, "db-path"),
		changedString(cmd, "addr"),
	)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func changedString(cmd *cobra.Command, name string) *string {
	if f := cmd.Flags().Lookup(name); f == nil || !f.Changed {
		return nil
	}
	v, _ := cmd.Flags().GetString(name)
	return &v
}

func changedInt(cmd *cobra.Command, name string) *int {
	if f := cmd.Flags().Lookup(name); f == nil || !f.Changed {
		return nil
	}
	v, _ := cmd.Flags().GetInt(name)
	return &v
}

// openStore opens the configured knowledge backend behind a Store with
// cross-process owner locks
func openStore(ctx context.Context, cfg *config.Config) (*learning.Store, error) {
	var backend learning.Backend
	switch cfg.Knowledge.Backend {
	case "redis":
		b, err := learning.NewRedisBackend(ctx, cfg.Knowledge.RedisAddr, cfg.Knowledge.RedisPrefix)
		if err != nil {
			return nil, fmt.Errorf("open redis knowledge backend: %w", err)
		}
		backend = b
	default:
		b, err := learning.NewSQLiteBackend(cfg.Knowledge.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite knowledge backend: %w", err)
		}
		backend = b
	}

	lockDir, err := config.GetLockDir()
	if err != nil {
		backend.Close()
		return nil, err
	}
	return learning.NewStore(backend,
		learning.WithLockDir(lockDir),
		learning.WithRetention(cfg.Knowledge.RetentionSamples),
	), nil
}

// runtime is the wired process: loggers, knowledge, registry and orchestrator
type runtime struct {
	cfg      *config.Config
	log      *logger.MultiLogger
	fileLog  *logger.FileLogger
	store    *learning.Store
	registry *agent.Registry
	orch     *executor.Orchestrator
}

func newRuntime(ctx context.Context, cfg *config.Config, out io.Writer) (*runtime, error) {
	fileLog, err := logger.NewFileLoggerWithLevel(cfg.LogDir, cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to create file logger: %w", err)
	}
	log := logger.NewMultiLogger(logger.NewConsoleLogger(out, cfg.LogLevel), fileLog)

	store, err := openStore(ctx, cfg)
	if err != nil {
		fileLog.Close()
		return nil, err
	}

	registry := agent.NewRegistry(agent.DefaultCatalog(), store, agent.WithLogger(log))
	orch, err := executor.NewOrchestrator(ctx, registry, store,
		executor.WithLogger(log),
		executor.WithWorkers(cfg.Dispatch.WorkersPerAgentType),
		executor.WithQueueCapacity(cfg.Dispatch.QueueCapacity),
		executor.WithRetry(cfg.Retry.MaxAttempts, cfg.Retry.Backoff),
		executor.WithEvaluationInterval(cfg.Optimization.Interval),
		executor.WithPolicy(learning.ThresholdPolicy{
			MinSamples:          cfg.Optimization.MinSamples,
			MinSuccessRate:      cfg.Optimization.MinSuccessRate,
			MaxAvgExecutionTime: cfg.Optimization.MaxAvgExecutionTime,
			Strategy:            learning.DefaultStrategy,
		}),
	)
	if err != nil {
		store.Close()
		fileLog.Close()
		return nil, err
	}

	return &runtime{cfg: cfg, log: log, fileLog: fileLog, store: store, registry: registry, orch: orch}, nil
}

// deploy deploys each agent type with its configured settings
func (rt *runtime) deploy(ctx context.Context, agentTypes []string) error {
	for _, agentType := range agentTypes {
		if _, ok := rt.registry.ByType(agentType); ok {
			continue
		}
		if _, err := rt.orch.DeployAgent(ctx, agentType, agent.Config(rt.cfg.Agents[agentType])); err != nil {
			return err
		}
	}
	return nil
}

// Close releases everything in reverse order of construction
func (rt *runtime) Close() error {
	var errs []error
	if err := rt.orch.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := rt.registry.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := rt.store.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := rt.fileLog.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}
