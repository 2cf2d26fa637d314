package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// DispatchConfig controls the dispatch loop and per-agent-type lanes
type DispatchConfig struct {
	// WorkersPerAgentType is the number of concurrent executions per agent type
	WorkersPerAgentType int `yaml:"workers_per_agent_type"`

	// QueueCapacity bounds the global queue (0 = unbounded)
	QueueCapacity int `yaml:"queue_capacity"`
}

// RetryConfig controls bounded retry of retryable handler errors
type RetryConfig struct {
	// MaxAttempts is the total number of attempts (1 = no retry)
	MaxAttempts int `yaml:"max_attempts"`

	// Backoff is the base delay, doubled after every attempt
	Backoff time.Duration `yaml:"backoff"`
}

// OptimizationConfig controls the periodic evaluation of knowledge
type OptimizationConfig struct {
	// Interval is the evaluation cadence
	Interval time.Duration `yaml:"interval"`

	// MinSamples is the number of samples a task type needs before it is evaluated
	MinSamples int `yaml:"min_samples"`

	// MinSuccessRate flags task types whose success rate falls below it
	MinSuccessRate float64 `yaml:"min_success_rate"`

	// MaxAvgExecutionTime flags task types whose average execution time exceeds it
	MaxAvgExecutionTime time.Duration `yaml:"max_avg_execution_time"`
}

// KnowledgeConfig selects and configures the knowledge backend
type KnowledgeConfig struct {
	// Backend is "sqlite" or "redis"
	Backend string `yaml:"backend"`

	// DBPath is the SQLite database path
	DBPath string `yaml:"db_path"`

	// RedisAddr is the Redis server address
	RedisAddr string `yaml:"redis_addr"`

	// RedisPrefix prefixes every Redis key
	RedisPrefix string `yaml:"redis_prefix"`

	// RetentionSamples caps samples per owner and task type (0 = unlimited)
	RetentionSamples int `yaml:"retention_samples"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// Config represents aegis configuration options
type Config struct {
	// LogLevel sets the logging verbosity (trace, debug, info, warn, error)
	LogLevel string `yaml:"log_level"`

	// LogDir is the directory where run logs are written
	LogDir string `yaml:"log_dir"`

	Dispatch     DispatchConfig     `yaml:"dispatch"`
	Retry        RetryConfig        `yaml:"retry"`
	Optimization OptimizationConfig `yaml:"optimization"`
	Knowledge    KnowledgeConfig    `yaml:"knowledge"`
	Server       ServerConfig       `yaml:"server"`

	// Agents maps agent type to its deployment config; listed agents are deployed at startup
	Agents map[string]map[string]interface{} `yaml:"agents"`
}

// DefaultConfig returns a Config with sensible default values
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		LogDir:   ".aegis/logs",
		Dispatch: DispatchConfig{
			WorkersPerAgentType: 1,
			QueueCapacity:       0, // Unbounded
		},
		Retry: RetryConfig{
			MaxAttempts: 1,
			Backoff:     500 * time.Millisecond,
		},
		Optimization: OptimizationConfig{
			Interval:            time.Minute,
			MinSamples:          10,
			MinSuccessRate:      0.8,
			MaxAvgExecutionTime: 30 * time.Second,
		},
		Knowledge: KnowledgeConfig{
			Backend:          "sqlite",
			DBPath:           ".aegis/knowledge.db",
			RedisAddr:        "localhost:6379",
			RedisPrefix:      "aegis",
			RetentionSamples: 1000,
		},
		Server: ServerConfig{
			Addr: "127.0.0.1:8420",
		},
		Agents: map[string]map[string]interface{}{},
	}
}

// LoadConfig loads configuration from the specified file path
// If the file doesn't exist, returns default configuration without error
// If the file exists but is malformed, returns an error
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Durations are read as strings so errors name the offending field
	type yamlConfig struct {
		LogLevel string `yaml:"log_level"`
		LogDir   string `yaml:"log_dir"`
		Dispatch struct {
			WorkersPerAgentType int `yaml:"workers_per_agent_type"`
			QueueCapacity       int `yaml:"queue_capacity"`
		} `yaml:"dispatch"`
		Retry struct {
			MaxAttempts int    `yaml:"max_attempts"`
			Backoff     string `yaml:"backoff"`
		} `yaml:"retry"`
		Optimization struct {
			Interval            string  `yaml:"interval"`
			MinSamples          int     `yaml:"min_samples"`
			MinSuccessRate      float64 `yaml:"min_success_rate"`
			MaxAvgExecutionTime string  `yaml:"max_avg_execution_time"`
		} `yaml:"optimization"`
		Knowledge KnowledgeConfig                   `yaml:"knowledge"`
		Server    ServerConfig                      `yaml:"server"`
		Agents    map[string]map[string]interface{} `yaml:"agents"`
	}

	var yamlCfg yamlConfig
	if err := yaml.Unmarshal(data, &yamlCfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Presence map lets explicit zero values override defaults
	var rawMap map[string]interface{}
	if err := yaml.Unmarshal(data, &rawMap); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	has := func(section, key string) bool {
		sec, ok := rawMap[section].(map[string]interface{})
		if !ok {
			return false
		}
		_, exists := sec[key]
		return exists
	}

	if yamlCfg.LogLevel != "" {
		cfg.LogLevel = yamlCfg.LogLevel
	}
	if yamlCfg.LogDir != "" {
		cfg.LogDir = yamlCfg.LogDir
	}

	if has("dispatch", "workers_per_agent_type") {
		cfg.Dispatch.WorkersPerAgentType = yamlCfg.Dispatch.WorkersPerAgentType
	}
	if has("dispatch", "queue_capacity") {
		cfg.Dispatch.QueueCapacity = yamlCfg.Dispatch.QueueCapacity
	}

	if has("retry", "max_attempts") {
		cfg.Retry.MaxAttempts = yamlCfg.Retry.MaxAttempts
	}
	if yamlCfg.Retry.Backoff != "" {
		d, err := time.ParseDuration(yamlCfg.Retry.Backoff)
		if err != nil {
			return nil, fmt.Errorf("invalid retry.backoff format %q: %w", yamlCfg.Retry.Backoff, err)
		}
		cfg.Retry.Backoff = d
	}

	if yamlCfg.Optimization.Interval != "" {
		d, err := time.ParseDuration(yamlCfg.Optimization.Interval)
		if err != nil {
			return nil, fmt.Errorf("invalid optimization.interval format %q: %w", yamlCfg.Optimization.Interval, err)
		}
		cfg.Optimization.Interval = d
	}
	if has("optimization", "min_samples") {
		cfg.Optimization.MinSamples = yamlCfg.Optimization.MinSamples
	}
	if has("optimization", "min_success_rate") {
		cfg.Optimization.MinSuccessRate = yamlCfg.Optimization.MinSuccessRate
	}
	if yamlCfg.Optimization.MaxAvgExecutionTime != "" {
		d, err := time.ParseDuration(yamlCfg.Optimization.MaxAvgExecutionTime)
		if err != nil {
			return nil, fmt.Errorf("invalid optimization.max_avg_execution_time format %q: %w", yamlCfg.Optimization.MaxAvgExecutionTime, err)
		}
		cfg.Optimization.MaxAvgExecutionTime = d
	}

	if yamlCfg.Knowledge.Backend != "" {
		cfg.Knowledge.Backend = yamlCfg.Knowledge.Backend
	}
	if has("knowledge", "db_path") {
		cfg.Knowledge.DBPath = yamlCfg.Knowledge.DBPath
	}
	if yamlCfg.Knowledge.RedisAddr != "" {
		cfg.Knowledge.RedisAddr = yamlCfg.Knowledge.RedisAddr
	}
	if yamlCfg.Knowledge.RedisPrefix != "" {
		cfg.Knowledge.RedisPrefix = yamlCfg.Knowledge.RedisPrefix
	}
	if has("knowledge", "retention_samples") {
		cfg.Knowledge.RetentionSamples = yamlCfg.Knowledge.RetentionSamples
	}

	if yamlCfg.Server.Addr != "" {
		cfg.Server.Addr = yamlCfg.Server.Addr
	}

	for agentType, agentCfg := range yamlCfg.Agents {
		if agentCfg == nil {
			agentCfg = map[string]interface{}{}
		}
		cfg.Agents[agentType] = agentCfg
	}

	return cfg, nil
}

// LoadConfigFromDir loads configuration from .aegis/config.yaml in the specified directory
// If the directory or file doesn't exist, returns default configuration without error
func LoadConfigFromDir(dir string) (*Config, error) {
	return LoadConfig(filepath.Join(dir, ".aegis", "config.yaml"))
}

// MergeWithFlags merges CLI flags into the configuration
// Non-nil flag values override configuration values
func (c *Config) MergeWithFlags(logLevel *string, logDir *string, workers *int, dbPath *string, addr *string) {
	if logLevel != nil {
		c.LogLevel = *logLevel
	}
	if logDir != nil {
		c.LogDir = *logDir
	}
	if workers != nil {
		c.Dispatch.WorkersPerAgentType = *workers
	}
	if dbPath != nil {
		c.Knowledge.DBPath = *dbPath
	}
	if addr != nil {
		c.Server.Addr = *addr
	}
}

// AgentTypes returns the configured agent types in sorted order
func (c *Config) AgentTypes() []string {
	types := make([]string, 0, len(c.Agents))
	for agentType := range c.Agents {
		types = append(types, agentType)
	}
	sort.Strings(types)
	return types
}

// Validate validates the configuration values
// Returns an error if any values are invalid
func (c *Config) Validate() error {
	validLevels := map[string]bool{
		"trace": true,
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[c.LogLevel] {
		return fmt.Errorf("invalid log_level %q, must be one of: trace, debug, info, warn, error", c.LogLevel)
	}

	if c.Dispatch.WorkersPerAgentType < 1 {
		return fmt.Errorf("dispatch.workers_per_agent_type must be >= 1, got %d", c.Dispatch.WorkersPerAgentType)
	}
	if c.Dispatch.QueueCapacity < 0 {
		return fmt.Errorf("dispatch.queue_capacity must be >= 0, got %d", c.Dispatch.QueueCapacity)
	}

	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be >= 1, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.Backoff < 0 {
		return fmt.Errorf("retry.backoff must be >= 0, got %v", c.Retry.Backoff)
	}

	if c.Optimization.Interval <= 0 {
		return fmt.Errorf("optimization.interval must be > 0, got %v", c.Optimization.Interval)
	}
	if c.Optimization.MinSamples < 1 {
		return fmt.Errorf("optimization.min_samples must be >= 1, got %d", c.Optimization.MinSamples)
	}
	if c.Optimization.MinSuccessRate < 0 || c.Optimization.MinSuccessRate > 1 {
		return fmt.Errorf("optimization.min_success_rate must be within [0, 1], got %v", c.Optimization.MinSuccessRate)
	}
	if c.Optimization.MaxAvgExecutionTime < 0 {
		return fmt.Errorf("optimization.max_avg_execution_time must be >= 0, got %v", c.Optimization.MaxAvgExecutionTime)
	}

	switch c.Knowledge.Backend {
	case "sqlite":
		if c.Knowledge.DBPath == "" {
			return fmt.Errorf("knowledge.db_path cannot be empty when backend is sqlite")
		}
	case "redis":
		if c.Knowledge.RedisAddr == "" {
			return fmt.Errorf("knowledge.redis_addr cannot be empty when backend is redis")
		}
	default:
		return fmt.Errorf("invalid knowledge.backend %q, must be one of: sqlite, redis", c.Knowledge.Backend)
	}
	if c.Knowledge.RetentionSamples < 0 {
		return fmt.Errorf("knowledge.retention_samples must be >= 0, got %d", c.Knowledge.RetentionSamples)
	}

	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr cannot be empty")
	}

	return nil
}
