package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// TestDefaultConfig verifies default configuration values
func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.LogLevel != "info" {
		t.Errorf("LogLevel = %q, want %q", cfg.LogLevel, "info")
	}
	if cfg.LogDir != ".aegis/logs" {
		t.Errorf("LogDir = %q, want %q", cfg.LogDir, ".aegis/logs")
	}
	if cfg.Dispatch.WorkersPerAgentType != 1 {
		t.Errorf("WorkersPerAgentType = %d, want 1", cfg.Dispatch.WorkersPerAgentType)
	}
	if cfg.Dispatch.QueueCapacity != 0 {
		t.Errorf("QueueCapacity = %d, want 0", cfg.Dispatch.QueueCapacity)
	}
	if cfg.Retry.MaxAttempts != 1 {
		t.Errorf("MaxAttempts = %d, want 1", cfg.Retry.MaxAttempts)
	}
	if cfg.Optimization.MinSamples != 10 {
		t.Errorf("MinSamples = %d, want 10", cfg.Optimization.MinSamples)
	}
	if cfg.Optimization.MinSuccessRate != 0.8 {
		t.Errorf("MinSuccessRate = %v, want 0.8", cfg.Optimization.MinSuccessRate)
	}
	if cfg.Optimization.MaxAvgExecutionTime != 30*time.Second {
		t.Errorf("MaxAvgExecutionTime = %v, want 30s", cfg.Optimization.MaxAvgExecutionTime)
	}
	if cfg.Knowledge.Backend != "sqlite" {
		t.Errorf("Backend = %q, want sqlite", cfg.Knowledge.Backend)
	}
	if cfg.Knowledge.RetentionSamples != 1000 {
		t.Errorf("RetentionSamples = %d, want 1000", cfg.Knowledge.RetentionSamples)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("DefaultConfig().Validate() = %v, want nil", err)
	}
}

// TestLoadConfigValidFile tests loading a valid YAML config file
func TestLoadConfigValidFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `log_level: debug
log_dir: /tmp/logs
dispatch:
  workers_per_agent_type: 3
  queue_capacity: 50
retry:
  max_attempts: 4
  backoff: 2s
optimization:
  interval: 15s
  min_samples: 20
  min_success_rate: 0.95
  max_avg_execution_time: 5s
knowledge:
  backend: redis
  redis_addr: redis:6379
  redis_prefix: prod
  retention_samples: 0
server:
  addr: 0.0.0.0:9000
agents:
  echo:
  payment_processor:
    currency: usd
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if cfg.Dispatch.WorkersPerAgentType != 3 || cfg.Dispatch.QueueCapacity != 50 {
		t.Errorf("Dispatch = %+v, want workers 3 capacity 50", cfg.Dispatch)
	}
	if cfg.Retry.MaxAttempts != 4 || cfg.Retry.Backoff != 2*time.Second {
		t.Errorf("Retry = %+v, want 4 attempts 2s backoff", cfg.Retry)
	}
	if cfg.Optimization.Interval != 15*time.Second {
		t.Errorf("Interval = %v, want 15s", cfg.Optimization.Interval)
	}
	if cfg.Optimization.MinSamples != 20 || cfg.Optimization.MinSuccessRate != 0.95 {
		t.Errorf("Optimization = %+v", cfg.Optimization)
	}
	if cfg.Optimization.MaxAvgExecutionTime != 5*time.Second {
		t.Errorf("MaxAvgExecutionTime = %v, want 5s", cfg.Optimization.MaxAvgExecutionTime)
	}
	if cfg.Knowledge.Backend != "redis" || cfg.Knowledge.RedisAddr != "redis:6379" || cfg.Knowledge.RedisPrefix != "prod" {
		t.Errorf("Knowledge = %+v", cfg.Knowledge)
	}
	if cfg.Knowledge.RetentionSamples != 0 {
		t.Errorf("RetentionSamples = %d, want explicit 0 to override default", cfg.Knowledge.RetentionSamples)
	}
	if cfg.Server.Addr != "0.0.0.0:9000" {
		t.Errorf("Server.Addr = %q", cfg.Server.Addr)
	}

	types := cfg.AgentTypes()
	if strings.Join(types, ",") != "echo,payment_processor" {
		t.Errorf("AgentTypes() = %v", types)
	}
	if cfg.Agents["echo"] == nil {
		t.Errorf("empty agent config should be an empty map, got nil")
	}
	if cfg.Agents["payment_processor"]["currency"] != "usd" {
		t.Errorf("payment_processor config = %v", cfg.Agents["payment_processor"])
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

// TestLoadConfigFileNotExists tests fallback to defaults when file doesn't exist
func TestLoadConfigFileNotExists(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("LoadConfig() should not error on missing file, got: %v", err)
	}
	if cfg.Knowledge.DBPath != ".aegis/knowledge.db" {
		t.Errorf("DBPath = %q, want default", cfg.Knowledge.DBPath)
	}
}

// TestLoadConfigErrors tests malformed files and invalid durations
func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{name: "malformed yaml", content: "log_level: [unclosed", wantErr: "failed to parse config file"},
		{name: "bad backoff", content: "retry:\n  backoff: soon\n", wantErr: "retry.backoff"},
		{name: "bad interval", content: "optimization:\n  interval: often\n", wantErr: "optimization.interval"},
		{name: "bad latency", content: "optimization:\n  max_avg_execution_time: slow\n", wantErr: "max_avg_execution_time"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
				t.Fatalf("write config: %v", err)
			}
			_, err := LoadConfig(path)
			if err == nil {
				t.Fatalf("LoadConfig() error = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("LoadConfig() error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

// TestLoadConfigFromDir tests the .aegis/config.yaml convention
func TestLoadConfigFromDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, ".aegis"), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ".aegis", "config.yaml"), []byte("log_level: warn\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadConfigFromDir(dir)
	if err != nil {
		t.Fatalf("LoadConfigFromDir() error = %v", err)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %q, want warn", cfg.LogLevel)
	}
}

// TestMergeWithFlags tests that non-nil flags override config values
func TestMergeWithFlags(t *testing.T) {
	cfg := DefaultConfig()
	level := "debug"
	workers := 4
	addr := ":9999"

	cfg.MergeWithFlags(&level, nil, &workers, nil, &addr)

	if cfg.LogLevel != "debug" {
		t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
	}
	if cfg.LogDir != ".aegis/logs" {
		t.Errorf("LogDir changed without a flag: %q", cfg.LogDir)
	}
	if cfg.Dispatch.WorkersPerAgentType != 4 {
		t.Errorf("WorkersPerAgentType = %d, want 4", cfg.Dispatch.WorkersPerAgentType)
	}
	if cfg.Server.Addr != ":9999" {
		t.Errorf("Server.Addr = %q", cfg.Server.Addr)
	}
}

// TestValidate tests rejection of invalid values
func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "bad log level", mutate: func(c *Config) { c.LogLevel = "loud" }, wantErr: "log_level"},
		{name: "zero workers", mutate: func(c *Config) { c.Dispatch.WorkersPerAgentType = 0 }, wantErr: "workers_per_agent_type"},
		{name: "negative capacity", mutate: func(c *Config) { c.Dispatch.QueueCapacity = -1 }, wantErr: "queue_capacity"},
		{name: "zero attempts", mutate: func(c *Config) { c.Retry.MaxAttempts = 0 }, wantErr: "max_attempts"},
		{name: "zero interval", mutate: func(c *Config) { c.Optimization.Interval = 0 }, wantErr: "interval"},
		{name: "success rate above one", mutate: func(c *Config) { c.Optimization.MinSuccessRate = 1.5 }, wantErr: "min_success_rate"},
		{name: "unknown backend", mutate: func(c *Config) { c.Knowledge.Backend = "etcd" }, wantErr: "knowledge.backend"},
		{name: "empty db path", mutate: func(c *Config) { c.Knowledge.DBPath = "" }, wantErr: "db_path"},
		{name: "redis without addr", mutate: func(c *Config) { c.Knowledge.Backend = "redis"; c.Knowledge.RedisAddr = "" }, wantErr: "redis_addr"},
		{name: "negative retention", mutate: func(c *Config) { c.Knowledge.RetentionSamples = -1 }, wantErr: "retention_samples"},
		{name: "empty server addr", mutate: func(c *Config) { c.Server.Addr = "" }, wantErr: "server.addr"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatalf("Validate() = nil, want error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

// TestGetAegisHome tests env override and directory creation
func TestGetAegisHome(t *testing.T) {
	home := filepath.Join(t.TempDir(), "custom-home")
	t.Setenv("AEGIS_HOME", home)

	got, err := GetAegisHome()
	if err != nil {
		t.Fatalf("GetAegisHome() error = %v", err)
	}
	if got != home {
		t.Errorf("GetAegisHome() = %q, want %q", got, home)
	}
	if info, err := os.Stat(home); err != nil || !info.IsDir() {
		t.Errorf("home directory not created: %v", err)
	}

	lockDir, err := GetLockDir()
	if err != nil {
		t.Fatalf("GetLockDir() error = %v", err)
	}
	if lockDir != filepath.Join(home, "locks") {
		t.Errorf("GetLockDir() = %q", lockDir)
	}
}
