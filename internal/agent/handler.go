// Package agent implements the agent execution contract, the static catalog
// of agent types, the deployment registry, and the built-in handlers.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/harrison/aegis/internal/learning"
	"github.com/harrison/aegis/internal/models"
)

// Config is the opaque deployment configuration of one agent
type Config map[string]interface{}

// String returns cfg[key] when it is a non-empty string, def otherwise
func (c Config) String(key, def string) string {
	if v, ok := c[key].(string); ok && v != "" {
		return v
	}
	return def
}

// Float returns cfg[key] as a float64 when it is numeric, def otherwise
func (c Config) Float(key string, def float64) float64 {
	if f, ok := toFloat(c[key]); ok {
		return f
	}
	return def
}

// Handler is the agent-specific part of an agent. Handle may return errors
// built with InvalidPayload, Unsupported or Retryable; any other error is
// reported as a HandlerError.
type Handler interface {
	// Initialize prepares the handler and returns its ordered capabilities.
	// It may start background work, which must stop when the handler is closed.
	Initialize(ctx context.Context, cfg Config) ([]string, error)

	// Handle processes one task
	Handle(ctx context.Context, task models.TaskEnvelope) (interface{}, error)
}

// Optimizer is implemented by handlers that react to optimization events for
// their task types.
type Optimizer interface {
	Optimize(ctx context.Context, ev learning.OptimizationEvent)
}

// Logger is the narrow logging surface handlers and the registry use
type Logger interface {
	LogInfo(message string)
	LogWarn(message string)
}

// LoggerAware handlers receive the registry's logger before Initialize
type LoggerAware interface {
	SetLogger(Logger)
}

type nopLogger struct{}

func (nopLogger) LogInfo(string) {}
func (nopLogger) LogWarn(string) {}

// InvalidPayload reports a payload the handler cannot process
func InvalidPayload(taskType, format string, args ...interface{}) error {
	return models.NewTaskError(models.KindInvalidPayload, taskType, fmt.Sprintf(format, args...), nil)
}

// Unsupported reports a task sub-type the handler does not implement
func Unsupported(taskType string) error {
	return models.NewTaskError(models.KindUnsupportedTaskType, taskType, "unsupported task type", nil)
}

type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// Retryable marks err as worth another attempt
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{err: err}
}

// IsRetryable reports whether err, or anything it wraps, was marked Retryable
func IsRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}

// requireFields returns InvalidPayload naming the first missing or empty field
func requireFields(task models.TaskEnvelope, fields ...string) error {
	var missing []string
	for _, f := range fields {
		v, ok := task.Payload[f]
		if !ok || v == nil {
			missing = append(missing, f)
			continue
		}
		if s, isString := v.(string); isString && strings.TrimSpace(s) == "" {
			missing = append(missing, f)
		}
	}
	if len(missing) > 0 {
		return InvalidPayload(task.Type, "missing required field(s): %s", strings.Join(missing, ", "))
	}
	return nil
}

func payloadString(task models.TaskEnvelope, key, def string) string {
	if v, ok := task.Payload[key].(string); ok && v != "" {
		return v
	}
	return def
}

func payloadFloat(task models.TaskEnvelope, key string) (float64, bool) {
	return toFloat(task.Payload[key])
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
