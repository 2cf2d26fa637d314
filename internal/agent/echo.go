package agent

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/harrison/aegis/internal/learning"
	"github.com/harrison/aegis/internal/models"
)

// EchoHandler returns its payload unchanged. Payload keys "sleep" (a
// duration string), "fail" and "retryable" shape the execution, which makes
// echo the diagnostic agent for exercising the dispatch path.
type EchoHandler struct {
	mu     sync.Mutex
	events []learning.OptimizationEvent
}

// Initialize declares the echo capability
func (h *EchoHandler) Initialize(ctx context.Context, cfg Config) ([]string, error) {
	return []string{"echo"}, nil
}

// Handle echoes task.Payload
func (h *EchoHandler) Handle(ctx context.Context, task models.TaskEnvelope) (interface{}, error) {
	if raw, ok := task.Payload["sleep"]; ok {
		s, _ := raw.(string)
		d, err := time.ParseDuration(s)
		if err != nil {
			return nil, InvalidPayload(task.Type, "invalid sleep %v", raw)
		}
		timer := time.NewTimer(d)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}

	if fail, _ := task.Payload["fail"].(bool); fail {
		err := errors.New(payloadString(task, "message", "echo failure requested"))
		if retry, _ := task.Payload["retryable"].(bool); retry {
			return nil, Retryable(err)
		}
		return nil, err
	}

	out := make(map[string]interface{}, len(task.Payload))
	for k, v := range task.Payload {
		out[k] = v
	}
	return out, nil
}

// Optimize keeps the events delivered for echo task types
func (h *EchoHandler) Optimize(ctx context.Context, ev learning.OptimizationEvent) {
	h.mu.Lock()
	h.events = append(h.events, ev)
	h.mu.Unlock()
}

// Events returns the optimization events received so far
func (h *EchoHandler) Events() []learning.OptimizationEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]learning.OptimizationEvent(nil), h.events...)
}
