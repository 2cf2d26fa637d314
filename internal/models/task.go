package models

import (
	"fmt"
	"time"
)

// TaskStatus is the lifecycle state of a submitted task
type TaskStatus string

// Task lifecycle states. Completed, failed and cancelled are terminal.
const (
	StatusQueued     TaskStatus = "queued"
	StatusProcessing TaskStatus = "processing"
	StatusCompleted  TaskStatus = "completed"
	StatusFailed     TaskStatus = "failed"
	StatusCancelled  TaskStatus = "cancelled"
)

// IsTerminal returns true for completed, failed and cancelled
func (s TaskStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// legalTransitions lists every allowed edge of the task state machine
var legalTransitions = map[TaskStatus][]TaskStatus{
	StatusQueued:     {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusCompleted, StatusFailed, StatusCancelled},
}

// CanTransition reports whether from -> to is a legal edge
func CanTransition(from, to TaskStatus) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Payload is the opaque structured value carried by a task
type Payload map[string]interface{}

// Task represents a unit of work submitted for asynchronous processing
type Task struct {
	ID         string      `json:"id"`
	Type       string      `json:"type"`
	Payload    Payload     `json:"payload,omitempty"`
	Priority   Priority    `json:"priority"`
	Status     TaskStatus  `json:"status"`
	CreatedAt  time.Time   `json:"created_at"`
	StartedAt  *time.Time  `json:"started_at,omitempty"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
	AgentID    string      `json:"agent_id,omitempty"`
	Attempts   int         `json:"attempts,omitempty"`
	Result     interface{} `json:"result,omitempty"`
	Error      string      `json:"error,omitempty"`
	ErrorKind  ErrorKind   `json:"error_kind,omitempty"`
}

// Transition moves the task to the next status, stamping start and finish times.
// Terminal tasks never change again.
func (t *Task) Transition(to TaskStatus, at time.Time) error {
	if !CanTransition(t.Status, to) {
		return fmt.Errorf("task %s: %s -> %s: %w", t.ID, t.Status, to, ErrIllegalTransition)
	}
	t.Status = to
	switch {
	case to == StatusProcessing:
		started := at
		t.StartedAt = &started
	case to.IsTerminal():
		finished := at
		t.FinishedAt = &finished
	}
	return nil
}

// Envelope returns the view of the task handed to agents
func (t *Task) Envelope() TaskEnvelope {
	return TaskEnvelope{ID: t.ID, Type: t.Type, Payload: t.Payload}
}

// Clone returns a copy safe to hand out of a lock. The payload map is shared
// because agents treat it as read-only.
func (t *Task) Clone() Task {
	c := *t
	if t.StartedAt != nil {
		started := *t.StartedAt
		c.StartedAt = &started
	}
	if t.FinishedAt != nil {
		finished := *t.FinishedAt
		c.FinishedAt = &finished
	}
	return c
}

// TaskEnvelope is what an agent sees of a task
type TaskEnvelope struct {
	ID      string  `json:"id"`
	Type    string  `json:"type"`
	Payload Payload `json:"payload,omitempty"`
}

// TaskSpec describes a task to submit, as read from batch files or the HTTP API
type TaskSpec struct {
	Type     string   `yaml:"type" json:"type"`
	Priority Priority `yaml:"priority" json:"priority"`
	Payload  Payload  `yaml:"payload" json:"payload"`
}

// Validate checks that the task can be submitted
func (s *TaskSpec) Validate() error {
	if s.Type == "" {
		return fmt.Errorf("task type is required")
	}
	if s.Priority == 0 {
		s.Priority = PriorityMedium
	}
	if !s.Priority.Valid() {
		return fmt.Errorf("task %s: invalid priority %d", s.Type, int(s.Priority))
	}
	return nil
}
