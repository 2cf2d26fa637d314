package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harrison/aegis/internal/models"
)

// BatchError aggregates the tasks of a batch run that did not complete
type BatchError struct {
	TotalTasks int           // Number of tasks in the batch
	Failed     []models.Task // Failed or cancelled tasks, in submission order
}

// NewBatchError returns a BatchError for the tasks that did not complete, or
// nil when every task completed.
func NewBatchError(tasks []models.Task) error {
	be := &BatchError{TotalTasks: len(tasks)}
	for _, t := range tasks {
		if t.Status != models.StatusCompleted {
			be.Failed = append(be.Failed, t)
		}
	}
	if len(be.Failed) == 0 {
		return nil
	}
	return be
}

// Error implements the error interface for BatchError.
func (e *BatchError) Error() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("batch failed: %d/%d tasks did not complete", len(e.Failed), e.TotalTasks))
	for _, t := range e.Failed {
		sb.WriteString(fmt.Sprintf("\n  - %s (%s) %s", t.ID, t.Type, t.Status))
		if t.ErrorKind != "" {
			sb.WriteString(fmt.Sprintf(": %s", t.ErrorKind))
		}
		if t.Error != "" {
			sb.WriteString(fmt.Sprintf(": %s", t.Error))
		}
	}
	return sb.String()
}

// Unwrap returns one classified TaskError per failed task.
// This allows errors.As to reach the failure kinds.
func (e *BatchError) Unwrap() []error {
	if len(e.Failed) == 0 {
		return nil
	}
	errs := make([]error, len(e.Failed))
	for i, t := range e.Failed {
		kind := t.ErrorKind
		if kind == "" && t.Status == models.StatusCancelled {
			kind = models.KindCancelled
		}
		errs[i] = models.NewTaskError(kind, t.Type, t.Error, nil)
	}
	return errs
}

// TimeoutError reports a task that did not reach a terminal status in time.
type TimeoutError struct {
	TaskID          string        // Task that was being waited on
	TimeoutDuration time.Duration // Duration after which the wait gave up
}

// NewTimeoutError creates a new TimeoutError.
func NewTimeoutError(id string, duration time.Duration) *TimeoutError {
	return &TimeoutError{TaskID: id, TimeoutDuration: duration}
}

// Error implements the error interface for TimeoutError.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("task %s: timeout after %v", e.TaskID, e.TimeoutDuration)
}

// Unwrap returns context.DeadlineExceeded to support error wrapping.
func (e *TimeoutError) Unwrap() error {
	return context.DeadlineExceeded
}

// IsBatchError checks if the error is or wraps a BatchError.
func IsBatchError(err error) bool {
	if err == nil {
		return false
	}
	var be *BatchError
	return errors.As(err, &be)
}

// IsTimeoutError checks if the error is or wraps a TimeoutError or context.DeadlineExceeded.
func IsTimeoutError(err error) bool {
	if err == nil {
		return false
	}
	var te *TimeoutError
	if errors.As(err, &te) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}
