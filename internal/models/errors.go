package models

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorKind names a class of failure. Kinds key the error_resolutions
// section of the knowledge record.
type ErrorKind string

const (
	KindUnknownAgentType    ErrorKind = "UnknownAgentType"
	KindUnroutableTask      ErrorKind = "UnroutableTask"
	KindHandlerError        ErrorKind = "HandlerError"
	KindInitializationError ErrorKind = "InitializationError"
	KindInvalidPayload      ErrorKind = "InvalidPayload"
	KindUnsupportedTaskType ErrorKind = "UnsupportedTaskType"
	KindCancelled           ErrorKind = "Cancelled"
	KindPanic               ErrorKind = "Panic"
)

// Sentinel errors shared across packages
var (
	ErrUnknownAgentType   = errors.New("unknown agent type")
	ErrUnroutableTask     = errors.New("unroutable task")
	ErrInitialization     = errors.New("agent initialization failed")
	ErrDuplicateAgentType = errors.New("agent type already deployed")
	ErrTaskNotFound       = errors.New("task not found")
	ErrAgentNotFound      = errors.New("agent not found")
	ErrQueueFull          = errors.New("task queue is full")
	ErrQueueClosed        = errors.New("task queue is closed")
	ErrIllegalTransition  = errors.New("illegal task status transition")
	ErrOwnerLocked        = errors.New("knowledge owner is locked by another process")
	ErrKnowledgeClosed    = errors.New("knowledge handle is closed")
)

// TaskError is a classified failure raised while handling a task
type TaskError struct {
	Kind     ErrorKind // Failure class
	TaskType string    // Task type being handled (optional)
	Message  string    // Human-readable message
	Err      error     // Underlying error (optional)
}

// NewTaskError creates a TaskError of the given kind
func NewTaskError(kind ErrorKind, taskType, msg string, err error) *TaskError {
	return &TaskError{Kind: kind, TaskType: taskType, Message: msg, Err: err}
}

// Error implements the error interface for TaskError.
func (e *TaskError) Error() string {
	var sb strings.Builder
	if e.TaskType != "" {
		sb.WriteString(fmt.Sprintf("%s: ", e.TaskType))
	}
	sb.WriteString(e.Message)
	if e.Err != nil {
		sb.WriteString(fmt.Sprintf(": %v", e.Err))
	}
	return sb.String()
}

// Unwrap returns the underlying error for error wrapping support.
func (e *TaskError) Unwrap() error {
	return e.Err
}

// KindOf classifies an arbitrary error. Errors that carry no classification
// are reported as HandlerError.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var te *TaskError
	if errors.As(err, &te) && te.Kind != "" {
		return te.Kind
	}
	switch {
	case errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, ErrUnknownAgentType):
		return KindUnknownAgentType
	case errors.Is(err, ErrUnroutableTask):
		return KindUnroutableTask
	case errors.Is(err, ErrInitialization):
		return KindInitializationError
	}
	return KindHandlerError
}

// IsTaskError checks if the error is or wraps a TaskError.
func IsTaskError(err error) bool {
	if err == nil {
		return false
	}
	var te *TaskError
	return errors.As(err, &te)
}
