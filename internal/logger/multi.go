package logger

import (
	"errors"

	"github.com/harrison/aegis/internal/learning"
	"github.com/harrison/aegis/internal/models"
)

// Sink is the full set of methods MultiLogger fans out to
type Sink interface {
	LogDebug(message string)
	LogInfo(message string)
	LogWarn(message string)
	LogError(message string)
	LogTaskQueued(task models.Task)
	LogTaskResult(task models.Task) error
	LogOptimization(ev learning.OptimizationEvent)
	LogSummary(summary models.Summary)
	LogProgress(tasks []models.Task)
}

// MultiLogger forwards every call to each sink in order
type MultiLogger struct {
	sinks []Sink
}

// NewMultiLogger creates a MultiLogger; nil sinks are skipped
func NewMultiLogger(sinks ...Sink) *MultiLogger {
	m := &MultiLogger{}
	for _, s := range sinks {
		if s != nil {
			m.sinks = append(m.sinks, s)
		}
	}
	return m
}

func (m *MultiLogger) LogDebug(message string) {
	for _, s := range m.sinks {
		s.LogDebug(message)
	}
}

func (m *MultiLogger) LogInfo(message string) {
	for _, s := range m.sinks {
		s.LogInfo(message)
	}
}

func (m *MultiLogger) LogWarn(message string) {
	for _, s := range m.sinks {
		s.LogWarn(message)
	}
}

func (m *MultiLogger) LogError(message string) {
	for _, s := range m.sinks {
		s.LogError(message)
	}
}

func (m *MultiLogger) LogTaskQueued(task models.Task) {
	for _, s := range m.sinks {
		s.LogTaskQueued(task)
	}
}

// LogTaskResult forwards to every sink and joins their errors
func (m *MultiLogger) LogTaskResult(task models.Task) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.LogTaskResult(task); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *MultiLogger) LogOptimization(ev learning.OptimizationEvent) {
	for _, s := range m.sinks {
		s.LogOptimization(ev)
	}
}

func (m *MultiLogger) LogSummary(summary models.Summary) {
	for _, s := range m.sinks {
		s.LogSummary(summary)
	}
}

func (m *MultiLogger) LogProgress(tasks []models.Task) {
	for _, s := range m.sinks {
		s.LogProgress(tasks)
	}
}
