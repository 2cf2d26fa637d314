package models

import "time"

// ResultEnvelope is returned by every agent invocation.
// Result is set iff Success; Error and ErrorKind are set iff !Success.
// Retryable marks a failure worth another attempt.
type ResultEnvelope struct {
	Success        bool          `json:"success"`
	AgentID        string        `json:"agent_id"`
	ProcessingTime time.Duration `json:"processing_time"`
	Result         interface{}   `json:"result,omitempty"`
	Error          string        `json:"error,omitempty"`
	ErrorKind      ErrorKind     `json:"error_kind,omitempty"`
	Retryable      bool          `json:"retryable,omitempty"`
}

// Summary aggregates terminal task outcomes for a batch run
type Summary struct {
	Total     int
	Completed int
	Failed    int
	Cancelled int
	Duration  time.Duration
	Failures  []Task
}

// Add counts one terminal task
func (s *Summary) Add(task Task) {
	s.Total++
	switch task.Status {
	case StatusCompleted:
		s.Completed++
	case StatusFailed:
		s.Failed++
		s.Failures = append(s.Failures, task)
	case StatusCancelled:
		s.Cancelled++
	}
}
