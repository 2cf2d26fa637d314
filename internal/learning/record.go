package learning

import (
	"context"
	"time"

	"github.com/harrison/aegis/internal/models"
)

// Outcome of a single recorded execution
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
)

// Sample is one entry of efficiency_patterns[task_type]
type Sample struct {
	ExecutionTime time.Duration `json:"execution_time"`
	Success       bool          `json:"success"`
	Outcome       Outcome       `json:"outcome"`
	Timestamp     time.Time     `json:"timestamp"`
}

// NewSample builds a sample, deriving Success from the outcome
func NewSample(outcome Outcome, executionTime time.Duration, at time.Time) Sample {
	return Sample{
		ExecutionTime: executionTime,
		Success:       outcome == OutcomeCompleted,
		Outcome:       outcome,
		Timestamp:     normalizeTime(at),
	}
}

// ErrorResolution accumulates occurrences of one error kind
type ErrorResolution struct {
	Description string    `json:"description"`
	Occurrences int       `json:"occurrences"`
	Resolutions []string  `json:"resolutions"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// OptimizationEvent records that a task type crossed an evaluation threshold
type OptimizationEvent struct {
	TaskType        string        `json:"task_type"`
	AppliedStrategy string        `json:"applied_strategy"`
	Reason          string        `json:"reason"`
	SampleCount     int           `json:"sample_count"`
	SuccessRate     float64       `json:"success_rate"`
	AvgExecTime     time.Duration `json:"avg_execution_time"`
	Timestamp       time.Time     `json:"timestamp"`
}

// PerformanceStats are the running counters of one agent.
// AverageProcessingTime is averaged over successful executions only.
type PerformanceStats struct {
	TasksCompleted        int64         `json:"tasks_completed"`
	TasksFailed           int64         `json:"tasks_failed"`
	TotalProcessingTime   time.Duration `json:"total_processing_time"`
	AverageProcessingTime time.Duration `json:"average_processing_time"`
}

// RecordSuccess counts a successful execution and recomputes the average
func (p *PerformanceStats) RecordSuccess(d time.Duration) {
	p.TasksCompleted++
	p.TotalProcessingTime += d
	p.AverageProcessingTime = p.TotalProcessingTime / time.Duration(p.TasksCompleted)
}

// RecordFailure counts a failed execution; failures never affect the average
func (p *PerformanceStats) RecordFailure() {
	p.TasksFailed++
}

// Record is the full knowledge of one owner (the orchestrator or one agent)
type Record struct {
	EfficiencyPatterns     map[string][]Sample            `json:"efficiency_patterns"`
	ErrorResolutions       map[string]*ErrorResolution    `json:"error_resolutions"`
	OptimizationStrategies map[string][]OptimizationEvent `json:"optimization_strategies"`
}

// NewRecord returns an empty record with all maps allocated
func NewRecord() *Record {
	return &Record{
		EfficiencyPatterns:     make(map[string][]Sample),
		ErrorResolutions:       make(map[string]*ErrorResolution),
		OptimizationStrategies: make(map[string][]OptimizationEvent),
	}
}

// Clone deep-copies the record
func (r *Record) Clone() *Record {
	c := NewRecord()
	for taskType, samples := range r.EfficiencyPatterns {
		c.EfficiencyPatterns[taskType] = append([]Sample(nil), samples...)
	}
	for kind, res := range r.ErrorResolutions {
		copied := *res
		if res.Resolutions != nil {
			copied.Resolutions = make([]string, len(res.Resolutions))
			copy(copied.Resolutions, res.Resolutions)
		}
		c.ErrorResolutions[kind] = &copied
	}
	for taskType, events := range r.OptimizationStrategies {
		c.OptimizationStrategies[taskType] = append([]OptimizationEvent(nil), events...)
	}
	return c
}

// SampleCount returns the number of retained samples across all task types
func (r *Record) SampleCount() int {
	n := 0
	for _, samples := range r.EfficiencyPatterns {
		n += len(samples)
	}
	return n
}

// Snapshot is the persisted state of one owner as returned by a backend
type Snapshot struct {
	Owner  string           `json:"owner"`
	Record *Record          `json:"record"`
	Stats  PerformanceStats `json:"performance_stats"`
}

// Backend persists knowledge for any number of owners. Writes are appends or
// single-key upserts; nothing rewrites the whole record.
type Backend interface {
	AppendSample(ctx context.Context, owner, taskType string, sample Sample) error
	PruneSamples(ctx context.Context, owner, taskType string, keep int) error
	UpsertErrorResolution(ctx context.Context, owner, kind string, res ErrorResolution) error
	AppendOptimization(ctx context.Context, owner string, event OptimizationEvent) error
	SaveStats(ctx context.Context, owner string, stats PerformanceStats) error
	Load(ctx context.Context, owner string) (*Snapshot, error)
	Owners(ctx context.Context) ([]string, error)
	Clear(ctx context.Context) error

	SaveTaskResult(ctx context.Context, task models.Task) error
	LoadTaskResult(ctx context.Context, id string) (models.Task, bool, error)

	Close() error
}

// normalizeTime drops the monotonic reading and location so timestamps
// compare equal after a round trip through any backend.
func normalizeTime(t time.Time) time.Time {
	if t.IsZero() {
		return t
	}
	return time.Unix(0, t.UnixNano()).UTC()
}
