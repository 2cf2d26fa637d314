package learning

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Optimization reasons recorded on events
const (
	ReasonLowSuccessRate = "low_success_rate"
	ReasonHighLatency    = "high_latency"
)

// DefaultStrategy is the corrective action recorded when a policy does not name one
const DefaultStrategy = "general_parameters_adjustment"

// Aggregate summarizes the retained samples of one task type.
// Cancelled samples are not counted.
type Aggregate struct {
	SampleCount int
	Successes   int
	SuccessRate float64
	AvgExecTime time.Duration
	LastSample  time.Time
}

// Summarize aggregates samples over the full retained history
func Summarize(samples []Sample) Aggregate {
	var agg Aggregate
	var total time.Duration
	for _, s := range samples {
		if s.Outcome == OutcomeCancelled {
			continue
		}
		agg.SampleCount++
		total += s.ExecutionTime
		if s.Success {
			agg.Successes++
		}
		if s.Timestamp.After(agg.LastSample) {
			agg.LastSample = s.Timestamp
		}
	}
	if agg.SampleCount > 0 {
		agg.SuccessRate = float64(agg.Successes) / float64(agg.SampleCount)
		agg.AvgExecTime = total / time.Duration(agg.SampleCount)
	}
	return agg
}

// Policy decides whether an aggregate warrants an optimization event
type Policy interface {
	Evaluate(taskType string, agg Aggregate) (OptimizationEvent, bool)
}

// PolicyFunc adapts a function to Policy
type PolicyFunc func(taskType string, agg Aggregate) (OptimizationEvent, bool)

// Evaluate calls f
func (f PolicyFunc) Evaluate(taskType string, agg Aggregate) (OptimizationEvent, bool) {
	return f(taskType, agg)
}

// ThresholdPolicy flags task types with too low a success rate or too high an
// average execution time once enough samples exist.
type ThresholdPolicy struct {
	MinSamples          int
	MinSuccessRate      float64
	MaxAvgExecutionTime time.Duration
	Strategy            string
}

// DefaultThresholdPolicy returns the reference thresholds: 10 samples, 0.8, 30s
func DefaultThresholdPolicy() ThresholdPolicy {
	return ThresholdPolicy{
		MinSamples:          10,
		MinSuccessRate:      0.8,
		MaxAvgExecutionTime: 30 * time.Second,
		Strategy:            DefaultStrategy,
	}
}

// Evaluate implements Policy
func (p ThresholdPolicy) Evaluate(taskType string, agg Aggregate) (OptimizationEvent, bool) {
	if agg.SampleCount == 0 || agg.SampleCount < p.MinSamples {
		return OptimizationEvent{}, false
	}

	var reasons []string
	if agg.SuccessRate < p.MinSuccessRate {
		reasons = append(reasons, ReasonLowSuccessRate)
	}
	if p.MaxAvgExecutionTime > 0 && agg.AvgExecTime > p.MaxAvgExecutionTime {
		reasons = append(reasons, ReasonHighLatency)
	}
	if len(reasons) == 0 {
		return OptimizationEvent{}, false
	}

	strategy := p.Strategy
	if strategy == "" {
		strategy = DefaultStrategy
	}
	return OptimizationEvent{
		TaskType:        taskType,
		AppliedStrategy: strategy,
		Reason:          strings.Join(reasons, ","),
		SampleCount:     agg.SampleCount,
		SuccessRate:     agg.SuccessRate,
		AvgExecTime:     agg.AvgExecTime,
	}, true
}

// Evaluate runs policy over every task type in k and appends one event per
// flagged type. A type whose latest event is not older than its latest sample
// is skipped, so repeated ticks without new data emit nothing.
func Evaluate(ctx context.Context, k *Knowledge, policy Policy, now time.Time) ([]OptimizationEvent, error) {
	snap := k.Snapshot()

	taskTypes := make([]string, 0, len(snap.Record.EfficiencyPatterns))
	for taskType := range snap.Record.EfficiencyPatterns {
		taskTypes = append(taskTypes, taskType)
	}
	sort.Strings(taskTypes)

	var emitted []OptimizationEvent
	for _, taskType := range taskTypes {
		agg := Summarize(snap.Record.EfficiencyPatterns[taskType])
		if agg.SampleCount == 0 {
			continue
		}
		if events := snap.Record.OptimizationStrategies[taskType]; len(events) > 0 {
			if !events[len(events)-1].Timestamp.Before(agg.LastSample) {
				continue
			}
		}

		ev, ok := policy.Evaluate(taskType, agg)
		if !ok {
			continue
		}
		ev.TaskType = taskType
		ev.Timestamp = now
		if err := k.RecordOptimization(ctx, ev); err != nil {
			return emitted, fmt.Errorf("record optimization for %s: %w", taskType, err)
		}
		emitted = append(emitted, ev)
	}
	return emitted, nil
}
