package learning

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samplesOf(outcomes []Outcome, d time.Duration) []Sample {
	out := make([]Sample, 0, len(outcomes))
	for i, o := range outcomes {
		out = append(out, NewSample(o, d, baseTime.Add(time.Duration(i)*time.Second)))
	}
	return out
}

func repeat(o Outcome, n int) []Outcome {
	out := make([]Outcome, n)
	for i := range out {
		out[i] = o
	}
	return out
}

func TestSummarize(t *testing.T) {
	outcomes := append(repeat(OutcomeCompleted, 3), OutcomeFailed, OutcomeCancelled)
	agg := Summarize(samplesOf(outcomes, 2*time.Second))

	assert.Equal(t, 4, agg.SampleCount, "cancelled samples are excluded")
	assert.Equal(t, 3, agg.Successes)
	assert.InDelta(t, 0.75, agg.SuccessRate, 1e-9)
	assert.Equal(t, 2*time.Second, agg.AvgExecTime)
	assert.Equal(t, baseTime.Add(3*time.Second), agg.LastSample)
}

func TestSummarize_Empty(t *testing.T) {
	agg := Summarize(nil)
	assert.Zero(t, agg.SampleCount)
	assert.Zero(t, agg.SuccessRate)
}

func TestThresholdPolicy(t *testing.T) {
	policy := DefaultThresholdPolicy()

	tests := []struct {
		name       string
		agg        Aggregate
		wantFlag   bool
		wantReason string
	}{
		{
			name: "too few samples",
			agg:  Aggregate{SampleCount: 9, SuccessRate: 0.1, AvgExecTime: time.Minute},
		},
		{
			name: "healthy",
			agg:  Aggregate{SampleCount: 10, SuccessRate: 0.9, AvgExecTime: time.Second},
		},
		{
			name:       "low success rate",
			agg:        Aggregate{SampleCount: 10, SuccessRate: 0.7, AvgExecTime: time.Second},
			wantFlag:   true,
			wantReason: ReasonLowSuccessRate,
		},
		{
			name:       "high latency",
			agg:        Aggregate{SampleCount: 12, SuccessRate: 1, AvgExecTime: 31 * time.Second},
			wantFlag:   true,
			wantReason: ReasonHighLatency,
		},
		{
			name:       "both",
			agg:        Aggregate{SampleCount: 11, SuccessRate: 8.0 / 11.0, AvgExecTime: 40 * time.Second},
			wantFlag:   true,
			wantReason: ReasonLowSuccessRate + "," + ReasonHighLatency,
		},
		{
			name: "thresholds are exclusive",
			agg:  Aggregate{SampleCount: 10, SuccessRate: 0.8, AvgExecTime: 30 * time.Second},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, ok := policy.Evaluate("content_create_post", tt.agg)
			assert.Equal(t, tt.wantFlag, ok)
			if !tt.wantFlag {
				return
			}
			assert.Equal(t, tt.wantReason, ev.Reason)
			assert.Equal(t, DefaultStrategy, ev.AppliedStrategy)
			assert.Equal(t, tt.agg.SampleCount, ev.SampleCount)
		})
	}
}

func TestEvaluate_EmitsOncePerNewData(t *testing.T) {
	ctx := context.Background()
	store := NewStore(setupTestBackend(t))
	k, err := store.Open(ctx, OrchestratorOwner)
	require.NoError(t, err)
	defer k.Close()

	outcomes := append(repeat(OutcomeCompleted, 8), repeat(OutcomeFailed, 3)...)
	for _, s := range samplesOf(outcomes, 35*time.Second) {
		require.NoError(t, k.RecordExecution(ctx, "payment_process", s))
	}
	for _, s := range samplesOf(repeat(OutcomeCompleted, 11), time.Second) {
		require.NoError(t, k.RecordExecution(ctx, "echo_ping", s))
	}

	now := baseTime.Add(time.Hour)
	events, err := Evaluate(ctx, k, DefaultThresholdPolicy(), now)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "payment_process", events[0].TaskType)
	assert.True(t, strings.Contains(events[0].Reason, ReasonLowSuccessRate))
	assert.Equal(t, now, events[0].Timestamp)

	events, err = Evaluate(ctx, k, DefaultThresholdPolicy(), now.Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, events, "no new samples means no new event")

	recorded := k.Snapshot().Record.OptimizationStrategies
	assert.Len(t, recorded["payment_process"], 1)
	assert.Empty(t, recorded["echo_ping"])

	require.NoError(t, k.RecordExecution(ctx, "payment_process", NewSample(OutcomeFailed, time.Second, now.Add(2*time.Minute))))
	events, err = Evaluate(ctx, k, DefaultThresholdPolicy(), now.Add(3*time.Minute))
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestEvaluate_CustomPolicy(t *testing.T) {
	ctx := context.Background()
	store := NewStore(setupTestBackend(t))
	k, err := store.Open(ctx, OrchestratorOwner)
	require.NoError(t, err)
	defer k.Close()

	require.NoError(t, k.RecordExecution(ctx, "echo_ping", NewSample(OutcomeCompleted, time.Second, baseTime)))

	var seen []string
	policy := PolicyFunc(func(taskType string, agg Aggregate) (OptimizationEvent, bool) {
		seen = append(seen, taskType)
		return OptimizationEvent{AppliedStrategy: "scale_out", Reason: "always"}, true
	})

	events, err := Evaluate(ctx, k, policy, baseTime.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, []string{"echo_ping"}, seen)
	assert.Equal(t, "echo_ping", events[0].TaskType, "task type is filled in by Evaluate")
	assert.Equal(t, "scale_out", events[0].AppliedStrategy)
}
