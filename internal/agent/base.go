package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"sort"
	"time"

	"github.com/harrison/aegis/internal/learning"
	"github.com/harrison/aegis/internal/models"
)

// Agent is a deployed, stateful worker
type Agent interface {
	ID() string
	Type() string
	Execute(ctx context.Context, task models.TaskEnvelope) models.ResultEnvelope
	Status() Status
	Close() error
}

// Status is the read-only snapshot returned by get_agent_status
type Status struct {
	AgentID          string                    `json:"agent_id"`
	AgentType        string                    `json:"agent_type"`
	Capabilities     []string                  `json:"capabilities"`
	PerformanceStats learning.PerformanceStats `json:"performance_stats"`
	KnowledgeSize    int                       `json:"knowledge_size"`
}

// BaseAgent wraps a Handler with timing, statistics and knowledge bookkeeping.
// Execute never panics and always returns an envelope.
type BaseAgent struct {
	id           string
	agentType    string
	config       Config
	handler      Handler
	knowledge    *learning.Knowledge
	capabilities []string
	logger       Logger
	now          func() time.Time
}

func newBaseAgent(id, agentType string, cfg Config, h Handler, k *learning.Knowledge, caps []string, logger Logger, now func() time.Time) *BaseAgent {
	if logger == nil {
		logger = nopLogger{}
	}
	if now == nil {
		now = time.Now
	}
	return &BaseAgent{
		id:           id,
		agentType:    agentType,
		config:       cfg,
		handler:      h,
		knowledge:    k,
		capabilities: append([]string(nil), caps...),
		logger:       logger,
		now:          now,
	}
}

// ID returns the agent id, stable for the process lifetime
func (a *BaseAgent) ID() string { return a.id }

// Type returns the agent type
func (a *BaseAgent) Type() string { return a.agentType }

// Capabilities returns the capabilities declared at initialization
func (a *BaseAgent) Capabilities() []string {
	return append([]string(nil), a.capabilities...)
}

// Handler returns the wrapped handler
func (a *BaseAgent) Handler() Handler { return a.handler }

// Config returns the deployment configuration
func (a *BaseAgent) Config() Config { return a.config }

// Knowledge returns the agent's own knowledge handle
func (a *BaseAgent) Knowledge() *learning.Knowledge { return a.knowledge }

// Execute runs the handler and records the outcome. Statistics, the
// efficiency sample and (on failure) the error resolution are written for
// every invocation, whatever the handler does.
func (a *BaseAgent) Execute(ctx context.Context, task models.TaskEnvelope) models.ResultEnvelope {
	start := a.now()
	result, err := a.invoke(ctx, task)
	elapsed := a.now().Sub(start)
	if elapsed < 0 {
		elapsed = 0
	}

	outcome := learning.OutcomeCompleted
	kind := models.ErrorKind("")
	if err != nil {
		outcome = learning.OutcomeFailed
		kind = models.KindOf(err)
		if ctx.Err() != nil {
			outcome = learning.OutcomeCancelled
			kind = models.KindCancelled
		}
	}

	// Bookkeeping must survive a cancelled task context
	bctx := context.WithoutCancel(ctx)

	if _, serr := a.knowledge.UpdateStats(bctx, func(s *learning.PerformanceStats) {
		if err == nil {
			s.RecordSuccess(elapsed)
		} else {
			s.RecordFailure()
		}
	}); serr != nil {
		a.logger.LogWarn(fmt.Sprintf("agent %s: persist stats: %v", a.id, serr))
	}

	if kerr := a.knowledge.RecordExecution(bctx, task.Type, learning.NewSample(outcome, elapsed, a.now())); kerr != nil {
		a.logger.LogWarn(fmt.Sprintf("agent %s: record execution: %v", a.id, kerr))
	}

	if err != nil {
		if kerr := a.knowledge.RecordError(bctx, kind, err.Error()); kerr != nil {
			a.logger.LogWarn(fmt.Sprintf("agent %s: record error: %v", a.id, kerr))
		}
		return models.ResultEnvelope{
			Success:        false,
			AgentID:        a.id,
			ProcessingTime: elapsed,
			Error:          err.Error(),
			ErrorKind:      kind,
			Retryable:      IsRetryable(err) && outcome != learning.OutcomeCancelled,
		}
	}

	return models.ResultEnvelope{
		Success:        true,
		AgentID:        a.id,
		ProcessingTime: elapsed,
		Result:         result,
	}
}

func (a *BaseAgent) invoke(ctx context.Context, task models.TaskEnvelope) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.LogWarn(fmt.Sprintf("agent %s: handler panic on %s: %v\n%s", a.id, task.Type, r, debug.Stack()))
			result = nil
			err = models.NewTaskError(models.KindPanic, task.Type, fmt.Sprintf("handler panic: %v", r), nil)
		}
	}()
	return a.handler.Handle(ctx, task)
}

// Status returns a snapshot of capabilities, statistics and knowledge size
func (a *BaseAgent) Status() Status {
	return Status{
		AgentID:          a.id,
		AgentType:        a.agentType,
		Capabilities:     a.Capabilities(),
		PerformanceStats: a.knowledge.Stats(),
		KnowledgeSize:    a.knowledge.Size(),
	}
}

// Optimize forwards an optimization event to the handler when it consumes them
func (a *BaseAgent) Optimize(ctx context.Context, ev learning.OptimizationEvent) bool {
	opt, ok := a.handler.(Optimizer)
	if !ok {
		return false
	}
	opt.Optimize(ctx, ev)
	return true
}

// Assessment flags one task type that underperforms over a recent window
type Assessment struct {
	TaskType    string
	SampleCount int
	SuccessRate float64
	AvgExecTime time.Duration
	Reasons     []string
}

// Assessment thresholds for an agent's own recent history
const (
	AssessSuccessRate = 0.9
	AssessMaxAvgTime  = 10 * time.Second
)

// Assess reviews samples newer than now-window. A task type is flagged when
// its success rate is below 0.9 or its average successful execution time is
// above 10s.
func (a *BaseAgent) Assess(window time.Duration, now time.Time) []Assessment {
	snap := a.knowledge.Snapshot()
	cutoff := now.Add(-window)

	var out []Assessment
	for taskType, samples := range snap.Record.EfficiencyPatterns {
		var n, successes int
		var successTime time.Duration
		for _, s := range samples {
			if s.Outcome == learning.OutcomeCancelled || !s.Timestamp.After(cutoff) {
				continue
			}
			n++
			if s.Success {
				successes++
				successTime += s.ExecutionTime
			}
		}
		if n == 0 {
			continue
		}

		as := Assessment{TaskType: taskType, SampleCount: n, SuccessRate: float64(successes) / float64(n)}
		if successes > 0 {
			as.AvgExecTime = successTime / time.Duration(successes)
		}
		if as.SuccessRate < AssessSuccessRate {
			as.Reasons = append(as.Reasons, learning.ReasonLowSuccessRate)
		}
		if as.AvgExecTime > AssessMaxAvgTime {
			as.Reasons = append(as.Reasons, learning.ReasonHighLatency)
		}
		if len(as.Reasons) > 0 {
			out = append(out, as)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TaskType < out[j].TaskType })
	return out
}

// Close stops the handler's background work and releases the knowledge handle
func (a *BaseAgent) Close() error {
	var errs []error
	if c, ok := a.handler.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close handler: %w", err))
		}
	}
	if err := a.knowledge.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close knowledge: %w", err))
	}
	return errors.Join(errs...)
}
