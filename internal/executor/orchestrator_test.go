package executor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/aegis/internal/agent"
	"github.com/harrison/aegis/internal/learning"
	"github.com/harrison/aegis/internal/models"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// scriptHandler runs a per-test function and records optimization events
type scriptHandler struct {
	handle func(ctx context.Context, task models.TaskEnvelope) (interface{}, error)

	mu     sync.Mutex
	events []learning.OptimizationEvent
}

func (h *scriptHandler) Initialize(ctx context.Context, cfg agent.Config) ([]string, error) {
	return []string{"script"}, nil
}

func (h *scriptHandler) Handle(ctx context.Context, task models.TaskEnvelope) (interface{}, error) {
	return h.handle(ctx, task)
}

func (h *scriptHandler) Optimize(ctx context.Context, ev learning.OptimizationEvent) {
	h.mu.Lock()
	h.events = append(h.events, ev)
	h.mu.Unlock()
}

func (h *scriptHandler) Events() []learning.OptimizationEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]learning.OptimizationEvent(nil), h.events...)
}

type recordingLogger struct {
	mu      sync.Mutex
	queued  []string
	results []models.Task
	events  []learning.OptimizationEvent
	warns   []string
}

func (l *recordingLogger) LogDebug(string) {}
func (l *recordingLogger) LogInfo(string)  {}
func (l *recordingLogger) LogError(string) {}

func (l *recordingLogger) LogWarn(msg string) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

func (l *recordingLogger) LogTaskQueued(task models.Task) {
	l.mu.Lock()
	l.queued = append(l.queued, task.ID)
	l.mu.Unlock()
}

func (l *recordingLogger) LogTaskResult(task models.Task) error {
	l.mu.Lock()
	l.results = append(l.results, task)
	l.mu.Unlock()
	return nil
}

func (l *recordingLogger) LogOptimization(ev learning.OptimizationEvent) {
	l.mu.Lock()
	l.events = append(l.events, ev)
	l.mu.Unlock()
}

func newTestStore(t *testing.T) *learning.Store {
	t.Helper()
	backend, err := learning.NewSQLiteBackend(":memory:")
	require.NoError(t, err)
	store := learning.NewStore(backend)
	t.Cleanup(func() { store.Close() })
	return store
}

type harness struct {
	o        *Orchestrator
	store    *learning.Store
	registry *agent.Registry
}

func newHarness(t *testing.T, store *learning.Store, catalog *agent.Catalog, opts ...Option) *harness {
	t.Helper()
	if store == nil {
		store = newTestStore(t)
	}
	if catalog == nil {
		catalog = agent.DefaultCatalog()
	}
	registry := agent.NewRegistry(catalog, store)
	o, err := NewOrchestrator(context.Background(), registry, store, append([]Option{WithEvaluationInterval(0)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() {
		o.Close()
		registry.Close()
	})
	return &harness{o: o, store: store, registry: registry}
}

func scriptCatalog(t *testing.T, handlers map[string]*scriptHandler) *agent.Catalog {
	t.Helper()
	defs := []agent.Definition{{Type: "echo", Prefix: "echo_", New: func() agent.Handler { return &agent.EchoHandler{} }}}
	for agentType, h := range handlers {
		h := h
		defs = append(defs, agent.Definition{Type: agentType, Prefix: agentType + "_", New: func() agent.Handler { return h }})
	}
	c, err := agent.NewCatalog(defs...)
	require.NoError(t, err)
	return c
}

// start runs the orchestrator until the test ends
func (h *harness) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- h.o.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-errc:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("Run did not return after cancel")
		}
	})
}

func (h *harness) deploy(t *testing.T, agentTypes ...string) {
	t.Helper()
	for _, agentType := range agentTypes {
		_, err := h.o.DeployAgent(context.Background(), agentType, nil)
		require.NoError(t, err)
	}
}

func (h *harness) submit(t *testing.T, taskType string, payload models.Payload, p models.Priority) string {
	t.Helper()
	id, err := h.o.SubmitTask(taskType, payload, p)
	require.NoError(t, err)
	return id
}

func (h *harness) wait(t *testing.T, id string) models.Task {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	task, err := h.o.WaitTask(ctx, id)
	require.NoError(t, err)
	return task
}

func TestOrchestrator_SubmitAndComplete(t *testing.T) {
	logger := &recordingLogger{}
	h := newHarness(t, nil, nil, WithLogger(logger))
	h.deploy(t, "content_creator")
	h.start(t)

	id := h.submit(t, "content_create_post", models.Payload{"topic": "spring launch", "platform": "instagram"}, models.PriorityHigh)
	assert.Regexp(t, `^task_[0-9a-f-]{36}$`, id)

	task := h.wait(t, id)
	require.Equal(t, models.StatusCompleted, task.Status, task.Error)
	assert.NotNil(t, task.Result)
	assert.Equal(t, 1, task.Attempts)
	require.NotNil(t, task.StartedAt)
	require.NotNil(t, task.FinishedAt)
	assert.False(t, task.FinishedAt.Before(*task.StartedAt))

	status, err := h.o.AgentStatus(task.AgentID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), status.PerformanceStats.TasksCompleted)
	assert.Equal(t, 1, status.KnowledgeSize)

	samples := h.o.Knowledge().Samples("content_create_post")
	require.Len(t, samples, 1)
	assert.True(t, samples[0].Success)

	logger.mu.Lock()
	defer logger.mu.Unlock()
	assert.Equal(t, []string{id}, logger.queued)
	require.Len(t, logger.results, 1)
	assert.Equal(t, models.StatusCompleted, logger.results[0].Status)
}

func TestOrchestrator_TransitionsInOrder(t *testing.T) {
	var mu sync.Mutex
	seen := map[string][]models.TaskStatus{}
	hook := func(task models.Task) {
		mu.Lock()
		seen[task.ID] = append(seen[task.ID], task.Status)
		mu.Unlock()
	}

	h := newHarness(t, nil, nil, WithTransitionHook(hook))
	h.deploy(t, "echo")
	h.start(t)

	ok := h.submit(t, "echo_ping", nil, models.PriorityMedium)
	bad := h.submit(t, "echo_ping", models.Payload{"fail": true}, models.PriorityMedium)
	h.wait(t, ok)
	h.wait(t, bad)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []models.TaskStatus{models.StatusQueued, models.StatusProcessing, models.StatusCompleted}, seen[ok])
	assert.Equal(t, []models.TaskStatus{models.StatusQueued, models.StatusProcessing, models.StatusFailed}, seen[bad])
}

func TestOrchestrator_PriorityOrder(t *testing.T) {
	var mu sync.Mutex
	var order []string
	worker := &scriptHandler{handle: func(ctx context.Context, task models.TaskEnvelope) (interface{}, error) {
		mu.Lock()
		order = append(order, task.Payload["name"].(string))
		mu.Unlock()
		return nil, nil
	}}
	h := newHarness(t, nil, scriptCatalog(t, map[string]*scriptHandler{"work": worker}))
	h.deploy(t, "work")

	// Everything is queued before dispatch starts
	var ids []string
	for _, tc := range []struct {
		name string
		p    models.Priority
	}{
		{"low-1", models.PriorityLow},
		{"critical", models.PriorityCritical},
		{"medium", models.PriorityMedium},
		{"low-2", models.PriorityLow},
		{"high", models.PriorityHigh},
	} {
		ids = append(ids, h.submit(t, "work_item", models.Payload{"name": tc.name}, tc.p))
	}
	h.start(t)
	for _, id := range ids {
		h.wait(t, id)
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"critical", "high", "medium", "low-1", "low-2"}, order)
}

func TestOrchestrator_UnroutableTaskDoesNotStopDispatch(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.deploy(t, "echo")
	h.start(t)

	unknown := h.submit(t, "zzz_unknown", nil, models.PriorityCritical)
	undeployed := h.submit(t, "social_post", models.Payload{"text": "hi"}, models.PriorityCritical)
	ok := h.submit(t, "echo_ping", models.Payload{"n": 1}, models.PriorityLow)

	task := h.wait(t, unknown)
	assert.Equal(t, models.StatusFailed, task.Status)
	assert.Equal(t, models.KindUnroutableTask, task.ErrorKind)
	assert.Contains(t, task.Error, "zzz_unknown")

	task = h.wait(t, undeployed)
	assert.Equal(t, models.StatusFailed, task.Status)
	assert.Equal(t, models.KindUnroutableTask, task.ErrorKind)
	assert.Contains(t, task.Error, "social_poster is not deployed")

	task = h.wait(t, ok)
	assert.Equal(t, models.StatusCompleted, task.Status)

	snap := h.o.Knowledge().Snapshot()
	require.Contains(t, snap.Record.ErrorResolutions, string(models.KindUnroutableTask))
	assert.Equal(t, 2, snap.Record.ErrorResolutions[string(models.KindUnroutableTask)].Occurrences)
	require.Len(t, snap.Record.EfficiencyPatterns["zzz_unknown"], 1)
	assert.False(t, snap.Record.EfficiencyPatterns["zzz_unknown"][0].Success)
}

func TestOrchestrator_HandlerFailure(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.deploy(t, "echo")
	h.start(t)

	id := h.submit(t, "echo_ping", models.Payload{"fail": true, "message": "upstream 500"}, models.PriorityMedium)
	task := h.wait(t, id)
	assert.Equal(t, models.StatusFailed, task.Status)
	assert.Equal(t, models.KindHandlerError, task.ErrorKind)
	assert.Equal(t, "upstream 500", task.Error)
	assert.Nil(t, task.Result)
	assert.Equal(t, 1, task.Attempts)
}

func TestOrchestrator_RetriesRetryableFailures(t *testing.T) {
	var calls int32
	flaky := &scriptHandler{handle: func(ctx context.Context, task models.TaskEnvelope) (interface{}, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return nil, agent.Retryable(errors.New("rate limited"))
		}
		return "ok", nil
	}}
	logger := &recordingLogger{}
	h := newHarness(t, nil, scriptCatalog(t, map[string]*scriptHandler{"flaky": flaky}),
		WithRetry(3, time.Millisecond), WithLogger(logger))
	h.deploy(t, "flaky")
	h.start(t)

	task := h.wait(t, h.submit(t, "flaky_call", nil, models.PriorityMedium))
	assert.Equal(t, models.StatusCompleted, task.Status)
	assert.Equal(t, "ok", task.Result)
	assert.Equal(t, 3, task.Attempts)

	samples := h.o.Knowledge().Samples("flaky_call")
	require.Len(t, samples, 3)
	assert.False(t, samples[0].Success)
	assert.False(t, samples[1].Success)
	assert.True(t, samples[2].Success)

	logger.mu.Lock()
	defer logger.mu.Unlock()
	require.Len(t, logger.warns, 2)
	assert.Contains(t, logger.warns[0], "attempt 1/3 failed")
}

func TestOrchestrator_RetryGivesUp(t *testing.T) {
	h := newHarness(t, nil, nil, WithRetry(2, time.Millisecond))
	h.deploy(t, "echo")
	h.start(t)

	retryable := h.wait(t, h.submit(t, "echo_ping", models.Payload{"fail": true, "retryable": true}, models.PriorityMedium))
	assert.Equal(t, models.StatusFailed, retryable.Status)
	assert.Equal(t, 2, retryable.Attempts)

	permanent := h.wait(t, h.submit(t, "echo_ping", models.Payload{"fail": true}, models.PriorityMedium))
	assert.Equal(t, models.StatusFailed, permanent.Status)
	assert.Equal(t, 1, permanent.Attempts)
}

func TestOrchestrator_CancelQueuedTask(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.deploy(t, "echo")

	id := h.submit(t, "echo_ping", nil, models.PriorityMedium)
	require.NoError(t, h.o.CancelTask(id))

	task := h.wait(t, id)
	assert.Equal(t, models.StatusCancelled, task.Status)
	assert.Equal(t, models.KindCancelled, task.ErrorKind)
	assert.Nil(t, task.StartedAt)
	assert.Zero(t, task.Attempts)

	err := h.o.CancelTask(id)
	assert.True(t, errors.Is(err, models.ErrIllegalTransition))

	err = h.o.CancelTask("task_missing")
	assert.True(t, errors.Is(err, models.ErrTaskNotFound))

	// The cancelled task never reaches the agent
	h.start(t)
	after := h.wait(t, h.submit(t, "echo_ping", nil, models.PriorityLow))
	assert.Equal(t, models.StatusCompleted, after.Status)
	status, err := h.o.AgentStatus(after.AgentID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), status.PerformanceStats.TasksCompleted)

	samples := h.o.Knowledge().Samples("echo_ping")
	require.Len(t, samples, 2)
	assert.Equal(t, learning.OutcomeCancelled, samples[0].Outcome)
}

func TestOrchestrator_CancelProcessingTask(t *testing.T) {
	started := make(chan struct{})
	blocker := &scriptHandler{handle: func(ctx context.Context, task models.TaskEnvelope) (interface{}, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	h := newHarness(t, nil, scriptCatalog(t, map[string]*scriptHandler{"block": blocker}))
	h.deploy(t, "block")
	h.start(t)

	id := h.submit(t, "block_forever", nil, models.PriorityMedium)
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("handler never started")
	}

	current, err := h.o.Task(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, current.Status)

	require.NoError(t, h.o.CancelTask(id))
	task := h.wait(t, id)
	assert.Equal(t, models.StatusCancelled, task.Status)
	assert.Equal(t, models.KindCancelled, task.ErrorKind)

	samples := h.o.Knowledge().Samples("block_forever")
	require.Len(t, samples, 1)
	assert.Equal(t, learning.OutcomeCancelled, samples[0].Outcome)
}

func TestOrchestrator_AgentTypesRunConcurrently(t *testing.T) {
	release := make(chan struct{})
	slow := &scriptHandler{handle: func(ctx context.Context, task models.TaskEnvelope) (interface{}, error) {
		select {
		case <-release:
			return "slow done", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}}
	h := newHarness(t, nil, scriptCatalog(t, map[string]*scriptHandler{"slow": slow}))
	h.deploy(t, "slow", "echo")
	h.start(t)

	slowID := h.submit(t, "slow_job", nil, models.PriorityCritical)
	fastID := h.submit(t, "echo_ping", nil, models.PriorityLow)

	fast := h.wait(t, fastID)
	assert.Equal(t, models.StatusCompleted, fast.Status)

	current, err := h.o.Task(context.Background(), slowID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusProcessing, current.Status)

	close(release)
	assert.Equal(t, models.StatusCompleted, h.wait(t, slowID).Status)
}

func TestOrchestrator_WorkersPerAgentType(t *testing.T) {
	var running, peak int32
	gate := &scriptHandler{handle: func(ctx context.Context, task models.TaskEnvelope) (interface{}, error) {
		n := atomic.AddInt32(&running, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return nil, nil
	}}
	h := newHarness(t, nil, scriptCatalog(t, map[string]*scriptHandler{"gate": gate}), WithWorkers(2))
	h.deploy(t, "gate")

	var ids []string
	for i := 0; i < 6; i++ {
		ids = append(ids, h.submit(t, "gate_pass", models.Payload{"i": i}, models.PriorityMedium))
	}
	h.start(t)
	for _, id := range ids {
		assert.Equal(t, models.StatusCompleted, h.wait(t, id).Status)
	}
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestOrchestrator_OptimizationEvent(t *testing.T) {
	clock := newFakeClock()
	var calls int32
	slow := &scriptHandler{handle: func(ctx context.Context, task models.TaskEnvelope) (interface{}, error) {
		clock.Advance(35 * time.Second)
		if n := atomic.AddInt32(&calls, 1); n <= 3 {
			return nil, fmt.Errorf("call %d failed", n)
		}
		return "done", nil
	}}

	store := newTestStore(t)
	catalog := scriptCatalog(t, map[string]*scriptHandler{"slow": slow})
	registry := agent.NewRegistry(catalog, store, agent.WithClock(clock.Now))
	t.Cleanup(func() { registry.Close() })
	logger := &recordingLogger{}
	o, err := NewOrchestrator(context.Background(), registry, store,
		WithClock(clock.Now), WithEvaluationInterval(0), WithLogger(logger))
	require.NoError(t, err)
	t.Cleanup(func() { o.Close() })
	h := &harness{o: o, store: store, registry: registry}
	h.deploy(t, "slow")
	h.start(t)

	// 11 executions of 35s each, 3 of them failed
	failed := 0
	for i := 0; i < 11; i++ {
		if h.wait(t, h.submit(t, "slow_report", nil, models.PriorityMedium)).Status == models.StatusFailed {
			failed++
		}
	}
	require.Equal(t, 3, failed)

	events, err := o.Evaluate(context.Background())
	require.NoError(t, err)
	require.Len(t, events, 1)
	ev := events[0]
	assert.Equal(t, "slow_report", ev.TaskType)
	assert.Equal(t, "low_success_rate,high_latency", ev.Reason)
	assert.Equal(t, learning.DefaultStrategy, ev.AppliedStrategy)
	assert.Equal(t, 11, ev.SampleCount)
	assert.InDelta(t, 8.0/11.0, ev.SuccessRate, 1e-9)
	assert.Equal(t, 35*time.Second, ev.AvgExecTime)

	require.Len(t, slow.Events(), 1)
	assert.Equal(t, "slow_report", slow.Events()[0].TaskType)

	stored := o.Knowledge().Snapshot().Record.OptimizationStrategies["slow_report"]
	assert.Len(t, stored, 1)

	// No new samples, no new event
	events, err = o.Evaluate(context.Background())
	require.NoError(t, err)
	assert.Empty(t, events)

	logger.mu.Lock()
	defer logger.mu.Unlock()
	assert.Len(t, logger.events, 1)
	require.NotEmpty(t, logger.warns)
	assert.Contains(t, logger.warns[len(logger.warns)-1], "underperforms on slow_report")
}

func TestOrchestrator_PeriodicEvaluation(t *testing.T) {
	logger := &recordingLogger{}
	h := newHarness(t, nil, nil, WithLogger(logger), WithEvaluationInterval(50*time.Millisecond))
	h.deploy(t, "echo")
	h.start(t)

	for i := 0; i < 11; i++ {
		task := h.wait(t, h.submit(t, "echo_ping", models.Payload{"fail": true}, models.PriorityMedium))
		require.Equal(t, models.StatusFailed, task.Status)
	}

	// No Evaluate call here: the ticker alone must pick up the new samples
	loggedEvents := func() int {
		logger.mu.Lock()
		defer logger.mu.Unlock()
		return len(logger.events)
	}
	require.Eventually(t, func() bool { return loggedEvents() == 1 }, 2*time.Second, 10*time.Millisecond)

	// Further ticks without new samples emit nothing
	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, 1, loggedEvents())

	stored := h.o.Knowledge().Snapshot().Record.OptimizationStrategies["echo_ping"]
	require.Len(t, stored, 1)
	assert.Equal(t, 11, stored[0].SampleCount)
	assert.Zero(t, stored[0].SuccessRate)
}

func TestOrchestrator_BelowMinSamplesNoEvent(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.deploy(t, "echo")
	h.start(t)

	for i := 0; i < 5; i++ {
		h.wait(t, h.submit(t, "echo_ping", models.Payload{"fail": true}, models.PriorityMedium))
	}
	events, err := h.o.Evaluate(context.Background())
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestOrchestrator_TaskLookup(t *testing.T) {
	store := newTestStore(t)
	h := newHarness(t, store, nil)
	h.deploy(t, "echo")
	h.start(t)

	id := h.submit(t, "echo_ping", models.Payload{"k": "v"}, models.PriorityHigh)
	done := h.wait(t, id)
	require.Equal(t, models.StatusCompleted, done.Status)

	_, err := h.o.Task(context.Background(), "task_missing")
	assert.True(t, errors.Is(err, models.ErrTaskNotFound))

	tasks := h.o.Tasks()
	require.Len(t, tasks, 1)
	assert.Equal(t, id, tasks[0].ID)

	// A later orchestrator over the same store reads the persisted result
	require.NoError(t, h.o.Close())
	require.NoError(t, h.registry.Close())
	h2 := newHarness(t, store, nil)
	got, err := h2.o.Task(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Equal(t, "echo_ping", got.Type)
	assert.Equal(t, models.PriorityHigh, got.Priority)
}

func TestOrchestrator_SubmitValidation(t *testing.T) {
	h := newHarness(t, nil, nil, WithQueueCapacity(1))

	_, err := h.o.SubmitTask("", nil, models.PriorityMedium)
	assert.Error(t, err)

	_, err = h.o.SubmitTask("echo_ping", nil, models.Priority(9))
	assert.Error(t, err)

	id, err := h.o.SubmitSpec(models.TaskSpec{Type: "echo_ping"})
	require.NoError(t, err)
	task, err := h.o.Task(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.PriorityMedium, task.Priority)

	_, err = h.o.SubmitTask("echo_ping", nil, models.PriorityLow)
	assert.True(t, errors.Is(err, models.ErrQueueFull))
	assert.Len(t, h.o.Tasks(), 1)
}

func TestOrchestrator_RunOnce(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.start(t)
	time.Sleep(10 * time.Millisecond)
	err := h.o.Run(context.Background())
	assert.Error(t, err)
}
