package executor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/harrison/aegis/internal/agent"
	"github.com/harrison/aegis/internal/learning"
	"github.com/harrison/aegis/internal/models"
)

// Logger defines the interface for logging orchestrator progress and results.
type Logger interface {
	LogDebug(message string)
	LogInfo(message string)
	LogWarn(message string)
	LogError(message string)
	LogTaskQueued(task models.Task)
	LogTaskResult(task models.Task) error
	LogOptimization(ev learning.OptimizationEvent)
}

type nopLogger struct{}

func (nopLogger) LogDebug(string)                            {}
func (nopLogger) LogInfo(string)                             {}
func (nopLogger) LogWarn(string)                             {}
func (nopLogger) LogError(string)                            {}
func (nopLogger) LogTaskQueued(models.Task)                  {}
func (nopLogger) LogTaskResult(models.Task) error            { return nil }
func (nopLogger) LogOptimization(learning.OptimizationEvent) {}

// TransitionHook observes every task status change
type TransitionHook func(task models.Task)

// DefaultAssessWindow is the window of an agent's own history reviewed on
// every evaluation tick
const DefaultAssessWindow = 7 * 24 * time.Hour

type taskEntry struct {
	task      models.Task
	ctx       context.Context
	cancel    context.CancelFunc
	cancelled bool
	done      chan struct{}
}

// Orchestrator accepts tasks, dispatches them in priority order to the
// deployed agent of the matching type, and records every outcome in its own
// knowledge. Tasks of different agent types run concurrently in per-type
// lanes; each lane runs at most `workers` tasks at a time.
type Orchestrator struct {
	registry  *agent.Registry
	store     *learning.Store
	knowledge *learning.Knowledge
	logger    Logger
	policy    learning.Policy
	hook      TransitionHook
	now       func() time.Time

	workers      int
	maxAttempts  int
	backoff      time.Duration
	evalInterval time.Duration
	assessWindow time.Duration
	capacity     int

	queue *PriorityQueue

	mu    sync.RWMutex
	tasks map[string]*taskEntry
	lanes map[string]*lane

	runMu   sync.Mutex
	running bool
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithLogger sets the logger
func WithLogger(l Logger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithWorkers sets the number of concurrent executions per agent type
func WithWorkers(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithRetry enables up to maxAttempts attempts for retryable failures, waiting
// backoff, 2*backoff, 4*backoff... between attempts
func WithRetry(maxAttempts int, backoff time.Duration) Option {
	return func(o *Orchestrator) {
		if maxAttempts > 0 {
			o.maxAttempts = maxAttempts
		}
		o.backoff = backoff
	}
}

// WithEvaluationInterval sets the evaluation cadence; 0 disables the ticker
func WithEvaluationInterval(d time.Duration) Option {
	return func(o *Orchestrator) { o.evalInterval = d }
}

// WithPolicy sets the evaluation policy
func WithPolicy(p learning.Policy) Option {
	return func(o *Orchestrator) {
		if p != nil {
			o.policy = p
		}
	}
}

// WithAssessWindow sets the window of agent self-assessment
func WithAssessWindow(d time.Duration) Option {
	return func(o *Orchestrator) { o.assessWindow = d }
}

// WithQueueCapacity bounds the global queue; 0 is unbounded
func WithQueueCapacity(n int) Option {
	return func(o *Orchestrator) { o.capacity = n }
}

// WithClock overrides the clock used for task timestamps and samples
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithTransitionHook registers an observer of task status changes. The hook
// must not call back into the orchestrator.
func WithTransitionHook(h TransitionHook) Option {
	return func(o *Orchestrator) { o.hook = h }
}

// NewOrchestrator creates an orchestrator and opens its knowledge
func NewOrchestrator(ctx context.Context, registry *agent.Registry, store *learning.Store, opts ...Option) (*Orchestrator, error) {
	if registry == nil {
		panic("registry cannot be nil")
	}

	o := &Orchestrator{
		registry:     registry,
		store:        store,
		logger:       nopLogger{},
		policy:       learning.DefaultThresholdPolicy(),
		now:          time.Now,
		workers:      1,
		maxAttempts:  1,
		evalInterval: time.Minute,
		assessWindow: DefaultAssessWindow,
		tasks:        make(map[string]*taskEntry),
		lanes:        make(map[string]*lane),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.queue = NewPriorityQueue(o.capacity)

	k, err := store.Open(ctx, learning.OrchestratorOwner)
	if err != nil {
		return nil, fmt.Errorf("open orchestrator knowledge: %w", err)
	}
	o.knowledge = k
	return o, nil
}

// Knowledge returns the orchestrator's own knowledge
func (o *Orchestrator) Knowledge() *learning.Knowledge {
	return o.knowledge
}

// Registry returns the agent registry
func (o *Orchestrator) Registry() *agent.Registry {
	return o.registry
}

// DeployAgent deploys one instance of agentType
func (o *Orchestrator) DeployAgent(ctx context.Context, agentType string, cfg agent.Config) (string, error) {
	return o.registry.Deploy(ctx, agentType, cfg)
}

// AgentStatus returns the status snapshot of a deployed agent
func (o *Orchestrator) AgentStatus(id string) (agent.Status, error) {
	return o.registry.Status(id)
}

// Agents returns the status of every deployed agent
func (o *Orchestrator) Agents() []agent.Status {
	list := o.registry.List()
	out := make([]agent.Status, len(list))
	for i, a := range list {
		out[i] = a.Status()
	}
	return out
}

// SubmitTask enqueues a task and returns its id without waiting for execution
func (o *Orchestrator) SubmitTask(taskType string, payload models.Payload, priority models.Priority) (string, error) {
	return o.SubmitSpec(models.TaskSpec{Type: taskType, Payload: payload, Priority: priority})
}

// SubmitSpec validates spec and enqueues it
func (o *Orchestrator) SubmitSpec(spec models.TaskSpec) (string, error) {
	if err := spec.Validate(); err != nil {
		return "", err
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &taskEntry{
		task: models.Task{
			ID:        "task_" + uuid.NewString(),
			Type:      spec.Type,
			Payload:   spec.Payload,
			Priority:  spec.Priority,
			Status:    models.StatusQueued,
			CreatedAt: o.now(),
		},
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	// Held until the queued transition is reported, so dispatch cannot
	// report processing first
	o.mu.Lock()
	defer o.mu.Unlock()
	if err := o.queue.Enqueue(&e.task, spec.Priority); err != nil {
		cancel()
		return "", fmt.Errorf("submit %s: %w", spec.Type, err)
	}
	o.tasks[e.task.ID] = e
	snapshot := e.task.Clone()
	o.logger.LogTaskQueued(snapshot)
	o.notify(snapshot)
	return snapshot.ID, nil
}

// Task returns the current state of a task. Tasks from earlier runs are read
// from the persisted task results.
func (o *Orchestrator) Task(ctx context.Context, id string) (models.Task, error) {
	o.mu.RLock()
	e, ok := o.tasks[id]
	if ok {
		t := e.task.Clone()
		o.mu.RUnlock()
		return t, nil
	}
	o.mu.RUnlock()

	t, found, err := o.store.Backend().LoadTaskResult(ctx, id)
	if err != nil {
		return models.Task{}, fmt.Errorf("load task %s: %w", id, err)
	}
	if !found {
		return models.Task{}, fmt.Errorf("%w: %s", models.ErrTaskNotFound, id)
	}
	return t, nil
}

// Tasks returns every task of this process ordered by creation time
func (o *Orchestrator) Tasks() []models.Task {
	o.mu.RLock()
	out := make([]models.Task, 0, len(o.tasks))
	for _, e := range o.tasks {
		out = append(out, e.task.Clone())
	}
	o.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// WaitTask blocks until the task is terminal or ctx ends
func (o *Orchestrator) WaitTask(ctx context.Context, id string) (models.Task, error) {
	o.mu.RLock()
	e, ok := o.tasks[id]
	o.mu.RUnlock()
	if !ok {
		return o.Task(ctx, id)
	}

	select {
	case <-e.done:
		o.mu.RLock()
		defer o.mu.RUnlock()
		return e.task.Clone(), nil
	case <-ctx.Done():
		return models.Task{}, ctx.Err()
	}
}

// CancelTask cancels a queued or processing task. Queued tasks finish as
// cancelled without executing; processing tasks have their context cancelled.
func (o *Orchestrator) CancelTask(id string) error {
	o.mu.Lock()
	e, ok := o.tasks[id]
	if !ok {
		o.mu.Unlock()
		return fmt.Errorf("%w: %s", models.ErrTaskNotFound, id)
	}
	if e.task.Status.IsTerminal() {
		status := e.task.Status
		o.mu.Unlock()
		return fmt.Errorf("task %s already %s: %w", id, status, models.ErrIllegalTransition)
	}
	e.cancelled = true
	status := e.task.Status
	taskType := e.task.Type
	l := o.laneForTaskLocked(taskType)
	o.mu.Unlock()

	e.cancel()

	removed := false
	switch {
	case status == models.StatusQueued:
		removed = o.queue.Remove(id)
	case l != nil:
		removed = l.queue.Remove(id)
	}
	if removed {
		o.cancelUnexecuted(e)
	}
	return nil
}

// Run dispatches tasks until ctx ends. It may only be called once.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.runMu.Lock()
	if o.running {
		o.runMu.Unlock()
		return errors.New("orchestrator is already running")
	}
	o.running = true
	o.runMu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return o.dispatch(gctx, g) })
	g.Go(func() error { return o.evaluateLoop(gctx) })
	err := g.Wait()

	// Tasks already handed to a lane will not run
	o.mu.RLock()
	lanes := make([]*lane, 0, len(o.lanes))
	for _, l := range o.lanes {
		lanes = append(lanes, l)
	}
	o.mu.RUnlock()
	for _, l := range lanes {
		for _, t := range l.queue.Drain() {
			if e := o.entry(t.ID); e != nil {
				o.cancelUnexecuted(e)
			}
		}
	}
	return err
}

// Close closes the queue and releases the orchestrator's knowledge
func (o *Orchestrator) Close() error {
	o.queue.Close()
	return o.knowledge.Close()
}

func (o *Orchestrator) dispatch(ctx context.Context, g *errgroup.Group) error {
	for {
		t, err := o.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, models.ErrQueueClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		o.route(ctx, g, t.ID)
	}
}

// route moves a dequeued task to processing and hands it to its agent type's lane
func (o *Orchestrator) route(ctx context.Context, g *errgroup.Group, id string) {
	o.mu.Lock()
	e, ok := o.tasks[id]
	if !ok || e.task.Status != models.StatusQueued {
		o.mu.Unlock()
		return
	}
	if e.cancelled {
		o.mu.Unlock()
		o.cancelUnexecuted(e)
		return
	}
	if err := e.task.Transition(models.StatusProcessing, o.now()); err != nil {
		o.mu.Unlock()
		o.logger.LogError(err.Error())
		return
	}
	snapshot := e.task.Clone()
	o.mu.Unlock()
	o.notify(snapshot)

	def, ok := o.registry.Catalog().Resolve(snapshot.Type)
	if !ok {
		o.unroutable(e, fmt.Sprintf("no agent type handles task type %q", snapshot.Type))
		return
	}
	if _, ok := o.registry.ByType(def.Type); !ok {
		o.unroutable(e, fmt.Sprintf("agent type %s is not deployed", def.Type))
		return
	}

	l := o.lane(ctx, g, def.Type)
	if err := l.queue.Enqueue(&e.task, snapshot.Priority); err != nil {
		o.cancelUnexecuted(e)
	}
}

// execute runs one task on its agent, retrying retryable failures
func (o *Orchestrator) execute(ctx context.Context, agentType string, e *taskEntry) {
	if ctx.Err() != nil || e.ctx.Err() != nil {
		o.cancelUnexecuted(e)
		return
	}
	a, ok := o.registry.ByType(agentType)
	if !ok {
		o.unroutable(e, fmt.Sprintf("agent type %s is not deployed", agentType))
		return
	}

	execCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(e.ctx, cancel)
	defer stop()

	o.mu.RLock()
	env := e.task.Envelope()
	o.mu.RUnlock()

	var res models.ResultEnvelope
	for attempt := 1; ; attempt++ {
		o.mu.Lock()
		e.task.Attempts = attempt
		o.mu.Unlock()

		res = a.Execute(execCtx, env)
		o.recordOutcome(env.Type, res)

		if res.Success || !res.Retryable || attempt >= o.maxAttempts {
			break
		}

		delay := o.backoff << (attempt - 1)
		o.logger.LogWarn(fmt.Sprintf("Task %s (%s) attempt %d/%d failed, retrying in %s: %s",
			env.ID, env.Type, attempt, o.maxAttempts, delay, res.Error))
		if !sleepCtx(execCtx, delay) {
			res = models.ResultEnvelope{AgentID: a.ID(), Error: "task cancelled during retry backoff", ErrorKind: models.KindCancelled}
			o.recordOutcome(env.Type, res)
			break
		}
	}

	status := models.StatusCompleted
	switch {
	case res.Success:
	case res.ErrorKind == models.KindCancelled:
		status = models.StatusCancelled
	default:
		status = models.StatusFailed
	}
	o.finish(e, status, res)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (o *Orchestrator) unroutable(e *taskEntry, msg string) {
	res := models.ResultEnvelope{Error: msg, ErrorKind: models.KindUnroutableTask}
	o.recordOutcome(e.task.Type, res)
	o.finish(e, models.StatusFailed, res)
}

func (o *Orchestrator) cancelUnexecuted(e *taskEntry) {
	res := models.ResultEnvelope{Error: "task cancelled before execution", ErrorKind: models.KindCancelled}
	o.recordOutcome(e.task.Type, res)
	o.finish(e, models.StatusCancelled, res)
}

// recordOutcome appends one execution to the orchestrator's knowledge
func (o *Orchestrator) recordOutcome(taskType string, res models.ResultEnvelope) {
	ctx := context.Background()
	outcome := learning.OutcomeCompleted
	switch {
	case res.Success:
	case res.ErrorKind == models.KindCancelled:
		outcome = learning.OutcomeCancelled
	default:
		outcome = learning.OutcomeFailed
	}

	if err := o.knowledge.RecordExecution(ctx, taskType, learning.NewSample(outcome, res.ProcessingTime, o.now())); err != nil {
		o.logger.LogWarn(fmt.Sprintf("record execution of %s: %v", taskType, err))
	}
	if !res.Success {
		if err := o.knowledge.RecordError(ctx, res.ErrorKind, res.Error); err != nil {
			o.logger.LogWarn(fmt.Sprintf("record error of %s: %v", taskType, err))
		}
	}
}

// finish moves a task to its terminal status exactly once
func (o *Orchestrator) finish(e *taskEntry, status models.TaskStatus, res models.ResultEnvelope) {
	o.mu.Lock()
	if e.task.Status.IsTerminal() {
		o.mu.Unlock()
		return
	}
	if err := e.task.Transition(status, o.now()); err != nil {
		o.mu.Unlock()
		o.logger.LogError(err.Error())
		return
	}
	e.task.AgentID = res.AgentID
	if res.Success {
		e.task.Result = res.Result
	} else {
		e.task.Error = res.Error
		e.task.ErrorKind = res.ErrorKind
	}
	snapshot := e.task.Clone()
	o.mu.Unlock()
	e.cancel()

	o.notify(snapshot)
	if err := o.logger.LogTaskResult(snapshot); err != nil {
		o.logger.LogWarn(fmt.Sprintf("log result of %s: %v", snapshot.ID, err))
	}
	if err := o.store.Backend().SaveTaskResult(context.Background(), snapshot); err != nil {
		o.logger.LogWarn(fmt.Sprintf("persist result of %s: %v", snapshot.ID, err))
	}
	// Waiters observe the task only once it is logged and persisted
	close(e.done)
}

func (o *Orchestrator) notify(t models.Task) {
	if o.hook != nil {
		o.hook(t)
	}
}

func (o *Orchestrator) entry(id string) *taskEntry {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.tasks[id]
}

func (o *Orchestrator) evaluateLoop(ctx context.Context) error {
	if o.evalInterval <= 0 {
		return nil
	}
	ticker := time.NewTicker(o.evalInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := o.Evaluate(ctx); err != nil {
				o.logger.LogWarn(fmt.Sprintf("evaluation failed: %v", err))
			}
		}
	}
}

// Evaluate runs the policy over the orchestrator's knowledge, forwards new
// optimization events to the responsible agents, and logs agents whose
// recent history underperforms.
func (o *Orchestrator) Evaluate(ctx context.Context) ([]learning.OptimizationEvent, error) {
	now := o.now()
	events, err := learning.Evaluate(ctx, o.knowledge, o.policy, now)

	for _, ev := range events {
		o.logger.LogOptimization(ev)
		def, ok := o.registry.Catalog().Resolve(ev.TaskType)
		if !ok {
			continue
		}
		if a, ok := o.registry.ByType(def.Type); ok {
			a.Optimize(ctx, ev)
		}
	}

	for _, a := range o.registry.List() {
		for _, as := range a.Assess(o.assessWindow, now) {
			o.logger.LogWarn(fmt.Sprintf("Agent %s underperforms on %s: %s (n=%d, success=%.0f%%, avg=%s)",
				a.ID(), as.TaskType, strings.Join(as.Reasons, ","), as.SampleCount, as.SuccessRate*100, as.AvgExecTime))
		}
	}
	return events, err
}
