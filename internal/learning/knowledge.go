package learning

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/harrison/aegis/internal/filelock"
	"github.com/harrison/aegis/internal/models"
)

// DefaultRetention is the number of samples kept per owner and task type
const DefaultRetention = 1000

// OrchestratorOwner is the owner key of the orchestrator's own knowledge
const OrchestratorOwner = "orchestrator"

// AgentOwner returns the owner key of an agent type's knowledge
func AgentOwner(agentType string) string {
	return "agent:" + agentType
}

// Store hands out per-owner knowledge handles over a shared backend
type Store struct {
	backend   Backend
	lockDir   string
	retention int
	now       func() time.Time

	mu   sync.Mutex
	open map[string]*Knowledge
}

// StoreOption configures a Store
type StoreOption func(*Store)

// WithLockDir enables cross-process owner locks in dir
func WithLockDir(dir string) StoreOption {
	return func(s *Store) { s.lockDir = dir }
}

// WithRetention sets the per-task-type sample cap; 0 keeps everything
func WithRetention(n int) StoreOption {
	return func(s *Store) { s.retention = n }
}

// WithStoreClock overrides the clock used for error resolution timestamps
func WithStoreClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// NewStore creates a store over backend
func NewStore(backend Backend, opts ...StoreOption) *Store {
	s := &Store{
		backend:   backend,
		retention: DefaultRetention,
		now:       time.Now,
		open:      make(map[string]*Knowledge),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Backend returns the underlying backend
func (s *Store) Backend() Backend {
	return s.backend
}

// Retention returns the configured sample cap
func (s *Store) Retention() int {
	return s.retention
}

// Open loads the knowledge of owner and returns its single writer handle.
// A second Open of the same owner fails with models.ErrOwnerLocked until the
// first handle is closed, in this process or (with a lock dir) any other.
func (s *Store) Open(ctx context.Context, owner string) (*Knowledge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, held := s.open[owner]; held {
		return nil, fmt.Errorf("open %s: %w", owner, models.ErrOwnerLocked)
	}

	var lock *filelock.FileLock
	if s.lockDir != "" {
		l, err := filelock.NewOwnerLock(s.lockDir, owner)
		if err != nil {
			return nil, err
		}
		acquired, err := l.TryLock()
		if err != nil {
			return nil, err
		}
		if !acquired {
			return nil, fmt.Errorf("open %s: %w", owner, models.ErrOwnerLocked)
		}
		lock = l
	}

	snap, err := s.backend.Load(ctx, owner)
	if err != nil {
		if lock != nil {
			lock.Unlock()
		}
		return nil, fmt.Errorf("load knowledge for %s: %w", owner, err)
	}

	if s.retention > 0 {
		for taskType, samples := range snap.Record.EfficiencyPatterns {
			if len(samples) > s.retention {
				snap.Record.EfficiencyPatterns[taskType] = append([]Sample(nil), samples[len(samples)-s.retention:]...)
			}
		}
	}

	k := &Knowledge{
		store:  s,
		owner:  owner,
		lock:   lock,
		record: snap.Record,
		stats:  snap.Stats,
	}
	s.open[owner] = k
	return k, nil
}

// Load reads the persisted knowledge of owner without taking the writer handle
func (s *Store) Load(ctx context.Context, owner string) (*Snapshot, error) {
	return s.backend.Load(ctx, owner)
}

// Owners lists every owner with persisted knowledge
func (s *Store) Owners(ctx context.Context) ([]string, error) {
	return s.backend.Owners(ctx)
}

// Clear deletes all persisted knowledge
func (s *Store) Clear(ctx context.Context) error {
	return s.backend.Clear(ctx)
}

// Close closes the backend. Open handles must be closed first.
func (s *Store) Close() error {
	return s.backend.Close()
}

func (s *Store) release(owner string) {
	s.mu.Lock()
	delete(s.open, owner)
	s.mu.Unlock()
}

// Knowledge is the exclusive in-memory view of one owner's record. All
// mutations are serialized and written through to the backend as appends or
// single-key upserts. The in-memory record changes only after the backend
// write succeeds, and a closed handle rejects writes with
// models.ErrKnowledgeClosed.
type Knowledge struct {
	store *Store
	owner string
	lock  *filelock.FileLock

	mu     sync.Mutex
	record *Record
	stats  PerformanceStats
	closed bool
}

// Owner returns the owner key
func (k *Knowledge) Owner() string {
	return k.owner
}

func (k *Knowledge) checkOpen() error {
	if k.closed {
		return fmt.Errorf("%s: %w", k.owner, models.ErrKnowledgeClosed)
	}
	return nil
}

// RecordExecution appends one sample to efficiency_patterns[taskType]
func (k *Knowledge) RecordExecution(ctx context.Context, taskType string, sample Sample) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.checkOpen(); err != nil {
		return err
	}

	sample.Timestamp = normalizeTime(sample.Timestamp)
	if err := k.store.backend.AppendSample(ctx, k.owner, taskType, sample); err != nil {
		return err
	}

	current := k.record.EfficiencyPatterns[taskType]
	samples := make([]Sample, 0, len(current)+1)
	samples = append(append(samples, current...), sample)
	retention := k.store.retention
	if retention > 0 && len(samples) > retention {
		// Extra rows left by a failed prune are dropped by the next prune
		samples = samples[len(samples)-retention:]
		k.record.EfficiencyPatterns[taskType] = samples
		return k.store.backend.PruneSamples(ctx, k.owner, taskType, retention)
	}
	k.record.EfficiencyPatterns[taskType] = samples
	return nil
}

// resolution returns a copy of the current resolution for kind
func (k *Knowledge) resolution(kind models.ErrorKind) ErrorResolution {
	res, ok := k.record.ErrorResolutions[string(kind)]
	if !ok {
		return ErrorResolution{Resolutions: []string{}}
	}
	out := *res
	out.Resolutions = append([]string{}, res.Resolutions...)
	return out
}

// RecordError increments error_resolutions[kind]
func (k *Knowledge) RecordError(ctx context.Context, kind models.ErrorKind, description string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.checkOpen(); err != nil {
		return err
	}

	res := k.resolution(kind)
	res.Occurrences++
	res.Description = description
	res.UpdatedAt = normalizeTime(k.store.now())

	if err := k.store.backend.UpsertErrorResolution(ctx, k.owner, string(kind), res); err != nil {
		return err
	}
	k.record.ErrorResolutions[string(kind)] = &res
	return nil
}

// AddResolution records a known fix for an error kind. Duplicates are ignored.
func (k *Knowledge) AddResolution(ctx context.Context, kind models.ErrorKind, resolution string) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.checkOpen(); err != nil {
		return err
	}

	res := k.resolution(kind)
	for _, existing := range res.Resolutions {
		if existing == resolution {
			return nil
		}
	}
	res.Resolutions = append(res.Resolutions, resolution)
	res.UpdatedAt = normalizeTime(k.store.now())

	if err := k.store.backend.UpsertErrorResolution(ctx, k.owner, string(kind), res); err != nil {
		return err
	}
	k.record.ErrorResolutions[string(kind)] = &res
	return nil
}

// RecordOptimization appends to optimization_strategies[ev.TaskType]
func (k *Knowledge) RecordOptimization(ctx context.Context, ev OptimizationEvent) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.checkOpen(); err != nil {
		return err
	}

	ev.Timestamp = normalizeTime(ev.Timestamp)
	if err := k.store.backend.AppendOptimization(ctx, k.owner, ev); err != nil {
		return err
	}
	k.record.OptimizationStrategies[ev.TaskType] = append(k.record.OptimizationStrategies[ev.TaskType], ev)
	return nil
}

// UpdateStats applies fn to a copy of the owner's performance counters and
// keeps the result once it is persisted. On error the previous counters are
// returned unchanged.
func (k *Knowledge) UpdateStats(ctx context.Context, fn func(*PerformanceStats)) (PerformanceStats, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if err := k.checkOpen(); err != nil {
		return k.stats, err
	}

	next := k.stats
	fn(&next)
	if err := k.store.backend.SaveStats(ctx, k.owner, next); err != nil {
		return k.stats, err
	}
	k.stats = next
	return k.stats, nil
}

// Stats returns the persisted performance counters
func (k *Knowledge) Stats() PerformanceStats {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.stats
}

// Snapshot returns a deep copy of the current state
func (k *Knowledge) Snapshot() *Snapshot {
	k.mu.Lock()
	defer k.mu.Unlock()
	return &Snapshot{Owner: k.owner, Record: k.record.Clone(), Stats: k.stats}
}

// Size returns the number of retained samples
func (k *Knowledge) Size() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.record.SampleCount()
}

// Samples returns a copy of the retained samples for one task type
func (k *Knowledge) Samples(taskType string) []Sample {
	k.mu.Lock()
	defer k.mu.Unlock()
	return append([]Sample(nil), k.record.EfficiencyPatterns[taskType]...)
}

// Aggregates summarizes every task type
func (k *Knowledge) Aggregates() map[string]Aggregate {
	k.mu.Lock()
	defer k.mu.Unlock()

	out := make(map[string]Aggregate, len(k.record.EfficiencyPatterns))
	for taskType, samples := range k.record.EfficiencyPatterns {
		out[taskType] = Summarize(samples)
	}
	return out
}

// Close releases the owner handle and its lock. Safe to call twice.
func (k *Knowledge) Close() error {
	k.mu.Lock()
	if k.closed {
		k.mu.Unlock()
		return nil
	}
	k.closed = true
	k.mu.Unlock()

	k.store.release(k.owner)
	if k.lock != nil {
		return k.lock.Unlock()
	}
	return nil
}
