package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/harrison/aegis/internal/learning"
	"github.com/harrison/aegis/internal/models"
)

// Registry deploys catalog agent types and tracks live instances.
// At most one instance of each agent type is deployed at a time.
type Registry struct {
	catalog *Catalog
	store   *learning.Store
	logger  Logger
	now     func() time.Time

	mu        sync.RWMutex
	agents    map[string]*BaseAgent // by agent id
	byType    map[string]*BaseAgent
	deploying map[string]bool
}

// RegistryOption configures a Registry
type RegistryOption func(*Registry)

// WithLogger sets the logger handed to agents and handlers
func WithLogger(l Logger) RegistryOption {
	return func(r *Registry) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithClock overrides the clock used to time executions
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRegistry creates an empty registry over catalog and store
func NewRegistry(catalog *Catalog, store *learning.Store, opts ...RegistryOption) *Registry {
	r := &Registry{
		catalog:   catalog,
		store:     store,
		logger:    nopLogger{},
		now:       time.Now,
		agents:    make(map[string]*BaseAgent),
		byType:    make(map[string]*BaseAgent),
		deploying: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Catalog returns the catalog the registry deploys from
func (r *Registry) Catalog() *Catalog {
	return r.catalog
}

// Deploy constructs, initializes and registers an agent of agentType.
// The agent is registered only if initialization succeeds.
func (r *Registry) Deploy(ctx context.Context, agentType string, cfg Config) (string, error) {
	def, ok := r.catalog.Lookup(agentType)
	if !ok {
		return "", fmt.Errorf("%w: %s", models.ErrUnknownAgentType, agentType)
	}

	r.mu.Lock()
	if _, exists := r.byType[agentType]; exists || r.deploying[agentType] {
		r.mu.Unlock()
		return "", fmt.Errorf("%w: %s", models.ErrDuplicateAgentType, agentType)
	}
	r.deploying[agentType] = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.deploying, agentType)
		r.mu.Unlock()
	}()

	if cfg == nil {
		cfg = Config{}
	}

	k, err := r.store.Open(ctx, learning.AgentOwner(agentType))
	if err != nil {
		return "", fmt.Errorf("deploy %s: %w: %w", agentType, models.ErrInitialization, err)
	}

	h := def.New()
	if la, ok := h.(LoggerAware); ok {
		la.SetLogger(r.logger)
	}

	caps, err := initialize(ctx, h, cfg)
	if err != nil {
		if c, ok := h.(io.Closer); ok {
			c.Close()
		}
		k.Close()
		return "", fmt.Errorf("deploy %s: %w: %w", agentType, models.ErrInitialization, err)
	}

	id := newAgentID(agentType)
	a := newBaseAgent(id, agentType, cfg, h, k, caps, r.logger, r.now)

	r.mu.Lock()
	r.agents[id] = a
	r.byType[agentType] = a
	r.mu.Unlock()

	r.logger.LogInfo(fmt.Sprintf("Deployed agent %s (%s) with capabilities: %s", id, agentType, strings.Join(caps, ", ")))
	return id, nil
}

// initialize runs h.Initialize, reporting a panic as an error
func initialize(ctx context.Context, h Handler, cfg Config) (caps []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			caps = nil
			err = fmt.Errorf("panic during initialize: %v", r)
		}
	}()
	return h.Initialize(ctx, cfg)
}

func newAgentID(agentType string) string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	return agentType + "_" + hex[:8]
}

// Get returns the agent with id
func (r *Registry) Get(id string) (*BaseAgent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[id]
	return a, ok
}

// ByType returns the deployed instance of agentType
func (r *Registry) ByType(agentType string) (*BaseAgent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.byType[agentType]
	return a, ok
}

// List returns every deployed agent ordered by type
func (r *Registry) List() []*BaseAgent {
	r.mu.RLock()
	list := make([]*BaseAgent, 0, len(r.agents))
	for _, a := range r.agents {
		list = append(list, a)
	}
	r.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool { return list[i].Type() < list[j].Type() })
	return list
}

// Status returns the status of the agent with id
func (r *Registry) Status(id string) (Status, error) {
	a, ok := r.Get(id)
	if !ok {
		return Status{}, fmt.Errorf("%w: %s", models.ErrAgentNotFound, id)
	}
	return a.Status(), nil
}

// Close closes every deployed agent and empties the registry
func (r *Registry) Close() error {
	r.mu.Lock()
	agents := make([]*BaseAgent, 0, len(r.agents))
	for _, a := range r.agents {
		agents = append(agents, a)
	}
	r.agents = make(map[string]*BaseAgent)
	r.byType = make(map[string]*BaseAgent)
	r.mu.Unlock()

	var errs []error
	for _, a := range agents {
		if err := a.Close(); err != nil {
			errs = append(errs, fmt.Errorf("agent %s: %w", a.ID(), err))
		}
	}
	return errors.Join(errs...)
}
