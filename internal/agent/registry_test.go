package agent

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harrison/aegis/internal/learning"
	"github.com/harrison/aegis/internal/models"
)

func TestNewCatalog_Validation(t *testing.T) {
	newStub := func() Handler { return &stubHandler{} }

	tests := []struct {
		name    string
		defs    []Definition
		wantErr string
	}{
		{
			name: "valid",
			defs: []Definition{
				{Type: "a", Prefix: "a_", New: newStub},
				{Type: "b", Prefix: "b_", New: newStub},
			},
		},
		{name: "missing type", defs: []Definition{{Prefix: "a_", New: newStub}}, wantErr: "has no type"},
		{name: "missing prefix", defs: []Definition{{Type: "a", New: newStub}}, wantErr: "has no task prefix"},
		{name: "missing constructor", defs: []Definition{{Type: "a", Prefix: "a_"}}, wantErr: "has no constructor"},
		{
			name: "duplicate type",
			defs: []Definition{
				{Type: "a", Prefix: "a_", New: newStub},
				{Type: "a", Prefix: "z_", New: newStub},
			},
			wantErr: "defined twice",
		},
		{
			name: "ambiguous prefixes",
			defs: []Definition{
				{Type: "pay", Prefix: "pay_", New: newStub},
				{Type: "payout", Prefix: "pay_out_", New: newStub},
			},
			wantErr: "ambiguous task prefixes",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCatalog(tt.defs...)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDefaultCatalog_Resolve(t *testing.T) {
	c := DefaultCatalog()

	tests := []struct {
		taskType  string
		agentType string
	}{
		{"echo_ping", "echo"},
		{"content_create_post", "content_creator"},
		{"social_post", "social_poster"},
		{"analysis_budget", "marketing_analyst"},
		{"support_faq", "customer_support"},
		{"payment_process", "payment_processor"},
		{"security_audit", "security_monitor"},
		{"zzz_unknown", ""},
		{"payment", ""},
	}
	for _, tt := range tests {
		def, ok := c.Resolve(tt.taskType)
		if tt.agentType == "" {
			assert.False(t, ok, tt.taskType)
			continue
		}
		require.True(t, ok, tt.taskType)
		assert.Equal(t, tt.agentType, def.Type)
	}

	assert.Equal(t, []string{
		"content_creator", "customer_support", "echo", "marketing_analyst",
		"payment_processor", "security_monitor", "social_poster",
	}, c.Types())
}

func newTestRegistry(t *testing.T, defs ...Definition) *Registry {
	t.Helper()
	c := DefaultCatalog()
	if len(defs) > 0 {
		var err error
		c, err = NewCatalog(defs...)
		require.NoError(t, err)
	}
	r := NewRegistry(c, newTestStore(t))
	t.Cleanup(func() { r.Close() })
	return r
}

func TestRegistry_Deploy(t *testing.T) {
	r := newTestRegistry(t)

	id, err := r.Deploy(context.Background(), "echo", nil)
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^echo_[0-9a-f]{8}$`), id)

	a, ok := r.Get(id)
	require.True(t, ok)
	assert.Equal(t, "echo", a.Type())

	byType, ok := r.ByType("echo")
	require.True(t, ok)
	assert.Same(t, a, byType)

	status, err := r.Status(id)
	require.NoError(t, err)
	assert.Equal(t, id, status.AgentID)
	assert.Equal(t, []string{"echo"}, status.Capabilities)
	assert.Zero(t, status.KnowledgeSize)
}

func TestRegistry_DeployErrors(t *testing.T) {
	r := newTestRegistry(t)
	ctx := context.Background()

	_, err := r.Deploy(ctx, "astrologer", nil)
	assert.True(t, errors.Is(err, models.ErrUnknownAgentType))
	assert.Equal(t, models.KindUnknownAgentType, models.KindOf(err))

	_, err = r.Deploy(ctx, "echo", nil)
	require.NoError(t, err)
	_, err = r.Deploy(ctx, "echo", nil)
	assert.True(t, errors.Is(err, models.ErrDuplicateAgentType))

	_, err = r.Status("echo_missing")
	assert.True(t, errors.Is(err, models.ErrAgentNotFound))
}

func TestRegistry_InitializationFailure(t *testing.T) {
	failing := &stubHandler{initErr: errors.New("no api key")}
	r := newTestRegistry(t,
		Definition{Type: "flaky", Prefix: "flaky_", New: func() Handler { return failing }},
		Definition{Type: "echo", Prefix: "echo_", New: func() Handler { return &EchoHandler{} }},
	)
	ctx := context.Background()

	_, err := r.Deploy(ctx, "flaky", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrInitialization))
	assert.Equal(t, models.KindInitializationError, models.KindOf(err))
	assert.Contains(t, err.Error(), "no api key")
	assert.Equal(t, 1, failing.closed)

	_, ok := r.ByType("flaky")
	assert.False(t, ok)
	assert.Empty(t, r.List())

	// The knowledge handle was released, so a fixed handler can deploy
	failing.initErr = nil
	_, err = r.Deploy(ctx, "flaky", nil)
	require.NoError(t, err)

	// Other agent types are unaffected
	_, err = r.Deploy(ctx, "echo", nil)
	require.NoError(t, err)
	assert.Len(t, r.List(), 2)
}

func TestRegistry_InitializationPanic(t *testing.T) {
	panicky := &stubHandler{initPanic: "init boom"}
	r := newTestRegistry(t,
		Definition{Type: "panicky", Prefix: "panicky_", New: func() Handler { return panicky }},
	)
	ctx := context.Background()

	var err error
	require.NotPanics(t, func() {
		_, err = r.Deploy(ctx, "panicky", nil)
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrInitialization))
	assert.Equal(t, models.KindInitializationError, models.KindOf(err))
	assert.Contains(t, err.Error(), "init boom")
	assert.Equal(t, 1, panicky.closed)
	assert.Empty(t, r.List())

	panicky.initPanic = nil
	id, err := r.Deploy(ctx, "panicky", nil)
	require.NoError(t, err)
	_, ok := r.Get(id)
	assert.True(t, ok)
}

func TestRegistry_CloseReleasesKnowledge(t *testing.T) {
	store := newTestStore(t)
	r := NewRegistry(DefaultCatalog(), store)

	_, err := r.Deploy(context.Background(), "echo", nil)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Empty(t, r.List())

	k, err := store.Open(context.Background(), learning.AgentOwner("echo"))
	require.NoError(t, err)
	k.Close()
}

func TestRegistry_PersistedStatsSurviveRedeploy(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	r := NewRegistry(DefaultCatalog(), store)
	id, err := r.Deploy(ctx, "echo", nil)
	require.NoError(t, err)
	a, _ := r.Get(id)
	a.Execute(ctx, models.TaskEnvelope{Type: "echo_ping", Payload: models.Payload{"fail": true}})
	a.Execute(ctx, models.TaskEnvelope{Type: "echo_ping"})
	require.NoError(t, r.Close())

	r2 := NewRegistry(DefaultCatalog(), store)
	defer r2.Close()
	id2, err := r2.Deploy(ctx, "echo", nil)
	require.NoError(t, err)
	assert.NotEqual(t, id, id2)

	status, err := r2.Status(id2)
	require.NoError(t, err)
	assert.Equal(t, int64(1), status.PerformanceStats.TasksCompleted)
	assert.Equal(t, int64(1), status.PerformanceStats.TasksFailed)
	assert.Equal(t, 2, status.KnowledgeSize)
}
