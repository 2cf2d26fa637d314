package learning

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestBackend(t *testing.T) *SQLiteBackend {
	t.Helper()
	backend, err := NewSQLiteBackend(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { backend.Close() })
	return backend
}

func TestApplyMigrations(t *testing.T) {
	backend := setupTestBackend(t)

	versions, err := backend.GetAppliedVersions()
	require.NoError(t, err)
	require.Len(t, versions, len(migrations))
	for i, v := range versions {
		assert.Equal(t, migrations[i].Version, v.Version)
	}

	latest, err := backend.GetLatestVersion()
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, latest)
}

func TestApplyMigrations_Idempotency(t *testing.T) {
	ctx := context.Background()
	backend := setupTestBackend(t)

	require.NoError(t, backend.ApplyMigrations(ctx))
	require.NoError(t, backend.ApplyMigrations(ctx))

	versions, err := backend.GetAppliedVersions()
	require.NoError(t, err)
	assert.Len(t, versions, len(migrations))
}

func TestApplyMigrations_ReopenExistingFile(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "knowledge.db")

	first, err := NewSQLiteBackend(dbPath)
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second, err := NewSQLiteBackend(dbPath)
	require.NoError(t, err)
	defer second.Close()

	latest, err := second.GetLatestVersion()
	require.NoError(t, err)
	assert.Equal(t, SchemaVersion, latest)
}

func TestMigrationsAreOrdered(t *testing.T) {
	for i := 1; i < len(migrations); i++ {
		assert.Greater(t, migrations[i].Version, migrations[i-1].Version)
	}
	assert.Equal(t, SchemaVersion, migrations[len(migrations)-1].Version)
}
