package learning

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration represents a database schema migration
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// SchemaVersion is the latest migration version known to this build
const SchemaVersion = 2

// migrations is the ordered list of all database migrations
var migrations = []Migration{
	{
		Version:     1,
		Description: "Knowledge tables: efficiency samples, error resolutions, optimization events, agent stats",
		SQL: `
-- Append-only efficiency history, one row per recorded execution
CREATE TABLE IF NOT EXISTS knowledge_samples (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    owner TEXT NOT NULL,
    task_type TEXT NOT NULL,
    execution_ns INTEGER NOT NULL,
    success BOOLEAN NOT NULL,
    outcome TEXT NOT NULL,
    recorded_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_knowledge_samples_owner_type ON knowledge_samples(owner, task_type, id);

-- Error resolutions keyed by owner and error kind
CREATE TABLE IF NOT EXISTS error_resolutions (
    owner TEXT NOT NULL,
    error_kind TEXT NOT NULL,
    description TEXT,
    occurrences INTEGER NOT NULL DEFAULT 0,
    resolutions TEXT NOT NULL DEFAULT '[]',
    updated_at INTEGER NOT NULL,
    PRIMARY KEY (owner, error_kind)
);

-- Optimization events emitted by periodic evaluation
CREATE TABLE IF NOT EXISTS optimization_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    owner TEXT NOT NULL,
    task_type TEXT NOT NULL,
    strategy TEXT NOT NULL,
    reason TEXT NOT NULL,
    sample_count INTEGER NOT NULL DEFAULT 0,
    success_rate REAL NOT NULL DEFAULT 0,
    avg_execution_ns INTEGER NOT NULL DEFAULT 0,
    recorded_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_optimization_events_owner ON optimization_events(owner, task_type, id);

-- Running performance counters per owner
CREATE TABLE IF NOT EXISTS agent_stats (
    owner TEXT PRIMARY KEY,
    tasks_completed INTEGER NOT NULL DEFAULT 0,
    tasks_failed INTEGER NOT NULL DEFAULT 0,
    total_processing_ns INTEGER NOT NULL DEFAULT 0,
    updated_at INTEGER NOT NULL
);
`,
	},
	{
		Version:     2,
		Description: "Terminal task results for queries across restarts",
		SQL: `
CREATE TABLE IF NOT EXISTS task_results (
    id TEXT PRIMARY KEY,
    task_type TEXT NOT NULL,
    priority INTEGER NOT NULL,
    status TEXT NOT NULL,
    agent_id TEXT,
    attempts INTEGER NOT NULL DEFAULT 0,
    payload TEXT,
    result TEXT,
    error TEXT,
    error_kind TEXT,
    created_at INTEGER NOT NULL,
    started_at INTEGER,
    finished_at INTEGER
);

CREATE INDEX IF NOT EXISTS idx_task_results_type ON task_results(task_type);
`,
	},
}

// MigrationVersion represents a record of an applied migration
type MigrationVersion struct {
	Version   int
	AppliedAt string
}

// ApplyMigrations applies all pending migrations inside one serializable
// transaction so concurrent initialization of the same file is safe.
func (b *SQLiteBackend) ApplyMigrations(ctx context.Context) error {
	tx, err := b.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("begin exclusive transaction: %w", err)
	}
	defer tx.Rollback() // no-op if committed

	if _, err := tx.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("ensure schema_version table: %w", err)
	}

	applied, err := appliedVersionsTx(ctx, tx)
	if err != nil {
		return fmt.Errorf("get applied versions: %w", err)
	}

	for _, migration := range migrations {
		if applied[migration.Version] {
			continue
		}
		if _, err := tx.ExecContext(ctx, migration.SQL); err != nil {
			return fmt.Errorf("apply migration %d (%s): %w", migration.Version, migration.Description, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_version (version) VALUES (?)`, migration.Version); err != nil {
			return fmt.Errorf("record migration %d: %w", migration.Version, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migrations: %w", err)
	}
	return nil
}

func appliedVersionsTx(ctx context.Context, tx *sql.Tx) (map[int]bool, error) {
	rows, err := tx.QueryContext(ctx, `SELECT version FROM schema_version`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

// GetAppliedVersions retrieves all applied migration versions
func (b *SQLiteBackend) GetAppliedVersions() ([]*MigrationVersion, error) {
	rows, err := b.db.Query(`SELECT version, applied_at FROM schema_version ORDER BY version`)
	if err != nil {
		return nil, fmt.Errorf("query schema versions: %w", err)
	}
	defer rows.Close()

	var versions []*MigrationVersion
	for rows.Next() {
		v := &MigrationVersion{}
		if err := rows.Scan(&v.Version, &v.AppliedAt); err != nil {
			return nil, fmt.Errorf("scan schema version: %w", err)
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// GetLatestVersion returns the latest applied migration version
func (b *SQLiteBackend) GetLatestVersion() (int, error) {
	var version int
	err := b.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&version)
	if err != nil {
		return 0, fmt.Errorf("query latest version: %w", err)
	}
	return version, nil
}
