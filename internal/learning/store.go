package learning

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/harrison/aegis/internal/models"
)

// SQLiteBackend persists knowledge in a SQLite database
type SQLiteBackend struct {
	db     *sql.DB
	dbPath string
}

// NewSQLiteBackend opens (creating if needed) the database at dbPath and
// applies pending migrations. ":memory:" opens a private in-memory database.
func NewSQLiteBackend(dbPath string) (*SQLiteBackend, error) {
	if dbPath != ":memory:" {
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// One connection: writes are serialized by SQLite anyway, and an
	// in-memory database only exists per connection.
	db.SetMaxOpenConns(1)

	pragmas := []string{
		"PRAGMA busy_timeout=5000", // Must be first
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
	}
	for _, pragma := range pragmas {
		if err := execWithRetry(db, pragma, 5, 10*time.Millisecond); err != nil {
			db.Close()
			return nil, fmt.Errorf("set %s: %w", pragma, err)
		}
	}

	b := &SQLiteBackend{db: db, dbPath: dbPath}
	if err := b.ApplyMigrations(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}
	return b, nil
}

// execWithRetry executes a SQL statement with exponential backoff retry on lock errors.
func execWithRetry(db *sql.DB, stmt string, maxRetries int, baseDelay time.Duration) error {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		_, err := db.Exec(stmt)
		if err == nil {
			return nil
		}
		if !strings.Contains(err.Error(), "database is locked") {
			return err
		}
		lastErr = err
		time.Sleep(baseDelay * time.Duration(1<<attempt))
	}
	return lastErr
}

// Path returns the database path the backend was opened with
func (b *SQLiteBackend) Path() string {
	return b.dbPath
}

// Close closes the database connection
func (b *SQLiteBackend) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

// AppendSample inserts one efficiency sample
func (b *SQLiteBackend) AppendSample(ctx context.Context, owner, taskType string, s Sample) error {
	_, err := b.db.ExecContext(ctx,
		`INSERT INTO knowledge_samples (owner, task_type, execution_ns, success, outcome, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		owner, taskType, int64(s.ExecutionTime), s.Success, string(s.Outcome), s.Timestamp.UnixNano())
	if err != nil {
		return fmt.Errorf("insert sample: %w", err)
	}
	return nil
}

// PruneSamples keeps only the newest keep samples for one owner and task type
func (b *SQLiteBackend) PruneSamples(ctx context.Context, owner, taskType string, keep int) error {
	if keep <= 0 {
		return nil
	}
	_, err := b.db.ExecContext(ctx,
		`DELETE FROM knowledge_samples
		WHERE owner = ? AND task_type = ? AND id NOT IN (
			SELECT id FROM knowledge_samples WHERE owner = ? AND task_type = ?
			ORDER BY id DESC LIMIT ?
		)`,
		owner, taskType, owner, taskType, keep)
	if err != nil {
		return fmt.Errorf("prune samples: %w", err)
	}
	return nil
}

// UpsertErrorResolution writes the current state of one error kind
func (b *SQLiteBackend) UpsertErrorResolution(ctx context.Context, owner, kind string, res ErrorResolution) error {
	resolutions := res.Resolutions
	if resolutions == nil {
		resolutions = []string{}
	}
	data, err := json.Marshal(resolutions)
	if err != nil {
		return fmt.Errorf("marshal resolutions: %w", err)
	}
	_, err = b.db.ExecContext(ctx,
		`INSERT INTO error_resolutions (owner, error_kind, description, occurrences, resolutions, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(owner, error_kind) DO UPDATE SET
			description = excluded.description,
			occurrences = excluded.occurrences,
			resolutions = excluded.resolutions,
			updated_at = excluded.updated_at`,
		owner, kind, res.Description, res.Occurrences, string(data), res.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("upsert error resolution: %w", err)
	}
	return nil
}

// AppendOptimization inserts one optimization event
func (b *SQLiteBackend) AppendOptimization(ctx context.Context, owner string, ev OptimizationEvent) error {
	_, err := b.db.ExecContext(ctx,
		`INSERT INTO optimization_events (owner, task_type, strategy, reason, sample_count, success_rate, avg_execution_ns, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		owner, ev.TaskType, ev.AppliedStrategy, ev.Reason, ev.SampleCount, ev.SuccessRate, int64(ev.AvgExecTime), ev.Timestamp.UnixNano())
	if err != nil {
		return fmt.Errorf("insert optimization event: %w", err)
	}
	return nil
}

// SaveStats upserts the performance counters of one owner
func (b *SQLiteBackend) SaveStats(ctx context.Context, owner string, stats PerformanceStats) error {
	_, err := b.db.ExecContext(ctx,
		`INSERT INTO agent_stats (owner, tasks_completed, tasks_failed, total_processing_ns, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(owner) DO UPDATE SET
			tasks_completed = excluded.tasks_completed,
			tasks_failed = excluded.tasks_failed,
			total_processing_ns = excluded.total_processing_ns,
			updated_at = excluded.updated_at`,
		owner, stats.TasksCompleted, stats.TasksFailed, int64(stats.TotalProcessingTime), time.Now().UnixNano())
	if err != nil {
		return fmt.Errorf("save stats: %w", err)
	}
	return nil
}

// Load rebuilds the full knowledge of one owner
func (b *SQLiteBackend) Load(ctx context.Context, owner string) (*Snapshot, error) {
	snap := &Snapshot{Owner: owner, Record: NewRecord()}

	if err := b.loadSamples(ctx, owner, snap.Record); err != nil {
		return nil, err
	}
	if err := b.loadErrorResolutions(ctx, owner, snap.Record); err != nil {
		return nil, err
	}
	if err := b.loadOptimizations(ctx, owner, snap.Record); err != nil {
		return nil, err
	}

	var completed, failed, totalNS int64
	err := b.db.QueryRowContext(ctx,
		`SELECT tasks_completed, tasks_failed, total_processing_ns FROM agent_stats WHERE owner = ?`, owner).
		Scan(&completed, &failed, &totalNS)
	switch {
	case err == sql.ErrNoRows:
	case err != nil:
		return nil, fmt.Errorf("query stats: %w", err)
	default:
		snap.Stats = statsFromCounters(completed, failed, totalNS)
	}

	return snap, nil
}

func (b *SQLiteBackend) loadSamples(ctx context.Context, owner string, rec *Record) error {
	rows, err := b.db.QueryContext(ctx,
		`SELECT task_type, execution_ns, success, outcome, recorded_at
		FROM knowledge_samples WHERE owner = ? ORDER BY id`, owner)
	if err != nil {
		return fmt.Errorf("query samples: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var taskType, outcome string
		var execNS, recordedAt int64
		var success bool
		if err := rows.Scan(&taskType, &execNS, &success, &outcome, &recordedAt); err != nil {
			return fmt.Errorf("scan sample row: %w", err)
		}
		rec.EfficiencyPatterns[taskType] = append(rec.EfficiencyPatterns[taskType], Sample{
			ExecutionTime: time.Duration(execNS),
			Success:       success,
			Outcome:       Outcome(outcome),
			Timestamp:     fromUnixNano(recordedAt),
		})
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate sample rows: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) loadErrorResolutions(ctx context.Context, owner string, rec *Record) error {
	rows, err := b.db.QueryContext(ctx,
		`SELECT error_kind, description, occurrences, resolutions, updated_at
		FROM error_resolutions WHERE owner = ?`, owner)
	if err != nil {
		return fmt.Errorf("query error resolutions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var kind, resolutions string
		var description sql.NullString
		var occurrences int
		var updatedAt int64
		if err := rows.Scan(&kind, &description, &occurrences, &resolutions, &updatedAt); err != nil {
			return fmt.Errorf("scan error resolution row: %w", err)
		}
		res := &ErrorResolution{
			Description: description.String,
			Occurrences: occurrences,
			UpdatedAt:   fromUnixNano(updatedAt),
		}
		if err := json.Unmarshal([]byte(resolutions), &res.Resolutions); err != nil {
			return fmt.Errorf("unmarshal resolutions: %w", err)
		}
		rec.ErrorResolutions[kind] = res
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate error resolution rows: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) loadOptimizations(ctx context.Context, owner string, rec *Record) error {
	rows, err := b.db.QueryContext(ctx,
		`SELECT task_type, strategy, reason, sample_count, success_rate, avg_execution_ns, recorded_at
		FROM optimization_events WHERE owner = ? ORDER BY id`, owner)
	if err != nil {
		return fmt.Errorf("query optimization events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var ev OptimizationEvent
		var avgNS, recordedAt int64
		if err := rows.Scan(&ev.TaskType, &ev.AppliedStrategy, &ev.Reason, &ev.SampleCount, &ev.SuccessRate, &avgNS, &recordedAt); err != nil {
			return fmt.Errorf("scan optimization row: %w", err)
		}
		ev.AvgExecTime = time.Duration(avgNS)
		ev.Timestamp = fromUnixNano(recordedAt)
		rec.OptimizationStrategies[ev.TaskType] = append(rec.OptimizationStrategies[ev.TaskType], ev)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate optimization rows: %w", err)
	}
	return nil
}

// Owners lists every owner with persisted knowledge
func (b *SQLiteBackend) Owners(ctx context.Context) ([]string, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT owner FROM knowledge_samples
		UNION SELECT owner FROM error_resolutions
		UNION SELECT owner FROM optimization_events
		UNION SELECT owner FROM agent_stats
		ORDER BY owner`)
	if err != nil {
		return nil, fmt.Errorf("query owners: %w", err)
	}
	defer rows.Close()

	var owners []string
	for rows.Next() {
		var owner string
		if err := rows.Scan(&owner); err != nil {
			return nil, fmt.Errorf("scan owner: %w", err)
		}
		owners = append(owners, owner)
	}
	return owners, rows.Err()
}

// Clear deletes all knowledge and task results, keeping the schema
func (b *SQLiteBackend) Clear(ctx context.Context) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"knowledge_samples", "error_resolutions", "optimization_events", "agent_stats", "task_results"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return tx.Commit()
}

// SaveTaskResult stores a terminal task, replacing any earlier row
func (b *SQLiteBackend) SaveTaskResult(ctx context.Context, task models.Task) error {
	payload, err := json.Marshal(task.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	var result []byte
	if task.Result != nil {
		if result, err = json.Marshal(task.Result); err != nil {
			return fmt.Errorf("marshal result: %w", err)
		}
	}
	_, err = b.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO task_results
		(id, task_type, priority, status, agent_id, attempts, payload, result, error, error_kind, created_at, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		task.ID, task.Type, int(task.Priority), string(task.Status), task.AgentID, task.Attempts,
		string(payload), nullableString(result), task.Error, string(task.ErrorKind),
		task.CreatedAt.UnixNano(), nullableTime(task.StartedAt), nullableTime(task.FinishedAt))
	if err != nil {
		return fmt.Errorf("save task result: %w", err)
	}
	return nil
}

// LoadTaskResult fetches a stored terminal task
func (b *SQLiteBackend) LoadTaskResult(ctx context.Context, id string) (models.Task, bool, error) {
	var (
		task                    models.Task
		priority                int
		status                  string
		agentID, payload        sql.NullString
		result, errMsg, errKind sql.NullString
		createdAt               int64
		startedAt, finishedAt   sql.NullInt64
	)
	err := b.db.QueryRowContext(ctx,
		`SELECT id, task_type, priority, status, agent_id, attempts, payload, result, error, error_kind, created_at, started_at, finished_at
		FROM task_results WHERE id = ?`, id).
		Scan(&task.ID, &task.Type, &priority, &status, &agentID, &task.Attempts, &payload, &result, &errMsg, &errKind,
			&createdAt, &startedAt, &finishedAt)
	if err == sql.ErrNoRows {
		return models.Task{}, false, nil
	}
	if err != nil {
		return models.Task{}, false, fmt.Errorf("query task result: %w", err)
	}

	task.Priority = models.Priority(priority)
	task.Status = models.TaskStatus(status)
	task.AgentID = agentID.String
	task.Error = errMsg.String
	task.ErrorKind = models.ErrorKind(errKind.String)
	task.CreatedAt = fromUnixNano(createdAt)
	if startedAt.Valid {
		t := fromUnixNano(startedAt.Int64)
		task.StartedAt = &t
	}
	if finishedAt.Valid {
		t := fromUnixNano(finishedAt.Int64)
		task.FinishedAt = &t
	}
	if payload.Valid && payload.String != "" && payload.String != "null" {
		if err := json.Unmarshal([]byte(payload.String), &task.Payload); err != nil {
			return models.Task{}, false, fmt.Errorf("unmarshal payload: %w", err)
		}
	}
	if result.Valid && result.String != "" {
		if err := json.Unmarshal([]byte(result.String), &task.Result); err != nil {
			return models.Task{}, false, fmt.Errorf("unmarshal result: %w", err)
		}
	}
	return task, true, nil
}

func statsFromCounters(completed, failed, totalNS int64) PerformanceStats {
	stats := PerformanceStats{
		TasksCompleted:      completed,
		TasksFailed:         failed,
		TotalProcessingTime: time.Duration(totalNS),
	}
	if completed > 0 {
		stats.AverageProcessingTime = stats.TotalProcessingTime / time.Duration(completed)
	}
	return stats
}

func fromUnixNano(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}

func nullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func nullableString(b []byte) interface{} {
	if b == nil {
		return nil
	}
	return string(b)
}
