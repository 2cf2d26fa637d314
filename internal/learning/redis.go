package learning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/harrison/aegis/internal/models"
)

// RedisBackend persists knowledge in Redis. Samples and optimization events
// are lists, error resolutions a hash per owner, stats and task results plain
// JSON values. Every key starts with the configured prefix.
type RedisBackend struct {
	client *redis.Client
	prefix string
}

// NewRedisBackend connects to addr and verifies the connection
func NewRedisBackend(ctx context.Context, addr, prefix string) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return NewRedisBackendFromClient(client, prefix), nil
}

// NewRedisBackendFromClient wraps an existing client
func NewRedisBackendFromClient(client *redis.Client, prefix string) *RedisBackend {
	if prefix == "" {
		prefix = "aegis"
	}
	return &RedisBackend{client: client, prefix: prefix}
}

func (b *RedisBackend) key(parts ...string) string {
	k := b.prefix
	for _, p := range parts {
		k += ":" + p
	}
	return k
}

// AppendSample pushes one sample onto the owner's task type list
func (b *RedisBackend) AppendSample(ctx context.Context, owner, taskType string, s Sample) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal sample: %w", err)
	}
	_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, b.key("owners"), owner)
		pipe.SAdd(ctx, b.key("tasktypes", owner), taskType)
		pipe.RPush(ctx, b.key("samples", owner, taskType), data)
		return nil
	})
	if err != nil {
		return fmt.Errorf("append sample: %w", err)
	}
	return nil
}

// PruneSamples trims the list to its newest keep entries
func (b *RedisBackend) PruneSamples(ctx context.Context, owner, taskType string, keep int) error {
	if keep <= 0 {
		return nil
	}
	if err := b.client.LTrim(ctx, b.key("samples", owner, taskType), int64(-keep), -1).Err(); err != nil {
		return fmt.Errorf("prune samples: %w", err)
	}
	return nil
}

// UpsertErrorResolution stores one error kind in the owner's hash
func (b *RedisBackend) UpsertErrorResolution(ctx context.Context, owner, kind string, res ErrorResolution) error {
	if res.Resolutions == nil {
		res.Resolutions = []string{}
	}
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("marshal error resolution: %w", err)
	}
	_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, b.key("owners"), owner)
		pipe.HSet(ctx, b.key("errors", owner), kind, data)
		return nil
	})
	if err != nil {
		return fmt.Errorf("upsert error resolution: %w", err)
	}
	return nil
}

// AppendOptimization pushes one event onto the owner's event list
func (b *RedisBackend) AppendOptimization(ctx context.Context, owner string, ev OptimizationEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal optimization event: %w", err)
	}
	_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, b.key("owners"), owner)
		pipe.RPush(ctx, b.key("optimizations", owner), data)
		return nil
	})
	if err != nil {
		return fmt.Errorf("append optimization event: %w", err)
	}
	return nil
}

// SaveStats overwrites the owner's performance counters
func (b *RedisBackend) SaveStats(ctx context.Context, owner string, stats PerformanceStats) error {
	data, err := json.Marshal(stats)
	if err != nil {
		return fmt.Errorf("marshal stats: %w", err)
	}
	_, err = b.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, b.key("owners"), owner)
		pipe.Set(ctx, b.key("stats", owner), data, 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("save stats: %w", err)
	}
	return nil
}

// Load rebuilds the full knowledge of one owner
func (b *RedisBackend) Load(ctx context.Context, owner string) (*Snapshot, error) {
	snap := &Snapshot{Owner: owner, Record: NewRecord()}

	taskTypes, err := b.client.SMembers(ctx, b.key("tasktypes", owner)).Result()
	if err != nil {
		return nil, fmt.Errorf("list task types: %w", err)
	}
	for _, taskType := range taskTypes {
		raw, err := b.client.LRange(ctx, b.key("samples", owner, taskType), 0, -1).Result()
		if err != nil {
			return nil, fmt.Errorf("read samples: %w", err)
		}
		if len(raw) == 0 {
			continue
		}
		samples := make([]Sample, 0, len(raw))
		for _, item := range raw {
			var s Sample
			if err := json.Unmarshal([]byte(item), &s); err != nil {
				return nil, fmt.Errorf("unmarshal sample: %w", err)
			}
			s.Timestamp = normalizeTime(s.Timestamp)
			samples = append(samples, s)
		}
		snap.Record.EfficiencyPatterns[taskType] = samples
	}

	resolutions, err := b.client.HGetAll(ctx, b.key("errors", owner)).Result()
	if err != nil {
		return nil, fmt.Errorf("read error resolutions: %w", err)
	}
	for kind, item := range resolutions {
		res := &ErrorResolution{}
		if err := json.Unmarshal([]byte(item), res); err != nil {
			return nil, fmt.Errorf("unmarshal error resolution: %w", err)
		}
		res.UpdatedAt = normalizeTime(res.UpdatedAt)
		snap.Record.ErrorResolutions[kind] = res
	}

	events, err := b.client.LRange(ctx, b.key("optimizations", owner), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read optimization events: %w", err)
	}
	for _, item := range events {
		var ev OptimizationEvent
		if err := json.Unmarshal([]byte(item), &ev); err != nil {
			return nil, fmt.Errorf("unmarshal optimization event: %w", err)
		}
		ev.Timestamp = normalizeTime(ev.Timestamp)
		snap.Record.OptimizationStrategies[ev.TaskType] = append(snap.Record.OptimizationStrategies[ev.TaskType], ev)
	}

	stats, err := b.client.Get(ctx, b.key("stats", owner)).Result()
	switch {
	case errors.Is(err, redis.Nil):
	case err != nil:
		return nil, fmt.Errorf("read stats: %w", err)
	default:
		if err := json.Unmarshal([]byte(stats), &snap.Stats); err != nil {
			return nil, fmt.Errorf("unmarshal stats: %w", err)
		}
	}

	return snap, nil
}

// Owners lists every owner with persisted knowledge
func (b *RedisBackend) Owners(ctx context.Context) ([]string, error) {
	owners, err := b.client.SMembers(ctx, b.key("owners")).Result()
	if err != nil {
		return nil, fmt.Errorf("list owners: %w", err)
	}
	sort.Strings(owners)
	return owners, nil
}

// Clear deletes every key under the prefix
func (b *RedisBackend) Clear(ctx context.Context) error {
	iter := b.client.Scan(ctx, 0, b.prefix+":*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("scan keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := b.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("delete keys: %w", err)
	}
	return nil
}

// SaveTaskResult stores a terminal task as JSON
func (b *RedisBackend) SaveTaskResult(ctx context.Context, task models.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}
	if err := b.client.Set(ctx, b.key("task", task.ID), data, 0).Err(); err != nil {
		return fmt.Errorf("save task result: %w", err)
	}
	return nil
}

// LoadTaskResult fetches a stored terminal task
func (b *RedisBackend) LoadTaskResult(ctx context.Context, id string) (models.Task, bool, error) {
	data, err := b.client.Get(ctx, b.key("task", id)).Result()
	if errors.Is(err, redis.Nil) {
		return models.Task{}, false, nil
	}
	if err != nil {
		return models.Task{}, false, fmt.Errorf("load task result: %w", err)
	}
	var task models.Task
	if err := json.Unmarshal([]byte(data), &task); err != nil {
		return models.Task{}, false, fmt.Errorf("unmarshal task: %w", err)
	}
	return task, true, nil
}

// Close closes the client
func (b *RedisBackend) Close() error {
	return b.client.Close()
}
