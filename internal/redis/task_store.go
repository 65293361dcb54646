package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shubhanshu-sudo/Scrapper/internal/domain"
	"github.com/shubhanshu-sudo/Scrapper/internal/tasks"
)

const (
	taskTTL        = tasks.DefaultTTL
	taskIndexKey   = "task:index"
	maxTxnAttempts = 8
)

func taskKey(taskID string) string { return "task:state:" + taskID }

// TaskStore is a tasks.Registry backed by Redis, so several API replicas can
// serve status for tasks running on any of them. Records expire after a day.
type TaskStore struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

var _ tasks.Registry = (*TaskStore)(nil)

// NewTaskStore creates a Redis-backed task registry.
func NewTaskStore(client *redis.Client) *TaskStore {
	return &TaskStore{client: client, ttl: taskTTL, now: time.Now}
}

// NewClient creates and returns a new Redis client.
func NewClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  1 * time.Second,
		WriteTimeout: 1 * time.Second,
		PoolSize:     10,
	})
}

func (s *TaskStore) Create(ctx context.Context, task *domain.Task) error {
	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("marshal task %s: %w", task.ID, err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, taskKey(task.ID), data, s.ttl)
	pipe.ZAdd(ctx, taskIndexKey, redis.Z{Score: float64(task.CreatedAt.UnixNano()), Member: task.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis create task %s: %w", task.ID, err)
	}
	return nil
}

func (s *TaskStore) Get(ctx context.Context, taskID string) (*domain.Task, error) {
	data, err := s.client.Get(ctx, taskKey(taskID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, &domain.TaskNotFoundError{TaskID: taskID}
		}
		return nil, fmt.Errorf("redis get task %s: %w", taskID, err)
	}
	return decodeTask(data)
}

// Update runs fn inside a WATCH transaction and retries when another writer
// changed the record first.
func (s *TaskStore) Update(ctx context.Context, taskID string, fn func(*domain.Task)) (*domain.Task, error) {
	key := taskKey(taskID)
	var out *domain.Task

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return &domain.TaskNotFoundError{TaskID: taskID}
			}
			return err
		}
		cur, err := decodeTask(data)
		if err != nil {
			return err
		}
		if cur.Status.IsTerminal() {
			return &domain.TaskTerminalError{TaskID: taskID, Status: cur.Status}
		}

		next := cur.Clone()
		fn(next)
		tasks.Guard(cur, next)
		next.UpdatedAt = s.now().UTC()

		encoded, err := json.Marshal(next)
		if err != nil {
			return fmt.Errorf("marshal task %s: %w", taskID, err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, encoded, s.ttl)
			return nil
		})
		out = next
		return err
	}

	for attempt := 0; attempt < maxTxnAttempts; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if err == nil {
			return out, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		var nf *domain.TaskNotFoundError
		var te *domain.TaskTerminalError
		if errors.As(err, &nf) || errors.As(err, &te) {
			return nil, err
		}
		return nil, fmt.Errorf("redis update task %s: %w", taskID, err)
	}
	return nil, fmt.Errorf("redis update task %s: too much contention", taskID)
}

func (s *TaskStore) List(ctx context.Context, limit int) ([]*domain.Task, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit) - 1
	}
	ids, err := s.client.ZRevRange(ctx, taskIndexKey, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list tasks: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = taskKey(id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list tasks: %w", err)
	}

	out := make([]*domain.Task, 0, len(vals))
	var expired []any
	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			expired = append(expired, ids[i])
			continue
		}
		t, err := decodeTask([]byte(str))
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	if len(expired) > 0 {
		_ = s.client.ZRem(ctx, taskIndexKey, expired...).Err()
	}
	return out, nil
}

// Ping reports whether Redis is reachable.
func (s *TaskStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func decodeTask(data []byte) (*domain.Task, error) {
	var t domain.Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("unmarshal task: %w", err)
	}
	return &t, nil
}
