package asyncx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// transitionScript applies a status change only while the task is not terminal.
// Returns -1 for a missing task, 0 when refused, 1 when applied.
var transitionScript = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'status')
if not cur then
  return -1
end
if cur == 'SUCCESS' or cur == 'FAILURE' then
  return 0
end
redis.call('HSET', KEYS[1], 'status', ARGV[1], ARGV[2], ARGV[3])
if ARGV[4] == '1' then
  redis.call('HSET', KEYS[1], 'result', ARGV[5])
end
local ttl = tonumber(ARGV[6])
if ttl > 0 then
  redis.call('PEXPIRE', KEYS[1], ttl)
end
return 1
`)

// RedisStore keeps one hash per task next to the broker's own keys.
// Terminal records expire after the configured retention.
type RedisStore struct {
	rdb       redis.UniversalClient
	prefix    string
	retention time.Duration
}

type RedisStoreOptions struct {
	// Prefix for task keys, default "helpdesk:task:".
	Prefix string
	// Retention of terminal records; zero keeps them forever.
	Retention time.Duration
}

func NewRedisStore(rdb redis.UniversalClient, opts RedisStoreOptions) *RedisStore {
	p := opts.Prefix
	if p == "" {
		p = "helpdesk:task:"
	}
	return &RedisStore{rdb: rdb, prefix: p, retention: opts.Retention}
}

func (s *RedisStore) key(taskID string) string { return s.prefix + taskID }

func (s *RedisStore) Insert(ctx context.Context, rec TaskRecord) error {
	args, err := json.Marshal(rec.Args)
	if err != nil {
		return err
	}
	status := rec.Status
	if status == "" {
		status = StatusPending
	}
	return s.rdb.HSet(ctx, s.key(rec.ID),
		"id", rec.ID,
		"job", rec.Job,
		"queue", rec.Queue,
		"args", string(args),
		"status", string(status),
		"created_at", rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	).Err()
}

func (s *RedisStore) Delete(ctx context.Context, taskID string) error {
	return s.rdb.Del(ctx, s.key(taskID)).Err()
}

func (s *RedisStore) MarkStarted(ctx context.Context, taskID string, startedAt time.Time) error {
	return s.transition(ctx, taskID, StatusRunning, "started_at", startedAt, nil, 0)
}

func (s *RedisStore) MarkCompleted(ctx context.Context, taskID string, result string, finishedAt time.Time) error {
	return s.transition(ctx, taskID, StatusSuccess, "finished_at", finishedAt, &result, s.retention)
}

func (s *RedisStore) MarkFailed(ctx context.Context, taskID string, errorMsg string, finishedAt time.Time) error {
	return s.transition(ctx, taskID, StatusFailure, "finished_at", finishedAt, &errorMsg, s.retention)
}

func (s *RedisStore) transition(ctx context.Context, taskID string, status Status, field string, at time.Time, result *string, ttl time.Duration) error {
	hasResult, value := "0", ""
	if result != nil {
		hasResult, value = "1", *result
	}
	n, err := transitionScript.Run(ctx, s.rdb, []string{s.key(taskID)},
		string(status), field, at.UTC().Format(time.RFC3339Nano), hasResult, value, ttl.Milliseconds()).Int()
	if err != nil {
		return err
	}
	switch n {
	case -1:
		return ErrUnknownTask
	case 0:
		return ErrAlreadyFinished
	}
	return nil
}

func (s *RedisStore) GetByID(ctx context.Context, taskID string) (*TaskRecord, error) {
	fields, err := s.rdb.HGetAll(ctx, s.key(taskID)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, ErrUnknownTask
	}
	rec := TaskRecord{
		ID:     fields["id"],
		Job:    fields["job"],
		Queue:  fields["queue"],
		Status: Status(fields["status"]),
	}
	if err := json.Unmarshal([]byte(fields["args"]), &rec.Args); err != nil {
		return nil, fmt.Errorf("decode args of task %s: %w", taskID, err)
	}
	if v, ok := fields["result"]; ok {
		rec.Result = &v
	}
	if rec.CreatedAt, err = time.Parse(time.RFC3339Nano, fields["created_at"]); err != nil {
		return nil, fmt.Errorf("decode created_at of task %s: %w", taskID, err)
	}
	if rec.StartedAt, err = parseOptionalTime(fields["started_at"]); err != nil {
		return nil, err
	}
	if rec.FinishedAt, err = parseOptionalTime(fields["finished_at"]); err != nil {
		return nil, err
	}
	return &rec, nil
}

func parseOptionalTime(v string) (*time.Time, error) {
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return nil, errors.New("invalid timestamp " + v)
	}
	return &t, nil
}
