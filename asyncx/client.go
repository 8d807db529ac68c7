package asyncx

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

// Client wraps asynq.Client and a Store to persist task status.
type Client struct {
	client   *asynq.Client
	store    Store
	queue    string
	timeout  time.Duration
	observer Observer
	log      logrus.FieldLogger
}

type ClientOptions struct {
	Queue string
	// TaskTimeout bounds each task's execution; zero keeps asynq's default.
	TaskTimeout time.Duration
	Observer    Observer
	Logger   logrus.FieldLogger
}

func NewClient(redisOpt asynq.RedisClientOpt, store Store, opts ClientOptions) *Client {
	q := opts.Queue
	if q == "" {
		q = "default"
	}
	return &Client{
		client:   asynq.NewClient(redisOpt),
		store:    store,
		queue:    q,
		timeout:  opts.TaskTimeout,
		observer: observerOrNop(opts.Observer),
		log:      loggerOrDefault(opts.Logger),
	}
}

// Enqueue records a PENDING task and hands it to the broker. It never waits
// for execution. The returned id is used for all later status lookups.
func (c *Client) Enqueue(ctx context.Context, job string, args ...string) (string, error) {
	if c.client == nil {
		return "", fmt.Errorf("nil asynq client")
	}
	if args == nil {
		args = []string{}
	}
	payloadBytes, err := json.Marshal(payload{Args: args})
	if err != nil {
		return "", err
	}
	rec := TaskRecord{
		ID:        uuid.NewString(),
		Job:       job,
		Queue:     c.queue,
		Args:      args,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}
	// The record goes first so a fast worker always finds it.
	if err := c.store.Insert(ctx, rec); err != nil {
		if isTransportError(err) {
			return "", fmt.Errorf("%w: record task: %v", ErrBrokerUnavailable, err)
		}
		return "", fmt.Errorf("record task: %w", err)
	}
	t := asynq.NewTask(job, payloadBytes)
	opts := []asynq.Option{asynq.TaskID(rec.ID), asynq.Queue(c.queue), asynq.MaxRetry(0)}
	if c.timeout > 0 {
		opts = append(opts, asynq.Timeout(c.timeout))
	}
	if _, err := c.client.EnqueueContext(ctx, t, opts...); err != nil {
		if derr := c.store.Delete(ctx, rec.ID); derr != nil {
			c.log.WithError(derr).WithField("task_id", rec.ID).Warn("failed to drop record of unqueued task")
		}
		return "", fmt.Errorf("%w: %v", ErrBrokerUnavailable, err)
	}
	c.observer.TaskEnqueued(job)
	c.log.WithFields(logrus.Fields{"task_id": rec.ID, "job": job}).Debug("task enqueued")
	return rec.ID, nil
}

// Status returns the caller-facing snapshot of a task.
func (c *Client) Status(ctx context.Context, taskID string) (TaskStatus, error) {
	rec, err := c.store.GetByID(ctx, taskID)
	if err != nil {
		return TaskStatus{}, err
	}
	return Snapshot(rec), nil
}

func (c *Client) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}
