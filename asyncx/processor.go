package asyncx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

// JobFunc is the work behind one job name. A non-nil error becomes the task's
// FAILURE result; its Error() text is what pollers read.
type JobFunc func(ctx context.Context, args []string) (string, error)

// Processor manages background workers, dispatches tasks to registered
// JobFuncs, and records every outcome in the Store.
type Processor struct {
	server   *asynq.Server
	store    Store
	observer Observer
	log      logrus.FieldLogger

	mu   sync.RWMutex
	jobs map[string]JobFunc
}

type ProcessorConfig struct {
	Concurrency int
	Queues      map[string]int
	Observer    Observer
	Logger      logrus.FieldLogger
	LogLevel    asynq.LogLevel
}

func NewProcessor(redisOpt asynq.RedisClientOpt, store Store, cfg ProcessorConfig) *Processor {
	con := cfg.Concurrency
	if con <= 0 {
		con = 10
	}
	qs := cfg.Queues
	if qs == nil {
		qs = map[string]int{"default": 1}
	}
	log := loggerOrDefault(cfg.Logger)
	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: con,
		Queues:      qs,
		Logger:      log,
		LogLevel:    cfg.LogLevel,
	})
	return &Processor{
		server:   server,
		store:    store,
		observer: observerOrNop(cfg.Observer),
		log:      log,
		jobs:     make(map[string]JobFunc),
	}
}

// Register binds a job name to its function. Later registrations replace earlier ones.
func (p *Processor) Register(job string, fn JobFunc) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.jobs[job] = fn
}

func (p *Processor) lookup(job string) (JobFunc, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	fn, ok := p.jobs[job]
	return fn, ok
}

// ProcessTask implements asynq.Handler. Job failures never reach asynq: they
// are stored as FAILURE and the worker moves on.
func (p *Processor) ProcessTask(ctx context.Context, t *asynq.Task) error {
	id, ok := asynq.GetTaskID(ctx)
	if !ok {
		return errors.New("task id missing from context")
	}
	job := t.Type()
	log := p.log.WithFields(logrus.Fields{"task_id": id, "job": job})

	start := time.Now()
	if err := p.store.MarkStarted(ctx, id, start.UTC()); err != nil {
		if errors.Is(err, ErrAlreadyFinished) {
			log.Info("skipping redelivered task that already finished")
			return nil
		}
		// Keep going: a missing RUNNING mark must not cost the result.
		log.WithError(err).Warn("failed to mark task started")
	}
	p.observer.TaskStarted(job)

	result, jobErr := p.run(ctx, job, t.Payload())
	finished := time.Now()

	// The task deadline or a shutdown may have cancelled ctx; the outcome is recorded regardless.
	recordCtx := context.WithoutCancel(ctx)
	status := StatusSuccess
	var err error
	if jobErr != nil {
		status = StatusFailure
		err = p.store.MarkFailed(recordCtx, id, jobErr.Error(), finished.UTC())
		log.WithError(jobErr).Warn("task failed")
	} else {
		err = p.store.MarkCompleted(recordCtx, id, result, finished.UTC())
		log.Debug("task succeeded")
	}
	p.observer.TaskFinished(job, status, finished.Sub(start))

	switch {
	case errors.Is(err, ErrAlreadyFinished):
		log.Info("result already recorded by another delivery")
		return nil
	case err != nil:
		log.WithError(err).Error("failed to record task result")
		return fmt.Errorf("record result of task %s: %w", id, err)
	}
	return nil
}

// run decodes the payload and invokes the job, turning panics into errors.
func (p *Processor) run(ctx context.Context, job string, raw []byte) (result string, err error) {
	fn, ok := p.lookup(job)
	if !ok {
		return "", fmt.Errorf("[Error running task: unknown job %q]", job)
	}
	var pl payload
	if err := json.Unmarshal(raw, &pl); err != nil {
		return "", fmt.Errorf("[Error decoding task payload: %v]", err)
	}
	defer func() {
		if r := recover(); r != nil {
			p.log.WithField("job", job).Errorf("job panicked: %v\n%s", r, debug.Stack())
			err = fmt.Errorf("[Error running %s: panic: %v]", job, r)
		}
	}()
	return fn(ctx, pl.Args)
}

// Start runs the workers in the background.
func (p *Processor) Start() error {
	return p.server.Start(p)
}

func (p *Processor) Shutdown() { p.server.Shutdown() }
