package asyncx

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

const reconcileBatch = 100

// Reconciler fails records whose broker task was archived before a result was
// recorded. With retries off, asynq archives a task once the lease of a lost
// worker expires, and nothing else would ever finish its record.
type Reconciler struct {
	inspector *asynq.Inspector
	store     Store
	queue     string
	log       logrus.FieldLogger
}

func NewReconciler(redisOpt asynq.RedisClientOpt, store Store, queue string, log logrus.FieldLogger) *Reconciler {
	if queue == "" {
		queue = "default"
	}
	return &Reconciler{
		inspector: asynq.NewInspector(redisOpt),
		store:     store,
		queue:     queue,
		log:       loggerOrDefault(log),
	}
}

// Reconcile runs one pass over the archived tasks and returns how many
// records it moved to FAILURE. Handled archive entries are deleted.
func (r *Reconciler) Reconcile(ctx context.Context) (int, error) {
	archived, err := r.inspector.ListArchivedTasks(r.queue, asynq.PageSize(reconcileBatch))
	if errors.Is(err, asynq.ErrQueueNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("list archived tasks: %w", err)
	}
	failed := 0
	for _, info := range archived {
		ok, err := r.reconcile(ctx, info)
		if err != nil {
			return failed, err
		}
		if ok {
			failed++
		}
	}
	if failed > 0 {
		r.log.WithField("failed", failed).Warn("failed tasks abandoned by their workers")
	}
	return failed, nil
}

func (r *Reconciler) reconcile(ctx context.Context, info *asynq.TaskInfo) (bool, error) {
	marked := false
	rec, err := r.store.GetByID(ctx, info.ID)
	switch {
	case errors.Is(err, ErrUnknownTask):
	case err != nil:
		return false, err
	case !rec.Status.Terminal():
		msg := fmt.Sprintf("[Error running %s: task abandoned without a result", rec.Job)
		if info.LastErr != "" {
			msg += ": " + info.LastErr
		}
		msg += "]"
		err := r.store.MarkFailed(ctx, info.ID, msg, time.Now().UTC())
		if err != nil && !errors.Is(err, ErrAlreadyFinished) {
			return false, fmt.Errorf("fail abandoned task %s: %w", info.ID, err)
		}
		marked = err == nil
	}
	if err := r.inspector.DeleteTask(r.queue, info.ID); err != nil && !errors.Is(err, asynq.ErrTaskNotFound) {
		return marked, fmt.Errorf("delete archived task %s: %w", info.ID, err)
	}
	return marked, nil
}

func (r *Reconciler) Close() error { return r.inspector.Close() }
