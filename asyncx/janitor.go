package asyncx

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Purger deletes terminal records older than a cutoff.
type Purger interface {
	PurgeFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Janitor evicts finished task records and fails abandoned ones on a cron schedule.
type Janitor struct {
	cron       *cron.Cron
	purger     Purger
	retention  time.Duration
	reconciler *Reconciler
	log        logrus.FieldLogger
	now        func() time.Time
}

// NewJanitor schedules passes with a standard cron expression or descriptor
// such as "@every 10m". A nil purger skips eviction, for stores that expire
// records on their own.
func NewJanitor(purger Purger, retention time.Duration, schedule string, log logrus.FieldLogger) (*Janitor, error) {
	j := &Janitor{
		cron:      cron.New(),
		purger:    purger,
		retention: retention,
		log:       loggerOrDefault(log),
		now:       time.Now,
	}
	if _, err := j.cron.AddFunc(schedule, func() { j.run(context.Background()) }); err != nil {
		return nil, err
	}
	return j, nil
}

// WithReconciler adds an abandoned-task pass to every run. The janitor owns r
// from then on and closes it in Stop.
func (j *Janitor) WithReconciler(r *Reconciler) *Janitor {
	j.reconciler = r
	return j
}

func (j *Janitor) run(ctx context.Context) {
	if j.reconciler != nil {
		if _, err := j.reconciler.Reconcile(ctx); err != nil {
			j.log.WithError(err).Warn("reconcile of abandoned tasks failed")
		}
	}
	j.Purge(ctx)
}

// Purge runs one eviction pass and returns the number of removed records.
func (j *Janitor) Purge(ctx context.Context) int64 {
	if j.purger == nil {
		return 0
	}
	cutoff := j.now().Add(-j.retention)
	n, err := j.purger.PurgeFinishedBefore(ctx, cutoff)
	if err != nil {
		j.log.WithError(err).Warn("purge of finished tasks failed")
		return 0
	}
	if n > 0 {
		j.log.WithField("purged", n).Info("evicted finished tasks")
	}
	return n
}

func (j *Janitor) Start() { j.cron.Start() }

// Stop halts scheduling and waits for a running pass.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
	if j.reconciler != nil {
		if err := j.reconciler.Close(); err != nil {
			j.log.WithError(err).Warn("failed to close reconciler")
		}
	}
}
