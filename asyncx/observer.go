package asyncx

import (
	"io"
	"time"

	"github.com/sirupsen/logrus"
)

// Observer receives task lifecycle events, typically to export metrics.
type Observer interface {
	TaskEnqueued(job string)
	TaskStarted(job string)
	TaskFinished(job string, status Status, elapsed time.Duration)
}

type nopObserver struct{}

func (nopObserver) TaskEnqueued(string)                        {}
func (nopObserver) TaskStarted(string)                         {}
func (nopObserver) TaskFinished(string, Status, time.Duration) {}

func observerOrNop(o Observer) Observer {
	if o == nil {
		return nopObserver{}
	}
	return o
}

func loggerOrDefault(l logrus.FieldLogger) logrus.FieldLogger {
	if l != nil {
		return l
	}
	discard := logrus.New()
	discard.SetOutput(io.Discard)
	return discard
}
