// Package dispatch is the only way the request layer starts background work.
package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/mohans/helpdesk/asyncx"
	"github.com/mohans/helpdesk/internal/helpdesk"
	"github.com/mohans/helpdesk/internal/jobs"
)

// ErrNotFound is returned when a submission names a ticket that does not exist.
var ErrNotFound = errors.New("ticket not found")

// Enqueuer hands a job to the broker and returns its task id without waiting.
type Enqueuer interface {
	Enqueue(ctx context.Context, job string, args ...string) (string, error)
}

// StatusReader answers status polls.
type StatusReader interface {
	Status(ctx context.Context, taskID string) (asyncx.TaskStatus, error)
}

type Facade struct {
	tickets  helpdesk.TicketChecker
	enqueuer Enqueuer
	statuses StatusReader
	log      logrus.FieldLogger
}

func NewFacade(tickets helpdesk.TicketChecker, enqueuer Enqueuer, statuses StatusReader, log logrus.FieldLogger) *Facade {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Facade{tickets: tickets, enqueuer: enqueuer, statuses: statuses, log: log}
}

// SubmitGenerateReply queues an AI reply for the ticket.
func (f *Facade) SubmitGenerateReply(ctx context.Context, ticketID string) (string, error) {
	return f.submit(ctx, jobs.GenerateReply, ticketID)
}

// SubmitSummarize queues a conversation summary for the ticket.
func (f *Facade) SubmitSummarize(ctx context.Context, ticketID string) (string, error) {
	return f.submit(ctx, jobs.SummarizeConversation, ticketID)
}

// GetStatus fails with asyncx.ErrUnknownTask for ids that were never issued or were evicted.
func (f *Facade) GetStatus(ctx context.Context, taskID string) (asyncx.TaskStatus, error) {
	return f.statuses.Status(ctx, taskID)
}

func (f *Facade) submit(ctx context.Context, job, ticketID string) (string, error) {
	ok, err := f.tickets.Exists(ctx, ticketID)
	if err != nil {
		return "", fmt.Errorf("check ticket %s: %w", ticketID, err)
	}
	if !ok {
		return "", ErrNotFound
	}
	id, err := f.enqueuer.Enqueue(ctx, job, ticketID)
	if err != nil {
		return "", err
	}
	f.log.WithFields(logrus.Fields{"task_id": id, "job": job, "ticket_id": ticketID}).Info("task submitted")
	return id, nil
}
