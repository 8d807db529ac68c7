// Package jobs implements the background work behind AI replies and
// conversation summaries.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/mohans/helpdesk/asyncx"
	"github.com/mohans/helpdesk/internal/ai"
	"github.com/mohans/helpdesk/internal/helpdesk"
)

// Job names, used as the broker task type.
const (
	GenerateReply         = "generate_reply"
	SummarizeConversation = "summarize_conversation"
)

// Results returned without calling the AI service when a ticket has no messages.
const (
	NoConversationReply   = "No conversation found to generate a reply."
	NoConversationSummary = "No conversation found to summarize."
)

const (
	replyTemperature   float32 = 0.5
	summaryTemperature float32 = 0.2

	summaryInstruction = "Please provide a concise summary of the following conversation:\n\n"
)

// JobError is a failed job. Its text is what pollers see as the FAILURE result.
type JobError struct {
	Action string // e.g. "generating reply"
	Err    error
}

func (e *JobError) Error() string {
	return fmt.Sprintf("[Error %s: %v]", e.Action, e.Err)
}

func (e *JobError) Unwrap() error { return e.Err }

// Runner holds the collaborators shared by both jobs.
type Runner struct {
	tickets  helpdesk.TicketChecker
	messages helpdesk.MessageLister
	ai       ai.Completer
	model    string
	log      logrus.FieldLogger
}

type Options struct {
	// Model for completions; ai.DefaultModel when empty.
	Model  string
	Logger logrus.FieldLogger
}

func NewRunner(tickets helpdesk.TicketChecker, messages helpdesk.MessageLister, completer ai.Completer, opts Options) *Runner {
	model := opts.Model
	if model == "" {
		model = ai.DefaultModel
	}
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Runner{tickets: tickets, messages: messages, ai: completer, model: model, log: log}
}

// GenerateReply drafts the next reply for a ticket's conversation.
func (r *Runner) GenerateReply(ctx context.Context, ticketID string) (string, error) {
	return r.complete(ctx, ticketID, "generating reply", NoConversationReply, replyTemperature, "")
}

// Summarize condenses a ticket's conversation.
func (r *Runner) Summarize(ctx context.Context, ticketID string) (string, error) {
	return r.complete(ctx, ticketID, "summarizing conversation", NoConversationSummary, summaryTemperature, summaryInstruction)
}

func (r *Runner) complete(ctx context.Context, ticketID, action, empty string, temperature float32, instruction string) (string, error) {
	log := r.log.WithFields(logrus.Fields{"ticket_id": ticketID, "action": action})

	// The ticket was checked at submission; it may have gone since.
	ok, err := r.tickets.Exists(ctx, ticketID)
	if err != nil {
		return "", &JobError{Action: action, Err: err}
	}
	if !ok {
		return "", &JobError{Action: action, Err: fmt.Errorf("ticket %s: %w", ticketID, helpdesk.ErrTicketNotFound)}
	}

	msgs, err := r.messages.ListMessages(ctx, ticketID)
	if err != nil {
		return "", &JobError{Action: action, Err: err}
	}
	if len(msgs) == 0 {
		log.Debug("no conversation, skipping completion")
		return empty, nil
	}

	text, err := r.ai.Complete(ctx, ai.CompletionRequest{
		Model:       r.model,
		Prompt:      instruction + ConversationPrompt(msgs),
		Temperature: temperature,
	})
	if err != nil {
		return "", &JobError{Action: action, Err: err}
	}
	return strings.TrimSpace(text), nil
}

// ConversationPrompt flattens messages into "role: content" lines in store order.
func ConversationPrompt(msgs []helpdesk.Message) string {
	parts := make([]string, 0, len(msgs))
	for _, m := range msgs {
		parts = append(parts, m.Role+": "+m.Content)
	}
	return strings.Join(parts, "\n")
}

// Register binds both jobs to the processor. Each job takes the ticket id as its only argument.
func (r *Runner) Register(p *asyncx.Processor) {
	p.Register(GenerateReply, ticketJob("generating reply", r.GenerateReply))
	p.Register(SummarizeConversation, ticketJob("summarizing conversation", r.Summarize))
}

func ticketJob(action string, fn func(context.Context, string) (string, error)) asyncx.JobFunc {
	return func(ctx context.Context, args []string) (string, error) {
		if len(args) != 1 || args[0] == "" {
			return "", &JobError{Action: action, Err: errors.New("expected exactly one ticket id argument")}
		}
		return fn(ctx, args[0])
	}
}
