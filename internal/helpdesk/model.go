// Package helpdesk holds tickets and their conversations. The task core
// reaches it only through the narrow TicketChecker and MessageLister views.
package helpdesk

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// ErrTicketNotFound is returned for operations on a ticket that does not exist.
var ErrTicketNotFound = errors.New("ticket not found")

const DefaultTicketStatus = "open"

// Ticket is a support request.
type Ticket struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	Assignee    *string   `json:"assignee"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewTicket returns an open ticket with a fresh id.
func NewTicket(title, description string) Ticket {
	return Ticket{
		ID:          uuid.NewString(),
		Title:       title,
		Description: description,
		Status:      DefaultTicketStatus,
		CreatedAt:   time.Now().UTC(),
	}
}

// TicketPatch carries the fields an update may change; nil leaves a field alone.
type TicketPatch struct {
	Status   *string `json:"status"`
	Assignee *string `json:"assignee"`
}

func (p TicketPatch) apply(t *Ticket) {
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.Assignee != nil {
		v := *p.Assignee
		t.Assignee = &v
	}
}

// Message is one entry in a ticket's conversation. Role is free-form.
type Message struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// NewMessage stamps the message with the current UTC time. Every call reads
// the clock, so messages created in sequence carry their own timestamps.
func NewMessage(role, content string) Message {
	return Message{
		Role:      role,
		Content:   content,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
}

// TicketChecker is the view the dispatch layer needs.
type TicketChecker interface {
	Exists(ctx context.Context, ticketID string) (bool, error)
}

// MessageLister is the view job functions need.
type MessageLister interface {
	ListMessages(ctx context.Context, ticketID string) ([]Message, error)
}

type TicketStore interface {
	TicketChecker
	Get(ctx context.Context, ticketID string) (*Ticket, error)
	List(ctx context.Context) ([]Ticket, error)
	Create(ctx context.Context, t Ticket) error
	Update(ctx context.Context, ticketID string, patch TicketPatch) (*Ticket, error)
	Delete(ctx context.Context, ticketID string) error
}

// ConversationStore appends atomically per call and lists in append order.
// AppendMessage fails with ErrTicketNotFound unless the ticket exists at the
// moment of the append.
type ConversationStore interface {
	MessageLister
	AppendMessage(ctx context.Context, ticketID string, m Message) error
}

// Store is the full helpdesk persistence surface used by the request layer.
type Store interface {
	TicketStore
	ConversationStore
}
