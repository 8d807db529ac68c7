package helpdesk

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps tickets and conversations in process memory. API and
// workers must share the process to see the same data.
type MemoryStore struct {
	mu            sync.RWMutex
	tickets       map[string]Ticket
	conversations map[string][]Message
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tickets:       make(map[string]Ticket),
		conversations: make(map[string][]Message),
	}
}

func (s *MemoryStore) Exists(_ context.Context, ticketID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.tickets[ticketID]
	return ok, nil
}

func (s *MemoryStore) Get(_ context.Context, ticketID string) (*Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tickets[ticketID]
	if !ok {
		return nil, ErrTicketNotFound
	}
	return &t, nil
}

func (s *MemoryStore) List(_ context.Context) ([]Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Ticket, 0, len(s.tickets))
	for _, t := range s.tickets {
		out = append(out, t)
	}
	sortTickets(out)
	return out, nil
}

func (s *MemoryStore) Create(_ context.Context, t Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tickets[t.ID] = t
	return nil
}

func (s *MemoryStore) Update(_ context.Context, ticketID string, patch TicketPatch) (*Ticket, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tickets[ticketID]
	if !ok {
		return nil, ErrTicketNotFound
	}
	patch.apply(&t)
	s.tickets[ticketID] = t
	return &t, nil
}

// Delete removes a ticket and its conversation.
func (s *MemoryStore) Delete(_ context.Context, ticketID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tickets, ticketID)
	delete(s.conversations, ticketID)
	return nil
}

// ListMessages returns a copy so callers never observe later appends.
func (s *MemoryStore) ListMessages(_ context.Context, ticketID string) ([]Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.conversations[ticketID]
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

func (s *MemoryStore) AppendMessage(_ context.Context, ticketID string, m Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tickets[ticketID]; !ok {
		return ErrTicketNotFound
	}
	s.conversations[ticketID] = append(s.conversations[ticketID], m)
	return nil
}

// sortTickets orders by creation time, then id, for stable listings.
func sortTickets(ts []Ticket) {
	sort.Slice(ts, func(i, j int) bool {
		if !ts[i].CreatedAt.Equal(ts[j].CreatedAt) {
			return ts[i].CreatedAt.Before(ts[j].CreatedAt)
		}
		return ts[i].ID < ts[j].ID
	})
}
