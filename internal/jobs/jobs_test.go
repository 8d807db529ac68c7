package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mohans/helpdesk/internal/ai"
	"github.com/mohans/helpdesk/internal/helpdesk"
)

type fakeCompleter struct {
	mu    sync.Mutex
	calls []ai.CompletionRequest
	text  string
	err   error
}

func (f *fakeCompleter) Complete(_ context.Context, req ai.CompletionRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	return f.text, f.err
}

func (f *fakeCompleter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func seedTicket(t *testing.T, store *helpdesk.MemoryStore, msgs ...helpdesk.Message) string {
	t.Helper()
	ctx := context.Background()
	ticket := helpdesk.NewTicket("Login issue", "Cannot log in")
	require.NoError(t, store.Create(ctx, ticket))
	for _, m := range msgs {
		require.NoError(t, store.AppendMessage(ctx, ticket.ID, m))
	}
	return ticket.ID
}

func TestGenerateReply_EmptyConversationSkipsAI(t *testing.T) {
	store := helpdesk.NewMemoryStore()
	fc := &fakeCompleter{text: "should not be used"}
	r := NewRunner(store, store, fc, Options{})
	id := seedTicket(t, store)

	out, err := r.GenerateReply(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, NoConversationReply, out)

	out, err = r.Summarize(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, NoConversationSummary, out)

	assert.Zero(t, fc.callCount())
}

func TestGenerateReply_UsesTranscriptAndTrims(t *testing.T) {
	store := helpdesk.NewMemoryStore()
	fc := &fakeCompleter{text: "  X \n"}
	r := NewRunner(store, store, fc, Options{})
	id := seedTicket(t, store,
		helpdesk.NewMessage("customer", "I cannot log in"),
		helpdesk.NewMessage("agent", "Have you tried resetting your password?"))

	out, err := r.GenerateReply(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "X", out)

	require.Equal(t, 1, fc.callCount())
	req := fc.calls[0]
	assert.Equal(t, ai.DefaultModel, req.Model)
	assert.InDelta(t, 0.5, req.Temperature, 1e-6)
	assert.Equal(t, "customer: I cannot log in\nagent: Have you tried resetting your password?", req.Prompt)
}

func TestSummarize_PrefixesInstruction(t *testing.T) {
	store := helpdesk.NewMemoryStore()
	fc := &fakeCompleter{text: "Customer locked out."}
	r := NewRunner(store, store, fc, Options{Model: "gpt-4o-mini"})
	id := seedTicket(t, store, helpdesk.NewMessage("customer", "locked out"))

	out, err := r.Summarize(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "Customer locked out.", out)

	req := fc.calls[0]
	assert.Equal(t, "gpt-4o-mini", req.Model)
	assert.InDelta(t, 0.2, req.Temperature, 1e-6)
	assert.Equal(t, "Please provide a concise summary of the following conversation:\n\ncustomer: locked out", req.Prompt)
}

func TestJobs_AIFailureBecomesBracketedError(t *testing.T) {
	store := helpdesk.NewMemoryStore()
	fc := &fakeCompleter{err: errors.New("connection reset")}
	r := NewRunner(store, store, fc, Options{})
	id := seedTicket(t, store, helpdesk.NewMessage("customer", "hello"))

	_, err := r.GenerateReply(context.Background(), id)
	require.Error(t, err)
	assert.Equal(t, "[Error generating reply: connection reset]", err.Error())

	_, err = r.Summarize(context.Background(), id)
	require.Error(t, err)
	assert.Equal(t, "[Error summarizing conversation: connection reset]", err.Error())

	var jobErr *JobError
	assert.ErrorAs(t, err, &jobErr)
}

func TestJobs_MissingCredentialSurfacesAsJobError(t *testing.T) {
	store := helpdesk.NewMemoryStore()
	r := NewRunner(store, store, ai.NewLazyOpenAI(ai.Config{}), Options{})
	id := seedTicket(t, store, helpdesk.NewMessage("customer", "hello"))

	_, err := r.GenerateReply(context.Background(), id)
	assert.ErrorIs(t, err, ai.ErrMissingAPIKey)
	assert.Contains(t, err.Error(), "[Error generating reply: OPENAI_API_KEY is not configured")
}

func TestJobs_TicketDeletedBeforeExecution(t *testing.T) {
	store := helpdesk.NewMemoryStore()
	fc := &fakeCompleter{text: "X"}
	r := NewRunner(store, store, fc, Options{})
	id := seedTicket(t, store, helpdesk.NewMessage("customer", "hello"))
	require.NoError(t, store.Delete(context.Background(), id))

	_, err := r.GenerateReply(context.Background(), id)
	assert.ErrorIs(t, err, helpdesk.ErrTicketNotFound)
	assert.Zero(t, fc.callCount())
}

func TestTicketJob_ValidatesArgs(t *testing.T) {
	fn := ticketJob("generating reply", func(context.Context, string) (string, error) { return "ok", nil })

	_, err := fn(context.Background(), nil)
	assert.Error(t, err)
	_, err = fn(context.Background(), []string{"a", "b"})
	assert.Error(t, err)

	out, err := fn(context.Background(), []string{"a"})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
}
