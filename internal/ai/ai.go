// Package ai talks to the external completion service used by the job functions.
package ai

import (
	"context"
	"errors"
	"sync"

	openai "github.com/sashabaranov/go-openai"
)

var (
	// ErrMissingAPIKey means no credential is configured for the completion service.
	ErrMissingAPIKey = errors.New("OPENAI_API_KEY is not configured for OpenAI tasks")
	// ErrEmptyCompletion means the service answered without any choice.
	ErrEmptyCompletion = errors.New("completion response contained no choices")
)

const DefaultModel = openai.GPT3Dot5Turbo

// CompletionRequest is a single-turn prompt.
type CompletionRequest struct {
	Model       string
	Prompt      string
	Temperature float32
}

// Completer returns the raw completion text for a prompt.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

type Config struct {
	APIKey  string
	BaseURL string
}

// OpenAI implements Completer using the chat completions API.
type OpenAI struct {
	client *openai.Client
}

// NewOpenAI fails with ErrMissingAPIKey when cfg has no key.
func NewOpenAI(cfg Config) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	return &OpenAI{client: openai.NewClientWithConfig(clientCfg)}, nil
}

func (o *OpenAI) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	model := req.Model
	if model == "" {
		model = DefaultModel
	}
	resp, err := o.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: req.Prompt},
		},
		Temperature: req.Temperature,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	return resp.Choices[0].Message.Content, nil
}

// Lazy builds its Completer on first use and shares it afterwards. The build
// runs once even under concurrent first calls; a build error is kept and
// returned from every call.
type Lazy struct {
	build func() (Completer, error)

	once sync.Once
	c    Completer
	err  error
}

func NewLazy(build func() (Completer, error)) *Lazy {
	return &Lazy{build: build}
}

// NewLazyOpenAI defers NewOpenAI until the first completion.
func NewLazyOpenAI(cfg Config) *Lazy {
	return NewLazy(func() (Completer, error) {
		c, err := NewOpenAI(cfg)
		if err != nil {
			return nil, err
		}
		return c, nil
	})
}

func (l *Lazy) get() (Completer, error) {
	l.once.Do(func() {
		l.c, l.err = l.build()
	})
	return l.c, l.err
}

func (l *Lazy) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	c, err := l.get()
	if err != nil {
		return "", err
	}
	return c.Complete(ctx, req)
}
