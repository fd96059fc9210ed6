// Package session holds per-user API key sessions and the onboarding state
// machine of the bot.
package session

import (
	"context"
	"fmt"
	"time"

	"telegrative/internal/openaiutil"
	"telegrative/internal/rag"
)

// Assistant is the model client of one session.
type Assistant interface {
	Chat(ctx context.Context, prompt string) (string, error)
	Transcribe(ctx context.Context, path string) (string, error)
	GenerateImage(ctx context.Context, prompt, size string) (url, revised string, err error)
}

// Retriever answers questions about a single document.
type Retriever interface {
	AnswerFromFile(ctx context.Context, path, question string) (string, error)
	AnswerFromText(ctx context.Context, content, question string) (string, error)
}

// Session bundles the clients built for one validated API key.
type Session struct {
	APIKey    string
	Model     Assistant
	Docs      Retriever
	CreatedAt time.Time
}

// ClientFactory builds a go-openai client for an API key.
type ClientFactory func(apiKey string) openaiutil.AIClient

// Manager validates keys and creates sessions.
type Manager struct {
	newClient ClientFactory
	opts      openaiutil.Options
	topK      int
}

// NewManager creates a Manager. A nil factory uses openaiutil.NewClient
// against the public endpoint.
func NewManager(factory ClientFactory, opts openaiutil.Options, topK int) *Manager {
	if factory == nil {
		factory = func(apiKey string) openaiutil.AIClient {
			return openaiutil.NewClient(apiKey, "")
		}
	}
	return &Manager{newClient: factory, opts: opts, topK: topK}
}

// ValidateAndCreate builds a model client and a retrieval helper for apiKey
// and checks the key. On failure nothing is kept and the error wraps
// openaiutil.ErrInvalidKey.
func (m *Manager) ValidateAndCreate(ctx context.Context, apiKey string) (*Session, error) {
	client := openaiutil.New(m.newClient(apiKey), m.opts)
	if err := client.CheckKey(ctx); err != nil {
		return nil, fmt.Errorf("validate key: %w", err)
	}
	return &Session{
		APIKey:    apiKey,
		Model:     client,
		Docs:      rag.NewHelper(client, client, m.topK),
		CreatedAt: time.Now(),
	}, nil
}
