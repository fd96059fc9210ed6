// Package rag answers questions about a single document by retrieval
// augmented generation: split, embed, index, retrieve, prompt.
package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/documentloaders"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/textsplitter"
	"go.uber.org/zap"

	"telegrative/internal/logger"
	"telegrative/internal/metrics"
)

const (
	// ChunkSize is the maximum chunk length in characters.
	ChunkSize = 1000
	// ChunkOverlap is the number of characters shared by neighbouring chunks.
	ChunkOverlap = 0
	// DefaultTopK is the number of chunks stuffed into the prompt.
	DefaultTopK = 4

	promptTemplate = "Here is your question: %s\nWe have the following information to answer it: %s.\nUse only the information provided here to answer the question. Do not go beyond this."
)

var (
	// ErrDocumentLoad is returned when a document cannot be opened or parsed.
	ErrDocumentLoad = errors.New("document load failed")
	// ErrEmptyDocument is returned when a document yields no text.
	ErrEmptyDocument = fmt.Errorf("%w: no text in document", ErrDocumentLoad)
	// ErrEmptyQuestion is returned for a blank question.
	ErrEmptyQuestion = errors.New("question is empty")
)

// Embedder turns texts into vectors. Both methods must use the same model.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Chatter answers a single prompt.
type Chatter interface {
	Chat(ctx context.Context, prompt string) (string, error)
}

// Helper answers questions about one document at a time. Nothing is cached
// between calls: every call re-embeds the whole document.
type Helper struct {
	chat     Chatter
	embedder Embedder
	splitter textsplitter.TextSplitter
	topK     int
}

// NewHelper creates a Helper. topK <= 0 falls back to DefaultTopK.
func NewHelper(chat Chatter, embedder Embedder, topK int) *Helper {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Helper{chat: chat, embedder: embedder, splitter: NewSplitter(), topK: topK}
}

// NewSplitter returns the recursive character splitter used for every
// document: paragraph, then line, then word boundaries, then a hard cut.
func NewSplitter() textsplitter.RecursiveCharacter {
	return textsplitter.NewRecursiveCharacter(
		textsplitter.WithChunkSize(ChunkSize),
		textsplitter.WithChunkOverlap(ChunkOverlap),
		textsplitter.WithSeparators([]string{"\n\n", "\n", " ", ""}),
	)
}

// BuildPrompt renders the question and the retrieved context into the final prompt.
func BuildPrompt(question, retrieved string) string {
	return fmt.Sprintf(promptTemplate, question, retrieved)
}

// AnswerFromFile answers question using the PDF at path.
func (h *Helper) AnswerFromFile(ctx context.Context, path, question string) (string, error) {
	if strings.TrimSpace(question) == "" {
		return "", ErrEmptyQuestion
	}
	chunks, err := LoadPDF(ctx, path, h.splitter)
	if err != nil {
		return "", err
	}
	return h.answer(ctx, chunks, question)
}

// AnswerFromText answers question using raw text content.
func (h *Helper) AnswerFromText(ctx context.Context, content, question string) (string, error) {
	if strings.TrimSpace(question) == "" {
		return "", ErrEmptyQuestion
	}
	chunks, err := documentloaders.NewText(strings.NewReader(content)).LoadAndSplit(ctx, h.splitter)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrDocumentLoad, err)
	}
	return h.answer(ctx, chunks, question)
}

func (h *Helper) answer(ctx context.Context, chunks []schema.Document, question string) (string, error) {
	matches, err := h.retrieve(ctx, chunks, question)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, m := range matches {
		sb.WriteString(m.Content)
	}

	answer, err := h.chat.Chat(ctx, BuildPrompt(question, sb.String()))
	if err != nil {
		return "", fmt.Errorf("answer: %w", err)
	}
	return answer, nil
}

// retrieve embeds every chunk, indexes them and returns the topK closest to
// the question, most similar first.
func (h *Helper) retrieve(ctx context.Context, chunks []schema.Document, question string) ([]Match, error) {
	if len(chunks) == 0 {
		return nil, ErrEmptyDocument
	}
	log := logger.FromContext(ctx)

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.PageContent
	}
	vectors, err := h.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed chunks: %w", err)
	}

	idx, err := buildIndex(ctx, chunks, vectors, h.embedder.EmbedQuery)
	if err != nil {
		return nil, err
	}
	metrics.RetrievedChunks.Observe(float64(len(chunks)))

	matches, err := idx.search(ctx, question, h.topK)
	if err != nil {
		return nil, err
	}
	log.Debug("retrieved chunks",
		zap.Int("chunks", len(chunks)),
		zap.Int("matches", len(matches)),
	)
	return matches, nil
}
