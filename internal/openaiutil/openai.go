package openaiutil

import (
	"context"
	"errors"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"telegrative/internal/metrics"
)

const (
	systemPrompt   = "You are a helpful assistant. You know every language, but your primary preference is to respond in English."
	transcribeLang = "en"
	embedBatchSize = 256
)

// AIClient is the part of the go-openai client used by the bot. It is
// satisfied by *openai.Client and by test doubles.
type AIClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
	CreateTranscription(ctx context.Context, req openai.AudioRequest) (openai.AudioResponse, error)
	CreateImage(ctx context.Context, req openai.ImageRequest) (openai.ImageResponse, error)
	CreateEmbeddings(ctx context.Context, conv openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error)
	ListModels(ctx context.Context) (openai.ModelsList, error)
}

// Options configures model names and sampling for one Client.
type Options struct {
	TextModel       string
	TranscribeModel string
	ImageModel      string
	EmbeddingModel  openai.EmbeddingModel
	ImageSize       string
	Temperature     float32
	MaxTokens       int
	Timeout         time.Duration
}

// DefaultOptions returns the models the bot was built around.
func DefaultOptions() Options {
	return Options{
		TextModel:       openai.GPT3Dot5Turbo0125,
		TranscribeModel: openai.Whisper1,
		ImageModel:      openai.CreateImageModelDallE3,
		EmbeddingModel:  openai.AdaEmbeddingV2,
		ImageSize:       openai.CreateImageSize1024x1024,
	}
}

// Client wraps the hosted chat, transcription, image and embedding models
// for a single API key. It holds no state besides its configuration.
type Client struct {
	ai   AIClient
	opts Options
}

// New creates a Client on top of an existing AIClient.
func New(ai AIClient, opts Options) *Client {
	return &Client{ai: ai, opts: opts}
}

// NewClient builds a go-openai client for apiKey. An empty baseURL keeps the
// public OpenAI endpoint.
func NewClient(apiKey, baseURL string) AIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return openai.NewClientWithConfig(cfg)
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.opts.Timeout > 0 {
		return context.WithTimeout(ctx, c.opts.Timeout)
	}
	return context.WithCancel(ctx)
}

func observe(op string, start time.Time, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	metrics.ModelRequestsTotal.WithLabelValues(op, status).Inc()
	metrics.ModelRequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// Chat sends prompt as a single-turn exchange and returns the first choice.
func (c *Client) Chat(ctx context.Context, prompt string) (text string, err error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	defer func(start time.Time) { observe("chat", start, err) }(time.Now())

	req := openai.ChatCompletionRequest{
		Model: c.opts.TextModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		Temperature: c.opts.Temperature,
		MaxTokens:   c.opts.MaxTokens,
	}

	resp, err := c.ai.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", parseAPIError("chat", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat: %w", ErrEmptyResponse)
	}
	return resp.Choices[0].Message.Content, nil
}

// Transcribe converts the audio file at path to English text.
func (c *Client) Transcribe(ctx context.Context, path string) (text string, err error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	defer func(start time.Time) { observe("transcribe", start, err) }(time.Now())

	resp, err := c.ai.CreateTranscription(ctx, openai.AudioRequest{
		Model:    c.opts.TranscribeModel,
		FilePath: path,
		Language: transcribeLang,
	})
	if err != nil {
		return "", parseAPIError("transcribe", err)
	}
	return resp.Text, nil
}

// GenerateImage requests one standard quality image and returns its URL and
// the prompt the model actually used. An empty size uses the configured one.
func (c *Client) GenerateImage(ctx context.Context, prompt, size string) (url, revised string, err error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	defer func(start time.Time) { observe("image", start, err) }(time.Now())

	if size == "" {
		size = c.opts.ImageSize
	}
	resp, err := c.ai.CreateImage(ctx, openai.ImageRequest{
		Prompt:         prompt,
		Model:          c.opts.ImageModel,
		N:              1,
		Quality:        openai.CreateImageQualityStandard,
		Size:           size,
		ResponseFormat: openai.CreateImageResponseFormatURL,
	})
	if err != nil {
		return "", "", parseAPIError("image", err)
	}
	if len(resp.Data) == 0 {
		return "", "", fmt.Errorf("image: %w", ErrEmptyResponse)
	}
	return resp.Data[0].URL, resp.Data[0].RevisedPrompt, nil
}

// CheckKey lists the available models. Any failure means the key is unusable.
func (c *Client) CheckKey(ctx context.Context) (err error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	defer func(start time.Time) { observe("check_key", start, err) }(time.Now())

	if _, err := c.ai.ListModels(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidKey, parseAPIError("list models", err))
	}
	return nil
}

// EmbedDocuments returns one vector per text, in input order.
func (c *Client) EmbedDocuments(ctx context.Context, texts []string) (vectors [][]float32, err error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()
	defer func(start time.Time) { observe("embed", start, err) }(time.Now())

	vectors = make([][]float32, len(texts))
	for off := 0; off < len(texts); off += embedBatchSize {
		end := min(off+embedBatchSize, len(texts))
		resp, err := c.ai.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: texts[off:end],
			Model: c.opts.EmbeddingModel,
		})
		if err != nil {
			return nil, parseAPIError("embed", err)
		}
		if len(resp.Data) != end-off {
			return nil, fmt.Errorf("embed: got %d vectors for %d texts: %w", len(resp.Data), end-off, ErrEmptyResponse)
		}
		for _, d := range resp.Data {
			if d.Index < 0 || d.Index >= end-off {
				return nil, fmt.Errorf("embed: vector index %d out of range: %w", d.Index, ErrUpstream)
			}
			vectors[off+d.Index] = d.Embedding
		}
	}
	for i, v := range vectors {
		if len(v) == 0 {
			return nil, fmt.Errorf("embed: no vector for text %d: %w", i, ErrEmptyResponse)
		}
	}
	return vectors, nil
}

// EmbedQuery returns the vector of a single text.
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// IsTimeout reports whether err came from an expired request deadline.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
