package openaiutil

import (
	"errors"
	"fmt"

	openai "github.com/sashabaranov/go-openai"
)

var (
	// ErrInvalidKey is returned when the provider rejects the key check.
	ErrInvalidKey = errors.New("invalid api key")
	// ErrUpstream marks any failed call to the hosted models.
	ErrUpstream = errors.New("model provider error")
	// ErrEmptyResponse is returned when the provider answered without data.
	ErrEmptyResponse = errors.New("empty model response")
)

// parseAPIError turns a go-openai error into a readable one wrapped with ErrUpstream.
// The original error stays in the chain so callers can still match
// context.DeadlineExceeded.
func parseAPIError(op string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s: api error %d: %s: %w", op, apiErr.HTTPStatusCode, apiErr.Message, ErrUpstream)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return fmt.Errorf("%s: request error %d: %w: %w", op, reqErr.HTTPStatusCode, ErrUpstream, err)
	}

	return fmt.Errorf("%s: %w: %w", op, ErrUpstream, err)
}
