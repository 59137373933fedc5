// Package ai talks to hosted chat-completion models and classifies provider
// failures into retryable and non-retryable ones.
package ai

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/iago/resume-analyzer-back/internal/apperr"
)

var ErrUnavailable = apperr.New("model client unavailable")

type TokenUsage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

type GenerateRequest struct {
	Model           string
	Instructions    string
	Input           string
	Temperature     float64
	MaxOutputTokens int
	// JSONOnly asks the provider to constrain output to a JSON object.
	JSONOnly bool
}

type GenerateResult struct {
	Text    string
	ModelID string
	Usage   TokenUsage
}

type TextGenerator interface {
	Generate(ctx context.Context, request GenerateRequest) (GenerateResult, error)
	Available() bool
}

// ProviderHTTPError is a non-2xx answer from a model provider.
type ProviderHTTPError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *ProviderHTTPError) Error() string {
	return fmt.Sprintf("%s status %d: %s", e.Provider, e.StatusCode, e.Message)
}

// IsTransient reports whether a provider failure is worth another attempt:
// throttling, server errors, request timeouts and transport timeouts.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var httpErr *ProviderHTTPError
	if apperr.As(err, &httpErr) {
		return httpErr.StatusCode == http.StatusTooManyRequests ||
			httpErr.StatusCode == http.StatusRequestTimeout ||
			httpErr.StatusCode >= 500
	}
	if apperr.Is(err, context.DeadlineExceeded) {
		return true
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "timeout") ||
		strings.Contains(message, "tempor") ||
		strings.Contains(message, "connection reset") ||
		strings.Contains(message, "connection refused")
}
