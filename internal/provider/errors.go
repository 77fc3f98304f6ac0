package provider

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var (
	// ErrRateLimited means the provider throttled the call; waiting and
	// retrying the same request is expected to succeed.
	ErrRateLimited = errors.New("rate limited")

	// ErrContextLengthExceeded means the prompt did not fit the model's
	// context window even after local reduction.
	ErrContextLengthExceeded = errors.New("context length exceeded")
)

// Error is a provider failure that is neither a rate limit nor a context
// overflow. It is shown to the user and the turn is abandoned.
type Error struct {
	Provider   string
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %d %s: %s", e.Provider, e.StatusCode, http.StatusText(e.StatusCode), e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// contextOverflowHints are fragments providers put in their 400 responses
// when the prompt is too long.
var contextOverflowHints = []string{
	"context_length_exceeded",
	"maximum context length",
	"reduce the length of the messages",
	"prompt is too long",
	"context window",
}

// classifyStatus maps an HTTP status plus the provider's error code and
// message onto the error taxonomy.
func classifyStatus(providerName string, status int, code, message string, cause error) error {
	lowerCode := strings.ToLower(code)
	lowerMsg := strings.ToLower(message)

	// Quota exhaustion also comes back as 429 but waiting does not help.
	if status == http.StatusTooManyRequests && lowerCode != "insufficient_quota" {
		return fmt.Errorf("%s: %w: %s", providerName, ErrRateLimited, message)
	}
	// Anthropic reports overload as 529.
	if status == 529 {
		return fmt.Errorf("%s: %w: %s", providerName, ErrRateLimited, message)
	}
	for _, hint := range contextOverflowHints {
		if strings.Contains(lowerCode, hint) || strings.Contains(lowerMsg, hint) {
			return fmt.Errorf("%s: %w: %s", providerName, ErrContextLengthExceeded, message)
		}
	}
	return &Error{Provider: providerName, StatusCode: status, Message: message, Err: cause}
}

// IsRetryable reports whether the ChatSession should retry err as-is.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimited)
}
