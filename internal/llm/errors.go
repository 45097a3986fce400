package llm

import (
	"errors"
	"fmt"
)

var (
	// ErrModerationRejected is returned when the moderation endpoint flags the latest user turn.
	ErrModerationRejected = errors.New("message did not pass moderation")
	// ErrModerationUnavailable is returned when the moderation check itself could not run.
	ErrModerationUnavailable = errors.New("moderation check unavailable")
)

// ProviderError reports a failed, malformed or empty provider response.
// Cause holds the raw payload for logging and is never part of Error().
type ProviderError struct {
	Provider string
	Message  string
	Cause    any
	Err      error
}

func (e *ProviderError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "request failed"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Provider, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Provider, msg)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// NewProviderError builds a ProviderError carrying the raw payload.
func NewProviderError(provider, message string, cause any, err error) *ProviderError {
	return &ProviderError{Provider: provider, Message: message, Cause: cause, Err: err}
}

// ToolExecutionError wraps a failure raised by a tool handler. It never
// escapes the orchestration loop; it is rendered into the tool turn instead.
type ToolExecutionError struct {
	Tool string
	Err  error
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %s: %v", e.Tool, e.Err)
}

func (e *ToolExecutionError) Unwrap() error {
	return e.Err
}
