package service

import (
	"errors"
	"fmt"
	"time"

	"finpath-insight/internal/fallback"
)

// Kind classifies errors surfaced to callers.
type Kind string

const (
	KindRateLimitExceeded  Kind = "rate_limit_exceeded"
	KindAllProvidersFailed Kind = "all_providers_failed"
	KindInvalidRequest     Kind = "invalid_request"
)

var (
	// ErrRateLimited matches any rate limit rejection via errors.Is.
	ErrRateLimited = errors.New("rate limit exceeded")
	// ErrAllProvidersFailed matches a fetch failure with nothing cached.
	ErrAllProvidersFailed = errors.New("all providers failed")
	// ErrInvalidRequest matches a malformed request.
	ErrInvalidRequest = errors.New("invalid request")
)

// Error is what the orchestrator returns instead of a payload.
type Error struct {
	Kind    Kind
	Message string
	// RetryAfter and Limit are set for rate limit rejections. Remaining is
	// always zero in that case.
	RetryAfter time.Duration
	Limit      int
	Remaining  int
	// Attempts lists the providers tried for all_providers_failed.
	Attempts []fallback.Attempt
	Err      error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is lets callers match on the sentinel for each kind.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrRateLimited:
		return e.Kind == KindRateLimitExceeded
	case ErrAllProvidersFailed:
		return e.Kind == KindAllProvidersFailed
	case ErrInvalidRequest:
		return e.Kind == KindInvalidRequest
	}
	return false
}

func invalidRequest(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidRequest, Message: fmt.Sprintf(format, args...)}
}
