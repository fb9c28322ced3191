package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorType is the category of a failed fetch.
type ErrorType string

const (
	// ErrorTypeNetwork is a connection level failure (refused, DNS, reset).
	ErrorTypeNetwork ErrorType = "network"
	// ErrorTypeRateLimit is an upstream quota rejection (HTTP 429 or an in-body notice).
	ErrorTypeRateLimit ErrorType = "rate_limit"
	// ErrorTypeServer is an HTTP 5xx.
	ErrorTypeServer ErrorType = "server"
	// ErrorTypeClient is an HTTP 4xx other than 429.
	ErrorTypeClient ErrorType = "client"
	// ErrorTypeValidation is a response that arrived but could not be used.
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeTimeout is a deadline hit while waiting on upstream.
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeUnsupported means the provider does not serve the data type.
	ErrorTypeUnsupported ErrorType = "unsupported"
	// ErrorTypeUnknown is anything else.
	ErrorTypeUnknown ErrorType = "unknown"
)

// FetchError is a structured provider failure.
type FetchError struct {
	Type       ErrorType
	Retryable  bool
	StatusCode int
	Message    string
	Cause      error
}

func (e *FetchError) Error() string {
	msg := e.Message
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s error (status %d): %s", e.Type, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s error: %s", e.Type, msg)
}

func (e *FetchError) Unwrap() error {
	return e.Cause
}

// NewNetworkError creates a network error.
func NewNetworkError(cause error) *FetchError {
	return &FetchError{
		Type:      ErrorTypeNetwork,
		Retryable: true,
		Message:   "network request failed",
		Cause:     cause,
	}
}

// NewRateLimitError creates a rate limit error.
func NewRateLimitError(statusCode int, message string) *FetchError {
	if message == "" {
		message = "rate limit exceeded"
	}
	return &FetchError{
		Type:       ErrorTypeRateLimit,
		Retryable:  true,
		StatusCode: statusCode,
		Message:    message,
	}
}

// NewServerError creates a server error.
func NewServerError(statusCode int) *FetchError {
	return &FetchError{
		Type:       ErrorTypeServer,
		Retryable:  true,
		StatusCode: statusCode,
		Message:    "server returned an error",
	}
}

// NewClientError creates a client error.
func NewClientError(statusCode int, message string) *FetchError {
	return &FetchError{
		Type:       ErrorTypeClient,
		StatusCode: statusCode,
		Message:    message,
	}
}

// NewValidationError creates a validation error.
func NewValidationError(message string) *FetchError {
	return &FetchError{
		Type:    ErrorTypeValidation,
		Message: message,
	}
}

// NewTimeoutError creates a timeout error.
func NewTimeoutError(cause error) *FetchError {
	return &FetchError{
		Type:      ErrorTypeTimeout,
		Retryable: true,
		Message:   "request timed out",
		Cause:     cause,
	}
}

// NewUnsupportedError reports a data type the provider cannot serve.
func NewUnsupportedError(provider string, dataType string) *FetchError {
	return &FetchError{
		Type:    ErrorTypeUnsupported,
		Message: fmt.Sprintf("%s does not serve %s", provider, dataType),
	}
}

// ClassifyHTTPError maps a non-2xx status code to a FetchError.
func ClassifyHTTPError(statusCode int) *FetchError {
	switch {
	case statusCode == 429:
		return NewRateLimitError(statusCode, "")
	case statusCode >= 500:
		return NewServerError(statusCode)
	case statusCode >= 400:
		return NewClientError(statusCode, fmt.Sprintf("client error: HTTP %d", statusCode))
	default:
		return &FetchError{
			Type:       ErrorTypeUnknown,
			StatusCode: statusCode,
			Message:    fmt.Sprintf("unexpected status code: %d", statusCode),
		}
	}
}

func classifyTransportError(err error) *FetchError {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewTimeoutError(err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return NewTimeoutError(err)
	}
	return NewNetworkError(err)
}

// TypeOf returns the FetchError category of err, or ErrorTypeUnknown.
func TypeOf(err error) ErrorType {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Type
	}
	return ErrorTypeUnknown
}
