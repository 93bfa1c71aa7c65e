package llm

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType classifies generation failures.
type ErrorType string

const (
	ErrorTypeNetwork    ErrorType = "network"
	ErrorTypeAPI        ErrorType = "api"
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeTimeout    ErrorType = "timeout"
	ErrorTypeParse      ErrorType = "parse"
)

// LLMError is returned by generation backends and structured decoding.
type LLMError struct {
	Type    ErrorType
	Message string
	Code    int // HTTP status, zero when the failure was not an HTTP response
	Err     error
}

func (e *LLMError) Error() string {
	msg := fmt.Sprintf("llm %s error", e.Type)
	if e.Code > 0 {
		msg += fmt.Sprintf(" (status %d)", e.Code)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *LLMError) Unwrap() error {
	return e.Err
}

// Overloaded reports a rate limit or upstream outage.
func (e *LLMError) Overloaded() bool {
	return e.Type == ErrorTypeAPI &&
		(e.Code == http.StatusTooManyRequests || e.Code >= http.StatusInternalServerError)
}

func NewNetworkError(err error) *LLMError {
	return &LLMError{Type: ErrorTypeNetwork, Message: "generation endpoint unreachable", Err: err}
}

func NewTimeoutError(err error) *LLMError {
	return &LLMError{Type: ErrorTypeTimeout, Message: "generation timed out", Err: err}
}

// NewAPIError wraps a non-success response. Code may be zero when the
// provider reported the failure inside a 200 body.
func NewAPIError(code int, message string) *LLMError {
	return &LLMError{Type: ErrorTypeAPI, Code: code, Message: message}
}

func NewValidationError(message string, err error) *LLMError {
	return &LLMError{Type: ErrorTypeValidation, Message: message, Err: err}
}

// NewParseError keeps the offending content so retries can quote it back.
func NewParseError(content string, err error) *LLMError {
	return &LLMError{Type: ErrorTypeParse, Message: fmt.Sprintf("could not decode %q", content), Err: err}
}

// IsRetryable reports whether asking the model again, with feedback, could
// fix err. Transport, timeout and API failures go straight back to the caller.
func IsRetryable(err error) bool {
	var llmErr *LLMError
	if !errors.As(err, &llmErr) {
		return true
	}
	switch llmErr.Type {
	case ErrorTypeNetwork, ErrorTypeAPI, ErrorTypeTimeout:
		return false
	}
	return true
}
