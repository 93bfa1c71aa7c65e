package core

import (
	"fmt"
	"strconv"

	"dmagent/pkg/schema"
)

// ValidationError represents a validation failure.
type ValidationError struct {
	Field   string
	Message string
	Err     error
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// ClassificationError records why routing fell back to the default handler.
type ClassificationError struct {
	Reason FallbackReason
	Reply  string
	Err    error
}

func (e *ClassificationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("classification %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("classification %s: %q", e.Reason, e.Reply)
}

func (e *ClassificationError) Unwrap() error {
	return e.Err
}

// HandlerError wraps a failure raised inside a handler.
type HandlerError struct {
	Target  schema.Target
	Message string
	Err     error
}

func (e *HandlerError) Error() string {
	return fmt.Sprintf("handler %s: %s", e.Target, e.Message)
}

func (e *HandlerError) Unwrap() error {
	return e.Err
}

// MissingStateKeyError reports a session field that a component needed but
// could not find.
type MissingStateKeyError struct {
	Key    string
	Detail string
}

func (e *MissingStateKeyError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("missing state key %s: %s", e.Key, e.Detail)
	}
	return fmt.Sprintf("missing state key %s", e.Key)
}

func itoa(i int) string {
	return strconv.Itoa(i)
}
