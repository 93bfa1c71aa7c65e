package core

import (
	"errors"
	"testing"

	"dmagent/pkg/schema"
)

func TestValidationError(t *testing.T) {
	baseErr := errors.New("base error")

	tests := []struct {
		name     string
		err      *ValidationError
		expected string
	}{
		{
			name: "with field",
			err: &ValidationError{
				Field:   "dispatcher.max_hops",
				Message: "must be at least 1",
				Err:     baseErr,
			},
			expected: "dispatcher.max_hops: must be at least 1",
		},
		{
			name: "without field",
			err: &ValidationError{
				Message: "invalid input",
				Err:     baseErr,
			},
			expected: "invalid input",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("ValidationError.Error() = %v, want %v", got, tt.expected)
			}
			if !errors.Is(tt.err, baseErr) {
				t.Error("ValidationError should unwrap to its cause")
			}
		})
	}
}

func TestHandlerError(t *testing.T) {
	cause := &MissingStateKeyError{Key: "current_task"}
	err := &HandlerError{Target: schema.TargetNarrative, Message: cause.Error(), Err: cause}

	if got := err.Error(); got != "handler narrative: missing state key current_task" {
		t.Errorf("HandlerError.Error() = %q", got)
	}

	var missing *MissingStateKeyError
	if !errors.As(err, &missing) || missing.Key != "current_task" {
		t.Error("HandlerError should expose the missing key through errors.As")
	}
}

func TestClassificationError(t *testing.T) {
	withCause := &ClassificationError{Reason: FallbackGenerationFailed, Err: errors.New("timeout")}
	if got := withCause.Error(); got != "classification generation_failed: timeout" {
		t.Errorf("ClassificationError.Error() = %q", got)
	}

	withReply := &ClassificationError{Reason: FallbackAmbiguous, Reply: "researcher or dice_roller"}
	if got := withReply.Error(); got != `classification ambiguous: "researcher or dice_roller"` {
		t.Errorf("ClassificationError.Error() = %q", got)
	}
}

func TestMissingStateKeyError(t *testing.T) {
	if got := (&MissingStateKeyError{Key: "routing_target"}).Error(); got != "missing state key routing_target" {
		t.Errorf("unexpected message %q", got)
	}
	if got := (&MissingStateKeyError{Key: "routing_target", Detail: "unknown value x"}).Error(); got != "missing state key routing_target: unknown value x" {
		t.Errorf("unexpected message %q", got)
	}
}
