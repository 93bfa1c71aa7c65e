package llm

import (
	"context"
	"sync"

	"dmagent/pkg/schema"
)

// MockGenerator is a scripted generator for testing.
//
// Replies are taken from Responses in order, repeating the last one; when
// Responses is empty, Response is returned. Handler, if set, overrides both.
type MockGenerator struct {
	Response  string
	Responses []string
	Err       error
	Handler   func(ctx context.Context, messages []schema.Message) (string, error)

	mu       sync.Mutex
	calls    int
	requests [][]schema.Message
}

// NewMockGenerator returns a mock that replies with the given texts in order.
func NewMockGenerator(responses ...string) *MockGenerator {
	return &MockGenerator{Responses: responses}
}

// Generate records the request and returns the scripted reply.
func (m *MockGenerator) Generate(ctx context.Context, messages []schema.Message) (string, error) {
	m.mu.Lock()
	m.calls++
	call := m.calls
	m.requests = append(m.requests, append([]schema.Message(nil), messages...))
	m.mu.Unlock()

	if m.Handler != nil {
		return m.Handler(ctx, messages)
	}
	if m.Err != nil {
		return "", m.Err
	}
	if len(m.Responses) > 0 {
		idx := call - 1
		if idx >= len(m.Responses) {
			idx = len(m.Responses) - 1
		}
		return m.Responses[idx], nil
	}
	return m.Response, nil
}

// Calls returns how many times Generate was invoked.
func (m *MockGenerator) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Requests returns copies of every conversation passed to Generate.
func (m *MockGenerator) Requests() [][]schema.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]schema.Message(nil), m.requests...)
}

// LastRequest returns the most recent conversation, or nil.
func (m *MockGenerator) LastRequest() []schema.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.requests) == 0 {
		return nil
	}
	return m.requests[len(m.requests)-1]
}
