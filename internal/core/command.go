package core

import (
	"context"

	"dmagent/pkg/schema"
)

// Command is what a handler hands back to the dispatcher: where to go next
// and what to merge into the session.
type Command struct {
	Destination schema.Target
	Patch       Patch
}

// Patch is a shallow update. Messages are appended, never replaced.
type Patch struct {
	Messages    []schema.Message
	DomainState map[string]any
}

// Handler consumes the session state and returns a Command.
// Handlers receive a private copy and must not retain it.
type Handler interface {
	Handle(ctx context.Context, state *SessionState) (Command, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, state *SessionState) (Command, error)

func (f HandlerFunc) Handle(ctx context.Context, state *SessionState) (Command, error) {
	return f(ctx, state)
}

// Reply is a convenience for the common single-message command.
func Reply(dest schema.Target, name, content string) Command {
	return Command{
		Destination: dest,
		Patch: Patch{
			Messages: []schema.Message{schema.AssistantMessage(name, content)},
		},
	}
}

// Generator is the text generation capability used for routing and content.
type Generator interface {
	Generate(ctx context.Context, messages []schema.Message) (string, error)
}

// GeneratorFunc adapts a function to the Generator interface.
type GeneratorFunc func(ctx context.Context, messages []schema.Message) (string, error)

func (f GeneratorFunc) Generate(ctx context.Context, messages []schema.Message) (string, error) {
	return f(ctx, messages)
}
