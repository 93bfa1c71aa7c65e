package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/firebase/genkit/go/ai"
	"github.com/firebase/genkit/go/genkit"

	"dmagent/pkg/schema"
)

// GenkitGenerator routes generation through a Genkit model registry.
// The registered model delegates to a backend TextGenerator, normally the
// OpenRouter Client, so Genkit middleware and tracing see every call.
type GenkitGenerator struct {
	g     *genkit.Genkit
	model string
}

// NewGenkitGenerator initializes Genkit and registers backend under name,
// e.g. "openrouter/anthropic/claude-3.5-sonnet".
func NewGenkitGenerator(ctx context.Context, name string, backend TextGenerator) *GenkitGenerator {
	g := genkit.Init(ctx)

	genkit.DefineModel(
		g,
		name,
		&ai.ModelOptions{
			Label: name + " (via OpenRouter)",
			Supports: &ai.ModelSupports{
				Multiturn:  true,
				SystemRole: true,
			},
		},
		func(ctx context.Context, req *ai.ModelRequest, cb ai.ModelStreamCallback) (*ai.ModelResponse, error) {
			text, err := backend.Generate(ctx, fromGenkit(req.Messages))
			if err != nil {
				return nil, err
			}
			return &ai.ModelResponse{
				Request: req,
				Message: ai.NewModelTextMessage(text),
			}, nil
		},
	)

	return &GenkitGenerator{g: g, model: name}
}

// Model returns the registered model name.
func (gg *GenkitGenerator) Model() string {
	return gg.model
}

// Generate implements TextGenerator.
func (gg *GenkitGenerator) Generate(ctx context.Context, messages []schema.Message) (string, error) {
	resp, err := genkit.Generate(ctx, gg.g,
		ai.WithModelName(gg.model),
		ai.WithMessages(toGenkit(messages)...),
	)
	if err != nil {
		return "", fmt.Errorf("genkit generate: %w", err)
	}
	return resp.Text(), nil
}

func toGenkit(messages []schema.Message) []*ai.Message {
	out := make([]*ai.Message, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case schema.RoleSystem:
			out = append(out, ai.NewSystemTextMessage(m.Content))
		case schema.RoleAssistant:
			out = append(out, ai.NewModelTextMessage(m.Content))
		default:
			out = append(out, ai.NewUserTextMessage(m.Content))
		}
	}
	return out
}

func fromGenkit(messages []*ai.Message) []schema.Message {
	out := make([]schema.Message, 0, len(messages))
	for _, m := range messages {
		var sb strings.Builder
		for _, p := range m.Content {
			if p.IsText() {
				sb.WriteString(p.Text)
			}
		}

		role := schema.RoleUser
		switch m.Role {
		case ai.RoleSystem:
			role = schema.RoleSystem
		case ai.RoleModel:
			role = schema.RoleAssistant
		}
		out = append(out, schema.Message{Role: role, Content: sb.String()})
	}
	return out
}
