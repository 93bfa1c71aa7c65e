package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/firebase/genkit/go/genkit"

	"dmagent/pkg/schema"
)

func TestGenkitGenerator_DelegatesToBackend(t *testing.T) {
	ctx := context.Background()
	backend := NewMockGenerator("researcher")

	gen := NewGenkitGenerator(ctx, "dmagent/test-model", backend)

	if genkit.LookupModel(gen.g, "dmagent/test-model") == nil {
		t.Fatal("model not registered")
	}

	reply, err := gen.Generate(ctx, []schema.Message{
		schema.SystemMessage("route the request"),
		schema.UserMessage("what does prone do?"),
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if reply != "researcher" {
		t.Errorf("expected researcher, got %q", reply)
	}

	req := backend.LastRequest()
	if len(req) != 2 {
		t.Fatalf("expected 2 messages at the backend, got %d", len(req))
	}
	if req[0].Role != schema.RoleSystem || req[0].Content != "route the request" {
		t.Errorf("unexpected system message %+v", req[0])
	}
	if req[1].Role != schema.RoleUser || req[1].Content != "what does prone do?" {
		t.Errorf("unexpected user message %+v", req[1])
	}
}

func TestGenkitGenerator_PropagatesFailure(t *testing.T) {
	ctx := context.Background()
	backend := &MockGenerator{Err: errors.New("backend down")}

	gen := NewGenkitGenerator(ctx, "dmagent/failing-model", backend)

	if _, err := gen.Generate(ctx, []schema.Message{schema.UserMessage("hi")}); err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestGenkitRoleMapping(t *testing.T) {
	in := []schema.Message{
		schema.SystemMessage("s"),
		schema.UserMessage("u"),
		schema.AssistantMessage("researcher", "a"),
	}

	out := fromGenkit(toGenkit(in))
	if len(out) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(out))
	}
	for i, want := range []schema.Role{schema.RoleSystem, schema.RoleUser, schema.RoleAssistant} {
		if out[i].Role != want {
			t.Errorf("message %d: expected role %s, got %s", i, want, out[i].Role)
		}
		if out[i].Content != in[i].Content {
			t.Errorf("message %d: expected content %q, got %q", i, in[i].Content, out[i].Content)
		}
	}
}
