package llm

import (
	"context"
	"os"
	"testing"

	"dmagent/pkg/schema"
)

// TestE2E_OpenRouter performs an end-to-end call against the real OpenRouter API.
// Skipped unless RUN_E2E_TESTS=true.
func TestE2E_OpenRouter(t *testing.T) {
	if os.Getenv("RUN_E2E_TESTS") != "true" {
		t.Skip("E2E test skipped - set RUN_E2E_TESTS=true to run")
	}

	apiKey := os.Getenv("OPENROUTER_API_KEY")
	if apiKey == "" {
		t.Fatal("OPENROUTER_API_KEY not set")
	}

	client, err := NewClient(&Config{
		APIKey:       apiKey,
		BaseURL:      DefaultBaseURL,
		DefaultModel: "anthropic/claude-3.5-sonnet",
	})
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	t.Run("routes a dice request", func(t *testing.T) {
		reply, err := client.Generate(context.Background(), []schema.Message{
			schema.SystemMessage(SupervisorPrompt),
			schema.UserMessage("Roll 2d6 plus 3 for damage"),
		})
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		t.Logf("supervisor replied %q", reply)
	})

	t.Run("structured dice parse", func(t *testing.T) {
		type parsed struct {
			Notation string `json:"dice_notation"`
			Modifier int    `json:"modifier"`
		}

		result, err := GenerateStructured[parsed](context.Background(), client, []schema.Message{
			schema.SystemMessage(DiceParseSystemPrompt),
			schema.UserMessage(BuildDiceParsePrompt("Roll 2d6 plus 3 for damage")),
		}, client.MaxRetries(), nil)
		if err != nil {
			t.Fatalf("structured: %v", err)
		}
		if result.Notation != "2d6" || result.Modifier != 3 {
			t.Errorf("unexpected parse %+v", result)
		}
	})
}
