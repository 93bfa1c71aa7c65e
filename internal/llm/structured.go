package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"dmagent/pkg/schema"
)

// TextGenerator is anything that turns a conversation into reply text.
type TextGenerator interface {
	Generate(ctx context.Context, messages []schema.Message) (string, error)
}

// GenerateStructured asks gen for JSON matching T, feeding parse and
// validation errors back for up to attempts tries. Transport, API and
// timeout errors are returned immediately.
func GenerateStructured[T any](
	ctx context.Context,
	gen TextGenerator,
	messages []schema.Message,
	attempts int,
	validate func(*T) error,
) (*T, error) {
	if attempts < 1 {
		attempts = 1
	}

	conversation := append([]schema.Message(nil), messages...)
	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		slog.Debug("structured generation attempt", "attempt", attempt, "messages", len(conversation))

		reply, err := gen.Generate(ctx, conversation)
		if err != nil {
			if !IsRetryable(err) {
				return nil, err
			}
			lastErr = err
			continue
		}

		content := extractJSONObject(cleanMarkdownCodeBlocks(reply))
		var result T
		if err := json.Unmarshal([]byte(content), &result); err != nil {
			lastErr = NewParseError(content, err)
			conversation = withFeedback(messages, reply, fmt.Sprintf(
				"PREVIOUS ATTEMPT FAILED:\nError: %v\n\nPlease return valid JSON matching the exact structure requested.", err))
			continue
		}

		if validate != nil {
			if err := validate(&result); err != nil {
				lastErr = NewValidationError(err.Error(), err)
				slog.Warn("structured output validation failed",
					"attempt", attempt,
					"error", err.Error(),
				)
				conversation = withFeedback(messages, reply, fmt.Sprintf(
					"PREVIOUS VALIDATION ERROR:\n%v\n\nPlease fix the output to pass validation.", err))
				continue
			}
		}

		return &result, nil
	}

	return nil, fmt.Errorf("validation failed after %d attempts: %w", attempts, lastErr)
}

func withFeedback(messages []schema.Message, reply, feedback string) []schema.Message {
	out := append([]schema.Message(nil), messages...)
	return append(out,
		schema.Message{Role: schema.RoleAssistant, Content: reply},
		schema.UserMessage(feedback),
	)
}

// cleanMarkdownCodeBlocks removes markdown code block wrappers from JSON
// Some models (especially Gemini) wrap JSON in ```json...```.
func cleanMarkdownCodeBlocks(content string) string {
	content = strings.TrimSpace(content)

	if strings.HasPrefix(content, "```json") {
		content = strings.TrimPrefix(content, "```json")
		content = strings.TrimSpace(content)
	} else if strings.HasPrefix(content, "```") {
		content = strings.TrimPrefix(content, "```")
		content = strings.TrimSpace(content)
	}

	if strings.HasSuffix(content, "```") {
		content = strings.TrimSuffix(content, "```")
		content = strings.TrimSpace(content)
	}

	return content
}

// extractJSONObject trims chatter around the outermost {...} span.
func extractJSONObject(content string) string {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return content
	}
	return content[start : end+1]
}
