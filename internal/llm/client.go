package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"dmagent/pkg/schema"
)

// Client is a chat-completion client for OpenRouter.
type Client struct {
	config *Config
	http   *http.Client
}

// NewClient creates a new LLM client.
func NewClient(config *Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	config.SetDefaults()

	return &Client{
		config: config,
		http: &http.Client{
			Timeout: config.Timeout,
		},
	}, nil
}

// Model returns the model used for requests.
func (c *Client) Model() string {
	return c.config.DefaultModel
}

// MaxRetries returns the structured-output attempt budget.
func (c *Client) MaxRetries() int {
	return c.config.MaxRetries
}

// OpenRouterRequest represents a request to OpenRouter (OpenAI-compatible).
type OpenRouterRequest struct {
	Model       string          `json:"model"`
	Messages    []OpenRouterMsg `json:"messages"`
	Temperature float64         `json:"temperature"`
}

// OpenRouterMsg represents a message in the conversation.
type OpenRouterMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	Name    string `json:"name,omitempty"`
}

// OpenRouterResponse represents a response from OpenRouter.
type OpenRouterResponse struct {
	Choices []OpenRouterChoice `json:"choices"`
	Error   *struct {
		Message string `json:"message"`
		Code    any    `json:"code"`
	} `json:"error,omitempty"`
}

// OpenRouterChoice is one completion alternative.
type OpenRouterChoice struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
}

// Generate sends the conversation and returns the assistant's reply text.
func (c *Client) Generate(ctx context.Context, messages []schema.Message) (string, error) {
	return c.complete(ctx, c.config.DefaultModel, messages)
}

// complete makes a single HTTP call to the chat completions endpoint.
func (c *Client) complete(ctx context.Context, model string, messages []schema.Message) (string, error) {
	if len(messages) == 0 {
		return "", NewValidationError("no messages to send", nil)
	}

	reqBody := OpenRouterRequest{
		Model:       model,
		Messages:    toOpenRouter(messages),
		Temperature: c.config.Temperature,
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	url := strings.TrimRight(c.config.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	duration := time.Since(start)

	if err != nil {
		slog.Error("OpenRouter HTTP request failed",
			"error", err.Error(),
			"duration", duration,
		)
		if isTimeout(ctx, err) {
			return "", NewTimeoutError(err)
		}
		return "", NewNetworkError(err)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("Failed to close response body", "error", err)
		}
	}()

	slog.Debug("OpenRouter HTTP request completed",
		"status_code", resp.StatusCode,
		"duration", duration,
		"model", model,
	)

	if resp.StatusCode != http.StatusOK {
		var errBody bytes.Buffer
		if _, err := errBody.ReadFrom(resp.Body); err != nil {
			slog.Warn("Failed to read error response body", "error", err)
			return "", NewAPIError(resp.StatusCode, fmt.Sprintf("status %d (failed to read error body)", resp.StatusCode))
		}
		return "", NewAPIError(resp.StatusCode, errBody.String())
	}

	var out OpenRouterResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", NewParseError("response body", err)
	}

	if out.Error != nil {
		return "", NewAPIError(0, out.Error.Message)
	}

	if len(out.Choices) == 0 {
		return "", NewAPIError(0, "no choices in response")
	}

	return out.Choices[0].Message.Content, nil
}

func toOpenRouter(messages []schema.Message) []OpenRouterMsg {
	out := make([]OpenRouterMsg, len(messages))
	for i, m := range messages {
		out[i] = OpenRouterMsg{Role: string(m.Role), Content: m.Content, Name: m.Name}
	}
	return out
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
