package llm

import (
	"fmt"
	"time"
)

// Config contains configuration for the LLM client.
type Config struct {
	// APIKey is the OpenRouter API key
	APIKey string

	// BaseURL is the OpenRouter API base URL
	// Default: https://openrouter.ai/api/v1
	BaseURL string

	// DefaultModel is the model to use when not specified
	// Example: anthropic/claude-3.5-sonnet
	DefaultModel string

	// Temperature is sent with every request. Routing wants 0.
	Temperature float64

	// Timeout is the HTTP request timeout
	// Default: 30 seconds
	Timeout time.Duration

	// MaxRetries is the maximum number of structured-output attempts
	// Default: 3
	MaxRetries int
}

// DefaultBaseURL is the public OpenRouter endpoint.
const DefaultBaseURL = "https://openrouter.ai/api/v1"

// Validate checks that required config fields are set.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("APIKey is required")
	}

	if c.BaseURL == "" {
		return fmt.Errorf("BaseURL is required")
	}

	if c.DefaultModel == "" {
		return fmt.Errorf("DefaultModel is required")
	}

	if c.Temperature < 0 || c.Temperature > 2 {
		return fmt.Errorf("Temperature must be between 0 and 2")
	}

	return nil
}

// SetDefaults fills in default values for optional fields.
func (c *Config) SetDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}

	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
}
