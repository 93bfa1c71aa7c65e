package core

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration.
//
// Values are resolved in three layers: built-in defaults, an optional YAML
// file, then environment variables.
type Config struct {
	LogLevel string `yaml:"log_level" env:"LOG_LEVEL"` // debug, info, warn, error
	Debug    bool   `yaml:"debug" env:"DEBUG"`         // forces debug logging

	LLM        LLMConfig        `yaml:"llm"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	Session    SessionConfig    `yaml:"session"`
	Dice       DiceConfig       `yaml:"dice"`
	Knowledge  KnowledgeConfig  `yaml:"knowledge"`
	Storage    StorageConfig    `yaml:"storage"`
	Server     ServerConfig     `yaml:"server"`
	Narrative  NarrativeConfig  `yaml:"narrative"`
}

// LLMConfig configures the generation backend.
type LLMConfig struct {
	APIKey      string        `yaml:"api_key" env:"OPENROUTER_API_KEY"`
	BaseURL     string        `yaml:"base_url" env:"OPENROUTER_BASE_URL"`
	Model       string        `yaml:"model" env:"DEFAULT_MODEL"`
	Temperature float64       `yaml:"temperature" env:"LLM_TEMPERATURE"`
	Timeout     time.Duration `yaml:"timeout" env:"LLM_TIMEOUT"`
	MaxRetries  int           `yaml:"max_retries" env:"LLM_MAX_RETRIES"`
	UseGenkit   bool          `yaml:"use_genkit" env:"LLM_USE_GENKIT"`
}

// DispatcherConfig bounds the routing loop.
type DispatcherConfig struct {
	MaxHops         int           `yaml:"max_hops" env:"DM_MAX_HOPS"`
	ClassifyTimeout time.Duration `yaml:"classify_timeout" env:"DM_CLASSIFY_TIMEOUT"`
}

// SessionConfig controls the conversation loop and where sessions live.
type SessionConfig struct {
	EndOnTerminal bool   `yaml:"end_on_terminal" env:"DM_END_ON_TERMINAL"`
	Backend       string `yaml:"backend" env:"DM_SESSION_BACKEND"` // memory, file, redis
	Dir           string `yaml:"dir" env:"DM_SESSION_DIR"`
}

// DiceConfig controls dice parsing and the random source.
type DiceConfig struct {
	AssistedParsing bool  `yaml:"assisted_parsing" env:"DM_ASSISTED_DICE"`
	Seed            int64 `yaml:"seed" env:"DM_DICE_SEED"` // 0 means seed from crypto/rand
}

// KnowledgeConfig configures retrieval for rules questions.
type KnowledgeConfig struct {
	DBPath           string `yaml:"db_path" env:"DM_KNOWLEDGE_DB"`
	ChunkSize        int    `yaml:"chunk_size"`
	ChunkOverlap     int    `yaml:"chunk_overlap"`
	TopK             int    `yaml:"top_k"`
	RewriteQuestions bool   `yaml:"rewrite_questions" env:"DM_REWRITE_QUESTIONS"`
	GradeDocuments   bool   `yaml:"grade_documents" env:"DM_GRADE_DOCUMENTS"`
}

// StorageConfig selects the interaction log sink.
type StorageConfig struct {
	InteractionBackend string        `yaml:"interaction_backend" env:"DM_INTERACTION_BACKEND"` // jsonl, redis, none
	LogDir             string        `yaml:"log_dir" env:"DM_LOG_DIR"`
	RedisAddr          string        `yaml:"redis_addr" env:"DM_REDIS_ADDR"`
	RedisPrefix        string        `yaml:"redis_prefix"`
	SessionTTL         time.Duration `yaml:"session_ttl"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr string `yaml:"addr" env:"DM_HTTP_ADDR"`
}

// NarrativeConfig seeds the party the narrator tracks.
type NarrativeConfig struct {
	HistoryWindow int           `yaml:"history_window"`
	Players       []ActorConfig `yaml:"players"`
	NPCs          []ActorConfig `yaml:"npcs"`
}

// ActorConfig describes a player character or NPC.
type ActorConfig struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Personality string `yaml:"personality,omitempty"`
	Health      int    `yaml:"health,omitempty"`
	Strength    int    `yaml:"strength,omitempty"`
	Dexterity   int    `yaml:"dexterity,omitempty"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		LLM: LLMConfig{
			BaseURL:    "https://openrouter.ai/api/v1",
			Model:      "anthropic/claude-3.5-sonnet",
			Timeout:    30 * time.Second,
			MaxRetries: 3,
		},
		Dispatcher: DispatcherConfig{
			MaxHops:         10,
			ClassifyTimeout: 30 * time.Second,
		},
		Session: SessionConfig{
			EndOnTerminal: true,
			Backend:       "memory",
			Dir:           ".dmagent/sessions",
		},
		Knowledge: KnowledgeConfig{
			DBPath:       ".dmagent/knowledge.db",
			ChunkSize:    1000,
			ChunkOverlap: 200,
			TopK:         4,
		},
		Storage: StorageConfig{
			InteractionBackend: "jsonl",
			LogDir:             "logs/llm_interactions",
			RedisAddr:          "localhost:6379",
			RedisPrefix:        "dmagent",
			SessionTTL:         24 * time.Hour,
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
		Narrative: NarrativeConfig{
			HistoryWindow: 20,
		},
	}
}

// LoadConfig loads configuration from an optional YAML file and the environment.
// An empty path skips the file layer.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	// DEBUG flag overrides log level
	if cfg.Debug {
		cfg.LogLevel = "debug"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks ranges and enumerations.
// The API key is not required here; it is checked when a client is built.
func (c *Config) Validate() error {
	var errs []error

	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errs = append(errs, &ValidationError{Field: "llm.temperature", Message: "must be between 0 and 2"})
	}
	if c.Dispatcher.MaxHops < 1 {
		errs = append(errs, &ValidationError{Field: "dispatcher.max_hops", Message: "must be at least 1"})
	}
	if c.Dispatcher.ClassifyTimeout <= 0 {
		errs = append(errs, &ValidationError{Field: "dispatcher.classify_timeout", Message: "must be positive"})
	}
	switch c.Session.Backend {
	case "memory", "file", "redis":
	default:
		errs = append(errs, &ValidationError{Field: "session.backend", Message: "must be memory, file or redis"})
	}
	switch c.Storage.InteractionBackend {
	case "jsonl", "redis", "none":
	default:
		errs = append(errs, &ValidationError{Field: "storage.interaction_backend", Message: "must be jsonl, redis or none"})
	}
	if c.Knowledge.ChunkSize < 1 || c.Knowledge.ChunkOverlap < 0 || c.Knowledge.ChunkOverlap >= c.Knowledge.ChunkSize {
		errs = append(errs, &ValidationError{Field: "knowledge.chunk_overlap", Message: "must be non-negative and smaller than chunk_size"})
	}

	return errors.Join(errs...)
}
