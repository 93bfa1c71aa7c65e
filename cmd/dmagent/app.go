package main

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"dmagent/internal/agents"
	"dmagent/internal/core"
	"dmagent/internal/dice"
	"dmagent/internal/knowledge"
	"dmagent/internal/llm"
	"dmagent/internal/repository"
	"dmagent/pkg/schema"
)

// app builds the components a command needs from the loaded config.
type app struct {
	cfg      *core.Config
	logger   core.Logger
	registry *prometheus.Registry
	metrics  *core.Metrics

	redis   *redis.Client
	client  *llm.Client
	index   *knowledge.Index
	closers []func() error
}

func loadApp(cmd *cobra.Command) (*app, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := core.LoadConfig(path)
	if err != nil {
		return nil, err
	}

	reg := prometheus.NewRegistry()
	return &app{
		cfg:      cfg,
		logger:   core.NewLogger(cfg.LogLevel),
		registry: reg,
		metrics:  core.NewMetrics(reg),
	}, nil
}

// Close releases every backend the app opened.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
}

func (a *app) redisClient() *redis.Client {
	if a.redis == nil {
		a.redis = repository.NewRedisClient(a.cfg.Storage.RedisAddr)
		a.closers = append(a.closers, a.redis.Close)
	}
	return a.redis
}

func (a *app) redisOptions() []repository.RedisOption {
	return []repository.RedisOption{
		repository.WithPrefix(a.cfg.Storage.RedisPrefix),
		repository.WithTTL(a.cfg.Storage.SessionTTL),
	}
}

func (a *app) sessionStore() repository.SessionStore {
	switch a.cfg.Session.Backend {
	case "file":
		return repository.NewFileSessionStore(a.cfg.Session.Dir)
	case "redis":
		return repository.NewRedisSessionStore(a.redisClient(), a.redisOptions()...)
	default:
		return repository.NewMemorySessionStore()
	}
}

// interactionStore is an interaction log that can also be read back.
type interactionStore interface {
	core.InteractionLog
	repository.InteractionReader
}

// interactionLog returns the configured sink, or nil when logging is off.
func (a *app) interactionLog() interactionStore {
	switch a.cfg.Storage.InteractionBackend {
	case "jsonl":
		return repository.NewJSONLLog(a.cfg.Storage.LogDir)
	case "redis":
		return repository.NewRedisLog(a.redisClient(), a.redisOptions()...)
	default:
		return nil
	}
}

func (a *app) recorder() *core.Recorder {
	sink := a.interactionLog()
	if sink == nil {
		return nil
	}
	return core.NewRecorder(sink, a.logger, a.metrics)
}

func (a *app) knowledgeIndex() (*knowledge.Index, error) {
	if a.index != nil {
		return a.index, nil
	}
	kc := a.cfg.Knowledge
	idx, err := knowledge.Open(kc.DBPath,
		knowledge.WithChunker(knowledge.NewChunker(kc.ChunkSize, kc.ChunkOverlap)),
		knowledge.WithTopK(kc.TopK),
	)
	if err != nil {
		return nil, err
	}
	a.index = idx
	a.closers = append(a.closers, idx.Close)
	return idx, nil
}

func (a *app) roller() (*dice.Roller, error) {
	if a.cfg.Dice.Seed != 0 {
		return dice.NewRoller(a.cfg.Dice.Seed), nil
	}
	return dice.NewRandomRoller()
}

func (a *app) llmClient() (*llm.Client, error) {
	if a.client != nil {
		return a.client, nil
	}
	client, err := llm.NewClient(&llm.Config{
		APIKey:       a.cfg.LLM.APIKey,
		BaseURL:      a.cfg.LLM.BaseURL,
		DefaultModel: a.cfg.LLM.Model,
		Temperature:  a.cfg.LLM.Temperature,
		Timeout:      a.cfg.LLM.Timeout,
		MaxRetries:   a.cfg.LLM.MaxRetries,
	})
	if err != nil {
		return nil, fmt.Errorf("create llm client (is OPENROUTER_API_KEY set?): %w", err)
	}
	a.logger.Debug("llm client ready", "model", client.Model(), "max_retries", client.MaxRetries())
	a.client = client
	return client, nil
}

func (a *app) generator(ctx context.Context) (core.Generator, error) {
	client, err := a.llmClient()
	if err != nil {
		return nil, err
	}
	if a.cfg.LLM.UseGenkit {
		return llm.NewGenkitGenerator(ctx, "openrouter/"+client.Model(), client), nil
	}
	return client, nil
}

// dispatcher wires the three handlers around one generator.
func (a *app) dispatcher(ctx context.Context) (*core.Dispatcher, error) {
	gen, err := a.generator(ctx)
	if err != nil {
		return nil, err
	}
	roller, err := a.roller()
	if err != nil {
		return nil, fmt.Errorf("seed dice roller: %w", err)
	}
	rec := a.recorder()

	diceOpts := []agents.DiceOption{
		agents.WithDiceRecorder(rec),
		agents.WithDiceMetrics(a.metrics),
		agents.WithDiceLogger(a.logger),
	}
	if a.cfg.Dice.AssistedParsing {
		parser := agents.NewAssistedParser(gen, a.logger, agents.WithParseAttempts(a.client.MaxRetries()))
		diceOpts = append(diceOpts, agents.WithDiceParser(parser))
	}

	knowledgeOpts := []agents.KnowledgeOption{
		agents.WithQuestionRewriting(a.cfg.Knowledge.RewriteQuestions),
		agents.WithRelevanceGrading(a.cfg.Knowledge.GradeDocuments),
		agents.WithKnowledgeRecorder(rec),
		agents.WithKnowledgeLogger(a.logger),
	}
	if idx, err := a.knowledgeIndex(); err != nil {
		a.logger.Warn("knowledge index unavailable, answering without excerpts", "error", err)
	} else {
		knowledgeOpts = append(knowledgeOpts, agents.WithRetriever(idx))
	}

	nc := a.cfg.Narrative
	handlers := map[schema.Target]core.Handler{
		schema.TargetNarrative: agents.NewNarrativeHandler(gen,
			agents.WithRoster(agents.NewRoster(nc.Players, nc.NPCs)),
			agents.WithHistoryWindow(nc.HistoryWindow),
			agents.WithNarrativeRecorder(rec),
			agents.WithNarrativeLogger(a.logger),
		),
		schema.TargetKnowledge: agents.NewKnowledgeHandler(gen, knowledgeOpts...),
		schema.TargetDice:      agents.NewDiceHandler(roller, diceOpts...),
	}

	return core.NewDispatcher(gen, handlers,
		core.WithLogger(a.logger),
		core.WithMetrics(a.metrics),
		core.WithRecorder(rec),
		core.WithMaxHops(a.cfg.Dispatcher.MaxHops),
		core.WithClassifyTimeout(a.cfg.Dispatcher.ClassifyTimeout),
	), nil
}
