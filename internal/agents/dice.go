package agents

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"dmagent/internal/core"
	"dmagent/internal/dice"
	"dmagent/internal/llm"
	"dmagent/pkg/schema"
)

const (
	// DiceRollerName names the dice handler's messages and interaction records.
	DiceRollerName = "dice_roller"

	fallbackNote = "_I couldn't read the dice in that request, so I rolled a d20 instead._"
)

// DiceParser turns a roll request into an expression. Implementations always
// return a rollable expression; a non-nil error marks it as a best-effort
// fallback.
type DiceParser interface {
	Parse(ctx context.Context, text string) (dice.Expression, error)
}

// RuleParser is the deterministic grammar in package dice.
type RuleParser struct{}

// Parse implements DiceParser.
func (RuleParser) Parse(_ context.Context, text string) (dice.Expression, error) {
	return dice.Parse(text)
}

// diceReply is the JSON shape requested from the generator.
type diceReply struct {
	Notation        string `json:"dice_notation"`
	Modifier        int    `json:"modifier"`
	HasAdvantage    bool   `json:"has_advantage"`
	HasDisadvantage bool   `json:"has_disadvantage"`
	Description     string `json:"description"`
}

// AssistedParser asks the generator to read the request and falls back to
// the rule grammar when the reply is unusable.
type AssistedParser struct {
	gen      core.Generator
	fallback DiceParser
	attempts int
	logger   core.Logger
}

// AssistedOption configures an AssistedParser.
type AssistedOption func(*AssistedParser)

// WithParseAttempts sets how many generations are tried before falling back
// to the rules. Values below one are ignored.
func WithParseAttempts(n int) AssistedOption {
	return func(p *AssistedParser) {
		if n >= 1 {
			p.attempts = n
		}
	}
}

// NewAssistedParser creates a parser backed by gen. A nil logger is replaced
// with a no-op logger.
func NewAssistedParser(gen core.Generator, logger core.Logger, opts ...AssistedOption) *AssistedParser {
	if logger == nil {
		logger = core.NewNopLogger()
	}
	p := &AssistedParser{
		gen:      gen,
		fallback: RuleParser{},
		attempts: 2,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse implements DiceParser.
func (p *AssistedParser) Parse(ctx context.Context, text string) (dice.Expression, error) {
	messages := []schema.Message{
		schema.SystemMessage(llm.DiceParseSystemPrompt),
		schema.UserMessage(llm.BuildDiceParsePrompt(text)),
	}

	var groups []dice.Group
	reply, err := llm.GenerateStructured(ctx, p.gen, messages, p.attempts, func(r *diceReply) error {
		g, err := dice.ParseNotation(r.Notation)
		if err != nil {
			return err
		}
		if !dice.ValidModifier(r.Modifier) {
			return fmt.Errorf("modifier %d: %w", r.Modifier, dice.ErrInvalidModifier)
		}
		groups = g
		return nil
	})
	if err != nil {
		p.logger.Warn("assisted dice parsing failed, using rules", "error", err)
		return p.fallback.Parse(ctx, text)
	}

	expr := dice.Expression{
		Groups:       groups,
		Modifier:     reply.Modifier,
		Advantage:    reply.HasAdvantage,
		Disadvantage: reply.HasDisadvantage,
		Label:        strings.TrimSpace(reply.Description),
	}
	return expr.Normalize(), nil
}

// DiceHandler rolls the dice described by the latest message and ends the turn.
type DiceHandler struct {
	parser   DiceParser
	roller   *dice.Roller
	recorder *core.Recorder
	metrics  *core.Metrics
	logger   core.Logger
}

// DiceOption configures a DiceHandler.
type DiceOption func(*DiceHandler)

// WithDiceParser replaces the default rule parser.
func WithDiceParser(p DiceParser) DiceOption {
	return func(h *DiceHandler) {
		if p != nil {
			h.parser = p
		}
	}
}

// WithDiceRecorder sets where roll interactions are recorded.
func WithDiceRecorder(r *core.Recorder) DiceOption {
	return func(h *DiceHandler) { h.recorder = r }
}

// WithDiceMetrics counts rolls by mode.
func WithDiceMetrics(m *core.Metrics) DiceOption {
	return func(h *DiceHandler) { h.metrics = m }
}

// WithDiceLogger sets the logger.
func WithDiceLogger(l core.Logger) DiceOption {
	return func(h *DiceHandler) {
		if l != nil {
			h.logger = l
		}
	}
}

// NewDiceHandler creates a dice handler rolling with roller.
func NewDiceHandler(roller *dice.Roller, opts ...DiceOption) *DiceHandler {
	h := &DiceHandler{
		parser: RuleParser{},
		roller: roller,
		logger: core.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle implements core.Handler. Unreadable dice text never fails the turn.
func (h *DiceHandler) Handle(ctx context.Context, state *core.SessionState) (core.Command, error) {
	text := requestText(state)

	expr, parseErr := h.parser.Parse(ctx, text)
	if parseErr != nil {
		h.logger.Info("dice request not understood, rolling default",
			"session_id", state.ID,
			"error", parseErr,
		)
	}

	res, err := h.roller.Roll(expr)
	if err != nil {
		// Parsers should never hand back an unrollable expression; roll the default anyway.
		h.logger.Warn("parsed expression could not be rolled", "expression", expr.String(), "error", err)
		parseErr = errors.Join(parseErr, err)
		expr = dice.DefaultExpression()
		if res, err = h.roller.Roll(expr); err != nil {
			return core.Command{}, err
		}
	}

	content := dice.Format(expr, res)
	if parseErr != nil {
		content += "\n" + fallbackNote
	}

	mode := rollMode(expr, parseErr)
	h.metrics.DiceRolled(mode)

	metadata := map[string]any{
		"notation":     expr.Notation(),
		"modifier":     expr.Modifier,
		"advantage":    expr.Advantage,
		"disadvantage": expr.Disadvantage,
		"label":        expr.Label,
		"total":        res.Total,
		"mode":         mode,
	}
	if parseErr != nil {
		metadata["parse_error"] = parseErr.Error()
	}
	h.recorder.Record(ctx, state.ID, DiceRollerName, text, content, metadata)

	return core.Reply(schema.TargetTerminal, DiceRollerName, content), nil
}

func rollMode(expr dice.Expression, parseErr error) string {
	switch {
	case parseErr != nil:
		return "fallback"
	case expr.Advantage:
		return "advantage"
	case expr.Disadvantage:
		return "disadvantage"
	default:
		return "normal"
	}
}

// requestText is the latest message, or the current task for an empty history.
func requestText(state *core.SessionState) string {
	if content, ok := state.LatestContent(); ok {
		return content
	}
	return state.CurrentTask
}
