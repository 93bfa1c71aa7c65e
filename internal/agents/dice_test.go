package agents

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dmagent/internal/core"
	"dmagent/internal/dice"
	"dmagent/internal/llm"
	"dmagent/pkg/schema"
)

type captureLog struct {
	mu   sync.Mutex
	recs []schema.Interaction
}

func (c *captureLog) Append(_ context.Context, rec schema.Interaction) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recs = append(c.recs, rec)
	return nil
}

func (c *captureLog) records() []schema.Interaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]schema.Interaction(nil), c.recs...)
}

func stateWith(input string) *core.SessionState {
	s := core.NewSessionState()
	s.ID = "SES-agents"
	return s.BeginTurn(input)
}

func expectedRoll(t *testing.T, seed int64, expr dice.Expression) string {
	t.Helper()
	res, err := dice.NewRoller(seed).Roll(expr)
	require.NoError(t, err)
	return dice.Format(expr, res)
}

func TestDiceHandler_Handle(t *testing.T) {
	tests := []struct {
		input string
		expr  dice.Expression
	}{
		{"Roll a d20 for perception", dice.Expression{Groups: []dice.Group{{Count: 1, Sides: 20}}, Label: "perception"}},
		{"Roll 2d8 + 1d6 for Eldritch Blast", dice.Expression{Groups: []dice.Group{{Count: 2, Sides: 8}, {Count: 1, Sides: 6}}, Label: "Eldritch Blast"}},
		{"roll 2d20 take the lowest for stealth", dice.Expression{Groups: []dice.Group{{Count: 1, Sides: 20}}, Disadvantage: true, Label: "stealth"}},
		{"I need to roll 2d6 plus 3 for damage", dice.Expression{Groups: []dice.Group{{Count: 2, Sides: 6}}, Modifier: 3, Label: "damage"}},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			h := NewDiceHandler(dice.NewRoller(7))

			cmd, err := h.Handle(context.Background(), stateWith(tt.input))
			require.NoError(t, err)

			assert.Equal(t, schema.TargetTerminal, cmd.Destination)
			require.Len(t, cmd.Patch.Messages, 1)
			msg := cmd.Patch.Messages[0]
			assert.Equal(t, schema.RoleAssistant, msg.Role)
			assert.Equal(t, DiceRollerName, msg.Name)
			assert.Equal(t, expectedRoll(t, 7, tt.expr), msg.Content)
		})
	}
}

func TestDiceHandler_MalformedDiceRollsDefault(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := core.NewMetrics(reg)
	h := NewDiceHandler(dice.NewRoller(3), WithDiceMetrics(metrics))

	cmd, err := h.Handle(context.Background(), stateWith("roll a d1 for luck"))
	require.NoError(t, err)

	content := cmd.Patch.Messages[0].Content
	assert.True(t, strings.HasPrefix(content, "🎲 Rolled 1d20 for luck: **"))
	assert.Contains(t, content, fallbackNote)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.DiceRolls.WithLabelValues("fallback")))
}

func TestDiceHandler_NoDiceIsNotFailure(t *testing.T) {
	h := NewDiceHandler(dice.NewRoller(3))

	cmd, err := h.Handle(context.Background(), stateWith("what should I roll?"))
	require.NoError(t, err)

	content := cmd.Patch.Messages[0].Content
	assert.Contains(t, content, "Rolled 1d20 for dice roll")
	assert.NotContains(t, content, fallbackNote)
}

func TestDiceHandler_RecordsInteraction(t *testing.T) {
	log := &captureLog{}
	rec := core.NewRecorder(log, core.NewNopLogger(), nil)
	h := NewDiceHandler(dice.NewRoller(11), WithDiceRecorder(rec))

	cmd, err := h.Handle(context.Background(), stateWith("Roll d20+5 for Athletics check"))
	require.NoError(t, err)

	recs := log.records()
	require.Len(t, recs, 1)
	assert.Equal(t, DiceRollerName, recs[0].Component)
	assert.Equal(t, "SES-agents", recs[0].SessionID)
	assert.Equal(t, "Roll d20+5 for Athletics check", recs[0].Query)
	assert.Equal(t, cmd.Patch.Messages[0].Content, recs[0].Response)
	assert.Equal(t, "1d20", recs[0].Metadata["notation"])
	assert.Equal(t, 5, recs[0].Metadata["modifier"])
	assert.Equal(t, "Athletics check", recs[0].Metadata["label"])
	assert.NotContains(t, recs[0].Metadata, "parse_error")
}

func TestDiceHandler_UsesCurrentTaskWithoutMessages(t *testing.T) {
	h := NewDiceHandler(dice.NewRoller(5))
	state := core.NewSessionState()
	state.CurrentTask = "roll 3d4 for Magic Missile"

	cmd, err := h.Handle(context.Background(), state)
	require.NoError(t, err)
	assert.Contains(t, cmd.Patch.Messages[0].Content, "Rolled 3d4 for Magic Missile")
}

func TestAssistedParser(t *testing.T) {
	t.Run("uses generated expression", func(t *testing.T) {
		gen := llm.NewMockGenerator("```json\n" +
			`{"dice_notation": "1d20+2d6", "modifier": 2, "has_advantage": false, "has_disadvantage": false, "description": "smite"}` +
			"\n```")
		p := NewAssistedParser(gen, nil)

		expr, err := p.Parse(context.Background(), "roll a d20 and 2d6 plus two for my smite")
		require.NoError(t, err)

		assert.Equal(t, []dice.Group{{Count: 1, Sides: 20}, {Count: 2, Sides: 6}}, expr.Groups)
		assert.Equal(t, 2, expr.Modifier)
		assert.Equal(t, "smite", expr.Label)

		req := gen.LastRequest()
		require.Len(t, req, 2)
		assert.Equal(t, schema.RoleSystem, req[0].Role)
		assert.Contains(t, req[1].Content, "roll a d20 and 2d6 plus two")
	})

	t.Run("retries after invalid notation", func(t *testing.T) {
		gen := llm.NewMockGenerator(
			`{"dice_notation": "a d20", "modifier": 0}`,
			`{"dice_notation": "1d20", "modifier": 0, "has_advantage": true, "description": ""}`,
		)
		p := NewAssistedParser(gen, nil)

		expr, err := p.Parse(context.Background(), "roll with advantage")
		require.NoError(t, err)

		assert.Equal(t, 2, gen.Calls())
		assert.True(t, expr.Advantage)
		assert.Equal(t, dice.DefaultLabel, expr.Label)
	})

	t.Run("retries after out of range modifier", func(t *testing.T) {
		gen := llm.NewMockGenerator(
			`{"dice_notation": "1d20", "modifier": 9223372036854775807}`,
			`{"dice_notation": "1d20", "modifier": 3, "description": "attack"}`,
		)
		p := NewAssistedParser(gen, nil)

		expr, err := p.Parse(context.Background(), "roll 1d20 plus a lot")
		require.NoError(t, err)

		assert.Equal(t, 2, gen.Calls())
		assert.Equal(t, 3, expr.Modifier)
		assert.NoError(t, expr.Validate())
	})

	t.Run("attempts option bounds generation calls", func(t *testing.T) {
		gen := llm.NewMockGenerator(`{"dice_notation": "a d20", "modifier": 0}`)
		p := NewAssistedParser(gen, nil, WithParseAttempts(3))

		expr, err := p.Parse(context.Background(), "roll 2d6")
		require.NoError(t, err)

		assert.Equal(t, 3, gen.Calls())
		assert.Equal(t, []dice.Group{{Count: 2, Sides: 6}}, expr.Groups)
	})

	t.Run("falls back to rules on generator error", func(t *testing.T) {
		gen := &llm.MockGenerator{Err: llm.NewAPIError(500, "upstream")}
		p := NewAssistedParser(gen, nil)

		expr, err := p.Parse(context.Background(), "Roll 4d6 + 2 for damage")
		require.NoError(t, err)

		assert.Equal(t, []dice.Group{{Count: 4, Sides: 6}}, expr.Groups)
		assert.Equal(t, 2, expr.Modifier)
		assert.Equal(t, "damage", expr.Label)
	})

	t.Run("falls back to rules on unusable replies", func(t *testing.T) {
		gen := llm.NewMockGenerator("I would roll a d20 here.")
		p := NewAssistedParser(gen, nil)

		expr, err := p.Parse(context.Background(), "roll a d1")
		var parseErr *dice.ParseError
		require.True(t, errors.As(err, &parseErr))
		assert.Equal(t, dice.DefaultExpression().Groups, expr.Groups)
	})
}

func TestDiceHandler_WithAssistedParser(t *testing.T) {
	gen := llm.NewMockGenerator(`{"dice_notation": "1d8", "modifier": 0, "description": "damage"}`)
	h := NewDiceHandler(dice.NewRoller(9), WithDiceParser(NewAssistedParser(gen, nil)))

	cmd, err := h.Handle(context.Background(), stateWith("hit it with my longsword"))
	require.NoError(t, err)

	want := expectedRoll(t, 9, dice.Expression{Groups: []dice.Group{{Count: 1, Sides: 8}}, Label: "damage"})
	assert.Equal(t, want, cmd.Patch.Messages[0].Content)
}
