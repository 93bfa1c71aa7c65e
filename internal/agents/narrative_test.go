package agents

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"dmagent/internal/core"
	"dmagent/internal/llm"
	"dmagent/pkg/schema"
)

func testRoster() NarrativeState {
	return NewRoster(
		[]core.ActorConfig{{ID: "p1", Name: "Thorin", Health: 12}},
		[]core.ActorConfig{
			{ID: "n1", Name: "Old Tom", Personality: "grumpy innkeeper", Health: 8, Strength: 10, Dexterity: 9},
			{ID: "n2", Name: "Goblin", Health: 0},
		},
	)
}

func TestActor_CanAct(t *testing.T) {
	tests := []struct {
		name  string
		actor Actor
		want  bool
	}{
		{"player always acts", Actor{Kind: ActorPlayer, Health: 0}, true},
		{"healthy npc", Actor{Kind: ActorNPC, Health: 5, Active: true}, true},
		{"dead npc", Actor{Kind: ActorNPC, Health: 0, Active: true}, false},
		{"inactive npc", Actor{Kind: ActorNPC, Health: 5, Active: false}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.actor.CanAct())
		})
	}
}

func TestNewRoster(t *testing.T) {
	st := testRoster()

	require.Len(t, st.Players, 1)
	require.Len(t, st.NPCs, 2)
	assert.Equal(t, ActorPlayer, st.Players[0].Kind)
	assert.Equal(t, ActorNPC, st.NPCs[0].Kind)
	assert.Equal(t, []string{"p1", "n1"}, st.TurnOrder)

	party := st.Party()
	assert.Contains(t, party, "- Thorin (player)")
	assert.Contains(t, party, "- Old Tom (NPC, grumpy innkeeper, HP 8, STR 10, DEX 9)")
	assert.Contains(t, party, "- Goblin (NPC, HP 0, STR 0, DEX 0) cannot act")
}

func TestNarrativeState_EncodeDecode(t *testing.T) {
	st := testRoster()
	st.Turns = 3
	st.LastScene = "The tavern falls silent."

	blob, err := st.Encode()
	require.NoError(t, err)
	assert.Equal(t, 3, blob["turns"])

	decoded, err := DecodeNarrativeState(blob)
	require.NoError(t, err)
	assert.Equal(t, st, decoded)
}

func TestDecodeNarrativeState_FromStoredShape(t *testing.T) {
	// shape produced by a YAML or JSON session store
	raw := map[string]any{
		"players": []any{
			map[string]any{"id": "p1", "name": "Thorin", "kind": "player", "health": 12, "active": true},
		},
		"npcs": []any{
			map[string]any{"id": "n1", "name": "Old Tom", "kind": "npc", "health": float64(8), "active": true},
		},
		"turn_order": []any{"p1", "n1"},
		"turns":      "2",
		"last_scene": "Rain hammers the shutters.",
	}

	st, err := DecodeNarrativeState(raw)
	require.NoError(t, err)

	assert.Equal(t, 2, st.Turns)
	assert.Equal(t, 8, st.NPCs[0].Health)
	assert.True(t, st.NPCs[0].CanAct())
	assert.Equal(t, []string{"p1", "n1"}, st.TurnOrder)
}

func TestDecodeNarrativeState_YAMLRoundTrip(t *testing.T) {
	blob, err := testRoster().Encode()
	require.NoError(t, err)

	data, err := yaml.Marshal(blob)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, yaml.Unmarshal(data, &raw))

	st, err := DecodeNarrativeState(raw)
	require.NoError(t, err)
	assert.Equal(t, testRoster(), st)
}

func TestDecodeNarrativeState_Invalid(t *testing.T) {
	st, err := DecodeNarrativeState(nil)
	require.NoError(t, err)
	assert.Equal(t, NarrativeState{}, st)

	_, err = DecodeNarrativeState("not a map")
	assert.Error(t, err)
}

func TestNarrativeHandler_Handle(t *testing.T) {
	gen := llm.NewMockGenerator("The door creaks open onto a dusty hall.")
	log := &captureLog{}
	h := NewNarrativeHandler(gen,
		WithRoster(testRoster()),
		WithNarrativeRecorder(core.NewRecorder(log, nil, nil)),
	)

	state := stateWith("I open the door")
	cmd, err := h.Handle(context.Background(), state)
	require.NoError(t, err)

	assert.Equal(t, schema.TargetSupervisor, cmd.Destination)
	require.Len(t, cmd.Patch.Messages, 1)
	assert.Equal(t, schema.AssistantMessage(DungeonMasterName, "The door creaks open onto a dusty hall."), cmd.Patch.Messages[0])

	req := gen.LastRequest()
	require.Len(t, req, 2)
	assert.Equal(t, schema.RoleSystem, req[0].Role)
	assert.Contains(t, req[0].Content, llm.DungeonMasterPrompt)
	assert.Contains(t, req[0].Content, "Thorin (player)")
	assert.Contains(t, req[0].Content, "Task: I open the door")
	assert.Equal(t, schema.UserMessage("I open the door"), req[1])

	st, err := DecodeNarrativeState(cmd.Patch.DomainState[NarrativeStateKey])
	require.NoError(t, err)
	assert.Equal(t, 1, st.Turns)
	assert.Equal(t, "The door creaks open onto a dusty hall.", st.LastScene)
	assert.Len(t, st.Players, 1)

	recs := log.records()
	require.Len(t, recs, 1)
	assert.Equal(t, DungeonMasterName, recs[0].Component)
	assert.Equal(t, "I open the door", recs[0].Query)
}

func TestNarrativeHandler_KeepsSessionRoster(t *testing.T) {
	gen := llm.NewMockGenerator("Old Tom grunts.")
	h := NewNarrativeHandler(gen, WithRoster(testRoster()))

	existing := NarrativeState{
		Players: []Actor{{ID: "p9", Name: "Mira", Kind: ActorPlayer, Active: true}},
		Turns:   4,
	}
	blob, err := existing.Encode()
	require.NoError(t, err)

	state := stateWith("I wave at the bartender")
	state.DomainState[NarrativeStateKey] = blob

	cmd, err := h.Handle(context.Background(), state)
	require.NoError(t, err)

	st, err := DecodeNarrativeState(cmd.Patch.DomainState[NarrativeStateKey])
	require.NoError(t, err)
	assert.Equal(t, 5, st.Turns)
	require.Len(t, st.Players, 1)
	assert.Equal(t, "Mira", st.Players[0].Name)
	assert.Empty(t, st.NPCs)
}

func TestNarrativeHandler_HistoryWindow(t *testing.T) {
	gen := llm.NewMockGenerator("ok")
	h := NewNarrativeHandler(gen, WithHistoryWindow(2))

	state := core.NewSessionState()
	for _, m := range []string{"one", "two", "three"} {
		state.AddMessage(schema.RoleUser, "", m)
	}
	state = state.BeginTurn("four")

	_, err := h.Handle(context.Background(), state)
	require.NoError(t, err)

	req := gen.LastRequest()
	require.Len(t, req, 3)
	assert.Equal(t, "three", req[1].Content)
	assert.Equal(t, "four", req[2].Content)
}

func TestNarrativeHandler_MissingTask(t *testing.T) {
	h := NewNarrativeHandler(llm.NewMockGenerator("unused"))

	state := core.NewSessionState()
	state.AddMessage(schema.RoleAssistant, "researcher", "earlier answer")

	_, err := h.Handle(context.Background(), state)

	var missing *core.MissingStateKeyError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, "current_task", missing.Key)
}

func TestNarrativeHandler_FallsBackToLatestUserMessage(t *testing.T) {
	gen := llm.NewMockGenerator("ok")
	h := NewNarrativeHandler(gen)

	state := core.NewSessionState()
	state.AddMessage(schema.RoleUser, "", "search the chest")
	state.AddMessage(schema.RoleAssistant, "dice_roller", "🎲 Rolled 1d20 for dice roll: **4**")

	_, err := h.Handle(context.Background(), state)
	require.NoError(t, err)
	assert.Contains(t, gen.LastRequest()[0].Content, "Task: search the chest")
}

func TestNarrativeHandler_GenerationError(t *testing.T) {
	h := NewNarrativeHandler(&llm.MockGenerator{Err: llm.NewNetworkError(errors.New("reset"))})

	_, err := h.Handle(context.Background(), stateWith("look around"))

	var llmErr *llm.LLMError
	require.True(t, errors.As(err, &llmErr))
}
