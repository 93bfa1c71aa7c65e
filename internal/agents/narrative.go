package agents

import (
	"context"
	"fmt"
	"strings"

	"github.com/mitchellh/mapstructure"

	"dmagent/internal/core"
	"dmagent/internal/llm"
	"dmagent/pkg/schema"
)

const (
	// DungeonMasterName names the narrator's messages and interaction records.
	DungeonMasterName = "dungeon_master"

	// NarrativeStateKey is the DomainState key owned by the narrative handler.
	NarrativeStateKey = "narrative"

	// DefaultHistoryWindow is how many recent messages the narrator sees.
	DefaultHistoryWindow = 20
)

// ActorKind distinguishes human players from generated characters.
type ActorKind string

const (
	ActorPlayer ActorKind = "player"
	ActorNPC    ActorKind = "npc"
)

// Actor is a participant in the scene.
type Actor struct {
	ID          string    `mapstructure:"id" json:"id" yaml:"id"`
	Name        string    `mapstructure:"name" json:"name" yaml:"name"`
	Kind        ActorKind `mapstructure:"kind" json:"kind" yaml:"kind"`
	Personality string    `mapstructure:"personality" json:"personality,omitempty" yaml:"personality,omitempty"`
	Health      int       `mapstructure:"health" json:"health" yaml:"health"`
	Strength    int       `mapstructure:"strength" json:"strength" yaml:"strength"`
	Dexterity   int       `mapstructure:"dexterity" json:"dexterity" yaml:"dexterity"`
	Active      bool      `mapstructure:"active" json:"active" yaml:"active"`
}

// CanAct reports whether the actor may take an action. Players always can;
// NPCs must be active and alive.
func (a Actor) CanAct() bool {
	if a.Kind == ActorPlayer {
		return true
	}
	return a.Active && a.Health > 0
}

// Describe renders a one-line roster entry.
func (a Actor) Describe() string {
	if a.Kind == ActorPlayer {
		return fmt.Sprintf("- %s (player)", a.Name)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "- %s (NPC", a.Name)
	if a.Personality != "" {
		fmt.Fprintf(&sb, ", %s", a.Personality)
	}
	fmt.Fprintf(&sb, ", HP %d, STR %d, DEX %d)", a.Health, a.Strength, a.Dexterity)
	if !a.CanAct() {
		sb.WriteString(" cannot act")
	}
	return sb.String()
}

// NarrativeState is the narrator's domain blob.
type NarrativeState struct {
	Players   []Actor  `mapstructure:"players"`
	NPCs      []Actor  `mapstructure:"npcs"`
	TurnOrder []string `mapstructure:"turn_order"`
	Turns     int      `mapstructure:"turns"`
	LastScene string   `mapstructure:"last_scene"`
}

// NewRoster builds the initial roster from configuration.
func NewRoster(players, npcs []core.ActorConfig) NarrativeState {
	var st NarrativeState
	for _, p := range players {
		st.Players = append(st.Players, Actor{
			ID:        p.ID,
			Name:      p.Name,
			Kind:      ActorPlayer,
			Health:    p.Health,
			Strength:  p.Strength,
			Dexterity: p.Dexterity,
			Active:    true,
		})
	}
	for _, n := range npcs {
		st.NPCs = append(st.NPCs, Actor{
			ID:          n.ID,
			Name:        n.Name,
			Kind:        ActorNPC,
			Personality: n.Personality,
			Health:      n.Health,
			Strength:    n.Strength,
			Dexterity:   n.Dexterity,
			Active:      true,
		})
	}
	st.TurnOrder = st.actingIDs()
	return st
}

// DecodeNarrativeState reads the blob regardless of which store produced it.
// A nil blob decodes to the zero state.
func DecodeNarrativeState(raw any) (NarrativeState, error) {
	var st NarrativeState
	if raw == nil {
		return st, nil
	}

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &st,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return st, err
	}
	if err := dec.Decode(raw); err != nil {
		return NarrativeState{}, fmt.Errorf("decode narrative state: %w", err)
	}
	return st, nil
}

// Encode converts the state to a plain map for DomainState.
func (s NarrativeState) Encode() (map[string]any, error) {
	out := make(map[string]any)
	if err := mapstructure.Decode(s, &out); err != nil {
		return nil, fmt.Errorf("encode narrative state: %w", err)
	}
	return out, nil
}

// Party renders the roster for the narrator's prompt.
func (s NarrativeState) Party() string {
	lines := make([]string, 0, len(s.Players)+len(s.NPCs))
	for _, a := range s.Players {
		lines = append(lines, a.Describe())
	}
	for _, a := range s.NPCs {
		lines = append(lines, a.Describe())
	}
	return strings.Join(lines, "\n")
}

func (s NarrativeState) actingIDs() []string {
	var ids []string
	for _, a := range s.Players {
		if a.CanAct() {
			ids = append(ids, a.ID)
		}
	}
	for _, a := range s.NPCs {
		if a.CanAct() {
			ids = append(ids, a.ID)
		}
	}
	return ids
}

// NarrativeHandler narrates the scene and hands control back to the supervisor.
type NarrativeHandler struct {
	gen      core.Generator
	roster   NarrativeState
	window   int
	recorder *core.Recorder
	logger   core.Logger
}

// NarrativeOption configures a NarrativeHandler.
type NarrativeOption func(*NarrativeHandler)

// WithRoster seeds sessions that have no narrative state yet.
func WithRoster(st NarrativeState) NarrativeOption {
	return func(h *NarrativeHandler) { h.roster = st }
}

// WithHistoryWindow bounds the history sent to the generator.
func WithHistoryWindow(n int) NarrativeOption {
	return func(h *NarrativeHandler) {
		if n > 0 {
			h.window = n
		}
	}
}

// WithNarrativeRecorder sets where narration interactions are recorded.
func WithNarrativeRecorder(r *core.Recorder) NarrativeOption {
	return func(h *NarrativeHandler) { h.recorder = r }
}

// WithNarrativeLogger sets the logger.
func WithNarrativeLogger(l core.Logger) NarrativeOption {
	return func(h *NarrativeHandler) {
		if l != nil {
			h.logger = l
		}
	}
}

// NewNarrativeHandler creates a narrator backed by gen.
func NewNarrativeHandler(gen core.Generator, opts ...NarrativeOption) *NarrativeHandler {
	h := &NarrativeHandler{
		gen:    gen,
		window: DefaultHistoryWindow,
		logger: core.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle implements core.Handler.
func (h *NarrativeHandler) Handle(ctx context.Context, state *core.SessionState) (core.Command, error) {
	task := state.CurrentTask
	if task == "" {
		task = latestUserContent(state.Messages)
	}
	if task == "" {
		return core.Command{}, &core.MissingStateKeyError{Key: "current_task", Detail: "no task and no user message"}
	}

	st, err := DecodeNarrativeState(state.DomainState[NarrativeStateKey])
	if err != nil {
		return core.Command{}, err
	}
	if len(st.Players) == 0 && len(st.NPCs) == 0 {
		st.Players = h.roster.Players
		st.NPCs = h.roster.NPCs
	}

	messages := make([]schema.Message, 0, h.window+1)
	messages = append(messages, schema.SystemMessage(llm.BuildNarrativeTask(st.Party(), task)))
	messages = append(messages, recent(state.Messages, h.window)...)

	reply, err := h.gen.Generate(ctx, messages)
	if err != nil {
		return core.Command{}, fmt.Errorf("generate narration: %w", err)
	}

	st.Turns++
	st.LastScene = reply
	st.TurnOrder = st.actingIDs()

	blob, err := st.Encode()
	if err != nil {
		return core.Command{}, err
	}

	h.recorder.Record(ctx, state.ID, DungeonMasterName, task, reply, map[string]any{
		"turns":  st.Turns,
		"acting": st.TurnOrder,
	})
	h.logger.Debug("narrated scene", "session_id", state.ID, "turns", st.Turns)

	cmd := core.Reply(schema.TargetSupervisor, DungeonMasterName, reply)
	cmd.Patch.DomainState = map[string]any{NarrativeStateKey: blob}
	return cmd, nil
}

func latestUserContent(messages []schema.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == schema.RoleUser {
			return messages[i].Content
		}
	}
	return ""
}

func recent(messages []schema.Message, n int) []schema.Message {
	if len(messages) > n {
		messages = messages[len(messages)-n:]
	}
	return messages
}
