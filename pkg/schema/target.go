package schema

import (
	"fmt"
	"strings"
)

// Target is a node of the routing state machine.
type Target string

const (
	TargetSupervisor Target = "supervisor"
	TargetNarrative  Target = "narrative"
	TargetKnowledge  Target = "knowledge"
	TargetDice       Target = "dice"
	TargetTerminal   Target = "terminal"
)

// AllTargets lists every routing target in declaration order.
var AllTargets = []Target{
	TargetSupervisor,
	TargetNarrative,
	TargetKnowledge,
	TargetDice,
	TargetTerminal,
}

// Valid reports whether t is one of the declared targets.
func (t Target) Valid() bool {
	switch t {
	case TargetSupervisor, TargetNarrative, TargetKnowledge, TargetDice, TargetTerminal:
		return true
	}
	return false
}

// IsHandler reports whether t is served by a handler rather than the dispatcher.
func (t Target) IsHandler() bool {
	return t == TargetNarrative || t == TargetKnowledge || t == TargetDice
}

func (t Target) String() string {
	return string(t)
}

// UnmarshalText normalizes persisted names through ParseTarget. An empty
// value is kept so state validation can report the missing key.
func (t *Target) UnmarshalText(text []byte) error {
	if strings.TrimSpace(string(text)) == "" {
		*t = ""
		return nil
	}
	parsed, err := ParseTarget(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseTarget converts a persisted target name back into a Target.
func ParseTarget(s string) (Target, error) {
	t := Target(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unknown routing target %q", s)
	}
	return t, nil
}
