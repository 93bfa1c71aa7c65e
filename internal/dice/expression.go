// Package dice parses free-text dice requests and rolls them.
package dice

import (
	"fmt"
	"strings"
)

const (
	// MaxCount bounds the number of dice in one group.
	MaxCount = 1000
	// MaxSides bounds the faces of a single die.
	MaxSides = 10000
	// MaxModifier bounds the absolute flat modifier.
	MaxModifier = 1_000_000

	// DefaultLabel is used when the request does not say what the roll is for.
	DefaultLabel = "dice roll"
)

// Group is a homogeneous set of dice such as 2d6.
type Group struct {
	Count int `json:"count" mapstructure:"count"`
	Sides int `json:"sides" mapstructure:"sides"`
}

// Valid reports whether the group is rollable.
func (g Group) Valid() bool {
	return g.Count >= 1 && g.Count <= MaxCount && g.Sides >= 2 && g.Sides <= MaxSides
}

func (g Group) String() string {
	return fmt.Sprintf("%dd%d", g.Count, g.Sides)
}

// Expression is a structured dice request.
type Expression struct {
	Groups       []Group `json:"groups" mapstructure:"groups"`
	Modifier     int     `json:"modifier" mapstructure:"modifier"`
	Advantage    bool    `json:"advantage" mapstructure:"advantage"`
	Disadvantage bool    `json:"disadvantage" mapstructure:"disadvantage"`
	Label        string  `json:"label" mapstructure:"label"`
}

// DefaultExpression is a plain d20 roll.
func DefaultExpression() Expression {
	return Expression{
		Groups: []Group{{Count: 1, Sides: 20}},
		Label:  DefaultLabel,
	}
}

// Validate checks the group and modifier invariants.
func (e Expression) Validate() error {
	if len(e.Groups) == 0 {
		return ErrMissingDice
	}
	for _, g := range e.Groups {
		if !g.Valid() {
			return fmt.Errorf("%s: %w", g, ErrInvalidDiceSpec)
		}
	}
	if !ValidModifier(e.Modifier) {
		return fmt.Errorf("modifier %d: %w", e.Modifier, ErrInvalidModifier)
	}
	return nil
}

// ValidModifier reports whether mod is within ±MaxModifier.
func ValidModifier(mod int) bool {
	return mod >= -MaxModifier && mod <= MaxModifier
}

// Normalize cancels advantage against disadvantage and fills in an empty label.
func (e Expression) Normalize() Expression {
	if e.Advantage && e.Disadvantage {
		e.Advantage = false
		e.Disadvantage = false
	}
	if strings.TrimSpace(e.Label) == "" {
		e.Label = DefaultLabel
	}
	return e
}

// Notation renders the dice groups joined by '+', e.g. 2d8+1d6.
func (e Expression) Notation() string {
	parts := make([]string, len(e.Groups))
	for i, g := range e.Groups {
		parts[i] = g.String()
	}
	return strings.Join(parts, "+")
}

func (e Expression) String() string {
	var b strings.Builder
	b.WriteString(e.Notation())
	b.WriteString(modifierText(e.Modifier))
	switch {
	case e.Advantage && !e.Disadvantage:
		b.WriteString(" (advantage)")
	case e.Disadvantage && !e.Advantage:
		b.WriteString(" (disadvantage)")
	}
	return b.String()
}

func modifierText(mod int) string {
	switch {
	case mod > 0:
		return fmt.Sprintf(" + %d", mod)
	case mod < 0:
		return fmt.Sprintf(" - %d", -mod)
	default:
		return ""
	}
}
