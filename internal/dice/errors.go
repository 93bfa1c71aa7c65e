package dice

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMissingDice indicates a roll request had no dice specified.
var ErrMissingDice = errors.New("at least one die must be provided")

// ErrInvalidDiceSpec indicates a die specification is outside the supported range.
var ErrInvalidDiceSpec = errors.New("dice must have 1-1000 dice of 2-10000 sides")

// ErrInvalidModifier indicates a flat modifier outside ±MaxModifier.
var ErrInvalidModifier = errors.New("modifier must be between -1000000 and 1000000")

// ParseError reports dice text that could not be turned into dice: either
// every token was malformed or the dice were combined in an unsupported way.
// The expression returned alongside it is the best-effort default.
type ParseError struct {
	Input  string
	Tokens []string
	Reason string
}

func (e *ParseError) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = "no valid dice"
	}
	return fmt.Sprintf("%s in %q (rejected %s)", reason, e.Input, strings.Join(e.Tokens, ", "))
}

func (e *ParseError) Unwrap() error {
	return ErrInvalidDiceSpec
}
