package dice

import (
	"fmt"
	"strings"
)

// Format renders a rolled expression for display in the transcript.
func Format(expr Expression, res Result) string {
	expr = expr.Normalize()

	if (expr.Advantage || expr.Disadvantage) && len(res.Attempts) == 2 {
		first, second := res.Attempts[0], res.Attempts[1]
		mode := fmt.Sprintf("with advantage (rolls: %d and %d, took higher)", first.Total, second.Total)
		if expr.Disadvantage {
			mode = fmt.Sprintf("with disadvantage (rolls: %d and %d, took lower)", first.Total, second.Total)
		}
		return fmt.Sprintf("🎲 Rolled %s %s%s for %s: **%d**\nFirst roll: %s\nSecond roll: %s",
			expr.Groups[0], mode, modifierText(expr.Modifier), expr.Label, res.Total,
			joinRolls(first.Rolls, ", "), joinRolls(second.Rolls, ", "))
	}

	out := fmt.Sprintf("🎲 Rolled %s%s for %s: **%d**",
		expr.Notation(), modifierText(expr.Modifier), expr.Label, res.Total)

	switch {
	case len(res.Rolls) == 1 && len(res.Rolls[0].Results) > 1:
		out += fmt.Sprintf(" (rolled %s)", faces(res.Rolls[0].Results))
	case len(res.Rolls) > 1:
		out += fmt.Sprintf(" (%s)", joinRolls(res.Rolls, " + "))
	}
	return out
}

func joinRolls(rolls []Roll, sep string) string {
	parts := make([]string, len(rolls))
	for i, r := range rolls {
		parts[i] = r.String()
	}
	return strings.Join(parts, sep)
}
