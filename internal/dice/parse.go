package dice

import (
	"regexp"
	"strconv"
	"strings"
)

var (
	tokenRe    = regexp.MustCompile(`\b(\d*)d(\d+)\b`)
	combinedRe = regexp.MustCompile(`\b\d*d\d+(?:\s*\+\s*\d*d\d+)+\b`)
	subtractRe = regexp.MustCompile(`\b\d*d\d+\s*-\s*\d*d\d+\b`)

	wordModifierRe   = regexp.MustCompile(`\b(plus|add|minus|subtract|with (?:a )?modifier(?: of)?)\s+(\d+)\b`)
	symbolModifierRe = regexp.MustCompile(`(?:^|[^\w+-])([+-])\s*(\d+)\b`)

	advantageRe    = regexp.MustCompile(`\b(?:advantage|adv|take higher|take highest)\b`)
	disadvantageRe = regexp.MustCompile(`\b(?:disadvantage|disadv|take lower|take lowest)\b`)
	structuralRe   = regexp.MustCompile(`\b2d(\d+)\b.*\btake\s+(?:the\s+)?(highest|lowest)\b`)

	labelRe = regexp.MustCompile(`(?i)\b(?:for|to check|to see if)\b`)
)

// Parse extracts a dice expression from free text.
//
// It always returns a rollable expression. Text without any dice notation
// yields a plain d20 with a nil error. When dice tokens are present but all
// of them are malformed, or when dice are subtracted from dice, Parse
// returns the d20 default together with a *ParseError so callers can flag
// the roll as best effort.
func Parse(text string) (Expression, error) {
	lower := strings.ToLower(text)

	expr := Expression{Label: parseLabel(text)}

	if span := subtractRe.FindString(lower); span != "" {
		expr.Groups = []Group{{Count: 1, Sides: 20}}
		return expr.Normalize(), &ParseError{Input: text, Tokens: []string{span}, Reason: "dice subtraction is not supported"}
	}

	groups, rejected := parseGroups(lower)
	var parseErr error
	switch {
	case len(groups) > 0:
		expr.Groups = groups
	case len(rejected) > 0:
		parseErr = &ParseError{Input: text, Tokens: rejected}
		expr.Groups = []Group{{Count: 1, Sides: 20}}
		return expr.Normalize(), parseErr
	default:
		expr.Groups = []Group{{Count: 1, Sides: 20}}
	}

	expr.Modifier = parseModifier(lower)

	adv := advantageRe.MatchString(lower)
	dis := disadvantageRe.MatchString(lower)
	if m := structuralRe.FindStringSubmatch(lower); m != nil {
		wantAdv := m[2] == "highest"
		// Keywords take precedence when they point the other way.
		agrees := (!adv && !dis) || (wantAdv && adv && !dis) || (!wantAdv && dis && !adv)
		if agrees {
			if sides, err := strconv.Atoi(m[1]); err == nil {
				expr.Groups = rewriteStructural(expr.Groups, sides)
			}
			adv, dis = wantAdv, !wantAdv
		}
	}
	expr.Advantage = adv
	expr.Disadvantage = dis

	return expr.Normalize(), nil
}

// parseGroups prefers a combined '+' token and falls back to every token in order.
func parseGroups(lower string) ([]Group, []string) {
	if span := combinedRe.FindString(lower); span != "" {
		groups, rejected := groupsFrom(span)
		if len(rejected) == 0 {
			return groups, nil
		}
	}
	return groupsFrom(lower)
}

func groupsFrom(s string) ([]Group, []string) {
	var groups []Group
	var rejected []string
	for _, m := range tokenRe.FindAllStringSubmatch(s, -1) {
		g, ok := toGroup(m[1], m[2])
		if !ok {
			rejected = append(rejected, m[0])
			continue
		}
		groups = append(groups, g)
	}
	return groups, rejected
}

func toGroup(count, sides string) (Group, bool) {
	g := Group{Count: 1}
	if count != "" {
		n, err := strconv.Atoi(count)
		if err != nil {
			return Group{}, false
		}
		g.Count = n
	}
	n, err := strconv.Atoi(sides)
	if err != nil {
		return Group{}, false
	}
	g.Sides = n
	return g, g.Valid()
}

// parseModifier returns the earliest flat modifier in lower. Values beyond
// MaxModifier are ignored.
func parseModifier(lower string) int {
	blanked := tokenRe.ReplaceAllStringFunc(lower, func(tok string) string {
		return strings.Repeat(" ", len(tok))
	})

	best := -1
	value := 0

	if loc := wordModifierRe.FindStringSubmatchIndex(blanked); loc != nil {
		n, err := strconv.Atoi(blanked[loc[4]:loc[5]])
		if err == nil && ValidModifier(n) {
			word := blanked[loc[2]:loc[3]]
			if word == "minus" || word == "subtract" {
				n = -n
			}
			best, value = loc[0], n
		}
	}
	if loc := symbolModifierRe.FindStringSubmatchIndex(blanked); loc != nil && (best < 0 || loc[2] < best) {
		n, err := strconv.Atoi(blanked[loc[4]:loc[5]])
		if err == nil && ValidModifier(n) {
			if blanked[loc[2]:loc[3]] == "-" {
				n = -n
			}
			value = n
		}
	}
	return value
}

// rewriteStructural turns the "2dN take highest/lowest" group into a single die.
func rewriteStructural(groups []Group, sides int) []Group {
	out := make([]Group, len(groups))
	copy(out, groups)
	for i, g := range out {
		if g.Count == 2 && g.Sides == sides {
			out[i].Count = 1
			break
		}
	}
	return out
}

func parseLabel(text string) string {
	loc := labelRe.FindStringIndex(text)
	if loc == nil {
		return DefaultLabel
	}
	label := strings.Trim(text[loc[1]:], " \t\r\n.,!?;:\"'")
	if label == "" {
		return DefaultLabel
	}
	return label
}

var notationRe = regexp.MustCompile(`^\d*d\d+(?:\+\d*d\d+)*$`)

// ParseNotation strictly parses bare notation such as "1d20" or "2d8+1d6".
func ParseNotation(notation string) ([]Group, error) {
	compact := strings.ToLower(strings.Join(strings.Fields(notation), ""))
	if compact == "" {
		return nil, ErrMissingDice
	}
	if !notationRe.MatchString(compact) {
		return nil, &ParseError{Input: notation, Tokens: []string{compact}}
	}

	groups, rejected := groupsFrom(strings.ReplaceAll(compact, "+", " "))
	if len(rejected) > 0 {
		return nil, &ParseError{Input: notation, Tokens: rejected}
	}
	return groups, nil
}
