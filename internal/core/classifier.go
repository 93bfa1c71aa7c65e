package core

import (
	"regexp"
	"strings"

	"dmagent/pkg/schema"
)

// FallbackReason explains why a classification used the default target.
type FallbackReason string

const (
	FallbackNone             FallbackReason = "none"
	FallbackGenerationFailed FallbackReason = "generation_failed"
	FallbackEmpty            FallbackReason = "empty"
	FallbackAmbiguous        FallbackReason = "ambiguous"
	FallbackUnrecognized     FallbackReason = "unrecognized"
)

// DefaultTarget is where unclassifiable requests go.
const DefaultTarget = schema.TargetKnowledge

// Classification is the outcome of routing one supervisor reply.
// Target is always one of narrative, knowledge, dice or terminal.
type Classification struct {
	Target   schema.Target
	Fallback FallbackReason
	Reply    string
	Err      error
}

// Failure returns a *ClassificationError when the default target was used.
func (c Classification) Failure() error {
	if c.Fallback == FallbackNone || c.Fallback == "" {
		return nil
	}
	return &ClassificationError{Reason: c.Fallback, Reply: c.Reply, Err: c.Err}
}

var exactVocabulary = map[string]schema.Target{
	"dice_roller":    schema.TargetDice,
	"dice":           schema.TargetDice,
	"dungeon_master": schema.TargetNarrative,
	"narrative":      schema.TargetNarrative,
	"narrator":       schema.TargetNarrative,
	"researcher":     schema.TargetKnowledge,
	"knowledge":      schema.TargetKnowledge,
	"finish":         schema.TargetTerminal,
	"terminal":       schema.TargetTerminal,
	"end":            schema.TargetTerminal,
}

// mentionVocabulary omits words too common to count inside a sentence.
var mentionVocabulary = map[string]schema.Target{
	"dice_roller":    schema.TargetDice,
	"dungeon_master": schema.TargetNarrative,
	"narrator":       schema.TargetNarrative,
	"researcher":     schema.TargetKnowledge,
	"finish":         schema.TargetTerminal,
}

var (
	wordRe      = regexp.MustCompile(`[a-z_]+`)
	phraseFixes = strings.NewReplacer(
		"dungeon master", "dungeon_master",
		"dungeon-master", "dungeon_master",
		"dice roller", "dice_roller",
		"dice-roller", "dice_roller",
	)
)

// Classify maps a free-text supervisor reply to a routing target.
//
// A reply consisting of a single vocabulary word wins outright. Otherwise
// the reply must mention exactly one target; zero or several mentions fall
// back to DefaultTarget.
func Classify(reply string) Classification {
	normalized := phraseFixes.Replace(strings.ToLower(strings.TrimSpace(reply)))
	bare := strings.Trim(normalized, " \t\r\n.,!?;:\"'`*")

	if bare == "" {
		return Classification{Target: DefaultTarget, Fallback: FallbackEmpty, Reply: reply}
	}
	if target, ok := exactVocabulary[bare]; ok {
		return Classification{Target: target, Fallback: FallbackNone, Reply: reply}
	}

	seen := make(map[schema.Target]bool)
	for _, word := range wordRe.FindAllString(normalized, -1) {
		if target, ok := mentionVocabulary[word]; ok {
			seen[target] = true
		}
	}

	switch len(seen) {
	case 0:
		return Classification{Target: DefaultTarget, Fallback: FallbackUnrecognized, Reply: reply}
	case 1:
		for target := range seen {
			return Classification{Target: target, Fallback: FallbackNone, Reply: reply}
		}
	}
	return Classification{Target: DefaultTarget, Fallback: FallbackAmbiguous, Reply: reply}
}
