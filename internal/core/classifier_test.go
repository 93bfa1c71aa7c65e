package core

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"dmagent/pkg/schema"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		reply    string
		target   schema.Target
		fallback FallbackReason
	}{
		{"dice_roller", schema.TargetDice, FallbackNone},
		{"  Dice_Roller.\n", schema.TargetDice, FallbackNone},
		{"dice", schema.TargetDice, FallbackNone},
		{"dungeon_master", schema.TargetNarrative, FallbackNone},
		{"Dungeon Master", schema.TargetNarrative, FallbackNone},
		{"narrative", schema.TargetNarrative, FallbackNone},
		{"researcher", schema.TargetKnowledge, FallbackNone},
		{"\"researcher\"", schema.TargetKnowledge, FallbackNone},
		{"FINISH", schema.TargetTerminal, FallbackNone},
		{"end", schema.TargetTerminal, FallbackNone},
		{"The dice_roller should take this one.", schema.TargetDice, FallbackNone},
		{"Route to the dungeon master please", schema.TargetNarrative, FallbackNone},
		{"I think we are done here: FINISH", schema.TargetTerminal, FallbackNone},
		{"", schema.TargetKnowledge, FallbackEmpty},
		{"   ", schema.TargetKnowledge, FallbackEmpty},
		{"the bard", schema.TargetKnowledge, FallbackUnrecognized},
		{"roll some dice and look up the rules", schema.TargetKnowledge, FallbackUnrecognized},
		{"either researcher or dice_roller", schema.TargetKnowledge, FallbackAmbiguous},
	}

	for _, tt := range tests {
		t.Run(tt.reply, func(t *testing.T) {
			c := Classify(tt.reply)
			assert.Equal(t, tt.target, c.Target)
			assert.Equal(t, tt.fallback, c.Fallback)
			if tt.fallback == FallbackNone {
				assert.NoError(t, c.Failure())
			} else {
				assert.Error(t, c.Failure())
			}
		})
	}
}

func TestClassify_AlwaysHandlerOrTerminal(t *testing.T) {
	replies := []string{"", "supervisor", "knowledge?", "dice_roller dice_roller", "FINISH researcher", "🎲", "Knowledge"}
	for _, reply := range replies {
		c := Classify(reply)
		assert.True(t, c.Target.IsHandler() || c.Target == schema.TargetTerminal, "reply %q -> %s", reply, c.Target)
	}
}
