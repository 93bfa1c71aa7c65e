package llm

import (
	"fmt"
	"strings"
)

// SupervisorPrompt instructs the router. The reply vocabulary must stay in
// sync with core.Classify.
const SupervisorPrompt = `You are the supervisor of a Dungeons & Dragons 5e table assistant.
Decide who should handle the latest request:
- "dungeon_master": narration, world-building, NPC dialogue and gameplay decisions.
- "researcher": rules clarifications, lore and game mechanics.
- "dice_roller": any request to roll dice, such as "roll a d20" or "2d6 + 1d8".
- "FINISH": the latest request has been fully answered.
Reply with exactly one of: dungeon_master, researcher, dice_roller, FINISH.`

// DungeonMasterPrompt is the narrator's system prompt.
const DungeonMasterPrompt = `You are the Dungeon Master of an immersive D&D 5e adventure.
You run the world, answer the players and voice every NPC.
Describe scenes vividly and apply the rules faithfully.

When an action is impossible, explain why using the D&D rules.
Leave dice rolls and rules lookups to the other assistants; ask for them explicitly.
Keep the story moving and keep your answer to a few paragraphs.`

// ResearcherPrompt is the rules assistant's system prompt.
const ResearcherPrompt = `You are a D&D 5e knowledge assistant.
Answer questions about rules, lore and mechanics accurately and concisely,
citing the relevant rulebook section when you can. Format answers in Markdown.

Do not invent house rules. Mark optional rules as optional and say clearly
when you are giving an interpretation rather than an official ruling.`

// RewriterPrompt turns a player's question into a better retrieval query.
const RewriterPrompt = `You rewrite player questions into precise D&D 5e rules questions.
Keep the intent, name the relevant mechanics explicitly and drop chit-chat.
Reply with the rewritten question only.`

// GraderPrompt asks for a binary relevance judgement on retrieved context.
const GraderPrompt = `You grade whether a retrieved document is relevant to a user question.
If the document shares keywords or meaning with the question, it is relevant.
Reply with a single word: yes or no.`

// DiceParseSystemPrompt frames the assisted dice parser.
const DiceParseSystemPrompt = "You convert dice roll requests into exact dice notation, a modifier and roll options."

// BuildDiceParsePrompt asks for a JSON description of a dice request.
func BuildDiceParsePrompt(request string) string {
	return fmt.Sprintf(`Extract the dice roll described in this request.

Return ONLY valid JSON with this exact structure:
{
  "dice_notation": "groups joined by +, e.g. 1d20 or 2d8+1d6",
  "modifier": 0,
  "has_advantage": false,
  "has_disadvantage": false,
  "description": "what the roll is for"
}

EXAMPLES:
"Roll 1d20+5 for attack" -> {"dice_notation": "1d20", "modifier": 5, "has_advantage": false, "has_disadvantage": false, "description": "attack"}
"Roll 1d20 + 2d6 for damage" -> {"dice_notation": "1d20+2d6", "modifier": 0, "has_advantage": false, "has_disadvantage": false, "description": "damage"}

REQUEST: %q`, request)
}

// BuildGradePrompt pairs a retrieved document with the question it should answer.
func BuildGradePrompt(document, question string) string {
	return fmt.Sprintf("Retrieved document:\n\n%s\n\nUser question: %s", document, question)
}

// BuildRewritePrompt wraps the question for the rewriter.
func BuildRewritePrompt(question string) string {
	return fmt.Sprintf("Here is the initial question:\n\n%s\n\nFormulate an improved question.", question)
}

// BuildResearchPrompt attaches retrieved context to a rules question.
func BuildResearchPrompt(question, context string) string {
	context = strings.TrimSpace(context)
	if context == "" {
		return question
	}
	return fmt.Sprintf("Use the following rulebook excerpts when they help.\n\n%s\n\nQuestion: %s", context, question)
}

// BuildNarrativeTask appends the current task to the narrator's instructions.
func BuildNarrativeTask(party, task string) string {
	var sb strings.Builder
	sb.WriteString(DungeonMasterPrompt)
	if party != "" {
		sb.WriteString("\n\nParty and NPCs:\n")
		sb.WriteString(party)
	}
	sb.WriteString("\n\nTask: ")
	sb.WriteString(task)
	return sb.String()
}
