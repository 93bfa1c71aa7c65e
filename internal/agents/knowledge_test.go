package agents

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dmagent/internal/core"
	"dmagent/internal/llm"
	"dmagent/pkg/schema"
)

type stubRetriever struct {
	text    string
	err     error
	queries []string
}

func (s *stubRetriever) Retrieve(_ context.Context, query string) (string, error) {
	s.queries = append(s.queries, query)
	return s.text, s.err
}

// promptRouter answers by system prompt so tests can script each pipeline stage.
func promptRouter(replies map[string]string) *llm.MockGenerator {
	return &llm.MockGenerator{Handler: func(_ context.Context, messages []schema.Message) (string, error) {
		reply, ok := replies[messages[0].Content]
		if !ok {
			return "", errors.New("unexpected prompt")
		}
		return reply, nil
	}}
}

func TestKnowledgeHandler_DirectAnswer(t *testing.T) {
	gen := llm.NewMockGenerator("Grappling uses an Athletics check.")
	log := &captureLog{}
	h := NewKnowledgeHandler(gen, WithKnowledgeRecorder(core.NewRecorder(log, nil, nil)))

	cmd, err := h.Handle(context.Background(), stateWith("How does grappling work?"))
	require.NoError(t, err)

	assert.Equal(t, schema.TargetTerminal, cmd.Destination)
	require.Len(t, cmd.Patch.Messages, 1)
	assert.Equal(t, schema.AssistantMessage(ResearcherName, "Grappling uses an Athletics check."), cmd.Patch.Messages[0])

	req := gen.LastRequest()
	require.Len(t, req, 2)
	assert.Equal(t, schema.SystemMessage(llm.ResearcherPrompt), req[0])
	assert.Equal(t, "How does grappling work?", req[1].Content)

	recs := log.records()
	require.Len(t, recs, 1)
	assert.Equal(t, ResearcherName, recs[0].Component)
	assert.Equal(t, false, recs[0].Metadata["grounded"])
}

func TestKnowledgeHandler_GroundedAnswer(t *testing.T) {
	gen := llm.NewMockGenerator("Prone creatures have disadvantage on attack rolls.")
	retriever := &stubRetriever{text: "A prone creature has disadvantage on attack rolls."}
	h := NewKnowledgeHandler(gen, WithRetriever(retriever))

	_, err := h.Handle(context.Background(), stateWith("What does prone do?"))
	require.NoError(t, err)

	assert.Equal(t, []string{"What does prone do?"}, retriever.queries)
	prompt := gen.LastRequest()[1].Content
	assert.Contains(t, prompt, "A prone creature has disadvantage on attack rolls.")
	assert.Contains(t, prompt, "Question: What does prone do?")
}

func TestKnowledgeHandler_RetrievalFailureDegrades(t *testing.T) {
	gen := llm.NewMockGenerator("Answer from memory.")
	h := NewKnowledgeHandler(gen, WithRetriever(&stubRetriever{err: errors.New("index locked")}))

	cmd, err := h.Handle(context.Background(), stateWith("What is a cantrip?"))
	require.NoError(t, err)

	assert.Equal(t, "Answer from memory.", cmd.Patch.Messages[0].Content)
	assert.Equal(t, "What is a cantrip?", gen.LastRequest()[1].Content)
}

func TestKnowledgeHandler_RewriteAndGrade(t *testing.T) {
	tests := []struct {
		name     string
		grade    string
		grounded bool
	}{
		{"relevant context kept", "yes", true},
		{"structured yes", `{"binary_score": "yes"}`, true},
		{"irrelevant context dropped", "no", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := promptRouter(map[string]string{
				llm.RewriterPrompt:   "What are the D&D 5e rules for opportunity attacks?",
				llm.GraderPrompt:     tt.grade,
				llm.ResearcherPrompt: "You can make one when a hostile creature leaves your reach.",
			})
			retriever := &stubRetriever{text: "Opportunity Attacks: ..."}
			log := &captureLog{}
			h := NewKnowledgeHandler(gen,
				WithRetriever(retriever),
				WithQuestionRewriting(true),
				WithRelevanceGrading(true),
				WithKnowledgeRecorder(core.NewRecorder(log, nil, nil)),
			)

			cmd, err := h.Handle(context.Background(), stateWith("when do i get a free swing?"))
			require.NoError(t, err)

			assert.Equal(t, "You can make one when a hostile creature leaves your reach.", cmd.Patch.Messages[0].Content)
			assert.Equal(t, []string{"What are the D&D 5e rules for opportunity attacks?"}, retriever.queries)
			assert.Equal(t, 3, gen.Calls())

			recs := log.records()
			require.Len(t, recs, 1)
			assert.Equal(t, "when do i get a free swing?", recs[0].Query)
			assert.Equal(t, tt.grounded, recs[0].Metadata["grounded"])
		})
	}
}

func TestKnowledgeHandler_GenerationErrorStillTerminates(t *testing.T) {
	gen := &llm.MockGenerator{Err: llm.NewAPIError(503, "overloaded")}
	log := &captureLog{}
	h := NewKnowledgeHandler(gen, WithKnowledgeRecorder(core.NewRecorder(log, nil, nil)))

	cmd, err := h.Handle(context.Background(), stateWith("What is a saving throw?"))
	require.NoError(t, err)

	assert.Equal(t, schema.TargetTerminal, cmd.Destination)
	assert.Contains(t, cmd.Patch.Messages[0].Content, "Error researching D&D information: ")
	assert.Contains(t, log.records()[0].Metadata, "error")
	assert.Equal(t, true, log.records()[0].Metadata["overloaded"])
}

func TestKnowledgeHandler_EmptyReply(t *testing.T) {
	h := NewKnowledgeHandler(llm.NewMockGenerator("   "))

	cmd, err := h.Handle(context.Background(), stateWith("Who is Vecna?"))
	require.NoError(t, err)
	assert.Equal(t, noAnswerMessage, cmd.Patch.Messages[0].Content)
}
