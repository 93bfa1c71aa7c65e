package agents

import (
	"context"
	"errors"
	"strings"

	"dmagent/internal/core"
	"dmagent/internal/llm"
	"dmagent/pkg/schema"
)

const (
	// ResearcherName names the knowledge handler's messages and interaction records.
	ResearcherName = "researcher"

	noAnswerMessage = "I apologize, but I couldn't find information about that D&D topic."
)

// Retriever finds rulebook text relevant to a query.
type Retriever interface {
	Retrieve(ctx context.Context, query string) (string, error)
}

// KnowledgeHandler answers rules and lore questions, optionally grounded in
// retrieved excerpts. It always ends the turn.
type KnowledgeHandler struct {
	gen       core.Generator
	retriever Retriever
	rewrite   bool
	grade     bool
	recorder  *core.Recorder
	logger    core.Logger
}

// KnowledgeOption configures a KnowledgeHandler.
type KnowledgeOption func(*KnowledgeHandler)

// WithRetriever grounds answers in retrieved text.
func WithRetriever(r Retriever) KnowledgeOption {
	return func(h *KnowledgeHandler) { h.retriever = r }
}

// WithQuestionRewriting rewrites the question before retrieval.
func WithQuestionRewriting(enabled bool) KnowledgeOption {
	return func(h *KnowledgeHandler) { h.rewrite = enabled }
}

// WithRelevanceGrading drops retrieved text the generator grades irrelevant.
func WithRelevanceGrading(enabled bool) KnowledgeOption {
	return func(h *KnowledgeHandler) { h.grade = enabled }
}

// WithKnowledgeRecorder sets where research interactions are recorded.
func WithKnowledgeRecorder(r *core.Recorder) KnowledgeOption {
	return func(h *KnowledgeHandler) { h.recorder = r }
}

// WithKnowledgeLogger sets the logger.
func WithKnowledgeLogger(l core.Logger) KnowledgeOption {
	return func(h *KnowledgeHandler) {
		if l != nil {
			h.logger = l
		}
	}
}

// NewKnowledgeHandler creates a researcher backed by gen.
func NewKnowledgeHandler(gen core.Generator, opts ...KnowledgeOption) *KnowledgeHandler {
	h := &KnowledgeHandler{
		gen:    gen,
		logger: core.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handle implements core.Handler. Generation failures become an error
// message in the transcript rather than a handler failure.
func (h *KnowledgeHandler) Handle(ctx context.Context, state *core.SessionState) (core.Command, error) {
	query := requestText(state)
	question := h.rewriteQuestion(ctx, query)
	excerpts := h.retrieve(ctx, state.ID, question)

	metadata := map[string]any{
		"question": question,
		"grounded": excerpts != "",
	}

	reply, err := h.gen.Generate(ctx, []schema.Message{
		schema.SystemMessage(llm.ResearcherPrompt),
		schema.UserMessage(llm.BuildResearchPrompt(question, excerpts)),
	})

	var content string
	switch {
	case err != nil:
		content = "Error researching D&D information: " + err.Error()
		metadata["error"] = err.Error()
		var llmErr *llm.LLMError
		if errors.As(err, &llmErr) && llmErr.Overloaded() {
			metadata["overloaded"] = true
		}
		h.logger.Warn("research generation failed", "session_id", state.ID, "error", err)
	case strings.TrimSpace(reply) == "":
		content = noAnswerMessage
	default:
		content = reply
	}

	h.recorder.Record(ctx, state.ID, ResearcherName, query, content, metadata)
	return core.Reply(schema.TargetTerminal, ResearcherName, content), nil
}

// rewriteQuestion returns a sharper retrieval question, or the original one.
func (h *KnowledgeHandler) rewriteQuestion(ctx context.Context, query string) string {
	if !h.rewrite || strings.TrimSpace(query) == "" {
		return query
	}

	reply, err := h.gen.Generate(ctx, []schema.Message{
		schema.SystemMessage(llm.RewriterPrompt),
		schema.UserMessage(llm.BuildRewritePrompt(query)),
	})
	if err != nil {
		h.logger.Warn("question rewrite failed", "error", err)
		return query
	}
	if rewritten := strings.TrimSpace(reply); rewritten != "" {
		return rewritten
	}
	return query
}

func (h *KnowledgeHandler) retrieve(ctx context.Context, sessionID, question string) string {
	if h.retriever == nil {
		return ""
	}

	excerpts, err := h.retriever.Retrieve(ctx, question)
	if err != nil {
		h.logger.Warn("retrieval failed, answering without context", "session_id", sessionID, "error", err)
		return ""
	}
	excerpts = strings.TrimSpace(excerpts)
	if excerpts == "" || !h.grade {
		return excerpts
	}

	reply, err := h.gen.Generate(ctx, []schema.Message{
		schema.SystemMessage(llm.GraderPrompt),
		schema.UserMessage(llm.BuildGradePrompt(excerpts, question)),
	})
	if err != nil {
		h.logger.Warn("relevance grading failed, keeping context", "error", err)
		return excerpts
	}
	if !isYes(reply) {
		h.logger.Debug("retrieved context graded irrelevant", "session_id", sessionID)
		return ""
	}
	return excerpts
}

func isYes(reply string) bool {
	reply = strings.ToLower(strings.TrimSpace(reply))
	reply = strings.Trim(reply, ".!\"'` ")
	return strings.HasPrefix(reply, "yes") || strings.Contains(reply, `"yes"`)
}
