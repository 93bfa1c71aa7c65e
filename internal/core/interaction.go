package core

import (
	"context"

	"dmagent/pkg/schema"
)

// InteractionLog is an append-only sink for interaction records.
type InteractionLog interface {
	Append(ctx context.Context, rec schema.Interaction) error
}

// Recorder writes interaction records on behalf of the dispatcher and
// handlers. Write failures are logged and counted, never returned.
// A nil *Recorder discards records.
type Recorder struct {
	log     InteractionLog
	logger  Logger
	metrics *Metrics
}

// NewRecorder wraps log. A nil log yields a recorder that discards records.
func NewRecorder(log InteractionLog, logger Logger, metrics *Metrics) *Recorder {
	if logger == nil {
		logger = NewNopLogger()
	}
	return &Recorder{log: log, logger: logger, metrics: metrics}
}

// Record appends one interaction.
func (r *Recorder) Record(ctx context.Context, sessionID, component, query, response string, metadata map[string]any) {
	if r == nil || r.log == nil {
		return
	}

	rec, err := schema.NewInteraction(component, query, response, metadata)
	if err != nil {
		r.logger.Warn("failed to build interaction record", "component", component, "error", err)
		r.metrics.interactionDropped()
		return
	}
	rec.SessionID = sessionID

	if err := r.log.Append(ctx, rec); err != nil {
		r.logger.Warn("failed to write interaction record",
			"component", component,
			"session_id", sessionID,
			"error", err,
		)
		r.metrics.interactionDropped()
	}
}
