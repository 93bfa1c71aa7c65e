package schema

import "time"

// Interaction is one generation or tool exchange recorded for later review.
type Interaction struct {
	ID        string         `json:"id" yaml:"id"`
	SessionID string         `json:"session_id,omitempty" yaml:"session_id,omitempty"`
	Timestamp time.Time      `json:"timestamp" yaml:"timestamp"`
	Component string         `json:"agent" yaml:"agent"`
	Query     string         `json:"query" yaml:"query"`
	Response  string         `json:"response" yaml:"response"`
	Metadata  map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// NewInteraction stamps a record with a fresh ID and the current time.
func NewInteraction(component, query, response string, metadata map[string]any) (Interaction, error) {
	id, err := NewInteractionID()
	if err != nil {
		return Interaction{}, err
	}
	return Interaction{
		ID:        id,
		Timestamp: time.Now().UTC(),
		Component: component,
		Query:     query,
		Response:  response,
		Metadata:  metadata,
	}, nil
}
