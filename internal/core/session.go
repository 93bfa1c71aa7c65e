package core

import (
	"time"

	"dmagent/pkg/schema"
)

// SessionState is the conversation state owned by the driver between turns.
type SessionState struct {
	ID            string           `json:"id" yaml:"id"`
	Messages      []schema.Message `json:"messages" yaml:"messages"`
	CurrentTask   string           `json:"current_task,omitempty" yaml:"current_task,omitempty"`
	RoutingTarget schema.Target    `json:"routing_target" yaml:"routing_target"`
	DomainState   map[string]any   `json:"domain_state,omitempty" yaml:"domain_state,omitempty"`
	UpdatedAt     time.Time        `json:"updated_at" yaml:"updated_at"`
}

// NewSessionState creates a new session state positioned at the supervisor.
func NewSessionState() *SessionState {
	return &SessionState{
		Messages:      make([]schema.Message, 0),
		RoutingTarget: schema.TargetSupervisor,
		DomainState:   make(map[string]any),
	}
}

// NewSession creates a session state with a fresh ID.
func NewSession() (*SessionState, error) {
	id, err := schema.NewSessionID()
	if err != nil {
		return nil, err
	}
	s := NewSessionState()
	s.ID = id
	s.UpdatedAt = time.Now().UTC()
	return s, nil
}

// AddMessage adds a message to the conversation history.
func (s *SessionState) AddMessage(role schema.Role, name, content string) {
	s.Messages = append(s.Messages, schema.Message{Role: role, Name: name, Content: content})
}

// LatestContent returns the content of the most recent message, if any.
func (s *SessionState) LatestContent() (string, bool) {
	if len(s.Messages) == 0 {
		return "", false
	}
	return s.Messages[len(s.Messages)-1].Content, true
}

// Clone creates a deep copy of the messages and a copy of the domain map.
// Domain blobs themselves are shared; handlers replace them rather than
// editing in place.
func (s *SessionState) Clone() *SessionState {
	clone := &SessionState{
		ID:            s.ID,
		Messages:      make([]schema.Message, len(s.Messages)),
		CurrentTask:   s.CurrentTask,
		RoutingTarget: s.RoutingTarget,
		DomainState:   make(map[string]any, len(s.DomainState)),
		UpdatedAt:     s.UpdatedAt,
	}

	copy(clone.Messages, s.Messages)
	for k, v := range s.DomainState {
		clone.DomainState[k] = v
	}

	return clone
}

// Apply merges a command into a copy of the state.
// Messages are appended, domain entries replaced key by key.
func (s *SessionState) Apply(cmd Command) (*SessionState, error) {
	if !cmd.Destination.Valid() {
		return nil, &ValidationError{
			Field:   "destination",
			Message: "unknown routing target " + string(cmd.Destination),
		}
	}

	next := s.Clone()
	next.Messages = append(next.Messages, cmd.Patch.Messages...)
	for k, v := range cmd.Patch.DomainState {
		next.DomainState[k] = v
	}
	next.RoutingTarget = cmd.Destination
	next.UpdatedAt = time.Now().UTC()

	return next, nil
}

// BeginTurn returns a copy seeded for a new user utterance.
func (s *SessionState) BeginTurn(input string) *SessionState {
	next := s.Clone()
	next.AddMessage(schema.RoleUser, "", input)
	next.CurrentTask = input
	next.RoutingTarget = schema.TargetSupervisor
	return next
}

// Validate reports the first required field that is missing or unusable.
func (s *SessionState) Validate() error {
	if s == nil {
		return &MissingStateKeyError{Key: "state"}
	}
	if s.RoutingTarget == "" {
		return &MissingStateKeyError{Key: "routing_target"}
	}
	if !s.RoutingTarget.Valid() {
		return &MissingStateKeyError{Key: "routing_target", Detail: "unknown value " + string(s.RoutingTarget)}
	}
	for i, m := range s.Messages {
		if m.Role == "" {
			return &MissingStateKeyError{Key: "messages.role", Detail: "message " + itoa(i)}
		}
	}
	return nil
}
