// Package repository persists sessions and interaction records.
package repository

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"dmagent/internal/core"
	"dmagent/pkg/schema"
)

// ErrSessionNotFound is returned when a session id has no stored state.
var ErrSessionNotFound = errors.New("session not found")

// SessionStore persists session state between turns.
type SessionStore interface {
	Load(ctx context.Context, id string) (*core.SessionState, error)
	Save(ctx context.Context, state *core.SessionState) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context) ([]SessionInfo, error)
}

// InteractionReader returns the newest interaction records first.
type InteractionReader interface {
	Recent(ctx context.Context, limit int) ([]schema.Interaction, error)
}

// SessionInfo summarizes a stored session.
type SessionInfo struct {
	ID        string    `json:"id"`
	Messages  int       `json:"messages"`
	UpdatedAt time.Time `json:"updated_at"`
}

func infoOf(state *core.SessionState) SessionInfo {
	return SessionInfo{ID: state.ID, Messages: len(state.Messages), UpdatedAt: state.UpdatedAt}
}

var sessionIDRe = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// ValidateSessionID rejects ids that are empty or unsafe as file names and keys.
func ValidateSessionID(id string) error {
	if !sessionIDRe.MatchString(id) {
		return &core.ValidationError{Field: "session_id", Message: fmt.Sprintf("invalid session id %q", id)}
	}
	return nil
}

// prepare validates state and stamps it before it is written.
func prepare(state *core.SessionState) (*core.SessionState, error) {
	if state == nil {
		return nil, &core.MissingStateKeyError{Key: "state"}
	}
	if err := ValidateSessionID(state.ID); err != nil {
		return nil, err
	}
	if err := state.Validate(); err != nil {
		return nil, err
	}
	out := state.Clone()
	if out.UpdatedAt.IsZero() {
		out.UpdatedAt = time.Now().UTC()
	}
	return out, nil
}
