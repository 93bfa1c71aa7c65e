package schema

import (
	"fmt"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// NewSessionID generates a new session ID in format SES-{nanoid(10)}.
func NewSessionID() (string, error) {
	id, err := gonanoid.New(10)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("SES-%s", id), nil
}

// NewInteractionID generates a new interaction ID in format INT-{nanoid(10)}.
func NewInteractionID() (string, error) {
	id, err := gonanoid.New(10)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("INT-%s", id), nil
}
