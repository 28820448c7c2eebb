// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"

	"github.com/google/uuid"
)

const (
	MaxParticipantIDLen = 64
	MaxDisplayNameLen   = 36
)

var (
	ErrDisplayNameTooLong   = errors.New("display name too long")
	ErrParticipantIDEmpty   = errors.New("participant id empty")
	ErrParticipantIDTooLong = errors.New("participant id too long")
)

// ParticipantID is opaque and stable for the lifetime of a session.
type ParticipantID string

type Participant struct {
	ID          ParticipantID `json:"id"`
	DisplayName string        `json:"displayName,omitempty"`
}

// NewParticipant builds a participant with a generated id when id is empty.
func NewParticipant(id ParticipantID, displayName string) (*Participant, error) {
	if id == "" {
		id = ParticipantID(uuid.NewString())
	}
	if err := id.Validate(); err != nil {
		return nil, err
	}
	if len(displayName) > MaxDisplayNameLen {
		return nil, ErrDisplayNameTooLong
	}
	if displayName == "" {
		displayName = string(id)
	}
	return &Participant{ID: id, DisplayName: displayName}, nil
}

func (id ParticipantID) Validate() error {
	if len(id) == 0 {
		return ErrParticipantIDEmpty
	}
	if len(id) > MaxParticipantIDLen {
		return ErrParticipantIDTooLong
	}
	return nil
}

func (p *Participant) SetDisplayName(name string) error {
	if len(name) > MaxDisplayNameLen {
		return ErrDisplayNameTooLong
	}
	p.DisplayName = name
	return nil
}
