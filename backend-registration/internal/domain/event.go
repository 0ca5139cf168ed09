package domain

import (
	"strings"
	"time"
)

// Event is the read-only snapshot of an event used for admission decisions.
// A nil MaxParticipants means the event has no capacity limit.
type Event struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	OrganizerID     string    `json:"organizer_id"`
	StartDateTime   time.Time `json:"start_date_time"`
	EndDateTime     time.Time `json:"end_date_time"`
	MaxParticipants *int      `json:"max_participants,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Validate validates all event fields
func (e *Event) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return ErrInvalidEventID
	}
	if !e.EndDateTime.After(e.StartDateTime) {
		return ErrInvalidEventWindow
	}
	if e.MaxParticipants != nil && *e.MaxParticipants <= 0 {
		return ErrInvalidMaxParticipants
	}
	return nil
}

// IsCapped reports whether the event limits admitted participants
func (e *Event) IsCapped() bool {
	return e.MaxParticipants != nil
}

// HasEnded reports whether registration is closed at now.
// An event whose end equals now has ended.
func (e *Event) HasEnded(now time.Time) bool {
	return !now.Before(e.EndDateTime)
}

// HasStarted reports whether cancellation is closed at now
func (e *Event) HasStarted(now time.Time) bool {
	return !now.Before(e.StartDateTime)
}

// HasFreeSeat reports whether one more registrant can be admitted
// given the current admitted count.
func (e *Event) HasFreeSeat(admitted int) bool {
	if !e.IsCapped() {
		return true
	}
	return admitted < *e.MaxParticipants
}

// Available returns the number of free seats, or nil for uncapped events
func (e *Event) Available(admitted int) *int {
	if !e.IsCapped() {
		return nil
	}
	free := *e.MaxParticipants - admitted
	if free < 0 {
		free = 0
	}
	return &free
}
