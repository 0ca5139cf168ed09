package dto

import (
	"time"

	"github.com/prohmpiriya/campus-registration/backend-registration/internal/domain"
)

// CreateEventRequest seeds an event snapshot for admission decisions
type CreateEventRequest struct {
	ID              string    `json:"id"`
	Title           string    `json:"title" binding:"required"`
	OrganizerID     string    `json:"organizer_id"`
	StartDateTime   time.Time `json:"start_date_time" binding:"required"`
	EndDateTime     time.Time `json:"end_date_time" binding:"required"`
	MaxParticipants *int      `json:"max_participants" binding:"omitempty,gt=0"`
}

// EventResponse represents an event in API responses
type EventResponse struct {
	ID              string    `json:"id"`
	Title           string    `json:"title"`
	OrganizerID     string    `json:"organizer_id"`
	StartDateTime   time.Time `json:"start_date_time"`
	EndDateTime     time.Time `json:"end_date_time"`
	MaxParticipants *int      `json:"max_participants"`
	CreatedAt       time.Time `json:"created_at"`
}

// FromEvent converts a domain event
func FromEvent(e *domain.Event) *EventResponse {
	if e == nil {
		return nil
	}
	return &EventResponse{
		ID:              e.ID,
		Title:           e.Title,
		OrganizerID:     e.OrganizerID,
		StartDateTime:   e.StartDateTime,
		EndDateTime:     e.EndDateTime,
		MaxParticipants: e.MaxParticipants,
		CreatedAt:       e.CreatedAt,
	}
}

// DeleteEventResponse reports a cascade delete
type DeleteEventResponse struct {
	EventID              string `json:"event_id"`
	RegistrationsDeleted int64  `json:"registrations_deleted"`
}
