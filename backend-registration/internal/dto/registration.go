package dto

import (
	"time"

	"github.com/prohmpiriya/campus-registration/backend-registration/internal/domain"
)

// RegistrationResponse represents a registration in API responses
type RegistrationResponse struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	EventID   string    `json:"event_id"`
	Status    string    `json:"status"`
	Attended  bool      `json:"attended"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FromRegistration converts a domain registration
func FromRegistration(reg *domain.Registration) *RegistrationResponse {
	if reg == nil {
		return nil
	}
	return &RegistrationResponse{
		ID:        reg.ID,
		UserID:    reg.UserID,
		EventID:   reg.EventID,
		Status:    reg.Status.String(),
		Attended:  reg.Attended,
		CreatedAt: reg.CreatedAt,
		UpdatedAt: reg.UpdatedAt,
	}
}

// AdmissionResponse is returned by a registration request
type AdmissionResponse struct {
	Outcome          string                `json:"outcome"`
	Registration     *RegistrationResponse `json:"registration"`
	WaitlistPosition int                   `json:"waitlist_position,omitempty"`
}

// CancellationResponse is returned by a cancellation
type CancellationResponse struct {
	Outcome      string                `json:"outcome"`
	Registration *RegistrationResponse `json:"registration"`
	// Promoted is the waitlisted registration that took the freed seat, if any
	Promoted *RegistrationResponse `json:"promoted,omitempty"`
}

// MyRegistrationResponse is the caller's active registration for an event
type MyRegistrationResponse struct {
	Registration     *RegistrationResponse `json:"registration"`
	WaitlistPosition int                   `json:"waitlist_position,omitempty"`
}

// CapacityResponse is the capacity ledger view of an event
type CapacityResponse struct {
	EventID         string `json:"event_id"`
	MaxParticipants *int   `json:"max_participants"`
	Registered      int    `json:"registered"`
	Waitlisted      int    `json:"waitlisted"`
	Available       *int   `json:"available"`
}

// WaitlistEntryResponse is one waitlisted registration with its position
type WaitlistEntryResponse struct {
	Position int `json:"position"`
	*RegistrationResponse
}

// WaitlistResponse lists an event's waitlist in promotion order
type WaitlistResponse struct {
	EventID string                   `json:"event_id"`
	Total   int                      `json:"total"`
	Entries []*WaitlistEntryResponse `json:"entries"`
}

// ListMeta accompanies a listed collection in the response envelope
type ListMeta struct {
	EventID string `json:"event_id"`
	Total   int    `json:"total"`
}

// SetAttendanceRequest marks a registrant as attended or not
type SetAttendanceRequest struct {
	Attended *bool `json:"attended" binding:"required"`
}
