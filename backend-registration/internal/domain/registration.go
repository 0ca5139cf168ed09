package domain

import (
	"crypto/rand"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// RegistrationStatus represents the status of a registration
type RegistrationStatus string

const (
	RegistrationStatusRegistered RegistrationStatus = "REGISTERED"
	RegistrationStatusWaitlisted RegistrationStatus = "WAITLISTED"
	RegistrationStatusCancelled  RegistrationStatus = "CANCELLED"
)

// IsValid checks if the status is a valid RegistrationStatus
func (s RegistrationStatus) IsValid() bool {
	switch s {
	case RegistrationStatusRegistered, RegistrationStatusWaitlisted, RegistrationStatusCancelled:
		return true
	}
	return false
}

// IsActive reports whether the status occupies the (user, event) slot
func (s RegistrationStatus) IsActive() bool {
	return s == RegistrationStatusRegistered || s == RegistrationStatusWaitlisted
}

// String returns the string representation of RegistrationStatus
func (s RegistrationStatus) String() string {
	return string(s)
}

// CanTransitionTo reports whether from -> to is an edge of the status machine.
// CANCELLED is terminal and nothing re-enters WAITLISTED.
func (s RegistrationStatus) CanTransitionTo(to RegistrationStatus) bool {
	switch s {
	case RegistrationStatusWaitlisted:
		return to == RegistrationStatusRegistered || to == RegistrationStatusCancelled
	case RegistrationStatusRegistered:
		return to == RegistrationStatusCancelled
	}
	return false
}

// Outcome is the result of an admission or cancellation
type Outcome string

const (
	OutcomeAdmitted   Outcome = "ADMITTED"
	OutcomeWaitlisted Outcome = "WAITLISTED"
	OutcomeCancelled  Outcome = "CANCELLED"
)

// Registration is one user's relationship to one event
type Registration struct {
	ID        string             `json:"id"`
	UserID    string             `json:"user_id"`
	EventID   string             `json:"event_id"`
	Status    RegistrationStatus `json:"status"`
	Attended  bool               `json:"attended"`
	Seq       int64              `json:"-"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// NewRegistrationID returns a lexically sortable registration id
func NewRegistrationID(now time.Time) string {
	return ulid.MustNew(ulid.Timestamp(now), rand.Reader).String()
}

// NewRegistration creates a registration in its initial status.
// Seq is assigned by the store on insert.
func NewRegistration(userID, eventID string, status RegistrationStatus, now time.Time) (*Registration, error) {
	r := &Registration{
		ID:        NewRegistrationID(now),
		UserID:    userID,
		EventID:   eventID,
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if status == RegistrationStatusCancelled {
		return nil, ErrInvalidTransition
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Validate validates all registration fields
func (r *Registration) Validate() error {
	if err := r.ValidateUserID(); err != nil {
		return err
	}
	if err := r.ValidateEventID(); err != nil {
		return err
	}
	if !r.Status.IsValid() {
		return ErrInvalidStatus
	}
	return nil
}

// ValidateUserID validates the user ID
func (r *Registration) ValidateUserID() error {
	if strings.TrimSpace(r.UserID) == "" {
		return ErrInvalidUserID
	}
	return nil
}

// ValidateEventID validates the event ID
func (r *Registration) ValidateEventID() error {
	if strings.TrimSpace(r.EventID) == "" {
		return ErrInvalidEventID
	}
	return nil
}

// IsRegistered checks if the registration holds a seat
func (r *Registration) IsRegistered() bool {
	return r.Status == RegistrationStatusRegistered
}

// IsWaitlisted checks if the registration is waiting for a seat
func (r *Registration) IsWaitlisted() bool {
	return r.Status == RegistrationStatusWaitlisted
}

// IsCancelled checks if the registration is cancelled
func (r *Registration) IsCancelled() bool {
	return r.Status == RegistrationStatusCancelled
}

func (r *Registration) transition(to RegistrationStatus, now time.Time) error {
	if !r.Status.CanTransitionTo(to) {
		return ErrInvalidTransition
	}
	r.Status = to
	r.UpdatedAt = now
	return nil
}

// Promote moves a waitlisted registration to registered
func (r *Registration) Promote(now time.Time) error {
	return r.transition(RegistrationStatusRegistered, now)
}

// Cancel marks the registration as cancelled
func (r *Registration) Cancel(now time.Time) error {
	return r.transition(RegistrationStatusCancelled, now)
}

// MarkAttendance records attendance. Only admitted registrants can attend.
func (r *Registration) MarkAttendance(attended bool, now time.Time) error {
	if !r.IsRegistered() {
		return ErrNotAdmitted
	}
	r.Attended = attended
	r.UpdatedAt = now
	return nil
}

// WaitlistEntry is a waitlisted registration with its 1-based queue position
type WaitlistEntry struct {
	Position     int           `json:"position"`
	Registration *Registration `json:"registration"`
}
