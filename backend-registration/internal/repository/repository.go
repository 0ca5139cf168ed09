package repository

import (
	"context"
	"time"

	"github.com/prohmpiriya/campus-registration/backend-registration/internal/domain"
)

// EventRepository is the read side of the event collaborator plus the
// admin operations used to seed and remove events.
type EventRepository interface {
	// GetByID returns domain.ErrEventNotFound when the event does not exist
	GetByID(ctx context.Context, id string) (*domain.Event, error)
	Create(ctx context.Context, event *domain.Event) error
	// Delete returns domain.ErrEventNotFound when nothing was deleted
	Delete(ctx context.Context, id string) error
}

// RegistrationRepository is the registration store. Implementations must
// enforce at most one non-cancelled registration per (user, event), never
// let REGISTERED rows exceed the event's maxParticipants, and assign Seq
// monotonically on Insert. Seq, not created_at, is the waitlist order.
type RegistrationRepository interface {
	// Insert stores a new registration and sets its Seq.
	// Returns domain.ErrAlreadyRegistered on an active duplicate and
	// domain.ErrEventFull when a REGISTERED row would exceed capacity.
	Insert(ctx context.Context, reg *domain.Registration) error

	// FindActiveByUserEvent returns the REGISTERED or WAITLISTED registration
	// for the pair, or domain.ErrRegistrationNotFound.
	FindActiveByUserEvent(ctx context.Context, userID, eventID string) (*domain.Registration, error)

	// CountByEventAndStatus counts registrations of an event in one status
	CountByEventAndStatus(ctx context.Context, eventID string, status domain.RegistrationStatus) (int, error)

	// FindOldestWaitlisted returns the WAITLISTED registration with the
	// lowest Seq, or domain.ErrRegistrationNotFound.
	FindOldestWaitlisted(ctx context.Context, eventID string) (*domain.Registration, error)

	// UpdateStatus moves a registration from one status to another.
	// Returns domain.ErrInvalidTransition if the stored status is not from,
	// and domain.ErrEventFull when promoting into a full event.
	UpdateStatus(ctx context.Context, id string, from, to domain.RegistrationStatus, updatedAt time.Time) error

	// SetAttended updates the attended flag of a REGISTERED registration.
	// Returns domain.ErrNotAdmitted for any other status.
	SetAttended(ctx context.Context, id string, attended bool, updatedAt time.Time) error

	// ListWaitlisted returns WAITLISTED registrations in promotion order
	ListWaitlisted(ctx context.Context, eventID string) ([]*domain.Registration, error)

	// DeleteByEvent removes every registration of an event
	DeleteByEvent(ctx context.Context, eventID string) (int64, error)
}
