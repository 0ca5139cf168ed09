package domain

import "errors"

// Domain errors
var (
	// Lookup errors
	ErrEventNotFound        = errors.New("event not found")
	ErrRegistrationNotFound = errors.New("registration not found")

	// Time window errors
	ErrEventEnded = errors.New("event has already ended")
	ErrTooLate    = errors.New("cancellation is only allowed before the event starts")

	// Uniqueness errors
	ErrAlreadyRegistered  = errors.New("user is already registered for this event")
	ErrEventAlreadyExists = errors.New("event already exists")

	// State machine errors
	ErrInvalidTransition = errors.New("invalid registration status transition")
	ErrNotAdmitted       = errors.New("registration is not admitted")

	// Capacity errors
	// ErrEventFull is returned by the store when an admission write would
	// exceed the event's maxParticipants.
	ErrEventFull = errors.New("event has no free seat")

	// Concurrency errors
	ErrLockNotAcquired = errors.New("event is busy, try again")

	// Authorization errors
	ErrForbidden = errors.New("not allowed to manage this event")

	// Validation errors
	ErrInvalidUserID          = errors.New("invalid user id")
	ErrInvalidEventID         = errors.New("invalid event id")
	ErrInvalidEventWindow     = errors.New("event end must be after start")
	ErrInvalidMaxParticipants = errors.New("max participants must be greater than zero")
	ErrInvalidStatus          = errors.New("invalid registration status")
)

// IsNotFoundError checks if the error is a not found error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrEventNotFound) ||
		errors.Is(err, ErrRegistrationNotFound)
}

// IsWindowError checks if the error is a registration/cancellation time window violation
func IsWindowError(err error) bool {
	return errors.Is(err, ErrEventEnded) ||
		errors.Is(err, ErrTooLate)
}

// IsConflictError checks if the error is a conflict error
func IsConflictError(err error) bool {
	return errors.Is(err, ErrAlreadyRegistered) ||
		errors.Is(err, ErrEventAlreadyExists) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrNotAdmitted) ||
		errors.Is(err, ErrEventFull)
}

// IsValidationError checks if the error is a validation error
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidUserID) ||
		errors.Is(err, ErrInvalidEventID) ||
		errors.Is(err, ErrInvalidEventWindow) ||
		errors.Is(err, ErrInvalidMaxParticipants) ||
		errors.Is(err, ErrInvalidStatus)
}
