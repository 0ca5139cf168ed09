package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prohmpiriya/campus-registration/backend-registration/internal/domain"
	"github.com/prohmpiriya/campus-registration/backend-registration/internal/dto"
	"github.com/prohmpiriya/campus-registration/backend-registration/internal/lock"
	"github.com/prohmpiriya/campus-registration/backend-registration/internal/metrics"
	"github.com/prohmpiriya/campus-registration/backend-registration/internal/repository"
	"github.com/prohmpiriya/campus-registration/pkg/logger"
	"github.com/prohmpiriya/campus-registration/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// RegistrationService defines the admission and cancellation operations
type RegistrationService interface {
	// RequestRegistration admits the user or puts them on the waitlist
	RequestRegistration(ctx context.Context, userID, eventID string) (*dto.AdmissionResponse, error)

	// CancelRegistration cancels the user's own registration and promotes
	// the head of the waitlist into the freed seat
	CancelRegistration(ctx context.Context, userID, eventID string) (*dto.CancellationResponse, error)

	// CancelRegistrationFor cancels another user's registration on behalf of
	// the event organizer or an admin
	CancelRegistrationFor(ctx context.Context, actor domain.Actor, userID, eventID string) (*dto.CancellationResponse, error)

	// GetMyRegistration returns the user's active registration for an event
	GetMyRegistration(ctx context.Context, userID, eventID string) (*dto.MyRegistrationResponse, error)

	// GetCapacity returns the capacity ledger view of an event
	GetCapacity(ctx context.Context, eventID string) (*dto.CapacityResponse, error)

	// ListWaitlist returns the waitlist in promotion order
	ListWaitlist(ctx context.Context, actor domain.Actor, eventID string) (*dto.WaitlistResponse, error)

	// SetAttendance marks an admitted registrant as attended or not
	SetAttendance(ctx context.Context, actor domain.Actor, userID, eventID string, attended bool) (*dto.RegistrationResponse, error)
}

// registrationService implements RegistrationService. Every read-then-write
// on an event's registrations runs inside that event's lock.
type registrationService struct {
	eventRepo        repository.EventRepository
	registrationRepo repository.RegistrationRepository
	locker           lock.EventLocker
	notifier         Notifier
	now              func() time.Time
}

// RegistrationServiceConfig contains configuration for registration service
type RegistrationServiceConfig struct {
	// Now overrides the clock, for tests
	Now func() time.Time
}

// NewRegistrationService creates a new registration service
func NewRegistrationService(
	eventRepo repository.EventRepository,
	registrationRepo repository.RegistrationRepository,
	locker lock.EventLocker,
	notifier Notifier,
	cfg *RegistrationServiceConfig,
) RegistrationService {
	now := time.Now
	if cfg != nil && cfg.Now != nil {
		now = cfg.Now
	}
	if locker == nil {
		locker = lock.NewLocalLocker(0)
	}
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &registrationService{
		eventRepo:        eventRepo,
		registrationRepo: registrationRepo,
		locker:           locker,
		notifier:         notifier,
		now:              now,
	}
}

// RequestRegistration admits the user if the event has a free seat,
// otherwise waitlists them.
func (s *registrationService) RequestRegistration(ctx context.Context, userID, eventID string) (*dto.AdmissionResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.registration.request")
	defer span.End()

	span.SetAttributes(
		attribute.String("user_id", userID),
		attribute.String("event_id", eventID),
	)

	if err := validateIDs(userID, eventID); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	// Fail fast before contending for the lock.
	event, err := s.eventRepo.GetByID(ctx, eventID)
	if err != nil {
		return nil, s.reject(span, "lookup", err)
	}
	if event.HasEnded(s.now()) {
		return nil, s.reject(span, "window", domain.ErrEventEnded)
	}

	unlock, err := s.lockEvent(ctx, eventID)
	if err != nil {
		return nil, s.reject(span, "lock", err)
	}
	defer unlock()

	// Re-resolve under the lock: the event may have been deleted while waiting.
	event, err = s.eventRepo.GetByID(ctx, eventID)
	if err != nil {
		return nil, s.reject(span, "lookup", err)
	}
	now := s.now()
	if event.HasEnded(now) {
		return nil, s.reject(span, "window", domain.ErrEventEnded)
	}

	_, err = s.registrationRepo.FindActiveByUserEvent(ctx, userID, eventID)
	switch {
	case err == nil:
		return nil, s.reject(span, "duplicate", domain.ErrAlreadyRegistered)
	case !errors.Is(err, domain.ErrRegistrationNotFound):
		return nil, s.reject(span, "lookup", err)
	}

	admitted, err := s.admittedCount(ctx, event, now)
	if err != nil {
		return nil, s.reject(span, "count", err)
	}

	status := domain.RegistrationStatusWaitlisted
	outcome := domain.OutcomeWaitlisted
	if event.HasFreeSeat(admitted) {
		status = domain.RegistrationStatusRegistered
		outcome = domain.OutcomeAdmitted
	}

	reg, err := domain.NewRegistration(userID, eventID, status, now)
	if err != nil {
		return nil, s.reject(span, "validation", err)
	}
	err = s.registrationRepo.Insert(ctx, reg)
	if errors.Is(err, domain.ErrEventFull) {
		// The store saw the last seat taken after our count, which only
		// happens when the event lock lapsed mid-section.
		logger.Get().WarnContext(ctx, "seat taken after capacity check, waitlisting",
			zap.String("event_id", eventID),
			zap.String("user_id", userID),
		)
		metrics.CapacityConflictsTotal.Inc()
		status, outcome = domain.RegistrationStatusWaitlisted, domain.OutcomeWaitlisted
		if reg, err = domain.NewRegistration(userID, eventID, status, now); err == nil {
			err = s.registrationRepo.Insert(ctx, reg)
		}
	}
	if err != nil {
		return nil, s.reject(span, "insert", err)
	}

	resp := &dto.AdmissionResponse{
		Outcome:      string(outcome),
		Registration: dto.FromRegistration(reg),
	}

	notificationType := domain.NotificationRegistrationConfirmed
	if outcome == domain.OutcomeWaitlisted {
		notificationType = domain.NotificationRegistrationWaitlisted
		// The new entry is the newest, so it sits at the tail of the waitlist.
		waitlisted, err := s.registrationRepo.CountByEventAndStatus(ctx, eventID, domain.RegistrationStatusWaitlisted)
		if err == nil {
			resp.WaitlistPosition = waitlisted
		}
	}

	s.notify(ctx, notificationType, reg, event, now)
	metrics.AdmissionsTotal.WithLabelValues(string(outcome)).Inc()

	span.SetAttributes(attribute.String("outcome", string(outcome)))
	span.SetStatus(codes.Ok, "")
	return resp, nil
}

// CancelRegistration cancels the caller's own registration
func (s *registrationService) CancelRegistration(ctx context.Context, userID, eventID string) (*dto.CancellationResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.registration.cancel")
	defer span.End()

	span.SetAttributes(
		attribute.String("user_id", userID),
		attribute.String("event_id", eventID),
	)

	if err := validateIDs(userID, eventID); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	resp, err := s.cancel(ctx, userID, eventID, nil)
	if err != nil {
		telemetry.RecordError(span, err, "cancel failed")
		return nil, err
	}
	span.SetStatus(codes.Ok, "")
	return resp, nil
}

// CancelRegistrationFor cancels userID's registration on behalf of actor
func (s *registrationService) CancelRegistrationFor(ctx context.Context, actor domain.Actor, userID, eventID string) (*dto.CancellationResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.registration.cancel_for")
	defer span.End()

	span.SetAttributes(
		attribute.String("actor_id", actor.UserID),
		attribute.String("user_id", userID),
		attribute.String("event_id", eventID),
	)

	if err := validateIDs(userID, eventID); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	resp, err := s.cancel(ctx, userID, eventID, &actor)
	if err != nil {
		telemetry.RecordError(span, err, "cancel failed")
		return nil, err
	}
	span.SetStatus(codes.Ok, "")
	return resp, nil
}

// cancel runs the cancellation and promotion engine. A non-nil actor must
// be allowed to manage the event.
func (s *registrationService) cancel(ctx context.Context, userID, eventID string, actor *domain.Actor) (*dto.CancellationResponse, error) {
	event, err := s.eventRepo.GetByID(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if actor != nil && !actor.CanManage(event) {
		return nil, domain.ErrForbidden
	}

	unlock, err := s.lockEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	reg, err := s.registrationRepo.FindActiveByUserEvent(ctx, userID, eventID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if event.HasStarted(now) {
		return nil, domain.ErrTooLate
	}

	previous := reg.Status
	if err := reg.Cancel(now); err != nil {
		return nil, err
	}
	if err := s.registrationRepo.UpdateStatus(ctx, reg.ID, previous, domain.RegistrationStatusCancelled, now); err != nil {
		return nil, fmt.Errorf("failed to cancel registration: %w", err)
	}
	metrics.CancellationsTotal.WithLabelValues(previous.String()).Inc()

	resp := &dto.CancellationResponse{
		Outcome:      string(domain.OutcomeCancelled),
		Registration: dto.FromRegistration(reg),
	}

	// The cancellation is committed; a promotion failure must not undo it.
	promoted, err := s.promoteWaitlisted(ctx, event, now)
	if err != nil {
		logger.Get().ErrorContext(ctx, "waitlist promotion failed",
			zap.String("event_id", eventID),
			zap.Error(err),
		)
	}
	if len(promoted) > 0 {
		resp.Promoted = dto.FromRegistration(promoted[0])
	}

	s.notify(ctx, domain.NotificationRegistrationCancelled, reg, event, now)
	return resp, nil
}

// admittedCount reads the capacity ledger. For capped events it first
// promotes waitlisted registrants into any free seats, so a newcomer never
// overtakes the waitlist.
func (s *registrationService) admittedCount(ctx context.Context, event *domain.Event, now time.Time) (int, error) {
	if event.IsCapped() {
		if _, err := s.promoteWaitlisted(ctx, event, now); err != nil {
			return 0, err
		}
	}
	return s.registrationRepo.CountByEventAndStatus(ctx, event.ID, domain.RegistrationStatusRegistered)
}

// promoteWaitlisted moves the oldest waitlisted registrations into free
// seats, in FIFO order. Must be called with the event lock held.
func (s *registrationService) promoteWaitlisted(ctx context.Context, event *domain.Event, now time.Time) ([]*domain.Registration, error) {
	if !event.IsCapped() {
		return nil, nil
	}

	var promoted []*domain.Registration
	for {
		admitted, err := s.registrationRepo.CountByEventAndStatus(ctx, event.ID, domain.RegistrationStatusRegistered)
		if err != nil {
			return promoted, err
		}
		if !event.HasFreeSeat(admitted) {
			return promoted, nil
		}

		next, err := s.registrationRepo.FindOldestWaitlisted(ctx, event.ID)
		if errors.Is(err, domain.ErrRegistrationNotFound) {
			return promoted, nil
		}
		if err != nil {
			return promoted, err
		}

		if err := next.Promote(now); err != nil {
			return promoted, err
		}
		err = s.registrationRepo.UpdateStatus(ctx, next.ID, domain.RegistrationStatusWaitlisted, domain.RegistrationStatusRegistered, now)
		if errors.Is(err, domain.ErrEventFull) {
			metrics.CapacityConflictsTotal.Inc()
			return promoted, nil
		}
		if err != nil {
			return promoted, fmt.Errorf("failed to promote registration %s: %w", next.ID, err)
		}

		metrics.PromotionsTotal.Inc()
		s.notify(ctx, domain.NotificationWaitlistPromoted, next, event, now)
		promoted = append(promoted, next)
	}
}

// GetMyRegistration returns the user's active registration with its waitlist position
func (s *registrationService) GetMyRegistration(ctx context.Context, userID, eventID string) (*dto.MyRegistrationResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.registration.get_mine")
	defer span.End()

	if err := validateIDs(userID, eventID); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	reg, err := s.registrationRepo.FindActiveByUserEvent(ctx, userID, eventID)
	if err != nil {
		telemetry.RecordError(span, err, "find registration")
		return nil, err
	}

	resp := &dto.MyRegistrationResponse{Registration: dto.FromRegistration(reg)}
	if reg.IsWaitlisted() {
		waitlist, err := s.registrationRepo.ListWaitlisted(ctx, eventID)
		if err != nil {
			telemetry.RecordError(span, err, "list waitlist")
			return nil, err
		}
		for i, w := range waitlist {
			if w.ID == reg.ID {
				resp.WaitlistPosition = i + 1
				break
			}
		}
	}

	span.SetStatus(codes.Ok, "")
	return resp, nil
}

// GetCapacity returns the capacity ledger view of an event
func (s *registrationService) GetCapacity(ctx context.Context, eventID string) (*dto.CapacityResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.registration.get_capacity")
	defer span.End()

	event, err := s.eventRepo.GetByID(ctx, eventID)
	if err != nil {
		telemetry.RecordError(span, err, "get event")
		return nil, err
	}

	registered, err := s.registrationRepo.CountByEventAndStatus(ctx, eventID, domain.RegistrationStatusRegistered)
	if err != nil {
		telemetry.RecordError(span, err, "count registered")
		return nil, err
	}
	waitlisted, err := s.registrationRepo.CountByEventAndStatus(ctx, eventID, domain.RegistrationStatusWaitlisted)
	if err != nil {
		telemetry.RecordError(span, err, "count waitlisted")
		return nil, err
	}

	span.SetStatus(codes.Ok, "")
	return &dto.CapacityResponse{
		EventID:         eventID,
		MaxParticipants: event.MaxParticipants,
		Registered:      registered,
		Waitlisted:      waitlisted,
		Available:       event.Available(registered),
	}, nil
}

// ListWaitlist returns the waitlist with 1-based positions
func (s *registrationService) ListWaitlist(ctx context.Context, actor domain.Actor, eventID string) (*dto.WaitlistResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.registration.list_waitlist")
	defer span.End()

	event, err := s.eventRepo.GetByID(ctx, eventID)
	if err != nil {
		telemetry.RecordError(span, err, "get event")
		return nil, err
	}
	if !actor.CanManage(event) {
		span.SetStatus(codes.Error, "forbidden")
		return nil, domain.ErrForbidden
	}

	waitlist, err := s.registrationRepo.ListWaitlisted(ctx, eventID)
	if err != nil {
		telemetry.RecordError(span, err, "list waitlist")
		return nil, err
	}

	resp := &dto.WaitlistResponse{
		EventID: eventID,
		Total:   len(waitlist),
		Entries: make([]*dto.WaitlistEntryResponse, len(waitlist)),
	}
	for i, reg := range waitlist {
		resp.Entries[i] = &dto.WaitlistEntryResponse{
			Position:             i + 1,
			RegistrationResponse: dto.FromRegistration(reg),
		}
	}

	span.SetStatus(codes.Ok, "")
	return resp, nil
}

// SetAttendance marks an admitted registrant as attended or not
func (s *registrationService) SetAttendance(ctx context.Context, actor domain.Actor, userID, eventID string, attended bool) (*dto.RegistrationResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.registration.set_attendance")
	defer span.End()

	span.SetAttributes(
		attribute.String("user_id", userID),
		attribute.String("event_id", eventID),
		attribute.Bool("attended", attended),
	)

	event, err := s.eventRepo.GetByID(ctx, eventID)
	if err != nil {
		telemetry.RecordError(span, err, "get event")
		return nil, err
	}
	if !actor.CanManage(event) {
		span.SetStatus(codes.Error, "forbidden")
		return nil, domain.ErrForbidden
	}

	reg, err := s.registrationRepo.FindActiveByUserEvent(ctx, userID, eventID)
	if err != nil {
		telemetry.RecordError(span, err, "find registration")
		return nil, err
	}

	now := s.now()
	if err := reg.MarkAttendance(attended, now); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if err := s.registrationRepo.SetAttended(ctx, reg.ID, attended, now); err != nil {
		telemetry.RecordError(span, err, "set attended")
		return nil, err
	}

	span.SetStatus(codes.Ok, "")
	return dto.FromRegistration(reg), nil
}

func (s *registrationService) lockEvent(ctx context.Context, eventID string) (lock.Unlock, error) {
	start := time.Now()
	unlock, err := s.locker.Lock(ctx, eventID)
	metrics.LockWaitSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.LockFailuresTotal.Inc()
		return nil, fmt.Errorf("%w: %v", domain.ErrLockNotAcquired, err)
	}
	return unlock, nil
}

func (s *registrationService) notify(ctx context.Context, t domain.NotificationType, reg *domain.Registration, event *domain.Event, now time.Time) {
	s.notifier.Notify(ctx, domain.NewNotification(uuid.NewString(), t, reg, event, now))
}

// reject records a failed admission on the span and the rejection counter
func (s *registrationService) reject(span trace.Span, stage string, err error) error {
	metrics.AdmissionRejectionsTotal.WithLabelValues(rejectionReason(stage, err)).Inc()
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func rejectionReason(stage string, err error) string {
	switch {
	case errors.Is(err, domain.ErrEventNotFound):
		return "event_not_found"
	case errors.Is(err, domain.ErrEventEnded):
		return "event_ended"
	case errors.Is(err, domain.ErrAlreadyRegistered):
		return "already_registered"
	case errors.Is(err, domain.ErrLockNotAcquired):
		return "busy"
	}
	return stage
}

func validateIDs(userID, eventID string) error {
	if strings.TrimSpace(userID) == "" {
		return domain.ErrInvalidUserID
	}
	if strings.TrimSpace(eventID) == "" {
		return domain.ErrInvalidEventID
	}
	return nil
}

// NopNotifier discards notifications
type NopNotifier struct{}

// Notify is a no-op
func (NopNotifier) Notify(ctx context.Context, n *domain.Notification) {}
