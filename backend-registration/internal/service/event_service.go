package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prohmpiriya/campus-registration/backend-registration/internal/domain"
	"github.com/prohmpiriya/campus-registration/backend-registration/internal/dto"
	"github.com/prohmpiriya/campus-registration/backend-registration/internal/lock"
	"github.com/prohmpiriya/campus-registration/backend-registration/internal/repository"
	"github.com/prohmpiriya/campus-registration/pkg/logger"
	"github.com/prohmpiriya/campus-registration/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
)

// EventService manages the event snapshots admission decisions read from
type EventService interface {
	// CreateEvent stores a new event
	CreateEvent(ctx context.Context, actor domain.Actor, req *dto.CreateEventRequest) (*dto.EventResponse, error)

	// GetEvent returns an event by ID
	GetEvent(ctx context.Context, eventID string) (*dto.EventResponse, error)

	// DeleteEvent removes an event and all of its registrations
	DeleteEvent(ctx context.Context, actor domain.Actor, eventID string) (*dto.DeleteEventResponse, error)
}

type eventService struct {
	eventRepo        repository.EventRepository
	registrationRepo repository.RegistrationRepository
	locker           lock.EventLocker
	now              func() time.Time
}

// NewEventService creates a new event service. The locker must be the one
// the registration service uses so deletes serialize with admissions.
func NewEventService(
	eventRepo repository.EventRepository,
	registrationRepo repository.RegistrationRepository,
	locker lock.EventLocker,
	cfg *RegistrationServiceConfig,
) EventService {
	now := time.Now
	if cfg != nil && cfg.Now != nil {
		now = cfg.Now
	}
	if locker == nil {
		locker = lock.NewLocalLocker(0)
	}
	return &eventService{
		eventRepo:        eventRepo,
		registrationRepo: registrationRepo,
		locker:           locker,
		now:              now,
	}
}

// CreateEvent stores a new event. Organizers always own the events they create.
func (s *eventService) CreateEvent(ctx context.Context, actor domain.Actor, req *dto.CreateEventRequest) (*dto.EventResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.event.create")
	defer span.End()

	if !actor.CanCreateEvents() {
		span.SetStatus(codes.Error, "forbidden")
		return nil, domain.ErrForbidden
	}

	organizerID := strings.TrimSpace(req.OrganizerID)
	if organizerID == "" || !actor.IsAdmin() {
		organizerID = actor.UserID
	}

	id := strings.TrimSpace(req.ID)
	if id == "" {
		id = uuid.NewString()
	}

	now := s.now()
	event := &domain.Event{
		ID:              id,
		Title:           strings.TrimSpace(req.Title),
		OrganizerID:     organizerID,
		StartDateTime:   req.StartDateTime.UTC(),
		EndDateTime:     req.EndDateTime.UTC(),
		MaxParticipants: req.MaxParticipants,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	span.SetAttributes(attribute.String("event_id", event.ID))

	if err := event.Validate(); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if err := s.eventRepo.Create(ctx, event); err != nil {
		telemetry.RecordError(span, err, "create event")
		return nil, err
	}

	logger.Get().InfoContext(ctx, "event created",
		zap.String("event_id", event.ID),
		zap.String("organizer_id", event.OrganizerID),
	)

	span.SetStatus(codes.Ok, "")
	return dto.FromEvent(event), nil
}

// GetEvent returns an event by ID
func (s *eventService) GetEvent(ctx context.Context, eventID string) (*dto.EventResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.event.get")
	defer span.End()

	span.SetAttributes(attribute.String("event_id", eventID))

	event, err := s.eventRepo.GetByID(ctx, eventID)
	if err != nil {
		telemetry.RecordError(span, err, "get event")
		return nil, err
	}

	span.SetStatus(codes.Ok, "")
	return dto.FromEvent(event), nil
}

// DeleteEvent removes an event and cascades to its registrations. No
// notifications are emitted for the removed registrations.
func (s *eventService) DeleteEvent(ctx context.Context, actor domain.Actor, eventID string) (*dto.DeleteEventResponse, error) {
	ctx, span := telemetry.StartSpan(ctx, "service.event.delete")
	defer span.End()

	span.SetAttributes(attribute.String("event_id", eventID))

	event, err := s.eventRepo.GetByID(ctx, eventID)
	if err != nil {
		telemetry.RecordError(span, err, "get event")
		return nil, err
	}
	if !actor.CanManage(event) {
		span.SetStatus(codes.Error, "forbidden")
		return nil, domain.ErrForbidden
	}

	unlock, err := s.locker.Lock(ctx, eventID)
	if err != nil {
		err = fmt.Errorf("%w: %v", domain.ErrLockNotAcquired, err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	defer unlock()

	deleted, err := s.registrationRepo.DeleteByEvent(ctx, eventID)
	if err != nil {
		telemetry.RecordError(span, err, "delete registrations")
		return nil, err
	}
	if err := s.eventRepo.Delete(ctx, eventID); err != nil {
		telemetry.RecordError(span, err, "delete event")
		return nil, err
	}

	logger.Get().InfoContext(ctx, "event deleted",
		zap.String("event_id", eventID),
		zap.Int64("registrations_deleted", deleted),
	)

	span.SetAttributes(attribute.Int64("registrations_deleted", deleted))
	span.SetStatus(codes.Ok, "")
	return &dto.DeleteEventResponse{
		EventID:              eventID,
		RegistrationsDeleted: deleted,
	}, nil
}
