package repository

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/prohmpiriya/campus-registration/backend-registration/internal/domain"
)

// MemoryEventRepository keeps events in process memory. Used by the
// memory store and tests.
type MemoryEventRepository struct {
	mu     sync.RWMutex
	events map[string]*domain.Event
}

// NewMemoryEventRepository creates an empty MemoryEventRepository
func NewMemoryEventRepository() *MemoryEventRepository {
	return &MemoryEventRepository{events: make(map[string]*domain.Event)}
}

// GetByID returns a copy of the stored event
func (r *MemoryEventRepository) GetByID(ctx context.Context, id string) (*domain.Event, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	event, ok := r.events[id]
	if !ok {
		return nil, domain.ErrEventNotFound
	}
	return copyEvent(event), nil
}

// Create stores a new event
func (r *MemoryEventRepository) Create(ctx context.Context, event *domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.events[event.ID]; ok {
		return domain.ErrEventAlreadyExists
	}
	r.events[event.ID] = copyEvent(event)
	return nil
}

// Delete removes an event
func (r *MemoryEventRepository) Delete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.events[id]; !ok {
		return domain.ErrEventNotFound
	}
	delete(r.events, id)
	return nil
}

func copyEvent(e *domain.Event) *domain.Event {
	c := *e
	if e.MaxParticipants != nil {
		limit := *e.MaxParticipants
		c.MaxParticipants = &limit
	}
	return &c
}

// MemoryRegistrationRepository is an in-process registration store. A
// store-wide sequence counter gives the FIFO order. When built with an
// event repository, admission writes are refused once the event is full.
type MemoryRegistrationRepository struct {
	mu      sync.RWMutex
	seq     int64
	events  EventRepository
	byID    map[string]*domain.Registration
	byEvent map[string][]*domain.Registration
}

// NewMemoryRegistrationRepository creates an empty MemoryRegistrationRepository.
// events may be nil, which disables the capacity guard.
func NewMemoryRegistrationRepository(events EventRepository) *MemoryRegistrationRepository {
	return &MemoryRegistrationRepository{
		events:  events,
		byID:    make(map[string]*domain.Registration),
		byEvent: make(map[string][]*domain.Registration),
	}
}

// seatTaken reports whether admitting one more registrant to eventID would
// exceed its cap. Caller holds r.mu.
func (r *MemoryRegistrationRepository) seatTaken(ctx context.Context, eventID string) (bool, error) {
	if r.events == nil {
		return false, nil
	}
	event, err := r.events.GetByID(ctx, eventID)
	if errors.Is(err, domain.ErrEventNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	admitted := 0
	for _, reg := range r.byEvent[eventID] {
		if reg.IsRegistered() {
			admitted++
		}
	}
	return !event.HasFreeSeat(admitted), nil
}

// Insert stores a registration, rejecting an active duplicate
func (r *MemoryRegistrationRepository) Insert(ctx context.Context, reg *domain.Registration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if reg.Status.IsActive() {
		for _, existing := range r.byEvent[reg.EventID] {
			if existing.UserID == reg.UserID && existing.Status.IsActive() {
				return domain.ErrAlreadyRegistered
			}
		}
	}

	if reg.IsRegistered() {
		full, err := r.seatTaken(ctx, reg.EventID)
		if err != nil {
			return err
		}
		if full {
			return domain.ErrEventFull
		}
	}

	r.seq++
	reg.Seq = r.seq
	stored := *reg
	r.byID[reg.ID] = &stored
	r.byEvent[reg.EventID] = append(r.byEvent[reg.EventID], &stored)
	return nil
}

// FindActiveByUserEvent returns the active registration for the pair
func (r *MemoryRegistrationRepository) FindActiveByUserEvent(ctx context.Context, userID, eventID string) (*domain.Registration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, reg := range r.byEvent[eventID] {
		if reg.UserID == userID && reg.Status.IsActive() {
			c := *reg
			return &c, nil
		}
	}
	return nil, domain.ErrRegistrationNotFound
}

// CountByEventAndStatus counts registrations of an event in status
func (r *MemoryRegistrationRepository) CountByEventAndStatus(ctx context.Context, eventID string, status domain.RegistrationStatus) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, reg := range r.byEvent[eventID] {
		if reg.Status == status {
			count++
		}
	}
	return count, nil
}

// FindOldestWaitlisted returns the head of the event's waitlist
func (r *MemoryRegistrationRepository) FindOldestWaitlisted(ctx context.Context, eventID string) (*domain.Registration, error) {
	waitlist, _ := r.ListWaitlisted(ctx, eventID)
	if len(waitlist) == 0 {
		return nil, domain.ErrRegistrationNotFound
	}
	return waitlist[0], nil
}

// UpdateStatus applies a compare-and-set status change
func (r *MemoryRegistrationRepository) UpdateStatus(ctx context.Context, id string, from, to domain.RegistrationStatus, updatedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.byID[id]
	if !ok {
		return domain.ErrRegistrationNotFound
	}
	if reg.Status != from {
		return domain.ErrInvalidTransition
	}
	if to == domain.RegistrationStatusRegistered {
		full, err := r.seatTaken(ctx, reg.EventID)
		if err != nil {
			return err
		}
		if full {
			return domain.ErrEventFull
		}
	}
	reg.Status = to
	reg.UpdatedAt = updatedAt
	return nil
}

// SetAttended updates the attended flag of an admitted registration
func (r *MemoryRegistrationRepository) SetAttended(ctx context.Context, id string, attended bool, updatedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	reg, ok := r.byID[id]
	if !ok {
		return domain.ErrRegistrationNotFound
	}
	if !reg.IsRegistered() {
		return domain.ErrNotAdmitted
	}
	reg.Attended = attended
	reg.UpdatedAt = updatedAt
	return nil
}

// ListWaitlisted returns the event's waitlist in insertion order
func (r *MemoryRegistrationRepository) ListWaitlisted(ctx context.Context, eventID string) ([]*domain.Registration, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var waitlist []*domain.Registration
	for _, reg := range r.byEvent[eventID] {
		if reg.IsWaitlisted() {
			c := *reg
			waitlist = append(waitlist, &c)
		}
	}
	sort.Slice(waitlist, func(i, j int) bool {
		return waitlist[i].Seq < waitlist[j].Seq
	})
	return waitlist, nil
}

// DeleteByEvent drops every registration of an event
func (r *MemoryRegistrationRepository) DeleteByEvent(ctx context.Context, eventID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	regs := r.byEvent[eventID]
	for _, reg := range regs {
		delete(r.byID, reg.ID)
	}
	delete(r.byEvent, eventID)
	return int64(len(regs)), nil
}
