package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prohmpiriya/campus-registration/backend-registration/internal/domain"
	"github.com/prohmpiriya/campus-registration/backend-registration/internal/dto"
	"github.com/prohmpiriya/campus-registration/backend-registration/internal/lock"
	"github.com/prohmpiriya/campus-registration/backend-registration/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testBase = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// testClock is a settable clock
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

// recordingNotifier captures notifications synchronously
type recordingNotifier struct {
	mu            sync.Mutex
	notifications []*domain.Notification
}

func (r *recordingNotifier) Notify(ctx context.Context, n *domain.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications = append(r.notifications, n)
}

func (r *recordingNotifier) ofType(t domain.NotificationType) []*domain.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Notification
	for _, n := range r.notifications {
		if n.Type == t {
			out = append(out, n)
		}
	}
	return out
}

// MockLocker is a mock implementation of lock.EventLocker
type MockLocker struct {
	LockFunc func(ctx context.Context, eventID string) (lock.Unlock, error)
}

func (m *MockLocker) Lock(ctx context.Context, eventID string) (lock.Unlock, error) {
	return m.LockFunc(ctx, eventID)
}

// failingWaitlistRepo fails every waitlist lookup
type failingWaitlistRepo struct {
	repository.RegistrationRepository
	err error
}

func (f *failingWaitlistRepo) FindOldestWaitlisted(ctx context.Context, eventID string) (*domain.Registration, error) {
	return nil, f.err
}

type testEnv struct {
	svc      RegistrationService
	events   *repository.MemoryEventRepository
	regs     *repository.MemoryRegistrationRepository
	notifier *recordingNotifier
	clock    *testClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	events := repository.NewMemoryEventRepository()
	env := &testEnv{
		events:   events,
		regs:     repository.NewMemoryRegistrationRepository(events),
		notifier: &recordingNotifier{},
		clock:    &testClock{now: testBase},
	}
	env.svc = NewRegistrationService(env.events, env.regs, lock.NewLocalLocker(time.Second), env.notifier,
		&RegistrationServiceConfig{Now: env.clock.Now})
	return env
}

func intPtr(v int) *int { return &v }

// addEvent stores an event starting in one day and lasting two hours
func (e *testEnv) addEvent(t *testing.T, id string, maxParticipants *int) *domain.Event {
	t.Helper()
	event := &domain.Event{
		ID:              id,
		Title:           "Event " + id,
		OrganizerID:     "org-1",
		StartDateTime:   testBase.Add(24 * time.Hour),
		EndDateTime:     testBase.Add(26 * time.Hour),
		MaxParticipants: maxParticipants,
	}
	require.NoError(t, e.events.Create(context.Background(), event))
	return event
}

func (e *testEnv) count(t *testing.T, eventID string, status domain.RegistrationStatus) int {
	t.Helper()
	n, err := e.regs.CountByEventAndStatus(context.Background(), eventID, status)
	require.NoError(t, err)
	return n
}

func TestRequestRegistration_CapacityScenario(t *testing.T) {
	env := newTestEnv(t)
	env.addEvent(t, "ev-a", intPtr(2))
	ctx := context.Background()

	r1, err := env.svc.RequestRegistration(ctx, "u1", "ev-a")
	require.NoError(t, err)
	r2, err := env.svc.RequestRegistration(ctx, "u2", "ev-a")
	require.NoError(t, err)
	r3, err := env.svc.RequestRegistration(ctx, "u3", "ev-a")
	require.NoError(t, err)

	assert.Equal(t, "ADMITTED", r1.Outcome)
	assert.Equal(t, "REGISTERED", r1.Registration.Status)
	assert.Equal(t, "ADMITTED", r2.Outcome)
	assert.Equal(t, "WAITLISTED", r3.Outcome)
	assert.Equal(t, "WAITLISTED", r3.Registration.Status)
	assert.Equal(t, 1, r3.WaitlistPosition)
	assert.Zero(t, r1.WaitlistPosition)

	assert.Len(t, env.notifier.ofType(domain.NotificationRegistrationConfirmed), 2)
	assert.Len(t, env.notifier.ofType(domain.NotificationRegistrationWaitlisted), 1)

	t.Run("cancel promotes waitlisted", func(t *testing.T) {
		resp, err := env.svc.CancelRegistration(ctx, "u1", "ev-a")
		require.NoError(t, err)

		assert.Equal(t, "CANCELLED", resp.Outcome)
		assert.Equal(t, "CANCELLED", resp.Registration.Status)
		require.NotNil(t, resp.Promoted)
		assert.Equal(t, "u3", resp.Promoted.UserID)
		assert.Equal(t, "REGISTERED", resp.Promoted.Status)

		promoted := env.notifier.ofType(domain.NotificationWaitlistPromoted)
		require.Len(t, promoted, 1)
		assert.Equal(t, "u3", promoted[0].UserID())
		assert.Len(t, env.notifier.ofType(domain.NotificationRegistrationCancelled), 1)

		assert.Equal(t, 2, env.count(t, "ev-a", domain.RegistrationStatusRegistered))
		assert.Equal(t, 0, env.count(t, "ev-a", domain.RegistrationStatusWaitlisted))
	})
}

func TestCancelRegistration_NoWaitlist(t *testing.T) {
	env := newTestEnv(t)
	env.addEvent(t, "ev-c", intPtr(1))
	ctx := context.Background()

	_, err := env.svc.RequestRegistration(ctx, "u1", "ev-c")
	require.NoError(t, err)

	resp, err := env.svc.CancelRegistration(ctx, "u1", "ev-c")
	require.NoError(t, err)
	assert.Nil(t, resp.Promoted)
	assert.Empty(t, env.notifier.ofType(domain.NotificationWaitlistPromoted))
	assert.Equal(t, 0, env.count(t, "ev-c", domain.RegistrationStatusRegistered))
}

func TestRequestRegistration_UncappedConcurrent(t *testing.T) {
	env := newTestEnv(t)
	env.addEvent(t, "ev-d", nil)

	const n = 100
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			resp, err := env.svc.RequestRegistration(context.Background(), fmt.Sprintf("user-%d", i), "ev-d")
			if err != nil {
				errs <- err
				return
			}
			if resp.Outcome != "ADMITTED" {
				errs <- fmt.Errorf("user-%d: outcome %s", i, resp.Outcome)
			}
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Error(err)
	}
	assert.Equal(t, n, env.count(t, "ev-d", domain.RegistrationStatusRegistered))
	assert.Equal(t, 0, env.count(t, "ev-d", domain.RegistrationStatusWaitlisted))
}

func TestRequestRegistration_CappedConcurrent(t *testing.T) {
	env := newTestEnv(t)
	const n, capacity = 60, 7
	env.addEvent(t, "ev-k", intPtr(capacity))

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := env.svc.RequestRegistration(context.Background(), fmt.Sprintf("user-%d", i), "ev-k")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, capacity, env.count(t, "ev-k", domain.RegistrationStatusRegistered))
	assert.Equal(t, n-capacity, env.count(t, "ev-k", domain.RegistrationStatusWaitlisted))
}

func TestRequestRegistration_Duplicate(t *testing.T) {
	env := newTestEnv(t)
	env.addEvent(t, "ev-e", intPtr(1))
	ctx := context.Background()

	_, err := env.svc.RequestRegistration(ctx, "u1", "ev-e")
	require.NoError(t, err)

	_, err = env.svc.RequestRegistration(ctx, "u1", "ev-e")
	assert.ErrorIs(t, err, domain.ErrAlreadyRegistered)

	// A waitlisted registration blocks as well.
	_, err = env.svc.RequestRegistration(ctx, "u2", "ev-e")
	require.NoError(t, err)
	_, err = env.svc.RequestRegistration(ctx, "u2", "ev-e")
	assert.ErrorIs(t, err, domain.ErrAlreadyRegistered)

	assert.Equal(t, 1, env.count(t, "ev-e", domain.RegistrationStatusRegistered))
	assert.Equal(t, 1, env.count(t, "ev-e", domain.RegistrationStatusWaitlisted))
}

func TestRequestRegistration_DuplicateConcurrent(t *testing.T) {
	env := newTestEnv(t)
	env.addEvent(t, "ev-dup", nil)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.svc.RequestRegistration(context.Background(), "same-user", "ev-dup")
			if err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
				return
			}
			assert.ErrorIs(t, err, domain.ErrAlreadyRegistered)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, env.count(t, "ev-dup", domain.RegistrationStatusRegistered))
}

func TestRequestRegistration_FIFOPromotion(t *testing.T) {
	env := newTestEnv(t)
	env.addEvent(t, "ev-fifo", intPtr(1))
	ctx := context.Background()

	// Same clock reading for every insert: the store sequence breaks the tie.
	for _, u := range []string{"holder", "w1", "w2"} {
		_, err := env.svc.RequestRegistration(ctx, u, "ev-fifo")
		require.NoError(t, err)
	}

	resp, err := env.svc.CancelRegistration(ctx, "holder", "ev-fifo")
	require.NoError(t, err)
	require.NotNil(t, resp.Promoted)
	assert.Equal(t, "w1", resp.Promoted.UserID)

	resp, err = env.svc.CancelRegistration(ctx, "w1", "ev-fifo")
	require.NoError(t, err)
	require.NotNil(t, resp.Promoted)
	assert.Equal(t, "w2", resp.Promoted.UserID)
}

func TestRequestRegistration_EndBoundary(t *testing.T) {
	tests := []struct {
		name    string
		now     time.Time
		wantErr error
	}{
		{name: "one second before end", now: testBase.Add(26*time.Hour - time.Second)},
		{name: "exactly at end", now: testBase.Add(26 * time.Hour), wantErr: domain.ErrEventEnded},
		{name: "after end", now: testBase.Add(27 * time.Hour), wantErr: domain.ErrEventEnded},
		{name: "before start", now: testBase},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.addEvent(t, "ev-b", intPtr(5))
			env.clock.Set(tt.now)

			resp, err := env.svc.RequestRegistration(context.Background(), "u1", "ev-b")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, resp)
				assert.Equal(t, 0, env.count(t, "ev-b", domain.RegistrationStatusRegistered))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "ADMITTED", resp.Outcome)
		})
	}
}

func TestRequestRegistration_Validation(t *testing.T) {
	env := newTestEnv(t)
	env.addEvent(t, "ev-v", nil)
	ctx := context.Background()

	_, err := env.svc.RequestRegistration(ctx, "", "ev-v")
	assert.ErrorIs(t, err, domain.ErrInvalidUserID)

	_, err = env.svc.RequestRegistration(ctx, "u1", " ")
	assert.ErrorIs(t, err, domain.ErrInvalidEventID)

	_, err = env.svc.RequestRegistration(ctx, "u1", "missing")
	assert.ErrorIs(t, err, domain.ErrEventNotFound)
}

func TestRequestRegistration_WaitlistNotOvertaken(t *testing.T) {
	env := newTestEnv(t)
	env.addEvent(t, "ev-o", intPtr(1))
	ctx := context.Background()

	// A waitlisted row while a seat is free, e.g. left behind by a failed promotion.
	stale, err := domain.NewRegistration("waiting", "ev-o", domain.RegistrationStatusWaitlisted, testBase)
	require.NoError(t, err)
	require.NoError(t, env.regs.Insert(ctx, stale))

	resp, err := env.svc.RequestRegistration(ctx, "newcomer", "ev-o")
	require.NoError(t, err)
	assert.Equal(t, "WAITLISTED", resp.Outcome)

	mine, err := env.svc.GetMyRegistration(ctx, "waiting", "ev-o")
	require.NoError(t, err)
	assert.Equal(t, "REGISTERED", mine.Registration.Status)
	assert.Len(t, env.notifier.ofType(domain.NotificationWaitlistPromoted), 1)
}

func TestCancelRegistration_FIFOWithClockStepBack(t *testing.T) {
	env := newTestEnv(t)
	env.addEvent(t, "ev-k", intPtr(1))
	ctx := context.Background()

	_, err := env.svc.RequestRegistration(ctx, "holder", "ev-k")
	require.NoError(t, err)
	_, err = env.svc.RequestRegistration(ctx, "w1", "ev-k")
	require.NoError(t, err)

	// The wall clock steps back between the two waitlist joins.
	env.clock.Set(testBase.Add(-50 * time.Millisecond))
	w2, err := env.svc.RequestRegistration(ctx, "w2", "ev-k")
	require.NoError(t, err)
	assert.Equal(t, 2, w2.WaitlistPosition)

	entries, err := env.regs.ListWaitlisted(ctx, "ev-k")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "w1", entries[0].UserID)
	assert.Equal(t, "w2", entries[1].UserID)

	env.clock.Set(testBase)
	resp, err := env.svc.CancelRegistration(ctx, "holder", "ev-k")
	require.NoError(t, err)
	require.NotNil(t, resp.Promoted)
	assert.Equal(t, "w1", resp.Promoted.UserID)

	mine, err := env.svc.GetMyRegistration(ctx, "w2", "ev-k")
	require.NoError(t, err)
	assert.Equal(t, "WAITLISTED", mine.Registration.Status)
	assert.Equal(t, 1, mine.WaitlistPosition)
}

type staleLedgerKey struct{}

// staleLedgerRepository serves REGISTERED counts from a snapshot to
// requests tagged with staleLedgerKey, the way a replica whose event lock
// lapsed would see the ledger. The first tagged read closes reached and
// then waits on release, when both are set.
type staleLedgerRepository struct {
	repository.RegistrationRepository
	reached chan struct{}
	release chan struct{}

	mu       sync.Mutex
	snapshot *int
	once     sync.Once
}

func (r *staleLedgerRepository) CountByEventAndStatus(ctx context.Context, eventID string, status domain.RegistrationStatus) (int, error) {
	if status != domain.RegistrationStatusRegistered || ctx.Value(staleLedgerKey{}) == nil {
		return r.RegistrationRepository.CountByEventAndStatus(ctx, eventID, status)
	}

	r.mu.Lock()
	if r.snapshot == nil {
		n, err := r.RegistrationRepository.CountByEventAndStatus(ctx, eventID, status)
		if err != nil {
			r.mu.Unlock()
			return 0, err
		}
		r.snapshot = &n
	}
	n := *r.snapshot
	r.mu.Unlock()

	r.once.Do(func() {
		if r.reached != nil {
			close(r.reached)
			<-r.release
		}
	})
	return n, nil
}

// lapsedLocker grants every lock at once, as if each holder's lease had
// expired and been taken over.
func lapsedLocker() *MockLocker {
	return &MockLocker{
		LockFunc: func(ctx context.Context, eventID string) (lock.Unlock, error) {
			return func() {}, nil
		},
	}
}

func TestRequestRegistration_CapacityHeldWhenLockLapses(t *testing.T) {
	env := newTestEnv(t)
	env.addEvent(t, "ev-x", intPtr(1))

	regs := &staleLedgerRepository{
		RegistrationRepository: env.regs,
		reached:                make(chan struct{}),
		release:                make(chan struct{}),
	}
	svc := NewRegistrationService(env.events, regs, lapsedLocker(), env.notifier,
		&RegistrationServiceConfig{Now: env.clock.Now})

	var slow *dto.AdmissionResponse
	var slowErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		ctx := context.WithValue(context.Background(), staleLedgerKey{}, true)
		slow, slowErr = svc.RequestRegistration(ctx, "u1", "ev-x")
	}()

	// u1 has read an empty ledger; u2 takes the only seat meanwhile.
	<-regs.reached
	fast, err := svc.RequestRegistration(context.Background(), "u2", "ev-x")
	require.NoError(t, err)
	assert.Equal(t, "ADMITTED", fast.Outcome)

	close(regs.release)
	<-done
	require.NoError(t, slowErr)
	assert.Equal(t, "WAITLISTED", slow.Outcome)
	assert.Equal(t, "WAITLISTED", slow.Registration.Status)
	assert.Equal(t, 1, slow.WaitlistPosition)

	assert.Equal(t, 1, env.count(t, "ev-x", domain.RegistrationStatusRegistered))
	assert.Equal(t, 1, env.count(t, "ev-x", domain.RegistrationStatusWaitlisted))
	assert.Len(t, env.notifier.ofType(domain.NotificationRegistrationConfirmed), 1)
	assert.Len(t, env.notifier.ofType(domain.NotificationRegistrationWaitlisted), 1)
}

func TestRequestRegistration_StalePromotionRefused(t *testing.T) {
	env := newTestEnv(t)
	env.addEvent(t, "ev-y", intPtr(1))
	ctx := context.Background()

	_, err := env.svc.RequestRegistration(ctx, "holder", "ev-y")
	require.NoError(t, err)
	_, err = env.svc.RequestRegistration(ctx, "w1", "ev-y")
	require.NoError(t, err)

	// The lapsed replica still believes the seat is free.
	regs := &staleLedgerRepository{RegistrationRepository: env.regs, snapshot: intPtr(0)}
	svc := NewRegistrationService(env.events, regs, lapsedLocker(), env.notifier,
		&RegistrationServiceConfig{Now: env.clock.Now})

	resp, err := svc.RequestRegistration(context.WithValue(ctx, staleLedgerKey{}, true), "u3", "ev-y")
	require.NoError(t, err)
	assert.Equal(t, "WAITLISTED", resp.Outcome)
	assert.Equal(t, 2, resp.WaitlistPosition)

	assert.Equal(t, 1, env.count(t, "ev-y", domain.RegistrationStatusRegistered))
	mine, err := env.svc.GetMyRegistration(ctx, "w1", "ev-y")
	require.NoError(t, err)
	assert.Equal(t, "WAITLISTED", mine.Registration.Status)
	assert.Empty(t, env.notifier.ofType(domain.NotificationWaitlistPromoted))
}

func TestRequestRegistration_LockNotAcquired(t *testing.T) {
	env := newTestEnv(t)
	env.addEvent(t, "ev-l", nil)

	locker := &MockLocker{
		LockFunc: func(ctx context.Context, eventID string) (lock.Unlock, error) {
			return nil, lock.ErrNotAcquired
		},
	}
	svc := NewRegistrationService(env.events, env.regs, locker, env.notifier,
		&RegistrationServiceConfig{Now: env.clock.Now})

	_, err := svc.RequestRegistration(context.Background(), "u1", "ev-l")
	assert.ErrorIs(t, err, domain.ErrLockNotAcquired)
	assert.Equal(t, 0, env.count(t, "ev-l", domain.RegistrationStatusRegistered))
	assert.Empty(t, env.notifier.notifications)
}

func TestRequestRegistration_ReRegisterAfterCancel(t *testing.T) {
	env := newTestEnv(t)
	env.addEvent(t, "ev-r", intPtr(3))
	ctx := context.Background()

	first, err := env.svc.RequestRegistration(ctx, "u1", "ev-r")
	require.NoError(t, err)
	_, err = env.svc.CancelRegistration(ctx, "u1", "ev-r")
	require.NoError(t, err)

	second, err := env.svc.RequestRegistration(ctx, "u1", "ev-r")
	require.NoError(t, err)
	assert.Equal(t, "ADMITTED", second.Outcome)
	assert.NotEqual(t, first.Registration.ID, second.Registration.ID)
	assert.Equal(t, 1, env.count(t, "ev-r", domain.RegistrationStatusCancelled))
}

func TestCancelRegistration_Errors(t *testing.T) {
	env := newTestEnv(t)
	env.addEvent(t, "ev-x", intPtr(1))
	ctx := context.Background()

	_, err := env.svc.RequestRegistration(ctx, "u1", "ev-x")
	require.NoError(t, err)
	_, err = env.svc.RequestRegistration(ctx, "u2", "ev-x")
	require.NoError(t, err)

	t.Run("unknown event", func(t *testing.T) {
		_, err := env.svc.CancelRegistration(ctx, "u1", "missing")
		assert.ErrorIs(t, err, domain.ErrEventNotFound)
	})

	t.Run("no registration", func(t *testing.T) {
		_, err := env.svc.CancelRegistration(ctx, "nobody", "ev-x")
		assert.ErrorIs(t, err, domain.ErrRegistrationNotFound)
	})

	t.Run("too late", func(t *testing.T) {
		env.clock.Set(testBase.Add(24 * time.Hour))
		defer env.clock.Set(testBase)

		_, err := env.svc.CancelRegistration(ctx, "u1", "ev-x")
		assert.ErrorIs(t, err, domain.ErrTooLate)

		mine, err := env.svc.GetMyRegistration(ctx, "u1", "ev-x")
		require.NoError(t, err)
		assert.Equal(t, "REGISTERED", mine.Registration.Status)
	})

	t.Run("double cancel", func(t *testing.T) {
		_, err := env.svc.CancelRegistration(ctx, "u2", "ev-x")
		require.NoError(t, err)

		_, err = env.svc.CancelRegistration(ctx, "u2", "ev-x")
		assert.ErrorIs(t, err, domain.ErrRegistrationNotFound)
		assert.Empty(t, env.notifier.ofType(domain.NotificationWaitlistPromoted))
	})
}

func TestCancelRegistration_WaitlistedUser(t *testing.T) {
	env := newTestEnv(t)
	env.addEvent(t, "ev-w", intPtr(1))
	ctx := context.Background()

	for _, u := range []string{"u1", "w1", "w2"} {
		_, err := env.svc.RequestRegistration(ctx, u, "ev-w")
		require.NoError(t, err)
	}

	resp, err := env.svc.CancelRegistration(ctx, "w1", "ev-w")
	require.NoError(t, err)
	assert.Nil(t, resp.Promoted)
	assert.Equal(t, 1, env.count(t, "ev-w", domain.RegistrationStatusRegistered))
	assert.Equal(t, 1, env.count(t, "ev-w", domain.RegistrationStatusWaitlisted))

	mine, err := env.svc.GetMyRegistration(ctx, "w2", "ev-w")
	require.NoError(t, err)
	assert.Equal(t, 1, mine.WaitlistPosition)
}

func TestCancelRegistration_PromotionFailureKeepsCancellation(t *testing.T) {
	env := newTestEnv(t)
	env.addEvent(t, "ev-p", intPtr(1))
	ctx := context.Background()

	_, err := env.svc.RequestRegistration(ctx, "u1", "ev-p")
	require.NoError(t, err)
	_, err = env.svc.RequestRegistration(ctx, "u2", "ev-p")
	require.NoError(t, err)

	broken := &failingWaitlistRepo{RegistrationRepository: env.regs, err: errors.New("connection reset")}
	svc := NewRegistrationService(env.events, broken, lock.NewLocalLocker(time.Second), env.notifier,
		&RegistrationServiceConfig{Now: env.clock.Now})

	resp, err := svc.CancelRegistration(ctx, "u1", "ev-p")
	require.NoError(t, err)
	assert.Equal(t, "CANCELLED", resp.Registration.Status)
	assert.Nil(t, resp.Promoted)
	assert.Equal(t, 0, env.count(t, "ev-p", domain.RegistrationStatusRegistered))
}

func TestCancelRegistrationFor(t *testing.T) {
	env := newTestEnv(t)
	env.addEvent(t, "ev-org", intPtr(1))
	ctx := context.Background()

	_, err := env.svc.RequestRegistration(ctx, "u1", "ev-org")
	require.NoError(t, err)
	_, err = env.svc.RequestRegistration(ctx, "u2", "ev-org")
	require.NoError(t, err)

	tests := []struct {
		name    string
		actor   domain.Actor
		wantErr error
	}{
		{name: "plain user", actor: domain.Actor{UserID: "u2", Role: domain.RoleUser}, wantErr: domain.ErrForbidden},
		{name: "other organizer", actor: domain.Actor{UserID: "org-2", Role: domain.RoleOrganizer}, wantErr: domain.ErrForbidden},
		{name: "owning organizer", actor: domain.Actor{UserID: "org-1", Role: domain.RoleOrganizer}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := env.svc.CancelRegistrationFor(ctx, tt.actor, "u1", "ev-org")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, resp.Promoted)
			assert.Equal(t, "u2", resp.Promoted.UserID)
		})
	}
}

func TestListWaitlist(t *testing.T) {
	env := newTestEnv(t)
	env.addEvent(t, "ev-list", intPtr(1))
	ctx := context.Background()

	for i, u := range []string{"u1", "w1", "w2", "w3"} {
		env.clock.Set(testBase.Add(time.Duration(i) * time.Minute))
		_, err := env.svc.RequestRegistration(ctx, u, "ev-list")
		require.NoError(t, err)
	}

	_, err := env.svc.ListWaitlist(ctx, domain.Actor{UserID: "u1", Role: domain.RoleUser}, "ev-list")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	resp, err := env.svc.ListWaitlist(ctx, domain.Actor{UserID: "root", Role: domain.RoleAdmin}, "ev-list")
	require.NoError(t, err)
	assert.Equal(t, 3, resp.Total)
	for i, want := range []string{"w1", "w2", "w3"} {
		assert.Equal(t, i+1, resp.Entries[i].Position)
		assert.Equal(t, want, resp.Entries[i].UserID)
	}

	mine, err := env.svc.GetMyRegistration(ctx, "w3", "ev-list")
	require.NoError(t, err)
	assert.Equal(t, 3, mine.WaitlistPosition)
}

func TestGetCapacity(t *testing.T) {
	env := newTestEnv(t)
	env.addEvent(t, "ev-cap", intPtr(2))
	env.addEvent(t, "ev-open", nil)
	ctx := context.Background()

	for _, u := range []string{"u1", "u2", "u3"} {
		_, err := env.svc.RequestRegistration(ctx, u, "ev-cap")
		require.NoError(t, err)
	}

	resp, err := env.svc.GetCapacity(ctx, "ev-cap")
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Registered)
	assert.Equal(t, 1, resp.Waitlisted)
	require.NotNil(t, resp.Available)
	assert.Equal(t, 0, *resp.Available)
	assert.Equal(t, 2, *resp.MaxParticipants)

	open, err := env.svc.GetCapacity(ctx, "ev-open")
	require.NoError(t, err)
	assert.Nil(t, open.MaxParticipants)
	assert.Nil(t, open.Available)

	_, err = env.svc.GetCapacity(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrEventNotFound)
}

func TestSetAttendance(t *testing.T) {
	env := newTestEnv(t)
	env.addEvent(t, "ev-att", intPtr(1))
	ctx := context.Background()
	organizer := domain.Actor{UserID: "org-1", Role: domain.RoleOrganizer}

	_, err := env.svc.RequestRegistration(ctx, "u1", "ev-att")
	require.NoError(t, err)
	_, err = env.svc.RequestRegistration(ctx, "u2", "ev-att")
	require.NoError(t, err)

	resp, err := env.svc.SetAttendance(ctx, organizer, "u1", "ev-att", true)
	require.NoError(t, err)
	assert.True(t, resp.Attended)
	assert.Equal(t, "REGISTERED", resp.Status)

	mine, err := env.svc.GetMyRegistration(ctx, "u1", "ev-att")
	require.NoError(t, err)
	assert.True(t, mine.Registration.Attended)

	_, err = env.svc.SetAttendance(ctx, organizer, "u2", "ev-att", true)
	assert.ErrorIs(t, err, domain.ErrNotAdmitted)

	_, err = env.svc.SetAttendance(ctx, domain.Actor{UserID: "org-2", Role: domain.RoleOrganizer}, "u1", "ev-att", false)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = env.svc.SetAttendance(ctx, organizer, "nobody", "ev-att", true)
	assert.ErrorIs(t, err, domain.ErrRegistrationNotFound)
}
