package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prohmpiriya/campus-registration/backend-registration/internal/domain"
	"github.com/prohmpiriya/campus-registration/backend-registration/internal/metrics"
	"github.com/prohmpiriya/campus-registration/pkg/kafka"
	"github.com/prohmpiriya/campus-registration/pkg/retry"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 4, 10, 12, 0, 0, 0, time.UTC)

// MockMailer records sent mail and fails the first FailTimes sends
type MockMailer struct {
	mu        sync.Mutex
	FailTimes int
	calls     int
	sent      []*Mail
}

func (m *MockMailer) Send(ctx context.Context, mail *Mail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.calls <= m.FailTimes {
		return errors.New("smtp unavailable")
	}
	m.sent = append(m.sent, mail)
	return nil
}

func (m *MockMailer) sentTo() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var to []string
	for _, mail := range m.sent {
		to = append(to, mail.To)
	}
	return to
}

// MockDLQPublisher records dead letters, or fails with Err when set
type MockDLQPublisher struct {
	mu       sync.Mutex
	Err      error
	messages []*retry.DLQMessage
}

func (m *MockDLQPublisher) PublishToDLQ(ctx context.Context, msg *retry.DLQMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.messages = append(m.messages, msg)
	return nil
}

// MockSource serves batches then reports the client closed
type MockSource struct {
	mu        sync.Mutex
	batches   [][]*kafka.Record
	committed []*kafka.Record
}

func (m *MockSource) Poll(ctx context.Context) ([]*kafka.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.batches) == 0 {
		return nil, kafka.ErrClientClosed
	}
	batch := m.batches[0]
	m.batches = m.batches[1:]
	return batch, nil
}

func (m *MockSource) CommitRecords(ctx context.Context, records []*kafka.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.committed = append(m.committed, records...)
	return nil
}

func testConfig() *NotificationWorkerConfig {
	return &NotificationWorkerConfig{
		Workers:     2,
		FromAddress: "events@campus.test",
		Retry: &retry.Config{
			MaxRetries:      2,
			InitialInterval: time.Millisecond,
			MaxInterval:     2 * time.Millisecond,
			Multiplier:      2,
		},
	}
}

func notificationRecord(t *testing.T, id string, nt domain.NotificationType, userID, eventID string) *kafka.Record {
	t.Helper()
	reg, err := domain.NewRegistration(userID, eventID, domain.RegistrationStatusRegistered, testNow)
	require.NoError(t, err)
	event := &domain.Event{
		ID:            eventID,
		Title:         "Spring Hackathon",
		OrganizerID:   "org-1",
		StartDateTime: testNow.Add(48 * time.Hour),
		EndDateTime:   testNow.Add(50 * time.Hour),
	}
	value, err := json.Marshal(domain.NewNotification(id, nt, reg, event, testNow))
	require.NoError(t, err)
	return &kafka.Record{Topic: "registration-events", Key: []byte(eventID), Value: value}
}

func TestNotificationWorker_DeliversAndCommits(t *testing.T) {
	source := &MockSource{batches: [][]*kafka.Record{{
		notificationRecord(t, "n1", domain.NotificationRegistrationConfirmed, "u1", "ev-1"),
		notificationRecord(t, "n2", domain.NotificationWaitlistPromoted, "u2", "ev-2"),
		{Topic: "registration-events", Key: []byte("ev-3"), Value: []byte("{not json")},
	}}}
	mailer := &MockMailer{}
	dlq := &MockDLQPublisher{}
	malformedBefore := testutil.ToFloat64(metrics.NotificationsMalformedTotal)

	w := NewNotificationWorker(source, mailer, dlq, testConfig())
	require.NoError(t, w.Run(context.Background()))

	// Confirmation goes to the user and the organizer.
	assert.ElementsMatch(t, []string{"u1", "org-1", "u2"}, mailer.sentTo())
	assert.Len(t, source.committed, 3)
	assert.Empty(t, dlq.messages)
	assert.Equal(t, malformedBefore+1, testutil.ToFloat64(metrics.NotificationsMalformedTotal))
}

func TestNotificationWorker_RetriesTransientFailures(t *testing.T) {
	mailer := &MockMailer{FailTimes: 2}
	dlq := &MockDLQPublisher{}
	w := NewNotificationWorker(&MockSource{}, mailer, dlq, testConfig())

	require.NoError(t, w.ProcessBatch(context.Background(), []*kafka.Record{
		notificationRecord(t, "n1", domain.NotificationRegistrationCancelled, "u1", "ev-1"),
	}))

	assert.Equal(t, []string{"u1"}, mailer.sentTo())
	assert.Empty(t, dlq.messages)
}

func TestNotificationWorker_DeadLettersAfterRetries(t *testing.T) {
	mailer := &MockMailer{FailTimes: 100}
	dlq := &MockDLQPublisher{}
	before := testutil.ToFloat64(metrics.NotificationsDeadLetteredTotal)
	w := NewNotificationWorker(&MockSource{}, mailer, dlq, testConfig())

	require.NoError(t, w.ProcessBatch(context.Background(), []*kafka.Record{
		notificationRecord(t, "n-dead", domain.NotificationRegistrationWaitlisted, "u1", "ev-1"),
	}))

	require.Len(t, dlq.messages, 1)
	msg := dlq.messages[0]
	assert.Equal(t, "n-dead", msg.ID)
	assert.Equal(t, "registration-events", msg.OriginalTopic)
	assert.Equal(t, "ev-1", msg.OriginalKey)
	assert.Equal(t, 3, msg.Attempts)
	assert.Contains(t, msg.Error, "smtp unavailable")
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.NotificationsDeadLetteredTotal))
}

func TestNotificationWorker_DLQFailureLeavesBatchUncommitted(t *testing.T) {
	source := &MockSource{batches: [][]*kafka.Record{{
		notificationRecord(t, "n1", domain.NotificationRegistrationConfirmed, "u1", "ev-1"),
		notificationRecord(t, "n2", domain.NotificationRegistrationCancelled, "u2", "ev-2"),
	}}}
	mailer := &MockMailer{FailTimes: 100}
	dlq := &MockDLQPublisher{Err: errors.New("broker down")}
	before := testutil.ToFloat64(metrics.NotificationsDeadLetteredTotal)

	w := NewNotificationWorker(source, mailer, dlq, testConfig())
	err := w.Run(context.Background())

	assert.ErrorIs(t, err, retry.ErrDLQPublishFailed)
	assert.Empty(t, source.committed)
	assert.Equal(t, before, testutil.ToFloat64(metrics.NotificationsDeadLetteredTotal))
}

func TestNotificationWorker_KeepsOrderPerEvent(t *testing.T) {
	mailer := &MockMailer{}
	w := NewNotificationWorker(&MockSource{}, mailer, nil, testConfig())

	require.NoError(t, w.ProcessBatch(context.Background(), []*kafka.Record{
		notificationRecord(t, "n1", domain.NotificationRegistrationCancelled, "u1", "ev-1"),
		notificationRecord(t, "n2", domain.NotificationWaitlistPromoted, "u2", "ev-1"),
		notificationRecord(t, "n3", domain.NotificationRegistrationCancelled, "u3", "ev-1"),
	}))

	assert.Equal(t, []string{"u1", "u2", "u3"}, mailer.sentTo())
}

func TestRenderMails(t *testing.T) {
	reg, err := domain.NewRegistration("u1", "ev-1", domain.RegistrationStatusWaitlisted, testNow)
	require.NoError(t, err)
	event := &domain.Event{ID: "ev-1", Title: "Film Club", OrganizerID: "org-1", StartDateTime: testNow, EndDateTime: testNow.Add(time.Hour)}

	tests := []struct {
		name        string
		ntype       domain.NotificationType
		wantMails   int
		wantSubject string
	}{
		{name: "confirmed", ntype: domain.NotificationRegistrationConfirmed, wantMails: 2, wantSubject: "You're registered for Film Club"},
		{name: "waitlisted", ntype: domain.NotificationRegistrationWaitlisted, wantMails: 1, wantSubject: "You're on the waitlist for Film Club"},
		{name: "promoted", ntype: domain.NotificationWaitlistPromoted, wantMails: 1, wantSubject: "A seat opened up for Film Club"},
		{name: "cancelled", ntype: domain.NotificationRegistrationCancelled, wantMails: 1, wantSubject: "Registration cancelled for Film Club"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mails, err := RenderMails(domain.NewNotification("n", tt.ntype, reg, event, testNow), "from@campus.test")
			require.NoError(t, err)
			require.Len(t, mails, tt.wantMails)
			assert.Equal(t, "u1", mails[0].To)
			assert.Equal(t, "from@campus.test", mails[0].From)
			assert.Equal(t, tt.wantSubject, mails[0].Subject)
			assert.Contains(t, mails[0].Body, reg.ID)
		})
	}

	_, err = RenderMails(&domain.Notification{ID: "n", Type: "bogus", Registration: reg}, "")
	assert.Error(t, err)

	_, err = RenderMails(&domain.Notification{ID: "n", Type: domain.NotificationRegistrationConfirmed}, "")
	assert.Error(t, err)
}
