package worker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/prohmpiriya/campus-registration/backend-registration/internal/domain"
	"github.com/prohmpiriya/campus-registration/pkg/logger"
	"go.uber.org/zap"
)

// Mail is one rendered message
type Mail struct {
	From    string
	To      string
	Subject string
	Body    string
}

// Mailer delivers rendered mail. Recipients are user IDs; resolving them to
// addresses is the transport's job.
type Mailer interface {
	Send(ctx context.Context, mail *Mail) error
}

// LogMailer writes mail to the structured log instead of sending it
type LogMailer struct {
	log *logger.Logger
}

// NewLogMailer creates a LogMailer
func NewLogMailer() *LogMailer {
	return &LogMailer{log: logger.Get().With(zap.String("component", "mailer"))}
}

// Send logs the mail
func (m *LogMailer) Send(ctx context.Context, mail *Mail) error {
	m.log.WithContext(ctx).Info("mail sent",
		zap.String("from", mail.From),
		zap.String("to", mail.To),
		zap.String("subject", mail.Subject),
		zap.Int("body_bytes", len(mail.Body)),
	)
	return nil
}

// RenderMails renders the messages a notification produces. A confirmed
// registration also notifies the event organizer.
func RenderMails(n *domain.Notification, from string) ([]*Mail, error) {
	if n == nil || n.Registration == nil {
		return nil, fmt.Errorf("notification has no registration")
	}
	if !n.Type.IsValid() {
		return nil, fmt.Errorf("unknown notification type %q", n.Type)
	}

	title := n.Registration.EventID
	when := ""
	if n.Event != nil {
		if n.Event.Title != "" {
			title = n.Event.Title
		}
		when = n.Event.StartDateTime.UTC().Format(time.RFC1123)
	}

	mail := &Mail{From: from, To: n.UserID()}
	var body strings.Builder

	switch n.Type {
	case domain.NotificationRegistrationConfirmed:
		mail.Subject = fmt.Sprintf("You're registered for %s", title)
		fmt.Fprintf(&body, "Your seat for %s is confirmed.\n", title)
	case domain.NotificationRegistrationWaitlisted:
		mail.Subject = fmt.Sprintf("You're on the waitlist for %s", title)
		fmt.Fprintf(&body, "%s is full. You have been added to the waitlist and will be notified if a seat opens.\n", title)
	case domain.NotificationWaitlistPromoted:
		mail.Subject = fmt.Sprintf("A seat opened up for %s", title)
		fmt.Fprintf(&body, "Good news: a seat opened up and your registration for %s is now confirmed.\n", title)
	case domain.NotificationRegistrationCancelled:
		mail.Subject = fmt.Sprintf("Registration cancelled for %s", title)
		fmt.Fprintf(&body, "Your registration for %s has been cancelled.\n", title)
	}
	if when != "" {
		fmt.Fprintf(&body, "Starts: %s\n", when)
	}
	fmt.Fprintf(&body, "Registration: %s\n", n.Registration.ID)
	mail.Body = body.String()

	mails := []*Mail{mail}
	if n.Type == domain.NotificationRegistrationConfirmed && n.Event != nil && n.Event.OrganizerID != "" {
		mails = append(mails, &Mail{
			From:    from,
			To:      n.Event.OrganizerID,
			Subject: fmt.Sprintf("New registration for %s", title),
			Body:    fmt.Sprintf("User %s registered for %s.\nRegistration: %s\n", n.UserID(), title, n.Registration.ID),
		})
	}
	return mails, nil
}
