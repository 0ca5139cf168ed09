package domain

import "time"

// NotificationType identifies a registration lifecycle event for the notification sink
type NotificationType string

const (
	NotificationRegistrationConfirmed  NotificationType = "registration.confirmed"
	NotificationRegistrationWaitlisted NotificationType = "registration.waitlisted"
	NotificationWaitlistPromoted       NotificationType = "waitlist.promoted"
	NotificationRegistrationCancelled  NotificationType = "registration.cancelled"
)

// IsValid checks if the type is a known NotificationType
func (t NotificationType) IsValid() bool {
	switch t {
	case NotificationRegistrationConfirmed, NotificationRegistrationWaitlisted,
		NotificationWaitlistPromoted, NotificationRegistrationCancelled:
		return true
	}
	return false
}

// String returns the string representation of NotificationType
func (t NotificationType) String() string {
	return string(t)
}

// Notification is the envelope published after a status change commits.
// OrganizerID is set so the sink can notify the organizer on confirmations.
type Notification struct {
	ID           string           `json:"id"`
	Type         NotificationType `json:"type"`
	Registration *Registration    `json:"registration"`
	Event        *EventSummary    `json:"event"`
	OccurredAt   time.Time        `json:"occurred_at"`
}

// EventSummary is the part of an event a notification carries
type EventSummary struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	OrganizerID   string    `json:"organizer_id"`
	StartDateTime time.Time `json:"start_date_time"`
	EndDateTime   time.Time `json:"end_date_time"`
}

// NewNotification creates a notification for a registration of event
func NewNotification(id string, t NotificationType, reg *Registration, event *Event, now time.Time) *Notification {
	snapshot := *reg
	n := &Notification{
		ID:           id,
		Type:         t,
		Registration: &snapshot,
		OccurredAt:   now,
	}
	if event != nil {
		n.Event = &EventSummary{
			ID:            event.ID,
			Title:         event.Title,
			OrganizerID:   event.OrganizerID,
			StartDateTime: event.StartDateTime,
			EndDateTime:   event.EndDateTime,
		}
	}
	return n
}

// Key returns the partition key. Notifications for one event stay ordered.
func (n *Notification) Key() string {
	if n.Registration == nil {
		return n.ID
	}
	return n.Registration.EventID
}

// UserID returns the user the notification is addressed to
func (n *Notification) UserID() string {
	if n.Registration == nil {
		return ""
	}
	return n.Registration.UserID
}
