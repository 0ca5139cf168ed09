package domain

// Roles carried by the caller identity
const (
	RoleUser      = "user"
	RoleOrganizer = "organizer"
	RoleAdmin     = "admin"
)

// Actor is the authenticated caller of an operation
type Actor struct {
	UserID string
	Role   string
}

// IsAdmin reports whether the actor has the admin role
func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// CanManage reports whether the actor may act as organizer of event.
// Admins manage every event; organizers only their own.
func (a Actor) CanManage(event *Event) bool {
	if a.IsAdmin() {
		return true
	}
	return a.Role == RoleOrganizer && event != nil && event.OrganizerID == a.UserID
}

// CanCreateEvents reports whether the actor may create events
func (a Actor) CanCreateEvents() bool {
	return a.Role == RoleAdmin || a.Role == RoleOrganizer
}
