package realtime

import "github.com/google/uuid"

// Mutation actions used with Notifier. The wire type is
// "<entity>:<action>", e.g. "entry:created" or "task:archived".
const (
	ActionCreated   = "created"
	ActionUpdated   = "updated"
	ActionDeleted   = "deleted"
	ActionCompleted = "completed"
	ActionReopened  = "reopened"
	ActionArchived  = "archived"
)

// Notifier is the surface mutation handlers use to publish change events.
// Each successful mutation results in exactly one Notifier call; the acting
// user is excluded from calendar broadcasts so it never receives an echo of
// its own change.
type Notifier struct {
	registry *Registry
}

// NewNotifier wraps a registry.
func NewNotifier(registry *Registry) *Notifier {
	return &Notifier{registry: registry}
}

// EntryChanged broadcasts an "entry:<action>" event to the calendar's
// subscribers, excluding actor.
func (n *Notifier) EntryChanged(calendarID uuid.UUID, action string, data map[string]any, actor uuid.UUID) {
	n.registry.BroadcastToCalendar(calendarID, NewMessage(EventType("entry", action), data), actor)
}

// TaskChanged broadcasts a "task:<action>" event to the calendar's
// subscribers, excluding actor.
func (n *Notifier) TaskChanged(calendarID uuid.UUID, action string, data map[string]any, actor uuid.UUID) {
	n.registry.BroadcastToCalendar(calendarID, NewMessage(EventType("task", action), data), actor)
}

// CalendarChanged broadcasts a "calendar:<action>" event to the calendar's
// subscribers, excluding actor.
func (n *Notifier) CalendarChanged(calendarID uuid.UUID, action string, data map[string]any, actor uuid.UUID) {
	n.registry.BroadcastToCalendar(calendarID, NewMessage(EventType("calendar", action), data), actor)
}

// SubscriberCount reports how many users currently subscribe to the
// calendar.
func (n *Notifier) SubscriberCount(calendarID uuid.UUID) int {
	return n.registry.SubscriberCount(calendarID)
}

// NotifyUser sends a "notification:<kind>" event to every connection the
// user holds.
func (n *Notifier) NotifyUser(userID uuid.UUID, kind string, data map[string]any) {
	n.registry.BroadcastToUser(userID, NewMessage(EventType("notification", kind), data))
}
