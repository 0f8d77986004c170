package storage

import (
	"context"

	"github.com/google/uuid"
	"github.com/samber/mo"
)

// Storage connects the backend store with the REST and websocket layers.
// Implementations must be safe for concurrent use and should return the
// error types provided by this package.
type Storage interface {
	// User operations.
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id uuid.UUID) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	UpdateUser(ctx context.Context, user *User) error

	// Calendar operations.
	CreateCalendar(ctx context.Context, cal *Calendar) error
	GetCalendar(ctx context.Context, id uuid.UUID) (*Calendar, error)
	ListCalendars(ctx context.Context, ownerID uuid.UUID) ([]*Calendar, error)
	UpdateCalendar(ctx context.Context, cal *Calendar) error
	DeleteCalendar(ctx context.Context, id uuid.UUID) error
	// DefaultCalendar returns the owner's default calendar.
	DefaultCalendar(ctx context.Context, ownerID uuid.UUID) (*Calendar, error)
	// SetDefaultCalendar marks the calendar as the owner's default and
	// clears the flag on any other calendar of the same owner.
	SetDefaultCalendar(ctx context.Context, ownerID, calendarID uuid.UUID) error
	// CheckCalendarAccess reports whether the user may read and subscribe
	// to the calendar.
	CheckCalendarAccess(ctx context.Context, calendarID, userID uuid.UUID) (bool, error)

	// Entry operations.
	CreateEntry(ctx context.Context, entry *Entry) error
	GetEntry(ctx context.Context, id uuid.UUID) (*Entry, error)
	ListEntries(ctx context.Context, calendarID uuid.UUID, filter EntryFilter) ([]*Entry, error)
	UpdateEntry(ctx context.Context, entry *Entry) error
	DeleteEntry(ctx context.Context, id uuid.UUID) error
	CalendarEntryStats(ctx context.Context, calendarID uuid.UUID) (*EntryStats, error)

	// Task operations.
	CreateTask(ctx context.Context, task *Task) error
	GetTask(ctx context.Context, id uuid.UUID) (*Task, error)
	ListTasks(ctx context.Context, calendarID uuid.UUID, status mo.Option[TaskStatus]) ([]*Task, error)
	UpdateTask(ctx context.Context, task *Task) error
	// DeleteTask removes the task; its entries survive with their task
	// reference cleared.
	DeleteTask(ctx context.Context, id uuid.UUID) error
	ListTaskEntries(ctx context.Context, taskID uuid.UUID) ([]*Entry, error)
}
