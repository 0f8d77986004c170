package storage

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Error types
type ErrorType string

const (
	ErrNotFound         ErrorType = "not_found"
	ErrAlreadyExists    ErrorType = "already_exists"
	ErrInvalidInput     ErrorType = "invalid_input"
	ErrPermissionDenied ErrorType = "permission_denied"
)

// Error represents a storage-related error
type Error struct {
	Type    ErrorType
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// IsType reports whether err is a storage Error of the given type.
func IsType(err error, t ErrorType) bool {
	var se *Error
	return errors.As(err, &se) && se.Type == t
}

// EntryType classifies an entry.
type EntryType string

const (
	EntryNote  EntryType = "note"
	EntryTask  EntryType = "task"
	EntryEvent EntryType = "event"
)

// Valid reports whether t is a known entry type.
func (t EntryType) Valid() bool {
	switch t {
	case EntryNote, EntryTask, EntryEvent:
		return true
	}
	return false
}

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskActive    TaskStatus = "active"
	TaskCompleted TaskStatus = "completed"
	TaskArchived  TaskStatus = "archived"
	TaskCancelled TaskStatus = "cancelled"
)

// Valid reports whether s is a known task status.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskActive, TaskCompleted, TaskArchived, TaskCancelled:
		return true
	}
	return false
}

// User is an account that owns calendars.
type User struct {
	ID           uuid.UUID  `json:"id"`
	Email        string     `json:"email"`
	Username     string     `json:"username"`
	PasswordHash string     `json:"-"`
	FullName     string     `json:"full_name,omitempty"`
	AvatarURL    string     `json:"avatar_url,omitempty"`
	IsActive     bool       `json:"is_active"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
}

// Calendar is an owner-scoped workspace containing entries and tasks. It is
// the broadcast scoping unit of the realtime layer.
type Calendar struct {
	ID          uuid.UUID `json:"id"`
	OwnerID     uuid.UUID `json:"owner_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Color       string    `json:"color,omitempty"`
	Icon        string    `json:"icon,omitempty"`
	IsDefault   bool      `json:"is_default"`
	IsShared    bool      `json:"is_shared"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Task is a project-like container grouping zero or more entries. Tasks
// carry no timestamp of their own; time information lives on their entries.
// TotalEntries and CompletedEntries are maintained by the storage layer on
// every entry mutation.
type Task struct {
	ID               uuid.UUID  `json:"id"`
	CalendarID       uuid.UUID  `json:"calendar_id"`
	Title            string     `json:"title"`
	Description      string     `json:"description,omitempty"`
	DueDate          *time.Time `json:"due_date,omitempty"`
	Status           TaskStatus `json:"status"`
	CompletedAt      *time.Time `json:"completed_at,omitempty"`
	TotalEntries     int        `json:"total_entries"`
	CompletedEntries int        `json:"completed_entries"`
	Color            string     `json:"color,omitempty"`
	Icon             string     `json:"icon,omitempty"`
	Position         int        `json:"position"`
	CreatedBy        uuid.UUID  `json:"created_by"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// CompletionPercentage returns the integer percentage of completed entries.
func (t *Task) CompletionPercentage() int {
	if t.TotalEntries == 0 {
		return 0
	}
	return t.CompletedEntries * 100 / t.TotalEntries
}

// Entry is the first-class unit of content: a note, task item or event. An
// entry may optionally belong to a task and may optionally carry a
// timestamp; entries without one are unscheduled inbox items.
type Entry struct {
	ID             uuid.UUID  `json:"id"`
	CalendarID     uuid.UUID  `json:"calendar_id"`
	TaskID         *uuid.UUID `json:"task_id,omitempty"`
	Title          string     `json:"title"`
	Content        string     `json:"content,omitempty"`
	Type           EntryType  `json:"entry_type"`
	Completed      bool       `json:"is_completed"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	CompletedBy    *uuid.UUID `json:"completed_by,omitempty"`
	Timestamp      *time.Time `json:"timestamp,omitempty"`
	EndTimestamp   *time.Time `json:"end_timestamp,omitempty"`
	AllDay         bool       `json:"is_all_day"`
	PositionInTask *int       `json:"position_in_task,omitempty"`
	Color          string     `json:"color,omitempty"`
	Tags           []string   `json:"tags,omitempty"`
	Priority       int        `json:"priority"`
	ReminderTime   *time.Time `json:"reminder_time,omitempty"`
	RecurrenceRule string     `json:"recurrence_rule,omitempty"`
	CreatedBy      uuid.UUID  `json:"created_by"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	LastModifiedBy *uuid.UUID `json:"last_modified_by,omitempty"`
}

// Scheduled reports whether the entry carries a timestamp.
func (e *Entry) Scheduled() bool { return e.Timestamp != nil }

// EntryStats summarises a calendar's entries.
type EntryStats struct {
	Total       int               `json:"total"`
	Completed   int               `json:"completed"`
	Scheduled   int               `json:"scheduled"`
	Unscheduled int               `json:"unscheduled"`
	ByType      map[EntryType]int `json:"by_type"`
}
