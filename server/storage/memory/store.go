// Package memory holds the in-memory reference implementation of
// storage.Storage. State is process-lifetime only.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/mo"

	"github.com/entrycal/entrycal/server/storage"
)

// Store implements storage.Storage using in-memory maps guarded by a single
// RWMutex. Returned entities are copies; callers never share memory with the
// store.
type Store struct {
	mu        sync.RWMutex
	users     map[uuid.UUID]*storage.User
	emails    map[string]uuid.UUID
	calendars map[uuid.UUID]*storage.Calendar
	entries   map[uuid.UUID]*storage.Entry
	tasks     map[uuid.UUID]*storage.Task
	now       func() time.Time
}

// New creates an empty store.
func New() *Store {
	return &Store{
		users:     make(map[uuid.UUID]*storage.User),
		emails:    make(map[string]uuid.UUID),
		calendars: make(map[uuid.UUID]*storage.Calendar),
		entries:   make(map[uuid.UUID]*storage.Entry),
		tasks:     make(map[uuid.UUID]*storage.Task),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func notFound(what string) error {
	return &storage.Error{Type: storage.ErrNotFound, Message: what + " not found"}
}

// User operations

func (s *Store) CreateUser(_ context.Context, user *storage.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.emails[user.Email]; exists {
		return &storage.Error{Type: storage.ErrAlreadyExists, Message: "email already registered"}
	}
	for _, u := range s.users {
		if u.Username == user.Username {
			return &storage.Error{Type: storage.ErrAlreadyExists, Message: "username already taken"}
		}
	}

	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	now := s.now()
	user.CreatedAt = now
	user.UpdatedAt = now
	user.IsActive = true

	u := *user
	s.users[u.ID] = &u
	s.emails[u.Email] = u.ID
	return nil
}

func (s *Store) GetUser(_ context.Context, id uuid.UUID) (*storage.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return nil, notFound("user")
	}
	u := *user
	return &u, nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (*storage.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.emails[email]
	if !ok {
		return nil, notFound("user")
	}
	u := *s.users[id]
	return &u, nil
}

func (s *Store) UpdateUser(_ context.Context, user *storage.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.users[user.ID]
	if !ok {
		return notFound("user")
	}
	user.CreatedAt = stored.CreatedAt
	user.UpdatedAt = s.now()

	delete(s.emails, stored.Email)
	u := *user
	s.users[u.ID] = &u
	s.emails[u.Email] = u.ID
	return nil
}

// Calendar operations

func (s *Store) CreateCalendar(_ context.Context, cal *storage.Calendar) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[cal.OwnerID]; !ok {
		return notFound("owner")
	}
	if cal.ID == uuid.Nil {
		cal.ID = uuid.New()
	}
	now := s.now()
	cal.CreatedAt = now
	cal.UpdatedAt = now

	if cal.IsDefault {
		s.clearDefaultLocked(cal.OwnerID)
	} else if !s.ownerHasDefaultLocked(cal.OwnerID) {
		// The owner's first calendar becomes the default.
		cal.IsDefault = true
	}

	c := *cal
	s.calendars[c.ID] = &c
	return nil
}

func (s *Store) ownerHasDefaultLocked(ownerID uuid.UUID) bool {
	for _, c := range s.calendars {
		if c.OwnerID == ownerID && c.IsDefault {
			return true
		}
	}
	return false
}

func (s *Store) clearDefaultLocked(ownerID uuid.UUID) {
	for _, c := range s.calendars {
		if c.OwnerID == ownerID && c.IsDefault {
			c.IsDefault = false
		}
	}
}

func (s *Store) GetCalendar(_ context.Context, id uuid.UUID) (*storage.Calendar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cal, ok := s.calendars[id]
	if !ok {
		return nil, notFound("calendar")
	}
	c := *cal
	return &c, nil
}

func (s *Store) ListCalendars(_ context.Context, ownerID uuid.UUID) ([]*storage.Calendar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*storage.Calendar
	for _, cal := range s.calendars {
		if cal.OwnerID == ownerID {
			c := *cal
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].IsDefault != out[j].IsDefault {
			return out[i].IsDefault
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) UpdateCalendar(_ context.Context, cal *storage.Calendar) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.calendars[cal.ID]
	if !ok {
		return notFound("calendar")
	}
	cal.OwnerID = stored.OwnerID
	cal.CreatedAt = stored.CreatedAt
	cal.IsDefault = stored.IsDefault
	cal.UpdatedAt = s.now()

	c := *cal
	s.calendars[c.ID] = &c
	return nil
}

func (s *Store) DeleteCalendar(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.calendars[id]; !ok {
		return notFound("calendar")
	}
	delete(s.calendars, id)
	for entryID, e := range s.entries {
		if e.CalendarID == id {
			delete(s.entries, entryID)
		}
	}
	for taskID, t := range s.tasks {
		if t.CalendarID == id {
			delete(s.tasks, taskID)
		}
	}
	return nil
}

func (s *Store) DefaultCalendar(_ context.Context, ownerID uuid.UUID) (*storage.Calendar, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, cal := range s.calendars {
		if cal.OwnerID == ownerID && cal.IsDefault {
			c := *cal
			return &c, nil
		}
	}
	return nil, notFound("default calendar")
}

func (s *Store) SetDefaultCalendar(_ context.Context, ownerID, calendarID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cal, ok := s.calendars[calendarID]
	if !ok || cal.OwnerID != ownerID {
		return notFound("calendar")
	}
	s.clearDefaultLocked(ownerID)
	cal.IsDefault = true
	cal.UpdatedAt = s.now()
	return nil
}

func (s *Store) CheckCalendarAccess(_ context.Context, calendarID, userID uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cal, ok := s.calendars[calendarID]
	if !ok {
		return false, notFound("calendar")
	}
	return cal.OwnerID == userID || cal.IsShared, nil
}

// Entry operations

func (s *Store) CreateEntry(_ context.Context, entry *storage.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.calendars[entry.CalendarID]; !ok {
		return notFound("calendar")
	}
	if entry.TaskID != nil {
		task, ok := s.tasks[*entry.TaskID]
		if !ok || task.CalendarID != entry.CalendarID {
			return &storage.Error{Type: storage.ErrInvalidInput, Message: "task does not belong to calendar"}
		}
	}
	if !entry.Type.Valid() {
		return &storage.Error{Type: storage.ErrInvalidInput, Message: "unknown entry type"}
	}

	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	now := s.now()
	entry.CreatedAt = now
	entry.UpdatedAt = now

	e := *entry
	s.entries[e.ID] = &e
	if e.TaskID != nil {
		s.recountTaskLocked(*e.TaskID)
	}
	return nil
}

func (s *Store) GetEntry(_ context.Context, id uuid.UUID) (*storage.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.entries[id]
	if !ok {
		return nil, notFound("entry")
	}
	e := *entry
	return &e, nil
}

func (s *Store) ListEntries(_ context.Context, calendarID uuid.UUID, filter storage.EntryFilter) ([]*storage.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*storage.Entry
	for _, entry := range s.entries {
		if entry.CalendarID != calendarID || !filter.Matches(entry) {
			continue
		}
		e := *entry
		out = append(out, &e)
	}
	sortEntries(out)
	return out, nil
}

// sortEntries orders scheduled entries by timestamp, then inbox entries by
// creation time.
func sortEntries(entries []*storage.Entry) {
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		switch {
		case a.Scheduled() && b.Scheduled():
			if !a.Timestamp.Equal(*b.Timestamp) {
				return a.Timestamp.Before(*b.Timestamp)
			}
		case a.Scheduled():
			return true
		case b.Scheduled():
			return false
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
}

func (s *Store) UpdateEntry(_ context.Context, entry *storage.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.entries[entry.ID]
	if !ok {
		return notFound("entry")
	}
	if entry.TaskID != nil {
		task, ok := s.tasks[*entry.TaskID]
		if !ok || task.CalendarID != stored.CalendarID {
			return &storage.Error{Type: storage.ErrInvalidInput, Message: "task does not belong to calendar"}
		}
	}

	entry.CalendarID = stored.CalendarID
	entry.CreatedBy = stored.CreatedBy
	entry.CreatedAt = stored.CreatedAt
	entry.UpdatedAt = s.now()

	e := *entry
	s.entries[e.ID] = &e

	if stored.TaskID != nil {
		s.recountTaskLocked(*stored.TaskID)
	}
	if e.TaskID != nil && (stored.TaskID == nil || *stored.TaskID != *e.TaskID) {
		s.recountTaskLocked(*e.TaskID)
	}
	return nil
}

func (s *Store) DeleteEntry(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[id]
	if !ok {
		return notFound("entry")
	}
	delete(s.entries, id)
	if entry.TaskID != nil {
		s.recountTaskLocked(*entry.TaskID)
	}
	return nil
}

func (s *Store) CalendarEntryStats(_ context.Context, calendarID uuid.UUID) (*storage.EntryStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.calendars[calendarID]; !ok {
		return nil, notFound("calendar")
	}

	stats := &storage.EntryStats{ByType: make(map[storage.EntryType]int)}
	for _, e := range s.entries {
		if e.CalendarID != calendarID {
			continue
		}
		stats.Total++
		if e.Completed {
			stats.Completed++
		}
		if e.Scheduled() {
			stats.Scheduled++
		} else {
			stats.Unscheduled++
		}
		stats.ByType[e.Type]++
	}
	return stats, nil
}

// Task operations

func (s *Store) CreateTask(_ context.Context, task *storage.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.calendars[task.CalendarID]; !ok {
		return notFound("calendar")
	}
	if task.Status == "" {
		task.Status = storage.TaskActive
	}
	if !task.Status.Valid() {
		return &storage.Error{Type: storage.ErrInvalidInput, Message: "unknown task status"}
	}

	if task.ID == uuid.Nil {
		task.ID = uuid.New()
	}
	now := s.now()
	task.CreatedAt = now
	task.UpdatedAt = now
	task.TotalEntries = 0
	task.CompletedEntries = 0

	t := *task
	s.tasks[t.ID] = &t
	return nil
}

func (s *Store) GetTask(_ context.Context, id uuid.UUID) (*storage.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	task, ok := s.tasks[id]
	if !ok {
		return nil, notFound("task")
	}
	t := *task
	return &t, nil
}

func (s *Store) ListTasks(_ context.Context, calendarID uuid.UUID, status mo.Option[storage.TaskStatus]) ([]*storage.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*storage.Task
	for _, task := range s.tasks {
		if task.CalendarID != calendarID {
			continue
		}
		if want, ok := status.Get(); ok && task.Status != want {
			continue
		}
		t := *task
		out = append(out, &t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Position != out[j].Position {
			return out[i].Position < out[j].Position
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *Store) UpdateTask(_ context.Context, task *storage.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.tasks[task.ID]
	if !ok {
		return notFound("task")
	}
	if !task.Status.Valid() {
		return &storage.Error{Type: storage.ErrInvalidInput, Message: "unknown task status"}
	}

	task.CalendarID = stored.CalendarID
	task.CreatedBy = stored.CreatedBy
	task.CreatedAt = stored.CreatedAt
	task.TotalEntries = stored.TotalEntries
	task.CompletedEntries = stored.CompletedEntries
	task.UpdatedAt = s.now()

	t := *task
	s.tasks[t.ID] = &t
	return nil
}

func (s *Store) DeleteTask(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tasks[id]; !ok {
		return notFound("task")
	}
	delete(s.tasks, id)
	for _, e := range s.entries {
		if e.TaskID != nil && *e.TaskID == id {
			e.TaskID = nil
			e.PositionInTask = nil
		}
	}
	return nil
}

func (s *Store) ListTaskEntries(_ context.Context, taskID uuid.UUID) ([]*storage.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.tasks[taskID]; !ok {
		return nil, notFound("task")
	}

	var out []*storage.Entry
	for _, entry := range s.entries {
		if entry.TaskID != nil && *entry.TaskID == taskID {
			e := *entry
			out = append(out, &e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		ap, bp := 0, 0
		if a.PositionInTask != nil {
			ap = *a.PositionInTask
		}
		if b.PositionInTask != nil {
			bp = *b.PositionInTask
		}
		if ap != bp {
			return ap < bp
		}
		return a.CreatedAt.Before(b.CreatedAt)
	})
	return out, nil
}

// recountTaskLocked refreshes a task's entry statistics after an entry
// mutation. Caller holds s.mu.
func (s *Store) recountTaskLocked(taskID uuid.UUID) {
	task, ok := s.tasks[taskID]
	if !ok {
		return
	}
	total, completed := 0, 0
	for _, e := range s.entries {
		if e.TaskID != nil && *e.TaskID == taskID {
			total++
			if e.Completed {
				completed++
			}
		}
	}
	task.TotalEntries = total
	task.CompletedEntries = completed
	task.UpdatedAt = s.now()
}
