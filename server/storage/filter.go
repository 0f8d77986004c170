package storage

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/mo"
)

// EntryFilter narrows ListEntries. Absent options match every entry.
type EntryFilter struct {
	// TaskID restricts to entries belonging to a task.
	TaskID mo.Option[uuid.UUID]
	// Type restricts to one entry type.
	Type mo.Option[EntryType]
	// Completed restricts by completion state.
	Completed mo.Option[bool]
	// From and To bound the entry's scheduled time. From is inclusive, To
	// exclusive. An entry with an end timestamp matches if its span
	// overlaps the window. Unscheduled entries never match a time bound.
	From mo.Option[time.Time]
	To   mo.Option[time.Time]
	// UnscheduledOnly restricts to inbox entries (no timestamp).
	UnscheduledOnly bool
	// Tag requires the entry to carry the given tag.
	Tag mo.Option[string]
	// Search requires a case-insensitive substring match against the
	// entry's title or content.
	Search mo.Option[string]
}

// Matches reports whether the entry satisfies every set constraint.
func (f EntryFilter) Matches(e *Entry) bool {
	if taskID, ok := f.TaskID.Get(); ok {
		if e.TaskID == nil || *e.TaskID != taskID {
			return false
		}
	}
	if typ, ok := f.Type.Get(); ok && e.Type != typ {
		return false
	}
	if completed, ok := f.Completed.Get(); ok && e.Completed != completed {
		return false
	}
	if f.UnscheduledOnly && e.Scheduled() {
		return false
	}
	if !f.matchesWindow(e) {
		return false
	}
	if tag, ok := f.Tag.Get(); ok && !containsTag(e.Tags, tag) {
		return false
	}
	if search, ok := f.Search.Get(); ok {
		needle := strings.ToLower(search)
		if !strings.Contains(strings.ToLower(e.Title), needle) &&
			!strings.Contains(strings.ToLower(e.Content), needle) {
			return false
		}
	}
	return true
}

func (f EntryFilter) matchesWindow(e *Entry) bool {
	from, hasFrom := f.From.Get()
	to, hasTo := f.To.Get()
	if !hasFrom && !hasTo {
		return true
	}
	if !e.Scheduled() {
		return false
	}

	start := *e.Timestamp
	end := start
	if e.EndTimestamp != nil {
		end = *e.EndTimestamp
	}

	if hasFrom && end.Before(from) {
		return false
	}
	if hasTo && !start.Before(to) {
		return false
	}
	return true
}

func containsTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}
