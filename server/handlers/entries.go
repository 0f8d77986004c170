package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/samber/mo"

	"github.com/entrycal/entrycal/server/ics"
	"github.com/entrycal/entrycal/server/realtime"
	"github.com/entrycal/entrycal/server/storage"
)

type createEntryRequest struct {
	CalendarID     uuid.UUID         `json:"calendar_id"`
	TaskID         *uuid.UUID        `json:"task_id,omitempty"`
	Title          string            `json:"title"`
	Content        string            `json:"content,omitempty"`
	EntryType      storage.EntryType `json:"entry_type,omitempty"`
	Timestamp      *time.Time        `json:"timestamp,omitempty"`
	EndTimestamp   *time.Time        `json:"end_timestamp,omitempty"`
	IsAllDay       bool              `json:"is_all_day,omitempty"`
	Color          string            `json:"color,omitempty"`
	Tags           []string          `json:"tags,omitempty"`
	Priority       int               `json:"priority,omitempty"`
	ReminderTime   *time.Time        `json:"reminder_time,omitempty"`
	RecurrenceRule string            `json:"recurrence_rule,omitempty"`
}

type updateEntryRequest struct {
	Title          *string    `json:"title,omitempty"`
	Content        *string    `json:"content,omitempty"`
	Timestamp      *time.Time `json:"timestamp,omitempty"`
	EndTimestamp   *time.Time `json:"end_timestamp,omitempty"`
	ClearTimestamp bool       `json:"clear_timestamp,omitempty"`
	IsAllDay       *bool      `json:"is_all_day,omitempty"`
	Color          *string    `json:"color,omitempty"`
	Tags           *[]string  `json:"tags,omitempty"`
	Priority       *int       `json:"priority,omitempty"`
	ReminderTime   *time.Time `json:"reminder_time,omitempty"`
	RecurrenceRule *string    `json:"recurrence_rule,omitempty"`
}

type taskLinkRequest struct {
	TaskID uuid.UUID `json:"task_id"`
}

type batchDeleteRequest struct {
	EntryIDs []uuid.UUID `json:"entry_ids"`
}

// batchUpdateRequest applies the same patch to a set of entries.
type batchUpdateRequest struct {
	EntryIDs  []uuid.UUID `json:"entry_ids"`
	Tags      *[]string   `json:"tags,omitempty"`
	Color     *string     `json:"color,omitempty"`
	Priority  *int        `json:"priority,omitempty"`
	Completed *bool       `json:"is_completed,omitempty"`
}

func (a *API) createEntry(w http.ResponseWriter, r *http.Request) {
	var req createEntryRequest
	if err := decode(r, &req); err != nil {
		a.respondError(w, r, err)
		return
	}
	if req.Title == "" {
		a.respondError(w, r, invalidInput("title is required"))
		return
	}
	if req.EntryType == "" {
		req.EntryType = storage.EntryNote
	}
	if err := ics.ValidateRule(req.RecurrenceRule); err != nil {
		a.respondError(w, r, err)
		return
	}

	cal, err := a.authorizedCalendar(r, req.CalendarID.String())
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	userID := principal(r).UserID

	entry := &storage.Entry{
		CalendarID:     cal.ID,
		TaskID:         req.TaskID,
		Title:          req.Title,
		Content:        req.Content,
		Type:           req.EntryType,
		Timestamp:      req.Timestamp,
		EndTimestamp:   req.EndTimestamp,
		AllDay:         req.IsAllDay,
		Color:          req.Color,
		Tags:           req.Tags,
		Priority:       req.Priority,
		ReminderTime:   req.ReminderTime,
		RecurrenceRule: req.RecurrenceRule,
		CreatedBy:      userID,
	}
	if err := a.store.CreateEntry(r.Context(), entry); err != nil {
		a.respondError(w, r, err)
		return
	}

	a.notifier.EntryChanged(cal.ID, realtime.ActionCreated, map[string]any{
		"id":    entry.ID.String(),
		"title": entry.Title,
	}, userID)
	a.respond(w, http.StatusCreated, entry)
}

func (a *API) getEntry(w http.ResponseWriter, r *http.Request) {
	entry, err := a.authorizedEntry(r, chi.URLParam(r, "entryID"))
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	a.respond(w, http.StatusOK, entry)
}

func (a *API) listEntries(w http.ResponseWriter, r *http.Request) {
	cal, err := a.authorizedCalendar(r, r.URL.Query().Get("calendar_id"))
	if err != nil {
		a.respondError(w, r, err)
		return
	}

	filter, err := entryFilterFromQuery(r)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	entries, err := a.store.ListEntries(r.Context(), cal.ID, filter)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	a.respond(w, http.StatusOK, map[string]any{
		"entries": entries,
		"total":   len(entries),
	})
}

// entryFilterFromQuery maps list query parameters onto an EntryFilter.
func entryFilterFromQuery(r *http.Request) (storage.EntryFilter, error) {
	q := r.URL.Query()
	var filter storage.EntryFilter

	if raw := q.Get("task_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			return filter, invalidInput("invalid task_id")
		}
		filter.TaskID = mo.Some(id)
	}
	if raw := q.Get("entry_type"); raw != "" {
		t := storage.EntryType(raw)
		if !t.Valid() {
			return filter, invalidInput("unknown entry_type")
		}
		filter.Type = mo.Some(t)
	}
	if raw := q.Get("is_completed"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return filter, invalidInput("invalid is_completed")
		}
		filter.Completed = mo.Some(b)
	}
	if raw := q.Get("start"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, invalidInput("invalid start time")
		}
		filter.From = mo.Some(t)
	}
	if raw := q.Get("end"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, invalidInput("invalid end time")
		}
		filter.To = mo.Some(t)
	}
	if raw := q.Get("unscheduled"); raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return filter, invalidInput("invalid unscheduled")
		}
		filter.UnscheduledOnly = b
	}
	if raw := q.Get("tag"); raw != "" {
		filter.Tag = mo.Some(raw)
	}
	if raw := q.Get("search"); raw != "" {
		filter.Search = mo.Some(raw)
	}
	return filter, nil
}

func (a *API) updateEntry(w http.ResponseWriter, r *http.Request) {
	entry, err := a.authorizedEntry(r, chi.URLParam(r, "entryID"))
	if err != nil {
		a.respondError(w, r, err)
		return
	}

	var req updateEntryRequest
	if err := decode(r, &req); err != nil {
		a.respondError(w, r, err)
		return
	}
	if req.Title != nil {
		if *req.Title == "" {
			a.respondError(w, r, invalidInput("title cannot be empty"))
			return
		}
		entry.Title = *req.Title
	}
	if req.Content != nil {
		entry.Content = *req.Content
	}
	if req.ClearTimestamp {
		entry.Timestamp = nil
		entry.EndTimestamp = nil
	} else {
		if req.Timestamp != nil {
			entry.Timestamp = req.Timestamp
		}
		if req.EndTimestamp != nil {
			entry.EndTimestamp = req.EndTimestamp
		}
	}
	if req.IsAllDay != nil {
		entry.AllDay = *req.IsAllDay
	}
	if req.Color != nil {
		entry.Color = *req.Color
	}
	if req.Tags != nil {
		entry.Tags = *req.Tags
	}
	if req.Priority != nil {
		entry.Priority = *req.Priority
	}
	if req.ReminderTime != nil {
		entry.ReminderTime = req.ReminderTime
	}
	if req.RecurrenceRule != nil {
		if err := ics.ValidateRule(*req.RecurrenceRule); err != nil {
			a.respondError(w, r, err)
			return
		}
		entry.RecurrenceRule = *req.RecurrenceRule
	}

	userID := principal(r).UserID
	entry.LastModifiedBy = &userID
	if err := a.store.UpdateEntry(r.Context(), entry); err != nil {
		a.respondError(w, r, err)
		return
	}

	a.notifier.EntryChanged(entry.CalendarID, realtime.ActionUpdated, map[string]any{
		"id":    entry.ID.String(),
		"title": entry.Title,
	}, userID)
	a.respond(w, http.StatusOK, entry)
}

func (a *API) deleteEntry(w http.ResponseWriter, r *http.Request) {
	entry, err := a.authorizedEntry(r, chi.URLParam(r, "entryID"))
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	if err := a.store.DeleteEntry(r.Context(), entry.ID); err != nil {
		a.respondError(w, r, err)
		return
	}

	a.notifier.EntryChanged(entry.CalendarID, realtime.ActionDeleted, map[string]any{
		"id": entry.ID.String(),
	}, principal(r).UserID)
	a.respond(w, http.StatusNoContent, nil)
}

func (a *API) toggleEntryComplete(w http.ResponseWriter, r *http.Request) {
	entry, err := a.authorizedEntry(r, chi.URLParam(r, "entryID"))
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	userID := principal(r).UserID

	action := realtime.ActionCompleted
	if entry.Completed {
		entry.Completed = false
		entry.CompletedAt = nil
		entry.CompletedBy = nil
		action = realtime.ActionReopened
	} else {
		now := time.Now().UTC()
		entry.Completed = true
		entry.CompletedAt = &now
		entry.CompletedBy = &userID
	}
	entry.LastModifiedBy = &userID

	if err := a.store.UpdateEntry(r.Context(), entry); err != nil {
		a.respondError(w, r, err)
		return
	}

	a.notifier.EntryChanged(entry.CalendarID, action, map[string]any{
		"id":           entry.ID.String(),
		"is_completed": entry.Completed,
	}, userID)
	a.respond(w, http.StatusOK, entry)
}

func (a *API) addEntryToTask(w http.ResponseWriter, r *http.Request) {
	entry, err := a.authorizedEntry(r, chi.URLParam(r, "entryID"))
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	var req taskLinkRequest
	if err := decode(r, &req); err != nil {
		a.respondError(w, r, err)
		return
	}

	entry.TaskID = &req.TaskID
	userID := principal(r).UserID
	entry.LastModifiedBy = &userID
	if err := a.store.UpdateEntry(r.Context(), entry); err != nil {
		a.respondError(w, r, err)
		return
	}

	a.notifier.EntryChanged(entry.CalendarID, realtime.ActionUpdated, map[string]any{
		"id":      entry.ID.String(),
		"task_id": req.TaskID.String(),
	}, userID)
	a.respond(w, http.StatusOK, entry)
}

func (a *API) removeEntryFromTask(w http.ResponseWriter, r *http.Request) {
	entry, err := a.authorizedEntry(r, chi.URLParam(r, "entryID"))
	if err != nil {
		a.respondError(w, r, err)
		return
	}

	entry.TaskID = nil
	entry.PositionInTask = nil
	userID := principal(r).UserID
	entry.LastModifiedBy = &userID
	if err := a.store.UpdateEntry(r.Context(), entry); err != nil {
		a.respondError(w, r, err)
		return
	}

	a.notifier.EntryChanged(entry.CalendarID, realtime.ActionUpdated, map[string]any{
		"id": entry.ID.String(),
	}, userID)
	a.respond(w, http.StatusOK, entry)
}

func (a *API) batchDeleteEntries(w http.ResponseWriter, r *http.Request) {
	var req batchDeleteRequest
	if err := decode(r, &req); err != nil {
		a.respondError(w, r, err)
		return
	}

	userID := principal(r).UserID
	for _, id := range req.EntryIDs {
		entry, err := a.authorizedEntry(r, id.String())
		if err != nil {
			a.respondError(w, r, err)
			return
		}
		if err := a.store.DeleteEntry(r.Context(), entry.ID); err != nil {
			a.respondError(w, r, err)
			return
		}
		a.notifier.EntryChanged(entry.CalendarID, realtime.ActionDeleted, map[string]any{
			"id": entry.ID.String(),
		}, userID)
	}
	a.respond(w, http.StatusNoContent, nil)
}

func (a *API) batchUpdateEntries(w http.ResponseWriter, r *http.Request) {
	var req batchUpdateRequest
	if err := decode(r, &req); err != nil {
		a.respondError(w, r, err)
		return
	}

	userID := principal(r).UserID
	updated := make([]*storage.Entry, 0, len(req.EntryIDs))
	for _, id := range req.EntryIDs {
		entry, err := a.authorizedEntry(r, id.String())
		if err != nil {
			a.respondError(w, r, err)
			return
		}

		if req.Tags != nil {
			entry.Tags = *req.Tags
		}
		if req.Color != nil {
			entry.Color = *req.Color
		}
		if req.Priority != nil {
			entry.Priority = *req.Priority
		}
		if req.Completed != nil && entry.Completed != *req.Completed {
			entry.Completed = *req.Completed
			if *req.Completed {
				now := time.Now().UTC()
				entry.CompletedAt = &now
				entry.CompletedBy = &userID
			} else {
				entry.CompletedAt = nil
				entry.CompletedBy = nil
			}
		}
		entry.LastModifiedBy = &userID

		if err := a.store.UpdateEntry(r.Context(), entry); err != nil {
			a.respondError(w, r, err)
			return
		}
		a.notifier.EntryChanged(entry.CalendarID, realtime.ActionUpdated, map[string]any{
			"id": entry.ID.String(),
		}, userID)
		updated = append(updated, entry)
	}
	a.respond(w, http.StatusOK, map[string]any{
		"entries": updated,
		"total":   len(updated),
	})
}

func (a *API) entryStats(w http.ResponseWriter, r *http.Request) {
	cal, err := a.authorizedCalendar(r, chi.URLParam(r, "calendarID"))
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	stats, err := a.store.CalendarEntryStats(r.Context(), cal.ID)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	a.respond(w, http.StatusOK, stats)
}

func (a *API) entryOccurrences(w http.ResponseWriter, r *http.Request) {
	entry, err := a.authorizedEntry(r, chi.URLParam(r, "entryID"))
	if err != nil {
		a.respondError(w, r, err)
		return
	}

	q := r.URL.Query()
	from, err := time.Parse(time.RFC3339, q.Get("start"))
	if err != nil {
		a.respondError(w, r, invalidInput("invalid start time"))
		return
	}
	to, err := time.Parse(time.RFC3339, q.Get("end"))
	if err != nil {
		a.respondError(w, r, invalidInput("invalid end time"))
		return
	}

	occurrences, err := ics.Occurrences(entry, from, to)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	a.respond(w, http.StatusOK, map[string]any{
		"entry_id":    entry.ID,
		"occurrences": occurrences,
		"total":       len(occurrences),
	})
}

// authorizedEntry loads the entry and checks the principal may access its
// calendar.
func (a *API) authorizedEntry(r *http.Request, rawID string) (*storage.Entry, error) {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return nil, invalidInput("invalid entry id")
	}
	entry, err := a.store.GetEntry(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if _, err := a.authorizedCalendar(r, entry.CalendarID.String()); err != nil {
		return nil, err
	}
	return entry, nil
}
