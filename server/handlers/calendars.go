package handlers

import (
	"net/http"

	"github.com/emersion/go-ical"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/entrycal/entrycal/server/ics"
	"github.com/entrycal/entrycal/server/realtime"
	"github.com/entrycal/entrycal/server/storage"
)

type calendarRequest struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
	Color       *string `json:"color,omitempty"`
	Icon        *string `json:"icon,omitempty"`
	IsShared    *bool   `json:"is_shared,omitempty"`
}

type calendarWithStats struct {
	*storage.Calendar
	Stats       *storage.EntryStats `json:"stats"`
	Subscribers int                 `json:"subscribers"`
}

type setDefaultRequest struct {
	CalendarID uuid.UUID `json:"calendar_id"`
}

func (a *API) createCalendar(w http.ResponseWriter, r *http.Request) {
	var req calendarRequest
	if err := decode(r, &req); err != nil {
		a.respondError(w, r, err)
		return
	}
	if req.Name == nil || *req.Name == "" {
		a.respondError(w, r, invalidInput("name is required"))
		return
	}

	cal := &storage.Calendar{OwnerID: principal(r).UserID, Name: *req.Name}
	if req.Description != nil {
		cal.Description = *req.Description
	}
	if req.Color != nil {
		cal.Color = *req.Color
	}
	if req.Icon != nil {
		cal.Icon = *req.Icon
	}
	if req.IsShared != nil {
		cal.IsShared = *req.IsShared
	}

	if err := a.store.CreateCalendar(r.Context(), cal); err != nil {
		a.respondError(w, r, err)
		return
	}
	a.respond(w, http.StatusCreated, cal)
}

func (a *API) listCalendars(w http.ResponseWriter, r *http.Request) {
	cals, err := a.store.ListCalendars(r.Context(), principal(r).UserID)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	a.respond(w, http.StatusOK, map[string]any{
		"calendars": cals,
		"total":     len(cals),
	})
}

func (a *API) defaultCalendar(w http.ResponseWriter, r *http.Request) {
	cal, err := a.store.DefaultCalendar(r.Context(), principal(r).UserID)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	a.respond(w, http.StatusOK, cal)
}

func (a *API) setDefaultCalendar(w http.ResponseWriter, r *http.Request) {
	var req setDefaultRequest
	if err := decode(r, &req); err != nil {
		a.respondError(w, r, err)
		return
	}
	if err := a.store.SetDefaultCalendar(r.Context(), principal(r).UserID, req.CalendarID); err != nil {
		a.respondError(w, r, err)
		return
	}
	cal, err := a.store.GetCalendar(r.Context(), req.CalendarID)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	a.respond(w, http.StatusOK, cal)
}

func (a *API) getCalendar(w http.ResponseWriter, r *http.Request) {
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
	a.respond(w, http.StatusOK, calendarWithStats{
		Calendar:    cal,
		Stats:       stats,
		Subscribers: a.notifier.SubscriberCount(cal.ID),
	})
}

func (a *API) updateCalendar(w http.ResponseWriter, r *http.Request) {
	cal, err := a.ownedCalendar(r, chi.URLParam(r, "calendarID"))
	if err != nil {
		a.respondError(w, r, err)
		return
	}

	var req calendarRequest
	if err := decode(r, &req); err != nil {
		a.respondError(w, r, err)
		return
	}
	if req.Name != nil {
		if *req.Name == "" {
			a.respondError(w, r, invalidInput("name cannot be empty"))
			return
		}
		cal.Name = *req.Name
	}
	if req.Description != nil {
		cal.Description = *req.Description
	}
	if req.Color != nil {
		cal.Color = *req.Color
	}
	if req.Icon != nil {
		cal.Icon = *req.Icon
	}
	if req.IsShared != nil {
		cal.IsShared = *req.IsShared
	}

	if err := a.store.UpdateCalendar(r.Context(), cal); err != nil {
		a.respondError(w, r, err)
		return
	}

	a.notifier.CalendarChanged(cal.ID, realtime.ActionUpdated, map[string]any{
		"id":   cal.ID.String(),
		"name": cal.Name,
	}, principal(r).UserID)
	a.respond(w, http.StatusOK, cal)
}

func (a *API) deleteCalendar(w http.ResponseWriter, r *http.Request) {
	cal, err := a.ownedCalendar(r, chi.URLParam(r, "calendarID"))
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	if cal.IsDefault {
		a.respondError(w, r, invalidInput("cannot delete the default calendar"))
		return
	}

	if err := a.store.DeleteCalendar(r.Context(), cal.ID); err != nil {
		a.respondError(w, r, err)
		return
	}

	a.notifier.CalendarChanged(cal.ID, realtime.ActionDeleted, map[string]any{
		"id": cal.ID.String(),
	}, principal(r).UserID)
	a.respond(w, http.StatusNoContent, nil)
}

func (a *API) exportCalendar(w http.ResponseWriter, r *http.Request) {
	cal, err := a.authorizedCalendar(r, chi.URLParam(r, "calendarID"))
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	entries, err := a.store.ListEntries(r.Context(), cal.ID, storage.EntryFilter{})
	if err != nil {
		a.respondError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+cal.Name+`.ics"`)
	if err := ical.NewEncoder(w).Encode(ics.Export(cal, entries)); err != nil {
		a.logger.Error("encoding ics export", "calendar_id", cal.ID, "error", err)
	}
}

// authorizedCalendar parses the id and checks the principal may read the
// calendar (owner or shared).
func (a *API) authorizedCalendar(r *http.Request, rawID string) (*storage.Calendar, error) {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return nil, invalidInput("invalid calendar id")
	}
	cal, err := a.store.GetCalendar(r.Context(), id)
	if err != nil {
		return nil, err
	}
	userID := principal(r).UserID
	if cal.OwnerID != userID && !cal.IsShared {
		return nil, forbidden("no access to calendar")
	}
	return cal, nil
}

// ownedCalendar is authorizedCalendar restricted to the owner; mutating a
// calendar's own properties is owner-only even when it is shared.
func (a *API) ownedCalendar(r *http.Request, rawID string) (*storage.Calendar, error) {
	cal, err := a.authorizedCalendar(r, rawID)
	if err != nil {
		return nil, err
	}
	if cal.OwnerID != principal(r).UserID {
		return nil, forbidden("only the owner may modify a calendar")
	}
	return cal, nil
}
