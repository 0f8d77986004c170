// Package handlers holds the JSON REST surface. Every successful mutation
// publishes exactly one change event through the realtime notifier, with
// the acting user excluded from calendar broadcasts.
package handlers

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/entrycal/entrycal/server/auth"
	"github.com/entrycal/entrycal/server/realtime"
	"github.com/entrycal/entrycal/server/storage"
)

// API bundles the dependencies of the REST handlers.
type API struct {
	store    storage.Storage
	tokens   *auth.TokenIssuer
	notifier *realtime.Notifier
	logger   *slog.Logger
}

// NewAPI creates the REST handler set.
func NewAPI(store storage.Storage, tokens *auth.TokenIssuer, notifier *realtime.Notifier, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &API{
		store:    store,
		tokens:   tokens,
		notifier: notifier,
		logger:   logger,
	}
}

// Routes returns the API router, intended to be mounted under /api/v1.
func (a *API) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/auth/register", a.register)
	r.Post("/auth/login", a.login)
	r.Post("/auth/refresh", a.refresh)

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(a.tokens))

		r.Get("/auth/me", a.me)

		r.Route("/calendars", func(r chi.Router) {
			r.Post("/", a.createCalendar)
			r.Get("/", a.listCalendars)
			r.Get("/default", a.defaultCalendar)
			r.Post("/default", a.setDefaultCalendar)
			r.Get("/{calendarID}", a.getCalendar)
			r.Patch("/{calendarID}", a.updateCalendar)
			r.Delete("/{calendarID}", a.deleteCalendar)
			r.Get("/{calendarID}/export", a.exportCalendar)
		})

		r.Route("/entries", func(r chi.Router) {
			r.Post("/", a.createEntry)
			r.Get("/", a.listEntries)
			r.Get("/stats/{calendarID}", a.entryStats)
			r.Post("/batch/update", a.batchUpdateEntries)
			r.Post("/batch/delete", a.batchDeleteEntries)
			r.Get("/{entryID}", a.getEntry)
			r.Patch("/{entryID}", a.updateEntry)
			r.Delete("/{entryID}", a.deleteEntry)
			r.Post("/{entryID}/complete", a.toggleEntryComplete)
			r.Post("/{entryID}/add-to-task", a.addEntryToTask)
			r.Post("/{entryID}/remove-from-task", a.removeEntryFromTask)
			r.Get("/{entryID}/occurrences", a.entryOccurrences)
		})

		r.Route("/tasks", func(r chi.Router) {
			r.Post("/", a.createTask)
			r.Get("/", a.listTasks)
			r.Post("/reorder", a.reorderTasks)
			r.Get("/{taskID}", a.getTask)
			r.Patch("/{taskID}", a.updateTask)
			r.Delete("/{taskID}", a.deleteTask)
			r.Post("/{taskID}/complete", a.completeTask)
			r.Post("/{taskID}/reopen", a.reopenTask)
			r.Post("/{taskID}/archive", a.archiveTask)
			r.Get("/{taskID}/stats", a.taskStats)
		})
	})

	return r
}

// principal returns the authenticated principal; the auth middleware
// guarantees it is present on protected routes.
func principal(r *http.Request) *auth.Principal {
	return auth.PrincipalFromContext(r.Context())
}
