package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/samber/mo"

	"github.com/entrycal/entrycal/server/realtime"
	"github.com/entrycal/entrycal/server/storage"
)

type createTaskRequest struct {
	CalendarID  uuid.UUID  `json:"calendar_id"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	Color       string     `json:"color,omitempty"`
	Icon        string     `json:"icon,omitempty"`
	Position    int        `json:"position,omitempty"`
}

type updateTaskRequest struct {
	Title       *string    `json:"title,omitempty"`
	Description *string    `json:"description,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
	Color       *string    `json:"color,omitempty"`
	Icon        *string    `json:"icon,omitempty"`
	Position    *int       `json:"position,omitempty"`
}

type reorderTasksRequest struct {
	CalendarID uuid.UUID   `json:"calendar_id"`
	TaskIDs    []uuid.UUID `json:"task_ids"`
}

type taskWithEntries struct {
	*storage.Task
	Entries              []*storage.Entry `json:"entries"`
	CompletionPercentage int              `json:"completion_percentage"`
}

type taskStatsResponse struct {
	TaskID               uuid.UUID `json:"task_id"`
	TotalEntries         int       `json:"total_entries"`
	CompletedEntries     int       `json:"completed_entries"`
	CompletionPercentage int       `json:"completion_percentage"`
}

func (a *API) createTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskRequest
	if err := decode(r, &req); err != nil {
		a.respondError(w, r, err)
		return
	}
	if req.Title == "" {
		a.respondError(w, r, invalidInput("title is required"))
		return
	}

	cal, err := a.authorizedCalendar(r, req.CalendarID.String())
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	userID := principal(r).UserID

	task := &storage.Task{
		CalendarID:  cal.ID,
		Title:       req.Title,
		Description: req.Description,
		DueDate:     req.DueDate,
		Color:       req.Color,
		Icon:        req.Icon,
		Position:    req.Position,
		CreatedBy:   userID,
	}
	if err := a.store.CreateTask(r.Context(), task); err != nil {
		a.respondError(w, r, err)
		return
	}

	a.notifier.TaskChanged(cal.ID, realtime.ActionCreated, map[string]any{
		"id":    task.ID.String(),
		"title": task.Title,
	}, userID)
	a.respond(w, http.StatusCreated, task)
}

func (a *API) listTasks(w http.ResponseWriter, r *http.Request) {
	cal, err := a.authorizedCalendar(r, r.URL.Query().Get("calendar_id"))
	if err != nil {
		a.respondError(w, r, err)
		return
	}

	status := mo.None[storage.TaskStatus]()
	if raw := r.URL.Query().Get("status"); raw != "" {
		s := storage.TaskStatus(raw)
		if !s.Valid() {
			a.respondError(w, r, invalidInput("unknown task status"))
			return
		}
		status = mo.Some(s)
	}

	tasks, err := a.store.ListTasks(r.Context(), cal.ID, status)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	a.respond(w, http.StatusOK, map[string]any{
		"tasks": tasks,
		"total": len(tasks),
	})
}

func (a *API) getTask(w http.ResponseWriter, r *http.Request) {
	task, err := a.authorizedTask(r, chi.URLParam(r, "taskID"))
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	entries, err := a.store.ListTaskEntries(r.Context(), task.ID)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	a.respond(w, http.StatusOK, taskWithEntries{
		Task:                 task,
		Entries:              entries,
		CompletionPercentage: task.CompletionPercentage(),
	})
}

func (a *API) updateTask(w http.ResponseWriter, r *http.Request) {
	task, err := a.authorizedTask(r, chi.URLParam(r, "taskID"))
	if err != nil {
		a.respondError(w, r, err)
		return
	}

	var req updateTaskRequest
	if err := decode(r, &req); err != nil {
		a.respondError(w, r, err)
		return
	}
	if req.Title != nil {
		if *req.Title == "" {
			a.respondError(w, r, invalidInput("title cannot be empty"))
			return
		}
		task.Title = *req.Title
	}
	if req.Description != nil {
		task.Description = *req.Description
	}
	if req.DueDate != nil {
		task.DueDate = req.DueDate
	}
	if req.Color != nil {
		task.Color = *req.Color
	}
	if req.Icon != nil {
		task.Icon = *req.Icon
	}
	if req.Position != nil {
		task.Position = *req.Position
	}

	if err := a.store.UpdateTask(r.Context(), task); err != nil {
		a.respondError(w, r, err)
		return
	}

	a.notifier.TaskChanged(task.CalendarID, realtime.ActionUpdated, map[string]any{
		"id":    task.ID.String(),
		"title": task.Title,
	}, principal(r).UserID)
	a.respond(w, http.StatusOK, task)
}

func (a *API) deleteTask(w http.ResponseWriter, r *http.Request) {
	task, err := a.authorizedTask(r, chi.URLParam(r, "taskID"))
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	if err := a.store.DeleteTask(r.Context(), task.ID); err != nil {
		a.respondError(w, r, err)
		return
	}

	a.notifier.TaskChanged(task.CalendarID, realtime.ActionDeleted, map[string]any{
		"id": task.ID.String(),
	}, principal(r).UserID)
	a.respond(w, http.StatusNoContent, nil)
}

func (a *API) completeTask(w http.ResponseWriter, r *http.Request) {
	a.setTaskStatus(w, r, storage.TaskCompleted, realtime.ActionCompleted)
}

func (a *API) reopenTask(w http.ResponseWriter, r *http.Request) {
	a.setTaskStatus(w, r, storage.TaskActive, realtime.ActionReopened)
}

func (a *API) archiveTask(w http.ResponseWriter, r *http.Request) {
	a.setTaskStatus(w, r, storage.TaskArchived, realtime.ActionArchived)
}

func (a *API) setTaskStatus(w http.ResponseWriter, r *http.Request, status storage.TaskStatus, action string) {
	task, err := a.authorizedTask(r, chi.URLParam(r, "taskID"))
	if err != nil {
		a.respondError(w, r, err)
		return
	}

	task.Status = status
	if status == storage.TaskCompleted {
		now := time.Now().UTC()
		task.CompletedAt = &now
	} else {
		task.CompletedAt = nil
	}

	if err := a.store.UpdateTask(r.Context(), task); err != nil {
		a.respondError(w, r, err)
		return
	}

	a.notifier.TaskChanged(task.CalendarID, action, map[string]any{
		"id":     task.ID.String(),
		"status": string(task.Status),
	}, principal(r).UserID)
	a.respond(w, http.StatusOK, task)
}

func (a *API) taskStats(w http.ResponseWriter, r *http.Request) {
	task, err := a.authorizedTask(r, chi.URLParam(r, "taskID"))
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	a.respond(w, http.StatusOK, taskStatsResponse{
		TaskID:               task.ID,
		TotalEntries:         task.TotalEntries,
		CompletedEntries:     task.CompletedEntries,
		CompletionPercentage: task.CompletionPercentage(),
	})
}

func (a *API) reorderTasks(w http.ResponseWriter, r *http.Request) {
	var req reorderTasksRequest
	if err := decode(r, &req); err != nil {
		a.respondError(w, r, err)
		return
	}
	cal, err := a.authorizedCalendar(r, req.CalendarID.String())
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	userID := principal(r).UserID

	updated := make([]*storage.Task, 0, len(req.TaskIDs))
	for position, id := range req.TaskIDs {
		task, err := a.store.GetTask(r.Context(), id)
		if err != nil {
			a.respondError(w, r, err)
			return
		}
		if task.CalendarID != cal.ID {
			a.respondError(w, r, invalidInput("task does not belong to calendar"))
			return
		}
		task.Position = position
		if err := a.store.UpdateTask(r.Context(), task); err != nil {
			a.respondError(w, r, err)
			return
		}
		updated = append(updated, task)
	}

	a.notifier.TaskChanged(cal.ID, realtime.ActionUpdated, map[string]any{
		"reordered": len(updated),
	}, userID)
	a.respond(w, http.StatusOK, updated)
}

// authorizedTask loads the task and checks the principal may access its
// calendar.
func (a *API) authorizedTask(r *http.Request, rawID string) (*storage.Task, error) {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return nil, invalidInput("invalid task id")
	}
	task, err := a.store.GetTask(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if _, err := a.authorizedCalendar(r, task.CalendarID.String()); err != nil {
		return nil, err
	}
	return task, nil
}
