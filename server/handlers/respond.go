package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/entrycal/entrycal/server/auth"
	"github.com/entrycal/entrycal/server/storage"
)

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
}

func (a *API) respond(w http.ResponseWriter, status int, v any) {
	if v == nil {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Error("encoding response", "error", err)
	}
}

// respondError maps the typed errors of the storage and auth layers onto
// HTTP statuses. Anything unrecognised is a 500 and gets logged.
func (a *API) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	msg := "internal server error"

	var storageErr *storage.Error
	var authErr *auth.Error
	switch {
	case errors.As(err, &storageErr):
		switch storageErr.Type {
		case storage.ErrNotFound:
			status, msg = http.StatusNotFound, storageErr.Message
		case storage.ErrAlreadyExists:
			status, msg = http.StatusConflict, storageErr.Message
		case storage.ErrInvalidInput:
			status, msg = http.StatusBadRequest, storageErr.Message
		case storage.ErrPermissionDenied:
			status, msg = http.StatusForbidden, storageErr.Message
		}
	case errors.As(err, &authErr):
		switch authErr.Type {
		case auth.ErrForbidden:
			status, msg = http.StatusForbidden, authErr.Message
		default:
			status, msg = http.StatusUnauthorized, authErr.Message
		}
	}

	if status == http.StatusInternalServerError {
		a.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err)
	}
	a.respond(w, status, errorResponse{Error: msg})
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &storage.Error{Type: storage.ErrInvalidInput, Message: "malformed request body", Err: err}
	}
	return nil
}

func invalidInput(msg string) error {
	return &storage.Error{Type: storage.ErrInvalidInput, Message: msg}
}

func forbidden(msg string) error {
	return &storage.Error{Type: storage.ErrPermissionDenied, Message: msg}
}
