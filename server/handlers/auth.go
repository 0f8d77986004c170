package handlers

import (
	"net/http"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/entrycal/entrycal/server/auth"
	"github.com/entrycal/entrycal/server/storage"
)

type registerRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
	FullName string `json:"full_name,omitempty"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

type loginResponse struct {
	AccessToken  string        `json:"access_token"`
	RefreshToken string        `json:"refresh_token"`
	TokenType    string        `json:"token_type"`
	ExpiresIn    int64         `json:"expires_in"`
	User         *storage.User `json:"user"`
}

const minPasswordLength = 8

func (a *API) register(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decode(r, &req); err != nil {
		a.respondError(w, r, err)
		return
	}
	if req.Email == "" || req.Username == "" {
		a.respondError(w, r, invalidInput("email and username are required"))
		return
	}
	if len(req.Password) < minPasswordLength {
		a.respondError(w, r, invalidInput("password too short"))
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		a.respondError(w, r, err)
		return
	}

	user := &storage.User{
		Email:        req.Email,
		Username:     req.Username,
		PasswordHash: string(hash),
		FullName:     req.FullName,
	}
	if err := a.store.CreateUser(r.Context(), user); err != nil {
		a.respondError(w, r, err)
		return
	}

	// Every account starts with a default calendar.
	cal := &storage.Calendar{OwnerID: user.ID, Name: "Personal", IsDefault: true}
	if err := a.store.CreateCalendar(r.Context(), cal); err != nil {
		a.respondError(w, r, err)
		return
	}

	a.issueTokens(w, r, user, http.StatusCreated)
}

func (a *API) login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decode(r, &req); err != nil {
		a.respondError(w, r, err)
		return
	}

	user, err := a.store.GetUserByEmail(r.Context(), req.Email)
	if err != nil || bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		a.respondError(w, r, &auth.Error{
			Type:    auth.ErrInvalidCredentials,
			Message: "invalid email or password",
		})
		return
	}

	now := time.Now().UTC()
	user.LastLoginAt = &now
	if err := a.store.UpdateUser(r.Context(), user); err != nil {
		a.respondError(w, r, err)
		return
	}

	a.issueTokens(w, r, user, http.StatusOK)
}

func (a *API) refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if err := decode(r, &req); err != nil {
		a.respondError(w, r, err)
		return
	}

	claims, err := a.tokens.Verify(req.RefreshToken, auth.TokenRefresh)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	user, err := a.store.GetUser(r.Context(), claims.Subject)
	if err != nil {
		a.respondError(w, r, err)
		return
	}

	a.issueTokens(w, r, user, http.StatusOK)
}

func (a *API) me(w http.ResponseWriter, r *http.Request) {
	user, err := a.store.GetUser(r.Context(), principal(r).UserID)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	a.respond(w, http.StatusOK, user)
}

func (a *API) issueTokens(w http.ResponseWriter, r *http.Request, user *storage.User, status int) {
	access, refresh, err := a.tokens.Pair(user.ID)
	if err != nil {
		a.respondError(w, r, err)
		return
	}
	a.respond(w, status, loginResponse{
		AccessToken:  access,
		RefreshToken: refresh,
		TokenType:    "bearer",
		ExpiresIn:    int64(a.tokens.AccessTTL().Seconds()),
		User:         user,
	})
}
