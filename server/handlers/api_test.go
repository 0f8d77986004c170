package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/entrycal/entrycal/server/auth"
	"github.com/entrycal/entrycal/server/realtime"
	"github.com/entrycal/entrycal/server/storage"
	"github.com/entrycal/entrycal/server/storage/memory"
)

// recorderConn implements realtime.Conn and records what a subscriber
// would have received.
type recorderConn struct {
	mu   sync.Mutex
	msgs []*realtime.Message
}

func (c *recorderConn) Send(msg *realtime.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
	return nil
}

func (c *recorderConn) Close() error { return nil }

func (c *recorderConn) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.msgs))
	for i, m := range c.msgs {
		out[i] = m.Type
	}
	return out
}

type apiEnv struct {
	srv      *httptest.Server
	store    *memory.Store
	registry *realtime.Registry
	tokens   *auth.TokenIssuer
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()

	store := memory.New()
	tokens := auth.NewTokenIssuer([]byte("test-secret"), time.Hour, 24*time.Hour)
	registry := realtime.NewRegistry()
	api := NewAPI(store, tokens, realtime.NewNotifier(registry), slog.New(slog.NewTextHandler(io.Discard, nil)))

	r := chi.NewRouter()
	r.Mount("/api/v1", api.Routes())
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &apiEnv{srv: srv, store: store, registry: registry, tokens: tokens}
}

// seedUser creates a user directly in the store with a known password.
func (e *apiEnv) seedUser(t *testing.T) (*storage.User, string) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2hunter2"), bcrypt.MinCost)
	require.NoError(t, err)
	user := &storage.User{
		Email:        uuid.NewString() + "@example.com",
		Username:     "u-" + uuid.NewString()[:8],
		PasswordHash: string(hash),
	}
	require.NoError(t, e.store.CreateUser(context.Background(), user))

	token, err := e.tokens.Issue(user.ID, auth.TokenAccess)
	require.NoError(t, err)
	return user, token
}

func (e *apiEnv) seedCalendar(t *testing.T, ownerID uuid.UUID, shared bool) *storage.Calendar {
	t.Helper()
	cal := &storage.Calendar{OwnerID: ownerID, Name: "cal", IsShared: shared}
	require.NoError(t, e.store.CreateCalendar(context.Background(), cal))
	return cal
}

// do performs an authenticated JSON request and decodes the response into
// out when out is non-nil.
func (e *apiEnv) do(t *testing.T, method, path, token string, body, out any) *http.Response {
	t.Helper()

	var buf io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		buf = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, buf)
	require.NoError(t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func TestRegisterLoginRefreshMe(t *testing.T) {
	env := newAPIEnv(t)

	var reg loginResponse
	resp := env.do(t, http.MethodPost, "/api/v1/auth/register", "", registerRequest{
		Email:    "alice@example.com",
		Username: "alice",
		Password: "hunter2hunter2",
	}, &reg)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.NotEmpty(t, reg.AccessToken)
	assert.Equal(t, "bearer", reg.TokenType)

	// Registration provisions a default calendar.
	var cal storage.Calendar
	resp = env.do(t, http.MethodGet, "/api/v1/calendars/default", reg.AccessToken, nil, &cal)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, cal.IsDefault)

	var login loginResponse
	resp = env.do(t, http.MethodPost, "/api/v1/auth/login", "", loginRequest{
		Email:    "alice@example.com",
		Password: "hunter2hunter2",
	}, &login)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var refreshed loginResponse
	resp = env.do(t, http.MethodPost, "/api/v1/auth/refresh", "", refreshRequest{
		RefreshToken: login.RefreshToken,
	}, &refreshed)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, refreshed.AccessToken)

	var me storage.User
	resp = env.do(t, http.MethodGet, "/api/v1/auth/me", refreshed.AccessToken, nil, &me)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "alice", me.Username)
}

func TestLoginRejectsBadPassword(t *testing.T) {
	env := newAPIEnv(t)
	user, _ := env.seedUser(t)

	resp := env.do(t, http.MethodPost, "/api/v1/auth/login", "", loginRequest{
		Email:    user.Email,
		Password: "wrong-password",
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	env := newAPIEnv(t)

	resp := env.do(t, http.MethodGet, "/api/v1/calendars/", "", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCalendarCRUD(t *testing.T) {
	env := newAPIEnv(t)
	_, token := env.seedUser(t)

	name := "Work"
	var created storage.Calendar
	resp := env.do(t, http.MethodPost, "/api/v1/calendars/", token, calendarRequest{Name: &name}, &created)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	// First calendar of the account becomes the default.
	assert.True(t, created.IsDefault)

	newName := "Work & Life"
	var updated storage.Calendar
	resp = env.do(t, http.MethodPatch, "/api/v1/calendars/"+created.ID.String(), token, calendarRequest{Name: &newName}, &updated)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, newName, updated.Name)

	resp = env.do(t, http.MethodDelete, "/api/v1/calendars/"+created.ID.String(), token, nil, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode) // default calendar

	second := "Side"
	var other storage.Calendar
	resp = env.do(t, http.MethodPost, "/api/v1/calendars/", token, calendarRequest{Name: &second}, &other)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp = env.do(t, http.MethodDelete, "/api/v1/calendars/"+other.ID.String(), token, nil, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestCalendarAccessControl(t *testing.T) {
	env := newAPIEnv(t)
	owner, _ := env.seedUser(t)
	_, strangerToken := env.seedUser(t)

	private := env.seedCalendar(t, owner.ID, false)
	shared := env.seedCalendar(t, owner.ID, true)

	resp := env.do(t, http.MethodGet, "/api/v1/calendars/"+private.ID.String(), strangerToken, nil, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/v1/calendars/"+shared.ID.String(), strangerToken, nil, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Shared grants read, not calendar administration.
	name := "hijacked"
	resp = env.do(t, http.MethodPatch, "/api/v1/calendars/"+shared.ID.String(), strangerToken, calendarRequest{Name: &name}, nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestEntryLifecycleBroadcasts(t *testing.T) {
	env := newAPIEnv(t)
	actor, token := env.seedUser(t)
	watcher, _ := env.seedUser(t)
	cal := env.seedCalendar(t, actor.ID, true)

	actorConn := &recorderConn{}
	watcherConn := &recorderConn{}
	env.registry.Connect(actorConn, actor.ID, cal.ID)
	env.registry.Connect(watcherConn, watcher.ID, cal.ID)

	var entry storage.Entry
	resp := env.do(t, http.MethodPost, "/api/v1/entries/", token, createEntryRequest{
		CalendarID: cal.ID,
		Title:      "write the report",
		EntryType:  storage.EntryTask,
	}, &entry)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/v1/entries/"+entry.ID.String()+"/complete", token, nil, &entry)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, entry.Completed)

	resp = env.do(t, http.MethodDelete, "/api/v1/entries/"+entry.ID.String(), token, nil, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	assert.Equal(t, []string{"entry:created", "entry:completed", "entry:deleted"}, watcherConn.types())
	// The acting user receives no echo of its own mutations.
	assert.Empty(t, actorConn.types())
}

func TestListEntriesWithFilter(t *testing.T) {
	env := newAPIEnv(t)
	user, token := env.seedUser(t)
	cal := env.seedCalendar(t, user.ID, false)

	ts := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	for i, req := range []createEntryRequest{
		{CalendarID: cal.ID, Title: "scheduled event", EntryType: storage.EntryEvent, Timestamp: &ts},
		{CalendarID: cal.ID, Title: "inbox note", EntryType: storage.EntryNote},
		{CalendarID: cal.ID, Title: "tagged note", EntryType: storage.EntryNote, Tags: []string{"work"}},
	} {
		resp := env.do(t, http.MethodPost, "/api/v1/entries/", token, req, nil)
		require.Equal(t, http.StatusCreated, resp.StatusCode, "entry %d", i)
	}

	var list struct {
		Entries []*storage.Entry `json:"entries"`
		Total   int              `json:"total"`
	}
	resp := env.do(t, http.MethodGet, "/api/v1/entries/?calendar_id="+cal.ID.String()+"&unscheduled=true", token, nil, &list)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, list.Total)

	resp = env.do(t, http.MethodGet, "/api/v1/entries/?calendar_id="+cal.ID.String()+"&tag=work", token, nil, &list)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 1, list.Total)
	assert.Equal(t, "tagged note", list.Entries[0].Title)
}

func TestBatchUpdateEntries(t *testing.T) {
	env := newAPIEnv(t)
	user, token := env.seedUser(t)
	cal := env.seedCalendar(t, user.ID, false)

	ids := make([]uuid.UUID, 0, 2)
	for _, title := range []string{"one", "two"} {
		var entry storage.Entry
		resp := env.do(t, http.MethodPost, "/api/v1/entries/", token, createEntryRequest{
			CalendarID: cal.ID,
			Title:      title,
			EntryType:  storage.EntryTask,
		}, &entry)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		ids = append(ids, entry.ID)
	}

	completed := true
	tags := []string{"sprint"}
	var out struct {
		Entries []*storage.Entry `json:"entries"`
		Total   int              `json:"total"`
	}
	resp := env.do(t, http.MethodPost, "/api/v1/entries/batch/update", token, batchUpdateRequest{
		EntryIDs:  ids,
		Tags:      &tags,
		Completed: &completed,
	}, &out)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 2, out.Total)
	for _, e := range out.Entries {
		assert.True(t, e.Completed)
		assert.Equal(t, tags, e.Tags)
		assert.NotNil(t, e.CompletedAt)
	}
}

func TestBatchDeleteEntries(t *testing.T) {
	env := newAPIEnv(t)
	user, token := env.seedUser(t)
	cal := env.seedCalendar(t, user.ID, false)

	ids := make([]uuid.UUID, 0, 2)
	for _, title := range []string{"one", "two"} {
		var entry storage.Entry
		resp := env.do(t, http.MethodPost, "/api/v1/entries/", token, createEntryRequest{
			CalendarID: cal.ID,
			Title:      title,
		}, &entry)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		ids = append(ids, entry.ID)
	}

	resp := env.do(t, http.MethodPost, "/api/v1/entries/batch/delete", token, batchDeleteRequest{EntryIDs: ids}, nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = env.do(t, http.MethodGet, "/api/v1/entries/"+ids[0].String(), token, nil, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestEntryRejectsInvalidRecurrenceRule(t *testing.T) {
	env := newAPIEnv(t)
	user, token := env.seedUser(t)
	cal := env.seedCalendar(t, user.ID, false)

	resp := env.do(t, http.MethodPost, "/api/v1/entries/", token, createEntryRequest{
		CalendarID:     cal.ID,
		Title:          "standup",
		EntryType:      storage.EntryEvent,
		RecurrenceRule: "FREQ=NEVERMORE",
	}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestEntryOccurrences(t *testing.T) {
	env := newAPIEnv(t)
	user, token := env.seedUser(t)
	cal := env.seedCalendar(t, user.ID, false)

	ts := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	var entry storage.Entry
	resp := env.do(t, http.MethodPost, "/api/v1/entries/", token, createEntryRequest{
		CalendarID:     cal.ID,
		Title:          "standup",
		EntryType:      storage.EntryEvent,
		Timestamp:      &ts,
		RecurrenceRule: "FREQ=DAILY;COUNT=3",
	}, &entry)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var out struct {
		Occurrences []time.Time `json:"occurrences"`
		Total       int         `json:"total"`
	}
	path := fmt.Sprintf("/api/v1/entries/%s/occurrences?start=%s&end=%s",
		entry.ID,
		ts.Format(time.RFC3339),
		ts.AddDate(0, 0, 7).Format(time.RFC3339))
	resp = env.do(t, http.MethodGet, path, token, nil, &out)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 3, out.Total)
}

func TestTaskStatusTransitions(t *testing.T) {
	env := newAPIEnv(t)
	user, token := env.seedUser(t)
	cal := env.seedCalendar(t, user.ID, false)

	var task storage.Task
	resp := env.do(t, http.MethodPost, "/api/v1/tasks/", token, createTaskRequest{
		CalendarID: cal.ID,
		Title:      "spring cleaning",
	}, &task)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, storage.TaskActive, task.Status)

	resp = env.do(t, http.MethodPost, "/api/v1/tasks/"+task.ID.String()+"/complete", token, nil, &task)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, storage.TaskCompleted, task.Status)
	assert.NotNil(t, task.CompletedAt)

	taskID := task.ID
	task = storage.Task{}
	resp = env.do(t, http.MethodPost, "/api/v1/tasks/"+taskID.String()+"/reopen", token, nil, &task)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, storage.TaskActive, task.Status)
	assert.Nil(t, task.CompletedAt)

	resp = env.do(t, http.MethodPost, "/api/v1/tasks/"+task.ID.String()+"/archive", token, nil, &task)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, storage.TaskArchived, task.Status)
}

func TestTaskStatsTrackEntries(t *testing.T) {
	env := newAPIEnv(t)
	user, token := env.seedUser(t)
	cal := env.seedCalendar(t, user.ID, false)

	var task storage.Task
	resp := env.do(t, http.MethodPost, "/api/v1/tasks/", token, createTaskRequest{
		CalendarID: cal.ID,
		Title:      "project",
	}, &task)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var entry storage.Entry
	resp = env.do(t, http.MethodPost, "/api/v1/entries/", token, createEntryRequest{
		CalendarID: cal.ID,
		TaskID:     &task.ID,
		Title:      "step one",
		EntryType:  storage.EntryTask,
	}, &entry)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = env.do(t, http.MethodPost, "/api/v1/entries/"+entry.ID.String()+"/complete", token, nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var stats taskStatsResponse
	resp = env.do(t, http.MethodGet, "/api/v1/tasks/"+task.ID.String()+"/stats", token, nil, &stats)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 1, stats.TotalEntries)
	assert.Equal(t, 1, stats.CompletedEntries)
	assert.Equal(t, 100, stats.CompletionPercentage)
}

func TestExportCalendar(t *testing.T) {
	env := newAPIEnv(t)
	user, token := env.seedUser(t)
	cal := env.seedCalendar(t, user.ID, false)

	ts := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	resp := env.do(t, http.MethodPost, "/api/v1/entries/", token, createEntryRequest{
		CalendarID: cal.ID,
		Title:      "standup",
		EntryType:  storage.EntryEvent,
		Timestamp:  &ts,
	}, nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, env.srv.URL+"/api/v1/calendars/"+cal.ID.String()+"/export", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	raw, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer raw.Body.Close()

	require.Equal(t, http.StatusOK, raw.StatusCode)
	assert.Contains(t, raw.Header.Get("Content-Type"), "text/calendar")
	body, err := io.ReadAll(raw.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "BEGIN:VCALENDAR")
	assert.Contains(t, string(body), "SUMMARY:standup")
}
