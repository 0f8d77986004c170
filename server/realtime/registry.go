package realtime

import (
	"io"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Registry tracks the live websocket connections of a single process and
// fans mutation events out to them. Connections are keyed by
// (user, calendar); for each calendar the registry also maintains the set of
// users currently subscribed to it. All state is in-memory and process-wide:
// nothing survives a restart, clients re-subscribe on reconnect.
//
// The registry performs no authentication or authorization; callers hand it
// already-accepted connections.
type Registry struct {
	mu sync.RWMutex

	// conns is the authoritative connection table.
	conns map[connKey]Conn

	// calendarSubs maps a calendar to the users subscribed to it, and
	// userCals maps a user to the calendars it is connected to. Both are
	// maintained in lockstep with conns; empty sets are removed rather than
	// left behind.
	calendarSubs map[uuid.UUID]map[uuid.UUID]struct{}
	userCals     map[uuid.UUID]map[uuid.UUID]struct{}

	logger *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger used to report send failures and connection
// lifecycle events.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		conns:        make(map[connKey]Conn),
		calendarSubs: make(map[uuid.UUID]map[uuid.UUID]struct{}),
		userCals:     make(map[uuid.UUID]map[uuid.UUID]struct{}),
		logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Connect registers conn under (userID, calendarID) and adds the user to the
// calendar's subscriber set. If a connection already exists for the pair it
// is replaced and the superseded connection is closed, so a reconnect storm
// cannot leak sockets. No message is sent as part of Connect; any
// acknowledgment is the caller's responsibility.
func (r *Registry) Connect(conn Conn, userID, calendarID uuid.UUID) {
	key := connKey{UserID: userID, CalendarID: calendarID}

	r.mu.Lock()
	old := r.conns[key]
	r.conns[key] = conn

	subs, ok := r.calendarSubs[calendarID]
	if !ok {
		subs = make(map[uuid.UUID]struct{})
		r.calendarSubs[calendarID] = subs
	}
	subs[userID] = struct{}{}

	cals, ok := r.userCals[userID]
	if !ok {
		cals = make(map[uuid.UUID]struct{})
		r.userCals[userID] = cals
	}
	cals[calendarID] = struct{}{}
	r.mu.Unlock()

	if old != nil && old != conn {
		if err := old.Close(); err != nil {
			r.logger.Debug("closing superseded connection",
				"user_id", userID,
				"calendar_id", calendarID,
				"error", err)
		}
	}

	r.logger.Info("user connected",
		"user_id", userID,
		"calendar_id", calendarID)
}

// Disconnect removes the (userID, calendarID) connection and prunes the
// user from the calendar's subscriber set. Disconnecting an absent pair is a
// no-op. The connection itself is not closed; the owner of the receive loop
// closes it.
func (r *Registry) Disconnect(userID, calendarID uuid.UUID) {
	r.mu.Lock()
	_, existed := r.removeLocked(connKey{UserID: userID, CalendarID: calendarID})
	r.mu.Unlock()

	if existed {
		r.logger.Info("user disconnected",
			"user_id", userID,
			"calendar_id", calendarID)
	}
}

// removeLocked deletes one connection entry and keeps the two index maps in
// lockstep. Caller holds r.mu.
func (r *Registry) removeLocked(key connKey) (Conn, bool) {
	conn, ok := r.conns[key]
	if !ok {
		return nil, false
	}
	delete(r.conns, key)

	if subs, ok := r.calendarSubs[key.CalendarID]; ok {
		delete(subs, key.UserID)
		if len(subs) == 0 {
			delete(r.calendarSubs, key.CalendarID)
		}
	}
	if cals, ok := r.userCals[key.UserID]; ok {
		delete(cals, key.CalendarID)
		if len(cals) == 0 {
			delete(r.userCals, key.UserID)
		}
	}
	return conn, true
}

// BroadcastToCalendar delivers msg to every user subscribed to calendarID
// except exclude (pass uuid.Nil to exclude nobody). A calendar with no
// subscribers is a no-op. A failed send never aborts delivery to the
// remaining subscribers; failed connections are deregistered and closed
// after the fan-out pass completes.
//
// The registry lock is not held during sends, so a slow peer cannot block
// Connect/Disconnect for unrelated calendars.
func (r *Registry) BroadcastToCalendar(calendarID uuid.UUID, msg *Message, exclude uuid.UUID) {
	type target struct {
		key  connKey
		conn Conn
	}

	r.mu.RLock()
	subs := r.calendarSubs[calendarID]
	targets := make([]target, 0, len(subs))
	for userID := range subs {
		if userID == exclude {
			continue
		}
		key := connKey{UserID: userID, CalendarID: calendarID}
		if conn, ok := r.conns[key]; ok {
			targets = append(targets, target{key: key, conn: conn})
		}
	}
	r.mu.RUnlock()

	var failed []connKey
	for _, t := range targets {
		if err := t.conn.Send(msg); err != nil {
			r.logger.Warn("broadcast send failed",
				"user_id", t.key.UserID,
				"calendar_id", t.key.CalendarID,
				"type", msg.Type,
				"error", err)
			failed = append(failed, t.key)
		}
	}

	r.dropFailed(failed)
}

// BroadcastToUser delivers msg to every calendar-scoped connection userID
// currently holds. Same failure semantics as BroadcastToCalendar.
func (r *Registry) BroadcastToUser(userID uuid.UUID, msg *Message) {
	type target struct {
		key  connKey
		conn Conn
	}

	r.mu.RLock()
	cals := r.userCals[userID]
	targets := make([]target, 0, len(cals))
	for calendarID := range cals {
		key := connKey{UserID: userID, CalendarID: calendarID}
		if conn, ok := r.conns[key]; ok {
			targets = append(targets, target{key: key, conn: conn})
		}
	}
	r.mu.RUnlock()

	var failed []connKey
	for _, t := range targets {
		if err := t.conn.Send(msg); err != nil {
			r.logger.Warn("user broadcast send failed",
				"user_id", t.key.UserID,
				"calendar_id", t.key.CalendarID,
				"type", msg.Type,
				"error", err)
			failed = append(failed, t.key)
		}
	}

	r.dropFailed(failed)
}

// SendToUser delivers msg on the single (userID, calendarID) connection, if
// present. A send failure deregisters and closes the connection.
func (r *Registry) SendToUser(userID, calendarID uuid.UUID, msg *Message) {
	key := connKey{UserID: userID, CalendarID: calendarID}

	r.mu.RLock()
	conn, ok := r.conns[key]
	r.mu.RUnlock()
	if !ok {
		return
	}

	if err := conn.Send(msg); err != nil {
		r.logger.Warn("personal send failed",
			"user_id", userID,
			"calendar_id", calendarID,
			"type", msg.Type,
			"error", err)
		r.dropFailed([]connKey{key})
	}
}

// dropFailed deregisters connections whose sends failed and closes them.
// Mutation happens after fan-out so the subscriber set is never modified
// while being iterated.
func (r *Registry) dropFailed(keys []connKey) {
	if len(keys) == 0 {
		return
	}

	conns := make([]Conn, 0, len(keys))
	r.mu.Lock()
	for _, key := range keys {
		if conn, ok := r.removeLocked(key); ok {
			conns = append(conns, conn)
		}
	}
	r.mu.Unlock()

	for _, conn := range conns {
		_ = conn.Close()
	}
}

// SubscriberCount returns the number of users currently subscribed to
// calendarID; 0 if the calendar has no subscribers.
func (r *Registry) SubscriberCount(calendarID uuid.UUID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.calendarSubs[calendarID])
}

// ConnectionCount returns the number of live connections userID holds
// across all calendars; 0 if the user has none.
func (r *Registry) ConnectionCount(userID uuid.UUID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.userCals[userID])
}
