// Package ws owns the websocket session layer: upgrade, authentication of
// the connecting principal, the per-connection receive loop and liveness
// enforcement. The connection registry itself lives in server/realtime and
// stays free of websocket types.
package ws

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/entrycal/entrycal/server/auth"
	"github.com/entrycal/entrycal/server/realtime"
	"github.com/entrycal/entrycal/server/storage"
)

// Options bound the session's network behaviour.
type Options struct {
	// PingInterval is how often the server pings an idle peer.
	PingInterval time.Duration
	// IdleTimeout is the read deadline; it is refreshed by any client
	// frame, pongs included. A peer silent for longer is dropped.
	IdleTimeout time.Duration
	// WriteTimeout bounds every outbound write.
	WriteTimeout time.Duration
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		PingInterval: 30 * time.Second,
		IdleTimeout:  5 * time.Minute,
		WriteTimeout: 10 * time.Second,
	}
}

// Handler upgrades websocket requests and runs per-connection sessions
// against the registry.
type Handler struct {
	registry *realtime.Registry
	store    storage.Storage
	tokens   *auth.TokenIssuer
	logger   *slog.Logger
	opts     Options
	upgrader websocket.Upgrader
}

// NewHandler wires the websocket endpoints.
func NewHandler(registry *realtime.Registry, store storage.Storage, tokens *auth.TokenIssuer, logger *slog.Logger, opts Options) *Handler {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Handler{
		registry: registry,
		store:    store,
		tokens:   tokens,
		logger:   logger,
		opts:     opts,
		upgrader: websocket.Upgrader{
			// Browsers connect from a separate frontend origin; token
			// verification is the access control here.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// RegisterRoutes mounts the websocket endpoints on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/calendar/{calendarID}", h.serveCalendar)
	r.Get("/ws/notifications", h.serveNotifications)
}

// clientMessage is a control frame sent by the client over the socket.
type clientMessage struct {
	Type           string `json:"type"`
	EntryID        string `json:"entry_id,omitempty"`
	Position       any    `json:"position,omitempty"`
	NotificationID string `json:"notification_id,omitempty"`
}

func (h *Handler) serveCalendar(w http.ResponseWriter, r *http.Request) {
	calendarID, err := uuid.Parse(chi.URLParam(r, "calendarID"))
	if err != nil {
		http.Error(w, "invalid calendar id", http.StatusBadRequest)
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	c := newConn(ws, h.opts.WriteTimeout)

	claims, err := h.tokens.Verify(r.URL.Query().Get("token"), auth.TokenAccess)
	if err != nil {
		h.logger.Info("websocket auth failed", "error", err)
		c.closeWithPolicyViolation("invalid token")
		return
	}
	userID := claims.Subject

	ok, err := h.store.CheckCalendarAccess(r.Context(), calendarID, userID)
	if err != nil || !ok {
		h.logger.Info("websocket subscription denied",
			"user_id", userID,
			"calendar_id", calendarID)
		c.closeWithPolicyViolation("no access to calendar")
		return
	}

	h.registry.Connect(c, userID, calendarID)

	established := realtime.NewMessage(realtime.TypeConnectionEstablished, map[string]any{
		"calendar_id": calendarID.String(),
		"user_id":     userID.String(),
		"subscribers": h.registry.SubscriberCount(calendarID),
	})
	if err := c.Send(established); err != nil {
		h.registry.Disconnect(userID, calendarID)
		_ = c.Close()
		return
	}

	h.runSession(c, userID, calendarID)
}

// runSession reads client frames until the peer goes away, then deregisters
// the connection and tells the remaining subscribers.
func (h *Handler) runSession(c *conn, userID, calendarID uuid.UUID) {
	defer func() {
		h.registry.Disconnect(userID, calendarID)
		_ = c.Close()

		h.registry.BroadcastToCalendar(calendarID, realtime.NewMessage(realtime.TypeUserDisconnected, map[string]any{
			"user_id":     userID.String(),
			"subscribers": h.registry.SubscriberCount(calendarID),
		}), uuid.Nil)
	}()

	stopPings := h.keepAlive(c, userID, calendarID)
	defer stopPings()

	_ = c.ws.SetReadDeadline(time.Now().Add(h.opts.IdleTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(h.opts.IdleTimeout))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("websocket read error",
					"user_id", userID,
					"calendar_id", calendarID,
					"error", err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(h.opts.IdleTimeout))

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		h.handleClientMessage(c, userID, calendarID, msg)
	}
}

func (h *Handler) handleClientMessage(c *conn, userID, calendarID uuid.UUID, msg clientMessage) {
	switch msg.Type {
	case "ping":
		_ = c.Send(realtime.NewMessage(realtime.TypePong, nil))

	case "typing":
		h.registry.BroadcastToCalendar(calendarID, realtime.NewMessage(realtime.TypeUserTyping, map[string]any{
			"user_id":  userID.String(),
			"entry_id": msg.EntryID,
		}), userID)

	case "cursor":
		h.registry.BroadcastToCalendar(calendarID, realtime.NewMessage(realtime.TypeUserCursor, map[string]any{
			"user_id":  userID.String(),
			"entry_id": msg.EntryID,
			"position": msg.Position,
		}), userID)

	default:
		// Unknown control messages are ignored.
	}
}

// keepAlive pings the peer on a ticker until stopped. A failed ping ends
// nothing by itself; the peer's missing pong lets the read deadline expire.
func (h *Handler) keepAlive(c *conn, userID, calendarID uuid.UUID) (stop func()) {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(h.opts.PingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := c.ping(); err != nil {
					h.logger.Debug("ping failed",
						"user_id", userID,
						"calendar_id", calendarID,
						"error", err)
					return
				}
			}
		}
	}()
	return func() { close(done) }
}

func (h *Handler) serveNotifications(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	c := newConn(ws, h.opts.WriteTimeout)

	claims, err := h.tokens.Verify(r.URL.Query().Get("token"), auth.TokenAccess)
	if err != nil {
		c.closeWithPolicyViolation("invalid token")
		return
	}
	userID := claims.Subject
	defer func() { _ = c.Close() }()

	_ = c.ws.SetReadDeadline(time.Now().Add(h.opts.IdleTimeout))
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			h.logger.Debug("notifications socket closed", "user_id", userID)
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(h.opts.IdleTimeout))

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Type == "notification:read" {
			// Read receipts are acknowledged but not persisted.
			h.logger.Debug("notification read",
				"user_id", userID,
				"notification_id", msg.NotificationID)
		}
	}
}
