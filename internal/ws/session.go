// Package ws is the real-time entry point: it authenticates incoming
// websocket connections, registers them with the hub, and runs the
// per-connection read loop that dispatches mutation handlers.
package ws

import (
	"context"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"alarmflow/internal/access"
	"alarmflow/internal/auth"
	"alarmflow/internal/hub"
	"alarmflow/internal/model"
	"alarmflow/internal/store"
	"alarmflow/logger"
)

// Abnormal closure codes for the authentication gate.
const (
	CloseTokenRequired = 4001
	CloseTokenInvalid  = 4002
)

// Handler upgrades and serves websocket connections.
type Handler struct {
	auth     *auth.Service
	store    *store.Store
	resolver *access.Resolver
	registry *hub.Registry
	notifier *hub.Notifier
	log      *logger.Log
	upgrader websocket.Upgrader
}

func NewHandler(authSvc *auth.Service, st *store.Store, resolver *access.Resolver, registry *hub.Registry, notifier *hub.Notifier, log *logger.Log) *Handler {
	return &Handler{
		auth:     authSvc,
		store:    st,
		resolver: resolver,
		registry: registry,
		notifier: notifier,
		log:      log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// The bearer token is the access control; origin checks are
			// left to a fronting proxy.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// session is one live authenticated connection. It implements hub.Conn;
// the write mutex serialises broadcast writes from other connections'
// handler goroutines with this connection's own responses.
type session struct {
	conn    *websocket.Conn
	user    model.User
	writeMu sync.Mutex
}

func (s *session) WriteJSON(v interface{}) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(v)
}

func (s *session) Close() error {
	return s.conn.Close()
}

// Handle is the websocket route. The bearer token arrives as a query
// parameter; a missing or invalid token closes the connection with a
// distinct code before any registry interaction.
func (h *Handler) Handle(c *gin.Context) {
	log := h.log.WithComponent("ws")

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	token := c.Query("token")
	if token == "" {
		h.reject(conn, CloseTokenRequired, "token required")
		return
	}

	data, err := h.auth.DecodeToken(token)
	if err != nil {
		h.reject(conn, CloseTokenInvalid, "invalid token")
		return
	}

	user, err := h.store.GetUserByID(c.Request.Context(), data.UserID)
	if err != nil {
		h.reject(conn, CloseTokenInvalid, "unknown user")
		return
	}

	h.serve(c.Request.Context(), conn, user)
}

func (h *Handler) reject(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteMessage(websocket.CloseMessage, msg)
	_ = conn.Close()
}

// serve registers the session, pushes the initial snapshot and runs the
// read loop. Unregistration is deferred so every exit route, including
// error paths, cleans up the registry entry.
func (h *Handler) serve(ctx context.Context, conn *websocket.Conn, user model.User) {
	sess := &session{conn: conn, user: user}
	log := h.log.WithComponent("ws").WithFields(logger.Fields{
		"user_id":  user.ID,
		"username": user.Username,
	})

	h.registry.Register(sess, user.ID)
	defer func() {
		h.registry.Unregister(sess)
		_ = conn.Close()
		log.Info("connection closed")
	}()

	if err := h.notifier.SendInitialState(ctx, sess, user); err != nil {
		log.WithError(err).Warn("cannot send initial state")
		return
	}

	log.WithFields(logger.Fields{"active_users": h.registry.ActiveUsers()}).Info("connection established")

	for {
		var env model.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.WithError(err).Warn("read loop terminated")
			}
			return
		}
		h.dispatch(ctx, sess, env)
	}
}

// dispatch routes one inbound message. Handler failures, including
// panics, become a local error response; nothing in the message path is
// allowed to terminate the connection.
func (h *Handler) dispatch(ctx context.Context, sess *session, env model.Envelope) {
	defer func() {
		if rec := recover(); rec != nil {
			h.log.WithComponent("ws").WithFields(logger.Fields{
				"user_id": sess.user.ID,
				"action":  env.Type,
				"panic":   rec,
			}).Error("handler panicked")
			sess.sendError("internal error")
		}
	}()

	var err error
	switch env.Type {
	case model.ActCreateAlarm:
		err = h.handleCreateAlarm(ctx, sess, env.Payload)
	case model.ActUpdateAlarm:
		err = h.handleUpdateAlarm(ctx, sess, env.Payload)
	case model.ActDeleteAlarm:
		err = h.handleDeleteAlarm(ctx, sess, env.Payload)
	case model.ActTriggerAlarm:
		err = h.handleTriggerAlarm(ctx, sess, env.Payload)
	case model.ActCreatePage:
		err = h.handleCreatePage(ctx, sess, env.Payload)
	case model.ActSharePage:
		err = h.handleSharePage(ctx, sess, env.Payload)
	case model.ActRevokeAccess:
		err = h.handleRevokeAccess(ctx, sess, env.Payload)
	default:
		sess.sendError("unknown message type: " + env.Type)
		return
	}

	if err != nil {
		h.log.WithComponent("ws").WithError(err).WithFields(logger.Fields{
			"user_id": sess.user.ID,
			"action":  env.Type,
		}).Warn("handler error")
		sess.sendError(err.Error())
	}
}

func (s *session) sendError(text string) {
	_ = s.WriteJSON(model.ErrorMessage(text))
}

func (s *session) sendSuccess(action string, data interface{}) {
	_ = s.WriteJSON(model.SuccessMessage(action, data))
}
