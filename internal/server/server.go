// Package server hosts the HTTP surface: registration and login, group
// and page management, and the websocket mount. Thin request/response
// endpoints live here; everything that touches the broadcast path goes
// through the hub.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"alarmflow/config"
	"alarmflow/internal/access"
	"alarmflow/internal/auth"
	"alarmflow/internal/hub"
	"alarmflow/internal/store"
	"alarmflow/internal/ws"
	"alarmflow/logger"
)

// Server wires the HTTP router to the service components.
type Server struct {
	cfg        config.ServerConfig
	log        *logger.Log
	store      *store.Store
	resolver   *access.Resolver
	auth       *auth.Service
	notifier   *hub.Notifier
	wsHandler  *ws.Handler
	loginLimit *ipRateLimiter
	httpServer *http.Server
}

func NewServer(cfg *config.Config, log *logger.Log, st *store.Store, resolver *access.Resolver, authSvc *auth.Service, registry *hub.Registry, notifier *hub.Notifier) *Server {
	return &Server{
		cfg:        cfg.Server,
		log:        log,
		store:      st,
		resolver:   resolver,
		auth:       authSvc,
		notifier:   notifier,
		wsHandler:  ws.NewHandler(authSvc, st, resolver, registry, notifier, log),
		loginLimit: newIPRateLimiter(cfg.Auth.LoginRatePerMinute, cfg.Auth.LoginBurst),
	}
}

// Run starts the HTTP server and blocks until the provided context is
// cancelled or the underlying server exits with an error.
func (s *Server) Run(ctx context.Context) error {
	router := s.buildRouter()

	s.httpServer = &http.Server{
		Addr:    s.cfg.Address,
		Handler: router,
	}

	s.log.WithComponent("server").WithFields(logger.Fields{
		"address": s.cfg.Address,
	}).Info("http server listening")

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		<-errCh
		return nil
	case err := <-errCh:
		if err == nil {
			return nil
		}
		return err
	}
}

func (s *Server) buildRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if err := router.SetTrustedProxies(nil); err != nil {
		s.log.WithComponent("server").WithError(err).Warn("cannot configure trusted proxies")
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "time": time.Now().UTC()})
	})

	router.POST("/register", s.handleRegister)
	router.POST("/login", s.rateLimitLogin, s.handleLogin)

	authed := router.Group("/", s.bearerAuth)
	{
		authed.GET("/me", s.handleMe)

		authed.POST("/groups", s.handleCreateGroup)
		authed.POST("/groups/:id/members/:uid", s.handleAddGroupMember)
		authed.DELETE("/groups/:id/members/:uid", s.handleRemoveGroupMember)
		authed.DELETE("/groups/:id", s.handleDeleteGroup)

		authed.POST("/pages", s.handleCreatePage)
		authed.GET("/pages", s.handleListPages)
		authed.GET("/pages/:id/alarms", s.handlePageAlarms)
		authed.GET("/alarms/:id/events", s.handleAlarmEvents)
	}

	// The websocket route authenticates itself from the token query
	// parameter; bearer middleware does not apply.
	router.GET("/ws", s.wsHandler.Handle)

	return router
}
