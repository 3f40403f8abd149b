package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"roomchat/internal/chat"
	"roomchat/internal/storage"
)

// Store is the persistence used by the gateway, implemented by storage.Store
type Store interface {
	CreateUser(ctx context.Context, username string) (int64, error)
	CreateRoom(ctx context.Context, listingID, title string, users []int64) (storage.Room, error)
	CreateMessage(ctx context.Context, room, author int64, text, clientKey string) (storage.Message, error)
	RoomsByUserID(ctx context.Context, user int64) ([]storage.Room, error)
	MessagesByRoomID(ctx context.Context, room int64) ([]storage.Message, error)
	RoomMembers(ctx context.Context, room int64) ([]int64, error)
	Hydrate(ctx context.Context, user int64) ([]chat.Room, error)
}

// Authenticator issues access tokens and resolves them to user ids, implemented by auth.Issuer
type Authenticator interface {
	Issue(userID int64) (string, error)
	Validate(credential string) (int64, error)
}

// Server defines fields used in HTTP and websocket processing
type Server struct {
	logger        *zap.SugaredLogger
	httpServer    *http.Server
	store         Store
	auth          Authenticator
	hub           *hub
	codec         chat.Codec
	pingPeriod    time.Duration
	afterShutdown []func()
}

// NewServer returns new Server with provided zap.SugaredLogger, Store and Authenticator
func NewServer(logger *zap.SugaredLogger, store Store, authn Authenticator, opts ...Option) *Server {
	srv := &Server{
		logger: logger,
		store:  store,
		auth:   authn,
		hub:    newHub(),
	}
	h := &handler{
		logger: logger,
		store:  store,
		auth:   authn,
	}

	cfg := &config{
		httpServer: &http.Server{Addr: ":9000"},
		routes: []route{
			{"/users/add", jsonRoute, http.HandlerFunc(h.createUser)},
			{"/rooms/get", jsonRoute, http.HandlerFunc(h.roomsByUserID)},
			{"/messages/get", jsonRoute, http.HandlerFunc(h.messagesByRoomID)},
			{"/ws", streamRoute, http.HandlerFunc(srv.serveWS)},
			{"/metrics", streamRoute, promhttp.Handler()},
		},
		pingPeriod: defaultPingPeriod,
	}

	opts = append(opts, applyEnforcePostJson(), applyLog(logger.Desugar()), registerHandlers())
	for _, opt := range opts {
		opt.apply(cfg)
	}

	srv.httpServer = cfg.httpServer
	srv.afterShutdown = cfg.afterShutdown
	srv.pingPeriod = cfg.pingPeriod

	return srv
}

// Handler returns the root handler, mainly for httptest
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Shutdown stops accepting requests, closes every websocket connection and runs the registered
// after shutdown functions
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")

	err := s.httpServer.Shutdown(ctx)
	// hijacked connections are not tracked by http.Server
	s.hub.shutdown()

	for _, f := range s.afterShutdown {
		f()
	}
	s.logger.Info("HTTP server is stopped")
	return err
}

// Start calls ListenAndServe on http.Server instance inside Server struct
// and implements graceful shutdown via goroutine waiting for signals
func (s *Server) Start() error {
	idleConnsClosed := make(chan struct{})

	go func() {
		sigint := make(chan os.Signal, 1)
		signal.Notify(sigint, os.Interrupt, syscall.SIGTERM)
		<-sigint

		if err := s.Shutdown(context.Background()); err != nil {
			s.logger.Errorf("s.Shutdown: %v", err)
		}

		close(idleConnsClosed)
	}()

	s.logger.Infof("Starting HTTP server on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("s.httpServer.ListenAndServe: %v", err)
	}

	<-idleConnsClosed

	return nil
}
