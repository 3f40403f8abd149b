// Package session ties the room store and the connection of one signed-in user together.
// A Session is built on login and closed on logout, nothing outlives it.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"roomchat/internal/auth"
	"roomchat/internal/chat"
	"roomchat/internal/conn"
	"roomchat/internal/present"
	"roomchat/internal/store"
)

var ErrNoToken = errors.New("no access token")

// ErrClosed is returned by Ready once the session is closed.
var ErrClosed = errors.New("session closed")

// TokenProvider supplies the credential of the signed-in user.
type TokenProvider interface {
	Token(ctx context.Context) (string, error)
}

// StaticToken is a TokenProvider returning a fixed credential.
type StaticToken string

func (t StaticToken) Token(context.Context) (string, error) {
	if strings.TrimSpace(string(t)) == "" {
		return "", ErrNoToken
	}
	return string(t), nil
}

// EnvConfig defines fields used for parsing from environment variables
type EnvConfig struct {
	ServerURL   string `env:"CHATSYNC_SERVER_URL" envDefault:"ws://127.0.0.1:9000/ws"`
	Token       string `env:"CHATSYNC_TOKEN"`
	MaxAttempts int    `env:"CHATSYNC_MAX_ATTEMPTS" envDefault:"5"`
}

// TokenProvider returns the token read from the environment.
func (c EnvConfig) TokenProvider() TokenProvider {
	return StaticToken(c.Token)
}

// Options returns the connection options described by c.
func (c EnvConfig) Options() []conn.Option {
	return []conn.Option{
		conn.URL(c.ServerURL),
		conn.MaxAttempts(c.MaxAttempts),
	}
}

// Session is the chat state of one signed-in user.
type Session struct {
	Store *store.Store
	Conn  *conn.Manager

	logger *zap.SugaredLogger
	userID string
}

// Open reads the user id from the credential, builds the store and connects.
func Open(ctx context.Context, logger *zap.SugaredLogger, tp TokenProvider, opts ...conn.Option) (*Session, error) {
	token, err := tp.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("tp.Token: %w", err)
	}
	userID, err := auth.Subject(token)
	if err != nil {
		return nil, fmt.Errorf("auth.Subject: %w", err)
	}

	st := store.New(logger.Named("store"), store.LocalUser(userID))
	opts = append(opts[:len(opts):len(opts)], conn.LocalUser(userID))
	m := conn.New(logger.Named("conn"), st, opts...)

	if err := m.Connect(ctx, token); err != nil {
		st.Close()
		return nil, err
	}

	logger.Infof("Session opened for user %s", userID)
	return &Session{
		Store:  st,
		Conn:   m,
		logger: logger,
		userID: userID,
	}, nil
}

// Ready blocks until the first room list from the server has been applied.
func (s *Session) Ready(ctx context.Context) error {
	updates, cancel := s.Store.Subscribe()
	defer cancel()

	for s.Store.Version() == 0 {
		select {
		case _, ok := <-updates:
			if !ok {
				return ErrClosed
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// UserID returns the id of the signed-in user.
func (s *Session) UserID() string {
	return s.userID
}

// RoomList returns the rooms matching query, most recently active first.
func (s *Session) RoomList(query string) []chat.Room {
	return present.SortRoomsByActivity(present.FilterRooms(s.Store.Rooms(), query))
}

// Timeline returns the messages of a room grouped by day in loc.
func (s *Session) Timeline(roomID string, loc *time.Location) ([]present.DayGroup, error) {
	if !s.Store.HasRoom(roomID) {
		return nil, fmt.Errorf("timeline of %s: %w", roomID, chat.ErrRoomNotFound)
	}
	return present.GroupByDay(s.Store.Messages(roomID), loc), nil
}

// Close disconnects and releases every store subscriber.
func (s *Session) Close() error {
	err := s.Conn.Disconnect()
	s.Store.Close()
	s.logger.Infof("Session closed for user %s", s.userID)
	return err
}
