// Package conn owns the websocket session of a signed-in user: it dials the gateway with a
// bounded retry budget, applies inbound events to the room store and sends outbound requests.
package conn

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"roomchat/internal/auth"
	"roomchat/internal/chat"
	"roomchat/internal/idgen"
	"roomchat/internal/store"
)

const (
	writeWait = 10 * time.Second
	// the gateway pings every 54s
	pongWait = 60 * time.Second
	// hydration payloads carry every room with its history
	maxMessageSize = 4 << 20
)

// ErrAborted is returned by Connect when Disconnect is called before the session is established.
var ErrAborted = errors.New("connect aborted by disconnect")

// Manager keeps at most one session with the gateway.
type Manager struct {
	logger *zap.SugaredLogger
	store  *store.Store
	codec  chat.Codec

	url         string
	dialer      *websocket.Dialer
	maxAttempts int
	backoff     time.Duration
	maxBackoff  time.Duration
	now         func() time.Time
	localUser   string

	mu         sync.Mutex
	state      State
	credential string
	sess       *session
	// stop is closed by Disconnect, done is closed when the read goroutine exits
	stop chan struct{}
	done chan struct{}

	watchMu     sync.Mutex
	watchers    map[int]chan State
	nextWatcher int
}

// New returns a disconnected Manager applying inbound events to st.
func New(logger *zap.SugaredLogger, st *store.Store, opts ...Option) *Manager {
	m := &Manager{
		logger:      logger,
		store:       st,
		url:         DefaultURL,
		dialer:      websocket.DefaultDialer,
		maxAttempts: DefaultMaxAttempts,
		backoff:     DefaultBackoff,
		maxBackoff:  DefaultMaxBackoff,
		now:         time.Now,
		watchers:    map[int]chan State{},
	}
	for _, opt := range opts {
		opt.apply(m)
	}
	return m
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connect establishes the session. It blocks until the gateway accepted the connection or the
// retry budget is exhausted, and is a no-op while a session is connected or being connected.
// A session that drops later is re-established in the background with the same budget.
func (m *Manager) Connect(ctx context.Context, credential string) error {
	m.mu.Lock()
	if st := m.state; st == Connected || st == Connecting {
		m.mu.Unlock()
		m.logger.Debugf("Connect ignored, session is %s", st)
		return nil
	}
	m.credential = auth.NormalizeCredential(credential)
	stop := make(chan struct{})
	m.stop = stop
	m.setStateLocked(Connecting)
	m.mu.Unlock()

	ws, err := m.dial(ctx, stop)
	if err != nil {
		m.mu.Lock()
		aborted := m.stop != stop
		if !aborted {
			m.stop = nil
			m.setStateLocked(Disconnected)
		}
		m.mu.Unlock()

		if aborted {
			m.logger.Debugf("Connection to %s aborted: %v", m.url, err)
			return ErrAborted
		}
		m.logger.Errorf("Connection to %s failed: %v", m.url, err)
		return fmt.Errorf("connecting: %w", err)
	}

	m.mu.Lock()
	if m.stop != stop {
		m.mu.Unlock()
		ws.Close()
		return ErrAborted
	}
	done := make(chan struct{})
	m.done = done
	m.sess = &session{ws: ws}
	m.setStateLocked(Connected)
	m.mu.Unlock()

	go m.run(ws, stop, done)
	return nil
}

// Disconnect closes the session with a normal closure frame. The store keeps its last state.
// Calling it without a session is a no-op.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	if m.stop == nil {
		m.mu.Unlock()
		return nil
	}
	stop, done, sess := m.stop, m.done, m.sess
	m.stop, m.done, m.sess = nil, nil, nil
	close(stop)
	m.setStateLocked(Disconnecting)
	m.mu.Unlock()

	var err error
	if sess != nil {
		err = sess.close()
	}
	if done != nil {
		<-done
	}

	m.mu.Lock()
	// a Connect issued meanwhile owns the state now
	if m.stop == nil {
		m.setStateLocked(Disconnected)
	}
	m.mu.Unlock()

	m.logger.Infof("Disconnected from %s", m.url)
	return err
}

// run reads the session until it ends and re-dials when it ends without Disconnect.
func (m *Manager) run(ws *websocket.Conn, stop chan struct{}, done chan struct{}) {
	defer close(done)

	for {
		err := m.readLoop(ws)
		ws.Close()

		select {
		case <-stop:
			return
		default:
		}
		m.logger.Warnf("Connection to %s lost: %v", m.url, err)

		m.mu.Lock()
		if m.stop != stop {
			m.mu.Unlock()
			return
		}
		m.sess = nil
		m.setStateLocked(Connecting)
		m.mu.Unlock()

		ws, err = m.dial(context.Background(), stop)
		if err != nil {
			m.mu.Lock()
			if m.stop == stop {
				m.stop, m.done = nil, nil
				m.setStateLocked(Disconnected)
				m.logger.Errorf("Giving up on %s, last known rooms stay available: %v", m.url, err)
			}
			m.mu.Unlock()
			return
		}

		m.mu.Lock()
		if m.stop != stop {
			m.mu.Unlock()
			ws.Close()
			return
		}
		m.sess = &session{ws: ws}
		m.setStateLocked(Connected)
		m.mu.Unlock()
	}
}

// dial tries to open a websocket until it succeeds, the budget is spent, ctx is done or stop is closed.
// A 401 answer is final.
func (m *Manager) dial(ctx context.Context, stop <-chan struct{}) (*websocket.Conn, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	m.mu.Lock()
	header := http.Header{}
	header.Set("Authorization", auth.BearerPrefix+m.credential)
	m.mu.Unlock()

	delay := m.backoff
	var lastErr error
	for attempt := 1; attempt <= m.maxAttempts; attempt++ {
		ws, resp, err := m.dialer.DialContext(ctx, m.url, header)
		if err == nil {
			m.logger.Infof("Connected to %s", m.url)
			return ws, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("dialing %s: %w", m.url, chat.ErrUnauthorized)
		}

		lastErr = err
		m.logger.Warnf("Dial attempt %d/%d to %s failed: %v", attempt, m.maxAttempts, m.url, err)
		if attempt == m.maxAttempts {
			break
		}

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
		if delay *= 2; delay > m.maxBackoff {
			delay = m.maxBackoff
		}
	}
	return nil, fmt.Errorf("dialing %s: giving up after %d attempts: %w", m.url, m.maxAttempts, lastErr)
}

func (m *Manager) readLoop(ws *websocket.Conn) error {
	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPingHandler(func(data string) error {
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		err := ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return err
		}
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		m.handleFrame(data)
	}
}

func (m *Manager) handleFrame(data []byte) {
	ev, err := m.codec.DecodeEvent(data)

	var remote *chat.RemoteError
	switch {
	case err == nil:
	case errors.As(err, &remote):
		m.logger.Warnf("Gateway reported: %s", remote.Message)
		return
	case errors.Is(err, chat.ErrUnknownOp):
		m.logger.Debugf("Ignoring frame: %v", err)
		return
	default:
		m.logger.Errorf("Dropping frame: %v", err)
		return
	}

	if !m.store.Apply(ev) {
		m.logger.Debugf("%s event left the store unchanged", ev.Op())
	}
}

// SendMessage emits a send_message request and appends an optimistic copy of the message to
// the store. The copy is returned; the server echo carrying the same ClientKey replaces it.
func (m *Manager) SendMessage(ctx context.Context, roomID, content string) (chat.Message, error) {
	sess := m.session()
	if sess == nil {
		m.logger.Warnf("Not sending message to room %s: %v", roomID, chat.ErrNotConnected)
		return chat.Message{}, chat.ErrNotConnected
	}
	if strings.TrimSpace(content) == "" {
		return chat.Message{}, chat.ErrEmptyContent
	}
	if !m.store.HasRoom(roomID) {
		return chat.Message{}, fmt.Errorf("sending message to %s: %w", roomID, chat.ErrRoomNotFound)
	}

	now := m.now()
	msg := chat.Message{
		ID:        chat.LocalIDPrefix + idgen.NewULID(now),
		Content:   content,
		RoomID:    roomID,
		CreatedAt: now,
		SenderID:  m.localUser,
		ClientKey: uuid.NewString(),
	}

	frame, err := chat.Encode(chat.OpSendMessage, chat.SendMessage{
		RoomID:    roomID,
		Content:   content,
		ClientKey: msg.ClientKey,
	})
	if err != nil {
		return chat.Message{}, err
	}
	if err := sess.write(ctx, frame); err != nil {
		return chat.Message{}, fmt.Errorf("sending message to %s: %w", roomID, err)
	}

	if err := m.store.AppendLocal(msg); err != nil {
		return chat.Message{}, err
	}
	return msg, nil
}

// CreateRoom asks the gateway to open a conversation about a listing with another user.
// The room arrives later as a new_room event.
func (m *Manager) CreateRoom(ctx context.Context, listingID, counterpartyID string) error {
	sess := m.session()
	if sess == nil {
		m.logger.Warnf("Not creating room for listing %s: %v", listingID, chat.ErrNotConnected)
		return chat.ErrNotConnected
	}

	frame, err := chat.Encode(chat.OpCreateRoom, chat.CreateRoom{
		RoomID:         listingID,
		CounterpartyID: counterpartyID,
	})
	if err != nil {
		return err
	}
	if err := sess.write(ctx, frame); err != nil {
		return fmt.Errorf("creating room for listing %s: %w", listingID, err)
	}
	return nil
}

func (m *Manager) session() *session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Connected {
		return nil
	}
	return m.sess
}

// session serializes writes to one websocket, gorilla allows a single concurrent writer.
type session struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func (s *session) write(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ws.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return s.ws.WriteMessage(websocket.TextMessage, data)
}

func (s *session) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	err := s.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	s.ws.Close()
	if errors.Is(err, websocket.ErrCloseSent) || errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
