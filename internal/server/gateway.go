package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/xid"
	"go.uber.org/zap"

	"roomchat/internal/chat"
	"roomchat/internal/storage"
	"roomchat/internal/storage/zapadapter"
)

const (
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	defaultPingPeriod = (pongWait * 9) / 10
	maxMessageSize    = 64 << 10
	sendBufferSize    = 256
	storeTimeout      = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// clients are not browsers
	CheckOrigin: func(r *http.Request) bool { return true },
}

// client is one websocket connection of a user
type client struct {
	id     string
	userID int64
	ws     *websocket.Conn
	send   chan []byte
	srv    *Server
	logger *zap.SugaredLogger
}

// serveWS authenticates the upgrade request, sends initial_data and starts the pumps
func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	credential := r.Header.Get("Authorization")
	if credential == "" {
		// browsers can not set headers on websocket requests
		credential = r.URL.Query().Get("token")
	}
	userID, err := s.auth.Validate(credential)
	if err != nil {
		s.logger.Debugf("Rejecting websocket connection: %v", err)
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered the request
		s.logger.Debugf("upgrader.Upgrade: %v", err)
		return
	}

	c := &client{
		id:     xid.New().String(),
		userID: userID,
		ws:     ws,
		send:   make(chan []byte, sendBufferSize),
		srv:    s,
	}
	c.logger = s.logger.With("conn", c.id, "user", userID)

	// registering before hydrating buffers every message stored meanwhile behind initial_data,
	// messages present in both are deduplicated by id on the client
	if !s.hub.add(c) {
		c.closeWith(websocket.CloseGoingAway, "server is shutting down")
		return
	}

	if err := c.hydrate(); err != nil {
		c.logger.Errorf("Hydration failed: %v", err)
		s.hub.remove(c)
		c.closeWith(websocket.CloseInternalServerErr, "hydration failed")
		return
	}

	c.logger.Infof("Websocket connection opened, %d open for the user", s.hub.online(userID))
	go c.writePump()
	go c.readPump()
}

func (c *client) context() (context.Context, context.CancelFunc) {
	ctx := zapadapter.WithTraceID(context.Background(), c.id)
	return context.WithTimeout(ctx, storeTimeout)
}

func (c *client) hydrate() error {
	ctx, cancel := c.context()
	defer cancel()

	rooms, err := c.srv.store.Hydrate(ctx, c.userID)
	if err != nil {
		return err
	}
	frame, err := chat.Encode(chat.OpInitialData, chat.Hydration{Rooms: rooms})
	if err != nil {
		return err
	}

	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, frame)
}

func (c *client) closeWith(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
	c.ws.Close()
}

// readPump is the only reader of the connection
func (c *client) readPump() {
	defer func() {
		c.srv.hub.remove(c)
		c.ws.Close()
		if c.srv.hub.online(c.userID) == 0 {
			c.logger.Infof("Websocket connection closed, user is offline")
		} else {
			c.logger.Infof("Websocket connection closed")
		}
	}()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warnf("Unexpected close: %v", err)
			}
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))

		req, err := c.srv.codec.DecodeRequest(data)
		if err != nil {
			c.reject(err)
			continue
		}

		switch req := req.(type) {
		case chat.SendMessage:
			c.sendMessage(req)
		case chat.CreateRoom:
			c.createRoom(req)
		}
	}
}

// writePump is the only writer of the connection besides control frames
func (c *client) writePump() {
	ticker := time.NewTicker(c.srv.pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// removed from the hub
				_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.logger.Debugf("ws.WriteMessage: %v", err)
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *client) sendMessage(req chat.SendMessage) {
	roomID, err := strconv.ParseInt(req.RoomID, 10, 64)
	if err != nil || roomID < 1 {
		c.rejectWith("bad_room", "Field \"roomId\" must be a valid room id")
		return
	}

	ctx, cancel := c.context()
	defer cancel()

	m, err := c.srv.store.CreateMessage(ctx, roomID, c.userID, req.Content, req.ClientKey)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrRoomNotExist):
			c.rejectWith("bad_room", "Room does not exist")
		case errors.Is(err, storage.ErrNotRoomMember):
			c.rejectWith("not_member", "Not a member of the room")
		case errors.Is(err, storage.ErrMessageBadText):
			c.rejectWith("empty_content", "Message content is empty")
		default:
			c.logger.Errorf("store.CreateMessage: %v", err)
			c.rejectWith("internal", http.StatusText(http.StatusInternalServerError))
		}
		return
	}

	members, err := c.srv.store.RoomMembers(ctx, roomID)
	if err != nil {
		c.logger.Errorf("store.RoomMembers: %v", err)
		members = []int64{c.userID}
	}

	// the client key only means something to the author
	own, err := chat.Encode(chat.OpNewMessage, m.Chat())
	if err != nil {
		c.logger.Errorf("encoding new_message: %v", err)
		return
	}
	public := m.Chat()
	public.ClientKey = ""
	others, err := chat.Encode(chat.OpNewMessage, public)
	if err != nil {
		c.logger.Errorf("encoding new_message: %v", err)
		return
	}

	n := c.srv.hub.sendTo([]int64{c.userID}, own)
	peers := make([]int64, 0, len(members))
	for _, id := range members {
		if id != c.userID {
			peers = append(peers, id)
		}
	}
	n += c.srv.hub.sendTo(peers, others)
	messagesRelayed.Inc()
	c.logger.Debugf("Message %d relayed to %d connections", m.ID, n)
}

func (c *client) createRoom(req chat.CreateRoom) {
	counterparty, err := strconv.ParseInt(req.CounterpartyID, 10, 64)
	if err != nil || counterparty < 1 {
		c.rejectWith("bad_counterparty", "Field \"counterpartyId\" must be a valid user id")
		return
	}
	if counterparty == c.userID {
		c.rejectWith("bad_counterparty", "Can not open a room with yourself")
		return
	}

	ctx, cancel := c.context()
	defer cancel()

	users := []int64{c.userID, counterparty}
	room, err := c.srv.store.CreateRoom(ctx, req.RoomID, "Listing "+req.RoomID, users)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrRoomExists):
			c.rejectWith("room_exists", "Room already exists")
		case errors.Is(err, storage.ErrRoomBadUsers):
			c.rejectWith("bad_counterparty", "Bad user list")
		case errors.Is(err, storage.ErrRoomBadListing):
			c.rejectWith("bad_listing", "Field \"roomId\" must name a listing")
		default:
			c.logger.Errorf("store.CreateRoom: %v", err)
			c.rejectWith("internal", http.StatusText(http.StatusInternalServerError))
		}
		return
	}

	frame, err := chat.Encode(chat.OpNewRoom, room.Chat(nil))
	if err != nil {
		c.logger.Errorf("encoding new_room: %v", err)
		return
	}
	c.srv.hub.sendTo(users, frame)
	roomsCreated.Inc()
	c.logger.Debugf("Room %d created for listing %s", room.ID, req.RoomID)
}

// reject answers a frame that could not be decoded
func (c *client) reject(err error) {
	switch {
	case errors.Is(err, chat.ErrEmptyContent):
		c.rejectWith("empty_content", "Message content is empty")
	case errors.Is(err, chat.ErrUnknownOp):
		c.rejectWith("unknown_op", err.Error())
	default:
		c.rejectWith("malformed", err.Error())
	}
}

func (c *client) rejectWith(reason, msg string) {
	framesRejected.WithLabelValues(reason).Inc()

	frame, err := chat.Encode(chat.OpError, chat.ErrorPayload{Message: msg})
	if err != nil {
		return
	}
	if !c.srv.hub.sendToConn(c, frame) {
		c.logger.Warnf("Dropping error frame %q", reason)
	}
}
