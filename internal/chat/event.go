package chat

// Server → client ops
const (
	OpInitialData = "initial_data"
	OpNewMessage  = "new_message"
	OpNewRoom     = "new_room"
	OpError       = "error"
)

// Client → server ops
const (
	OpSendMessage = "send_message"
	OpCreateRoom  = "create_room"
)

// Event is an inbound event applied to the room store.
// The set of implementations is closed: Hydration, MessageReceived and RoomCreated.
type Event interface {
	Op() string
	event()
}

// Hydration carries the full room list and is sent once per established connection.
type Hydration struct {
	Rooms []Room `json:"rooms"`
}

// MessageReceived carries a message pushed by the server.
type MessageReceived struct {
	Message Message
}

// RoomCreated carries a room that was created after hydration.
type RoomCreated struct {
	Room Room
}

func (Hydration) Op() string       { return OpInitialData }
func (MessageReceived) Op() string { return OpNewMessage }
func (RoomCreated) Op() string     { return OpNewRoom }

func (Hydration) event()       {}
func (MessageReceived) event() {}
func (RoomCreated) event()     {}

// SendMessage is the payload of a send_message request.
type SendMessage struct {
	RoomID    string `json:"roomId"`
	Content   string `json:"content"`
	ClientKey string `json:"clientKey,omitempty"`
}

// CreateRoom is the payload of a create_room request.
// RoomID names the listing the conversation is about.
type CreateRoom struct {
	RoomID         string `json:"roomId"`
	CounterpartyID string `json:"counterpartyId"`
}

// ErrorPayload is the payload of an error frame.
type ErrorPayload struct {
	Message string `json:"message"`
}

// Frame is the envelope of every websocket text frame.
type Frame struct {
	Op   string      `json:"op"`
	Data interface{} `json:"d,omitempty"`
}
