package chat

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fastjson"
)

// Codec encodes and decodes websocket frames. It is safe for concurrent use.
type Codec struct {
	pool fastjson.ParserPool
}

// Encode wraps data into a frame with the given op.
func Encode(op string, data interface{}) ([]byte, error) {
	b, err := json.Marshal(Frame{Op: op, Data: data})
	if err != nil {
		return nil, fmt.Errorf("encoding %s frame: %w", op, err)
	}
	return b, nil
}

// DecodeEvent parses a server → client frame.
// An "error" frame is returned as a *RemoteError, unknown ops as ErrUnknownOp.
func (c *Codec) DecodeEvent(data []byte) (Event, error) {
	p := c.pool.Get()
	defer c.pool.Put(p)

	op, d, err := parseFrame(p, data)
	if err != nil {
		return nil, err
	}

	switch op {
	case OpInitialData:
		values := d.GetArray("rooms")
		rooms := make([]Room, 0, len(values))
		for _, v := range values {
			r, err := parseRoom(v)
			if err != nil {
				return nil, err
			}
			rooms = append(rooms, r)
		}
		return Hydration{Rooms: rooms}, nil
	case OpNewMessage:
		m, err := parseMessage(d)
		if err != nil {
			return nil, err
		}
		return MessageReceived{Message: m}, nil
	case OpNewRoom:
		r, err := parseRoom(d)
		if err != nil {
			return nil, err
		}
		return RoomCreated{Room: r}, nil
	case OpError:
		return nil, &RemoteError{Message: string(d.GetStringBytes("message"))}
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownOp, op)
	}
}

// DecodeRequest parses a client → server frame into a SendMessage or a CreateRoom.
func (c *Codec) DecodeRequest(data []byte) (interface{}, error) {
	p := c.pool.Get()
	defer c.pool.Put(p)

	op, d, err := parseFrame(p, data)
	if err != nil {
		return nil, err
	}

	switch op {
	case OpSendMessage:
		req := SendMessage{
			RoomID:    stringField(d, "roomId"),
			Content:   string(d.GetStringBytes("content")),
			ClientKey: string(d.GetStringBytes("clientKey")),
		}
		if req.RoomID == "" {
			return nil, fmt.Errorf("%w: field \"roomId\" is required", ErrMalformedFrame)
		}
		if strings.TrimSpace(req.Content) == "" {
			return nil, ErrEmptyContent
		}
		return req, nil
	case OpCreateRoom:
		req := CreateRoom{
			RoomID:         stringField(d, "roomId"),
			CounterpartyID: stringField(d, "counterpartyId"),
		}
		if req.RoomID == "" || req.CounterpartyID == "" {
			return nil, fmt.Errorf("%w: fields \"roomId\" and \"counterpartyId\" are required", ErrMalformedFrame)
		}
		return req, nil
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownOp, op)
	}
}

func parseFrame(p *fastjson.Parser, data []byte) (string, *fastjson.Value, error) {
	v, err := p.ParseBytes(data)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if v.Type() != fastjson.TypeObject {
		return "", nil, fmt.Errorf("%w: frame must be an object", ErrMalformedFrame)
	}

	op := string(v.GetStringBytes("op"))
	if op == "" {
		return "", nil, fmt.Errorf("%w: missing field \"op\"", ErrMalformedFrame)
	}

	d := v.Get("d")
	if d == nil || d.Type() != fastjson.TypeObject {
		// payload-less frames decode as an empty object
		d = fastjson.MustParse(`{}`)
	}
	return op, d, nil
}

func parseMessage(v *fastjson.Value) (Message, error) {
	createdAt, err := timeField(v, "createdAt")
	if err != nil {
		return Message{}, err
	}

	m := Message{
		ID:        stringField(v, "id"),
		Content:   string(v.GetStringBytes("content")),
		RoomID:    stringField(v, "roomId"),
		CreatedAt: createdAt,
		SenderID:  stringField(v, "senderId"),
		IsRead:    v.GetBool("isRead"),
		ClientKey: string(v.GetStringBytes("clientKey")),
	}
	if m.ID == "" || m.RoomID == "" {
		return Message{}, fmt.Errorf("%w: message requires \"id\" and \"roomId\"", ErrMalformedFrame)
	}
	return m, nil
}

func parseRoom(v *fastjson.Value) (Room, error) {
	ts, err := timeField(v, "timestamp")
	if err != nil {
		return Room{}, err
	}

	r := Room{
		ID:          stringField(v, "id"),
		Title:       string(v.GetStringBytes("title")),
		LastMessage: string(v.GetStringBytes("lastMessage")),
		Timestamp:   ts,
		UnreadCount: v.GetInt("unreadCount"),
	}
	if r.ID == "" {
		return Room{}, fmt.Errorf("%w: room requires \"id\"", ErrMalformedFrame)
	}
	if r.UnreadCount < 0 {
		r.UnreadCount = 0
	}

	values := v.GetArray("messages")
	r.Messages = make([]Message, 0, len(values))
	for _, mv := range values {
		m, err := parseMessage(mv)
		if err != nil {
			return Room{}, err
		}
		r.Messages = append(r.Messages, m)
	}
	return r, nil
}

// stringField accepts both string and number values, ids come in either form.
func stringField(v *fastjson.Value, key string) string {
	f := v.Get(key)
	if f == nil {
		return ""
	}
	switch f.Type() {
	case fastjson.TypeString:
		return string(f.GetStringBytes())
	case fastjson.TypeNumber:
		return string(f.MarshalTo(nil))
	default:
		return ""
	}
}

// timeField accepts RFC 3339 strings and unix milliseconds. A missing field yields the zero time.
func timeField(v *fastjson.Value, key string) (time.Time, error) {
	f := v.Get(key)
	if f == nil {
		return time.Time{}, nil
	}
	switch f.Type() {
	case fastjson.TypeString:
		t, err := time.Parse(time.RFC3339Nano, string(f.GetStringBytes()))
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: field %q: %v", ErrMalformedFrame, key, err)
		}
		return t, nil
	case fastjson.TypeNumber:
		ms, err := f.Int64()
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: field %q: %v", ErrMalformedFrame, key, err)
		}
		return time.UnixMilli(ms).UTC(), nil
	case fastjson.TypeNull:
		return time.Time{}, nil
	default:
		return time.Time{}, fmt.Errorf("%w: field %q must be a string or a number", ErrMalformedFrame, key)
	}
}
