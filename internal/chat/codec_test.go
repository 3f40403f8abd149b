package chat

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDecodeEventInitialData(t *testing.T) {
	t.Parallel()

	var c Codec
	frame := `{"op":"initial_data","d":{"rooms":[
		{"id":"r1","title":"Loft","lastMessage":"hi","timestamp":"2026-10-18T09:00:00Z","unreadCount":2,
		 "messages":[{"id":1,"content":"hi","roomId":"r1","createdAt":"2026-10-18T09:00:00Z","senderId":7,"isRead":false}]},
		{"id":"r2","title":"Empty","messages":[]}
	]}}`

	ev, err := c.DecodeEvent([]byte(frame))
	require.NoError(t, err)

	h, ok := ev.(Hydration)
	require.True(t, ok)
	require.Len(t, h.Rooms, 2)

	r1 := h.Rooms[0]
	require.Equal(t, "r1", r1.ID)
	require.Equal(t, "Loft", r1.Title)
	require.Equal(t, 2, r1.UnreadCount)
	require.Len(t, r1.Messages, 1)
	require.Equal(t, "1", r1.Messages[0].ID)
	require.Equal(t, "7", r1.Messages[0].SenderID)
	require.Equal(t, time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC), r1.Messages[0].CreatedAt)

	require.Empty(t, h.Rooms[1].Messages)
	require.True(t, h.Rooms[1].Timestamp.IsZero())
}

func TestDecodeEventNewMessage(t *testing.T) {
	t.Parallel()

	var c Codec
	frame := `{"op":"new_message","d":{"id":"m1","content":"hello","roomId":"r1","createdAt":1760778000000,"senderId":"u2","clientKey":"k1"}}`

	ev, err := c.DecodeEvent([]byte(frame))
	require.NoError(t, err)

	m, ok := ev.(MessageReceived)
	require.True(t, ok)
	require.Equal(t, "m1", m.Message.ID)
	require.Equal(t, "k1", m.Message.ClientKey)
	require.Equal(t, time.UnixMilli(1760778000000).UTC(), m.Message.CreatedAt)
}

func TestDecodeEventNewRoom(t *testing.T) {
	t.Parallel()

	var c Codec
	ev, err := c.DecodeEvent([]byte(`{"op":"new_room","d":{"id":"r9","title":"Cabin"}}`))
	require.NoError(t, err)

	r, ok := ev.(RoomCreated)
	require.True(t, ok)
	require.Equal(t, "r9", r.Room.ID)
	require.Empty(t, r.Room.Messages)
}

func TestDecodeEventErrorFrame(t *testing.T) {
	t.Parallel()

	var c Codec
	_, err := c.DecodeEvent([]byte(`{"op":"error","d":{"message":"not a room member"}}`))

	var remote *RemoteError
	require.True(t, errors.As(err, &remote))
	require.Equal(t, "not a room member", remote.Message)
}

func TestDecodeEventUnknownOp(t *testing.T) {
	t.Parallel()

	var c Codec
	_, err := c.DecodeEvent([]byte(`{"op":"typing_start","d":{}}`))
	require.True(t, errors.Is(err, ErrUnknownOp))
}

func TestDecodeEventMalformed(t *testing.T) {
	t.Parallel()

	var c Codec
	cases := []string{
		`{"op":`,
		`[]`,
		`{"d":{}}`,
		`{"op":"new_message","d":{"content":"no ids"}}`,
		`{"op":"new_message","d":{"id":"m","roomId":"r","createdAt":"yesterday"}}`,
		`{"op":"new_room","d":{"title":"no id"}}`,
	}
	for _, frame := range cases {
		_, err := c.DecodeEvent([]byte(frame))
		require.True(t, errors.Is(err, ErrMalformedFrame), frame)
	}
}

func TestDecodeRequest(t *testing.T) {
	t.Parallel()

	var c Codec

	req, err := c.DecodeRequest([]byte(`{"op":"send_message","d":{"roomId":"5","content":"hi","clientKey":"k"}}`))
	require.NoError(t, err)
	require.Equal(t, SendMessage{RoomID: "5", Content: "hi", ClientKey: "k"}, req)

	req, err = c.DecodeRequest([]byte(`{"op":"create_room","d":{"roomId":"listing-1","counterpartyId":42}}`))
	require.NoError(t, err)
	require.Equal(t, CreateRoom{RoomID: "listing-1", CounterpartyID: "42"}, req)

	_, err = c.DecodeRequest([]byte(`{"op":"send_message","d":{"roomId":"5","content":"  "}}`))
	require.Equal(t, ErrEmptyContent, err)

	_, err = c.DecodeRequest([]byte(`{"op":"create_room","d":{"roomId":"listing-1"}}`))
	require.True(t, errors.Is(err, ErrMalformedFrame))
}

func TestEncodeRoundTrip(t *testing.T) {
	t.Parallel()

	var c Codec
	at := time.Date(2026, 10, 17, 23, 59, 0, 0, time.UTC)
	in := Message{ID: "m1", Content: "late", RoomID: "r1", CreatedAt: at, SenderID: "u1", ClientKey: "k"}

	b, err := Encode(OpNewMessage, in)
	require.NoError(t, err)

	ev, err := c.DecodeEvent(b)
	require.NoError(t, err)
	require.Equal(t, MessageReceived{Message: in}, ev)
}

func TestIsLocal(t *testing.T) {
	t.Parallel()

	require.True(t, Message{ID: LocalIDPrefix + "01J"}.IsLocal())
	require.False(t, Message{ID: "42"}.IsLocal())
}
