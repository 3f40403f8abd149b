package storage

import (
	"strconv"
	"time"

	"roomchat/internal/chat"
)

type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}

// Room is a conversation about a listing between its members.
type Room struct {
	ID        int64     `json:"id"`
	ListingID string    `json:"listing_id"`
	Title     string    `json:"title"`
	Members   []User    `json:"members"`
	CreatedAt time.Time `json:"created_at"`
}

type Message struct {
	ID        int64     `json:"id"`
	RoomID    int64     `json:"room_id"`
	AuthorID  int64     `json:"author_id"`
	Text      string    `json:"text"`
	ClientKey string    `json:"client_key,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Chat converts m to its wire form.
func (m Message) Chat() chat.Message {
	return chat.Message{
		ID:        strconv.FormatInt(m.ID, 10),
		Content:   m.Text,
		RoomID:    strconv.FormatInt(m.RoomID, 10),
		CreatedAt: m.CreatedAt,
		SenderID:  strconv.FormatInt(m.AuthorID, 10),
		ClientKey: m.ClientKey,
	}
}

// Chat converts r to its wire form, summarizing the given history.
func (r Room) Chat(history []Message) chat.Room {
	c := chat.Room{
		ID:        strconv.FormatInt(r.ID, 10),
		Title:     r.Title,
		Timestamp: r.CreatedAt,
		Messages:  make([]chat.Message, 0, len(history)),
	}
	for _, m := range history {
		c.Messages = append(c.Messages, m.Chat())
	}
	if n := len(history); n > 0 {
		c.LastMessage = history[n-1].Text
		c.Timestamp = history[n-1].CreatedAt
	}
	return c
}
