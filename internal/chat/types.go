// Package chat defines rooms, messages and the wire protocol shared by the sync client and the gateway.
package chat

import (
	"strings"
	"time"
)

// Message is a single chat message. SenderID and ID are strings so that both server ids
// and locally generated placeholders fit.
type Message struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	RoomID    string    `json:"roomId"`
	CreatedAt time.Time `json:"createdAt"`
	SenderID  string    `json:"senderId"`
	IsRead    bool      `json:"isRead"`
	// ClientKey is set on messages sent by this client and echoed back by the server
	ClientKey string `json:"clientKey,omitempty"`
}

// Room is a conversation with a denormalized summary of its latest message.
type Room struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	LastMessage string    `json:"lastMessage"`
	Timestamp   time.Time `json:"timestamp"`
	UnreadCount int       `json:"unreadCount"`
	Messages    []Message `json:"messages"`
}

// Clone returns a copy of r that shares no memory with it.
func (r Room) Clone() Room {
	c := r
	if r.Messages != nil {
		c.Messages = make([]Message, len(r.Messages))
		copy(c.Messages, r.Messages)
	}
	return c
}

// IsLocal reports whether m is an optimistic copy that the server has not confirmed yet.
func (m Message) IsLocal() bool {
	return strings.HasPrefix(m.ID, LocalIDPrefix)
}

// LocalIDPrefix marks ids of optimistic messages.
const LocalIDPrefix = "local-"
