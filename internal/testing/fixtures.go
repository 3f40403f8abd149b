package testing

import (
	"strconv"
	"time"

	"roomchat/internal/chat"
)

// Epoch is a fixed instant used as the base time of fixtures.
var Epoch = time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)

// Message builds a server message created at Epoch plus offset.
func Message(id, roomID, senderID string, offset time.Duration) chat.Message {
	return chat.Message{
		ID:        id,
		Content:   "message " + id,
		RoomID:    roomID,
		CreatedAt: Epoch.Add(offset),
		SenderID:  senderID,
	}
}

// Room builds a room holding n messages from sender "peer", one minute apart.
func Room(id, title string, n int) chat.Room {
	r := chat.Room{ID: id, Title: title, Messages: []chat.Message{}}
	for i := 0; i < n; i++ {
		m := Message(id+"-"+strconv.Itoa(i), id, "peer", time.Duration(i)*time.Minute)
		r.Messages = append(r.Messages, m)
		r.LastMessage = m.Content
		r.Timestamp = m.CreatedAt
	}
	return r
}

// PairUserIDs splits userIDs into pairs whose first element is the first provided
// userID e.g. [0, 1, 2] -> [[0,1], [0,2]]
func PairUserIDs(userIDs []int64) [][]int64 {
	batches := make([][]int64, 0, len(userIDs)-1)
	for i := 1; i < len(userIDs); i++ {
		batches = append(batches, []int64{userIDs[0], userIDs[i]})
	}

	return batches
}
