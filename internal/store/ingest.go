package store

import (
	"fmt"

	"roomchat/internal/chat"
)

// Apply applies an inbound event and reports whether the collection changed.
func (s *Store) Apply(ev chat.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch e := ev.(type) {
	case chat.Hydration:
		return s.hydrate(e)
	case chat.MessageReceived:
		return s.receive(e.Message)
	case chat.RoomCreated:
		return s.addRoom(e.Room)
	default:
		s.logger.Warnf("Ignoring unsupported event %T", ev)
		return false
	}
}

// hydrate replaces the collection. Rooms without messages are left out of the visible set
// until a new_room event brings them in.
func (s *Store) hydrate(h chat.Hydration) bool {
	prev := s.current.Load()

	rooms := make([]chat.Room, 0, len(h.Rooms))
	seen := make(map[string]bool, len(h.Rooms))
	var empty, dup int
	for _, r := range h.Rooms {
		if len(r.Messages) == 0 {
			empty++
			continue
		}
		if seen[r.ID] {
			dup++
			continue
		}
		seen[r.ID] = true
		rooms = append(rooms, r.Clone())
	}

	active := prev.active
	if !seen[active] {
		active = ""
	}

	s.logger.Debugf("Hydrated %d rooms (%d without history, %d duplicates skipped)", len(rooms), empty, dup)
	s.publish(prev, rooms, active)
	return true
}

func (s *Store) receive(m chat.Message) bool {
	prev := s.current.Load()

	i := indexOf(prev.rooms, m.RoomID)
	if i < 0 {
		s.logger.Debugf("Dropping message %s for unknown room %s", m.ID, m.RoomID)
		return false
	}
	r := prev.rooms[i]

	for j := range r.Messages {
		existing := r.Messages[j]

		if existing.ID == m.ID {
			s.logger.Debugf("Dropping duplicate message %s in room %s", m.ID, r.ID)
			return false
		}

		// the server echo of an optimistic message replaces it in place
		if existing.IsLocal() && s.isEcho(m, existing.ClientKey) {
			msgs := make([]chat.Message, len(r.Messages))
			copy(msgs, r.Messages)
			msgs[j] = m
			r.Messages = msgs
			summarize(&r, m)

			s.logger.Debugf("Reconciled message %s with %s in room %s", existing.ID, m.ID, r.ID)
			s.publish(prev, withRoom(prev.rooms, i, r), prev.active)
			return true
		}
	}

	// full slice expression forces a copy so older snapshots keep their backing array
	r.Messages = append(r.Messages[:len(r.Messages):len(r.Messages)], m)
	summarize(&r, m)
	if s.countsAsUnread(r.ID, prev.active, m) {
		r.UnreadCount++
	}

	s.publish(prev, withRoom(prev.rooms, i, r), prev.active)
	return true
}

// isEcho reports whether the server message m confirms a send of the local user under clientKey.
// Keys are only unique per sender.
func (s *Store) isEcho(m chat.Message, clientKey string) bool {
	return clientKey != "" && m.ClientKey == clientKey && s.localUser != "" && m.SenderID == s.localUser
}

func (s *Store) countsAsUnread(roomID, active string, m chat.Message) bool {
	if roomID == active {
		return false
	}
	if s.localUser != "" && m.SenderID == s.localUser {
		return false
	}
	return true
}

// addRoom appends a room. A room whose id is already present is ignored to keep ids unique.
func (s *Store) addRoom(r chat.Room) bool {
	prev := s.current.Load()

	if indexOf(prev.rooms, r.ID) >= 0 {
		s.logger.Debugf("Ignoring new_room for existing room %s", r.ID)
		return false
	}

	rooms := make([]chat.Room, len(prev.rooms), len(prev.rooms)+1)
	copy(rooms, prev.rooms)
	rooms = append(rooms, r.Clone())

	s.publish(prev, rooms, prev.active)
	return true
}

// AppendLocal appends an optimistic message sent by this client.
// When the server echo with the same client key was applied first, nothing is appended.
func (s *Store) AppendLocal(m chat.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.current.Load()

	i := indexOf(prev.rooms, m.RoomID)
	if i < 0 {
		return fmt.Errorf("appending local message: %w", chat.ErrRoomNotFound)
	}
	r := prev.rooms[i]

	for _, existing := range r.Messages {
		if !existing.IsLocal() && s.isEcho(existing, m.ClientKey) {
			s.logger.Debugf("Server copy %s already present for client key %s", existing.ID, m.ClientKey)
			return nil
		}
	}

	r.Messages = append(r.Messages[:len(r.Messages):len(r.Messages)], m)
	summarize(&r, m)

	s.publish(prev, withRoom(prev.rooms, i, r), prev.active)
	return nil
}

// MarkRead resets the unread counter of a room.
func (s *Store) MarkRead(roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.current.Load()

	i := indexOf(prev.rooms, roomID)
	if i < 0 {
		return fmt.Errorf("marking room read: %w", chat.ErrRoomNotFound)
	}
	if prev.rooms[i].UnreadCount == 0 {
		return nil
	}

	r := prev.rooms[i]
	r.UnreadCount = 0
	s.publish(prev, withRoom(prev.rooms, i, r), prev.active)
	return nil
}

// SetActiveRoom marks the room the user has open. Messages arriving in the active room do not
// count as unread, and opening a room resets its counter. An empty id closes the active room.
func (s *Store) SetActiveRoom(roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.current.Load()

	if roomID == "" {
		if prev.active != "" {
			s.publish(prev, prev.rooms, "")
		}
		return nil
	}

	i := indexOf(prev.rooms, roomID)
	if i < 0 {
		return fmt.Errorf("opening room: %w", chat.ErrRoomNotFound)
	}

	rooms := prev.rooms
	if rooms[i].UnreadCount != 0 {
		r := rooms[i]
		r.UnreadCount = 0
		rooms = withRoom(rooms, i, r)
	}
	s.publish(prev, rooms, roomID)
	return nil
}

func summarize(r *chat.Room, m chat.Message) {
	r.LastMessage = m.Content
	r.Timestamp = m.CreatedAt
}
