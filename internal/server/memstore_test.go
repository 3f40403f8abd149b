package server

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"roomchat/internal/chat"
	"roomchat/internal/storage"
)

// memStore is an in-memory Store with the error semantics of storage.Store
type memStore struct {
	mu       sync.Mutex
	nextID   int64
	users    map[int64]storage.User
	rooms    map[int64]storage.Room
	members  map[int64][]int64
	messages map[int64][]storage.Message
}

func newMemStore() *memStore {
	return &memStore{
		users:    map[int64]storage.User{},
		rooms:    map[int64]storage.Room{},
		members:  map[int64][]int64{},
		messages: map[int64][]storage.Message{},
	}
}

func (s *memStore) id() int64 {
	s.nextID++
	return s.nextID
}

func (s *memStore) CreateUser(_ context.Context, username string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(username) == "" {
		return 0, storage.ErrUsernameIsEmpty
	}
	for _, u := range s.users {
		if u.Username == username {
			return 0, storage.ErrUserExists
		}
	}
	u := storage.User{ID: s.id(), Username: username, CreatedAt: time.Now().UTC()}
	s.users[u.ID] = u
	return u.ID, nil
}

func (s *memStore) CreateRoom(_ context.Context, listingID, title string, users []int64) (storage.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(listingID) == "" {
		return storage.Room{}, storage.ErrRoomBadListing
	}
	for _, u := range users {
		if _, ok := s.users[u]; !ok {
			return storage.Room{}, storage.ErrRoomBadUsers
		}
	}
	for id, r := range s.rooms {
		if r.ListingID == listingID && sameMembers(s.members[id], users) {
			return storage.Room{}, storage.ErrRoomExists
		}
	}

	r := storage.Room{ID: s.id(), ListingID: listingID, Title: title, CreatedAt: time.Now().UTC()}
	for _, u := range users {
		r.Members = append(r.Members, s.users[u])
	}
	s.rooms[r.ID] = r
	s.members[r.ID] = append([]int64(nil), users...)
	return r, nil
}

func sameMembers(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	x := append([]int64(nil), a...)
	y := append([]int64(nil), b...)
	sort.Slice(x, func(i, j int) bool { return x[i] < x[j] })
	sort.Slice(y, func(i, j int) bool { return y[i] < y[j] })
	for i := range x {
		if x[i] != y[i] {
			return false
		}
	}
	return true
}

func (s *memStore) CreateMessage(_ context.Context, room, author int64, text, clientKey string) (storage.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(text) == "" {
		return storage.Message{}, storage.ErrMessageBadText
	}
	if _, ok := s.rooms[room]; !ok {
		return storage.Message{}, storage.ErrRoomNotExist
	}
	member := false
	for _, u := range s.members[room] {
		member = member || u == author
	}
	if !member {
		return storage.Message{}, storage.ErrNotRoomMember
	}

	m := storage.Message{ID: s.id(), RoomID: room, AuthorID: author, Text: text, ClientKey: clientKey, CreatedAt: time.Now().UTC()}
	s.messages[room] = append(s.messages[room], m)
	return m, nil
}

func (s *memStore) RoomsByUserID(_ context.Context, user int64) ([]storage.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomsOf(user)
}

func (s *memStore) roomsOf(user int64) ([]storage.Room, error) {
	if _, ok := s.users[user]; !ok {
		return nil, storage.ErrUserNotExist
	}
	var rooms []storage.Room
	for id, r := range s.rooms {
		for _, u := range s.members[id] {
			if u == user {
				rooms = append(rooms, r)
			}
		}
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].ID < rooms[j].ID })
	return rooms, nil
}

func (s *memStore) MessagesByRoomID(_ context.Context, room int64) ([]storage.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.rooms[room]; !ok {
		return nil, storage.ErrRoomNotExist
	}
	return append([]storage.Message(nil), s.messages[room]...), nil
}

func (s *memStore) RoomMembers(_ context.Context, room int64) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	members, ok := s.members[room]
	if !ok {
		return nil, storage.ErrRoomNotExist
	}
	return append([]int64(nil), members...), nil
}

func (s *memStore) Hydrate(_ context.Context, user int64) ([]chat.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rooms, err := s.roomsOf(user)
	if err != nil {
		return nil, err
	}
	out := make([]chat.Room, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, r.Chat(s.messages[r.ID]))
	}
	return out, nil
}
