// Package store holds the in-memory room collection of one signed-in user.
//
// Writers are serialized by a mutex and every change publishes a new immutable
// collection, so readers never lock and can detect changes by comparing versions.
package store

import (
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"roomchat/internal/chat"
)

type Option interface {
	apply(*Store)
}

type optionFunc func(s *Store)

func (f optionFunc) apply(s *Store) { f(s) }

// LocalUser sets the id of the signed-in user. Messages authored by this user never count as unread.
func LocalUser(id string) Option {
	return optionFunc(func(s *Store) {
		s.localUser = id
	})
}

// Snapshot is an immutable view of the store at one version.
type Snapshot struct {
	Version    uint64
	Rooms      []chat.Room
	ActiveRoom string
}

type state struct {
	version uint64
	rooms   []chat.Room
	active  string
}

// Store is the single source of truth for rooms and messages.
type Store struct {
	logger    *zap.SugaredLogger
	localUser string

	mu      sync.Mutex
	current atomic.Pointer[state]

	subMu   sync.Mutex
	subs    map[int]chan Snapshot
	nextSub int
}

// New returns an empty store at version 0.
func New(logger *zap.SugaredLogger, opts ...Option) *Store {
	s := &Store{
		logger: logger,
		subs:   map[int]chan Snapshot{},
	}
	for _, opt := range opts {
		opt.apply(s)
	}
	s.current.Store(&state{})
	return s
}

// Version returns the version of the current collection. It changes on every mutation.
func (s *Store) Version() uint64 {
	return s.current.Load().version
}

// Snapshot returns a deep copy of the current collection.
func (s *Store) Snapshot() Snapshot {
	return s.current.Load().snapshot()
}

// Rooms returns a deep copy of every room in collection order.
func (s *Store) Rooms() []chat.Room {
	return s.current.Load().snapshot().Rooms
}

// Room returns a deep copy of the room with the given id.
func (s *Store) Room(id string) (chat.Room, bool) {
	st := s.current.Load()
	if i := indexOf(st.rooms, id); i >= 0 {
		return st.rooms[i].Clone(), true
	}
	return chat.Room{}, false
}

// HasRoom reports whether a room with the given id exists.
func (s *Store) HasRoom(id string) bool {
	return indexOf(s.current.Load().rooms, id) >= 0
}

// Messages returns a copy of the messages of a room in insertion order.
func (s *Store) Messages(roomID string) []chat.Message {
	r, ok := s.Room(roomID)
	if !ok {
		return nil
	}
	return r.Messages
}

// TotalUnread sums the unread counters of all rooms.
func (s *Store) TotalUnread() int {
	var n int
	for _, r := range s.current.Load().rooms {
		n += r.UnreadCount
	}
	return n
}

// Subscribe returns a channel receiving the latest snapshot after each change.
// Slow subscribers only ever see the most recent snapshot. Call cancel to unsubscribe.
func (s *Store) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	s.subMu.Unlock()

	cancel := func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if _, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(ch)
		}
	}
	return ch, cancel
}

// Close unsubscribes every subscriber.
func (s *Store) Close() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}

// publish must be called with s.mu held.
func (s *Store) publish(prev *state, rooms []chat.Room, active string) {
	next := &state{
		version: prev.version + 1,
		rooms:   rooms,
		active:  active,
	}
	s.current.Store(next)

	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		// drop a stale snapshot the subscriber has not read yet
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- next.snapshot():
		default:
		}
	}
}

func (st *state) snapshot() Snapshot {
	rooms := make([]chat.Room, len(st.rooms))
	for i, r := range st.rooms {
		rooms[i] = r.Clone()
	}
	return Snapshot{
		Version:    st.version,
		Rooms:      rooms,
		ActiveRoom: st.active,
	}
}

func indexOf(rooms []chat.Room, id string) int {
	for i := range rooms {
		if rooms[i].ID == id {
			return i
		}
	}
	return -1
}

// withRoom returns a copy of rooms where the room at i is replaced by r.
// Rooms other than i keep sharing memory with the previous collection.
func withRoom(rooms []chat.Room, i int, r chat.Room) []chat.Room {
	next := make([]chat.Room, len(rooms))
	copy(next, rooms)
	next[i] = r
	return next
}
