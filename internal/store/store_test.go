package store

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"roomchat/internal/chat"
	mytesting "roomchat/internal/testing"
)

func bootstrap(t *testing.T, rooms ...chat.Room) *Store {
	s := New(zap.NewNop().Sugar(), LocalUser("me"))
	if len(rooms) > 0 {
		require.True(t, s.Apply(chat.Hydration{Rooms: rooms}))
	}
	return s
}

func TestHydrationDropsRoomsWithoutHistory(t *testing.T) {
	t.Parallel()

	s := bootstrap(t, mytesting.Room("R1", "Loft", 2), mytesting.Room("R2", "Cabin", 0))

	rooms := s.Rooms()
	require.Len(t, rooms, 1)
	require.Equal(t, "R1", rooms[0].ID)
	require.Len(t, rooms[0].Messages, 2)
}

func TestHydrationReplacesCollection(t *testing.T) {
	t.Parallel()

	s := bootstrap(t, mytesting.Room("R1", "Loft", 1))
	require.True(t, s.Apply(chat.Hydration{Rooms: []chat.Room{mytesting.Room("R3", "Barn", 1)}}))

	rooms := s.Rooms()
	require.Len(t, rooms, 1)
	require.Equal(t, "R3", rooms[0].ID)
}

func TestHydrationKeepsFirstOfDuplicateIDs(t *testing.T) {
	t.Parallel()

	first := mytesting.Room("R1", "first", 1)
	second := mytesting.Room("R1", "second", 3)
	s := bootstrap(t, first, second)

	rooms := s.Rooms()
	require.Len(t, rooms, 1)
	require.Equal(t, "first", rooms[0].Title)
}

func TestOrphanMessageIsDropped(t *testing.T) {
	t.Parallel()

	s := bootstrap(t, mytesting.Room("R1", "Loft", 2))
	before := s.Snapshot()

	changed := s.Apply(chat.MessageReceived{Message: mytesting.Message("m", "X", "peer", time.Hour)})
	require.False(t, changed)

	after := s.Snapshot()
	require.Equal(t, before.Version, after.Version)
	require.Equal(t, before.Rooms, after.Rooms)
}

func TestInboundMessageUpdatesSummaryAndUnread(t *testing.T) {
	t.Parallel()

	s := bootstrap(t, mytesting.Room("R1", "Loft", 1))

	for i, id := range []string{"a", "b", "c"} {
		m := mytesting.Message(id, "R1", "peer", time.Duration(10+i)*time.Minute)
		require.True(t, s.Apply(chat.MessageReceived{Message: m}))
	}

	r, ok := s.Room("R1")
	require.True(t, ok)
	require.Equal(t, 3, r.UnreadCount)
	require.Len(t, r.Messages, 4)
	require.Equal(t, "message c", r.LastMessage)
	require.Equal(t, mytesting.Epoch.Add(12*time.Minute), r.Timestamp)
	require.Equal(t, 3, s.TotalUnread())
}

func TestInboundMessageKeepsInsertionOrder(t *testing.T) {
	t.Parallel()

	s := bootstrap(t, mytesting.Room("R1", "Loft", 1))
	older := mytesting.Message("old", "R1", "peer", -time.Hour)
	require.True(t, s.Apply(chat.MessageReceived{Message: older}))

	msgs := s.Messages("R1")
	require.Equal(t, "old", msgs[len(msgs)-1].ID)
}

func TestOwnAndActiveRoomMessagesAreNotUnread(t *testing.T) {
	t.Parallel()

	s := bootstrap(t, mytesting.Room("R1", "Loft", 1), mytesting.Room("R2", "Barn", 1))

	require.True(t, s.Apply(chat.MessageReceived{Message: mytesting.Message("own", "R1", "me", time.Hour)}))
	r, _ := s.Room("R1")
	require.Equal(t, 0, r.UnreadCount)

	require.NoError(t, s.SetActiveRoom("R2"))
	require.True(t, s.Apply(chat.MessageReceived{Message: mytesting.Message("x", "R2", "peer", time.Hour)}))
	r, _ = s.Room("R2")
	require.Equal(t, 0, r.UnreadCount)

	require.NoError(t, s.SetActiveRoom(""))
	require.True(t, s.Apply(chat.MessageReceived{Message: mytesting.Message("y", "R2", "peer", time.Hour)}))
	r, _ = s.Room("R2")
	require.Equal(t, 1, r.UnreadCount)
}

func TestDuplicateServerMessageIsDropped(t *testing.T) {
	t.Parallel()

	s := bootstrap(t, mytesting.Room("R1", "Loft", 1))
	m := mytesting.Message("m", "R1", "peer", time.Hour)

	require.True(t, s.Apply(chat.MessageReceived{Message: m}))
	require.False(t, s.Apply(chat.MessageReceived{Message: m}))

	r, _ := s.Room("R1")
	require.Len(t, r.Messages, 2)
	require.Equal(t, 1, r.UnreadCount)
}

func TestNewRoom(t *testing.T) {
	t.Parallel()

	s := bootstrap(t, mytesting.Room("R1", "Loft", 1))

	require.True(t, s.Apply(chat.RoomCreated{Room: chat.Room{ID: "R2", Title: "Cabin"}}))
	require.False(t, s.Apply(chat.RoomCreated{Room: chat.Room{ID: "R2", Title: "Cabin again"}}))

	rooms := s.Rooms()
	require.Len(t, rooms, 2)
	require.Equal(t, "R2", rooms[1].ID)
	require.Equal(t, "Cabin", rooms[1].Title)

	// messages can now be delivered to the new room
	require.True(t, s.Apply(chat.MessageReceived{Message: mytesting.Message("m", "R2", "peer", 0)}))
}

func TestAppendLocal(t *testing.T) {
	t.Parallel()

	s := bootstrap(t, mytesting.Room("R1", "Loft", 1))

	local := chat.Message{
		ID:        chat.LocalIDPrefix + "1",
		Content:   "hello",
		RoomID:    "R1",
		CreatedAt: mytesting.Epoch.Add(time.Hour),
		SenderID:  "me",
		ClientKey: "k1",
	}
	require.NoError(t, s.AppendLocal(local))

	r, _ := s.Room("R1")
	require.Len(t, r.Messages, 2)
	require.Equal(t, local, r.Messages[1])
	require.Equal(t, "hello", r.LastMessage)
	require.Equal(t, 0, r.UnreadCount)

	err := s.AppendLocal(chat.Message{ID: "x", RoomID: "nope"})
	require.True(t, errors.Is(err, chat.ErrRoomNotFound))
}

func TestServerEchoReconcilesLocalMessage(t *testing.T) {
	t.Parallel()

	s := bootstrap(t, mytesting.Room("R1", "Loft", 1))

	local := chat.Message{ID: chat.LocalIDPrefix + "1", Content: "hello", RoomID: "R1", SenderID: "me", ClientKey: "k1",
		CreatedAt: mytesting.Epoch.Add(time.Hour)}
	require.NoError(t, s.AppendLocal(local))
	require.True(t, s.Apply(chat.MessageReceived{Message: mytesting.Message("tail", "R1", "peer", 2*time.Hour)}))

	echo := chat.Message{ID: "900", Content: "hello", RoomID: "R1", SenderID: "me", ClientKey: "k1",
		CreatedAt: mytesting.Epoch.Add(time.Hour + time.Second)}
	require.True(t, s.Apply(chat.MessageReceived{Message: echo}))

	r, _ := s.Room("R1")
	require.Len(t, r.Messages, 3)
	require.Equal(t, echo, r.Messages[1])
	require.False(t, r.Messages[1].IsLocal())
	require.Equal(t, 1, r.UnreadCount)
}

func TestLocalAppendAfterEchoIsSkipped(t *testing.T) {
	t.Parallel()

	s := bootstrap(t, mytesting.Room("R1", "Loft", 1))

	echo := chat.Message{ID: "900", Content: "hello", RoomID: "R1", SenderID: "me", ClientKey: "k1", CreatedAt: mytesting.Epoch}
	require.True(t, s.Apply(chat.MessageReceived{Message: echo}))
	require.NoError(t, s.AppendLocal(chat.Message{ID: chat.LocalIDPrefix + "1", RoomID: "R1", ClientKey: "k1"}))

	r, _ := s.Room("R1")
	require.Len(t, r.Messages, 2)
	require.Equal(t, "900", r.Messages[1].ID)
}

func TestForeignClientKeyDoesNotReplaceMessages(t *testing.T) {
	t.Parallel()

	s := bootstrap(t, mytesting.Room("R1", "Loft", 1))

	local := chat.Message{ID: chat.LocalIDPrefix + "1", Content: "mine", RoomID: "R1", SenderID: "me", ClientKey: "k1",
		CreatedAt: mytesting.Epoch.Add(time.Hour)}
	require.NoError(t, s.AppendLocal(local))
	echo := chat.Message{ID: "900", Content: "mine", RoomID: "R1", SenderID: "me", ClientKey: "k1",
		CreatedAt: mytesting.Epoch.Add(time.Hour + time.Second)}
	require.True(t, s.Apply(chat.MessageReceived{Message: echo}))

	// a peer whose client happened to pick the same key
	peer := chat.Message{ID: "901", Content: "peer text", RoomID: "R1", SenderID: "peer", ClientKey: "k1",
		CreatedAt: mytesting.Epoch.Add(2 * time.Hour)}
	require.True(t, s.Apply(chat.MessageReceived{Message: peer}))

	r, _ := s.Room("R1")
	require.Len(t, r.Messages, 3)
	require.Equal(t, echo, r.Messages[1])
	require.Equal(t, peer, r.Messages[2])
	require.Equal(t, 1, r.UnreadCount)
}

func TestPeerMessageDoesNotReconcileLocalCopy(t *testing.T) {
	t.Parallel()

	s := bootstrap(t, mytesting.Room("R1", "Loft", 1))

	local := chat.Message{ID: chat.LocalIDPrefix + "1", Content: "mine", RoomID: "R1", SenderID: "me", ClientKey: "k1",
		CreatedAt: mytesting.Epoch.Add(time.Hour)}
	require.NoError(t, s.AppendLocal(local))
	require.True(t, s.Apply(chat.MessageReceived{Message: chat.Message{ID: "901", Content: "peer text", RoomID: "R1",
		SenderID: "peer", ClientKey: "k1", CreatedAt: mytesting.Epoch.Add(time.Hour)}}))

	r, _ := s.Room("R1")
	require.Len(t, r.Messages, 3)
	require.Equal(t, local, r.Messages[1])
	require.Equal(t, 1, r.UnreadCount)

	// a peer message with the key does not suppress a later local send either
	s = bootstrap(t, mytesting.Room("R2", "Barn", 1))
	require.True(t, s.Apply(chat.MessageReceived{Message: chat.Message{ID: "902", RoomID: "R2", SenderID: "peer",
		ClientKey: "k2", CreatedAt: mytesting.Epoch}}))
	require.NoError(t, s.AppendLocal(chat.Message{ID: chat.LocalIDPrefix + "2", RoomID: "R2", SenderID: "me", ClientKey: "k2"}))
	require.Len(t, s.Messages("R2"), 3)
}

func TestMarkRead(t *testing.T) {
	t.Parallel()

	s := bootstrap(t, mytesting.Room("R1", "Loft", 1))
	require.True(t, s.Apply(chat.MessageReceived{Message: mytesting.Message("a", "R1", "peer", time.Hour)}))

	require.NoError(t, s.MarkRead("R1"))
	r, _ := s.Room("R1")
	require.Equal(t, 0, r.UnreadCount)

	require.True(t, errors.Is(s.MarkRead("nope"), chat.ErrRoomNotFound))
}

func TestSetActiveRoomResetsUnread(t *testing.T) {
	t.Parallel()

	s := bootstrap(t, mytesting.Room("R1", "Loft", 1))
	require.True(t, s.Apply(chat.MessageReceived{Message: mytesting.Message("a", "R1", "peer", time.Hour)}))

	require.NoError(t, s.SetActiveRoom("R1"))
	snap := s.Snapshot()
	require.Equal(t, "R1", snap.ActiveRoom)
	require.Equal(t, 0, snap.Rooms[0].UnreadCount)

	require.True(t, errors.Is(s.SetActiveRoom("nope"), chat.ErrRoomNotFound))
}

func TestSnapshotsAreIsolated(t *testing.T) {
	t.Parallel()

	s := bootstrap(t, mytesting.Room("R1", "Loft", 2))

	old := s.Snapshot()
	old.Rooms[0].Messages[0].Content = "mutated by a reader"
	old.Rooms[0].Title = "mutated"

	require.True(t, s.Apply(chat.MessageReceived{Message: mytesting.Message("a", "R1", "peer", time.Hour)}))

	r, _ := s.Room("R1")
	require.Equal(t, "Loft", r.Title)
	require.Equal(t, "message R1-0", r.Messages[0].Content)
	require.Len(t, old.Rooms[0].Messages, 2)
	require.Greater(t, s.Version(), old.Version)
}

func TestSubscribeReceivesLatestSnapshot(t *testing.T) {
	t.Parallel()

	s := bootstrap(t)
	ch, cancel := s.Subscribe()
	defer cancel()

	require.True(t, s.Apply(chat.Hydration{Rooms: []chat.Room{mytesting.Room("R1", "Loft", 1)}}))
	require.True(t, s.Apply(chat.MessageReceived{Message: mytesting.Message("a", "R1", "peer", time.Hour)}))

	snap := <-ch
	require.Equal(t, s.Version(), snap.Version)
	require.Len(t, snap.Rooms[0].Messages, 2)

	cancel()
	_, open := <-ch
	require.False(t, open)

	// cancel after Close must not panic
	_, cancel2 := s.Subscribe()
	s.Close()
	cancel2()
}
