package db

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agora/internal/app/chat"
	"agora/internal/app/notify"
)

func TestMemoryStore_Membership(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	members, err := store.GetRoomMembers(ctx, "unknown")
	require.NoError(t, err)
	assert.Empty(t, members)

	require.NoError(t, store.SeedRoom(ctx, chat.Room{ID: "room-1", Type: chat.RoomTypeGroup, MemberIDs: []string{"alice", "bob"}}))
	require.NoError(t, store.SeedRoom(ctx, chat.Room{ID: "room-1", Type: chat.RoomTypeGroup, MemberIDs: []string{"carol"}}))

	members, err = store.GetRoomMembers(ctx, "room-1")
	require.NoError(t, err)
	assert.Len(t, members, 3)
	assert.Contains(t, members, "carol")

	// The returned set is a copy.
	delete(members, "alice")
	again, _ := store.GetRoomMembers(ctx, "room-1")
	assert.Contains(t, again, "alice")
}

func TestMemoryStore_MessagesAreIdempotent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	msg := chat.Message{ID: "m1", RoomID: "room-1", SenderID: "alice", Content: "hi", SentAt: time.Now()}

	require.NoError(t, store.CreateMessage(ctx, msg))
	require.NoError(t, store.CreateMessage(ctx, msg))
	require.NoError(t, store.CreateMessage(ctx, chat.Message{ID: "m2", RoomID: "room-1", Content: "again"}))

	history := store.Messages("room-1")
	require.Len(t, history, 2)
	assert.Equal(t, "m1", history[0].ID)
	assert.Equal(t, "m2", history[1].ID)
}

func TestMemoryStore_UnreadNotifications(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	n := notify.Notification{ID: "n1", UserID: "carol"}
	require.NoError(t, store.StoreUnreadNotification(ctx, n))
	require.NoError(t, store.StoreUnreadNotification(ctx, n))

	assert.Len(t, store.Unread("carol"), 1)
	assert.Empty(t, store.Unread("alice"))
}

func TestMemoryStore_HonoursCancelledContext(t *testing.T) {
	store := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, store.CreateMessage(ctx, chat.Message{ID: "m1"}), context.Canceled)
	_, err := store.GetRoomMembers(ctx, "room-1")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestOpen_Memory(t *testing.T) {
	backend, err := Open(MemoryDSN)
	require.NoError(t, err)
	defer backend.Close()

	_, ok := backend.(*MemoryStore)
	assert.True(t, ok)
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, IsUniqueViolation(&pgconn.PgError{Code: "23505"}))
	assert.True(t, IsUniqueViolation(fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"})))
	assert.False(t, IsUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.False(t, IsUniqueViolation(fmt.Errorf("plain")))
}

func TestParseRooms(t *testing.T) {
	rooms, err := parseRooms([]byte(`
rooms:
  - id: room-1
    members: [alice, bob, carol]
  - id: dm-alice-bob
    type: direct
    members: [alice, bob]
`))
	require.NoError(t, err)
	require.Len(t, rooms, 2)
	assert.Equal(t, chat.RoomTypeGroup, rooms[0].Type)
	assert.Equal(t, []string{"alice", "bob", "carol"}, rooms[0].MemberIDs)
	assert.Equal(t, chat.RoomTypeDirect, rooms[1].Type)
}

func TestParseRooms_Invalid(t *testing.T) {
	cases := map[string]string{
		"missing id":     "rooms:\n  - members: [a]\n",
		"unknown type":   "rooms:\n  - id: r\n    type: broadcast\n",
		"direct of 3":    "rooms:\n  - id: r\n    type: direct\n    members: [a, b, c]\n",
		"malformed yaml": "rooms: [",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := parseRooms([]byte(raw))
			assert.Error(t, err)
		})
	}
}

func TestLoadAndSeedRooms(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rooms.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rooms:\n  - id: room-1\n    members: [alice]\n"), 0o600))

	rooms, err := LoadRooms(path)
	require.NoError(t, err)

	store := NewMemoryStore()
	require.NoError(t, SeedRooms(context.Background(), store, rooms))

	members, err := store.GetRoomMembers(context.Background(), "room-1")
	require.NoError(t, err)
	assert.Contains(t, members, "alice")

	_, err = LoadRooms(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
