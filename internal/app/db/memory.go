package db

import (
	"context"
	"sync"

	"agora/internal/app/chat"
	"agora/internal/app/notify"
)

// MemoryStore is an in-process persistence collaborator.
type MemoryStore struct {
	mu sync.RWMutex

	rooms    map[string]chat.Room
	members  map[string]map[string]struct{}
	messages map[string][]chat.Message
	unread   map[string][]notify.Notification

	// seen guards against storing the same message or notification twice.
	seen map[string]struct{}
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms:    make(map[string]chat.Room),
		members:  make(map[string]map[string]struct{}),
		messages: make(map[string][]chat.Message),
		unread:   make(map[string][]notify.Notification),
		seen:     make(map[string]struct{}),
	}
}

func (m *MemoryStore) CreateMessage(ctx context.Context, msg chat.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := "message:" + msg.ID
	if _, dup := m.seen[key]; dup {
		return nil
	}
	m.seen[key] = struct{}{}
	m.messages[msg.RoomID] = append(m.messages[msg.RoomID], msg)
	return nil
}

func (m *MemoryStore) GetRoomMembers(ctx context.Context, roomID string) (map[string]struct{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	members := make(map[string]struct{}, len(m.members[roomID]))
	for id := range m.members[roomID] {
		members[id] = struct{}{}
	}
	return members, nil
}

func (m *MemoryStore) StoreUnreadNotification(ctx context.Context, n notify.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := "notification:" + n.ID
	if _, dup := m.seen[key]; dup {
		return nil
	}
	m.seen[key] = struct{}{}
	m.unread[n.UserID] = append(m.unread[n.UserID], n)
	return nil
}

func (m *MemoryStore) SeedRoom(ctx context.Context, room chat.Room) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.members[room.ID]
	if !ok {
		set = make(map[string]struct{})
		m.members[room.ID] = set
	}
	for _, id := range room.MemberIDs {
		set[id] = struct{}{}
	}

	stored := room
	stored.MemberIDs = make([]string, 0, len(set))
	for id := range set {
		stored.MemberIDs = append(stored.MemberIDs, id)
	}
	m.rooms[room.ID] = stored
	return nil
}

// Messages returns the stored history of roomID in insertion order.
func (m *MemoryStore) Messages(roomID string) []chat.Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]chat.Message(nil), m.messages[roomID]...)
}

// Unread returns the unread notifications of userID in insertion order.
func (m *MemoryStore) Unread(userID string) []notify.Notification {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]notify.Notification(nil), m.unread[userID]...)
}

// Close is a no-op.
func (m *MemoryStore) Close() {}
