package chat

import (
	"sort"
	"sync"
	"time"

	"agora/internal/app/user"
)

// Session is the gateway-side state of one connection. Joined rooms are a cache of
// this connection's subscriptions, rebuilt on every reconnect; they are never a source
// of truth for room membership.
type Session struct {
	Handle   string
	Identity user.Identity

	mu sync.Mutex

	joined   map[string]struct{}
	verified map[string]struct{}
	typing   map[string]struct{}

	lastActivity time.Time
}

// NewSession builds the state of a freshly authenticated connection.
func NewSession(handle string, identity user.Identity) *Session {
	return &Session{
		Handle:       handle,
		Identity:     identity,
		joined:       make(map[string]struct{}),
		verified:     make(map[string]struct{}),
		typing:       make(map[string]struct{}),
		lastActivity: time.Now(),
	}
}

// Joined reports whether the connection is subscribed to roomID.
func (s *Session) Joined(roomID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.joined[roomID]
	return ok
}

// Rooms returns the joined rooms, sorted.
func (s *Session) Rooms() []string {
	s.mu.Lock()
	rooms := make([]string, 0, len(s.joined))
	for roomID := range s.joined {
		rooms = append(rooms, roomID)
	}
	s.mu.Unlock()

	sort.Strings(rooms)
	return rooms
}

// Touch records activity at t.
func (s *Session) Touch(t time.Time) {
	s.mu.Lock()
	s.lastActivity = t
	s.mu.Unlock()
}

// LastActivity returns when the connection last sent a frame.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

func (s *Session) isVerified(roomID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.verified[roomID]
	return ok
}

func (s *Session) markJoined(roomID string) {
	s.mu.Lock()
	s.joined[roomID] = struct{}{}
	s.verified[roomID] = struct{}{}
	s.mu.Unlock()
}

// markLeft forgets the subscription and any typing state in roomID.
// It reports whether the connection was joined and whether it was typing.
func (s *Session) markLeft(roomID string) (wasJoined, wasTyping bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, wasJoined = s.joined[roomID]
	_, wasTyping = s.typing[roomID]
	delete(s.joined, roomID)
	delete(s.typing, roomID)
	return wasJoined, wasTyping
}

func (s *Session) setTyping(roomID string, isTyping bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if isTyping {
		s.typing[roomID] = struct{}{}
	} else {
		delete(s.typing, roomID)
	}
}

// drain empties the session and returns the rooms it was joined to and the rooms it was typing in.
func (s *Session) drain() (rooms, typing []string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for roomID := range s.joined {
		rooms = append(rooms, roomID)
	}
	for roomID := range s.typing {
		typing = append(typing, roomID)
	}
	sort.Strings(rooms)
	sort.Strings(typing)

	s.joined = make(map[string]struct{})
	s.typing = make(map[string]struct{})
	return rooms, typing
}
