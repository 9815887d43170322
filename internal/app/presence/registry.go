/*
Package presence tracks which users are online and through which connections.

A Registry maps a user id to the set of live connection handles of that user. A user
is online exactly when the set is non-empty; empty sets are never retained. Mutations
for the same user are serialized by a striped lock, and the listener observes every
online/offline transition in order.
*/
package presence

import (
	"hash/fnv"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"agora/internal/pkg/logx"
)

const (
	shardCount = 64

	// Remote removals are remembered this long so a late add of the same handle is rejected.
	tombstoneTTL   = 2 * time.Minute
	tombstoneSweep = 1024
)

// Listener is notified of presence transitions. Callbacks run while the user's
// shard lock is held, so they must not block and must not call back into the Registry.
type Listener interface {
	UserOnline(userID string, at time.Time)
	UserOffline(userID string, lastSeen time.Time)
}

// Change describes a single add or remove of a connection handle.
// Node is empty for connections owned by this process. Seq orders the changes of one
// node: a receiver drops any change older than what it already applied for that handle.
type Change struct {
	Node   string    `json:"node"`
	UserID string    `json:"userId"`
	Handle string    `json:"handle"`
	Added  bool      `json:"added"`
	Seq    uint64    `json:"seq,omitempty"`
	At     time.Time `json:"at"`
}

// Replicator publishes local changes to other gateway nodes.
type Replicator interface {
	PublishPresence(change Change)
}

type entry struct {
	node string // "" for local
	seq  uint64
}

type tombstone struct {
	seq uint64
	at  time.Time
}

type shard struct {
	mu sync.RWMutex

	// users maps userID → handle → owner.
	users map[string]map[string]entry

	lastSeen map[string]time.Time

	// tombstones is keyed by node and handle.
	tombstones map[string]tombstone
}

// Registry is the presence source of truth for this gateway.
type Registry struct {
	shards [shardCount]*shard

	listener   Listener
	replicator Replicator

	seq atomic.Uint64

	now    func() time.Time
	logger zerolog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithListener sets the transition listener.
func WithListener(l Listener) Option {
	return func(r *Registry) { r.listener = l }
}

// WithReplicator mirrors local changes to other nodes.
func WithReplicator(rep Replicator) Option {
	return func(r *Registry) { r.replicator = rep }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) { r.now = now }
}

// NewRegistry constructs an empty Registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		now:    time.Now,
		logger: logx.Component("presence"),
	}
	for i := range r.shards {
		r.shards[i] = &shard{
			users:      make(map[string]map[string]entry),
			lastSeen:   make(map[string]time.Time),
			tombstones: make(map[string]tombstone),
		}
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// SetListener installs the listener after construction. It must be called before
// the first connection is added.
func (r *Registry) SetListener(l Listener) {
	r.listener = l
}

// SetReplicator installs the replicator after construction.
func (r *Registry) SetReplicator(rep Replicator) {
	r.replicator = rep
}

func (r *Registry) shardFor(userID string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return r.shards[h.Sum32()%shardCount]
}

// AddConnection records handle as a live connection of userID.
// It reports whether this was the user's first connection.
func (r *Registry) AddConnection(userID, handle string) bool {
	at := r.now()
	first, seq := r.add(userID, handle, entry{}, at)
	if seq > 0 && r.replicator != nil {
		r.replicator.PublishPresence(Change{UserID: userID, Handle: handle, Added: true, Seq: seq, At: at})
	}
	return first
}

// RemoveConnection removes handle from userID's set. Removing an unknown handle is a
// no-op, which makes duplicate disconnect notifications harmless.
// It reports whether the user went offline as a result.
func (r *Registry) RemoveConnection(userID, handle string) bool {
	at := r.now()
	last, seq := r.remove(userID, handle, "", 0, at)
	if seq > 0 && r.replicator != nil {
		r.replicator.PublishPresence(Change{UserID: userID, Handle: handle, Added: false, Seq: seq, At: at})
	}
	return last
}

// ApplyRemote merges a change published by another node. A change whose Seq is not
// newer than the last one applied for the same node and handle is discarded.
func (r *Registry) ApplyRemote(change Change) {
	if change.Node == "" || change.UserID == "" || change.Handle == "" {
		return
	}
	at := change.At
	if at.IsZero() {
		at = r.now()
	}
	if change.Added {
		r.add(change.UserID, change.Handle, entry{node: change.Node, seq: change.Seq}, at)
		return
	}
	r.remove(change.UserID, change.Handle, change.Node, change.Seq, at)
}

// DropNode removes every handle owned by node, e.g. after it announced shutdown.
func (r *Registry) DropNode(node string) int {
	if node == "" {
		return 0
	}

	type victim struct{ userID, handle string }

	dropped := 0
	for _, s := range r.shards {
		s.mu.Lock()
		var victims []victim
		for userID, handles := range s.users {
			for handle, owner := range handles {
				if owner.node == node {
					victims = append(victims, victim{userID, handle})
				}
			}
		}
		for key := range s.tombstones {
			if nodeOf(key) == node {
				delete(s.tombstones, key)
			}
		}
		s.mu.Unlock()

		for _, v := range victims {
			if _, seq := r.remove(v.userID, v.handle, node, 0, r.now()); seq > 0 {
				dropped++
			}
		}
	}

	if dropped > 0 {
		r.logger.Info().Str("node", node).Int("handles", dropped).Msg("Dropped presence of departed node.")
	}
	return dropped
}

func tombstoneKey(node, handle string) string {
	return node + "\x00" + handle
}

func nodeOf(key string) string {
	node, _, _ := strings.Cut(key, "\x00")
	return node
}

// add inserts handle and returns the sequence it was stored with, or 0 when nothing changed.
// Local additions (owner.node == "") draw a fresh sequence.
func (r *Registry) add(userID, handle string, owner entry, at time.Time) (first bool, seq uint64) {
	s := r.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if owner.node != "" && owner.seq > 0 {
		if tomb, ok := s.tombstones[tombstoneKey(owner.node, handle)]; ok && tomb.seq >= owner.seq {
			return false, 0
		}
	}

	handles, online := s.users[userID]
	if _, exists := handles[handle]; exists {
		return false, 0
	}
	if !online {
		handles = make(map[string]entry)
		s.users[userID] = handles
	}
	if owner.node == "" {
		owner.seq = r.seq.Add(1)
	}
	handles[handle] = owner

	if !online {
		r.logger.Debug().Str("user_id", userID).Str("conn_id", handle).Str("node", owner.node).Msg("User online.")
		if r.listener != nil {
			r.listener.UserOnline(userID, at)
		}
	}
	return !online, max(owner.seq, 1)
}

// remove deletes handle when it is owned by node and returns the sequence of the removal,
// or 0 when nothing changed. A remote removal with a sequence leaves a tombstone behind.
func (r *Registry) remove(userID, handle, node string, seq uint64, at time.Time) (last bool, removedSeq uint64) {
	s := r.shardFor(userID)
	s.mu.Lock()
	defer s.mu.Unlock()

	if node != "" && seq > 0 {
		key := tombstoneKey(node, handle)
		if tomb, ok := s.tombstones[key]; !ok || tomb.seq < seq {
			s.tombstones[key] = tombstone{seq: seq, at: r.now()}
		}
		if len(s.tombstones) > tombstoneSweep {
			s.sweepTombstones(r.now())
		}
	}

	handles, ok := s.users[userID]
	if !ok {
		return false, 0
	}
	current, exists := handles[handle]
	if !exists || current.node != node {
		return false, 0
	}
	if seq > 0 && current.seq >= seq {
		return false, 0
	}
	delete(handles, handle)

	if node == "" {
		seq = r.seq.Add(1)
	}
	seq = max(seq, 1)

	if len(handles) > 0 {
		return false, seq
	}

	delete(s.users, userID)
	s.lastSeen[userID] = at

	r.logger.Debug().Str("user_id", userID).Str("conn_id", handle).Msg("User offline.")
	if r.listener != nil {
		r.listener.UserOffline(userID, at)
	}
	return true, seq
}

func (s *shard) sweepTombstones(now time.Time) {
	for key, tomb := range s.tombstones {
		if now.Sub(tomb.at) > tombstoneTTL {
			delete(s.tombstones, key)
		}
	}
}

// IsOnline reports whether userID has at least one live connection.
func (r *Registry) IsOnline(userID string) bool {
	s := r.shardFor(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.users[userID]
	return ok
}

// GetConnections returns a snapshot of every handle of userID, sorted.
func (r *Registry) GetConnections(userID string) []string {
	s := r.shardFor(userID)
	s.mu.RLock()
	handles := make([]string, 0, len(s.users[userID]))
	for handle := range s.users[userID] {
		handles = append(handles, handle)
	}
	s.mu.RUnlock()

	sort.Strings(handles)
	return handles
}

// Locality splits userID's handles into those owned by this process and those owned by other nodes.
func (r *Registry) Locality(userID string) (local, remote []string) {
	s := r.shardFor(userID)
	s.mu.RLock()
	for handle, owner := range s.users[userID] {
		if owner.node == "" {
			local = append(local, handle)
		} else {
			remote = append(remote, handle)
		}
	}
	s.mu.RUnlock()

	sort.Strings(local)
	sort.Strings(remote)
	return local, remote
}

// FirstConnection returns one handle of userID. With several connections the choice
// is arbitrary; delivery must use GetConnections instead.
func (r *Registry) FirstConnection(userID string) (string, bool) {
	handles := r.GetConnections(userID)
	if len(handles) == 0 {
		return "", false
	}
	return handles[0], true
}

// ListOnline returns a snapshot of online user ids, sorted.
func (r *Registry) ListOnline() []string {
	var users []string
	for _, s := range r.shards {
		s.mu.RLock()
		for userID := range s.users {
			users = append(users, userID)
		}
		s.mu.RUnlock()
	}
	sort.Strings(users)
	return users
}

// LastSeen returns when userID's last connection went away. It is zero while the
// user is online or was never seen by this gateway.
func (r *Registry) LastSeen(userID string) (time.Time, bool) {
	s := r.shardFor(userID)
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, online := s.users[userID]; online {
		return time.Time{}, false
	}
	at, ok := s.lastSeen[userID]
	return at, ok
}

// LocalEntries returns one Change per handle owned by this process, used to bring
// a newly started node up to date. Each carries the sequence of its original addition,
// so a peer that already saw the handle's removal ignores it.
func (r *Registry) LocalEntries() []Change {
	var changes []Change
	at := r.now()
	for _, s := range r.shards {
		s.mu.RLock()
		for userID, handles := range s.users {
			for handle, owner := range handles {
				if owner.node == "" {
					changes = append(changes, Change{UserID: userID, Handle: handle, Added: true, Seq: owner.seq, At: at})
				}
			}
		}
		s.mu.RUnlock()
	}
	return changes
}

// Stats returns the number of online users and live handles.
func (r *Registry) Stats() (users, handles int) {
	for _, s := range r.shards {
		s.mu.RLock()
		users += len(s.users)
		for _, hs := range s.users {
			handles += len(hs)
		}
		s.mu.RUnlock()
	}
	return users, handles
}
