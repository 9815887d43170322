package presence

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type transition struct {
	userID string
	online bool
	at     time.Time
}

type recordingListener struct {
	mu          sync.Mutex
	transitions []transition
}

func (l *recordingListener) UserOnline(userID string, at time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.transitions = append(l.transitions, transition{userID: userID, online: true, at: at})
}

func (l *recordingListener) UserOffline(userID string, lastSeen time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.transitions = append(l.transitions, transition{userID: userID, online: false, at: lastSeen})
}

func (l *recordingListener) count(userID string, online bool) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, tr := range l.transitions {
		if tr.userID == userID && tr.online == online {
			n++
		}
	}
	return n
}

type recordingReplicator struct {
	mu      sync.Mutex
	changes []Change
}

func (r *recordingReplicator) PublishPresence(change Change) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changes = append(r.changes, change)
}

func TestRegistry_OnlineIffConnectionsExist(t *testing.T) {
	listener := &recordingListener{}
	reg := NewRegistry(WithListener(listener))

	assert.False(t, reg.IsOnline("alice"))
	assert.Empty(t, reg.GetConnections("alice"))

	assert.True(t, reg.AddConnection("alice", "c1"), "first connection should flip the user online")
	assert.False(t, reg.AddConnection("alice", "c2"), "second connection is not a transition")
	assert.True(t, reg.IsOnline("alice"))
	assert.Equal(t, []string{"c1", "c2"}, reg.GetConnections("alice"))

	assert.False(t, reg.RemoveConnection("alice", "c1"))
	assert.True(t, reg.IsOnline("alice"))

	assert.True(t, reg.RemoveConnection("alice", "c2"))
	assert.False(t, reg.IsOnline("alice"))
	assert.Empty(t, reg.ListOnline())

	users, handles := reg.Stats()
	assert.Zero(t, users, "empty sets must not be retained")
	assert.Zero(t, handles)

	assert.Equal(t, 1, listener.count("alice", true))
	assert.Equal(t, 1, listener.count("alice", false))
}

func TestRegistry_DuplicateAddIsIgnored(t *testing.T) {
	listener := &recordingListener{}
	reg := NewRegistry(WithListener(listener))

	reg.AddConnection("bob", "c1")
	reg.AddConnection("bob", "c1")

	assert.Equal(t, []string{"c1"}, reg.GetConnections("bob"))
	assert.Equal(t, 1, listener.count("bob", true))
}

func TestRegistry_RemoveUnknownHandleIsNoop(t *testing.T) {
	listener := &recordingListener{}
	reg := NewRegistry(WithListener(listener))

	assert.False(t, reg.RemoveConnection("ghost", "c1"))

	reg.AddConnection("bob", "c1")
	assert.False(t, reg.RemoveConnection("bob", "other"))
	assert.True(t, reg.IsOnline("bob"))
	assert.Zero(t, listener.count("ghost", false))
	assert.Zero(t, listener.count("bob", false))
}

func TestRegistry_ConcurrentDisconnectGoesOfflineOnce(t *testing.T) {
	listener := &recordingListener{}
	reg := NewRegistry(WithListener(listener))
	reg.AddConnection("carol", "only")

	const retries = 50
	var wg sync.WaitGroup
	results := make(chan bool, retries)
	for range retries {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- reg.RemoveConnection("carol", "only")
		}()
	}
	wg.Wait()
	close(results)

	wentOffline := 0
	for r := range results {
		if r {
			wentOffline++
		}
	}

	assert.Equal(t, 1, wentOffline)
	assert.Equal(t, 1, listener.count("carol", false))
	assert.False(t, reg.IsOnline("carol"))
}

func TestRegistry_ConcurrentAddRemoveKeepsInvariant(t *testing.T) {
	reg := NewRegistry()

	var wg sync.WaitGroup
	for u := range 8 {
		userID := fmt.Sprintf("user-%d", u)
		for c := range 20 {
			handle := fmt.Sprintf("%s-conn-%d", userID, c)
			wg.Add(1)
			go func() {
				defer wg.Done()
				reg.AddConnection(userID, handle)
				reg.RemoveConnection(userID, handle)
			}()
		}
	}
	wg.Wait()

	users, handles := reg.Stats()
	assert.Zero(t, users)
	assert.Zero(t, handles)
	for u := range 8 {
		assert.False(t, reg.IsOnline(fmt.Sprintf("user-%d", u)))
	}
}

func TestRegistry_LastSeen(t *testing.T) {
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)
	reg := NewRegistry(WithClock(func() time.Time { return now }))

	_, ok := reg.LastSeen("dave")
	assert.False(t, ok)

	reg.AddConnection("dave", "c1")
	_, ok = reg.LastSeen("dave")
	assert.False(t, ok, "online users have no last-seen time")

	reg.RemoveConnection("dave", "c1")
	seen, ok := reg.LastSeen("dave")
	require.True(t, ok)
	assert.Equal(t, now, seen)
}

func TestRegistry_ListOnlineAndFirstConnection(t *testing.T) {
	reg := NewRegistry()
	reg.AddConnection("zoe", "z1")
	reg.AddConnection("amy", "a2")
	reg.AddConnection("amy", "a1")

	assert.Equal(t, []string{"amy", "zoe"}, reg.ListOnline())

	first, ok := reg.FirstConnection("amy")
	require.True(t, ok)
	assert.Contains(t, reg.GetConnections("amy"), first)

	_, ok = reg.FirstConnection("nobody")
	assert.False(t, ok)
}

func TestRegistry_ReplicatesLocalChangesOnly(t *testing.T) {
	rep := &recordingReplicator{}
	reg := NewRegistry(WithReplicator(rep))

	reg.AddConnection("erin", "local-1")
	reg.ApplyRemote(Change{Node: "node-b", UserID: "erin", Handle: "remote-1", Added: true})
	reg.RemoveConnection("erin", "local-1")
	reg.RemoveConnection("erin", "local-1")

	require.Len(t, rep.changes, 2)
	assert.True(t, rep.changes[0].Added)
	assert.Equal(t, "local-1", rep.changes[0].Handle)
	assert.False(t, rep.changes[1].Added)
	assert.True(t, reg.IsOnline("erin"), "remote connection keeps the user online cluster-wide")
}

func TestRegistry_RemoteChangesAndDropNode(t *testing.T) {
	listener := &recordingListener{}
	reg := NewRegistry(WithListener(listener))

	reg.ApplyRemote(Change{Node: "node-b", UserID: "finn", Handle: "b1", Added: true})
	reg.ApplyRemote(Change{Node: "node-b", UserID: "gwen", Handle: "b2", Added: true})
	reg.ApplyRemote(Change{Node: "node-c", UserID: "gwen", Handle: "c1", Added: true})
	reg.AddConnection("finn", "local")

	local, remote := reg.Locality("finn")
	assert.Equal(t, []string{"local"}, local)
	assert.Equal(t, []string{"b1"}, remote)

	assert.Equal(t, 2, reg.DropNode("node-b"))
	assert.True(t, reg.IsOnline("finn"))
	assert.True(t, reg.IsOnline("gwen"))
	assert.Equal(t, []string{"c1"}, reg.GetConnections("gwen"))

	reg.ApplyRemote(Change{Node: "node-c", UserID: "gwen", Handle: "c1", Added: false})
	assert.False(t, reg.IsOnline("gwen"))
	assert.Equal(t, 1, listener.count("gwen", false))

	// Changes without an origin node are not remote and are ignored.
	reg.ApplyRemote(Change{UserID: "hank", Handle: "h1", Added: true})
	assert.False(t, reg.IsOnline("hank"))
}

func TestRegistry_LocalEntries(t *testing.T) {
	reg := NewRegistry()
	reg.AddConnection("ivy", "i1")
	reg.ApplyRemote(Change{Node: "node-b", UserID: "ivy", Handle: "i2", Added: true})

	entries := reg.LocalEntries()
	require.Len(t, entries, 1)
	assert.Equal(t, "i1", entries[0].Handle)
	assert.Empty(t, entries[0].Node)
}

func TestRegistry_LocalChangesCarryIncreasingSeq(t *testing.T) {
	rep := &recordingReplicator{}
	reg := NewRegistry(WithReplicator(rep))

	reg.AddConnection("jack", "j1")
	entries := reg.LocalEntries()
	reg.RemoveConnection("jack", "j1")

	require.Len(t, rep.changes, 2)
	require.Len(t, entries, 1)
	assert.Equal(t, rep.changes[0].Seq, entries[0].Seq, "a snapshot entry keeps the seq of its addition")
	assert.Greater(t, rep.changes[1].Seq, entries[0].Seq)
}

func TestRegistry_StaleRemoteAddAfterRemoveIsIgnored(t *testing.T) {
	reg := NewRegistry()

	reg.ApplyRemote(Change{Node: "node-b", UserID: "kate", Handle: "k1", Added: true, Seq: 4})
	reg.ApplyRemote(Change{Node: "node-b", UserID: "kate", Handle: "k1", Added: false, Seq: 9})
	assert.False(t, reg.IsOnline("kate"))

	// A sync answer snapshotted before the removal arrives late.
	reg.ApplyRemote(Change{Node: "node-b", UserID: "kate", Handle: "k1", Added: true, Seq: 4})
	assert.False(t, reg.IsOnline("kate"))

	// A removal that arrives before its add still rejects it.
	reg.ApplyRemote(Change{Node: "node-b", UserID: "liam", Handle: "l1", Added: false, Seq: 7})
	reg.ApplyRemote(Change{Node: "node-b", UserID: "liam", Handle: "l1", Added: true, Seq: 6})
	assert.False(t, reg.IsOnline("liam"))

	// Once the node departs its tombstones go with it.
	reg.DropNode("node-b")
	reg.ApplyRemote(Change{Node: "node-b", UserID: "kate", Handle: "k1", Added: true, Seq: 4})
	assert.True(t, reg.IsOnline("kate"))
}

func TestRegistry_RemoteRemoveRespectsOwner(t *testing.T) {
	reg := NewRegistry()
	reg.AddConnection("mia", "m1")

	reg.ApplyRemote(Change{Node: "node-b", UserID: "mia", Handle: "m1", Added: false, Seq: 3})
	assert.True(t, reg.IsOnline("mia"), "a peer cannot remove a handle it does not own")
}

func TestRegistry_TombstonesAreSwept(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	reg := NewRegistry(WithClock(func() time.Time { return now }))

	s := reg.shardFor("nora")
	for i := 0; i <= tombstoneSweep; i++ {
		reg.ApplyRemote(Change{Node: "node-b", UserID: "nora", Handle: fmt.Sprintf("n%d", i), Added: false, Seq: 1})
	}
	s.mu.RLock()
	assert.Greater(t, len(s.tombstones), tombstoneSweep)
	s.mu.RUnlock()

	now = now.Add(tombstoneTTL + time.Second)
	reg.ApplyRemote(Change{Node: "node-b", UserID: "nora", Handle: "fresh", Added: false, Seq: 1})

	s.mu.RLock()
	defer s.mu.RUnlock()
	assert.Len(t, s.tombstones, 1)
}
