package chat

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	handle string
	refuse bool

	mu     sync.Mutex
	frames [][]byte
}

func newFakeSink(handle string) *fakeSink {
	return &fakeSink{handle: handle}
}

func (s *fakeSink) Handle() string { return s.handle }

func (s *fakeSink) Enqueue(frame []byte) bool {
	if s.refuse {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, frame)
	return true
}

type receivedFrame struct {
	Event Event           `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func (s *fakeSink) received(t *testing.T) []receivedFrame {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]receivedFrame, 0, len(s.frames))
	for _, raw := range s.frames {
		var f receivedFrame
		require.NoError(t, json.Unmarshal(raw, &f))
		out = append(out, f)
	}
	return out
}

func (s *fakeSink) eventsOf(t *testing.T, event Event) []receivedFrame {
	t.Helper()
	var out []receivedFrame
	for _, f := range s.received(t) {
		if f.Event == event {
			out = append(out, f)
		}
	}
	return out
}

func TestHub_SubscribeRequiresAttachedHandle(t *testing.T) {
	hub := NewHub()

	assert.False(t, hub.Subscribe("g", "ghost"))

	hub.Attach(newFakeSink("c1"))
	assert.True(t, hub.Subscribe("g", "c1"))
	assert.Equal(t, []string{"c1"}, hub.Members("g"))
}

func TestHub_PublishExcludesSender(t *testing.T) {
	hub := NewHub()
	a, b, c := newFakeSink("a"), newFakeSink("b"), newFakeSink("c")
	for _, s := range []*fakeSink{a, b, c} {
		hub.Attach(s)
		hub.Subscribe("g", s.handle)
	}

	delivered := hub.Publish("g", []byte(`{"event":"x"}`), "a")

	assert.Equal(t, 2, delivered)
	assert.Empty(t, a.received(t))
	assert.Len(t, b.received(t), 1)
	assert.Len(t, c.received(t), 1)
}

func TestHub_PublishToEmptyGroupIsNoop(t *testing.T) {
	hub := NewHub()
	assert.Zero(t, hub.Publish("nobody-here", []byte(`{}`), ""))
}

func TestHub_RefusingSinkIsNotCounted(t *testing.T) {
	hub := NewHub()
	slow := newFakeSink("slow")
	slow.refuse = true
	hub.Attach(slow)
	hub.Subscribe("g", "slow")

	assert.Zero(t, hub.Publish("g", []byte(`{}`), ""))
	assert.False(t, hub.Emit("slow", []byte(`{}`)))
}

func TestHub_DetachLeavesEveryGroup(t *testing.T) {
	hub := NewHub()
	hub.Attach(newFakeSink("a"))
	hub.Attach(newFakeSink("b"))
	hub.Subscribe("g1", "a")
	hub.Subscribe("g2", "a")
	hub.Subscribe("g2", "b")

	assert.Equal(t, []string{"g1", "g2"}, hub.Detach("a"))
	assert.Empty(t, hub.Members("g1"))
	assert.Equal(t, []string{"b"}, hub.Members("g2"))
	assert.Equal(t, 1, hub.Len())
	assert.False(t, hub.Emit("a", []byte(`{}`)))
}

func TestHub_UnsubscribeIsIdempotent(t *testing.T) {
	hub := NewHub()
	hub.Attach(newFakeSink("a"))
	hub.Subscribe("g", "a")

	assert.True(t, hub.Unsubscribe("g", "a"))
	assert.False(t, hub.Unsubscribe("g", "a"))
	assert.False(t, hub.Unsubscribe("never", "a"))
}
