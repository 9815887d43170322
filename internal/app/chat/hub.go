/*
Package chat contains the core logic for handling real-time chat rooms, user connections, and message broadcasting.

This file defines the Hub, the in-process multicast primitive. It keeps a non-owning directory of
live connections keyed by handle, and the named broadcast groups those connections subscribe to.
*/
package chat

import (
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"agora/internal/pkg/logx"
)

// Sink is the write side of a live connection.
type Sink interface {
	Handle() string

	// Enqueue queues frame for delivery without blocking and reports whether it was accepted.
	Enqueue(frame []byte) bool
}

// Groups is the "broadcast to named group" primitive the broadcaster depends on.
type Groups interface {
	// Subscribe adds handle to group. It returns false when the handle is not attached.
	Subscribe(group, handle string) bool

	// Unsubscribe removes handle from group and reports whether it was subscribed.
	Unsubscribe(group, handle string) bool

	// Publish delivers frame to every subscriber of group except exclude and
	// returns how many subscribers accepted it.
	Publish(group string, frame []byte, exclude string) int
}

// Hub is the in-memory Groups implementation and connection directory.
type Hub struct {
	// mu guards both maps; publishes take the read lock.
	mu sync.RWMutex

	sinks map[string]Sink

	// groups maps group → set of handles.
	groups map[string]map[string]struct{}

	logger zerolog.Logger
}

// NewHub constructs an empty Hub.
func NewHub() *Hub {
	return &Hub{
		sinks:  make(map[string]Sink),
		groups: make(map[string]map[string]struct{}),
		logger: logx.Component("hub"),
	}
}

// Attach adds sink to the directory.
func (h *Hub) Attach(sink Sink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sinks[sink.Handle()] = sink
}

// Detach removes handle from the directory and from every group, returning the groups it left.
func (h *Hub) Detach(handle string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.sinks, handle)

	var left []string
	for group, members := range h.groups {
		if _, ok := members[handle]; !ok {
			continue
		}
		delete(members, handle)
		if len(members) == 0 {
			delete(h.groups, group)
		}
		left = append(left, group)
	}
	sort.Strings(left)
	return left
}

func (h *Hub) Subscribe(group, handle string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.sinks[handle]; !ok {
		return false
	}

	members, ok := h.groups[group]
	if !ok {
		members = make(map[string]struct{})
		h.groups[group] = members
	}
	members[handle] = struct{}{}
	return true
}

func (h *Hub) Unsubscribe(group, handle string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	members, ok := h.groups[group]
	if !ok {
		return false
	}
	if _, ok := members[handle]; !ok {
		return false
	}
	delete(members, handle)
	if len(members) == 0 {
		delete(h.groups, group)
	}
	return true
}

func (h *Hub) Publish(group string, frame []byte, exclude string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for handle := range h.groups[group] {
		if handle == exclude {
			continue
		}
		sink, ok := h.sinks[handle]
		if !ok {
			continue
		}
		if sink.Enqueue(frame) {
			delivered++
		} else {
			h.logger.Warn().
				Str("group", group).
				Str("conn_id", handle).
				Msg("Subscriber did not accept frame.")
		}
	}
	return delivered
}

// Emit delivers frame to a single connection and reports whether it was accepted.
func (h *Hub) Emit(handle string, frame []byte) bool {
	h.mu.RLock()
	sink, ok := h.sinks[handle]
	h.mu.RUnlock()

	if !ok {
		return false
	}
	return sink.Enqueue(frame)
}

// Members returns the handles subscribed to group, sorted.
func (h *Hub) Members(group string) []string {
	h.mu.RLock()
	members := make([]string, 0, len(h.groups[group]))
	for handle := range h.groups[group] {
		members = append(members, handle)
	}
	h.mu.RUnlock()

	sort.Strings(members)
	return members
}

// Len returns the number of attached connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sinks)
}
