package cluster

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"agora/internal/app/notify"
	"agora/internal/app/presence"
	"agora/internal/pkg/logx"
)

const (
	outboxSize     = 1024
	publishTimeout = 3 * time.Second

	// presenceBatch caps the changes carried by one presence envelope.
	presenceBatch = 256
)

// Kinds of envelopes exchanged between nodes.
const (
	KindPresence     = "presence"
	KindSyncRequest  = "sync_request"
	KindNodeDown     = "node_down"
	KindRoom         = "room"
	KindNotification = "notification"
)

// ErrStopped is returned by Start on a node that was already started or stopped.
var ErrStopped = errors.New("cluster node stopped")

// RoomDeliverer publishes a relayed room frame to local subscribers.
type RoomDeliverer interface {
	DeliverRelayed(roomID string, frame []byte) int
}

// NotificationDeliverer emits a relayed notification to local connections.
type NotificationDeliverer interface {
	DeliverLocal(n notify.Notification) int
}

type envelope struct {
	Node         string               `json:"node"`
	Kind         string               `json:"kind"`
	Changes      []presence.Change    `json:"changes,omitempty"`
	RoomID       string               `json:"roomId,omitempty"`
	Frame        json.RawMessage      `json:"frame,omitempty"`
	Notification *notify.Notification `json:"notification,omitempty"`
}

type outgoing struct {
	topic string
	env   envelope
}

// Node replicates this gateway's state to its peers and applies theirs.
type Node struct {
	id     string
	prefix string
	bus    Bus

	registry *presence.Registry
	rooms    RoomDeliverer
	notes    NotificationDeliverer

	// outbox carries room and notification relays; a full outbox refuses them.
	outbox chan outgoing

	mu      sync.Mutex
	started bool
	stopped bool

	// pending presence changes are never dropped; run publishes them in batches.
	pending []presence.Change
	wake    chan struct{}

	done chan struct{}

	logger zerolog.Logger
}

// NewNode builds a Node with a random id. Topics are named <prefix>.presence, <prefix>.rooms
// and <prefix>.notify.
func NewNode(bus Bus, prefix string, registry *presence.Registry, rooms RoomDeliverer, notes NotificationDeliverer) *Node {
	if prefix == "" {
		prefix = "agora"
	}
	id := uuid.NewString()

	return &Node{
		id:       id,
		prefix:   prefix,
		bus:      bus,
		registry: registry,
		rooms:    rooms,
		notes:    notes,
		outbox:   make(chan outgoing, outboxSize),
		wake:     make(chan struct{}, 1),
		done:     make(chan struct{}),
		logger:   logx.Component("cluster").With().Str("node", id).Logger(),
	}
}

// ID returns the node id.
func (n *Node) ID() string {
	return n.id
}

func (n *Node) topic(name string) string {
	return n.prefix + "." + name
}

// Start subscribes to the cluster topics, starts the publisher and asks peers for their presence.
func (n *Node) Start(ctx context.Context) error {
	n.mu.Lock()
	if n.stopped || n.started {
		n.mu.Unlock()
		return ErrStopped
	}
	n.started = true
	n.mu.Unlock()

	go n.run()

	for _, name := range []string{"presence", "rooms", "notify"} {
		if err := n.bus.Subscribe(ctx, n.topic(name), n.receive); err != nil {
			n.halt()
			<-n.done
			return fmt.Errorf("subscribe %s: %w", n.topic(name), err)
		}
	}

	n.enqueue(n.topic("presence"), envelope{Kind: KindSyncRequest})
	n.logger.Info().Msg("Cluster node started.")
	return nil
}

// halt refuses further envelopes and lets run drain and exit. It reports false if the
// node was already stopped.
func (n *Node) halt() bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.stopped {
		return false
	}
	n.stopped = true
	close(n.outbox)
	if !n.started {
		close(n.done)
	}
	return true
}

func (n *Node) run() {
	defer close(n.done)

	for {
		n.flushPresence()

		select {
		case out, ok := <-n.outbox:
			if !ok {
				n.flushPresence()
				return
			}
			out.env.Node = n.id
			n.publish(out.topic, out.env)
		case <-n.wake:
		}
	}
}

func (n *Node) flushPresence() {
	n.mu.Lock()
	changes := n.pending
	n.pending = nil
	n.mu.Unlock()

	for len(changes) > 0 {
		batch := changes[:min(len(changes), presenceBatch)]
		changes = changes[len(batch):]
		n.publish(n.topic("presence"), envelope{Node: n.id, Kind: KindPresence, Changes: batch})
	}
}

func (n *Node) publish(topic string, env envelope) {
	payload, err := json.Marshal(env)
	if err != nil {
		n.logger.Error().Err(err).Str("kind", env.Kind).Msg("Failed to encode envelope.")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	if err := n.bus.Publish(ctx, topic, payload); err != nil {
		n.logger.Warn().Err(err).Str("topic", topic).Str("kind", env.Kind).Msg("Cluster publish failed.")
	}
}

func (n *Node) enqueue(topic string, env envelope) bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.stopped {
		return false
	}

	select {
	case n.outbox <- outgoing{topic: topic, env: env}:
		return true
	default:
		n.logger.Warn().Str("kind", env.Kind).Msg("Cluster outbox full, dropping envelope.")
		return false
	}
}

func (n *Node) queuePresence(changes ...presence.Change) {
	n.mu.Lock()
	if n.stopped {
		n.mu.Unlock()
		return
	}
	for _, change := range changes {
		change.Node = n.id
		n.pending = append(n.pending, change)
	}
	n.mu.Unlock()

	select {
	case n.wake <- struct{}{}:
	default:
	}
}

// PublishPresence implements presence.Replicator.
func (n *Node) PublishPresence(change presence.Change) {
	n.queuePresence(change)
}

// RelayRoom implements chat.RoomRelay.
func (n *Node) RelayRoom(roomID string, frame []byte) {
	n.enqueue(n.topic("rooms"), envelope{Kind: KindRoom, RoomID: roomID, Frame: frame})
}

// RelayNotification implements notify.Relay. It reports whether the notification was
// queued for the peers.
func (n *Node) RelayNotification(note notify.Notification) bool {
	return n.enqueue(n.topic("notify"), envelope{Kind: KindNotification, Notification: &note})
}

func (n *Node) receive(payload []byte) {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		n.logger.Warn().Err(err).Msg("Dropping malformed cluster envelope.")
		return
	}
	if env.Node == "" || env.Node == n.id {
		return
	}

	switch env.Kind {
	case KindPresence:
		for _, change := range env.Changes {
			change.Node = env.Node
			n.registry.ApplyRemote(change)
		}

	case KindSyncRequest:
		entries := n.registry.LocalEntries()
		n.queuePresence(entries...)
		n.logger.Debug().Str("peer", env.Node).Int("entries", len(entries)).Msg("Answered presence sync.")

	case KindNodeDown:
		n.registry.DropNode(env.Node)

	case KindRoom:
		if n.rooms != nil && env.RoomID != "" {
			n.rooms.DeliverRelayed(env.RoomID, env.Frame)
		}

	case KindNotification:
		if n.notes != nil && env.Notification != nil {
			n.notes.DeliverLocal(*env.Notification)
		}

	default:
		n.logger.Debug().Str("kind", env.Kind).Msg("Ignoring unknown envelope kind.")
	}
}

// Stop flushes queued envelopes and announces this node's departure so peers drop its presence.
func (n *Node) Stop(ctx context.Context) error {
	if !n.halt() {
		return nil
	}

	select {
	case <-n.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	n.publish(n.topic("presence"), envelope{Node: n.id, Kind: KindNodeDown})
	n.logger.Info().Msg("Cluster node stopped.")
	return nil
}
