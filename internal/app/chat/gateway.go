/*
Package chat contains the core logic for handling real-time chat rooms, user connections, and message broadcasting.

This file defines the Gateway, the composition root of the real-time channel. It owns the
lifecycle of every authenticated connection: registration with the Hub and the presence
registry, inbound frame dispatch, synchronous purge on disconnect, and shutdown.
*/
package chat

import (
	"context"
	"encoding/json"
	"runtime/debug"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"agora/internal/app/presence"
	"agora/internal/app/user"
	"agora/internal/pkg/errs"
	"agora/internal/pkg/logx"
)

// Gateway coordinates all live connections of this process.
type Gateway struct {
	hub         *Hub
	registry    *presence.Registry
	broadcaster *Broadcaster

	idleTimeout time.Duration

	// ctx is cancelled by Shutdown and bounds in-flight membership lookups.
	ctx    context.Context
	cancel context.CancelFunc

	// mu protects clients and closing.
	mu      sync.Mutex
	clients map[string]*Client
	closing bool

	// wg tracks running Serve calls.
	wg sync.WaitGroup

	logger zerolog.Logger
}

// NewGateway constructs a Gateway and installs broadcaster as the registry's presence listener.
func NewGateway(hub *Hub, registry *presence.Registry, broadcaster *Broadcaster, idleTimeout time.Duration) *Gateway {
	ctx, cancel := context.WithCancel(context.Background())

	registry.SetListener(broadcaster)

	return &Gateway{
		hub:         hub,
		registry:    registry,
		broadcaster: broadcaster,
		idleTimeout: idleTimeout,
		ctx:         ctx,
		cancel:      cancel,
		clients:     make(map[string]*Client),
		logger:      logx.Component("gateway"),
	}
}

// Hub returns the local multicast primitive.
func (g *Gateway) Hub() *Hub {
	return g.hub
}

// Serve runs an authenticated connection until it closes. It blocks for the lifetime
// of the connection; every gateway-side record of it is gone when Serve returns.
func (g *Gateway) Serve(conn *websocket.Conn, handle string, identity user.Identity) {
	client := newClient(g, conn, NewSession(handle, identity), g.idleTimeout)

	g.mu.Lock()
	if g.closing {
		g.mu.Unlock()
		client.closeWith(websocket.CloseGoingAway, "server shutting down")
		return
	}
	g.clients[handle] = client
	g.wg.Add(1)
	g.mu.Unlock()

	defer g.wg.Done()

	g.hub.Attach(client)
	g.hub.Subscribe(PresenceGroup, handle)
	first := g.registry.AddConnection(identity.ID, handle)

	client.logger.Info().Bool("first_connection", first).Msg("Connection registered.")

	go client.writePump()

	client.readPump()
}

// disconnect purges every record of c. It runs on c's read pump, so it is ordered after
// every frame the connection sent.
func (g *Gateway) disconnect(c *Client) {
	session := c.session

	g.broadcaster.Purge(session)
	g.hub.Detach(session.Handle)
	last := g.registry.RemoveConnection(session.Identity.ID, session.Handle)

	g.mu.Lock()
	delete(g.clients, session.Handle)
	g.mu.Unlock()

	c.shutdown()

	c.logger.Info().Bool("last_connection", last).Msg("Connection purged.")
}

// handleFrame processes one inbound frame. A panic is confined to the frame that caused it.
func (g *Gateway) handleFrame(c *Client, raw []byte) {
	var frame InboundFrame

	defer func() {
		if rec := recover(); rec != nil {
			c.logger.Error().
				Interface("panic", rec).
				Str("event", string(frame.Event)).
				Bytes("stack", debug.Stack()).
				Msg("Recovered from panic in event handler.")
			c.sendError(frame.Event, errs.NewError(errs.ErrUnknown))
		}
	}()

	c.session.Touch(time.Now())

	if err := json.Unmarshal(raw, &frame); err != nil {
		c.logger.Warn().Err(err).Msg("Client sent invalid JSON")
		c.sendError("", errs.NewError(errs.ErrInvalidJSONFormat))
		return
	}

	data, failure := g.broadcaster.Handle(g.ctx, c.session, frame)

	if frame.Ack != "" {
		c.sendFrame(EventAck, NewAck(frame, data, failure))
		return
	}
	if failure != nil {
		c.sendError(frame.Event, failure)
	}
}

// Connections returns the number of live connections served by this process.
func (g *Gateway) Connections() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.clients)
}

// Shutdown closes every connection with a going-away frame and waits until each has been purged.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.logger.Info().Msg("Shutting down gateway...")

	g.mu.Lock()
	g.closing = true
	clients := make([]*Client, 0, len(g.clients))
	for _, c := range g.clients {
		clients = append(clients, c)
	}
	g.mu.Unlock()

	for _, c := range clients {
		c.closeWith(websocket.CloseGoingAway, "server shutting down")
	}
	g.cancel()

	finished := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		g.logger.Info().Int("closed", len(clients)).Msg("Gateway shutdown complete.")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
