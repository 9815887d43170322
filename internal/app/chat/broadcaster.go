/*
Package chat contains the core logic for handling real-time chat rooms, user connections, and message broadcasting.

This file defines the Broadcaster, which handles room membership, message and typing fan-out,
and presence fan-out. Live delivery always completes before any persistence call is started.
*/
package chat

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"agora/internal/app/persist"
	"agora/internal/pkg/errs"
	"agora/internal/pkg/logx"
)

// DefaultLookupTimeout bounds a membership lookup during join.
const DefaultLookupTimeout = 5 * time.Second

// RoomRelay forwards room frames to other gateway nodes.
type RoomRelay interface {
	RelayRoom(roomID string, frame []byte)
}

// Broadcaster implements the room events and the presence listener.
type Broadcaster struct {
	groups Groups
	store  MessageStore
	runner *persist.Runner
	relay  RoomRelay

	lookupTimeout time.Duration
	now           func() time.Time

	logger zerolog.Logger
}

// BroadcasterOption configures a Broadcaster.
type BroadcasterOption func(*Broadcaster)

// WithRoomRelay mirrors room frames to other nodes.
func WithRoomRelay(relay RoomRelay) BroadcasterOption {
	return func(b *Broadcaster) { b.relay = relay }
}

// WithLookupTimeout overrides DefaultLookupTimeout.
func WithLookupTimeout(d time.Duration) BroadcasterOption {
	return func(b *Broadcaster) {
		if d > 0 {
			b.lookupTimeout = d
		}
	}
}

// WithBroadcastClock overrides the time source used for message and presence timestamps.
func WithBroadcastClock(now func() time.Time) BroadcasterOption {
	return func(b *Broadcaster) { b.now = now }
}

// NewBroadcaster builds a Broadcaster publishing through groups. Messages are
// persisted to store through runner.
func NewBroadcaster(groups Groups, store MessageStore, runner *persist.Runner, opts ...BroadcasterOption) *Broadcaster {
	b := &Broadcaster{
		groups:        groups,
		store:         store,
		runner:        runner,
		lookupTimeout: DefaultLookupTimeout,
		now:           time.Now,
		logger:        logx.Component("broadcaster"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// SetRoomRelay installs the relay after construction.
func (b *Broadcaster) SetRoomRelay(relay RoomRelay) {
	b.relay = relay
}

// Handle routes one inbound frame. It returns the acknowledgement data or the failure
// to report back to the originating connection only.
func (b *Broadcaster) Handle(ctx context.Context, s *Session, frame InboundFrame) (any, *errs.CustomError) {
	switch frame.Event {
	case EventJoin:
		var p RoomPayload
		if failure := decodeData(frame.Data, &p); failure != nil {
			return nil, failure
		}
		if p.RoomID == "" {
			return nil, errs.NewError(errs.ErrInvalidParams)
		}
		if failure := b.Join(ctx, s, p.RoomID); failure != nil {
			return nil, failure
		}
		return RoomPayload{RoomID: p.RoomID}, nil

	case EventLeave:
		var p RoomPayload
		if failure := decodeData(frame.Data, &p); failure != nil {
			return nil, failure
		}
		if p.RoomID == "" {
			return nil, errs.NewError(errs.ErrInvalidParams)
		}
		b.Leave(s, p.RoomID)
		return RoomPayload{RoomID: p.RoomID}, nil

	case EventSend:
		var p SendPayload
		if failure := decodeData(frame.Data, &p); failure != nil {
			return nil, failure
		}
		if p.RoomID == "" {
			return nil, errs.NewError(errs.ErrInvalidParams)
		}
		msg, _, failure := b.Send(s, p.RoomID, p.Content)
		if failure != nil {
			return nil, failure
		}
		return SentPayload{ID: msg.ID, SentAt: msg.SentAt}, nil

	case EventTyping:
		var p TypingPayload
		if failure := decodeData(frame.Data, &p); failure != nil {
			return nil, failure
		}
		if p.RoomID == "" {
			return nil, errs.NewError(errs.ErrInvalidParams)
		}
		if failure := b.Typing(s, p.RoomID, p.IsTyping); failure != nil {
			return nil, failure
		}
		return nil, nil

	default:
		return nil, errs.NewError(errs.ErrUnsupportedEvent, string(frame.Event))
	}
}

func decodeData(data json.RawMessage, dst any) *errs.CustomError {
	if len(data) == 0 {
		return errs.NewError(errs.ErrInvalidParams)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return errs.NewError(errs.ErrInvalidJSONFormat)
	}
	return nil
}

// Join subscribes the connection to roomID after checking that its user is a member.
// A membership verified earlier in the session is not looked up again.
func (b *Broadcaster) Join(ctx context.Context, s *Session, roomID string) *errs.CustomError {
	if s.Joined(roomID) {
		return nil
	}

	if !s.isVerified(roomID) {
		lookupCtx, cancel := context.WithTimeout(ctx, b.lookupTimeout)
		members, err := b.store.GetRoomMembers(lookupCtx, roomID)
		cancel()

		if err != nil {
			b.logger.Error().Err(err).
				Str("room_id", roomID).
				Str("user_id", s.Identity.ID).
				Str("conn_id", s.Handle).
				Msg("Membership lookup failed.")
			return errs.NewError(errs.ErrPersistenceFailure)
		}

		if _, ok := members[s.Identity.ID]; !ok {
			b.logger.Info().
				Str("room_id", roomID).
				Str("user_id", s.Identity.ID).
				Msg("Join refused: not a member.")
			return errs.NewError(errs.ErrNotAMember)
		}
	}

	if !b.groups.Subscribe(RoomGroup(roomID), s.Handle) {
		b.logger.Warn().Str("room_id", roomID).Str("conn_id", s.Handle).Msg("Join on a detached connection.")
		return errs.NewError(errs.ErrUnknown)
	}
	s.markJoined(roomID)

	b.logger.Debug().Str("room_id", roomID).Str("user_id", s.Identity.ID).Str("conn_id", s.Handle).Msg("Joined room.")
	return nil
}

// Leave unsubscribes the connection from roomID. Leaving a room that was not joined is a no-op.
func (b *Broadcaster) Leave(s *Session, roomID string) bool {
	wasJoined, wasTyping := s.markLeft(roomID)
	if wasTyping {
		b.publishTyping(s, roomID, false)
	}
	b.groups.Unsubscribe(RoomGroup(roomID), s.Handle)
	return wasJoined
}

// Send broadcasts content to every other subscriber of roomID and then hands the
// message to the store. The returned task completes when persistence has finished;
// it is nil when no store is configured.
func (b *Broadcaster) Send(s *Session, roomID, content string) (Message, *persist.Task, *errs.CustomError) {
	if !s.Joined(roomID) {
		return Message{}, nil, errs.NewError(errs.ErrNotAMember)
	}
	if strings.TrimSpace(content) == "" {
		return Message{}, nil, errs.NewError(errs.ErrMessageContentEmpty)
	}
	if len(content) > MaxContentBytes {
		return Message{}, nil, errs.NewError(errs.ErrMessageContentTooLong)
	}

	msg := Message{
		ID:       uuid.NewString(),
		RoomID:   roomID,
		SenderID: s.Identity.ID,
		Nickname: s.Identity.Nickname,
		Content:  content,
		SentAt:   b.now().UTC(),
	}

	frame, err := EncodeFrame(EventMessageNew, msg)
	if err != nil {
		b.logger.Error().Err(err).Str("room_id", roomID).Msg("Failed to encode message frame.")
		return Message{}, nil, errs.NewError(errs.ErrUnknown)
	}

	delivered := b.groups.Publish(RoomGroup(roomID), frame, s.Handle)
	if b.relay != nil {
		b.relay.RelayRoom(roomID, frame)
	}

	b.logger.Debug().
		Str("room_id", roomID).
		Str("message_id", msg.ID).
		Int("delivered", delivered).
		Msg("Message broadcast.")

	return msg, b.persistMessage(msg), nil
}

func (b *Broadcaster) persistMessage(msg Message) *persist.Task {
	if b.store == nil || b.runner == nil {
		return nil
	}

	return b.runner.Go(persist.Op{
		Name: "create_message",
		Fields: map[string]string{
			"room_id":    msg.RoomID,
			"sender_id":  msg.SenderID,
			"message_id": msg.ID,
			"sent_at":    msg.SentAt.Format(time.RFC3339Nano),
		},
		Payload: msg,
		Run: func(ctx context.Context) error {
			return b.store.CreateMessage(ctx, msg)
		},
	})
}

// Typing broadcasts the connection's typing state to the other subscribers of roomID.
func (b *Broadcaster) Typing(s *Session, roomID string, isTyping bool) *errs.CustomError {
	if !s.Joined(roomID) {
		return errs.NewError(errs.ErrNotAMember)
	}
	s.setTyping(roomID, isTyping)
	b.publishTyping(s, roomID, isTyping)
	return nil
}

func (b *Broadcaster) publishTyping(s *Session, roomID string, isTyping bool) {
	frame, err := EncodeFrame(EventTypingUpdate, TypingState{
		RoomID:   roomID,
		UserID:   s.Identity.ID,
		Nickname: s.Identity.Nickname,
		IsTyping: isTyping,
	})
	if err != nil {
		b.logger.Error().Err(err).Str("room_id", roomID).Msg("Failed to encode typing frame.")
		return
	}

	b.groups.Publish(RoomGroup(roomID), frame, s.Handle)
	if b.relay != nil {
		b.relay.RelayRoom(roomID, frame)
	}
}

// Purge clears every room subscription and typing state of a disconnecting connection.
// Rooms the connection was typing in receive a final isTyping=false update.
func (b *Broadcaster) Purge(s *Session) {
	rooms, typing := s.drain()

	for _, roomID := range typing {
		b.publishTyping(s, roomID, false)
	}
	for _, roomID := range rooms {
		b.groups.Unsubscribe(RoomGroup(roomID), s.Handle)
	}

	if len(rooms) > 0 {
		b.logger.Debug().Str("conn_id", s.Handle).Strs("rooms", rooms).Msg("Purged room subscriptions.")
	}
}

// DeliverRelayed publishes a frame received from another node to the local subscribers of roomID.
func (b *Broadcaster) DeliverRelayed(roomID string, frame []byte) int {
	return b.groups.Publish(RoomGroup(roomID), frame, "")
}

// UserOnline broadcasts user:online to every local connection.
func (b *Broadcaster) UserOnline(userID string, at time.Time) {
	b.publishPresence(EventUserOnline, PresencePayload{UserID: userID, At: at.UTC()})
}

// UserOffline broadcasts user:offline, carrying the last-seen time, to every local connection.
func (b *Broadcaster) UserOffline(userID string, lastSeen time.Time) {
	seen := lastSeen.UTC()
	b.publishPresence(EventUserOffline, PresencePayload{UserID: userID, At: seen, LastSeen: &seen})
}

func (b *Broadcaster) publishPresence(event Event, payload PresencePayload) {
	frame, err := EncodeFrame(event, payload)
	if err != nil {
		b.logger.Error().Err(err).Str("event", string(event)).Msg("Failed to encode presence frame.")
		return
	}
	b.groups.Publish(PresenceGroup, frame, "")
}
