/*
Package chat contains the core logic for handling real-time chat rooms, user connections, and message broadcasting.

This file defines the wire protocol: the event names exchanged with clients and the JSON frames
that carry them.
*/
package chat

import (
	"encoding/json"
	"time"

	"agora/internal/pkg/errs"
)

// Event names a frame on the wire.
type Event string

// Client → gateway events.
const (
	EventJoin   Event = "join"
	EventLeave  Event = "leave"
	EventSend   Event = "send"
	EventTyping Event = "typing"
)

// Gateway → client events.
const (
	EventUserOnline      Event = "user:online"
	EventUserOffline     Event = "user:offline"
	EventMessageNew      Event = "message:new"
	EventTypingUpdate    Event = "typing:update"
	EventNotificationNew Event = "notification:new"
	EventAck             Event = "ack"
	EventError           Event = "error"
)

// InboundFrame is a frame sent by a client.
type InboundFrame struct {
	Event Event `json:"event"`

	// Ack is an optional client-chosen id echoed in the acknowledgement.
	Ack string `json:"ack,omitempty"`

	Data json.RawMessage `json:"data,omitempty"`
}

// OutboundFrame is a frame sent to a client.
type OutboundFrame struct {
	Event Event `json:"event"`
	Data  any   `json:"data,omitempty"`
}

// AckPayload answers an InboundFrame that carried an ack id.
type AckPayload struct {
	Ack   string            `json:"ack"`
	Event Event             `json:"event"`
	OK    bool              `json:"ok"`
	Data  any               `json:"data,omitempty"`
	Error *errs.CustomError `json:"error,omitempty"`
}

// ErrorPayload reports a failed action that carried no ack id, or a refused connection.
type ErrorPayload struct {
	Event   Event  `json:"event,omitempty"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// PresencePayload is the body of user:online and user:offline.
type PresencePayload struct {
	UserID   string     `json:"userId"`
	At       time.Time  `json:"at"`
	LastSeen *time.Time `json:"lastSeen,omitempty"`
}

// RoomPayload is the body of join and leave.
type RoomPayload struct {
	RoomID string `json:"roomId"`
}

// SendPayload is the body of send.
type SendPayload struct {
	RoomID  string `json:"roomId"`
	Content string `json:"content"`
}

// TypingPayload is the body of typing.
type TypingPayload struct {
	RoomID   string `json:"roomId"`
	IsTyping bool   `json:"isTyping"`
}

// SentPayload is the acknowledgement data of a successful send.
type SentPayload struct {
	ID     string    `json:"id"`
	SentAt time.Time `json:"sentAt"`
}

// EncodeFrame marshals an outbound frame.
func EncodeFrame(event Event, data any) ([]byte, error) {
	return json.Marshal(OutboundFrame{Event: event, Data: data})
}

// NewAck builds the acknowledgement of an inbound frame. A non-nil failure makes it negative.
func NewAck(frame InboundFrame, data any, failure *errs.CustomError) AckPayload {
	if failure != nil {
		return AckPayload{Ack: frame.Ack, Event: frame.Event, OK: false, Error: failure}
	}
	return AckPayload{Ack: frame.Ack, Event: frame.Event, OK: true, Data: data}
}

// NewErrorPayload projects a CustomError onto an error frame body.
func NewErrorPayload(event Event, failure *errs.CustomError) ErrorPayload {
	return ErrorPayload{Event: event, Code: failure.Code, Message: failure.Message}
}
