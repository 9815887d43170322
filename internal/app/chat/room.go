/*
Package chat contains the core logic for handling real-time chat rooms, user connections, and message broadcasting.

This file defines the room-level data model and the persistence collaborator the broadcaster consumes.
*/
package chat

import (
	"context"
	"time"
)

// MaxContentBytes is the maximum allowed size (in bytes) of a message's text content.
const MaxContentBytes = 5000

// RoomType distinguishes one-to-one rooms from many-to-many rooms.
type RoomType string

const (
	RoomTypeDirect RoomType = "direct"
	RoomTypeGroup  RoomType = "group"
)

// Room is a named scope of message broadcast. Membership is authoritative in the store.
type Room struct {
	ID        string   `json:"id"`
	Type      RoomType `json:"type"`
	MemberIDs []string `json:"memberIds"`
}

// Message is an append-only chat message.
type Message struct {
	ID       string    `json:"id"`
	RoomID   string    `json:"roomId"`
	SenderID string    `json:"senderId"`
	Nickname string    `json:"nickname,omitempty"`
	Content  string    `json:"content"`
	SentAt   time.Time `json:"sentAt"`
}

// TypingState is an ephemeral typing indicator. It is never persisted.
type TypingState struct {
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	Nickname string `json:"nickname"`
	IsTyping bool   `json:"isTyping"`
}

// MessageStore is the persistence collaborator used for chat history and room membership.
type MessageStore interface {
	// CreateMessage durably stores msg.
	CreateMessage(ctx context.Context, msg Message) error

	// GetRoomMembers returns the user ids belonging to roomID. An unknown room has no members.
	GetRoomMembers(ctx context.Context, roomID string) (map[string]struct{}, error)
}

// RoomGroup is the broadcast group of a room.
func RoomGroup(roomID string) string {
	return "room:" + roomID
}

// PresenceGroup is joined by every authenticated connection and carries user:online/user:offline.
const PresenceGroup = "presence"
