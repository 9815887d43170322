package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"agora/internal/app/chat"
	"agora/internal/app/notify"
)

// Store is the PostgreSQL persistence collaborator.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wraps an initialized pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// CreateMessage inserts msg. Storing the same message twice is not an error.
func (s *Store) CreateMessage(ctx context.Context, msg chat.Message) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO messages (id, room_id, sender_id, content, sent_at) VALUES ($1, $2, $3, $4, $5)`,
		msg.ID, msg.RoomID, msg.SenderID, msg.Content, msg.SentAt,
	)
	if err != nil && !IsUniqueViolation(err) {
		return fmt.Errorf("insert message %s: %w", msg.ID, err)
	}
	return nil
}

// GetRoomMembers returns the members of roomID; an unknown room yields an empty set.
func (s *Store) GetRoomMembers(ctx context.Context, roomID string) (map[string]struct{}, error) {
	rows, err := s.pool.Query(ctx, `SELECT user_id FROM room_members WHERE room_id = $1`, roomID)
	if err != nil {
		return nil, fmt.Errorf("query members of %s: %w", roomID, err)
	}

	userIDs, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan members of %s: %w", roomID, err)
	}

	members := make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		members[id] = struct{}{}
	}
	return members, nil
}

// StoreUnreadNotification records n as unread. Storing the same notification twice is not an error.
func (s *Store) StoreUnreadNotification(ctx context.Context, n notify.Notification) error {
	payload := n.Payload
	if len(payload) == 0 || !json.Valid(payload) {
		payload = json.RawMessage(`{}`)
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO notifications (id, user_id, payload, created_at) VALUES ($1, $2, $3, $4)`,
		n.ID, n.UserID, []byte(payload), n.CreatedAt,
	)
	if err != nil && !IsUniqueViolation(err) {
		return fmt.Errorf("insert notification %s: %w", n.ID, err)
	}
	return nil
}

// SeedRoom creates room if missing and adds its members.
func (s *Store) SeedRoom(ctx context.Context, room chat.Room) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO rooms (id, type) VALUES ($1, $2) ON CONFLICT (id) DO UPDATE SET type = EXCLUDED.type`,
			room.ID, string(room.Type),
		); err != nil {
			return fmt.Errorf("upsert room %s: %w", room.ID, err)
		}

		for _, userID := range room.MemberIDs {
			if _, err := tx.Exec(ctx,
				`INSERT INTO room_members (room_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
				room.ID, userID,
			); err != nil {
				return fmt.Errorf("add member %s to %s: %w", userID, room.ID, err)
			}
		}
		return nil
	})
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}
