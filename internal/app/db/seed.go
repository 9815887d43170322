package db

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"agora/internal/app/chat"
)

// RoomSeeder creates rooms and memberships ahead of the first join.
type RoomSeeder interface {
	SeedRoom(ctx context.Context, room chat.Room) error
}

type roomsFile struct {
	Rooms []struct {
		ID      string   `yaml:"id"`
		Type    string   `yaml:"type"`
		Members []string `yaml:"members"`
	} `yaml:"rooms"`
}

// LoadRooms reads a YAML rooms file:
//
//	rooms:
//	  - id: room-1
//	    type: group
//	    members: [alice, bob]
func LoadRooms(path string) ([]chat.Room, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rooms file: %w", err)
	}
	return parseRooms(raw)
}

func parseRooms(raw []byte) ([]chat.Room, error) {
	var file roomsFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("parse rooms file: %w", err)
	}

	rooms := make([]chat.Room, 0, len(file.Rooms))
	for i, r := range file.Rooms {
		if r.ID == "" {
			return nil, fmt.Errorf("room #%d has no id", i+1)
		}

		roomType := chat.RoomType(r.Type)
		switch roomType {
		case "":
			roomType = chat.RoomTypeGroup
		case chat.RoomTypeGroup:
		case chat.RoomTypeDirect:
			if len(r.Members) != 2 {
				return nil, fmt.Errorf("direct room %q must have exactly two members", r.ID)
			}
		default:
			return nil, fmt.Errorf("room %q has unknown type %q", r.ID, r.Type)
		}

		rooms = append(rooms, chat.Room{ID: r.ID, Type: roomType, MemberIDs: r.Members})
	}
	return rooms, nil
}

// SeedRooms stores every room through seeder.
func SeedRooms(ctx context.Context, seeder RoomSeeder, rooms []chat.Room) error {
	for _, room := range rooms {
		if err := seeder.SeedRoom(ctx, room); err != nil {
			return err
		}
	}
	return nil
}
