package model

import (
	"time"

	"github.com/google/uuid"
)

// User is a registered account.
type User struct {
	ID          uuid.UUID // Primary key
	Username    string    // Unique login name
	DisplayName string    // Display name shown in rooms
	CreatedAt   time.Time // Creation time (UTC)
}

// Room is a chat room.
type Room struct {
	ID        uuid.UUID // Primary key
	Name      string    // Unique room name
	Topic     string    // Optional topic line
	CreatedBy uuid.UUID // User who created the room
	CreatedAt time.Time // Creation time (UTC)
}

// Membership links a user to a room.
type Membership struct {
	RoomID   uuid.UUID
	UserID   uuid.UUID
	JoinedAt time.Time
}

// Session is an authenticated login session.
type Session struct {
	Token     string    // Opaque session token (primary key)
	UserID    uuid.UUID // Owning user
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Expired reports whether the session is past its expiry.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}

// Message is a persisted chat message. Immutable once created.
type Message struct {
	ID              uuid.UUID // Primary key
	RoomID          uuid.UUID // Room the message was posted to
	CreatorID       uuid.UUID // Posting user
	Content         string    // Raw message text
	ClientMessageID string    // Client-supplied dedup key, unique per room
	Mentions        []string  // Usernames extracted from @mentions
	SoundCommands   []string  // Sound names extracted from /play commands
	CreatedAt       time.Time // Creation time (UTC)
}
