package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/mbarnett/parley/internal/model"
)

// Errors
var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrWriterClosed indicates the writer queue is gone; pending and future
	// operations cannot be executed.
	ErrWriterClosed = errors.New("writer unavailable")

	// ErrDuplicate indicates a uniqueness violation (username, room name).
	ErrDuplicate = errors.New("duplicate entity")
)

// WriteStore is the mutating surface of the persistent store. Only the
// Writer's worker goroutine calls these methods.
type WriteStore interface {
	InsertUser(ctx context.Context, u model.User) error
	InsertRoom(ctx context.Context, r model.Room) error
	InsertMembership(ctx context.Context, m model.Membership) error
	DeleteMembership(ctx context.Context, roomID, userID uuid.UUID) error
	InsertSession(ctx context.Context, s model.Session) error
	DeleteSession(ctx context.Context, token string) error

	// GetMessageByDedupKey returns the message for (roomID, clientMessageID),
	// or ErrNotFound. Part of the write surface because the dedup check must
	// run on the serialized write path.
	GetMessageByDedupKey(ctx context.Context, roomID uuid.UUID, clientMessageID string) (model.Message, error)
	InsertMessage(ctx context.Context, m model.Message) error
}

// ReadStore is the read-only surface, shared by many concurrent readers.
type ReadStore interface {
	GetSession(ctx context.Context, token string) (model.Session, error)
	GetUser(ctx context.Context, id uuid.UUID) (model.User, error)
	GetUserByUsername(ctx context.Context, username string) (model.User, error)
	GetRoomMembers(ctx context.Context, roomID uuid.UUID) ([]uuid.UUID, error)

	// GetRoomMessages returns up to limit messages for a room, newest first.
	// A non-zero before restricts results to messages created strictly
	// earlier.
	GetRoomMessages(ctx context.Context, roomID uuid.UUID, limit int, before time.Time) ([]model.Message, error)

	// SearchMessages returns up to limit messages whose content matches the
	// query, newest first.
	SearchMessages(ctx context.Context, query string, limit int) ([]model.Message, error)
}
