package registry

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// Errors
var (
	// ErrConnectionLimit indicates the user already holds the maximum number
	// of simultaneous connections.
	ErrConnectionLimit = errors.New("connection limit exceeded")

	// ErrUnknownConnection indicates the connection id is not registered.
	ErrUnknownConnection = errors.New("unknown connection")
)

// Conn is one live connection's registry handle. The outbound channel is
// FIFO; the owning send loop drains Events until it is closed.
type Conn struct {
	ID     uuid.UUID
	UserID uuid.UUID

	send      chan []byte
	closeOnce sync.Once
}

// Events returns the outbound event channel. Closed when the connection is
// removed from the registry.
func (c *Conn) Events() <-chan []byte {
	return c.send
}

// close closes the outbound channel exactly once.
func (c *Conn) close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

// trySend attempts a non-blocking delivery.
// Returns false when the channel is full or closed.
func (c *Conn) trySend(data []byte) (ok bool) {
	defer func() {
		// A concurrent removal may close the channel mid-send.
		if recover() != nil {
			ok = false
		}
	}()

	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// Stats provides registry counters.
type Stats struct {
	Connections         int
	Users               int
	TrackedRooms        int
	TypingEntries       int
	BroadcastsSent      int64
	BroadcastsCoalesced int64
	EventsDelivered     int64
	SendFailures        int64
}
