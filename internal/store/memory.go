package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mbarnett/parley/internal/model"
)

// dedupKey identifies a logical message across client retries.
type dedupKey struct {
	roomID          uuid.UUID
	clientMessageID string
}

// Memory is an in-process implementation of WriteStore and ReadStore.
// It backs the development driver and the test suite.
type Memory struct {
	mu sync.RWMutex

	users       map[uuid.UUID]model.User
	usersByName map[string]uuid.UUID
	rooms       map[uuid.UUID]model.Room
	roomsByName map[string]uuid.UUID
	memberships map[uuid.UUID]map[uuid.UUID]model.Membership // roomID → userID → membership
	sessions    map[string]model.Session
	messages    map[uuid.UUID][]model.Message // roomID → messages in insert order
	byDedupKey  map[dedupKey]model.Message
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		users:       make(map[uuid.UUID]model.User),
		usersByName: make(map[string]uuid.UUID),
		rooms:       make(map[uuid.UUID]model.Room),
		roomsByName: make(map[string]uuid.UUID),
		memberships: make(map[uuid.UUID]map[uuid.UUID]model.Membership),
		sessions:    make(map[string]model.Session),
		messages:    make(map[uuid.UUID][]model.Message),
		byDedupKey:  make(map[dedupKey]model.Message),
	}
}

// --- WriteStore ---

func (m *Memory) InsertUser(ctx context.Context, u model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.usersByName[u.Username]; exists {
		return fmt.Errorf("username %q: %w", u.Username, ErrDuplicate)
	}
	m.users[u.ID] = u
	m.usersByName[u.Username] = u.ID
	return nil
}

func (m *Memory) InsertRoom(ctx context.Context, r model.Room) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.roomsByName[r.Name]; exists {
		return fmt.Errorf("room %q: %w", r.Name, ErrDuplicate)
	}
	m.rooms[r.ID] = r
	m.roomsByName[r.Name] = r.ID
	return nil
}

func (m *Memory) InsertMembership(ctx context.Context, mb model.Membership) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	room := m.memberships[mb.RoomID]
	if room == nil {
		room = make(map[uuid.UUID]model.Membership)
		m.memberships[mb.RoomID] = room
	}
	room[mb.UserID] = mb
	return nil
}

func (m *Memory) DeleteMembership(ctx context.Context, roomID, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if room := m.memberships[roomID]; room != nil {
		delete(room, userID)
	}
	return nil
}

func (m *Memory) InsertSession(ctx context.Context, s model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessions[s.Token] = s
	return nil
}

func (m *Memory) DeleteSession(ctx context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, token)
	return nil
}

func (m *Memory) GetMessageByDedupKey(ctx context.Context, roomID uuid.UUID, clientMessageID string) (model.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	msg, ok := m.byDedupKey[dedupKey{roomID: roomID, clientMessageID: clientMessageID}]
	if !ok {
		return model.Message{}, ErrNotFound
	}
	return msg, nil
}

func (m *Memory) InsertMessage(ctx context.Context, msg model.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := dedupKey{roomID: msg.RoomID, clientMessageID: msg.ClientMessageID}
	if _, exists := m.byDedupKey[key]; exists {
		return fmt.Errorf("message %s/%s: %w", msg.RoomID, msg.ClientMessageID, ErrDuplicate)
	}
	m.messages[msg.RoomID] = append(m.messages[msg.RoomID], msg)
	m.byDedupKey[key] = msg
	return nil
}

// --- ReadStore ---

func (m *Memory) GetSession(ctx context.Context, token string) (model.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[token]
	if !ok {
		return model.Session{}, ErrNotFound
	}
	return s, nil
}

func (m *Memory) GetUser(ctx context.Context, id uuid.UUID) (model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.users[id]
	if !ok {
		return model.User{}, ErrNotFound
	}
	return u, nil
}

func (m *Memory) GetUserByUsername(ctx context.Context, username string) (model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.usersByName[username]
	if !ok {
		return model.User{}, ErrNotFound
	}
	return m.users[id], nil
}

func (m *Memory) GetRoomMembers(ctx context.Context, roomID uuid.UUID) ([]uuid.UUID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	room := m.memberships[roomID]
	members := make([]uuid.UUID, 0, len(room))
	for userID := range room {
		members = append(members, userID)
	}
	sort.Slice(members, func(i, j int) bool {
		return members[i].String() < members[j].String()
	})
	return members, nil
}

func (m *Memory) GetRoomMessages(ctx context.Context, roomID uuid.UUID, limit int, before time.Time) ([]model.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := m.messages[roomID]
	result := make([]model.Message, 0, limit)

	// Newest first; insert order tracks creation order under the single writer.
	for i := len(all) - 1; i >= 0 && len(result) < limit; i-- {
		if !before.IsZero() && !all[i].CreatedAt.Before(before) {
			continue
		}
		result = append(result, all[i])
	}
	return result, nil
}

func (m *Memory) SearchMessages(ctx context.Context, query string, limit int) ([]model.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	needle := strings.ToLower(query)
	var result []model.Message
	for _, msgs := range m.messages {
		for _, msg := range msgs {
			if strings.Contains(strings.ToLower(msg.Content), needle) {
				result = append(result, msg)
			}
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
