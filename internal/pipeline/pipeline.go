package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mbarnett/parley/internal/cache"
	"github.com/mbarnett/parley/internal/event"
	"github.com/mbarnett/parley/internal/model"
	"github.com/mbarnett/parley/internal/registry"
	"github.com/mbarnett/parley/internal/store"
)

// Errors
var (
	// ErrSessionExpired indicates the presented session token is past its
	// expiry. The caller should treat it like an unknown token.
	ErrSessionExpired = errors.New("session expired")
)

// Validator checks message content before it reaches the write path.
type Validator interface {
	Validate(content string) error
}

// Parser extracts mentions and sound commands from raw message text.
type Parser interface {
	Mentions(content string) []string
	SoundCommands(content string) []string
}

// Notifier performs push-notification delivery. Implementations must not
// block the caller.
type Notifier interface {
	Dispatch(targets []uuid.UUID, msg model.Message)
}

// Pipeline wires the writer, read store, caches, and registry into the
// operations the transport layer calls.
type Pipeline struct {
	writer    *store.Writer
	reader    store.ReadStore
	caches    *cache.Caches
	registry  *registry.Registry
	validator Validator
	parser    Parser
	notifier  Notifier
	logger    *slog.Logger
}

// New creates a Pipeline over its collaborators.
func New(
	writer *store.Writer,
	reader store.ReadStore,
	caches *cache.Caches,
	reg *registry.Registry,
	validator Validator,
	parser Parser,
	notifier Notifier,
	logger *slog.Logger,
) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		writer:    writer,
		reader:    reader,
		caches:    caches,
		registry:  reg,
		validator: validator,
		parser:    parser,
		notifier:  notifier,
		logger:    logger,
	}
}

// CreateMessageInput is one message submission.
type CreateMessageInput struct {
	RoomID          uuid.UUID
	CreatorID       uuid.UUID
	Content         string
	ClientMessageID string
}

// CreateMessage validates and persists a message, then propagates it:
// cache invalidation, room broadcast, and push dispatch. A persistence
// failure aborts with no side effects. A dedup hit returns the original
// message and skips propagation, which already happened for the first
// submission. Propagation failures are logged and never fail the call.
func (p *Pipeline) CreateMessage(ctx context.Context, in CreateMessageInput) (model.Message, error) {
	if err := p.validator.Validate(in.Content); err != nil {
		return model.Message{}, fmt.Errorf("validate content: %w", err)
	}

	msg := model.Message{
		ID:              uuid.New(),
		RoomID:          in.RoomID,
		CreatorID:       in.CreatorID,
		Content:         in.Content,
		ClientMessageID: in.ClientMessageID,
		Mentions:        p.parser.Mentions(in.Content),
		SoundCommands:   p.parser.SoundCommands(in.Content),
		CreatedAt:       time.Now().UTC(),
	}

	res, err := p.writer.CreateMessageWithDedup(ctx, msg)
	if err != nil {
		return model.Message{}, fmt.Errorf("persist message: %w", err)
	}
	if res.Deduplicated {
		p.logger.Debug("duplicate message submission",
			"room_id", in.RoomID,
			"client_message_id", in.ClientMessageID,
		)
		return res.Message, nil
	}
	created := res.Message

	// Synchronous invalidation: the next page read must include this message.
	p.caches.InvalidateRoomMessages(created.RoomID)
	p.caches.InvalidateSearch()

	delivered := p.registry.BroadcastToRoom(created.RoomID, event.NewMessage(created))
	p.logger.Debug("message broadcast",
		"message_id", created.ID,
		"room_id", created.RoomID,
		"delivered", delivered,
	)

	p.dispatchPush(ctx, created)

	return created, nil
}

// dispatchPush hands the message to the notifier for room members who are
// offline, plus anyone mentioned. Target resolution errors are logged only.
func (p *Pipeline) dispatchPush(ctx context.Context, msg model.Message) {
	targets := make(map[uuid.UUID]struct{})

	members, err := p.RoomMembers(ctx, msg.RoomID)
	if err != nil {
		p.logger.Warn("push target lookup failed",
			"room_id", msg.RoomID, "error", err)
	}
	for _, userID := range members {
		if !p.registry.IsOnline(userID) {
			targets[userID] = struct{}{}
		}
	}

	for _, username := range msg.Mentions {
		u, err := p.reader.GetUserByUsername(ctx, username)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				p.logger.Warn("mention lookup failed",
					"username", username, "error", err)
			}
			continue
		}
		targets[u.ID] = struct{}{}
	}
	delete(targets, msg.CreatorID)

	if len(targets) == 0 {
		return
	}
	ids := make([]uuid.UUID, 0, len(targets))
	for id := range targets {
		ids = append(ids, id)
	}
	p.notifier.Dispatch(ids, msg)
}

// GetRoomMessages returns up to limit messages for a room, newest first,
// serving from the page cache when fresh. A non-zero before restricts results
// to messages created strictly earlier.
func (p *Pipeline) GetRoomMessages(ctx context.Context, roomID uuid.UUID, limit int, before time.Time) ([]model.Message, error) {
	key := cache.PageKey{RoomID: roomID, Limit: limit}
	if !before.IsZero() {
		key.Before = before.UnixMicro()
	}

	if msgs, ok := p.caches.GetCachedMessagePage(key); ok {
		return msgs, nil
	}

	msgs, err := p.reader.GetRoomMessages(ctx, roomID, limit, before)
	if err != nil {
		return nil, fmt.Errorf("load room messages: %w", err)
	}
	p.caches.CacheMessagePage(key, msgs)
	return msgs, nil
}

// SearchMessages returns messages matching query, newest first, through the
// search cache. Results may lag writes by up to the cache TTL.
func (p *Pipeline) SearchMessages(ctx context.Context, query string, limit int) ([]model.Message, error) {
	normalized := strings.ToLower(strings.TrimSpace(query))
	cacheKey := fmt.Sprintf("%s|%d", normalized, limit)

	if msgs, ok := p.caches.GetCachedSearch(cacheKey); ok {
		return msgs, nil
	}

	msgs, err := p.reader.SearchMessages(ctx, normalized, limit)
	if err != nil {
		return nil, fmt.Errorf("search messages: %w", err)
	}
	p.caches.CacheSearch(cacheKey, msgs)
	return msgs, nil
}

// AuthenticateSession resolves a session token to its session, consulting the
// session cache first. Expired sessions are invalidated and rejected.
func (p *Pipeline) AuthenticateSession(ctx context.Context, token string) (model.Session, error) {
	now := time.Now()

	if s, ok := p.caches.GetCachedSession(token); ok {
		if s.Expired(now) {
			p.caches.InvalidateSession(token)
			return model.Session{}, ErrSessionExpired
		}
		return s, nil
	}

	s, err := p.reader.GetSession(ctx, token)
	if err != nil {
		return model.Session{}, fmt.Errorf("load session: %w", err)
	}
	if s.Expired(now) {
		return model.Session{}, ErrSessionExpired
	}
	p.caches.CacheSession(s, 0)
	return s, nil
}

// CreateSession persists a login session and primes the session cache.
func (p *Pipeline) CreateSession(ctx context.Context, s model.Session) error {
	if err := p.writer.CreateSession(ctx, s); err != nil {
		return err
	}
	p.caches.CacheSession(s, 0)
	return nil
}

// RevokeSession deletes a session and invalidates its cache entry.
func (p *Pipeline) RevokeSession(ctx context.Context, token string) error {
	if err := p.writer.DeleteSession(ctx, token); err != nil {
		return err
	}
	p.caches.InvalidateSession(token)
	return nil
}

// RoomMembers returns a room's member user ids through the membership cache.
func (p *Pipeline) RoomMembers(ctx context.Context, roomID uuid.UUID) ([]uuid.UUID, error) {
	if members, ok := p.caches.GetCachedMembership(roomID); ok {
		return members, nil
	}

	members, err := p.reader.GetRoomMembers(ctx, roomID)
	if err != nil {
		return nil, fmt.Errorf("load room members: %w", err)
	}
	p.caches.CacheMembership(roomID, members)
	return members, nil
}

// JoinRoom persists a membership, invalidates the room's member cache, and
// seeds registry presence so a connected user shows up immediately.
func (p *Pipeline) JoinRoom(ctx context.Context, roomID, userID uuid.UUID) error {
	m := model.Membership{
		RoomID:   roomID,
		UserID:   userID,
		JoinedAt: time.Now().UTC(),
	}
	if err := p.writer.CreateMembership(ctx, m); err != nil {
		return err
	}
	p.caches.InvalidateMembership(roomID)
	p.registry.AddRoomMembership(roomID, []uuid.UUID{userID})
	return nil
}

// LeaveRoom deletes a membership and prunes the user from the room's member
// and presence sets.
func (p *Pipeline) LeaveRoom(ctx context.Context, roomID, userID uuid.UUID) error {
	if err := p.writer.DeleteMembership(ctx, roomID, userID); err != nil {
		return err
	}
	p.caches.InvalidateMembership(roomID)
	p.registry.RemoveRoomMembership(roomID, userID)
	return nil
}

// SeedRoomPresence loads a room's member set and registers it with the
// registry, typically when a client first opens the room.
func (p *Pipeline) SeedRoomPresence(ctx context.Context, roomID uuid.UUID) error {
	members, err := p.RoomMembers(ctx, roomID)
	if err != nil {
		return err
	}
	p.registry.AddRoomMembership(roomID, members)
	return nil
}

// CreateUser persists a new user through the writer.
func (p *Pipeline) CreateUser(ctx context.Context, u model.User) error {
	return p.writer.CreateUser(ctx, u)
}

// CreateRoom persists a new room through the writer.
func (p *Pipeline) CreateRoom(ctx context.Context, r model.Room) error {
	return p.writer.CreateRoom(ctx, r)
}
