package registry

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mbarnett/parley/internal/cache"
	"github.com/mbarnett/parley/internal/config"
	"github.com/mbarnett/parley/internal/event"
)

// Registry tracks live connections, presence, and typing state, and fans
// events out to room audiences.
type Registry struct {
	cfg    config.RegistryConfig
	logger *slog.Logger

	mu        sync.RWMutex
	conns     map[uuid.UUID]*Conn
	userConns map[uuid.UUID]map[uuid.UUID]*Conn    // userID → connID → conn
	members   map[uuid.UUID]map[uuid.UUID]struct{} // roomID → seeded member userIDs
	presence  map[uuid.UUID]map[uuid.UUID]struct{} // roomID → online userIDs
	typing    map[uuid.UUID]map[uuid.UUID]time.Time // roomID → userID → expiry

	// Duplicate-suppression for rapid identical rebroadcasts.
	recent *cache.TTLCache[string, struct{}]

	// Lifecycle for the typing/fingerprint sweep
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	statsMu sync.Mutex
	stats   Stats
}

// New creates an empty registry.
func New(cfg config.RegistryConfig, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		cfg:       cfg,
		logger:    logger,
		conns:     make(map[uuid.UUID]*Conn),
		userConns: make(map[uuid.UUID]map[uuid.UUID]*Conn),
		members:   make(map[uuid.UUID]map[uuid.UUID]struct{}),
		presence:  make(map[uuid.UUID]map[uuid.UUID]struct{}),
		typing:    make(map[uuid.UUID]map[uuid.UUID]time.Time),
		recent:    cache.NewTTLCache[string, struct{}](),
	}
}

// Start launches the periodic sweep for expired typing entries and stale
// broadcast fingerprints.
func (r *Registry) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	r.wg.Add(1)
	go r.sweepLoop()

	r.logger.Info("registry started",
		"max_connections_per_user", r.cfg.MaxConnectionsPerUser,
		"typing_ttl", r.cfg.TypingTTL,
	)
	return nil
}

// Stop halts the sweep and closes every live connection channel.
func (r *Registry) Stop(ctx context.Context) error {
	r.logger.Info("stopping registry")

	if r.cancel != nil {
		r.cancel()
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		r.logger.Warn("registry stop timed out")
	}

	r.mu.Lock()
	conns := make([]*Conn, 0, len(r.conns))
	for _, c := range r.conns {
		conns = append(conns, c)
	}
	r.conns = make(map[uuid.UUID]*Conn)
	r.userConns = make(map[uuid.UUID]map[uuid.UUID]*Conn)
	r.presence = make(map[uuid.UUID]map[uuid.UUID]struct{})
	r.mu.Unlock()

	for _, c := range conns {
		c.close()
	}

	r.logger.Info("registry stopped", "closed_connections", len(conns))
	return nil
}

// sweepLoop periodically drops expired typing entries and swept fingerprints.
func (r *Registry) sweepLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.sweepTyping(time.Now())
			r.recent.Sweep()
		}
	}
}

// sweepTyping removes typing entries past their expiry.
func (r *Registry) sweepTyping(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for roomID, users := range r.typing {
		for userID, expiry := range users {
			if now.After(expiry) {
				delete(users, userID)
			}
		}
		if len(users) == 0 {
			delete(r.typing, roomID)
		}
	}
}

// AddConnection registers a new connection for user and returns its handle.
// Fails with ErrConnectionLimit when the user already holds the maximum.
// The user becomes present in every room they are a seeded member of; each
// newly joined presence set is announced to the room.
func (r *Registry) AddConnection(userID uuid.UUID) (*Conn, error) {
	conn := &Conn{
		ID:     uuid.New(),
		UserID: userID,
		send:   make(chan []byte, r.cfg.SendBufferSize),
	}

	r.mu.Lock()
	existing := r.userConns[userID]
	if len(existing) >= r.cfg.MaxConnectionsPerUser {
		r.mu.Unlock()
		return nil, ErrConnectionLimit
	}
	if existing == nil {
		existing = make(map[uuid.UUID]*Conn)
		r.userConns[userID] = existing
	}
	existing[conn.ID] = conn
	r.conns[conn.ID] = conn

	// First connection makes the user present in their rooms.
	var joined []uuid.UUID
	if len(existing) == 1 {
		for roomID, members := range r.members {
			if _, member := members[userID]; !member {
				continue
			}
			present := r.presence[roomID]
			if present == nil {
				present = make(map[uuid.UUID]struct{})
				r.presence[roomID] = present
			}
			if _, already := present[userID]; !already {
				present[userID] = struct{}{}
				joined = append(joined, roomID)
			}
		}
	}
	r.mu.Unlock()

	r.logger.Debug("connection added", "conn_id", conn.ID, "user_id", userID)

	for _, roomID := range joined {
		r.broadcastPresence(roomID)
	}
	return conn, nil
}

// RemoveConnection removes connID from every index and closes its outbound
// channel. When it was the user's last connection, the user leaves presence
// in every room, and each room is notified.
func (r *Registry) RemoveConnection(connID uuid.UUID) error {
	r.mu.Lock()
	conn, ok := r.conns[connID]
	if !ok {
		r.mu.Unlock()
		return ErrUnknownConnection
	}
	delete(r.conns, connID)

	userID := conn.UserID
	if set := r.userConns[userID]; set != nil {
		delete(set, connID)
		if len(set) == 0 {
			delete(r.userConns, userID)
		}
	}

	var left []uuid.UUID
	if len(r.userConns[userID]) == 0 {
		for roomID, present := range r.presence {
			if _, ok := present[userID]; ok {
				delete(present, userID)
				left = append(left, roomID)
			}
		}
		for roomID, users := range r.typing {
			delete(users, userID)
			if len(users) == 0 {
				delete(r.typing, roomID)
			}
		}
	}
	r.mu.Unlock()

	conn.close()
	r.logger.Debug("connection removed", "conn_id", connID, "user_id", userID)

	for _, roomID := range left {
		r.broadcastPresence(roomID)
	}
	return nil
}

// AddRoomMembership seeds presence tracking for a room's member set. Members
// with live connections become present immediately.
func (r *Registry) AddRoomMembership(roomID uuid.UUID, userIDs []uuid.UUID) {
	r.mu.Lock()
	members := r.members[roomID]
	if members == nil {
		members = make(map[uuid.UUID]struct{})
		r.members[roomID] = members
	}

	changed := false
	for _, userID := range userIDs {
		members[userID] = struct{}{}
		if len(r.userConns[userID]) == 0 {
			continue
		}
		present := r.presence[roomID]
		if present == nil {
			present = make(map[uuid.UUID]struct{})
			r.presence[roomID] = present
		}
		if _, already := present[userID]; !already {
			present[userID] = struct{}{}
			changed = true
		}
	}
	r.mu.Unlock()

	if changed {
		r.broadcastPresence(roomID)
	}
}

// RemoveRoomMembership drops a user from a room's member and presence sets,
// typically when a membership row is deleted.
func (r *Registry) RemoveRoomMembership(roomID, userID uuid.UUID) {
	r.mu.Lock()
	changed := false
	if members := r.members[roomID]; members != nil {
		delete(members, userID)
	}
	if present := r.presence[roomID]; present != nil {
		if _, ok := present[userID]; ok {
			delete(present, userID)
			changed = true
		}
	}
	if users := r.typing[roomID]; users != nil {
		delete(users, userID)
	}
	r.mu.Unlock()

	if changed {
		r.broadcastPresence(roomID)
	}
}

// StartTyping records that user is composing in room. The entry expires
// after the configured window unless refreshed.
func (r *Registry) StartTyping(userID, roomID uuid.UUID) {
	r.mu.Lock()
	users := r.typing[roomID]
	if users == nil {
		users = make(map[uuid.UUID]time.Time)
		r.typing[roomID] = users
	}
	users[userID] = time.Now().Add(r.cfg.TypingTTL)
	r.mu.Unlock()
}

// StopTyping clears the user's typing entry.
func (r *Registry) StopTyping(userID, roomID uuid.UUID) {
	r.mu.Lock()
	if users := r.typing[roomID]; users != nil {
		delete(users, userID)
		if len(users) == 0 {
			delete(r.typing, roomID)
		}
	}
	r.mu.Unlock()
}

// TypingUsers returns the users currently typing in room. Expired entries are
// dropped lazily here as well as by the periodic sweep.
func (r *Registry) TypingUsers(roomID uuid.UUID) []uuid.UUID {
	now := time.Now()

	r.mu.Lock()
	users := r.typing[roomID]
	ids := make([]uuid.UUID, 0, len(users))
	for userID, expiry := range users {
		if now.After(expiry) {
			delete(users, userID)
			continue
		}
		ids = append(ids, userID)
	}
	if len(users) == 0 {
		delete(r.typing, roomID)
	}
	r.mu.Unlock()

	sortIDs(ids)
	return ids
}

// RoomPresence returns a point-in-time snapshot of the users present in room.
func (r *Registry) RoomPresence(roomID uuid.UUID) []uuid.UUID {
	r.mu.RLock()
	present := r.presence[roomID]
	ids := make([]uuid.UUID, 0, len(present))
	for userID := range present {
		ids = append(ids, userID)
	}
	r.mu.RUnlock()

	sortIDs(ids)
	return ids
}

// BroadcastToRoom delivers ev to every connection of every user present in
// room. Sends are non-blocking and happen outside any lock; a connection that
// cannot accept the event is removed. Returns the number of connections the
// event was delivered to.
func (r *Registry) BroadcastToRoom(roomID uuid.UUID, ev event.Event) int {
	data, err := ev.Encode()
	if err != nil {
		r.logger.Error("broadcast encode failed", "type", ev.Type, "error", err)
		return 0
	}

	// Coalesce identical rapid rebroadcasts: first write wins for the TTL
	// window, repeats inside it are suppressed without refreshing it.
	fp := event.Fingerprint(ev, data)
	if _, dup := r.recent.Get(fp); dup {
		r.statsMu.Lock()
		r.stats.BroadcastsCoalesced++
		r.statsMu.Unlock()
		return 0
	}
	r.recent.Set(fp, struct{}{}, r.cfg.BroadcastCacheTTL)

	targets := r.snapshotRoomConns(roomID)

	delivered := 0
	var failed []*Conn
	for _, conn := range targets {
		if conn.trySend(data) {
			delivered++
		} else {
			failed = append(failed, conn)
		}
	}

	r.statsMu.Lock()
	r.stats.BroadcastsSent++
	r.stats.EventsDelivered += int64(delivered)
	r.stats.SendFailures += int64(len(failed))
	r.statsMu.Unlock()

	// Stalled or closed consumers are dropped; delivery to the rest already
	// succeeded.
	for _, conn := range failed {
		r.logger.Warn("dropping stalled connection",
			"conn_id", conn.ID,
			"user_id", conn.UserID,
			"room_id", roomID,
		)
		r.RemoveConnection(conn.ID)
	}

	return delivered
}

// broadcastPresence announces a room's current online set.
func (r *Registry) broadcastPresence(roomID uuid.UUID) {
	r.BroadcastToRoom(roomID, event.PresenceUpdate(roomID, r.RoomPresence(roomID)))
}

// snapshotRoomConns returns the connections of every user present in room.
func (r *Registry) snapshotRoomConns(roomID uuid.UUID) []*Conn {
	r.mu.RLock()
	defer r.mu.RUnlock()

	present := r.presence[roomID]
	var targets []*Conn
	for userID := range present {
		for _, conn := range r.userConns[userID] {
			targets = append(targets, conn)
		}
	}
	return targets
}

// ConnectionCount returns the number of live connections for user.
func (r *Registry) ConnectionCount(userID uuid.UUID) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.userConns[userID])
}

// IsOnline reports whether user has at least one live connection.
func (r *Registry) IsOnline(userID uuid.UUID) bool {
	return r.ConnectionCount(userID) > 0
}

// Stats returns current counters.
func (r *Registry) Stats() Stats {
	r.statsMu.Lock()
	stats := r.stats
	r.statsMu.Unlock()

	r.mu.RLock()
	stats.Connections = len(r.conns)
	stats.Users = len(r.userConns)
	stats.TrackedRooms = len(r.members)
	for _, users := range r.typing {
		stats.TypingEntries += len(users)
	}
	r.mu.RUnlock()

	return stats
}

// sortIDs orders uuids for stable snapshots.
func sortIDs(ids []uuid.UUID) {
	sort.Slice(ids, func(i, j int) bool {
		return ids[i].String() < ids[j].String()
	})
}
