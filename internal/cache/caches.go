package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mbarnett/parley/internal/config"
	"github.com/mbarnett/parley/internal/model"
)

// PageKey identifies one cached page of room messages.
type PageKey struct {
	RoomID uuid.UUID
	Limit  int
	Before int64 // Unix microseconds of the pagination cursor, 0 for latest
}

// Caches aggregates the hot-path caches with their configured TTLs.
type Caches struct {
	cfg    config.CacheConfig
	logger *slog.Logger

	session    *TTLCache[string, model.Session]
	membership *TTLCache[uuid.UUID, []uuid.UUID]
	pages      *TTLCache[PageKey, []model.Message]
	search     *TTLCache[string, []model.Message]

	// Lifecycle for the background sweep
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates the cache aggregate.
func New(cfg config.CacheConfig, logger *slog.Logger) *Caches {
	if logger == nil {
		logger = slog.Default()
	}
	return &Caches{
		cfg:        cfg,
		logger:     logger,
		session:    NewTTLCache[string, model.Session](),
		membership: NewTTLCache[uuid.UUID, []uuid.UUID](),
		pages:      NewTTLCache[PageKey, []model.Message](),
		search:     NewTTLCache[string, []model.Message](),
	}
}

// Start launches the periodic sweep.
func (c *Caches) Start(ctx context.Context) error {
	c.ctx, c.cancel = context.WithCancel(ctx)

	c.wg.Add(1)
	go c.sweepLoop()

	c.logger.Info("cache sweep started", "interval", c.cfg.SweepInterval)
	return nil
}

// Stop halts the sweep goroutine.
func (c *Caches) Stop(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		c.logger.Warn("cache sweep stop timed out")
	}
	return nil
}

// sweepLoop periodically evicts expired entries from every cache.
func (c *Caches) sweepLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			evicted := c.session.Sweep() + c.membership.Sweep() +
				c.pages.Sweep() + c.search.Sweep()
			if evicted > 0 {
				c.logger.Debug("cache sweep", "evicted", evicted)
			}
		}
	}
}

// --- Sessions ---

// CacheSession stores a session under its token for the configured TTL.
// A non-zero ttl overrides the default (used by short-lived sessions).
func (c *Caches) CacheSession(s model.Session, ttl time.Duration) {
	if ttl == 0 {
		ttl = c.cfg.SessionTTL
	}
	c.session.Set(s.Token, s, ttl)
}

// GetCachedSession returns the session for token, if cached and fresh.
func (c *Caches) GetCachedSession(token string) (model.Session, bool) {
	return c.session.Get(token)
}

// InvalidateSession removes a session, typically on revocation.
func (c *Caches) InvalidateSession(token string) {
	c.session.Invalidate(token)
}

// --- Memberships ---

// CacheMembership stores the member user ids of a room.
func (c *Caches) CacheMembership(roomID uuid.UUID, userIDs []uuid.UUID) {
	c.membership.Set(roomID, userIDs, c.cfg.MembershipTTL)
}

// GetCachedMembership returns the cached member set of a room.
func (c *Caches) GetCachedMembership(roomID uuid.UUID) ([]uuid.UUID, bool) {
	return c.membership.Get(roomID)
}

// InvalidateMembership removes a room's member set, on any membership change.
func (c *Caches) InvalidateMembership(roomID uuid.UUID) {
	c.membership.Invalidate(roomID)
}

// --- Message pages ---

// CacheMessagePage stores one page of room messages.
func (c *Caches) CacheMessagePage(key PageKey, msgs []model.Message) {
	c.pages.Set(key, msgs, c.cfg.MessagePageTTL)
}

// GetCachedMessagePage returns a cached page of room messages.
func (c *Caches) GetCachedMessagePage(key PageKey) ([]model.Message, bool) {
	return c.pages.Get(key)
}

// InvalidateRoomMessages removes every cached page for a room. Called
// synchronously from the write path on message creation.
func (c *Caches) InvalidateRoomMessages(roomID uuid.UUID) {
	c.pages.InvalidateFunc(func(k PageKey) bool { return k.RoomID == roomID })
}

// --- Search results ---

// CacheSearch stores search results for a normalized query key.
func (c *Caches) CacheSearch(query string, msgs []model.Message) {
	c.search.Set(query, msgs, c.cfg.SearchTTL)
}

// GetCachedSearch returns cached search results.
func (c *Caches) GetCachedSearch(query string) ([]model.Message, bool) {
	return c.search.Get(query)
}

// InvalidateSearch drops all cached search results. Search freshness is
// best-effort, so message creation clears the whole cache rather than trying
// to match affected queries.
func (c *Caches) InvalidateSearch() {
	c.search.Clear()
}

// --- Maintenance ---

// ClearAll resets every cache.
func (c *Caches) ClearAll() {
	c.session.Clear()
	c.membership.Clear()
	c.pages.Clear()
	c.search.Clear()
}

// AllStats returns per-cache counters keyed by cache name.
func (c *Caches) AllStats() map[string]Stats {
	return map[string]Stats{
		"session":      c.session.Stats(),
		"membership":   c.membership.Stats(),
		"message_page": c.pages.Stats(),
		"search":       c.search.Stats(),
	}
}
