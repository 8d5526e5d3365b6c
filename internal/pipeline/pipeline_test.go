package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mbarnett/parley/internal/cache"
	"github.com/mbarnett/parley/internal/config"
	"github.com/mbarnett/parley/internal/event"
	"github.com/mbarnett/parley/internal/model"
	"github.com/mbarnett/parley/internal/registry"
	"github.com/mbarnett/parley/internal/store"
	"github.com/mbarnett/parley/internal/text"
)

// recordingNotifier captures push dispatches.
type recordingNotifier struct {
	mu      sync.Mutex
	targets []uuid.UUID
}

func (n *recordingNotifier) Dispatch(targets []uuid.UUID, msg model.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.targets = append(n.targets, targets...)
}

func (n *recordingNotifier) all() []uuid.UUID {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]uuid.UUID(nil), n.targets...)
}

type fixture struct {
	pipeline *Pipeline
	mem      *store.Memory
	registry *registry.Registry
	notifier *recordingNotifier
}

func newFixture(t *testing.T, ws store.WriteStore, mem *store.Memory) *fixture {
	t.Helper()

	w := store.NewWriter(ws, config.WriterConfig{QueueSize: 16}, nil)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("writer Start() error = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		w.Stop(ctx)
	})

	caches := cache.New(config.CacheConfig{
		SessionTTL:     time.Minute,
		MembershipTTL:  time.Minute,
		MessagePageTTL: time.Minute,
		SearchTTL:      time.Minute,
		SweepInterval:  time.Minute,
	}, nil)

	reg := registry.New(config.RegistryConfig{
		MaxConnectionsPerUser: 5,
		SendBufferSize:        64,
		TypingTTL:             5 * time.Second,
		BroadcastCacheTTL:     50 * time.Millisecond,
		SweepInterval:         time.Minute,
	}, nil)

	notifier := &recordingNotifier{}
	p := New(w, mem, caches, reg, text.NewValidator(0), text.NewParser(), notifier, nil)
	return &fixture{pipeline: p, mem: mem, registry: reg, notifier: notifier}
}

func newMemFixture(t *testing.T) *fixture {
	t.Helper()
	mem := store.NewMemory()
	return newFixture(t, mem, mem)
}

// drain empties a connection's pending events.
func drain(events <-chan []byte) {
	for {
		select {
		case <-events:
		default:
			return
		}
	}
}

// countEvents returns how many pending events of typ are buffered.
func countEvents(t *testing.T, events <-chan []byte, typ event.Type) int {
	t.Helper()

	n := 0
	for {
		select {
		case data := <-events:
			var env struct {
				Type event.Type `json:"type"`
			}
			if err := json.Unmarshal(data, &env); err != nil {
				t.Fatalf("decode event: %v", err)
			}
			if env.Type == typ {
				n++
			}
		default:
			return n
		}
	}
}

func TestPipeline_InvalidationOnWrite(t *testing.T) {
	f := newMemFixture(t)
	ctx := context.Background()

	roomID := uuid.New()
	creator := uuid.New()

	before, err := f.pipeline.GetRoomMessages(ctx, roomID, 10, time.Time{})
	if err != nil {
		t.Fatalf("GetRoomMessages() error = %v", err)
	}
	if len(before) != 0 {
		t.Fatalf("initial page has %d messages, want 0", len(before))
	}

	msg, err := f.pipeline.CreateMessage(ctx, CreateMessageInput{
		RoomID:          roomID,
		CreatorID:       creator,
		Content:         "hello room",
		ClientMessageID: "client-1",
	})
	if err != nil {
		t.Fatalf("CreateMessage() error = %v", err)
	}

	// The cached empty page must not be served after the write.
	after, err := f.pipeline.GetRoomMessages(ctx, roomID, 10, time.Time{})
	if err != nil {
		t.Fatalf("GetRoomMessages() error = %v", err)
	}
	if len(after) != 1 || after[0].ID != msg.ID {
		t.Errorf("page after create = %v, want the new message", after)
	}
}

func TestPipeline_ValidationRejectsBeforeWrite(t *testing.T) {
	f := newMemFixture(t)
	ctx := context.Background()

	_, err := f.pipeline.CreateMessage(ctx, CreateMessageInput{
		RoomID:          uuid.New(),
		CreatorID:       uuid.New(),
		Content:         "   ",
		ClientMessageID: "client-1",
	})
	if !errors.Is(err, text.ErrEmptyContent) {
		t.Fatalf("CreateMessage() error = %v, want ErrEmptyContent", err)
	}
}

type failingStore struct {
	*store.Memory
}

func (s *failingStore) InsertMessage(ctx context.Context, m model.Message) error {
	return errors.New("disk full")
}

func TestPipeline_StorageFailureHasNoSideEffects(t *testing.T) {
	mem := store.NewMemory()
	f := newFixture(t, &failingStore{Memory: mem}, mem)
	ctx := context.Background()

	roomID := uuid.New()
	userID := uuid.New()
	f.registry.AddRoomMembership(roomID, []uuid.UUID{userID})
	conn, err := f.registry.AddConnection(userID)
	if err != nil {
		t.Fatalf("AddConnection() error = %v", err)
	}
	drain(conn.Events())

	_, err = f.pipeline.CreateMessage(ctx, CreateMessageInput{
		RoomID:          roomID,
		CreatorID:       userID,
		Content:         "will not persist",
		ClientMessageID: "client-1",
	})
	if err == nil {
		t.Fatal("CreateMessage() succeeded, want storage error")
	}

	if got := countEvents(t, conn.Events(), event.TypeNewMessage); got != 0 {
		t.Errorf("connection received %d new_message events, want 0", got)
	}
	msgs, err := f.pipeline.GetRoomMessages(ctx, roomID, 10, time.Time{})
	if err != nil {
		t.Fatalf("GetRoomMessages() error = %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("room has %d messages after failed create, want 0", len(msgs))
	}
	if got := f.notifier.all(); len(got) != 0 {
		t.Errorf("push dispatched to %v after failed create, want none", got)
	}
}

func TestPipeline_DuplicateSubmissionSkipsRebroadcast(t *testing.T) {
	f := newMemFixture(t)
	ctx := context.Background()

	roomID := uuid.New()
	userID := uuid.New()
	f.registry.AddRoomMembership(roomID, []uuid.UUID{userID})
	conn, err := f.registry.AddConnection(userID)
	if err != nil {
		t.Fatalf("AddConnection() error = %v", err)
	}
	drain(conn.Events())

	first, err := f.pipeline.CreateMessage(ctx, CreateMessageInput{
		RoomID:          roomID,
		CreatorID:       userID,
		Content:         "original",
		ClientMessageID: "client-1",
	})
	if err != nil {
		t.Fatalf("first CreateMessage() error = %v", err)
	}

	second, err := f.pipeline.CreateMessage(ctx, CreateMessageInput{
		RoomID:          roomID,
		CreatorID:       userID,
		Content:         "retry with new content",
		ClientMessageID: "client-1",
	})
	if err != nil {
		t.Fatalf("second CreateMessage() error = %v", err)
	}

	if second.ID != first.ID {
		t.Errorf("retry returned ID %v, want %v", second.ID, first.ID)
	}
	if second.Content != "original" {
		t.Errorf("retry returned content %q, want original preserved", second.Content)
	}
	if got := countEvents(t, conn.Events(), event.TypeNewMessage); got != 1 {
		t.Errorf("connection received %d new_message events, want 1", got)
	}
}

func TestPipeline_PushTargetsOfflineAndMentioned(t *testing.T) {
	f := newMemFixture(t)
	ctx := context.Background()

	roomID := uuid.New()
	sender := uuid.New()
	online := uuid.New()
	offline := uuid.New()
	mentioned := model.User{ID: uuid.New(), Username: "frank"}

	if err := f.pipeline.CreateUser(ctx, mentioned); err != nil {
		t.Fatalf("CreateUser() error = %v", err)
	}
	for _, userID := range []uuid.UUID{sender, online, offline} {
		if err := f.pipeline.JoinRoom(ctx, roomID, userID); err != nil {
			t.Fatalf("JoinRoom() error = %v", err)
		}
	}
	if _, err := f.registry.AddConnection(sender); err != nil {
		t.Fatalf("AddConnection(sender) error = %v", err)
	}
	if _, err := f.registry.AddConnection(online); err != nil {
		t.Fatalf("AddConnection(online) error = %v", err)
	}

	_, err := f.pipeline.CreateMessage(ctx, CreateMessageInput{
		RoomID:          roomID,
		CreatorID:       sender,
		Content:         "ping @frank, are you around?",
		ClientMessageID: "client-1",
	})
	if err != nil {
		t.Fatalf("CreateMessage() error = %v", err)
	}

	targets := map[uuid.UUID]bool{}
	for _, id := range f.notifier.all() {
		targets[id] = true
	}
	if !targets[offline] {
		t.Error("offline member not in push targets")
	}
	if !targets[mentioned.ID] {
		t.Error("mentioned user not in push targets")
	}
	if targets[online] {
		t.Error("online unmentioned member in push targets")
	}
	if targets[sender] {
		t.Error("sender in push targets")
	}
}

func TestPipeline_AuthenticateSession(t *testing.T) {
	f := newMemFixture(t)
	ctx := context.Background()

	s := model.Session{
		Token:     "tok-1",
		UserID:    uuid.New(),
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(time.Hour),
	}
	if err := f.pipeline.CreateSession(ctx, s); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	got, err := f.pipeline.AuthenticateSession(ctx, "tok-1")
	if err != nil {
		t.Fatalf("AuthenticateSession() error = %v", err)
	}
	if got.UserID != s.UserID {
		t.Errorf("session UserID = %v, want %v", got.UserID, s.UserID)
	}

	if _, err := f.pipeline.AuthenticateSession(ctx, "missing"); err == nil {
		t.Error("unknown token authenticated")
	}
}

func TestPipeline_AuthenticateSession_Expired(t *testing.T) {
	f := newMemFixture(t)
	ctx := context.Background()

	s := model.Session{
		Token:     "tok-old",
		UserID:    uuid.New(),
		CreatedAt: time.Now().Add(-2 * time.Hour),
		ExpiresAt: time.Now().Add(-time.Hour),
	}
	if err := f.pipeline.CreateSession(ctx, s); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}

	if _, err := f.pipeline.AuthenticateSession(ctx, "tok-old"); !errors.Is(err, ErrSessionExpired) {
		t.Errorf("AuthenticateSession() error = %v, want ErrSessionExpired", err)
	}
}

func TestPipeline_RevokeSessionInvalidatesCache(t *testing.T) {
	f := newMemFixture(t)
	ctx := context.Background()

	s := model.Session{
		Token:     "tok-1",
		UserID:    uuid.New(),
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(time.Hour),
	}
	if err := f.pipeline.CreateSession(ctx, s); err != nil {
		t.Fatalf("CreateSession() error = %v", err)
	}
	if _, err := f.pipeline.AuthenticateSession(ctx, "tok-1"); err != nil {
		t.Fatalf("AuthenticateSession() error = %v", err)
	}

	if err := f.pipeline.RevokeSession(ctx, "tok-1"); err != nil {
		t.Fatalf("RevokeSession() error = %v", err)
	}
	if _, err := f.pipeline.AuthenticateSession(ctx, "tok-1"); err == nil {
		t.Error("revoked token still authenticates")
	}
}

func TestPipeline_JoinAndLeaveRoom(t *testing.T) {
	f := newMemFixture(t)
	ctx := context.Background()

	roomID := uuid.New()
	userID := uuid.New()
	if _, err := f.registry.AddConnection(userID); err != nil {
		t.Fatalf("AddConnection() error = %v", err)
	}

	if err := f.pipeline.JoinRoom(ctx, roomID, userID); err != nil {
		t.Fatalf("JoinRoom() error = %v", err)
	}
	if present := f.registry.RoomPresence(roomID); len(present) != 1 || present[0] != userID {
		t.Errorf("presence after join = %v, want [%v]", present, userID)
	}
	members, err := f.pipeline.RoomMembers(ctx, roomID)
	if err != nil {
		t.Fatalf("RoomMembers() error = %v", err)
	}
	if len(members) != 1 || members[0] != userID {
		t.Errorf("members after join = %v, want [%v]", members, userID)
	}

	if err := f.pipeline.LeaveRoom(ctx, roomID, userID); err != nil {
		t.Fatalf("LeaveRoom() error = %v", err)
	}
	if present := f.registry.RoomPresence(roomID); len(present) != 0 {
		t.Errorf("presence after leave = %v, want empty", present)
	}
	members, err = f.pipeline.RoomMembers(ctx, roomID)
	if err != nil {
		t.Fatalf("RoomMembers() error = %v", err)
	}
	if len(members) != 0 {
		t.Errorf("members after leave = %v, want empty", members)
	}
}

func TestPipeline_SearchServesFromCacheWithinTTL(t *testing.T) {
	f := newMemFixture(t)
	ctx := context.Background()

	roomID := uuid.New()
	if _, err := f.pipeline.CreateMessage(ctx, CreateMessageInput{
		RoomID:          roomID,
		CreatorID:       uuid.New(),
		Content:         "deploy finished",
		ClientMessageID: "client-1",
	}); err != nil {
		t.Fatalf("CreateMessage() error = %v", err)
	}

	got, err := f.pipeline.SearchMessages(ctx, "Deploy", 10)
	if err != nil {
		t.Fatalf("SearchMessages() error = %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("search returned %d messages, want 1", len(got))
	}

	// Second identical query is served from cache.
	again, err := f.pipeline.SearchMessages(ctx, "Deploy", 10)
	if err != nil {
		t.Fatalf("SearchMessages() error = %v", err)
	}
	if len(again) != 1 {
		t.Errorf("cached search returned %d messages, want 1", len(again))
	}
}
