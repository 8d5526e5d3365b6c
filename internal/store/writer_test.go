package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mbarnett/parley/internal/config"
	"github.com/mbarnett/parley/internal/model"
)

func startWriter(t *testing.T) (*Writer, *Memory) {
	t.Helper()

	mem := NewMemory()
	w := NewWriter(mem, config.WriterConfig{QueueSize: 16}, nil)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		w.Stop(ctx)
	})
	return w, mem
}

func TestWriter_CreateMessageWithDedup_Idempotent(t *testing.T) {
	w, _ := startWriter(t)
	ctx := context.Background()

	roomID := uuid.New()
	creator := uuid.New()

	first, err := w.CreateMessageWithDedup(ctx, model.Message{
		ID:              uuid.New(),
		RoomID:          roomID,
		CreatorID:       creator,
		Content:         "original content",
		ClientMessageID: "client-1",
	})
	if err != nil {
		t.Fatalf("first create error = %v", err)
	}
	if first.Deduplicated {
		t.Error("first create reported Deduplicated = true")
	}

	second, err := w.CreateMessageWithDedup(ctx, model.Message{
		ID:              uuid.New(),
		RoomID:          roomID,
		CreatorID:       creator,
		Content:         "different content on retry",
		ClientMessageID: "client-1",
	})
	if err != nil {
		t.Fatalf("second create error = %v", err)
	}

	if !second.Deduplicated {
		t.Error("second create reported Deduplicated = false")
	}
	if second.Message.ID != first.Message.ID {
		t.Errorf("dedup returned ID %v, want %v", second.Message.ID, first.Message.ID)
	}
	if second.Message.Content != "original content" {
		t.Errorf("dedup returned content %q, want first content preserved", second.Message.Content)
	}

	if stats := w.Stats(); stats.DedupHits != 1 {
		t.Errorf("DedupHits = %d, want 1", stats.DedupHits)
	}
}

func TestWriter_ConcurrentCreates_NoLostWrites(t *testing.T) {
	w, mem := startWriter(t)
	ctx := context.Background()

	roomID := uuid.New()
	creator := uuid.New()

	const n = 50
	var wg sync.WaitGroup
	errs := make(chan error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := w.CreateMessageWithDedup(ctx, model.Message{
				ID:              uuid.New(),
				RoomID:          roomID,
				CreatorID:       creator,
				Content:         fmt.Sprintf("message %d", i),
				ClientMessageID: fmt.Sprintf("client-%d", i),
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent create error = %v", err)
		}
	}

	msgs, err := mem.GetRoomMessages(ctx, roomID, n*2, time.Time{})
	if err != nil {
		t.Fatalf("GetRoomMessages() error = %v", err)
	}
	if len(msgs) != n {
		t.Errorf("persisted %d messages, want %d", len(msgs), n)
	}
}

func TestWriter_ConcurrentDuplicates_SingleRow(t *testing.T) {
	w, mem := startWriter(t)
	ctx := context.Background()

	roomID := uuid.New()

	const n = 10
	var wg sync.WaitGroup
	results := make(chan DedupResult, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := w.CreateMessageWithDedup(ctx, model.Message{
				ID:              uuid.New(),
				RoomID:          roomID,
				CreatorID:       uuid.New(),
				Content:         fmt.Sprintf("attempt %d", i),
				ClientMessageID: "shared-key",
			})
			if err != nil {
				t.Errorf("create error = %v", err)
				return
			}
			results <- res
		}(i)
	}
	wg.Wait()
	close(results)

	var winnerID uuid.UUID
	dedups := 0
	for res := range results {
		if winnerID == uuid.Nil {
			winnerID = res.Message.ID
		}
		if res.Message.ID != winnerID {
			t.Errorf("results disagree on message ID: %v vs %v", res.Message.ID, winnerID)
		}
		if res.Deduplicated {
			dedups++
		}
	}
	if dedups != n-1 {
		t.Errorf("dedup hits = %d, want %d", dedups, n-1)
	}

	msgs, err := mem.GetRoomMessages(ctx, roomID, n, time.Time{})
	if err != nil {
		t.Fatalf("GetRoomMessages() error = %v", err)
	}
	if len(msgs) != 1 {
		t.Errorf("persisted %d rows for one dedup key, want 1", len(msgs))
	}
}

func TestWriter_OpFailureDoesNotStopWorker(t *testing.T) {
	w, _ := startWriter(t)
	ctx := context.Background()

	u := model.User{ID: uuid.New(), Username: "alice", CreatedAt: time.Now()}
	if err := w.CreateUser(ctx, u); err != nil {
		t.Fatalf("first CreateUser() error = %v", err)
	}

	// Duplicate username fails, but only for this caller.
	dup := model.User{ID: uuid.New(), Username: "alice", CreatedAt: time.Now()}
	if err := w.CreateUser(ctx, dup); !errors.Is(err, ErrDuplicate) {
		t.Errorf("duplicate CreateUser() error = %v, want ErrDuplicate", err)
	}

	// The worker keeps going.
	if err := w.CreateUser(ctx, model.User{ID: uuid.New(), Username: "bob"}); err != nil {
		t.Errorf("CreateUser() after failure error = %v", err)
	}

	stats := w.Stats()
	if stats.Executed != 3 {
		t.Errorf("Executed = %d, want 3", stats.Executed)
	}
	if stats.Failed != 1 {
		t.Errorf("Failed = %d, want 1", stats.Failed)
	}
}

func TestWriter_StoppedWriterRejectsCalls(t *testing.T) {
	mem := NewMemory()
	w := NewWriter(mem, config.WriterConfig{QueueSize: 4}, nil)
	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := w.Stop(stopCtx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	err := w.CreateUser(context.Background(), model.User{ID: uuid.New(), Username: "late"})
	if !errors.Is(err, ErrWriterClosed) {
		t.Errorf("CreateUser() after Stop error = %v, want ErrWriterClosed", err)
	}
}

func TestWriter_CallerCancellationDiscardsResult(t *testing.T) {
	w, mem := startWriter(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // Caller gives up before the result arrives.

	_, err := w.CreateMessageWithDedup(ctx, model.Message{
		ID:              uuid.New(),
		RoomID:          uuid.New(),
		CreatorID:       uuid.New(),
		Content:         "written anyway",
		ClientMessageID: "c-1",
	})
	// The select in do may win the race against the worker; either outcome
	// is fine, but a storage error is not.
	if err != nil && !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want nil or context.Canceled", err)
	}

	// The operation still completes on the worker; poll briefly for it.
	deadline := time.Now().Add(time.Second)
	for {
		msgs, merr := mem.SearchMessages(context.Background(), "written anyway", 10)
		if merr != nil {
			t.Fatalf("SearchMessages() error = %v", merr)
		}
		if len(msgs) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("write from cancelled caller never landed")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
