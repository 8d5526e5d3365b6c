package push

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mbarnett/parley/internal/config"
	"github.com/mbarnett/parley/internal/model"
)

// recordingSender captures delivered user ids.
type recordingSender struct {
	mu    sync.Mutex
	sent  []uuid.UUID
	err   error
	delay time.Duration
}

func (s *recordingSender) Send(ctx context.Context, userID uuid.UUID, msg model.Message) error {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	s.sent = append(s.sent, userID)
	s.mu.Unlock()
	return s.err
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

func TestDispatcher_DeliversToAllTargets(t *testing.T) {
	sender := &recordingSender{}
	d := NewDispatcher(sender, config.PushConfig{MaxConcurrent: 4}, nil)
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	targets := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	d.Dispatch(targets, model.Message{ID: uuid.New()})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := d.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	if sender.count() != len(targets) {
		t.Errorf("delivered %d, want %d", sender.count(), len(targets))
	}
}

func TestDispatcher_SenderFailureIsAbsorbed(t *testing.T) {
	sender := &recordingSender{err: errors.New("gateway down")}
	d := NewDispatcher(sender, config.PushConfig{MaxConcurrent: 2}, nil)
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// Dispatch must not panic or block on sender errors.
	d.Dispatch([]uuid.UUID{uuid.New()}, model.Message{ID: uuid.New()})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := d.Stop(ctx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if sender.count() != 1 {
		t.Errorf("delivery attempts = %d, want 1", sender.count())
	}
}

func TestDispatcher_DispatchReturnsImmediately(t *testing.T) {
	sender := &recordingSender{delay: 200 * time.Millisecond}
	d := NewDispatcher(sender, config.PushConfig{MaxConcurrent: 1}, nil)
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		d.Stop(ctx)
	}()

	start := time.Now()
	d.Dispatch([]uuid.UUID{uuid.New(), uuid.New()}, model.Message{ID: uuid.New()})
	if elapsed := time.Since(start); elapsed > 50*time.Millisecond {
		t.Errorf("Dispatch blocked for %v, want immediate return", elapsed)
	}
}
