package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mbarnett/parley/internal/config"
	"github.com/mbarnett/parley/internal/model"
)

// writeOp is one queued mutation with its completion handle.
type writeOp struct {
	name   string
	fn     func(ctx context.Context) (any, error)
	result chan opResult
}

// opResult resolves a caller's completion handle.
type opResult struct {
	value any
	err   error
}

// DedupResult is the outcome of CreateMessageWithDedup.
type DedupResult struct {
	Message model.Message
	// Deduplicated is true when an existing row for the same
	// (room_id, client_message_id) was returned and the submission discarded.
	Deduplicated bool
}

// Writer serializes every mutation against the store through one queue and
// one worker goroutine.
type Writer struct {
	store  WriteStore
	logger *slog.Logger

	queue *workQueue[writeOp]

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Metrics
	mu      sync.Mutex
	metrics WriterStats
}

// WriterStats contains writer counters.
type WriterStats struct {
	Executed  int64
	Failed    int64
	DedupHits int64
	Queue     QueueStats
}

// NewWriter creates a Writer over the given store.
func NewWriter(ws WriteStore, cfg config.WriterConfig, logger *slog.Logger) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	size := cfg.QueueSize
	if size < 1 {
		size = 1
	}
	return &Writer{
		store:  ws,
		logger: logger,
		queue:  newWorkQueue[writeOp](size),
	}
}

// Start launches the worker goroutine.
func (w *Writer) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)

	w.wg.Add(1)
	go w.runLoop()

	w.logger.Info("writer started", "queue_capacity", w.queue.Stats().Capacity)
	return nil
}

// Stop closes the queue and waits for the worker to drain it. Operations
// already enqueued complete normally; new submissions fail with
// ErrWriterClosed immediately.
func (w *Writer) Stop(ctx context.Context) error {
	w.logger.Info("stopping writer", "pending", w.queue.Len())

	w.queue.Close()

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		w.logger.Info("writer stopped")
	case <-ctx.Done():
		// Force any in-flight store call to abort.
		w.cancel()
		w.logger.Warn("writer stop timed out")
	}
	return nil
}

// Stats returns current counters.
func (w *Writer) Stats() WriterStats {
	w.mu.Lock()
	stats := w.metrics
	w.mu.Unlock()
	stats.Queue = w.queue.Stats()
	return stats
}

// runLoop is the single worker. It executes operations strictly in arrival
// order and resolves each completion handle with success or a typed error.
func (w *Writer) runLoop() {
	defer w.wg.Done()

	for {
		op, ok := w.queue.Dequeue()
		if !ok {
			return
		}

		value, err := op.fn(w.ctx)

		w.mu.Lock()
		w.metrics.Executed++
		if err != nil {
			w.metrics.Failed++
		}
		w.mu.Unlock()

		if err != nil {
			w.logger.Warn("write operation failed", "op", op.name, "error", err)
		}

		// The result channel is buffered; a caller that gave up on its
		// context never blocks the worker.
		op.result <- opResult{value: value, err: err}
	}
}

// do enqueues an operation and waits for its result. A caller whose ctx ends
// first detaches; the operation still executes and its result is discarded.
func (w *Writer) do(ctx context.Context, name string, fn func(ctx context.Context) (any, error)) (any, error) {
	op := writeOp{
		name:   name,
		fn:     fn,
		result: make(chan opResult, 1),
	}

	if !w.queue.Enqueue(op) {
		return nil, ErrWriterClosed
	}

	select {
	case res := <-op.result:
		return res.value, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// CreateUser persists a new user.
func (w *Writer) CreateUser(ctx context.Context, u model.User) error {
	_, err := w.do(ctx, "create_user", func(ctx context.Context) (any, error) {
		if err := w.store.InsertUser(ctx, u); err != nil {
			return nil, fmt.Errorf("create user: %w", err)
		}
		return nil, nil
	})
	return err
}

// CreateRoom persists a new room.
func (w *Writer) CreateRoom(ctx context.Context, r model.Room) error {
	_, err := w.do(ctx, "create_room", func(ctx context.Context) (any, error) {
		if err := w.store.InsertRoom(ctx, r); err != nil {
			return nil, fmt.Errorf("create room: %w", err)
		}
		return nil, nil
	})
	return err
}

// CreateMembership persists a room membership.
func (w *Writer) CreateMembership(ctx context.Context, m model.Membership) error {
	_, err := w.do(ctx, "create_membership", func(ctx context.Context) (any, error) {
		if err := w.store.InsertMembership(ctx, m); err != nil {
			return nil, fmt.Errorf("create membership: %w", err)
		}
		return nil, nil
	})
	return err
}

// DeleteMembership removes a room membership.
func (w *Writer) DeleteMembership(ctx context.Context, roomID, userID uuid.UUID) error {
	_, err := w.do(ctx, "delete_membership", func(ctx context.Context) (any, error) {
		if err := w.store.DeleteMembership(ctx, roomID, userID); err != nil {
			return nil, fmt.Errorf("delete membership: %w", err)
		}
		return nil, nil
	})
	return err
}

// CreateSession persists a login session.
func (w *Writer) CreateSession(ctx context.Context, s model.Session) error {
	_, err := w.do(ctx, "create_session", func(ctx context.Context) (any, error) {
		if err := w.store.InsertSession(ctx, s); err != nil {
			return nil, fmt.Errorf("create session: %w", err)
		}
		return nil, nil
	})
	return err
}

// DeleteSession revokes a login session.
func (w *Writer) DeleteSession(ctx context.Context, token string) error {
	_, err := w.do(ctx, "delete_session", func(ctx context.Context) (any, error) {
		if err := w.store.DeleteSession(ctx, token); err != nil {
			return nil, fmt.Errorf("delete session: %w", err)
		}
		return nil, nil
	})
	return err
}

// CreateMessageWithDedup persists msg unless a message with the same
// (room_id, client_message_id) already exists, in which case the existing
// row is returned unmodified and the new content discarded.
func (w *Writer) CreateMessageWithDedup(ctx context.Context, msg model.Message) (DedupResult, error) {
	value, err := w.do(ctx, "create_message", func(ctx context.Context) (any, error) {
		existing, err := w.store.GetMessageByDedupKey(ctx, msg.RoomID, msg.ClientMessageID)
		if err == nil {
			w.mu.Lock()
			w.metrics.DedupHits++
			w.mu.Unlock()
			return DedupResult{Message: existing, Deduplicated: true}, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("dedup lookup: %w", err)
		}

		if msg.CreatedAt.IsZero() {
			msg.CreatedAt = time.Now().UTC()
		}
		if err := w.store.InsertMessage(ctx, msg); err != nil {
			return nil, fmt.Errorf("insert message: %w", err)
		}
		return DedupResult{Message: msg}, nil
	})
	if err != nil {
		return DedupResult{}, err
	}
	return value.(DedupResult), nil
}
