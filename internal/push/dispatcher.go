package push

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/mbarnett/parley/internal/config"
	"github.com/mbarnett/parley/internal/model"
)

// Sender performs one push delivery. Implementations wrap APNs, FCM, email
// digests, or whatever the deployment uses.
type Sender interface {
	Send(ctx context.Context, userID uuid.UUID, msg model.Message) error
}

// Dispatcher fans message notifications out to a Sender with bounded
// concurrency.
type Dispatcher struct {
	sender Sender
	logger *slog.Logger
	sem    *semaphore.Weighted

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher over sender.
func NewDispatcher(sender Sender, cfg config.PushConfig, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	max := cfg.MaxConcurrent
	if max < 1 {
		max = 1
	}
	return &Dispatcher{
		sender: sender,
		logger: logger,
		sem:    semaphore.NewWeighted(max),
	}
}

// Start prepares the dispatcher for deliveries.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.ctx, d.cancel = context.WithCancel(ctx)
	return nil
}

// Stop waits for scheduled deliveries to finish; past the deadline it
// cancels whatever is still in flight.
func (d *Dispatcher) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		d.logger.Warn("push dispatcher stop timed out, cancelling deliveries")
		if d.cancel != nil {
			d.cancel()
		}
		<-done
	}

	if d.cancel != nil {
		d.cancel()
	}
	return nil
}

// Dispatch schedules a delivery to every target and returns immediately.
// Failures are logged, never surfaced: push is best-effort.
func (d *Dispatcher) Dispatch(targets []uuid.UUID, msg model.Message) {
	for _, userID := range targets {
		d.wg.Add(1)
		go func(userID uuid.UUID) {
			defer d.wg.Done()

			if err := d.sem.Acquire(d.ctx, 1); err != nil {
				return // shutting down
			}
			defer d.sem.Release(1)

			if err := d.sender.Send(d.ctx, userID, msg); err != nil {
				d.logger.Warn("push delivery failed",
					"user_id", userID,
					"message_id", msg.ID,
					"error", err,
				)
			}
		}(userID)
	}
}

// LogSender is a Sender that only records deliveries. It stands in where no
// push transport is configured.
type LogSender struct {
	Logger *slog.Logger
}

// Send logs the delivery.
func (s LogSender) Send(ctx context.Context, userID uuid.UUID, msg model.Message) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("push notification",
		"user_id", userID,
		"message_id", msg.ID,
		"room_id", msg.RoomID,
	)
	return nil
}
