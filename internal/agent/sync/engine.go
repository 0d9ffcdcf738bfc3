// Package sync drains the local durable queue into the ingestion API.
package sync

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fieldproof/fieldproof/internal/agent/client"
	"github.com/fieldproof/fieldproof/internal/agent/queue"
	"github.com/fieldproof/fieldproof/internal/domain"
)

const (
	defaultInterval = time.Minute
	backoffBase     = 2 * time.Second
	backoffCap      = 5 * time.Minute
)

// Ingester delivers one capture event and returns the server's ack.
type Ingester interface {
	Ingest(ctx context.Context, event *domain.CaptureEvent) (*client.IngestAck, error)
}

// Engine is the background sync loop. It drains the queue strictly in
// enqueue order with at most one delivery in flight, so a device's events
// always reach the server FIFO. Ordering across devices is the server's
// concern (receipt time and sequence number), never the engine's.
type Engine struct {
	queue    *queue.Queue
	ingester Ingester
	interval time.Duration
	wake     chan struct{}
}

// NewEngine creates an Engine with the given periodic drain interval
// (default one minute when zero).
func NewEngine(q *queue.Queue, ingester Ingester, interval time.Duration) *Engine {
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Engine{
		queue:    q,
		ingester: ingester,
		interval: interval,
		wake:     make(chan struct{}, 1),
	}
}

// Wake asks the loop to drain now, e.g. on connectivity regained or app
// foreground. Safe to call from any goroutine; redundant wakes coalesce.
func (e *Engine) Wake() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

// Run drains on start, then on every wake and periodic tick, until ctx is
// cancelled. Cancellation aborts the in-flight delivery but never changes
// the record's status: on restart it is still in the queue and the server's
// idempotency handling makes the repeated delivery safe.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	e.Drain(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.wake:
			e.Drain(ctx)
		case <-ticker.C:
			e.Drain(ctx)
		}
	}
}

// Drain delivers ready records oldest-first until the queue is empty, the
// head record enters a backoff window, or ctx is cancelled. It returns the
// number of records synced.
func (e *Engine) Drain(ctx context.Context) int {
	synced := 0

	for {
		if ctx.Err() != nil {
			return synced
		}

		rec, err := e.queue.PeekNext()
		if err != nil {
			log.Error().Err(err).Msg("peeking sync queue")
			return synced
		}
		if rec == nil {
			return synced
		}

		if err := e.deliver(ctx, rec); err != nil {
			return synced
		}
		synced++
	}
}

// deliver pushes one record through the state machine. A non-nil return
// means the drain loop should stop (backoff, terminal failure, or
// cancellation); the record itself is already in its correct state.
func (e *Engine) deliver(ctx context.Context, rec *queue.Record) error {
	if err := e.queue.MarkSyncing(rec.LocalID); err != nil {
		return fmt.Errorf("sync.deliver: %w", err)
	}

	ack, err := e.ingester.Ingest(ctx, rec.Event)
	if err != nil {
		return e.handleFailure(ctx, rec, err)
	}

	if err := e.queue.MarkSynced(rec.LocalID); err != nil {
		return fmt.Errorf("sync.deliver: %w", err)
	}

	log.Info().
		Stringer("local_id", rec.LocalID).
		Stringer("event_id", ack.EventID).
		Int64("seq", ack.Seq).
		Bool("already_existed", ack.AlreadyExisted).
		Msg("capture synced")

	return nil
}

func (e *Engine) handleFailure(ctx context.Context, rec *queue.Record, cause error) error {
	// Cancellation leaves the record exactly as it is. PeekNext still
	// returns it after restart, and idempotent delivery makes the retry
	// harmless even if the server already ingested it.
	if ctx.Err() != nil {
		return fmt.Errorf("sync.deliver: cancelled: %w", ctx.Err())
	}

	if errors.Is(cause, client.ErrPermanent) {
		log.Warn().
			Stringer("local_id", rec.LocalID).
			Err(cause).
			Msg("capture rejected permanently, needs user correction")

		if err := e.queue.MarkTerminal(rec.LocalID, cause.Error()); err != nil {
			return fmt.Errorf("sync.deliver: %w", err)
		}
		return cause
	}

	retryAt := time.Now().Add(Backoff(rec.Attempts))
	log.Warn().
		Stringer("local_id", rec.LocalID).
		Int("attempts", rec.Attempts+1).
		Time("retry_at", retryAt).
		Err(cause).
		Msg("delivery failed, backing off")

	if err := e.queue.MarkFailed(rec.LocalID, cause.Error(), retryAt); err != nil {
		return fmt.Errorf("sync.deliver: %w", err)
	}
	return cause
}

// Backoff returns a full-jitter delay for the given completed attempt
// count: uniform in [0, min(cap, base*2^attempt)].
func Backoff(attempt int) time.Duration {
	ceiling := backoffCap
	if attempt < 63 {
		if d := backoffBase << attempt; d > 0 && d < backoffCap {
			ceiling = d
		}
	}
	return time.Duration(rand.Int64N(int64(ceiling) + 1))
}
