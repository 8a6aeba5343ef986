package capture

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"formpulse-backend/internal/codec"
	"formpulse-backend/internal/models"
)

type BufferConfig struct {
	MaxEvents   int           // flush when buffered event count reaches this
	MaxBytes    int           // flush when estimated serialized size reaches this
	MaxInterval time.Duration // flush when this much time passed since last flush
	MaxAttempts int           // delivery attempts per batch before it is dropped
}

func DefaultBufferConfig() BufferConfig {
	return BufferConfig{
		MaxEvents:   100,
		MaxBytes:    500 * 1024,
		MaxInterval: 5 * time.Second,
		MaxAttempts: 3,
	}
}

type pendingBatch struct {
	batch    models.CompressedBatch
	attempts int
}

// Buffer decouples event production rate from network transmission. Events
// are appended in observation order; failed batches return to the front of
// the send queue (at-least-once, duplicates possible, bounded retry).
type Buffer struct {
	cfg    BufferConfig
	token  uuid.UUID
	sender Sender
	beacon Sender // fire-and-forget path for unload/final flush

	mu        sync.Mutex
	events    []models.RawEvent
	bytes     int
	lastFlush time.Time
	pending   []pendingBatch
	lost      int

	now func() time.Time
}

func NewBuffer(cfg BufferConfig, token uuid.UUID, sender, beacon Sender) *Buffer {
	if cfg.MaxEvents <= 0 {
		cfg = DefaultBufferConfig()
	}
	return &Buffer{
		cfg:    cfg,
		token:  token,
		sender: sender,
		beacon: beacon,
		now:    time.Now,
	}
}

// Append adds an event and flushes when a count or size threshold is hit.
func (b *Buffer) Append(ev models.RawEvent) {
	b.mu.Lock()
	b.events = append(b.events, ev)
	b.bytes += len(ev.Payload) + 48 // payload plus envelope estimate
	full := len(b.events) >= b.cfg.MaxEvents || b.bytes >= b.cfg.MaxBytes
	b.mu.Unlock()

	if full {
		b.Flush(context.Background(), false)
	}
}

// Len reports the number of buffered (not yet batched) events.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

// LostEvents reports how many events were dropped after exhausting retries.
func (b *Buffer) LostEvents() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lost
}

// TimedFlush flushes only when the buffer is non-empty and the minimum
// interval has elapsed. The agent's flush loop polls this; its dead-man tick
// calls Flush directly.
func (b *Buffer) TimedFlush(ctx context.Context) {
	b.mu.Lock()
	due := len(b.events) > 0 && (b.lastFlush.IsZero() || b.now().Sub(b.lastFlush) >= b.cfg.MaxInterval)
	b.mu.Unlock()
	if due {
		b.Flush(ctx, false)
	}
}

// Flush drains buffered events into a compressed batch and attempts delivery
// of everything queued, oldest first. isCheckpoint marks a safe merge
// boundary (explicit end-of-session) versus an ordinary interval flush.
func (b *Buffer) Flush(ctx context.Context, isCheckpoint bool) error {
	b.mu.Lock()
	if err := b.enqueueLocked(isCheckpoint); err != nil {
		b.mu.Unlock()
		return err
	}
	queue := b.pending
	b.pending = nil
	b.lastFlush = b.now()
	b.mu.Unlock()

	var firstErr error
	for i, pb := range queue {
		if err := b.sender.Send(ctx, pb.batch); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			pb.attempts++
			if pb.attempts >= b.cfg.MaxAttempts {
				b.mu.Lock()
				b.lost += pb.batch.EventCount
				b.mu.Unlock()
				log.Printf("Dropping batch after %d attempts (%d events lost): %v", pb.attempts, pb.batch.EventCount, err)
				continue
			}
			queue[i] = pb
			b.requeue(queue[i:])
			return firstErr
		}
	}
	return firstErr
}

// FinalFlush is the page-unload path: one best-effort attempt per batch via
// the fire-and-forget sender, no retry; the page is gone.
func (b *Buffer) FinalFlush(ctx context.Context) {
	b.mu.Lock()
	if err := b.enqueueLocked(true); err != nil {
		b.mu.Unlock()
		return
	}
	queue := b.pending
	b.pending = nil
	b.mu.Unlock()

	for _, pb := range queue {
		if err := b.beacon.Send(ctx, pb.batch); err != nil {
			log.Printf("Final flush delivery failed (%d events): %v", pb.batch.EventCount, err)
		}
	}
}

// enqueueLocked converts buffered events into a compressed batch at the back
// of the send queue. Caller holds b.mu.
func (b *Buffer) enqueueLocked(isCheckpoint bool) error {
	if len(b.events) == 0 {
		return nil
	}
	batch := models.EventBatch{
		Token:        b.token,
		CapturedAt:   b.now().UTC(),
		IsCheckpoint: isCheckpoint,
		Events:       b.events,
	}
	cb, err := codec.Encode(batch)
	if err != nil {
		return err
	}
	b.events = nil
	b.bytes = 0
	b.pending = append(b.pending, pendingBatch{batch: cb})
	return nil
}

// requeue returns undelivered batches to the front of the queue, preserving
// their order ahead of anything enqueued since.
func (b *Buffer) requeue(batches []pendingBatch) {
	b.mu.Lock()
	b.pending = append(append([]pendingBatch{}, batches...), b.pending...)
	b.mu.Unlock()
}
