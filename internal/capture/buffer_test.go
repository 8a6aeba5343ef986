package capture

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"formpulse-backend/internal/codec"
	"formpulse-backend/internal/models"
)

func moveEvent(ts int64) models.RawEvent {
	payload, _ := json.Marshal(models.MovePayload{ViewportX: 1, ViewportY: 1})
	return models.RawEvent{Type: models.EventMove, TimestampMs: ts, Payload: payload}
}

func TestBuffer_FlushOnCount(t *testing.T) {
	sender := &fakeSender{}
	cfg := DefaultBufferConfig()
	cfg.MaxEvents = 5
	buf := NewBuffer(cfg, uuid.New(), sender, sender)

	for i := 0; i < 5; i++ {
		buf.Append(moveEvent(int64(i)))
	}

	delivered := sender.delivered()
	if len(delivered) != 1 {
		t.Fatalf("Expected 1 batch delivered at count threshold, got %d", len(delivered))
	}
	if delivered[0].EventCount != 5 {
		t.Errorf("Expected 5 events in batch, got %d", delivered[0].EventCount)
	}
	if buf.Len() != 0 {
		t.Errorf("Expected buffer drained, got %d events", buf.Len())
	}
}

func TestBuffer_FlushOnBytes(t *testing.T) {
	sender := &fakeSender{}
	cfg := DefaultBufferConfig()
	cfg.MaxEvents = 1000
	cfg.MaxBytes = 256
	buf := NewBuffer(cfg, uuid.New(), sender, sender)

	big, _ := json.Marshal(models.CustomPayload{Name: "big", Properties: map[string]any{
		"blob": string(make([]byte, 300)),
	}})
	buf.Append(models.RawEvent{Type: models.EventCustom, Payload: big})

	if len(sender.delivered()) != 1 {
		t.Errorf("Expected flush at byte threshold, got %d batches", len(sender.delivered()))
	}
}

func TestBuffer_TimedFlush(t *testing.T) {
	sender := &fakeSender{}
	buf := NewBuffer(DefaultBufferConfig(), uuid.New(), sender, sender)

	buf.Append(moveEvent(0))
	base := time.Now()
	buf.now = func() time.Time { return base }

	buf.TimedFlush(context.Background())
	// lastFlush was zero, so the first timed flush fires immediately.
	if len(sender.delivered()) != 1 {
		t.Fatalf("Expected initial timed flush, got %d batches", len(sender.delivered()))
	}

	buf.Append(moveEvent(100))
	buf.TimedFlush(context.Background())
	if len(sender.delivered()) != 1 {
		t.Error("Expected no flush before the minimum interval")
	}

	buf.now = func() time.Time { return base.Add(6 * time.Second) }
	buf.TimedFlush(context.Background())
	if len(sender.delivered()) != 2 {
		t.Errorf("Expected flush after interval elapsed, got %d batches", len(sender.delivered()))
	}
}

func TestBuffer_CheckpointFlag(t *testing.T) {
	sender := &fakeSender{}
	buf := NewBuffer(DefaultBufferConfig(), uuid.New(), sender, sender)

	buf.Append(moveEvent(0))
	buf.Flush(context.Background(), false)
	buf.Append(moveEvent(100))
	buf.Flush(context.Background(), true)

	delivered := sender.delivered()
	if len(delivered) != 2 {
		t.Fatalf("Expected 2 batches, got %d", len(delivered))
	}
	if delivered[0].IsCheckpoint {
		t.Error("Expected interval flush not marked as checkpoint")
	}
	if !delivered[1].IsCheckpoint {
		t.Error("Expected end-of-session flush marked as checkpoint")
	}
}

func TestBuffer_RetryPreservesEvents(t *testing.T) {
	// Two batches each fail once, are retried, and are delivered without
	// losing any event.
	sender := &fakeSender{failures: 1}
	buf := NewBuffer(DefaultBufferConfig(), uuid.New(), sender, sender)

	buf.Append(moveEvent(0))
	if err := buf.Flush(context.Background(), false); err == nil {
		t.Fatal("Expected first delivery to fail")
	}

	buf.Append(moveEvent(100))
	sender.mu.Lock()
	sender.failures = 1
	sender.mu.Unlock()
	// Oldest batch retries first and fails once more; nothing is lost.
	buf.Flush(context.Background(), false)
	// Final retry delivers both queued batches in order.
	if err := buf.Flush(context.Background(), false); err != nil {
		t.Fatalf("Expected final retry to succeed: %v", err)
	}

	var total int
	for _, cb := range sender.delivered() {
		batch, err := codec.Decode(cb)
		if err != nil {
			t.Fatalf("Decode failed: %v", err)
		}
		total += len(batch.Events)
	}
	if total != 2 {
		t.Errorf("Expected both events delivered exactly once each, got %d", total)
	}
	if buf.LostEvents() != 0 {
		t.Errorf("Expected no lost events, got %d", buf.LostEvents())
	}
}

func TestBuffer_BoundedRetryDropsBatch(t *testing.T) {
	sender := &fakeSender{failures: 100}
	cfg := DefaultBufferConfig()
	cfg.MaxAttempts = 3
	buf := NewBuffer(cfg, uuid.New(), sender, sender)

	buf.Append(moveEvent(0))
	for i := 0; i < 5; i++ {
		buf.Flush(context.Background(), false)
	}

	if buf.LostEvents() != 1 {
		t.Errorf("Expected 1 event counted as lost after bounded retry, got %d", buf.LostEvents())
	}
	if len(sender.delivered()) != 0 {
		t.Errorf("Expected nothing delivered, got %d batches", len(sender.delivered()))
	}
}

func TestBuffer_FinalFlushSingleAttempt(t *testing.T) {
	keepalive := &fakeSender{}
	beacon := &fakeSender{}
	buf := NewBuffer(DefaultBufferConfig(), uuid.New(), keepalive, beacon)

	buf.Append(moveEvent(0))
	buf.FinalFlush(context.Background())

	if len(beacon.delivered()) != 1 {
		t.Errorf("Expected final flush through beacon path, got %d", len(beacon.delivered()))
	}
	if len(keepalive.delivered()) != 0 {
		t.Errorf("Expected keepalive path unused on unload, got %d", len(keepalive.delivered()))
	}
	if !beacon.delivered()[0].IsCheckpoint {
		t.Error("Expected unload flush marked as checkpoint")
	}
}
