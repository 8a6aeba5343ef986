package codec

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"formpulse-backend/internal/models"
)

func sampleBatch(n int) models.EventBatch {
	events := make([]models.RawEvent, 0, n)
	for i := 0; i < n; i++ {
		payload, _ := json.Marshal(models.MovePayload{ViewportX: i, ViewportY: i * 2, PageX: i, PageY: i * 2})
		events = append(events, models.RawEvent{
			Type:        models.EventMove,
			TimestampMs: int64(i * 100),
			Payload:     payload,
		})
	}
	return models.EventBatch{
		Token:        uuid.New(),
		CapturedAt:   time.Now().UTC().Truncate(time.Millisecond),
		IsCheckpoint: true,
		Events:       events,
	}
}

func TestEncodeDecode_RoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		events int
	}{
		{"empty batch", 0},
		{"single event", 1},
		{"full batch", 100},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			batch := sampleBatch(tc.events)

			cb, err := Encode(batch)
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			if cb.EventCount != tc.events {
				t.Errorf("Expected declared count %d, got %d", tc.events, cb.EventCount)
			}
			if cb.Token != batch.Token || !cb.IsCheckpoint {
				t.Error("Encode did not carry batch metadata")
			}

			decoded, err := Decode(cb)
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			if len(decoded.Events) != tc.events {
				t.Fatalf("Expected %d events after round trip, got %d", tc.events, len(decoded.Events))
			}
			for i, ev := range decoded.Events {
				if ev.Type != batch.Events[i].Type || ev.TimestampMs != batch.Events[i].TimestampMs {
					t.Errorf("Event %d changed across round trip: %+v vs %+v", i, ev, batch.Events[i])
				}
			}
		})
	}
}

func TestDecode_CountMismatch(t *testing.T) {
	cb, err := Encode(sampleBatch(5))
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	cb.EventCount = 4
	if _, err := Decode(cb); !errors.Is(err, ErrCountMismatch) {
		t.Errorf("Expected ErrCountMismatch, got %v", err)
	}
}

func TestDecode_CorruptPayload(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"not base64", "!!!not-base64!!!"},
		{"not gzip", "aGVsbG8gd29ybGQ="},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cb := models.CompressedBatch{Token: uuid.New(), EventCount: 1, Payload: tc.payload}
			if _, err := Decode(cb); err == nil {
				t.Error("Expected error for corrupt payload")
			}
		})
	}
}
