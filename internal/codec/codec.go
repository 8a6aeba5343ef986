// Package codec converts event batches to and from their compressed wire
// form: JSON, gzipped, base64-encoded for text-safe transport.
package codec

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"

	"formpulse-backend/internal/models"
)

// ErrCountMismatch is returned when a decoded batch does not contain the
// number of events its envelope declares. Callers treat it as corruption.
var ErrCountMismatch = errors.New("decoded event count does not match declared count")

func Encode(batch models.EventBatch) (models.CompressedBatch, error) {
	raw, err := json.Marshal(batch.Events)
	if err != nil {
		return models.CompressedBatch{}, fmt.Errorf("failed to serialize events: %w", err)
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return models.CompressedBatch{}, fmt.Errorf("failed to compress events: %w", err)
	}
	if err := zw.Close(); err != nil {
		return models.CompressedBatch{}, fmt.Errorf("failed to finish compression: %w", err)
	}

	return models.CompressedBatch{
		Token:        batch.Token,
		CapturedAt:   batch.CapturedAt,
		IsCheckpoint: batch.IsCheckpoint,
		EventCount:   len(batch.Events),
		Payload:      base64.StdEncoding.EncodeToString(buf.Bytes()),
	}, nil
}

// Decode is the exact inverse of Encode. A declared-count mismatch is a
// corruption error, never silently tolerated.
func Decode(cb models.CompressedBatch) (models.EventBatch, error) {
	compressed, err := base64.StdEncoding.DecodeString(cb.Payload)
	if err != nil {
		return models.EventBatch{}, fmt.Errorf("failed to decode payload: %w", err)
	}

	zr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return models.EventBatch{}, fmt.Errorf("failed to open compressed payload: %w", err)
	}
	raw, err := io.ReadAll(zr)
	if err != nil {
		zr.Close()
		return models.EventBatch{}, fmt.Errorf("failed to decompress payload: %w", err)
	}
	if err := zr.Close(); err != nil {
		return models.EventBatch{}, fmt.Errorf("failed to verify compressed payload: %w", err)
	}

	var events []models.RawEvent
	if err := json.Unmarshal(raw, &events); err != nil {
		return models.EventBatch{}, fmt.Errorf("failed to parse events: %w", err)
	}

	if len(events) != cb.EventCount {
		return models.EventBatch{}, fmt.Errorf("%w: declared %d, got %d", ErrCountMismatch, cb.EventCount, len(events))
	}

	return models.EventBatch{
		Token:        cb.Token,
		CapturedAt:   cb.CapturedAt,
		IsCheckpoint: cb.IsCheckpoint,
		Events:       events,
	}, nil
}
