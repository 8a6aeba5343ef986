package capture

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"formpulse-backend/internal/models"
)

// Sender delivers one compressed batch to the ingest endpoint.
type Sender interface {
	Send(ctx context.Context, batch models.CompressedBatch) error
}

// KeepaliveSender is the ordinary delivery path: a kept-alive HTTP request
// whose result the buffer inspects to decide on retry.
type KeepaliveSender struct {
	endpoint string
	client   *http.Client
}

func NewKeepaliveSender(endpoint string, client *http.Client) *KeepaliveSender {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &KeepaliveSender{endpoint: endpoint, client: client}
}

func (s *KeepaliveSender) Send(ctx context.Context, batch models.CompressedBatch) error {
	body, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("failed to serialize batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("batch delivery failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("batch rejected with status %d", resp.StatusCode)
	}
	return nil
}

// BeaconSender mirrors the browser's fire-and-forget beacon primitive: the
// request is handed off with a short deadline and the outcome is never acted
// on. Used for the unload-time final flush, which must survive page teardown
// and cannot retry.
type BeaconSender struct {
	endpoint string
	client   *http.Client
}

func NewBeaconSender(endpoint string) *BeaconSender {
	return &BeaconSender{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 2 * time.Second},
	}
}

func (s *BeaconSender) Send(_ context.Context, batch models.CompressedBatch) error {
	body, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("failed to serialize batch: %w", err)
	}

	// Deliberately detached from the caller's context: teardown of the
	// caller must not cancel an already-queued beacon.
	req, err := http.NewRequest(http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("beacon delivery failed: %w", err)
	}
	resp.Body.Close()
	return nil
}
