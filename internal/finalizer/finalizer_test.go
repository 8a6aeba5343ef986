package finalizer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"formpulse-backend/internal/codec"
	"formpulse-backend/internal/models"
)

type fakeSessions struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*models.RecordingSession
}

func newFakeSessions(s *models.RecordingSession) *fakeSessions {
	return &fakeSessions{sessions: map[uuid.UUID]*models.RecordingSession{s.ID: s}}
}

func (f *fakeSessions) GetByID(_ context.Context, id uuid.UUID) (*models.RecordingSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, errors.New("not found")
	}
	copied := *s
	return &copied, nil
}

func (f *fakeSessions) BeginProcessing(_ context.Context, id uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok || s.Status != models.StatusRecording {
		return false, nil
	}
	s.Status = models.StatusProcessing
	return true, nil
}

func (f *fakeSessions) MarkReady(_ context.Context, id uuid.UUID, durationMs int64, eventCount int, artifactPath string, endedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.sessions[id]
	if s.Status != models.StatusProcessing {
		return errors.New("not processing")
	}
	s.Status = models.StatusReady
	s.DurationMs = durationMs
	s.EventCount = eventCount
	if artifactPath != "" {
		s.ArtifactPath = &artifactPath
	}
	s.EndedAt = &endedAt
	return nil
}

func (f *fakeSessions) MarkFailed(_ context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.sessions[id]
	if s.Status != models.StatusProcessing {
		return errors.New("not processing")
	}
	s.Status = models.StatusFailed
	return nil
}

type fakeChunks struct {
	mu        sync.Mutex
	chunks    map[uuid.UUID]map[string]models.CompressedBatch
	artifacts map[string]models.CompressedBatch
	seq       int
}

func newFakeChunks() *fakeChunks {
	return &fakeChunks{
		chunks:    make(map[uuid.UUID]map[string]models.CompressedBatch),
		artifacts: make(map[string]models.CompressedBatch),
	}
}

func (f *fakeChunks) WriteChunk(_ context.Context, sessionID uuid.UUID, batch models.CompressedBatch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.chunks[sessionID] == nil {
		f.chunks[sessionID] = make(map[string]models.CompressedBatch)
	}
	f.seq++
	f.chunks[sessionID][fmt.Sprintf("%04d.json", f.seq)] = batch
	return nil
}

func (f *fakeChunks) ListChunks(_ context.Context, sessionID uuid.UUID) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for name := range f.chunks[sessionID] {
		names = append(names, name)
	}
	return names, nil
}

func (f *fakeChunks) ReadChunk(_ context.Context, sessionID uuid.UUID, name string) (models.CompressedBatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	batch, ok := f.chunks[sessionID][name]
	if !ok {
		return models.CompressedBatch{}, errors.New("missing chunk")
	}
	return batch, nil
}

func (f *fakeChunks) DeleteChunks(_ context.Context, sessionID uuid.UUID, names []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, name := range names {
		delete(f.chunks[sessionID], name)
	}
	return nil
}

func (f *fakeChunks) WriteArtifact(_ context.Context, sessionID uuid.UUID, batch models.CompressedBatch) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ref := "sessions/" + sessionID.String() + "/replay.json"
	f.artifacts[ref] = batch
	return ref, nil
}

func (f *fakeChunks) ReadArtifact(_ context.Context, ref string) (models.CompressedBatch, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	batch, ok := f.artifacts[ref]
	if !ok {
		return models.CompressedBatch{}, errors.New("missing artifact")
	}
	return batch, nil
}

func (f *fakeChunks) DeleteSession(_ context.Context, sessionID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.chunks, sessionID)
	return nil
}

func (f *fakeChunks) remaining(sessionID uuid.UUID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.chunks[sessionID])
}

func testSession() *models.RecordingSession {
	return &models.RecordingSession{
		ID:      uuid.New(),
		ScopeID: uuid.New(),
		Token:   uuid.New(),
		Status:  models.StatusRecording,
	}
}

func encodedBatch(t *testing.T, token uuid.UUID, timestamps ...int64) models.CompressedBatch {
	t.Helper()
	events := make([]models.RawEvent, 0, len(timestamps))
	for _, ts := range timestamps {
		events = append(events, models.RawEvent{Type: models.EventMove, TimestampMs: ts, Payload: []byte(`{}`)})
	}
	cb, err := codec.Encode(models.EventBatch{Token: token, Events: events})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	return cb
}

func TestProcess_ZeroChunks(t *testing.T) {
	session := testSession()
	sessions := newFakeSessions(session)
	pool := NewPool(nil, sessions, newFakeChunks(), 1)

	if err := pool.Process(context.Background(), session.ID); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	got, _ := sessions.GetByID(context.Background(), session.ID)
	if got.Status != models.StatusReady {
		t.Errorf("Expected status ready, got %s", got.Status)
	}
	if got.DurationMs != 0 || got.EventCount != 0 {
		t.Errorf("Expected zero duration and event count, got %d/%d", got.DurationMs, got.EventCount)
	}
}

func TestProcess_MergesAndSortsAcrossChunks(t *testing.T) {
	session := testSession()
	sessions := newFakeSessions(session)
	chunks := newFakeChunks()
	ctx := context.Background()

	// Chunks arrive out of order relative to their event timestamps.
	chunks.WriteChunk(ctx, session.ID, encodedBatch(t, session.Token, 500, 700))
	chunks.WriteChunk(ctx, session.ID, encodedBatch(t, session.Token, 100, 300))
	chunks.WriteChunk(ctx, session.ID, encodedBatch(t, session.Token, 400))

	pool := NewPool(nil, sessions, chunks, 1)
	if err := pool.Process(ctx, session.ID); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	got, _ := sessions.GetByID(ctx, session.ID)
	if got.Status != models.StatusReady {
		t.Fatalf("Expected status ready, got %s", got.Status)
	}
	if got.EventCount != 5 {
		t.Errorf("Expected 5 merged events, got %d", got.EventCount)
	}
	if got.DurationMs != 600 { // 700 - 100
		t.Errorf("Expected duration 600ms, got %d", got.DurationMs)
	}
	if got.ArtifactPath == nil {
		t.Fatal("Expected artifact reference set")
	}

	artifact, err := chunks.ReadArtifact(ctx, *got.ArtifactPath)
	if err != nil {
		t.Fatalf("ReadArtifact failed: %v", err)
	}
	batch, err := codec.Decode(artifact)
	if err != nil {
		t.Fatalf("Artifact decode failed: %v", err)
	}
	for i := 1; i < len(batch.Events); i++ {
		if batch.Events[i].TimestampMs < batch.Events[i-1].TimestampMs {
			t.Fatalf("Artifact not sorted at index %d: %d < %d", i, batch.Events[i].TimestampMs, batch.Events[i-1].TimestampMs)
		}
	}

	if chunks.remaining(session.ID) != 0 {
		t.Errorf("Expected merged chunks deleted, %d remain", chunks.remaining(session.ID))
	}
}

func TestProcess_CorruptChunkFailsSessionButMergesRest(t *testing.T) {
	session := testSession()
	sessions := newFakeSessions(session)
	chunks := newFakeChunks()
	ctx := context.Background()

	chunks.WriteChunk(ctx, session.ID, encodedBatch(t, session.Token, 100, 200))
	corrupt := encodedBatch(t, session.Token, 300)
	corrupt.EventCount = 99 // declared count mismatch
	chunks.WriteChunk(ctx, session.ID, corrupt)

	pool := NewPool(nil, sessions, chunks, 1)
	if err := pool.Process(ctx, session.ID); err == nil {
		t.Fatal("Expected error for corrupt chunk")
	}

	got, _ := sessions.GetByID(ctx, session.ID)
	if got.Status != models.StatusFailed {
		t.Errorf("Expected status failed, got %s", got.Status)
	}
	// The corrupt chunk is kept; the merged one is gone.
	if chunks.remaining(session.ID) != 1 {
		t.Errorf("Expected exactly the corrupt chunk to remain, got %d", chunks.remaining(session.ID))
	}
}

func TestProcess_Idempotent(t *testing.T) {
	session := testSession()
	sessions := newFakeSessions(session)
	chunks := newFakeChunks()
	ctx := context.Background()

	chunks.WriteChunk(ctx, session.ID, encodedBatch(t, session.Token, 100))

	pool := NewPool(nil, sessions, chunks, 1)
	if err := pool.Process(ctx, session.ID); err != nil {
		t.Fatalf("First Process failed: %v", err)
	}
	first, _ := sessions.GetByID(ctx, session.ID)

	// Repeated finalize signals are no-ops.
	if err := pool.Process(ctx, session.ID); err != nil {
		t.Fatalf("Second Process errored: %v", err)
	}
	second, _ := sessions.GetByID(ctx, session.ID)

	if first.Status != second.Status || first.EventCount != second.EventCount {
		t.Errorf("Repeated finalize changed the session: %+v vs %+v", first, second)
	}
}

func TestProcess_SingleEventHasZeroDuration(t *testing.T) {
	session := testSession()
	sessions := newFakeSessions(session)
	chunks := newFakeChunks()
	ctx := context.Background()

	chunks.WriteChunk(ctx, session.ID, encodedBatch(t, session.Token, 4200))

	pool := NewPool(nil, sessions, chunks, 1)
	if err := pool.Process(ctx, session.ID); err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	got, _ := sessions.GetByID(ctx, session.ID)
	if got.DurationMs != 0 {
		t.Errorf("Expected zero duration for a single event, got %d", got.DurationMs)
	}
}
