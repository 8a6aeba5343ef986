package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"formpulse-backend/internal/models"
)

// LocalStore keeps blobs on the local filesystem under a configured root:
// sessions/<id>/chunks/<ts>_<uuid>.json for uploaded chunks and
// sessions/<id>/replay.json for the canonical artifact.
type LocalStore struct {
	root string
}

func NewLocalStore(root string) (*LocalStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage root: %w", err)
	}
	return &LocalStore{root: root}, nil
}

func (s *LocalStore) sessionDir(sessionID uuid.UUID) string {
	return filepath.Join(s.root, "sessions", sessionID.String())
}

func (s *LocalStore) chunkDir(sessionID uuid.UUID) string {
	return filepath.Join(s.sessionDir(sessionID), "chunks")
}

func (s *LocalStore) WriteChunk(_ context.Context, sessionID uuid.UUID, batch models.CompressedBatch) error {
	dir := s.chunkDir(sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create chunk directory: %w", err)
	}

	data, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("failed to serialize chunk: %w", err)
	}

	// Nanosecond prefix keeps lexical order equal to arrival order; the
	// uuid suffix keeps concurrent uploads from colliding.
	name := fmt.Sprintf("%020d_%s.json", time.Now().UnixNano(), uuid.NewString())
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		return fmt.Errorf("failed to write chunk: %w", err)
	}
	return nil
}

func (s *LocalStore) ListChunks(_ context.Context, sessionID uuid.UUID) ([]string, error) {
	entries, err := os.ReadDir(s.chunkDir(sessionID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func (s *LocalStore) ReadChunk(_ context.Context, sessionID uuid.UUID, name string) (models.CompressedBatch, error) {
	data, err := os.ReadFile(filepath.Join(s.chunkDir(sessionID), filepath.Base(name)))
	if err != nil {
		return models.CompressedBatch{}, fmt.Errorf("failed to read chunk %s: %w", name, err)
	}
	var batch models.CompressedBatch
	if err := json.Unmarshal(data, &batch); err != nil {
		return models.CompressedBatch{}, fmt.Errorf("failed to parse chunk %s: %w", name, err)
	}
	return batch, nil
}

func (s *LocalStore) DeleteChunks(_ context.Context, sessionID uuid.UUID, names []string) error {
	var firstErr error
	for _, name := range names {
		if err := os.Remove(filepath.Join(s.chunkDir(sessionID), filepath.Base(name))); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to delete chunk %s: %w", name, err)
		}
	}
	return firstErr
}

func (s *LocalStore) WriteArtifact(_ context.Context, sessionID uuid.UUID, batch models.CompressedBatch) (string, error) {
	dir := s.sessionDir(sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create session directory: %w", err)
	}

	data, err := json.Marshal(batch)
	if err != nil {
		return "", fmt.Errorf("failed to serialize artifact: %w", err)
	}

	ref := filepath.Join("sessions", sessionID.String(), "replay.json")
	if err := os.WriteFile(filepath.Join(s.root, ref), data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write artifact: %w", err)
	}
	return ref, nil
}

func (s *LocalStore) ReadArtifact(_ context.Context, ref string) (models.CompressedBatch, error) {
	clean := filepath.Clean(ref)
	data, err := os.ReadFile(filepath.Join(s.root, clean))
	if err != nil {
		return models.CompressedBatch{}, fmt.Errorf("failed to read artifact: %w", err)
	}
	var batch models.CompressedBatch
	if err := json.Unmarshal(data, &batch); err != nil {
		return models.CompressedBatch{}, fmt.Errorf("failed to parse artifact: %w", err)
	}
	return batch, nil
}

func (s *LocalStore) DeleteSession(_ context.Context, sessionID uuid.UUID) error {
	if err := os.RemoveAll(s.sessionDir(sessionID)); err != nil {
		return fmt.Errorf("failed to delete session blobs: %w", err)
	}
	return nil
}
