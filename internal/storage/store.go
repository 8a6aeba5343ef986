// Package storage persists compressed event chunks and canonical replay
// artifacts. Chunks are append-only from the ingest side; only the finalizer
// rewrites a session's blobs.
package storage

import (
	"context"

	"github.com/google/uuid"

	"formpulse-backend/internal/models"
)

// ChunkStore is the blob-storage contract the pipeline depends on.
type ChunkStore interface {
	// WriteChunk persists one uploaded batch under the session's prefix.
	WriteChunk(ctx context.Context, sessionID uuid.UUID, batch models.CompressedBatch) error
	// ListChunks returns chunk names under the session's prefix in arrival order.
	ListChunks(ctx context.Context, sessionID uuid.UUID) ([]string, error)
	ReadChunk(ctx context.Context, sessionID uuid.UUID, name string) (models.CompressedBatch, error)
	// DeleteChunks removes exactly the named chunks; others are left in place.
	DeleteChunks(ctx context.Context, sessionID uuid.UUID, names []string) error
	// WriteArtifact persists the canonical merged batch and returns its reference.
	WriteArtifact(ctx context.Context, sessionID uuid.UUID, batch models.CompressedBatch) (string, error)
	ReadArtifact(ctx context.Context, ref string) (models.CompressedBatch, error)
	// DeleteSession removes every blob belonging to the session.
	DeleteSession(ctx context.Context, sessionID uuid.UUID) error
}
