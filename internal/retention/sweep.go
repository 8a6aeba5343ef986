// Package retention implements the data lifecycle sweep: sessions older than
// a scope's cutoff are expired and their blobs removed, and heatmap records
// past the long-tail horizon are purged. The sweep is best effort; one bad
// session never aborts the pass.
package retention

import (
	"context"
	"encoding/hex"
	"log"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"formpulse-backend/internal/models"
)

const (
	DefaultRetentionDays = 90
	// Aggregated heatmaps carry no per-visitor data, so they live on a fixed
	// long horizon independent of session retention.
	HeatmapHorizonDays = 365

	sweepBatchSize = 500
)

type sessionSource interface {
	DistinctScopes(ctx context.Context) ([]uuid.UUID, error)
	ListStartedBefore(ctx context.Context, scopeID uuid.UUID, cutoff time.Time, limit int) ([]*models.RecordingSession, error)
	Expire(ctx context.Context, id uuid.UUID, anonymizedVisitor string) error
}

type blobStore interface {
	DeleteSession(ctx context.Context, sessionID uuid.UUID) error
}

type heatmapPurger interface {
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// PolicyFunc resolves a scope's retention period in days. It lets the caller
// plug in per-scope configuration without this package knowing where policies
// live; a nil func means every scope uses DefaultRetentionDays.
type PolicyFunc func(scopeID uuid.UUID) int

// Report is the outcome of one sweep pass.
type Report struct {
	ScopesSwept     int   `json:"scopes_swept"`
	SessionsExpired int   `json:"sessions_expired"`
	Errors          int   `json:"errors"`
	HeatmapsPurged  int64 `json:"heatmaps_purged"`
}

type Sweeper struct {
	sessions sessionSource
	blobs    blobStore
	heatmaps heatmapPurger
	policy   PolicyFunc
	hashKey  []byte
	batch    int
	now      func() time.Time
}

// NewSweeper builds a sweeper. hashKey keys the visitor anonymization so
// hashes are stable within a deployment but useless outside it.
func NewSweeper(sessions sessionSource, blobs blobStore, heatmaps heatmapPurger, policy PolicyFunc, hashKey []byte) *Sweeper {
	return &Sweeper{
		sessions: sessions,
		blobs:    blobs,
		heatmaps: heatmaps,
		policy:   policy,
		hashKey:  hashKey,
		batch:    sweepBatchSize,
		now:      time.Now,
	}
}

// Sweep runs one full pass over all scopes plus the heatmap purge. Failures
// are counted and logged, not propagated, so a broken scope does not shield
// the rest from retention.
func (s *Sweeper) Sweep(ctx context.Context) Report {
	var report Report

	scopes, err := s.sessions.DistinctScopes(ctx)
	if err != nil {
		log.Printf("Retention sweep: failed to list scopes: %v", err)
		report.Errors++
		return report
	}

	for _, scopeID := range scopes {
		expired, errs := s.sweepScope(ctx, scopeID)
		report.ScopesSwept++
		report.SessionsExpired += expired
		report.Errors += errs
	}

	purged, err := s.heatmaps.PurgeOlderThan(ctx, s.now().AddDate(0, 0, -HeatmapHorizonDays))
	if err != nil {
		log.Printf("Retention sweep: heatmap purge failed: %v", err)
		report.Errors++
	}
	report.HeatmapsPurged = purged

	log.Printf("Retention sweep: %d scopes, %d sessions expired, %d heatmaps purged, %d errors",
		report.ScopesSwept, report.SessionsExpired, report.HeatmapsPurged, report.Errors)
	return report
}

func (s *Sweeper) sweepScope(ctx context.Context, scopeID uuid.UUID) (expired, errs int) {
	days := DefaultRetentionDays
	if s.policy != nil {
		if d := s.policy(scopeID); d > 0 {
			days = d
		}
	}
	cutoff := s.now().AddDate(0, 0, -days)

	for {
		sessions, err := s.sessions.ListStartedBefore(ctx, scopeID, cutoff, s.batch)
		if err != nil {
			log.Printf("Retention sweep: scope %s list failed: %v", scopeID, err)
			return expired, errs + 1
		}
		if len(sessions) == 0 {
			return expired, errs
		}

		batchExpired := 0
		for _, session := range sessions {
			// Blobs first: if the expire write fails the session is retried
			// next pass, and blob deletion is already idempotent.
			if err := s.blobs.DeleteSession(ctx, session.ID); err != nil {
				log.Printf("Retention sweep: blob delete for %s failed: %v", session.ID, err)
				errs++
				continue
			}
			if err := s.sessions.Expire(ctx, session.ID, s.Anonymize(session.VisitorID)); err != nil {
				log.Printf("Retention sweep: expire %s failed: %v", session.ID, err)
				errs++
				continue
			}
			expired++
			batchExpired++
		}

		// A batch that made no progress would be re-listed verbatim; leave
		// its sessions for the next pass instead of spinning on them.
		if batchExpired == 0 || len(sessions) < s.batch {
			return expired, errs
		}
	}
}

// Anonymize replaces a visitor id with a keyed hash so expired sessions keep
// a stable distinct-visitor signal without holding the identifier itself.
func (s *Sweeper) Anonymize(visitorID string) string {
	h, err := blake2b.New256(s.hashKey)
	if err != nil {
		// Only possible with a key over 64 bytes; fall back to unkeyed.
		h, _ = blake2b.New256(nil)
	}
	h.Write([]byte(visitorID))
	return "anon_" + hex.EncodeToString(h.Sum(nil))[:32]
}
