// Package finalizer converts a session's uploaded chunks into one canonical,
// time-ordered replay artifact. Finalization is a per-session critical
// section: the RECORDING -> PROCESSING transition in the database makes the
// first caller win, and a redis lock keeps workers from double-processing.
package finalizer

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"formpulse-backend/internal/codec"
	"formpulse-backend/internal/models"
	"formpulse-backend/internal/storage"
)

const (
	QueueName       = "queue:finalize"
	lockTTL         = 10 * time.Minute
	scopeChannelFmt = "scope_updates:%s"
)

type Job struct {
	SessionID uuid.UUID `json:"session_id"`
}

// Enqueue pushes a finalize job. Safe to call repeatedly for the same
// session: processing is idempotent once the session left RECORDING.
func Enqueue(ctx context.Context, redisClient *redis.Client, sessionID uuid.UUID) error {
	payload, err := json.Marshal(Job{SessionID: sessionID})
	if err != nil {
		return fmt.Errorf("failed to serialize finalize job: %w", err)
	}
	if err := redisClient.LPush(ctx, QueueName, payload).Err(); err != nil {
		return fmt.Errorf("failed to enqueue finalize job: %w", err)
	}
	return nil
}

type sessionStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.RecordingSession, error)
	BeginProcessing(ctx context.Context, id uuid.UUID) (bool, error)
	MarkReady(ctx context.Context, id uuid.UUID, durationMs int64, eventCount int, artifactPath string, endedAt time.Time) error
	MarkFailed(ctx context.Context, id uuid.UUID) error
}

type Pool struct {
	redis       *redis.Client
	sessions    sessionStore
	chunks      storage.ChunkStore
	workerCount int
	stopChan    chan struct{}
	now         func() time.Time
}

func NewPool(redisClient *redis.Client, sessions sessionStore, chunks storage.ChunkStore, workerCount int) *Pool {
	if workerCount <= 0 {
		workerCount = 2
	}
	return &Pool{
		redis:       redisClient,
		sessions:    sessions,
		chunks:      chunks,
		workerCount: workerCount,
		stopChan:    make(chan struct{}),
		now:         time.Now,
	}
}

func (p *Pool) Start() {
	for i := 0; i < p.workerCount; i++ {
		go p.worker(i)
	}
	log.Printf("Started %d finalizer workers", p.workerCount)
}

func (p *Pool) Stop() {
	close(p.stopChan)
}

func (p *Pool) worker(id int) {
	for {
		select {
		case <-p.stopChan:
			log.Printf("Finalizer worker %d shutting down", id)
			return
		default:
		}

		ctx := context.Background()

		result, err := p.redis.BLPop(ctx, 30*time.Second, QueueName).Result()
		if err != nil {
			continue // timeout or transient error, poll again
		}
		if len(result) < 2 {
			continue
		}

		var job Job
		if err := json.Unmarshal([]byte(result[1]), &job); err != nil {
			log.Printf("Finalizer worker %d: failed to parse job: %v", id, err)
			continue
		}

		lockKey := fmt.Sprintf("finalize_lock:%s", job.SessionID)
		locked, err := p.redis.SetNX(ctx, lockKey, "1", lockTTL).Result()
		if err != nil || !locked {
			continue // another worker has this session
		}

		if err := p.Process(ctx, job.SessionID); err != nil {
			log.Printf("Finalizer worker %d: session %s failed: %v", id, job.SessionID, err)
		}

		p.redis.Del(ctx, lockKey)
	}
}

// Process runs the merge for one session. Repeated calls are no-ops once the
// session has left RECORDING.
func (p *Pool) Process(ctx context.Context, sessionID uuid.UUID) error {
	started, err := p.sessions.BeginProcessing(ctx, sessionID)
	if err != nil {
		return err
	}
	if !started {
		// Already PROCESSING, READY, FAILED or EXPIRED. Idempotent no-op.
		return nil
	}

	session, err := p.sessions.GetByID(ctx, sessionID)
	if err != nil {
		p.fail(ctx, sessionID, nil)
		return err
	}

	names, err := p.chunks.ListChunks(ctx, sessionID)
	if err != nil {
		p.fail(ctx, sessionID, session)
		return fmt.Errorf("failed to list chunks: %w", err)
	}

	// No uploads at all: finalize immediately with zero duration.
	if len(names) == 0 {
		if err := p.sessions.MarkReady(ctx, sessionID, 0, 0, "", p.now()); err != nil {
			return err
		}
		p.publish(ctx, session, models.StatusReady, 0, 0)
		return nil
	}

	events, mergedNames, failedChunks := p.decodeChunks(ctx, sessionID, names)

	// Stable sort: ties keep arrival order, so duplicate timestamps from
	// retried batches stay deterministic.
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].TimestampMs < events[j].TimestampMs
	})

	var durationMs int64
	if len(events) >= 2 {
		durationMs = events[len(events)-1].TimestampMs - events[0].TimestampMs
	}

	artifact, err := codec.Encode(models.EventBatch{
		Token:        session.Token,
		CapturedAt:   p.now().UTC(),
		IsCheckpoint: true,
		Events:       events,
	})
	if err != nil {
		p.fail(ctx, sessionID, session)
		return fmt.Errorf("failed to encode artifact: %w", err)
	}

	ref, err := p.chunks.WriteArtifact(ctx, sessionID, artifact)
	if err != nil {
		p.fail(ctx, sessionID, session)
		return fmt.Errorf("failed to write artifact: %w", err)
	}

	// Only chunks that made it into the artifact are deleted; anything that
	// failed to decode stays on disk for inspection.
	if err := p.chunks.DeleteChunks(ctx, sessionID, mergedNames); err != nil {
		log.Printf("Finalizer: failed to delete merged chunks for %s: %v", sessionID, err)
	}

	if failedChunks > 0 {
		// The merged artifact exists but is incomplete; the session must be
		// visibly FAILED so viewers are not shown a silently partial replay.
		p.fail(ctx, sessionID, session)
		return fmt.Errorf("%d of %d chunks could not be incorporated", failedChunks, len(names))
	}

	if err := p.sessions.MarkReady(ctx, sessionID, durationMs, len(events), ref, p.now()); err != nil {
		return err
	}
	p.publish(ctx, session, models.StatusReady, len(events), durationMs)
	return nil
}

// decodeChunks reads and decodes every chunk, merging what it can. One
// malformed chunk must not abort the rest.
func (p *Pool) decodeChunks(ctx context.Context, sessionID uuid.UUID, names []string) ([]models.RawEvent, []string, int) {
	var (
		events      []models.RawEvent
		mergedNames []string
		failed      int
	)
	for _, name := range names {
		cb, err := p.chunks.ReadChunk(ctx, sessionID, name)
		if err != nil {
			log.Printf("Finalizer: unreadable chunk %s for %s: %v", name, sessionID, err)
			failed++
			continue
		}
		batch, err := codec.Decode(cb)
		if err != nil {
			log.Printf("Finalizer: corrupt chunk %s for %s: %v", name, sessionID, err)
			failed++
			continue
		}
		events = append(events, batch.Events...)
		mergedNames = append(mergedNames, name)
	}
	return events, mergedNames, failed
}

func (p *Pool) fail(ctx context.Context, sessionID uuid.UUID, session *models.RecordingSession) {
	if err := p.sessions.MarkFailed(ctx, sessionID); err != nil {
		log.Printf("Finalizer: failed to mark session %s failed: %v", sessionID, err)
		return
	}
	if session != nil {
		p.publish(ctx, session, models.StatusFailed, session.EventCount, session.DurationMs)
	}
}

// publish pushes a live status update to the scope's operator channel.
func (p *Pool) publish(ctx context.Context, session *models.RecordingSession, status string, eventCount int, durationMs int64) {
	if p.redis == nil {
		return
	}
	msg := models.WSMessage{
		Type: "session_status",
		Payload: models.SessionStatusUpdate{
			SessionID:  session.ID,
			ScopeID:    session.ScopeID,
			Status:     status,
			EventCount: eventCount,
			DurationMs: durationMs,
		},
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	channel := fmt.Sprintf(scopeChannelFmt, session.ScopeID)
	if err := p.redis.Publish(ctx, channel, data).Err(); err != nil {
		log.Printf("Finalizer: failed to publish status update: %v", err)
	}
}
