package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"formpulse-backend/internal/models"
)

var ErrNotFound = errors.New("not found")

type SessionRepo struct {
	pool *pgxpool.Pool
}

func NewSessionRepo(pool *pgxpool.Pool) *SessionRepo {
	return &SessionRepo{pool: pool}
}

func (r *SessionRepo) Create(ctx context.Context, s *models.RecordingSession) error {
	query := `
		INSERT INTO recording_sessions
			(scope_id, visitor_id, token, device, viewport_width, viewport_height, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, started_at, created_at
	`
	return r.pool.QueryRow(ctx, query,
		s.ScopeID, s.VisitorID, s.Token, s.Device, s.ViewportWidth, s.ViewportHeight, models.StatusRecording,
	).Scan(&s.ID, &s.StartedAt, &s.CreatedAt)
}

const sessionColumns = `
	id, scope_id, visitor_id, token, device, viewport_width, viewport_height,
	status, event_count, duration_ms, started_at, ended_at, artifact_path, response_id, created_at
`

func scanSession(row pgx.Row) (*models.RecordingSession, error) {
	var s models.RecordingSession
	err := row.Scan(
		&s.ID, &s.ScopeID, &s.VisitorID, &s.Token, &s.Device, &s.ViewportWidth, &s.ViewportHeight,
		&s.Status, &s.EventCount, &s.DurationMs, &s.StartedAt, &s.EndedAt, &s.ArtifactPath, &s.ResponseID, &s.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}
	return &s, nil
}

func (r *SessionRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.RecordingSession, error) {
	return scanSession(r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM recording_sessions WHERE id = $1`, id))
}

func (r *SessionRepo) GetByToken(ctx context.Context, token uuid.UUID) (*models.RecordingSession, error) {
	return scanSession(r.pool.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM recording_sessions WHERE token = $1`, token))
}

func (r *SessionRepo) ListByScope(ctx context.Context, scopeID uuid.UUID, status string, limit, offset int) ([]*models.RecordingSession, int, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	where := `WHERE scope_id = $1`
	args := []any{scopeID}
	if status != "" {
		where += ` AND status = $2`
		args = append(args, status)
	}

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM recording_sessions `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count sessions: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM recording_sessions %s ORDER BY started_at DESC LIMIT %d OFFSET %d`,
		sessionColumns, where, limit, offset)
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.RecordingSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, 0, err
		}
		sessions = append(sessions, s)
	}
	return sessions, total, rows.Err()
}

// IncrementEvents bumps the running counter for an active session. Returns
// ErrNotFound when the session is missing or no longer RECORDING, so callers
// reject the upload outright.
func (r *SessionRepo) IncrementEvents(ctx context.Context, id uuid.UUID, n int) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE recording_sessions
		SET event_count = event_count + $2
		WHERE id = $1 AND status = $3
	`, id, n, models.StatusRecording)
	if err != nil {
		return fmt.Errorf("failed to increment event count: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// BeginProcessing performs the RECORDING -> PROCESSING transition. The
// status guard in SQL makes the first caller win; losers get false and
// must treat the finalize signal as a no-op.
func (r *SessionRepo) BeginProcessing(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE recording_sessions
		SET status = $2
		WHERE id = $1 AND status = $3
	`, id, models.StatusProcessing, models.StatusRecording)
	if err != nil {
		return false, fmt.Errorf("failed to begin processing: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkReady records the finalize result in one logical step: status,
// duration, merged event count, end time and artifact reference.
func (r *SessionRepo) MarkReady(ctx context.Context, id uuid.UUID, durationMs int64, eventCount int, artifactPath string, endedAt time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE recording_sessions
		SET status = $2, duration_ms = $3, event_count = $4, artifact_path = NULLIF($5, ''), ended_at = $6
		WHERE id = $1 AND status = $7
	`, id, models.StatusReady, durationMs, eventCount, artifactPath, endedAt, models.StatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to mark session ready: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SessionRepo) MarkFailed(ctx context.Context, id uuid.UUID) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE recording_sessions
		SET status = $2, ended_at = NOW()
		WHERE id = $1 AND status = $3
	`, id, models.StatusFailed, models.StatusProcessing)
	if err != nil {
		return fmt.Errorf("failed to mark session failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AttachResponse links a completed survey response to the session.
func (r *SessionRepo) AttachResponse(ctx context.Context, id, responseID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE recording_sessions SET response_id = $2 WHERE id = $1
	`, id, responseID)
	return err
}

// ListStartedBefore returns sessions of a scope strictly older than the
// cutoff, for the retention sweep.
func (r *SessionRepo) ListStartedBefore(ctx context.Context, scopeID uuid.UUID, cutoff time.Time, limit int) ([]*models.RecordingSession, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM recording_sessions
		WHERE scope_id = $1 AND started_at < $2 AND status != $3
		ORDER BY started_at ASC
		LIMIT $4
	`, scopeID, cutoff, models.StatusExpired, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list expired sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.RecordingSession
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// Expire anonymizes the visitor and drops the artifact reference. Any
// status may move to EXPIRED; EXPIRED itself is terminal.
func (r *SessionRepo) Expire(ctx context.Context, id uuid.UUID, anonymizedVisitor string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE recording_sessions
		SET status = $2, visitor_id = $3, artifact_path = NULL
		WHERE id = $1 AND status != $2
	`, id, models.StatusExpired, anonymizedVisitor)
	if err != nil {
		return fmt.Errorf("failed to expire session: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// DistinctScopes returns every scope with at least one non-expired session,
// so the sweep can apply per-scope retention.
func (r *SessionRepo) DistinctScopes(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT DISTINCT scope_id FROM recording_sessions WHERE status != $1
	`, models.StatusExpired)
	if err != nil {
		return nil, fmt.Errorf("failed to list scopes: %w", err)
	}
	defer rows.Close()

	var scopes []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan scope: %w", err)
		}
		scopes = append(scopes, id)
	}
	return scopes, rows.Err()
}
