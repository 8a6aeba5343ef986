package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"formpulse-backend/internal/heatmap"
	"formpulse-backend/internal/models"
)

// nilQuestion stands in for a missing question id inside the uniqueness key.
var nilQuestion = uuid.Nil

type HeatmapRepo struct {
	pool *pgxpool.Pool
}

func NewHeatmapRepo(pool *pgxpool.Pool) *HeatmapRepo {
	return &HeatmapRepo{pool: pool}
}

// HeatmapKey identifies one live grid bucket. At most one record may exist
// per key; concurrent writers merge, never duplicate.
type HeatmapKey struct {
	ScopeID     uuid.UUID
	Page        string
	QuestionID  *uuid.UUID
	Type        string
	Breakpoint  string
	PeriodStart time.Time
}

func (k HeatmapKey) questionOrNil() uuid.UUID {
	if k.QuestionID != nil {
		return *k.QuestionID
	}
	return nilQuestion
}

// Merge folds a contribution into the bucket's record atomically. The row is
// locked for the duration of the read-merge-write so concurrent contributions
// serialize per key instead of overwriting each other; a missing row is
// inserted with ON CONFLICT retry to survive the create race.
func (r *HeatmapRepo) Merge(ctx context.Context, key HeatmapKey, contribution models.GridData, sessions int, periodEnd time.Time) error {
	for attempt := 0; attempt < 3; attempt++ {
		merged, err := r.tryMerge(ctx, key, contribution, sessions, periodEnd)
		if err != nil {
			return err
		}
		if merged {
			return nil
		}
		// Lost the insert race: another writer created the row. Loop and
		// merge into it.
	}
	return errors.New("heatmap merge did not converge")
}

func (r *HeatmapRepo) tryMerge(ctx context.Context, key HeatmapKey, contribution models.GridData, sessions int, periodEnd time.Time) (bool, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin heatmap transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var (
		id           uuid.UUID
		gridJSON     []byte
		sessionCount int
	)
	err = tx.QueryRow(ctx, `
		SELECT id, grid, session_count
		FROM heatmap_records
		WHERE scope_id = $1 AND page = $2 AND COALESCE(question_id, $3) = $4
		  AND type = $5 AND breakpoint = $6 AND period_start = $7
		FOR UPDATE
	`, key.ScopeID, key.Page, nilQuestion, key.questionOrNil(), key.Type, key.Breakpoint, key.PeriodStart).
		Scan(&id, &gridJSON, &sessionCount)

	if errors.Is(err, pgx.ErrNoRows) {
		contribJSON, err := json.Marshal(contribution)
		if err != nil {
			return false, fmt.Errorf("failed to serialize grid: %w", err)
		}
		tag, err := tx.Exec(ctx, `
			INSERT INTO heatmap_records
				(scope_id, page, question_id, type, breakpoint, grid, session_count, period_start, period_end)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			ON CONFLICT DO NOTHING
		`, key.ScopeID, key.Page, key.QuestionID, key.Type, key.Breakpoint, contribJSON, sessions, key.PeriodStart, periodEnd)
		if err != nil {
			return false, fmt.Errorf("failed to insert heatmap record: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return false, nil // create race lost; caller retries
		}
		return true, tx.Commit(ctx)
	}
	if err != nil {
		return false, fmt.Errorf("failed to load heatmap record: %w", err)
	}

	var existing models.GridData
	if err := json.Unmarshal(gridJSON, &existing); err != nil {
		return false, fmt.Errorf("failed to parse stored grid: %w", err)
	}

	grid := heatmap.FromData(existing)
	grid.Merge(heatmap.FromData(contribution))
	mergedJSON, err := json.Marshal(grid.Data())
	if err != nil {
		return false, fmt.Errorf("failed to serialize merged grid: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE heatmap_records
		SET grid = $2, session_count = session_count + $3, period_end = GREATEST(period_end, $4), updated_at = NOW()
		WHERE id = $1
	`, id, mergedJSON, sessions, periodEnd)
	if err != nil {
		return false, fmt.Errorf("failed to update heatmap record: %w", err)
	}
	return true, tx.Commit(ctx)
}

const heatmapColumns = `
	id, scope_id, page, question_id, type, breakpoint, grid, session_count, period_start, period_end, updated_at
`

func scanHeatmap(row pgx.Row) (*models.HeatmapRecord, error) {
	var (
		rec      models.HeatmapRecord
		gridJSON []byte
	)
	err := row.Scan(
		&rec.ID, &rec.ScopeID, &rec.Page, &rec.QuestionID, &rec.Type, &rec.Breakpoint,
		&gridJSON, &rec.SessionCount, &rec.PeriodStart, &rec.PeriodEnd, &rec.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan heatmap record: %w", err)
	}
	if err := json.Unmarshal(gridJSON, &rec.Grid); err != nil {
		return nil, fmt.Errorf("failed to parse stored grid: %w", err)
	}
	return &rec, nil
}

// Query returns the records overlapping [from, to] for a scope, page, type
// and breakpoint. Page, type and breakpoint narrow the result when set.
func (r *HeatmapRepo) Query(ctx context.Context, scopeID uuid.UUID, page, heatmapType, breakpoint string, from, to time.Time) ([]*models.HeatmapRecord, error) {
	query := `SELECT ` + heatmapColumns + ` FROM heatmap_records WHERE scope_id = $1 AND period_start <= $2 AND period_end >= $3`
	args := []any{scopeID, to, from}
	if page != "" {
		args = append(args, page)
		query += fmt.Sprintf(" AND page = $%d", len(args))
	}
	if heatmapType != "" {
		args = append(args, heatmapType)
		query += fmt.Sprintf(" AND type = $%d", len(args))
	}
	if breakpoint != "" {
		args = append(args, breakpoint)
		query += fmt.Sprintf(" AND breakpoint = $%d", len(args))
	}
	query += " ORDER BY period_start ASC"

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query heatmap records: %w", err)
	}
	defer rows.Close()

	var records []*models.HeatmapRecord
	for rows.Next() {
		rec, err := scanHeatmap(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// PurgeOlderThan drops heatmap records whose period ended before the
// long-tail horizon. Independent of per-scope session retention.
func (r *HeatmapRepo) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM heatmap_records WHERE period_end < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge heatmap records: %w", err)
	}
	return tag.RowsAffected(), nil
}
