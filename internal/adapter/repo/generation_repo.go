package repo

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"clipgen/internal/domain"
	"clipgen/internal/infra"
	"clipgen/internal/sqlinline"
)

// GenerationRepository persists the generation ledger.
type GenerationRepository struct {
	sql infra.SQLExecutor
	now func() time.Time
}

// NewGenerationRepository creates a ledger backed by PostgreSQL.
func NewGenerationRepository(sql infra.SQLExecutor) *GenerationRepository {
	return &GenerationRepository{sql: sql, now: time.Now}
}

// Record inserts one ledger row. Missing ids and timestamps are filled in.
func (r *GenerationRepository) Record(ctx context.Context, rec domain.GenerationRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = r.now().UTC()
	}
	_, err := r.sql.Exec(ctx, sqlinline.QInsertGeneration,
		rec.ID,
		rec.JobID,
		rec.Engine,
		rec.Preset,
		rec.Status,
		rec.ErrorCode,
		rec.Seed,
		rec.Stage2b,
		rec.FidelityVerdict,
		rec.FidelityMaxDiff,
		rec.Audio,
		rec.FrameCount,
		rec.FPS,
		rec.DurationMS,
		rec.CostUSD,
		rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert generation: %w", err)
	}
	return nil
}

// EngineStats aggregates ledger rows for one engine.
type EngineStats struct {
	Engine        string  `json:"engine"`
	Total         int64   `json:"total"`
	Succeeded     int64   `json:"succeeded"`
	Failed        int64   `json:"failed"`
	CostUSD       float64 `json:"cost_usd"`
	AvgDurationMS float64 `json:"avg_duration_ms"`
}

// Summary is the ledger rollup served by the stats endpoint.
type Summary struct {
	Since   time.Time     `json:"since"`
	Total   int64         `json:"total"`
	CostUSD float64       `json:"cost_usd"`
	Engines []EngineStats `json:"engines"`
}

// Summary aggregates every generation recorded within window.
func (r *GenerationRepository) Summary(ctx context.Context, window time.Duration) (Summary, error) {
	since := r.now().UTC().Add(-window)
	out := Summary{Since: since, Engines: []EngineStats{}}
	rows, err := r.sql.Query(ctx, sqlinline.QGenerationStats, since)
	if err != nil {
		return out, fmt.Errorf("generation stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var s EngineStats
		if err := rows.Scan(&s.Engine, &s.Total, &s.Succeeded, &s.Failed, &s.CostUSD, &s.AvgDurationMS); err != nil {
			return out, fmt.Errorf("scan generation stats: %w", err)
		}
		out.Total += s.Total
		out.CostUSD += s.CostUSD
		out.Engines = append(out.Engines, s)
	}
	if err := rows.Err(); err != nil {
		return out, fmt.Errorf("generation stats: %w", err)
	}
	return out, nil
}

// Recent returns the newest ledger rows, newest first.
func (r *GenerationRepository) Recent(ctx context.Context, limit int) ([]domain.GenerationRecord, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.sql.Query(ctx, sqlinline.QRecentGenerations, limit)
	if err != nil {
		return nil, fmt.Errorf("recent generations: %w", err)
	}
	defer rows.Close()
	out := make([]domain.GenerationRecord, 0, limit)
	for rows.Next() {
		var rec domain.GenerationRecord
		if err := rows.Scan(
			&rec.ID, &rec.JobID, &rec.Engine, &rec.Preset, &rec.Status, &rec.ErrorCode,
			&rec.Seed, &rec.Stage2b, &rec.FidelityVerdict, &rec.FidelityMaxDiff, &rec.Audio,
			&rec.FrameCount, &rec.FPS, &rec.DurationMS, &rec.CostUSD, &rec.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan generation: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}
