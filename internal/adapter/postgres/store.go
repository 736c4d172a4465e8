// Package postgres records completed runs and their raster paths in PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"slices"

	_ "github.com/lib/pq"

	"github.com/couchcryptid/tchi-pipeline/internal/domain"
)

// Execer is satisfied by *sql.DB and *sql.Tx.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Open connects to dsn with the pq driver.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	return db, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS tchi_runs (
	run_id       TEXT PRIMARY KEY,
	capture_date DATE NOT NULL,
	valid_pixels INTEGER NOT NULL,
	min_score    DOUBLE PRECISION NOT NULL,
	max_score    DOUBLE PRECISION NOT NULL,
	mean_score   DOUBLE PRECISION NOT NULL,
	started_at   TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS tchi_rasters (
	capture_date DATE NOT NULL,
	layer        TEXT NOT NULL,
	path         TEXT NOT NULL,
	run_id       TEXT NOT NULL,
	processed_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (capture_date, layer)
);`

const insertRun = `INSERT INTO tchi_runs (run_id, capture_date, valid_pixels, min_score, max_score, mean_score, started_at, completed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (run_id) DO UPDATE SET
	valid_pixels = EXCLUDED.valid_pixels,
	min_score = EXCLUDED.min_score,
	max_score = EXCLUDED.max_score,
	mean_score = EXCLUDED.mean_score,
	completed_at = EXCLUDED.completed_at`

const upsertRaster = `INSERT INTO tchi_rasters (capture_date, layer, path, run_id, processed_at)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (capture_date, layer) DO UPDATE SET
	path = EXCLUDED.path,
	run_id = EXCLUDED.run_id,
	processed_at = EXCLUDED.processed_at`

// RunStore writes one tchi_runs row per run and one tchi_rasters row per
// output layer. A later run of the same date replaces the raster rows.
// It implements pipeline.RunHook.
type RunStore struct {
	db     Execer
	logger *slog.Logger
}

func NewRunStore(db Execer, logger *slog.Logger) *RunStore {
	return &RunStore{db: db, logger: logger}
}

func (s *RunStore) Name() string { return "postgres" }

// EnsureSchema creates the tables when they do not exist.
func (s *RunStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// RunCompleted upserts the run and its rasters. Statements are idempotent,
// so a partially recorded run is completed by the next call.
func (s *RunStore) RunCompleted(ctx context.Context, rec domain.RunRecord) error {
	date := rec.Date.String()
	c := rec.Composite
	if _, err := s.db.ExecContext(ctx, insertRun,
		rec.RunID, date, c.ValidPixels, c.Min, c.Max, c.Mean, rec.StartedAt, rec.CompletedAt,
	); err != nil {
		return fmt.Errorf("record run %s: %w", rec.RunID, err)
	}

	layers := make([]domain.Layer, 0, len(rec.Outputs))
	for l := range rec.Outputs {
		layers = append(layers, l)
	}
	slices.Sort(layers)
	for _, l := range layers {
		if _, err := s.db.ExecContext(ctx, upsertRaster,
			date, string(l), rec.Outputs[l], rec.RunID, rec.CompletedAt,
		); err != nil {
			return fmt.Errorf("record raster %s/%s: %w", date, l, err)
		}
	}
	s.logger.Debug("run recorded", "date", date, "run_id", rec.RunID, "layers", len(layers))
	return nil
}
