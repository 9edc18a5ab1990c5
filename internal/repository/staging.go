package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Dan9191/tsf-backend/internal/models"
)

var stagingColumns = []string{"job_id", "date", "value", "ses_m", "hwes_m", "arima_m", "ses_q", "hwes_q", "arima_q"}

// StagingStore copies finished forecast tables into a second database
type StagingStore struct {
	pool  *pgxpool.Pool
	table string
}

// NewStagingStore connects to the staging database
func NewStagingStore(ctx context.Context, connStr, table string) (*StagingStore, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to create staging pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("staging ping failed: %w", err)
	}
	return &StagingStore{pool: pool, table: table}, nil
}

func (s *StagingStore) ensureTable(ctx context.Context, tx pgx.Tx) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			job_id  TEXT NOT NULL,
			date    DATE NOT NULL,
			value   DOUBLE PRECISION,
			ses_m   DOUBLE PRECISION,
			hwes_m  DOUBLE PRECISION,
			arima_m DOUBLE PRECISION,
			ses_q   DOUBLE PRECISION,
			hwes_q  DOUBLE PRECISION,
			arima_q DOUBLE PRECISION,
			PRIMARY KEY (job_id, date)
		)`, pgx.Identifier{s.table}.Sanitize())
	_, err := tx.Exec(ctx, query)
	return err
}

// stagingRows flattens a table into COPY rows; nulls become nil
func stagingRows(jobID string, table *models.ForecastTable) [][]any {
	out := make([][]any, len(table.Rows))
	for i, row := range table.Rows {
		r := make([]any, 0, len(stagingColumns))
		r = append(r, jobID, row.Date, row.Value.Ptr())
		for _, f := range row.Forecasts {
			r = append(r, f.Ptr())
		}
		out[i] = r
	}
	return out
}

// Stage replaces any earlier copy of the job's table and returns the rows written
func (s *StagingStore) Stage(ctx context.Context, jobID string, table *models.ForecastTable) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin staging transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.ensureTable(ctx, tx); err != nil {
		return 0, fmt.Errorf("failed to create staging table: %w", err)
	}
	del := fmt.Sprintf(`DELETE FROM %s WHERE job_id = $1`, pgx.Identifier{s.table}.Sanitize())
	if _, err := tx.Exec(ctx, del, jobID); err != nil {
		return 0, fmt.Errorf("failed to clear staged rows: %w", err)
	}
	n, err := tx.CopyFrom(ctx, pgx.Identifier{s.table}, stagingColumns, pgx.CopyFromRows(stagingRows(jobID, table)))
	if err != nil {
		return 0, fmt.Errorf("failed to copy forecast rows: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit staging: %w", err)
	}
	return n, nil
}

// Close releases the pool
func (s *StagingStore) Close() {
	s.pool.Close()
}
