package data

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/khaledhikmat/vs-batch/model"
)

const queryTimeout = 10 * time.Second

const schema = `
CREATE TABLE IF NOT EXISTS pipeline_errors (
	id          BIGSERIAL PRIMARY KEY,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	processor   TEXT NOT NULL,
	inner_error TEXT NOT NULL,
	message     TEXT NOT NULL,
	stack_trace TEXT NOT NULL,
	misc        JSONB
);

CREATE TABLE IF NOT EXISTS item_stats (
	id            BIGSERIAL PRIMARY KEY,
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	run_id        TEXT NOT NULL,
	item          TEXT NOT NULL,
	kind          TEXT NOT NULL,
	status        TEXT NOT NULL,
	frames        INTEGER NOT NULL,
	failed_frames INTEGER NOT NULL,
	detections    INTEGER NOT NULL,
	tracks        INTEGER NOT NULL,
	uptime        BIGINT NOT NULL,
	avg_proc_time DOUBLE PRECISION NOT NULL
);

CREATE TABLE IF NOT EXISTS run_summaries (
	run_id     TEXT PRIMARY KEY,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	input_dir  TEXT NOT NULL,
	output_dir TEXT NOT NULL,
	total      INTEGER NOT NULL,
	done       INTEGER NOT NULL,
	failed     INTEGER NOT NULL,
	cancelled  BOOLEAN NOT NULL,
	failures   JSONB NOT NULL,
	uptime     BIGINT NOT NULL
);
`

type postgresService struct {
	pool *pgxpool.Pool
}

// NewPostgres persists run data to PostgreSQL, creating the tables on first use.
func NewPostgres(ctx context.Context, connString string) (IService, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &postgresService{pool: pool}, nil
}

func (svc *postgresService) NewError(err interface{}) error {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	rec := toErrorRecord(err)
	misc, mErr := json.Marshal(rec.Misc)
	if mErr != nil {
		misc = []byte("null")
	}

	_, execErr := svc.pool.Exec(ctx,
		`INSERT INTO pipeline_errors (processor, inner_error, message, stack_trace, misc)
		VALUES ($1, $2, $3, $4, $5::jsonb)`,
		rec.Processor, rec.Inner, rec.Message, rec.StackTrace, string(misc))
	if execErr != nil {
		return fmt.Errorf("failed to store error: %w", execErr)
	}
	return nil
}

func (svc *postgresService) NewItemStats(stats model.ItemStats) error {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	_, err := svc.pool.Exec(ctx,
		`INSERT INTO item_stats
		(run_id, item, kind, status, frames, failed_frames, detections, tracks, uptime, avg_proc_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		stats.RunID, stats.Item, string(stats.Kind), string(stats.Status), stats.Frames,
		stats.FailedFrames, stats.Detections, stats.Tracks, stats.Uptime, stats.AvgProcTime)
	if err != nil {
		return fmt.Errorf("failed to store item stats: %w", err)
	}
	return nil
}

func (svc *postgresService) NewRunSummary(summary model.RunSummary) error {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	failures := summary.Failures
	if failures == nil {
		failures = []model.ItemFailure{}
	}
	data, err := json.Marshal(failures)
	if err != nil {
		return err
	}

	_, err = svc.pool.Exec(ctx,
		`INSERT INTO run_summaries
		(run_id, input_dir, output_dir, total, done, failed, cancelled, failures, uptime)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9)
		ON CONFLICT (run_id) DO UPDATE SET
			total = EXCLUDED.total, done = EXCLUDED.done, failed = EXCLUDED.failed,
			cancelled = EXCLUDED.cancelled, failures = EXCLUDED.failures, uptime = EXCLUDED.uptime`,
		summary.RunID, summary.InputDir, summary.OutputDir, summary.Total, summary.Done,
		summary.Failed, summary.Cancelled, string(data), summary.Uptime)
	if err != nil {
		return fmt.Errorf("failed to store run summary: %w", err)
	}
	return nil
}

func (svc *postgresService) RetrieveRunSummaries() ([]model.RunSummary, error) {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	rows, err := svc.pool.Query(ctx,
		`SELECT run_id, input_dir, output_dir, total, done, failed, cancelled, failures, uptime,
		extract(epoch FROM created_at)::bigint
		FROM run_summaries ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("failed to query run summaries: %w", err)
	}
	defer rows.Close()

	summaries := []model.RunSummary{}
	for rows.Next() {
		var s model.RunSummary
		var failures []byte
		if err := rows.Scan(&s.RunID, &s.InputDir, &s.OutputDir, &s.Total, &s.Done, &s.Failed,
			&s.Cancelled, &failures, &s.Uptime, &s.Timestamp); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(failures, &s.Failures); err != nil {
			return nil, err
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

func (svc *postgresService) Close() error {
	svc.pool.Close()
	return nil
}
