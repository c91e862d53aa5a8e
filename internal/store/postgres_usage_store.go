package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dunamismax/resizeflow/internal/domain"
	_ "github.com/lib/pq"
)

const usageSchemaSQL = `
CREATE TABLE IF NOT EXISTS usage_logs (
	request_id TEXT PRIMARY KEY,
	subject_id TEXT NOT NULL,
	source_format TEXT NOT NULL,
	output_format TEXT NOT NULL,
	pixels_processed BIGINT NOT NULL,
	bytes_saved BIGINT NOT NULL,
	compute_time_ms BIGINT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS usage_logs_subject_idx ON usage_logs (subject_id, created_at);
`

type PostgresUsageStore struct {
	db *sql.DB
}

func NewPostgresUsageStore(ctx context.Context, dsn string) (*PostgresUsageStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresUsageStore{db: db}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *PostgresUsageStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, usageSchemaSQL); err != nil {
		return fmt.Errorf("ensure usage_logs schema: %w", err)
	}
	return nil
}

func (s *PostgresUsageStore) Close() error {
	return s.db.Close()
}

func (s *PostgresUsageStore) CreateUsageLog(ctx context.Context, log domain.UsageLog) error {
	_, err := s.db.ExecContext(
		ctx,
		`INSERT INTO usage_logs (request_id, subject_id, source_format, output_format, pixels_processed, bytes_saved, compute_time_ms, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (request_id) DO NOTHING`,
		log.RequestID,
		log.SubjectID,
		log.SourceFormat,
		log.OutputFormat,
		log.PixelsProcessed,
		log.BytesSaved,
		log.ComputeTimeMS,
		log.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert usage log: %w", err)
	}
	return nil
}

func (s *PostgresUsageStore) Summary(ctx context.Context, subjectID string) (domain.UsageSummary, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(pixels_processed), 0),
		        COALESCE(SUM(bytes_saved), 0),
		        COALESCE(SUM(compute_time_ms), 0)
		 FROM usage_logs
		 WHERE subject_id = $1`,
		subjectID,
	)

	summary := domain.UsageSummary{SubjectID: subjectID}
	if err := row.Scan(
		&summary.Requests,
		&summary.PixelsProcessed,
		&summary.BytesSaved,
		&summary.ComputeTimeMS,
	); err != nil {
		return domain.UsageSummary{}, fmt.Errorf("query usage summary: %w", err)
	}
	return summary, nil
}
