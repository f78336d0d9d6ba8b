package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/turbolytics/pixelator/internal/catalog"
)

const DefaultTable = "pixelator_runs"

// CatalogStore keeps run catalog entries in a Postgres table.
type CatalogStore struct {
	Pool  *pgxpool.Pool
	Table string

	logger *zap.Logger
}

var _ catalog.Store = (*CatalogStore)(nil)

type Option func(*CatalogStore)

func WithTable(table string) Option {
	return func(s *CatalogStore) {
		s.Table = table
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *CatalogStore) {
		s.logger = l
	}
}

func NewCatalogStore(pool *pgxpool.Pool, opts ...Option) *CatalogStore {
	s := &CatalogStore{
		Pool:   pool,
		Table:  DefaultTable,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect opens a pool and makes sure the catalog table exists.
func Connect(ctx context.Context, connString string, opts ...Option) (*CatalogStore, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	s := NewCatalogStore(pool, opts...)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *CatalogStore) table() string {
	return pgx.Identifier{s.Table}.Sanitize()
}

func (s *CatalogStore) Migrate(ctx context.Context) error {
	_, err := s.Pool.Exec(ctx, fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	run_id TEXT PRIMARY KEY,
	pipeline TEXT NOT NULL,
	source TEXT NOT NULL,
	start_time TIMESTAMPTZ NOT NULL,
	end_time TIMESTAMPTZ NOT NULL,
	num_source_records INTEGER NOT NULL,
	num_rejected INTEGER NOT NULL,
	num_records_processed INTEGER NOT NULL,
	num_succeeded INTEGER NOT NULL,
	num_failed INTEGER NOT NULL,
	download_url TEXT NOT NULL DEFAULT '',
	error TEXT NOT NULL DEFAULT '',
	completed BOOLEAN NOT NULL
)`, s.table()))
	if err != nil {
		return fmt.Errorf("creating catalog table: %w", err)
	}
	return nil
}

func (s *CatalogStore) Save(ctx context.Context, c catalog.Catalog) error {
	_, err := s.Pool.Exec(ctx, fmt.Sprintf(`
INSERT INTO %s (
	run_id, pipeline, source, start_time, end_time,
	num_source_records, num_rejected, num_records_processed,
	num_succeeded, num_failed, download_url, error, completed
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (run_id) DO UPDATE SET
	end_time = EXCLUDED.end_time,
	num_records_processed = EXCLUDED.num_records_processed,
	num_succeeded = EXCLUDED.num_succeeded,
	num_failed = EXCLUDED.num_failed,
	download_url = EXCLUDED.download_url,
	error = EXCLUDED.error,
	completed = EXCLUDED.completed`, s.table()),
		c.RunID, c.Pipeline, c.Source, c.StartTime, c.EndTime,
		c.NumSourceRecords, c.NumRejected, c.NumRecordsProcessed,
		c.NumSucceeded, c.NumFailed, c.DownloadURL, c.Error, c.Completed,
	)
	if err != nil {
		return fmt.Errorf("saving catalog entry %s: %w", c.RunID, err)
	}
	s.logger.Debug("Catalog saved", zap.String("run_id", c.RunID))
	return nil
}

const selectColumns = `run_id, pipeline, source, start_time, end_time,
	num_source_records, num_rejected, num_records_processed,
	num_succeeded, num_failed, download_url, error, completed`

func scan(row pgx.Row) (catalog.Catalog, error) {
	var c catalog.Catalog
	err := row.Scan(
		&c.RunID, &c.Pipeline, &c.Source, &c.StartTime, &c.EndTime,
		&c.NumSourceRecords, &c.NumRejected, &c.NumRecordsProcessed,
		&c.NumSucceeded, &c.NumFailed, &c.DownloadURL, &c.Error, &c.Completed,
	)
	return c, err
}

func (s *CatalogStore) Load(ctx context.Context, runID string) (catalog.Catalog, error) {
	row := s.Pool.QueryRow(ctx,
		fmt.Sprintf("SELECT %s FROM %s WHERE run_id = $1", selectColumns, s.table()),
		runID,
	)
	c, err := scan(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return c, catalog.ErrNotFound
	}
	return c, err
}

func (s *CatalogStore) List(ctx context.Context, limit int) ([]catalog.Catalog, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.Pool.Query(ctx,
		fmt.Sprintf("SELECT %s FROM %s ORDER BY start_time DESC LIMIT $1", selectColumns, s.table()),
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []catalog.Catalog
	for rows.Next() {
		c, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *CatalogStore) Close() {
	s.Pool.Close()
}
