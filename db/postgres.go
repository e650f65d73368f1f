package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
)

// pool is the subset of pgxpool.Pool the store uses.
type pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresStore keeps records in PostgreSQL for multi-instance deployments.
type PostgresStore struct {
	pool pool
}

var _ RecordStore = (*PostgresStore)(nil)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS predictions (
	id                  TEXT PRIMARY KEY,
	age                 INTEGER NOT NULL,
	gender              TEXT NOT NULL,
	drug_type           TEXT NOT NULL,
	addiction_severity  INTEGER NOT NULL,
	daily_usage         DOUBLE PRECISION NOT NULL,
	years_using         INTEGER NOT NULL,
	mental_health_score DOUBLE PRECISION NOT NULL,
	recovery_program    INTEGER NOT NULL,
	recovery_class      INTEGER NOT NULL,
	predicted_label     TEXT NOT NULL,
	predicted_months    DOUBLE PRECISION NOT NULL,
	prob_short          DOUBLE PRECISION NOT NULL,
	prob_medium         DOUBLE PRECISION NOT NULL,
	prob_long           DOUBLE PRECISION NOT NULL,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_predictions_created_at ON predictions(created_at DESC);

CREATE TABLE IF NOT EXISTS training_log (
	id          BIGSERIAL PRIMARY KEY,
	source      TEXT,
	row_count   INTEGER,
	accuracy    DOUBLE PRECISION,
	mae         DOUBLE PRECISION,
	rmse        DOUBLE PRECISION,
	r2          DOUBLE PRECISION,
	duration_ms BIGINT,
	trained_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// NewPostgresStore connects to url and applies the schema.
func NewPostgresStore(ctx context.Context, url string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	s := &PostgresStore{pool: p}
	if err := s.Migrate(ctx); err != nil {
		p.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresSchema)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, record *PredictionRecord) error {
	if record == nil || record.ID == "" {
		return eris.New("postgres: record id required")
	}
	_, err := s.pool.Exec(ctx, `INSERT INTO predictions (`+recordColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		recordArgs(record)...)
	return eris.Wrap(err, "postgres: insert prediction")
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*PredictionRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+recordColumns+` FROM predictions WHERE id = $1`, id)
	record, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrap(err, "postgres: get prediction")
	}
	return record, nil
}

func (s *PostgresStore) Recent(ctx context.Context, n int) ([]*PredictionRecord, error) {
	return s.List(ctx, RecordFilter{Limit: n})
}

func (s *PostgresStore) List(ctx context.Context, filter RecordFilter) ([]*PredictionRecord, error) {
	query, args := listQuery(filter, dollar)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list predictions")
	}
	defer rows.Close()

	records := make([]*PredictionRecord, 0)
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan prediction")
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: rows iteration")
	}
	return records, nil
}

func (s *PostgresStore) SaveTrainingLog(ctx context.Context, log TrainingLog) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO training_log (source, row_count, accuracy, mae, rmse, r2, duration_ms, trained_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		log.Source, log.Rows, log.Accuracy, log.MAE, log.RMSE, log.R2, log.DurationMS, log.TrainedAt)
	return eris.Wrap(err, "postgres: insert training log")
}

func (s *PostgresStore) TrainingLogs(ctx context.Context, limit int) ([]TrainingLog, error) {
	if limit <= 0 || limit > MaxListLimit {
		limit = MaxListLimit
	}
	rows, err := s.pool.Query(ctx, `SELECT id, source, row_count, accuracy, mae, rmse, r2, duration_ms, trained_at
FROM training_log ORDER BY trained_at DESC, id DESC LIMIT $1`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list training log")
	}
	defer rows.Close()

	logs := make([]TrainingLog, 0)
	for rows.Next() {
		var log TrainingLog
		if err := rows.Scan(&log.ID, &log.Source, &log.Rows, &log.Accuracy, &log.MAE, &log.RMSE, &log.R2, &log.DurationMS, &log.TrainedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan training log")
		}
		log.TrainedAt = log.TrainedAt.UTC()
		logs = append(logs, log)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: rows iteration")
	}
	return logs, nil
}
