package db

import (
	"context"
	"database/sql"
	"errors"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rotisserie/eris"
)

// SQLiteStore keeps records in a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

var _ RecordStore = (*SQLiteStore)(nil)

const sqliteSchema = `
    CREATE TABLE IF NOT EXISTS predictions (
        id TEXT PRIMARY KEY,
        age INTEGER NOT NULL,
        gender TEXT NOT NULL,
        drug_type TEXT NOT NULL,
        addiction_severity INTEGER NOT NULL,
        daily_usage REAL NOT NULL,
        years_using INTEGER NOT NULL,
        mental_health_score REAL NOT NULL,
        recovery_program INTEGER NOT NULL,
        recovery_class INTEGER NOT NULL,
        predicted_label TEXT NOT NULL,
        predicted_months REAL NOT NULL,
        prob_short REAL NOT NULL,
        prob_medium REAL NOT NULL,
        prob_long REAL NOT NULL,
        created_at DATETIME NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_predictions_created_at ON predictions(created_at);
    CREATE TABLE IF NOT EXISTS training_log (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        source TEXT,
        row_count INTEGER,
        accuracy REAL,
        mae REAL,
        rmse REAL,
        r2 REAL,
        duration_ms INTEGER,
        trained_at DATETIME
    );
    `

// NewSQLiteStore opens (creating if needed) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	database, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	if _, err := database.Exec(sqliteSchema); err != nil {
		database.Close()
		return nil, eris.Wrap(err, "sqlite: migrate")
	}
	return &SQLiteStore{db: database}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Save(ctx context.Context, record *PredictionRecord) error {
	if record == nil || record.ID == "" {
		return eris.New("sqlite: record id required")
	}
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO predictions (`+recordColumns+`)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		recordArgs(record)...)
	return eris.Wrap(err, "sqlite: insert prediction")
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*PredictionRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM predictions WHERE id = ?`, id)
	record, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, eris.Wrap(err, "sqlite: get prediction")
	}
	return record, nil
}

func (s *SQLiteStore) Recent(ctx context.Context, n int) ([]*PredictionRecord, error) {
	return s.List(ctx, RecordFilter{Limit: n})
}

func (s *SQLiteStore) List(ctx context.Context, filter RecordFilter) ([]*PredictionRecord, error) {
	query, args := listQuery(filter, questionMark)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list predictions")
	}
	defer rows.Close()

	records := make([]*PredictionRecord, 0)
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan prediction")
		}
		records = append(records, record)
	}
	return records, eris.Wrap(rows.Err(), "sqlite: list predictions")
}

func (s *SQLiteStore) SaveTrainingLog(ctx context.Context, log TrainingLog) error {
	_, err := s.db.ExecContext(ctx, `
        INSERT INTO training_log (source, row_count, accuracy, mae, rmse, r2, duration_ms, trained_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		log.Source, log.Rows, log.Accuracy, log.MAE, log.RMSE, log.R2, log.DurationMS, log.TrainedAt)
	return eris.Wrap(err, "sqlite: insert training log")
}

func (s *SQLiteStore) TrainingLogs(ctx context.Context, limit int) ([]TrainingLog, error) {
	if limit <= 0 || limit > MaxListLimit {
		limit = MaxListLimit
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT id, source, row_count, accuracy, mae, rmse, r2, duration_ms, trained_at
        FROM training_log
        ORDER BY trained_at DESC, id DESC
        LIMIT ?`, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list training log")
	}
	defer rows.Close()

	logs := make([]TrainingLog, 0)
	for rows.Next() {
		var log TrainingLog
		if err := rows.Scan(&log.ID, &log.Source, &log.Rows, &log.Accuracy, &log.MAE, &log.RMSE, &log.R2, &log.DurationMS, &log.TrainedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan training log")
		}
		log.TrainedAt = log.TrainedAt.UTC()
		logs = append(logs, log)
	}
	return logs, eris.Wrap(rows.Err(), "sqlite: list training log")
}
