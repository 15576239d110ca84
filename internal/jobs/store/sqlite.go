// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go driver

	"github.com/ManuGH/hlsforge/internal/jobs"
)

const sqliteSchemaVersion = 1

// SQLiteConfig defines SQLite operational parameters.
type SQLiteConfig struct {
	BusyTimeout time.Duration
}

// DefaultSQLiteConfig returns the recommended configuration.
func DefaultSQLiteConfig() SQLiteConfig {
	return SQLiteConfig{BusyTimeout: 5 * time.Second}
}

// SQLiteStore persists jobs in a single SQLite table.
type SQLiteStore struct {
	DB *sql.DB

	ids IDFunc
	now func() time.Time
}

// OpenSQLiteStore opens (and migrates) the database at dbPath.
func OpenSQLiteStore(dbPath string, cfg SQLiteConfig) (*SQLiteStore, error) {
	if dbPath == "" {
		return nil, errors.New("sqlite store path required")
	}
	// PRAGMAs go into the DSN so they apply to every pooled connection.
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)",
		dbPath, cfg.BusyTimeout.Milliseconds())

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open failed: %w", err)
	}
	// One connection: SQLite has a single writer anyway, and it makes the
	// read-modify-write in Transition trivially serialized.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping failed: %w", err)
	}

	s := &SQLiteStore{DB: db, ids: NewID, now: time.Now}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("job store: migration failed: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) Close() error { return s.DB.Close() }

func (s *SQLiteStore) Ping(ctx context.Context) error { return s.DB.PingContext(ctx) }

func (s *SQLiteStore) migrate() error {
	var currentVersion int
	if err := s.DB.QueryRow("PRAGMA user_version").Scan(&currentVersion); err != nil {
		return err
	}
	if currentVersion >= sqliteSchemaVersion {
		return nil
	}

	tx, err := s.DB.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	schema := `
	CREATE TABLE IF NOT EXISTS jobs (
		id TEXT PRIMARY KEY,
		source_path TEXT NOT NULL,
		output_dir TEXT NOT NULL,
		content_type TEXT NOT NULL DEFAULT '',
		state TEXT NOT NULL,
		created_at_ms INTEGER NOT NULL,
		started_at_ms INTEGER,
		completed_at_ms INTEGER,
		failure_json TEXT,
		result_json TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_jobs_state_created ON jobs(state, created_at_ms);
	`
	if _, err := tx.Exec(schema); err != nil {
		return err
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", sqliteSchemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *SQLiteStore) Create(ctx context.Context, n jobs.NewJob) (jobs.Job, error) {
	return create(ctx, s.ids, s.insert, n, s.now())
}

func (s *SQLiteStore) insert(ctx context.Context, j jobs.Job) error {
	res, err := s.DB.ExecContext(ctx, `
	INSERT INTO jobs (id, source_path, output_dir, content_type, state, created_at_ms)
	VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO NOTHING`,
		j.ID, j.SourcePath, j.OutputDir, j.ContentType, string(j.State), j.CreatedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return jobs.ErrDuplicateID
	}
	return nil
}

const selectJobColumns = `id, source_path, output_dir, content_type, state, created_at_ms, started_at_ms, completed_at_ms, failure_json, result_json`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (jobs.Job, error) {
	var (
		j                     jobs.Job
		state                 string
		createdMs             int64
		startedMs, doneMs     sql.NullInt64
		failureRaw, resultRaw sql.NullString
	)
	if err := row.Scan(&j.ID, &j.SourcePath, &j.OutputDir, &j.ContentType, &state, &createdMs, &startedMs, &doneMs, &failureRaw, &resultRaw); err != nil {
		return jobs.Job{}, err
	}
	j.State = jobs.State(state)
	j.CreatedAt = time.UnixMilli(createdMs).UTC()
	j.StartedAt = msToTime(startedMs)
	j.CompletedAt = msToTime(doneMs)
	if failureRaw.Valid && failureRaw.String != "" {
		j.Failure = &jobs.Failure{}
		if err := json.Unmarshal([]byte(failureRaw.String), j.Failure); err != nil {
			return jobs.Job{}, fmt.Errorf("decode failure: %w", err)
		}
	}
	if resultRaw.Valid && resultRaw.String != "" {
		j.Result = &jobs.Result{}
		if err := json.Unmarshal([]byte(resultRaw.String), j.Result); err != nil {
			return jobs.Job{}, fmt.Errorf("decode result: %w", err)
		}
	}
	return j, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (jobs.Job, error) {
	row := s.DB.QueryRowContext(ctx, "SELECT "+selectJobColumns+" FROM jobs WHERE id = ?", id)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return jobs.Job{}, jobs.ErrNotFound
	}
	return j, err
}

func (s *SQLiteStore) Transition(ctx context.Context, id string, to jobs.State, d jobs.Details) (jobs.Job, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return jobs.Job{}, err
	}
	defer func() { _ = tx.Rollback() }()

	j, err := scanJob(tx.QueryRowContext(ctx, "SELECT "+selectJobColumns+" FROM jobs WHERE id = ?", id))
	if errors.Is(err, sql.ErrNoRows) {
		return jobs.Job{}, jobs.ErrNotFound
	}
	if err != nil {
		return jobs.Job{}, err
	}

	from := j.State
	if err := jobs.Apply(&j, to, d, s.now()); err != nil {
		return jobs.Job{}, err
	}

	failureJSON, err := marshalNullable(j.Failure)
	if err != nil {
		return jobs.Job{}, err
	}
	resultJSON, err := marshalNullable(j.Result)
	if err != nil {
		return jobs.Job{}, err
	}

	// The state guard makes the write conditional on what we read.
	res, err := tx.ExecContext(ctx, `
	UPDATE jobs SET state = ?, started_at_ms = ?, completed_at_ms = ?, failure_json = ?, result_json = ?
	WHERE id = ? AND state = ?`,
		string(j.State), timeToMs(j.StartedAt), timeToMs(j.CompletedAt), failureJSON, resultJSON, id, string(from))
	if err != nil {
		return jobs.Job{}, fmt.Errorf("update job: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return jobs.Job{}, fmt.Errorf("%w: concurrent update of %s", jobs.ErrInvalidTransition, id)
	}
	if err := tx.Commit(); err != nil {
		return jobs.Job{}, err
	}
	return j, nil
}

func (s *SQLiteStore) List(ctx context.Context, f Filter) ([]jobs.Job, error) {
	query := "SELECT " + selectJobColumns + " FROM jobs"
	args := make([]any, 0, len(f.States)+1)
	if len(f.States) > 0 {
		marks := make([]string, len(f.States))
		for i, st := range f.States {
			marks[i] = "?"
			args = append(args, string(st))
		}
		query += " WHERE state IN (" + strings.Join(marks, ",") + ")"
	}
	query += " ORDER BY created_at_ms DESC, id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []jobs.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func msToTime(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.UnixMilli(v.Int64).UTC()
	return &t
}

func timeToMs(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func marshalNullable(v any) (any, error) {
	switch x := v.(type) {
	case *jobs.Failure:
		if x == nil {
			return nil, nil
		}
	case *jobs.Result:
		if x == nil {
			return nil, nil
		}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
