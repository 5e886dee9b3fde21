package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS jobs (
	id TEXT PRIMARY KEY,
	job_type TEXT NOT NULL,
	status TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	started_at INTEGER,
	completed_at INTEGER,
	error TEXT NOT NULL DEFAULT '',
	input TEXT,
	result TEXT,
	metadata TEXT
);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_created ON jobs(created_at);
`

const sqliteColumns = `id, job_type, status, created_at, updated_at, started_at, completed_at, error, input, result, metadata`

// SQLiteStore keeps records in a local SQLite file.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens or creates the database at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One writer keeps SQLite free of lock contention.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure database: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return &SQLiteStore{db: db, now: func() time.Time { return time.Now().UTC() }}, nil
}

func (s *SQLiteStore) Create(ctx context.Context, rec *Record) (string, error) {
	id := rec.ID
	if id == "" {
		id = uuid.NewString()
	}
	meta, err := marshalMetadata(rec.Metadata)
	if err != nil {
		return "", err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (`+sqliteColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, rec.JobType, string(rec.Status), unixNano(rec.CreatedAt), unixNano(rec.UpdatedAt),
		nullTime(rec.StartedAt), nullTime(rec.CompletedAt), rec.Error,
		nullText(rec.Input), nullText(rec.Result), meta)
	if err != nil {
		return "", fmt.Errorf("failed to insert job: %w", err)
	}
	return id, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteColumns+` FROM jobs WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

func (s *SQLiteStore) List(ctx context.Context, filter ListFilter) ([]*Record, error) {
	var where []string
	var args []any
	if filter.JobType != "" {
		where = append(where, "job_type = ?")
		args = append(args, filter.JobType)
	}
	if len(filter.Statuses) > 0 {
		marks := make([]string, len(filter.Statuses))
		for i, st := range filter.Statuses {
			marks[i] = "?"
			args = append(args, string(st))
		}
		where = append(where, "status IN ("+strings.Join(marks, ", ")+")")
	}

	query := `SELECT ` + sqliteColumns + ` FROM jobs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ?"
	args = append(args, filter.limit())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	out := []*Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) UpdateStatus(ctx context.Context, id string, status Status, errMsg string) error {
	return s.update(ctx, id, func(r *Record, now time.Time) { r.applyStatus(status, errMsg, now) })
}

func (s *SQLiteStore) UpdateMetadata(ctx context.Context, id string, metadata map[string]any) error {
	return s.update(ctx, id, func(r *Record, now time.Time) {
		r.Metadata = metadata
		r.UpdatedAt = now
	})
}

func (s *SQLiteStore) SetResult(ctx context.Context, id string, result json.RawMessage) error {
	return s.update(ctx, id, func(r *Record, now time.Time) {
		r.Result = result
		r.UpdatedAt = now
	})
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// update reads, mutates and writes a record inside one transaction.
func (s *SQLiteStore) update(ctx context.Context, id string, fn func(*Record, time.Time)) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	rec, err := scanRecord(tx.QueryRowContext(ctx, `SELECT `+sqliteColumns+` FROM jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	fn(rec, s.now())

	meta, err := marshalMetadata(rec.Metadata)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE jobs SET status = ?, updated_at = ?, started_at = ?, completed_at = ?, error = ?, result = ?, metadata = ? WHERE id = ?`,
		string(rec.Status), unixNano(rec.UpdatedAt), nullTime(rec.StartedAt), nullTime(rec.CompletedAt),
		rec.Error, nullText(rec.Result), meta, id)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		rec                    Record
		status                 string
		created, updated       int64
		started, completed     sql.NullInt64
		input, result, metaTxt sql.NullString
	)
	if err := row.Scan(&rec.ID, &rec.JobType, &status, &created, &updated, &started, &completed,
		&rec.Error, &input, &result, &metaTxt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan job: %w", err)
	}

	rec.Status = Status(status)
	rec.CreatedAt = time.Unix(0, created).UTC()
	rec.UpdatedAt = time.Unix(0, updated).UTC()
	if started.Valid {
		t := time.Unix(0, started.Int64).UTC()
		rec.StartedAt = &t
	}
	if completed.Valid {
		t := time.Unix(0, completed.Int64).UTC()
		rec.CompletedAt = &t
	}
	if input.Valid {
		rec.Input = json.RawMessage(input.String)
	}
	if result.Valid {
		rec.Result = json.RawMessage(result.String)
	}
	if metaTxt.Valid && metaTxt.String != "" {
		if err := json.Unmarshal([]byte(metaTxt.String), &rec.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata: %w", err)
		}
	}
	return &rec, nil
}

func marshalMetadata(m map[string]any) (sql.NullString, error) {
	if m == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal metadata: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func unixNano(t time.Time) int64 {
	return t.UnixNano()
}

func nullTime(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func nullText(b json.RawMessage) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}

var _ Store = (*SQLiteStore)(nil)
