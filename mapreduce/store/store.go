// Package store keeps finished jobs and their counts in a SQLite database.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"wordflow/mapreduce/types"

	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("job not found")

const schema = `
CREATE TABLE IF NOT EXISTS jobs (
	id             TEXT PRIMARY KEY,
	name           TEXT NOT NULL,
	input          TEXT NOT NULL,
	input_hash     TEXT NOT NULL,
	created_at     INTEGER NOT NULL,
	distinct_words INTEGER NOT NULL,
	total_words    INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS jobs_input_hash ON jobs (input_hash, created_at);
CREATE TABLE IF NOT EXISTS counts (
	job_id TEXT NOT NULL REFERENCES jobs (id) ON DELETE CASCADE,
	word   TEXT NOT NULL,
	count  INTEGER NOT NULL,
	PRIMARY KEY (job_id, word)
);
`

// Job describes one recorded run.
type Job struct {
	ID        string
	Name      string
	Input     string
	InputHash string
	CreatedAt time.Time
	Distinct  int
	Total     int64
}

// Store is a handle on the job database.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(10000)")
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}
	// a single connection avoids "database is locked" between writers
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema in %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save records job and its counts. Distinct and Total are taken from rs.
func (s *Store) Save(ctx context.Context, job Job, rs types.ResultSet) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO jobs (id, name, input, input_hash, created_at, distinct_words, total_words)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Name, job.Input, job.InputHash, job.CreatedAt.UnixNano(), len(rs), rs.Total())
	if err != nil {
		return fmt.Errorf("insert job %s: %w", job.ID, err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO counts (job_id, word, count) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for word, count := range rs {
		if _, err = stmt.ExecContext(ctx, job.ID, word, count); err != nil {
			return fmt.Errorf("insert count for %q: %w", word, err)
		}
	}
	return tx.Commit()
}

func scanJob(row interface{ Scan(...any) error }) (Job, error) {
	var (
		job     Job
		created int64
	)
	err := row.Scan(&job.ID, &job.Name, &job.Input, &job.InputHash, &created, &job.Distinct, &job.Total)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, ErrNotFound
	}
	if err != nil {
		return Job{}, err
	}
	job.CreatedAt = time.Unix(0, created)
	return job, nil
}

const jobColumns = `id, name, input, input_hash, created_at, distinct_words, total_words`

// Load returns the job with the given id and its counts.
func (s *Store) Load(ctx context.Context, id string) (Job, types.ResultSet, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if err != nil {
		return Job{}, nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT word, count FROM counts WHERE job_id = ?`, id)
	if err != nil {
		return Job{}, nil, err
	}
	defer rows.Close()
	rs := types.NewResultSet()
	for rows.Next() {
		var (
			word  string
			count int64
		)
		if err := rows.Scan(&word, &count); err != nil {
			return Job{}, nil, err
		}
		rs[word] = count
	}
	if err := rows.Err(); err != nil {
		return Job{}, nil, err
	}
	return job, rs, nil
}

// Latest returns the most recent job over an input with the given hash.
func (s *Store) Latest(ctx context.Context, inputHash string) (Job, error) {
	return scanJob(s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE input_hash = ? ORDER BY created_at DESC LIMIT 1`, inputHash))
}

// List returns the most recent jobs, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]Job, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+jobColumns+` FROM jobs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var jobs []Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}
