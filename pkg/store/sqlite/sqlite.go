// Package sqlite implements store.RunStore using SQLite.
package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/jxucoder/bashnotes/pkg/model"
	"github.com/jxucoder/bashnotes/pkg/store"
)

// Store manages run and output persistence in SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite database at the given path.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent read/write performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id           TEXT PRIMARY KEY,
			path         TEXT NOT NULL,
			dir          TEXT NOT NULL,
			blocks       INTEGER NOT NULL DEFAULT 0,
			directed     INTEGER NOT NULL DEFAULT 0,
			status       TEXT NOT NULL DEFAULT 'pending',
			image        TEXT NOT NULL DEFAULT '',
			container_id TEXT NOT NULL DEFAULT '',
			error        TEXT NOT NULL DEFAULT '',
			created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
			updated_at   DATETIME NOT NULL DEFAULT (datetime('now'))
		);

		CREATE INDEX IF NOT EXISTS idx_runs_created_at
			ON runs(created_at);

		CREATE TABLE IF NOT EXISTS outputs (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id      TEXT NOT NULL,
			block       INTEGER NOT NULL,
			cmd         TEXT NOT NULL,
			stdout      TEXT NOT NULL DEFAULT '',
			stderr      TEXT NOT NULL DEFAULT '',
			exit_code   INTEGER NOT NULL DEFAULT 0,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			created_at  DATETIME NOT NULL DEFAULT (datetime('now')),
			FOREIGN KEY (run_id) REFERENCES runs(id)
		);

		CREATE INDEX IF NOT EXISTS idx_outputs_run_id
			ON outputs(run_id);
	`)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateRun inserts a new run.
func (s *Store) CreateRun(run *model.Run) error {
	if run.Status == "" {
		run.Status = model.RunPending
	}
	_, err := s.db.Exec(
		`INSERT INTO runs (id, path, dir, blocks, directed, status, image, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.Path, run.Dir, run.Blocks, run.Directed, run.Status, run.Image,
		run.CreatedAt, run.UpdatedAt,
	)
	return err
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(id string) (*model.Run, error) {
	row := s.db.QueryRow(
		`SELECT id, path, dir, blocks, directed, status, image,
		        container_id, error, created_at, updated_at
		 FROM runs WHERE id = ?`, id,
	)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, store.ErrNotFound)
	}
	return run, err
}

// ListRuns returns runs ordered by creation time (newest first). A limit of
// zero or less returns every run.
func (s *Store) ListRuns(limit int) ([]*model.Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(
		`SELECT id, path, dir, blocks, directed, status, image,
		        container_id, error, created_at, updated_at
		 FROM runs ORDER BY created_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*model.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// UpdateRun updates mutable fields of a run.
func (s *Store) UpdateRun(run *model.Run) error {
	run.UpdatedAt = time.Now().UTC()
	_, err := s.db.Exec(
		`UPDATE runs SET
			status = ?, image = ?, container_id = ?, error = ?, updated_at = ?
		 WHERE id = ?`,
		run.Status, run.Image, run.ContainerID, run.Error, run.UpdatedAt, run.ID,
	)
	return err
}

// AddOutput inserts the output of one block and sets its ID.
func (s *Store) AddOutput(out *model.Output) error {
	result, err := s.db.Exec(
		`INSERT INTO outputs (run_id, block, cmd, stdout, stderr, exit_code, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		out.RunID, out.Block, out.Cmd, out.Stdout, out.Stderr, out.ExitCode, out.DurationMS, out.CreatedAt,
	)
	if err != nil {
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	out.ID = id
	return nil
}

// GetOutputs returns the outputs of a run in execution order.
func (s *Store) GetOutputs(runID string) ([]*model.Output, error) {
	rows, err := s.db.Query(
		`SELECT id, run_id, block, cmd, stdout, stderr, exit_code, duration_ms, created_at
		 FROM outputs
		 WHERE run_id = ?
		 ORDER BY id ASC`,
		runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var outs []*model.Output
	for rows.Next() {
		o := &model.Output{}
		if err := rows.Scan(&o.ID, &o.RunID, &o.Block, &o.Cmd, &o.Stdout, &o.Stderr,
			&o.ExitCode, &o.DurationMS, &o.CreatedAt); err != nil {
			return nil, err
		}
		outs = append(outs, o)
	}
	return outs, rows.Err()
}

// --- Scan helpers ---

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	run := &model.Run{}
	err := row.Scan(
		&run.ID, &run.Path, &run.Dir, &run.Blocks, &run.Directed, &run.Status,
		&run.Image, &run.ContainerID, &run.Error, &run.CreatedAt, &run.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return run, nil
}

var _ store.RunStore = (*Store)(nil)
