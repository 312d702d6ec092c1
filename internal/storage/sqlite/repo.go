// Package sqlite implements storage.Repository on SQLite via modernc.org/sqlite.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"formmap/internal/storage"
)

// Repo implements storage.Repository for SQLite.
//
// SQLite has no native timestamp type; modernc.org/sqlite stores whatever the
// driver hands it with TEXT affinity. Timestamps are therefore stored as
// RFC3339Nano strings for reliable round-trip behavior and easy debugging.
type Repo struct {
	db *sql.DB
}

func init() {
	storage.Register("sqlite", New)
}

func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db}, nil
}

func (r *Repo) Close() { _ = r.db.Close() }

func (r *Repo) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS form_runs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			source_url TEXT NOT NULL,
			analyzed_at TEXT NOT NULL,
			elements_total INTEGER NOT NULL,
			fields_mapped INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS form_assignments (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id INTEGER NOT NULL REFERENCES form_runs(id),
			field_key TEXT NOT NULL,
			element_index INTEGER NOT NULL,
			tag_name TEXT NOT NULL,
			input_type TEXT NOT NULL DEFAULT '',
			attr_name TEXT NOT NULL DEFAULT '',
			attr_id TEXT NOT NULL DEFAULT '',
			score INTEGER NOT NULL,
			provenance TEXT NOT NULL,
			required INTEGER NOT NULL,
			auto_action TEXT NOT NULL DEFAULT '',
			copy_from_field TEXT NOT NULL DEFAULT '',
			UNIQUE (run_id, field_key)
		)`,
	}
	for _, s := range stmts {
		if _, err := r.db.ExecContext(ctx, s); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// SaveRun inserts the run row and its assignments in one transaction.
//
// A UNIQUE(run_id, field_key) violation means the caller produced two
// assignments for one key within a run, which is a mapping bug; it surfaces
// as an error rather than being silently ignored.
func (r *Repo) SaveRun(ctx context.Context, run *storage.RunRecord) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO form_runs (source_url, analyzed_at, elements_total, fields_mapped)
		 VALUES (?, ?, ?, ?)`,
		run.SourceURL,
		run.AnalyzedAt.UTC().Format(time.RFC3339Nano),
		run.ElementsTotal,
		run.FieldsMapped,
	)
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}
	runID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO form_assignments
		 (run_id, field_key, element_index, tag_name, input_type, attr_name, attr_id,
		  score, provenance, required, auto_action, copy_from_field)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	for _, a := range run.Assignments {
		req := 0
		if a.Required {
			req = 1
		}
		if _, err := stmt.ExecContext(ctx,
			runID, a.FieldKey, a.ElementIndex, a.TagName, a.InputType, a.AttrName, a.AttrID,
			a.Score, a.Provenance, req, a.AutoAction, a.CopyFromField,
		); err != nil {
			return 0, fmt.Errorf("insert assignment %s: %w", a.FieldKey, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return runID, nil
}
