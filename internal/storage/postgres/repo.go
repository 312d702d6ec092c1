// Package postgres implements storage.Repository on Postgres via pgx.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"formmap/internal/storage"
)

// Repo implements storage.Repository for Postgres.
type Repo struct {
	pool *pgxpool.Pool
}

// New creates a Postgres-backed Repo. The pool validates lazily; connection
// errors surface on the first query, not here.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	return &Repo{pool: pool}, nil
}

// Close closes the connection pool.
func (r *Repo) Close() {
	r.pool.Close()
}

func (r *Repo) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS form_runs (
			id BIGSERIAL PRIMARY KEY,
			source_url TEXT NOT NULL,
			analyzed_at TIMESTAMPTZ NOT NULL,
			elements_total INT NOT NULL,
			fields_mapped INT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS form_assignments (
			id BIGSERIAL PRIMARY KEY,
			run_id BIGINT NOT NULL REFERENCES form_runs(id),
			field_key TEXT NOT NULL,
			element_index INT NOT NULL,
			tag_name TEXT NOT NULL,
			input_type TEXT NOT NULL DEFAULT '',
			attr_name TEXT NOT NULL DEFAULT '',
			attr_id TEXT NOT NULL DEFAULT '',
			score INT NOT NULL,
			provenance TEXT NOT NULL,
			required BOOLEAN NOT NULL,
			auto_action TEXT NOT NULL DEFAULT '',
			copy_from_field TEXT NOT NULL DEFAULT '',
			UNIQUE (run_id, field_key)
		)`,
	}
	for _, s := range stmts {
		if _, err := r.pool.Exec(ctx, s); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

// SaveRun inserts the run row and its assignments in one transaction.
func (r *Repo) SaveRun(ctx context.Context, run *storage.RunRecord) (int64, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var runID int64
	err = tx.QueryRow(ctx,
		`INSERT INTO form_runs (source_url, analyzed_at, elements_total, fields_mapped)
		 VALUES ($1, $2, $3, $4) RETURNING id`,
		run.SourceURL, run.AnalyzedAt, run.ElementsTotal, run.FieldsMapped,
	).Scan(&runID)
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}

	for _, a := range run.Assignments {
		if _, err := tx.Exec(ctx,
			`INSERT INTO form_assignments
			 (run_id, field_key, element_index, tag_name, input_type, attr_name, attr_id,
			  score, provenance, required, auto_action, copy_from_field)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
			runID, a.FieldKey, a.ElementIndex, a.TagName, a.InputType, a.AttrName, a.AttrID,
			a.Score, a.Provenance, a.Required, a.AutoAction, a.CopyFromField,
		); err != nil {
			return 0, fmt.Errorf("insert assignment %s: %w", a.FieldKey, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return runID, nil
}
