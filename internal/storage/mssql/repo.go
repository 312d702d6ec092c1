// Package mssql implements storage.Repository on Microsoft SQL Server.
package mssql

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/microsoft/go-mssqldb"

	"formmap/internal/storage"
)

// Repo implements storage.Repository for SQL Server.
//
// Schema notes:
//   - IDENTITY columns replace the serial/autoincrement forms of the other
//     backends; SaveRun uses OUTPUT INSERTED.id to fetch the run id.
//   - BIT stands in for boolean.
type Repo struct {
	db *sql.DB
}

func init() {
	storage.Register("mssql", New)
}

// New constructs a Repo using database/sql and the "sqlserver" driver, and
// validates connectivity via PingContext.
func New(ctx context.Context, cfg storage.Config) (storage.Repository, error) {
	db, err := sql.Open("sqlserver", cfg.DSN)
	if err != nil {
		return nil, err
	}

	// Conservative defaults for bursty crawl-style loads.
	db.SetMaxOpenConns(64)
	db.SetMaxIdleConns(64)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db}, nil
}

func (r *Repo) Close() {
	if r == nil || r.db == nil {
		return
	}
	_ = r.db.Close()
}

func (r *Repo) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`IF OBJECT_ID('form_runs', 'U') IS NULL
		CREATE TABLE form_runs (
			id BIGINT IDENTITY(1,1) PRIMARY KEY,
			source_url NVARCHAR(2048) NOT NULL,
			analyzed_at DATETIMEOFFSET NOT NULL,
			elements_total INT NOT NULL,
			fields_mapped INT NOT NULL
		)`,
		`IF OBJECT_ID('form_assignments', 'U') IS NULL
		CREATE TABLE form_assignments (
			id BIGINT IDENTITY(1,1) PRIMARY KEY,
			run_id BIGINT NOT NULL REFERENCES form_runs(id),
			field_key NVARCHAR(256) NOT NULL,
			element_index INT NOT NULL,
			tag_name NVARCHAR(32) NOT NULL,
			input_type NVARCHAR(32) NOT NULL DEFAULT '',
			attr_name NVARCHAR(512) NOT NULL DEFAULT '',
			attr_id NVARCHAR(512) NOT NULL DEFAULT '',
			score INT NOT NULL,
			provenance NVARCHAR(64) NOT NULL,
			required BIT NOT NULL,
			auto_action NVARCHAR(32) NOT NULL DEFAULT '',
			copy_from_field NVARCHAR(256) NOT NULL DEFAULT '',
			CONSTRAINT uq_form_assignments_run_key UNIQUE (run_id, field_key)
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
func (r *Repo) SaveRun(ctx context.Context, run *storage.RunRecord) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var runID int64
	err = tx.QueryRowContext(ctx,
		`INSERT INTO form_runs (source_url, analyzed_at, elements_total, fields_mapped)
		 OUTPUT INSERTED.id
		 VALUES (@p1, @p2, @p3, @p4)`,
		run.SourceURL, run.AnalyzedAt, run.ElementsTotal, run.FieldsMapped,
	).Scan(&runID)
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}

	for _, a := range run.Assignments {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO form_assignments
			 (run_id, field_key, element_index, tag_name, input_type, attr_name, attr_id,
			  score, provenance, required, auto_action, copy_from_field)
			 VALUES (@p1, @p2, @p3, @p4, @p5, @p6, @p7, @p8, @p9, @p10, @p11, @p12)`,
			runID, a.FieldKey, a.ElementIndex, a.TagName, a.InputType, a.AttrName, a.AttrID,
			a.Score, a.Provenance, a.Required, a.AutoAction, a.CopyFromField,
		); err != nil {
			return 0, fmt.Errorf("insert assignment %s: %w", a.FieldKey, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return runID, nil
}
