// Package storage persists form-analysis runs for auditing. Each run records
// the page analyzed, counts, and one row per accepted field assignment.
//
// Backends register themselves under a kind string; the application picks one
// by configuration. The mapping engine itself never imports this package:
// persistence is strictly a caller concern.
package storage

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Config selects and configures a backend.
//
// Edge cases:
//   - Kind must be non-empty and must match a registered backend kind.
//   - DSN is passed through to the backend factory; validation is
//     backend-specific.
type Config struct {
	Kind string `json:"kind"`
	DSN  string `json:"dsn"`
}

// RunRecord is one persisted analysis of one page.
type RunRecord struct {
	SourceURL     string
	AnalyzedAt    time.Time
	ElementsTotal int
	FieldsMapped  int
	Assignments   []AssignmentRecord
}

// AssignmentRecord is one accepted field -> element assignment within a run.
type AssignmentRecord struct {
	FieldKey      string
	ElementIndex  int
	TagName       string
	InputType     string
	AttrName      string
	AttrID        string
	Score         int
	Provenance    string
	Required      bool
	AutoAction    string
	CopyFromField string
}

// Repository is the backend-agnostic persistence interface.
//
// IMPORTANT: intentionally minimal. Each backend implements these semantics
// in its own idiomatic way (Postgres RETURNING, SQL Server OUTPUT, etc).
type Repository interface {
	// EnsureSchema creates tables as needed. Create-if-not-exists semantics
	// keep startup idempotent.
	EnsureSchema(ctx context.Context) error

	// SaveRun persists one run and its assignments atomically and returns the
	// new run id. A run with zero assignments is still a valid record.
	SaveRun(ctx context.Context, run *RunRecord) (int64, error)

	// Close releases backend resources. Treat as "call once".
	Close()
}

type factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]factory{}
)

// Register registers a backend under a kind (e.g. "postgres", "sqlite").
//
// Call Register from an init() function in a backend package. Registering the
// same kind twice panics, to fail fast on ambiguous backend selection.
func Register(kind string, f factory) {
	mu.Lock()
	defer mu.Unlock()

	if kind == "" {
		panic("storage: Register called with empty kind")
	}
	if f == nil {
		panic("storage: Register called with nil factory")
	}
	if _, exists := factories[kind]; exists {
		panic(fmt.Sprintf("storage: factory already registered for kind=%q", kind))
	}

	factories[kind] = f
}

// New constructs a Repository using the registered backend factory.
//
// Safe for concurrent use with Register. Returns an error if cfg.Kind is
// empty or unsupported, plus whatever error the factory returns.
func New(ctx context.Context, cfg Config) (Repository, error) {
	if cfg.Kind == "" {
		return nil, fmt.Errorf("storage: missing kind")
	}

	mu.RLock()
	f := factories[cfg.Kind]
	mu.RUnlock()

	if f == nil {
		return nil, fmt.Errorf("unsupported storage kind=%s", cfg.Kind)
	}
	return f(ctx, cfg)
}
