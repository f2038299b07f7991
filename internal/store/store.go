// Package store persists the harvested registry data. Two backends implement
// the same interface: SQLite (modernc, the default) and Postgres (pgx).
package store

import (
	"context"

	"github.com/sells-group/barharvest/internal/model"
)

// UpsertOutcome reports what an attorney upsert did.
type UpsertOutcome struct {
	// Created is true when the identity key was seen for the first time.
	Created bool
	// NameConflict is true when an existing record reported a different name
	// for the same identity key; the new name won and the caller logs it.
	NameConflict bool
}

// SearchFilter narrows attorney queries. Empty fields match everything.
// Limit <= 0 returns all matching rows.
type SearchFilter struct {
	Jurisdiction string
	Status       model.Status
	City         string
	Firm         string
	PracticeArea string
	Name         string
	Limit        int
}

// LabelCount is one aggregate bucket in Stats.
type LabelCount struct {
	Label string `json:"label"`
	Count int64  `json:"count"`
}

// Stats summarizes the store contents.
type Stats struct {
	TotalAttorneys   int64            `json:"total_attorneys"`
	ByJurisdiction   map[string]int64 `json:"by_jurisdiction"`
	ByStatus         map[string]int64 `json:"by_status"`
	TopPracticeAreas []LabelCount     `json:"top_practice_areas"`
	TopFirms         []LabelCount     `json:"top_firms"`
}

// Store is the persistence interface for the harvester.
//
// UpsertAttorney owns all writes to attorneys, firms, and practice areas: it
// resolves or creates the firm, upserts the record (mutable fields only for
// an existing key), and replaces the record's practice-area set with the one
// on a, all inside one transaction. Re-persisting identical input is a no-op
// beyond the updated_at timestamp.
//
// Checkpoint saves are atomic per source: a later load sees either the prior
// checkpoint or the new one, never a partial write.
type Store interface {
	// Records
	UpsertAttorney(ctx context.Context, a *model.Attorney) (UpsertOutcome, error)
	SearchAttorneys(ctx context.Context, f SearchFilter) ([]model.Attorney, error)
	Stats(ctx context.Context) (*Stats, error)

	// Checkpoints
	LoadCheckpoint(ctx context.Context, sourceName string) (*model.Checkpoint, error)
	SaveCheckpoint(ctx context.Context, sourceName, cursor string, countDelta int64) error
	ResetCheckpoint(ctx context.Context, sourceName string) error
	ListCheckpoints(ctx context.Context) ([]model.Checkpoint, error)

	// Run log (append-only)
	StartRun(ctx context.Context, sourceName string) (string, error)
	FinishRun(ctx context.Context, runID string, status model.RunStatus, stats model.RunStats, errMsg string) error
	ListRuns(ctx context.Context, limit int) ([]model.RunEntry, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
