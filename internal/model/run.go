package model

import "time"

// RunStatus is the terminal (or in-flight) state of one harvest run for a source.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	// RunStatusAborted covers every early stop, resumable ones included: the
	// source's checkpoint survives the abort, so the next run picks up from
	// it rather than restarting.
	RunStatusAborted RunStatus = "aborted"
)

// RunStats aggregates per-run counters. Reported on every terminal
// transition, including aborts. Failed counts records that failed to parse
// (rejected identity keys); Skipped counts whole pages skipped after a
// permanent fetch failure.
type RunStats struct {
	Pages         int64 `json:"pages"`
	Fetched       int64 `json:"fetched"`
	Persisted     int64 `json:"persisted"`
	Skipped       int64 `json:"skipped"`
	Failed        int64 `json:"failed"`
	NameConflicts int64 `json:"name_conflicts,omitempty"`
}

// RunEntry is one append-only run_log row: a single orchestration attempt
// for a single source.
type RunEntry struct {
	ID          string     `json:"id"`
	Source      string     `json:"source"`
	Status      RunStatus  `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Stats       RunStats   `json:"stats"`
	Error       string     `json:"error,omitempty"`
}

// Checkpoint is the durable resume point for one source: the cursor of the
// next page to fetch plus bookkeeping. Overwritten atomically after each
// persisted page, cleared only by an explicit reset.
type Checkpoint struct {
	Source       string    `json:"source"`
	Cursor       string    `json:"cursor"`
	UpdatedAt    time.Time `json:"updated_at"`
	RecordsCount int64     `json:"records_count"`
}
