package pipeline

import (
	"context"
	"time"
)

// Source collects rows for one warehouse table from an external dataset.
type Source interface {
	// Name is the stable identifier used in flags, the API, and the ledger.
	Name() string
	Cadence() Cadence
	Table() TableSpec
	// Collect fetches live rows from the upstream API.
	Collect(ctx context.Context) ([]Row, error)
	// Sample returns the bundled fallback rows used when live collection
	// fails and fallback is enabled.
	Sample() []Row
	// Key derives the dedup key for a row, or "" when the row has none.
	Key(row Row) string
}

// Warehouse persists rows and manages destination tables and views.
type Warehouse interface {
	EnsureTable(ctx context.Context, spec TableSpec) error
	// Load appends rows to the table and returns the number loaded.
	Load(ctx context.Context, spec TableSpec, rows []Row) (int, error)
	// ExistingKeys reports which of the given dedup keys were already
	// loaded within the recent lookback window.
	ExistingKeys(ctx context.Context, spec TableSpec, keys []string) (map[string]bool, error)
	Close() error
}

// RunStore persists run metadata.
type RunStore interface {
	CreateRun(ctx context.Context, run Run) error
	MarkRunStarted(ctx context.Context, runID string, started time.Time) error
	UpdateRunStatus(ctx context.Context, runID string, status RunStatus, errText string, counters RunCounters) error
	GetRun(ctx context.Context, runID string) (Run, error)
	ListRuns(ctx context.Context, source string, limit int) ([]Run, error)
	Close()
}

// Publisher pushes run-completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Queue provides enqueue/dequeue semantics for run requests.
type Queue interface {
	Enqueue(ctx context.Context, req RunRequest) error
	Dequeue(ctx context.Context) (RunRequest, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces run IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// RetryPolicy decides whether and when a failed upstream call is retried.
type RetryPolicy interface {
	ShouldRetry(err error, attempt int) bool
	Backoff(attempt int) time.Duration
}
