// Package pipeline defines core types shared across subsystems.
package pipeline

import "time"

// RunStatus represents the lifecycle state of a collection run.
type RunStatus string

// Run status values persisted in the run ledger.
const (
	RunStatusQueued    RunStatus = "queued"
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusPartial   RunStatus = "partial"
	RunStatusFailed    RunStatus = "failed"
)

// Trigger records what initiated a run.
type Trigger string

// Trigger values.
const (
	TriggerCLI Trigger = "cli"
	TriggerAPI Trigger = "api"
)

// Cadence is the batch schedule a source belongs to.
type Cadence string

// Cadence values. Weekly is the default collection set.
const (
	CadenceWeekly    Cadence = "weekly"
	CadenceMonthly   Cadence = "monthly"
	CadenceQuarterly Cadence = "quarterly"
)

// ParseCadence validates a cadence flag value.
func ParseCadence(s string) (Cadence, bool) {
	switch Cadence(s) {
	case CadenceWeekly, CadenceMonthly, CadenceQuarterly:
		return Cadence(s), true
	}
	return "", false
}

// Row is a single denormalized record bound for a warehouse table.
// Values must be JSON-marshalable; timestamps are RFC 3339 strings.
type Row map[string]any

// ColumnType is the warehouse-neutral column type of a table column.
type ColumnType string

// Column types supported by the warehouse layer.
const (
	ColumnString    ColumnType = "STRING"
	ColumnInteger   ColumnType = "INTEGER"
	ColumnFloat     ColumnType = "FLOAT"
	ColumnBoolean   ColumnType = "BOOLEAN"
	ColumnTimestamp ColumnType = "TIMESTAMP"
	ColumnDate      ColumnType = "DATE"
)

// ColumnSpec describes one column of a destination table.
type ColumnSpec struct {
	Name        string
	Type        ColumnType
	Required    bool
	Description string
}

// TableSpec describes the destination table for a source's rows.
// The warehouse appends the bookkeeping columns (run_id, collected_at,
// row_key, sampled) to every table; Columns lists domain columns only.
type TableSpec struct {
	Name           string
	Description    string
	Columns        []ColumnSpec
	PartitionField string
	Clustering     []string
	// KeyColumns form the natural key used for best-effort dedup.
	KeyColumns []string
}

// Bookkeeping column names stamped onto every row by the collector.
const (
	ColRunID       = "run_id"
	ColCollectedAt = "collected_at"
	ColRowKey      = "row_key"
	ColSampled     = "sampled"
)

// RunCounters tracks row dispositions for a run.
type RunCounters struct {
	RowsFetched int `json:"rows_fetched"`
	RowsDeduped int `json:"rows_deduped"`
	RowsLoaded  int `json:"rows_loaded"`
	RowsSampled int `json:"rows_sampled"`
}

// Run is the metadata persisted for each collection run.
type Run struct {
	ID        string      `json:"id"`
	Source    string      `json:"source"`
	Table     string      `json:"table"`
	Trigger   Trigger     `json:"trigger"`
	Status    RunStatus   `json:"status"`
	Submitted time.Time   `json:"submitted_at"`
	Started   *time.Time  `json:"started_at,omitempty"`
	Finished  *time.Time  `json:"finished_at,omitempty"`
	ErrorText string      `json:"error_text,omitempty"`
	Counters  RunCounters `json:"counters"`
}

// RunRequest wraps a run ready for a worker to execute.
type RunRequest struct {
	RunID          string
	Source         string
	Trigger        Trigger
	SampleFallback bool
	Submitted      int64
}

// RunEvent is published after a run finishes.
type RunEvent struct {
	RunID    string      `json:"run_id"`
	Source   string      `json:"source"`
	Table    string      `json:"table"`
	Status   RunStatus   `json:"status"`
	Counters RunCounters `json:"counters"`
	Finished time.Time   `json:"finished_at"`
}
