package runstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/badgerdata/marketpipe/internal/pipeline"
)

// Memory is an in-memory RunStore for tests and local development.
type Memory struct {
	mu   sync.Mutex
	runs map[string]pipeline.Run
}

var _ pipeline.RunStore = (*Memory)(nil)

// NewMemory creates an empty in-memory run store.
func NewMemory() *Memory {
	return &Memory{runs: make(map[string]pipeline.Run)}
}

// CreateRun stores a new run.
func (m *Memory) CreateRun(_ context.Context, run pipeline.Run) error {
	if run.ID == "" {
		return fmt.Errorf("run id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[run.ID]; ok {
		return fmt.Errorf("run %s already exists", run.ID)
	}
	m.runs[run.ID] = run
	return nil
}

// MarkRunStarted transitions a run to running.
func (m *Memory) MarkRunStarted(_ context.Context, runID string, started time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return fmt.Errorf("mark run %s started: %w", runID, ErrRunNotFound)
	}
	run.Status = pipeline.RunStatusRunning
	run.Started = &started
	m.runs[runID] = run
	return nil
}

// UpdateRunStatus records the run outcome and counters.
func (m *Memory) UpdateRunStatus(_ context.Context, runID string, status pipeline.RunStatus, errText string, counters pipeline.RunCounters) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return fmt.Errorf("update run %s: %w", runID, ErrRunNotFound)
	}
	run.Status = status
	run.ErrorText = errText
	run.Counters = counters
	switch status {
	case pipeline.RunStatusSucceeded, pipeline.RunStatusPartial, pipeline.RunStatusFailed:
		now := time.Now().UTC()
		run.Finished = &now
	}
	m.runs[runID] = run
	return nil
}

// GetRun fetches a run by id.
func (m *Memory) GetRun(_ context.Context, runID string) (pipeline.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[runID]
	if !ok {
		return pipeline.Run{}, fmt.Errorf("get run %s: %w", runID, ErrRunNotFound)
	}
	return run, nil
}

// ListRuns returns runs newest first, optionally filtered by source.
func (m *Memory) ListRuns(_ context.Context, source string, limit int) ([]pipeline.Run, error) {
	if limit <= 0 {
		limit = 50
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	runs := make([]pipeline.Run, 0, len(m.runs))
	for _, run := range m.runs {
		if source != "" && run.Source != source {
			continue
		}
		runs = append(runs, run)
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].Submitted.After(runs[j].Submitted)
	})
	if len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// Close implements pipeline.RunStore.
func (m *Memory) Close() {}
