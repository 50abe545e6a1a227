package collector

import (
	"context"
	"fmt"

	"github.com/badgerdata/marketpipe/internal/pipeline"
	"github.com/badgerdata/marketpipe/internal/source"
)

// Submitter records a queued run in the ledger and hands it to the queue.
// The CLI and the API both submit through it.
type Submitter struct {
	registry *source.Registry
	runs     pipeline.RunStore
	queue    pipeline.Queue
	clock    pipeline.Clock
	ids      pipeline.IDGenerator
}

// NewSubmitter constructs a Submitter.
func NewSubmitter(
	registry *source.Registry,
	runs pipeline.RunStore,
	queue pipeline.Queue,
	clock pipeline.Clock,
	ids pipeline.IDGenerator,
) *Submitter {
	return &Submitter{
		registry: registry,
		runs:     runs,
		queue:    queue,
		clock:    clock,
		ids:      ids,
	}
}

// Submit validates the source, persists a queued run, and enqueues it.
func (s *Submitter) Submit(ctx context.Context, sourceName string, trigger pipeline.Trigger, sampleFallback bool) (pipeline.Run, error) {
	src, ok := s.registry.Get(sourceName)
	if !ok {
		return pipeline.Run{}, fmt.Errorf("unknown source %q", sourceName)
	}

	id, err := s.ids.NewID()
	if err != nil {
		return pipeline.Run{}, fmt.Errorf("generate run id: %w", err)
	}

	now := s.clock.Now()
	run := pipeline.Run{
		ID:        id,
		Source:    sourceName,
		Table:     src.Table().Name,
		Trigger:   trigger,
		Status:    pipeline.RunStatusQueued,
		Submitted: now,
	}
	if err := s.runs.CreateRun(ctx, run); err != nil {
		return pipeline.Run{}, fmt.Errorf("create run: %w", err)
	}

	req := pipeline.RunRequest{
		RunID:          id,
		Source:         sourceName,
		Trigger:        trigger,
		SampleFallback: sampleFallback,
		Submitted:      now.Unix(),
	}
	if err := s.queue.Enqueue(ctx, req); err != nil {
		// The run row stays behind as failed so operators can see the
		// submission happened.
		_ = s.runs.UpdateRunStatus(ctx, id, pipeline.RunStatusFailed,
			fmt.Sprintf("enqueue: %v", err), pipeline.RunCounters{})
		return pipeline.Run{}, fmt.Errorf("enqueue run: %w", err)
	}
	return run, nil
}
