package collector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/badgerdata/marketpipe/internal/pipeline"
	queuememory "github.com/badgerdata/marketpipe/internal/queue/memory"
	"github.com/badgerdata/marketpipe/internal/runstore"
	"github.com/badgerdata/marketpipe/internal/source"
)

type seqIDs struct {
	n   int
	err error
}

func (g *seqIDs) NewID() (string, error) {
	if g.err != nil {
		return "", g.err
	}
	g.n++
	return string(rune('0' + g.n)), nil
}

func TestSubmitQueuesRun(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	src := &fakeSource{name: "traffic"}
	reg, err := source.NewRegistry(src)
	require.NoError(t, err)

	runs := runstore.NewMemory()
	q := queuememory.NewQueue(4)
	clk := &fakeClock{t: time.Date(2026, 8, 24, 6, 0, 0, 0, time.UTC)}

	sub := NewSubmitter(reg, runs, q, clk, &seqIDs{})
	run, err := sub.Submit(ctx, "traffic", pipeline.TriggerAPI, true)
	require.NoError(t, err)
	require.Equal(t, pipeline.RunStatusQueued, run.Status)
	require.Equal(t, "traffic_rows", run.Table)

	stored, err := runs.GetRun(ctx, run.ID)
	require.NoError(t, err)
	require.Equal(t, pipeline.RunStatusQueued, stored.Status)

	req, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, run.ID, req.RunID)
	require.True(t, req.SampleFallback)
	require.Equal(t, pipeline.TriggerAPI, req.Trigger)
}

func TestSubmitUnknownSource(t *testing.T) {
	t.Parallel()

	reg, err := source.NewRegistry(&fakeSource{name: "traffic"})
	require.NoError(t, err)
	sub := NewSubmitter(reg, runstore.NewMemory(), queuememory.NewQueue(1),
		&fakeClock{t: time.Now()}, &seqIDs{})

	_, err = sub.Submit(context.Background(), "census", pipeline.TriggerCLI, false)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown source")
}

func TestSubmitIDGenerationFailure(t *testing.T) {
	t.Parallel()

	reg, err := source.NewRegistry(&fakeSource{name: "traffic"})
	require.NoError(t, err)
	sub := NewSubmitter(reg, runstore.NewMemory(), queuememory.NewQueue(1),
		&fakeClock{t: time.Now()}, &seqIDs{err: errors.New("entropy exhausted")})

	_, err = sub.Submit(context.Background(), "traffic", pipeline.TriggerCLI, false)
	require.Error(t, err)
}

func TestSubmitMarksRunFailedWhenQueueIsFull(t *testing.T) {
	t.Parallel()

	reg, err := source.NewRegistry(&fakeSource{name: "traffic"})
	require.NoError(t, err)
	runs := runstore.NewMemory()
	q := queuememory.NewQueue(1)
	sub := NewSubmitter(reg, runs, q, &fakeClock{t: time.Now()}, &seqIDs{})

	ctx := context.Background()
	_, err = sub.Submit(ctx, "traffic", pipeline.TriggerCLI, false)
	require.NoError(t, err)

	full, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = sub.Submit(full, "traffic", pipeline.TriggerCLI, false)
	require.Error(t, err)

	listed, err := runs.ListRuns(ctx, "traffic", 10)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	var failed bool
	for _, r := range listed {
		if r.Status == pipeline.RunStatusFailed {
			failed = true
			require.Contains(t, r.ErrorText, "enqueue")
		}
	}
	require.True(t, failed)
}
