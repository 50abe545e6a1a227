package collector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/badgerdata/marketpipe/internal/metrics"
	"github.com/badgerdata/marketpipe/internal/pipeline"
	pubmemory "github.com/badgerdata/marketpipe/internal/publisher/memory"
	"github.com/badgerdata/marketpipe/internal/runstore"
	"github.com/badgerdata/marketpipe/internal/source"
	"github.com/badgerdata/marketpipe/internal/warehouse"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time { return c.t }

type fakeSource struct {
	name       string
	rows       []pipeline.Row
	sample     []pipeline.Row
	collectErr error
}

func (s *fakeSource) Name() string              { return s.name }
func (s *fakeSource) Cadence() pipeline.Cadence { return pipeline.CadenceWeekly }

func (s *fakeSource) Table() pipeline.TableSpec {
	return pipeline.TableSpec{
		Name: s.name + "_rows",
		Columns: []pipeline.ColumnSpec{
			{Name: "id", Type: pipeline.ColumnString, Required: true},
			{Name: "value", Type: pipeline.ColumnFloat},
		},
		KeyColumns: []string{"id"},
	}
}

func (s *fakeSource) Collect(context.Context) ([]pipeline.Row, error) {
	if s.collectErr != nil {
		return nil, s.collectErr
	}
	return clone(s.rows), nil
}

func (s *fakeSource) Sample() []pipeline.Row { return clone(s.sample) }

func (s *fakeSource) Key(row pipeline.Row) string {
	k, _ := row["id"].(string)
	return k
}

func clone(rows []pipeline.Row) []pipeline.Row {
	out := make([]pipeline.Row, len(rows))
	for i, r := range rows {
		c := make(pipeline.Row, len(r))
		for k, v := range r {
			c[k] = v
		}
		out[i] = c
	}
	return out
}

// failingKeysWarehouse wraps the memory warehouse with a broken dedup lookup.
type failingKeysWarehouse struct {
	*warehouse.Memory
}

func (w *failingKeysWarehouse) ExistingKeys(context.Context, pipeline.TableSpec, []string) (map[string]bool, error) {
	return nil, errors.New("query quota exceeded")
}

type engineFixture struct {
	engine    *Engine
	warehouse *warehouse.Memory
	runs      *runstore.Memory
	publisher *pubmemory.Publisher
	clock     *fakeClock
}

func newEngineFixture(t *testing.T, src pipeline.Source) engineFixture {
	t.Helper()
	metrics.Init()

	reg, err := source.NewRegistry(src)
	require.NoError(t, err)

	mem := warehouse.NewMemory()
	runs := runstore.NewMemory()
	pub := pubmemory.New()
	clk := &fakeClock{t: time.Date(2026, 8, 24, 6, 0, 0, 0, time.UTC)}

	eng := NewEngine(reg, mem, runs, pub, clk,
		Config{Topic: "marketpipe-runs", DedupBatchMaxKeys: 2}, zap.NewNop())
	return engineFixture{engine: eng, warehouse: mem, runs: runs, publisher: pub, clock: clk}
}

func queuedRun(t *testing.T, runs *runstore.Memory, id, src string, fallback bool) pipeline.RunRequest {
	t.Helper()
	require.NoError(t, runs.CreateRun(context.Background(), pipeline.Run{
		ID: id, Source: src, Status: pipeline.RunStatusQueued,
		Submitted: time.Date(2026, 8, 24, 5, 59, 0, 0, time.UTC),
	}))
	return pipeline.RunRequest{RunID: id, Source: src, Trigger: pipeline.TriggerCLI, SampleFallback: fallback}
}

func TestExecuteLoadsRowsAndStampsBookkeeping(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{name: "dfi", rows: []pipeline.Row{
		{"id": "a", "value": 1.0},
		{"id": "b", "value": 2.0},
	}}
	f := newEngineFixture(t, src)
	req := queuedRun(t, f.runs, "run-1", "dfi", false)

	require.NoError(t, f.engine.Execute(ctx, req))

	rows := f.warehouse.Rows("dfi_rows")
	require.Len(t, rows, 2)
	for _, row := range rows {
		require.Equal(t, "run-1", row[pipeline.ColRunID])
		require.Equal(t, "2026-08-24T06:00:00Z", row[pipeline.ColCollectedAt])
		require.Equal(t, false, row[pipeline.ColSampled])
		require.NotEmpty(t, row[pipeline.ColRowKey])
	}

	run, err := f.runs.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, pipeline.RunStatusSucceeded, run.Status)
	require.Equal(t, 2, run.Counters.RowsFetched)
	require.Equal(t, 2, run.Counters.RowsLoaded)
	require.Zero(t, run.Counters.RowsDeduped)

	msgs := f.publisher.Messages()
	require.Len(t, msgs, 1)
	event, ok := msgs[0].Payload.(pipeline.RunEvent)
	require.True(t, ok)
	require.Equal(t, pipeline.RunStatusSucceeded, event.Status)
	require.Equal(t, "dfi_rows", event.Table)
}

func TestExecuteDedupsRepeatRows(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{name: "dfi", rows: []pipeline.Row{
		{"id": "a", "value": 1.0},
		{"id": "b", "value": 2.0},
		{"id": "c", "value": 3.0},
	}}
	f := newEngineFixture(t, src)

	require.NoError(t, f.engine.Execute(ctx, queuedRun(t, f.runs, "run-1", "dfi", false)))
	require.NoError(t, f.engine.Execute(ctx, queuedRun(t, f.runs, "run-2", "dfi", false)))

	// Second run found every natural key already loaded.
	require.Len(t, f.warehouse.Rows("dfi_rows"), 3)

	run, err := f.runs.GetRun(ctx, "run-2")
	require.NoError(t, err)
	require.Equal(t, pipeline.RunStatusSucceeded, run.Status)
	require.Equal(t, 3, run.Counters.RowsFetched)
	require.Equal(t, 3, run.Counters.RowsDeduped)
	require.Zero(t, run.Counters.RowsLoaded)
}

func TestExecuteFallsBackToSampleRows(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{
		name:       "sba",
		collectErr: errors.New("upstream 503"),
		sample:     []pipeline.Row{{"id": "s1", "value": 9.0}},
	}
	f := newEngineFixture(t, src)
	req := queuedRun(t, f.runs, "run-1", "sba", true)

	require.NoError(t, f.engine.Execute(ctx, req))

	rows := f.warehouse.Rows("sba_rows")
	require.Len(t, rows, 1)
	require.Equal(t, true, rows[0][pipeline.ColSampled])

	run, err := f.runs.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, pipeline.RunStatusPartial, run.Status)
	require.Equal(t, 1, run.Counters.RowsSampled)
}

func TestExecuteFailsWithoutFallback(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{
		name:       "sba",
		collectErr: errors.New("upstream 503"),
		sample:     []pipeline.Row{{"id": "s1"}},
	}
	f := newEngineFixture(t, src)
	req := queuedRun(t, f.runs, "run-1", "sba", false)

	require.Error(t, f.engine.Execute(ctx, req))

	run, err := f.runs.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, pipeline.RunStatusFailed, run.Status)
	require.Contains(t, run.ErrorText, "upstream 503")
	require.Empty(t, f.warehouse.Rows("sba_rows"))
}

func TestExecuteKeepsRowsWhenDedupCheckFails(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{name: "bls", rows: []pipeline.Row{{"id": "x", "value": 1.0}}}

	broken := &failingKeysWarehouse{Memory: warehouse.NewMemory()}
	f := newEngineFixture(t, src)
	// Rebuild the engine around the broken warehouse, keeping the fixture's
	// ledger and publisher.
	reg, err := source.NewRegistry(src)
	require.NoError(t, err)
	f.engine = NewEngine(reg, broken, f.runs, f.publisher, f.clock,
		Config{DedupBatchMaxKeys: 10}, zap.NewNop())

	require.NoError(t, f.engine.Execute(ctx, queuedRun(t, f.runs, "run-1", "bls", false)))

	require.Len(t, broken.Rows("bls_rows"), 1)
	run, err := f.runs.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, pipeline.RunStatusSucceeded, run.Status)
	require.Zero(t, run.Counters.RowsDeduped)
}

func TestExecuteUnknownSource(t *testing.T) {
	ctx := context.Background()
	src := &fakeSource{name: "dfi"}
	f := newEngineFixture(t, src)
	req := queuedRun(t, f.runs, "run-1", "nope", false)

	require.Error(t, f.engine.Execute(ctx, req))

	run, err := f.runs.GetRun(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, pipeline.RunStatusFailed, run.Status)
}
