// Package collector executes collection runs: fetch, stamp, dedup, load,
// record, notify.
package collector

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/badgerdata/marketpipe/internal/hash/sha256"
	"github.com/badgerdata/marketpipe/internal/logging"
	"github.com/badgerdata/marketpipe/internal/metrics"
	"github.com/badgerdata/marketpipe/internal/pipeline"
	"github.com/badgerdata/marketpipe/internal/source"
)

// Config controls Engine behavior.
type Config struct {
	// Topic is the Pub/Sub topic for run-completion events. Empty disables
	// publishing.
	Topic string
	// RunTimeout bounds the wall time of one run. Zero means no bound.
	RunTimeout time.Duration
	// DedupBatchMaxKeys caps how many keys one ExistingKeys call carries.
	DedupBatchMaxKeys int
}

// Engine runs one collection end to end against a source.
type Engine struct {
	registry  *source.Registry
	warehouse pipeline.Warehouse
	runs      pipeline.RunStore
	publisher pipeline.Publisher
	clock     pipeline.Clock
	cfg       Config
	logger    *zap.Logger
}

// NewEngine constructs an Engine.
func NewEngine(
	registry *source.Registry,
	warehouse pipeline.Warehouse,
	runs pipeline.RunStore,
	publisher pipeline.Publisher,
	clock pipeline.Clock,
	cfg Config,
	logger *zap.Logger,
) *Engine {
	if cfg.DedupBatchMaxKeys <= 0 {
		cfg.DedupBatchMaxKeys = 5000
	}
	return &Engine{
		registry:  registry,
		warehouse: warehouse,
		runs:      runs,
		publisher: publisher,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Execute performs the run described by req and records the outcome in the
// ledger. The returned error reflects the run outcome; ledger and publish
// bookkeeping failures are logged, not returned.
func (e *Engine) Execute(ctx context.Context, req pipeline.RunRequest) error {
	log := logging.ForRun(e.logger, req.RunID, req.Source)

	src, ok := e.registry.Get(req.Source)
	if !ok {
		err := fmt.Errorf("unknown source %q", req.Source)
		e.finish(ctx, log, req, "", pipeline.RunStatusFailed, err.Error(), pipeline.RunCounters{}, nil)
		return err
	}
	spec := src.Table()

	if err := e.runs.MarkRunStarted(ctx, req.RunID, e.clock.Now()); err != nil {
		log.Error("mark run started failed", zap.Error(err))
	}

	runCtx := ctx
	if e.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.cfg.RunTimeout)
		defer cancel()
	}

	started := e.clock.Now()
	counters := pipeline.RunCounters{}

	rows, sampled, err := e.fetch(runCtx, log, src, req.SampleFallback)
	if err != nil {
		counters.RowsFetched = 0
		e.finish(ctx, log, req, spec.Name, pipeline.RunStatusFailed, err.Error(), counters, &started)
		return err
	}
	counters.RowsFetched = len(rows)

	collectedAt := e.clock.Now().UTC()
	for _, row := range rows {
		row[pipeline.ColRunID] = req.RunID
		row[pipeline.ColCollectedAt] = collectedAt.Format(time.RFC3339)
		row[pipeline.ColSampled] = sampled
		if key := src.Key(row); key != "" {
			row[pipeline.ColRowKey] = sha256.Fingerprint(spec.Name, key)
		}
	}

	rows, deduped := e.dedup(runCtx, log, src, spec, rows)
	counters.RowsDeduped = deduped

	if err := e.warehouse.EnsureTable(runCtx, spec); err != nil {
		e.finish(ctx, log, req, spec.Name, pipeline.RunStatusFailed, err.Error(), counters, &started)
		return fmt.Errorf("ensure table %s: %w", spec.Name, err)
	}

	loaded, err := e.warehouse.Load(runCtx, spec, rows)
	if err != nil {
		e.finish(ctx, log, req, spec.Name, pipeline.RunStatusFailed, err.Error(), counters, &started)
		return fmt.Errorf("load %s: %w", spec.Name, err)
	}
	counters.RowsLoaded = loaded
	if sampled {
		counters.RowsSampled = loaded
	}

	status := pipeline.RunStatusSucceeded
	if sampled {
		// Sample rows keep the pipeline moving but the run is not a clean
		// collection.
		status = pipeline.RunStatusPartial
	}

	metrics.CountRows(req.Source, "loaded", counters.RowsLoaded)
	metrics.CountRows(req.Source, "deduped", counters.RowsDeduped)
	metrics.CountRows(req.Source, "sampled", counters.RowsSampled)

	e.finish(ctx, log, req, spec.Name, status, "", counters, &started)
	log.Info("run complete",
		zap.String("status", string(status)),
		zap.Int("rows_fetched", counters.RowsFetched),
		zap.Int("rows_deduped", counters.RowsDeduped),
		zap.Int("rows_loaded", counters.RowsLoaded),
	)
	return nil
}

// fetch collects live rows, falling back to bundled samples when allowed.
func (e *Engine) fetch(ctx context.Context, log *zap.Logger, src pipeline.Source, allowFallback bool) ([]pipeline.Row, bool, error) {
	rows, err := src.Collect(ctx)
	if err == nil {
		return rows, false, nil
	}
	if !allowFallback {
		return nil, false, fmt.Errorf("collect: %w", err)
	}
	sample := src.Sample()
	if len(sample) == 0 {
		return nil, false, fmt.Errorf("collect (no sample fallback available): %w", err)
	}
	log.Warn("live collection failed, loading bundled sample rows", zap.Error(err))
	metrics.CountSampleFallback(src.Name())
	return sample, true, nil
}

// dedup drops rows whose row_key was loaded recently. Lookup failures are
// advisory: the batch is kept and the failure is counted.
func (e *Engine) dedup(ctx context.Context, log *zap.Logger, src pipeline.Source, spec pipeline.TableSpec, rows []pipeline.Row) ([]pipeline.Row, int) {
	keys := make([]string, 0, len(rows))
	for _, row := range rows {
		if k, _ := row[pipeline.ColRowKey].(string); k != "" {
			keys = append(keys, k)
		}
	}
	if len(keys) == 0 {
		return rows, 0
	}

	existing := make(map[string]bool)
	for start := 0; start < len(keys); start += e.cfg.DedupBatchMaxKeys {
		end := start + e.cfg.DedupBatchMaxKeys
		if end > len(keys) {
			end = len(keys)
		}
		batch, err := e.warehouse.ExistingKeys(ctx, spec, keys[start:end])
		if err != nil {
			log.Warn("duplicate check failed, loading batch unchecked", zap.Error(err))
			metrics.CountDedupCheckFailure(src.Name())
			return rows, 0
		}
		for k := range batch {
			existing[k] = true
		}
	}
	if len(existing) == 0 {
		return rows, 0
	}

	kept := rows[:0]
	dropped := 0
	for _, row := range rows {
		if k, _ := row[pipeline.ColRowKey].(string); k != "" && existing[k] {
			dropped++
			continue
		}
		kept = append(kept, row)
	}
	return kept, dropped
}

// finish records the outcome in the ledger, emits metrics, and publishes the
// run event.
func (e *Engine) finish(ctx context.Context, log *zap.Logger, req pipeline.RunRequest, table string, status pipeline.RunStatus, errText string, counters pipeline.RunCounters, started *time.Time) {
	if err := e.runs.UpdateRunStatus(ctx, req.RunID, status, errText, counters); err != nil {
		log.Error("run status update failed", zap.Error(err))
	}
	metrics.CountRun(req.Source, string(status))
	if started != nil {
		metrics.ObserveCollection(req.Source, e.clock.Now().Sub(*started))
	}

	if e.publisher == nil || e.cfg.Topic == "" {
		return
	}
	event := pipeline.RunEvent{
		RunID:    req.RunID,
		Source:   req.Source,
		Table:    table,
		Status:   status,
		Counters: counters,
		Finished: e.clock.Now().UTC(),
	}
	if _, err := e.publisher.Publish(ctx, e.cfg.Topic, event); err != nil {
		log.Warn("run event publish failed", zap.Error(err))
	}
}
