// Package worker consumes queued run requests and executes them.
package worker

import (
	"context"

	"go.uber.org/zap"

	"github.com/badgerdata/marketpipe/internal/collector"
	"github.com/badgerdata/marketpipe/internal/metrics"
	"github.com/badgerdata/marketpipe/internal/pipeline"
)

// Worker pulls run requests off the queue and hands them to the engine.
type Worker struct {
	queue  pipeline.Queue
	engine *collector.Engine
	logger *zap.Logger
}

// New constructs a Worker.
func New(queue pipeline.Queue, engine *collector.Engine, logger *zap.Logger) *Worker {
	return &Worker{queue: queue, engine: engine, logger: logger}
}

// Run blocks, consuming run requests until the context finishes.
func (w *Worker) Run(ctx context.Context) {
	for {
		req, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued run",
			zap.String("run_id", req.RunID),
			zap.String("source", req.Source),
		)

		metrics.WorkerStarted()
		if err := w.engine.Execute(ctx, req); err != nil {
			w.logger.Error("run failed",
				zap.String("run_id", req.RunID),
				zap.String("source", req.Source),
				zap.Error(err),
			)
		}
		metrics.WorkerFinished()
	}
}
