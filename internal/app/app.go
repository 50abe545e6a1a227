// Package app initializes and holds long-lived application services,
// acting as a dependency injection container.
package app

import (
	"context"
	"fmt"
	"io"
	"time"

	gcppubsub "cloud.google.com/go/pubsub"
	"go.uber.org/zap"

	"github.com/badgerdata/marketpipe/internal/clock/system"
	"github.com/badgerdata/marketpipe/internal/collector"
	"github.com/badgerdata/marketpipe/internal/config"
	"github.com/badgerdata/marketpipe/internal/id/uuid"
	"github.com/badgerdata/marketpipe/internal/logging"
	"github.com/badgerdata/marketpipe/internal/metrics"
	"github.com/badgerdata/marketpipe/internal/pipeline"
	pubmemory "github.com/badgerdata/marketpipe/internal/publisher/memory"
	pubgcp "github.com/badgerdata/marketpipe/internal/publisher/pubsub"
	queuememory "github.com/badgerdata/marketpipe/internal/queue/memory"
	"github.com/badgerdata/marketpipe/internal/runstore"
	"github.com/badgerdata/marketpipe/internal/source"
	"github.com/badgerdata/marketpipe/internal/source/bls"
	"github.com/badgerdata/marketpipe/internal/source/census"
	"github.com/badgerdata/marketpipe/internal/source/dfi"
	"github.com/badgerdata/marketpipe/internal/source/fcc"
	"github.com/badgerdata/marketpipe/internal/source/places"
	"github.com/badgerdata/marketpipe/internal/source/sba"
	"github.com/badgerdata/marketpipe/internal/source/traffic"
	"github.com/badgerdata/marketpipe/internal/warehouse"
)

// App holds the shared, long-lived services. It is built once in the root
// command's PersistentPreRunE and torn down in PersistentPostRun.
type App struct {
	Config    config.Config
	Logger    *zap.Logger
	Registry  *source.Registry
	Warehouse pipeline.Warehouse
	Runs      pipeline.RunStore
	Queue     *queuememory.Queue
	Publisher pipeline.Publisher
	Engine    *collector.Engine
	Submitter *collector.Submitter
	Clock     pipeline.Clock
	IDs       pipeline.IDGenerator
}

// New loads configuration and constructs every service the commands need.
// It fails fast when a configured backend cannot be reached.
func New(ctx context.Context, cfgPath string) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	metrics.Init()

	clk := system.New()
	ids := uuid.NewUUIDGenerator()

	wh, err := buildWarehouse(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	runs, err := buildRunStore(ctx, cfg, logger)
	if err != nil {
		_ = wh.Close()
		return nil, err
	}

	pub, err := buildPublisher(ctx, cfg, logger)
	if err != nil {
		runs.Close()
		_ = wh.Close()
		return nil, err
	}

	registry, err := buildRegistry(cfg)
	if err != nil {
		runs.Close()
		_ = wh.Close()
		return nil, err
	}

	queue := queuememory.NewQueue(cfg.Collector.QueueDepth)
	engine := collector.NewEngine(registry, wh, runs, pub, clk, collector.Config{
		Topic:             cfg.PubSub.TopicName,
		RunTimeout:        cfg.RunTimeout(),
		DedupBatchMaxKeys: cfg.Collector.DedupBatchMaxKeys,
	}, logger.Named("collector"))
	submitter := collector.NewSubmitter(registry, runs, queue, clk, ids)

	return &App{
		Config:    cfg,
		Logger:    logger,
		Registry:  registry,
		Warehouse: wh,
		Runs:      runs,
		Queue:     queue,
		Publisher: pub,
		Engine:    engine,
		Submitter: submitter,
		Clock:     clk,
		IDs:       ids,
	}, nil
}

func buildWarehouse(ctx context.Context, cfg config.Config, logger *zap.Logger) (pipeline.Warehouse, error) {
	if cfg.Warehouse.ProjectID == "" {
		logger.Warn("warehouse.project_id not set, using in-memory warehouse; rows are not persisted")
		return warehouse.NewMemory(), nil
	}
	wh, err := warehouse.NewBigQuery(ctx, warehouse.BigQueryConfig{
		ProjectID:     cfg.Warehouse.ProjectID,
		DatasetID:     cfg.Warehouse.DatasetID,
		Location:      cfg.Warehouse.Location,
		StagingBucket: cfg.Warehouse.StagingBucket,
		StagingPrefix: cfg.Warehouse.StagingPrefix,
		DedupLookback: time.Duration(cfg.Collector.DedupLookbackDays) * 24 * time.Hour,
	}, logger.Named("warehouse"))
	if err != nil {
		return nil, fmt.Errorf("init warehouse: %w", err)
	}
	return wh, nil
}

func buildRunStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (pipeline.RunStore, error) {
	if cfg.Ledger.DSN == "" {
		logger.Warn("ledger.dsn not set, using in-memory run ledger")
		return runstore.NewMemory(), nil
	}
	store, err := runstore.NewPostgres(ctx, runstore.PostgresConfig{
		DSN:             cfg.Ledger.DSN,
		Table:           cfg.Ledger.Table,
		MaxConns:        cfg.Ledger.MaxConns,
		MinConns:        cfg.Ledger.MinConns,
		MaxConnLifetime: time.Duration(cfg.Ledger.MaxConnLifetime) * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("init run ledger: %w", err)
	}
	if err := store.EnsureSchema(ctx); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

func buildPublisher(ctx context.Context, cfg config.Config, logger *zap.Logger) (pipeline.Publisher, error) {
	if cfg.PubSub.ProjectID == "" || cfg.PubSub.TopicName == "" {
		logger.Info("pubsub not configured, run events stay in memory")
		return pubmemory.New(), nil
	}
	client, err := gcppubsub.NewClient(ctx, cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("init pubsub client: %w", err)
	}
	return pubgcp.New(client), nil
}

func buildRegistry(cfg config.Config) (*source.Registry, error) {
	retry := pipeline.NewExponentialRetryPolicy()
	timeout := cfg.ClientTimeout()
	client := func(name string, rps float64) *source.Client {
		return source.NewClient(name, timeout, rps, retry)
	}

	registry, err := source.NewRegistry(
		census.New(cfg.Sources.Census, client("census", cfg.Sources.Census.RPS)),
		bls.New(cfg.Sources.BLS, client("bls", cfg.Sources.BLS.RPS)),
		sba.New(cfg.Sources.SBA, client("sba", cfg.Sources.SBA.RPS)),
		places.New(cfg.Sources.Places, client("places", cfg.Sources.Places.RPS)),
		traffic.New(cfg.Sources.Traffic, client("traffic", cfg.Sources.Traffic.RPS)),
		dfi.New(cfg.Sources.DFI, client("dfi", cfg.Sources.DFI.RPS)),
		fcc.New(cfg.Sources.FCC, client("fcc", cfg.Sources.FCC.RPS)),
	)
	if err != nil {
		return nil, fmt.Errorf("build source registry: %w", err)
	}
	return registry, nil
}

// Close gracefully shuts down all services.
func (a *App) Close() {
	a.Queue.Close()
	if closer, ok := a.Publisher.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			a.Logger.Warn("publisher close failed", zap.Error(err))
		}
	}
	a.Runs.Close()
	if err := a.Warehouse.Close(); err != nil {
		a.Logger.Warn("warehouse close failed", zap.Error(err))
	}
	_ = a.Logger.Sync()
}
