package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"trafficfeed/internal/blobstore"
	"trafficfeed/internal/cases"
	"trafficfeed/internal/config"
	"trafficfeed/internal/extstore"
	"trafficfeed/internal/feed"
	"trafficfeed/internal/geometry"
	"trafficfeed/internal/incidents"
	"trafficfeed/internal/metrics"
	"trafficfeed/internal/normalize"
	"trafficfeed/internal/pipeline"
	"trafficfeed/internal/queue"
	"trafficfeed/internal/scheduler"
	"trafficfeed/internal/storage"
	"trafficfeed/internal/warehouse"
)

// app holds every wired component of one process.
type app struct {
	cfg       *config.Config
	logger    *slog.Logger
	store     storage.Store
	blobs     *blobstore.Store
	warehouse *warehouse.Sink
	external  *extstore.Client
	producer  *queue.Producer
	registry  *cases.Registry
	pipeline  *pipeline.Pipeline
	scheduler *scheduler.Scheduler
	stats     *metrics.Store
	incidents *incidents.Store
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}
	loc := cfg.Location()
	strategies := normalize.Strategies()

	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("storage: %w", err)
	}
	a.store = store
	if err := store.Init(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("storage init: %w", err)
	}
	logger.Info("storage ready", "driver", cfg.Storage.Driver)

	blobs, err := blobstore.Open(ctx, cfg.Blob)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("blob store: %w", err)
	}
	a.blobs = blobs

	deps := pipeline.Deps{
		Fetcher:    feed.NewClient(cfg.Feed, logger),
		Dedup:      store,
		Geometry:   geometry.NewSink(blobs),
		Ledger:     store,
		Strategies: strategies,
		Location:   loc,
	}
	a.registry = &cases.Registry{Store: store, Strategies: strategies, Location: loc, Logger: logger}

	if cfg.Warehouse.Enabled {
		wh, err := warehouse.Open(ctx, cfg.Warehouse, logger)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("warehouse: %w", err)
		}
		a.warehouse = wh
		deps.Warehouse = wh
		a.registry.Warehouse = wh
	}
	if cfg.External.Enabled {
		a.external = extstore.NewClient(cfg.External, blobs, logger)
		deps.External = a.external
		a.registry.External = a.external
	}

	a.stats = metrics.NewStore(0)
	a.incidents = incidents.NewStore(cfg.Incidents.StoreLimit)
	deps.Stats = a.stats
	deps.Incidents = a.incidents
	a.pipeline = pipeline.New(deps, logger)

	var dispatcher scheduler.Dispatcher
	if cfg.Queue.Enabled {
		a.producer = queue.NewProducer(cfg.Queue, logger)
		dispatcher = a.producer
	}
	a.scheduler = scheduler.New(cfg.Scheduler, store, a.pipeline, dispatcher, logger)
	return a, nil
}

func (a *app) Close() {
	var errs []error
	if a.producer != nil {
		errs = append(errs, a.producer.Close())
	}
	if a.warehouse != nil {
		errs = append(errs, a.warehouse.Close())
	}
	if a.blobs != nil {
		errs = append(errs, a.blobs.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if err := errors.Join(errs...); err != nil && a.logger != nil {
		a.logger.Warn("shutdown", "err", err)
	}
}
