// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

// Package indexer assembles the leveraged-token indexer from its parts:
// record store, event consumer, exchange rate oracle, statistics exporter
// and query API.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/luxfi/ltindexer/cache"
	"github.com/luxfi/ltindexer/config"
	"github.com/luxfi/ltindexer/evm"
	"github.com/luxfi/ltindexer/evm/api"
	"github.com/luxfi/ltindexer/evm/charts"
	"github.com/luxfi/ltindexer/evm/events"
	"github.com/luxfi/ltindexer/evm/oracle"
	"github.com/luxfi/ltindexer/evm/portfolio"
	"github.com/luxfi/ltindexer/evm/stats"
	"github.com/luxfi/ltindexer/ledger"
	"github.com/luxfi/ltindexer/logging"
	"github.com/luxfi/ltindexer/storage"
)

// ErrNotReady is returned by Ready before the store is initialised.
var ErrNotReady = errors.New("indexer not initialised")

// Option overrides a component built from config.
type Option func(*options)

type options struct {
	store  storage.Store
	cache  cache.Cache
	reader events.MessageReader
	rates  oracle.RateSource
	heads  oracle.HeadSource
}

// WithStore uses store instead of opening the configured backend.
func WithStore(store storage.Store) Option {
	return func(o *options) { o.store = store }
}

// WithCache uses c instead of the configured cache backend.
func WithCache(c cache.Cache) Option {
	return func(o *options) { o.cache = c }
}

// WithReader consumes events from reader instead of Kafka.
func WithReader(reader events.MessageReader) Option {
	return func(o *options) { o.reader = reader }
}

// WithOracle reads heads and rates from the given sources instead of the
// configured RPC endpoint.
func WithOracle(heads oracle.HeadSource, rates oracle.RateSource) Option {
	return func(o *options) {
		o.heads = heads
		o.rates = rates
	}
}

// Indexer runs every component until its context is cancelled.
type Indexer struct {
	config    *config.Config
	store     storage.Store
	cache     cache.Cache
	processor *events.Processor
	consumer  *events.Consumer
	watcher   *oracle.BlockWatcher
	exporter  *stats.MetricsExporter
	server    *api.Server
	stats     stats.Config
	ready     atomic.Bool
	log       zerolog.Logger
}

// New builds the indexer described by cfg.
func New(cfg *config.Config, opts ...Option) (*Indexer, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	policy, err := ledger.ParseTransferPolicy(cfg.Ledger.TransferPolicy)
	if err != nil {
		return nil, err
	}

	store := o.store
	if store == nil {
		backend, err := storage.ParseBackend(cfg.Storage.Backend)
		if err != nil {
			return nil, err
		}
		store, err = storage.New(storage.Config{
			Backend: backend,
			URL:     cfg.Storage.DatabaseURL,
			DataDir: cfg.Storage.DataDir,
		})
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
	}

	c := o.cache
	if c == nil {
		if c, err = cache.New(cfg.Cache.Backend, cfg.Cache.RedisAddr); err != nil {
			return nil, err
		}
	}

	idx := &Indexer{
		config: cfg,
		store:  store,
		cache:  c,
		log:    logging.New("indexer"),
	}

	idx.processor = events.NewProcessor(store, events.Options{
		Factory:        strings.ToLower(cfg.Contracts.Factory),
		TransferPolicy: policy,
		Policy:         events.SkipAndLog,
		Logger:         logging.New("events"),
	})

	switch {
	case o.reader != nil:
		idx.consumer = events.NewConsumerWithReader(o.reader, idx.processor, logging.New("consumer"))
	case len(cfg.Kafka.Brokers) > 0:
		idx.consumer, err = events.NewConsumer(events.ConsumerConfig{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
			GroupID: cfg.Kafka.GroupID,
		}, idx.processor, logging.New("consumer"))
		if err != nil {
			return nil, err
		}
	}

	if cfg.Oracle.Enabled {
		heads, rates := o.heads, o.rates
		if heads == nil || rates == nil {
			adapter := evm.New(cfg.Chain.RPC, evm.WithRateLimit(cfg.Oracle.RateLimit))
			heads = adapter
			rates = oracle.NewHelperClient(adapter, cfg.Contracts.LeveragedTokenHelper)
		}
		refresher := oracle.NewRefresher(rates, store, oracle.Options{
			BridgeThreshold:  cfg.Oracle.BridgeThreshold,
			WriteConcurrency: cfg.Oracle.WriteConcurrency,
			Logger:           logging.New("oracle"),
		})
		idx.watcher = oracle.NewBlockWatcher(heads, refresher, cfg.Chain.PollInterval, logging.New("watcher"))
	}

	pcfg := portfolio.DefaultConfig()
	pcfg.TransferPolicy = policy
	pcfg.CacheTTL = cfg.Cache.TTL

	ccfg := charts.DefaultConfig()
	ccfg.CacheTTL = cfg.Cache.TTL

	idx.stats = stats.DefaultConfig()
	idx.stats.CacheTTL = cfg.Cache.TTL
	statsService := stats.NewService(store, c, idx.stats)
	idx.exporter = stats.NewMetricsExporter(statsService, logging.New("stats"))

	idx.server = api.NewServer(api.Config{
		Port:           cfg.HTTP.Port,
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		MaxQuerySize:   cfg.HTTP.MaxQuerySize,
	}, api.Services{
		Store:     store,
		Portfolio: portfolio.NewService(store, c, pcfg, logging.New("portfolio")),
		Charts:    charts.NewService(store, c, ccfg),
		Stats:     statsService,
		Ready:     idx.Ready,
	}, logging.New("api"))

	return idx, nil
}

// Init creates the store schema. The indexer reports ready afterwards.
func (idx *Indexer) Init(ctx context.Context) error {
	if err := idx.store.Init(ctx); err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	idx.ready.Store(true)
	return nil
}

// Ready reports whether the store is initialised and reachable.
func (idx *Indexer) Ready(ctx context.Context) error {
	if !idx.ready.Load() {
		return ErrNotReady
	}
	return idx.store.Ping(ctx)
}

// Processor returns the event processor.
func (idx *Indexer) Processor() *events.Processor {
	return idx.processor
}

// Server returns the query API server.
func (idx *Indexer) Server() *api.Server {
	return idx.server
}

// Store returns the record store.
func (idx *Indexer) Store() storage.Store {
	return idx.store
}

// Run initialises the store and runs every component. It returns when ctx
// is cancelled or any component fails.
func (idx *Indexer) Run(ctx context.Context) error {
	if err := idx.Init(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return idx.server.Run(gctx)
	})

	if idx.consumer != nil {
		g.Go(func() error {
			return idx.consumer.Run(gctx)
		})
		idx.log.Info().Strs("brokers", idx.config.Kafka.Brokers).Str("topic", idx.config.Kafka.Topic).Msg("Event consumer started")
	} else {
		idx.log.Warn().Msg("No event source configured; serving existing records only")
	}

	if idx.watcher != nil {
		g.Go(func() error {
			idx.watcher.Run(gctx)
			return nil
		})
		idx.log.Info().Str("rpc", idx.config.Chain.RPC).Msg("Oracle watcher started")
	}

	g.Go(func() error {
		idx.exporter.Run(gctx, idx.stats.UpdateInterval)
		return nil
	})

	err := g.Wait()
	if err != nil && ctx.Err() != nil {
		err = nil
	}
	return err
}

// Close releases the consumer, cache and store.
func (idx *Indexer) Close() error {
	var errs []error
	if idx.consumer != nil {
		errs = append(errs, idx.consumer.Close())
	}
	errs = append(errs, idx.cache.Close(), idx.store.Close())
	return errors.Join(errs...)
}
