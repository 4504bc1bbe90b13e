// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

// Package oracle refreshes stored instrument exchange rates once per new
// chain block.
//
// Instruments bridged from the perp venue within the last BridgeThreshold
// blocks are left untouched for the cycle: the helper contract reports a
// stale rate in the block right after a bridge.
package oracle

import (
	"context"
	"fmt"
	"math/big"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/luxfi/ltindexer/ledger"
	"github.com/luxfi/ltindexer/metrics"
)

// Rate is the current exchange rate of one instrument, 18 decimals.
type Rate struct {
	Instrument string
	Rate       *big.Int
}

// RateSource reads current exchange rates for every instrument.
type RateSource interface {
	ExchangeRates(ctx context.Context) ([]Rate, error)
}

// BridgeIndex lists instruments bridged from perp at or after sinceBlock.
type BridgeIndex interface {
	RecentlyBridged(ctx context.Context, sinceBlock uint64) ([]string, error)
}

// RateWriter persists a single instrument's exchange rate.
type RateWriter interface {
	SetExchangeRate(ctx context.Context, address string, rate *big.Int) error
}

// Store is the part of the record store the refresher uses.
type Store interface {
	BridgeIndex
	RateWriter
}

// Options configures a Refresher.
type Options struct {
	// BridgeThreshold is how many blocks back a bridge excludes an
	// instrument. Defaults to 1.
	BridgeThreshold uint64
	// WriteConcurrency bounds concurrent rate writes. Defaults to 8.
	WriteConcurrency int
	Logger           zerolog.Logger
}

// CycleResult summarises one refresh.
type CycleResult struct {
	Block    uint64
	Fetched  int
	Excluded []string
	Updated  int
	Failed   int
	// Skipped is set when the whole cycle was abandoned.
	Skipped bool
}

// Refresher applies exchange rates from a RateSource to the store.
type Refresher struct {
	source      RateSource
	store       Store
	threshold   uint64
	concurrency int
	log         zerolog.Logger
}

// NewRefresher creates a refresher.
func NewRefresher(source RateSource, store Store, opts Options) *Refresher {
	if opts.BridgeThreshold == 0 {
		opts.BridgeThreshold = 1
	}
	if opts.WriteConcurrency <= 0 {
		opts.WriteConcurrency = 8
	}
	return &Refresher{
		source:      source,
		store:       store,
		threshold:   opts.BridgeThreshold,
		concurrency: opts.WriteConcurrency,
		log:         opts.Logger,
	}
}

// Refresh runs one cycle for block. Failure to fetch rates or the bridged
// set skips the cycle: it is logged, counted and returned in the result,
// and the error is also returned so callers may inspect it. Individual
// write failures never abort the other writes.
func (r *Refresher) Refresh(ctx context.Context, block uint64) (CycleResult, error) {
	res := CycleResult{Block: block}
	metrics.OracleHead.Set(float64(block))

	var (
		rates   []Rate
		bridged []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		rates, err = r.source.ExchangeRates(gctx)
		if err != nil {
			return fmt.Errorf("fetch exchange rates: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		bridged, err = r.store.RecentlyBridged(gctx, sinceBlock(block, r.threshold))
		if err != nil {
			return fmt.Errorf("fetch recently bridged: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		res.Skipped = true
		metrics.OracleCycles.WithLabelValues("skipped").Inc()
		r.log.Warn().Err(err).Uint64("block", block).Msg("exchange rate refresh skipped")
		return res, err
	}
	res.Fetched = len(rates)

	valid, excluded := Filter(rates, bridged)
	res.Excluded = excluded
	metrics.OracleExcluded.Add(float64(len(excluded)))

	var updated, failed atomic.Int64
	wg := new(errgroup.Group)
	wg.SetLimit(r.concurrency)
	for _, rate := range valid {
		rate := rate
		wg.Go(func() error {
			if err := r.store.SetExchangeRate(ctx, rate.Instrument, rate.Rate); err != nil {
				failed.Add(1)
				metrics.OracleWrites.WithLabelValues("error").Inc()
				r.log.Error().Err(err).
					Uint64("block", block).
					Str("instrument", rate.Instrument).
					Msg("failed to update exchange rate")
				return nil
			}
			updated.Add(1)
			metrics.OracleWrites.WithLabelValues("ok").Inc()
			return nil
		})
	}
	_ = wg.Wait()

	res.Updated = int(updated.Load())
	res.Failed = int(failed.Load())
	metrics.OracleCycles.WithLabelValues("ok").Inc()
	r.log.Debug().
		Uint64("block", block).
		Int("updated", res.Updated).
		Int("excluded", len(excluded)).
		Int("failed", res.Failed).
		Msg("exchange rates refreshed")
	return res, nil
}

// Filter drops rates for instruments in bridged, matching addresses
// case-insensitively. It returns the rates to apply and the excluded
// instrument addresses.
func Filter(rates []Rate, bridged []string) (valid []Rate, excluded []string) {
	for _, rate := range rates {
		skip := false
		for _, b := range bridged {
			if ledger.SameAddress(b, rate.Instrument) {
				skip = true
				break
			}
		}
		if skip {
			excluded = append(excluded, rate.Instrument)
			continue
		}
		valid = append(valid, rate)
	}
	return valid, excluded
}

func sinceBlock(block, threshold uint64) uint64 {
	if threshold > block {
		return 0
	}
	return block - threshold
}
