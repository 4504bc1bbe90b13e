// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

// Package stats computes the protocol-wide statistics snapshot from the
// full trade, instrument and fee history.
package stats

import (
	"context"
	"math/big"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/luxfi/ltindexer/cache"
	"github.com/luxfi/ltindexer/fixedpoint"
	"github.com/luxfi/ltindexer/storage"
)

// Snapshot is the flat protocol statistics object. Amounts are base-asset
// display units.
type Snapshot struct {
	MarginVolume     float64 `json:"marginVolume"`
	NotionalVolume   float64 `json:"notionalVolume"`
	AverageLeverage  float64 `json:"averageLeverage"`
	SupportedAssets  int     `json:"supportedAssets"`
	LeveragedTokens  int     `json:"leveragedTokens"`
	UniqueUsers      int     `json:"uniqueUsers"`
	TotalValueLocked float64 `json:"totalValueLocked"`
	OpenInterest     float64 `json:"openInterest"`
	TotalTrades      int     `json:"totalTrades"`
	TreasuryFees     float64 `json:"treasuryFees"`
}

// Store is the subset of storage.Store the snapshot reads.
type Store interface {
	TradeHistory(ctx context.Context) ([]*storage.TradeView, error)
	ListInstruments(ctx context.Context) ([]*storage.Instrument, error)
	AllFees(ctx context.Context) ([]*storage.Fee, error)
}

// Config holds statistics service configuration
type Config struct {
	CacheTTL time.Duration
	// UpdateInterval is how often the metrics exporter recomputes the
	// snapshot.
	UpdateInterval time.Duration
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		CacheTTL:       30 * time.Second,
		UpdateInterval: time.Minute,
	}
}

// Service provides the statistics snapshot.
type Service struct {
	store  Store
	cache  cache.Cache
	config Config
}

// NewService creates a new statistics service. c may be nil.
func NewService(store Store, c cache.Cache, config Config) *Service {
	return &Service{
		store:  store,
		cache:  c,
		config: config,
	}
}

// Snapshot returns the current statistics, cached for CacheTTL.
func (s *Service) Snapshot(ctx context.Context) (*Snapshot, error) {
	return cache.GetOrLoad(ctx, s.cache, "stats", s.config.CacheTTL, s.compute)
}

func (s *Service) compute(ctx context.Context) (*Snapshot, error) {
	var (
		trades      []*storage.TradeView
		instruments []*storage.Instrument
		fees        []*storage.Fee
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		trades, err = s.store.TradeHistory(gctx)
		return err
	})
	g.Go(func() (err error) {
		instruments, err = s.store.ListInstruments(gctx)
		return err
	})
	g.Go(func() (err error) {
		fees, err = s.store.AllFees(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	snap := Compute(trades, instruments, fees)
	return &snap, nil
}

// Compute aggregates the snapshot. Sums are exact; each is scaled to a
// float only once at the end. Trades without an instrument count toward
// margin, trades and users but add no notional volume.
func Compute(trades []*storage.TradeView, instruments []*storage.Instrument, fees []*storage.Fee) Snapshot {
	var snap Snapshot

	margin, notional := new(big.Int), new(big.Int)
	users := make(map[string]bool)
	for _, t := range trades {
		margin.Add(margin, fixedpoint.Clone(t.BaseAssetAmount))
		notional.Add(notional, new(big.Int).Mul(fixedpoint.Clone(t.BaseAssetAmount), fixedpoint.Clone(t.TargetLeverage)))
		users[strings.ToLower(t.Recipient)] = true
	}
	snap.MarginVolume = fixedpoint.ToFloat(margin, fixedpoint.BaseAssetDecimals)
	snap.NotionalVolume = fixedpoint.ToFloat(notional, fixedpoint.BaseAssetDecimals+fixedpoint.WadDecimals)
	if snap.MarginVolume > 0 {
		snap.AverageLeverage = snap.NotionalVolume / snap.MarginVolume
	}
	snap.UniqueUsers = len(users)
	snap.TotalTrades = len(trades)

	// value is supply times rate at 36 decimals; open interest adds the
	// 18-decimal leverage on top.
	markets := make(map[uint32]bool)
	value, interest := new(big.Int), new(big.Int)
	for _, inst := range instruments {
		markets[inst.MarketID] = true
		v := new(big.Int).Mul(fixedpoint.Clone(inst.TotalSupply), fixedpoint.Clone(inst.ExchangeRate))
		value.Add(value, v)
		interest.Add(interest, v.Mul(v, fixedpoint.Clone(inst.TargetLeverage)))
	}
	snap.SupportedAssets = len(markets)
	snap.LeveragedTokens = len(instruments)
	snap.TotalValueLocked = fixedpoint.ToFloat(value, 2*fixedpoint.WadDecimals)
	snap.OpenInterest = fixedpoint.ToFloat(interest, 3*fixedpoint.WadDecimals)

	total := new(big.Int)
	for _, f := range fees {
		total.Add(total, fixedpoint.Clone(f.Amount))
	}
	snap.TreasuryFees = fixedpoint.ToFloat(total, fixedpoint.BaseAssetDecimals)
	return snap
}
