// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

// Package portfolio computes per-user profit and holdings views from the
// recorded trades, transfers and balances.
package portfolio

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/luxfi/ltindexer/cache"
	"github.com/luxfi/ltindexer/fixedpoint"
	"github.com/luxfi/ltindexer/ledger"
	"github.com/luxfi/ltindexer/storage"
)

// Config holds portfolio service configuration
type Config struct {
	TransferPolicy ledger.TransferPolicy
	// CacheTTL is how long computed views are cached. Zero disables caching.
	CacheTTL time.Duration
	// Concurrency bounds per-user balance lookups when listing users.
	Concurrency int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		TransferPolicy: ledger.SameCost,
		CacheTTL:       10 * time.Second,
		Concurrency:    8,
	}
}

// Service answers portfolio queries.
type Service struct {
	store  storage.Store
	cache  cache.Cache
	config *Config
	calc   ledger.Calculator
	log    zerolog.Logger
	now    func() time.Time
}

// NewService creates a portfolio service. c may be nil.
func NewService(store storage.Store, c cache.Cache, config *Config, log zerolog.Logger) *Service {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 8
	}
	return &Service{
		store:  store,
		cache:  c,
		config: config,
		calc:   ledger.Calculator{Policy: config.TransferPolicy},
		log:    log,
		now:    time.Now,
	}
}

// InstrumentPnL is one instrument's profit for a user. Amounts are in
// base-asset display units.
type InstrumentPnL struct {
	LeveragedToken    string  `json:"leveragedToken"`
	Realized          float64 `json:"realized"`
	Unrealized        float64 `json:"unrealized"`
	UnrealizedPercent float64 `json:"unrealizedPercent"`
}

// UserPnL sums a user's profit across every instrument they have held.
type UserPnL struct {
	Realized        float64         `json:"realized"`
	Unrealized      float64         `json:"unrealized"`
	LeveragedTokens []InstrumentPnL `json:"leveragedTokens"`
}

// PnL recomputes a user's profit from their full trade and transfer
// history, valuing remaining holdings at the stored exchange rates.
func (s *Service) PnL(ctx context.Context, user string) (*UserPnL, error) {
	user, err := ledger.ParseAddress(user)
	if err != nil {
		return nil, err
	}
	return cache.GetOrLoad(ctx, s.cache, "pnl:"+user, s.config.CacheTTL, func(ctx context.Context) (*UserPnL, error) {
		return s.pnl(ctx, user)
	})
}

func (s *Service) pnl(ctx context.Context, user string) (*UserPnL, error) {
	var (
		trades      []*storage.Trade
		transfers   []*storage.Transfer
		instruments map[string]*storage.Instrument
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		trades, err = s.store.TradesForUser(gctx, user)
		return err
	})
	g.Go(func() (err error) {
		transfers, err = s.store.TransfersForUser(gctx, user)
		return err
	})
	g.Go(func() (err error) {
		instruments, err = s.instrumentMap(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	lt := make([]ledger.Trade, len(trades))
	for i, t := range trades {
		lt[i] = t.Ledger()
	}
	ltr := make([]ledger.Transfer, len(transfers))
	for i, t := range transfers {
		ltr[i] = t.Ledger()
	}

	out := &UserPnL{LeveragedTokens: []InstrumentPnL{}}
	realized, unrealized := new(big.Int), new(big.Int)
	for _, addr := range ledger.Instruments(lt, ltr) {
		inst, ok := instruments[addr]
		if !ok {
			s.log.Warn().Str("user", user).Str("instrument", addr).Msg("instrument not found for user history")
			continue
		}
		actions, err := ledger.Normalize(user, addr, lt, ltr)
		if err != nil {
			return nil, err
		}
		res, _, err := s.calc.Evaluate(addr, actions, inst.ExchangeRate)
		if err != nil {
			return nil, fmt.Errorf("instrument %s: %w", addr, err)
		}
		realized.Add(realized, res.Realized)
		unrealized.Add(unrealized, res.Unrealized)
		out.LeveragedTokens = append(out.LeveragedTokens, InstrumentPnL{
			LeveragedToken:    addr,
			Realized:          fixedpoint.ToFloat(res.Realized, fixedpoint.BaseAssetDecimals),
			Unrealized:        fixedpoint.ToFloat(res.Unrealized, fixedpoint.WadDecimals),
			UnrealizedPercent: res.UnrealizedPercent,
		})
	}
	out.Realized = fixedpoint.ToFloat(realized, fixedpoint.BaseAssetDecimals)
	out.Unrealized = fixedpoint.ToFloat(unrealized, fixedpoint.WadDecimals)
	return out, nil
}

// Holding is an instrument summary extended with the user's position.
type Holding struct {
	Summary
	UserBalance       string  `json:"userBalance"`
	UnrealizedProfit  float64 `json:"unrealizedProfit"`
	UnrealizedPercent float64 `json:"unrealizedPercent"`
}

// ChartPoint is one sample of the profit chart, timestamp in unix ms.
type ChartPoint struct {
	Timestamp int64   `json:"timestamp"`
	Value     float64 `json:"value"`
}

// Portfolio is a user's current holdings and realized profit history.
type Portfolio struct {
	UnrealizedProfit float64      `json:"unrealizedProfit"`
	RealizedProfit   float64      `json:"realizedProfit"`
	LeveragedTokens  []Holding    `json:"leveragedTokens"`
	PnlChart         []ChartPoint `json:"pnlChart"`
}

// Portfolio reads the user's persisted balances and sell trades. The
// chart is the running sum of realized profit per sell, closed with a
// point at the current time holding realized plus unrealized profit.
func (s *Service) Portfolio(ctx context.Context, user string) (*Portfolio, error) {
	user, err := ledger.ParseAddress(user)
	if err != nil {
		return nil, err
	}
	return cache.GetOrLoad(ctx, s.cache, "portfolio:"+user, s.config.CacheTTL, func(ctx context.Context) (*Portfolio, error) {
		return s.portfolio(ctx, user)
	})
}

func (s *Service) portfolio(ctx context.Context, user string) (*Portfolio, error) {
	var (
		balances    []*storage.Balance
		instruments []*storage.Instrument
		trades      []*storage.Trade
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		balances, err = s.store.BalancesForUser(gctx, user)
		return err
	})
	g.Go(func() (err error) {
		instruments, err = s.store.ListInstruments(gctx)
		return err
	})
	g.Go(func() (err error) {
		trades, err = s.store.TradesForUser(gctx, user)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	byToken := make(map[string]*storage.Balance, len(balances))
	for _, b := range balances {
		byToken[b.LeveragedToken] = b
	}
	known := make(map[string]bool, len(instruments))

	out := &Portfolio{LeveragedTokens: []Holding{}, PnlChart: []ChartPoint{}}
	realized, unrealized := new(big.Int), new(big.Int)
	for _, inst := range instruments {
		known[inst.Address] = true
		b, ok := byToken[inst.Address]
		if !ok {
			continue
		}
		u, pct := ledger.Unrealized(b.TotalBalance, b.PurchaseCost, inst.ExchangeRate)
		realized.Add(realized, b.RealizedProfit)
		unrealized.Add(unrealized, u)
		out.LeveragedTokens = append(out.LeveragedTokens, Holding{
			Summary:           Summarize(inst),
			UserBalance:       b.TotalBalance.String(),
			UnrealizedProfit:  fixedpoint.ToFloat(u, fixedpoint.WadDecimals),
			UnrealizedPercent: pct,
		})
	}
	for token, b := range byToken {
		if !known[token] && b.TotalBalance.Sign() > 0 {
			return nil, unpricedHoldings(token, b)
		}
	}

	series := ledger.CumulativeSeries(realizedProfits(user, trades))
	series = ledger.CloseSeries(series, realized, unrealized, s.now().UnixMilli())
	for _, p := range series {
		out.PnlChart = append(out.PnlChart, ChartPoint{
			Timestamp: p.Timestamp,
			Value:     fixedpoint.ToFloat(p.Value, fixedpoint.BaseAssetDecimals),
		})
	}
	out.RealizedProfit = fixedpoint.ToFloat(realized, fixedpoint.BaseAssetDecimals)
	out.UnrealizedProfit = fixedpoint.ToFloat(unrealized, fixedpoint.WadDecimals)
	return out, nil
}

// realizedProfits returns the profit of every annotated trade paid out to
// user, oldest first, as millisecond points.
func realizedProfits(user string, trades []*storage.Trade) []ledger.Point {
	var sells []*storage.Trade
	for _, t := range trades {
		if t.ProfitAmount != nil && ledger.SameAddress(t.Recipient, user) {
			sells = append(sells, t)
		}
	}
	sort.SliceStable(sells, func(i, j int) bool {
		if sells[i].Timestamp != sells[j].Timestamp {
			return sells[i].Timestamp < sells[j].Timestamp
		}
		return sells[i].ID < sells[j].ID
	})
	out := make([]ledger.Point, len(sells))
	for i, t := range sells {
		out[i] = ledger.Point{Timestamp: t.Timestamp * 1000, Value: t.ProfitAmount}
	}
	return out
}

func (s *Service) instrumentMap(ctx context.Context) (map[string]*storage.Instrument, error) {
	list, err := s.store.ListInstruments(ctx)
	if err != nil {
		return nil, err
	}
	m := make(map[string]*storage.Instrument, len(list))
	for _, inst := range list {
		m[inst.Address] = inst
	}
	return m, nil
}

// unpricedHoldings reports a positive balance in an instrument that has no
// exchange rate.
func unpricedHoldings(token string, b *storage.Balance) error {
	return &ledger.InvariantError{
		Op:     "value holdings",
		Need:   b.TotalBalance,
		Have:   new(big.Int),
		Reason: fmt.Sprintf("no exchange rate for instrument %s held by %s", token, b.User),
	}
}
