// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

// Package charts provides the daily time series behind the protocol
// dashboards: cumulative fees, cumulative notional volume and active users.
package charts

import (
	"context"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/luxfi/ltindexer/cache"
	"github.com/luxfi/ltindexer/fixedpoint"
	"github.com/luxfi/ltindexer/storage"
)

// SecondsPerDay is the bucket width of every chart.
const SecondsPerDay = 86400

// WindowDays is the trailing window of the active-user chart, inclusive of
// the day itself.
const WindowDays = 7

var (
	// NotionalThreshold is $500 of notional volume at 24 decimals
	// (base asset times 18-decimal leverage).
	NotionalThreshold = new(big.Int).Mul(big.NewInt(500), fixedpoint.Pow10(24))

	// PositionThreshold is $500 of position value at 18 decimals.
	PositionThreshold = new(big.Int).Mul(big.NewInt(500), fixedpoint.Pow10(18))
)

// Store is the subset of storage.Store the charts read.
type Store interface {
	AllTrades(ctx context.Context) ([]*storage.TradeView, error)
	AllFees(ctx context.Context) ([]*storage.Fee, error)
	PositiveBalances(ctx context.Context) ([]*storage.Balance, error)
	ListInstruments(ctx context.Context) ([]*storage.Instrument, error)
}

// Config holds chart service configuration
type Config struct {
	// CacheTTL is how long to cache chart data. Zero disables caching.
	CacheTTL time.Duration
}

// DefaultConfig returns sensible defaults for chart configuration
func DefaultConfig() *Config {
	return &Config{CacheTTL: time.Minute}
}

// FeePoint is one day of the cumulative fee chart.
type FeePoint struct {
	Timestamp      int64   `json:"timestamp"`
	CumulativeFees float64 `json:"cumulativeFees"`
}

// VolumePoint is one day of the cumulative notional volume chart.
type VolumePoint struct {
	Timestamp        int64   `json:"timestamp"`
	CumulativeVolume float64 `json:"cumulativeVolume"`
}

// ActiveUsersPoint is one day of the active-user chart.
type ActiveUsersPoint struct {
	Timestamp   int64 `json:"timestamp"`
	ActiveUsers int   `json:"activeUsers"`
}

// Service provides chart data operations
type Service struct {
	store  Store
	cache  cache.Cache
	config *Config
	now    func() time.Time
}

// NewService creates a new chart service. c may be nil.
func NewService(store Store, c cache.Cache, config *Config) *Service {
	if config == nil {
		config = DefaultConfig()
	}
	return &Service{
		store:  store,
		cache:  c,
		config: config,
		now:    time.Now,
	}
}

// FeeChart returns cumulative treasury fees per UTC day.
func (s *Service) FeeChart(ctx context.Context) ([]FeePoint, error) {
	return cache.GetOrLoad(ctx, s.cache, "chart:fees", s.config.CacheTTL, func(ctx context.Context) ([]FeePoint, error) {
		fees, err := s.store.AllFees(ctx)
		if err != nil {
			return nil, err
		}
		samples := make([]Sample, len(fees))
		for i, f := range fees {
			samples[i] = Sample{Timestamp: f.Timestamp, Amount: f.Amount}
		}
		buckets := Cumulative(samples)
		out := make([]FeePoint, len(buckets))
		for i, b := range buckets {
			out[i] = FeePoint{
				Timestamp:      b.Day * 1000,
				CumulativeFees: fixedpoint.ToFloat(b.Total, fixedpoint.BaseAssetDecimals),
			}
		}
		return out, nil
	})
}

// VolumeChart returns cumulative notional volume per UTC day.
func (s *Service) VolumeChart(ctx context.Context) ([]VolumePoint, error) {
	return cache.GetOrLoad(ctx, s.cache, "chart:volume", s.config.CacheTTL, func(ctx context.Context) ([]VolumePoint, error) {
		trades, err := s.store.AllTrades(ctx)
		if err != nil {
			return nil, err
		}
		samples := make([]Sample, 0, len(trades))
		for _, t := range trades {
			samples = append(samples, Sample{
				Timestamp: t.Timestamp,
				Amount:    fixedpoint.Mul(t.BaseAssetAmount, t.TargetLeverage),
			})
		}
		buckets := Cumulative(samples)
		out := make([]VolumePoint, len(buckets))
		for i, b := range buckets {
			out[i] = VolumePoint{
				Timestamp:        b.Day * 1000,
				CumulativeVolume: fixedpoint.ToFloat(b.Total, fixedpoint.BaseAssetDecimals),
			}
		}
		return out, nil
	})
}

// ActiveUsersChart counts, for every day from the first trade to today,
// the users with at least NotionalThreshold of notional volume over the
// trailing window. The last day also counts holders of positions worth at
// least PositionThreshold.
func (s *Service) ActiveUsersChart(ctx context.Context) ([]ActiveUsersPoint, error) {
	return cache.GetOrLoad(ctx, s.cache, "chart:active-users", s.config.CacheTTL, func(ctx context.Context) ([]ActiveUsersPoint, error) {
		trades, err := s.store.AllTrades(ctx)
		if err != nil {
			return nil, err
		}
		if len(trades) == 0 {
			return []ActiveUsersPoint{}, nil
		}
		volumes := make([]UserVolume, len(trades))
		for i, t := range trades {
			volumes[i] = UserVolume{
				User:      strings.ToLower(t.Recipient),
				Timestamp: t.Timestamp,
				Notional:  new(big.Int).Mul(fixedpoint.Clone(t.BaseAssetAmount), fixedpoint.Clone(t.TargetLeverage)),
			}
		}
		positions, err := s.positionValues(ctx)
		if err != nil {
			return nil, err
		}
		return ActiveUsers(volumes, positions, s.now().Unix()), nil
	})
}

// positionValues sums holdings valued at the current exchange rate per
// user, at 18 decimals.
func (s *Service) positionValues(ctx context.Context) (map[string]*big.Int, error) {
	balances, err := s.store.PositiveBalances(ctx)
	if err != nil {
		return nil, err
	}
	instruments, err := s.store.ListInstruments(ctx)
	if err != nil {
		return nil, err
	}
	rates := make(map[string]*big.Int, len(instruments))
	for _, inst := range instruments {
		rates[inst.Address] = inst.ExchangeRate
	}
	out := make(map[string]*big.Int)
	for _, b := range balances {
		rate, ok := rates[b.LeveragedToken]
		if !ok {
			continue
		}
		user := strings.ToLower(b.User)
		v, ok := out[user]
		if !ok {
			v = new(big.Int)
			out[user] = v
		}
		v.Add(v, fixedpoint.Mul(b.TotalBalance, rate))
	}
	return out, nil
}

// Sample is one raw amount at a unix timestamp in seconds.
type Sample struct {
	Timestamp int64
	Amount    *big.Int
}

// Bucket is a running total at the start of a UTC day, in unix seconds.
type Bucket struct {
	Day   int64
	Total *big.Int
}

// Day truncates a unix timestamp in seconds to the start of its UTC day.
func Day(ts int64) int64 {
	d := ts - ts%SecondsPerDay
	if ts < 0 && ts%SecondsPerDay != 0 {
		d -= SecondsPerDay
	}
	return d
}

// Cumulative buckets samples by day and returns the running total for
// every day that has at least one sample, oldest first. The result does
// not depend on the order of samples.
func Cumulative(samples []Sample) []Bucket {
	daily := make(map[int64]*big.Int)
	for _, smp := range samples {
		d := Day(smp.Timestamp)
		v, ok := daily[d]
		if !ok {
			v = new(big.Int)
			daily[d] = v
		}
		v.Add(v, fixedpoint.Clone(smp.Amount))
	}
	days := make([]int64, 0, len(daily))
	for d := range daily {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i] < days[j] })

	out := make([]Bucket, len(days))
	running := new(big.Int)
	for i, d := range days {
		running.Add(running, daily[d])
		out[i] = Bucket{Day: d, Total: new(big.Int).Set(running)}
	}
	return out
}

// UserVolume is the notional volume of one trade credited to its
// recipient, at 24 decimals.
type UserVolume struct {
	User      string
	Timestamp int64
	Notional  *big.Int
}

// ActiveUsers builds the dense active-user series from the first traded
// day through max(last traded day, the day of now). positions holds
// current position values at 18 decimals and only affects the last point.
func ActiveUsers(volumes []UserVolume, positions map[string]*big.Int, now int64) []ActiveUsersPoint {
	if len(volumes) == 0 {
		return []ActiveUsersPoint{}
	}
	byDay := make(map[int64]map[string]*big.Int)
	minDay, maxDay := Day(volumes[0].Timestamp), Day(volumes[0].Timestamp)
	for _, v := range volumes {
		d := Day(v.Timestamp)
		if d < minDay {
			minDay = d
		}
		if d > maxDay {
			maxDay = d
		}
		users, ok := byDay[d]
		if !ok {
			users = make(map[string]*big.Int)
			byDay[d] = users
		}
		sum, ok := users[v.User]
		if !ok {
			sum = new(big.Int)
			users[v.User] = sum
		}
		sum.Add(sum, fixedpoint.Clone(v.Notional))
	}

	end := maxDay
	if today := Day(now); today > end {
		end = today
	}

	out := make([]ActiveUsersPoint, 0, (end-minDay)/SecondsPerDay+1)
	for day := minDay; day <= end; day += SecondsPerDay {
		window := make(map[string]*big.Int)
		for d := day - (WindowDays-1)*SecondsPerDay; d <= day; d += SecondsPerDay {
			for user, v := range byDay[d] {
				sum, ok := window[user]
				if !ok {
					sum = new(big.Int)
					window[user] = sum
				}
				sum.Add(sum, v)
			}
		}
		active := make(map[string]bool)
		for user, v := range window {
			if v.Cmp(NotionalThreshold) >= 0 {
				active[user] = true
			}
		}
		if day == end {
			for user, v := range positions {
				if v.Cmp(PositionThreshold) >= 0 {
					active[user] = true
				}
			}
		}
		out = append(out, ActiveUsersPoint{Timestamp: day * 1000, ActiveUsers: len(active)})
	}
	return out
}
