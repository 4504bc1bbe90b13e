// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package ledger

import (
	"math/big"

	"github.com/luxfi/ltindexer/fixedpoint"
)

// Unrealized values holdings at rate and subtracts cost. holdings and rate
// are 18-decimal, cost is base-asset scaled; the result is 18-decimal.
// The percent form is unrealized/cost and zero when cost is zero.
func Unrealized(holdings, cost, rate *big.Int) (*big.Int, float64) {
	value := fixedpoint.Mul(holdings, rate)
	cost18 := fixedpoint.ConvertDecimals(cost, fixedpoint.BaseAssetDecimals, fixedpoint.WadDecimals)
	unrealized := value.Sub(value, cost18)
	if fixedpoint.IsZero(cost) {
		return unrealized, 0
	}
	pct := fixedpoint.ToFloat(unrealized, fixedpoint.WadDecimals) / fixedpoint.ToFloat(cost, fixedpoint.BaseAssetDecimals)
	return unrealized, fixedpoint.Round(pct, 6)
}

// InstrumentPnL is the profit summary of one instrument for one user.
type InstrumentPnL struct {
	Instrument        string
	Holdings          *big.Int
	Cost              *big.Int
	Realized          *big.Int // base-asset units
	Unrealized        *big.Int // 18 decimals
	UnrealizedPercent float64
}

// Evaluate folds the actions and values the remaining holdings at rate.
func (c Calculator) Evaluate(instrument string, actions []Action, rate *big.Int) (InstrumentPnL, []Point, error) {
	p, series, err := c.Fold(actions)
	if err != nil {
		return InstrumentPnL{}, nil, err
	}
	unrealized, pct := Unrealized(p.Holdings, p.Cost, rate)
	return InstrumentPnL{
		Instrument:        instrument,
		Holdings:          p.Holdings,
		Cost:              p.Cost,
		Realized:          p.Realized,
		Unrealized:        unrealized,
		UnrealizedPercent: pct,
	}, series, nil
}

// CloseSeries appends the synthetic "now" point holding realized plus
// unrealized profit. The point is only added when the series already has
// samples or unrealized is non-zero. realized is base-asset scaled,
// unrealized 18-decimal; nowMillis is the point timestamp.
func CloseSeries(series []Point, realized, unrealized *big.Int, nowMillis int64) []Point {
	if len(series) == 0 && fixedpoint.IsZero(unrealized) {
		return series
	}
	total := fixedpoint.ConvertDecimals(unrealized, fixedpoint.WadDecimals, fixedpoint.BaseAssetDecimals)
	total.Add(total, fixedpoint.Clone(realized))
	return append(series, Point{Timestamp: nowMillis, Value: total})
}

// CumulativeSeries turns per-trade profits into a running total. Each
// entry's Value is the profit of one trade.
func CumulativeSeries(profits []Point) []Point {
	out := make([]Point, 0, len(profits))
	running := new(big.Int)
	for _, p := range profits {
		running.Add(running, fixedpoint.Clone(p.Value))
		out = append(out, Point{Timestamp: p.Timestamp, Value: new(big.Int).Set(running)})
	}
	return out
}
