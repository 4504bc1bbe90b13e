// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package ledger

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/luxfi/ltindexer/fixedpoint"
)

// ErrAccountingInvariant marks upstream data that would drive a position
// into an impossible state.
var ErrAccountingInvariant = errors.New("accounting invariant violation")

// InvariantError describes an accounting invariant violation.
type InvariantError struct {
	Op       string
	ActionID string
	Need     *big.Int
	Have     *big.Int
	Reason   string
}

func (e *InvariantError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: %s: %s", ErrAccountingInvariant, e.Op, e.Reason)
	}
	return fmt.Sprintf("%s: %s %s exceeds holdings %s (action %s)",
		ErrAccountingInvariant, e.Op, e.Need, e.Have, e.ActionID)
}

func (e *InvariantError) Unwrap() error { return ErrAccountingInvariant }

// TransferPolicy decides the cost basis attached to instrument units
// received through a plain transfer.
type TransferPolicy int

const (
	// SameCost values inbound units at the receiver's current average cost.
	SameCost TransferPolicy = iota
	// ZeroCost values inbound units at zero.
	ZeroCost
)

// ParseTransferPolicy maps a config name to a policy.
func ParseTransferPolicy(s string) (TransferPolicy, error) {
	switch s {
	case "", "same-cost":
		return SameCost, nil
	case "zero-cost":
		return ZeroCost, nil
	default:
		return 0, fmt.Errorf("unknown transfer policy %q", s)
	}
}

func (p TransferPolicy) String() string {
	if p == ZeroCost {
		return "zero-cost"
	}
	return "same-cost"
}

// Position is the running state for one (user, instrument) pair.
// Holdings is in instrument units, Cost and Realized in base-asset units.
type Position struct {
	Holdings *big.Int
	Cost     *big.Int
	Realized *big.Int
}

// NewPosition returns an empty position.
func NewPosition() *Position {
	return &Position{Holdings: new(big.Int), Cost: new(big.Int), Realized: new(big.Int)}
}

// Clone returns a deep copy.
func (p *Position) Clone() *Position {
	return &Position{
		Holdings: fixedpoint.Clone(p.Holdings),
		Cost:     fixedpoint.Clone(p.Cost),
		Realized: fixedpoint.Clone(p.Realized),
	}
}

// Outcome reports what one action did to a position.
type Outcome struct {
	CostAdded     *big.Int
	CostRemoved   *big.Int
	RealizedDelta *big.Int
}

// ProfitPercent is the realized delta relative to the cost removed, as an
// 18-decimal fraction. It is nil when no cost was removed.
func (o Outcome) ProfitPercent() *big.Int {
	if fixedpoint.IsZero(o.CostRemoved) || o.RealizedDelta == nil {
		return nil
	}
	return fixedpoint.Div(o.RealizedDelta, o.CostRemoved)
}

// Calculator folds actions into positions using the average-cost method.
type Calculator struct {
	Policy TransferPolicy
}

// Apply mutates p by one action. On error p is left unchanged.
func (c Calculator) Apply(p *Position, a Action) (Outcome, error) {
	if p.Holdings == nil || p.Cost == nil || p.Realized == nil {
		*p = *fillPosition(p)
	}
	out := Outcome{CostAdded: new(big.Int), CostRemoved: new(big.Int), RealizedDelta: new(big.Int)}
	amount := a.Amount
	if amount == nil {
		amount = new(big.Int)
	}
	if amount.Sign() < 0 || (a.BaseAmount != nil && a.BaseAmount.Sign() < 0) {
		return Outcome{}, &InvariantError{Op: a.Kind.String(), ActionID: a.ID, Reason: "negative amount"}
	}

	switch a.Kind {
	case ActionBuy:
		p.Holdings.Add(p.Holdings, amount)
		out.CostAdded.Set(fixedpoint.Clone(a.BaseAmount))
		p.Cost.Add(p.Cost, out.CostAdded)

	case ActionTransferIn:
		if c.Policy == SameCost && p.Holdings.Sign() > 0 {
			out.CostAdded = proportionalCost(p.Cost, p.Holdings, amount)
		}
		p.Holdings.Add(p.Holdings, amount)
		p.Cost.Add(p.Cost, out.CostAdded)

	case ActionSell, ActionTransferOut:
		if amount.Cmp(p.Holdings) > 0 {
			return Outcome{}, &InvariantError{
				Op:       a.Kind.String(),
				ActionID: a.ID,
				Need:     new(big.Int).Set(amount),
				Have:     new(big.Int).Set(p.Holdings),
			}
		}
		out.CostRemoved = proportionalCost(p.Cost, p.Holdings, amount)
		if a.Kind == ActionSell {
			out.RealizedDelta.Sub(fixedpoint.Clone(a.BaseAmount), out.CostRemoved)
			p.Realized.Add(p.Realized, out.RealizedDelta)
		}
		p.Cost.Sub(p.Cost, out.CostRemoved)
		p.Holdings.Sub(p.Holdings, amount)

	default:
		return Outcome{}, fmt.Errorf("unknown action kind %d", a.Kind)
	}
	return out, nil
}

// proportionalCost returns the share of cost carried by amount out of
// holdings. The full cost is returned when amount equals holdings so that
// closing a position never leaves residual cost.
func proportionalCost(cost, holdings, amount *big.Int) *big.Int {
	if holdings.Sign() == 0 || amount.Sign() == 0 {
		return new(big.Int)
	}
	if amount.Cmp(holdings) == 0 {
		return new(big.Int).Set(cost)
	}
	perUnit := fixedpoint.Div(cost, holdings)
	return fixedpoint.Mul(perUnit, amount)
}

func fillPosition(p *Position) *Position {
	out := NewPosition()
	if p.Holdings != nil {
		out.Holdings.Set(p.Holdings)
	}
	if p.Cost != nil {
		out.Cost.Set(p.Cost)
	}
	if p.Realized != nil {
		out.Realized.Set(p.Realized)
	}
	return out
}

// Point is one sample of a profit series. Timestamp is unix milliseconds,
// Value is in base-asset units.
type Point struct {
	Timestamp int64
	Value     *big.Int
}

// Fold replays actions from an empty position and returns the final state
// together with one cumulative realized-profit point per sell.
func (c Calculator) Fold(actions []Action) (*Position, []Point, error) {
	p := NewPosition()
	var series []Point
	for _, a := range actions {
		if _, err := c.Apply(p, a); err != nil {
			return nil, nil, err
		}
		if a.Kind == ActionSell {
			series = append(series, Point{Timestamp: a.Timestamp * 1000, Value: new(big.Int).Set(p.Realized)})
		}
	}
	return p, series, nil
}
