// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

// Package ledger computes per-user, per-instrument cost basis and profit
// from the trades and transfers recorded for a leveraged token.
package ledger

import (
	"math/big"
	"sort"
)

// Trade is a buy or sell of an instrument. Both amounts are positive
// magnitudes: BaseAmount in base-asset units (6 decimals), Amount in
// instrument units (18 decimals).
type Trade struct {
	ID         string
	Timestamp  int64
	Block      uint64
	LogIndex   uint32
	Instrument string
	IsBuy      bool
	Sender     string
	Recipient  string
	BaseAmount *big.Int
	Amount     *big.Int
}

// Owner is the address whose holdings the trade changes: the recipient of
// a buy and the sender of a sell.
func (t Trade) Owner() string {
	if t.IsBuy {
		return t.Recipient
	}
	return t.Sender
}

// Transfer moves instrument units between two addresses outside of a trade.
type Transfer struct {
	ID         string
	Timestamp  int64
	Block      uint64
	LogIndex   uint32
	Instrument string
	From       string
	To         string
	Amount     *big.Int
}

// ActionKind classifies a normalized action relative to one user.
type ActionKind int

const (
	ActionBuy ActionKind = iota
	ActionSell
	ActionTransferIn
	ActionTransferOut
)

func (k ActionKind) String() string {
	switch k {
	case ActionBuy:
		return "buy"
	case ActionSell:
		return "sell"
	case ActionTransferIn:
		return "transfer_in"
	case ActionTransferOut:
		return "transfer_out"
	default:
		return "unknown"
	}
}

// Action is one signed holdings change for a user on one instrument.
// BaseAmount is nil for transfers.
type Action struct {
	Kind       ActionKind
	ID         string
	Timestamp  int64
	Block      uint64
	LogIndex   uint32
	Amount     *big.Int
	BaseAmount *big.Int
}

// Increases reports whether the action adds to holdings.
func (a Action) Increases() bool {
	return a.Kind == ActionBuy || a.Kind == ActionTransferIn
}

// IsTrade reports whether the action came from a trade.
func (a Action) IsTrade() bool {
	return a.Kind == ActionBuy || a.Kind == ActionSell
}

// Delta is the signed instrument amount.
func (a Action) Delta() *big.Int {
	d := new(big.Int).Set(a.Amount)
	if !a.Increases() {
		d.Neg(d)
	}
	return d
}

// Normalize merges the trades and transfers touching user on instrument
// into one sequence ordered by timestamp, then block, log index and id.
// Records for other instruments and records that do not change the user's
// holdings are dropped.
func Normalize(user, instrument string, trades []Trade, transfers []Transfer) ([]Action, error) {
	user, err := ParseAddress(user)
	if err != nil {
		return nil, err
	}
	instrument, err = ParseAddress(instrument)
	if err != nil {
		return nil, err
	}

	actions := make([]Action, 0, len(trades)+len(transfers))
	for _, t := range trades {
		if !SameAddress(t.Instrument, instrument) || !SameAddress(t.Owner(), user) {
			continue
		}
		kind := ActionSell
		if t.IsBuy {
			kind = ActionBuy
		}
		actions = append(actions, Action{
			Kind:       kind,
			ID:         t.ID,
			Timestamp:  t.Timestamp,
			Block:      t.Block,
			LogIndex:   t.LogIndex,
			Amount:     t.Amount,
			BaseAmount: t.BaseAmount,
		})
	}
	for _, tr := range transfers {
		if !SameAddress(tr.Instrument, instrument) || SameAddress(tr.From, tr.To) {
			continue
		}
		var kind ActionKind
		switch {
		case SameAddress(tr.To, user):
			kind = ActionTransferIn
		case SameAddress(tr.From, user):
			kind = ActionTransferOut
		default:
			continue
		}
		actions = append(actions, Action{
			Kind:      kind,
			ID:        tr.ID,
			Timestamp: tr.Timestamp,
			Block:     tr.Block,
			LogIndex:  tr.LogIndex,
			Amount:    tr.Amount,
		})
	}

	sort.SliceStable(actions, func(i, j int) bool {
		return actionLess(actions[i], actions[j])
	})
	return actions, nil
}

func actionLess(a, b Action) bool {
	if a.Timestamp != b.Timestamp {
		return a.Timestamp < b.Timestamp
	}
	if a.Block != b.Block {
		return a.Block < b.Block
	}
	if a.LogIndex != b.LogIndex {
		return a.LogIndex < b.LogIndex
	}
	return a.ID < b.ID
}

// Instruments returns the distinct instruments a user has traded or
// transferred, in first-seen order, lowercased.
func Instruments(trades []Trade, transfers []Transfer) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(addr string) {
		key, err := ParseAddress(addr)
		if err != nil || seen[key] {
			return
		}
		seen[key] = true
		out = append(out, key)
	}
	for _, t := range trades {
		add(t.Instrument)
	}
	for _, tr := range transfers {
		add(tr.Instrument)
	}
	return out
}
