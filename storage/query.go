// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package storage

import (
	"fmt"
	"math/big"
	"sort"
	"strings"
)

// SortField orders trade listings.
type SortField string

const (
	SortDate        SortField = "date"
	SortTargetAsset SortField = "targetAsset"
	SortActivity    SortField = "activity"
	SortNomVal      SortField = "nomVal"
	SortPnlAmount   SortField = "pnlAmount"
	SortPnlPercent  SortField = "pnlPercent"
)

// SortFields lists the accepted sort fields.
var SortFields = []SortField{SortDate, SortTargetAsset, SortActivity, SortNomVal, SortPnlAmount, SortPnlPercent}

// ParseSortField validates a sortBy parameter. Empty means date.
func ParseSortField(s string) (SortField, error) {
	if s == "" {
		return SortDate, nil
	}
	for _, f := range SortFields {
		if string(f) == s {
			return f, nil
		}
	}
	names := make([]string, len(SortFields))
	for i, f := range SortFields {
		names[i] = string(f)
	}
	return "", fmt.Errorf("sortBy must be one of: %s", strings.Join(names, ", "))
}

func (f SortField) isPnl() bool {
	return f == SortPnlAmount || f == SortPnlPercent
}

// TradeQuery selects a page of trades. User matches the trade recipient.
type TradeQuery struct {
	User        string
	TargetAsset string
	Address     string
	Page        int
	Limit       int
	SortBy      SortField
	Descending  bool
}

// Offset is the number of rows skipped before the page.
func (q TradeQuery) Offset() int {
	if q.Page < 1 {
		return 0
	}
	return (q.Page - 1) * q.Limit
}

// TradePage is one offset page of trades.
type TradePage struct {
	Items      []*TradeView
	TotalCount int
}

// TotalPages is at least one, even for an empty result.
func (p *TradePage) TotalPages(limit int) int {
	if limit < 1 || p.TotalCount == 0 {
		return 1
	}
	return (p.TotalCount + limit - 1) / limit
}

func (q TradeQuery) matches(v *TradeView) bool {
	if q.User != "" && !strings.EqualFold(v.Recipient, q.User) {
		return false
	}
	if q.TargetAsset != "" && v.TargetAsset != q.TargetAsset {
		return false
	}
	if q.Address != "" && !strings.EqualFold(v.LeveragedToken, q.Address) {
		return false
	}
	return true
}

// sortTrades orders views the way ListTrades does in SQL: the sort field
// (pnl fields with nulls last), then newest first for non-date sorts, then
// id ascending.
func sortTrades(views []*TradeView, field SortField, desc bool) {
	sort.SliceStable(views, func(i, j int) bool {
		a, b := views[i], views[j]
		if c := compareField(a, b, field); c != 0 {
			if field.isPnl() {
				an, bn := pnlValue(a, field) == nil, pnlValue(b, field) == nil
				if an != bn {
					return bn
				}
			}
			if desc {
				return c > 0
			}
			return c < 0
		}
		if field != SortDate && a.Timestamp != b.Timestamp {
			return a.Timestamp > b.Timestamp
		}
		return a.ID < b.ID
	})
}

func compareField(a, b *TradeView, field SortField) int {
	switch field {
	case SortDate:
		return cmpInt64(a.Timestamp, b.Timestamp)
	case SortTargetAsset:
		return strings.Compare(a.TargetAsset, b.TargetAsset)
	case SortActivity:
		return cmpBool(a.IsBuy, b.IsBuy)
	case SortNomVal:
		return cmpBig(a.BaseAssetAmount, b.BaseAssetAmount)
	case SortPnlAmount, SortPnlPercent:
		av, bv := pnlValue(a, field), pnlValue(b, field)
		switch {
		case av == nil && bv == nil:
			return 0
		case av == nil:
			return 1
		case bv == nil:
			return -1
		}
		return av.Cmp(bv)
	}
	return 0
}

func pnlValue(v *TradeView, field SortField) *big.Int {
	if field == SortPnlPercent {
		return v.ProfitPercent
	}
	return v.ProfitAmount
}

func cmpInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func cmpBool(a, b bool) int {
	switch {
	case a == b:
		return 0
	case !a:
		return -1
	}
	return 1
}

func cmpBig(a, b *big.Int) int {
	return orZero(a).Cmp(orZero(b))
}

// pageTrades filters, sorts and slices views for q.
func pageTrades(all []*TradeView, q TradeQuery) *TradePage {
	var matched []*TradeView
	for _, v := range all {
		if q.matches(v) {
			matched = append(matched, v)
		}
	}
	sortTrades(matched, q.SortBy, q.Descending)
	page := &TradePage{TotalCount: len(matched)}
	start := q.Offset()
	if start >= len(matched) {
		page.Items = []*TradeView{}
		return page
	}
	end := start + q.Limit
	if q.Limit <= 0 || end > len(matched) {
		end = len(matched)
	}
	page.Items = matched[start:end]
	return page
}
