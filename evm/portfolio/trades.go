// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package portfolio

import (
	"context"
	"errors"
	"math/big"

	"github.com/luxfi/ltindexer/fixedpoint"
	"github.com/luxfi/ltindexer/ledger"
	"github.com/luxfi/ltindexer/storage"
)

// TradeItem is the public view of a trade joined with its instrument.
// Profit fields are null for buys and for sells not yet annotated.
type TradeItem struct {
	ID                   string   `json:"id"`
	TxHash               string   `json:"txHash"`
	Timestamp            int64    `json:"timestamp"`
	IsBuy                bool     `json:"isBuy"`
	BaseAssetAmount      string   `json:"baseAssetAmount"`
	LeveragedTokenAmount string   `json:"leveragedTokenAmount"`
	LeveragedToken       string   `json:"leveragedToken"`
	Sender               string   `json:"sender"`
	Recipient            string   `json:"recipient"`
	TargetLeverage       float64  `json:"targetLeverage"`
	IsLong               bool     `json:"isLong"`
	TargetAsset          string   `json:"targetAsset"`
	ProfitAmount         *float64 `json:"profitAmount"`
	ProfitPercent        *float64 `json:"profitPercent"`
}

// NewTradeItem converts a stored trade view.
func NewTradeItem(v *storage.TradeView) TradeItem {
	return TradeItem{
		ID:                   v.ID,
		TxHash:               v.TxHash,
		Timestamp:            v.Timestamp,
		IsBuy:                v.IsBuy,
		BaseAssetAmount:      fixedpoint.Clone(v.BaseAssetAmount).String(),
		LeveragedTokenAmount: fixedpoint.Clone(v.LeveragedTokenAmount).String(),
		LeveragedToken:       v.LeveragedToken,
		Sender:               v.Sender,
		Recipient:            v.Recipient,
		TargetLeverage:       fixedpoint.ToFloat(v.TargetLeverage, fixedpoint.WadDecimals),
		IsLong:               v.IsLong,
		TargetAsset:          v.TargetAsset,
		ProfitAmount:         optionalFloat(v.ProfitAmount, fixedpoint.BaseAssetDecimals),
		ProfitPercent:        optionalFloat(v.ProfitPercent, fixedpoint.WadDecimals),
	}
}

func optionalFloat(v *big.Int, decimals int) *float64 {
	if v == nil {
		return nil
	}
	f := fixedpoint.ToFloat(v, decimals)
	return &f
}

// TradeList is one offset page of trades.
type TradeList struct {
	Items      []TradeItem `json:"items"`
	TotalCount int         `json:"totalCount"`
	Page       int         `json:"page"`
	TotalPages int         `json:"totalPages"`
}

// Trades lists trades matching q. Page and Limit must already be
// validated.
func (s *Service) Trades(ctx context.Context, q storage.TradeQuery) (*TradeList, error) {
	if q.User != "" {
		user, err := ledger.ParseAddress(q.User)
		if err != nil {
			return nil, err
		}
		q.User = user
	}
	page, err := s.store.ListTrades(ctx, q)
	if err != nil {
		return nil, err
	}
	out := &TradeList{
		Items:      make([]TradeItem, len(page.Items)),
		TotalCount: page.TotalCount,
		Page:       q.Page,
		TotalPages: page.TotalPages(q.Limit),
	}
	for i, v := range page.Items {
		out.Items[i] = NewTradeItem(v)
	}
	return out, nil
}

// TradeByTxHash returns the trade recorded for a transaction, or nil when
// none was.
func (s *Service) TradeByTxHash(ctx context.Context, txHash string) (*TradeItem, error) {
	if !ledger.IsTxHash(txHash) {
		return nil, ledger.ErrInvalidTxHash
	}
	v, err := s.store.GetTradeByTxHash(ctx, txHash)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return nil, nil
	case err != nil:
		return nil, err
	}
	item := NewTradeItem(v)
	return &item, nil
}
