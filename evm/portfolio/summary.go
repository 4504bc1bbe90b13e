// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package portfolio

import (
	"github.com/luxfi/ltindexer/fixedpoint"
	"github.com/luxfi/ltindexer/storage"
)

// Summary is the public view of a leveraged token. Raw on-chain amounts
// are decimal strings.
type Summary struct {
	Address          string  `json:"address"`
	TargetLeverage   float64 `json:"targetLeverage"`
	IsLong           bool    `json:"isLong"`
	Symbol           string  `json:"symbol"`
	Name             string  `json:"name"`
	Decimals         uint8   `json:"decimals"`
	TargetAsset      string  `json:"targetAsset"`
	MintPaused       bool    `json:"mintPaused"`
	ExchangeRate     string  `json:"exchangeRate"`
	TotalSupply      string  `json:"totalSupply"`
	TotalAssets      string  `json:"totalAssets"`
	BaseAssetBalance string  `json:"baseAssetBalance"`
}

// Summarize builds the public view of inst.
func Summarize(inst *storage.Instrument) Summary {
	return Summary{
		Address:          inst.Address,
		TargetLeverage:   fixedpoint.ToFloat(inst.TargetLeverage, fixedpoint.WadDecimals),
		IsLong:           inst.IsLong,
		Symbol:           inst.Symbol,
		Name:             inst.Name,
		Decimals:         inst.Decimals,
		TargetAsset:      inst.TargetAsset,
		MintPaused:       inst.MintPaused,
		ExchangeRate:     fixedpoint.Clone(inst.ExchangeRate).String(),
		TotalSupply:      fixedpoint.Clone(inst.TotalSupply).String(),
		TotalAssets:      inst.TotalAssets().String(),
		BaseAssetBalance: fixedpoint.Clone(inst.BaseAssetBalance).String(),
	}
}

// Summaries summarizes every instrument.
func Summaries(list []*storage.Instrument) []Summary {
	out := make([]Summary, len(list))
	for i, inst := range list {
		out[i] = Summarize(inst)
	}
	return out
}
