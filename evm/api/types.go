// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package api

import (
	"github.com/luxfi/ltindexer/fixedpoint"
	"github.com/luxfi/ltindexer/storage"
)

// Response status values
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Envelope wraps every JSON response.
type Envelope struct {
	Status string      `json:"status"`
	Data   interface{} `json:"data"`
	Error  *string     `json:"error"`
}

// GlobalStorage is the public view of the protocol settings. Raw values
// are decimal strings.
type GlobalStorage struct {
	Owner                string `json:"owner"`
	AllMintsPaused       bool   `json:"allMintsPaused"`
	MinTransactionSize   string `json:"minTransactionSize"`
	MinLockAmount        string `json:"minLockAmount"`
	RedemptionFee        string `json:"redemptionFee"`
	ExecuteRedemptionFee string `json:"executeRedemptionFee"`
	StreamingFee         string `json:"streamingFee"`
	TreasuryFeeShare     string `json:"treasuryFeeShare"`
	ReferrerRebate       string `json:"referrerRebate"`
	RefereeRebate        string `json:"refereeRebate"`
}

func newGlobalStorage(g *storage.GlobalStorage) GlobalStorage {
	return GlobalStorage{
		Owner:                g.Owner,
		AllMintsPaused:       g.AllMintsPaused,
		MinTransactionSize:   fixedpoint.Clone(g.MinTransactionSize).String(),
		MinLockAmount:        fixedpoint.Clone(g.MinLockAmount).String(),
		RedemptionFee:        fixedpoint.Clone(g.RedemptionFee).String(),
		ExecuteRedemptionFee: fixedpoint.Clone(g.ExecuteRedemptionFee).String(),
		StreamingFee:         fixedpoint.Clone(g.StreamingFee).String(),
		TreasuryFeeShare:     fixedpoint.Clone(g.TreasuryFeeShare).String(),
		ReferrerRebate:       fixedpoint.Clone(g.ReferrerRebate).String(),
		RefereeRebate:        fixedpoint.Clone(g.RefereeRebate).String(),
	}
}
