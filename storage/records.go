// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package storage

import (
	"math/big"

	"github.com/luxfi/ltindexer/fixedpoint"
	"github.com/luxfi/ltindexer/ledger"
)

// GlobalStorageID is the key of the protocol settings singleton.
const GlobalStorageID = "global"

// Instrument is a leveraged token. TargetLeverage and ExchangeRate are
// 18-decimal fixed point, TotalSupply is in token units (18 decimals) and
// BaseAssetBalance in base-asset units (6 decimals).
type Instrument struct {
	Address                   string   `json:"address"`
	MarketID                  uint32   `json:"marketId"`
	TargetAsset               string   `json:"targetAsset"`
	TargetLeverage            *big.Int `json:"targetLeverage"`
	IsLong                    bool     `json:"isLong"`
	Symbol                    string   `json:"symbol"`
	Name                      string   `json:"name"`
	Decimals                  uint8    `json:"decimals"`
	MintPaused                bool     `json:"mintPaused"`
	ExchangeRate              *big.Int `json:"exchangeRate"`
	TotalSupply               *big.Int `json:"totalSupply"`
	BaseAssetBalance          *big.Int `json:"baseAssetBalance"`
	LatestBridgeFromPerpBlock uint64   `json:"latestBridgeFromPerpBlock"`
	CreatedAt                 int64    `json:"createdAt"`
}

// NewInstrument returns an instrument with zeroed numeric fields.
func NewInstrument(address string) *Instrument {
	return &Instrument{
		Address:          address,
		TargetLeverage:   new(big.Int),
		ExchangeRate:     new(big.Int),
		TotalSupply:      new(big.Int),
		BaseAssetBalance: new(big.Int),
		Decimals:         18,
	}
}

func (i *Instrument) normalize() {
	i.TargetLeverage = orZero(i.TargetLeverage)
	i.ExchangeRate = orZero(i.ExchangeRate)
	i.TotalSupply = orZero(i.TotalSupply)
	i.BaseAssetBalance = orZero(i.BaseAssetBalance)
}

// TotalAssets is supply valued at the exchange rate, in base-asset units.
func (i *Instrument) TotalAssets() *big.Int {
	v := fixedpoint.Mul(i.TotalSupply, i.ExchangeRate)
	return fixedpoint.ConvertDecimals(v, fixedpoint.WadDecimals, fixedpoint.BaseAssetDecimals)
}

// Trade is one mint (buy) or redeem (sell). ProfitAmount (6 decimals) and
// ProfitPercent (18 decimals) are nil until computed for a sell.
type Trade struct {
	ID                   string   `json:"id"`
	TxHash               string   `json:"txHash"`
	Timestamp            int64    `json:"timestamp"`
	Block                uint64   `json:"block"`
	LogIndex             uint32   `json:"logIndex"`
	LeveragedToken       string   `json:"leveragedToken"`
	IsBuy                bool     `json:"isBuy"`
	Sender               string   `json:"sender"`
	Recipient            string   `json:"recipient"`
	BaseAssetAmount      *big.Int `json:"baseAssetAmount"`
	LeveragedTokenAmount *big.Int `json:"leveragedTokenAmount"`
	ProfitAmount         *big.Int `json:"profitAmount"`
	ProfitPercent        *big.Int `json:"profitPercent"`
}

// Ledger converts the record for cost-basis computation.
func (t *Trade) Ledger() ledger.Trade {
	return ledger.Trade{
		ID:         t.ID,
		Timestamp:  t.Timestamp,
		Block:      t.Block,
		LogIndex:   t.LogIndex,
		Instrument: t.LeveragedToken,
		IsBuy:      t.IsBuy,
		Sender:     t.Sender,
		Recipient:  t.Recipient,
		BaseAmount: t.BaseAssetAmount,
		Amount:     t.LeveragedTokenAmount,
	}
}

// TradeView is a trade joined with its instrument.
type TradeView struct {
	Trade
	TargetLeverage *big.Int `json:"targetLeverage"`
	IsLong         bool     `json:"isLong"`
	TargetAsset    string   `json:"targetAsset"`
}

// Transfer is a token movement between two holders outside of a trade.
type Transfer struct {
	ID             string   `json:"id"`
	TxHash         string   `json:"txHash"`
	Timestamp      int64    `json:"timestamp"`
	Block          uint64   `json:"block"`
	LogIndex       uint32   `json:"logIndex"`
	LeveragedToken string   `json:"leveragedToken"`
	From           string   `json:"from"`
	To             string   `json:"to"`
	Amount         *big.Int `json:"amount"`
}

// Ledger converts the record for cost-basis computation.
func (t *Transfer) Ledger() ledger.Transfer {
	return ledger.Transfer{
		ID:         t.ID,
		Timestamp:  t.Timestamp,
		Block:      t.Block,
		LogIndex:   t.LogIndex,
		Instrument: t.LeveragedToken,
		From:       t.From,
		To:         t.To,
		Amount:     t.Amount,
	}
}

// Balance is the persisted position of one user in one instrument.
type Balance struct {
	User           string   `json:"user"`
	LeveragedToken string   `json:"leveragedToken"`
	TotalBalance   *big.Int `json:"totalBalance"`
	PurchaseCost   *big.Int `json:"purchaseCost"`
	RealizedProfit *big.Int `json:"realizedProfit"`
	LastUpdated    int64    `json:"lastUpdated"`
}

// NewBalance returns an empty balance row.
func NewBalance(user, token string) *Balance {
	return &Balance{
		User:           user,
		LeveragedToken: token,
		TotalBalance:   new(big.Int),
		PurchaseCost:   new(big.Int),
		RealizedProfit: new(big.Int),
	}
}

func (b *Balance) normalize() {
	b.TotalBalance = orZero(b.TotalBalance)
	b.PurchaseCost = orZero(b.PurchaseCost)
	b.RealizedProfit = orZero(b.RealizedProfit)
}

// Position returns the ledger state held by the row.
func (b *Balance) Position() *ledger.Position {
	return &ledger.Position{
		Holdings: fixedpoint.Clone(b.TotalBalance),
		Cost:     fixedpoint.Clone(b.PurchaseCost),
		Realized: fixedpoint.Clone(b.RealizedProfit),
	}
}

// SetPosition copies p into the row.
func (b *Balance) SetPosition(p *ledger.Position) {
	b.TotalBalance = fixedpoint.Clone(p.Holdings)
	b.PurchaseCost = fixedpoint.Clone(p.Cost)
	b.RealizedProfit = fixedpoint.Clone(p.Realized)
}

// User aggregates trading volume and referral state for one address.
// Volumes and rebates are base-asset units.
type User struct {
	Address              string   `json:"address"`
	TradeCount           int64    `json:"tradeCount"`
	MintVolumeNominal    *big.Int `json:"mintVolumeNominal"`
	RedeemVolumeNominal  *big.Int `json:"redeemVolumeNominal"`
	TotalVolumeNominal   *big.Int `json:"totalVolumeNominal"`
	MintVolumeNotional   *big.Int `json:"mintVolumeNotional"`
	RedeemVolumeNotional *big.Int `json:"redeemVolumeNotional"`
	TotalVolumeNotional  *big.Int `json:"totalVolumeNotional"`
	LastTradeTimestamp   int64    `json:"lastTradeTimestamp"`
	RealizedProfit       *big.Int `json:"realizedProfit"`
	ReferralCode         string   `json:"referralCode"`
	ReferrerCode         string   `json:"referrerCode"`
	ReferrerAddress      string   `json:"referrerAddress"`
	ReferredUserCount    int64    `json:"referredUserCount"`
	ReferrerRebates      *big.Int `json:"referrerRebates"`
	RefereeRebates       *big.Int `json:"refereeRebates"`
	TotalRebates         *big.Int `json:"totalRebates"`
	ClaimedRebates       *big.Int `json:"claimedRebates"`
}

// NewUser returns a user row with zeroed aggregates.
func NewUser(address string) *User {
	u := &User{Address: address}
	u.normalize()
	return u
}

func (u *User) normalize() {
	u.MintVolumeNominal = orZero(u.MintVolumeNominal)
	u.RedeemVolumeNominal = orZero(u.RedeemVolumeNominal)
	u.TotalVolumeNominal = orZero(u.TotalVolumeNominal)
	u.MintVolumeNotional = orZero(u.MintVolumeNotional)
	u.RedeemVolumeNotional = orZero(u.RedeemVolumeNotional)
	u.TotalVolumeNotional = orZero(u.TotalVolumeNotional)
	u.RealizedProfit = orZero(u.RealizedProfit)
	u.ReferrerRebates = orZero(u.ReferrerRebates)
	u.RefereeRebates = orZero(u.RefereeRebates)
	u.TotalRebates = orZero(u.TotalRebates)
	u.ClaimedRebates = orZero(u.ClaimedRebates)
}

// IsReferrer reports whether the user registered a code or referred anyone.
func (u *User) IsReferrer() bool {
	return u.ReferralCode != "" || u.ReferredUserCount > 0
}

// Fee is a protocol fee charged by an instrument, in base-asset units.
type Fee struct {
	ID             string   `json:"id"`
	Timestamp      int64    `json:"timestamp"`
	LeveragedToken string   `json:"leveragedToken"`
	Amount         *big.Int `json:"amount"`
}

// Mint is the raw mint log kept alongside the derived buy trade.
type Mint struct {
	ID                   string   `json:"id"`
	Timestamp            int64    `json:"timestamp"`
	LeveragedToken       string   `json:"leveragedToken"`
	Sender               string   `json:"sender"`
	Recipient            string   `json:"recipient"`
	BaseAssetAmount      *big.Int `json:"baseAssetAmount"`
	LeveragedTokenAmount *big.Int `json:"leveragedTokenAmount"`
}

// GlobalStorage holds the protocol-wide settings.
type GlobalStorage struct {
	Owner                string   `json:"owner"`
	AllMintsPaused       bool     `json:"allMintsPaused"`
	MinTransactionSize   *big.Int `json:"minTransactionSize"`
	MinLockAmount        *big.Int `json:"minLockAmount"`
	RedemptionFee        *big.Int `json:"redemptionFee"`
	ExecuteRedemptionFee *big.Int `json:"executeRedemptionFee"`
	StreamingFee         *big.Int `json:"streamingFee"`
	TreasuryFeeShare     *big.Int `json:"treasuryFeeShare"`
	ReferrerRebate       *big.Int `json:"referrerRebate"`
	RefereeRebate        *big.Int `json:"refereeRebate"`
}

// NewGlobalStorage returns zeroed settings.
func NewGlobalStorage() *GlobalStorage {
	g := &GlobalStorage{Owner: "0x0000000000000000000000000000000000000000"}
	g.normalize()
	return g
}

func (g *GlobalStorage) normalize() {
	g.MinTransactionSize = orZero(g.MinTransactionSize)
	g.MinLockAmount = orZero(g.MinLockAmount)
	g.RedemptionFee = orZero(g.RedemptionFee)
	g.ExecuteRedemptionFee = orZero(g.ExecuteRedemptionFee)
	g.StreamingFee = orZero(g.StreamingFee)
	g.TreasuryFeeShare = orZero(g.TreasuryFeeShare)
	g.ReferrerRebate = orZero(g.ReferrerRebate)
	g.RefereeRebate = orZero(g.RefereeRebate)
}

// Agent is an instrument's registered trading agent.
type Agent struct {
	Slot  uint32 `json:"slot"`
	Agent string `json:"agent"`
	Name  string `json:"name"`
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
