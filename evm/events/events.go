// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

// Package events defines the decoded protocol events and applies them to
// the record store.
package events

import (
	"fmt"
	"math/big"
)

// Kind names an event type.
type Kind string

const (
	KindLeveragedTokenCreated   Kind = "LeveragedTokenCreated"
	KindMint                    Kind = "Mint"
	KindRedeem                  Kind = "Redeem"
	KindTokenTransfer           Kind = "Transfer"
	KindFeeCharged              Kind = "FeeCharged"
	KindBridgeFromPerp          Kind = "BridgeFromPerp"
	KindSetMintPaused           Kind = "SetMintPaused"
	KindSetAgent                Kind = "SetAgent"
	KindUSDCTransferIn          Kind = "USDCTransferIn"
	KindUSDCTransferOut         Kind = "USDCTransferOut"
	KindOwnershipTransferred    Kind = "OwnershipTransferred"
	KindSetAllMintsPaused       Kind = "SetAllMintsPaused"
	KindSetMinTransactionSize   Kind = "SetMinTransactionSize"
	KindSetMinLockAmount        Kind = "SetMinLockAmount"
	KindSetRedemptionFee        Kind = "SetRedemptionFee"
	KindSetExecuteRedemptionFee Kind = "SetExecuteRedemptionFee"
	KindSetStreamingFee         Kind = "SetStreamingFee"
	KindSetTreasuryFeeShare     Kind = "SetTreasuryFeeShare"
	KindSetReferrerRebate       Kind = "SetReferrerRebate"
	KindSetRefereeRebate        Kind = "SetRefereeRebate"
	KindAddReferrer             Kind = "AddReferrer"
	KindJoinWithReferral        Kind = "JoinWithReferral"
	KindClaimRebate             Kind = "ClaimRebate"
	KindDonateRebate            Kind = "DonateRebate"
)

// Event is one decoded protocol log.
type Event interface {
	Kind() Kind
	Meta() Header
}

// Header locates the log that produced an event. Address is the emitting
// contract.
type Header struct {
	Block     uint64
	Timestamp int64
	TxHash    string
	LogIndex  uint32
	Address   string
}

func (h Header) Meta() Header { return h }

// ID is the stable record identifier of the log.
func (h Header) ID() string {
	return fmt.Sprintf("%s-%d", h.TxHash, h.LogIndex)
}

// LeveragedTokenCreated is emitted by the factory for a new instrument.
type LeveragedTokenCreated struct {
	Header
	Token          string
	MarketID       uint32
	TargetAsset    string
	TargetLeverage *big.Int
	IsLong         bool
	Symbol         string
	Name           string
	Decimals       uint8
}

func (LeveragedTokenCreated) Kind() Kind { return KindLeveragedTokenCreated }

// Mint buys instrument units with base asset.
type Mint struct {
	Header
	Minter     string
	To         string
	BaseAmount *big.Int
	LTAmount   *big.Int
}

func (Mint) Kind() Kind { return KindMint }

// Redeem sells instrument units for base asset.
type Redeem struct {
	Header
	Sender     string
	To         string
	LTAmount   *big.Int
	BaseAmount *big.Int
}

func (Redeem) Kind() Kind { return KindRedeem }

// TokenTransfer is an ERC-20 transfer of instrument units.
type TokenTransfer struct {
	Header
	From  string
	To    string
	Value *big.Int
}

func (TokenTransfer) Kind() Kind { return KindTokenTransfer }

// FeeCharged records a protocol fee taken by an instrument.
type FeeCharged struct {
	Header
	Amount *big.Int
}

func (FeeCharged) Kind() Kind { return KindFeeCharged }

// BridgeFromPerp marks an instrument moving margin back from the perp venue.
type BridgeFromPerp struct {
	Header
	Amount *big.Int
}

func (BridgeFromPerp) Kind() Kind { return KindBridgeFromPerp }

// SetMintPaused toggles minting of one instrument.
type SetMintPaused struct {
	Header
	Paused bool
}

func (SetMintPaused) Kind() Kind { return KindSetMintPaused }

// SetAgent registers a trading agent slot.
type SetAgent struct {
	Header
	Slot  uint32
	Agent string
	Name  string
}

func (SetAgent) Kind() Kind { return KindSetAgent }

// USDCTransfer is a base-asset transfer into or out of an instrument.
type USDCTransfer struct {
	Header
	Inbound bool
	From    string
	To      string
	Value   *big.Int
}

func (e USDCTransfer) Kind() Kind {
	if e.Inbound {
		return KindUSDCTransferIn
	}
	return KindUSDCTransferOut
}

// GlobalSetting replaces one field of the protocol settings. Owner is set
// for OwnershipTransferred, Paused for SetAllMintsPaused and Value for the
// numeric setters.
type GlobalSetting struct {
	Header
	Setting Kind
	Owner   string
	Paused  bool
	Value   *big.Int
}

func (e GlobalSetting) Kind() Kind { return e.Setting }

// AddReferrer registers a referral code.
type AddReferrer struct {
	Header
	Referrer     string
	ReferralCode string
}

func (AddReferrer) Kind() Kind { return KindAddReferrer }

// JoinWithReferral links a referee to a referrer.
type JoinWithReferral struct {
	Header
	Referee      string
	Referrer     string
	ReferralCode string
}

func (JoinWithReferral) Kind() Kind { return KindJoinWithReferral }

// ClaimRebate pays out accrued rebates.
type ClaimRebate struct {
	Header
	Sender string
	To     string
	Rebate *big.Int
}

func (ClaimRebate) Kind() Kind { return KindClaimRebate }

// DonateRebate credits rebates to a referee and their referrer.
type DonateRebate struct {
	Header
	Sender         string
	To             string
	FeeAmount      *big.Int
	ReferrerRebate *big.Int
	RefereeRebate  *big.Int
}

func (DonateRebate) Kind() Kind { return KindDonateRebate }

var globalSettingKinds = map[Kind]bool{
	KindOwnershipTransferred:    true,
	KindSetAllMintsPaused:       true,
	KindSetMinTransactionSize:   true,
	KindSetMinLockAmount:        true,
	KindSetRedemptionFee:        true,
	KindSetExecuteRedemptionFee: true,
	KindSetStreamingFee:         true,
	KindSetTreasuryFeeShare:     true,
	KindSetReferrerRebate:       true,
	KindSetRefereeRebate:        true,
}
