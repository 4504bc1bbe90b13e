// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"strconv"

	"github.com/luxfi/ltindexer/fixedpoint"
	"github.com/luxfi/ltindexer/ledger"
)

// ErrUnknownKind is returned when an envelope names no known event.
var ErrUnknownKind = errors.New("unknown event kind")

// Envelope is the wire form of an event. Args holds the log arguments by
// their ABI names; integers may be JSON numbers or decimal strings.
type Envelope struct {
	Kind      Kind            `json:"kind"`
	Block     uint64          `json:"block"`
	Timestamp int64           `json:"timestamp"`
	TxHash    string          `json:"txHash"`
	LogIndex  uint32          `json:"logIndex"`
	Address   string          `json:"address"`
	Args      json.RawMessage `json:"args"`
}

// Decode parses one JSON envelope into its typed event.
func Decode(data []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	return env.Event()
}

// Event converts the envelope into its typed event.
func (env Envelope) Event() (Event, error) {
	addr, err := ledger.ParseAddress(env.Address)
	if err != nil {
		return nil, fmt.Errorf("%s: emitter: %w", env.Kind, err)
	}
	h := Header{
		Block:     env.Block,
		Timestamp: env.Timestamp,
		TxHash:    env.TxHash,
		LogIndex:  env.LogIndex,
		Address:   addr,
	}
	a, err := parseArgs(env.Args)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", env.Kind, err)
	}

	var ev Event
	switch {
	case env.Kind == KindLeveragedTokenCreated:
		ev = LeveragedTokenCreated{
			Header:         h,
			Token:          a.addr("token"),
			MarketID:       uint32(a.uint("marketId")),
			TargetAsset:    a.str("targetAsset"),
			TargetLeverage: a.uint256("targetLeverage"),
			IsLong:         a.boolean("isLong"),
			Symbol:         a.str("symbol"),
			Name:           a.str("name"),
			Decimals:       uint8(a.uintOr("decimals", 18)),
		}
	case env.Kind == KindMint:
		ev = Mint{Header: h, Minter: a.addr("minter"), To: a.addr("to"), BaseAmount: a.uint256("baseAmount"), LTAmount: a.uint256("ltAmount")}
	case env.Kind == KindRedeem:
		ev = Redeem{Header: h, Sender: a.addr("sender"), To: a.addr("to"), LTAmount: a.uint256("ltAmount"), BaseAmount: a.uint256("baseAmount")}
	case env.Kind == KindTokenTransfer:
		ev = TokenTransfer{Header: h, From: a.addr("from"), To: a.addr("to"), Value: a.uint256("value")}
	case env.Kind == KindFeeCharged:
		ev = FeeCharged{Header: h, Amount: a.uint256("amount")}
	case env.Kind == KindBridgeFromPerp:
		ev = BridgeFromPerp{Header: h, Amount: a.bigOrZero("amount")}
	case env.Kind == KindSetMintPaused:
		ev = SetMintPaused{Header: h, Paused: a.boolean("paused")}
	case env.Kind == KindSetAgent:
		ev = SetAgent{Header: h, Slot: uint32(a.uint("slot")), Agent: a.addr("agent"), Name: a.str("name")}
	case env.Kind == KindUSDCTransferIn, env.Kind == KindUSDCTransferOut:
		ev = USDCTransfer{Header: h, Inbound: env.Kind == KindUSDCTransferIn, From: a.addr("from"), To: a.addr("to"), Value: a.uint256("value")}
	case env.Kind == KindOwnershipTransferred:
		ev = GlobalSetting{Header: h, Setting: env.Kind, Owner: a.addr("newOwner")}
	case env.Kind == KindSetAllMintsPaused:
		ev = GlobalSetting{Header: h, Setting: env.Kind, Paused: a.boolean("newPaused")}
	case globalSettingKinds[env.Kind]:
		ev = GlobalSetting{Header: h, Setting: env.Kind, Value: a.uint256(settingArg(env.Kind))}
	case env.Kind == KindAddReferrer:
		ev = AddReferrer{Header: h, Referrer: a.addr("referrer"), ReferralCode: a.str("referralCode")}
	case env.Kind == KindJoinWithReferral:
		ev = JoinWithReferral{Header: h, Referee: a.addr("referee"), Referrer: a.addr("referrer"), ReferralCode: a.str("referralCode")}
	case env.Kind == KindClaimRebate:
		ev = ClaimRebate{Header: h, Sender: a.addr("sender"), To: a.addr("to"), Rebate: a.uint256("rebate")}
	case env.Kind == KindDonateRebate:
		ev = DonateRebate{
			Header:         h,
			Sender:         a.addr("sender"),
			To:             a.addr("to"),
			FeeAmount:      a.bigOrZero("feeAmount"),
			ReferrerRebate: a.uint256("referrerRebate"),
			RefereeRebate:  a.uint256("refereeRebate"),
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, env.Kind)
	}
	if a.err != nil {
		return nil, fmt.Errorf("%s: %w", env.Kind, a.err)
	}
	return ev, nil
}

// settingArg is the ABI argument name of a numeric global setter.
func settingArg(k Kind) string {
	switch k {
	case KindSetMinTransactionSize:
		return "newMinTransactionSize"
	case KindSetMinLockAmount:
		return "newMinLockAmount"
	case KindSetTreasuryFeeShare:
		return "newFeeShare"
	case KindSetReferrerRebate, KindSetRefereeRebate:
		return "newRebate"
	default:
		return "newFee"
	}
}

// args reads typed values out of the raw argument object, keeping the
// first error.
type args struct {
	m   map[string]interface{}
	err error
}

func parseArgs(raw json.RawMessage) (*args, error) {
	a := &args{m: map[string]interface{}{}}
	if len(raw) == 0 {
		return a, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&a.m); err != nil {
		return nil, fmt.Errorf("decode args: %w", err)
	}
	return a, nil
}

func (a *args) fail(name string, format string, v ...interface{}) {
	if a.err == nil {
		a.err = fmt.Errorf("arg %s: %s", name, fmt.Sprintf(format, v...))
	}
}

func (a *args) get(name string) (interface{}, bool) {
	v, ok := a.m[name]
	if !ok || v == nil {
		a.fail(name, "missing")
		return nil, false
	}
	return v, true
}

func (a *args) str(name string) string {
	v, ok := a.get(name)
	if !ok {
		return ""
	}
	s, ok := v.(string)
	if !ok {
		a.fail(name, "want string, got %T", v)
	}
	return s
}

func (a *args) addr(name string) string {
	s := a.str(name)
	if a.err != nil {
		return ""
	}
	addr, err := ledger.ParseAddress(s)
	if err != nil {
		a.fail(name, "%v", err)
	}
	return addr
}

func (a *args) big(name string) *big.Int {
	v, ok := a.get(name)
	if !ok {
		return new(big.Int)
	}
	var s string
	switch t := v.(type) {
	case json.Number:
		s = t.String()
	case string:
		s = t
	default:
		a.fail(name, "want integer, got %T", v)
		return new(big.Int)
	}
	n, err := fixedpoint.ParseInt(s)
	if err != nil {
		a.fail(name, "%v", err)
		return new(big.Int)
	}
	return n
}

// uint256 reads an on-chain unsigned integer.
func (a *args) uint256(name string) *big.Int {
	n := a.big(name)
	if n.Sign() < 0 || n.BitLen() > 256 {
		a.fail(name, "out of uint256 range")
		return new(big.Int)
	}
	return n
}

func (a *args) bigOrZero(name string) *big.Int {
	if _, ok := a.m[name]; !ok {
		return new(big.Int)
	}
	return a.uint256(name)
}

func (a *args) uint(name string) uint64 {
	n := a.uint256(name)
	if !n.IsUint64() {
		a.fail(name, "out of range")
		return 0
	}
	return n.Uint64()
}

func (a *args) uintOr(name string, def uint64) uint64 {
	if _, ok := a.m[name]; !ok {
		return def
	}
	return a.uint(name)
}

func (a *args) boolean(name string) bool {
	v, ok := a.get(name)
	if !ok {
		return false
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		b, err := strconv.ParseBool(t)
		if err != nil {
			a.fail(name, "%v", err)
		}
		return b
	}
	a.fail(name, "want bool, got %T", v)
	return false
}
