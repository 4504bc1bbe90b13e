// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package events

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/luxfi/ltindexer/fixedpoint"
	"github.com/luxfi/ltindexer/ledger"
	"github.com/luxfi/ltindexer/metrics"
	"github.com/luxfi/ltindexer/storage"
)

const zeroAddress = "0x0000000000000000000000000000000000000000"

// ResultKind classifies the outcome of applying one event.
type ResultKind int

const (
	ResultOK ResultKind = iota
	// ResultRefereeNotFound: a rebate names a referee with no user row.
	ResultRefereeNotFound
	// ResultNoReferrer: a referrer rebate names a referee without a referrer.
	ResultNoReferrer
)

func (k ResultKind) String() string {
	switch k {
	case ResultOK:
		return "ok"
	case ResultRefereeNotFound:
		return "referee_not_found"
	case ResultNoReferrer:
		return "no_referrer"
	default:
		return "unknown"
	}
}

// Result is the outcome of an applied event. Non-OK results are expected
// data conditions rather than failures; the batch policy decides whether
// they stop processing.
type Result struct {
	Kind   ResultKind
	Detail string
}

// ErrReferral wraps a non-OK result when the policy aborts the batch.
var ErrReferral = errors.New("referral data inconsistent")

// Policy decides what a non-OK Result does to a batch.
type Policy int

const (
	SkipAndLog Policy = iota
	AbortBatch
)

// Options configures a Processor.
type Options struct {
	// Factory is excluded as a source of base-asset transfers.
	Factory        string
	TransferPolicy ledger.TransferPolicy
	Policy         Policy
	Logger         zerolog.Logger
}

// Processor applies events to the store. Events must be applied in log
// order; applying the same trade or transfer twice is a no-op.
type Processor struct {
	store   storage.Store
	calc    ledger.Calculator
	factory string
	policy  Policy
	log     zerolog.Logger
}

// NewProcessor returns a processor writing to store.
func NewProcessor(store storage.Store, opts Options) *Processor {
	return &Processor{
		store:   store,
		calc:    ledger.Calculator{Policy: opts.TransferPolicy},
		factory: opts.Factory,
		policy:  opts.Policy,
		log:     opts.Logger,
	}
}

// ApplyBatch applies events in order. Errors stop the batch; non-OK results
// stop it only under AbortBatch.
func (p *Processor) ApplyBatch(ctx context.Context, evs []Event) error {
	for _, ev := range evs {
		if err := p.Handle(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

// Handle applies one event and enforces the result policy.
func (p *Processor) Handle(ctx context.Context, ev Event) error {
	res, err := p.Apply(ctx, ev)
	if err != nil {
		return err
	}
	if res.Kind == ResultOK {
		return nil
	}
	h := ev.Meta()
	if p.policy == AbortBatch {
		return fmt.Errorf("%w: %s in %s (%s)", ErrReferral, res.Kind, h.ID(), res.Detail)
	}
	p.log.Warn().
		Str("kind", string(ev.Kind())).
		Str("result", res.Kind.String()).
		Str("id", h.ID()).
		Uint64("block", h.Block).
		Msg(res.Detail)
	return nil
}

// Apply writes the effects of one event in a single store transaction, so
// a failed event leaves no partial state and can be applied again.
func (p *Processor) Apply(ctx context.Context, ev Event) (Result, error) {
	start := time.Now()
	var res Result
	err := p.store.Atomic(ctx, func(st storage.Store) error {
		var err error
		res, err = p.apply(ctx, st, ev)
		return err
	})
	kind := string(ev.Kind())
	metrics.EventApplyDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	label := res.Kind.String()
	if err != nil {
		label = "error"
	}
	metrics.EventsProcessed.WithLabelValues(kind, label).Inc()
	if err != nil {
		return res, fmt.Errorf("apply %s %s: %w", kind, ev.Meta().ID(), err)
	}
	return res, nil
}

func (p *Processor) apply(ctx context.Context, st storage.Store, ev Event) (Result, error) {
	ok := Result{}
	switch e := ev.(type) {
	case LeveragedTokenCreated:
		return ok, p.createInstrument(ctx, st, e)
	case Mint:
		return ok, p.mint(ctx, st, e)
	case Redeem:
		_, err := p.recordTrade(ctx, st, e.Header, false, e.Sender, e.To, e.BaseAmount, e.LTAmount)
		return ok, err
	case TokenTransfer:
		return ok, p.transfer(ctx, st, e)
	case FeeCharged:
		err := st.InsertFee(ctx, &storage.Fee{
			ID:             e.ID(),
			Timestamp:      e.Timestamp,
			LeveragedToken: e.Address,
			Amount:         e.Amount,
		})
		if errors.Is(err, storage.ErrAlreadyExists) {
			err = nil
		}
		return ok, err
	case BridgeFromPerp:
		_, err := st.UpdateInstrument(ctx, e.Address, func(inst *storage.Instrument) error {
			inst.LatestBridgeFromPerpBlock = e.Block
			return nil
		})
		return ok, err
	case SetMintPaused:
		_, err := st.UpdateInstrument(ctx, e.Address, func(inst *storage.Instrument) error {
			inst.MintPaused = e.Paused
			return nil
		})
		return ok, err
	case SetAgent:
		return ok, st.PutAgent(ctx, &storage.Agent{Slot: e.Slot, Agent: e.Agent, Name: e.Name})
	case USDCTransfer:
		return ok, p.usdcTransfer(ctx, st, e)
	case GlobalSetting:
		return ok, st.UpsertGlobalStorage(ctx, func(g *storage.GlobalStorage) error {
			return applySetting(g, e)
		})
	case AddReferrer:
		return ok, st.UpsertUser(ctx, e.Referrer, func(u *storage.User) error {
			u.ReferralCode = e.ReferralCode
			return nil
		})
	case JoinWithReferral:
		return ok, p.joinWithReferral(ctx, st, e)
	case ClaimRebate:
		return ok, st.UpsertUser(ctx, e.To, func(u *storage.User) error {
			u.ClaimedRebates = fixedpoint.Sum(u.ClaimedRebates, e.Rebate)
			return nil
		})
	case DonateRebate:
		return p.donateRebate(ctx, st, e)
	}
	return ok, fmt.Errorf("%w: %s", ErrUnknownKind, ev.Kind())
}

func (p *Processor) createInstrument(ctx context.Context, st storage.Store, e LeveragedTokenCreated) error {
	if _, err := st.GetInstrument(ctx, e.Token); err == nil {
		return nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	inst := storage.NewInstrument(e.Token)
	inst.MarketID = e.MarketID
	inst.TargetAsset = e.TargetAsset
	inst.TargetLeverage = fixedpoint.Clone(e.TargetLeverage)
	inst.IsLong = e.IsLong
	inst.Symbol = e.Symbol
	inst.Name = e.Name
	inst.Decimals = e.Decimals
	inst.ExchangeRate = new(big.Int).Set(fixedpoint.Wad)
	inst.CreatedAt = e.Timestamp
	return st.PutInstrument(ctx, inst)
}

func (p *Processor) mint(ctx context.Context, st storage.Store, e Mint) error {
	inserted, err := p.recordTrade(ctx, st, e.Header, true, e.Minter, e.To, e.BaseAmount, e.LTAmount)
	if err != nil || !inserted {
		return err
	}
	return st.InsertMint(ctx, &storage.Mint{
		ID:                   uuid.NewString(),
		Timestamp:            e.Timestamp,
		LeveragedToken:       e.Address,
		Sender:               e.Minter,
		Recipient:            e.To,
		BaseAssetAmount:      e.BaseAmount,
		LeveragedTokenAmount: e.LTAmount,
	})
}

// recordTrade persists a buy or sell and folds it into the owner's
// position, user aggregates and the instrument supply. It reports false
// when the trade was already recorded.
func (p *Processor) recordTrade(ctx context.Context, st storage.Store, h Header, isBuy bool, sender, recipient string, base, amount *big.Int) (bool, error) {
	inst, err := st.GetInstrument(ctx, h.Address)
	if err != nil {
		return false, fmt.Errorf("instrument %s: %w", h.Address, err)
	}
	trade := &storage.Trade{
		ID:                   h.ID(),
		TxHash:               h.TxHash,
		Timestamp:            h.Timestamp,
		Block:                h.Block,
		LogIndex:             h.LogIndex,
		LeveragedToken:       h.Address,
		IsBuy:                isBuy,
		Sender:               sender,
		Recipient:            recipient,
		BaseAssetAmount:      fixedpoint.Clone(base),
		LeveragedTokenAmount: fixedpoint.Clone(amount),
	}
	if err := st.InsertTrade(ctx, trade); errors.Is(err, storage.ErrAlreadyExists) {
		p.log.Debug().Str("id", trade.ID).Msg("trade already recorded")
		return false, nil
	} else if err != nil {
		return false, err
	}

	lt := trade.Ledger()
	owner := lt.Owner()
	kind := ledger.ActionSell
	if isBuy {
		kind = ledger.ActionBuy
	}
	action := ledger.Action{
		Kind:       kind,
		ID:         trade.ID,
		Timestamp:  trade.Timestamp,
		Block:      trade.Block,
		LogIndex:   trade.LogIndex,
		Amount:     trade.LeveragedTokenAmount,
		BaseAmount: trade.BaseAssetAmount,
	}
	var outcome ledger.Outcome
	if err := st.UpsertBalance(ctx, owner, h.Address, func(b *storage.Balance) error {
		pos := b.Position()
		out, err := p.calc.Apply(pos, action)
		if err != nil {
			return err
		}
		outcome = out
		b.SetPosition(pos)
		b.LastUpdated = h.Timestamp
		return nil
	}); err != nil {
		return false, fmt.Errorf("balance %s: %w", owner, err)
	}

	if !isBuy {
		if err := st.SetTradeProfit(ctx, trade.ID, outcome.RealizedDelta, outcome.ProfitPercent()); err != nil {
			return false, fmt.Errorf("trade profit: %w", err)
		}
	}

	notional := fixedpoint.Mul(trade.BaseAssetAmount, inst.TargetLeverage)
	if err := st.UpsertUser(ctx, owner, func(u *storage.User) error {
		u.TradeCount++
		if isBuy {
			u.MintVolumeNominal = fixedpoint.Sum(u.MintVolumeNominal, trade.BaseAssetAmount)
			u.MintVolumeNotional = fixedpoint.Sum(u.MintVolumeNotional, notional)
		} else {
			u.RedeemVolumeNominal = fixedpoint.Sum(u.RedeemVolumeNominal, trade.BaseAssetAmount)
			u.RedeemVolumeNotional = fixedpoint.Sum(u.RedeemVolumeNotional, notional)
			u.RealizedProfit = fixedpoint.Sum(u.RealizedProfit, outcome.RealizedDelta)
		}
		u.TotalVolumeNominal = fixedpoint.Sum(u.TotalVolumeNominal, trade.BaseAssetAmount)
		u.TotalVolumeNotional = fixedpoint.Sum(u.TotalVolumeNotional, notional)
		if h.Timestamp > u.LastTradeTimestamp {
			u.LastTradeTimestamp = h.Timestamp
		}
		return nil
	}); err != nil {
		return false, fmt.Errorf("user %s: %w", owner, err)
	}

	_, err = st.UpdateInstrument(ctx, h.Address, func(i *storage.Instrument) error {
		if isBuy {
			i.TotalSupply = fixedpoint.Sum(i.TotalSupply, trade.LeveragedTokenAmount)
			return nil
		}
		supply := new(big.Int).Sub(i.TotalSupply, trade.LeveragedTokenAmount)
		if supply.Sign() < 0 {
			return &ledger.InvariantError{Op: "redeem", ActionID: trade.ID, Reason: "supply would go negative"}
		}
		i.TotalSupply = supply
		return nil
	})
	return true, err
}

// transfer records a holder-to-holder movement. Mints and burns are
// covered by their trades.
func (p *Processor) transfer(ctx context.Context, st storage.Store, e TokenTransfer) error {
	if fixedpoint.IsZero(e.Value) || e.From == e.To || e.From == zeroAddress || e.To == zeroAddress {
		return nil
	}
	tr := &storage.Transfer{
		ID:             e.ID(),
		TxHash:         e.TxHash,
		Timestamp:      e.Timestamp,
		Block:          e.Block,
		LogIndex:       e.LogIndex,
		LeveragedToken: e.Address,
		From:           e.From,
		To:             e.To,
		Amount:         fixedpoint.Clone(e.Value),
	}
	if err := st.InsertTransfer(ctx, tr); errors.Is(err, storage.ErrAlreadyExists) {
		return nil
	} else if err != nil {
		return err
	}

	for _, side := range []struct {
		user string
		kind ledger.ActionKind
	}{
		{e.From, ledger.ActionTransferOut},
		{e.To, ledger.ActionTransferIn},
	} {
		action := ledger.Action{
			Kind:      side.kind,
			ID:        tr.ID,
			Timestamp: tr.Timestamp,
			Block:     tr.Block,
			LogIndex:  tr.LogIndex,
			Amount:    tr.Amount,
		}
		if err := st.UpsertBalance(ctx, side.user, e.Address, func(b *storage.Balance) error {
			pos := b.Position()
			if _, err := p.calc.Apply(pos, action); err != nil {
				return err
			}
			b.SetPosition(pos)
			b.LastUpdated = e.Timestamp
			return nil
		}); err != nil {
			return fmt.Errorf("balance %s: %w", side.user, err)
		}
	}
	return nil
}

func (p *Processor) usdcTransfer(ctx context.Context, st storage.Store, e USDCTransfer) error {
	if fixedpoint.IsZero(e.Value) || ledger.SameAddress(e.From, e.To) || ledger.SameAddress(e.From, p.factory) {
		return nil
	}
	target := e.From
	if e.Inbound {
		target = e.To
	}
	_, err := st.UpdateInstrument(ctx, target, func(inst *storage.Instrument) error {
		if e.Inbound {
			inst.BaseAssetBalance = fixedpoint.Sum(inst.BaseAssetBalance, e.Value)
		} else {
			inst.BaseAssetBalance = new(big.Int).Sub(inst.BaseAssetBalance, e.Value)
		}
		return nil
	})
	return err
}

func applySetting(g *storage.GlobalStorage, e GlobalSetting) error {
	v := fixedpoint.Clone(e.Value)
	switch e.Setting {
	case KindOwnershipTransferred:
		g.Owner = e.Owner
	case KindSetAllMintsPaused:
		g.AllMintsPaused = e.Paused
	case KindSetMinTransactionSize:
		g.MinTransactionSize = v
	case KindSetMinLockAmount:
		g.MinLockAmount = v
	case KindSetRedemptionFee:
		g.RedemptionFee = v
	case KindSetExecuteRedemptionFee:
		g.ExecuteRedemptionFee = v
	case KindSetStreamingFee:
		g.StreamingFee = v
	case KindSetTreasuryFeeShare:
		g.TreasuryFeeShare = v
	case KindSetReferrerRebate:
		g.ReferrerRebate = v
	case KindSetRefereeRebate:
		g.RefereeRebate = v
	default:
		return fmt.Errorf("%w: %s", ErrUnknownKind, e.Setting)
	}
	return nil
}

func (p *Processor) joinWithReferral(ctx context.Context, st storage.Store, e JoinWithReferral) error {
	if err := st.UpsertUser(ctx, e.Referee, func(u *storage.User) error {
		u.ReferrerCode = e.ReferralCode
		u.ReferrerAddress = e.Referrer
		return nil
	}); err != nil {
		return err
	}
	return st.UpsertUser(ctx, e.Referrer, func(u *storage.User) error {
		u.ReferredUserCount++
		return nil
	})
}

func (p *Processor) donateRebate(ctx context.Context, st storage.Store, e DonateRebate) (Result, error) {
	if err := st.UpsertUser(ctx, e.To, func(u *storage.User) error {
		u.RefereeRebates = fixedpoint.Sum(u.RefereeRebates, e.RefereeRebate)
		u.TotalRebates = fixedpoint.Sum(u.TotalRebates, e.RefereeRebate)
		return nil
	}); err != nil {
		return Result{}, err
	}
	if fixedpoint.IsZero(e.ReferrerRebate) || e.ReferrerRebate.Sign() < 0 {
		return Result{}, nil
	}

	referee, err := st.GetUser(ctx, e.To)
	if errors.Is(err, storage.ErrNotFound) {
		return Result{Kind: ResultRefereeNotFound, Detail: "referee not found: " + e.To}, nil
	}
	if err != nil {
		return Result{}, err
	}
	if referee.ReferrerAddress == "" {
		return Result{Kind: ResultNoReferrer, Detail: "referee has no referrer: " + e.To}, nil
	}
	_, err = st.UpdateUser(ctx, referee.ReferrerAddress, func(u *storage.User) error {
		u.ReferrerRebates = fixedpoint.Sum(u.ReferrerRebates, e.ReferrerRebate)
		u.TotalRebates = fixedpoint.Sum(u.TotalRebates, e.ReferrerRebate)
		return nil
	})
	return Result{}, err
}
