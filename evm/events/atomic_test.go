// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package events

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/segmentio/kafka-go"

	"github.com/luxfi/ltindexer/ledger"
	"github.com/luxfi/ltindexer/logging"
	"github.com/luxfi/ltindexer/storage"
)

var errStoreDown = errors.New("store unavailable")

// faultPlan makes one store method fail after skip successful calls.
type faultPlan struct {
	method string
	skip   int
	faults int
	// cancel, when set, cancels the caller's context instead of failing.
	cancel context.CancelFunc
}

func (p *faultPlan) trip(method string) error {
	if p.method != method || p.faults == 0 {
		return nil
	}
	if p.skip > 0 {
		p.skip--
		return nil
	}
	p.faults--
	if p.cancel != nil {
		p.cancel()
		return nil
	}
	return errStoreDown
}

// faultyStore injects faultPlan failures into user and balance writes,
// including those made inside Atomic.
type faultyStore struct {
	storage.Store
	plan *faultPlan
}

func (s faultyStore) Atomic(ctx context.Context, fn func(storage.Store) error) error {
	return s.Store.Atomic(ctx, func(tx storage.Store) error {
		return fn(faultyStore{Store: tx, plan: s.plan})
	})
}

func (s faultyStore) UpsertUser(ctx context.Context, address string, fn func(*storage.User) error) error {
	if err := s.plan.trip("UpsertUser"); err != nil {
		return err
	}
	return s.Store.UpsertUser(ctx, address, fn)
}

func (s faultyStore) UpsertBalance(ctx context.Context, user, token string, fn func(*storage.Balance) error) error {
	if err := s.plan.trip("UpsertBalance"); err != nil {
		return err
	}
	return s.Store.UpsertBalance(ctx, user, token, fn)
}

func newFaultyProcessor(t *testing.T) (*Processor, storage.Store, *faultPlan) {
	t.Helper()
	store := storage.NewMemory()
	plan := &faultPlan{}
	p := NewProcessor(faultyStore{Store: store, plan: plan}, Options{
		Factory:        factory,
		TransferPolicy: ledger.SameCost,
		Logger:         logging.Nop(),
	})
	mustApply(t, p, LeveragedTokenCreated{
		Header:         Header{Block: 1, Timestamp: 1000, TxHash: "0xc0", Address: factory},
		Token:          testToken,
		TargetAsset:    "BTC",
		TargetLeverage: lt(3),
		IsLong:         true,
		Symbol:         "BTC3L",
		Decimals:       18,
	})
	return p, store, plan
}

func assertNoMint(t *testing.T, store storage.Store, txHash string) {
	t.Helper()
	ctx := context.Background()
	if _, err := store.GetTradeByTxHash(ctx, txHash); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("trade %s recorded after failure: %v", txHash, err)
	}
	if _, err := store.GetUser(ctx, testUser); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("user written after failure: %v", err)
	}
	if _, err := store.GetBalance(ctx, testUser, testToken); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("balance written after failure: %v", err)
	}
	inst, err := store.GetInstrument(ctx, testToken)
	if err != nil {
		t.Fatal(err)
	}
	if inst.TotalSupply.Sign() != 0 {
		t.Errorf("TotalSupply = %v after failure, want 0", inst.TotalSupply)
	}
}

func assertMinted(t *testing.T, store storage.Store, amount int64) {
	t.Helper()
	ctx := context.Background()
	u, err := store.GetUser(ctx, testUser)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if u.TradeCount != 1 || u.TotalVolumeNominal.Cmp(usd(amount)) != 0 {
		t.Errorf("user tradeCount/volume = %d/%v, want 1/%v", u.TradeCount, u.TotalVolumeNominal, usd(amount))
	}
	b, err := store.GetBalance(ctx, testUser, testToken)
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if b.TotalBalance.Cmp(lt(amount)) != 0 || b.PurchaseCost.Cmp(usd(amount)) != 0 {
		t.Errorf("balance = %v/%v, want %v/%v", b.TotalBalance, b.PurchaseCost, lt(amount), usd(amount))
	}
	inst, _ := store.GetInstrument(ctx, testToken)
	if inst.TotalSupply.Cmp(lt(amount)) != 0 {
		t.Errorf("TotalSupply = %v, want %v", inst.TotalSupply, lt(amount))
	}
}

func TestFailedMintIsAppliedInFullOnRetry(t *testing.T) {
	p, store, plan := newFaultyProcessor(t)
	mint := Mint{Header: hdr("0x01", 2000), Minter: testUser, To: testUser, BaseAmount: usd(100), LTAmount: lt(100)}

	*plan = faultPlan{method: "UpsertUser", faults: 1}
	if err := p.Handle(context.Background(), mint); !errors.Is(err, errStoreDown) {
		t.Fatalf("Handle error = %v, want store failure", err)
	}
	assertNoMint(t, store, "0x01")

	mustApply(t, p, mint)
	assertMinted(t, store, 100)

	// Once applied, the mint stays a no-op.
	mustApply(t, p, mint)
	assertMinted(t, store, 100)
}

func TestFailedRedeemSetsProfitOnceOnRetry(t *testing.T) {
	p, store, plan := newFaultyProcessor(t)
	ctx := context.Background()
	mustApply(t, p, Mint{Header: hdr("0x01", 2000), Minter: testUser, To: testUser, BaseAmount: usd(100), LTAmount: lt(100)})
	redeem := Redeem{Header: hdr("0x02", 3000), Sender: testUser, To: testUser, LTAmount: lt(50), BaseAmount: usd(60)}

	*plan = faultPlan{method: "UpsertUser", faults: 1}
	if err := p.Handle(ctx, redeem); !errors.Is(err, errStoreDown) {
		t.Fatalf("Handle error = %v, want store failure", err)
	}
	if _, err := store.GetTradeByTxHash(ctx, "0x02"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("sell recorded after failure: %v", err)
	}
	b, _ := store.GetBalance(ctx, testUser, testToken)
	if b.TotalBalance.Cmp(lt(100)) != 0 || b.RealizedProfit.Sign() != 0 {
		t.Errorf("balance changed by failed redeem: %v/%v", b.TotalBalance, b.RealizedProfit)
	}

	mustApply(t, p, redeem)
	mustApply(t, p, redeem)
	b, _ = store.GetBalance(ctx, testUser, testToken)
	if b.TotalBalance.Cmp(lt(50)) != 0 || b.RealizedProfit.Cmp(usd(10)) != 0 {
		t.Errorf("balance = %v/%v, want 50e18/10e6", b.TotalBalance, b.RealizedProfit)
	}
	trade, err := store.GetTradeByTxHash(ctx, "0x02")
	if err != nil || trade.ProfitAmount == nil || trade.ProfitAmount.Cmp(usd(10)) != 0 {
		t.Errorf("sell profit = %+v, %v; want 10e6", trade, err)
	}
	u, _ := store.GetUser(ctx, testUser)
	if u.TradeCount != 2 || u.RealizedProfit.Cmp(usd(10)) != 0 {
		t.Errorf("user tradeCount/realized = %d/%v, want 2/10e6", u.TradeCount, u.RealizedProfit)
	}
}

func TestFailedTransferLeavesBothSidesUnchanged(t *testing.T) {
	p, store, plan := newFaultyProcessor(t)
	ctx := context.Background()
	mustApply(t, p, Mint{Header: hdr("0x01", 2000), Minter: testUser, To: testUser, BaseAmount: usd(100), LTAmount: lt(100)})
	transfer := TokenTransfer{Header: hdr("0x02", 2500), From: testUser, To: bob, Value: lt(40)}

	// The sender side is written, the receiver side fails.
	*plan = faultPlan{method: "UpsertBalance", skip: 1, faults: 1}
	if err := p.Handle(ctx, transfer); !errors.Is(err, errStoreDown) {
		t.Fatalf("Handle error = %v, want store failure", err)
	}
	a, _ := store.GetBalance(ctx, testUser, testToken)
	if a.TotalBalance.Cmp(lt(100)) != 0 {
		t.Errorf("sender = %v after failed transfer, want 100e18", a.TotalBalance)
	}
	if transfers, _ := store.TransfersForUser(ctx, bob); len(transfers) != 0 {
		t.Errorf("transfer recorded after failure: %d", len(transfers))
	}

	mustApply(t, p, transfer)
	a, _ = store.GetBalance(ctx, testUser, testToken)
	b, _ := store.GetBalance(ctx, bob, testToken)
	if a.TotalBalance.Cmp(lt(60)) != 0 || b.TotalBalance.Cmp(lt(40)) != 0 {
		t.Errorf("balances = %v/%v, want 60e18/40e18", a.TotalBalance, b.TotalBalance)
	}
}

func TestCancelledMintIsNotCommitted(t *testing.T) {
	p, store, plan := newFaultyProcessor(t)
	mint := Mint{Header: hdr("0x01", 2000), Minter: testUser, To: testUser, BaseAmount: usd(100), LTAmount: lt(100)}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	*plan = faultPlan{method: "UpsertUser", faults: 1, cancel: cancel}
	if err := p.Handle(ctx, mint); !errors.Is(err, context.Canceled) {
		t.Fatalf("Handle error = %v, want context.Canceled", err)
	}
	assertNoMint(t, store, "0x01")

	mustApply(t, p, mint)
	assertMinted(t, store, 100)
}

func TestNegativeTradeIsRejected(t *testing.T) {
	p, store := newTestProcessor(t, SkipAndLog)
	mint := Mint{Header: hdr("0x01", 2000), Minter: testUser, To: testUser, BaseAmount: usd(100), LTAmount: new(big.Int).Neg(lt(100))}
	if err := p.Handle(context.Background(), mint); !errors.Is(err, ledger.ErrAccountingInvariant) {
		t.Fatalf("Handle error = %v, want ErrAccountingInvariant", err)
	}
	assertNoMint(t, store, "0x01")
}

func TestConsumerRedeliveryAfterFailedApply(t *testing.T) {
	p, store, plan := newFaultyProcessor(t)
	msg := kafka.Message{Offset: 7, Value: []byte(`{"kind":"Mint","block":2,"timestamp":2000,"txHash":"0x01","address":"` + testToken +
		`","args":{"minter":"` + testUser + `","to":"` + testUser + `","baseAmount":"100000000","ltAmount":"100000000000000000000"}}`)}

	*plan = faultPlan{method: "UpsertBalance", faults: 1}
	ctx, cancel := context.WithCancel(context.Background())
	reader := &fakeReader{cancel: cancel, msgs: []kafka.Message{msg}}
	if err := NewConsumerWithReader(reader, p, logging.Nop()).Run(ctx); !errors.Is(err, errStoreDown) {
		t.Fatalf("first Run = %v, want store failure", err)
	}
	cancel()
	if len(reader.committed) != 0 {
		t.Errorf("failed message was committed: %v", reader.committed)
	}
	assertNoMint(t, store, "0x01")

	ctx, cancel = context.WithCancel(context.Background())
	defer cancel()
	reader = &fakeReader{cancel: cancel, msgs: []kafka.Message{msg}}
	if err := NewConsumerWithReader(reader, p, logging.Nop()).Run(ctx); err != nil {
		t.Fatalf("redelivery Run: %v", err)
	}
	if len(reader.committed) != 1 || reader.committed[0] != 7 {
		t.Errorf("committed = %v, want [7]", reader.committed)
	}
	assertMinted(t, store, 100)
}

func TestConsumerShutdownDuringApply(t *testing.T) {
	p, store, plan := newFaultyProcessor(t)
	msg := kafka.Message{Offset: 3, Value: []byte(`{"kind":"Mint","block":2,"timestamp":2000,"txHash":"0x01","address":"` + testToken +
		`","args":{"minter":"` + testUser + `","to":"` + testUser + `","baseAmount":"100000000","ltAmount":"100000000000000000000"}}`)}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	*plan = faultPlan{method: "UpsertUser", faults: 1, cancel: cancel}
	reader := &fakeReader{cancel: cancel, msgs: []kafka.Message{msg}}
	if err := NewConsumerWithReader(reader, p, logging.Nop()).Run(ctx); err != nil {
		t.Fatalf("Run on shutdown = %v, want nil", err)
	}
	if len(reader.committed) != 0 {
		t.Errorf("interrupted message was committed: %v", reader.committed)
	}
	assertNoMint(t, store, "0x01")
}
