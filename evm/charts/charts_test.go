// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package charts

import (
	"context"
	"math/big"
	"math/rand"
	"testing"
	"time"

	"github.com/luxfi/ltindexer/cache"
	"github.com/luxfi/ltindexer/fixedpoint"
	"github.com/luxfi/ltindexer/storage"
)

// day0 is 2023-12-09 00:00:00 UTC.
const day0 int64 = 19700 * SecondsPerDay

const (
	token = "0x00000000000000000000000000000000000000a1"
	alice = "0x000000000000000000000000000000000000a11c"
	bob   = "0x0000000000000000000000000000000000000b0b"
)

func usdc(v int64) *big.Int { return new(big.Int).Mul(big.NewInt(v), fixedpoint.Pow10(6)) }

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	if config.CacheTTL != time.Minute {
		t.Errorf("CacheTTL = %v, want 1 minute", config.CacheTTL)
	}
}

func TestDay(t *testing.T) {
	tests := []struct {
		ts, want int64
	}{
		{day0, day0},
		{day0 + 1, day0},
		{day0 + SecondsPerDay - 1, day0},
		{day0 + SecondsPerDay, day0 + SecondsPerDay},
		{0, 0},
		{-1, -SecondsPerDay},
	}
	for _, tt := range tests {
		if got := Day(tt.ts); got != tt.want {
			t.Errorf("Day(%d) = %d, want %d", tt.ts, got, tt.want)
		}
	}
}

func TestCumulative(t *testing.T) {
	samples := []Sample{
		{Timestamp: day0 + 100, Amount: big.NewInt(10)},
		{Timestamp: day0 + 2*SecondsPerDay + 5, Amount: big.NewInt(15)},
		{Timestamp: day0 + 2*SecondsPerDay + 50, Amount: big.NewInt(5)},
		{Timestamp: day0 + 3*SecondsPerDay, Amount: big.NewInt(30)},
	}
	got := Cumulative(samples)
	want := []Bucket{
		{Day: day0, Total: big.NewInt(10)},
		{Day: day0 + 2*SecondsPerDay, Total: big.NewInt(30)},
		{Day: day0 + 3*SecondsPerDay, Total: big.NewInt(60)},
	}
	if len(got) != len(want) {
		t.Fatalf("Cumulative = %d buckets, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Day != want[i].Day || got[i].Total.Cmp(want[i].Total) != 0 {
			t.Errorf("bucket %d = %d/%s, want %d/%s", i, got[i].Day, got[i].Total, want[i].Day, want[i].Total)
		}
	}

	if empty := Cumulative(nil); len(empty) != 0 {
		t.Errorf("Cumulative(nil) = %v, want empty", empty)
	}
}

func TestCumulativeOrderIndependent(t *testing.T) {
	var samples []Sample
	for i := int64(0); i < 40; i++ {
		samples = append(samples, Sample{
			Timestamp: day0 + (i%9)*SecondsPerDay + i*37,
			Amount:    big.NewInt(i*i + 1),
		})
	}
	want := Cumulative(samples)

	rng := rand.New(rand.NewSource(7))
	for round := 0; round < 10; round++ {
		shuffled := append([]Sample(nil), samples...)
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		got := Cumulative(shuffled)
		if len(got) != len(want) {
			t.Fatalf("round %d: %d buckets, want %d", round, len(got), len(want))
		}
		for i := range want {
			if got[i].Day != want[i].Day || got[i].Total.Cmp(want[i].Total) != 0 {
				t.Errorf("round %d bucket %d = %d/%s, want %d/%s", round, i, got[i].Day, got[i].Total, want[i].Day, want[i].Total)
			}
		}
	}
	for i := 1; i < len(want); i++ {
		if want[i].Day <= want[i-1].Day || want[i].Total.Cmp(want[i-1].Total) < 0 {
			t.Errorf("bucket %d does not advance: %+v after %+v", i, want[i], want[i-1])
		}
	}
}

func TestActiveUsersThresholdAgesOut(t *testing.T) {
	volumes := []UserVolume{{User: alice, Timestamp: day0 + 3600, Notional: new(big.Int).Set(NotionalThreshold)}}
	now := day0 + 9*SecondsPerDay + 10

	got := ActiveUsers(volumes, nil, now)
	if len(got) != 10 {
		t.Fatalf("ActiveUsers = %d points, want 10", len(got))
	}
	for i, p := range got {
		want := 0
		if i < WindowDays {
			want = 1
		}
		if p.ActiveUsers != want {
			t.Errorf("day %d active = %d, want %d", i, p.ActiveUsers, want)
		}
		if p.Timestamp != (day0+int64(i)*SecondsPerDay)*1000 {
			t.Errorf("day %d timestamp = %d", i, p.Timestamp)
		}
	}
}

func TestActiveUsersBelowThreshold(t *testing.T) {
	below := new(big.Int).Sub(NotionalThreshold, big.NewInt(1))
	volumes := []UserVolume{{User: alice, Timestamp: day0, Notional: below}}
	got := ActiveUsers(volumes, nil, day0)
	if len(got) != 1 || got[0].ActiveUsers != 0 {
		t.Errorf("ActiveUsers = %+v, want one inactive day", got)
	}
}

func TestActiveUsersWindowSums(t *testing.T) {
	half := new(big.Int).Div(NotionalThreshold, big.NewInt(2))
	volumes := []UserVolume{
		{User: alice, Timestamp: day0, Notional: half},
		{User: alice, Timestamp: day0 + 6*SecondsPerDay, Notional: half},
	}
	got := ActiveUsers(volumes, nil, day0+7*SecondsPerDay)
	want := []int{0, 0, 0, 0, 0, 0, 1, 0}
	if len(got) != len(want) {
		t.Fatalf("ActiveUsers = %d points, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].ActiveUsers != want[i] {
			t.Errorf("day %d active = %d, want %d", i, got[i].ActiveUsers, want[i])
		}
	}
}

func TestActiveUsersPositionsOnLastDayOnly(t *testing.T) {
	volumes := []UserVolume{{User: alice, Timestamp: day0, Notional: new(big.Int).Set(NotionalThreshold)}}
	positions := map[string]*big.Int{
		alice: new(big.Int).Set(PositionThreshold),
		bob:   new(big.Int).Set(PositionThreshold),
		"0x00000000000000000000000000000000000000c0": big.NewInt(1),
	}
	got := ActiveUsers(volumes, positions, day0+2*SecondsPerDay)
	want := []int{1, 1, 2}
	if len(got) != len(want) {
		t.Fatalf("ActiveUsers = %d points, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].ActiveUsers != want[i] {
			t.Errorf("day %d active = %d, want %d", i, got[i].ActiveUsers, want[i])
		}
	}
}

func TestActiveUsersEmpty(t *testing.T) {
	got := ActiveUsers(nil, map[string]*big.Int{bob: PositionThreshold}, day0)
	if got == nil || len(got) != 0 {
		t.Errorf("ActiveUsers(nil) = %#v, want empty slice", got)
	}
}

func newStore(t *testing.T) storage.Store {
	t.Helper()
	ctx := context.Background()
	store := storage.NewMemory()
	inst := storage.NewInstrument(token)
	inst.TargetLeverage = new(big.Int).Set(fixedpoint.Wad)
	inst.ExchangeRate = new(big.Int).Set(fixedpoint.Wad)
	if err := store.PutInstrument(ctx, inst); err != nil {
		t.Fatalf("PutInstrument: %v", err)
	}
	return store
}

func TestVolumeChart(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	trades := []struct {
		id string
		ts int64
		v  int64
	}{
		{"t3", day0 + 3*SecondsPerDay, 30},
		{"t1", day0 + 100, 10},
		{"t2", day0 + 2*SecondsPerDay + 5, 20},
	}
	for _, tr := range trades {
		err := store.InsertTrade(ctx, &storage.Trade{
			ID: tr.id, TxHash: "0x" + tr.id, Timestamp: tr.ts, LeveragedToken: token, IsBuy: true,
			Sender: alice, Recipient: alice, BaseAssetAmount: usdc(tr.v), LeveragedTokenAmount: big.NewInt(1),
		})
		if err != nil {
			t.Fatalf("InsertTrade: %v", err)
		}
	}

	s := NewService(store, nil, &Config{})
	got, err := s.VolumeChart(ctx)
	if err != nil {
		t.Fatalf("VolumeChart: %v", err)
	}
	want := []VolumePoint{
		{Timestamp: day0 * 1000, CumulativeVolume: 10},
		{Timestamp: (day0 + 2*SecondsPerDay) * 1000, CumulativeVolume: 30},
		{Timestamp: (day0 + 3*SecondsPerDay) * 1000, CumulativeVolume: 60},
	}
	if len(got) != len(want) {
		t.Fatalf("VolumeChart = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("point %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestFeeChart(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	for i, ts := range []int64{day0 + 10, day0 + 20, day0 + SecondsPerDay} {
		err := store.InsertFee(ctx, &storage.Fee{
			ID: string(rune('a' + i)), Timestamp: ts, LeveragedToken: token, Amount: usdc(int64(i + 1)),
		})
		if err != nil {
			t.Fatalf("InsertFee: %v", err)
		}
	}
	s := NewService(store, cache.NewMemory(), nil)
	got, err := s.FeeChart(ctx)
	if err != nil {
		t.Fatalf("FeeChart: %v", err)
	}
	want := []FeePoint{
		{Timestamp: day0 * 1000, CumulativeFees: 3},
		{Timestamp: (day0 + SecondsPerDay) * 1000, CumulativeFees: 6},
	}
	if len(got) != len(want) {
		t.Fatalf("FeeChart = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("point %d = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestActiveUsersChart(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	// 500 USDC at 1x leverage is exactly the notional threshold.
	err := store.InsertTrade(ctx, &storage.Trade{
		ID: "t1", TxHash: "0x01", Timestamp: day0 + 60, LeveragedToken: token, IsBuy: true,
		Sender: alice, Recipient: alice, BaseAssetAmount: usdc(500), LeveragedTokenAmount: big.NewInt(1),
	})
	if err != nil {
		t.Fatalf("InsertTrade: %v", err)
	}
	err = store.UpsertBalance(ctx, bob, token, func(b *storage.Balance) error {
		b.TotalBalance = new(big.Int).Set(PositionThreshold)
		return nil
	})
	if err != nil {
		t.Fatalf("UpsertBalance: %v", err)
	}

	s := NewService(store, nil, &Config{})
	s.now = func() time.Time { return time.Unix(day0+8*SecondsPerDay+1, 0) }
	got, err := s.ActiveUsersChart(ctx)
	if err != nil {
		t.Fatalf("ActiveUsersChart: %v", err)
	}
	want := []int{1, 1, 1, 1, 1, 1, 1, 0, 1}
	if len(got) != len(want) {
		t.Fatalf("ActiveUsersChart = %d points, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].ActiveUsers != want[i] {
			t.Errorf("day %d active = %d, want %d", i, got[i].ActiveUsers, want[i])
		}
	}
}
