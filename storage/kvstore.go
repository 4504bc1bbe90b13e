// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package storage

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/luxfi/database"

	"github.com/luxfi/ltindexer/pagination"
	"github.com/luxfi/ltindexer/storage/kv"
)

// KVStore implements Store on luxfi/database. Read-modify-write operations
// are serialised by a store-wide write lock. Inside Atomic the store reads
// and writes through a kv.Tx and the lock is already held.
type KVStore struct {
	db  *kv.Store
	kv  kv.ReadWriter
	wmu sync.Locker
	tx  *kv.Tx
}

var _ Store = (*KVStore)(nil)

func newKVStore(s *kv.Store) *KVStore {
	return &KVStore{db: s, kv: s, wmu: new(sync.Mutex)}
}

// NewMemory returns a store backed by memdb.
func NewMemory() *KVStore {
	return newKVStore(kv.NewMemory())
}

// NewBadger opens a BadgerDB store under cfg.DataDir.
func NewBadger(cfg Config) (*KVStore, error) {
	dir := cfg.DataDir
	if dir == "" {
		dir = filepath.Join(".", "data", "badger")
	}
	s, err := kv.New(kv.Config{Path: dir})
	if err != nil {
		return nil, err
	}
	return newKVStore(s), nil
}

// NewKV wraps an existing kv store, for in-process use on a node database.
func NewKV(s *kv.Store) *KVStore {
	return newKVStore(s)
}

type heldLock struct{}

func (heldLock) Lock()   {}
func (heldLock) Unlock() {}

// Atomic runs fn against a view of the store whose writes become visible
// together when fn returns nil, and are dropped otherwise. Writers are
// excluded for the duration.
func (s *KVStore) Atomic(ctx context.Context, fn func(Store) error) error {
	if s.tx != nil {
		return fn(s)
	}
	s.wmu.Lock()
	defer s.wmu.Unlock()
	tx := s.db.Begin()
	if err := fn(&KVStore{db: s.db, kv: tx, wmu: heldLock{}, tx: tx}); err != nil {
		tx.Discard()
		return err
	}
	if err := ctx.Err(); err != nil {
		tx.Discard()
		return err
	}
	return tx.Commit()
}

func (s *KVStore) Init(ctx context.Context) error {
	return s.kv.Put(kv.TableMeta, "schema", []byte("1"))
}

func (s *KVStore) Ping(ctx context.Context) error {
	return s.db.HealthCheck(ctx)
}

func (s *KVStore) Close() error {
	return s.db.Close()
}

func key(parts ...string) string {
	for i, p := range parts {
		parts[i] = strings.ToLower(p)
	}
	return kv.CompositeKey(parts...)
}

func (s *KVStore) get(table, k string, v interface{}) error {
	err := s.kv.GetJSON(table, k, v)
	if errors.Is(err, database.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

// Instruments

func (s *KVStore) GetInstrument(ctx context.Context, address string) (*Instrument, error) {
	var inst Instrument
	if err := s.get(kv.TableInstruments, key(address), &inst); err != nil {
		return nil, err
	}
	inst.normalize()
	return &inst, nil
}

func (s *KVStore) GetInstrumentBySymbol(ctx context.Context, symbol string) (*Instrument, error) {
	all, err := s.ListInstruments(ctx)
	if err != nil {
		return nil, err
	}
	for _, inst := range all {
		if inst.Symbol == symbol {
			return inst, nil
		}
	}
	return nil, ErrNotFound
}

func (s *KVStore) ListInstruments(ctx context.Context) ([]*Instrument, error) {
	all, err := kv.ScanJSON[Instrument](s.kv, kv.TableInstruments, "")
	if err != nil {
		return nil, err
	}
	for _, inst := range all {
		inst.normalize()
	}
	return all, nil
}

func (s *KVStore) PutInstrument(ctx context.Context, inst *Instrument) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	inst.normalize()
	return s.kv.PutJSON(kv.TableInstruments, key(inst.Address), inst)
}

func (s *KVStore) UpdateInstrument(ctx context.Context, address string, fn func(*Instrument) error) (bool, error) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	inst, err := s.GetInstrument(ctx, address)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := fn(inst); err != nil {
		return true, err
	}
	return true, s.kv.PutJSON(kv.TableInstruments, key(address), inst)
}

func (s *KVStore) SetExchangeRate(ctx context.Context, address string, rate *big.Int) error {
	_, err := s.UpdateInstrument(ctx, address, func(inst *Instrument) error {
		inst.ExchangeRate = new(big.Int).Set(rate)
		return nil
	})
	return err
}

func (s *KVStore) RecentlyBridged(ctx context.Context, sinceBlock uint64) ([]string, error) {
	all, err := s.ListInstruments(ctx)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, inst := range all {
		if inst.LatestBridgeFromPerpBlock > 0 && inst.LatestBridgeFromPerpBlock >= sinceBlock {
			out = append(out, inst.Address)
		}
	}
	return out, nil
}

// Trades

func (s *KVStore) InsertTrade(ctx context.Context, t *Trade) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if has, err := s.kv.Has(kv.TableTrades, t.ID); err != nil {
		return err
	} else if has {
		return ErrAlreadyExists
	}
	if err := s.kv.PutJSON(kv.TableTrades, t.ID, t); err != nil {
		return err
	}
	for _, k := range []string{
		key("u", t.Sender, t.ID),
		key("u", t.Recipient, t.ID),
		key("h", t.TxHash, t.ID),
	} {
		if err := s.kv.Put(kv.TableTradeIndex, k, []byte(t.ID)); err != nil {
			return fmt.Errorf("index trade %s: %w", t.ID, err)
		}
	}
	return nil
}

func (s *KVStore) getTrade(id string) (*Trade, error) {
	var t Trade
	if err := s.get(kv.TableTrades, id, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *KVStore) SetTradeProfit(ctx context.Context, id string, amount, percent *big.Int) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	t, err := s.getTrade(id)
	if err != nil {
		return err
	}
	if t.ProfitAmount != nil {
		return nil
	}
	t.ProfitAmount = amount
	t.ProfitPercent = percent
	return s.kv.PutJSON(kv.TableTrades, id, t)
}

func (s *KVStore) tradeIDs(prefix string) ([]string, error) {
	seen := make(map[string]bool)
	var ids []string
	err := s.kv.Scan(kv.TableTradeIndex, prefix, func(_ string, value []byte) error {
		id := string(value)
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
		return nil
	})
	return ids, err
}

func (s *KVStore) GetTradeByTxHash(ctx context.Context, txHash string) (*TradeView, error) {
	ids, err := s.tradeIDs(key("h", txHash) + ":")
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, ErrNotFound
	}
	sort.Strings(ids)
	t, err := s.getTrade(ids[0])
	if err != nil {
		return nil, err
	}
	inst, err := s.GetInstrument(ctx, t.LeveragedToken)
	if err != nil {
		return nil, err
	}
	return joinTrade(t, inst), nil
}

func (s *KVStore) TradesForUser(ctx context.Context, user string) ([]*Trade, error) {
	ids, err := s.tradeIDs(key("u", user) + ":")
	if err != nil {
		return nil, err
	}
	out := make([]*Trade, 0, len(ids))
	for _, id := range ids {
		t, err := s.getTrade(id)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *KVStore) AllTrades(ctx context.Context) ([]*TradeView, error) {
	return s.joinedTrades(ctx, false)
}

func (s *KVStore) TradeHistory(ctx context.Context) ([]*TradeView, error) {
	return s.joinedTrades(ctx, true)
}

func (s *KVStore) joinedTrades(ctx context.Context, orphans bool) ([]*TradeView, error) {
	instruments, err := s.instrumentMap(ctx)
	if err != nil {
		return nil, err
	}
	trades, err := kv.ScanJSON[Trade](s.kv, kv.TableTrades, "")
	if err != nil {
		return nil, err
	}
	out := make([]*TradeView, 0, len(trades))
	for _, t := range trades {
		if inst, ok := instruments[strings.ToLower(t.LeveragedToken)]; ok {
			out = append(out, joinTrade(t, inst))
		} else if orphans {
			out = append(out, &TradeView{Trade: *t, TargetLeverage: new(big.Int)})
		}
	}
	return out, nil
}

func (s *KVStore) ListTrades(ctx context.Context, q TradeQuery) (*TradePage, error) {
	all, err := s.AllTrades(ctx)
	if err != nil {
		return nil, err
	}
	return pageTrades(all, q), nil
}

func (s *KVStore) instrumentMap(ctx context.Context) (map[string]*Instrument, error) {
	all, err := s.ListInstruments(ctx)
	if err != nil {
		return nil, err
	}
	m := make(map[string]*Instrument, len(all))
	for _, inst := range all {
		m[strings.ToLower(inst.Address)] = inst
	}
	return m, nil
}

func joinTrade(t *Trade, inst *Instrument) *TradeView {
	return &TradeView{
		Trade:          *t,
		TargetLeverage: inst.TargetLeverage,
		IsLong:         inst.IsLong,
		TargetAsset:    inst.TargetAsset,
	}
}

// Transfers

func (s *KVStore) InsertTransfer(ctx context.Context, t *Transfer) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if has, err := s.kv.Has(kv.TableTransfers, t.ID); err != nil {
		return err
	} else if has {
		return ErrAlreadyExists
	}
	if err := s.kv.PutJSON(kv.TableTransfers, t.ID, t); err != nil {
		return err
	}
	for _, addr := range []string{t.From, t.To} {
		if err := s.kv.Put(kv.TableTransferIndex, key("u", addr, t.ID), []byte(t.ID)); err != nil {
			return fmt.Errorf("index transfer %s: %w", t.ID, err)
		}
	}
	return nil
}

func (s *KVStore) TransfersForUser(ctx context.Context, user string) ([]*Transfer, error) {
	seen := make(map[string]bool)
	var out []*Transfer
	err := s.kv.Scan(kv.TableTransferIndex, key("u", user)+":", func(_ string, value []byte) error {
		id := string(value)
		if seen[id] {
			return nil
		}
		seen[id] = true
		var t Transfer
		if err := s.get(kv.TableTransfers, id, &t); err != nil {
			return err
		}
		out = append(out, &t)
		return nil
	})
	return out, err
}

// Balances

func (s *KVStore) GetBalance(ctx context.Context, user, token string) (*Balance, error) {
	var b Balance
	if err := s.get(kv.TableBalances, key(user, token), &b); err != nil {
		return nil, err
	}
	b.normalize()
	return &b, nil
}

func (s *KVStore) BalancesForUser(ctx context.Context, user string) ([]*Balance, error) {
	all, err := kv.ScanJSON[Balance](s.kv, kv.TableBalances, key(user)+":")
	if err != nil {
		return nil, err
	}
	for _, b := range all {
		b.normalize()
	}
	return all, nil
}

func (s *KVStore) PositiveBalances(ctx context.Context) ([]*Balance, error) {
	all, err := kv.ScanJSON[Balance](s.kv, kv.TableBalances, "")
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, b := range all {
		b.normalize()
		if b.TotalBalance.Sign() > 0 {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *KVStore) UpsertBalance(ctx context.Context, user, token string, fn func(*Balance) error) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	b, err := s.GetBalance(ctx, user, token)
	if errors.Is(err, ErrNotFound) {
		b, err = NewBalance(strings.ToLower(user), strings.ToLower(token)), nil
	}
	if err != nil {
		return err
	}
	if err := fn(b); err != nil {
		return err
	}
	return s.kv.PutJSON(kv.TableBalances, key(user, token), b)
}

// Users

func (s *KVStore) GetUser(ctx context.Context, address string) (*User, error) {
	var u User
	if err := s.get(kv.TableUsers, key(address), &u); err != nil {
		return nil, err
	}
	u.normalize()
	return &u, nil
}

func (s *KVStore) UpsertUser(ctx context.Context, address string, fn func(*User) error) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	u, err := s.GetUser(ctx, address)
	if errors.Is(err, ErrNotFound) {
		u, err = NewUser(strings.ToLower(address)), nil
	}
	if err != nil {
		return err
	}
	if err := fn(u); err != nil {
		return err
	}
	return s.kv.PutJSON(kv.TableUsers, key(address), u)
}

func (s *KVStore) UpdateUser(ctx context.Context, address string, fn func(*User) error) (bool, error) {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	u, err := s.GetUser(ctx, address)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := fn(u); err != nil {
		return true, err
	}
	return true, s.kv.PutJSON(kv.TableUsers, key(address), u)
}

func (s *KVStore) allUsers() ([]*User, error) {
	all, err := kv.ScanJSON[User](s.kv, kv.TableUsers, "")
	if err != nil {
		return nil, err
	}
	for _, u := range all {
		u.normalize()
	}
	return all, nil
}

func userCursor(u *User) pagination.Cursor {
	return pagination.Cursor{Primary: u.LastTradeTimestamp, Key: u.Address}
}

func (s *KVStore) ListUsers(ctx context.Context, w pagination.Window) (*pagination.Page[*User], error) {
	all, err := s.allUsers()
	if err != nil {
		return nil, err
	}
	var traders []*User
	for _, u := range all {
		if u.TradeCount > 0 {
			traders = append(traders, u)
		}
	}
	sort.Slice(traders, func(i, j int) bool {
		return pagination.Less(userCursor(traders[i]), userCursor(traders[j]))
	})
	items, info := pagination.Slice(w, traders, userCursor)
	return &pagination.Page[*User]{Items: items, PageInfo: info, TotalCount: len(traders)}, nil
}

func (s *KVStore) ListReferrers(ctx context.Context) ([]*User, error) {
	all, err := s.allUsers()
	if err != nil {
		return nil, err
	}
	var out []*User
	for _, u := range all {
		if u.IsReferrer() {
			out = append(out, u)
		}
	}
	sortReferrers(out)
	return out, nil
}

func (s *KVStore) ReferralCodeExists(ctx context.Context, code string) (bool, error) {
	if code == "" {
		return false, nil
	}
	all, err := s.allUsers()
	if err != nil {
		return false, err
	}
	for _, u := range all {
		if u.ReferralCode == code {
			return true, nil
		}
	}
	return false, nil
}

// sortReferrers orders by referred count, then address.
func sortReferrers(users []*User) {
	sort.SliceStable(users, func(i, j int) bool {
		if users[i].ReferredUserCount != users[j].ReferredUserCount {
			return users[i].ReferredUserCount > users[j].ReferredUserCount
		}
		return users[i].Address < users[j].Address
	})
}

// Protocol records

func (s *KVStore) InsertFee(ctx context.Context, f *Fee) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	if has, err := s.kv.Has(kv.TableFees, f.ID); err != nil {
		return err
	} else if has {
		return ErrAlreadyExists
	}
	return s.kv.PutJSON(kv.TableFees, f.ID, f)
}

func (s *KVStore) AllFees(ctx context.Context) ([]*Fee, error) {
	return kv.ScanJSON[Fee](s.kv, kv.TableFees, "")
}

func (s *KVStore) InsertMint(ctx context.Context, m *Mint) error {
	return s.kv.PutJSON(kv.TableMints, m.ID, m)
}

func (s *KVStore) PutAgent(ctx context.Context, a *Agent) error {
	return s.kv.PutJSON(kv.TableAgents, fmt.Sprintf("%010d", a.Slot), a)
}

func (s *KVStore) GetGlobalStorage(ctx context.Context) (*GlobalStorage, error) {
	var g GlobalStorage
	if err := s.get(kv.TableMeta, GlobalStorageID, &g); err != nil {
		return nil, err
	}
	g.normalize()
	return &g, nil
}

func (s *KVStore) UpsertGlobalStorage(ctx context.Context, fn func(*GlobalStorage) error) error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	g, err := s.GetGlobalStorage(ctx)
	if errors.Is(err, ErrNotFound) {
		g, err = NewGlobalStorage(), nil
	}
	if err != nil {
		return err
	}
	if err := fn(g); err != nil {
		return err
	}
	return s.kv.PutJSON(kv.TableMeta, GlobalStorageID, g)
}
