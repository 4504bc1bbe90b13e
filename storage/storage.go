// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

// Package storage is the record store behind the indexer.
// Supported backends: in-memory and BadgerDB (via luxfi/database), and
// PostgreSQL.
package storage

import (
	"context"
	"fmt"
	"math/big"

	"github.com/luxfi/ltindexer/pagination"
)

// Backend identifies the storage backend type
type Backend string

const (
	BackendMemory   Backend = "memory"
	BackendBadger   Backend = "badger"
	BackendPostgres Backend = "postgres"
)

// Config for storage backend
type Config struct {
	Backend Backend
	URL     string // postgres connection URL
	DataDir string // BadgerDB directory
}

// Store is the record store used by event handlers, the oracle refresh
// and the query services.
//
// Upsert functions receive the existing row, or a zeroed row when none
// exists, and their result is written back atomically with respect to
// other writers of the same key. Update functions are no-ops for missing
// rows and report whether a row was found. A non-nil error from fn aborts
// the write.
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error

	// Atomic runs fn against a transactional view of the store. The writes
	// made through that view are applied together when fn returns nil and
	// discarded when it returns an error or ctx is done. Nested calls join
	// the outer transaction.
	Atomic(ctx context.Context, fn func(Store) error) error

	// Instruments
	GetInstrument(ctx context.Context, address string) (*Instrument, error)
	GetInstrumentBySymbol(ctx context.Context, symbol string) (*Instrument, error)
	ListInstruments(ctx context.Context) ([]*Instrument, error)
	PutInstrument(ctx context.Context, inst *Instrument) error
	UpdateInstrument(ctx context.Context, address string, fn func(*Instrument) error) (bool, error)
	SetExchangeRate(ctx context.Context, address string, rate *big.Int) error
	// RecentlyBridged lists instruments bridged from perp at or after sinceBlock.
	RecentlyBridged(ctx context.Context, sinceBlock uint64) ([]string, error)

	// Trades and transfers
	InsertTrade(ctx context.Context, t *Trade) error
	SetTradeProfit(ctx context.Context, id string, amount, percent *big.Int) error
	GetTradeByTxHash(ctx context.Context, txHash string) (*TradeView, error)
	TradesForUser(ctx context.Context, user string) ([]*Trade, error)
	ListTrades(ctx context.Context, q TradeQuery) (*TradePage, error)
	// AllTrades lists trades joined to a known instrument.
	AllTrades(ctx context.Context) ([]*TradeView, error)
	// TradeHistory lists every trade. Trades of unknown instruments carry
	// zero leverage and no target asset.
	TradeHistory(ctx context.Context) ([]*TradeView, error)
	InsertTransfer(ctx context.Context, t *Transfer) error
	TransfersForUser(ctx context.Context, user string) ([]*Transfer, error)

	// Balances
	GetBalance(ctx context.Context, user, token string) (*Balance, error)
	BalancesForUser(ctx context.Context, user string) ([]*Balance, error)
	PositiveBalances(ctx context.Context) ([]*Balance, error)
	UpsertBalance(ctx context.Context, user, token string, fn func(*Balance) error) error

	// Users and referrals
	GetUser(ctx context.Context, address string) (*User, error)
	UpsertUser(ctx context.Context, address string, fn func(*User) error) error
	UpdateUser(ctx context.Context, address string, fn func(*User) error) (bool, error)
	ListUsers(ctx context.Context, w pagination.Window) (*pagination.Page[*User], error)
	ListReferrers(ctx context.Context) ([]*User, error)
	ReferralCodeExists(ctx context.Context, code string) (bool, error)

	// Protocol records
	InsertFee(ctx context.Context, f *Fee) error
	AllFees(ctx context.Context) ([]*Fee, error)
	InsertMint(ctx context.Context, m *Mint) error
	PutAgent(ctx context.Context, a *Agent) error
	GetGlobalStorage(ctx context.Context) (*GlobalStorage, error)
	UpsertGlobalStorage(ctx context.Context, fn func(*GlobalStorage) error) error
}

// Errors
var (
	ErrNotFound      = fmt.Errorf("not found")
	ErrAlreadyExists = fmt.Errorf("already exists")
	ErrClosed        = fmt.Errorf("store is closed")
)

// New creates a new storage backend based on config
func New(cfg Config) (Store, error) {
	switch cfg.Backend {
	case BackendMemory, "":
		return NewMemory(), nil
	case BackendBadger:
		return NewBadger(cfg)
	case BackendPostgres:
		return NewPostgres(cfg)
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Backend)
	}
}

// ParseBackend parses a backend string
func ParseBackend(s string) (Backend, error) {
	switch s {
	case "", "memory", "mem":
		return BackendMemory, nil
	case "badger", "badgerdb":
		return BackendBadger, nil
	case "postgres", "postgresql", "pg":
		return BackendPostgres, nil
	default:
		return "", fmt.Errorf("unknown backend: %s", s)
	}
}
