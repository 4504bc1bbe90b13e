// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

// Package kv provides table-scoped JSON storage on top of
// github.com/luxfi/database. The indexer can own a BadgerDB directory or
// run inside a node process on a prefixed view of the node's database.
package kv

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/luxfi/database"
	"github.com/luxfi/database/badgerdb"
	"github.com/luxfi/database/memdb"
	"github.com/luxfi/database/prefixdb"
)

// Table names. Each table is a prefixed view of the underlying database.
const (
	TableInstruments   = "lt"
	TableTrades        = "trade"
	TableTradeIndex    = "trade-idx"
	TableTransfers     = "transfer"
	TableTransferIndex = "transfer-idx"
	TableBalances      = "balance"
	TableUsers         = "user"
	TableFees          = "fee"
	TableMints         = "mint"
	TableAgents        = "agent"
	TableMeta          = "meta"
)

// Config for the KV store
type Config struct {
	// Path to the database directory (for file-based backends)
	Path string

	// InProcess enables sharing the node's database
	InProcess bool

	// NodeDB is the node's database (only used when InProcess is true)
	NodeDB database.Database

	// Prefix isolates indexer data inside NodeDB
	Prefix []byte
}

// ReadWriter is the table API shared by Store and Tx.
type ReadWriter interface {
	GetJSON(table, key string, v interface{}) error
	PutJSON(table, key string, v interface{}) error
	Has(table, key string) (bool, error)
	Put(table, key string, value []byte) error
	Scan(table, prefix string, fn func(key string, value []byte) error) error
}

var (
	_ ReadWriter = (*Store)(nil)
	_ ReadWriter = (*Tx)(nil)
)

// Store wraps a luxfi/database.Database with JSON table helpers.
type Store struct {
	db    database.Database
	owned bool

	mu     sync.RWMutex
	tables map[string]database.Database
	closed bool
}

// New opens a BadgerDB at cfg.Path, or wraps cfg.NodeDB in-process.
func New(cfg Config) (*Store, error) {
	if cfg.InProcess && cfg.NodeDB != nil {
		prefix := cfg.Prefix
		if len(prefix) == 0 {
			prefix = []byte("ltindexer:")
		}
		return wrap(prefixdb.New(prefix, cfg.NodeDB), false), nil
	}
	db, err := badgerdb.New(cfg.Path, nil, "", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open badgerdb: %w", err)
	}
	return wrap(db, true), nil
}

// NewMemory creates an in-memory KV store.
func NewMemory() *Store {
	return wrap(memdb.New(), true)
}

func wrap(db database.Database, owned bool) *Store {
	return &Store{db: db, owned: owned, tables: make(map[string]database.Database)}
}

// Database returns the underlying database
func (s *Store) Database() database.Database {
	return s.db
}

// Table returns the prefixed database for name.
func (s *Store) Table(name string) database.Database {
	s.mu.RLock()
	t, ok := s.tables[name]
	s.mu.RUnlock()
	if ok {
		return t
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.tables[name]; ok {
		return t
	}
	t = prefixdb.New([]byte(name+":"), s.db)
	s.tables[name] = t
	return t
}

func (s *Store) check() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return database.ErrClosed
	}
	return nil
}

// PutJSON stores v under key in table.
func (s *Store) PutJSON(table, key string, v interface{}) error {
	if err := s.check(); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s/%s: %w", table, key, err)
	}
	return s.Table(table).Put([]byte(key), data)
}

// GetJSON decodes the value under key into v. A missing key returns
// database.ErrNotFound.
func (s *Store) GetJSON(table, key string, v interface{}) error {
	if err := s.check(); err != nil {
		return err
	}
	data, err := s.Table(table).Get([]byte(key))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal %s/%s: %w", table, key, err)
	}
	return nil
}

// Has checks if a key exists
func (s *Store) Has(table, key string) (bool, error) {
	if err := s.check(); err != nil {
		return false, err
	}
	return s.Table(table).Has([]byte(key))
}

// Put stores a raw value.
func (s *Store) Put(table, key string, value []byte) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.Table(table).Put([]byte(key), value)
}

// Delete removes a key
func (s *Store) Delete(table, key string) error {
	if err := s.check(); err != nil {
		return err
	}
	return s.Table(table).Delete([]byte(key))
}

// Scan calls fn for every entry in table whose key starts with prefix, in
// key order. Key and value are copies.
func (s *Store) Scan(table, prefix string, fn func(key string, value []byte) error) error {
	if err := s.check(); err != nil {
		return err
	}
	iter := s.Table(table).NewIteratorWithPrefix([]byte(prefix))
	defer iter.Release()
	for iter.Next() {
		key := string(iter.Key())
		value := append([]byte(nil), iter.Value()...)
		if err := fn(key, value); err != nil {
			return err
		}
	}
	return iter.Error()
}

// ScanJSON decodes every value under prefix into a fresh T.
func ScanJSON[T any](s ReadWriter, table, prefix string) ([]*T, error) {
	var out []*T
	err := s.Scan(table, prefix, func(key string, value []byte) error {
		v := new(T)
		if err := json.Unmarshal(value, v); err != nil {
			return fmt.Errorf("unmarshal %s/%s: %w", table, key, err)
		}
		out = append(out, v)
		return nil
	})
	return out, err
}

// HealthCheck performs a health check
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.check(); err != nil {
		return err
	}
	_, err := s.db.HealthCheck(ctx)
	return err
}

// Close closes the store
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.owned {
		return s.db.Close()
	}
	return nil
}

// CompositeKey joins key parts with ':'.
func CompositeKey(parts ...string) string {
	return strings.Join(parts, ":")
}
