// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package kv

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/luxfi/database"
)

// Tx buffers writes across tables and applies them with one batch on
// Commit. Reads through a Tx see its own pending writes. A Tx is not safe
// for concurrent use and callers serialise writers around it.
type Tx struct {
	s      *Store
	writes map[string]map[string][]byte
	done   bool
}

// Begin starts a write transaction.
func (s *Store) Begin() *Tx {
	return &Tx{s: s, writes: make(map[string]map[string][]byte)}
}

func (t *Tx) pending(table, key string) ([]byte, bool) {
	v, ok := t.writes[table][key]
	return v, ok
}

// Put buffers a raw value.
func (t *Tx) Put(table, key string, value []byte) error {
	if t.done {
		return fmt.Errorf("kv: transaction already finished")
	}
	w, ok := t.writes[table]
	if !ok {
		w = make(map[string][]byte)
		t.writes[table] = w
	}
	w[key] = append([]byte(nil), value...)
	return nil
}

// PutJSON buffers v under key in table.
func (t *Tx) PutJSON(table, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s/%s: %w", table, key, err)
	}
	return t.Put(table, key, data)
}

// GetJSON decodes the pending or stored value under key into v.
func (t *Tx) GetJSON(table, key string, v interface{}) error {
	data, ok := t.pending(table, key)
	if !ok {
		return t.s.GetJSON(table, key, v)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal %s/%s: %w", table, key, err)
	}
	return nil
}

// Has checks pending writes, then the store.
func (t *Tx) Has(table, key string) (bool, error) {
	if _, ok := t.pending(table, key); ok {
		return true, nil
	}
	return t.s.Has(table, key)
}

// Scan merges pending writes into the stored entries under prefix, in key
// order.
func (t *Tx) Scan(table, prefix string, fn func(key string, value []byte) error) error {
	type entry struct {
		key   string
		value []byte
	}
	pending := t.writes[table]
	var entries []entry
	err := t.s.Scan(table, prefix, func(key string, value []byte) error {
		if v, ok := pending[key]; ok {
			value = v
		}
		entries = append(entries, entry{key, value})
		return nil
	})
	if err != nil {
		return err
	}
	for key, value := range pending {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if has, err := t.s.Has(table, key); err != nil {
			return err
		} else if !has {
			entries = append(entries, entry{key, value})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].key < entries[j].key })
	for _, e := range entries {
		if err := fn(e.key, append([]byte(nil), e.value...)); err != nil {
			return err
		}
	}
	return nil
}

// Len reports the number of pending writes.
func (t *Tx) Len() int {
	n := 0
	for _, w := range t.writes {
		n += len(w)
	}
	return n
}

// Commit writes every pending value in a single batch on the underlying
// database. A Tx cannot be reused after Commit or Discard.
func (t *Tx) Commit() error {
	if t.done {
		return fmt.Errorf("kv: transaction already finished")
	}
	t.done = true
	if err := t.s.check(); err != nil {
		return err
	}
	root := t.s.db.NewBatch()
	tables := make([]string, 0, len(t.writes))
	for table := range t.writes {
		tables = append(tables, table)
	}
	sort.Strings(tables)
	for _, table := range tables {
		if err := t.stage(root, table); err != nil {
			return err
		}
	}
	return root.Write()
}

// stage replays one table's writes, prefixed, into root.
func (t *Tx) stage(root database.Batch, table string) error {
	b := t.s.Table(table).NewBatch()
	for key, value := range t.writes[table] {
		if err := b.Put([]byte(key), value); err != nil {
			return fmt.Errorf("stage %s/%s: %w", table, key, err)
		}
	}
	return b.Replay(root)
}

// Discard drops pending writes.
func (t *Tx) Discard() {
	t.done = true
	t.writes = nil
}
