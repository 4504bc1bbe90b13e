// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package kv

import (
	"context"
	"errors"
	"testing"

	"github.com/luxfi/database"
	"github.com/luxfi/database/memdb"
)

type record struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestMemoryStore(t *testing.T) {
	store := NewMemory()
	defer store.Close()

	t.Run("PutGetJSON", func(t *testing.T) {
		if err := store.PutJSON(TableUsers, "0xabc", record{Name: "a", Count: 2}); err != nil {
			t.Fatalf("PutJSON: %v", err)
		}
		var got record
		if err := store.GetJSON(TableUsers, "0xabc", &got); err != nil {
			t.Fatalf("GetJSON: %v", err)
		}
		if got.Name != "a" || got.Count != 2 {
			t.Errorf("GetJSON = %+v, want {a 2}", got)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		var got record
		err := store.GetJSON(TableUsers, "0xmissing", &got)
		if !errors.Is(err, database.ErrNotFound) {
			t.Errorf("GetJSON missing err = %v, want ErrNotFound", err)
		}
	})

	t.Run("TablesAreIsolated", func(t *testing.T) {
		if err := store.Put(TableFees, "k", []byte("fee")); err != nil {
			t.Fatal(err)
		}
		has, err := store.Has(TableMints, "k")
		if err != nil {
			t.Fatal(err)
		}
		if has {
			t.Error("key leaked across tables")
		}
	})

	t.Run("ScanPrefix", func(t *testing.T) {
		for _, k := range []string{"u1:t1", "u1:t2", "u2:t1"} {
			if err := store.PutJSON(TableBalances, k, record{Name: k}); err != nil {
				t.Fatal(err)
			}
		}
		got, err := ScanJSON[record](store, TableBalances, "u1:")
		if err != nil {
			t.Fatal(err)
		}
		if len(got) != 2 || got[0].Name != "u1:t1" || got[1].Name != "u1:t2" {
			t.Errorf("ScanJSON = %+v", got)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = store.Put(TableMeta, "gone", []byte("x"))
		if err := store.Delete(TableMeta, "gone"); err != nil {
			t.Fatal(err)
		}
		if has, _ := store.Has(TableMeta, "gone"); has {
			t.Error("key still present after Delete")
		}
	})

	t.Run("Health", func(t *testing.T) {
		if err := store.HealthCheck(context.Background()); err != nil {
			t.Errorf("HealthCheck: %v", err)
		}
	})
}

func TestInProcessDoesNotCloseNodeDB(t *testing.T) {
	node := memdb.New()
	store, err := New(Config{InProcess: true, NodeDB: node})
	if err != nil {
		t.Fatal(err)
	}
	if err := store.PutJSON(TableMeta, "k", record{Name: "x"}); err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}
	if err := node.Put([]byte("still"), []byte("open")); err != nil {
		t.Errorf("node db closed by indexer store: %v", err)
	}
	if err := store.PutJSON(TableMeta, "k", record{}); !errors.Is(err, database.ErrClosed) {
		t.Errorf("put after close err = %v, want ErrClosed", err)
	}
}

func TestCompositeKey(t *testing.T) {
	if got := CompositeKey("0xa", "0xb"); got != "0xa:0xb" {
		t.Errorf("CompositeKey = %q", got)
	}
}

func TestTx(t *testing.T) {
	store := NewMemory()
	defer store.Close()
	if err := store.PutJSON(TableUsers, "u1", record{Name: "old", Count: 1}); err != nil {
		t.Fatal(err)
	}

	t.Run("ReadsOwnWrites", func(t *testing.T) {
		tx := store.Begin()
		defer tx.Discard()
		if err := tx.PutJSON(TableUsers, "u1", record{Name: "new", Count: 2}); err != nil {
			t.Fatal(err)
		}
		if err := tx.PutJSON(TableUsers, "u0", record{Name: "added"}); err != nil {
			t.Fatal(err)
		}
		var got record
		if err := tx.GetJSON(TableUsers, "u1", &got); err != nil || got.Name != "new" {
			t.Errorf("tx GetJSON = %+v, %v; want new", got, err)
		}
		if has, _ := tx.Has(TableUsers, "u0"); !has {
			t.Error("tx Has(u0) = false, want true")
		}
		scanned, err := ScanJSON[record](tx, TableUsers, "u")
		if err != nil {
			t.Fatal(err)
		}
		if len(scanned) != 2 || scanned[0].Name != "added" || scanned[1].Name != "new" {
			t.Errorf("tx ScanJSON = %+v, want [added new]", scanned)
		}
		if err := store.GetJSON(TableUsers, "u1", &got); err != nil || got.Name != "old" {
			t.Errorf("store sees pending write: %+v, %v", got, err)
		}
	})

	t.Run("DiscardDropsWrites", func(t *testing.T) {
		tx := store.Begin()
		_ = tx.Put(TableFees, "f1", []byte("x"))
		tx.Discard()
		if has, _ := store.Has(TableFees, "f1"); has {
			t.Error("discarded write is visible")
		}
		if err := tx.Commit(); err == nil {
			t.Error("Commit after Discard = nil, want error")
		}
	})

	t.Run("CommitAppliesAcrossTables", func(t *testing.T) {
		tx := store.Begin()
		_ = tx.PutJSON(TableTrades, "t1", record{Name: "trade"})
		_ = tx.Put(TableTradeIndex, "u:0xa:t1", []byte("t1"))
		_ = tx.PutJSON(TableUsers, "u1", record{Name: "committed"})
		if tx.Len() != 3 {
			t.Errorf("Len = %d, want 3", tx.Len())
		}
		if err := tx.Commit(); err != nil {
			t.Fatalf("Commit: %v", err)
		}
		var got record
		if err := store.GetJSON(TableUsers, "u1", &got); err != nil || got.Name != "committed" {
			t.Errorf("GetJSON after commit = %+v, %v", got, err)
		}
		for _, k := range []struct{ table, key string }{{TableTrades, "t1"}, {TableTradeIndex, "u:0xa:t1"}} {
			if has, _ := store.Has(k.table, k.key); !has {
				t.Errorf("%s/%s missing after commit", k.table, k.key)
			}
		}
		if has, _ := store.Has(TableUsers, "t1"); has {
			t.Error("committed key leaked across tables")
		}
	})
}
