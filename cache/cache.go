// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

// Package cache stores serialized query responses for a bounded time.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Cache is a TTL key/value store for encoded responses.
type Cache interface {
	// Get returns the cached value and whether it was present.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Invalidate drops every key with the given prefix.
	Invalidate(ctx context.Context, prefix string) error
	Close() error
}

// GetOrLoad returns the cached value for key, or calls load and caches its
// result for ttl. A nil cache always loads. Cache failures fall through to
// load; load errors are never cached.
func GetOrLoad[T any](ctx context.Context, c Cache, key string, ttl time.Duration, load func(context.Context) (T, error)) (T, error) {
	if c == nil || ttl <= 0 {
		return load(ctx)
	}
	if raw, ok, err := c.Get(ctx, key); err == nil && ok {
		var v T
		if err := json.Unmarshal(raw, &v); err == nil {
			return v, nil
		}
	}
	v, err := load(ctx)
	if err != nil {
		return v, err
	}
	if raw, err := json.Marshal(v); err == nil {
		_ = c.Set(ctx, key, raw, ttl)
	}
	return v, nil
}

// Memory is an in-process cache.
type Memory struct {
	mu      sync.RWMutex
	entries map[string]entry
	now     func() time.Time
}

type entry struct {
	value   []byte
	updated time.Time
	ttl     time.Duration
}

// NewMemory returns an empty in-process cache.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]entry), now: time.Now}
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	e, ok := m.entries[key]
	m.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if m.now().Sub(e.updated) >= e.ttl {
		m.mu.Lock()
		if cur, ok := m.entries[key]; ok && cur.updated.Equal(e.updated) {
			delete(m.entries, key)
		}
		m.mu.Unlock()
		return nil, false, nil
	}
	return e.value, true, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	m.mu.Lock()
	m.entries[key] = entry{value: append([]byte(nil), value...), updated: m.now(), ttl: ttl}
	m.mu.Unlock()
	return nil
}

func (m *Memory) Invalidate(_ context.Context, prefix string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k := range m.entries {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			delete(m.entries, k)
		}
	}
	return nil
}

func (m *Memory) Close() error { return nil }

// Len returns the number of live and expired entries held.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// New selects a cache backend by name.
func New(backend, redisAddr string) (Cache, error) {
	switch backend {
	case "", "memory":
		return NewMemory(), nil
	case "redis":
		return NewRedis(redisAddr, "", 0), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", backend)
	}
}
