// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package oracle

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// HeadSource reports the latest block height.
type HeadSource interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

// BlockWatcher polls for new chain heads and runs the refresher once per
// observed advance. Heads that arrive while a refresh is in flight are
// coalesced into the next poll; rates are read at latest state either way.
type BlockWatcher struct {
	heads     HeadSource
	refresher *Refresher
	interval  time.Duration
	log       zerolog.Logger

	mu   sync.Mutex
	last uint64
}

// NewBlockWatcher creates a watcher polling every interval.
func NewBlockWatcher(heads HeadSource, refresher *Refresher, interval time.Duration, log zerolog.Logger) *BlockWatcher {
	if interval <= 0 {
		interval = time.Second
	}
	return &BlockWatcher{heads: heads, refresher: refresher, interval: interval, log: log}
}

// Run polls until ctx is cancelled.
func (w *BlockWatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.Poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Poll(ctx)
		}
	}
}

// Poll checks the head once and refreshes if it advanced. It reports
// whether a refresh ran.
func (w *BlockWatcher) Poll(ctx context.Context) bool {
	head, err := w.heads.BlockNumber(ctx)
	if err != nil {
		if ctx.Err() == nil {
			w.log.Warn().Err(err).Msg("failed to read chain head")
		}
		return false
	}

	w.mu.Lock()
	if head <= w.last {
		w.mu.Unlock()
		return false
	}
	w.last = head
	w.mu.Unlock()

	// Cycle failures are logged and counted by the refresher.
	_, _ = w.refresher.Refresh(ctx, head)
	return true
}

// LastBlock returns the most recent head a refresh ran for.
func (w *BlockWatcher) LastBlock() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last
}
