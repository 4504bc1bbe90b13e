// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/luxfi/ltindexer/metrics"
)

// MetricsExporter publishes the snapshot as Prometheus gauges.
type MetricsExporter struct {
	service *Service
	log     zerolog.Logger
}

// NewMetricsExporter creates a new Prometheus metrics exporter
func NewMetricsExporter(service *Service, log zerolog.Logger) *MetricsExporter {
	return &MetricsExporter{service: service, log: log}
}

// UpdateMetrics recomputes the snapshot and refreshes every gauge.
func (m *MetricsExporter) UpdateMetrics(ctx context.Context) error {
	snap, err := m.service.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("stats snapshot: %w", err)
	}
	for name, v := range Gauges(snap) {
		metrics.ProtocolStats.WithLabelValues(name).Set(v)
	}
	return nil
}

// Gauges flattens a snapshot into gauge values keyed by stat name.
func Gauges(s *Snapshot) map[string]float64 {
	return map[string]float64{
		"margin_volume":      s.MarginVolume,
		"notional_volume":    s.NotionalVolume,
		"average_leverage":   s.AverageLeverage,
		"supported_assets":   float64(s.SupportedAssets),
		"leveraged_tokens":   float64(s.LeveragedTokens),
		"unique_users":       float64(s.UniqueUsers),
		"total_value_locked": s.TotalValueLocked,
		"open_interest":      s.OpenInterest,
		"total_trades":       float64(s.TotalTrades),
		"treasury_fees":      s.TreasuryFees,
	}
}

// Run updates the gauges every interval until ctx is done.
func (m *MetricsExporter) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.update(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.update(ctx)
		}
	}
}

func (m *MetricsExporter) update(ctx context.Context) {
	if err := m.UpdateMetrics(ctx); err != nil && ctx.Err() == nil {
		m.log.Warn().Err(err).Msg("stats metrics update failed")
	}
}
