// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

// Package metrics holds the Prometheus collectors shared by the indexer
// components. All collectors register on the default registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "ltindexer"

var (
	// Ingestion
	EventsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_processed_total",
		Help:      "Events applied to the store, by kind and result",
	}, []string{"kind", "result"})

	EventApplyDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "event_apply_duration_seconds",
		Help:      "Time to apply a single event",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 8),
	}, []string{"kind"})

	ConsumerPoisonMessages = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "consumer_poison_messages_total",
		Help:      "Messages that could not be decoded and were committed without applying",
	})

	// Oracle refresh
	OracleCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "oracle_cycles_total",
		Help:      "Exchange-rate refresh cycles, by outcome",
	}, []string{"outcome"})

	OracleExcluded = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "oracle_excluded_total",
		Help:      "Instruments left out of a refresh because they were recently bridged",
	})

	OracleWrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "oracle_writes_total",
		Help:      "Per-instrument exchange-rate writes, by result",
	}, []string{"result"})

	OracleHead = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "oracle_head_block",
		Help:      "Latest block the refresher ran for",
	})

	// HTTP
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route and status",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "status"})

	// Protocol stats snapshot
	ProtocolStats = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "protocol_stat",
		Help:      "Latest protocol stats snapshot, by stat name",
	}, []string{"stat"})
)
