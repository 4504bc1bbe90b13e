// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/luxfi/ltindexer/metrics"
)

// ConsumerConfig holds Kafka connection configuration.
type ConsumerConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// MessageReader is the subset of *kafka.Reader the consumer needs.
type MessageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer feeds event envelopes from a Kafka topic into a Processor.
// Producers key messages by emitting contract so each instrument's logs
// stay in one partition and arrive in order. A message is committed only
// after it has been applied; undecodable messages are logged and committed
// so they cannot block the partition.
type Consumer struct {
	reader    MessageReader
	processor *Processor
	log       zerolog.Logger
}

// NewConsumer opens a consumer-group reader for cfg.
func NewConsumer(cfg ConsumerConfig, processor *Processor, log zerolog.Logger) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Brokers,
		Topic:          cfg.Topic,
		GroupID:        cfg.GroupID,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // explicit commits only
		StartOffset:    kafka.FirstOffset,
	})
	return NewConsumerWithReader(reader, processor, log), nil
}

// NewConsumerWithReader wraps an existing reader.
func NewConsumerWithReader(reader MessageReader, processor *Processor, log zerolog.Logger) *Consumer {
	return &Consumer{reader: reader, processor: processor, log: log}
}

// Run consumes until ctx is cancelled or an event fails to apply. A failed
// or interrupted event leaves no writes and is not committed, so it is
// redelivered after restart.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("fetch message: %w", err)
		}

		ev, err := Decode(msg.Value)
		if err != nil {
			metrics.ConsumerPoisonMessages.Inc()
			c.log.Error().Err(err).
				Int("partition", msg.Partition).
				Int64("offset", msg.Offset).
				Msg("dropping undecodable message")
		} else if err := c.processor.Handle(ctx, ev); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("partition %d offset %d: %w", msg.Partition, msg.Offset, err)
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("commit offset %d: %w", msg.Offset, err)
		}
	}
}

// Close closes the underlying reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
