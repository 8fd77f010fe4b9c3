// Package events announces index lifecycle changes on Kafka so that running
// search servers can drop cached results and reload the vocabulary.
package events

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/Adithya-Monish-Kumar-K/search-index/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/search-index/pkg/kafka"
)

type Type string

const (
	IndexBuilt   Type = "index_built"
	VectorsBuilt Type = "vectors_built"
)

// IndexEvent is the JSON payload of every message on the index events
// topic. Documents is the number of documents built; VocabSize is zero for
// events that do not concern the vocabulary.
type IndexEvent struct {
	Type       Type      `json:"type"`
	Generation string    `json:"generation"`
	TotalDocs  int       `json:"total_docs"`
	VocabSize  int       `json:"vocab_size"`
	Documents  int       `json:"documents"`
	At         time.Time `json:"at"`
}

type Publisher interface {
	Publish(ctx context.Context, ev IndexEvent) error
}

// Nop discards events. It is used when Kafka is disabled.
type Nop struct{}

func (Nop) Publish(context.Context, IndexEvent) error { return nil }

// KafkaPublisher keys messages by generation so that all events of one
// build land on the same partition in order.
type KafkaPublisher struct {
	producer *kafka.Producer
}

func NewKafkaPublisher(cfg config.KafkaConfig) *KafkaPublisher {
	return &KafkaPublisher{producer: kafka.NewProducer(cfg, cfg.Topics.IndexEvents)}
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev IndexEvent) error {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	if err := p.producer.Publish(ctx, kafka.Event{Key: ev.Generation, Value: ev}); err != nil {
		return fmt.Errorf("publishing %s event: %w", ev.Type, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.producer.Close()
}

// NewPublisher returns a Kafka publisher when Kafka is enabled and Nop
// otherwise.
func NewPublisher(cfg config.KafkaConfig) Publisher {
	if !cfg.Enabled {
		return Nop{}
	}
	return NewKafkaPublisher(cfg)
}

// HandlerFunc reacts to one decoded event.
type HandlerFunc func(ctx context.Context, ev IndexEvent) error

// Decode is the kafka.MessageHandler adapter for HandlerFunc. Messages
// that are not valid events are logged and acknowledged.
func Decode(fn HandlerFunc) kafka.MessageHandler {
	logger := slog.Default().With("component", "index-events")
	return func(ctx context.Context, key, value []byte) error {
		ev, err := kafka.DecodeJSON[IndexEvent](value)
		if err != nil {
			logger.Warn("dropping undecodable event", "key", string(key), "error", err)
			return nil
		}
		if ev.Type != IndexBuilt && ev.Type != VectorsBuilt {
			logger.Warn("dropping event of unknown type", "type", ev.Type)
			return nil
		}
		return fn(ctx, ev)
	}
}

// Listen consumes the index events topic until ctx is cancelled.
func Listen(ctx context.Context, cfg config.KafkaConfig, fn HandlerFunc) error {
	consumer := kafka.NewConsumer(cfg, cfg.Topics.IndexEvents, Decode(fn))
	return consumer.Run(ctx)
}
