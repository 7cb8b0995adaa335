package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

type Publisher struct {
	writer *kafka.Writer
	logger *zap.SugaredLogger
}

func NewPublisher(brokers []string, topic string, logger *zap.SugaredLogger) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{}, // keyed by transaction id, so one txn stays on one partition
			RequiredAcks: kafka.RequireAll,
			WriteTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

func (p *Publisher) Publish(ctx context.Context, key string, event any) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	if err := p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: data,
	}); err != nil {
		return fmt.Errorf("publish %s: %w", p.writer.Topic, err)
	}

	p.logger.Debugw("event published", "topic", p.writer.Topic, "key", key)
	return nil
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
