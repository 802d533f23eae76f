package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"autopilot/internal/config"
)

// KafkaNotifier publishes events to a Kafka topic keyed by user so per-user
// ordering is preserved within a partition.
type KafkaNotifier struct {
	writer *kafka.Writer
	topic  string
	logger *zap.Logger
}

func NewKafkaNotifier(cfg config.NotifyConfig, logger *zap.Logger) (*KafkaNotifier, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("brokers are required")
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		MaxAttempts:  3,
		WriteTimeout: 10 * time.Second,
		BatchTimeout: 100 * time.Millisecond,
		Async:        true,
	}
	// Async writes surface broker errors here, not at WriteMessages.
	writer.Completion = func(messages []kafka.Message, err error) {
		if err != nil && logger != nil {
			logger.Warn("notify publish failed", zap.Int("messages", len(messages)), zap.Error(err))
		}
	}
	return &KafkaNotifier{writer: writer, topic: cfg.Topic, logger: logger}, nil
}

func (n *KafkaNotifier) Emit(ctx context.Context, ev Event) {
	if n == nil || n.writer == nil {
		return
	}
	value, err := json.Marshal(ev)
	if err != nil {
		if n.logger != nil {
			n.logger.Warn("notify marshal failed", zap.String("type", ev.Type), zap.Error(err))
		}
		return
	}
	msg := kafka.Message{
		Topic: n.topic,
		Key:   []byte(ev.UserID),
		Value: value,
		Time:  time.Now(),
	}
	if err := n.writer.WriteMessages(ctx, msg); err != nil && n.logger != nil {
		n.logger.Warn("notify enqueue failed",
			zap.String("type", ev.Type),
			zap.String("user_id", ev.UserID),
			zap.Error(err))
	}
}

func (n *KafkaNotifier) Close() error {
	if n == nil || n.writer == nil {
		return nil
	}
	return n.writer.Close()
}
