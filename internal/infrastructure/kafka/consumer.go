package kafka_infra

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// MessageHandler processes one fetched message. A nil return commits the
// offset; an error leaves it uncommitted for redelivery.
type MessageHandler func(ctx context.Context, msg kafka.Message) error

type Consumer interface {
	Start(ctx context.Context, handler MessageHandler) error
	Stop()
}

type kafkaConsumer struct {
	reader *kafka.Reader
	logger *zap.Logger
	topic  string
	group  string
	cancel context.CancelFunc
}

func NewConsumer(brokerURLs []string, groupID, topic string, logger *zap.Logger) Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:           brokerURLs,
		GroupID:           groupID,
		Topic:             topic,
		MinBytes:          10e3,
		MaxBytes:          10e6,
		ReadBatchTimeout:  1 * time.Second,
		HeartbeatInterval: 3 * time.Second,
		CommitInterval:    time.Second,
		MaxAttempts:       3,
		Logger:            kafka.LoggerFunc(func(msg string, args ...interface{}) { logger.Debug(fmt.Sprintf(msg, args...)) }),
		ErrorLogger:       kafka.LoggerFunc(func(msg string, args ...interface{}) { logger.Error(fmt.Sprintf(msg, args...)) }),
	})
	return &kafkaConsumer{reader: reader, logger: logger, topic: topic, group: groupID}
}

func (c *kafkaConsumer) Start(ctx context.Context, handler MessageHandler) error {
	consumerCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.logger.Info("command consumer starting",
		zap.String("topic", c.topic),
		zap.String("group_id", c.group))

	for {
		select {
		case <-consumerCtx.Done():
			c.logger.Info("command consumer stopping")
			return c.reader.Close()
		default:
			msg, err := c.reader.FetchMessage(consumerCtx)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					continue
				}
				c.logger.Error("failed to fetch message", zap.Error(err))
				time.Sleep(1 * time.Second)
				continue
			}

			if handlerErr := handler(consumerCtx, msg); handlerErr != nil {
				c.logger.Error("message handling failed, offset not committed",
					zap.Int("partition", msg.Partition),
					zap.Int64("offset", msg.Offset),
					zap.Error(handlerErr))
				continue
			}
			if commitErr := c.reader.CommitMessages(consumerCtx, msg); commitErr != nil {
				c.logger.Error("failed to commit offset",
					zap.Int("partition", msg.Partition),
					zap.Int64("offset", msg.Offset),
					zap.Error(commitErr))
			}
		}
	}
}

func (c *kafkaConsumer) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
}
