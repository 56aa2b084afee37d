package kafka

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"example.com/storefront/pkg/logger"
	"example.com/storefront/pkg/retry"
)

// MessageHandler обрабатывает одно сообщение.
// context содержит trace_id и correlation_id из headers.
type MessageHandler func(ctx context.Context, msg *Message) error

// messageReader: часть *kafka.Reader, которую использует Consumer.
type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// dlqSender: куда уходят необработанные сообщения.
type dlqSender interface {
	SendToDLQ(ctx context.Context, original *Message, processingErr error) error
}

// Consumer читает топик в составе consumer group и коммитит offset
// после обработки (успешной или с пересылкой в DLQ).
type Consumer struct {
	reader messageReader
	dlq    dlqSender
	topic  string
}

// NewConsumer создаёт Consumer для topic в группе groupID.
func NewConsumer(cfg Config, topic, groupID string) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("не указаны брокеры Kafka")
	}
	if topic == "" {
		return nil, fmt.Errorf("не указан топик")
	}
	if groupID == "" {
		return nil, fmt.Errorf("не указан group ID")
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       topic,
		GroupID:     groupID,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     100 * time.Millisecond,
		StartOffset: kafka.FirstOffset,
	})

	logger.Info().
		Strs("brokers", cfg.Brokers).
		Str("topic", topic).
		Str("group_id", groupID).
		Msg("Создан Kafka Consumer")

	return &Consumer{reader: reader, topic: topic}, nil
}

// SetDLQProducer включает пересылку необработанных сообщений в DLQ.
func (c *Consumer) SetDLQProducer(p *Producer) {
	c.dlq = p
}

// Consume читает сообщения до отмены ctx.
// Ошибка обработчика логируется, сообщение уходит в DLQ (если настроен), offset коммитится.
func (c *Consumer) Consume(ctx context.Context, handler MessageHandler) error {
	logger.Info().Str("topic", c.topic).Msg("Запуск чтения сообщений из Kafka")

	for {
		km, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
				logger.Info().Str("topic", c.topic).Msg("Остановка Kafka Consumer")
				return ctx.Err()
			}
			logger.Error().Err(err).Str("topic", c.topic).Msg("Ошибка чтения сообщения из Kafka")
			continue
		}

		msg := fromKafkaMessage(km)
		msgCtx := contextFromMessage(ctx, msg)
		log := logger.FromContext(msgCtx).With().
			Str("topic", msg.Topic).
			Str("key", string(msg.Key)).
			Int("partition", msg.Partition).
			Int64("offset", msg.Offset).
			Logger()

		if err := handler(msgCtx, msg); err != nil {
			log.Error().Err(err).Msg("Ошибка обработки сообщения")

			if c.dlq != nil {
				if dlqErr := c.dlq.SendToDLQ(msgCtx, msg, err); dlqErr != nil {
					log.Error().Err(dlqErr).Msg("Ошибка отправки в DLQ")
				} else {
					log.Warn().Msg("Сообщение отправлено в DLQ")
				}
			}
		}

		if err := c.reader.CommitMessages(ctx, km); err != nil {
			log.Error().Err(err).Msg("Ошибка коммита offset")
		}
	}
}

// ConsumeWithRetry повторяет обработку каждого сообщения до maxRetries раз
// с экспоненциальной задержкой. Ошибки, помеченные Permanent, не повторяются.
func (c *Consumer) ConsumeWithRetry(ctx context.Context, handler MessageHandler, maxRetries int) error {
	policy := retry.Policy{
		Name:                "kafka.consume." + c.topic,
		MaxAttempts:         uint(maxRetries + 1),
		InitialInterval:     100 * time.Millisecond,
		MaxInterval:         2 * time.Second,
		Multiplier:          2,
		RandomizationFactor: 0.2,
	}

	retryable := func(err error) bool { return !IsPermanent(err) }

	return c.Consume(ctx, func(ctx context.Context, msg *Message) error {
		err := retry.Do(ctx, policy, retryable, func(ctx context.Context) error {
			return handler(ctx, msg)
		})
		if err != nil && !IsPermanent(err) {
			return fmt.Errorf("исчерпаны попытки обработки: %w", err)
		}
		return err
	})
}

// Close закрывает reader и покидает consumer group.
func (c *Consumer) Close() error {
	if err := c.reader.Close(); err != nil {
		logger.Error().Err(err).Str("topic", c.topic).Msg("Ошибка при закрытии Kafka Consumer")
		return fmt.Errorf("ошибка закрытия consumer: %w", err)
	}
	logger.Info().Str("topic", c.topic).Msg("Kafka Consumer закрыт")
	return nil
}
