// Package kafka: обёртки над segmentio/kafka-go для событий магазина:
// producer для outbox relay и асинхронных заявок, consumer с повторами и DLQ.
package kafka

import (
	"context"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"

	"example.com/storefront/pkg/logger"
)

// Топики магазина.
const (
	// TopicOrderEvents: order.confirmed, order.cancelled, order.refunded.
	TopicOrderEvents = "shop.orders"

	// TopicCouponEvents: coupon.issued.
	TopicCouponEvents = "shop.coupons"

	// TopicCouponIssueRequests: асинхронные заявки на выдачу купона.
	TopicCouponIssueRequests = "shop.coupon.issue-requests"

	// TopicDLQ: сообщения, которые не удалось обработать.
	TopicDLQ = "shop.dlq"
)

// Ключи headers.
const (
	HeaderTraceID       = "trace_id"
	HeaderCorrelationID = "correlation_id"
	HeaderTimestamp     = "timestamp"
	HeaderEventType     = "event_type"

	headerDLQError         = "dlq_error"
	headerDLQOriginalTopic = "dlq_original_topic"
	headerDLQTimestamp     = "dlq_timestamp"
)

// Config: адреса брокеров и consumer group.
type Config struct {
	Brokers       []string
	ConsumerGroup string
}

// Message: сообщение Kafka без привязки к типам kafka-go.
type Message struct {
	Key       []byte
	Value     []byte
	Topic     string
	Partition int
	Offset    int64
	Headers   map[string]string
	Time      time.Time
}

func fromKafkaMessage(m kafka.Message) *Message {
	headers := make(map[string]string, len(m.Headers))
	for _, h := range m.Headers {
		headers[h.Key] = string(h.Value)
	}

	return &Message{
		Key:       m.Key,
		Value:     m.Value,
		Topic:     m.Topic,
		Partition: m.Partition,
		Offset:    m.Offset,
		Headers:   headers,
		Time:      m.Time,
	}
}

func (m *Message) toKafkaMessage() kafka.Message {
	headers := make([]kafka.Header, 0, len(m.Headers))
	for k, v := range m.Headers {
		headers = append(headers, kafka.Header{Key: k, Value: []byte(v)})
	}

	return kafka.Message{
		Key:     m.Key,
		Value:   m.Value,
		Topic:   m.Topic,
		Headers: headers,
		Time:    m.Time,
	}
}

// withContextHeaders дописывает trace_id, correlation_id и timestamp,
// если вызывающий их не задал.
func (m *Message) withContextHeaders(ctx context.Context) {
	if m.Headers == nil {
		m.Headers = make(map[string]string, 3)
	}
	if _, ok := m.Headers[HeaderTraceID]; !ok {
		if id := logger.TraceIDFromContext(ctx); id != "" {
			m.Headers[HeaderTraceID] = id
		}
	}
	if _, ok := m.Headers[HeaderCorrelationID]; !ok {
		if id := logger.CorrelationIDFromContext(ctx); id != "" {
			m.Headers[HeaderCorrelationID] = id
		}
	}
	if _, ok := m.Headers[HeaderTimestamp]; !ok {
		m.Headers[HeaderTimestamp] = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if m.Time.IsZero() {
		m.Time = time.Now()
	}
}

// contextFromMessage переносит trace_id и correlation_id из headers в context.
func contextFromMessage(ctx context.Context, msg *Message) context.Context {
	return logger.NewContextWithIDs(ctx, msg.Headers[HeaderTraceID], msg.Headers[HeaderCorrelationID])
}

// permanentError помечает ошибку обработки как не подлежащую повтору.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent оборачивает ошибку обработчика: сообщение сразу уходит в DLQ без повторов.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent сообщает, помечена ли ошибка через Permanent.
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}
