// Package outbox реализует Transactional Outbox: событие пишется в ту же
// транзакцию, что и изменение состояния, а Worker доставляет его в Kafka.
// Гарантия доставки: at-least-once, потребители идемпотентны по EventID.
package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"example.com/storefront/pkg/kafka"
	"example.com/storefront/pkg/logger"
)

// Event: запись outbox.
type Event struct {
	ID            string
	AggregateType string // order / coupon
	AggregateID   string
	EventType     string // order.confirmed, coupon.issued, ...
	Topic         string
	MessageKey    string
	Payload       []byte
	Headers       map[string]string
	CreatedAt     time.Time
	ProcessedAt   *time.Time
	RetryCount    int
	LastError     *string
}

// NewEvent сериализует payload в JSON и переносит trace_id / correlation_id
// из context в headers. Ключ сообщения: id агрегата.
func NewEvent(ctx context.Context, aggregateType, aggregateID, eventType, topic string, payload any) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("сериализация события %s: %w", eventType, err)
	}

	headers := map[string]string{kafka.HeaderEventType: eventType}
	if id := logger.TraceIDFromContext(ctx); id != "" {
		headers[kafka.HeaderTraceID] = id
	}
	if id := logger.CorrelationIDFromContext(ctx); id != "" {
		headers[kafka.HeaderCorrelationID] = id
	}

	return &Event{
		ID:            uuid.NewString(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Topic:         topic,
		MessageKey:    aggregateID,
		Payload:       data,
		Headers:       headers,
		CreatedAt:     time.Now(),
	}, nil
}

// Message превращает событие в kafka.Message.
func (e *Event) Message() *kafka.Message {
	headers := make(map[string]string, len(e.Headers))
	for k, v := range e.Headers {
		headers[k] = v
	}
	return &kafka.Message{
		Topic:   e.Topic,
		Key:     []byte(e.MessageKey),
		Value:   e.Payload,
		Headers: headers,
	}
}

// HeadersJSON возвращает headers в JSON для хранения в БД.
func (e *Event) HeadersJSON() ([]byte, error) {
	if e.Headers == nil {
		return nil, nil
	}
	return json.Marshal(e.Headers)
}

// SetHeadersFromJSON восстанавливает headers из JSON.
func (e *Event) SetHeadersFromJSON(data []byte) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, &e.Headers)
}
