package circuitbreaker

import (
	"context"

	"example.com/storefront/pkg/kafka"
)

// MessageSender: то, что умеет отправлять kafka.Message (обычно *kafka.Producer).
type MessageSender interface {
	SendMessage(ctx context.Context, msg *kafka.Message) error
}

// Producer пропускает отправку сообщений через Breaker.
// При недоступной Kafka outbox worker получает ErrOpen сразу, без таймаута записи.
type Producer struct {
	next    MessageSender
	breaker *Breaker
}

// WrapProducer оборачивает sender.
func WrapProducer(next MessageSender, b *Breaker) *Producer {
	return &Producer{next: next, breaker: b}
}

// SendMessage отправляет сообщение через breaker.
func (p *Producer) SendMessage(ctx context.Context, msg *kafka.Message) error {
	return p.breaker.Execute(ctx, func(ctx context.Context) error {
		return p.next.SendMessage(ctx, msg)
	})
}
