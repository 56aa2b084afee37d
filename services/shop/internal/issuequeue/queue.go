// Package issuequeue: асинхронная выдача купонов через Kafka.
// HTTP-слой кладёт заявку в shop.coupon.issue-requests, Handler читает её
// и выдаёт купон через Allocator.Issue.
package issuequeue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"example.com/storefront/pkg/kafka"
	"example.com/storefront/pkg/logger"
	"example.com/storefront/services/shop/internal/domain"
)

// Issuer выдаёт купон пользователю.
type Issuer interface {
	Issue(ctx context.Context, userID, couponID string) (*domain.CouponGrant, error)
}

// Sender отправляет сообщение в Kafka.
type Sender interface {
	Send(ctx context.Context, topic string, key, value []byte) error
}

// =============================================================================
// Publisher
// =============================================================================

// Publisher ставит заявки на выдачу в очередь.
type Publisher struct {
	sender Sender
}

// NewPublisher создаёт Publisher.
func NewPublisher(sender Sender) *Publisher {
	return &Publisher{sender: sender}
}

// Enqueue ставит заявку в очередь. Ключ сообщения: ID купона,
// поэтому заявки на один купон читаются по порядку.
func (p *Publisher) Enqueue(ctx context.Context, req domain.CouponIssueRequest) error {
	if strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.CouponID) == "" {
		return domain.ErrInvalidInput
	}

	value, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("ошибка сериализации заявки: %w", err)
	}
	if err := p.sender.Send(ctx, kafka.TopicCouponIssueRequests, []byte(req.CouponID), value); err != nil {
		return fmt.Errorf("ошибка отправки заявки на выдачу купона: %w", err)
	}

	logger.Ctx(ctx).Debug().
		Str("user_id", req.UserID).
		Str("coupon_id", req.CouponID).
		Msg("Заявка на выдачу купона поставлена в очередь")
	return nil
}

// =============================================================================
// Handler
// =============================================================================

// Handler обрабатывает заявки на выдачу купонов.
type Handler struct {
	issuer Issuer
}

// NewHandler создаёт обработчик заявок.
func NewHandler(issuer Issuer) *Handler {
	return &Handler{issuer: issuer}
}

// Run читает заявки до отмены ctx. Инфраструктурные ошибки повторяются
// maxRetries раз, затем сообщение уходит в DLQ.
func (h *Handler) Run(ctx context.Context, consumer *kafka.Consumer, maxRetries int) error {
	logger.Info().Msg("Запуск обработчика заявок на выдачу купонов")
	return consumer.ConsumeWithRetry(ctx, h.Handle, maxRetries)
}

// Handle обрабатывает одно сообщение.
//
// Отказ по бизнес-правилу (купоны закончились, уже выдан, вне периода)
// считается ответом на заявку, сообщение подтверждается. Битое сообщение
// помечается kafka.Permanent и уходит в DLQ без повторов.
func (h *Handler) Handle(ctx context.Context, msg *kafka.Message) error {
	log := logger.Ctx(ctx)

	var req domain.CouponIssueRequest
	if err := json.Unmarshal(msg.Value, &req); err != nil {
		log.Error().
			Err(err).
			Str("value", string(msg.Value)).
			Msg("Ошибка парсинга заявки на выдачу купона")
		return kafka.Permanent(fmt.Errorf("битая заявка: %w", err))
	}
	if req.UserID == "" || req.CouponID == "" {
		return kafka.Permanent(fmt.Errorf("заявка без user_id или coupon_id: %w", domain.ErrInvalidInput))
	}

	grant, err := h.issuer.Issue(ctx, req.UserID, req.CouponID)
	switch {
	case err == nil:
		log.Info().
			Str("user_id", req.UserID).
			Str("coupon_id", req.CouponID).
			Str("grant_id", grant.ID).
			Msg("Купон выдан по заявке")
		return nil
	case isRejection(err):
		log.Info().
			Err(err).
			Str("user_id", req.UserID).
			Str("coupon_id", req.CouponID).
			Str("reason", domain.Kind(err)).
			Msg("Заявка на выдачу купона отклонена")
		return nil
	default:
		return err
	}
}

// isRejection сообщает, что повтор заявки даст тот же ответ.
func isRejection(err error) bool {
	for _, target := range []error{
		domain.ErrSoldOut,
		domain.ErrAlreadyIssued,
		domain.ErrIssuePeriodExpired,
		domain.ErrNotFound,
		domain.ErrInvalidInput,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
