// Package order: заказы: создание, чтение, отмена и переходы статуса при оплате.
package order

import (
	"context"
	"time"

	"example.com/storefront/pkg/kafka"
	"example.com/storefront/pkg/logger"
	"example.com/storefront/pkg/outbox"
	"example.com/storefront/pkg/retry"
	"example.com/storefront/services/shop/internal/domain"
	"example.com/storefront/services/shop/internal/repository"
)

// LineRequest: позиция в запросе на создание заказа.
type LineRequest struct {
	ProductID string
	Quantity  int
}

// Service: операции над заказами.
type Service struct {
	stores repository.Stores
	policy retry.Policy
	ttl    time.Duration
	now    func() time.Time
}

// Option настраивает Service.
type Option func(*Service)

// WithClock подменяет источник текущего времени.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithTTL задаёт срок оплаты новых заказов.
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) { s.ttl = ttl }
}

// NewService создаёт сервис заказов.
func NewService(stores repository.Stores, policy retry.Policy, opts ...Option) *Service {
	s := &Service{
		stores: stores,
		policy: policy,
		ttl:    domain.OrderTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// In возвращает сервис, работающий внутри единицы работы st.
func (s *Service) In(st repository.Stores) *Service {
	cp := *s
	cp.stores = st
	return &cp
}

// Now возвращает текущее время по часам сервиса.
func (s *Service) Now() time.Time {
	return s.now()
}

// Place создаёт заказ в статусе PENDING. Название и цена товаров
// фиксируются на момент создания.
func (s *Service) Place(ctx context.Context, userID string, lines []LineRequest) (*domain.Order, error) {
	if len(lines) == 0 {
		return nil, domain.ErrEmptyOrder
	}
	if _, err := s.stores.Users().Get(ctx, userID); err != nil {
		return nil, err
	}

	orderLines := make([]domain.OrderLine, 0, len(lines))
	for _, l := range lines {
		if l.Quantity <= 0 {
			return nil, domain.ErrInvalidQuantity
		}
		p, err := s.stores.Products().Get(ctx, l.ProductID)
		if err != nil {
			return nil, err
		}
		orderLines = append(orderLines, domain.OrderLine{
			ProductID:   p.ID,
			ProductName: p.Name,
			UnitPrice:   p.Price,
			Quantity:    l.Quantity,
		})
	}

	draft, err := domain.NewOrderDraft(userID, orderLines, s.now(), s.ttl)
	if err != nil {
		return nil, err
	}

	o, err := s.stores.Orders().Create(ctx, draft)
	if err != nil {
		return nil, err
	}

	logger.Ctx(ctx).Info().
		Str("order_id", o.ID).
		Str("user_id", userID).
		Int64("total_amount", o.TotalAmount).
		Time("expires_at", o.ExpiresAt).
		Msg("Заказ создан")
	return o, nil
}

// Get возвращает заказ пользователя. Чужой заказ: domain.ErrOrderNotFound.
func (s *Service) Get(ctx context.Context, userID, orderID string) (*domain.Order, error) {
	o, err := s.stores.Orders().Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID {
		return nil, domain.ErrOrderNotFound
	}
	return o, nil
}

// List возвращает заказы пользователя, новые первыми.
func (s *Service) List(ctx context.Context, userID string) ([]*domain.Order, error) {
	return s.stores.Orders().ListByUser(ctx, userID)
}

// Cancel отменяет неоплаченный заказ пользователя.
func (s *Service) Cancel(ctx context.Context, userID, orderID string) (*domain.Order, error) {
	o, err := retry.DoValue(ctx, s.policy.Named("order.cancel"), domain.IsRetryable,
		func(ctx context.Context) (*domain.Order, error) {
			var cancelled *domain.Order
			err := repository.Atomically(ctx, s.stores, func(ctx context.Context, st repository.Stores) error {
				o, err := s.In(st).Get(ctx, userID, orderID)
				if err != nil {
					return err
				}
				at := s.now()
				if err := o.Cancel(at); err != nil {
					return err
				}
				if err := st.Orders().Update(ctx, o); err != nil {
					return err
				}

				event, err := outbox.NewEvent(ctx, domain.AggregateOrder, o.ID, domain.EventOrderCancelled,
					kafka.TopicOrderEvents, domain.OrderCancelledEvent{
						OrderID:    o.ID,
						UserID:     o.UserID,
						CanceledAt: at,
					})
				if err != nil {
					return err
				}
				if err := st.Outbox().Create(ctx, event); err != nil {
					return err
				}

				cancelled = o
				return nil
			})
			return cancelled, err
		})
	if err != nil {
		return nil, err
	}

	logger.Ctx(ctx).Info().
		Str("order_id", orderID).
		Str("user_id", userID).
		Msg("Заказ отменён")
	return o, nil
}

// ValidateForPayment проверяет, что userID может оплатить заказ в момент now.
func (s *Service) ValidateForPayment(ctx context.Context, userID, orderID string, now time.Time) (*domain.Order, error) {
	o, err := s.stores.Orders().Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if err := o.CheckPayable(userID, now); err != nil {
		return nil, err
	}
	return o, nil
}

// Confirm переводит заказ в CONFIRMED с итоговой суммой finalAmount.
func (s *Service) Confirm(ctx context.Context, orderID string, finalAmount int64, paidAt time.Time) (*domain.Order, error) {
	return s.transition(ctx, "order.confirm", orderID, func(o *domain.Order) error {
		return o.Confirm(finalAmount, paidAt)
	})
}

// Refund переводит заказ в REFUNDED.
func (s *Service) Refund(ctx context.Context, orderID string, at time.Time) (*domain.Order, error) {
	return s.transition(ctx, "order.refund", orderID, func(o *domain.Order) error {
		return o.Refund(at)
	})
}

// RevertConfirmation возвращает подтверждённый заказ в PENDING.
// Только для отката оплаты на хранилище без транзакций.
func (s *Service) RevertConfirmation(ctx context.Context, orderID string) error {
	_, err := s.transition(ctx, "order.revert", orderID, func(o *domain.Order) error {
		return o.RevertConfirmation(s.now())
	})
	return err
}

// RevertRefund возвращает заказ из REFUNDED в CONFIRMED.
// Только для отката возврата на хранилище без транзакций.
func (s *Service) RevertRefund(ctx context.Context, orderID string) error {
	_, err := s.transition(ctx, "order.revert_refund", orderID, func(o *domain.Order) error {
		return o.RevertRefund(s.now())
	})
	return err
}

// transition перечитывает заказ на каждой попытке и сохраняет его через CAS.
func (s *Service) transition(ctx context.Context, op, orderID string, apply func(o *domain.Order) error) (*domain.Order, error) {
	return retry.DoValue(ctx, s.policy.Named(op), domain.IsRetryable, func(ctx context.Context) (*domain.Order, error) {
		o, err := s.stores.Orders().Get(ctx, orderID)
		if err != nil {
			return nil, err
		}
		if err := apply(o); err != nil {
			return nil, err
		}
		if err := s.stores.Orders().Update(ctx, o); err != nil {
			return nil, err
		}
		return o, nil
	})
}
