package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"example.com/storefront/services/shop/internal/domain"
)

type orderStore struct {
	s *Store
}

// Create сохраняет заказ с позициями одной транзакцией.
func (r *orderStore) Create(ctx context.Context, d *domain.OrderDraft) (*domain.Order, error) {
	m := &OrderModel{
		ID:          uuid.NewString(),
		UserID:      d.UserID,
		Status:      string(domain.OrderStatusPending),
		TotalAmount: d.TotalAmount,
		ExpiresAt:   d.ExpiresAt,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.CreatedAt,
		Lines:       make([]OrderLineModel, len(d.Lines)),
	}
	for i, l := range d.Lines {
		m.Lines[i] = OrderLineModel{
			ID:          uuid.NewString(),
			OrderID:     m.ID,
			Position:    i,
			ProductID:   l.ProductID,
			ProductName: l.ProductName,
			UnitPrice:   l.UnitPrice,
			Quantity:    l.Quantity,
		}
	}

	if err := r.s.atomically(ctx, func(tx *gorm.DB) error {
		return tx.Create(m).Error
	}); err != nil {
		return nil, err
	}
	return m.toDomain(), nil
}

func (r *orderStore) Get(ctx context.Context, id string) (*domain.Order, error) {
	var m OrderModel
	if err := r.s.locking(ctx).
		Preload("Lines").
		Where("id = ?", id).
		First(&m).Error; err != nil {
		return nil, notFound(err, domain.ErrOrderNotFound)
	}
	return m.toDomain(), nil
}

func (r *orderStore) ListByUser(ctx context.Context, userID string) ([]*domain.Order, error) {
	var models []OrderModel
	if err := r.s.conn(ctx).
		Preload("Lines").
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}

	orders := make([]*domain.Order, len(models))
	for i := range models {
		orders[i] = models[i].toDomain()
	}
	return orders, nil
}

func (r *orderStore) Update(ctx context.Context, o *domain.Order) error {
	updatedAt := o.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	res := r.s.conn(ctx).Model(&OrderModel{}).
		Where("id = ? AND version = ?", o.ID, o.Version).
		Updates(map[string]any{
			"status":       string(o.Status),
			"final_amount": o.FinalAmount,
			"paid_at":      o.PaidAt,
			"canceled_at":  o.CanceledAt,
			"refunded_at":  o.RefundedAt,
			"version":      o.Version + 1,
			"updated_at":   updatedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return r.s.casFailed(ctx, &OrderModel{}, o.ID, domain.ErrOrderNotFound)
	}

	o.Version++
	o.UpdatedAt = updatedAt
	return nil
}
