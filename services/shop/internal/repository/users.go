package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"example.com/storefront/services/shop/internal/domain"
)

type userStore struct {
	s *Store
}

func (r *userStore) Create(ctx context.Context, d *domain.UserDraft) (*domain.User, error) {
	now := time.Now()
	m := &UserModel{
		ID:           uuid.NewString(),
		Email:        d.Email,
		Name:         d.Name,
		PasswordHash: d.PasswordHash,
		Role:         d.Role,
		Balance:      d.Balance,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := r.s.conn(ctx).Create(m).Error; err != nil {
		if isDuplicateKeyError(err) {
			return nil, domain.ErrEmailExists
		}
		return nil, err
	}
	return m.toDomain(), nil
}

func (r *userStore) Get(ctx context.Context, id string) (*domain.User, error) {
	var m UserModel
	if err := r.s.locking(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, notFound(err, domain.ErrUserNotFound)
	}
	return m.toDomain(), nil
}

func (r *userStore) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	var m UserModel
	if err := r.s.conn(ctx).Where("email = ?", email).First(&m).Error; err != nil {
		return nil, notFound(err, domain.ErrUserNotFound)
	}
	return m.toDomain(), nil
}

func (r *userStore) Update(ctx context.Context, u *domain.User) error {
	now := time.Now()
	res := r.s.conn(ctx).Model(&UserModel{}).
		Where("id = ? AND version = ?", u.ID, u.Version).
		Updates(map[string]any{
			"balance":    u.Balance,
			"version":    u.Version + 1,
			"updated_at": now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return r.s.casFailed(ctx, &UserModel{}, u.ID, domain.ErrUserNotFound)
	}

	u.Version++
	u.UpdatedAt = now
	return nil
}

type balanceStore struct {
	s *Store
}

func (r *balanceStore) Append(ctx context.Context, d *domain.BalanceEntryDraft) (*domain.BalanceEntry, error) {
	m := &BalanceEntryModel{
		ID:           uuid.NewString(),
		UserID:       d.UserID,
		Type:         string(d.Type),
		Amount:       d.Amount,
		BalanceAfter: d.BalanceAfter,
		CreatedAt:    time.Now(),
	}
	if d.OrderID != "" {
		orderID := d.OrderID
		m.OrderID = &orderID
	}
	if err := r.s.conn(ctx).Create(m).Error; err != nil {
		return nil, err
	}
	return m.toDomain(), nil
}

func (r *balanceStore) ListByUser(ctx context.Context, userID string) ([]*domain.BalanceEntry, error) {
	var models []BalanceEntryModel
	if err := r.s.conn(ctx).
		Where("user_id = ?", userID).
		Order("created_at ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}

	entries := make([]*domain.BalanceEntry, len(models))
	for i := range models {
		entries[i] = models[i].toDomain()
	}
	return entries, nil
}

func (r *balanceStore) Discard(ctx context.Context, id string) error {
	return r.s.conn(ctx).Where("id = ?", id).Delete(&BalanceEntryModel{}).Error
}

type discountStore struct {
	s *Store
}

func (r *discountStore) Create(ctx context.Context, d *domain.OrderDiscountDraft) (*domain.OrderDiscount, error) {
	m := &OrderDiscountModel{
		ID:            uuid.NewString(),
		OrderID:       d.OrderID,
		GrantID:       d.GrantID,
		CouponID:      d.CouponID,
		DiscountType:  string(d.DiscountType),
		DiscountValue: d.DiscountValue,
		AppliedAmount: d.AppliedAmount,
		CreatedAt:     time.Now(),
	}
	if err := r.s.conn(ctx).Create(m).Error; err != nil {
		return nil, err
	}
	return m.toDomain(), nil
}

func (r *discountStore) GetByOrder(ctx context.Context, orderID string) (*domain.OrderDiscount, error) {
	var m OrderDiscountModel
	if err := r.s.conn(ctx).Where("order_id = ?", orderID).First(&m).Error; err != nil {
		return nil, notFound(err, domain.ErrNotFound)
	}
	return m.toDomain(), nil
}

func (r *discountStore) Delete(ctx context.Context, id string) error {
	return r.s.conn(ctx).Where("id = ?", id).Delete(&OrderDiscountModel{}).Error
}
