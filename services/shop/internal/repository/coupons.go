package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"example.com/storefront/services/shop/internal/domain"
)

type couponStore struct {
	s *Store
}

func (r *couponStore) Create(ctx context.Context, d *domain.CouponDraft) (*domain.Coupon, error) {
	m := &CouponModel{
		ID:            uuid.NewString(),
		Code:          d.Code,
		Name:          d.Name,
		DiscountType:  string(d.DiscountType),
		DiscountValue: d.DiscountValue,
		TotalQuantity: d.TotalQuantity,
		IssueStart:    d.IssueWindow.Start,
		IssueEnd:      d.IssueWindow.End,
		UseStart:      d.UseWindow.Start,
		UseEnd:        d.UseWindow.End,
		CreatedAt:     time.Now(),
	}
	if err := r.s.conn(ctx).Create(m).Error; err != nil {
		if isDuplicateKeyError(err) {
			return nil, domain.ErrCouponCodeExists
		}
		return nil, err
	}
	return m.toDomain(), nil
}

func (r *couponStore) Get(ctx context.Context, id string) (*domain.Coupon, error) {
	var m CouponModel
	if err := r.s.conn(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, notFound(err, domain.ErrCouponNotFound)
	}
	return m.toDomain(), nil
}

func (r *couponStore) GetByCode(ctx context.Context, code string) (*domain.Coupon, error) {
	var m CouponModel
	if err := r.s.conn(ctx).Where("code = ?", code).First(&m).Error; err != nil {
		return nil, notFound(err, domain.ErrCouponNotFound)
	}
	return m.toDomain(), nil
}

func (r *couponStore) List(ctx context.Context) ([]*domain.Coupon, error) {
	var models []CouponModel
	if err := r.s.conn(ctx).Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}

	coupons := make([]*domain.Coupon, len(models))
	for i := range models {
		coupons[i] = models[i].toDomain()
	}
	return coupons, nil
}

// Issue: compare-and-increment тиража плюс вставка выдачи в одной транзакции.
// Условие issued_quantity < total_quantity проверяется самой БД.
func (r *couponStore) Issue(ctx context.Context, c *domain.Coupon, userID string, at time.Time) (*domain.CouponGrant, error) {
	grant := &CouponGrantModel{
		ID:       uuid.NewString(),
		UserID:   userID,
		CouponID: c.ID,
		IssuedAt: at,
	}

	err := r.s.atomically(ctx, func(tx *gorm.DB) error {
		res := tx.Model(&CouponModel{}).
			Where("id = ? AND version = ? AND issued_quantity < total_quantity", c.ID, c.Version).
			Updates(map[string]any{
				"issued_quantity": gorm.Expr("issued_quantity + 1"),
				"version":         c.Version + 1,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return domain.ErrVersionConflict
		}

		if err := tx.Create(grant).Error; err != nil {
			if isDuplicateKeyError(err) {
				return domain.ErrAlreadyIssued
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	c.IssuedQuantity++
	c.Version++
	return grant.toDomain(), nil
}

type grantStore struct {
	s *Store
}

func (r *grantStore) Get(ctx context.Context, id string) (*domain.CouponGrant, error) {
	var m CouponGrantModel
	if err := r.s.conn(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, notFound(err, domain.ErrGrantNotFound)
	}
	return m.toDomain(), nil
}

func (r *grantStore) Find(ctx context.Context, userID, couponID string) (*domain.CouponGrant, error) {
	var m CouponGrantModel
	if err := r.s.conn(ctx).
		Where("user_id = ? AND coupon_id = ?", userID, couponID).
		First(&m).Error; err != nil {
		return nil, notFound(err, domain.ErrGrantNotFound)
	}
	return m.toDomain(), nil
}

func (r *grantStore) ListByUser(ctx context.Context, userID string) ([]*domain.CouponGrant, error) {
	var models []CouponGrantModel
	if err := r.s.conn(ctx).
		Where("user_id = ?", userID).
		Order("issued_at DESC").
		Find(&models).Error; err != nil {
		return nil, err
	}

	grants := make([]*domain.CouponGrant, len(models))
	for i := range models {
		grants[i] = models[i].toDomain()
	}
	return grants, nil
}

// MarkUsed: условный UPDATE used = false -> true.
// Из двух одновременных вызовов строку изменит только один.
func (r *grantStore) MarkUsed(ctx context.Context, id string, at time.Time) (*domain.CouponGrant, error) {
	grant, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := grant.MarkUsed(at); err != nil {
		return nil, err
	}

	res := r.s.conn(ctx).Model(&CouponGrantModel{}).
		Where("id = ? AND used = ?", id, false).
		Updates(map[string]any{"used": true, "used_at": at})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, domain.ErrCouponAlreadyUsed
	}
	return grant, nil
}

func (r *grantStore) Release(ctx context.Context, id string) error {
	return r.s.conn(ctx).Model(&CouponGrantModel{}).
		Where("id = ? AND used = ?", id, true).
		Updates(map[string]any{"used": false, "used_at": nil}).Error
}
