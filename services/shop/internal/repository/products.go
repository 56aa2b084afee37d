package repository

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"example.com/storefront/services/shop/internal/domain"
)

type productStore struct {
	s *Store
}

func (r *productStore) Create(ctx context.Context, d *domain.ProductDraft) (*domain.Product, error) {
	now := time.Now()
	m := &ProductModel{
		ID:        uuid.NewString(),
		Name:      d.Name,
		Price:     d.Price,
		Stock:     d.Stock,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.s.conn(ctx).Create(m).Error; err != nil {
		return nil, err
	}
	return m.toDomain(), nil
}

func (r *productStore) Get(ctx context.Context, id string) (*domain.Product, error) {
	var m ProductModel
	if err := r.s.locking(ctx).Where("id = ?", id).First(&m).Error; err != nil {
		return nil, notFound(err, domain.ErrProductNotFound)
	}
	return m.toDomain(), nil
}

// GetMany читает товары одним запросом с ORDER BY id, поэтому InnoDB
// ставит блокировки строк в порядке возрастания id.
func (r *productStore) GetMany(ctx context.Context, ids []string) ([]*domain.Product, error) {
	ids = uniqueSorted(ids)
	if len(ids) == 0 {
		return nil, nil
	}

	var models []ProductModel
	if err := r.s.locking(ctx).
		Where("id IN ?", ids).
		Order("id ASC").
		Find(&models).Error; err != nil {
		return nil, err
	}

	if len(models) != len(ids) {
		found := make(map[string]bool, len(models))
		for _, m := range models {
			found[m.ID] = true
		}
		for _, id := range ids {
			if !found[id] {
				return nil, fmt.Errorf("%w: %s", domain.ErrProductNotFound, id)
			}
		}
	}

	products := make([]*domain.Product, len(models))
	for i := range models {
		products[i] = models[i].toDomain()
	}
	return products, nil
}

func (r *productStore) List(ctx context.Context) ([]*domain.Product, error) {
	var models []ProductModel
	if err := r.s.conn(ctx).Order("name ASC").Find(&models).Error; err != nil {
		return nil, err
	}

	products := make([]*domain.Product, len(models))
	for i := range models {
		products[i] = models[i].toDomain()
	}
	return products, nil
}

func (r *productStore) Update(ctx context.Context, p *domain.Product) error {
	now := time.Now()
	res := r.s.conn(ctx).Model(&ProductModel{}).
		Where("id = ? AND version = ?", p.ID, p.Version).
		Updates(map[string]any{
			"stock":      p.Stock,
			"version":    p.Version + 1,
			"updated_at": now,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return r.s.casFailed(ctx, &ProductModel{}, p.ID, domain.ErrProductNotFound)
	}

	p.Version++
	p.UpdatedAt = now
	return nil
}

func uniqueSorted(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
