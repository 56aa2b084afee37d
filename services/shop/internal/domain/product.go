package domain

import (
	"sort"
	"strings"
	"time"
)

// Product: товар каталога. Остаток меняется только через складской учёт.
type Product struct {
	ID        string
	Name      string
	Price     int64
	Stock     int
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ProductDraft: товар до сохранения.
type ProductDraft struct {
	Name  string
	Price int64
	Stock int
}

// Validate проверяет черновик товара.
func (d ProductDraft) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return kind(ErrInvalidInput, "название товара не может быть пустым")
	}
	if d.Price <= 0 {
		return ErrInvalidPrice
	}
	if d.Stock < 0 {
		return ErrInvalidQuantity
	}
	return nil
}

// Decrease списывает qty единиц. Остаток не уходит в минус.
func (p *Product) Decrease(qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	if p.Stock < qty {
		return ErrOutOfStock
	}
	p.Stock -= qty
	return nil
}

// Increase возвращает qty единиц на склад.
func (p *Product) Increase(qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	p.Stock += qty
	return nil
}

// StockAdjustment: изменение остатка одного товара.
type StockAdjustment struct {
	ProductID string
	Quantity  int
}

// NormalizeAdjustments объединяет повторяющиеся товары и сортирует по id по возрастанию.
// Все участники пакетного списания берут товары в этом порядке, поэтому
// два заказа с общими товарами не ждут друг друга по кругу.
func NormalizeAdjustments(adj []StockAdjustment) ([]StockAdjustment, error) {
	if len(adj) == 0 {
		return nil, ErrEmptyOrder
	}

	merged := make(map[string]int, len(adj))
	for _, a := range adj {
		if a.Quantity <= 0 {
			return nil, ErrInvalidQuantity
		}
		merged[a.ProductID] += a.Quantity
	}

	out := make([]StockAdjustment, 0, len(merged))
	for id, qty := range merged {
		out = append(out, StockAdjustment{ProductID: id, Quantity: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out, nil
}
