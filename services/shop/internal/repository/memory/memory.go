// Package memory: хранилище магазина в памяти процесса.
//
// Каждая операция атомарна под одним мьютексом, наружу отдаются копии.
// Транзакций нет: Atomic() == false, и откат незавершённой оплаты
// выполняют компенсации вызывающего.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"example.com/storefront/pkg/outbox"
	"example.com/storefront/services/shop/internal/domain"
	"example.com/storefront/services/shop/internal/repository"
)

// Store: in-memory реализация repository.UnitOfWork.
type Store struct {
	mu sync.Mutex

	orders    map[string]*domain.Order
	products  map[string]*domain.Product
	coupons   map[string]*domain.Coupon
	grants    map[string]*domain.CouponGrant
	users     map[string]*domain.User
	entries   []*domain.BalanceEntry
	discounts map[string]*domain.OrderDiscount

	outbox *outbox.MemoryRepository
}

var _ repository.UnitOfWork = (*Store)(nil)

// New создаёт пустое хранилище.
func New() *Store {
	return &Store{
		orders:    make(map[string]*domain.Order),
		products:  make(map[string]*domain.Product),
		coupons:   make(map[string]*domain.Coupon),
		grants:    make(map[string]*domain.CouponGrant),
		users:     make(map[string]*domain.User),
		discounts: make(map[string]*domain.OrderDiscount),
		outbox:    outbox.NewMemoryRepository(),
	}
}

func (s *Store) Orders() repository.OrderStore                  { return orderStore{s} }
func (s *Store) Products() repository.ProductStore              { return productStore{s} }
func (s *Store) Coupons() repository.CouponStore                { return couponStore{s} }
func (s *Store) Grants() repository.GrantStore                  { return grantStore{s} }
func (s *Store) Users() repository.UserStore                    { return userStore{s} }
func (s *Store) BalanceHistory() repository.BalanceHistoryStore { return balanceStore{s} }
func (s *Store) Discounts() repository.OrderDiscountStore       { return discountStore{s} }
func (s *Store) Outbox() outbox.Repository                      { return s.outbox }

// OutboxEvents возвращает записанные события типа eventType.
func (s *Store) OutboxEvents(eventType string) []*outbox.Event {
	return s.outbox.Events(eventType)
}

func (s *Store) Atomic() bool { return false }

// Do просто вызывает fn: изменения применяются сразу.
func (s *Store) Do(ctx context.Context, fn func(ctx context.Context, st repository.Stores) error) error {
	return fn(ctx, s)
}

// ============================================================
// Заказы
// ============================================================

type orderStore struct{ s *Store }

func (r orderStore) Create(_ context.Context, d *domain.OrderDraft) (*domain.Order, error) {
	o := &domain.Order{
		ID:          uuid.NewString(),
		UserID:      d.UserID,
		Status:      domain.OrderStatusPending,
		Lines:       append([]domain.OrderLine(nil), d.Lines...),
		TotalAmount: d.TotalAmount,
		ExpiresAt:   d.ExpiresAt,
		CreatedAt:   d.CreatedAt,
		UpdatedAt:   d.CreatedAt,
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.orders[o.ID] = o
	return o.Clone(), nil
}

func (r orderStore) Get(_ context.Context, id string) (*domain.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	o, ok := r.s.orders[id]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return o.Clone(), nil
}

func (r orderStore) ListByUser(_ context.Context, userID string) ([]*domain.Order, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*domain.Order
	for _, o := range r.s.orders {
		if o.UserID == userID {
			out = append(out, o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r orderStore) Update(_ context.Context, o *domain.Order) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	cur, ok := r.s.orders[o.ID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if cur.Version != o.Version {
		return domain.ErrVersionConflict
	}

	o.Version++
	if o.UpdatedAt.IsZero() {
		o.UpdatedAt = time.Now()
	}
	r.s.orders[o.ID] = o.Clone()
	return nil
}

// ============================================================
// Товары
// ============================================================

type productStore struct{ s *Store }

func (r productStore) Create(_ context.Context, d *domain.ProductDraft) (*domain.Product, error) {
	now := time.Now()
	p := &domain.Product{
		ID:        uuid.NewString(),
		Name:      d.Name,
		Price:     d.Price,
		Stock:     d.Stock,
		CreatedAt: now,
		UpdatedAt: now,
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.products[p.ID] = p
	cp := *p
	return &cp, nil
}

func (r productStore) Get(_ context.Context, id string) (*domain.Product, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	p, ok := r.s.products[id]
	if !ok {
		return nil, domain.ErrProductNotFound
	}
	cp := *p
	return &cp, nil
}

func (r productStore) GetMany(_ context.Context, ids []string) ([]*domain.Product, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	sorted := append([]string(nil), ids...)
	sort.Strings(sorted)

	out := make([]*domain.Product, 0, len(sorted))
	for i, id := range sorted {
		if i > 0 && sorted[i-1] == id {
			continue
		}
		p, ok := r.s.products[id]
		if !ok {
			return nil, fmt.Errorf("%w: %s", domain.ErrProductNotFound, id)
		}
		cp := *p
		out = append(out, &cp)
	}
	return out, nil
}

func (r productStore) List(_ context.Context) ([]*domain.Product, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	out := make([]*domain.Product, 0, len(r.s.products))
	for _, p := range r.s.products {
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r productStore) Update(_ context.Context, p *domain.Product) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	cur, ok := r.s.products[p.ID]
	if !ok {
		return domain.ErrProductNotFound
	}
	if cur.Version != p.Version {
		return domain.ErrVersionConflict
	}

	p.Version++
	p.UpdatedAt = time.Now()
	cp := *p
	r.s.products[p.ID] = &cp
	return nil
}

// ============================================================
// Купоны и выдачи
// ============================================================

type couponStore struct{ s *Store }

func (r couponStore) Create(_ context.Context, d *domain.CouponDraft) (*domain.Coupon, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, c := range r.s.coupons {
		if c.Code == d.Code {
			return nil, domain.ErrCouponCodeExists
		}
	}

	c := &domain.Coupon{
		ID:            uuid.NewString(),
		Code:          d.Code,
		Name:          d.Name,
		DiscountType:  d.DiscountType,
		DiscountValue: d.DiscountValue,
		TotalQuantity: d.TotalQuantity,
		IssueWindow:   d.IssueWindow,
		UseWindow:     d.UseWindow,
		CreatedAt:     time.Now(),
	}
	r.s.coupons[c.ID] = c
	cp := *c
	return &cp, nil
}

func (r couponStore) Get(_ context.Context, id string) (*domain.Coupon, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c, ok := r.s.coupons[id]
	if !ok {
		return nil, domain.ErrCouponNotFound
	}
	cp := *c
	return &cp, nil
}

func (r couponStore) GetByCode(_ context.Context, code string) (*domain.Coupon, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, c := range r.s.coupons {
		if c.Code == code {
			cp := *c
			return &cp, nil
		}
	}
	return nil, domain.ErrCouponNotFound
}

func (r couponStore) List(_ context.Context) ([]*domain.Coupon, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	out := make([]*domain.Coupon, 0, len(r.s.coupons))
	for _, c := range r.s.coupons {
		cp := *c
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// Issue проверяет версию, остаток и уникальность пары под одним мьютексом.
func (r couponStore) Issue(_ context.Context, c *domain.Coupon, userID string, at time.Time) (*domain.CouponGrant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	cur, ok := r.s.coupons[c.ID]
	if !ok {
		return nil, domain.ErrCouponNotFound
	}
	if cur.Version != c.Version || cur.IssuedQuantity >= cur.TotalQuantity {
		return nil, domain.ErrVersionConflict
	}
	for _, g := range r.s.grants {
		if g.UserID == userID && g.CouponID == c.ID {
			return nil, domain.ErrAlreadyIssued
		}
	}

	cur.IssuedQuantity++
	cur.Version++
	c.IssuedQuantity = cur.IssuedQuantity
	c.Version = cur.Version

	g := &domain.CouponGrant{
		ID:       uuid.NewString(),
		UserID:   userID,
		CouponID: c.ID,
		IssuedAt: at,
	}
	r.s.grants[g.ID] = g
	cp := *g
	return &cp, nil
}

type grantStore struct{ s *Store }

func copyGrant(g *domain.CouponGrant) *domain.CouponGrant {
	cp := *g
	if g.UsedAt != nil {
		at := *g.UsedAt
		cp.UsedAt = &at
	}
	return &cp
}

func (r grantStore) Get(_ context.Context, id string) (*domain.CouponGrant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	g, ok := r.s.grants[id]
	if !ok {
		return nil, domain.ErrGrantNotFound
	}
	return copyGrant(g), nil
}

func (r grantStore) Find(_ context.Context, userID, couponID string) (*domain.CouponGrant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, g := range r.s.grants {
		if g.UserID == userID && g.CouponID == couponID {
			return copyGrant(g), nil
		}
	}
	return nil, domain.ErrGrantNotFound
}

func (r grantStore) ListByUser(_ context.Context, userID string) ([]*domain.CouponGrant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*domain.CouponGrant
	for _, g := range r.s.grants {
		if g.UserID == userID {
			out = append(out, copyGrant(g))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IssuedAt.After(out[j].IssuedAt) })
	return out, nil
}

func (r grantStore) MarkUsed(_ context.Context, id string, at time.Time) (*domain.CouponGrant, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	g, ok := r.s.grants[id]
	if !ok {
		return nil, domain.ErrGrantNotFound
	}
	if err := g.MarkUsed(at); err != nil {
		return nil, err
	}
	return copyGrant(g), nil
}

func (r grantStore) Release(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	g, ok := r.s.grants[id]
	if !ok {
		return domain.ErrGrantNotFound
	}
	g.Release()
	return nil
}

// ============================================================
// Пользователи и история баланса
// ============================================================

type userStore struct{ s *Store }

func (r userStore) Create(_ context.Context, d *domain.UserDraft) (*domain.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, u := range r.s.users {
		if u.Email == d.Email {
			return nil, domain.ErrEmailExists
		}
	}

	now := time.Now()
	u := &domain.User{
		ID:           uuid.NewString(),
		Email:        d.Email,
		Name:         d.Name,
		PasswordHash: d.PasswordHash,
		Role:         d.Role,
		Balance:      d.Balance,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	r.s.users[u.ID] = u
	cp := *u
	return &cp, nil
}

func (r userStore) Get(_ context.Context, id string) (*domain.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	u, ok := r.s.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (r userStore) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, u := range r.s.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, domain.ErrUserNotFound
}

func (r userStore) Update(_ context.Context, u *domain.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	cur, ok := r.s.users[u.ID]
	if !ok {
		return domain.ErrUserNotFound
	}
	if cur.Version != u.Version {
		return domain.ErrVersionConflict
	}

	u.Version++
	u.UpdatedAt = time.Now()
	cp := *u
	r.s.users[u.ID] = &cp
	return nil
}

type balanceStore struct{ s *Store }

func (r balanceStore) Append(_ context.Context, d *domain.BalanceEntryDraft) (*domain.BalanceEntry, error) {
	e := &domain.BalanceEntry{
		ID:           uuid.NewString(),
		UserID:       d.UserID,
		Type:         d.Type,
		Amount:       d.Amount,
		BalanceAfter: d.BalanceAfter,
		OrderID:      d.OrderID,
		CreatedAt:    time.Now(),
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.entries = append(r.s.entries, e)
	cp := *e
	return &cp, nil
}

func (r balanceStore) ListByUser(_ context.Context, userID string) ([]*domain.BalanceEntry, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*domain.BalanceEntry
	for _, e := range r.s.entries {
		if e.UserID == userID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r balanceStore) Discard(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for i, e := range r.s.entries {
		if e.ID == id {
			r.s.entries = append(r.s.entries[:i], r.s.entries[i+1:]...)
			return nil
		}
	}
	return nil
}

// ============================================================
// Скидки заказов
// ============================================================

type discountStore struct{ s *Store }

func (r discountStore) Create(_ context.Context, d *domain.OrderDiscountDraft) (*domain.OrderDiscount, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, od := range r.s.discounts {
		if od.OrderID == d.OrderID {
			return nil, fmt.Errorf("скидка для заказа %s уже записана", d.OrderID)
		}
	}

	od := &domain.OrderDiscount{
		ID:            uuid.NewString(),
		OrderID:       d.OrderID,
		GrantID:       d.GrantID,
		CouponID:      d.CouponID,
		DiscountType:  d.DiscountType,
		DiscountValue: d.DiscountValue,
		AppliedAmount: d.AppliedAmount,
		CreatedAt:     time.Now(),
	}
	r.s.discounts[od.ID] = od
	cp := *od
	return &cp, nil
}

func (r discountStore) GetByOrder(_ context.Context, orderID string) (*domain.OrderDiscount, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, od := range r.s.discounts {
		if od.OrderID == orderID {
			cp := *od
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r discountStore) Delete(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	delete(r.s.discounts, id)
	return nil
}
