// Package repository описывает хранилища магазина и их MySQL реализацию на GORM.
//
// Каждая запись версионируемой сущности (заказ, товар, купон, пользователь)
// сравнивает Version. При совпадении версия увеличивается и записывается
// обратно в структуру вызывающего, при расхождении: domain.ErrVersionConflict.
package repository

import (
	"context"
	"time"

	"example.com/storefront/pkg/outbox"
	"example.com/storefront/services/shop/internal/domain"
)

// OrderStore: заказы.
type OrderStore interface {
	Create(ctx context.Context, draft *domain.OrderDraft) (*domain.Order, error)

	// Get внутри единицы работы блокирует строку (SELECT ... FOR UPDATE).
	Get(ctx context.Context, id string) (*domain.Order, error)

	// ListByUser возвращает заказы пользователя, новые первыми.
	ListByUser(ctx context.Context, userID string) ([]*domain.Order, error)

	// Update сохраняет статус, суммы и временные метки (CAS по Version).
	Update(ctx context.Context, o *domain.Order) error
}

// ProductStore: каталог и остатки.
type ProductStore interface {
	Create(ctx context.Context, draft *domain.ProductDraft) (*domain.Product, error)
	Get(ctx context.Context, id string) (*domain.Product, error)

	// GetMany возвращает товары в порядке возрастания id.
	// Внутри единицы работы строки блокируются в этом же порядке.
	// Отсутствующий товар: domain.ErrProductNotFound.
	GetMany(ctx context.Context, ids []string) ([]*domain.Product, error)

	List(ctx context.Context) ([]*domain.Product, error)

	// Update сохраняет остаток (CAS по Version).
	Update(ctx context.Context, p *domain.Product) error
}

// CouponStore: купоны.
type CouponStore interface {
	// Create создаёт купон. Занятый код: domain.ErrCouponCodeExists.
	Create(ctx context.Context, draft *domain.CouponDraft) (*domain.Coupon, error)
	Get(ctx context.Context, id string) (*domain.Coupon, error)
	GetByCode(ctx context.Context, code string) (*domain.Coupon, error)
	List(ctx context.Context) ([]*domain.Coupon, error)

	// Issue атомарно увеличивает IssuedQuantity (CAS по Version, не выше
	// TotalQuantity) и создаёт выдачу для userID.
	// Повторная выдача той же пары: domain.ErrAlreadyIssued.
	Issue(ctx context.Context, c *domain.Coupon, userID string, at time.Time) (*domain.CouponGrant, error)
}

// GrantStore: выданные пользователям купоны.
type GrantStore interface {
	Get(ctx context.Context, id string) (*domain.CouponGrant, error)

	// Find ищет выдачу пары (userID, couponID).
	Find(ctx context.Context, userID, couponID string) (*domain.CouponGrant, error)
	ListByUser(ctx context.Context, userID string) ([]*domain.CouponGrant, error)

	// MarkUsed переводит used false -> true. Уже погашенный: domain.ErrCouponAlreadyUsed.
	MarkUsed(ctx context.Context, id string, at time.Time) (*domain.CouponGrant, error)

	// Release снимает отметку об использовании.
	Release(ctx context.Context, id string) error
}

// UserStore: пользователи и их балансы.
type UserStore interface {
	// Create создаёт пользователя. Занятый email: domain.ErrEmailExists.
	Create(ctx context.Context, draft *domain.UserDraft) (*domain.User, error)
	Get(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)

	// Update сохраняет баланс (CAS по Version).
	Update(ctx context.Context, u *domain.User) error
}

// BalanceHistoryStore: история баланса.
type BalanceHistoryStore interface {
	Append(ctx context.Context, draft *domain.BalanceEntryDraft) (*domain.BalanceEntry, error)

	// ListByUser возвращает записи в порядке добавления.
	ListByUser(ctx context.Context, userID string) ([]*domain.BalanceEntry, error)

	// Discard удаляет запись незавершённой оплаты при откате на хранилище без транзакций.
	Discard(ctx context.Context, id string) error
}

// OrderDiscountStore: скидки, применённые к заказам.
type OrderDiscountStore interface {
	Create(ctx context.Context, draft *domain.OrderDiscountDraft) (*domain.OrderDiscount, error)
	GetByOrder(ctx context.Context, orderID string) (*domain.OrderDiscount, error)
	Delete(ctx context.Context, id string) error
}

// Stores: набор хранилищ, работающих на одном соединении или транзакции.
type Stores interface {
	Orders() OrderStore
	Products() ProductStore
	Coupons() CouponStore
	Grants() GrantStore
	Users() UserStore
	BalanceHistory() BalanceHistoryStore
	Discounts() OrderDiscountStore
	Outbox() outbox.Repository

	// Atomic сообщает, откатываются ли изменения внутри Do при ошибке.
	// Если false, вызывающий сам компенсирует выполненные шаги.
	Atomic() bool
}

// UnitOfWork выполняет fn над хранилищами одной единицы работы.
// При Atomic() == true ошибка fn откатывает все изменения.
type UnitOfWork interface {
	Stores
	Do(ctx context.Context, fn func(ctx context.Context, s Stores) error) error
}

// Atomically выполняет fn одной транзакцией, если хранилище это умеет.
// Иначе fn вызывается напрямую, и каждая её операция атомарна по отдельности.
func Atomically(ctx context.Context, st Stores, fn func(ctx context.Context, s Stores) error) error {
	if uow, ok := st.(UnitOfWork); ok && st.Atomic() {
		return uow.Do(ctx, fn)
	}
	return fn(ctx, st)
}
