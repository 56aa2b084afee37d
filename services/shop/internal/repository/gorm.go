package repository

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"example.com/storefront/pkg/outbox"
	"example.com/storefront/services/shop/internal/domain"
)

// Store: MySQL реализация UnitOfWork поверх GORM.
// Внутри Do все хранилища работают на одной транзакции,
// а чтение заказов, товаров и пользователей блокирует строки.
type Store struct {
	db   *gorm.DB
	inTx bool
}

// NewStore создаёт хранилище поверх подключения db.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Orders() OrderStore                  { return &orderStore{s} }
func (s *Store) Products() ProductStore              { return &productStore{s} }
func (s *Store) Coupons() CouponStore                { return &couponStore{s} }
func (s *Store) Grants() GrantStore                  { return &grantStore{s} }
func (s *Store) Users() UserStore                    { return &userStore{s} }
func (s *Store) BalanceHistory() BalanceHistoryStore { return &balanceStore{s} }
func (s *Store) Discounts() OrderDiscountStore       { return &discountStore{s} }
func (s *Store) Outbox() outbox.Repository           { return outbox.NewGormRepository(s.db) }

// Atomic всегда true: ошибка внутри Do откатывает транзакцию.
func (s *Store) Atomic() bool { return true }

// Do открывает транзакцию. Вложенный вызов переиспользует текущую.
func (s *Store) Do(ctx context.Context, fn func(ctx context.Context, st Stores) error) error {
	if s.inTx {
		return fn(ctx, s)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ctx, &Store{db: tx, inTx: true})
	})
}

func (s *Store) conn(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx)
}

// locking добавляет FOR UPDATE, если запрос идёт внутри транзакции.
func (s *Store) locking(ctx context.Context) *gorm.DB {
	q := s.conn(ctx)
	if s.inTx {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return q
}

// atomically выполняет несколько запросов как одно целое.
func (s *Store) atomically(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if s.inTx {
		return fn(s.conn(ctx))
	}
	return s.conn(ctx).Transaction(fn)
}

// casFailed разбирает UPDATE ... WHERE version = ?, не задевший ни одной строки:
// строки нет: notFound, иначе версия устарела.
func (s *Store) casFailed(ctx context.Context, model any, id string, notFound error) error {
	var count int64
	if err := s.conn(ctx).Model(model).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return notFound
	}
	return domain.ErrVersionConflict
}

// notFound переводит gorm.ErrRecordNotFound в доменную ошибку.
func notFound(err, target error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return target
	}
	return err
}

// isDuplicateKeyError проверяет нарушение уникального индекса.
// MySQL возвращает ошибку с кодом 1062.
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	errMsg := err.Error()
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(errMsg, "Duplicate entry") ||
		strings.Contains(errMsg, "1062")
}
