package repository

import (
	"time"

	"gorm.io/gorm"

	"example.com/storefront/pkg/outbox"
	"example.com/storefront/services/shop/internal/domain"
)

// OrderModel: GORM модель таблицы orders.
type OrderModel struct {
	ID          string           `gorm:"column:id;type:varchar(36);primaryKey"`
	UserID      string           `gorm:"column:user_id;type:varchar(36);not null;index"`
	Status      string           `gorm:"column:status;type:varchar(20);not null"`
	TotalAmount int64            `gorm:"column:total_amount;not null"`
	FinalAmount int64            `gorm:"column:final_amount;not null;default:0"`
	ExpiresAt   time.Time        `gorm:"column:expires_at;not null"`
	PaidAt      *time.Time       `gorm:"column:paid_at"`
	CanceledAt  *time.Time       `gorm:"column:canceled_at"`
	RefundedAt  *time.Time       `gorm:"column:refunded_at"`
	Version     int64            `gorm:"column:version;not null;default:0"`
	CreatedAt   time.Time        `gorm:"column:created_at"`
	UpdatedAt   time.Time        `gorm:"column:updated_at"`
	Lines       []OrderLineModel `gorm:"foreignKey:OrderID;references:ID"`
}

// TableName возвращает имя таблицы в БД.
func (OrderModel) TableName() string {
	return "orders"
}

// OrderLineModel: GORM модель таблицы order_lines.
type OrderLineModel struct {
	ID          string `gorm:"column:id;type:varchar(36);primaryKey"`
	OrderID     string `gorm:"column:order_id;type:varchar(36);not null;index"`
	Position    int    `gorm:"column:position;not null"`
	ProductID   string `gorm:"column:product_id;type:varchar(36);not null"`
	ProductName string `gorm:"column:product_name;type:varchar(255);not null"`
	UnitPrice   int64  `gorm:"column:unit_price;not null"`
	Quantity    int    `gorm:"column:quantity;not null"`
}

// TableName возвращает имя таблицы в БД.
func (OrderLineModel) TableName() string {
	return "order_lines"
}

func (m *OrderModel) toDomain() *domain.Order {
	o := &domain.Order{
		ID:          m.ID,
		UserID:      m.UserID,
		Status:      domain.OrderStatus(m.Status),
		TotalAmount: m.TotalAmount,
		FinalAmount: m.FinalAmount,
		ExpiresAt:   m.ExpiresAt,
		PaidAt:      m.PaidAt,
		CanceledAt:  m.CanceledAt,
		RefundedAt:  m.RefundedAt,
		Version:     m.Version,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
		Lines:       make([]domain.OrderLine, len(m.Lines)),
	}
	for _, l := range m.Lines {
		if l.Position >= 0 && l.Position < len(o.Lines) {
			o.Lines[l.Position] = domain.OrderLine{
				ProductID:   l.ProductID,
				ProductName: l.ProductName,
				UnitPrice:   l.UnitPrice,
				Quantity:    l.Quantity,
			}
		}
	}
	return o
}

// ProductModel: GORM модель таблицы products.
type ProductModel struct {
	ID        string    `gorm:"column:id;type:varchar(36);primaryKey"`
	Name      string    `gorm:"column:name;type:varchar(255);not null"`
	Price     int64     `gorm:"column:price;not null"`
	Stock     int       `gorm:"column:stock;not null"`
	Version   int64     `gorm:"column:version;not null;default:0"`
	CreatedAt time.Time `gorm:"column:created_at"`
	UpdatedAt time.Time `gorm:"column:updated_at"`
}

// TableName возвращает имя таблицы в БД.
func (ProductModel) TableName() string {
	return "products"
}

func (m *ProductModel) toDomain() *domain.Product {
	return &domain.Product{
		ID:        m.ID,
		Name:      m.Name,
		Price:     m.Price,
		Stock:     m.Stock,
		Version:   m.Version,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}

// CouponModel: GORM модель таблицы coupons.
type CouponModel struct {
	ID             string    `gorm:"column:id;type:varchar(36);primaryKey"`
	Code           string    `gorm:"column:code;type:varchar(64);not null;uniqueIndex"`
	Name           string    `gorm:"column:name;type:varchar(255);not null"`
	DiscountType   string    `gorm:"column:discount_type;type:varchar(16);not null"`
	DiscountValue  int64     `gorm:"column:discount_value;not null"`
	TotalQuantity  int       `gorm:"column:total_quantity;not null"`
	IssuedQuantity int       `gorm:"column:issued_quantity;not null;default:0"`
	IssueStart     time.Time `gorm:"column:issue_start;not null"`
	IssueEnd       time.Time `gorm:"column:issue_end;not null"`
	UseStart       time.Time `gorm:"column:use_start;not null"`
	UseEnd         time.Time `gorm:"column:use_end;not null"`
	Version        int64     `gorm:"column:version;not null;default:0"`
	CreatedAt      time.Time `gorm:"column:created_at"`
}

// TableName возвращает имя таблицы в БД.
func (CouponModel) TableName() string {
	return "coupons"
}

func (m *CouponModel) toDomain() *domain.Coupon {
	return &domain.Coupon{
		ID:             m.ID,
		Code:           m.Code,
		Name:           m.Name,
		DiscountType:   domain.DiscountType(m.DiscountType),
		DiscountValue:  m.DiscountValue,
		TotalQuantity:  m.TotalQuantity,
		IssuedQuantity: m.IssuedQuantity,
		IssueWindow:    domain.Window{Start: m.IssueStart, End: m.IssueEnd},
		UseWindow:      domain.Window{Start: m.UseStart, End: m.UseEnd},
		Version:        m.Version,
		CreatedAt:      m.CreatedAt,
	}
}

// CouponGrantModel: GORM модель таблицы coupon_grants.
// Уникальный индекс (user_id, coupon_id) не даёт выдать купон дважды.
type CouponGrantModel struct {
	ID       string     `gorm:"column:id;type:varchar(36);primaryKey"`
	UserID   string     `gorm:"column:user_id;type:varchar(36);not null;uniqueIndex:uq_grant_user_coupon"`
	CouponID string     `gorm:"column:coupon_id;type:varchar(36);not null;uniqueIndex:uq_grant_user_coupon"`
	Used     bool       `gorm:"column:used;not null;default:false"`
	UsedAt   *time.Time `gorm:"column:used_at"`
	IssuedAt time.Time  `gorm:"column:issued_at;not null"`
}

// TableName возвращает имя таблицы в БД.
func (CouponGrantModel) TableName() string {
	return "coupon_grants"
}

func (m *CouponGrantModel) toDomain() *domain.CouponGrant {
	return &domain.CouponGrant{
		ID:       m.ID,
		UserID:   m.UserID,
		CouponID: m.CouponID,
		Used:     m.Used,
		UsedAt:   m.UsedAt,
		IssuedAt: m.IssuedAt,
	}
}

// UserModel: GORM модель таблицы users.
type UserModel struct {
	ID           string    `gorm:"column:id;type:varchar(36);primaryKey"`
	Email        string    `gorm:"column:email;type:varchar(255);not null;uniqueIndex"`
	Name         string    `gorm:"column:name;type:varchar(255);not null"`
	PasswordHash string    `gorm:"column:password_hash;type:varchar(255);not null"`
	Role         string    `gorm:"column:role;type:varchar(16);not null"`
	Balance      int64     `gorm:"column:balance;not null;default:0"`
	Version      int64     `gorm:"column:version;not null;default:0"`
	CreatedAt    time.Time `gorm:"column:created_at"`
	UpdatedAt    time.Time `gorm:"column:updated_at"`
}

// TableName возвращает имя таблицы в БД.
func (UserModel) TableName() string {
	return "users"
}

func (m *UserModel) toDomain() *domain.User {
	return &domain.User{
		ID:           m.ID,
		Email:        m.Email,
		Name:         m.Name,
		PasswordHash: m.PasswordHash,
		Role:         m.Role,
		Balance:      m.Balance,
		Version:      m.Version,
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

// BalanceEntryModel: GORM модель таблицы balance_entries.
type BalanceEntryModel struct {
	ID           string    `gorm:"column:id;type:varchar(36);primaryKey"`
	UserID       string    `gorm:"column:user_id;type:varchar(36);not null;index"`
	Type         string    `gorm:"column:type;type:varchar(16);not null"`
	Amount       int64     `gorm:"column:amount;not null"`
	BalanceAfter int64     `gorm:"column:balance_after;not null"`
	OrderID      *string   `gorm:"column:order_id;type:varchar(36);index"`
	CreatedAt    time.Time `gorm:"column:created_at;type:datetime(6);index"`
}

// TableName возвращает имя таблицы в БД.
func (BalanceEntryModel) TableName() string {
	return "balance_entries"
}

func (m *BalanceEntryModel) toDomain() *domain.BalanceEntry {
	e := &domain.BalanceEntry{
		ID:           m.ID,
		UserID:       m.UserID,
		Type:         domain.EntryType(m.Type),
		Amount:       m.Amount,
		BalanceAfter: m.BalanceAfter,
		CreatedAt:    m.CreatedAt,
	}
	if m.OrderID != nil {
		e.OrderID = *m.OrderID
	}
	return e
}

// OrderDiscountModel: GORM модель таблицы order_discounts.
type OrderDiscountModel struct {
	ID            string    `gorm:"column:id;type:varchar(36);primaryKey"`
	OrderID       string    `gorm:"column:order_id;type:varchar(36);not null;uniqueIndex"`
	GrantID       string    `gorm:"column:grant_id;type:varchar(36);not null"`
	CouponID      string    `gorm:"column:coupon_id;type:varchar(36);not null"`
	DiscountType  string    `gorm:"column:discount_type;type:varchar(16);not null"`
	DiscountValue int64     `gorm:"column:discount_value;not null"`
	AppliedAmount int64     `gorm:"column:applied_amount;not null"`
	CreatedAt     time.Time `gorm:"column:created_at"`
}

// TableName возвращает имя таблицы в БД.
func (OrderDiscountModel) TableName() string {
	return "order_discounts"
}

func (m *OrderDiscountModel) toDomain() *domain.OrderDiscount {
	return &domain.OrderDiscount{
		ID:            m.ID,
		OrderID:       m.OrderID,
		GrantID:       m.GrantID,
		CouponID:      m.CouponID,
		DiscountType:  domain.DiscountType(m.DiscountType),
		DiscountValue: m.DiscountValue,
		AppliedAmount: m.AppliedAmount,
		CreatedAt:     m.CreatedAt,
	}
}

// Migrate создаёт и обновляет таблицы магазина, включая outbox.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&UserModel{},
		&ProductModel{},
		&OrderModel{},
		&OrderLineModel{},
		&CouponModel{},
		&CouponGrantModel{},
		&BalanceEntryModel{},
		&OrderDiscountModel{},
		&outbox.EventModel{},
	)
}
