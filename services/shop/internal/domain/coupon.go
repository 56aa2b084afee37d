package domain

import (
	"strings"
	"time"
)

// DiscountType: способ расчёта скидки.
type DiscountType string

const (
	DiscountFixed      DiscountType = "FIXED"
	DiscountPercentage DiscountType = "PERCENTAGE"
)

// Window: период [Start, End], обе границы включены.
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains сообщает, попадает ли t в период.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

// Validate проверяет, что начало не позже окончания.
func (w Window) Validate() error {
	if w.Start.IsZero() || w.End.IsZero() || w.Start.After(w.End) {
		return ErrInvalidWindow
	}
	return nil
}

// Coupon: купонная акция с ограниченным тиражом.
type Coupon struct {
	ID             string
	Code           string
	Name           string
	DiscountType   DiscountType
	DiscountValue  int64
	TotalQuantity  int
	IssuedQuantity int
	IssueWindow    Window
	UseWindow      Window
	Version        int64
	CreatedAt      time.Time
}

// CouponDraft: купон до сохранения.
type CouponDraft struct {
	Code          string
	Name          string
	DiscountType  DiscountType
	DiscountValue int64
	TotalQuantity int
	IssueWindow   Window
	UseWindow     Window
}

// Validate проверяет параметры купона.
func (d CouponDraft) Validate() error {
	if strings.TrimSpace(d.Code) == "" {
		return kind(ErrInvalidInput, "код купона не может быть пустым")
	}
	switch d.DiscountType {
	case DiscountFixed:
		if d.DiscountValue <= 0 {
			return ErrInvalidDiscount
		}
	case DiscountPercentage:
		if d.DiscountValue < 1 || d.DiscountValue > 100 {
			return ErrInvalidDiscount
		}
	default:
		return ErrInvalidDiscount
	}
	if d.TotalQuantity <= 0 {
		return ErrInvalidQuantity
	}
	if err := d.IssueWindow.Validate(); err != nil {
		return err
	}
	return d.UseWindow.Validate()
}

// Remaining возвращает число ещё не выданных купонов.
func (c *Coupon) Remaining() int {
	return c.TotalQuantity - c.IssuedQuantity
}

// DiscountFor считает скидку для суммы заказа.
// Процентная скидка округляется вниз.
func (c *Coupon) DiscountFor(orderAmount int64) int64 {
	switch c.DiscountType {
	case DiscountFixed:
		return c.DiscountValue
	case DiscountPercentage:
		return orderAmount * c.DiscountValue / 100
	default:
		return 0
	}
}

// CouponGrant: купон, выданный пользователю. Пара (UserID, CouponID) уникальна.
type CouponGrant struct {
	ID       string
	UserID   string
	CouponID string
	Used     bool
	UsedAt   *time.Time
	IssuedAt time.Time
}

// MarkUsed гасит купон. Повторный вызов: ошибка.
func (g *CouponGrant) MarkUsed(at time.Time) error {
	if g.Used {
		return ErrCouponAlreadyUsed
	}
	g.Used = true
	g.UsedAt = &at
	return nil
}

// Release возвращает погашенный купон пользователю (компенсация оплаты).
func (g *CouponGrant) Release() {
	g.Used = false
	g.UsedAt = nil
}

// Discount: результат проверки купона при оплате.
// Нулевое значение означает «без скидки».
type Discount struct {
	CouponID string
	GrantID  string
	Code     string
	Type     DiscountType
	Value    int64
	Amount   int64
}

// Applied сообщает, что купон участвует в оплате.
func (d Discount) Applied() bool {
	return d.GrantID != ""
}

// OrderDiscount: запись о применённой к заказу скидке.
type OrderDiscount struct {
	ID            string
	OrderID       string
	GrantID       string
	CouponID      string
	DiscountType  DiscountType
	DiscountValue int64
	AppliedAmount int64
	CreatedAt     time.Time
}

// OrderDiscountDraft: запись о скидке до сохранения.
type OrderDiscountDraft struct {
	OrderID       string
	GrantID       string
	CouponID      string
	DiscountType  DiscountType
	DiscountValue int64
	AppliedAmount int64
}
