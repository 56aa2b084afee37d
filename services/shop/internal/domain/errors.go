// Package domain содержит сущности магазина, правила их изменения и доменные ошибки.
// Пакет не зависит от инфраструктуры (GORM, Redis, Kafka).
package domain

import "errors"

// Виды ошибок. Конкретные ошибки ниже оборачивают один из видов,
// классификация: через errors.Is.
var (
	ErrNotFound             = errors.New("не найдено")
	ErrInvalidInput         = errors.New("некорректные входные данные")
	ErrInvalidOrderState    = errors.New("недопустимый статус заказа")
	ErrOrderExpired         = errors.New("срок оплаты заказа истёк")
	ErrOutOfStock           = errors.New("недостаточно товара на складе")
	ErrSoldOut              = errors.New("купоны закончились")
	ErrAlreadyIssued        = errors.New("купон уже выдан пользователю")
	ErrIssuePeriodExpired   = errors.New("вне периода выдачи купона")
	ErrCouponNotInUsePeriod = errors.New("вне периода использования купона")
	ErrCouponInvalid        = errors.New("купон недействителен")
	ErrCouponAlreadyUsed    = errors.New("купон уже использован")
	ErrInsufficientBalance  = errors.New("недостаточно средств на балансе")

	// ErrVersionConflict: проигранная гонка optimistic locking. Единственная повторяемая ошибка.
	ErrVersionConflict = errors.New("конфликт версий")

	ErrEmailExists        = errors.New("пользователь с таким email уже существует")
	ErrCouponCodeExists   = errors.New("купон с таким кодом уже существует")
	ErrInvalidCredentials = errors.New("неверный email или пароль")
	ErrForbidden          = errors.New("недостаточно прав")
	ErrAccountLocked      = errors.New("слишком много неудачных попыток входа, попробуйте позже")
	ErrLedgerMismatch     = errors.New("история баланса не сходится с балансом")
)

// Конкретные ошибки «не найдено».
var (
	ErrUserNotFound    = kind(ErrNotFound, "пользователь не найден")
	ErrOrderNotFound   = kind(ErrNotFound, "заказ не найден")
	ErrProductNotFound = kind(ErrNotFound, "товар не найден")
	ErrCouponNotFound  = kind(ErrNotFound, "купон не найден")
	ErrGrantNotFound   = kind(ErrNotFound, "купон пользователя не найден")
)

// Конкретные ошибки валидации.
var (
	ErrInvalidAmount   = kind(ErrInvalidInput, "сумма должна быть больше нуля")
	ErrInvalidQuantity = kind(ErrInvalidInput, "количество должно быть больше нуля")
	ErrEmptyOrder      = kind(ErrInvalidInput, "заказ должен содержать хотя бы одну позицию")
	ErrInvalidPrice    = kind(ErrInvalidInput, "цена должна быть больше нуля")
	ErrInvalidDiscount = kind(ErrInvalidInput, "некорректные параметры скидки")
	ErrInvalidWindow   = kind(ErrInvalidInput, "начало периода позже окончания")
	ErrInvalidEmail    = kind(ErrInvalidInput, "некорректный email")
	ErrWeakPassword    = kind(ErrInvalidInput, "пароль должен содержать минимум 8 символов")
)

type kindError struct {
	kind error
	msg  string
}

func kind(k error, msg string) error {
	return &kindError{kind: k, msg: msg}
}

func (e *kindError) Error() string { return e.msg }
func (e *kindError) Unwrap() error { return e.kind }

// TransitionError: попытка перевести заказ из From в To.
type TransitionError struct {
	From OrderStatus
	To   OrderStatus
}

func (e *TransitionError) Error() string {
	return "недопустимый переход заказа " + string(e.From) + " -> " + string(e.To)
}

// Is позволяет errors.Is(err, ErrInvalidOrderState).
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidOrderState
}

// IsRetryable сообщает, имеет ли смысл повторить операцию.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrVersionConflict)
}

// Kind возвращает короткое имя вида ошибки для метрик и логов.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrVersionConflict):
		return "version_conflict"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, ErrInvalidOrderState):
		return "invalid_order_state"
	case errors.Is(err, ErrOrderExpired):
		return "order_expired"
	case errors.Is(err, ErrOutOfStock):
		return "out_of_stock"
	case errors.Is(err, ErrSoldOut):
		return "sold_out"
	case errors.Is(err, ErrAlreadyIssued):
		return "already_issued"
	case errors.Is(err, ErrIssuePeriodExpired):
		return "issue_period_expired"
	case errors.Is(err, ErrCouponNotInUsePeriod):
		return "coupon_not_in_use_period"
	case errors.Is(err, ErrCouponInvalid):
		return "coupon_invalid"
	case errors.Is(err, ErrCouponAlreadyUsed):
		return "coupon_already_used"
	case errors.Is(err, ErrInsufficientBalance):
		return "insufficient_balance"
	case errors.Is(err, ErrEmailExists), errors.Is(err, ErrCouponCodeExists):
		return "conflict"
	case errors.Is(err, ErrInvalidCredentials):
		return "invalid_credentials"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrAccountLocked):
		return "account_locked"
	default:
		return "internal"
	}
}
