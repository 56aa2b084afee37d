package domain

import (
	"net/mail"
	"strings"
	"time"
)

// Роли пользователей.
const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
)

// User: покупатель со своим балансом.
type User struct {
	ID           string
	Email        string
	Name         string
	PasswordHash string
	Role         string
	Balance      int64
	Version      int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// UserDraft: пользователь до сохранения.
type UserDraft struct {
	Email        string
	Name         string
	PasswordHash string
	Role         string
	Balance      int64
}

// NormalizeEmail приводит email к виду, в котором он хранится.
func NormalizeEmail(email string) (string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", ErrInvalidEmail
	}
	return email, nil
}

// Credit зачисляет amount на баланс.
func (u *User) Credit(amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	u.Balance += amount
	return nil
}

// Debit списывает amount. Баланс не уходит в минус.
func (u *User) Debit(amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}
	if u.Balance < amount {
		return ErrInsufficientBalance
	}
	u.Balance -= amount
	return nil
}

// EntryType: тип записи в истории баланса.
type EntryType string

const (
	EntryCharge EntryType = "CHARGE"
	EntryUse    EntryType = "USE"
	EntryRefund EntryType = "REFUND"
)

// BalanceEntry: запись истории баланса. Записи только добавляются.
type BalanceEntry struct {
	ID           string
	UserID       string
	Type         EntryType
	Amount       int64
	BalanceAfter int64
	OrderID      string
	CreatedAt    time.Time
}

// BalanceEntryDraft: запись истории до сохранения.
type BalanceEntryDraft struct {
	UserID       string
	Type         EntryType
	Amount       int64
	BalanceAfter int64
	OrderID      string
}

// Signed возвращает вклад записи в баланс.
func (e BalanceEntry) Signed() int64 {
	if e.Type == EntryUse {
		return -e.Amount
	}
	return e.Amount
}

// SumEntries считает баланс по истории: CHARGE − USE + REFUND.
func SumEntries(entries []BalanceEntry) int64 {
	var sum int64
	for _, e := range entries {
		sum += e.Signed()
	}
	return sum
}
