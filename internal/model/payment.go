package model

import (
	"fmt"
	"strings"
	"time"
)

type PaymentStatus string

const (
	PaymentPending PaymentStatus = "PENDING"
	PaymentSuccess PaymentStatus = "SUCCESS"
	PaymentFailed  PaymentStatus = "FAILED"
)

func (s PaymentStatus) String() string { return string(s) }

func (s PaymentStatus) Valid() bool {
	return s == PaymentPending || s == PaymentSuccess || s == PaymentFailed
}

// Terminal reports whether no further transition is allowed.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentSuccess || s == PaymentFailed
}

// ParsePaymentStatus normalizes gateway/callback input.
func ParsePaymentStatus(raw string) (PaymentStatus, bool) {
	s := PaymentStatus(strings.ToUpper(strings.TrimSpace(raw)))
	return s, s.Valid()
}

// ValidatePaymentTransition only admits PENDING -> SUCCESS|FAILED.
func ValidatePaymentTransition(from, to PaymentStatus) error {
	if from == PaymentPending && to.Terminal() {
		return nil
	}
	return fmt.Errorf("%w: payment %s -> %s", ErrInvalidTransition, from, to)
}

// Payment tracks the external payment of an order.
type Payment struct {
	ID             int64         `db:"id"`
	OrderKey       string        `db:"order_key"`
	TransactionKey *string       `db:"transaction_key"` // nil until the gateway accepted the request
	UserID         int64         `db:"user_id"`
	Amount         int64         `db:"amount"`
	Status         PaymentStatus `db:"status"`
	Reason         *string       `db:"reason"`
	CreatedAt      time.Time     `db:"created_at"`
	UpdatedAt      time.Time     `db:"updated_at"`
}

func (p Payment) TxKey() string {
	if p.TransactionKey == nil {
		return ""
	}
	return *p.TransactionKey
}
