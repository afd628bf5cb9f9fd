package model

import "time"

type OrderStatus string

const (
	OrderPending       OrderStatus = "PENDING"
	OrderPaid          OrderStatus = "PAID"
	OrderPaymentFailed OrderStatus = "PAYMENT_FAILED"
)

func (s OrderStatus) String() string { return string(s) }

type Order struct {
	ID          int64       `db:"id"`
	OrderKey    string      `db:"order_key"`
	UserID      int64       `db:"user_id"`
	TotalAmount int64       `db:"total_amount"`
	Status      OrderStatus `db:"status"`
	CreatedAt   time.Time   `db:"created_at"`
	UpdatedAt   time.Time   `db:"updated_at"`
}

type OrderItem struct {
	ProductID int64 `db:"product_id" json:"product_id"`
	Quantity  int64 `db:"quantity"   json:"quantity"`
	Price     int64 `db:"price"      json:"price"`
}
