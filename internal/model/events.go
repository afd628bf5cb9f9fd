package model

// Event types carried by the outbox.
const (
	EventProductLiked       = "product.liked"
	EventProductUnliked     = "product.unliked"
	EventProductViewed      = "product.viewed"
	EventOrderCreated       = "order.created"
	EventOrderPaid          = "order.paid"
	EventOrderPaymentFailed = "order.payment_failed"
	EventPointCharged       = "point.charged"
	EventPointUsed          = "point.used"
)

// Topics events are routed to.
const (
	TopicCatalogEvents = "catalog-events"
	TopicOrderEvents   = "order-events"
	TopicPointEvents   = "point-events"
)

// Aggregate types.
const (
	AggregateProduct = "product"
	AggregateOrder   = "order"
	AggregatePoint   = "point"
)

type ProductLikePayload struct {
	UserID    int64 `json:"user_id"`
	ProductID int64 `json:"product_id"`
}

type ProductViewPayload struct {
	UserID    int64 `json:"user_id,omitempty"`
	ProductID int64 `json:"product_id"`
}

type OrderPayload struct {
	OrderKey string      `json:"order_key"`
	UserID   int64       `json:"user_id"`
	Amount   int64       `json:"amount"`
	Items    []OrderItem `json:"items,omitempty"`
	Reason   string      `json:"reason,omitempty"`
}

type PointPayload struct {
	UserID  int64 `json:"user_id"`
	Amount  int64 `json:"amount"`
	Balance int64 `json:"balance"`
	Version int64 `json:"version"`
}
