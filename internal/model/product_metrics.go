package model

import "time"

// ProductMetrics aggregates consumer-side counters per product.
type ProductMetrics struct {
	ProductID  int64     `db:"product_id"`
	LikeCount  int64     `db:"like_count"`
	ViewCount  int64     `db:"view_count"`
	SalesCount int64     `db:"sales_count"`
	Version    int64     `db:"version"`
	UpdatedAt  time.Time `db:"updated_at"`
}
