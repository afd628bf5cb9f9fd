package model

import "time"

// PointAccount is a user's point balance; Version guards every update.
type PointAccount struct {
	UserID    int64     `db:"user_id"`
	Balance   int64     `db:"balance"`
	Version   int64     `db:"version"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}
