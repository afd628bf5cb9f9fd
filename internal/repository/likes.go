package repository

import (
	"context"

	"github.com/jmoiron/sqlx"
)

type LikeRepository interface {
	// Insert returns false when the user already liked the product.
	Insert(ctx context.Context, tx *sqlx.Tx, userID, productID int64) (bool, error)
	// Delete returns false when there was nothing to remove.
	Delete(ctx context.Context, tx *sqlx.Tx, userID, productID int64) (bool, error)
}

type likeRepo struct{}

func NewLikeRepository() LikeRepository { return &likeRepo{} }

func (r *likeRepo) Insert(ctx context.Context, tx *sqlx.Tx, userID, productID int64) (bool, error) {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO likes (user_id, product_id, created_at) VALUES (?, ?, ?)
	`, userID, productID, nowUTC())
	if isDuplicateKey(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (r *likeRepo) Delete(ctx context.Context, tx *sqlx.Tx, userID, productID int64) (bool, error) {
	res, err := tx.ExecContext(ctx, `
		DELETE FROM likes WHERE user_id = ? AND product_id = ?
	`, userID, productID)
	return affectedOne(res, err)
}
