package repository

import (
	"context"
	"fmt"

	"github.com/jmehdipour/commerce-sync/internal/model"
	"github.com/jmehdipour/commerce-sync/internal/retry"
	"github.com/jmoiron/sqlx"
)

type PointRepository interface {
	// Ensure provisions a zero balance row; an existing row is left untouched.
	Ensure(ctx context.Context, tx *sqlx.Tx, userID int64) error
	Get(ctx context.Context, tx *sqlx.Tx, userID int64) (model.PointAccount, error)
	// UpdateBalance writes balance only if the row is still at expectedVersion,
	// bumping the version by one. A lost race returns retry.ErrConflict.
	UpdateBalance(ctx context.Context, tx *sqlx.Tx, userID, balance, expectedVersion int64) error
}

type PointRepositoryImpl struct {
	db *sqlx.DB
}

func NewPointRepository(db *sqlx.DB) *PointRepositoryImpl {
	return &PointRepositoryImpl{db: db}
}

var _ PointRepository = (*PointRepositoryImpl)(nil)

func (r *PointRepositoryImpl) Ensure(ctx context.Context, tx *sqlx.Tx, userID int64) error {
	now := nowUTC()
	_, err := pick(r.db, tx).ExecContext(ctx, `
		INSERT INTO point_accounts (user_id, balance, version, created_at, updated_at)
		VALUES (?, 0, 0, ?, ?)
	`, userID, now, now)
	if err != nil && !isDuplicateKey(err) {
		return err
	}
	return nil
}

func (r *PointRepositoryImpl) Get(ctx context.Context, tx *sqlx.Tx, userID int64) (model.PointAccount, error) {
	var a model.PointAccount
	err := pick(r.db, tx).GetContext(ctx, &a, `
		SELECT user_id, balance, version, created_at, updated_at
		  FROM point_accounts
		 WHERE user_id = ?
	`, userID)
	if err != nil {
		return model.PointAccount{}, notFound(err)
	}
	return a, nil
}

func (r *PointRepositoryImpl) UpdateBalance(ctx context.Context, tx *sqlx.Tx, userID, balance, expectedVersion int64) error {
	res, err := pick(r.db, tx).ExecContext(ctx, `
		UPDATE point_accounts
		   SET balance = ?, version = version + 1, updated_at = ?
		 WHERE user_id = ? AND version = ?
	`, balance, nowUTC(), userID, expectedVersion)
	ok, err := affectedOne(res, err)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("point account %d at version %d: %w", userID, expectedVersion, retry.ErrConflict)
	}
	return nil
}
