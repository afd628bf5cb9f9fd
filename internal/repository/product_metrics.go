package repository

import (
	"context"
	"fmt"

	"github.com/jmehdipour/commerce-sync/internal/model"
	"github.com/jmehdipour/commerce-sync/internal/retry"
	"github.com/jmoiron/sqlx"
)

type ProductMetricsRepository interface {
	Ensure(ctx context.Context, tx *sqlx.Tx, productID int64) error
	Get(ctx context.Context, tx *sqlx.Tx, productID int64) (model.ProductMetrics, error)
	// Update writes the counters of m if the row is still at m.Version.
	Update(ctx context.Context, tx *sqlx.Tx, m model.ProductMetrics) error
}

type ProductMetricsRepositoryImpl struct {
	db *sqlx.DB
}

func NewProductMetricsRepository(db *sqlx.DB) *ProductMetricsRepositoryImpl {
	return &ProductMetricsRepositoryImpl{db: db}
}

var _ ProductMetricsRepository = (*ProductMetricsRepositoryImpl)(nil)

func (r *ProductMetricsRepositoryImpl) Ensure(ctx context.Context, tx *sqlx.Tx, productID int64) error {
	_, err := pick(r.db, tx).ExecContext(ctx, `
		INSERT INTO product_metrics (product_id, like_count, view_count, sales_count, version, updated_at)
		VALUES (?, 0, 0, 0, 0, ?)
	`, productID, nowUTC())
	if err != nil && !isDuplicateKey(err) {
		return err
	}
	return nil
}

func (r *ProductMetricsRepositoryImpl) Get(ctx context.Context, tx *sqlx.Tx, productID int64) (model.ProductMetrics, error) {
	var m model.ProductMetrics
	err := pick(r.db, tx).GetContext(ctx, &m, `
		SELECT product_id, like_count, view_count, sales_count, version, updated_at
		  FROM product_metrics
		 WHERE product_id = ?
	`, productID)
	if err != nil {
		return model.ProductMetrics{}, notFound(err)
	}
	return m, nil
}

func (r *ProductMetricsRepositoryImpl) Update(ctx context.Context, tx *sqlx.Tx, m model.ProductMetrics) error {
	res, err := pick(r.db, tx).ExecContext(ctx, `
		UPDATE product_metrics
		   SET like_count = ?, view_count = ?, sales_count = ?, version = version + 1, updated_at = ?
		 WHERE product_id = ? AND version = ?
	`, m.LikeCount, m.ViewCount, m.SalesCount, nowUTC(), m.ProductID, m.Version)
	ok, err := affectedOne(res, err)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("product metrics %d at version %d: %w", m.ProductID, m.Version, retry.ErrConflict)
	}
	return nil
}
