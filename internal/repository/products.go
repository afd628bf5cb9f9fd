package repository

import (
	"context"

	"github.com/jmehdipour/commerce-sync/internal/model"
	"github.com/jmoiron/sqlx"
)

type ProductRepository interface {
	Get(ctx context.Context, tx *sqlx.Tx, id int64) (model.Product, error)
	// PricesByID returns the current price of each existing product in ids.
	PricesByID(ctx context.Context, tx *sqlx.Tx, ids []int64) (map[int64]int64, error)
}

type ProductRepositoryImpl struct {
	db *sqlx.DB
}

func NewProductRepository(db *sqlx.DB) *ProductRepositoryImpl {
	return &ProductRepositoryImpl{db: db}
}

var _ ProductRepository = (*ProductRepositoryImpl)(nil)

func (r *ProductRepositoryImpl) Get(ctx context.Context, tx *sqlx.Tx, id int64) (model.Product, error) {
	var p model.Product
	err := pick(r.db, tx).GetContext(ctx, &p, `
		SELECT id, name, price, created_at FROM products WHERE id = ?
	`, id)
	if err != nil {
		return model.Product{}, notFound(err)
	}
	return p, nil
}

func (r *ProductRepositoryImpl) PricesByID(ctx context.Context, tx *sqlx.Tx, ids []int64) (map[int64]int64, error) {
	out := make(map[int64]int64, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	query, args, err := sqlx.In(`SELECT id, price FROM products WHERE id IN (?)`, ids)
	if err != nil {
		return nil, err
	}
	q := pick(r.db, tx)
	query = q.Rebind(query)

	var rows []struct {
		ID    int64 `db:"id"`
		Price int64 `db:"price"`
	}
	if err := q.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	for _, rw := range rows {
		out[rw.ID] = rw.Price
	}
	return out, nil
}
