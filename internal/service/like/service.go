// Package like records product likes and views as outbox events.
package like

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jmehdipour/commerce-sync/internal/model"
	"github.com/jmehdipour/commerce-sync/internal/repository"
	"github.com/jmoiron/sqlx"
)

type Service struct {
	db       *sqlx.DB
	likes    repository.LikeRepository
	products repository.ProductRepository
	outbox   repository.OutboxRepository
}

func New(db *sqlx.DB, likesRepo repository.LikeRepository, productsRepo repository.ProductRepository, outboxRepo repository.OutboxRepository) *Service {
	return &Service{db: db, likes: likesRepo, products: productsRepo, outbox: outboxRepo}
}

// Like is idempotent per (user, product); changed is false when the like already existed.
func (s *Service) Like(ctx context.Context, userID, productID int64) (bool, error) {
	return s.toggle(ctx, userID, productID, true)
}

// Unlike removes the like; changed is false when there was none.
func (s *Service) Unlike(ctx context.Context, userID, productID int64) (bool, error) {
	return s.toggle(ctx, userID, productID, false)
}

// RecordView appends a product.viewed event. userID may be zero for anonymous views.
func (s *Service) RecordView(ctx context.Context, userID, productID int64) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := s.products.Get(ctx, tx, productID); err != nil {
			return err
		}
		return s.emit(ctx, tx, model.EventProductViewed, productID, model.ProductViewPayload{UserID: userID, ProductID: productID})
	})
}

func (s *Service) toggle(ctx context.Context, userID, productID int64, like bool) (bool, error) {
	var changed bool
	err := s.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := s.products.Get(ctx, tx, productID); err != nil {
			return err
		}

		var err error
		eventType := model.EventProductLiked
		if like {
			changed, err = s.likes.Insert(ctx, tx, userID, productID)
		} else {
			eventType = model.EventProductUnliked
			changed, err = s.likes.Delete(ctx, tx, userID, productID)
		}
		if err != nil || !changed {
			return err
		}
		return s.emit(ctx, tx, eventType, productID, model.ProductLikePayload{UserID: userID, ProductID: productID})
	})
	return changed, err
}

func (s *Service) emit(ctx context.Context, tx *sqlx.Tx, eventType string, productID int64, data any) error {
	ev, err := model.NewOutboxEvent(model.AggregateProduct, strconv.FormatInt(productID, 10), eventType,
		model.TopicCatalogEvents, data, time.Now().UTC().Truncate(time.Microsecond))
	if err != nil {
		return err
	}
	if _, err := s.outbox.Insert(ctx, tx, ev); err != nil {
		return fmt.Errorf("insert outbox: %w", err)
	}
	return nil
}

func (s *Service) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
