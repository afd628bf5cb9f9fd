// Package gateway talks to the external payment gateway, the authoritative
// source for payment outcomes.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/jmehdipour/commerce-sync/internal/model"
)

var (
	ErrNoHealthy      = errors.New("no healthy gateway endpoints")
	ErrNoAcquire      = errors.New("gateway endpoint not acquired")
	ErrUnknownPayment = errors.New("payment unknown to gateway")
)

type PaymentRequest struct {
	OrderKey    string
	UserID      int64
	Amount      int64
	CallbackURL string
}

// Transaction is the gateway's view of one payment attempt.
type Transaction struct {
	TransactionKey string
	Status         model.PaymentStatus
	Reason         string
}

func (t transactionBody) toTransaction() (Transaction, error) {
	st, ok := model.ParsePaymentStatus(t.Status)
	if !ok {
		return Transaction{}, fmt.Errorf("gateway status %q", t.Status)
	}
	return Transaction{TransactionKey: t.TransactionKey, Status: st, Reason: t.Reason}, nil
}

// Client round-robins over healthy endpoints with a bounded number of attempts.
type Client struct {
	endpoints   []Endpoint
	rr          atomic.Uint64
	maxAttempts int
}

func NewClient(endpoints []Endpoint, maxAttempts int) *Client {
	if maxAttempts < 1 {
		maxAttempts = 2
	}
	return &Client{endpoints: endpoints, maxAttempts: maxAttempts}
}

func (c *Client) pick() (Endpoint, error) {
	healthy := make([]Endpoint, 0, len(c.endpoints))
	for _, e := range c.endpoints {
		if e.Ready() {
			healthy = append(healthy, e)
		}
	}
	if len(healthy) == 0 {
		return nil, ErrNoHealthy
	}
	x := c.rr.Add(1)
	return healthy[int((x-1)%uint64(len(healthy)))], nil
}

func (c *Client) attempt(ctx context.Context, call func(Endpoint) (Transaction, error)) (Transaction, error) {
	var last error
	for i := 0; i < c.maxAttempts; i++ {
		if err := ctx.Err(); err != nil {
			return Transaction{}, err
		}
		e, err := c.pick()
		if err != nil {
			last = err
			continue
		}
		if !e.Acquire() {
			last = ErrNoAcquire
			continue
		}
		tx, err := call(e)
		if err == nil || errors.Is(err, ErrUnknownPayment) {
			return tx, err
		}
		last = err
	}
	if last == nil {
		last = errors.New("gateway call failed")
	}
	return Transaction{}, last
}

// RequestPayment asks the gateway to start a payment. The outcome arrives
// later through the callback or a status query.
func (c *Client) RequestPayment(ctx context.Context, req PaymentRequest) (Transaction, error) {
	return c.attempt(ctx, func(e Endpoint) (Transaction, error) { return e.Request(ctx, req) })
}

// QueryStatus returns the latest transaction the gateway holds for orderKey.
func (c *Client) QueryStatus(ctx context.Context, orderKey string, userID int64) (Transaction, error) {
	return c.attempt(ctx, func(e Endpoint) (Transaction, error) { return e.Query(ctx, orderKey, userID) })
}
