package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	paymentsPath = "/api/v1/payments"
	userHeader   = "X-USER-ID"
	notFoundCode = "NOT_FOUND"
)

// Endpoint is one payment gateway instance.
type Endpoint interface {
	Name() string
	Ready() bool
	Acquire() bool
	Request(ctx context.Context, req PaymentRequest) (Transaction, error)
	Query(ctx context.Context, orderKey string, userID int64) (Transaction, error)
}

type HTTPEndpoint struct {
	name     string
	baseURL  string
	merchant string
	client   *http.Client
	br       *Breaker
}

func NewHTTPEndpoint(name, baseURL, merchant string, timeoutMs, failThreshold, openForMs int) *HTTPEndpoint {
	if timeoutMs <= 0 {
		timeoutMs = 3000
	}
	if failThreshold <= 0 {
		failThreshold = 3
	}
	if openForMs <= 0 {
		openForMs = 15000
	}
	return &HTTPEndpoint{
		name:     name,
		baseURL:  strings.TrimRight(baseURL, "/"),
		merchant: merchant,
		client:   &http.Client{Timeout: time.Duration(timeoutMs) * time.Millisecond},
		br:       NewBreaker(failThreshold, time.Duration(openForMs)*time.Millisecond),
	}
}

func (e *HTTPEndpoint) Name() string  { return e.name }
func (e *HTTPEndpoint) Ready() bool   { return e.br.Ready() }
func (e *HTTPEndpoint) Acquire() bool { return e.br.Acquire() }

type requestBody struct {
	OrderID     string `json:"orderId"`
	Amount      int64  `json:"amount"`
	CallbackURL string `json:"callbackUrl"`
	MerchantID  string `json:"merchantId,omitempty"`
}

type transactionBody struct {
	TransactionKey string `json:"transactionKey"`
	Status         string `json:"status"`
	Reason         string `json:"reason"`
}

// errorBody is the gateway's own error reply.
type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// isGatewayNotFound reports whether a 404 carries the gateway's not-found
// reply. A 404 from a proxy or a wrong base URL does not.
func isGatewayNotFound(res *http.Response) bool {
	if !strings.HasPrefix(res.Header.Get("Content-Type"), "application/json") {
		return false
	}
	var body errorBody
	if err := json.NewDecoder(io.LimitReader(res.Body, 4096)).Decode(&body); err != nil {
		return false
	}
	return body.Code == notFoundCode
}

type orderBody struct {
	OrderID      string            `json:"orderId"`
	Transactions []transactionBody `json:"transactions"`
}

func (e *HTTPEndpoint) Request(ctx context.Context, req PaymentRequest) (Transaction, error) {
	b, err := json.Marshal(requestBody{
		OrderID:     req.OrderKey,
		Amount:      req.Amount,
		CallbackURL: req.CallbackURL,
		MerchantID:  e.merchant,
	})
	if err != nil {
		return Transaction{}, err
	}

	var out transactionBody
	if err := e.do(ctx, http.MethodPost, paymentsPath, req.UserID, bytes.NewReader(b), &out); err != nil {
		return Transaction{}, err
	}
	return out.toTransaction()
}

func (e *HTTPEndpoint) Query(ctx context.Context, orderKey string, userID int64) (Transaction, error) {
	var out orderBody
	path := paymentsPath + "?orderId=" + url.QueryEscape(orderKey)
	if err := e.do(ctx, http.MethodGet, path, userID, nil, &out); err != nil {
		return Transaction{}, err
	}
	if len(out.Transactions) == 0 {
		return Transaction{}, ErrUnknownPayment
	}
	// the gateway lists attempts oldest first
	return out.Transactions[len(out.Transactions)-1].toTransaction()
}

// do performs one call and feeds the breaker. The gateway's not-found reply is
// an answer, not an outage; any other 404 counts as a failure.
func (e *HTTPEndpoint) do(ctx context.Context, method, path string, userID int64, body *bytes.Reader, out any) error {
	var req *http.Request
	var err error
	if body != nil {
		req, err = http.NewRequestWithContext(ctx, method, e.baseURL+path, body)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, e.baseURL+path, nil)
	}
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(userHeader, strconv.FormatInt(userID, 10))

	res, err := e.client.Do(req)
	if err != nil {
		e.br.Failure()
		return err
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusNotFound && isGatewayNotFound(res):
		e.br.Success()
		return ErrUnknownPayment
	case res.StatusCode/100 != 2:
		e.br.Failure()
		return fmt.Errorf("gateway=%s %s %s status=%d", e.name, method, path, res.StatusCode)
	}

	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		e.br.Failure()
		return fmt.Errorf("gateway=%s decode: %w", e.name, err)
	}
	e.br.Success()
	return nil
}
