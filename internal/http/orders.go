package http

import (
	"net/http"
	"strings"

	"github.com/jmehdipour/commerce-sync/internal/http/middleware"
	"github.com/jmehdipour/commerce-sync/internal/model"
	"github.com/jmehdipour/commerce-sync/internal/service/order"
	"github.com/jmehdipour/commerce-sync/internal/service/payment"
	"github.com/labstack/echo/v4"
)

type placeOrderReq struct {
	Items []order.Item `json:"items"`
}

func placeOrderHandler(svc *order.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, _ := middleware.UserIDFromCtx(c)

		var req placeOrderReq
		if err := c.Bind(&req); err != nil || len(req.Items) == 0 || len(req.Items) > 100 {
			return badRequest(c)
		}

		placed, err := svc.PlaceOrder(c.Request().Context(), userID, req.Items)
		if err != nil {
			return writeError(c, "place order", err)
		}
		return c.JSON(http.StatusAccepted, map[string]any{
			"order_key":       placed.Order.OrderKey,
			"total_amount":    placed.Order.TotalAmount,
			"status":          placed.Order.Status,
			"items":           placed.Items,
			"transaction_key": placed.TransactionKey,
		})
	}
}

type callbackReq struct {
	OrderKey       string `json:"order_key"`
	TransactionKey string `json:"transaction_key"`
	Status         string `json:"status"`
	Reason         string `json:"reason"`
}

// paymentCallbackHandler receives the gateway's asynchronous verdict.
func paymentCallbackHandler(svc *payment.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		var req callbackReq
		if err := c.Bind(&req); err != nil {
			return badRequest(c)
		}
		req.OrderKey = strings.TrimSpace(req.OrderKey)
		status, ok := model.ParsePaymentStatus(req.Status)
		if req.OrderKey == "" || !ok {
			return badRequest(c)
		}

		applied, err := svc.Resolve(c.Request().Context(), req.OrderKey, strings.TrimSpace(req.TransactionKey), status, req.Reason)
		if err != nil {
			return writeError(c, "payment callback", err)
		}
		return c.JSON(http.StatusOK, map[string]any{"order_key": req.OrderKey, "applied": applied})
	}
}
