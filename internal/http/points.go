package http

import (
	"context"
	"net/http"

	"github.com/jmehdipour/commerce-sync/internal/http/middleware"
	"github.com/jmehdipour/commerce-sync/internal/model"
	"github.com/jmehdipour/commerce-sync/internal/service/point"
	"github.com/labstack/echo/v4"
)

type amountReq struct {
	Amount int64 `json:"amount"`
}

func accountJSON(a model.PointAccount) map[string]any {
	return map[string]any{"user_id": a.UserID, "balance": a.Balance, "version": a.Version}
}

func balanceHandler(svc *point.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, _ := middleware.UserIDFromCtx(c)
		acc, err := svc.Balance(c.Request().Context(), userID)
		if err != nil {
			return writeError(c, "balance", err)
		}
		return c.JSON(http.StatusOK, accountJSON(acc))
	}
}

func chargeHandler(svc *point.Service) echo.HandlerFunc {
	return pointsHandler("charge", svc.Charge)
}

func useHandler(svc *point.Service) echo.HandlerFunc {
	return pointsHandler("use", svc.Use)
}

type pointsOp func(ctx context.Context, userID, amount int64) (model.PointAccount, error)

func pointsHandler(op string, fn pointsOp) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, _ := middleware.UserIDFromCtx(c)

		var req amountReq
		if err := c.Bind(&req); err != nil || req.Amount <= 0 {
			return badRequest(c)
		}

		acc, err := fn(c.Request().Context(), userID, req.Amount)
		if err != nil {
			return writeError(c, "points "+op, err)
		}
		return c.JSON(http.StatusOK, accountJSON(acc))
	}
}
