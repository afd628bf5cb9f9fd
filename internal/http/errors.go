package http

import (
	"errors"
	"net/http"

	"github.com/jmehdipour/commerce-sync/internal/model"
	"github.com/jmehdipour/commerce-sync/internal/repository"
	"github.com/jmehdipour/commerce-sync/internal/retry"
	"github.com/jmehdipour/commerce-sync/internal/scheduler"
	"github.com/jmehdipour/commerce-sync/internal/service/order"
	"github.com/jmehdipour/commerce-sync/internal/service/payment"
	"github.com/jmehdipour/commerce-sync/internal/service/point"
	"github.com/labstack/echo/v4"
	"github.com/labstack/gommon/log"
)

// writeError maps domain sentinels to status codes; anything else is a 500.
func writeError(c echo.Context, op string, err error) error {
	switch {
	case errors.Is(err, retry.ErrExhaustedRetries):
		return c.JSON(http.StatusConflict, map[string]string{"error": "try_again"})
	case errors.Is(err, repository.ErrNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": "not found"})
	case errors.Is(err, point.ErrInsufficientPoints):
		return c.JSON(http.StatusPaymentRequired, map[string]string{"error": "insufficient_points"})
	case errors.Is(err, point.ErrInvalidAmount), errors.Is(err, order.ErrInvalidOrder):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, payment.ErrTransactionMismatch), errors.Is(err, model.ErrInvalidTransition):
		return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
	case errors.Is(err, scheduler.ErrUnknownTask):
		return c.JSON(http.StatusNotFound, map[string]string{"error": "unknown task"})
	case errors.Is(err, scheduler.ErrTaskRunning), errors.Is(err, scheduler.ErrLeaseBusy):
		return c.JSON(http.StatusConflict, map[string]string{"error": "task already running"})
	}

	log.Errorf("%s failed: %v", op, err)
	return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

func badRequest(c echo.Context) error {
	return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
}

func unavailable(c echo.Context, what string) error {
	return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": what + " unavailable"})
}
