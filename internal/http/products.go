package http

import (
	"net/http"
	"strconv"

	"github.com/jmehdipour/commerce-sync/internal/http/middleware"
	"github.com/jmehdipour/commerce-sync/internal/service/like"
	"github.com/labstack/echo/v4"
)

func productID(c echo.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	return id, err == nil && id > 0
}

func likeHandler(svc *like.Service, liked bool) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, _ := middleware.UserIDFromCtx(c)
		pid, ok := productID(c)
		if !ok {
			return badRequest(c)
		}

		op, fn := "like", svc.Like
		if !liked {
			op, fn = "unlike", svc.Unlike
		}
		changed, err := fn(c.Request().Context(), userID, pid)
		if err != nil {
			return writeError(c, op, err)
		}
		return c.JSON(http.StatusOK, map[string]any{
			"product_id": pid,
			"liked":      liked,
			"changed":    changed,
		})
	}
}

func viewHandler(svc *like.Service) echo.HandlerFunc {
	return func(c echo.Context) error {
		userID, _ := middleware.UserIDFromCtx(c)
		pid, ok := productID(c)
		if !ok {
			return badRequest(c)
		}
		if err := svc.RecordView(c.Request().Context(), userID, pid); err != nil {
			return writeError(c, "view", err)
		}
		return c.NoContent(http.StatusAccepted)
	}
}
