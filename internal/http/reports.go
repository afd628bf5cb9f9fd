package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/jmehdipour/commerce-sync/internal/repository"
	"github.com/labstack/echo/v4"
)

// listEventsHandler pages through applied events kept in ClickHouse.
func listEventsHandler(chRepo repository.CHEventsRepository) echo.HandlerFunc {
	return func(c echo.Context) error {
		if chRepo == nil {
			return unavailable(c, "reports")
		}

		limit := 50
		offset := 0
		if v := c.QueryParam("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 1000 {
				limit = n
			}
		}
		if v := c.QueryParam("offset"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 {
				offset = n
			}
		}

		events, err := chRepo.List(
			c.Request().Context(),
			strings.TrimSpace(c.QueryParam("aggregate_key")),
			strings.TrimSpace(c.QueryParam("event_type")),
			limit,
			offset,
		)
		if err != nil {
			c.Logger().Errorf("clickhouse list failed: %v", err)

			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "query failed"})
		}

		return c.JSON(http.StatusOK, map[string]any{
			"limit":   limit,
			"offset":  offset,
			"count":   len(events),
			"results": events,
		})
	}
}
