package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/jmehdipour/commerce-sync/internal/ranking"
	"github.com/labstack/echo/v4"
)

// rankingDay returns the ?date=yyyyMMdd parameter, defaulting to today.
func rankingDay(c echo.Context, store *ranking.Store) (string, bool) {
	day := c.QueryParam("date")
	if day == "" {
		return store.Day(time.Now()), true
	}
	if _, err := time.Parse("20060102", day); err != nil {
		return "", false
	}
	return day, true
}

func listRankingsHandler(store *ranking.Store) echo.HandlerFunc {
	return func(c echo.Context) error {
		if store == nil {
			return unavailable(c, "rankings")
		}
		day, ok := rankingDay(c, store)
		if !ok {
			return badRequest(c)
		}

		page, size := 1, 20
		if v := c.QueryParam("page"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				page = n
			}
		}
		if v := c.QueryParam("size"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
				size = n
			}
		}

		entries, err := store.Top(c.Request().Context(), day, page, size)
		if err != nil {
			return writeError(c, "rankings", err)
		}
		return c.JSON(http.StatusOK, map[string]any{
			"date":    day,
			"page":    page,
			"size":    size,
			"results": entries,
		})
	}
}

func productRankHandler(store *ranking.Store) echo.HandlerFunc {
	return func(c echo.Context) error {
		if store == nil {
			return unavailable(c, "rankings")
		}
		pid, ok := productID(c)
		if !ok {
			return badRequest(c)
		}
		day, ok := rankingDay(c, store)
		if !ok {
			return badRequest(c)
		}

		entry, ranked, err := store.Rank(c.Request().Context(), day, pid)
		if err != nil {
			return writeError(c, "product rank", err)
		}
		if !ranked {
			return c.JSON(http.StatusOK, map[string]any{"date": day, "product_id": pid, "rank": nil})
		}
		return c.JSON(http.StatusOK, map[string]any{"date": day, "product_id": pid, "rank": entry.Rank, "score": entry.Score})
	}
}
