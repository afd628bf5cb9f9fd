package http

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// taskRunTimeout bounds a manual run; it is detached from the request so a
// disconnecting client does not abort a batch halfway.
const taskRunTimeout = 5 * time.Minute

func runTaskHandler(runner TaskRunner) echo.HandlerFunc {
	return func(c echo.Context) error {
		if runner == nil {
			return unavailable(c, "scheduler")
		}
		name := c.Param("name")

		ctx, cancel := context.WithTimeout(context.WithoutCancel(c.Request().Context()), taskRunTimeout)
		defer cancel()

		summary, err := runner.RunNow(ctx, name)
		if err != nil {
			return writeError(c, "task "+name, err)
		}
		return c.JSON(http.StatusOK, map[string]any{"task": name, "result": summary})
	}
}
