package middleware

import (
	"net/http"
	"strconv"
	"strings"

	echo "github.com/labstack/echo/v4"
)

const (
	UserHeader = "X-USER-ID"
	userKey    = "user_id"
)

// UserIDFromCtx extracts the user id set by UserIDMiddleware.
func UserIDFromCtx(c echo.Context) (int64, bool) {
	id, ok := c.Get(userKey).(int64)
	return id, ok && id > 0
}

// UserIDMiddleware trusts the X-USER-ID header set by the edge and stores it
// in the echo context.
func UserIDMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			raw := strings.TrimSpace(c.Request().Header.Get(UserHeader))
			if raw == "" {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "missing user id"})
			}
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || id <= 0 {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid user id"})
			}
			c.Set(userKey, id)
			return next(c)
		}
	}
}
