package httpserver

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pscheid92/livealert/internal/platform/correlation"
)

// correlationMiddleware continues the caller's correlation id or starts a new one
// and echoes it in the response.
func correlationMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := correlation.Continue(c.Request().Context(), c.Request().Header.Get(correlation.Header))
		id, _ := correlation.ID(ctx)
		c.Response().Header().Set(correlation.Header, id)
		c.SetRequest(c.Request().WithContext(ctx))
		return next(c)
	}
}

// ErrorHandlingMiddleware passes echo HTTP errors through and turns anything else into
// a logged 500 with a generic JSON body.
func ErrorHandlingMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			if err == nil {
				return nil
			}

			if _, ok := errors.AsType[*echo.HTTPError](err); ok {
				return err
			}

			slog.ErrorContext(c.Request().Context(), "Internal error",
				"path", c.Request().URL.Path,
				"method", c.Request().Method,
				"error", err,
			)
			if err := c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal server error"}); err != nil {
				return fmt.Errorf("failed to write error response: %w", err)
			}
			return nil
		}
	}
}
