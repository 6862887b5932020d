package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ehr/checkin/internal/platform/apperr"
)

// RequestTimeout puts a deadline on each request context. The handler runs
// on the calling goroutine and the middleware returns only after it does;
// echo recycles the context once we return, so nothing may still hold it.
// Store calls observe the deadline and unwind. If the deadline passed and
// the handler wrote nothing, the client gets a 503 REQUEST_TIMEOUT.
func RequestTimeout(timeout time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if timeout <= 0 {
				return next(c)
			}

			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)
			if c.Response().Committed || !errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return err
			}
			return &apperr.Error{
				Status:  http.StatusServiceUnavailable,
				Title:   "Request timed out",
				Message: "Request processing exceeded the allowed time limit",
				Code:    apperr.CodeTimeout,
				Err:     err,
			}
		}
	}
}
