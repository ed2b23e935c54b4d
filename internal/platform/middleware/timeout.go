package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// RequestTimeout bounds each request with a context deadline and answers 504
// {"error":"Request timed out"} when the handler has not finished in time.
//
// The deadline propagates to the pgx queries and LLM completion calls made
// with the request context, so a patient detail whose risk analysis hangs is
// cut off here rather than holding a pool connection. Keep REQUEST_TIMEOUT
// above LLM_TIMEOUT or /chat and /chat/predict will never see the model's own
// timeout error. A zero or negative timeout disables the middleware.
func RequestTimeout(timeout time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if timeout <= 0 {
				return next(c)
			}

			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))

			done := make(chan error, 1)
			go func() {
				done <- next(c)
			}()

			select {
			case err := <-done:
				return err
			case <-ctx.Done():
				if errors.Is(ctx.Err(), context.DeadlineExceeded) {
					return echo.NewHTTPError(http.StatusGatewayTimeout, "Request timed out")
				}
				return ctx.Err()
			}
		}
	}
}
