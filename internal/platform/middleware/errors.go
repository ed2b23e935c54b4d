package middleware

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// DetailedError is returned by handlers that want to expose a details field.
type DetailedError struct {
	Code    int
	Message string
	Details string
}

func (e *DetailedError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Code, e.Message, e.Details)
}

// HTTPErrorHandler renders echo errors as {"error": message}.
func HTTPErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		code := http.StatusInternalServerError
		body := ErrorBody{Error: http.StatusText(code)}

		var de *DetailedError
		var he *echo.HTTPError
		switch {
		case errors.As(err, &de):
			code = de.Code
			body = ErrorBody{Error: de.Message, Details: de.Details}
		case errors.As(err, &he):
			code = he.Code
			body.Error = fmt.Sprintf("%v", he.Message)
			if he.Message == nil {
				body.Error = http.StatusText(code)
			}
		default:
			logger.Error().Err(err).Str("request_id", GetRequestID(c)).Msg("unhandled error")
		}

		var werr error
		if c.Request().Method == http.MethodHead {
			werr = c.NoContent(code)
		} else {
			werr = c.JSON(code, body)
		}
		if werr != nil {
			logger.Error().Err(werr).Msg("write error response")
		}
	}
}
