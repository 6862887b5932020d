package apperr

import (
	"errors"
	"net/http"
	"runtime/debug"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// PayloadKey is the echo context key under which the decoded request body
// is stored so failures can be logged with it.
const PayloadKey = "payload"

const redacted = "[REDACTED]"

var sensitiveFields = map[string]bool{
	"password":      true,
	"ssn":           true,
	"creditcard":    true,
	"bankaccount":   true,
	"policynumber":  true,
	"groupnumber":   true,
	"policy_number": true,
	"group_number":  true,
}

// Redact returns a shallow copy of payload with sensitive values replaced.
func Redact(payload map[string]any) map[string]any {
	if payload == nil {
		return nil
	}
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		if sensitiveFields[strings.ToLower(k)] && v != nil && v != "" {
			out[k] = redacted
			continue
		}
		out[k] = v
	}
	return out
}

// HTTPErrorHandler renders classified errors as JSON and logs the rest with
// the redacted request body. Stack traces are only returned when dev is set.
func HTTPErrorHandler(logger zerolog.Logger, dev bool) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		req := c.Request()
		rid, _ := c.Get("request_id").(string)

		if errors.Is(err, echo.ErrNotFound) || errors.Is(err, echo.ErrMethodNotAllowed) {
			logger.Warn().
				Str("request_id", rid).
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Str("remote_ip", c.RealIP()).
				Msg("route not found")
			writeError(c, RouteNotFound(req.Method, req.URL.RequestURI()))
			return
		}

		appErr, ok := Classify(err)
		if !ok {
			appErr = Unhandled(err)
		}

		if appErr.Status >= http.StatusInternalServerError {
			evt := logger.Error().Err(err).
				Str("request_id", rid).
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Str("remote_ip", c.RealIP()).
				Str("user_agent", req.UserAgent()).
				Str("code", appErr.Code)
			if payload, ok := c.Get(PayloadKey).(map[string]any); ok && req.Method == http.MethodPost {
				evt = evt.Interface("body", Redact(payload))
			}
			evt.Msg("request failed")
		}

		if !ok && dev {
			_ = c.JSON(appErr.Status, map[string]any{
				"error":   appErr.Title,
				"message": err.Error(),
				"code":    appErr.Code,
				"stack":   string(debug.Stack()),
			})
			return
		}
		writeError(c, appErr)
	}
}

func writeError(c echo.Context, e *Error) {
	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(e.Status)
		return
	}
	_ = c.JSON(e.Status, e)
}
