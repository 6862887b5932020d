// Package payload decodes step request bodies into the untyped map that the
// sanitize schemas consume. JSON numbers are kept as json.Number so integer
// checks see the literal the client sent.
package payload

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/checkin/internal/platform/apperr"
	"github.com/ehr/checkin/internal/platform/sanitize"
)

// Bind reads the request body as JSON, urlencoded or multipart form data.
// The decoded map is also stored on the context for error logging.
func Bind(c echo.Context) (map[string]any, error) {
	req := c.Request()
	out := map[string]any{}

	mediaType, _, _ := mime.ParseMediaType(req.Header.Get(echo.HeaderContentType))
	switch {
	case mediaType == echo.MIMEMultipartForm, mediaType == echo.MIMEApplicationForm:
		form, err := c.FormParams()
		if err != nil {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				return nil, apperr.PayloadTooLarge("Request body is too large")
			}
			return nil, apperr.BadRequest(apperr.CodeValidation, "Invalid form data", err.Error())
		}
		for k, vs := range form {
			if len(vs) > 0 {
				out[k] = vs[0]
			}
		}

	default:
		if req.Body == nil || req.ContentLength == 0 {
			break
		}
		dec := json.NewDecoder(req.Body)
		dec.UseNumber()
		if err := dec.Decode(&out); err != nil && !errors.Is(err, io.EOF) {
			var maxErr *http.MaxBytesError
			if errors.As(err, &maxErr) {
				return nil, apperr.PayloadTooLarge("Request body is too large")
			}
			return nil, apperr.InvalidJSON(err)
		}
	}

	c.Set(apperr.PayloadKey, out)
	return out, nil
}

// PathID parses a positive integer path parameter. It returns 0 when the
// value is missing, malformed or not positive.
func PathID(c echo.Context, name string) int64 {
	n, ok := sanitize.Number(c.Param(name), sanitize.Bound(1), nil, true)
	if !ok {
		return 0
	}
	return int64(n)
}
