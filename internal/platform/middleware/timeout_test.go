package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/checkin/internal/platform/apperr"
)

func TestRequestTimeout_CompletesWithinDeadline(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/admin/submissions", nil), httptest.NewRecorder())

	h := RequestTimeout(time.Second)(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestRequestTimeout_ReturnsTimeoutOnExpiry(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/admin/submissions", nil), httptest.NewRecorder())

	h := RequestTimeout(50 * time.Millisecond)(func(c echo.Context) error {
		select {
		case <-time.After(5 * time.Second):
			return c.String(http.StatusOK, "ok")
		case <-c.Request().Context().Done():
			return c.Request().Context().Err()
		}
	})
	err := h(c)

	var ae *apperr.Error
	if !errors.As(err, &ae) || ae.Code != apperr.CodeTimeout || ae.Status != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 REQUEST_TIMEOUT, got %v", err)
	}
}

func TestRequestTimeout_ContextHasDeadline(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())

	h := RequestTimeout(time.Second)(func(c echo.Context) error {
		if _, ok := c.Request().Context().Deadline(); !ok {
			t.Error("expected a deadline on the request context")
		}
		return nil
	})
	_ = h(c)
}

func TestRequestTimeout_ZeroDisables(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())

	h := RequestTimeout(0)(func(c echo.Context) error {
		if _, ok := c.Request().Context().Deadline(); ok {
			t.Error("expected no deadline when timeout is zero")
		}
		return nil
	})
	_ = h(c)
}

func TestRequestTimeout_PropagatesHandlerError(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())

	want := apperr.PatientNotFound()
	h := RequestTimeout(time.Second)(func(c echo.Context) error { return want })
	if err := h(c); err != want {
		t.Errorf("expected handler error, got %v", err)
	}
}

func newTimeoutServer(timeout time.Duration, h echo.HandlerFunc) *echo.Echo {
	e := echo.New()
	e.HTTPErrorHandler = apperr.HTTPErrorHandler(zerolog.Nop(), false)
	e.Use(RequestTimeout(timeout))
	e.GET("/api/admin/submissions", h)
	return e
}

// A handler that overruns the deadline still owns the context until it
// returns, so its late write is the only response. Run with -race.
func TestRequestTimeout_LateWriteIsTheOnlyResponse(t *testing.T) {
	finished := false
	e := newTimeoutServer(10*time.Millisecond, func(c echo.Context) error {
		time.Sleep(30 * time.Millisecond)
		_ = c.QueryParams()
		err := c.JSON(http.StatusOK, map[string]string{"patientName": "John Doe"})
		finished = true
		return err
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/admin/submissions?status=completed", nil))

	if !finished {
		t.Fatal("middleware returned before the handler finished")
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected the handler's 200, got %d", rec.Code)
	}
	if body := rec.Body.String(); !strings.Contains(body, "John Doe") || strings.Contains(body, apperr.CodeTimeout) {
		t.Errorf("expected a single handler response, got %s", body)
	}
}

func TestRequestTimeout_UnwrittenOverrunRenders503(t *testing.T) {
	e := newTimeoutServer(10*time.Millisecond, func(c echo.Context) error {
		<-c.Request().Context().Done()
		return c.Request().Context().Err()
	})

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/admin/submissions", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), apperr.CodeTimeout) {
		t.Errorf("expected %s in %s", apperr.CodeTimeout, rec.Body.String())
	}
}
