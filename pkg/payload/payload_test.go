package payload

import (
	"bytes"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/ehr/checkin/internal/platform/apperr"
)

func TestBind_JSONKeepsNumbers(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/completion", strings.NewReader(`{"patientId": 7, "estimatedWaitTime": 2.5}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c := e.NewContext(req, httptest.NewRecorder())

	m, err := Bind(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m["patientId"] != json.Number("7") {
		t.Errorf("expected json.Number 7, got %#v", m["patientId"])
	}
	if m["estimatedWaitTime"] != json.Number("2.5") {
		t.Errorf("expected json.Number 2.5, got %#v", m["estimatedWaitTime"])
	}
	if _, ok := c.Get(apperr.PayloadKey).(map[string]any); !ok {
		t.Error("expected payload stored on context")
	}
}

func TestBind_InvalidJSON(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/patients", strings.NewReader(`{"first_name":`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	c := e.NewContext(req, httptest.NewRecorder())

	_, err := Bind(c)
	var ae *apperr.Error
	if !errors.As(err, &ae) || ae.Code != apperr.CodeInvalidJSON {
		t.Fatalf("expected INVALID_JSON, got %v", err)
	}
}

func TestBind_EmptyBody(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/patients", nil)
	c := e.NewContext(req, httptest.NewRecorder())

	m, err := Bind(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(m) != 0 {
		t.Errorf("expected empty map, got %v", m)
	}
}

func TestBind_URLEncoded(t *testing.T) {
	e := echo.New()
	form := url.Values{"provider": {"Acme"}, "patientId": {"3"}}
	req := httptest.NewRequest(http.MethodPost, "/api/insurance", strings.NewReader(form.Encode()))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationForm)
	c := e.NewContext(req, httptest.NewRecorder())

	m, err := Bind(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m["provider"] != "Acme" || m["patientId"] != "3" {
		t.Errorf("unexpected values: %v", m)
	}
}

func TestBind_Multipart(t *testing.T) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	_ = w.WriteField("provider", "Acme")
	_ = w.WriteField("policyNumber", "P-1")
	_ = w.Close()

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/insurance", &buf)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	c := e.NewContext(req, httptest.NewRecorder())

	m, err := Bind(c)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m["provider"] != "Acme" || m["policyNumber"] != "P-1" {
		t.Errorf("unexpected values: %v", m)
	}
}

func TestPathID(t *testing.T) {
	e := echo.New()
	tests := []struct {
		raw  string
		want int64
	}{
		{"12", 12},
		{"0", 0},
		{"-4", 0},
		{"abc", 0},
		{"1.5", 0},
		{"", 0},
	}
	for _, tt := range tests {
		c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
		c.SetParamNames("id")
		c.SetParamValues(tt.raw)
		if got := PathID(c, "id"); got != tt.want {
			t.Errorf("PathID(%q) = %d, want %d", tt.raw, got, tt.want)
		}
	}
}
