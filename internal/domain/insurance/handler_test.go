package insurance

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/checkin/internal/domain/patient"
	"github.com/ehr/checkin/internal/platform/apperr"
	"github.com/ehr/checkin/internal/platform/blobstore"
)

type fixture struct {
	e        *echo.Echo
	repo     *MemoryRepo
	blobs    *blobstore.InMemoryBlobStore
	patients *patient.MemoryRepo
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		e:        echo.New(),
		repo:     NewMemoryRepo(),
		blobs:    blobstore.NewInMemoryBlobStore(),
		patients: patient.NewMemoryRepo(),
	}
	f.e.HTTPErrorHandler = apperr.HTTPErrorHandler(zerolog.Nop(), false)
	svc := NewService(f.repo, f.patients, f.blobs, zerolog.Nop())
	h := NewHandler(svc, f.blobs, zerolog.Nop())
	h.RegisterRoutes(f.e.Group("/api"))
	h.RegisterAdminRoutes(f.e.Group("/api/admin"))

	p := &patient.Patient{FirstName: "John", LastName: "Doe", DateOfBirth: "1990-01-15",
		Address: "123 Main St", Phone: "555-123-4567", Email: "john@example.com"}
	if err := f.patients.Create(context.Background(), p); err != nil {
		t.Fatalf("seed patient: %v", err)
	}
	return f
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.e.ServeHTTP(rec, req)
	return rec
}

func jsonRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	return req
}

type part struct {
	name    string
	ctype   string
	content []byte
}

func multipartRequest(t *testing.T, fields map[string]string, files ...part) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	for _, p := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="`+CardImagesField+`"; filename="`+p.name+`"`)
		h.Set("Content-Type", p.ctype)
		fw, err := w.CreatePart(h)
		if err != nil {
			t.Fatalf("create part: %v", err)
		}
		fw.Write(p.content)
	}
	w.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/insurance", &buf)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	return req
}

var validFields = map[string]string{
	"patientId":      "1",
	"provider":       "Blue Cross",
	"policyNumber":   "POL-123",
	"subscriberName": "John Doe",
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Code string `json:"code"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body: %v (%s)", err, rec.Body.String())
	}
	return body.Code
}

func TestCreateInsurance_JSON(t *testing.T) {
	f := newFixture(t)

	rec := f.do(jsonRequest(http.MethodPost, "/api/insurance",
		`{"patientId":1,"provider":" Blue Cross ","policyNumber":"POL-123","subscriberName":"John Doe"}`))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Message string    `json:"message"`
		Data    Insurance `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Message != "Insurance information saved successfully" {
		t.Errorf("unexpected message %q", body.Message)
	}
	if body.Data.Provider != "Blue Cross" {
		t.Errorf("expected trimmed provider, got %q", body.Data.Provider)
	}
	if body.Data.GroupNumber != nil {
		t.Errorf("expected nil group number, got %v", *body.Data.GroupNumber)
	}
	if len(body.Data.CardImages) != 0 {
		t.Errorf("expected no card images, got %v", body.Data.CardImages)
	}
}

func TestCreateInsurance_MultipartWithImages(t *testing.T) {
	f := newFixture(t)

	rec := f.do(multipartRequest(t, validFields,
		part{"front.jpg", "image/jpeg", []byte("front-bytes")},
		part{"back.pdf", "application/pdf", []byte("back-bytes")},
	))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}

	items, _ := f.repo.List(context.Background())
	if len(items) != 1 {
		t.Fatalf("expected 1 record, got %d", len(items))
	}
	if len(items[0].CardImages) != 2 {
		t.Fatalf("expected 2 card images, got %v", items[0].CardImages)
	}
	if f.blobs.Len() != 2 {
		t.Errorf("expected 2 stored blobs, got %d", f.blobs.Len())
	}
	for _, id := range items[0].CardImages {
		if !strings.HasPrefix(id, "insurance-") {
			t.Errorf("unexpected blob id %q", id)
		}
	}
}

func TestCreateInsurance_RejectsBadUploads(t *testing.T) {
	tests := []struct {
		name   string
		files  []part
		status int
		code   string
	}{
		{
			name:   "too many files",
			files:  []part{{"a.png", "image/png", []byte("a")}, {"b.png", "image/png", []byte("b")}, {"c.png", "image/png", []byte("c")}},
			status: http.StatusBadRequest,
			code:   apperr.CodeTooManyFiles,
		},
		{
			name:   "wrong type",
			files:  []part{{"card.gif", "image/gif", []byte("gif")}},
			status: http.StatusBadRequest,
			code:   apperr.CodeInvalidFileType,
		},
		{
			name:   "extension and mime disagree",
			files:  []part{{"card.exe", "image/png", []byte("png")}},
			status: http.StatusBadRequest,
			code:   apperr.CodeInvalidFileType,
		},
		{
			name:   "too large",
			files:  []part{{"big.jpg", "image/jpeg", bytes.Repeat([]byte("x"), blobstore.MaxFileSize+1)}},
			status: http.StatusRequestEntityTooLarge,
			code:   apperr.CodeFileTooLarge,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			rec := f.do(multipartRequest(t, validFields, tt.files...))
			if rec.Code != tt.status {
				t.Fatalf("expected %d, got %d: %s", tt.status, rec.Code, rec.Body.String())
			}
			if code := errorCode(t, rec); code != tt.code {
				t.Errorf("expected code %s, got %s", tt.code, code)
			}
			if f.blobs.Len() != 0 {
				t.Errorf("expected no stored blobs, got %d", f.blobs.Len())
			}
			if items, _ := f.repo.List(context.Background()); len(items) != 0 {
				t.Errorf("expected no records, got %d", len(items))
			}
		})
	}
}

func TestCreateInsurance_Validation(t *testing.T) {
	f := newFixture(t)

	rec := f.do(jsonRequest(http.MethodPost, "/api/insurance",
		`{"patientId":"abc","provider":"B","policyNumber":"","subscriberName":"J"}`))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var body struct {
		Code    string `json:"code"`
		Details []struct {
			Field   string `json:"field"`
			Message string `json:"message"`
		} `json:"details"`
	}
	json.Unmarshal(rec.Body.Bytes(), &body)
	if body.Code != apperr.CodeValidation {
		t.Fatalf("expected validation error, got %s", body.Code)
	}
	got := map[string]string{}
	for _, d := range body.Details {
		got[d.Field] = d.Message
	}
	want := map[string]string{
		"provider":       "Insurance provider must be between 2 and 100 characters",
		"policyNumber":   "Policy number is required",
		"subscriberName": "Subscriber name must be between 2 and 100 characters",
		"patientId":      "Valid patient ID is required",
	}
	for field, msg := range want {
		if got[field] != msg {
			t.Errorf("%s: expected %q, got %q", field, msg, got[field])
		}
	}
}

func TestCreateInsurance_UnknownPatient(t *testing.T) {
	f := newFixture(t)

	rec := f.do(jsonRequest(http.MethodPost, "/api/insurance",
		`{"patientId":99,"provider":"Aetna","policyNumber":"P1","subscriberName":"Jane Roe"}`))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if code := errorCode(t, rec); code != apperr.CodePatientNotFound {
		t.Errorf("expected PATIENT_NOT_FOUND, got %s", code)
	}
}

type failingRepo struct{ *MemoryRepo }

func (failingRepo) Create(context.Context, *Insurance) error { return errors.New("disk full") }

func TestCreate_RemovesImagesWhenRecordFails(t *testing.T) {
	blobs := blobstore.NewInMemoryBlobStore()
	patients := patient.NewMemoryRepo()
	patients.Create(context.Background(), &patient.Patient{FirstName: "A", LastName: "B"})
	svc := NewService(failingRepo{NewMemoryRepo()}, patients, blobs, zerolog.Nop())

	uploads := []Upload{{
		FileName:    "front.png",
		ContentType: "image/png",
		Size:        3,
		Open:        func() (io.ReadCloser, error) { return io.NopCloser(strings.NewReader("png")), nil },
	}}
	_, err := svc.Create(context.Background(), map[string]any{
		"patientId": 1.0, "provider": "Aetna", "policyNumber": "P1", "subscriberName": "A B",
	}, uploads)
	if err == nil {
		t.Fatal("expected error")
	}
	if blobs.Len() != 0 {
		t.Errorf("expected orphaned images removed, %d left", blobs.Len())
	}
}

func TestGetInsurance(t *testing.T) {
	f := newFixture(t)
	f.repo.Create(context.Background(), &Insurance{PatientID: 1, Provider: "Aetna", PolicyNumber: "P1", SubscriberName: "John Doe"})

	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/insurance/1", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Insurance information retrieved successfully") {
		t.Errorf("unexpected body %s", rec.Body.String())
	}

	rec = f.do(httptest.NewRequest(http.MethodGet, "/api/insurance/2", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
	rec = f.do(httptest.NewRequest(http.MethodGet, "/api/insurance/zero", nil))
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
	if code := errorCode(t, rec); code != apperr.CodeInvalidPatientID {
		t.Errorf("expected INVALID_PATIENT_ID, got %s", code)
	}
}

func TestDownloadCardImage(t *testing.T) {
	f := newFixture(t)
	meta, err := f.blobs.Upload(context.Background(),
		blobstore.BlobMetadata{FileName: "front.png", ContentType: "image/png"}, strings.NewReader("png-bytes"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}

	rec := f.do(httptest.NewRequest(http.MethodGet, "/api/admin/uploads/"+meta.ID, nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get(echo.HeaderContentType); ct != "image/png" {
		t.Errorf("expected image/png, got %s", ct)
	}
	if rec.Body.String() != "png-bytes" {
		t.Errorf("unexpected body %q", rec.Body.String())
	}

	rec = f.do(httptest.NewRequest(http.MethodGet, "/api/admin/uploads/missing", nil))
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}
