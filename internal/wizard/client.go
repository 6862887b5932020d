package wizard

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// FieldError mirrors a server validation detail.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// APIError is a non-2xx response from the check-in API.
type APIError struct {
	Status  int          `json:"-"`
	Title   string       `json:"error"`
	Message string       `json:"message"`
	Code    string       `json:"code"`
	Details []FieldError `json:"details"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%d %s: %s: %s", e.Status, e.Code, e.Title, e.Message)
	}
	return fmt.Sprintf("%d %s: %s", e.Status, e.Code, e.Title)
}

// CardImage is a local file sent with the insurance step.
type CardImage struct {
	Name        string
	ContentType string
	Content     io.Reader
}

// Completion is the data returned by the completion step.
type Completion struct {
	CompletedAt       time.Time `json:"completed_at"`
	EstimatedWaitTime int       `json:"estimatedWaitTime"`
	ConfirmationSent  bool      `json:"confirmation_sent"`
	PatientName       string    `json:"patient_name"`
}

// API is the server surface the driver needs.
type API interface {
	SubmitDemographics(ctx context.Context, fields map[string]string) (patientID int64, err error)
	SubmitInsurance(ctx context.Context, patientID int64, fields map[string]string, images []CardImage) error
	SubmitClinicalForms(ctx context.Context, patientID int64, fields map[string]string) error
	Complete(ctx context.Context, patientID int64, waitMinutes int) (*Completion, error)
}

// Client talks to the check-in REST API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient targets baseURL, e.g. "http://localhost:5001/api".
func NewClient(baseURL string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), http: hc}
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		if json.Unmarshal(body, apiErr) != nil || apiErr.Title == "" {
			apiErr.Title = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func withPatient(patientID int64, fields map[string]string) map[string]any {
	payload := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		payload[k] = v
	}
	payload["patientId"] = patientID
	return payload
}

func (c *Client) SubmitDemographics(ctx context.Context, fields map[string]string) (int64, error) {
	var resp struct {
		Patient struct {
			ID int64 `json:"id"`
		} `json:"patient"`
	}
	if err := c.postJSON(ctx, "/patients", fields, &resp); err != nil {
		return 0, err
	}
	return resp.Patient.ID, nil
}

func (c *Client) SubmitInsurance(ctx context.Context, patientID int64, fields map[string]string, images []CardImage) error {
	if len(images) == 0 {
		return c.postJSON(ctx, "/insurance", withPatient(patientID, fields), nil)
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return err
		}
	}
	if err := w.WriteField("patientId", strconv.FormatInt(patientID, 10)); err != nil {
		return err
	}
	for _, img := range images {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="cardImages"; filename="%s"`, filepath.Base(img.Name)))
		h.Set("Content-Type", img.ContentType)
		part, err := w.CreatePart(h)
		if err != nil {
			return err
		}
		if _, err := io.Copy(part, img.Content); err != nil {
			return fmt.Errorf("attach %s: %w", img.Name, err)
		}
	}
	if err := w.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/insurance", &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	return c.do(req, nil)
}

func (c *Client) SubmitClinicalForms(ctx context.Context, patientID int64, fields map[string]string) error {
	return c.postJSON(ctx, "/clinical-forms", withPatient(patientID, fields), nil)
}

func (c *Client) Complete(ctx context.Context, patientID int64, waitMinutes int) (*Completion, error) {
	var resp struct {
		Data struct {
			Completion struct {
				CompletedAt      time.Time `json:"completed_at"`
				ConfirmationSent bool      `json:"confirmation_sent"`
			} `json:"completion"`
			Patient struct {
				Name string `json:"name"`
			} `json:"patient"`
			EstimatedWaitTime int `json:"estimatedWaitTime"`
		} `json:"data"`
	}
	payload := map[string]any{"patientId": patientID, "estimatedWaitTime": waitMinutes}
	if err := c.postJSON(ctx, "/completion", payload, &resp); err != nil {
		return nil, err
	}
	return &Completion{
		CompletedAt:       resp.Data.Completion.CompletedAt,
		EstimatedWaitTime: resp.Data.EstimatedWaitTime,
		ConfirmationSent:  resp.Data.Completion.ConfirmationSent,
		PatientName:       resp.Data.Patient.Name,
	}, nil
}
