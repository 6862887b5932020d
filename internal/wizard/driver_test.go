package wizard

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	completeCalls atomic.Int32
	completeErr   error
	submitted     []Step
}

func (f *fakeAPI) SubmitDemographics(context.Context, map[string]string) (int64, error) {
	f.submitted = append(f.submitted, StepDemographics)
	return 7, nil
}

func (f *fakeAPI) SubmitInsurance(_ context.Context, patientID int64, _ map[string]string, _ []CardImage) error {
	f.submitted = append(f.submitted, StepInsurance)
	return nil
}

func (f *fakeAPI) SubmitClinicalForms(context.Context, int64, map[string]string) error {
	f.submitted = append(f.submitted, StepClinicalForms)
	return nil
}

func (f *fakeAPI) Complete(_ context.Context, _ int64, wait int) (*Completion, error) {
	f.completeCalls.Add(1)
	if f.completeErr != nil {
		return nil, f.completeErr
	}
	return &Completion{EstimatedWaitTime: wait}, nil
}

func readyDriver(t *testing.T, api API) *Driver {
	t.Helper()
	ctx := context.Background()
	d := NewDriver(load(t, NewMemoryStorage()), api)
	for _, s := range []Step{StepDemographics, StepInsurance, StepClinicalForms} {
		require.NoError(t, d.Submit(ctx, s))
	}
	return d
}

func TestDriver_SubmitsInOrder(t *testing.T) {
	api := &fakeAPI{}
	d := readyDriver(t, api)

	assert.Equal(t, []Step{1, 2, 3}, api.submitted)
	assert.Equal(t, int64(7), d.Machine().PatientID())
	assert.Equal(t, StepConfirmation, d.Machine().Current())
}

func TestDriver_LockedStepRedirects(t *testing.T) {
	api := &fakeAPI{}
	d := NewDriver(load(t, NewMemoryStorage()), api)

	err := d.Submit(context.Background(), StepClinicalForms)
	assert.ErrorIs(t, err, ErrStepLocked)
	assert.Equal(t, StepDemographics, d.Machine().Current())
	assert.Empty(t, api.submitted)

	_, err = d.Complete(context.Background())
	assert.ErrorIs(t, err, ErrStepLocked)
	assert.Zero(t, api.completeCalls.Load())
}

func TestDriver_CompleteIsOneShot(t *testing.T) {
	api := &fakeAPI{}
	d := readyDriver(t, api)
	ctx := context.Background()

	res, err := d.Complete(ctx)
	require.NoError(t, err)
	assert.Equal(t, 20, res.EstimatedWaitTime)

	_, err = d.Complete(ctx)
	assert.ErrorIs(t, err, ErrAlreadyComplete)
	assert.Equal(t, int32(1), api.completeCalls.Load())
	assert.True(t, d.Machine().State().Completed(StepConfirmation))
}

func TestDriver_CompleteRetriesAfterFailure(t *testing.T) {
	api := &fakeAPI{completeErr: errors.New("connection refused")}
	d := readyDriver(t, api)
	ctx := context.Background()

	_, err := d.Complete(ctx)
	require.Error(t, err)

	api.completeErr = nil
	_, err = d.Complete(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), api.completeCalls.Load())
}

func TestDriver_ServerDuplicateMarksComplete(t *testing.T) {
	api := &fakeAPI{completeErr: &APIError{Status: 400, Code: "ALREADY_COMPLETED", Title: "Check-in already completed for this patient"}}
	d := readyDriver(t, api)

	_, err := d.Complete(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyComplete)
	assert.True(t, d.Machine().State().Completed(StepConfirmation))

	_, err = d.Complete(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyComplete)
	assert.Equal(t, int32(1), api.completeCalls.Load())
}

func TestDriver_ResetAllowsNewSession(t *testing.T) {
	api := &fakeAPI{}
	d := readyDriver(t, api)
	ctx := context.Background()
	_, err := d.Complete(ctx)
	require.NoError(t, err)

	require.NoError(t, d.Reset(ctx))
	assert.Equal(t, StepDemographics, d.Machine().Current())
	for _, s := range []Step{StepDemographics, StepInsurance, StepClinicalForms} {
		require.NoError(t, d.Submit(ctx, s))
	}
	_, err = d.Complete(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), api.completeCalls.Load())
}

func TestClient_AgainstServer(t *testing.T) {
	got := map[string]map[string]any{}
	var insuranceContentType string

	mux := http.NewServeMux()
	mux.HandleFunc("/api/patients", func(w http.ResponseWriter, r *http.Request) {
		body := map[string]any{}
		json.NewDecoder(r.Body).Decode(&body)
		got["patients"] = body
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"message":"Patient demographics saved successfully","patient":{"id":41}}`)
	})
	mux.HandleFunc("/api/insurance", func(w http.ResponseWriter, r *http.Request) {
		insuranceContentType = r.Header.Get("Content-Type")
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		got["insurance"] = map[string]any{"patientId": r.FormValue("patientId"), "files": len(r.MultipartForm.File["cardImages"])}
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"message":"ok","data":{}}`)
	})
	mux.HandleFunc("/api/clinical-forms", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":"Validation failed","code":"VALIDATION_ERROR","details":[{"field":"allergies","message":"Allergies is required"}]}`)
	})
	mux.HandleFunc("/api/completion", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
		io.WriteString(w, `{"message":"Check-in completed successfully","data":{"completion":{"confirmation_sent":true},"patient":{"name":"John Doe"},"estimatedWaitTime":20}}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	ctx := context.Background()
	c := NewClient(srv.URL+"/api/", srv.Client())

	id, err := c.SubmitDemographics(ctx, map[string]string{"first_name": "John"})
	require.NoError(t, err)
	assert.Equal(t, int64(41), id)
	assert.Equal(t, "John", got["patients"]["first_name"])

	err = c.SubmitInsurance(ctx, id, map[string]string{"provider": "Aetna"},
		[]CardImage{{Name: "/tmp/front.png", ContentType: "image/png", Content: strings.NewReader("png")}})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(insuranceContentType, "multipart/form-data"))
	assert.Equal(t, "41", got["insurance"]["patientId"])
	assert.Equal(t, 1, got["insurance"]["files"])

	err = c.SubmitClinicalForms(ctx, id, map[string]string{})
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "VALIDATION_ERROR", apiErr.Code)
	require.Len(t, apiErr.Details, 1)
	assert.Equal(t, "allergies", apiErr.Details[0].Field)

	res, err := c.Complete(ctx, id, 20)
	require.NoError(t, err)
	assert.Equal(t, "John Doe", res.PatientName)
	assert.True(t, res.ConfirmationSent)
}
