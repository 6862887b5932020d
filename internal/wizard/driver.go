package wizard

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
)

var (
	ErrNoPatient       = errors.New("no patient registered for this session")
	ErrAlreadyComplete = errors.New("check-in completion already sent")
)

// codeAlreadyCompleted is the server's duplicate-completion code.
const codeAlreadyCompleted = "ALREADY_COMPLETED"

var stepSection = map[Step]string{
	StepDemographics:  SectionDemographics,
	StepInsurance:     SectionInsurance,
	StepClinicalForms: SectionClinicalForms,
}

// Driver submits the wizard's steps to the API and advances the machine on
// success. Complete sends the completion at most once per session.
type Driver struct {
	m           *Machine
	api         API
	WaitMinutes int

	completing atomic.Bool
}

// Section returns the form section step submits. The confirmation step has
// none.
func (s Step) Section() (string, bool) {
	section, ok := stepSection[s]
	return section, ok
}

func NewDriver(m *Machine, api API) *Driver {
	return &Driver{m: m, api: api, WaitMinutes: 20}
}

func (d *Driver) Machine() *Machine { return d.m }

// Submit posts the section for step and completes the step when the server
// accepts it. images are only sent with the insurance step.
func (d *Driver) Submit(ctx context.Context, step Step, images ...CardImage) error {
	section, ok := step.Section()
	if !ok {
		return fmt.Errorf("%w: %s cannot be submitted", ErrInvalidStep, step)
	}
	if !d.m.CanNavigate(step) {
		if _, err := d.m.Navigate(ctx, step); err != nil {
			return err
		}
		return fmt.Errorf("%w: %s", ErrStepLocked, step)
	}

	fields := d.m.Section(section)
	switch step {
	case StepDemographics:
		id, err := d.api.SubmitDemographics(ctx, fields)
		if err != nil {
			return err
		}
		if err := d.m.SetPatientID(ctx, id); err != nil {
			return err
		}
	case StepInsurance:
		if d.m.PatientID() == 0 {
			return ErrNoPatient
		}
		if err := d.api.SubmitInsurance(ctx, d.m.PatientID(), fields, images); err != nil {
			return err
		}
	case StepClinicalForms:
		if d.m.PatientID() == 0 {
			return ErrNoPatient
		}
		if err := d.api.SubmitClinicalForms(ctx, d.m.PatientID(), fields); err != nil {
			return err
		}
	}
	return d.m.CompleteStep(ctx, step)
}

// Complete sends the completion for the session's patient. A repeated call
// returns ErrAlreadyComplete without contacting the server; a failed call
// can be retried.
func (d *Driver) Complete(ctx context.Context) (*Completion, error) {
	if !d.m.CanNavigate(StepConfirmation) {
		if _, err := d.m.Navigate(ctx, StepConfirmation); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %s", ErrStepLocked, StepConfirmation)
	}
	if d.m.State().Completed(StepConfirmation) {
		return nil, ErrAlreadyComplete
	}
	if d.m.PatientID() == 0 {
		return nil, ErrNoPatient
	}
	if !d.completing.CompareAndSwap(false, true) {
		return nil, ErrAlreadyComplete
	}

	res, err := d.api.Complete(ctx, d.m.PatientID(), d.WaitMinutes)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Code == codeAlreadyCompleted {
			if markErr := d.m.CompleteStep(ctx, StepConfirmation); markErr != nil {
				return nil, markErr
			}
			return nil, ErrAlreadyComplete
		}
		d.completing.Store(false)
		return nil, err
	}
	if err := d.m.CompleteStep(ctx, StepConfirmation); err != nil {
		return res, err
	}
	return res, nil
}

// Reset clears the session so a new patient can start.
func (d *Driver) Reset(ctx context.Context) error {
	d.completing.Store(false)
	return d.m.Reset(ctx)
}
