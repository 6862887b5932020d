// Package wizard is the client-side check-in state machine. It tracks the
// active step, the completed steps and the values typed so far, and
// persists all of it after every change so a session can be resumed.
package wizard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
)

type Step int

const (
	StepDemographics Step = iota + 1
	StepInsurance
	StepClinicalForms
	StepConfirmation
)

// FirstStep and LastStep bound the wizard.
const (
	FirstStep = StepDemographics
	LastStep  = StepConfirmation
)

var stepNames = map[Step]string{
	StepDemographics:  "demographics",
	StepInsurance:     "insurance",
	StepClinicalForms: "clinical-forms",
	StepConfirmation:  "confirmation",
}

func (s Step) String() string {
	if n, ok := stepNames[s]; ok {
		return n
	}
	return "step-" + strconv.Itoa(int(s))
}

// Path is the client route for the step.
func (s Step) Path() string { return "/" + s.String() }

func (s Step) Valid() bool { return s >= FirstStep && s <= LastStep }

// ParseStep accepts a step number or name.
func ParseStep(raw string) (Step, error) {
	if n, err := strconv.Atoi(raw); err == nil {
		if s := Step(n); s.Valid() {
			return s, nil
		}
		return 0, fmt.Errorf("%w: %d", ErrInvalidStep, n)
	}
	for s, name := range stepNames {
		if name == raw {
			return s, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidStep, raw)
}

// Mode separates the patient wizard from the staff admin view.
type Mode string

const (
	ModeWizard Mode = "wizard"
	ModeAdmin  Mode = "admin"
)

// Persistence keys, shared with the web client's local storage layout.
const (
	KeyFormData       = "checkInFormData"
	KeyCurrentStep    = "checkInCurrentStep"
	KeyCompletedSteps = "checkInCompletedSteps"
	KeyPatientID      = "checkInPatientId"
	KeyStateVersion   = "checkInStateVersion"
)

// StateVersion is bumped whenever the persisted layout changes. State
// written under any other version is discarded on load.
const StateVersion = 2

var allKeys = []string{KeyFormData, KeyCurrentStep, KeyCompletedSteps, KeyPatientID, KeyStateVersion}

var (
	ErrInvalidStep = errors.New("invalid step")
	ErrStepLocked  = errors.New("previous step not completed")
)

// Form sections, keyed by the step that submits them.
const (
	SectionDemographics  = "demographics"
	SectionInsurance     = "insurance"
	SectionClinicalForms = "clinicalForms"
)

// FormData holds field values per section.
type FormData map[string]map[string]string

func (f FormData) clone() FormData {
	out := make(FormData, len(f))
	for section, fields := range f {
		cp := make(map[string]string, len(fields))
		for k, v := range fields {
			cp[k] = v
		}
		out[section] = cp
	}
	return out
}

// State is a snapshot of the machine.
type State struct {
	CurrentStep    Step
	CompletedSteps []Step // ascending
	FormData       FormData
	PatientID      int64
}

// Completed reports whether step is in the completed set.
func (s State) Completed(step Step) bool {
	for _, c := range s.CompletedSteps {
		if c == step {
			return true
		}
	}
	return false
}

// Machine is not safe for concurrent use; a wizard session is driven by a
// single goroutine.
type Machine struct {
	store     Storage
	current   Step
	completed map[Step]bool
	form      FormData
	patientID int64
	mode      Mode
}

func newMachine(store Storage) *Machine {
	return &Machine{
		store:     store,
		current:   FirstStep,
		completed: map[Step]bool{},
		form:      FormData{},
		mode:      ModeWizard,
	}
}

// Load rehydrates a machine from store. Persisted state from another
// version, or state that fails to parse, is cleared and the machine starts
// at step 1. Only storage failures are returned as errors.
func Load(ctx context.Context, store Storage) (*Machine, error) {
	m := newMachine(store)
	restored, err := m.restore(ctx)
	if err != nil {
		return nil, err
	}
	if !restored {
		if err := store.Delete(ctx, allKeys...); err != nil {
			return nil, fmt.Errorf("clear stale wizard state: %w", err)
		}
		m = newMachine(store)
	}
	return m, nil
}

// restore reports false when persisted state exists but cannot be used.
// An empty store restores trivially.
func (m *Machine) restore(ctx context.Context) (bool, error) {
	values := make(map[string]string, len(allKeys))
	for _, k := range allKeys {
		v, ok, err := m.store.Get(ctx, k)
		if err != nil {
			return false, fmt.Errorf("load %s: %w", k, err)
		}
		if ok {
			values[k] = v
		}
	}
	if len(values) == 0 {
		return true, nil
	}
	if values[KeyStateVersion] != strconv.Itoa(StateVersion) {
		return false, nil
	}

	if raw, ok := values[KeyCurrentStep]; ok {
		n, err := strconv.Atoi(raw)
		if err != nil || !Step(n).Valid() {
			return false, nil
		}
		m.current = Step(n)
	}
	if raw, ok := values[KeyCompletedSteps]; ok {
		var steps []int
		if err := json.Unmarshal([]byte(raw), &steps); err != nil {
			return false, nil
		}
		for _, n := range steps {
			if !Step(n).Valid() {
				return false, nil
			}
			m.completed[Step(n)] = true
		}
	}
	if raw, ok := values[KeyFormData]; ok {
		form := FormData{}
		if err := json.Unmarshal([]byte(raw), &form); err != nil {
			return false, nil
		}
		m.form = form
	}
	if raw, ok := values[KeyPatientID]; ok && raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id < 0 {
			return false, nil
		}
		m.patientID = id
	}

	// A current step the completed set cannot reach is not resumable.
	if !m.CanNavigate(m.current) {
		m.current = FirstStep
	}
	return true, nil
}

func (m *Machine) save(ctx context.Context) error {
	form, err := json.Marshal(m.form)
	if err != nil {
		return fmt.Errorf("encode form data: %w", err)
	}
	steps, err := json.Marshal(m.completedList())
	if err != nil {
		return fmt.Errorf("encode completed steps: %w", err)
	}

	writes := []struct{ key, value string }{
		{KeyStateVersion, strconv.Itoa(StateVersion)},
		{KeyFormData, string(form)},
		{KeyCurrentStep, strconv.Itoa(int(m.current))},
		{KeyCompletedSteps, string(steps)},
		{KeyPatientID, strconv.FormatInt(m.patientID, 10)},
	}
	for _, w := range writes {
		if err := m.store.Set(ctx, w.key, w.value); err != nil {
			return fmt.Errorf("persist %s: %w", w.key, err)
		}
	}
	return nil
}

func (m *Machine) completedList() []Step {
	out := make([]Step, 0, len(m.completed))
	for s := range m.completed {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (m *Machine) State() State {
	return State{
		CurrentStep:    m.current,
		CompletedSteps: m.completedList(),
		FormData:       m.form.clone(),
		PatientID:      m.patientID,
	}
}

func (m *Machine) Current() Step { return m.current }
func (m *Machine) PatientID() int64 { return m.patientID }
func (m *Machine) Mode() Mode { return m.mode }

// CanNavigate reports whether step is reachable: step 1 always, any other
// step once its predecessor is completed.
func (m *Machine) CanNavigate(step Step) bool {
	if !step.Valid() {
		return false
	}
	return step == FirstStep || m.completed[step-1]
}

// Navigate moves to step, or to step 1 when step is not reachable. It
// returns the step the machine landed on.
func (m *Machine) Navigate(ctx context.Context, step Step) (Step, error) {
	if !step.Valid() {
		return m.current, fmt.Errorf("%w: %d", ErrInvalidStep, step)
	}
	if !m.CanNavigate(step) {
		step = FirstStep
	}
	m.current = step
	m.mode = ModeWizard
	return m.current, m.save(ctx)
}

// CompleteStep marks step completed after its submission succeeded and
// advances to the next step.
func (m *Machine) CompleteStep(ctx context.Context, step Step) error {
	if !step.Valid() {
		return fmt.Errorf("%w: %d", ErrInvalidStep, step)
	}
	if !m.CanNavigate(step) {
		return fmt.Errorf("%w: %s", ErrStepLocked, step)
	}
	m.completed[step] = true
	if step < LastStep {
		m.current = step + 1
	} else {
		m.current = step
	}
	return m.save(ctx)
}

// UpdateSection merges values into a form section.
func (m *Machine) UpdateSection(ctx context.Context, section string, values map[string]string) error {
	fields, ok := m.form[section]
	if !ok {
		fields = map[string]string{}
		m.form[section] = fields
	}
	for k, v := range values {
		fields[k] = v
	}
	return m.save(ctx)
}

// Section returns a copy of one form section.
func (m *Machine) Section(section string) map[string]string {
	out := map[string]string{}
	for k, v := range m.form[section] {
		out[k] = v
	}
	return out
}

func (m *Machine) SetPatientID(ctx context.Context, id int64) error {
	m.patientID = id
	return m.save(ctx)
}

// EnterAdmin switches to the staff view without touching wizard progress.
func (m *Machine) EnterAdmin() { m.mode = ModeAdmin }

// LeaveAdmin returns to the wizard at the current step.
func (m *Machine) LeaveAdmin() { m.mode = ModeWizard }

// Reset clears all persisted keys and returns to step 1.
func (m *Machine) Reset(ctx context.Context) error {
	if err := m.store.Delete(ctx, allKeys...); err != nil {
		return fmt.Errorf("clear wizard state: %w", err)
	}
	*m = *newMachine(m.store)
	return nil
}
