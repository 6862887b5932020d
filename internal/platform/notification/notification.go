// Package notification renders and delivers outbound patient messages. The
// check-in confirmation is the only message today; senders are pluggable so
// a deployment can log it, publish it to Kafka, or hand it to a mailer.
package notification

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// TemplateCheckInConfirmation is sent when a patient completes check-in.
const TemplateCheckInConfirmation = "checkin-confirmation"

// Status is the delivery state of a Notification.
type Status string

const (
	StatusPending Status = "pending"
	StatusSent    Status = "sent"
	StatusFailed  Status = "failed"
)

// Notification records one rendered message and its delivery outcome.
type Notification struct {
	ID           string            `json:"id"`
	Recipient    string            `json:"recipient"`
	Subject      string            `json:"subject"`
	Body         string            `json:"body"`
	TemplateID   string            `json:"template_id,omitempty"`
	TemplateData map[string]string `json:"template_data,omitempty"`
	Status       Status            `json:"status"`
	CreatedAt    time.Time         `json:"created_at"`
	SentAt       *time.Time        `json:"sent_at,omitempty"`
	Error        string            `json:"error,omitempty"`
}

// EmailSender delivers a rendered message.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// Template is a subject and body with {{key}} placeholders.
type Template struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

var builtinTemplates = []Template{{
	ID:      TemplateCheckInConfirmation,
	Name:    "Check-in Confirmation",
	Subject: "Check-in Complete - {{patient_name}}",
	Body: `Dear {{first_name}},

Your appointment check-in has been completed successfully!

Summary:
- Patient: {{patient_name}}
- Check-in completed at: {{completed_at}}
- Estimated wait time: {{wait_minutes}} minutes

Please have a seat in the waiting area. You will be called when it's time for your appointment.

If you have any questions, please speak with the front desk staff.

Thank you for choosing our healthcare facility.`,
}}

// TemplateEngine holds templates by ID. It is safe for concurrent use.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]Template
}

// NewTemplateEngine returns an engine preloaded with the check-in
// confirmation.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{templates: make(map[string]Template, len(builtinTemplates))}
	for _, t := range builtinTemplates {
		e.RegisterTemplate(t)
	}
	return e
}

func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	e.templates[t.ID] = t
	e.mu.Unlock()
}

// Render fills {{key}} placeholders from data. Placeholders absent from
// data are left as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (subject, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", templateID)
	}

	pairs := make([]string, 0, 2*len(data))
	for k, v := range data {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	r := strings.NewReplacer(pairs...)
	return r.Replace(t.Subject), r.Replace(t.Body), nil
}

// Manager renders templates and hands them to the configured sender.
type Manager struct {
	sender    EmailSender
	templates *TemplateEngine
	now       func() time.Time
}

// NewManager uses the built-in templates when tpl is nil.
func NewManager(sender EmailSender, tpl *TemplateEngine) *Manager {
	if tpl == nil {
		tpl = NewTemplateEngine()
	}
	return &Manager{sender: sender, templates: tpl, now: func() time.Time { return time.Now().UTC() }}
}

// SendFromTemplate renders templateID and sends it. The returned
// notification records the outcome even when err is non-nil.
func (m *Manager) SendFromTemplate(ctx context.Context, templateID string, data map[string]string, recipient string) (*Notification, error) {
	if recipient == "" {
		return nil, errors.New("notification recipient is empty")
	}
	subject, body, err := m.templates.Render(templateID, data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	n := &Notification{
		ID:           uuid.NewString(),
		Recipient:    recipient,
		Subject:      subject,
		Body:         body,
		TemplateID:   templateID,
		TemplateData: data,
		Status:       StatusPending,
		CreatedAt:    m.now(),
	}
	if err := m.sender.SendEmail(ctx, n.Recipient, n.Subject, n.Body); err != nil {
		n.Status, n.Error = StatusFailed, err.Error()
		return n, fmt.Errorf("send %s: %w", templateID, err)
	}
	sentAt := m.now()
	n.Status, n.SentAt = StatusSent, &sentAt
	return n, nil
}

// EmailCall records a single call to SendEmail.
type EmailCall struct {
	To      string
	Subject string
	Body    string
}

// MockEmailSender is a test double for EmailSender.
type MockEmailSender struct {
	mu         sync.Mutex
	calls      []EmailCall
	ShouldFail bool
	FailError  string
}

func (m *MockEmailSender) SendEmail(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, EmailCall{To: to, Subject: subject, Body: body})
	if m.ShouldFail {
		return errors.New(m.FailError)
	}
	return nil
}

// Calls returns a copy of recorded email calls.
func (m *MockEmailSender) Calls() []EmailCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]EmailCall, len(m.calls))
	copy(out, m.calls)
	return out
}
