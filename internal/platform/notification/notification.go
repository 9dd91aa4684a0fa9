// Package notification provides email delivery for alert events with
// template rendering and test doubles.
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

// EmailSender is the interface for sending email messages.
type EmailSender interface {
	SendEmail(ctx context.Context, to, subject, body string) error
}

// ---------------------------------------------------------------------------
// Template Engine
// ---------------------------------------------------------------------------

// Template defines a reusable notification template.
type Template struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

// TemplateEngine manages notification templates and renders them with data.
type TemplateEngine struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewTemplateEngine creates a TemplateEngine with the built-in templates pre-registered.
func NewTemplateEngine() *TemplateEngine {
	e := &TemplateEngine{
		templates: make(map[string]*Template),
	}
	e.registerBuiltIn()
	return e
}

func (e *TemplateEngine) registerBuiltIn() {
	builtIn := []Template{
		{
			ID:      "urgent-alert",
			Name:    "Urgent Alert",
			Subject: "Action needed: {{title}}",
			Body:    "Dear {{recipient_name}}, you have an urgent notification: {{body}}. Please log in to review it.",
		},
		{
			ID:      "appointment-reminder",
			Name:    "Appointment Reminder",
			Subject: "Appointment Reminder for {{recipient_name}}",
			Body:    "Dear {{recipient_name}}, this is a reminder of your appointment on {{date}} at {{time}} with {{provider}}.",
		},
		{
			ID:      "lab-result-ready",
			Name:    "Lab Result Ready",
			Subject: "Your Lab Results Are Ready",
			Body:    "Dear {{recipient_name}}, your {{lab_type}} lab results are now available. Please log in to view them.",
		},
		{
			ID:      "prescription-ready",
			Name:    "Prescription Ready",
			Subject: "Your Prescription Is Ready",
			Body:    "Dear {{recipient_name}}, your prescription for {{medication}} is ready.",
		},
	}
	for i := range builtIn {
		t := builtIn[i]
		e.templates[t.ID] = &t
	}
}

// RegisterTemplate adds or replaces a template in the engine.
func (e *TemplateEngine) RegisterTemplate(t Template) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.templates[t.ID] = &t
}

// Render looks up a template by ID and performs {{key}} replacement using the
// supplied data map. Keys present in the template but absent from data are left
// as-is.
func (e *TemplateEngine) Render(templateID string, data map[string]string) (subject, body string, err error) {
	e.mu.RLock()
	t, ok := e.templates[templateID]
	e.mu.RUnlock()
	if !ok {
		return "", "", fmt.Errorf("template %q not found", templateID)
	}

	subject = t.Subject
	body = t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return subject, body, nil
}

// ---------------------------------------------------------------------------
// Mock Sender (test double)
// ---------------------------------------------------------------------------

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

// SendEmail records the call and optionally returns an error.
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

// ---------------------------------------------------------------------------
// Manager
// ---------------------------------------------------------------------------

// Delivery records a single outbound email and its outcome.
type Delivery struct {
	ID         string     `json:"id"`
	Recipient  string     `json:"recipient"`
	Subject    string     `json:"subject"`
	Body       string     `json:"body"`
	TemplateID string     `json:"template_id,omitempty"`
	Status     string     `json:"status"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	SentAt     *time.Time `json:"sent_at,omitempty"`
}

// Manager renders templates, dispatches email, and keeps an in-memory record
// of deliveries for inspection and retry.
type Manager struct {
	sender     EmailSender
	templates  *TemplateEngine
	mu         sync.RWMutex
	deliveries map[string]*Delivery
}

// NewManager constructs a Manager.
func NewManager(sender EmailSender, tpl *TemplateEngine) *Manager {
	return &Manager{
		sender:     sender,
		templates:  tpl,
		deliveries: make(map[string]*Delivery),
	}
}

// Send dispatches an email, assigns an ID and timestamps, and records the result.
func (m *Manager) Send(ctx context.Context, recipient, subject, body string) (*Delivery, error) {
	d := &Delivery{
		ID:        uuid.New().String(),
		Recipient: recipient,
		Subject:   subject,
		Body:      body,
		Status:    "pending",
		CreatedAt: time.Now().UTC(),
	}

	sendErr := m.sender.SendEmail(ctx, recipient, subject, body)
	if sendErr != nil {
		d.Status = "failed"
		d.Error = sendErr.Error()
	} else {
		d.Status = "sent"
		sentAt := time.Now().UTC()
		d.SentAt = &sentAt
	}

	m.mu.Lock()
	m.deliveries[d.ID] = d
	m.mu.Unlock()

	return d, sendErr
}

// SendFromTemplate renders a template and sends the resulting email.
func (m *Manager) SendFromTemplate(ctx context.Context, templateID string, data map[string]string, recipient string) (*Delivery, error) {
	subject, body, err := m.templates.Render(templateID, data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	d, err := m.Send(ctx, recipient, subject, body)
	if d != nil {
		d.TemplateID = templateID
	}
	return d, err
}

// Get retrieves a delivery record by ID.
func (m *Manager) Get(id string) (*Delivery, error) {
	m.mu.RLock()
	d, ok := m.deliveries[id]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("delivery %q not found", id)
	}
	return d, nil
}

// Retry re-sends a failed delivery. Returns an error if the delivery is not
// in "failed" status.
func (m *Manager) Retry(ctx context.Context, id string) error {
	m.mu.RLock()
	d, ok := m.deliveries[id]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("delivery %q not found", id)
	}
	if d.Status != "failed" {
		return fmt.Errorf("delivery %q is not in failed status (current: %s)", id, d.Status)
	}

	sendErr := m.sender.SendEmail(ctx, d.Recipient, d.Subject, d.Body)

	m.mu.Lock()
	if sendErr != nil {
		d.Status = "failed"
		d.Error = sendErr.Error()
	} else {
		d.Status = "sent"
		sentAt := time.Now().UTC()
		d.SentAt = &sentAt
		d.Error = ""
	}
	m.mu.Unlock()

	return sendErr
}

// Stats returns counts of deliveries grouped by status.
func (m *Manager) Stats() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := make(map[string]int)
	for _, d := range m.deliveries {
		stats[d.Status]++
	}
	return stats
}
