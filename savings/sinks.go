/*
sinks.go - Fire-and-forget observers

PURPOSE:
  NotificationSink and AuditSink are invoked after successful state
  transitions. They are observers, not participants: a sink failure is
  logged by the engine and swallowed, and can never roll back or block a
  financial transition.
*/
package savings

import (
	"context"
	"log"
	"sync"
)

// =============================================================================
// INTERFACES
// =============================================================================

type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
)

// NotificationSink delivers user-facing notifications.
type NotificationSink interface {
	Notify(ctx context.Context, userID UserID, title, message string, severity Severity) error
}

// AuditSink records an append-only audit trail of state transitions.
// before/after are free-form snapshots of the mutated subject.
type AuditSink interface {
	Record(ctx context.Context, action, subject string, before, after any) error
}

// =============================================================================
// LOG-BACKED IMPLEMENTATIONS
// =============================================================================

// LogNotificationSink writes notifications to the process log. Stand-in for
// the marketplace's real notification service.
type LogNotificationSink struct{}

func (LogNotificationSink) Notify(_ context.Context, userID UserID, title, message string, severity Severity) error {
	log.Printf("[notify] user=%s severity=%s %s: %s", userID, severity, title, message)
	return nil
}

// LogAuditSink writes audit records to the process log.
type LogAuditSink struct{}

func (LogAuditSink) Record(_ context.Context, action, subject string, before, after any) error {
	log.Printf("[audit] action=%s subject=%s before=%v after=%v", action, subject, before, after)
	return nil
}

// =============================================================================
// MEMORY IMPLEMENTATIONS - For tests
// =============================================================================

type Notification struct {
	UserID   UserID
	Title    string
	Message  string
	Severity Severity
}

// MemoryNotificationSink collects notifications for assertions. Fail makes
// every call error, for exercising the swallow-and-continue contract.
type MemoryNotificationSink struct {
	mu    sync.Mutex
	Fail  error
	Items []Notification
}

func (m *MemoryNotificationSink) Notify(_ context.Context, userID UserID, title, message string, severity Severity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return m.Fail
	}
	m.Items = append(m.Items, Notification{UserID: userID, Title: title, Message: message, Severity: severity})
	return nil
}

func (m *MemoryNotificationSink) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Items)
}

type AuditRecord struct {
	Action  string
	Subject string
	Before  any
	After   any
}

// MemoryAuditSink collects audit records for assertions.
type MemoryAuditSink struct {
	mu    sync.Mutex
	Fail  error
	Items []AuditRecord
}

func (m *MemoryAuditSink) Record(_ context.Context, action, subject string, before, after any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Fail != nil {
		return m.Fail
	}
	m.Items = append(m.Items, AuditRecord{Action: action, Subject: subject, Before: before, After: after})
	return nil
}

func (m *MemoryAuditSink) Actions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.Items))
	for _, r := range m.Items {
		out = append(out, r.Action)
	}
	return out
}
