package observability

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// AuditEventType categorizes audit events.
type AuditEventType string

const (
	AuditEventPlan          AuditEventType = "reconcile.plan"
	AuditEventApply         AuditEventType = "reconcile.apply"
	AuditEventDocument      AuditEventType = "reconcile.document"
	AuditEventError         AuditEventType = "reconcile.error"
	AuditEventWorkflowStart AuditEventType = "workflow.start"
	AuditEventWorkflowEnd   AuditEventType = "workflow.end"
)

// AuditEvent is a single audit log entry, written as one JSON line.
type AuditEvent struct {
	Timestamp   time.Time      `json:"timestamp"`
	EventType   AuditEventType `json:"event_type"`
	SessionID   string         `json:"session_id"`
	RunID       string         `json:"run_id,omitempty"`
	WorkflowID  string         `json:"workflow_id,omitempty"`
	Source      string         `json:"source,omitempty"`
	Destination string         `json:"destination,omitempty"`
	Success     bool           `json:"success"`
	DurationMS  int64          `json:"duration_ms,omitempty"`
	Message     string         `json:"message,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
	ErrorDetail string         `json:"error_detail,omitempty"`
}

// AuditLogger appends audit events for metadata writes.
type AuditLogger struct {
	mu        sync.Mutex
	writer    io.Writer
	sessionID string
	enabled   bool
}

// AuditConfig configures the audit logger.
type AuditConfig struct {
	Enabled    bool
	OutputPath string // File path or "stdout"/"stderr"
	SessionID  string
}

// DefaultAuditConfig returns default audit configuration.
func DefaultAuditConfig() *AuditConfig {
	return &AuditConfig{
		Enabled:    true,
		OutputPath: "stdout",
	}
}

// NewAuditLogger creates a new audit logger.
func NewAuditLogger(config *AuditConfig) (*AuditLogger, error) {
	if config == nil {
		config = DefaultAuditConfig()
	}

	var writer io.Writer
	switch config.OutputPath {
	case "stdout", "":
		writer = os.Stdout
	case "stderr":
		writer = os.Stderr
	default:
		f, err := os.OpenFile(config.OutputPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open audit log: %w", err)
		}
		writer = f
	}

	return newAuditLogger(writer, config), nil
}

// NewAuditWriter creates an audit logger that writes to w.
func NewAuditWriter(w io.Writer, sessionID string) *AuditLogger {
	return newAuditLogger(w, &AuditConfig{Enabled: true, SessionID: sessionID})
}

func newAuditLogger(w io.Writer, config *AuditConfig) *AuditLogger {
	sessionID := config.SessionID
	if sessionID == "" {
		sessionID = fmt.Sprintf("session-%d", time.Now().UnixNano())
	}
	return &AuditLogger{
		writer:    w,
		sessionID: sessionID,
		enabled:   config.Enabled,
	}
}

// Log writes an audit event. A nil or disabled logger drops it.
func (l *AuditLogger) Log(event *AuditEvent) error {
	if l == nil || !l.enabled {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.SessionID == "" {
		event.SessionID = l.sessionID
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}

	_, err = fmt.Fprintf(l.writer, "%s\n", data)
	return err
}

// LogPlan logs a computed plan and its outcome counts.
func (l *AuditLogger) LogPlan(runID, source, destination string, key []string, planned, skipped int) {
	_ = l.Log(&AuditEvent{
		EventType:   AuditEventPlan,
		RunID:       runID,
		Source:      source,
		Destination: destination,
		Success:     true,
		Message:     fmt.Sprintf("Planned %d document updates", planned),
		Details: map[string]any{
			"key":     key,
			"planned": planned,
			"skipped": skipped,
		},
	})
}

// LogDocument logs the fields written to one destination document.
func (l *AuditLogger) LogDocument(runID, destination, id string, fields map[string]any) {
	_ = l.Log(&AuditEvent{
		EventType:   AuditEventDocument,
		RunID:       runID,
		Destination: destination,
		Success:     true,
		Message:     fmt.Sprintf("Updated document %s", id),
		Details: map[string]any{
			"id":     id,
			"fields": fields,
		},
	})
}

// LogApply logs a completed plan write.
func (l *AuditLogger) LogApply(runID, destination string, updated int, duration time.Duration) {
	_ = l.Log(&AuditEvent{
		EventType:   AuditEventApply,
		RunID:       runID,
		Destination: destination,
		Success:     true,
		DurationMS:  duration.Milliseconds(),
		Message:     fmt.Sprintf("Applied plan to %d documents", updated),
		Details: map[string]any{
			"updated": updated,
		},
	})
}

// LogError logs a failed run.
func (l *AuditLogger) LogError(runID, source, destination string, err error) {
	_ = l.Log(&AuditEvent{
		EventType:   AuditEventError,
		RunID:       runID,
		Source:      source,
		Destination: destination,
		Success:     false,
		Message:     "Reconciliation failed",
		ErrorDetail: err.Error(),
	})
}

// LogWorkflowStart logs a workflow start event.
func (l *AuditLogger) LogWorkflowStart(workflowID, source, destination string) {
	_ = l.Log(&AuditEvent{
		EventType:   AuditEventWorkflowStart,
		WorkflowID:  workflowID,
		Source:      source,
		Destination: destination,
		Success:     true,
		Message:     fmt.Sprintf("Workflow started: %s -> %s", source, destination),
	})
}

// LogWorkflowEnd logs a workflow completion event.
func (l *AuditLogger) LogWorkflowEnd(workflowID string, success bool, duration time.Duration, updated int) {
	_ = l.Log(&AuditEvent{
		EventType:  AuditEventWorkflowEnd,
		WorkflowID: workflowID,
		Success:    success,
		DurationMS: duration.Milliseconds(),
		Message:    fmt.Sprintf("Workflow completed: %d documents updated", updated),
	})
}

// Close closes the audit logger (if using a file).
func (l *AuditLogger) Close() error {
	if l == nil {
		return nil
	}
	if closer, ok := l.writer.(io.Closer); ok {
		if closer != os.Stdout && closer != os.Stderr {
			return closer.Close()
		}
	}
	return nil
}
