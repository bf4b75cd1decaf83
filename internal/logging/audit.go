package logging

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AuditEventType represents the type of audit event
type AuditEventType string

const (
	// Authentication events
	AuthSuccess AuditEventType = "AUTH_SUCCESS"
	AuthFailure AuditEventType = "AUTH_FAILURE"

	// Configuration events
	ConfigChange AuditEventType = "CONFIG_CHANGE"

	// Admission events
	AdmissionAllow AuditEventType = "ADMISSION_ALLOW"
	AdmissionDeny  AuditEventType = "ADMISSION_DENY"
	GraceBypass    AuditEventType = "GRACE_BYPASS"

	// Accounting events
	UsageCommit AuditEventType = "USAGE_COMMIT"
	LimitAssign AuditEventType = "LIMIT_ASSIGN"
)

// AuditSeverity represents the severity level of an audit event
type AuditSeverity string

const (
	SeverityInfo     AuditSeverity = "info"
	SeverityWarning  AuditSeverity = "warning"
	SeverityError    AuditSeverity = "error"
	SeverityCritical AuditSeverity = "critical"
)

// AuditStatus represents the status of an audited action
type AuditStatus string

const (
	StatusSuccess AuditStatus = "success"
	StatusFailure AuditStatus = "failure"
)

// AuditEvent represents a security/operational audit event
type AuditEvent struct {
	ID           string                 `json:"id"`
	Timestamp    time.Time              `json:"timestamp"`
	EventType    AuditEventType         `json:"event_type"`
	Severity     AuditSeverity          `json:"severity"`
	ActorID      string                 `json:"actor_id,omitempty"`
	IPAddress    string                 `json:"ip_address,omitempty"`
	Action       string                 `json:"action"`
	Resource     string                 `json:"resource,omitempty"`
	Status       AuditStatus            `json:"status"`
	Details      map[string]interface{} `json:"details,omitempty"`
	ErrorMessage string                 `json:"error_message,omitempty"`
}

// NewAuditEvent creates a new audit event with a generated ID and timestamp
func NewAuditEvent(eventType AuditEventType, action string, status AuditStatus) *AuditEvent {
	return &AuditEvent{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Action:    action,
		Status:    status,
		Severity:  SeverityInfo,
	}
}

// WithActorID sets the acting account or sub-account for the audit event
func (e *AuditEvent) WithActorID(actorID string) *AuditEvent {
	e.ActorID = actorID
	return e
}

// WithIPAddress sets the IP address for the audit event
func (e *AuditEvent) WithIPAddress(ipAddress string) *AuditEvent {
	e.IPAddress = ipAddress
	return e
}

// WithResource sets the resource for the audit event
func (e *AuditEvent) WithResource(resource string) *AuditEvent {
	e.Resource = resource
	return e
}

// WithSeverity sets the severity for the audit event
func (e *AuditEvent) WithSeverity(severity AuditSeverity) *AuditEvent {
	e.Severity = severity
	return e
}

// WithDetails sets the details map for the audit event
func (e *AuditEvent) WithDetails(details map[string]interface{}) *AuditEvent {
	e.Details = details
	return e
}

// WithError sets the error message for the audit event
func (e *AuditEvent) WithError(errorMessage string) *AuditEvent {
	e.ErrorMessage = errorMessage
	e.Status = StatusFailure
	if e.Severity == SeverityInfo {
		e.Severity = SeverityError
	}
	return e
}

// ToJSON converts the audit event to a JSON string
func (e *AuditEvent) ToJSON() string {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Sprintf(`{"error": "failed to marshal audit event: %v"}`, err)
	}
	return string(data)
}

// ParseAuditEvent parses a JSON string into an AuditEvent
func ParseAuditEvent(data string) (*AuditEvent, error) {
	var event AuditEvent
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		return nil, fmt.Errorf("failed to parse audit event: %w", err)
	}
	return &event, nil
}

// AuditLogger emits audit events through a structured logger.
type AuditLogger struct {
	logger *Logger
}

// NewAuditLogger creates an audit logger on top of a structured logger.
func NewAuditLogger(logger *Logger) *AuditLogger {
	if logger == nil {
		logger = NewLogger()
	}
	return &AuditLogger{logger: logger}
}

// Log emits an audit event at a level matching its severity.
func (a *AuditLogger) Log(event *AuditEvent) {
	if event == nil {
		return
	}
	fields := []interface{}{
		"audit_id", event.ID,
		"event_type", string(event.EventType),
		"actor_id", event.ActorID,
		"resource", event.Resource,
		"status", string(event.Status),
	}
	switch event.Severity {
	case SeverityError, SeverityCritical:
		a.logger.Error(event.Action, fields...)
	case SeverityWarning:
		a.logger.Warn(event.Action, fields...)
	default:
		a.logger.Info(event.Action, fields...)
	}
}
