package alerts

import (
	"time"
)

// Severity represents alert severity level
type Severity string

const (
	// SeverityInfo is for informational alerts
	SeverityInfo Severity = "info"
	// SeverityWarning is for warning alerts
	SeverityWarning Severity = "warning"
	// SeverityCritical is for critical alerts
	SeverityCritical Severity = "critical"
)

// AlertType represents the type of alert
type AlertType string

const (
	// AlertTypeThreshold is for pool usage crossing a configured threshold
	AlertTypeThreshold AlertType = "threshold"
	// AlertTypeExhausted is for a fully consumed pool
	AlertTypeExhausted AlertType = "exhausted"
)

// Alert represents an alert to be sent
type Alert struct {
	ID        string
	AccountID string
	Type      AlertType
	Severity  Severity
	Message   string
	Threshold float64
	Current   float64
	Timestamp time.Time
}

// AlertKey creates a unique key for deduplication
func (a *Alert) AlertKey() string {
	return a.AccountID + ":" + string(a.Type) + ":" + string(a.Severity)
}

// AlertRecord represents a sent alert record for deduplication
type AlertRecord struct {
	AlertKey string
	SentAt   time.Time
	Count    int
}
