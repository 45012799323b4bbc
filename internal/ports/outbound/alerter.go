package outbound

import "context"

// Severity classifies an alert.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is an operator notification.
type Alert struct {
	Severity Severity `json:"severity"`
	Subject  string   `json:"subject"`
	Message  string   `json:"message"`
	// Account is the owner the alert concerns, if any.
	Account string `json:"account,omitempty"`
}

// Alerter delivers operator notifications.
type Alerter interface {
	Alert(ctx context.Context, alert Alert) error
}
