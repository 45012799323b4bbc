package memory

import (
	"context"
	"log/slog"
	"sync"

	"github.com/archon-research/stl/auto-repay/internal/ports/outbound"
)

// Compile-time check that Alerter implements outbound.Alerter
var _ outbound.Alerter = (*Alerter)(nil)

// retainedAlerts bounds the alerts kept for inspection.
const retainedAlerts = 256

// Alerter logs alerts and keeps the most recent ones in memory. It stands in
// for SNS when no topic is configured.
type Alerter struct {
	mu     sync.RWMutex
	alerts []outbound.Alert
	logger *slog.Logger
}

// NewAlerter creates an Alerter that logs through logger.
func NewAlerter(logger *slog.Logger) *Alerter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Alerter{logger: logger.With("component", "alerter")}
}

// Alert logs and records the alert.
func (a *Alerter) Alert(_ context.Context, alert outbound.Alert) error {
	a.mu.Lock()
	a.alerts = append(a.alerts, alert)
	if len(a.alerts) > retainedAlerts {
		a.alerts = a.alerts[len(a.alerts)-retainedAlerts:]
	}
	a.mu.Unlock()

	level := slog.LevelWarn
	if alert.Severity == outbound.SeverityCritical {
		level = slog.LevelError
	}
	a.logger.Log(context.Background(), level, alert.Subject,
		"severity", alert.Severity,
		"account", alert.Account,
		"message", alert.Message,
	)
	return nil
}

// Alerts returns a copy of the retained alerts, oldest first.
func (a *Alerter) Alerts() []outbound.Alert {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]outbound.Alert(nil), a.alerts...)
}
