package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/archon-research/stl/auto-repay/internal/ports/outbound"
)

// Compile-time check that Metrics implements outbound.MetricsRecorder
var _ outbound.MetricsRecorder = (*Metrics)(nil)

// MeterName is the instrumentation scope of the bot's metrics.
const MeterName = "github.com/archon-research/stl/auto-repay"

// Metrics implements the MetricsRecorder interface using OpenTelemetry.
type Metrics struct {
	scans          metric.Int64Counter
	scanDuration   metric.Float64Histogram
	accounts       metric.Int64Gauge
	unhealthy      metric.Int64Gauge
	repairs        metric.Int64Counter
	repairDuration metric.Float64Histogram
	repairAttempts metric.Int64Histogram
	health         metric.Int64Histogram
	alerts         metric.Int64Counter
}

// NewMetrics creates the bot's instruments on provider. A nil provider uses
// the global one.
func NewMetrics(provider metric.MeterProvider) (*Metrics, error) {
	if provider == nil {
		provider = otel.GetMeterProvider()
	}
	meter := provider.Meter(MeterName)

	var (
		m   Metrics
		err error
	)
	if m.scans, err = meter.Int64Counter("auto_repay_scans_total",
		metric.WithDescription("Passes over all monitored accounts")); err != nil {
		return nil, fmt.Errorf("failed to create auto_repay_scans_total counter: %w", err)
	}
	if m.scanDuration, err = meter.Float64Histogram("auto_repay_scan_duration_seconds",
		metric.WithDescription("Time taken to scan every account"),
		metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("failed to create auto_repay_scan_duration_seconds histogram: %w", err)
	}
	if m.accounts, err = meter.Int64Gauge("auto_repay_accounts",
		metric.WithDescription("Accounts seen in the last scan")); err != nil {
		return nil, fmt.Errorf("failed to create auto_repay_accounts gauge: %w", err)
	}
	if m.unhealthy, err = meter.Int64Gauge("auto_repay_unhealthy_accounts",
		metric.WithDescription("Accounts below the goal health in the last scan")); err != nil {
		return nil, fmt.Errorf("failed to create auto_repay_unhealthy_accounts gauge: %w", err)
	}
	if m.repairs, err = meter.Int64Counter("auto_repay_repairs_total",
		metric.WithDescription("Repairs by outcome")); err != nil {
		return nil, fmt.Errorf("failed to create auto_repay_repairs_total counter: %w", err)
	}
	if m.repairDuration, err = meter.Float64Histogram("auto_repay_repair_duration_seconds",
		metric.WithDescription("Time taken by one repair including retries"),
		metric.WithUnit("s")); err != nil {
		return nil, fmt.Errorf("failed to create auto_repay_repair_duration_seconds histogram: %w", err)
	}
	if m.repairAttempts, err = meter.Int64Histogram("auto_repay_repair_attempts",
		metric.WithDescription("Transactions sent per repair"),
		metric.WithExplicitBucketBoundaries(0, 1, 2, 3, 5)); err != nil {
		return nil, fmt.Errorf("failed to create auto_repay_repair_attempts histogram: %w", err)
	}
	if m.health, err = meter.Int64Histogram("auto_repay_account_health",
		metric.WithDescription("Account health after a repair"),
		metric.WithExplicitBucketBoundaries(0, 5, 10, 15, 20, 30, 50, 75, 100)); err != nil {
		return nil, fmt.Errorf("failed to create auto_repay_account_health histogram: %w", err)
	}
	if m.alerts, err = meter.Int64Counter("auto_repay_alerts_total",
		metric.WithDescription("Alerts sent to operators")); err != nil {
		return nil, fmt.Errorf("failed to create auto_repay_alerts_total counter: %w", err)
	}
	return &m, nil
}

// RecordScan records one pass over all accounts.
func (m *Metrics) RecordScan(ctx context.Context, duration time.Duration, accounts, unhealthy int, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}
	attrs := metric.WithAttributes(attribute.String("status", status))
	m.scans.Add(ctx, 1, attrs)
	m.scanDuration.Record(ctx, duration.Seconds(), attrs)
	if err == nil {
		m.accounts.Record(ctx, int64(accounts))
		m.unhealthy.Record(ctx, int64(unhealthy))
	}
}

// RecordRepair records the outcome of one repair.
func (m *Metrics) RecordRepair(ctx context.Context, duration time.Duration, outcome string, attempts int) {
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	m.repairs.Add(ctx, 1, attrs)
	if outcome == outbound.RepairOutcomeSkipped {
		return
	}
	m.repairDuration.Record(ctx, duration.Seconds(), attrs)
	m.repairAttempts.Record(ctx, int64(attempts), attrs)
}

// RecordHealth records an account health score.
func (m *Metrics) RecordHealth(ctx context.Context, score int) {
	m.health.Record(ctx, int64(score))
}

// RecordAlert counts an alert.
func (m *Metrics) RecordAlert(ctx context.Context, severity string) {
	m.alerts.Add(ctx, 1, metric.WithAttributes(attribute.String("severity", severity)))
}
