package outbound

import (
	"context"
	"time"
)

// Repair outcomes recorded by MetricsRecorder.
const (
	RepairOutcomeSuccess         = "success"
	RepairOutcomeResolved        = "resolved"
	RepairOutcomeFailed          = "failed"
	RepairOutcomeBelowMinimum    = "below_minimum"
	RepairOutcomeNoLoanPositions = "no_loan_positions"
	RepairOutcomeNoRoute         = "no_route"
	RepairOutcomeSkipped         = "skipped"
)

// MetricsRecorder lets services record metrics without depending on a
// telemetry implementation.
type MetricsRecorder interface {
	// RecordScan records one pass over all accounts.
	RecordScan(ctx context.Context, duration time.Duration, accounts, unhealthy int, err error)

	// RecordRepair records the outcome of one repair.
	RecordRepair(ctx context.Context, duration time.Duration, outcome string, attempts int)

	// RecordHealth records an account health score after a repair.
	RecordHealth(ctx context.Context, score int)

	// RecordAlert counts an alert sent to operators.
	RecordAlert(ctx context.Context, severity string)
}
