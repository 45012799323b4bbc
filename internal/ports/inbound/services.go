// Package inbound defines the interfaces the service exposes to drivers.
package inbound

// HealthChecker reports service readiness and liveness to the health server.
type HealthChecker interface {
	// IsReady returns true once the first account scan has completed.
	IsReady() bool

	// IsHealthy returns true while scans keep completing on schedule.
	IsHealthy() bool
}
