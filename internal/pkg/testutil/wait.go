// Package testutil holds helpers shared by package tests.
package testutil

import (
	"testing"
	"time"
)

// WaitFor polls condition every interval until it holds or timeout expires.
// It reports whether the condition was met.
func WaitFor(t *testing.T, timeout, interval time.Duration, condition func() bool) bool {
	t.Helper()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if condition() {
		return true
	}
	for {
		select {
		case <-deadline.C:
			return condition()
		case <-ticker.C:
			if condition() {
				return true
			}
		}
	}
}

// Eventually fails the test when condition does not hold within timeout.
func Eventually(t *testing.T, timeout time.Duration, condition func() bool, msg string) {
	t.Helper()
	if !WaitFor(t, timeout, 5*time.Millisecond, condition) {
		t.Fatalf("condition not met within %v: %s", timeout, msg)
	}
}
