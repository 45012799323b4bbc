package entity

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
)

var (
	// ErrNoLoanPositions is returned when an unhealthy account has no borrows.
	ErrNoLoanPositions = errors.New("no loan positions found")

	// ErrNoRouteFound is returned when no swap route exists for any candidate pair.
	ErrNoRouteFound = errors.New("no swap route found")

	// ErrSlippageExceeded is returned when a swap reverted on-chain because the
	// price moved beyond the tolerance.
	ErrSlippageExceeded = errors.New("slippage tolerance exceeded")

	// ErrPriceUnavailable is returned when a market has no usable price.
	ErrPriceUnavailable = errors.New("price unavailable")

	// ErrAccountNotFound is returned when an account source has no such owner.
	ErrAccountNotFound = errors.New("account not found")
)

// CollateralBelowMinimumError is returned when no candidate pair reaches the
// minimum repay value.
type CollateralBelowMinimumError struct {
	// Value is the total collateral value in USDC base units.
	Value int64
}

func (e *CollateralBelowMinimumError) Error() string {
	return fmt.Sprintf("collateral is below minimum amount, total value: %d", e.Value)
}

// SubmissionError wraps a failure to land a transaction.
type SubmissionError struct {
	Signature solana.Signature
	Logs      []string
	Err       error
}

func (e *SubmissionError) Error() string {
	if e.Signature == (solana.Signature{}) {
		return fmt.Sprintf("submitting transaction: %v", e.Err)
	}
	return fmt.Sprintf("transaction %s failed: %v", e.Signature, e.Err)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// slippageLogMarkers are log fragments emitted when a swap fails its
// minimum-out or maximum-in check.
var slippageLogMarkers = []string{
	"SlippageToleranceExceeded",
	"custom program error: 0x1771",
	"Slippage tolerance exceeded",
}

// IsSlippageLog reports whether transaction logs show a slippage failure.
func IsSlippageLog(logs []string) bool {
	for _, line := range logs {
		for _, marker := range slippageLogMarkers {
			if strings.Contains(line, marker) {
				return true
			}
		}
	}
	return false
}
