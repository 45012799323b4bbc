package entity

import "math"

// USDCDecimals is the precision of the quote currency.
const USDCDecimals = 6

// LamportsPerSOL is the number of lamports in one SOL.
const LamportsPerSOL = 1_000_000_000

// Pow10 returns 10^n for n <= 19.
func Pow10(n uint8) uint64 {
	out := uint64(1)
	for i := uint8(0); i < n; i++ {
		out *= 10
	}
	return out
}

// BaseUnitsToDecimal converts base units to whole tokens.
func BaseUnitsToDecimal(amount int64, decimals uint8) float64 {
	return float64(amount) / float64(Pow10(decimals))
}

// DecimalToBaseUnits converts whole tokens to base units, truncating toward zero.
func DecimalToBaseUnits(amount float64, decimals uint8) int64 {
	return int64(math.Trunc(amount * float64(Pow10(decimals))))
}

// DollarsToUSDC converts a dollar amount to USDC base units.
func DollarsToUSDC(dollars float64) int64 {
	return int64(math.Round(dollars * math.Pow10(USDCDecimals)))
}
