package entity

// Position is one asset's signed balance for an account, in base units.
// Positive balances are deposits, negative balances are borrows.
type Position struct {
	MarketIndex MarketIndex
	Balance     int64
}

// PerpPrecision is the base asset precision of perp positions.
const PerpPrecision = 1_000_000_000

// PerpPosition is an open perpetual position. Its price is taken from the
// spot oracle of OracleMarket.
type PerpPosition struct {
	MarketIndex  uint16
	OracleMarket MarketIndex

	// BaseAssetAmount is signed, in PerpPrecision units.
	BaseAssetAmount int64
	// QuoteAssetAmount is the signed quote entry amount in USDC base units.
	QuoteAssetAmount int64

	// Margin ratios in WeightPrecision units.
	InitialMarginRatio     uint32
	MaintenanceMarginRatio uint32

	// UnrealizedAssetWeight discounts positive PnL, in WeightPrecision units.
	UnrealizedAssetWeight uint32
}

// MarginRatio returns the margin ratio for the category.
func (p PerpPosition) MarginRatio(category MarginCategory) uint32 {
	if category == MarginInitial {
		return p.InitialMarginRatio
	}
	return p.MaintenanceMarginRatio
}

// ValuedPosition is a position converted to its signed value in USDC base units.
type ValuedPosition struct {
	MarketIndex MarketIndex
	Value       int64
}

// AbsValue returns |Value|.
func (v ValuedPosition) AbsValue() int64 {
	if v.Value < 0 {
		return -v.Value
	}
	return v.Value
}

// SortedPositions splits valued positions into collateral (value > 0,
// descending) and loans (value < 0, descending by absolute value).
type SortedPositions struct {
	Collateral []ValuedPosition
	Loans      []ValuedPosition
}

// TotalCollateral sums the value of all collateral positions.
func (s SortedPositions) TotalCollateral() int64 {
	var total int64
	for _, p := range s.Collateral {
		total += p.Value
	}
	return total
}
