package margin

import "math"

// RepayValue returns the USD value r that must be repaid, by selling
// collateral with asset weight w, to lift an account with weighted liability
// L and weighted collateral C to goal health g:
//
//	r = (L - C(1-b)(1-g)) / (1 - w(1-b)(1-g))
//
// healthBuffer b reserves headroom on top of the goal. g, w and b are
// fractions in [0, 1]. ok is false when no positive repayment reaches the goal.
func RepayValue(goal, loan, weightedCollateral, collateralWeight, healthBuffer float64) (r float64, ok bool) {
	k := (1 - healthBuffer) * (1 - goal)
	denominator := 1 - collateralWeight*k
	if denominator <= 0 {
		return 0, false
	}

	r = (loan - weightedCollateral*k) / denominator
	if r <= 0 || math.IsNaN(r) || math.IsInf(r, 0) {
		return 0, false
	}
	return r, true
}
