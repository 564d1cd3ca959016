// Package risk
package risk

// OptionsQty computes the number of options contracts to trade for a
// fixed maximum dollar risk:
//
//	stopDistance = (stopLossPct / 100) * premium
//	qty          = maxDollarRisk / (stopDistance * 100)
//
// The x100 accounts for the options multiplier (one contract controls
// 100 shares). Degenerate inputs and sub-single-contract results return
// the one-contract minimum.
func OptionsQty(maxDollarRisk, stopLossPct, premium float64) int {
	if premium <= 0 || stopLossPct <= 0 {
		return 1
	}

	stopDistance := (stopLossPct / 100.0) * premium
	if stopDistance <= 0 {
		return 1
	}

	qty := int(maxDollarRisk / (stopDistance * 100.0))
	if qty < 1 {
		return 1
	}
	return qty
}
