package quota

import "math"

// Estimator approximates the units a metered call will consume from the
// size of its request payload. It is a cheap heuristic computed before the
// call; actual usage is recorded afterwards.
type Estimator struct {
	CharsPerUnit    float64
	OverheadPercent float64
	MinUnits        int64
}

// Estimate returns ceil(chars / CharsPerUnit * (1 + OverheadPercent/100)),
// never less than MinUnits
func (e Estimator) Estimate(chars int64) int64 {
	perUnit := e.CharsPerUnit
	if perUnit <= 0 {
		perUnit = 4
	}
	if chars < 0 {
		chars = 0
	}

	// the epsilon absorbs float noise such as 400/4*1.1 = 110.00000000000001
	units := int64(math.Ceil(float64(chars)/perUnit*(1+e.OverheadPercent/100) - 1e-9))
	if units < e.MinUnits {
		return e.MinUnits
	}
	return units
}
