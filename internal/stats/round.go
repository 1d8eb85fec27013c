package stats

import (
	"math"

	"github.com/shopspring/decimal"
)

// Round rounds half away from zero to the given number of decimal places.
// NaN and infinities become 0 so results always encode as JSON.
func Round(v float64, places int32) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}

// Percent returns part/total as a percentage with one decimal, 0 for an empty total
func Percent(part, total int) float64 {
	if total <= 0 {
		return 0
	}
	return Round(float64(part)*100/float64(total), 1)
}
