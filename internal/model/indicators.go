package model

import "time"

// Default MACD parameters.
const (
	MACDFast   = 12
	MACDSlow   = 26
	MACDSignal = 9
)

// RSIPeriods are the lookbacks stored on every indicator row.
var RSIPeriods = []int{9, 14, 21}

// IndicatorRow holds the RSI and MACD values for one (symbol, region, date).
// A nil field means there was not enough lookback to compute it.
type IndicatorRow struct {
	Symbol string
	Region string
	Date   time.Time

	RSI9  *float64
	RSI14 *float64
	RSI21 *float64

	MACDLine   *float64
	MACDSignal *float64
	Histogram  *float64
	FastPeriod int
	SlowPeriod int
	SigPeriod  int
}

// Empty reports whether no value on the row is defined.
func (r IndicatorRow) Empty() bool {
	return r.RSI9 == nil && r.RSI14 == nil && r.RSI21 == nil &&
		r.MACDLine == nil && r.MACDSignal == nil && r.Histogram == nil
}

// definedCount is used to tell whether a recomputed row carries more
// information than what is already stored.
func (r IndicatorRow) definedCount() int {
	n := 0
	for _, p := range []*float64{r.RSI9, r.RSI14, r.RSI21, r.MACDLine, r.MACDSignal, r.Histogram} {
		if p != nil {
			n++
		}
	}
	return n
}

// Fills reports whether r defines a value that stored leaves null.
func (r IndicatorRow) Fills(stored IndicatorRow) bool {
	return r.definedCount() > stored.definedCount()
}
