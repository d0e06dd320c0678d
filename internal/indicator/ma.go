package indicator

import (
	"errors"
	"math"

	"TickerVault/internal/model"
)

// CalculateSMA computes the simple moving average of the last period prices.
func CalculateSMA(prices []float64, period int) (float64, error) {
	if period <= 0 {
		return 0, errors.New("period must be positive")
	}
	if len(prices) < period {
		return 0, errors.New("not enough data for SMA calculation")
	}
	sum := 0.0
	for i := len(prices) - period; i < len(prices); i++ {
		sum += prices[i]
	}
	return sum / float64(period), nil
}

// EMASeries returns the exponential moving average at every index.
// The first value, at index period-1, is the SMA of the first period values;
// earlier indexes are nil.
func EMASeries(values []float64, period int) []*float64 {
	out := make([]*float64, len(values))
	if period <= 0 || len(values) < period {
		return out
	}
	seed, _ := CalculateSMA(values[:period], period)
	k := 2.0 / float64(period+1)
	ema := seed
	out[period-1] = model.Float(ema)
	for i := period; i < len(values); i++ {
		ema = (values[i]-ema)*k + ema
		out[i] = model.Float(ema)
	}
	return out
}

func extractCloses(bars []model.PriceBar) []float64 {
	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}
	return closes
}

// usable reports whether a close can take part in a price change.
func usable(v float64) bool {
	return v > 0 && !math.IsInf(v, 0)
}
