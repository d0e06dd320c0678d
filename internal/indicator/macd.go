package indicator

import "TickerVault/internal/model"

// MACD holds the three MACD series, index-aligned with the input closes.
type MACD struct {
	Line      []*float64
	Signal    []*float64
	Histogram []*float64
}

// MACDSeries computes EMA(fast) - EMA(slow), its signal line and the histogram.
//
// All three series start at index slow, the first bar after the slow EMA's
// SMA seed. Until signal line values exist the signal is their running mean;
// from then on it is the usual EMA(signal) seeded with that mean, so from
// index slow+signal-2 it matches a plain EMA of the line.
func MACDSeries(closes []float64, fast, slow, signal int) MACD {
	n := len(closes)
	m := MACD{
		Line:      make([]*float64, n),
		Signal:    make([]*float64, n),
		Histogram: make([]*float64, n),
	}
	if fast <= 0 || slow <= 0 || signal <= 0 || fast >= slow || n <= slow {
		return m
	}

	emaFast := EMASeries(closes, fast)
	emaSlow := EMASeries(closes, slow)

	k := 2.0 / float64(signal+1)
	var sig, sum float64
	seen := 0
	for i := slow - 1; i < n; i++ {
		line := *emaFast[i] - *emaSlow[i]
		seen++
		if seen <= signal {
			sum += line
			sig = sum / float64(seen)
		} else {
			sig = (line-sig)*k + sig
		}
		if i < slow {
			continue
		}
		m.Line[i] = model.Float(line)
		m.Signal[i] = model.Float(sig)
		m.Histogram[i] = model.Float(line - sig)
	}
	return m
}
