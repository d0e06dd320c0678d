package indicator

// RSISeries computes Wilder's RSI at every index of closes.
//
// The first period values are nil: the first RSI needs period price changes,
// that is period+1 closes. A change touching a zero or missing close counts
// as no gain and no loss.
func RSISeries(closes []float64, period int) []*float64 {
	out := make([]*float64, len(closes))
	if period <= 0 || len(closes) < period+1 {
		return out
	}

	// Initial average gain/loss over the first `period` changes
	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		gain, loss := change(closes[i-1], closes[i])
		avgGain += gain
		avgLoss += loss
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)
	out[period] = rsiValue(avgGain, avgLoss)

	// Wilder smoothing for remaining bars
	for i := period + 1; i < len(closes); i++ {
		gain, loss := change(closes[i-1], closes[i])
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		out[i] = rsiValue(avgGain, avgLoss)
	}
	return out
}

func change(prev, cur float64) (gain, loss float64) {
	if !usable(prev) || !usable(cur) {
		return 0, 0
	}
	d := cur - prev
	if d > 0 {
		return d, 0
	}
	return 0, -d
}

func rsiValue(avgGain, avgLoss float64) *float64 {
	var v float64
	switch {
	case avgLoss == 0 && avgGain == 0:
		v = 50 // no movement at all
	case avgLoss == 0:
		v = 100
	default:
		rs := avgGain / avgLoss
		v = 100.0 - 100.0/(1.0+rs)
	}
	if v < 0 {
		v = 0
	} else if v > 100 {
		v = 100
	}
	return &v
}
