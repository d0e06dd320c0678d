package performance

import (
	"errors"
	"math"
	"sort"
	"time"

	"TickerVault/internal/model"
)

// Range52Week scans bars dated within a year of asOf and returns the high and
// low. Missing highs and lows fall back to the close.
func Range52Week(bars []model.PriceBar, asOf time.Time) (high, low float64, err error) {
	if len(bars) == 0 {
		return 0, 0, errors.New("no daily bars provided")
	}
	cutoff := asOf.AddDate(-1, 0, 0)
	high = math.Inf(-1)
	low = math.Inf(1)
	for _, b := range bars {
		if b.Date.Before(cutoff) || b.Date.After(asOf) {
			continue
		}
		h, l := b.Close, b.Close
		if b.High != nil {
			h = *b.High
		}
		if b.Low != nil {
			l = *b.Low
		}
		high = math.Max(high, h)
		low = math.Min(low, l)
	}
	if math.IsInf(high, 0) {
		return 0, 0, errors.New("no bars inside the 52-week window")
	}
	return high, low, nil
}

// Position returns where current sits within [low, high] (0.0~1.0).
func Position(current, high, low float64) (float64, error) {
	if high == low {
		return 0.5, nil
	}
	if high < low {
		return 0, errors.New("high must be >= low")
	}
	pos := (current - low) / (high - low)
	return math.Min(math.Max(pos, 0), 1), nil
}

// TrailingReturn is close(asOf)/close(on or before since) - 1. It is nil
// when the series does not reach back to since or the base close is zero.
func TrailingReturn(bars []model.PriceBar, since time.Time) *float64 {
	if len(bars) == 0 || bars[0].Date.After(since) {
		return nil
	}
	// Last bar dated on or before since.
	i := sort.Search(len(bars), func(i int) bool { return bars[i].Date.After(since) }) - 1
	base := bars[i].Close
	if base == 0 {
		return nil
	}
	r := bars[len(bars)-1].Close/base - 1
	return &r
}
