package model

import "time"

// DateFormat is the calendar-date layout used at every storage and wire boundary.
const DateFormat = "2006-01-02"

// Day returns the calendar date of t (in t's own location) as UTC midnight.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// PriceBar is one day's OHLCV record for a symbol in a region.
// Close is the only required price; everything else may be absent.
type PriceBar struct {
	Symbol        string
	Region        string
	Date          time.Time // UTC midnight, see Day
	Open          *float64
	High          *float64
	Low           *float64
	Close         float64
	AdjustedClose *float64
	Volume        *float64
	Abnormal      bool // flagged by the sanitizer but kept
}

// Quote is a point-in-time price for a symbol.
type Quote struct {
	Symbol string
	Region string
	Price  float64
	AsOf   time.Time
}

// FetchWindow is the inclusive date range a fetch should cover.
type FetchWindow struct {
	Symbol string
	Region string
	From   time.Time
	To     time.Time
}

// UpToDate reports whether there is nothing left to fetch.
func (w FetchWindow) UpToDate() bool {
	return w.From.After(w.To)
}

// Float returns a pointer to v. Handy for the nullable bar fields.
func Float(v float64) *float64 { return &v }
