// Package store persists price series, indicators, quotes, job configuration,
// the update log and performance snapshots.
//
// Every write is an upsert keyed by natural key, and every upsert reports how
// many rows it actually inserted or changed, so rewriting identical data is a
// visible no-op.
package store

import (
	"fmt"
	"math"
	"time"

	"TickerVault/internal/model"
)

// Store is the full persistence surface. *SQLiteStore and *MemoryStore implement it.
type Store interface {
	SeriesStore
	QuoteStore
	JobConfigStore
	UpdateLogStore
	PerformanceStore
	Close() error
}

func validateBar(b model.PriceBar) error {
	switch {
	case b.Symbol == "" || b.Region == "":
		return fmt.Errorf("bar missing symbol or region")
	case b.Date.IsZero():
		return fmt.Errorf("bar %s/%s missing date", b.Symbol, b.Region)
	case !finite(b.Close):
		return fmt.Errorf("bar %s/%s %s has non-finite close", b.Symbol, b.Region, b.Date.Format(model.DateFormat))
	}
	for _, p := range []*float64{b.Open, b.High, b.Low, b.AdjustedClose, b.Volume} {
		if p != nil && !finite(*p) {
			return fmt.Errorf("bar %s/%s %s has non-finite field", b.Symbol, b.Region, b.Date.Format(model.DateFormat))
		}
	}
	return nil
}

func validateIndicatorRow(r model.IndicatorRow) error {
	if r.Symbol == "" || r.Region == "" || r.Date.IsZero() {
		return fmt.Errorf("indicator row missing symbol, region or date")
	}
	for _, p := range []*float64{r.RSI9, r.RSI14, r.RSI21, r.MACDLine, r.MACDSignal, r.Histogram} {
		if p != nil && !finite(*p) {
			return fmt.Errorf("indicator row %s/%s %s has non-finite value", r.Symbol, r.Region, r.Date.Format(model.DateFormat))
		}
	}
	return nil
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return &model.StorageError{Op: op, Err: err}
}

func parseDate(s string) time.Time {
	t, _ := time.Parse(model.DateFormat, s)
	return t
}
