// Package indicator computes RSI and MACD over stored price series and
// writes only the indicator rows that are missing or due for a refresh.
package indicator

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/rs/zerolog"

	"TickerVault/internal/model"
)

// Store is the part of the series store the engine needs.
type Store interface {
	Series(ctx context.Context, symbol, region string) ([]model.PriceBar, error)
	IndicatorRows(ctx context.Context, symbol, region string) ([]model.IndicatorRow, error)
	UpsertIndicatorRows(ctx context.Context, rows []model.IndicatorRow) (int, error)
}

// Engine maintains indicator rows for a series.
type Engine struct {
	store Store
	log   zerolog.Logger

	Fast, Slow, Signal int
}

// NewEngine returns an engine using MACD 12/26/9.
func NewEngine(store Store, log zerolog.Logger) *Engine {
	return &Engine{
		store:  store,
		log:    log.With().Str("component", "indicator").Logger(),
		Fast:   model.MACDFast,
		Slow:   model.MACDSlow,
		Signal: model.MACDSignal,
	}
}

// Update is the outcome of one UpdateIndicators call.
type Update struct {
	Rows    []model.IndicatorRow // rows submitted for upsert
	Written int                  // rows the store actually inserted or changed
}

// Compute derives an indicator row for every bar. Pure: the same bars give
// the same rows.
//
// RSI columns stay null until the longest RSI period has a value, so a row
// carries either all of them or none, and a series shorter than that
// lookback is all-null.
func (e *Engine) Compute(bars []model.PriceBar) []model.IndicatorRow {
	closes := extractCloses(bars)
	warmup := slices.Max(model.RSIPeriods)
	rsi := make(map[int][]*float64, len(model.RSIPeriods))
	for _, p := range model.RSIPeriods {
		series := RSISeries(closes, p)
		for i := 0; i < warmup && i < len(series); i++ {
			series[i] = nil
		}
		rsi[p] = series
	}
	macd := MACDSeries(closes, e.Fast, e.Slow, e.Signal)

	rows := make([]model.IndicatorRow, len(bars))
	for i, b := range bars {
		rows[i] = model.IndicatorRow{
			Symbol:     b.Symbol,
			Region:     b.Region,
			Date:       b.Date,
			RSI9:       rsi[9][i],
			RSI14:      rsi[14][i],
			RSI21:      rsi[21][i],
			MACDLine:   macd.Line[i],
			MACDSignal: macd.Signal[i],
			Histogram:  macd.Histogram[i],
			FastPeriod: e.Fast,
			SlowPeriod: e.Slow,
			SigPeriod:  e.Signal,
		}
	}
	return rows
}

// UpdateIndicators recomputes indicators over the full stored series and
// writes rows that have no stored value yet. With forceRefresh the most
// recent row is rewritten as well. Older rows with values are left alone.
func (e *Engine) UpdateIndicators(ctx context.Context, symbol, region string, forceRefresh bool) (Update, error) {
	start := time.Now()

	bars, err := e.store.Series(ctx, symbol, region)
	if err != nil {
		return Update{}, fmt.Errorf("load series %s/%s: %w", symbol, region, err)
	}
	if len(bars) == 0 {
		return Update{}, nil
	}
	for i := range bars {
		bars[i].Symbol, bars[i].Region = symbol, region
	}

	stored, err := e.store.IndicatorRows(ctx, symbol, region)
	if err != nil {
		return Update{}, fmt.Errorf("load indicator rows %s/%s: %w", symbol, region, err)
	}
	have := make(map[time.Time]model.IndicatorRow, len(stored))
	for _, r := range stored {
		have[r.Date] = r
	}

	computed := e.Compute(bars)
	last := len(computed) - 1

	var pending []model.IndicatorRow
	for i, row := range computed {
		old, ok := have[row.Date]
		switch {
		case !ok:
			pending = append(pending, row)
		case row.Fills(old):
			pending = append(pending, row)
		case forceRefresh && i == last:
			pending = append(pending, row)
		}
	}

	if len(pending) == 0 {
		e.log.Debug().Str("symbol", symbol).Str("region", region).Msg("indicators up to date")
		return Update{}, nil
	}

	written, err := e.store.UpsertIndicatorRows(ctx, pending)
	if err != nil {
		return Update{}, fmt.Errorf("write indicator rows %s/%s: %w", symbol, region, err)
	}
	e.log.Debug().Str("symbol", symbol).Str("region", region).
		Int("bars", len(bars)).Int("pending", len(pending)).Int("written", written).
		Bool("force", forceRefresh).Dur("took", time.Since(start)).
		Msg("indicators updated")
	return Update{Rows: pending, Written: written}, nil
}
