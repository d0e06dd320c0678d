// Package orchestrator drives the fetch, sanitize, store and indicator
// pipeline across the symbols of one region or of every region.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"TickerVault/internal/config"
	"TickerVault/internal/indicator"
	"TickerVault/internal/model"
	"TickerVault/internal/planner"
	"TickerVault/internal/provider"
	"TickerVault/internal/retry"
	"TickerVault/internal/sanitizer"
)

// RecentDays is the window in which the latest stored bar still gets its
// indicator row recomputed on every run.
const RecentDays = 3

// AllRegionsJobID identifies the full multi-region run in errors and logs.
const AllRegionsJobID = "update-all-regions"

// Store is the persistence the orchestrator writes through.
type Store interface {
	LatestDate(ctx context.Context, symbol, region string) (time.Time, bool, error)
	UpsertBars(ctx context.Context, bars []model.PriceBar) (int, error)
	DeleteSeries(ctx context.Context, symbol, region string) error
	UpsertQuote(ctx context.Context, q model.Quote) error
}

// Metrics receives pipeline counters. *metrics.Recorder satisfies it.
type Metrics interface {
	RecordProviderRequest(op string, err error)
	RecordSymbol(region string, success bool)
	RecordRowsWritten(kind string, n int)
}

type nopMetrics struct{}

func (nopMetrics) RecordProviderRequest(string, error) {}
func (nopMetrics) RecordSymbol(string, bool)           {}
func (nopMetrics) RecordRowsWritten(string, int)       {}

// Deps are the collaborating services.
type Deps struct {
	Store     Store
	Provider  provider.Provider
	Retry     *retry.Policy
	Planner   *planner.Planner
	Sanitizer *sanitizer.Sanitizer
	Engine    *indicator.Engine
	Metrics   Metrics
}

// Options controls batching and the tracked universe.
type Options struct {
	Regions     []config.Region
	Benchmarks  []config.Benchmark
	BatchSize   int
	SymbolDelay time.Duration
	BatchDelay  time.Duration
	RegionDelay time.Duration
}

// Orchestrator runs symbols strictly in list order, one at a time.
type Orchestrator struct {
	store     Store
	provider  provider.Provider
	retry     *retry.Policy
	planner   *planner.Planner
	sanitizer *sanitizer.Sanitizer
	engine    *indicator.Engine
	metrics   Metrics
	opts      Options
	log       zerolog.Logger

	running atomic.Bool
	sleep   func(ctx context.Context, d time.Duration) error
}

// New returns an orchestrator. A BatchSize below one means 5.
func New(deps Deps, opts Options, log zerolog.Logger) *Orchestrator {
	if opts.BatchSize < 1 {
		opts.BatchSize = 5
	}
	m := deps.Metrics
	if m == nil {
		m = nopMetrics{}
	}
	return &Orchestrator{
		store:     deps.Store,
		provider:  deps.Provider,
		retry:     deps.Retry,
		planner:   deps.Planner,
		sanitizer: deps.Sanitizer,
		engine:    deps.Engine,
		metrics:   m,
		opts:      opts,
		log:       log.With().Str("component", "orchestrator").Logger(),
		sleep:     sleepCtx,
	}
}

// Regions returns the configured region names in order.
func (o *Orchestrator) Regions() []string {
	names := make([]string, len(o.opts.Regions))
	for i, r := range o.opts.Regions {
		names[i] = r.Name
	}
	return names
}

// Running reports whether a full multi-region run is in progress.
func (o *Orchestrator) Running() bool { return o.running.Load() }

func (o *Orchestrator) symbols(region string) ([]string, bool) {
	for _, r := range o.opts.Regions {
		if r.Name == region {
			return r.Symbols, true
		}
	}
	return nil, false
}

// UpdatePortfolio brings every symbol of region current. A failing symbol
// is recorded and the run moves on. The error is non-nil only for an
// unknown region.
func (o *Orchestrator) UpdatePortfolio(ctx context.Context, region string, forceRefresh bool) ([]model.SymbolResult, error) {
	syms, ok := o.symbols(region)
	if !ok {
		return nil, fmt.Errorf("unknown region %q", region)
	}
	return o.runBatches(ctx, region, syms, forceRefresh), nil
}

// UpdateAllRegions runs the benchmark pass, then each region with a pause
// in between. A second call while one is in progress returns
// AlreadyRunningError immediately.
func (o *Orchestrator) UpdateAllRegions(ctx context.Context, forceRefresh bool) (model.RunSummary, error) {
	if !o.running.CompareAndSwap(false, true) {
		o.log.Warn().Msg("update all regions already running")
		return model.RunSummary{Skipped: true}, &model.AlreadyRunningError{JobID: AllRegionsJobID}
	}
	defer o.running.Store(false)

	start := time.Now()
	var results []model.SymbolResult
	done := make(map[[2]string]bool)

	// stop is set once ctx ends; everything not yet run is reported failed.
	var stop error
	for i, b := range o.opts.Benchmarks {
		if stop == nil && i > 0 {
			stop = o.sleep(ctx, o.opts.SymbolDelay)
		}
		if stop == nil {
			stop = ctx.Err()
		}
		if stop != nil {
			results = append(results, cancelled(b.Region, []string{b.Symbol}, stop)...)
		} else {
			results = append(results, o.processSymbol(ctx, b.Symbol, b.Region, forceRefresh))
		}
		done[[2]string{b.Symbol, b.Region}] = true
	}

	for i, region := range o.opts.Regions {
		var todo []string
		for _, s := range region.Symbols {
			if !done[[2]string{s, region.Name}] {
				todo = append(todo, s)
			}
		}
		if stop == nil && (i > 0 || len(o.opts.Benchmarks) > 0) {
			stop = o.sleep(ctx, o.opts.RegionDelay)
		}
		if stop == nil {
			stop = ctx.Err()
		}
		if stop != nil {
			results = append(results, cancelled(region.Name, todo, stop)...)
			continue
		}
		results = append(results, o.runBatches(ctx, region.Name, todo, forceRefresh)...)
	}

	summary := model.Summarize(results)
	o.log.Info().Int("succeeded", summary.SuccessCount).Int("total", summary.TotalSymbols).
		Dur("elapsed", time.Since(start)).Msg("all regions updated")
	return summary, nil
}

// runBatches processes syms in fixed-size batches. Once ctx is done the
// remaining symbols are reported as failed so counts stay complete.
func (o *Orchestrator) runBatches(ctx context.Context, region string, syms []string, forceRefresh bool) []model.SymbolResult {
	results := make([]model.SymbolResult, 0, len(syms))
	size := o.opts.BatchSize

	for start := 0; start < len(syms); start += size {
		end := min(start+size, len(syms))
		if start > 0 {
			if err := o.sleep(ctx, o.opts.BatchDelay); err != nil {
				return append(results, cancelled(region, syms[start:], err)...)
			}
		}
		o.log.Debug().Str("region", region).Int("batch", start/size+1).Strs("symbols", syms[start:end]).Msg("batch start")

		for i := start; i < end; i++ {
			if i > start {
				if err := o.sleep(ctx, o.opts.SymbolDelay); err != nil {
					return append(results, cancelled(region, syms[i:], err)...)
				}
			}
			results = append(results, o.processSymbol(ctx, syms[i], region, forceRefresh))
		}
	}
	return results
}

func cancelled(region string, syms []string, err error) []model.SymbolResult {
	out := make([]model.SymbolResult, len(syms))
	for i, s := range syms {
		out[i] = model.SymbolResult{Symbol: s, Region: region, Error: err.Error()}
	}
	return out
}

// processSymbol runs the pipeline for one symbol and never panics the batch.
func (o *Orchestrator) processSymbol(ctx context.Context, symbol, region string, forceRefresh bool) model.SymbolResult {
	res := model.SymbolResult{Symbol: symbol, Region: region}
	err := o.pipeline(ctx, &res, forceRefresh)
	res.Success = err == nil
	if err != nil {
		res.Error = err.Error()
		ev := o.log.Error()
		if model.IsNotFound(err) {
			ev = o.log.Warn()
		}
		ev.Err(err).Str("symbol", symbol).Str("region", region).Msg("symbol update failed")
	} else {
		o.log.Info().Str("symbol", symbol).Str("region", region).
			Int("bars_written", res.BarsWritten).Int("indicator_rows", res.RowsWritten).
			Int("rejected", res.BarsRejected).Bool("up_to_date", res.UpToDate).Msg("symbol updated")
	}
	o.metrics.RecordSymbol(region, res.Success)
	return res
}

func (o *Orchestrator) pipeline(ctx context.Context, res *model.SymbolResult, forceRefresh bool) error {
	symbol, region := res.Symbol, res.Region

	w, err := o.planner.PlanWindow(ctx, symbol, region)
	if err != nil {
		return err
	}

	if w.UpToDate() {
		res.UpToDate = true
	} else {
		bars, err := retry.Do(ctx, o.retry, "fetch bars "+symbol, func(ctx context.Context) ([]model.PriceBar, error) {
			bars, err := o.provider.FetchDailyBars(ctx, symbol, w.From, w.To)
			o.metrics.RecordProviderRequest("bars", err)
			return bars, err
		})
		if err != nil {
			return err
		}
		bars = inWindow(bars, w)
		for i := range bars {
			bars[i].Symbol, bars[i].Region = symbol, region
		}
		res.BarsFetched = len(bars)

		accepted, anomalies := o.sanitizer.Sanitize(bars, symbol)
		for _, a := range anomalies {
			res.Warnings = append(res.Warnings, a.Error())
			if a.Dropped {
				res.BarsRejected++
			}
		}

		if len(accepted) > 0 {
			n, err := o.store.UpsertBars(ctx, accepted)
			if err != nil {
				return fmt.Errorf("store bars: %w", err)
			}
			res.BarsWritten = n
			o.metrics.RecordRowsWritten("bars", n)
		}
	}

	force := forceRefresh
	if !force {
		latest, ok, err := o.store.LatestDate(ctx, symbol, region)
		if err != nil {
			return fmt.Errorf("latest date: %w", err)
		}
		force = ok && o.planner.IsRecent(latest, RecentDays)
	}

	up, err := o.engine.UpdateIndicators(ctx, symbol, region, force)
	if err != nil {
		return err
	}
	res.RowsWritten = up.Written
	o.metrics.RecordRowsWritten("indicators", up.Written)
	return nil
}

// inWindow keeps bars dated within w; providers may pad the range.
func inWindow(bars []model.PriceBar, w model.FetchWindow) []model.PriceBar {
	out := bars[:0]
	for _, b := range bars {
		d := model.Day(b.Date)
		if d.Before(w.From) || d.After(w.To) {
			continue
		}
		b.Date = d
		out = append(out, b)
	}
	return out
}

// Rebackfill deletes the stored series and fetches the full history again.
func (o *Orchestrator) Rebackfill(ctx context.Context, symbol, region string) (model.SymbolResult, error) {
	if err := o.store.DeleteSeries(ctx, symbol, region); err != nil {
		return model.SymbolResult{Symbol: symbol, Region: region, Error: err.Error()}, fmt.Errorf("rebackfill %s/%s: %w", symbol, region, err)
	}
	o.log.Info().Str("symbol", symbol).Str("region", region).Msg("series deleted for rebackfill")
	return o.processSymbol(ctx, symbol, region, true), nil
}

// RefreshQuotes fetches the latest quote for every symbol of region, or of
// all regions when region is empty, benchmarks included.
func (o *Orchestrator) RefreshQuotes(ctx context.Context, region string) ([]model.SymbolResult, error) {
	type target struct{ symbol, region string }
	var targets []target
	seen := make(map[target]bool)
	add := func(t target) {
		if !seen[t] {
			seen[t] = true
			targets = append(targets, t)
		}
	}

	found := region == ""
	for _, b := range o.opts.Benchmarks {
		if region == "" || b.Region == region {
			add(target{b.Symbol, b.Region})
		}
	}
	for _, r := range o.opts.Regions {
		if region != "" && r.Name != region {
			continue
		}
		found = true
		for _, s := range r.Symbols {
			add(target{s, r.Name})
		}
	}
	if !found {
		return nil, fmt.Errorf("unknown region %q", region)
	}

	results := make([]model.SymbolResult, 0, len(targets))
	for i, t := range targets {
		if i > 0 {
			if err := o.sleep(ctx, o.opts.SymbolDelay); err != nil {
				for _, rest := range targets[i:] {
					results = append(results, cancelled(rest.region, []string{rest.symbol}, err)...)
				}
				break
			}
		}
		res := model.SymbolResult{Symbol: t.symbol, Region: t.region}
		q, err := retry.Do(ctx, o.retry, "fetch quote "+t.symbol, func(ctx context.Context) (model.Quote, error) {
			q, err := o.provider.FetchQuote(ctx, t.symbol)
			o.metrics.RecordProviderRequest("quote", err)
			return q, err
		})
		if err == nil {
			q.Symbol, q.Region = t.symbol, t.region
			if q.AsOf.IsZero() {
				q.AsOf = time.Now().UTC()
			}
			if err = o.store.UpsertQuote(ctx, q); err != nil {
				err = fmt.Errorf("store quote: %w", err)
			}
		}
		if err != nil {
			res.Error = err.Error()
			o.log.Error().Err(err).Str("symbol", t.symbol).Str("region", t.region).Msg("quote refresh failed")
		} else {
			res.Success = true
		}
		o.metrics.RecordSymbol(t.region, res.Success)
		results = append(results, res)
	}
	return results, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// IsAlreadyRunning reports whether err is an already-running rejection.
func IsAlreadyRunning(err error) bool { return errors.Is(err, model.ErrAlreadyRunning) }
