package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"TickerVault/internal/config"
	"TickerVault/internal/model"
)

// Catalog job IDs.
const (
	JobCurrentPrices     = "current-prices"
	JobHistoricalPrices  = "historical-prices"
	JobWeeklyPerformance = "weekly-performance"
	JobMarketOpen        = "market-open"
)

// Pipeline is the orchestrator surface the catalog drives.
type Pipeline interface {
	UpdateAllRegions(ctx context.Context, forceRefresh bool) (model.RunSummary, error)
	RefreshQuotes(ctx context.Context, region string) ([]model.SymbolResult, error)
}

// Recomputer rebuilds performance history.
type Recomputer interface {
	Recompute(ctx context.Context) (int, error)
}

// MarketHours is the regular session in the market timezone.
type MarketHours struct {
	Loc         *time.Location
	Open, Close time.Duration // offsets from local midnight
}

// ParseMarketHours parses "HH:MM" open and close times.
func ParseMarketHours(loc *time.Location, open, close string) (MarketHours, error) {
	o, err := clock(open)
	if err != nil {
		return MarketHours{}, fmt.Errorf("market open: %w", err)
	}
	c, err := clock(close)
	if err != nil {
		return MarketHours{}, fmt.Errorf("market close: %w", err)
	}
	if c <= o {
		return MarketHours{}, fmt.Errorf("market close %s not after open %s", close, open)
	}
	return MarketHours{Loc: loc, Open: o, Close: c}, nil
}

func clock(s string) (time.Duration, error) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, err
	}
	return time.Duration(t.Hour())*time.Hour + time.Duration(t.Minute())*time.Minute, nil
}

// IsOpen reports whether t falls in the session on a weekday.
func (h MarketHours) IsOpen(t time.Time) bool {
	loc := h.Loc
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	if wd := local.Weekday(); wd == time.Saturday || wd == time.Sunday {
		return false
	}
	y, m, d := local.Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, loc)
	since := local.Sub(midnight)
	return since >= h.Open && since < h.Close
}

// Catalog returns the fixed job set with its default schedules.
func Catalog(p Pipeline, perf Recomputer, hours MarketHours, now func() time.Time) []Job {
	if now == nil {
		now = time.Now
	}
	return []Job{
		{
			ID:       JobCurrentPrices,
			Name:     "Current price refresh",
			Schedule: "*/15 9-16 * * 1-5",
			Enabled:  true,
			Task: func(ctx context.Context) (Outcome, error) {
				if !hours.IsOpen(now()) {
					return Outcome{Message: "skipped: market closed", Details: map[string]any{"skipped": true}}, nil
				}
				return refreshQuotes(ctx, p)
			},
		},
		{
			ID:       JobHistoricalPrices,
			Name:     "Historical price and indicator update",
			Schedule: "30 17 * * 1-5",
			Enabled:  true,
			Task:     func(ctx context.Context) (Outcome, error) { return updateAll(ctx, p) },
		},
		{
			ID:       JobWeeklyPerformance,
			Name:     "Weekly performance history",
			Schedule: "0 6 * * 6",
			Enabled:  true,
			Task: func(ctx context.Context) (Outcome, error) {
				n, err := perf.Recompute(ctx)
				if err != nil {
					return Outcome{}, err
				}
				return Outcome{
					Message: fmt.Sprintf("%d performance snapshots written", n),
					Details: map[string]any{"snapshots": n},
				}, nil
			},
		},
		{
			ID:       JobMarketOpen,
			Name:     "Market open quick refresh",
			Schedule: "31 9 * * 1-5",
			Enabled:  true,
			Task:     func(ctx context.Context) (Outcome, error) { return refreshQuotes(ctx, p) },
		},
	}
}

func updateAll(ctx context.Context, p Pipeline) (Outcome, error) {
	summary, err := p.UpdateAllRegions(ctx, false)
	if errors.Is(err, model.ErrAlreadyRunning) {
		return Outcome{Message: "skipped: update already running", Details: map[string]any{"skipped": true}}, nil
	}
	if err != nil {
		return Outcome{}, err
	}
	out := summarize(summary.Results, "symbols updated")
	if summary.TotalSymbols > 0 && summary.SuccessCount == 0 {
		return out, fmt.Errorf("no symbols updated (0/%d)", summary.TotalSymbols)
	}
	return out, nil
}

func refreshQuotes(ctx context.Context, p Pipeline) (Outcome, error) {
	results, err := p.RefreshQuotes(ctx, "")
	if err != nil {
		return Outcome{}, err
	}
	return summarize(results, "quotes refreshed"), nil
}

func summarize(results []model.SymbolResult, what string) Outcome {
	s := model.Summarize(results)
	failed := s.Failed()
	symbols := make([]string, len(failed))
	for i, r := range failed {
		symbols[i] = r.Region + ":" + r.Symbol
	}
	return Outcome{
		Message: fmt.Sprintf("%d/%d %s", s.SuccessCount, s.TotalSymbols, what),
		Details: map[string]any{
			"success_count": s.SuccessCount,
			"total_symbols": s.TotalSymbols,
			"failed":        symbols,
		},
		Failed: failed,
	}
}

// ApplyOverrides replaces default schedules and enabled flags with the
// ones from the config file. Persisted operator changes still win at
// Initialize.
func ApplyOverrides(jobs []Job, overrides map[string]config.JobOverride) []Job {
	for i := range jobs {
		o, ok := overrides[jobs[i].ID]
		if !ok {
			continue
		}
		if o.Schedule != "" {
			jobs[i].Schedule = o.Schedule
		}
		if o.Enabled != nil {
			jobs[i].Enabled = *o.Enabled
		}
	}
	return jobs
}
