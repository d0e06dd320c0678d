// Package planner computes the smallest fetch window that brings a stored
// series up to today.
package planner

import (
	"context"
	"fmt"
	"time"

	"TickerVault/internal/model"
)

// BackfillYears is how far back a symbol with no history is fetched.
const BackfillYears = 5

// LatestDater reports the most recent stored bar date for a series.
type LatestDater interface {
	LatestDate(ctx context.Context, symbol, region string) (time.Time, bool, error)
}

// Planner computes fetch windows. Today is taken in the market timezone.
type Planner struct {
	store LatestDater
	loc   *time.Location
	now   func() time.Time
}

// New returns a planner. A nil loc means UTC; a nil now means time.Now.
func New(store LatestDater, loc *time.Location, now func() time.Time) *Planner {
	if loc == nil {
		loc = time.UTC
	}
	if now == nil {
		now = time.Now
	}
	return &Planner{store: store, loc: loc, now: now}
}

// Today returns the current calendar date in the market timezone.
func (p *Planner) Today() time.Time {
	return model.Day(p.now().In(p.loc))
}

// PlanWindow returns [today-5y, today] for a new symbol, else
// [latest+1d, today]. A window whose From is after To means up to date.
func (p *Planner) PlanWindow(ctx context.Context, symbol, region string) (model.FetchWindow, error) {
	today := p.Today()
	w := model.FetchWindow{Symbol: symbol, Region: region, To: today}

	latest, ok, err := p.store.LatestDate(ctx, symbol, region)
	if err != nil {
		return w, fmt.Errorf("plan window %s/%s: %w", symbol, region, err)
	}
	if !ok {
		w.From = today.AddDate(-BackfillYears, 0, 0)
		return w, nil
	}
	w.From = model.Day(latest).AddDate(0, 0, 1)
	return w, nil
}

// IsRecent reports whether latest is within days calendar days of today.
// It drives the forced refresh of the most recent indicator row.
func (p *Planner) IsRecent(latest time.Time, days int) bool {
	if latest.IsZero() {
		return false
	}
	return !model.Day(latest).Before(p.Today().AddDate(0, 0, -days))
}
