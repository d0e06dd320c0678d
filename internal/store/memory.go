package store

import (
	"context"
	"reflect"
	"sort"
	"sync"
	"time"

	"TickerVault/internal/model"
)

// MemoryStore is an in-process Store used when no database is configured
// and in tests. It follows the same upsert and change-count rules as SQLiteStore.
type MemoryStore struct {
	mu         sync.Mutex
	bars       map[seriesKey]map[time.Time]model.PriceBar
	indicators map[seriesKey]map[time.Time]model.IndicatorRow
	quotes     map[seriesKey]model.Quote
	jobs       map[string]model.JobConfig
	logs       []model.UpdateLogEntry
	nextLogID  int64
	perf       map[seriesKey]map[time.Time]model.PerformanceSnapshot
}

type seriesKey struct{ symbol, region string }

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		bars:       make(map[seriesKey]map[time.Time]model.PriceBar),
		indicators: make(map[seriesKey]map[time.Time]model.IndicatorRow),
		quotes:     make(map[seriesKey]model.Quote),
		jobs:       make(map[string]model.JobConfig),
		perf:       make(map[seriesKey]map[time.Time]model.PerformanceSnapshot),
	}
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) LatestDate(_ context.Context, symbol, region string) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest time.Time
	for d := range m.bars[seriesKey{symbol, region}] {
		if d.After(latest) {
			latest = d
		}
	}
	return latest, !latest.IsZero(), nil
}

func (m *MemoryStore) UpsertBars(_ context.Context, bars []model.PriceBar) (int, error) {
	for _, b := range bars {
		if err := validateBar(b); err != nil {
			return 0, wrap("upsert bars", err)
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	changed := 0
	for _, b := range bars {
		k := seriesKey{b.Symbol, b.Region}
		if m.bars[k] == nil {
			m.bars[k] = make(map[time.Time]model.PriceBar)
		}
		if old, ok := m.bars[k][b.Date]; ok && reflect.DeepEqual(old, b) {
			continue
		}
		m.bars[k][b.Date] = b
		changed++
	}
	return changed, nil
}

func (m *MemoryStore) Series(_ context.Context, symbol, region string) ([]model.PriceBar, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.PriceBar
	for _, b := range m.bars[seriesKey{symbol, region}] {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (m *MemoryStore) DeleteSeries(_ context.Context, symbol, region string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.bars, seriesKey{symbol, region})
	delete(m.indicators, seriesKey{symbol, region})
	return nil
}

func (m *MemoryStore) IndicatorRows(_ context.Context, symbol, region string) ([]model.IndicatorRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.IndicatorRow
	for _, r := range m.indicators[seriesKey{symbol, region}] {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (m *MemoryStore) UpsertIndicatorRows(_ context.Context, rows []model.IndicatorRow) (int, error) {
	for _, r := range rows {
		if err := validateIndicatorRow(r); err != nil {
			return 0, wrap("upsert indicator rows", err)
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	changed := 0
	for _, r := range rows {
		k := seriesKey{r.Symbol, r.Region}
		if m.indicators[k] == nil {
			m.indicators[k] = make(map[time.Time]model.IndicatorRow)
		}
		if old, ok := m.indicators[k][r.Date]; ok && reflect.DeepEqual(old, r) {
			continue
		}
		m.indicators[k][r.Date] = r
		changed++
	}
	return changed, nil
}

func (m *MemoryStore) UpsertQuote(_ context.Context, q model.Quote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quotes[seriesKey{q.Symbol, q.Region}] = q
	return nil
}

func (m *MemoryStore) Quotes(_ context.Context, region string) ([]model.Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Quote
	for k, q := range m.quotes {
		if k.region == region {
			out = append(out, q)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (m *MemoryStore) LoadJobConfigs(context.Context) (map[string]model.JobConfig, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]model.JobConfig, len(m.jobs))
	for k, v := range m.jobs {
		out[k] = v
	}
	return out, nil
}

func (m *MemoryStore) SaveJobConfig(_ context.Context, c model.JobConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[c.ID] = c
	return nil
}

func (m *MemoryStore) AppendLog(_ context.Context, e model.UpdateLogEntry) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextLogID++
	e.ID = m.nextLogID
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	m.logs = append(m.logs, e)
	return e.ID, nil
}

func (m *MemoryStore) ListLogs(_ context.Context, limit int) ([]model.UpdateLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 {
		limit = 100
	}
	var out []model.UpdateLogEntry
	for i := len(m.logs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.logs[i])
	}
	return out, nil
}

func (m *MemoryStore) ClearLogs(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := int64(len(m.logs))
	m.logs = nil
	return n, nil
}

func (m *MemoryStore) UpsertPerformance(_ context.Context, snaps []model.PerformanceSnapshot) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range snaps {
		k := seriesKey{p.Symbol, p.Region}
		if m.perf[k] == nil {
			m.perf[k] = make(map[time.Time]model.PerformanceSnapshot)
		}
		m.perf[k][p.AsOf] = p
	}
	return len(snaps), nil
}

func (m *MemoryStore) LatestPerformance(_ context.Context, region string) ([]model.PerformanceSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.PerformanceSnapshot
	for k, byDate := range m.perf {
		if k.region != region {
			continue
		}
		var latest model.PerformanceSnapshot
		for d, p := range byDate {
			if d.After(latest.AsOf) {
				latest = p
			}
		}
		out = append(out, latest)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}
