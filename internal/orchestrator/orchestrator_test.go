package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TickerVault/internal/config"
	"TickerVault/internal/indicator"
	"TickerVault/internal/model"
	"TickerVault/internal/planner"
	"TickerVault/internal/provider"
	"TickerVault/internal/retry"
	"TickerVault/internal/sanitizer"
	"TickerVault/internal/store"
)

type testStore interface {
	Store
	indicator.Store
}

type fixture struct {
	orc   *Orchestrator
	store testStore
	prov  *provider.MockProvider
}

func newFixture(t *testing.T, st testStore, now time.Time, opts Options) *fixture {
	t.Helper()
	log := zerolog.Nop()
	prov := provider.NewMockProvider(100)

	benchmarks := make(map[string]bool)
	for _, b := range opts.Benchmarks {
		benchmarks[b.Symbol] = true
	}
	policy := retry.NewPolicy(3, nil, log)
	policy.Base, policy.Jitter = 0, 0

	orc := New(Deps{
		Store:     st,
		Provider:  prov,
		Retry:     policy,
		Planner:   planner.New(st, time.UTC, func() time.Time { return now }),
		Sanitizer: sanitizer.New(benchmarks, log),
		Engine:    indicator.NewEngine(st, log),
	}, opts, log)
	return &fixture{orc: orc, store: st, prov: prov}
}

func sqliteStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	st, err := store.Open(":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

// lastWeekdayBars returns the final n weekday bars of the five years before now.
func lastWeekdayBars(symbol string, n int, now time.Time) []model.PriceBar {
	all := provider.GenerateWeekdayBars(symbol, 100, now.AddDate(-planner.BackfillYears, 0, 0), now)
	return all[len(all)-n:]
}

func TestUpdatePortfolio_BackfillXYZ(t *testing.T) {
	now := time.Date(2024, 6, 28, 18, 0, 0, 0, time.UTC)
	st := sqliteStore(t)
	f := newFixture(t, st, now, Options{Regions: []config.Region{{Name: "USD", Symbols: []string{"XYZ"}}}})
	f.prov.Bars["XYZ"] = lastWeekdayBars("XYZ", 1260, now)

	w, err := f.orc.planner.PlanWindow(context.Background(), "XYZ", "USD")
	require.NoError(t, err)
	assert.Equal(t, model.Day(now).AddDate(-5, 0, 0), w.From)

	results, err := f.orc.UpdatePortfolio(context.Background(), "USD", false)
	require.NoError(t, err)
	require.Len(t, results, 1)
	r := results[0]
	assert.True(t, r.Success, r.Error)
	assert.Equal(t, 1260, r.BarsFetched)
	assert.Equal(t, 1260, r.BarsWritten)
	assert.Equal(t, 1260, r.RowsWritten)

	series, err := st.Series(context.Background(), "XYZ", "USD")
	require.NoError(t, err)
	assert.Len(t, series, 1260)

	rows, err := st.IndicatorRows(context.Background(), "XYZ", "USD")
	require.NoError(t, err)
	require.Len(t, rows, 1260)
	for i, row := range rows {
		assert.Equal(t, i < 21, row.RSI9 == nil, "rsi9 at %d", i)
		assert.Equal(t, i < 21, row.RSI14 == nil, "rsi14 at %d", i)
		assert.Equal(t, i < 21, row.RSI21 == nil, "rsi21 at %d", i)
		assert.Equal(t, i < 26, row.MACDLine == nil, "macd line at %d", i)
		assert.Equal(t, i < 26, row.MACDSignal == nil, "signal at %d", i)
		assert.Equal(t, i < 26, row.Histogram == nil, "histogram at %d", i)
	}
}

func TestUpdatePortfolio_SecondRunIsIdempotent(t *testing.T) {
	now := time.Date(2024, 6, 28, 18, 0, 0, 0, time.UTC)
	for name, st := range map[string]testStore{"sqlite": sqliteStore(t), "memory": store.NewMemoryStore()} {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, st, now, Options{Regions: []config.Region{{Name: "USD", Symbols: []string{"AAA", "BBB"}}}})
			f.prov.Bars["AAA"] = lastWeekdayBars("AAA", 300, now)
			f.prov.Bars["BBB"] = lastWeekdayBars("BBB", 300, now)

			first, err := f.orc.UpdatePortfolio(context.Background(), "USD", false)
			require.NoError(t, err)
			for _, r := range first {
				require.True(t, r.Success, r.Error)
				assert.Equal(t, 300, r.BarsWritten)
			}

			second, err := f.orc.UpdatePortfolio(context.Background(), "USD", false)
			require.NoError(t, err)
			for _, r := range second {
				assert.True(t, r.Success, r.Error)
				assert.True(t, r.UpToDate)
				assert.Zero(t, r.BarsWritten)
				assert.Zero(t, r.RowsWritten)
			}
			assert.Equal(t, 1, f.prov.Calls["AAA"])
		})
	}
}

func TestUpdatePortfolio_IncrementalFetch(t *testing.T) {
	now := time.Date(2024, 6, 28, 18, 0, 0, 0, time.UTC)
	st := store.NewMemoryStore()
	f := newFixture(t, st, now, Options{Regions: []config.Region{{Name: "USD", Symbols: []string{"AAA"}}}})
	all := lastWeekdayBars("AAA", 200, now)
	f.prov.Bars["AAA"] = all[:195]

	_, err := f.orc.UpdatePortfolio(context.Background(), "USD", false)
	require.NoError(t, err)

	f.prov.Bars["AAA"] = all
	results, err := f.orc.UpdatePortfolio(context.Background(), "USD", false)
	require.NoError(t, err)
	assert.Equal(t, 5, results[0].BarsFetched)
	assert.Equal(t, 5, results[0].BarsWritten)
	assert.Equal(t, 5, results[0].RowsWritten)
}

func TestUpdatePortfolio_BenchmarkAnomalyRejected(t *testing.T) {
	now := time.Date(2024, 3, 4, 18, 0, 0, 0, time.UTC)
	st := store.NewMemoryStore()
	f := newFixture(t, st, now, Options{
		Regions:    []config.Region{{Name: "USD", Symbols: []string{"SPY"}}},
		Benchmarks: []config.Benchmark{{Symbol: "SPY", Region: "USD"}},
	})
	day := func(d int) time.Time { return time.Date(2024, 2, d, 0, 0, 0, 0, time.UTC) }
	f.prov.Bars["SPY"] = []model.PriceBar{
		{Date: day(28), Open: model.Float(500), Close: 501},
		{Date: day(29), Open: model.Float(501), Close: 502},
		{Date: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), Open: model.Float(500), Close: 650},
	}

	results, err := f.orc.UpdatePortfolio(context.Background(), "USD", false)
	require.NoError(t, err)
	require.Len(t, results, 1)
	r := results[0]
	assert.True(t, r.Success)
	assert.Equal(t, 1, r.BarsRejected)
	assert.Equal(t, 2, r.BarsWritten)
	require.Len(t, r.Warnings, 1)

	series, err := st.Series(context.Background(), "SPY", "USD")
	require.NoError(t, err)
	require.Len(t, series, 2)
	assert.Equal(t, day(29), series[1].Date)
}

func TestUpdatePortfolio_OrdinaryAnomalyFlagged(t *testing.T) {
	now := time.Date(2024, 3, 4, 18, 0, 0, 0, time.UTC)
	st := store.NewMemoryStore()
	f := newFixture(t, st, now, Options{Regions: []config.Region{{Name: "USD", Symbols: []string{"XYZ"}}}})
	f.prov.Bars["XYZ"] = []model.PriceBar{
		{Date: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), Open: model.Float(100), Close: 125},
	}

	results, err := f.orc.UpdatePortfolio(context.Background(), "USD", false)
	require.NoError(t, err)
	assert.True(t, results[0].Success)
	assert.Zero(t, results[0].BarsRejected)
	assert.Len(t, results[0].Warnings, 1)

	series, err := st.Series(context.Background(), "XYZ", "USD")
	require.NoError(t, err)
	require.Len(t, series, 1)
	assert.True(t, series[0].Abnormal)
}

func TestUpdatePortfolio_FaultIsolation(t *testing.T) {
	now := time.Date(2024, 6, 28, 18, 0, 0, 0, time.UTC)
	st := store.NewMemoryStore()
	f := newFixture(t, st, now, Options{
		Regions:   []config.Region{{Name: "USD", Symbols: []string{"AAA", "GONE", "FLAKY", "BBB"}}},
		BatchSize: 2,
	})
	f.prov.Bars["AAA"] = lastWeekdayBars("AAA", 50, now)
	f.prov.Bars["BBB"] = lastWeekdayBars("BBB", 50, now)
	f.prov.Errs["GONE"] = model.NewProviderError(model.KindNotFound, "GONE", errors.New("no such symbol"))
	f.prov.Errs["FLAKY"] = model.NewProviderError(model.KindTransient, "FLAKY", errors.New("502"))

	results, err := f.orc.UpdatePortfolio(context.Background(), "USD", false)
	require.NoError(t, err)
	require.Len(t, results, 4)

	got := make([]string, len(results))
	for i, r := range results {
		got[i] = r.Symbol
	}
	assert.Equal(t, []string{"AAA", "GONE", "FLAKY", "BBB"}, got)

	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
	assert.False(t, results[2].Success)
	assert.Contains(t, results[2].Error, "all 3 attempts exhausted")
	assert.True(t, results[3].Success)

	assert.Equal(t, 1, f.prov.Calls["GONE"], "not found is terminal")
	assert.Equal(t, 3, f.prov.Calls["FLAKY"], "transient is retried")

	summary := model.Summarize(results)
	assert.Equal(t, 2, summary.SuccessCount)
	assert.Equal(t, 4, summary.TotalSymbols)
}

func TestUpdatePortfolio_UnknownRegion(t *testing.T) {
	f := newFixture(t, store.NewMemoryStore(), time.Now(), Options{})
	_, err := f.orc.UpdatePortfolio(context.Background(), "EUR", false)
	assert.Error(t, err)
}

func TestUpdatePortfolio_DelaysBetweenSymbolsAndBatches(t *testing.T) {
	now := time.Date(2024, 6, 28, 18, 0, 0, 0, time.UTC)
	f := newFixture(t, store.NewMemoryStore(), now, Options{
		Regions:     []config.Region{{Name: "USD", Symbols: []string{"A", "B", "C", "D", "E"}}},
		BatchSize:   2,
		SymbolDelay: time.Millisecond,
		BatchDelay:  time.Second,
	})
	var slept []time.Duration
	f.orc.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	_, err := f.orc.UpdatePortfolio(context.Background(), "USD", false)
	require.NoError(t, err)
	// [A B] [C D] [E]
	assert.Equal(t, []time.Duration{time.Millisecond, time.Second, time.Millisecond, time.Second}, slept)
}

func TestUpdatePortfolio_CancelledReportsRemaining(t *testing.T) {
	now := time.Date(2024, 6, 28, 18, 0, 0, 0, time.UTC)
	f := newFixture(t, store.NewMemoryStore(), now, Options{
		Regions:   []config.Region{{Name: "USD", Symbols: []string{"A", "B", "C"}}},
		BatchSize: 1,
	})
	ctx, cancel := context.WithCancel(context.Background())
	f.orc.sleep = func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}

	results, err := f.orc.UpdatePortfolio(ctx, "USD", false)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
	assert.False(t, results[2].Success)
}

func TestUpdateAllRegions_BenchmarksFirst(t *testing.T) {
	now := time.Date(2024, 6, 28, 18, 0, 0, 0, time.UTC)
	f := newFixture(t, store.NewMemoryStore(), now, Options{
		Regions: []config.Region{
			{Name: "USD", Symbols: []string{"AAPL", "SPY"}},
			{Name: "EUR", Symbols: []string{"SAP"}},
		},
		Benchmarks: []config.Benchmark{{Symbol: "SPY", Region: "USD"}, {Symbol: "EXSA", Region: "EUR"}},
	})

	summary, err := f.orc.UpdateAllRegions(context.Background(), false)
	require.NoError(t, err)

	var order []string
	for _, r := range summary.Results {
		order = append(order, r.Region+":"+r.Symbol)
	}
	assert.Equal(t, []string{"USD:SPY", "EUR:EXSA", "USD:AAPL", "EUR:SAP"}, order)
	assert.Equal(t, 4, summary.SuccessCount)
	assert.False(t, f.orc.Running())
}

func TestUpdateAllRegions_AlreadyRunning(t *testing.T) {
	f := newFixture(t, store.NewMemoryStore(), time.Now(), Options{})
	f.orc.running.Store(true)

	summary, err := f.orc.UpdateAllRegions(context.Background(), false)
	require.Error(t, err)
	assert.True(t, IsAlreadyRunning(err))
	assert.True(t, summary.Skipped)
}

func TestUpdateAllRegions_CancelledReportsEveryRemainingSymbol(t *testing.T) {
	now := time.Date(2024, 6, 28, 18, 0, 0, 0, time.UTC)
	f := newFixture(t, store.NewMemoryStore(), now, Options{
		Regions: []config.Region{
			{Name: "USD", Symbols: []string{"SPY", "AAPL", "MSFT"}},
			{Name: "EUR", Symbols: []string{"SAP", "ASML"}},
		},
		Benchmarks: []config.Benchmark{{Symbol: "SPY", Region: "USD"}},
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.orc.sleep = func(context.Context, time.Duration) error {
		cancel()
		return nil
	}

	summary, err := f.orc.UpdateAllRegions(ctx, false)
	require.NoError(t, err)
	require.Equal(t, 5, summary.TotalSymbols)
	assert.Equal(t, 1, summary.SuccessCount)
	assert.Equal(t, "SPY", summary.Results[0].Symbol)

	failed := summary.Failed()
	require.Len(t, failed, 4)
	for _, r := range failed {
		assert.Contains(t, r.Error, context.Canceled.Error(), r.Symbol)
	}
	assert.Equal(t, []string{"AAPL", "MSFT", "SAP", "ASML"},
		[]string{failed[0].Symbol, failed[1].Symbol, failed[2].Symbol, failed[3].Symbol})
}

func TestUpdateAllRegions_PacesBenchmarks(t *testing.T) {
	now := time.Date(2024, 6, 28, 18, 0, 0, 0, time.UTC)
	f := newFixture(t, store.NewMemoryStore(), now, Options{
		Regions:     []config.Region{{Name: "USD", Symbols: []string{"AAPL", "MSFT"}}},
		Benchmarks:  []config.Benchmark{{Symbol: "SPY", Region: "USD"}, {Symbol: "QQQ", Region: "USD"}},
		SymbolDelay: time.Millisecond,
		BatchDelay:  time.Second,
		RegionDelay: 5 * time.Second,
	})
	var slept []time.Duration
	f.orc.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	summary, err := f.orc.UpdateAllRegions(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 4, summary.SuccessCount)
	// SPY | QQQ, then the region pause, then AAPL | MSFT.
	assert.Equal(t, []time.Duration{time.Millisecond, 5 * time.Second, time.Millisecond}, slept)
}

// blockingProvider holds FetchDailyBars until release is closed.
type blockingProvider struct {
	*provider.MockProvider
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingProvider) FetchDailyBars(ctx context.Context, symbol string, from, to time.Time) ([]model.PriceBar, error) {
	b.once.Do(func() { close(b.entered) })
	<-b.release
	return b.MockProvider.FetchDailyBars(ctx, symbol, from, to)
}

func TestUpdateAllRegions_ConcurrentCallRejected(t *testing.T) {
	now := time.Date(2024, 6, 28, 18, 0, 0, 0, time.UTC)
	f := newFixture(t, store.NewMemoryStore(), now, Options{
		Regions: []config.Region{{Name: "USD", Symbols: []string{"AAA"}}},
	})
	bp := &blockingProvider{MockProvider: f.prov, entered: make(chan struct{}), release: make(chan struct{})}
	f.orc.provider = bp

	done := make(chan error, 1)
	go func() {
		_, err := f.orc.UpdateAllRegions(context.Background(), false)
		done <- err
	}()
	<-bp.entered

	_, err := f.orc.UpdateAllRegions(context.Background(), false)
	assert.True(t, IsAlreadyRunning(err))

	close(bp.release)
	require.NoError(t, <-done)
}

func TestRebackfill_ReplacesSeries(t *testing.T) {
	now := time.Date(2024, 6, 28, 18, 0, 0, 0, time.UTC)
	st := store.NewMemoryStore()
	f := newFixture(t, st, now, Options{Regions: []config.Region{{Name: "USD", Symbols: []string{"AAA"}}}})
	f.prov.Bars["AAA"] = lastWeekdayBars("AAA", 40, now)

	_, err := f.orc.UpdatePortfolio(context.Background(), "USD", false)
	require.NoError(t, err)

	res, err := f.orc.Rebackfill(context.Background(), "AAA", "USD")
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 40, res.BarsWritten)
	assert.Equal(t, 40, res.RowsWritten)
	assert.Equal(t, 2, f.prov.Calls["AAA"])
}

func TestRefreshQuotes(t *testing.T) {
	st := store.NewMemoryStore()
	f := newFixture(t, st, time.Now(), Options{
		Regions: []config.Region{
			{Name: "USD", Symbols: []string{"AAPL", "BAD"}},
			{Name: "EUR", Symbols: []string{"SAP"}},
		},
		Benchmarks: []config.Benchmark{{Symbol: "SPY", Region: "USD"}},
	})
	f.prov.Errs["BAD"] = model.NewProviderError(model.KindNotFound, "BAD", errors.New("missing"))

	results, err := f.orc.RefreshQuotes(context.Background(), "USD")
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "SPY", results[0].Symbol)
	assert.False(t, results[2].Success)

	quotes, err := st.Quotes(context.Background(), "USD")
	require.NoError(t, err)
	assert.Len(t, quotes, 2)

	_, err = f.orc.RefreshQuotes(context.Background(), "JPY")
	assert.Error(t, err)
}

func TestRefreshQuotes_CancelledReportsRemaining(t *testing.T) {
	f := newFixture(t, store.NewMemoryStore(), time.Now(), Options{
		Regions:    []config.Region{{Name: "USD", Symbols: []string{"AAPL"}}, {Name: "EUR", Symbols: []string{"SAP"}}},
		Benchmarks: []config.Benchmark{{Symbol: "SPY", Region: "USD"}},
	})
	f.orc.sleep = func(context.Context, time.Duration) error { return context.Canceled }

	results, err := f.orc.RefreshQuotes(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.True(t, results[0].Success)
	assert.Equal(t, "AAPL", results[1].Symbol)
	assert.False(t, results[1].Success)
	assert.Equal(t, "EUR", results[2].Region)
	assert.False(t, results[2].Success)
}
