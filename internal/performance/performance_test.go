package performance

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TickerVault/internal/config"
	"TickerVault/internal/model"
	"TickerVault/internal/store"
)

func day(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

// linear builds daily bars from start with close rising by step per day.
func linear(symbol string, start time.Time, n int, base, step float64) []model.PriceBar {
	bars := make([]model.PriceBar, n)
	for i := range bars {
		c := base + step*float64(i)
		bars[i] = model.PriceBar{Symbol: symbol, Region: "USD", Date: start.AddDate(0, 0, i), Close: c}
	}
	return bars
}

func TestTrailingReturn(t *testing.T) {
	bars := linear("XYZ", day(2024, 1, 1), 10, 100, 1) // Jan 1..10, 100..109
	r := TrailingReturn(bars, day(2024, 1, 3))
	require.NotNil(t, r)
	assert.InDelta(t, 109.0/102.0-1, *r, 1e-12)

	assert.Nil(t, TrailingReturn(bars, day(2023, 12, 1)), "series too short")
	assert.Nil(t, TrailingReturn(nil, day(2024, 1, 1)))
}

func TestRange52WeekAndPosition(t *testing.T) {
	bars := linear("XYZ", day(2022, 1, 1), 800, 100, 0.1)
	bars[10].High = model.Float(10000) // outside the window
	bars[790].Low = model.Float(1)

	asOf := bars[len(bars)-1].Date
	high, low, err := Range52Week(bars, asOf)
	require.NoError(t, err)
	assert.InDelta(t, bars[799].Close, high, 1e-9)
	assert.Equal(t, 1.0, low)

	pos, err := Position(50, 100, 0)
	require.NoError(t, err)
	assert.Equal(t, 0.5, pos)
	pos, _ = Position(150, 100, 0)
	assert.Equal(t, 1.0, pos)
	pos, _ = Position(5, 5, 5)
	assert.Equal(t, 0.5, pos)
	_, err = Position(1, 0, 5)
	assert.Error(t, err)

	_, _, err = Range52Week(nil, asOf)
	assert.Error(t, err)
}

func TestRecompute(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	start := day(2023, 1, 1)
	_, err := st.UpsertBars(ctx, linear("SPY", start, 400, 100, 0.05))
	require.NoError(t, err)
	_, err = st.UpsertBars(ctx, linear("XYZ", start, 400, 100, 0.10))
	require.NoError(t, err)

	svc := NewService(st, Universe{
		Regions:    []config.Region{{Name: "USD", Symbols: []string{"XYZ", "SPY", "MISSING"}}},
		Benchmarks: []config.Benchmark{{Symbol: "SPY", Region: "USD"}},
	}, zerolog.Nop())

	n, err := svc.Recompute(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := st.LatestPerformance(ctx, "USD")
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "SPY", got[0].Symbol)
	assert.Nil(t, got[0].Excess1Y)

	xyz := got[1]
	require.NotNil(t, xyz.Return1Y)
	require.NotNil(t, xyz.Excess1Y)
	assert.Greater(t, *xyz.Excess1Y, 0.0, "XYZ rose faster than SPY")
	assert.InDelta(t, 1.0, xyz.Position52W, 1e-9)
}

// capturingStore records the snapshots handed to UpsertPerformance.
type capturingStore struct {
	*store.MemoryStore
	written []model.PerformanceSnapshot
}

func (c *capturingStore) UpsertPerformance(ctx context.Context, snaps []model.PerformanceSnapshot) (int, error) {
	c.written = append(c.written, snaps...)
	return c.MemoryStore.UpsertPerformance(ctx, snaps)
}

func TestRecompute_FollowsConfiguredOrder(t *testing.T) {
	ctx := context.Background()
	st := &capturingStore{MemoryStore: store.NewMemoryStore()}
	start := day(2023, 1, 1)
	for _, b := range []struct{ symbol, region string }{
		{"SPY", "USD"}, {"AAPL", "USD"}, {"MSFT", "USD"}, {"EXSA", "EUR"}, {"SAP", "EUR"},
	} {
		bars := linear(b.symbol, start, 300, 100, 0.05)
		for i := range bars {
			bars[i].Region = b.region
		}
		_, err := st.UpsertBars(ctx, bars)
		require.NoError(t, err)
	}

	svc := NewService(st, Universe{
		Regions: []config.Region{
			{Name: "USD", Symbols: []string{"MSFT", "SPY", "AAPL"}},
			{Name: "EUR", Symbols: []string{"SAP"}},
		},
		Benchmarks: []config.Benchmark{{Symbol: "SPY", Region: "USD"}, {Symbol: "EXSA", Region: "EUR"}},
	}, zerolog.Nop())

	for i := 0; i < 5; i++ {
		st.written = nil
		_, err := svc.Recompute(ctx)
		require.NoError(t, err)
		var order []string
		for _, s := range st.written {
			order = append(order, s.Region+":"+s.Symbol)
		}
		assert.Equal(t, []string{"USD:SPY", "EUR:EXSA", "USD:MSFT", "USD:AAPL", "EUR:SAP"}, order)
	}
}
