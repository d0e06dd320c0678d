package store

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TickerVault/internal/model"
)

func setupTestDB(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := Open(":memory:", zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// forEachStore runs fn against both implementations.
func forEachStore(t *testing.T, fn func(t *testing.T, s Store)) {
	t.Run("sqlite", func(t *testing.T) { fn(t, setupTestDB(t)) })
	t.Run("memory", func(t *testing.T) { fn(t, NewMemoryStore()) })
}

func day(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 0, 0, 0, 0, time.UTC) }

func bar(d time.Time, close float64) model.PriceBar {
	return model.PriceBar{
		Symbol: "XYZ", Region: "USD", Date: d,
		Open: model.Float(close - 1), Close: close, Volume: model.Float(1000),
	}
}

func TestUpsertBars_SeriesAndLatest(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()

		_, ok, err := s.LatestDate(ctx, "XYZ", "USD")
		require.NoError(t, err)
		assert.False(t, ok)

		n, err := s.UpsertBars(ctx, []model.PriceBar{
			bar(day(2024, 3, 1), 10), bar(day(2024, 3, 4), 11), bar(day(2024, 2, 29), 9),
		})
		require.NoError(t, err)
		assert.Equal(t, 3, n)

		latest, ok, err := s.LatestDate(ctx, "XYZ", "USD")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, day(2024, 3, 4), latest)

		series, err := s.Series(ctx, "XYZ", "USD")
		require.NoError(t, err)
		require.Len(t, series, 3)
		assert.Equal(t, day(2024, 2, 29), series[0].Date)
		assert.Equal(t, 11.0, series[2].Close)
		assert.Nil(t, series[0].High)
		require.NotNil(t, series[0].Open)
		assert.Equal(t, 8.0, *series[0].Open)

		// Other region is a separate series.
		_, ok, err = s.LatestDate(ctx, "XYZ", "EUR")
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestUpsertBars_Idempotent(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		bars := []model.PriceBar{bar(day(2024, 3, 1), 10), bar(day(2024, 3, 4), 11)}

		n, err := s.UpsertBars(ctx, bars)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		n, err = s.UpsertBars(ctx, bars)
		require.NoError(t, err)
		assert.Equal(t, 0, n, "rewriting identical bars changes nothing")

		revised := bar(day(2024, 3, 4), 11.5)
		n, err = s.UpsertBars(ctx, []model.PriceBar{revised})
		require.NoError(t, err)
		assert.Equal(t, 1, n)

		series, err := s.Series(ctx, "XYZ", "USD")
		require.NoError(t, err)
		require.Len(t, series, 2)
		assert.Equal(t, 11.5, series[1].Close)
	})
}

func TestUpsertBars_RejectsInvalid(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		bad := bar(day(2024, 3, 1), math.NaN())
		_, err := s.UpsertBars(ctx, []model.PriceBar{bar(day(2024, 2, 29), 9), bad})
		require.Error(t, err)

		var se *model.StorageError
		assert.True(t, errors.As(err, &se))

		series, err := s.Series(ctx, "XYZ", "USD")
		require.NoError(t, err)
		assert.Empty(t, series, "nothing is written when any bar is invalid")
	})
}

func TestIndicatorRows_RoundTripAndIdempotent(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		rows := []model.IndicatorRow{
			{Symbol: "XYZ", Region: "USD", Date: day(2024, 3, 1), FastPeriod: 12, SlowPeriod: 26, SigPeriod: 9},
			{Symbol: "XYZ", Region: "USD", Date: day(2024, 3, 4), RSI9: model.Float(55.5), RSI14: model.Float(60),
				MACDLine: model.Float(1.2), MACDSignal: model.Float(1.0), Histogram: model.Float(0.2),
				FastPeriod: 12, SlowPeriod: 26, SigPeriod: 9},
		}
		n, err := s.UpsertIndicatorRows(ctx, rows)
		require.NoError(t, err)
		assert.Equal(t, 2, n)

		n, err = s.UpsertIndicatorRows(ctx, rows)
		require.NoError(t, err)
		assert.Equal(t, 0, n)

		got, err := s.IndicatorRows(ctx, "XYZ", "USD")
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.True(t, got[0].Empty())
		require.NotNil(t, got[1].RSI9)
		assert.Equal(t, 55.5, *got[1].RSI9)
		assert.Nil(t, got[1].RSI21)
		assert.Equal(t, 26, got[1].SlowPeriod)
	})
}

func TestDeleteSeries(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		_, err := s.UpsertBars(ctx, []model.PriceBar{bar(day(2024, 3, 1), 10)})
		require.NoError(t, err)
		_, err = s.UpsertIndicatorRows(ctx, []model.IndicatorRow{{Symbol: "XYZ", Region: "USD", Date: day(2024, 3, 1)}})
		require.NoError(t, err)

		require.NoError(t, s.DeleteSeries(ctx, "XYZ", "USD"))

		series, err := s.Series(ctx, "XYZ", "USD")
		require.NoError(t, err)
		assert.Empty(t, series)
		rows, err := s.IndicatorRows(ctx, "XYZ", "USD")
		require.NoError(t, err)
		assert.Empty(t, rows)
	})
}

func TestQuotes(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		asOf := time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC)
		require.NoError(t, s.UpsertQuote(ctx, model.Quote{Symbol: "B", Region: "USD", Price: 2, AsOf: asOf}))
		require.NoError(t, s.UpsertQuote(ctx, model.Quote{Symbol: "A", Region: "USD", Price: 1, AsOf: asOf}))
		require.NoError(t, s.UpsertQuote(ctx, model.Quote{Symbol: "A", Region: "USD", Price: 1.5, AsOf: asOf}))

		got, err := s.Quotes(ctx, "USD")
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "A", got[0].Symbol)
		assert.Equal(t, 1.5, got[0].Price)
	})
}

func TestJobConfig(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		last := time.Date(2024, 3, 1, 21, 0, 0, 0, time.UTC)
		require.NoError(t, s.SaveJobConfig(ctx, model.JobConfig{ID: "historical-prices", Schedule: "0 17 * * 1-5", Enabled: true}))
		require.NoError(t, s.SaveJobConfig(ctx, model.JobConfig{ID: "historical-prices", Schedule: "30 17 * * 1-5",
			Enabled: false, LastRun: last, LastStatus: "SUCCESS"}))

		got, err := s.LoadJobConfigs(ctx)
		require.NoError(t, err)
		require.Len(t, got, 1)
		c := got["historical-prices"]
		assert.Equal(t, "30 17 * * 1-5", c.Schedule)
		assert.False(t, c.Enabled)
		assert.True(t, last.Equal(c.LastRun))
		assert.Equal(t, "SUCCESS", c.LastStatus)
	})
}

func TestUpdateLog(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		id1, err := s.AppendLog(ctx, model.UpdateLogEntry{Type: "historical-prices", Status: model.StatusInProgress})
		require.NoError(t, err)
		id2, err := s.AppendLog(ctx, model.UpdateLogEntry{Type: "historical-prices", Status: model.StatusSuccess,
			Message: "5/5 symbols updated", Details: map[string]any{"success_count": 5}})
		require.NoError(t, err)
		assert.Greater(t, id2, id1)

		got, err := s.ListLogs(ctx, 10)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, id2, got[0].ID, "newest first")
		assert.Equal(t, model.StatusSuccess, got[0].Status)
		assert.EqualValues(t, 5, got[0].Details["success_count"])

		got, err = s.ListLogs(ctx, 1)
		require.NoError(t, err)
		assert.Len(t, got, 1)

		n, err := s.ClearLogs(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 2, n)
	})
}

func TestLatestPerformance(t *testing.T) {
	forEachStore(t, func(t *testing.T, s Store) {
		ctx := context.Background()
		_, err := s.UpsertPerformance(ctx, []model.PerformanceSnapshot{
			{Symbol: "XYZ", Region: "USD", AsOf: day(2024, 3, 1), Close: 10, Return1W: model.Float(0.01)},
			{Symbol: "XYZ", Region: "USD", AsOf: day(2024, 3, 8), Close: 11, Return1W: model.Float(0.1)},
			{Symbol: "SPY", Region: "USD", AsOf: day(2024, 3, 8), Close: 500},
		})
		require.NoError(t, err)

		got, err := s.LatestPerformance(ctx, "USD")
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "SPY", got[0].Symbol)
		assert.Equal(t, day(2024, 3, 8), got[1].AsOf)
		assert.Equal(t, 11.0, got[1].Close)
		assert.Nil(t, got[0].Return1W)
	})
}
