package sanitizer

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TickerVault/internal/model"
)

func mkBar(symbol string, d int, open, close float64) model.PriceBar {
	return model.PriceBar{
		Symbol: symbol, Region: "USD",
		Date:  time.Date(2024, 3, d, 0, 0, 0, 0, time.UTC),
		Open:  model.Float(open),
		Close: close,
	}
}

func TestSanitize_BenchmarkDropsAbnormal(t *testing.T) {
	s := New(map[string]bool{"SPY": true}, zerolog.Nop())
	bars := []model.PriceBar{
		mkBar("SPY", 1, 500, 650), // 30% jump
		mkBar("SPY", 4, 500, 505),
	}
	got, anomalies := s.Sanitize(bars, "SPY")

	require.Len(t, got, 1)
	assert.Equal(t, 4, got[0].Date.Day())
	require.Len(t, anomalies, 1)
	assert.True(t, anomalies[0].Dropped)
	assert.InDelta(t, 0.30, anomalies[0].Ratio, 1e-9)
}

func TestSanitize_OrdinaryKeepsAndFlags(t *testing.T) {
	s := New(map[string]bool{"SPY": true}, zerolog.Nop())
	bars := []model.PriceBar{mkBar("XYZ", 1, 100, 125), mkBar("XYZ", 4, 100, 101)}

	got, anomalies := s.Sanitize(bars, "XYZ")
	require.Len(t, got, 2)
	assert.True(t, got[0].Abnormal)
	assert.False(t, got[1].Abnormal)
	require.Len(t, anomalies, 1)
	assert.False(t, anomalies[0].Dropped)
	assert.False(t, bars[0].Abnormal, "input is not modified")
}

func TestSanitize_Thresholds(t *testing.T) {
	s := New(map[string]bool{"SPY": true}, zerolog.Nop())
	tests := []struct {
		name        string
		open, close float64
		kept        bool
	}{
		{"exactly 20% up", 100, 120, true},
		{"just over 20% up", 100, 120.01, false},
		{"25% down", 100, 75, false},
		{"zero open ignored", 0, 50, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, _ := s.Sanitize([]model.PriceBar{mkBar("SPY", 1, tt.open, tt.close)}, "SPY")
			assert.Equal(t, tt.kept, len(got) == 1)
		})
	}
}

func TestSanitize_MissingOpenIsNotAbnormal(t *testing.T) {
	s := New(nil, zerolog.Nop())
	b := model.PriceBar{Symbol: "XYZ", Close: 10}
	got, anomalies := s.Sanitize([]model.PriceBar{b}, "XYZ")
	assert.Len(t, got, 1)
	assert.Empty(t, anomalies)
	assert.False(t, s.IsBenchmark("XYZ"))
}
