package provider

import (
	"context"
	"sync"
	"time"

	"TickerVault/internal/model"
)

// MockProvider serves generated or fixed data for development and tests.
// Bars returned are always restricted to the requested window.
type MockProvider struct {
	mu sync.Mutex

	// Price seeds generated bars when Bars has no entry for a symbol.
	Price float64
	// Bars holds fixed history per symbol.
	Bars map[string][]model.PriceBar
	// Errs, when set for a symbol, is returned by every call for it.
	Errs map[string]error
	// Calls counts FetchDailyBars calls per symbol.
	Calls map[string]int
}

// NewMockProvider returns a provider generating weekday bars around price.
func NewMockProvider(price float64) *MockProvider {
	return &MockProvider{
		Price: price,
		Bars:  make(map[string][]model.PriceBar),
		Errs:  make(map[string]error),
		Calls: make(map[string]int),
	}
}

func (m *MockProvider) Name() string { return "mock" }

func (m *MockProvider) FetchDailyBars(_ context.Context, symbol string, from, to time.Time) ([]model.PriceBar, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls[symbol]++
	if err := m.Errs[symbol]; err != nil {
		return nil, err
	}
	if fixed, ok := m.Bars[symbol]; ok {
		out := make([]model.PriceBar, len(fixed))
		copy(out, fixed)
		return clip(out, from, to), nil
	}
	return generateMockBars(symbol, m.Price, from, to), nil
}

func (m *MockProvider) FetchQuote(_ context.Context, symbol string) (model.Quote, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.Errs[symbol]; err != nil {
		return model.Quote{}, err
	}
	price := m.Price
	if fixed := m.Bars[symbol]; len(fixed) > 0 {
		price = fixed[len(fixed)-1].Close
	}
	return model.Quote{Symbol: symbol, Price: price, AsOf: time.Now().UTC()}, nil
}

// GenerateWeekdayBars builds a gently oscillating weekday series in [from, to].
func GenerateWeekdayBars(symbol string, basePrice float64, from, to time.Time) []model.PriceBar {
	return generateMockBars(symbol, basePrice, from, to)
}

func generateMockBars(symbol string, basePrice float64, from, to time.Time) []model.PriceBar {
	var bars []model.PriceBar
	for d := model.Day(from); !d.After(model.Day(to)); d = d.AddDate(0, 0, 1) {
		if wd := d.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		// Deterministic in the date so repeated fetches agree.
		step := float64(d.Unix()/86400%17) - 8
		p := basePrice * (1 + step*0.002)
		bars = append(bars, model.PriceBar{
			Symbol: symbol,
			Date:   d,
			Open:   model.Float(p * 0.999),
			High:   model.Float(p * 1.005),
			Low:    model.Float(p * 0.995),
			Close:  p,
			Volume: model.Float(1000000),
		})
	}
	return bars
}
