// Package sanitizer screens fetched bars for implausible single-day moves.
package sanitizer

import (
	"math"

	"github.com/rs/zerolog"

	"TickerVault/internal/model"
)

// DefaultMaxMove is the largest |close-open|/open accepted without a flag.
const DefaultMaxMove = 0.20

// Sanitizer flags abnormal bars. Benchmark symbols have them dropped,
// ordinary symbols keep them with Abnormal set.
type Sanitizer struct {
	maxMove    float64
	benchmarks map[string]bool
	log        zerolog.Logger
}

// New returns a sanitizer for the given benchmark symbols.
func New(benchmarks map[string]bool, log zerolog.Logger) *Sanitizer {
	if benchmarks == nil {
		benchmarks = map[string]bool{}
	}
	return &Sanitizer{
		maxMove:    DefaultMaxMove,
		benchmarks: benchmarks,
		log:        log.With().Str("component", "sanitizer").Logger(),
	}
}

// IsBenchmark reports whether symbol is treated as a benchmark.
func (s *Sanitizer) IsBenchmark(symbol string) bool { return s.benchmarks[symbol] }

// Sanitize returns the bars to store plus one anomaly per abnormal bar.
// The input slice is not modified.
func (s *Sanitizer) Sanitize(bars []model.PriceBar, symbol string) ([]model.PriceBar, []*model.DataAnomalyError) {
	benchmark := s.benchmarks[symbol]
	accepted := make([]model.PriceBar, 0, len(bars))
	var anomalies []*model.DataAnomalyError

	for _, b := range bars {
		ratio, ok := moveRatio(b)
		if !ok || ratio <= s.maxMove {
			accepted = append(accepted, b)
			continue
		}

		a := &model.DataAnomalyError{Symbol: symbol, Date: b.Date, Ratio: ratio, Dropped: benchmark}
		anomalies = append(anomalies, a)
		if benchmark {
			s.log.Warn().Str("symbol", symbol).Time("date", b.Date).Float64("ratio", ratio).
				Msg("abnormal benchmark bar dropped")
			continue
		}
		s.log.Warn().Str("symbol", symbol).Time("date", b.Date).Float64("ratio", ratio).
			Msg("abnormal bar kept")
		b.Abnormal = true
		accepted = append(accepted, b)
	}
	return accepted, anomalies
}

// moveRatio is |close-open|/open; ok is false when open is missing or zero.
func moveRatio(b model.PriceBar) (float64, bool) {
	if b.Open == nil || *b.Open == 0 {
		return 0, false
	}
	r := math.Abs(b.Close-*b.Open) / math.Abs(*b.Open)
	if math.IsNaN(r) || math.IsInf(r, 0) {
		return 0, false
	}
	return r, true
}
