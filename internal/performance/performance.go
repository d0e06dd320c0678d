// Package performance recomputes trailing-return snapshots for every tracked
// symbol and benchmark.
package performance

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"TickerVault/internal/config"
	"TickerVault/internal/model"
)

// Store is what the recompute reads from and writes to.
type Store interface {
	Series(ctx context.Context, symbol, region string) ([]model.PriceBar, error)
	UpsertPerformance(ctx context.Context, snaps []model.PerformanceSnapshot) (int, error)
}

// Universe lists the regions to recompute, in order, and their benchmarks.
// Each region has at most one benchmark; config validation enforces it.
type Universe struct {
	Regions    []config.Region
	Benchmarks []config.Benchmark
}

// Service recomputes performance snapshots.
type Service struct {
	store    Store
	universe Universe
	log      zerolog.Logger
}

// NewService returns a Service over universe.
func NewService(store Store, universe Universe, log zerolog.Logger) *Service {
	return &Service{
		store:    store,
		universe: universe,
		log:      log.With().Str("component", "performance").Logger(),
	}
}

// Snapshot computes the performance of a series as of its last bar.
func Snapshot(bars []model.PriceBar) (model.PerformanceSnapshot, error) {
	if len(bars) == 0 {
		return model.PerformanceSnapshot{}, fmt.Errorf("empty series")
	}
	last := bars[len(bars)-1]
	s := model.PerformanceSnapshot{
		Symbol:   last.Symbol,
		Region:   last.Region,
		AsOf:     last.Date,
		Close:    last.Close,
		Return1W: TrailingReturn(bars, last.Date.AddDate(0, 0, -7)),
		Return1M: TrailingReturn(bars, last.Date.AddDate(0, -1, 0)),
		Return3M: TrailingReturn(bars, last.Date.AddDate(0, -3, 0)),
		Return1Y: TrailingReturn(bars, last.Date.AddDate(-1, 0, 0)),
	}
	high, low, err := Range52Week(bars, last.Date)
	if err != nil {
		return s, err
	}
	s.High52W, s.Low52W = high, low
	if s.Position52W, err = Position(last.Close, high, low); err != nil {
		return s, err
	}
	return s, nil
}

// Recompute rebuilds the latest snapshot for every symbol. Benchmarks are
// computed first so each symbol can be compared with its region benchmark.
// A symbol that fails is logged and skipped.
func (s *Service) Recompute(ctx context.Context) (int, error) {
	start := time.Now()
	var snaps []model.PerformanceSnapshot
	benchReturn := make(map[string]*float64)
	benchmark := make(map[string]string, len(s.universe.Benchmarks))

	for _, b := range s.universe.Benchmarks {
		benchmark[b.Region] = b.Symbol
		snap, err := s.snapshot(ctx, b.Symbol, b.Region)
		if err != nil {
			s.log.Warn().Err(err).Str("symbol", b.Symbol).Str("region", b.Region).Msg("benchmark snapshot skipped")
			continue
		}
		benchReturn[b.Region] = snap.Return1Y
		snaps = append(snaps, snap)
	}

	for _, r := range s.universe.Regions {
		for _, sym := range r.Symbols {
			if sym == benchmark[r.Name] {
				continue
			}
			snap, err := s.snapshot(ctx, sym, r.Name)
			if err != nil {
				s.log.Warn().Err(err).Str("symbol", sym).Str("region", r.Name).Msg("snapshot skipped")
				continue
			}
			if b := benchReturn[r.Name]; b != nil && snap.Return1Y != nil {
				ex := *snap.Return1Y - *b
				snap.Excess1Y = &ex
			}
			snaps = append(snaps, snap)
		}
	}

	n, err := s.store.UpsertPerformance(ctx, snaps)
	if err != nil {
		return 0, fmt.Errorf("write performance: %w", err)
	}
	s.log.Info().Int("snapshots", n).Dur("took", time.Since(start)).Msg("performance recomputed")
	return n, nil
}

func (s *Service) snapshot(ctx context.Context, symbol, region string) (model.PerformanceSnapshot, error) {
	bars, err := s.store.Series(ctx, symbol, region)
	if err != nil {
		return model.PerformanceSnapshot{}, err
	}
	for i := range bars {
		bars[i].Symbol, bars[i].Region = symbol, region
	}
	return Snapshot(bars)
}
