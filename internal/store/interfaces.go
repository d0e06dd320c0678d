package store

import (
	"context"
	"time"

	"TickerVault/internal/model"
)

// SeriesStore holds bars and indicator rows keyed by (symbol, region, date).
type SeriesStore interface {
	LatestDate(ctx context.Context, symbol, region string) (time.Time, bool, error)
	UpsertBars(ctx context.Context, bars []model.PriceBar) (int, error)
	Series(ctx context.Context, symbol, region string) ([]model.PriceBar, error)
	DeleteSeries(ctx context.Context, symbol, region string) error
	IndicatorRows(ctx context.Context, symbol, region string) ([]model.IndicatorRow, error)
	UpsertIndicatorRows(ctx context.Context, rows []model.IndicatorRow) (int, error)
}

// QuoteStore keeps the latest quote per (symbol, region).
type QuoteStore interface {
	UpsertQuote(ctx context.Context, q model.Quote) error
	Quotes(ctx context.Context, region string) ([]model.Quote, error)
}

// JobConfigStore persists one row per scheduler job.
type JobConfigStore interface {
	LoadJobConfigs(ctx context.Context) (map[string]model.JobConfig, error)
	SaveJobConfig(ctx context.Context, cfg model.JobConfig) error
}

// UpdateLogStore is the append-only audit trail.
type UpdateLogStore interface {
	AppendLog(ctx context.Context, e model.UpdateLogEntry) (int64, error)
	ListLogs(ctx context.Context, limit int) ([]model.UpdateLogEntry, error)
	ClearLogs(ctx context.Context) (int64, error)
}

// PerformanceStore keeps performance snapshots keyed by (symbol, region, as_of).
type PerformanceStore interface {
	UpsertPerformance(ctx context.Context, snaps []model.PerformanceSnapshot) (int, error)
	LatestPerformance(ctx context.Context, region string) ([]model.PerformanceSnapshot, error)
}
