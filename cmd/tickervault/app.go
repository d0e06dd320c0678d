package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"TickerVault/internal/config"
	"TickerVault/internal/indicator"
	"TickerVault/internal/metrics"
	"TickerVault/internal/notifier"
	"TickerVault/internal/orchestrator"
	"TickerVault/internal/performance"
	"TickerVault/internal/planner"
	"TickerVault/internal/provider"
	"TickerVault/internal/ratelimit"
	"TickerVault/internal/retry"
	"TickerVault/internal/sanitizer"
	"TickerVault/internal/scheduler"
	"TickerVault/internal/server"
	"TickerVault/internal/store"
	"TickerVault/internal/updatelog"
)

// app holds every constructed service for one process.
type app struct {
	log      zerolog.Logger
	store    store.Store
	orc      *orchestrator.Orchestrator
	updates  *updatelog.Service
	sched    *scheduler.Scheduler
	server   *server.Server
	telegram *notifier.TelegramNotifier
}

func newApp(cfg *config.Config) (*app, error) {
	log, err := newLogger(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, fmt.Errorf("market timezone: %w", err)
	}
	hours, err := scheduler.ParseMarketHours(loc, cfg.Market.Open, cfg.Market.Close)
	if err != nil {
		return nil, err
	}

	st, err := openStore(cfg.Database.SQLitePath, log)
	if err != nil {
		return nil, err
	}

	rec := metrics.New()
	prov := newProvider(cfg)
	log.Info().Str("provider", prov.Name()).Msg("data source selected")

	gate := ratelimit.NewGate(ratelimit.Config{
		MaxConcurrent: cfg.RateLimit.MaxConcurrent,
		Interval:      cfg.RateLimit.Interval,
	})
	gate.OnWait = rec.RecordGateWait

	policy := retry.NewPolicy(cfg.Retry.MaxAttempts, gate, log)
	policy.OnRetry = func(int, error, time.Duration) { rec.RecordRetry(prov.Name()) }

	orc := orchestrator.New(orchestrator.Deps{
		Store:     st,
		Provider:  prov,
		Retry:     policy,
		Planner:   planner.New(st, loc, nil),
		Sanitizer: sanitizer.New(cfg.BenchmarkSet(), log),
		Engine:    indicator.NewEngine(st, log),
		Metrics:   rec,
	}, orchestrator.Options{
		Regions:     cfg.Regions,
		Benchmarks:  cfg.Benchmarks,
		BatchSize:   cfg.Batch.Size,
		SymbolDelay: cfg.Batch.SymbolDelay,
		BatchDelay:  cfg.Batch.BatchDelay,
		RegionDelay: cfg.Batch.RegionDelay,
	}, log)

	perf := performance.NewService(st, universe(cfg), log)
	updates := updatelog.New(st, log)

	var tg *notifier.TelegramNotifier
	opts := scheduler.Options{Location: loc, Updates: updates, Metrics: rec}
	if cfg.Telegram.BotToken != "" {
		tg = notifier.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Proxy, log)
		opts.Notifier = tg
	}

	jobs := scheduler.ApplyOverrides(scheduler.Catalog(orc, perf, hours, nil), cfg.Jobs)
	sched, err := scheduler.New(st, jobs, opts, log)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	srv := server.New(cfg.HTTP.Addr, server.Deps{
		Jobs:     sched,
		Pipeline: orc,
		Logs:     updates,
		Reader:   st,
		Metrics:  rec.Handler(),
	}, log)

	return &app{
		log:      log,
		store:    st,
		orc:      orc,
		updates:  updates,
		sched:    sched,
		server:   srv,
		telegram: tg,
	}, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		a.log.Error().Err(err).Msg("close store")
	}
}

func newLogger(level, format string, out io.Writer) (zerolog.Logger, error) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("invalid log level: %w", err)
	}
	if format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(lvl).With().Timestamp().Str("service", "tickervault").Logger(), nil
}

// openStore opens SQLite at path, or an in-memory store when path is empty.
func openStore(path string, log zerolog.Logger) (store.Store, error) {
	if path == "" {
		log.Warn().Msg("no sqlite path configured, data will not survive a restart")
		return store.NewMemoryStore(), nil
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	st, err := store.Open(path, log)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	return st, nil
}

func newProvider(cfg *config.Config) provider.Provider {
	switch cfg.Provider.Kind {
	case "mock":
		return provider.NewMockProvider(100)
	case "rest":
		return provider.NewRESTProvider(cfg.Provider.BaseURL, cfg.Provider.APIKey, cfg.Proxy, cfg.Provider.Timeout)
	default:
		return provider.NewYahooProvider(cfg.Proxy, cfg.Provider.Timeout)
	}
}

func universe(cfg *config.Config) performance.Universe {
	return performance.Universe{Regions: cfg.Regions, Benchmarks: cfg.Benchmarks}
}
