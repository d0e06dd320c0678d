package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"TickerVault/internal/model"
)

const batchSize = 500

// SQLiteStore persists everything to a single SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	mu  sync.Mutex // serializes writers
	log zerolog.Logger
}

// Open opens (or creates) the SQLite database and runs migrations.
func Open(dsn string, log zerolog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Each connection to :memory: is its own database.
	if dsn == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("exec %s: %w", pragma, err)
		}
	}

	s := &SQLiteStore{db: db, log: log.With().Str("component", "store").Logger()}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	s.log.Info().Str("path", dsn).Msg("sqlite store opened")
	return s, nil
}

func (s *SQLiteStore) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS price_bars (
			symbol     TEXT NOT NULL,
			region     TEXT NOT NULL,
			date       TEXT NOT NULL,
			open       REAL,
			high       REAL,
			low        REAL,
			close      REAL NOT NULL,
			adj_close  REAL,
			volume     REAL,
			abnormal   INTEGER NOT NULL DEFAULT 0,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (symbol, region, date)
		)`,

		`CREATE TABLE IF NOT EXISTS indicator_rows (
			symbol         TEXT NOT NULL,
			region         TEXT NOT NULL,
			date           TEXT NOT NULL,
			rsi9           REAL,
			rsi14          REAL,
			rsi21          REAL,
			macd_line      REAL,
			macd_signal    REAL,
			macd_histogram REAL,
			fast_period    INTEGER NOT NULL,
			slow_period    INTEGER NOT NULL,
			signal_period  INTEGER NOT NULL,
			updated_at     INTEGER NOT NULL,
			PRIMARY KEY (symbol, region, date)
		)`,

		`CREATE TABLE IF NOT EXISTS quotes (
			symbol TEXT NOT NULL,
			region TEXT NOT NULL,
			price  REAL NOT NULL,
			as_of  INTEGER NOT NULL,
			PRIMARY KEY (symbol, region)
		)`,

		`CREATE TABLE IF NOT EXISTS job_config (
			id          TEXT PRIMARY KEY,
			schedule    TEXT NOT NULL,
			enabled     INTEGER NOT NULL,
			last_run    INTEGER,
			last_status TEXT
		)`,

		`CREATE TABLE IF NOT EXISTS update_log (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp INTEGER NOT NULL,
			type      TEXT NOT NULL,
			status    TEXT NOT NULL,
			message   TEXT,
			details   TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_update_log_ts ON update_log(timestamp)`,

		`CREATE TABLE IF NOT EXISTS performance_history (
			symbol       TEXT NOT NULL,
			region       TEXT NOT NULL,
			as_of        TEXT NOT NULL,
			close        REAL NOT NULL,
			return_1w    REAL,
			return_1m    REAL,
			return_3m    REAL,
			return_1y    REAL,
			high_52w     REAL,
			low_52w      REAL,
			position_52w REAL,
			excess_1y    REAL,
			PRIMARY KEY (symbol, region, as_of)
		)`,
	}

	for _, st := range stmts {
		if _, err := s.db.Exec(st); err != nil {
			return fmt.Errorf("exec %q: %w", st[:40], err)
		}
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	s.log.Info().Msg("closing sqlite store")
	return s.db.Close()
}

func nullable(p *float64) any {
	if p == nil {
		return nil
	}
	return *p
}

func ptr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

// upsertBatched runs a multi-row upsert in chunks inside one transaction and
// returns the number of rows inserted or changed.
func (s *SQLiteStore) upsertBatched(ctx context.Context, n int, prefix, rowPlaceholder, suffix string, args func(i int) []any) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	var total int64
	for i := 0; i < n; i += batchSize {
		end := min(i+batchSize, n)
		placeholders := make([]string, 0, end-i)
		var values []any
		for j := i; j < end; j++ {
			placeholders = append(placeholders, rowPlaceholder)
			values = append(values, args(j)...)
		}
		query := prefix + strings.Join(placeholders, ", ") + suffix
		res, err := tx.ExecContext(ctx, query, values...)
		if err != nil {
			return 0, err
		}
		affected, _ := res.RowsAffected()
		total += affected
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return int(total), nil
}

// --- series ---

func (s *SQLiteStore) LatestDate(ctx context.Context, symbol, region string) (time.Time, bool, error) {
	var d sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(date) FROM price_bars WHERE symbol = ? AND region = ?`, symbol, region).Scan(&d)
	if err != nil {
		return time.Time{}, false, wrap("latest date", err)
	}
	if !d.Valid {
		return time.Time{}, false, nil
	}
	return parseDate(d.String), true, nil
}

func (s *SQLiteStore) UpsertBars(ctx context.Context, bars []model.PriceBar) (int, error) {
	for _, b := range bars {
		if err := validateBar(b); err != nil {
			return 0, wrap("upsert bars", err)
		}
	}
	if len(bars) == 0 {
		return 0, nil
	}
	now := time.Now().Unix()
	n, err := s.upsertBatched(ctx, len(bars),
		`INSERT INTO price_bars (symbol, region, date, open, high, low, close, adj_close, volume, abnormal, updated_at) VALUES `,
		"(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		` ON CONFLICT(symbol, region, date) DO UPDATE SET
			open = excluded.open, high = excluded.high, low = excluded.low,
			close = excluded.close, adj_close = excluded.adj_close, volume = excluded.volume,
			abnormal = excluded.abnormal, updated_at = excluded.updated_at
		WHERE price_bars.open IS NOT excluded.open
			OR price_bars.high IS NOT excluded.high
			OR price_bars.low IS NOT excluded.low
			OR price_bars.close IS NOT excluded.close
			OR price_bars.adj_close IS NOT excluded.adj_close
			OR price_bars.volume IS NOT excluded.volume
			OR price_bars.abnormal IS NOT excluded.abnormal`,
		func(i int) []any {
			b := bars[i]
			return []any{b.Symbol, b.Region, b.Date.Format(model.DateFormat),
				nullable(b.Open), nullable(b.High), nullable(b.Low), b.Close,
				nullable(b.AdjustedClose), nullable(b.Volume), b.Abnormal, now}
		})
	return n, wrap("upsert bars", err)
}

func (s *SQLiteStore) Series(ctx context.Context, symbol, region string) ([]model.PriceBar, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT date, open, high, low, close, adj_close, volume, abnormal
		FROM price_bars WHERE symbol = ? AND region = ? ORDER BY date ASC`, symbol, region)
	if err != nil {
		return nil, wrap("series", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.PriceBar
	for rows.Next() {
		var (
			date                      string
			open, high, low, adj, vol sql.NullFloat64
		)
		b := model.PriceBar{Symbol: symbol, Region: region}
		if err := rows.Scan(&date, &open, &high, &low, &b.Close, &adj, &vol, &b.Abnormal); err != nil {
			return nil, wrap("scan bar", err)
		}
		b.Date = parseDate(date)
		b.Open, b.High, b.Low, b.AdjustedClose, b.Volume = ptr(open), ptr(high), ptr(low), ptr(adj), ptr(vol)
		out = append(out, b)
	}
	return out, wrap("series", rows.Err())
}

// DeleteSeries removes every bar and indicator row for a symbol. Only used
// ahead of a full re-backfill.
func (s *SQLiteStore) DeleteSeries(ctx context.Context, symbol, region string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrap("delete series", err)
	}
	defer func() { _ = tx.Rollback() }()
	for _, table := range []string{"indicator_rows", "price_bars"} {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM "+table+" WHERE symbol = ? AND region = ?", symbol, region); err != nil {
			return wrap("delete series", err)
		}
	}
	return wrap("delete series", tx.Commit())
}

func (s *SQLiteStore) IndicatorRows(ctx context.Context, symbol, region string) ([]model.IndicatorRow, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT date, rsi9, rsi14, rsi21, macd_line, macd_signal, macd_histogram,
			fast_period, slow_period, signal_period
		FROM indicator_rows WHERE symbol = ? AND region = ? ORDER BY date ASC`, symbol, region)
	if err != nil {
		return nil, wrap("indicator rows", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.IndicatorRow
	for rows.Next() {
		var (
			date                          string
			r9, r14, r21, line, sig, hist sql.NullFloat64
		)
		r := model.IndicatorRow{Symbol: symbol, Region: region}
		if err := rows.Scan(&date, &r9, &r14, &r21, &line, &sig, &hist,
			&r.FastPeriod, &r.SlowPeriod, &r.SigPeriod); err != nil {
			return nil, wrap("scan indicator row", err)
		}
		r.Date = parseDate(date)
		r.RSI9, r.RSI14, r.RSI21 = ptr(r9), ptr(r14), ptr(r21)
		r.MACDLine, r.MACDSignal, r.Histogram = ptr(line), ptr(sig), ptr(hist)
		out = append(out, r)
	}
	return out, wrap("indicator rows", rows.Err())
}

func (s *SQLiteStore) UpsertIndicatorRows(ctx context.Context, rows []model.IndicatorRow) (int, error) {
	for _, r := range rows {
		if err := validateIndicatorRow(r); err != nil {
			return 0, wrap("upsert indicator rows", err)
		}
	}
	if len(rows) == 0 {
		return 0, nil
	}
	now := time.Now().Unix()
	n, err := s.upsertBatched(ctx, len(rows),
		`INSERT INTO indicator_rows (symbol, region, date, rsi9, rsi14, rsi21,
			macd_line, macd_signal, macd_histogram, fast_period, slow_period, signal_period, updated_at) VALUES `,
		"(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		` ON CONFLICT(symbol, region, date) DO UPDATE SET
			rsi9 = excluded.rsi9, rsi14 = excluded.rsi14, rsi21 = excluded.rsi21,
			macd_line = excluded.macd_line, macd_signal = excluded.macd_signal,
			macd_histogram = excluded.macd_histogram, fast_period = excluded.fast_period,
			slow_period = excluded.slow_period, signal_period = excluded.signal_period,
			updated_at = excluded.updated_at
		WHERE indicator_rows.rsi9 IS NOT excluded.rsi9
			OR indicator_rows.rsi14 IS NOT excluded.rsi14
			OR indicator_rows.rsi21 IS NOT excluded.rsi21
			OR indicator_rows.macd_line IS NOT excluded.macd_line
			OR indicator_rows.macd_signal IS NOT excluded.macd_signal
			OR indicator_rows.macd_histogram IS NOT excluded.macd_histogram`,
		func(i int) []any {
			r := rows[i]
			return []any{r.Symbol, r.Region, r.Date.Format(model.DateFormat),
				nullable(r.RSI9), nullable(r.RSI14), nullable(r.RSI21),
				nullable(r.MACDLine), nullable(r.MACDSignal), nullable(r.Histogram),
				r.FastPeriod, r.SlowPeriod, r.SigPeriod, now}
		})
	return n, wrap("upsert indicator rows", err)
}

// --- quotes ---

func (s *SQLiteStore) UpsertQuote(ctx context.Context, q model.Quote) error {
	if q.Symbol == "" || q.Region == "" || !finite(q.Price) {
		return wrap("upsert quote", fmt.Errorf("invalid quote for %q", q.Symbol))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO quotes (symbol, region, price, as_of) VALUES (?, ?, ?, ?)
		ON CONFLICT(symbol, region) DO UPDATE SET price = excluded.price, as_of = excluded.as_of`,
		q.Symbol, q.Region, q.Price, q.AsOf.Unix())
	return wrap("upsert quote", err)
}

func (s *SQLiteStore) Quotes(ctx context.Context, region string) ([]model.Quote, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT symbol, price, as_of FROM quotes WHERE region = ? ORDER BY symbol`, region)
	if err != nil {
		return nil, wrap("quotes", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.Quote
	for rows.Next() {
		q := model.Quote{Region: region}
		var asOf int64
		if err := rows.Scan(&q.Symbol, &q.Price, &asOf); err != nil {
			return nil, wrap("scan quote", err)
		}
		q.AsOf = time.Unix(asOf, 0).UTC()
		out = append(out, q)
	}
	return out, wrap("quotes", rows.Err())
}

// --- job config ---

func (s *SQLiteStore) LoadJobConfigs(ctx context.Context) (map[string]model.JobConfig, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, schedule, enabled, last_run, last_status FROM job_config`)
	if err != nil {
		return nil, wrap("load job config", err)
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string]model.JobConfig)
	for rows.Next() {
		var (
			c       model.JobConfig
			lastRun sql.NullInt64
			status  sql.NullString
		)
		if err := rows.Scan(&c.ID, &c.Schedule, &c.Enabled, &lastRun, &status); err != nil {
			return nil, wrap("scan job config", err)
		}
		if lastRun.Valid {
			c.LastRun = time.Unix(lastRun.Int64, 0).UTC()
		}
		c.LastStatus = status.String
		out[c.ID] = c
	}
	return out, wrap("load job config", rows.Err())
}

func (s *SQLiteStore) SaveJobConfig(ctx context.Context, c model.JobConfig) error {
	var lastRun any
	if !c.LastRun.IsZero() {
		lastRun = c.LastRun.Unix()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO job_config (id, schedule, enabled, last_run, last_status) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET schedule = excluded.schedule, enabled = excluded.enabled,
			last_run = excluded.last_run, last_status = excluded.last_status`,
		c.ID, c.Schedule, c.Enabled, lastRun, c.LastStatus)
	return wrap("save job config", err)
}

// --- update log ---

func (s *SQLiteStore) AppendLog(ctx context.Context, e model.UpdateLogEntry) (int64, error) {
	var details any
	if len(e.Details) > 0 {
		b, err := json.Marshal(e.Details)
		if err != nil {
			return 0, wrap("append log", fmt.Errorf("marshal details: %w", err))
		}
		details = string(b)
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO update_log (timestamp, type, status, message, details) VALUES (?, ?, ?, ?, ?)`,
		e.Timestamp.UnixMilli(), e.Type, string(e.Status), e.Message, details)
	if err != nil {
		return 0, wrap("append log", err)
	}
	id, err := res.LastInsertId()
	return id, wrap("append log", err)
}

// ListLogs returns the newest entries first.
func (s *SQLiteStore) ListLogs(ctx context.Context, limit int) ([]model.UpdateLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, timestamp, type, status, message, details FROM update_log
		ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, wrap("list logs", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.UpdateLogEntry
	for rows.Next() {
		var (
			e         model.UpdateLogEntry
			ts        int64
			status    string
			msg, dets sql.NullString
		)
		if err := rows.Scan(&e.ID, &ts, &e.Type, &status, &msg, &dets); err != nil {
			return nil, wrap("scan log", err)
		}
		e.Timestamp = time.UnixMilli(ts).UTC()
		e.Status = model.UpdateStatus(status)
		e.Message = msg.String
		if dets.Valid && dets.String != "" {
			if err := json.Unmarshal([]byte(dets.String), &e.Details); err != nil {
				s.log.Warn().Err(err).Int64("id", e.ID).Msg("undecodable update log details")
			}
		}
		out = append(out, e)
	}
	return out, wrap("list logs", rows.Err())
}

func (s *SQLiteStore) ClearLogs(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res, err := s.db.ExecContext(ctx, `DELETE FROM update_log`)
	if err != nil {
		return 0, wrap("clear logs", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// --- performance ---

func (s *SQLiteStore) UpsertPerformance(ctx context.Context, snaps []model.PerformanceSnapshot) (int, error) {
	if len(snaps) == 0 {
		return 0, nil
	}
	n, err := s.upsertBatched(ctx, len(snaps),
		`INSERT INTO performance_history (symbol, region, as_of, close, return_1w, return_1m,
			return_3m, return_1y, high_52w, low_52w, position_52w, excess_1y) VALUES `,
		"(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)",
		` ON CONFLICT(symbol, region, as_of) DO UPDATE SET
			close = excluded.close, return_1w = excluded.return_1w, return_1m = excluded.return_1m,
			return_3m = excluded.return_3m, return_1y = excluded.return_1y,
			high_52w = excluded.high_52w, low_52w = excluded.low_52w,
			position_52w = excluded.position_52w, excess_1y = excluded.excess_1y`,
		func(i int) []any {
			p := snaps[i]
			return []any{p.Symbol, p.Region, p.AsOf.Format(model.DateFormat), p.Close,
				nullable(p.Return1W), nullable(p.Return1M), nullable(p.Return3M), nullable(p.Return1Y),
				p.High52W, p.Low52W, p.Position52W, nullable(p.Excess1Y)}
		})
	return n, wrap("upsert performance", err)
}

// LatestPerformance returns the most recent snapshot per symbol in region.
func (s *SQLiteStore) LatestPerformance(ctx context.Context, region string) ([]model.PerformanceSnapshot, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT p.symbol, p.as_of, p.close, p.return_1w, p.return_1m, p.return_3m, p.return_1y,
			p.high_52w, p.low_52w, p.position_52w, p.excess_1y
		FROM performance_history p
		JOIN (SELECT symbol, MAX(as_of) AS as_of FROM performance_history WHERE region = ? GROUP BY symbol) l
			ON p.symbol = l.symbol AND p.as_of = l.as_of
		WHERE p.region = ?
		ORDER BY p.symbol`, region, region)
	if err != nil {
		return nil, wrap("latest performance", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.PerformanceSnapshot
	for rows.Next() {
		var (
			p                  model.PerformanceSnapshot
			asOf               string
			w, m, q, y, excess sql.NullFloat64
		)
		p.Region = region
		if err := rows.Scan(&p.Symbol, &asOf, &p.Close, &w, &m, &q, &y,
			&p.High52W, &p.Low52W, &p.Position52W, &excess); err != nil {
			return nil, wrap("scan performance", err)
		}
		p.AsOf = parseDate(asOf)
		p.Return1W, p.Return1M, p.Return3M, p.Return1Y, p.Excess1Y = ptr(w), ptr(m), ptr(q), ptr(y), ptr(excess)
		out = append(out, p)
	}
	return out, wrap("latest performance", rows.Err())
}
