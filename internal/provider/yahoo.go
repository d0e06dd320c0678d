package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"

	"TickerVault/internal/model"
)

const yahooChartURL = "https://query1.finance.yahoo.com/v8/finance/chart"

// YahooProvider implements Provider using the Yahoo Finance chart API.
type YahooProvider struct {
	Client    *http.Client
	BaseURL   string
	SymbolMap map[string]string // maps internal symbol to Yahoo ticker
}

// NewYahooProvider creates a Yahoo Finance provider.
func NewYahooProvider(proxyURL string, timeout time.Duration) *YahooProvider {
	return &YahooProvider{
		Client:  newHTTPClient(proxyURL, timeout),
		BaseURL: yahooChartURL,
		SymbolMap: map[string]string{
			"SPX500": "^GSPC",
			"SPX":    "^GSPC",
			"NDX":    "^NDX",
		},
	}
}

func (p *YahooProvider) Name() string { return "yahoo" }

func (p *YahooProvider) yahooSymbol(symbol string) string {
	if mapped, ok := p.SymbolMap[symbol]; ok {
		return mapped
	}
	return symbol
}

// yahooChart is the response structure from the chart API. Price arrays
// carry JSON nulls for holidays and halted sessions.
type yahooChart struct {
	Chart struct {
		Result []struct {
			Meta struct {
				RegularMarketPrice float64 `json:"regularMarketPrice"`
				RegularMarketTime  int64   `json:"regularMarketTime"`
				ExchangeTimezone   string  `json:"exchangeTimezoneName"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*float64 `json:"volume"`
				} `json:"quote"`
				AdjClose []struct {
					AdjClose []*float64 `json:"adjclose"`
				} `json:"adjclose"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

func at(vals []*float64, i int) *float64 {
	if i < len(vals) {
		return vals[i]
	}
	return nil
}

func (p *YahooProvider) fetchChart(ctx context.Context, symbol string, query url.Values) (*yahooChart, error) {
	u := fmt.Sprintf("%s/%s?%s", p.BaseURL, url.PathEscape(p.yahooSymbol(symbol)), query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, model.NewProviderError(model.KindNotFound, symbol, err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := p.Client.Do(req)
	if err != nil {
		return nil, transportError(ctx, symbol, fmt.Errorf("yahoo fetch: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, transportError(ctx, symbol, fmt.Errorf("yahoo read body: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(symbol, resp.StatusCode, body)
	}

	var chart yahooChart
	if err := json.Unmarshal(body, &chart); err != nil {
		// A truncated body is usually a dropped connection.
		return nil, model.NewProviderError(model.KindTransient, symbol, fmt.Errorf("yahoo decode: %w", err))
	}
	if chart.Chart.Error != nil {
		kind := model.KindTransient
		if chart.Chart.Error.Code == "Not Found" {
			kind = model.KindNotFound
		}
		return nil, model.NewProviderError(kind, symbol, errors.New(chart.Chart.Error.Description))
	}
	if len(chart.Chart.Result) == 0 {
		return nil, model.NewProviderError(model.KindNotFound, symbol, errors.New("yahoo: no data returned"))
	}
	return &chart, nil
}

// FetchDailyBars returns daily bars between from and to inclusive, oldest first.
func (p *YahooProvider) FetchDailyBars(ctx context.Context, symbol string, from, to time.Time) ([]model.PriceBar, error) {
	q := url.Values{}
	q.Set("interval", "1d")
	q.Set("period1", fmt.Sprint(model.Day(from).Unix()))
	q.Set("period2", fmt.Sprint(model.Day(to).AddDate(0, 0, 1).Unix()))
	q.Set("events", "div,splits")

	chart, err := p.fetchChart(ctx, symbol, q)
	if err != nil {
		return nil, err
	}

	result := chart.Chart.Result[0]
	if len(result.Indicators.Quote) == 0 {
		return nil, nil
	}
	loc := time.UTC
	if tz := result.Meta.ExchangeTimezone; tz != "" {
		if l, err := time.LoadLocation(tz); err == nil {
			loc = l
		}
	}

	quote := result.Indicators.Quote[0]
	var adj []*float64
	if len(result.Indicators.AdjClose) > 0 {
		adj = result.Indicators.AdjClose[0].AdjClose
	}

	bars := make([]model.PriceBar, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		c := at(quote.Close, i)
		if c == nil {
			continue // skip null bars (holidays etc.)
		}
		bars = append(bars, model.PriceBar{
			Symbol:        symbol,
			Date:          model.Day(time.Unix(ts, 0).In(loc)),
			Open:          at(quote.Open, i),
			High:          at(quote.High, i),
			Low:           at(quote.Low, i),
			Close:         *c,
			AdjustedClose: at(adj, i),
			Volume:        at(quote.Volume, i),
		})
	}

	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	return clip(bars, from, to), nil
}

// FetchQuote returns the latest regular-market price.
func (p *YahooProvider) FetchQuote(ctx context.Context, symbol string) (model.Quote, error) {
	q := url.Values{}
	q.Set("interval", "1d")
	q.Set("range", "1d")

	chart, err := p.fetchChart(ctx, symbol, q)
	if err != nil {
		return model.Quote{}, err
	}
	meta := chart.Chart.Result[0].Meta
	if meta.RegularMarketPrice == 0 {
		return model.Quote{}, model.NewProviderError(model.KindTransient, symbol, errors.New("yahoo: no price data"))
	}
	return model.Quote{
		Symbol: symbol,
		Price:  meta.RegularMarketPrice,
		AsOf:   time.Unix(meta.RegularMarketTime, 0).UTC(),
	}, nil
}
