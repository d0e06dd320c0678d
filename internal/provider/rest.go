package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"

	"TickerVault/internal/model"
)

// RESTProvider implements Provider against a plain JSON bars API:
//
//	GET {base}/api/v1/bars/daily?symbol=S&from=YYYY-MM-DD&to=YYYY-MM-DD
//	GET {base}/api/v1/quote?symbol=S
type RESTProvider struct {
	BaseURL string
	APIKey  string
	Client  *http.Client
}

// NewRESTProvider creates a provider with optional proxy support.
func NewRESTProvider(baseURL, apiKey, proxyURL string, timeout time.Duration) *RESTProvider {
	return &RESTProvider{
		BaseURL: baseURL,
		APIKey:  apiKey,
		Client:  newHTTPClient(proxyURL, timeout),
	}
}

func (p *RESTProvider) Name() string { return "rest" }

// restBar is the expected JSON shape from the bars API.
type restBar struct {
	Timestamp int64    `json:"timestamp"`
	Open      *float64 `json:"open"`
	High      *float64 `json:"high"`
	Low       *float64 `json:"low"`
	Close     *float64 `json:"close"`
	AdjClose  *float64 `json:"adj_close"`
	Volume    *float64 `json:"volume"`
}

func (p *RESTProvider) get(ctx context.Context, symbol, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return model.NewProviderError(model.KindNotFound, symbol, err)
	}
	if p.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.APIKey)
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return transportError(ctx, symbol, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return statusError(symbol, resp.StatusCode, body)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return model.NewProviderError(model.KindTransient, symbol, fmt.Errorf("decode: %w", err))
	}
	return nil
}

func (p *RESTProvider) FetchDailyBars(ctx context.Context, symbol string, from, to time.Time) ([]model.PriceBar, error) {
	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("from", model.Day(from).Format(model.DateFormat))
	q.Set("to", model.Day(to).Format(model.DateFormat))

	var raw []restBar
	if err := p.get(ctx, symbol, p.BaseURL+"/api/v1/bars/daily?"+q.Encode(), &raw); err != nil {
		return nil, err
	}
	bars := make([]model.PriceBar, 0, len(raw))
	for _, rb := range raw {
		if rb.Close == nil {
			continue
		}
		bars = append(bars, model.PriceBar{
			Symbol:        symbol,
			Date:          model.Day(time.Unix(rb.Timestamp, 0).UTC()),
			Open:          rb.Open,
			High:          rb.High,
			Low:           rb.Low,
			Close:         *rb.Close,
			AdjustedClose: rb.AdjClose,
			Volume:        rb.Volume,
		})
	}
	// Ensure chronological order
	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	return clip(bars, from, to), nil
}

func (p *RESTProvider) FetchQuote(ctx context.Context, symbol string) (model.Quote, error) {
	var result struct {
		Price     float64 `json:"price"`
		Timestamp int64   `json:"timestamp"`
	}
	endpoint := fmt.Sprintf("%s/api/v1/quote?symbol=%s", p.BaseURL, url.QueryEscape(symbol))
	if err := p.get(ctx, symbol, endpoint, &result); err != nil {
		return model.Quote{}, err
	}
	asOf := time.Now().UTC()
	if result.Timestamp > 0 {
		asOf = time.Unix(result.Timestamp, 0).UTC()
	}
	return model.Quote{Symbol: symbol, Price: result.Price, AsOf: asOf}, nil
}
