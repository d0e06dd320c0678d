// Package provider talks to external market-data sources.
package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"TickerVault/internal/model"
)

// Provider fetches daily bars and quotes for a symbol.
// Implementations return *model.ProviderError for every failure.
type Provider interface {
	FetchDailyBars(ctx context.Context, symbol string, from, to time.Time) ([]model.PriceBar, error)
	FetchQuote(ctx context.Context, symbol string) (model.Quote, error)
	Name() string
}

// newHTTPClient builds a client with optional proxy support.
func newHTTPClient(proxyURL string, timeout time.Duration) *http.Client {
	transport := &http.Transport{}
	if proxyURL != "" {
		if u, err := url.Parse(proxyURL); err == nil {
			transport.Proxy = http.ProxyURL(u)
		}
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{Timeout: timeout, Transport: transport}
}

// classifyStatus maps an HTTP status to a provider error kind.
func classifyStatus(code int) model.ProviderErrorKind {
	switch {
	case code == http.StatusNotFound:
		return model.KindNotFound
	case code == http.StatusTooManyRequests:
		return model.KindRateLimited
	case code >= 500:
		return model.KindTransient
	default:
		// Other 4xx will not fix themselves on retry.
		return model.KindNotFound
	}
}

func statusError(symbol string, code int, body []byte) *model.ProviderError {
	if len(body) > 256 {
		body = body[:256]
	}
	return model.NewProviderError(classifyStatus(code), symbol,
		fmt.Errorf("status %d, body: %s", code, string(body)))
}

// transportError wraps a network-level failure, which is always transient
// unless the caller gave up.
func transportError(ctx context.Context, symbol string, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return model.NewProviderError(model.KindTransient, symbol, err)
}

// clip keeps bars inside [from, to] by calendar date.
func clip(bars []model.PriceBar, from, to time.Time) []model.PriceBar {
	from, to = model.Day(from), model.Day(to)
	out := bars[:0]
	for _, b := range bars {
		if b.Date.Before(from) || b.Date.After(to) {
			continue
		}
		out = append(out, b)
	}
	return out
}
