package quotes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the Finnhub REST API root.
	DefaultBaseURL = "https://finnhub.io/api/v1"
	defaultTimeout = 15 * time.Second
	maxErrorBody   = 512
)

// ErrNoData is returned when the API knows nothing about a symbol.
var ErrNoData = errors.New("no data for symbol")

// Quote is a real-time price snapshot.
type Quote struct {
	Current       decimal.Decimal
	Change        decimal.NullDecimal
	PercentChange decimal.NullDecimal
	High          decimal.NullDecimal
	Low           decimal.NullDecimal
	Timestamp     time.Time
}

// Profile is the company description for a symbol.
type Profile struct {
	Name string
	// MarketCap is in the listing currency's millions, as reported upstream.
	MarketCap decimal.NullDecimal
}

// Financials carries the few basic metrics stored with a quote.
type Financials struct {
	PERatio decimal.NullDecimal
}

type ClientOptions struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
	// Limiter paces every request. Nil means unlimited.
	Limiter    *rate.Limiter
	HTTPClient *http.Client
}

// Client talks to the Finnhub REST API. It is safe for concurrent use; all
// requests share the limiter.
type Client struct {
	apiKey  string
	baseURL string
	limiter *rate.Limiter
	client  *http.Client
}

func NewClient(opts ClientOptions) (*Client, error) {
	apiKey := strings.TrimSpace(opts.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("finnhub API key is required")
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("finnhub base URL is not valid: %w", err)
	}

	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}

	return &Client{
		apiKey:  apiKey,
		baseURL: baseURL,
		limiter: opts.Limiter,
		client:  client,
	}, nil
}

// NewLimiter allows perSecond requests per second with a burst of one.
func NewLimiter(perSecond float64) *rate.Limiter {
	if perSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	return rate.NewLimiter(rate.Limit(perSecond), 1)
}

type quoteResponse struct {
	Current       decimal.NullDecimal `json:"c"`
	Change        decimal.NullDecimal `json:"d"`
	PercentChange decimal.NullDecimal `json:"dp"`
	High          decimal.NullDecimal `json:"h"`
	Low           decimal.NullDecimal `json:"l"`
	Timestamp     int64               `json:"t"`
}

func (c *Client) Quote(ctx context.Context, symbol string) (Quote, error) {
	var resp quoteResponse
	if err := c.get(ctx, "/quote", url.Values{"symbol": {symbol}}, &resp); err != nil {
		return Quote{}, err
	}
	if !resp.Current.Valid || (resp.Current.Decimal.IsZero() && resp.Timestamp == 0) {
		return Quote{}, fmt.Errorf("quote %s: %w", symbol, ErrNoData)
	}

	out := Quote{
		Current:       resp.Current.Decimal,
		Change:        resp.Change,
		PercentChange: resp.PercentChange,
		High:          resp.High,
		Low:           resp.Low,
	}
	if resp.Timestamp > 0 {
		out.Timestamp = time.Unix(resp.Timestamp, 0).UTC()
	}
	return out, nil
}

type profileResponse struct {
	Name      string              `json:"name"`
	Ticker    string              `json:"ticker"`
	MarketCap decimal.NullDecimal `json:"marketCapitalization"`
}

func (c *Client) Profile(ctx context.Context, symbol string) (Profile, error) {
	var resp profileResponse
	if err := c.get(ctx, "/stock/profile2", url.Values{"symbol": {symbol}}, &resp); err != nil {
		return Profile{}, err
	}
	if strings.TrimSpace(resp.Name) == "" && strings.TrimSpace(resp.Ticker) == "" {
		return Profile{}, fmt.Errorf("profile %s: %w", symbol, ErrNoData)
	}
	return Profile{Name: strings.TrimSpace(resp.Name), MarketCap: resp.MarketCap}, nil
}

type metricResponse struct {
	Metric map[string]json.RawMessage `json:"metric"`
}

// peMetricKeys are tried in order; upstream fills them unevenly.
var peMetricKeys = []string{"peTTM", "peBasicExclExtraItemsTTM", "peExclExtraTTM"}

func (c *Client) BasicFinancials(ctx context.Context, symbol string) (Financials, error) {
	var resp metricResponse
	if err := c.get(ctx, "/stock/metric", url.Values{"symbol": {symbol}, "metric": {"all"}}, &resp); err != nil {
		return Financials{}, err
	}
	for _, key := range peMetricKeys {
		raw, ok := resp.Metric[key]
		if !ok {
			continue
		}
		var value decimal.NullDecimal
		if err := json.Unmarshal(raw, &value); err != nil || !value.Valid {
			continue
		}
		return Financials{PERatio: value}, nil
	}
	return Financials{}, nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("wait for rate limiter: %w", err)
		}
	}

	endpoint := c.baseURL + path + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build request %s: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Finnhub-Token", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("send request %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response %s: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := strings.TrimSpace(string(body))
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		return fmt.Errorf("finnhub %s status %d: %s", path, resp.StatusCode, snippet)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response %s: %w", path, err)
	}
	return nil
}
