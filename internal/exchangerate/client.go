// Package exchangerate fetches full rate tables from exchangerate-api.com.
package exchangerate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"ledgerbook/internal/core"
	"ledgerbook/internal/log"
)

const (
	DefaultBaseURL = "https://api.exchangerate-api.com/v4/latest"
	DefaultTimeout = 10 * time.Second
)

// Client for exchangerate-api.com
type Client struct {
	baseURL string
	client  *http.Client
	logger  *log.Logger
	now     func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.client = hc }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.client.Timeout = d
		}
	}
}

// WithClock overrides the time stamped on fetched tables.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// NewClient creates a client against baseURL; an empty baseURL uses the
// public endpoint.
func NewClient(baseURL string, logger *log.Logger, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: DefaultTimeout},
		logger:  logger.WithComponent(log.ComponentRates).With("client", "exchangerate-api"),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type latestResponse struct {
	Base  string                     `json:"base"`
	Rates map[string]decimal.Decimal `json:"rates"`
}

// FetchRates returns the table "1 base = rates[code] code". Transport
// failures, timeouts, non-2xx responses and undecodable bodies are all
// reported as *core.FetchError.
func (c *Client) FetchRates(ctx context.Context, base string) (core.RateTable, error) {
	base = core.NormalizeCurrency(base)
	url := fmt.Sprintf("%s/%s", c.baseURL, base)
	c.logger.DebugContext(ctx, "Fetching rates", "url", url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return core.RateTable{}, &core.FetchError{Base: base, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return core.RateTable{}, &core.FetchError{Base: base, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return core.RateTable{}, &core.FetchError{
			Base:       base,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected status %s", resp.Status),
		}
	}

	var result latestResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return core.RateTable{}, &core.FetchError{Base: base, Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(result.Rates) == 0 {
		return core.RateTable{}, &core.FetchError{Base: base, Err: errors.New("response has no rates")}
	}

	table := core.RateTable{Base: base, Rates: result.Rates, FetchedAt: c.now()}
	c.logger.InfoContext(ctx, "Fetched rates", log.FieldBase, base, "count", len(table.Rates))
	return table, nil
}

// Ping reports whether the feed answers for USD.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.FetchRates(ctx, "USD")
	return err
}
