// Package exchange provides the kline fetch contract the backfill
// executor runs against, plus the Bybit v5 REST implementation.
package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// KlineFetcher fetches raw candle rows for a window. Each returned row
// is the exchange's field tuple (ts, open, high, low, close, volume,
// turnover); row validation is the caller's job.
type KlineFetcher interface {
	Fetch(ctx context.Context, symbol, interval string, start, end int64, limit int) ([][]string, error)
}

const (
	connectTimeout = 5 * time.Second
	readTimeout    = 20 * time.Second
)

// BybitClient fetches klines from the Bybit v5 market API.
type BybitClient struct {
	BaseURL  string
	Category string
	http     *http.Client
}

// NewBybitClient builds a client with fixed connect/read timeouts and
// TLS verification on.
func NewBybitClient(baseURL, category string) *BybitClient {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: connectTimeout,
		}).DialContext,
		TLSHandshakeTimeout:   connectTimeout,
		ResponseHeaderTimeout: readTimeout,
		MaxIdleConns:          4,
		IdleConnTimeout:       60 * time.Second,
	}
	return &BybitClient{
		BaseURL:  baseURL,
		Category: category,
		http: &http.Client{
			Transport: transport,
			Timeout:   connectTimeout + readTimeout,
		},
	}
}

// bybitInterval maps canonical minute intervals to the API's interval tokens.
func bybitInterval(interval string) string {
	if interval == "1440" {
		return "D"
	}
	return interval
}

type klineResponse struct {
	RetCode int    `json:"retCode"`
	RetMsg  string `json:"retMsg"`
	Result  struct {
		List [][]string `json:"list"`
	} `json:"result"`
}

// Fetch requests up to limit bars in [start, end]. Bybit returns rows
// newest-first; the caller sorts, so the order is passed through.
func (c *BybitClient) Fetch(ctx context.Context, symbol, interval string, start, end int64, limit int) ([][]string, error) {
	q := url.Values{}
	q.Set("category", c.Category)
	q.Set("symbol", symbol)
	q.Set("interval", bybitInterval(interval))
	q.Set("start", strconv.FormatInt(start, 10))
	q.Set("end", strconv.FormatInt(end, 10))
	q.Set("limit", strconv.Itoa(limit))

	u := c.BaseURL + "/v5/market/kline?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("bybit request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("bybit fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("bybit fetch: status %d", resp.StatusCode)
	}

	var kr klineResponse
	if err := json.NewDecoder(resp.Body).Decode(&kr); err != nil {
		return nil, fmt.Errorf("bybit decode: %w", err)
	}
	if kr.RetCode != 0 {
		return nil, fmt.Errorf("bybit retCode %d: %s", kr.RetCode, kr.RetMsg)
	}
	return kr.Result.List, nil
}
