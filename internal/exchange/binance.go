package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/johnayoung/go-ohlcv-dataset-sync/internal/models"
)

const (
	// Binance spot REST API base URL
	binanceBaseURL = "https://api.binance.com"

	// API endpoints
	pingEndpoint   = "/api/v3/ping"
	klinesEndpoint = "/api/v3/klines"

	// apiKeyHeader carries the optional API key. Public market data does not
	// require it but keyed requests get their own weight budget.
	apiKeyHeader = "X-MBX-APIKEY"

	// Rate limiting configuration
	maxRequestsPerSecond = 10
	rateLimitBurst       = 1

	// Request configuration
	maxKlinesPerRequest = 1000
	requestTimeout      = 30 * time.Second
	healthCheckTimeout  = 10 * time.Second
	userAgent           = "go-ohlcv-dataset-sync/1.0"

	// maxErrorBody bounds how much of an error response is kept in messages.
	maxErrorBody = 512
)

// ClientConfig configures Binance sessions.
type ClientConfig struct {
	BaseURL           string
	APIKey            string
	HTTPProxy         string
	HTTPSProxy        string
	RequestTimeout    time.Duration
	RequestsPerSecond float64
	Burst             int
	PageLimit         int
}

// DefaultClientConfig returns the settings used against the public API.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		BaseURL:           binanceBaseURL,
		RequestTimeout:    requestTimeout,
		RequestsPerSecond: maxRequestsPerSecond,
		Burst:             rateLimitBurst,
		PageLimit:         maxKlinesPerRequest,
	}
}

func (c ClientConfig) withDefaults() ClientConfig {
	def := DefaultClientConfig()
	if c.BaseURL == "" {
		c.BaseURL = def.BaseURL
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = def.RequestTimeout
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = def.RequestsPerSecond
	}
	if c.Burst <= 0 {
		c.Burst = def.Burst
	}
	if c.PageLimit <= 0 || c.PageLimit > maxKlinesPerRequest {
		c.PageLimit = def.PageLimit
	}
	return c
}

// BinanceFactory creates Binance sessions sharing one rate limiter, so
// reconnecting never resets the request budget.
type BinanceFactory struct {
	config  ClientConfig
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewBinanceFactory validates cfg and returns a factory for it.
func NewBinanceFactory(cfg ClientConfig, logger *slog.Logger) (*BinanceFactory, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", cfg.BaseURL, err)
	}
	if _, err := proxyFunc(cfg.HTTPProxy, cfg.HTTPSProxy); err != nil {
		return nil, err
	}
	return &BinanceFactory{
		config:  cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		logger:  logger,
	}, nil
}

// NewSession builds a client with its own transport.
func (f *BinanceFactory) NewSession(ctx context.Context) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return NewBinanceClient(f.config, f.limiter, f.logger)
}

// BinanceClient is one Binance REST session.
type BinanceClient struct {
	httpClient  *http.Client
	transport   *http.Transport
	rateLimiter *rate.Limiter
	baseURL     string
	apiKey      string
	pageLimit   int
	logger      *slog.Logger
}

// NewBinanceClient creates a session. A nil limiter gets a private one.
func NewBinanceClient(cfg ClientConfig, limiter *rate.Limiter, logger *slog.Logger) (*BinanceClient, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	if limiter == nil {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst)
	}

	proxy, err := proxyFunc(cfg.HTTPProxy, cfg.HTTPSProxy)
	if err != nil {
		return nil, err
	}

	transport := &http.Transport{
		Proxy:               proxy,
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}

	return &BinanceClient{
		httpClient: &http.Client{
			Timeout:   cfg.RequestTimeout,
			Transport: transport,
		},
		transport:   transport,
		rateLimiter: limiter,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:      cfg.APIKey,
		pageLimit:   cfg.PageLimit,
		logger:      logger.With("component", "binance"),
	}, nil
}

// proxyFunc routes requests by scheme. It returns nil when no proxy is set.
func proxyFunc(httpProxy, httpsProxy string) (func(*http.Request) (*url.URL, error), error) {
	if httpProxy == "" && httpsProxy == "" {
		return nil, nil
	}

	parse := func(name, raw string) (*url.URL, error) {
		if raw == "" {
			return nil, nil
		}
		u, err := url.Parse(raw)
		if err != nil || u.Host == "" {
			return nil, fmt.Errorf("invalid %s %q", name, raw)
		}
		return u, nil
	}

	httpURL, err := parse("HTTP proxy", httpProxy)
	if err != nil {
		return nil, err
	}
	httpsURL, err := parse("HTTPS proxy", httpsProxy)
	if err != nil {
		return nil, err
	}

	return func(req *http.Request) (*url.URL, error) {
		if req.URL.Scheme == "https" {
			return httpsURL, nil
		}
		return httpURL, nil
	}, nil
}

// Ping implements the HealthChecker interface.
func (c *BinanceClient) Ping(ctx context.Context) error {
	healthCtx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	if _, err := c.get(healthCtx, pingEndpoint, nil); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}

	c.logger.Debug("ping succeeded")
	return nil
}

// GetHistoricalKlines implements the KlineFetcher interface. Pages of up to
// PageLimit rows are requested, each starting one interval after the last
// open time received, until a short page arrives or end is passed.
func (c *BinanceClient) GetHistoricalKlines(ctx context.Context, symbol string, interval models.Interval, start, end time.Time) ([]models.RawKline, error) {
	window := models.FetchWindow{Symbol: symbol, Interval: interval, Start: start, End: end}
	if err := window.Validate(); err != nil {
		return nil, fmt.Errorf("invalid request: %w", err)
	}

	step := int64(1)
	if d, ok := interval.Duration(); ok {
		step = d.Milliseconds()
	}

	startMs := models.ToMillis(start)
	var endMs int64
	if !end.IsZero() {
		endMs = models.ToMillis(end)
	}

	c.logger.Debug("fetching klines",
		"symbol", symbol,
		"interval", interval,
		"start", models.FormatTimestamp(start),
		"end", models.FormatTimestamp(end))

	all := make([]models.RawKline, 0)
	for page := 0; ; page++ {
		rows, err := c.fetchKlinePage(ctx, symbol, interval, startMs, endMs)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch page %d: %w", page, err)
		}
		if len(rows) == 0 {
			break
		}
		all = append(all, rows...)

		lastOpen, err := RawOpenTime(rows[len(rows)-1])
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", page, err)
		}
		if len(rows) < c.pageLimit {
			break
		}

		next := lastOpen + step
		if next <= startMs {
			return nil, fmt.Errorf("page %d did not advance past %d", page, startMs)
		}
		startMs = next
		if endMs > 0 && startMs > endMs {
			break
		}
	}

	c.logger.Debug("successfully fetched klines",
		"symbol", symbol,
		"interval", interval,
		"count", len(all))

	return all, nil
}

// Close implements the Session interface.
func (c *BinanceClient) Close() error {
	c.transport.CloseIdleConnections()
	return nil
}

func (c *BinanceClient) fetchKlinePage(ctx context.Context, symbol string, interval models.Interval, startMs, endMs int64) ([]models.RawKline, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", string(interval))
	params.Set("startTime", strconv.FormatInt(startMs, 10))
	if endMs > 0 {
		params.Set("endTime", strconv.FormatInt(endMs, 10))
	}
	params.Set("limit", strconv.Itoa(c.pageLimit))

	body, err := c.get(ctx, klinesEndpoint, params)
	if err != nil {
		return nil, err
	}

	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()

	var rows []models.RawKline
	if err := decoder.Decode(&rows); err != nil {
		return nil, fmt.Errorf("failed to parse klines response: %w", err)
	}
	return rows, nil
}

func (c *BinanceClient) get(ctx context.Context, endpoint string, params url.Values) ([]byte, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait failed: %w", err)
	}

	requestURL := c.baseURL + endpoint
	if len(params) > 0 {
		requestURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, requestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if c.apiKey != "" {
		req.Header.Set(apiKeyHeader, c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, newStatusError(endpoint, resp.StatusCode, body)
	}
	return body, nil
}

func newStatusError(endpoint string, status int, body []byte) *StatusError {
	statusErr := &StatusError{StatusCode: status, Endpoint: endpoint}

	var apiErr struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Msg != "" {
		statusErr.Code = apiErr.Code
		statusErr.Message = apiErr.Msg
		return statusErr
	}

	msg := strings.TrimSpace(string(body))
	if len(msg) > maxErrorBody {
		msg = msg[:maxErrorBody]
	}
	statusErr.Message = msg
	return statusErr
}

// RawOpenTime extracts the open time, in epoch milliseconds, from the first
// position of a raw kline row.
func RawOpenTime(row models.RawKline) (int64, error) {
	if len(row) == 0 {
		return 0, errors.New("empty kline row")
	}
	return RawInt(row[0])
}

// RawInt converts a decoded JSON value holding an integer.
func RawInt(v any) (int64, error) {
	switch n := v.(type) {
	case json.Number:
		return n.Int64()
	case float64:
		return int64(n), nil
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case string:
		return strconv.ParseInt(n, 10, 64)
	default:
		return 0, fmt.Errorf("unexpected integer value %v (%T)", v, v)
	}
}
