// Package kite provides a client for the Kite Connect market data API.
package kite

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	DefaultBaseURL   = "https://api.kite.trade"
	DefaultTimeout   = 30 * time.Second
	DefaultRateLimit = 3 // historical endpoint allows 3 requests per second

	// MaxDaysPerRequest is the widest date range the day-candle endpoint serves
	MaxDaysPerRequest = 2000

	apiVersion       = "3"
	requestQueueSize = 100
	queryTimeLayout  = "2006-01-02 15:04:05"
	candleTimeLayout = "2006-01-02T15:04:05-0700"
)

// ErrClientClosed is returned for requests made after Close
var ErrClientClosed = errors.New("kite client is closed")

// APIError is a non-success response from Kite Connect
type APIError struct {
	StatusCode int
	ErrorType  string
	Message    string
	Endpoint   string
}

func (e *APIError) Error() string {
	if e.ErrorType != "" {
		return fmt.Sprintf("kite %s: %s (%d %s)", e.Endpoint, e.Message, e.StatusCode, e.ErrorType)
	}
	return fmt.Sprintf("kite %s: %s (%d)", e.Endpoint, e.Message, e.StatusCode)
}

// IsTokenError reports whether the error means the credentials were rejected
func IsTokenError(err error) bool {
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.StatusCode == http.StatusForbidden || apiErr.ErrorType == "TokenException"
}

// Candle is one daily OHLCV bar. Date is the exchange calendar day at midnight UTC.
type Candle struct {
	Date   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
}

// Profile is the subset of /user/profile used to validate a session
type Profile struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
	Email    string `json:"email"`
}

type envelope struct {
	Status    string          `json:"status"`
	Message   string          `json:"message"`
	ErrorType string          `json:"error_type"`
	Data      json.RawMessage `json:"data"`
}

// requestJob represents a job in the rate limiting queue
type requestJob struct {
	ctx      context.Context
	path     string
	query    url.Values
	resultCh chan requestResult
}

type requestResult struct {
	data json.RawMessage
	err  error
}

// Client talks to Kite Connect. Requests are serialized through a queue and
// paced by a token bucket limiter.
type Client struct {
	apiKey       string
	accessToken  string
	baseURL      string
	httpClient   *http.Client
	limiter      *rate.Limiter
	log          zerolog.Logger
	requestQueue chan requestJob
	stopChan     chan struct{}
	workerDone   chan struct{}
	once         sync.Once
}

// ClientOption configures the client
type ClientOption func(*Client)

// WithBaseURL sets the base URL
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// WithRateLimit sets the rate limit
func WithRateLimit(requestsPerSecond int) ClientOption {
	return func(c *Client) {
		c.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), requestsPerSecond)
	}
}

// WithTimeout sets the HTTP timeout
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// WithHTTPClient replaces the HTTP client
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// NewClient creates a Kite Connect client and starts its request worker.
// Call Close to stop the worker.
func NewClient(apiKey, accessToken string, log zerolog.Logger, opts ...ClientOption) *Client {
	c := &Client{
		apiKey:       apiKey,
		accessToken:  accessToken,
		baseURL:      DefaultBaseURL,
		httpClient:   &http.Client{Timeout: DefaultTimeout},
		limiter:      rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		log:          log.With().Str("client", "kite").Logger(),
		requestQueue: make(chan requestJob, requestQueueSize),
		stopChan:     make(chan struct{}),
		workerDone:   make(chan struct{}),
	}

	for _, opt := range opts {
		opt(c)
	}

	go c.worker()

	return c
}

// ReadTokenFile reads an access token written by the login flow
func ReadTokenFile(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read kite token file: %w", err)
	}
	token := strings.TrimSpace(string(content))
	if token == "" {
		return "", fmt.Errorf("kite token file %s is empty", path)
	}
	return token, nil
}

// Validate checks the credentials against /user/profile
func (c *Client) Validate(ctx context.Context) (*Profile, error) {
	if c.apiKey == "" || c.accessToken == "" {
		return nil, fmt.Errorf("kite credentials not configured")
	}

	data, err := c.get(ctx, "/user/profile", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to validate kite session: %w", err)
	}

	var profile Profile
	if err := json.Unmarshal(data, &profile); err != nil {
		return nil, fmt.Errorf("failed to decode profile: %w", err)
	}

	c.log.Info().Str("user_id", profile.UserID).Msg("Kite session validated")
	return &profile, nil
}

// GetDailyCandles returns the daily candles of an instrument between from and
// to (inclusive calendar days). Ranges wider than MaxDaysPerRequest are split
// into consecutive chunks.
func (c *Client) GetDailyCandles(ctx context.Context, token int64, from, to time.Time) ([]Candle, error) {
	from = truncateDay(from)
	to = truncateDay(to)
	if to.Before(from) {
		return nil, fmt.Errorf("invalid range: %s is after %s", from.Format(time.DateOnly), to.Format(time.DateOnly))
	}

	var candles []Candle
	for _, chunk := range splitRange(from, to, MaxDaysPerRequest) {
		batch, err := c.fetchCandles(ctx, token, chunk[0], chunk[1])
		if err != nil {
			return nil, err
		}
		candles = append(candles, batch...)
	}

	c.log.Debug().
		Int64("token", token).
		Str("from", from.Format(time.DateOnly)).
		Str("to", to.Format(time.DateOnly)).
		Int("candles", len(candles)).
		Msg("Fetched daily candles")

	return candles, nil
}

func (c *Client) fetchCandles(ctx context.Context, token int64, from, to time.Time) ([]Candle, error) {
	query := url.Values{}
	query.Set("from", from.Format(queryTimeLayout))
	query.Set("to", to.Add(24*time.Hour-time.Second).Format(queryTimeLayout))

	data, err := c.get(ctx, fmt.Sprintf("/instruments/historical/%d/day", token), query)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch candles for %d: %w", token, err)
	}

	var payload struct {
		Candles [][]interface{} `json:"candles"`
	}
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("failed to decode candles for %d: %w", token, err)
	}

	candles := make([]Candle, 0, len(payload.Candles))
	for i, raw := range payload.Candles {
		candle, err := parseCandle(raw)
		if err != nil {
			return nil, fmt.Errorf("candle %d for %d: %w", i, token, err)
		}
		candles = append(candles, candle)
	}
	return candles, nil
}

// parseCandle decodes [timestamp, open, high, low, close, volume]
func parseCandle(raw []interface{}) (Candle, error) {
	if len(raw) < 5 {
		return Candle{}, fmt.Errorf("expected at least 5 fields, got %d", len(raw))
	}

	stamp, ok := raw[0].(string)
	if !ok {
		return Candle{}, fmt.Errorf("timestamp is not a string")
	}
	ts, err := time.Parse(candleTimeLayout, stamp)
	if err != nil {
		return Candle{}, fmt.Errorf("invalid timestamp %q: %w", stamp, err)
	}

	var values [5]float64
	for i := 1; i < len(raw) && i <= 5; i++ {
		v, ok := raw[i].(float64)
		if !ok {
			return Candle{}, fmt.Errorf("field %d is not a number", i)
		}
		values[i-1] = v
	}

	// Exchange-local calendar day, not the UTC instant
	return Candle{
		Date:   time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC),
		Open:   values[0],
		High:   values[1],
		Low:    values[2],
		Close:  values[3],
		Volume: int64(values[4]),
	}, nil
}

// splitRange cuts [from, to] into inclusive windows spanning at most maxDays days
func splitRange(from, to time.Time, maxDays int) [][2]time.Time {
	var chunks [][2]time.Time
	for start := from; !start.After(to); {
		end := start.AddDate(0, 0, maxDays-1)
		if end.After(to) {
			end = to
		}
		chunks = append(chunks, [2]time.Time{start, end})
		start = end.AddDate(0, 0, 1)
	}
	return chunks
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// get queues a GET request and waits for its result
func (c *Client) get(ctx context.Context, path string, query url.Values) (json.RawMessage, error) {
	resultCh := make(chan requestResult, 1)
	job := requestJob{ctx: ctx, path: path, query: query, resultCh: resultCh}

	select {
	case <-c.stopChan:
		return nil, ErrClientClosed
	default:
	}

	select {
	case c.requestQueue <- job:
	case <-c.stopChan:
		return nil, ErrClientClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
		return nil, fmt.Errorf("request queue is full")
	}

	select {
	case result := <-resultCh:
		return result.data, result.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.workerDone:
		select {
		case result := <-resultCh:
			return result.data, result.err
		default:
			return nil, ErrClientClosed
		}
	}
}

// worker processes requests from the queue sequentially with rate limiting
func (c *Client) worker() {
	defer close(c.workerDone)

	for {
		select {
		case <-c.stopChan:
			// Fail whatever is still queued
			for {
				select {
				case job := <-c.requestQueue:
					job.resultCh <- requestResult{err: ErrClientClosed}
				default:
					return
				}
			}
		case job := <-c.requestQueue:
			job.resultCh <- c.process(job)
		}
	}
}

func (c *Client) process(job requestJob) requestResult {
	if err := c.limiter.Wait(job.ctx); err != nil {
		return requestResult{err: fmt.Errorf("rate limit wait: %w", err)}
	}
	data, err := c.do(job.ctx, job.path, job.query)
	return requestResult{data: data, err: err}
}

func (c *Client) do(ctx context.Context, path string, query url.Values) (json.RawMessage, error) {
	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Kite-Version", apiVersion)
	req.Header.Set("Authorization", "token "+c.apiKey+":"+c.accessToken)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		c.log.Error().Err(err).Str("path", path).Dur("elapsed", elapsed).Msg("Kite request failed")
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, &APIError{StatusCode: resp.StatusCode, Message: http.StatusText(resp.StatusCode), Endpoint: path}
		}
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if resp.StatusCode != http.StatusOK || env.Status != "success" {
		c.log.Warn().Str("path", path).Int("status", resp.StatusCode).Str("error_type", env.ErrorType).Dur("elapsed", elapsed).Msg("Kite non-OK response")
		message := env.Message
		if message == "" {
			message = http.StatusText(resp.StatusCode)
		}
		return nil, &APIError{StatusCode: resp.StatusCode, ErrorType: env.ErrorType, Message: message, Endpoint: path}
	}

	return env.Data, nil
}

// Close stops the request worker. Pending requests fail with ErrClientClosed.
func (c *Client) Close() {
	c.once.Do(func() {
		close(c.stopChan)
		<-c.workerDone
	})
}
