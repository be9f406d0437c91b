// Package httpclient wraps http.Client with the resilience the classifier
// transport needs: a circuit breaker over consecutive failures, retries with
// exponential backoff, transparent response decompression, and request
// logging with credential obfuscation.
//
// Retries cover network errors and retryable statuses (429 and 5xx); every
// other response goes back to the caller untouched. The breaker counts whole
// logical requests rather than attempts, so a request that succeeds on its
// third attempt still counts as one success.
package httpclient

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
)

var (
	ErrCircuitOpen = errors.New("circuit breaker is open")
	ErrMaxRetries  = errors.New("max retries exceeded")
)

const (
	DefaultTimeout              = 90 * time.Second
	DefaultRetryAttempts        = 3
	DefaultRetryDelay           = 1 * time.Second
	DefaultRetryMaxDelay        = 30 * time.Second
	DefaultCircuitThreshold     = 10
	DefaultCircuitTimeout       = 30 * time.Second
	DefaultCircuitHalfOpenMax   = 1
	DefaultBackoffMultiplier    = 2.0
	DefaultAcceptEncodingHeader = "gzip, deflate, br"
	DefaultUserAgentHeader      = "digwatch-httpclient/1.0"
)

const (
	HeaderAcceptEncoding  = "Accept-Encoding"
	HeaderContentEncoding = "Content-Encoding"
	HeaderContentType     = "Content-Type"
	HeaderUserAgent       = "User-Agent"

	ContentTypeJSON = "application/json"

	EncodingGzip    = "gzip"
	EncodingDeflate = "deflate"
	EncodingBrotli  = "br"
)

// Config tunes the client. Zero values fall back to package defaults where a
// zero would be unusable.
type Config struct {
	Timeout time.Duration

	// RetryAttempts is the total attempts per request, including the first.
	RetryAttempts int
	RetryDelay    time.Duration
	RetryMaxDelay time.Duration
	// BackoffMultiplier scales the delay after each failed attempt.
	BackoffMultiplier float64

	// CircuitThreshold is the consecutive-failure count that opens the
	// circuit; CircuitTimeout is how long it stays open before a probe.
	CircuitThreshold   int
	CircuitTimeout     time.Duration
	CircuitHalfOpenMax int

	UserAgent string
	Logger    *slog.Logger

	// EnableDecompression advertises and transparently decodes gzip,
	// deflate, and brotli response bodies.
	EnableDecompression bool

	// BaseClient overrides the underlying http.Client when set.
	BaseClient *http.Client
}

// DefaultConfig returns the settings used for the classifier endpoint.
func DefaultConfig() Config {
	return Config{
		Timeout:             DefaultTimeout,
		RetryAttempts:       DefaultRetryAttempts,
		RetryDelay:          DefaultRetryDelay,
		RetryMaxDelay:       DefaultRetryMaxDelay,
		BackoffMultiplier:   DefaultBackoffMultiplier,
		CircuitThreshold:    DefaultCircuitThreshold,
		CircuitTimeout:      DefaultCircuitTimeout,
		CircuitHalfOpenMax:  DefaultCircuitHalfOpenMax,
		UserAgent:           DefaultUserAgentHeader,
		Logger:              slog.Default(),
		EnableDecompression: true,
	}
}

// Client is the resilient HTTP client.
type Client struct {
	config  Config
	client  *http.Client
	breaker *CircuitBreaker
	logger  *slog.Logger
}

// New builds a client from cfg, normalizing unusable values.
func New(cfg Config) *Client {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.RetryAttempts < 1 {
		cfg.RetryAttempts = 1
	}
	if cfg.BackoffMultiplier < 1 {
		cfg.BackoffMultiplier = DefaultBackoffMultiplier
	}
	base := cfg.BaseClient
	if base == nil {
		base = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		config:  cfg,
		client:  base,
		breaker: NewCircuitBreaker(cfg.CircuitThreshold, cfg.CircuitTimeout, cfg.CircuitHalfOpenMax),
		logger:  cfg.Logger,
	}
}

// NewWithDefaults is New(DefaultConfig()).
func NewWithDefaults() *Client {
	return New(DefaultConfig())
}

// Do executes the request with breaker protection and retries.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.DoWithContext(req.Context(), req)
}

// DoWithContext executes the request under ctx. Request bodies must be
// rewindable: req.GetBody restores the body between attempts.
func (c *Client) DoWithContext(ctx context.Context, req *http.Request) (*http.Response, error) {
	if req.Header.Get(HeaderUserAgent) == "" && c.config.UserAgent != "" {
		req.Header.Set(HeaderUserAgent, c.config.UserAgent)
	}
	if c.config.EnableDecompression && req.Header.Get(HeaderAcceptEncoding) == "" {
		req.Header.Set(HeaderAcceptEncoding, DefaultAcceptEncodingHeader)
	}

	// One logical request is one breaker event regardless of retries.
	if !c.breaker.Allow() {
		c.logger.Warn("circuit breaker open, refusing request",
			slog.String("url", obfuscateURL(req.URL)),
			slog.String("state", c.breaker.State().String()),
		)
		return nil, ErrCircuitOpen
	}

	resp, err := c.attemptLoop(ctx, req)
	if err != nil {
		c.breaker.RecordFailure()
		return nil, err
	}
	c.breaker.RecordSuccess()

	if c.config.EnableDecompression {
		resp.Body = decodeBody(resp, c.logger)
	}
	return resp, nil
}

// attemptLoop runs attempts with exponential backoff until one succeeds, the
// context ends, or the attempt budget runs out.
func (c *Client) attemptLoop(ctx context.Context, req *http.Request) (*http.Response, error) {
	var lastErr error
	delay := c.config.RetryDelay

	for attempt := 1; attempt <= c.config.RetryAttempts; attempt++ {
		if attempt > 1 {
			c.logger.Debug("retrying request",
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				slog.String("url", obfuscateURL(req.URL)),
			)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
			delay = min(time.Duration(float64(delay)*c.config.BackoffMultiplier), c.config.RetryMaxDelay)

			if err := rewindBody(req); err != nil {
				return nil, fmt.Errorf("rewinding request body: %w", err)
			}
		}

		start := time.Now()
		resp, err := c.client.Do(req.WithContext(ctx))
		elapsed := time.Since(start)

		switch {
		case err != nil:
			lastErr = err
			c.logger.Warn("request failed",
				slog.String("url", obfuscateURL(req.URL)),
				slog.String("method", req.Method),
				slog.Duration("duration", elapsed),
				slog.String("error", err.Error()),
				slog.Int("attempt", attempt),
			)
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}

		case isRetryableStatus(resp.StatusCode):
			lastErr = fmt.Errorf("retryable status code: %d", resp.StatusCode)
			c.logger.Warn("retryable status code",
				slog.String("url", obfuscateURL(req.URL)),
				slog.String("method", req.Method),
				slog.Int("status", resp.StatusCode),
				slog.Duration("duration", elapsed),
				slog.Int("attempt", attempt),
			)
			resp.Body.Close()

		default:
			c.logger.Debug("request completed",
				slog.String("url", obfuscateURL(req.URL)),
				slog.String("method", req.Method),
				slog.Int("status", resp.StatusCode),
				slog.Duration("duration", elapsed),
				slog.Int64("content_length", resp.ContentLength),
			)
			return resp, nil
		}
	}

	if lastErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrMaxRetries, lastErr)
	}
	return nil, ErrMaxRetries
}

func rewindBody(req *http.Request) error {
	if req.Body == nil || req.GetBody == nil {
		return nil
	}
	body, err := req.GetBody()
	if err != nil {
		return err
	}
	req.Body = body
	return nil
}

// Get performs a GET request to url.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	return c.Do(req)
}

// PostJSON POSTs payload as JSON with the given extra headers.
func (c *Client) PostJSON(ctx context.Context, url string, payload any, headers map[string]string) (*http.Response, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set(HeaderContentType, ContentTypeJSON)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.Do(req)
}

// CircuitState reports the breaker position.
func (c *Client) CircuitState() CircuitState {
	return c.breaker.State()
}

// ConsecutiveFailures reports the breaker's consecutive-failure count.
func (c *Client) ConsecutiveFailures() int {
	return c.breaker.Failures()
}

// ResetCircuit forces the breaker closed.
func (c *Client) ResetCircuit() {
	c.breaker.Reset()
}

// decodeBody wraps the response body in the decoder matching its
// Content-Encoding, or returns it unchanged for identity and unknown
// encodings.
func decodeBody(resp *http.Response, logger *slog.Logger) io.ReadCloser {
	encoding := strings.ToLower(resp.Header.Get(HeaderContentEncoding))
	switch encoding {
	case "":
		return resp.Body
	case EncodingGzip:
		r, err := gzip.NewReader(resp.Body)
		if err != nil {
			logger.Warn("failed to create gzip reader, returning raw body",
				slog.String("error", err.Error()))
			return resp.Body
		}
		return &decodedBody{r: r, underlying: resp.Body}
	case EncodingDeflate:
		return &decodedBody{r: flate.NewReader(resp.Body), underlying: resp.Body}
	case EncodingBrotli:
		return &decodedBody{r: brotli.NewReader(resp.Body), underlying: resp.Body}
	default:
		logger.Debug("unknown content encoding, returning raw body",
			slog.String("encoding", encoding))
		return resp.Body
	}
}

// decodedBody pairs a decoder with the network body so Close releases both.
type decodedBody struct {
	r          io.Reader
	underlying io.Closer
}

func (d *decodedBody) Read(p []byte) (int, error) {
	return d.r.Read(p)
}

func (d *decodedBody) Close() error {
	if c, ok := d.r.(io.Closer); ok {
		c.Close()
	}
	return d.underlying.Close()
}

// isRetryableStatus reports whether a status warrants a retry. Client errors
// other than 429 never retry; the caller decides what a 400 or 401 means.
func isRetryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

// sensitiveParams are query parameter names whose values never reach logs.
var sensitiveParams = []string{
	"password", "passwd", "pass", "pwd",
	"token", "api_key", "apikey", "key",
	"secret", "auth", "authorization",
	"credential", "credentials",
}

// obfuscateURL renders u for logging with credential-bearing query values
// masked.
func obfuscateURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	masked := *u
	q := masked.Query()
	for _, p := range sensitiveParams {
		if q.Has(p) {
			q.Set(p, "***")
		}
	}
	masked.RawQuery = q.Encode()
	return masked.String()
}
