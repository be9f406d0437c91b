// Package llm provides a client for OpenAI-compatible chat completion
// endpoints, covering both vision and text models.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jmylchreest/digwatch/internal/config"
	"github.com/jmylchreest/digwatch/internal/httpclient"
)

// ErrUnavailable indicates the endpoint's circuit has opened after repeated
// consecutive failures. Callers treat this as a hard stop, not a soft
// per-item failure.
var ErrUnavailable = errors.New("model endpoint unavailable")

// ChatClient is the interface pipeline stages use to talk to the models.
type ChatClient interface {
	// Chat performs one chat completion call.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// Client talks to an OpenAI-compatible endpoint over the resilient HTTP
// client. Retries and the consecutive-failure circuit breaker live in the
// transport; this layer handles the wire format.
type Client struct {
	baseURL string
	apiKey  string
	http    *httpclient.Client
	logger  *slog.Logger
}

// NewClient creates a Client from the LLM configuration.
func NewClient(cfg config.LLMConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}

	httpCfg := httpclient.DefaultConfig()
	httpCfg.Timeout = cfg.RequestTimeout
	httpCfg.RetryAttempts = cfg.RetryAttempts
	httpCfg.RetryDelay = cfg.RetryDelay
	httpCfg.BackoffMultiplier = cfg.RetryBackoff
	httpCfg.CircuitThreshold = cfg.BreakerThreshold
	httpCfg.Logger = logger

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		http:    httpclient.New(httpCfg),
		logger:  logger,
	}
}

// Chat performs one chat completion call.
func (c *Client) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	wire := buildWireRequest(req)

	headers := map[string]string{}
	if c.apiKey != "" {
		headers["Authorization"] = "Bearer " + c.apiKey
	}

	resp, err := c.http.PostJSON(ctx, c.baseURL+"/chat/completions", wire, headers)
	if err != nil {
		if errors.Is(err, httpclient.ErrCircuitOpen) {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return nil, fmt.Errorf("chat completion request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading chat completion response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, parseAPIError(resp.StatusCode, body)
	}

	var out ChatResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decoding chat completion response: %w", err)
	}

	c.logger.Debug("chat completion",
		slog.String("model", req.Model),
		slog.Int("prompt_tokens", out.Usage.PromptTokens),
		slog.Int("completion_tokens", out.Usage.CompletionTokens),
	)

	return &out, nil
}

// ConsecutiveFailures exposes the transport's consecutive-failure count.
func (c *Client) ConsecutiveFailures() int {
	return c.http.ConsecutiveFailures()
}

// CircuitState exposes the transport's circuit breaker state.
func (c *Client) CircuitState() httpclient.CircuitState {
	return c.http.CircuitState()
}

// maxResponseBytes bounds how much of a completion body is read; vision
// answers are a line or two, narratives a few paragraphs.
const maxResponseBytes = 1 << 20

// parseAPIError maps a non-2xx body onto an APIError, tolerating servers
// that return plain text instead of the JSON envelope.
func parseAPIError(status int, body []byte) error {
	var envelope errorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		return &APIError{StatusCode: status, Type: envelope.Error.Type, Message: envelope.Error.Message}
	}

	msg := strings.TrimSpace(string(body))
	const maxMsg = 200
	if len(msg) > maxMsg {
		msg = msg[:maxMsg]
	}
	return &APIError{StatusCode: status, Message: msg}
}

// Ensure Client implements ChatClient.
var _ ChatClient = (*Client)(nil)
