package completion

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/tradeloop/flywheel/internal/httpclient"
)

// Client talks to an OpenAI-style completions endpoint through a bounded
// pool, a token-bucket rate limit and a circuit breaker. Every call is
// cancellable and timeout-bound; no caller may block indefinitely on it.
type Client struct {
	cfg     Config
	pool    *httpclient.Pool
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

type wireRequest struct {
	Model       string  `json:"model"`
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float64 `json:"temperature"`
}

type wireResponse struct {
	Choices []struct {
		Text string `json:"text"`
	} `json:"choices"`
	Text string `json:"text"`
}

// NewClient builds a client from config. Zero-valued budget fields take the
// defaults.
func NewClient(cfg Config) *Client {
	def := DefaultConfig()
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = def.MaxTokens
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = def.RequestTimeout
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = def.MaxConcurrency
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = def.RequestsPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = def.BreakerFailures
	}
	if cfg.BreakerCooldown <= 0 {
		cfg.BreakerCooldown = def.BreakerCooldown
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "completion",
		Timeout: cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Completion breaker state change")
		},
	})

	return &Client{
		cfg: cfg,
		pool: httpclient.NewPool(httpclient.Config{
			MaxConcurrency: cfg.MaxConcurrency,
			RequestTimeout: cfg.RequestTimeout,
			MaxRetries:     2,
			BackoffBase:    250 * time.Millisecond,
			BackoffMax:     5 * time.Second,
			UserAgent:      "flywheel/1.0",
		}),
		breaker: breaker,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
	}
}

// Complete sends one prompt and returns the raw completion text. The
// returned text still needs ParseEstimate; transport and service errors
// come back unwrapped in meaning but wrapped with context.
func (c *Client) Complete(ctx context.Context, req Request) (string, error) {
	if req.MaxTokens <= 0 {
		req.MaxTokens = c.cfg.MaxTokens
	}
	if req.Temperature == 0 {
		req.Temperature = c.cfg.Temperature
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limit wait: %w", err)
	}

	result, err := c.breaker.Execute(func() (interface{}, error) {
		return c.do(ctx, req)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

func (c *Client) do(ctx context.Context, req Request) (string, error) {
	body, err := json.Marshal(wireRequest{
		Model:       c.cfg.Model,
		Prompt:      req.Prompt,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/v1/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.pool.Do(ctx, httpReq)
	if err != nil {
		return "", fmt.Errorf("completion request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("completion service returned %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}

	var wire wireResponse
	if err := json.Unmarshal(raw, &wire); err != nil {
		return "", fmt.Errorf("failed to decode response envelope: %w", err)
	}
	if len(wire.Choices) > 0 {
		return wire.Choices[0].Text, nil
	}
	if wire.Text != "" {
		return wire.Text, nil
	}
	return "", fmt.Errorf("completion response carried no text")
}

// Stats exposes transport counters for monitoring.
func (c *Client) Stats() httpclient.Stats {
	return c.pool.Stats()
}

// BreakerState reports the current circuit state.
func (c *Client) BreakerState() gobreaker.State {
	return c.breaker.State()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
