// Package httpclient provides a bounded-concurrency HTTP client with
// retries, jitter and backoff, shared by outbound service clients.
package httpclient

import (
	"context"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

type Config struct {
	MaxConcurrency int
	RequestTimeout time.Duration
	JitterRange    [2]int // min/max jitter in milliseconds
	MaxRetries     int
	BackoffBase    time.Duration
	BackoffMax     time.Duration
	UserAgent      string
}

// DefaultConfig returns conservative client settings.
func DefaultConfig() Config {
	return Config{
		MaxConcurrency: 4,
		RequestTimeout: 30 * time.Second,
		MaxRetries:     2,
		BackoffBase:    250 * time.Millisecond,
		BackoffMax:     5 * time.Second,
	}
}

// Pool wraps an http.Client with a concurrency semaphore and retry loop.
type Pool struct {
	config    Config
	semaphore chan struct{}
	client    *http.Client

	mu    sync.Mutex
	stats Stats
}

// Stats counts pool activity since creation.
type Stats struct {
	TotalRequests   int64
	SuccessRequests int64
	FailedRequests  int64
	RetriedRequests int64
	TotalLatency    time.Duration
}

func NewPool(config Config) *Pool {
	if config.MaxConcurrency <= 0 {
		config.MaxConcurrency = DefaultConfig().MaxConcurrency
	}
	return &Pool{
		config:    config,
		semaphore: make(chan struct{}, config.MaxConcurrency),
		client: &http.Client{
			Timeout: config.RequestTimeout,
		},
	}
}

// Do executes the request under the concurrency limit, retrying retryable
// failures with exponential backoff. The context bounds the whole cycle
// including queue wait and backoff sleeps.
func (p *Pool) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	start := time.Now()

	select {
	case p.semaphore <- struct{}{}:
		defer func() { <-p.semaphore }()
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if p.config.UserAgent != "" {
		req.Header.Set("User-Agent", p.config.UserAgent)
	}

	if err := p.applyJitter(ctx); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt <= p.config.MaxRetries; attempt++ {
		if attempt > 0 {
			p.count(func(s *Stats) { s.RetriedRequests++ })

			backoff := p.backoff(attempt)
			log.Debug().
				Dur("backoff", backoff).
				Int("attempt", attempt).
				Str("url", req.URL.String()).
				Msg("Retrying HTTP request")

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		if attempt > 0 && req.GetBody != nil {
			body, bodyErr := req.GetBody()
			if bodyErr != nil {
				return nil, bodyErr
			}
			req.Body = body
		}

		resp, err := p.client.Do(req.WithContext(ctx))
		if err != nil {
			lastErr = err
			if retryableError(err) && ctx.Err() == nil {
				continue
			}
			break
		}

		if retryableStatus(resp.StatusCode) && attempt < p.config.MaxRetries {
			resp.Body.Close()
			lastErr = &StatusError{Code: resp.StatusCode, Status: resp.Status}
			continue
		}

		p.count(func(s *Stats) {
			s.SuccessRequests++
			s.TotalLatency += time.Since(start)
		})
		return resp, nil
	}

	p.count(func(s *Stats) {
		s.FailedRequests++
		s.TotalLatency += time.Since(start)
	})
	return nil, lastErr
}

// StatusError reports a non-success HTTP status that exhausted retries.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string { return "HTTP " + e.Status }

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

func (p *Pool) count(fn func(*Stats)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stats.TotalRequests++
	fn(&p.stats)
}

func (p *Pool) applyJitter(ctx context.Context) error {
	lo, hi := p.config.JitterRange[0], p.config.JitterRange[1]
	if lo >= hi {
		return nil
	}
	jitter := time.Duration(rand.Intn(hi-lo)+lo) * time.Millisecond
	select {
	case <-time.After(jitter):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool) backoff(attempt int) time.Duration {
	backoff := p.config.BackoffBase * time.Duration(1<<uint(attempt))
	if backoff > p.config.BackoffMax {
		backoff = p.config.BackoffMax
	}
	// up to 10% jitter so synchronized retries spread out
	return backoff + time.Duration(rand.Float64()*0.1*float64(backoff))
}

func retryableError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"timeout",
		"connection refused",
		"connection reset",
		"temporary failure",
		"network is unreachable",
		"no such host",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

func retryableStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}
