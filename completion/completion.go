// Package completion is the narrow client for the external completion
// service used by the LLM estimator. It owns transport, rate limiting,
// circuit breaking and response parsing; deciding what to do on failure
// belongs to the caller, which must always hold a fallback ready.
package completion

import (
	"errors"
	"time"
)

// ErrParse marks a completion response that carried no usable structured
// estimate. Callers fall back to conservative defaults and log it; it is
// never fatal.
var ErrParse = errors.New("completion: unparseable response")

// Request is one prompt with its token and temperature budget. Zero values
// fall back to the client config.
type Request struct {
	Prompt      string  `json:"prompt"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

// Estimate is the structured numeric answer expected from the service.
type Estimate struct {
	Direction     string  `json:"direction"`
	TargetPrice   float64 `json:"target_price"`
	StopPrice     float64 `json:"stop_price"`
	Confidence    float64 `json:"confidence"`
	DurationHours float64 `json:"duration_hours"`
	Rationale     string  `json:"rationale,omitempty"`
}

// Config holds connection and budget settings for the completion service.
type Config struct {
	BaseURL           string        `yaml:"base_url" env:"COMPLETION_BASE_URL" validate:"omitempty,url"`
	APIKey            string        `yaml:"api_key" env:"COMPLETION_API_KEY"`
	Model             string        `yaml:"model" default:"gpt-4o-mini"`
	MaxTokens         int           `yaml:"max_tokens" default:"512" validate:"gt=0"`
	Temperature       float64       `yaml:"temperature" default:"0.2" validate:"gte=0,lte=2"`
	RequestTimeout    time.Duration `yaml:"request_timeout" default:"20s"`
	MaxConcurrency    int           `yaml:"max_concurrency" default:"4" validate:"gt=0"`
	RequestsPerSecond float64       `yaml:"requests_per_second" default:"2"`
	Burst             int           `yaml:"burst" default:"4"`
	BreakerFailures   uint32        `yaml:"breaker_failures" default:"5"`
	BreakerCooldown   time.Duration `yaml:"breaker_cooldown" default:"30s"`
}

// DefaultConfig returns production defaults; BaseURL and APIKey still need
// to be supplied.
func DefaultConfig() Config {
	return Config{
		Model:             "gpt-4o-mini",
		MaxTokens:         512,
		Temperature:       0.2,
		RequestTimeout:    20 * time.Second,
		MaxConcurrency:    4,
		RequestsPerSecond: 2,
		Burst:             4,
		BreakerFailures:   5,
		BreakerCooldown:   30 * time.Second,
	}
}
