package llm

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/sulaiman013/powerbi-expert-app/pkg/retry"
)

// Config holds the per-provider settings shared by every adapter.
// Config is immutable once a provider is constructed from it.
type Config struct {
	Provider ProviderType
	Endpoint string
	Model    string
	APIKey   string

	Temperature float64
	MaxTokens   int
	TopP        float64

	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration

	// ValidateEndpoint gates Initialize on the endpoint host matching
	// AllowedEndpoints. This is what makes air-gap a provable property
	// rather than an asserted one.
	ValidateEndpoint bool
	AllowedEndpoints []string
}

// DefaultConfig returns the standard settings for a provider: low
// temperature for deterministic DAX, localhost-only endpoints.
func DefaultConfig(provider ProviderType, endpoint, model string) Config {
	return Config{
		Provider:         provider,
		Endpoint:         endpoint,
		Model:            model,
		Temperature:      0.1,
		MaxTokens:        4096,
		TopP:             0.9,
		Timeout:          120 * time.Second,
		MaxRetries:       3,
		RetryDelay:       time.Second,
		ValidateEndpoint: true,
		AllowedEndpoints: []string{"127.0.0.1", "localhost", "::1"},
	}
}

// CheckEndpoint verifies the endpoint host against the allow-list. It
// runs before any network call is attempted.
func (c *Config) CheckEndpoint() error {
	if !c.ValidateEndpoint {
		return nil
	}

	parsed, err := url.Parse(c.Endpoint)
	if err != nil {
		return fmt.Errorf("parse endpoint %q: %w", c.Endpoint, err)
	}
	host := strings.ToLower(parsed.Hostname())

	for _, allowed := range c.AllowedEndpoints {
		allowed = strings.ToLower(allowed)
		if host == allowed || strings.HasSuffix(host, "."+allowed) {
			return nil
		}
	}
	return fmt.Errorf("endpoint host %q not in allowed list %v", host, c.AllowedEndpoints)
}

// retryConfig translates the shared retry fields for the retry
// package.
func (c *Config) retryConfig() *retry.Config {
	maxRetries := c.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 1
	}
	delay := c.RetryDelay
	if delay <= 0 {
		delay = time.Second
	}
	return &retry.Config{MaxRetries: maxRetries, Delay: delay}
}
