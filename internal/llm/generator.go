package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

const (
	ProviderGemini    = "gemini"
	ProviderAnthropic = "anthropic"

	defaultTimeout   = 30 * time.Second
	defaultMaxTokens = 500
)

// Generator produces a single free-text completion for a prompt
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Config selects and configures a Generator
type Config struct {
	Provider  string
	Model     string
	APIKey    string
	BaseURL   string
	MaxTokens int
	Timeout   time.Duration
}

// DefaultConfig returns default configuration
func DefaultConfig() Config {
	return Config{
		Provider:  ProviderGemini,
		Model:     DefaultGeminiModel,
		MaxTokens: defaultMaxTokens,
		Timeout:   defaultTimeout,
	}
}

// NewGenerator builds the Generator named by cfg.Provider. Both clients retry
// transient failures through a retryablehttp-backed client.
func NewGenerator(cfg Config, logger logrus.FieldLogger) (Generator, error) {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	httpClient := RobustHTTPClient(logger, cfg.Timeout)

	switch strings.ToLower(cfg.Provider) {
	case "", ProviderGemini:
		opts := []ClientOption{WithHTTPClient(httpClient)}
		if cfg.Model != "" {
			opts = append(opts, WithModel(cfg.Model))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, WithBaseURL(cfg.BaseURL))
		}
		return NewGeminiClient(cfg.APIKey, opts...), nil
	case ProviderAnthropic:
		opts := []ClientOption{WithHTTPClient(httpClient), WithMaxTokens(cfg.MaxTokens)}
		if cfg.Model != "" {
			opts = append(opts, WithModel(cfg.Model))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, WithBaseURL(cfg.BaseURL))
		}
		return NewAnthropicClient(cfg.APIKey, opts...), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.Provider)
	}
}
