package llm

import (
	"net/http"
	"strings"
)

// clientSettings is shared by the provider clients
type clientSettings struct {
	httpClient *http.Client
	baseURL    string
	model      string
	maxTokens  int
}

// ClientOption configures a provider client
type ClientOption func(*clientSettings)

// WithBaseURL sets a custom base URL
func WithBaseURL(url string) ClientOption {
	return func(s *clientSettings) {
		s.baseURL = strings.TrimRight(url, "/")
	}
}

// WithModel sets the model name
func WithModel(model string) ClientOption {
	return func(s *clientSettings) {
		s.model = model
	}
}

// WithMaxTokens caps the completion length
func WithMaxTokens(n int) ClientOption {
	return func(s *clientSettings) {
		if n > 0 {
			s.maxTokens = n
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(c *http.Client) ClientOption {
	return func(s *clientSettings) {
		if c != nil {
			s.httpClient = c
		}
	}
}

func newSettings(baseURL, model string, opts []ClientOption) clientSettings {
	s := clientSettings{
		httpClient: &http.Client{Timeout: defaultTimeout},
		baseURL:    baseURL,
		model:      model,
		maxTokens:  defaultMaxTokens,
	}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}
