package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

type Message struct {
	Role    string
	Content string
}

// Usage counts tokens consumed by a single completion.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

type Completion struct {
	Text         string
	FinishReason string
	Usage        Usage
}

type Client interface {
	Complete(ctx context.Context, messages []Message) (Completion, error)
}

type Option func(*clientOptions)

type clientOptions struct {
	baseURL   string
	maxTokens int
}

func WithBaseURL(url string) Option {
	return func(o *clientOptions) {
		o.baseURL = url
	}
}

// WithMaxTokens bounds the reply length. Voice replies are short, so the
// default is 500.
func WithMaxTokens(n int) Option {
	return func(o *clientOptions) {
		o.maxTokens = n
	}
}

const openRouterBaseURL = "https://openrouter.ai/api/v1"

func NewClient(provider, apiKey, model string, opts ...Option) (Client, error) {
	o := &clientOptions{maxTokens: 500}
	for _, opt := range opts {
		opt(o)
	}

	switch provider {
	case "openai":
		return newOpenAIClient(apiKey, model, o)
	case "openrouter":
		if o.baseURL == "" {
			o.baseURL = openRouterBaseURL
		}
		return newOpenAIClient(apiKey, model, o)
	case "anthropic":
		return newAnthropicClient(apiKey, model, o)
	case "gemini":
		return newGeminiClient(apiKey, model, o)
	default:
		return nil, fmt.Errorf("unknown LLM provider %q: supported providers are openai, openrouter, anthropic, gemini", provider)
	}
}

// ErrUnavailable marks provider failures worth retrying on another model:
// rate limits, exhausted quota, overloaded or unavailable upstreams.
var ErrUnavailable = errors.New("model unavailable")

// ErrQuota is the subset of ErrUnavailable caused by rate limits or quota.
var ErrQuota = fmt.Errorf("quota exceeded: %w", ErrUnavailable)

// IsRetryable reports whether err means the model could not serve the request
// right now and another model may.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

// IsQuota reports whether err is a rate-limit or quota failure.
func IsQuota(err error) bool {
	return errors.Is(err, ErrQuota)
}

// classifyStatus wraps err with ErrQuota or ErrUnavailable based on the
// upstream HTTP status and message.
func classifyStatus(status int, err error) error {
	switch {
	case status == 429 || looksLikeQuota(err.Error()):
		return fmt.Errorf("%w: %w", ErrQuota, err)
	case status == 404 || status == 502 || status == 503 || status == 504 || status == 529:
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	case status == 0 && looksUnavailable(err.Error()):
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	default:
		return err
	}
}

func looksLikeQuota(msg string) bool {
	lower := strings.ToLower(msg)
	for _, marker := range []string{"quota", "rate limit", "rate_limit", "resource_exhausted", "too many requests"} {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

func looksUnavailable(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "unavailable") || strings.Contains(lower, "overloaded")
}
