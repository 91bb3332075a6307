package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/uterokreatif/caruba-voice/internal/llm"
)

// DefaultPersona is used when no persona file is configured.
const DefaultPersona = `Kamu adalah Virtual Representative resmi dari PT Utero Kreatif Indonesia.
Jawab dalam Bahasa Indonesia yang sopan, singkat, dan tanpa simbol markdown, karena jawaban akan dibacakan.`

// ClientFactory builds a provider client for one model.
type ClientFactory func(provider, model string) (llm.Client, error)

// Target names one model on one provider.
type Target struct {
	Provider string `yaml:"provider" json:"provider"`
	Model    string `yaml:"model" json:"model"`
}

func (t Target) String() string {
	return t.Provider + ":" + t.Model
}

type RelayConfig struct {
	Persona   string
	Default   Target
	Fallbacks []Target
	// Cooldown is how long a model that hit a rate limit or outage is
	// skipped before it is tried again.
	Cooldown time.Duration
}

type failure struct {
	at  time.Time
	err error
}

// Relay serves chat requests in-process: it composes the persona prompt,
// calls the requested model and walks the fallback list when a model is
// rate limited or unavailable.
type Relay struct {
	cfg     RelayConfig
	factory ClientFactory
	now     func() time.Time

	mu       sync.Mutex
	clients  map[Target]llm.Client
	failures map[Target]failure
}

func NewRelay(cfg RelayConfig, factory ClientFactory) *Relay {
	if strings.TrimSpace(cfg.Persona) == "" {
		cfg.Persona = DefaultPersona
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = time.Minute
	}
	return &Relay{
		cfg:      cfg,
		factory:  factory,
		now:      time.Now,
		clients:  make(map[Target]llm.Client),
		failures: make(map[Target]failure),
	}
}

// LoadPersona reads the persona prompt from path. An empty path yields the
// built-in default.
func LoadPersona(path string) (string, error) {
	if path == "" {
		return DefaultPersona, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read persona file: %w", err)
	}
	persona := strings.TrimSpace(string(data))
	if persona == "" {
		return DefaultPersona, nil
	}
	return persona, nil
}

func (r *Relay) Send(ctx context.Context, req Request) (Response, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return Response{}, &StatusError{StatusCode: http.StatusBadRequest, Body: ErrorBody{Error: "Message is required"}}
	}

	messages := r.compose(message, req.History)

	var lastErr error
	attempted := 0
	targets := r.targets(req)
	for _, target := range targets {
		if prev, cooling := r.coolingDown(target); cooling {
			slog.Info("chat: skipping model in cooldown", "model", target.String())
			if lastErr == nil {
				lastErr = prev.err
			}
			continue
		}

		client, err := r.client(target)
		if err != nil {
			lastErr = err
			break
		}

		attempted++
		completion, err := client.Complete(ctx, messages)
		if err == nil {
			r.clearFailure(target)
			return r.normalize(target, completion), nil
		}
		lastErr = err
		if !llm.IsRetryable(err) || ctx.Err() != nil {
			break
		}
		r.recordFailure(target, err)
		slog.Warn("chat: falling back to next model", "model", target.String(), "error", err)
	}

	if lastErr == nil {
		lastErr = errors.New("no model configured")
	}
	slog.Error("chat: all models failed", "attempted", attempted, "candidates", len(targets), "error", lastErr)
	return Response{}, failureStatus(lastErr)
}

func (r *Relay) compose(message string, history []Message) []llm.Message {
	out := make([]llm.Message, 0, len(history)+2)
	out = append(out, llm.Message{Role: llm.RoleSystem, Content: r.cfg.Persona})
	for _, m := range history {
		switch m.Role {
		case RoleUser:
			out = append(out, llm.Message{Role: llm.RoleUser, Content: m.Content})
		case RoleAssistant:
			out = append(out, llm.Message{Role: llm.RoleAssistant, Content: m.Content})
		}
	}
	return append(out, llm.Message{Role: llm.RoleUser, Content: message})
}

// targets lists the requested model first, then the fallbacks, without
// repeats.
func (r *Relay) targets(req Request) []Target {
	first := r.cfg.Default
	if req.Model != "" {
		first.Model = req.Model
		if req.Provider != "" {
			first.Provider = req.Provider
		}
	}

	seen := map[Target]bool{first: true}
	out := []Target{first}
	for _, t := range r.cfg.Fallbacks {
		if seen[t] || t.Model == "" {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

func (r *Relay) client(t Target) (llm.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clients[t]; ok {
		return c, nil
	}
	c, err := r.factory(t.Provider, t.Model)
	if err != nil {
		return nil, fmt.Errorf("create llm client for %s: %w", t, err)
	}
	r.clients[t] = c
	return c, nil
}

func (r *Relay) coolingDown(t Target) (failure, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.failures[t]
	if !ok {
		return failure{}, false
	}
	if r.now().Sub(f.at) >= r.cfg.Cooldown {
		delete(r.failures, t)
		return failure{}, false
	}
	return f, true
}

func (r *Relay) recordFailure(t Target, err error) {
	r.mu.Lock()
	r.failures[t] = failure{at: r.now(), err: err}
	r.mu.Unlock()
}

func (r *Relay) clearFailure(t Target) {
	r.mu.Lock()
	delete(r.failures, t)
	r.mu.Unlock()
}

func (r *Relay) normalize(t Target, c llm.Completion) Response {
	finish := c.FinishReason
	if finish == "" {
		finish = "stop"
	}
	return Response{
		ID:    fmt.Sprintf("%s-%d", t.Provider, r.now().UnixMilli()),
		Model: t.Model,
		Choices: []Choice{{
			Message:      Message{Role: RoleAssistant, Content: c.Text},
			FinishReason: finish,
		}},
		Usage: Usage{
			PromptTokens:     c.Usage.PromptTokens,
			CompletionTokens: c.Usage.CompletionTokens,
			TotalTokens:      c.Usage.TotalTokens,
		},
		UsedModel: t.Model,
		Via:       "direct",
	}
}

func failureStatus(err error) *StatusError {
	details := err.Error()
	if llm.IsQuota(err) {
		details = "Quota exceeded. Please try again later. (" + details + ")"
	}
	return &StatusError{
		StatusCode: http.StatusInternalServerError,
		Body: ErrorBody{
			Error:      "Failed to get AI response",
			Details:    details,
			Suggestion: "Please check the provider API keys and model configuration.",
		},
	}
}
