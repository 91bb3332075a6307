// Package conversation turns a finalized utterance into an assistant reply
// through a chat endpoint.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/uterokreatif/caruba-voice/internal/chat"
)

// FallbackReply stands in for an empty reply.
const FallbackReply = "Maaf, terjadi kesalahan."

type Kind string

const (
	KindQuota   Kind = "QUOTA_EXCEEDED"
	KindNetwork Kind = "NETWORK_ERROR"
	KindUnknown Kind = "UNKNOWN"
)

// Error is the only error Dispatch returns.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of a dispatch error, or KindUnknown.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindUnknown
}

type Reply struct {
	Text      string
	UsedModel string
	Via       string
	Usage     chat.Usage
}

type Config struct {
	HistoryWindow int
	Timeout       time.Duration
}

type Dispatcher struct {
	endpoint chat.Endpoint
	window   int
	timeout  time.Duration
}

func New(endpoint chat.Endpoint, cfg Config) *Dispatcher {
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = 10
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Dispatcher{endpoint: endpoint, window: cfg.HistoryWindow, timeout: cfg.Timeout}
}

// Dispatch sends utterance with the tail of history to the endpoint.
func (d *Dispatcher) Dispatch(ctx context.Context, utterance string, history []chat.Message, model, provider string) (Reply, error) {
	utterance = strings.TrimSpace(utterance)
	if utterance == "" {
		return Reply{}, &Error{Kind: KindUnknown, Err: errors.New("empty utterance")}
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	resp, err := d.endpoint.Send(ctx, chat.Request{
		Message:  utterance,
		Model:    model,
		Provider: provider,
		History:  d.recent(history),
	})
	if err != nil {
		kind := classify(err)
		slog.Warn("conversation: dispatch failed", "kind", kind, "model", model, "error", err)
		return Reply{}, &Error{Kind: kind, Err: err}
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		text = FallbackReply
	}
	slog.Debug("conversation: reply received", "used_model", resp.UsedModel, "via", resp.Via, "total_tokens", resp.Usage.TotalTokens)
	return Reply{Text: text, UsedModel: resp.UsedModel, Via: resp.Via, Usage: resp.Usage}, nil
}

func (d *Dispatcher) recent(history []chat.Message) []chat.Message {
	out := make([]chat.Message, 0, d.window)
	for _, m := range history {
		if m.Role == chat.RoleUser || m.Role == chat.RoleAssistant {
			out = append(out, m)
		}
	}
	if len(out) > d.window {
		out = out[len(out)-d.window:]
	}
	return out
}

func classify(err error) Kind {
	var statusErr *chat.StatusError
	switch {
	case errors.As(err, &statusErr):
		if strings.Contains(statusErr.Body.Details, "Quota") || strings.Contains(statusErr.Body.Details, "Rate limit") {
			return KindQuota
		}
		return KindNetwork
	case errors.Is(err, chat.ErrDecode):
		return KindUnknown
	default:
		return KindNetwork
	}
}
