package chat

import (
	"context"
	"errors"
	"fmt"
)

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type Request struct {
	Message  string    `json:"message"`
	Model    string    `json:"model,omitempty"`
	Provider string    `json:"provider,omitempty"`
	History  []Message `json:"history"`
}

type Choice struct {
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is the normalized reply shape every endpoint returns, whichever
// provider served it.
type Response struct {
	ID        string   `json:"id,omitempty"`
	Model     string   `json:"model,omitempty"`
	Choices   []Choice `json:"choices"`
	Usage     Usage    `json:"usage"`
	UsedModel string   `json:"_usedModel,omitempty"`
	Via       string   `json:"_via,omitempty"`
}

// Text returns the first choice's content, or "" when there is none.
func (r Response) Text() string {
	if len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Content
}

type ErrorBody struct {
	Error      string `json:"error"`
	Details    string `json:"details,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

// StatusError is a non-2xx reply from a chat endpoint.
type StatusError struct {
	StatusCode int
	Body       ErrorBody
}

func (e *StatusError) Error() string {
	if e.Body.Details != "" {
		return fmt.Sprintf("chat endpoint status %d: %s: %s", e.StatusCode, e.Body.Error, e.Body.Details)
	}
	return fmt.Sprintf("chat endpoint status %d: %s", e.StatusCode, e.Body.Error)
}

// ErrDecode marks a 2xx reply whose body could not be decoded.
var ErrDecode = errors.New("decode chat response")

// Endpoint sends one chat request and returns the normalized reply.
type Endpoint interface {
	Send(ctx context.Context, req Request) (Response, error)
}
