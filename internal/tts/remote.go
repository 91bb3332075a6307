package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const remotePath = "/tts/stream"

type RemoteConfig struct {
	// URL is the service base, e.g. http://localhost:5000.
	URL     string
	Lang    string
	Slow    bool
	Timeout time.Duration
}

// Remote requests synthesized speech from an HTTP TTS service.
type Remote struct {
	endpoint   string
	lang       string
	slow       bool
	httpClient *http.Client
}

func NewRemote(cfg RemoteConfig) *Remote {
	base := strings.TrimRight(cfg.URL, "/")
	if base == "" {
		base = "http://localhost:5000"
	}
	lang := cfg.Lang
	if lang == "" {
		lang = "id"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Remote{
		endpoint:   base + remotePath,
		lang:       lang,
		slow:       cfg.Slow,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type synthRequest struct {
	Text string `json:"text"`
	Lang string `json:"lang"`
	Slow bool   `json:"slow"`
}

// Synthesize returns the raw audio payload for text.
func (r *Remote) Synthesize(ctx context.Context, text string) ([]byte, error) {
	body, err := json.Marshal(synthRequest{Text: text, Lang: r.lang, Slow: r.slow})
	if err != nil {
		return nil, fmt.Errorf("marshal tts request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create tts request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send tts request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("tts service error: %s - %s", resp.Status, strings.TrimSpace(string(respBody)))
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read tts payload: %w", err)
	}
	if len(payload) == 0 {
		return nil, fmt.Errorf("tts service returned an empty payload")
	}
	return payload, nil
}
