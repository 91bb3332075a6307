package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/uterokreatif/caruba-voice/internal/session"
	"github.com/uterokreatif/caruba-voice/internal/vad"
)

type controllerStub struct {
	mu      sync.Mutex
	state   session.State
	catalog []session.ModelOption
	calls   []string
	errs    map[string]error
}

func (c *controllerStub) record(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, name)
	return c.errs[name]
}

func (c *controllerStub) callList() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

func (c *controllerStub) Snapshot() (session.State, error) {
	return c.state, c.record("Snapshot")
}

func (c *controllerStub) Catalog() []session.ModelOption { return c.catalog }

func (c *controllerStub) SetModel(id string) error {
	if err := c.record("SetModel:" + id); err != nil {
		return err
	}
	for _, m := range c.catalog {
		if m.ID == id {
			return nil
		}
	}
	return fmt.Errorf("%w: %q", session.ErrUnknownModel, id)
}

func (c *controllerStub) StartListening() error { return c.record("StartListening") }
func (c *controllerStub) StopListening() error  { return c.record("StopListening") }
func (c *controllerStub) StopSpeaking() error   { return c.record("StopSpeaking") }
func (c *controllerStub) Greet() error          { return c.record("Greet") }
func (c *controllerStub) StartHandsFree() error { return c.record("StartHandsFree") }
func (c *controllerStub) StopHandsFree() error  { return c.record("StopHandsFree") }
func (c *controllerStub) Interrupt() error      { return c.record("Interrupt") }

func newTestHandler(ctrl *controllerStub, opts Options) http.Handler {
	return Handler(NewHub(), ctrl, opts)
}

func TestAPIState(t *testing.T) {
	ctrl := &controllerStub{state: session.State{
		SessionID: "s1",
		Phase:     session.PhaseIdle,
		Model:     "google/gemma-3-27b-it:free",
		Provider:  "openrouter",
	}}
	h := newTestHandler(ctrl, Options{})

	req := httptest.NewRequest(http.MethodGet, "/api/state", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if got := rr.Header().Get("Content-Type"); !strings.Contains(got, "application/json") {
		t.Fatalf("expected application/json content-type, got %q", got)
	}
	var state session.State
	if err := json.Unmarshal(rr.Body.Bytes(), &state); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if state.SessionID != "s1" || state.Phase != session.PhaseIdle || state.Provider != "openrouter" {
		t.Fatalf("unexpected state %+v", state)
	}
}

func TestAPIStateAfterClose(t *testing.T) {
	ctrl := &controllerStub{errs: map[string]error{"Snapshot": session.ErrClosed}}
	h := newTestHandler(ctrl, Options{})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/state", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rr.Code)
	}
}

func TestAPIModels(t *testing.T) {
	ctrl := &controllerStub{catalog: []session.ModelOption{
		{ID: "gpt-4o-mini", Name: "GPT-4o mini", Provider: "openai"},
	}}
	h := newTestHandler(ctrl, Options{})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/models", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	var models []session.ModelOption
	if err := json.Unmarshal(rr.Body.Bytes(), &models); err != nil {
		t.Fatalf("decode models: %v", err)
	}
	if len(models) != 1 || models[0].Provider != "openai" {
		t.Fatalf("unexpected models %+v", models)
	}
}

func TestAPIModelsEmptyCatalog(t *testing.T) {
	h := newTestHandler(&controllerStub{}, Options{})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/models", nil))

	if strings.TrimSpace(rr.Body.String()) != "[]" {
		t.Fatalf("expected empty JSON array, got %s", rr.Body.String())
	}
}

func TestAPISetModel(t *testing.T) {
	ctrl := &controllerStub{catalog: []session.ModelOption{{ID: "gpt-4o-mini", Provider: "openai"}}}
	h := newTestHandler(ctrl, Options{})

	req := httptest.NewRequest(http.MethodPut, "/api/model", strings.NewReader(`{"model":"gpt-4o-mini"}`))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d body=%s", rr.Code, rr.Body.String())
	}
	if calls := ctrl.callList(); len(calls) != 1 || calls[0] != "SetModel:gpt-4o-mini" {
		t.Fatalf("unexpected calls %v", calls)
	}
}

func TestAPISetModelRejections(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{name: "invalid json", body: `{invalid json`, want: http.StatusBadRequest},
		{name: "missing model", body: `{"model":"  "}`, want: http.StatusBadRequest},
		{name: "unknown model", body: `{"model":"nope"}`, want: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newTestHandler(&controllerStub{}, Options{})

			req := httptest.NewRequest(http.MethodPut, "/api/model", strings.NewReader(tt.body))
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			if rr.Code != tt.want {
				t.Fatalf("expected status %d, got %d body=%s", tt.want, rr.Code, rr.Body.String())
			}
			if !strings.Contains(rr.Body.String(), `"error"`) {
				t.Fatalf("expected error body, got %s", rr.Body.String())
			}
		})
	}
}

func TestAPIActions(t *testing.T) {
	routes := map[string]string{
		"/api/listen/start":    "StartListening",
		"/api/listen/stop":     "StopListening",
		"/api/speech/stop":     "StopSpeaking",
		"/api/greet":           "Greet",
		"/api/handsfree/start": "StartHandsFree",
		"/api/handsfree/stop":  "StopHandsFree",
		"/api/interrupt":       "Interrupt",
	}

	for path, action := range routes {
		t.Run(action, func(t *testing.T) {
			ctrl := &controllerStub{}
			h := newTestHandler(ctrl, Options{})

			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, path, nil))

			if rr.Code != http.StatusNoContent {
				t.Fatalf("expected status 204, got %d", rr.Code)
			}
			if calls := ctrl.callList(); len(calls) != 1 || calls[0] != action {
				t.Fatalf("expected %s to be called once, got %v", action, calls)
			}
		})
	}
}

func TestAPIActionsRejectGet(t *testing.T) {
	ctrl := &controllerStub{}
	h := newTestHandler(ctrl, Options{})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/greet", nil))

	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected status 405, got %d", rr.Code)
	}
	if calls := ctrl.callList(); len(calls) != 0 {
		t.Fatalf("expected no calls, got %v", calls)
	}
}

func TestAPIActionErrors(t *testing.T) {
	tests := []struct {
		name string
		path string
		err  error
		want int
	}{
		{name: "no recognizer", path: "/api/listen/start", err: session.ErrNoRecognizer, want: http.StatusNotImplemented},
		{name: "no vad", path: "/api/handsfree/start", err: fmt.Errorf("start hands-free: %w", vad.ErrUnsupported), want: http.StatusNotImplemented},
		{name: "closed", path: "/api/interrupt", err: session.ErrClosed, want: http.StatusServiceUnavailable},
		{name: "other", path: "/api/greet", err: errors.New("boom"), want: http.StatusInternalServerError},
	}

	actionFor := map[string]string{
		"/api/listen/start":    "StartListening",
		"/api/handsfree/start": "StartHandsFree",
		"/api/interrupt":       "Interrupt",
		"/api/greet":           "Greet",
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := &controllerStub{errs: map[string]error{actionFor[tt.path]: tt.err}}
			h := newTestHandler(ctrl, Options{})

			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, tt.path, nil))

			if rr.Code != tt.want {
				t.Fatalf("expected status %d, got %d body=%s", tt.want, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestAPIStatusWithWarnings(t *testing.T) {
	h := newTestHandler(&controllerStub{}, Options{
		Warnings: func() []string { return []string{"Deepgram API key not configured"} },
	})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	var payload struct {
		Warnings []string `json:"warnings"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if len(payload.Warnings) != 1 || !strings.Contains(payload.Warnings[0], "Deepgram") {
		t.Fatalf("unexpected warnings %v", payload.Warnings)
	}
}

func TestAPIStatusNoWarnings(t *testing.T) {
	h := newTestHandler(&controllerStub{}, Options{})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	if !strings.Contains(rr.Body.String(), `"warnings":[]`) {
		t.Fatalf("expected empty warnings array, got %s", rr.Body.String())
	}
}

func TestMetricsRoute(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("caruba_voice_turns_total 1\n"))
	})

	h := newTestHandler(&controllerStub{}, Options{Metrics: metrics})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rr.Body.String(), "turns_total") {
		t.Fatalf("expected metrics body, got %s", rr.Body.String())
	}

	h = newTestHandler(&controllerStub{}, Options{})
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without metrics handler, got %d", rr.Code)
	}
}
