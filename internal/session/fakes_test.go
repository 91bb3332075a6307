package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/uterokreatif/caruba-voice/internal/chat"
	"github.com/uterokreatif/caruba-voice/internal/conversation"
	"github.com/uterokreatif/caruba-voice/internal/stt"
	"github.com/uterokreatif/caruba-voice/internal/vad"
)

type fakeRecognizer struct {
	mu       sync.Mutex
	handlers []stt.Handler
	stops    int
	aborts   int
	startErr error
}

func (r *fakeRecognizer) Start(_ context.Context, h stt.Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.startErr != nil {
		return r.startErr
	}
	r.handlers = append(r.handlers, h)
	return nil
}

func (r *fakeRecognizer) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stops++
	return nil
}

func (r *fakeRecognizer) Abort() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.aborts++
	return nil
}

func (r *fakeRecognizer) starts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handlers)
}

func (r *fakeRecognizer) handler() stt.Handler {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.handlers) == 0 {
		return nil
	}
	return r.handlers[len(r.handlers)-1]
}

func (r *fakeRecognizer) counts() (stops, aborts int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stops, r.aborts
}

type fakeSpeaker struct {
	mu     sync.Mutex
	texts  []string
	stops  int
	nextID uint64
}

func (f *fakeSpeaker) Speak(text string) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.texts = append(f.texts, text)
	return f.nextID
}

func (f *fakeSpeaker) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
}

func (f *fakeSpeaker) spoken() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

func (f *fakeSpeaker) lastID() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nextID
}

func (f *fakeSpeaker) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}

type fakeMonitor struct {
	mu        sync.Mutex
	supported bool
	handler   vad.Handler
	starts    int
	stops     int
}

func (m *fakeMonitor) Supported() bool { return m.supported }

func (m *fakeMonitor) Start(h vad.Handler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = h
	m.starts++
	return nil
}

func (m *fakeMonitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stops++
}

func (m *fakeMonitor) current() vad.Handler {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handler
}

type dispatchCall struct {
	utterance string
	history   []chat.Message
	model     string
	provider  string
}

type fakeDispatcher struct {
	mu    sync.Mutex
	calls []dispatchCall
	reply conversation.Reply
	err   error
	block chan struct{}
}

func (d *fakeDispatcher) Dispatch(ctx context.Context, utterance string, history []chat.Message, model, provider string) (conversation.Reply, error) {
	d.mu.Lock()
	d.calls = append(d.calls, dispatchCall{utterance: utterance, history: history, model: model, provider: provider})
	block := d.block
	d.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return conversation.Reply{}, &conversation.Error{Kind: conversation.KindNetwork, Err: ctx.Err()}
		}
	}
	return d.reply, d.err
}

func (d *fakeDispatcher) callList() []dispatchCall {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]dispatchCall(nil), d.calls...)
}

type recordingSink struct {
	mu       sync.Mutex
	phases   []Phase
	errors   []string
	messages []chat.Message
	voice    []bool
	models   []string
	network  []bool
}

func (s *recordingSink) PhaseChanged(p Phase) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phases = append(s.phases, p)
}

func (s *recordingSink) TranscriptChanged(string) {}
func (s *recordingSink) ResponseChanged(string)   {}

func (s *recordingSink) MessageAdded(m chat.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, m)
}

func (s *recordingSink) NetworkErrorChanged(active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.network = append(s.network, active)
}

func (s *recordingSink) HandsFreeChanged(bool) {}

func (s *recordingSink) ModelChanged(model, provider string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.models = append(s.models, provider+":"+model)
}

func (s *recordingSink) VoiceActivityChanged(active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.voice = append(s.voice, active)
}

func (s *recordingSink) ErrorRaised(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errors = append(s.errors, msg)
}

func (s *recordingSink) errorList() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.errors...)
}

func (s *recordingSink) phaseList() []Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Phase(nil), s.phases...)
}

type countingMetrics struct {
	mu      sync.Mutex
	retries int
	turns   []string
}

func (m *countingMetrics) PhaseTransition(Phase, Phase) {}

func (m *countingMetrics) TurnCompleted(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.turns = append(m.turns, outcome)
}

func (m *countingMetrics) RecognizerRetry() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retries++
}

type harness struct {
	sess       *Session
	recognizer *fakeRecognizer
	speaker    *fakeSpeaker
	monitor    *fakeMonitor
	dispatcher *fakeDispatcher
	sink       *recordingSink
	metrics    *countingMetrics
	reported   chan error
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	h := &harness{
		recognizer: &fakeRecognizer{},
		speaker:    &fakeSpeaker{},
		monitor:    &fakeMonitor{supported: true},
		dispatcher: &fakeDispatcher{reply: conversation.Reply{Text: "ok"}},
		sink:       &recordingSink{},
		metrics:    &countingMetrics{},
		reported:   make(chan error, 16),
	}
	if cfg.FinalizeDelay == 0 {
		cfg.FinalizeDelay = 30 * time.Millisecond
	}
	if cfg.RetryBaseDelay == 0 {
		cfg.RetryBaseDelay = 5 * time.Millisecond
	}
	h.sess = New(cfg, Deps{
		Recognizer: h.recognizer,
		Speaker:    h.speaker,
		Monitor:    h.monitor,
		Dispatcher: h.dispatcher,
		Sink:       h.sink,
		Metrics:    h.metrics,
		OnError:    func(err error) { h.reported <- err },
	})
	t.Cleanup(func() { _ = h.sess.Close() })
	return h
}

func (h *harness) state(t *testing.T) State {
	t.Helper()
	st, err := h.sess.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	return st
}

func (h *harness) waitPhase(t *testing.T, want Phase) {
	t.Helper()
	waitFor(t, func() bool { return h.state(t).Phase == want }, "phase "+string(want))
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func final(texts ...string) []stt.Result {
	out := make([]stt.Result, len(texts))
	for i, text := range texts {
		out[i] = stt.Result{Transcript: text, Final: true}
	}
	return out
}
