// Package session owns the interaction state of one voice conversation. A
// single goroutine applies every action and collaborator callback in order,
// so phase transitions never interleave.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/uterokreatif/caruba-voice/internal/chat"
	"github.com/uterokreatif/caruba-voice/internal/stt"
)

type Config struct {
	ID                string
	FinalizeDelay     time.Duration
	MaxNetworkRetries int
	RetryBaseDelay    time.Duration
	Model             string
	Provider          string
	Catalog           []ModelOption
}

func (c Config) withDefaults() Config {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.FinalizeDelay <= 0 {
		c.FinalizeDelay = 2500 * time.Millisecond
	}
	switch {
	case c.MaxNetworkRetries == 0:
		c.MaxNetworkRetries = 3
	case c.MaxNetworkRetries < 0:
		// Negative disables retries.
		c.MaxNetworkRetries = 0
	}
	if c.RetryBaseDelay <= 0 {
		c.RetryBaseDelay = time.Second
	}
	if c.Model == "" {
		c.Model = "google/gemma-3-27b-it:free"
	}
	if c.Provider == "" {
		c.Provider = "openrouter"
	}
	return c
}

// Deps are the collaborators the session drives. Recognizer and Monitor may
// be nil when the capability is not available.
type Deps struct {
	Recognizer stt.Recognizer
	Speaker    Speaker
	Monitor    VoiceMonitor
	Dispatcher Dispatcher
	Sink       EventSink
	Metrics    Metrics
	// OnError receives every user-facing failure.
	OnError func(error)
}

type Session struct {
	cfg        Config
	recognizer stt.Recognizer
	speaker    Speaker
	monitor    VoiceMonitor
	dispatcher Dispatcher
	sink       EventSink
	metrics    Metrics
	onError    func(error)

	mu     sync.Mutex
	queue  []func()
	closed bool
	wake   chan struct{}
	done   chan struct{}

	// Everything below is owned by the run goroutine.
	state      State
	buffer     *UtteranceBuffer
	finalize   *Debounce
	retry      *Debounce
	listening  bool
	listenGen  uint64
	retries    int
	turnGen    uint64
	turnCancel context.CancelFunc
	speechID   uint64
	vadGen     uint64
}

func New(cfg Config, deps Deps) *Session {
	cfg = cfg.withDefaults()
	s := &Session{
		cfg:        cfg,
		recognizer: deps.Recognizer,
		speaker:    deps.Speaker,
		monitor:    deps.Monitor,
		dispatcher: deps.Dispatcher,
		sink:       deps.Sink,
		metrics:    deps.Metrics,
		onError:    deps.OnError,
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
		buffer:     NewUtteranceBuffer(),
		finalize:   NewDebounce(cfg.FinalizeDelay),
		retry:      NewDebounce(cfg.RetryBaseDelay),
	}
	if s.sink == nil {
		s.sink = nopSink{}
	}
	if s.metrics == nil {
		s.metrics = nopMetrics{}
	}
	s.state = State{
		SessionID:          cfg.ID,
		Phase:              PhaseIdle,
		Messages:           []chat.Message{},
		Model:              cfg.Model,
		Provider:           cfg.Provider,
		Supported:          s.recognizer != nil,
		HandsFreeSupported: s.monitor != nil && s.monitor.Supported(),
	}

	go s.run()
	return s
}

func (s *Session) ID() string { return s.cfg.ID }

// Catalog returns the selectable models.
func (s *Session) Catalog() []ModelOption {
	return append([]ModelOption(nil), s.cfg.Catalog...)
}

// post queues fn for the run goroutine. It never blocks, so collaborators
// may call it from inside a call the session is making.
func (s *Session) post(fn func()) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, fn)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// call runs fn on the run goroutine and waits for its result.
func (s *Session) call(fn func() error) error {
	result := make(chan error, 1)
	s.post(func() { result <- fn() })
	select {
	case err := <-result:
		return err
	case <-s.done:
		return ErrClosed
	}
}

func (s *Session) run() {
	defer close(s.done)
	for range s.wake {
		s.mu.Lock()
		batch := s.queue
		s.queue = nil
		s.mu.Unlock()

		for _, fn := range batch {
			fn()
			if s.isClosed() {
				return
			}
		}
	}
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// StartListening opens a listening phase from idle or standby. It is a
// no-op in any other phase.
func (s *Session) StartListening() error {
	return s.call(func() error {
		if s.recognizer == nil {
			return ErrNoRecognizer
		}
		if !s.resting() || s.listening {
			slog.Debug("session: start listening ignored", "phase", s.state.Phase)
			return nil
		}
		s.beginListening()
		return nil
	})
}

func (s *Session) StopListening() error {
	return s.call(func() error {
		s.stopListening()
		return nil
	})
}

func (s *Session) StopSpeaking() error {
	return s.call(func() error {
		s.stopSpeaking()
		return nil
	})
}

// Greet shows and speaks the greeting. Any listening phase or pending turn
// is dropped first so only one audio resource is active.
func (s *Session) Greet() error {
	return s.call(func() error {
		s.haltListening()
		s.cancelTurn()
		if s.state.Phase == PhaseListening || s.state.Phase == PhaseProcessing {
			s.setPhase(s.restPhase())
		}
		s.setResponse(GreetingMessage)
		s.speak(GreetingMessage)
		return nil
	})
}

func (s *Session) StartHandsFree() error {
	return s.call(s.startHandsFree)
}

func (s *Session) StopHandsFree() error {
	return s.call(func() error {
		s.stopHandsFree()
		return nil
	})
}

// SetModel selects a model from the catalog.
func (s *Session) SetModel(id string) error {
	return s.call(func() error {
		for _, m := range s.cfg.Catalog {
			if m.ID != id {
				continue
			}
			if s.state.Model == m.ID && s.state.Provider == m.Provider {
				return nil
			}
			s.state.Model = m.ID
			s.state.Provider = m.Provider
			s.sink.ModelChanged(m.ID, m.Provider)
			slog.Info("session: model changed", "model", m.ID, "provider", m.Provider)
			return nil
		}
		return fmt.Errorf("%w: %q", ErrUnknownModel, id)
	})
}

// Interrupt stops whatever the session is doing and returns it to rest.
func (s *Session) Interrupt() error {
	return s.call(func() error {
		switch s.state.Phase {
		case PhaseListening:
			s.stopListening()
		case PhaseProcessing:
			s.cancelTurn()
			s.silence()
			s.setPhase(s.restPhase())
		case PhaseSpeaking:
			s.stopSpeaking()
		case PhaseStandby:
			if s.state.HandsFree {
				s.stopHandsFree()
			}
		}
		return nil
	})
}

func (s *Session) Snapshot() (State, error) {
	var out State
	err := s.call(func() error {
		out = s.state
		out.Messages = append([]chat.Message{}, s.state.Messages...)
		return nil
	})
	return out, err
}

// Close tears the session down. Pending timers, recognizer callbacks and
// network replies are discarded. Closing twice is a no-op.
func (s *Session) Close() error {
	err := s.call(func() error {
		s.finalize.Cancel()
		s.retry.Cancel()
		s.cancelTurn()
		s.listenGen++
		if s.listening && s.recognizer != nil {
			_ = s.recognizer.Abort()
		}
		s.listening = false
		if s.speaker != nil {
			s.speaker.Stop()
		}
		s.speechID = 0
		if s.state.HandsFree && s.monitor != nil {
			s.monitor.Stop()
		}
		s.vadGen++

		s.mu.Lock()
		s.closed = true
		s.queue = nil
		s.mu.Unlock()
		slog.Info("session: closed", "session_id", s.cfg.ID)
		return nil
	})
	if errors.Is(err, ErrClosed) {
		return nil
	}
	return err
}

func (s *Session) resting() bool {
	return s.state.Phase == PhaseIdle || s.state.Phase == PhaseStandby
}

func (s *Session) restPhase() Phase {
	if s.state.HandsFree {
		return PhaseStandby
	}
	return PhaseIdle
}

func (s *Session) setPhase(p Phase) {
	from := s.state.Phase
	if from == p {
		return
	}
	s.state.Phase = p
	s.metrics.PhaseTransition(from, p)
	s.sink.PhaseChanged(p)
	slog.Debug("session: phase changed", "from", from, "to", p)
}

func (s *Session) setTranscript(text string) {
	if s.state.Transcript == text {
		return
	}
	s.state.Transcript = text
	s.sink.TranscriptChanged(text)
}

func (s *Session) setResponse(text string) {
	s.state.Response = text
	s.sink.ResponseChanged(text)
}

func (s *Session) setNetworkError(active bool) {
	if s.state.NetworkError == active {
		return
	}
	s.state.NetworkError = active
	s.sink.NetworkErrorChanged(active)
}

func (s *Session) report(message string, err error) {
	e := &Error{Message: message, Err: err}
	slog.Warn("session: error", "message", message, "error", err)
	s.sink.ErrorRaised(message)
	if s.onError != nil {
		s.onError(e)
	}
}
