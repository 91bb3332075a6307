package session

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/uterokreatif/caruba-voice/internal/stt"
)

// listenHandler routes recognizer events for one listening phase. Events
// from an earlier phase carry a stale generation and are dropped.
type listenHandler struct {
	s   *Session
	gen uint64
}

func (h listenHandler) OnResults(results []stt.Result) {
	h.s.post(func() { h.s.onResults(h.gen, results) })
}

func (h listenHandler) OnSpeechStart() {
	h.s.post(func() { h.s.onSpeechStart(h.gen) })
}

func (h listenHandler) OnError(err *stt.Error) {
	h.s.post(func() { h.s.onRecognizerError(h.gen, err) })
}

func (h listenHandler) OnEnd() {
	h.s.post(func() { h.s.onRecognizerEnd(h.gen) })
}

func (s *Session) beginListening() {
	s.finalize.Cancel()
	s.retry.Cancel()
	s.silence()

	s.buffer.Reset()
	s.setTranscript("")
	s.setNetworkError(false)
	s.retries = 0
	s.listenGen++
	s.listening = true
	s.setPhase(PhaseListening)

	if err := s.recognizer.Start(context.Background(), listenHandler{s: s, gen: s.listenGen}); err != nil {
		if errors.Is(err, stt.ErrAlreadyStarted) {
			slog.Info("session: recognizer already running")
			return
		}
		s.listening = false
		s.setPhase(s.restPhase())
		s.report(recognitionFailed, err)
	}
}

// haltListening stops the recognizer and every listening timer without
// touching the phase.
func (s *Session) haltListening() {
	s.finalize.Cancel()
	s.retry.Cancel()
	if s.listening {
		s.listening = false
		s.listenGen++
		if s.recognizer != nil {
			_ = s.recognizer.Stop()
		}
	}
	s.setNetworkError(false)
}

func (s *Session) stopListening() {
	s.haltListening()
	if s.state.Phase == PhaseListening {
		s.setPhase(s.restPhase())
	}
}

func (s *Session) live(gen uint64) bool {
	return s.listening && gen == s.listenGen
}

func (s *Session) onResults(gen uint64, results []stt.Result) {
	if !s.live(gen) {
		return
	}
	if s.state.NetworkError {
		s.setNetworkError(false)
	}

	arm := s.buffer.Apply(results)
	s.setTranscript(s.buffer.Transcript())
	if arm {
		s.finalize.Arm(func(token uint64) {
			s.post(func() { s.onFinalize(gen, token) })
		})
	}
}

func (s *Session) onSpeechStart(gen uint64) {
	if !s.live(gen) {
		return
	}
	if s.finalize.Pending() {
		slog.Debug("session: speech resumed, finalize cancelled")
	}
	s.finalize.Cancel()
}

func (s *Session) onFinalize(gen, token uint64) {
	if !s.finalize.Claim(token) || !s.live(gen) {
		return
	}
	text := s.buffer.Committed()
	if text == "" {
		return
	}

	s.listening = false
	s.retry.Cancel()
	if err := s.recognizer.Stop(); err != nil {
		slog.Warn("session: recognizer stop failed", "error", err)
	}
	s.dispatch(text)
}

func (s *Session) onRecognizerError(gen uint64, err *stt.Error) {
	if !s.live(gen) {
		return
	}
	if err.Kind == stt.KindNoSpeech {
		slog.Debug("session: no speech detected")
		return
	}
	s.finalize.Cancel()

	if err.Kind == stt.KindNetwork && s.retries < s.cfg.MaxNetworkRetries {
		s.retries++
		s.setNetworkError(true)
		s.metrics.RecognizerRetry()
		delay := s.cfg.RetryBaseDelay * time.Duration(s.retries)
		slog.Info("session: recognizer network error, retrying", "attempt", s.retries, "delay", delay)
		s.retry.ArmAfter(delay, func(token uint64) {
			s.post(func() { s.onRetry(gen, token) })
		})
		return
	}

	s.listening = false
	s.retry.Cancel()
	s.retries = 0
	s.setNetworkError(false)
	if s.recognizer != nil {
		_ = s.recognizer.Abort()
	}
	s.setPhase(s.restPhase())
	s.report(recognitionFailed, err)
}

func (s *Session) onRetry(gen, token uint64) {
	if !s.retry.Claim(token) || !s.live(gen) {
		return
	}
	s.buffer.Rewind()
	if err := s.recognizer.Start(context.Background(), listenHandler{s: s, gen: gen}); err != nil && !errors.Is(err, stt.ErrAlreadyStarted) {
		s.onRecognizerError(gen, &stt.Error{Kind: stt.KindNetwork, Detail: err.Error()})
		return
	}
	// Text committed before the failure still finalizes if the new run
	// stays silent.
	if s.buffer.Committed() != "" {
		s.finalize.Arm(func(token uint64) {
			s.post(func() { s.onFinalize(gen, token) })
		})
	}
}

func (s *Session) onRecognizerEnd(gen uint64) {
	if !s.live(gen) {
		return
	}
	// A pending finalize decides what happens next.
	if s.finalize.Pending() || s.retry.Pending() {
		return
	}
	s.listening = false
	s.setPhase(s.restPhase())
}
