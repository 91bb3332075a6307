package session

import (
	"fmt"
	"log/slog"

	"github.com/uterokreatif/caruba-voice/internal/vad"
)

type voiceHandler struct {
	s   *Session
	gen uint64
}

func (h voiceHandler) OnVoiceStart() {
	h.s.post(func() { h.s.onVoiceStart(h.gen) })
}

func (h voiceHandler) OnVoiceEnd() {
	h.s.post(func() { h.s.onVoiceEnd(h.gen) })
}

func (h voiceHandler) OnVoiceError(err error) {
	h.s.post(func() { h.s.onVoiceError(h.gen, err) })
}

func (s *Session) startHandsFree() error {
	if s.monitor == nil || !s.monitor.Supported() {
		s.report(handsFreeFailed, vad.ErrUnsupported)
		return vad.ErrUnsupported
	}
	if s.state.HandsFree {
		return nil
	}

	s.silence()
	s.vadGen++
	if err := s.monitor.Start(voiceHandler{s: s, gen: s.vadGen}); err != nil {
		s.report(handsFreeFailed, err)
		return fmt.Errorf("start hands-free: %w", err)
	}

	s.state.HandsFree = true
	s.sink.HandsFreeChanged(true)
	if s.state.Phase == PhaseIdle || s.state.Phase == PhaseSpeaking {
		s.setPhase(PhaseStandby)
	}
	slog.Info("session: hands-free mode on")
	return nil
}

func (s *Session) stopHandsFree() {
	if s.monitor != nil {
		s.monitor.Stop()
	}
	s.vadGen++
	wasOn := s.state.HandsFree
	s.state.HandsFree = false
	if wasOn {
		s.sink.HandsFreeChanged(false)
	}
	if s.state.VoiceActive {
		s.state.VoiceActive = false
		s.sink.VoiceActivityChanged(false)
	}

	s.haltListening()
	s.cancelTurn()
	s.silence()
	s.setPhase(PhaseIdle)
	if wasOn {
		slog.Info("session: hands-free mode off")
	}
}

func (s *Session) onVoiceStart(gen uint64) {
	if gen != s.vadGen || !s.state.HandsFree {
		return
	}
	s.state.VoiceActive = true
	s.sink.VoiceActivityChanged(true)

	if s.state.Phase == PhaseStandby && s.recognizer != nil && !s.listening {
		slog.Debug("session: voice onset, listening")
		s.beginListening()
	}
}

// onVoiceEnd only records the offset. The listening phase ends through the
// finalize debounce and the turn settles back into standby.
func (s *Session) onVoiceEnd(gen uint64) {
	if gen != s.vadGen || !s.state.HandsFree {
		return
	}
	s.state.VoiceActive = false
	s.sink.VoiceActivityChanged(false)
}

// onVoiceError handles a monitor that died on its own. Hands-free mode is
// switched off so the UI does not keep showing a dead standby.
func (s *Session) onVoiceError(gen uint64, err error) {
	if gen != s.vadGen || !s.state.HandsFree {
		return
	}
	slog.Warn("session: voice monitor failed", "error", err)
	s.stopHandsFree()
	s.report(handsFreeFailed, err)
}
