package session

import (
	"context"
	"log/slog"
	"strings"

	"github.com/uterokreatif/caruba-voice/internal/chat"
	"github.com/uterokreatif/caruba-voice/internal/conversation"
	"github.com/uterokreatif/caruba-voice/internal/sanitize"
)

// dispatch sends a finalized utterance off the run goroutine. Only the reply
// for the latest turn is applied.
func (s *Session) dispatch(text string) {
	s.cancelTurn()
	s.turnGen++
	gen := s.turnGen
	s.setPhase(PhaseProcessing)

	if s.dispatcher == nil {
		s.finishTurn(gen, text, conversation.Reply{}, &conversation.Error{Kind: conversation.KindUnknown, Err: errNoDispatcher})
		return
	}

	history := append([]chat.Message(nil), s.state.Messages...)
	model, provider := s.state.Model, s.state.Provider
	ctx, cancel := context.WithCancel(context.Background())
	s.turnCancel = cancel

	slog.Info("session: dispatching utterance", "chars", len(text), "model", model, "provider", provider)
	go func() {
		reply, err := s.dispatcher.Dispatch(ctx, text, history, model, provider)
		s.post(func() { s.finishTurn(gen, text, reply, err) })
	}()
}

func (s *Session) cancelTurn() {
	if s.turnCancel != nil {
		s.turnCancel()
		s.turnCancel = nil
	}
	s.turnGen++
}

func (s *Session) finishTurn(gen uint64, text string, reply conversation.Reply, err error) {
	if gen != s.turnGen || s.state.Phase != PhaseProcessing {
		return
	}
	if s.turnCancel != nil {
		s.turnCancel()
		s.turnCancel = nil
	}

	if err != nil {
		kind := conversation.KindOf(err)
		s.metrics.TurnCompleted(strings.ToLower(string(kind)))
		if kind == conversation.KindQuota {
			s.setResponse(QuotaMessage)
			s.speak(QuotaMessage)
		} else {
			s.setResponse(ConnectionMessage)
			s.setPhase(s.restPhase())
		}
		s.report(replyFailed, err)
		return
	}

	clean := sanitize.Clean(reply.Text)
	if clean == "" {
		clean = conversation.FallbackReply
	}
	s.metrics.TurnCompleted("success")

	user := chat.Message{Role: chat.RoleUser, Content: text}
	assistant := chat.Message{Role: chat.RoleAssistant, Content: clean}
	s.state.Messages = append(s.state.Messages, user, assistant)
	s.sink.MessageAdded(user)
	s.sink.MessageAdded(assistant)

	s.setResponse(clean)
	slog.Info("session: reply received", "used_model", reply.UsedModel, "via", reply.Via)
	s.speak(clean)
}

// speak hands text to the speaker. The phase moves to speaking when playback
// actually starts.
func (s *Session) speak(text string) {
	if s.speaker == nil {
		s.setPhase(s.restPhase())
		return
	}
	s.speechID = s.speaker.Speak(text)
}

// silence stops any audio and forgets the pending utterance.
func (s *Session) silence() {
	if s.speaker != nil {
		s.speaker.Stop()
	}
	s.speechID = 0
}

func (s *Session) stopSpeaking() {
	pending := s.speechID != 0
	s.silence()
	if s.state.Phase == PhaseSpeaking || (pending && s.state.Phase == PhaseProcessing) {
		s.setPhase(s.restPhase())
	}
}

// SpeechStarted implements tts.Listener.
func (s *Session) SpeechStarted(id uint64) {
	s.post(func() {
		if id == 0 || id != s.speechID {
			return
		}
		s.setPhase(PhaseSpeaking)
	})
}

// SpeechFinished implements tts.Listener.
func (s *Session) SpeechFinished(id uint64) {
	s.post(func() {
		if id == 0 || id != s.speechID {
			return
		}
		s.speechID = 0
		s.setPhase(s.restPhase())
	})
}

// SpeechFailed implements tts.Listener. On-device failures are not retried.
func (s *Session) SpeechFailed(id uint64, err error) {
	s.post(func() {
		if id == 0 || id != s.speechID {
			return
		}
		s.speechID = 0
		slog.Warn("session: speech failed", "error", err)
		s.setPhase(s.restPhase())
	})
}
