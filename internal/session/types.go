package session

import (
	"context"

	"github.com/uterokreatif/caruba-voice/internal/chat"
	"github.com/uterokreatif/caruba-voice/internal/conversation"
	"github.com/uterokreatif/caruba-voice/internal/vad"
)

type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseListening  Phase = "listening"
	PhaseProcessing Phase = "processing"
	PhaseSpeaking   Phase = "speaking"
	PhaseStandby    Phase = "standby"
)

// State is a point-in-time copy of the session for presentation.
type State struct {
	SessionID          string         `json:"session_id"`
	Phase              Phase          `json:"phase"`
	Transcript         string         `json:"transcript"`
	Response           string         `json:"response"`
	Messages           []chat.Message `json:"messages"`
	NetworkError       bool           `json:"network_error"`
	Model              string         `json:"model"`
	Provider           string         `json:"provider"`
	HandsFree          bool           `json:"hands_free"`
	VoiceActive        bool           `json:"voice_active"`
	Supported          bool           `json:"supported"`
	HandsFreeSupported bool           `json:"hands_free_supported"`
}

// ModelOption is one entry of the selectable model catalog.
type ModelOption struct {
	ID       string `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	Provider string `json:"provider" yaml:"provider"`
}

// Speaker renders text as audio and reports progress through the session's
// tts.Listener methods.
type Speaker interface {
	Speak(text string) uint64
	Stop()
}

type VoiceMonitor interface {
	Supported() bool
	Start(h vad.Handler) error
	Stop()
}

type Dispatcher interface {
	Dispatch(ctx context.Context, utterance string, history []chat.Message, model, provider string) (conversation.Reply, error)
}

// EventSink is told about every observable state change. Calls are made from
// the session goroutine and must not block.
type EventSink interface {
	PhaseChanged(phase Phase)
	TranscriptChanged(text string)
	ResponseChanged(text string)
	MessageAdded(msg chat.Message)
	NetworkErrorChanged(active bool)
	HandsFreeChanged(enabled bool)
	ModelChanged(model, provider string)
	VoiceActivityChanged(active bool)
	ErrorRaised(message string)
}

type Metrics interface {
	PhaseTransition(from, to Phase)
	TurnCompleted(outcome string)
	RecognizerRetry()
}

type nopSink struct{}

func (nopSink) PhaseChanged(Phase)          {}
func (nopSink) TranscriptChanged(string)    {}
func (nopSink) ResponseChanged(string)      {}
func (nopSink) MessageAdded(chat.Message)   {}
func (nopSink) NetworkErrorChanged(bool)    {}
func (nopSink) HandsFreeChanged(bool)       {}
func (nopSink) ModelChanged(string, string) {}
func (nopSink) VoiceActivityChanged(bool)   {}
func (nopSink) ErrorRaised(string)          {}

type nopMetrics struct{}

func (nopMetrics) PhaseTransition(Phase, Phase) {}
func (nopMetrics) TurnCompleted(string)         {}
func (nopMetrics) RecognizerRetry()             {}
