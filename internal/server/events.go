package server

import (
	"time"

	"github.com/uterokreatif/caruba-voice/internal/session"
)

const EventVersion = 1

type Event struct {
	Type      string `json:"type"`
	Version   int    `json:"version"`
	Timestamp string `json:"timestamp"`
	SessionID string `json:"session_id,omitempty"`
}

type ConnectionEvent struct {
	Event
	Connected bool `json:"connected"`
}

type StateEvent struct {
	Event
	State session.State `json:"state"`
}

type PhaseChangedEvent struct {
	Event
	Phase session.Phase `json:"phase"`
}

// TextEvent carries the transcript and response updates.
type TextEvent struct {
	Event
	Text string `json:"text"`
}

type MessageEvent struct {
	Event
	Role    string `json:"role"`
	Content string `json:"content"`
}

// FlagEvent carries network_error, hands_free and voice_activity updates.
type FlagEvent struct {
	Event
	Active bool `json:"active"`
}

type ModelChangedEvent struct {
	Event
	Model    string `json:"model"`
	Provider string `json:"provider"`
}

type ErrorEvent struct {
	Event
	Message string `json:"message"`
}

func newEvent(eventType string, now time.Time) Event {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return Event{
		Type:      eventType,
		Version:   EventVersion,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	}
}
