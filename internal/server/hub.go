package server

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/uterokreatif/caruba-voice/internal/chat"
	"github.com/uterokreatif/caruba-voice/internal/session"
)

// Hub fans session events out to websocket subscribers. It implements
// session.EventSink; slow subscribers drop events rather than block the
// session.
type Hub struct {
	mu        sync.RWMutex
	clients   map[chan []byte]struct{}
	sessionID string
}

func NewHub() *Hub {
	return &Hub{clients: make(map[chan []byte]struct{})}
}

// SetSessionID stamps every later event with id.
func (h *Hub) SetSessionID(id string) {
	h.mu.Lock()
	h.sessionID = id
	h.mu.Unlock()
}

func (h *Hub) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) Unsubscribe(ch chan []byte) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
	close(ch)
}

func (h *Hub) Broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.clients {
		select {
		case ch <- msg:
		default:
		}
	}
}

func (h *Hub) PhaseChanged(phase session.Phase) {
	h.broadcastEvent(PhaseChangedEvent{Event: h.event("phase_changed"), Phase: phase})
}

func (h *Hub) TranscriptChanged(text string) {
	h.broadcastEvent(TextEvent{Event: h.event("transcript"), Text: text})
}

func (h *Hub) ResponseChanged(text string) {
	h.broadcastEvent(TextEvent{Event: h.event("response"), Text: text})
}

func (h *Hub) MessageAdded(msg chat.Message) {
	h.broadcastEvent(MessageEvent{Event: h.event("message"), Role: msg.Role, Content: msg.Content})
}

func (h *Hub) NetworkErrorChanged(active bool) {
	h.broadcastEvent(FlagEvent{Event: h.event("network_error"), Active: active})
}

func (h *Hub) HandsFreeChanged(enabled bool) {
	h.broadcastEvent(FlagEvent{Event: h.event("hands_free"), Active: enabled})
}

func (h *Hub) ModelChanged(model, provider string) {
	h.broadcastEvent(ModelChangedEvent{Event: h.event("model_changed"), Model: model, Provider: provider})
}

func (h *Hub) VoiceActivityChanged(active bool) {
	h.broadcastEvent(FlagEvent{Event: h.event("voice_activity"), Active: active})
}

func (h *Hub) ErrorRaised(message string) {
	h.broadcastEvent(ErrorEvent{Event: h.event("error"), Message: message})
}

func (h *Hub) event(eventType string) Event {
	e := newEvent(eventType, time.Now().UTC())
	h.mu.RLock()
	e.SessionID = h.sessionID
	h.mu.RUnlock()
	return e
}

func (h *Hub) broadcastEvent(event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		slog.Error("server: event marshal failed", "error", err)
		return
	}
	h.Broadcast(payload)
}

var _ session.EventSink = (*Hub)(nil)
