// Package metrics exposes Prometheus counters for the voice session.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/uterokreatif/caruba-voice/internal/session"
)

// Metrics holds the session counters on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	PhaseTransitions  *prometheus.CounterVec
	TurnsTotal        *prometheus.CounterVec
	SpeechBackends    *prometheus.CounterVec
	RecognizerRetries prometheus.Counter
}

func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "caruba_voice"
	}

	registry := prometheus.NewRegistry()

	phaseTransitions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "phase_transitions_total",
			Help:      "Total number of session phase transitions",
		},
		[]string{"from", "to"},
	)

	turnsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Total number of completed conversation turns",
		},
		[]string{"outcome"},
	)

	speechBackends := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "speech_backend_total",
			Help:      "Utterances started per speech backend",
		},
		[]string{"backend"},
	)

	recognizerRetries := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recognizer_retries_total",
			Help:      "Recognizer restarts after network errors",
		},
	)

	registry.MustRegister(
		phaseTransitions,
		turnsTotal,
		speechBackends,
		recognizerRetries,
	)

	return &Metrics{
		registry:          registry,
		PhaseTransitions:  phaseTransitions,
		TurnsTotal:        turnsTotal,
		SpeechBackends:    speechBackends,
		RecognizerRetries: recognizerRetries,
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) PhaseTransition(from, to session.Phase) {
	m.PhaseTransitions.WithLabelValues(string(from), string(to)).Inc()
}

func (m *Metrics) TurnCompleted(outcome string) {
	m.TurnsTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecognizerRetry() {
	m.RecognizerRetries.Inc()
}

// Backend records which speech backend started an utterance. It matches
// tts.PlayerConfig.OnBackend.
func (m *Metrics) Backend(name string) {
	m.SpeechBackends.WithLabelValues(name).Inc()
}

var _ session.Metrics = (*Metrics)(nil)
