package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/uterokreatif/caruba-voice/internal/session"
	"github.com/uterokreatif/caruba-voice/internal/vad"
)

// Controller is the session surface the API drives.
type Controller interface {
	Snapshot() (session.State, error)
	Catalog() []session.ModelOption
	SetModel(id string) error
	StartListening() error
	StopListening() error
	StopSpeaking() error
	Greet() error
	StartHandsFree() error
	StopHandsFree() error
	Interrupt() error
}

type setModelRequest struct {
	Model string `json:"model"`
}

func registerAPIRoutes(mux *http.ServeMux, ctrl Controller, opts Options) {
	mux.HandleFunc("GET /api/state", func(w http.ResponseWriter, r *http.Request) {
		state, err := ctrl.Snapshot()
		if err != nil {
			writeActionError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, state)
	})

	mux.HandleFunc("GET /api/models", func(w http.ResponseWriter, r *http.Request) {
		models := ctrl.Catalog()
		if models == nil {
			models = []session.ModelOption{}
		}
		writeJSON(w, http.StatusOK, models)
	})

	mux.HandleFunc("PUT /api/model", func(w http.ResponseWriter, r *http.Request) {
		var req setModelRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if strings.TrimSpace(req.Model) == "" {
			writeJSONError(w, http.StatusBadRequest, "model is required")
			return
		}
		if err := ctrl.SetModel(req.Model); err != nil {
			writeActionError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	actions := map[string]func() error{
		"POST /api/listen/start":    ctrl.StartListening,
		"POST /api/listen/stop":     ctrl.StopListening,
		"POST /api/speech/stop":     ctrl.StopSpeaking,
		"POST /api/greet":           ctrl.Greet,
		"POST /api/handsfree/start": ctrl.StartHandsFree,
		"POST /api/handsfree/stop":  ctrl.StopHandsFree,
		"POST /api/interrupt":       ctrl.Interrupt,
	}
	for pattern, action := range actions {
		mux.HandleFunc(pattern, actionHandler(action))
	}

	mux.HandleFunc("GET /api/status", func(w http.ResponseWriter, r *http.Request) {
		var warnings []string
		if opts.Warnings != nil {
			warnings = opts.Warnings()
		}
		if warnings == nil {
			warnings = []string{}
		}
		writeJSON(w, http.StatusOK, map[string]any{"warnings": warnings})
	})
}

func actionHandler(action func() error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := action(); err != nil {
			writeActionError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// writeActionError maps session errors onto HTTP statuses.
func writeActionError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, session.ErrUnknownModel):
		status = http.StatusBadRequest
	case errors.Is(err, session.ErrNoRecognizer), errors.Is(err, vad.ErrUnsupported):
		status = http.StatusNotImplemented
	case errors.Is(err, session.ErrClosed):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		slog.Error("server: action failed", "error", err)
	}
	writeJSONError(w, status, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
