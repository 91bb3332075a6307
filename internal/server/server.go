// Package server exposes the voice session to a browser UI: a JSON control
// API, a websocket event stream and Prometheus metrics.
package server

import (
	"net/http"
)

type Options struct {
	// Warnings lists configuration problems shown by the UI.
	Warnings func() []string
	// Metrics serves GET /metrics when set.
	Metrics http.Handler
}

func Handler(hub *Hub, ctrl Controller, opts Options) http.Handler {
	mux := http.NewServeMux()

	registerWSRoute(mux, hub, ctrl)
	registerAPIRoutes(mux, ctrl, opts)
	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics)
	}

	return mux
}
