package vad

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrUnsupported is returned by Monitor.Start when no audio source is
// available for level monitoring.
var ErrUnsupported = errors.New("vad: audio monitoring unsupported")

// FrameSource delivers mono PCM16 frames. ReadFrame blocks until a frame is
// available and fails once the source is stopped.
type FrameSource interface {
	Start() error
	Stop() error
	Close() error
	ReadFrame() ([]int16, error)
}

type Opener func() (FrameSource, error)

// Handler receives speech transitions. Calls come from the monitor goroutine.
// OnVoiceError is called once when the source fails outside of Stop; no
// further calls follow it.
type Handler interface {
	OnVoiceStart()
	OnVoiceEnd()
	OnVoiceError(err error)
}

// Monitor runs a Detector over a FrameSource and reports transitions.
type Monitor struct {
	open   Opener
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	active *monitorRun
}

type monitorRun struct {
	src     FrameSource
	stopped chan struct{}
	once    sync.Once
}

func NewMonitor(open Opener, cfg Config, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{open: open, cfg: cfg.withDefaults(), logger: logger}
}

func (m *Monitor) Supported() bool { return m != nil && m.open != nil }

// Start opens the source and begins monitoring. Starting a running monitor
// is a no-op.
func (m *Monitor) Start(h Handler) error {
	if !m.Supported() {
		return ErrUnsupported
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active != nil {
		return nil
	}

	src, err := m.open()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrUnsupported, err)
	}
	if err := src.Start(); err != nil {
		_ = src.Close()
		return fmt.Errorf("%w: %w", ErrUnsupported, err)
	}

	r := &monitorRun{src: src, stopped: make(chan struct{})}
	m.active = r
	go m.loop(r, h)
	m.logger.Info("vad: monitoring started")
	return nil
}

// Stop halts monitoring. It does not wait for the loop, so a transition that
// was already being reported may still arrive. Safe to call when idle.
func (m *Monitor) Stop() {
	if m == nil {
		return
	}
	m.mu.Lock()
	r := m.active
	m.active = nil
	m.mu.Unlock()

	if r == nil {
		return
	}
	r.once.Do(func() {
		close(r.stopped)
		_ = r.src.Stop()
	})
	m.logger.Info("vad: monitoring stopped")
}

func (m *Monitor) loop(r *monitorRun, h Handler) {
	defer func() { _ = r.src.Close() }()

	det := NewDetector(m.cfg)
	for {
		frame, err := r.src.ReadFrame()
		select {
		case <-r.stopped:
			return
		default:
		}
		if err != nil {
			m.logger.Warn("vad: frame read failed", "error", err)
			m.mu.Lock()
			if m.active == r {
				m.active = nil
			}
			m.mu.Unlock()
			h.OnVoiceError(err)
			return
		}

		was := det.InSpeech()
		now := det.Observe(frame)
		switch {
		case now && !was:
			h.OnVoiceStart()
		case !now && was:
			h.OnVoiceEnd()
		}
	}
}
