// Package tts renders assistant replies as audio. A Player prefers a remote
// synthesis service and falls back to an on-device synthesizer.
package tts

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

const (
	BackendRemote = "remote"
	BackendLocal  = "local"
)

// Listener receives playback notifications keyed by the id returned from
// Player.Speak. Superseded or stopped ids are never reported.
type Listener interface {
	SpeechStarted(id uint64)
	SpeechFinished(id uint64)
	SpeechFailed(id uint64, err error)
}

// Fetcher synthesizes text into an encoded audio payload.
type Fetcher interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
}

// Output plays an encoded payload. done is called once, from another
// goroutine, when playback ends, with a non-nil error if it broke off. done is
// not called after Stop.
type Output interface {
	Play(payload []byte, done func(error)) error
	Stop()
}

// Synthesizer speaks text on the device. done follows the same rules as
// Output.Play.
type Synthesizer interface {
	Speak(text string, done func(error)) error
	Cancel()
}

type PlayerConfig struct {
	// Remote is optional; nil goes straight to Local.
	Remote  Fetcher
	Output  Output
	Local   Synthesizer
	Timeout time.Duration
	Logger  *slog.Logger
	// OnBackend is told which backend started each utterance.
	OnBackend func(backend string)
}

// Player keeps at most one backend active. Every Speak first silences
// whatever was playing.
type Player struct {
	remote    Fetcher
	output    Output
	local     Synthesizer
	timeout   time.Duration
	logger    *slog.Logger
	onBackend func(string)

	mu       sync.Mutex
	listener Listener
	seq      uint64
	current  uint64
	cancel   context.CancelFunc
}

func NewPlayer(cfg PlayerConfig) *Player {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	remote := cfg.Remote
	if cfg.Output == nil {
		remote = nil
	}
	return &Player{
		remote:    remote,
		output:    cfg.Output,
		local:     cfg.Local,
		timeout:   cfg.Timeout,
		logger:    logger,
		onBackend: cfg.OnBackend,
	}
}

func (p *Player) SetListener(l Listener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listener = l
}

// Speak silences any active audio and starts speaking text. It returns the
// id that listener notifications for this utterance will carry.
func (p *Player) Speak(text string) uint64 {
	p.mu.Lock()
	p.silenceLocked()
	p.seq++
	id := p.seq
	p.current = id

	if p.remote == nil {
		p.startLocalLocked(id, text)
		return id
	}

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	p.cancel = cancel
	p.mu.Unlock()

	go p.speakRemote(ctx, id, text)
	return id
}

// Stop cancels both backends. Safe to call when nothing is playing.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = 0
	p.silenceLocked()
}

// active reports whether an utterance is pending or playing.
func (p *Player) active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.current != 0
}

func (p *Player) silenceLocked() {
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	if p.output != nil {
		p.output.Stop()
	}
	if p.local != nil {
		p.local.Cancel()
	}
}

func (p *Player) speakRemote(ctx context.Context, id uint64, text string) {
	payload, err := p.remote.Synthesize(ctx, text)

	p.mu.Lock()
	if p.current != id {
		p.mu.Unlock()
		return
	}
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
	if err != nil {
		p.logger.Warn("tts: remote synthesis failed, using on-device voice", "error", err)
		p.startLocalLocked(id, text)
		return
	}

	if err := p.output.Play(payload, func(err error) { p.finished(id, err) }); err != nil {
		p.logger.Warn("tts: remote playback failed, using on-device voice", "error", err)
		p.startLocalLocked(id, text)
		return
	}
	p.mu.Unlock()
	p.started(id, BackendRemote)
}

// startLocalLocked is called with p.mu held and releases it.
func (p *Player) startLocalLocked(id uint64, text string) {
	if p.local == nil {
		p.current = 0
		listener := p.listener
		p.mu.Unlock()
		if listener != nil {
			listener.SpeechFailed(id, errNoSynthesizer)
		}
		return
	}

	if err := p.local.Speak(text, func(err error) { p.finished(id, err) }); err != nil {
		p.current = 0
		listener := p.listener
		p.mu.Unlock()
		p.logger.Warn("tts: on-device synthesis failed", "error", err)
		if listener != nil {
			listener.SpeechFailed(id, err)
		}
		return
	}
	p.mu.Unlock()
	p.started(id, BackendLocal)
}

func (p *Player) started(id uint64, backend string) {
	p.mu.Lock()
	live := p.current == id
	listener := p.listener
	p.mu.Unlock()
	if !live {
		return
	}

	p.logger.Debug("tts: speaking", "id", id, "backend", backend)
	if p.onBackend != nil {
		p.onBackend(backend)
	}
	if listener != nil {
		listener.SpeechStarted(id)
	}
}

func (p *Player) finished(id uint64, err error) {
	p.mu.Lock()
	if p.current != id {
		p.mu.Unlock()
		return
	}
	p.current = 0
	listener := p.listener
	p.mu.Unlock()

	if listener == nil {
		return
	}
	if err != nil {
		p.logger.Warn("tts: playback failed", "id", id, "error", err)
		listener.SpeechFailed(id, err)
		return
	}
	listener.SpeechFinished(id)
}
