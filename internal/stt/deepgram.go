package stt

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
)

// noAudioErrCode is sent by Deepgram when no audio arrived before its timeout.
const noAudioErrCode = "NET-0001"

// Microphone is a PCM16-LE capture source.
type Microphone interface {
	Start() error
	Stop() error
	Close() error
	Stream(w io.Writer) error
}

type DeepgramConfig struct {
	APIKey     string
	Model      string
	Language   string
	SampleRate int
	Logger     *slog.Logger
}

type liveConn interface {
	Connect() bool
	Stop()
	io.Writer
}

// Deepgram streams microphone audio to Deepgram live transcription. Each
// Start opens a fresh microphone stream and websocket.
type Deepgram struct {
	cfg     DeepgramConfig
	logger  *slog.Logger
	openMic func(sampleRate int) (Microphone, error)
	dial    func(ctx context.Context, cb *callback) (liveConn, error)
	wait    func(time.Duration)

	mu  sync.Mutex
	run *run
}

var initOnce sync.Once

func NewDeepgram(cfg DeepgramConfig, openMic func(sampleRate int) (Microphone, error)) *Deepgram {
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	if cfg.Language == "" {
		cfg.Language = "id"
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	d := &Deepgram{cfg: cfg, logger: logger, openMic: openMic, wait: time.Sleep}
	d.dial = d.dialSDK
	return d
}

func (d *Deepgram) dialSDK(ctx context.Context, cb *callback) (liveConn, error) {
	initOnce.Do(func() {
		client.Init(client.InitLib{LogLevel: client.LogLevelDefault})
	})

	cOptions := &interfaces.ClientOptions{EnableKeepAlive: true}
	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:          d.cfg.Model,
		Language:       d.cfg.Language,
		Punctuate:      true,
		SmartFormat:    true,
		Encoding:       "linear16",
		SampleRate:     d.cfg.SampleRate,
		Channels:       1,
		InterimResults: true,
		VadEvents:      true,
	}

	conn, err := client.NewWSUsingCallback(ctx, d.cfg.APIKey, cOptions, tOptions, cb)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (d *Deepgram) Start(ctx context.Context, h Handler) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.run != nil {
		return ErrAlreadyStarted
	}

	runCtx, cancel := context.WithCancel(ctx)
	r := &run{handler: h, cancel: cancel}
	d.run = r
	go d.serve(runCtx, r)
	return nil
}

func (d *Deepgram) Stop() error {
	if r := d.detach(nil); r != nil {
		r.halt(false)
	}
	return nil
}

func (d *Deepgram) Abort() error {
	if r := d.detach(nil); r != nil {
		r.halt(true)
	}
	return nil
}

// detach clears the active run. With want set, it only clears that run.
func (d *Deepgram) detach(want *run) *run {
	d.mu.Lock()
	defer d.mu.Unlock()

	r := d.run
	if r == nil || (want != nil && r != want) {
		return nil
	}
	d.run = nil
	return r
}

func (d *Deepgram) fail(r *run, err *Error) {
	d.detach(r)
	d.logger.Warn("stt: recognizer error", "kind", err.Kind, "detail", err.Detail)
	r.fail(err)
}

func (d *Deepgram) serve(ctx context.Context, r *run) {
	mic, err := d.openMic(d.cfg.SampleRate)
	if err != nil {
		d.fail(r, &Error{Kind: KindNotAllowed, Detail: err.Error()})
		return
	}
	defer func() { _ = mic.Close() }()

	cb := &callback{run: r, logger: d.logger, fatal: func(err *Error) {
		d.fail(r, err)
		r.halt(true)
	}}
	conn, err := d.dial(ctx, cb)
	if err != nil {
		d.fail(r, &Error{Kind: KindNetwork, Detail: err.Error()})
		return
	}
	if !conn.Connect() {
		d.fail(r, &Error{Kind: KindNetwork, Detail: "deepgram connect failed"})
		return
	}

	if !r.attach(mic, conn) {
		conn.Stop()
		return
	}

	if err := mic.Start(); err != nil {
		r.release()
		d.fail(r, &Error{Kind: KindNotAllowed, Detail: err.Error()})
		return
	}
	d.logger.Info("stt: listening", "model", d.cfg.Model, "language", d.cfg.Language, "sample_rate", d.cfg.SampleRate)

	streamErr := streamWithRetry(ctx, mic, conn, d.wait, d.logger)
	r.release()

	if streamErr != nil && !r.halted() {
		d.fail(r, &Error{Kind: KindNetwork, Detail: streamErr.Error()})
		return
	}
	d.detach(r)
	r.end()
}

// streamWithRetry pumps microphone audio into w, restarting the stream after
// input overflows.
func streamWithRetry(ctx context.Context, mic Microphone, w io.Writer, wait func(time.Duration), logger *slog.Logger) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		err := mic.Stream(w)
		if err == nil || ctx.Err() != nil {
			return nil
		}

		if strings.Contains(strings.ToLower(err.Error()), "overflow") {
			logger.Warn("stt: mic input overflow, restarting stream")
			wait(250 * time.Millisecond)
			continue
		}

		return err
	}
}

// run is one recognition pass. Once halted or failed it emits nothing but a
// possible final OnEnd.
type run struct {
	handler Handler
	cancel  context.CancelFunc

	mu       sync.Mutex
	mic      Microphone
	conn     liveConn
	stopped  bool
	aborted  bool
	done     bool
	released sync.Once
}

func (r *run) attach(mic Microphone, conn liveConn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return false
	}
	r.mic = mic
	r.conn = conn
	return true
}

func (r *run) halt(abort bool) {
	r.mu.Lock()
	r.stopped = true
	if abort {
		r.aborted = true
	}
	attached := r.conn != nil
	r.mu.Unlock()

	r.cancel()
	r.release()
	if !abort && !attached {
		// Setup never finished; nothing else will report the end.
		r.end()
	}
}

// release stops the attached microphone and connection exactly once.
func (r *run) release() {
	r.mu.Lock()
	mic, conn := r.mic, r.conn
	r.mu.Unlock()
	if mic == nil || conn == nil {
		return
	}

	r.released.Do(func() {
		_ = mic.Stop()
		conn.Stop()
	})
}

func (r *run) halted() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopped
}

func (r *run) live() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.stopped && !r.done
}

func (r *run) emit(fn func(Handler)) {
	if r.live() {
		fn(r.handler)
	}
}

func (r *run) fail(err *Error) {
	r.mu.Lock()
	if r.stopped || r.done {
		r.mu.Unlock()
		return
	}
	r.done = true
	r.mu.Unlock()

	r.cancel()
	r.handler.OnError(err)
}

func (r *run) end() {
	r.mu.Lock()
	if r.aborted || r.done {
		r.mu.Unlock()
		return
	}
	r.done = true
	r.mu.Unlock()

	r.handler.OnEnd()
}

// callback folds Deepgram messages into the cumulative result list.
type callback struct {
	run    *run
	logger *slog.Logger
	fatal  func(*Error)

	mu      sync.Mutex
	finals  []Result
	interim string
}

func (c *callback) Message(mr *api.MessageResponse) error {
	if len(mr.Channel.Alternatives) == 0 {
		return nil
	}
	text := strings.TrimSpace(mr.Channel.Alternatives[0].Transcript)

	c.mu.Lock()
	if text == "" && c.interim == "" {
		// Nothing new to report.
		c.mu.Unlock()
		return nil
	}
	if mr.IsFinal {
		c.interim = ""
		if text != "" {
			c.finals = append(c.finals, Result{Transcript: text, Final: true})
		}
	} else {
		c.interim = text
	}
	results := make([]Result, len(c.finals), len(c.finals)+1)
	copy(results, c.finals)
	if c.interim != "" {
		results = append(results, Result{Transcript: c.interim})
	}
	c.mu.Unlock()

	if len(results) == 0 {
		return nil
	}
	c.run.emit(func(h Handler) { h.OnResults(results) })
	return nil
}

func (c *callback) Open(*api.OpenResponse) error {
	c.logger.Debug("stt: connected to deepgram")
	return nil
}

func (c *callback) Metadata(*api.MetadataResponse) error { return nil }

func (c *callback) SpeechStarted(*api.SpeechStartedResponse) error {
	c.run.emit(func(h Handler) { h.OnSpeechStart() })
	return nil
}

func (c *callback) UtteranceEnd(*api.UtteranceEndResponse) error { return nil }

func (c *callback) Close(*api.CloseResponse) error {
	c.logger.Debug("stt: disconnected from deepgram")
	c.run.end()
	return nil
}

func (c *callback) Error(er *api.ErrorResponse) error {
	if er.ErrCode == noAudioErrCode {
		c.run.emit(func(h Handler) { h.OnError(&Error{Kind: KindNoSpeech, Detail: er.Description}) })
		return nil
	}

	kind := KindOther
	if strings.HasPrefix(er.ErrCode, "NET") {
		kind = KindNetwork
	}
	c.logger.Warn("stt: deepgram error", "code", er.ErrCode, "description", er.Description)
	c.fatal(&Error{Kind: kind, Detail: er.Description})
	return nil
}

func (c *callback) UnhandledEvent([]byte) error { return nil }
