package vad

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type chanSource struct {
	frames  chan []int16
	fail    chan error
	stopped chan struct{}
	once    sync.Once

	mu     sync.Mutex
	closed bool
}

func newChanSource() *chanSource {
	return &chanSource{frames: make(chan []int16), fail: make(chan error), stopped: make(chan struct{})}
}

func (s *chanSource) Start() error { return nil }

func (s *chanSource) Stop() error {
	s.once.Do(func() { close(s.stopped) })
	return nil
}

func (s *chanSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *chanSource) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *chanSource) ReadFrame() ([]int16, error) {
	select {
	case f := <-s.frames:
		return f, nil
	case err := <-s.fail:
		return nil, err
	case <-s.stopped:
		return nil, errors.New("stream stopped")
	}
}

type transitions struct {
	mu     sync.Mutex
	events []string
}

func (t *transitions) OnVoiceStart()        { t.add("start") }
func (t *transitions) OnVoiceEnd()          { t.add("end") }
func (t *transitions) OnVoiceError(e error) { t.add("error: " + e.Error()) }

func (t *transitions) add(e string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, e)
}

func (t *transitions) snapshot() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.events...)
}

func TestMonitorReportsOnsetAndOffset(t *testing.T) {
	src := newChanSource()
	m := NewMonitor(func() (FrameSource, error) { return src, nil }, Config{SpeechFrames: 2, SilenceFrames: 2}, nil)
	h := &transitions{}

	if err := m.Start(h); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := m.Start(h); err != nil {
		t.Fatalf("second Start must be a no-op, got %v", err)
	}

	for _, level := range []float64{0.05, 0.05, 0.05, 0.001, 0.001} {
		src.frames <- frame(level)
	}

	deadline := time.Now().Add(time.Second)
	for len(h.snapshot()) < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	got := h.snapshot()
	if len(got) != 2 || got[0] != "start" || got[1] != "end" {
		t.Fatalf("expected [start end], got %v", got)
	}

	m.Stop()
	m.Stop()
	deadline = time.Now().Add(time.Second)
	for !src.isClosed() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if !src.isClosed() {
		t.Fatal("expected source closed after stop")
	}
	if got := h.snapshot(); len(got) != 2 {
		t.Fatalf("stop must not report an error, got %v", got)
	}
}

func TestMonitorReportsSourceFailure(t *testing.T) {
	var opened int
	src := newChanSource()
	m := NewMonitor(func() (FrameSource, error) {
		opened++
		return src, nil
	}, Config{}, nil)
	h := &transitions{}

	if err := m.Start(h); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	src.fail <- errors.New("device unplugged")

	deadline := time.Now().Add(time.Second)
	for !src.isClosed() && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	got := h.snapshot()
	if len(got) != 1 || got[0] != "error: device unplugged" {
		t.Fatalf("expected one failure report, got %v", got)
	}

	src = newChanSource()
	if err := m.Start(h); err != nil {
		t.Fatalf("restart after failure failed: %v", err)
	}
	if opened != 2 {
		t.Fatalf("expected the failed run to be released, opened %d times", opened)
	}
	m.Stop()
}

func TestMonitorUnsupported(t *testing.T) {
	var m *Monitor
	if err := m.Start(&transitions{}); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported for nil monitor, got %v", err)
	}

	m = NewMonitor(nil, Config{}, nil)
	if err := m.Start(&transitions{}); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported without opener, got %v", err)
	}

	m = NewMonitor(func() (FrameSource, error) { return nil, errors.New("no input device") }, Config{}, nil)
	err := m.Start(&transitions{})
	if !errors.Is(err, ErrUnsupported) {
		t.Fatalf("expected ErrUnsupported when the source fails to open, got %v", err)
	}
	m.Stop()
}
