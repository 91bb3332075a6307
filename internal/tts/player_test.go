package tts

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

type fakeFetcher struct {
	payload []byte
	err     error
	block   bool
	calls   chan string
}

func (f *fakeFetcher) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if f.calls != nil {
		f.calls <- text
	}
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.payload, f.err
}

type fakeOutput struct {
	playErr error

	mu     sync.Mutex
	played [][]byte
	done   func(error)
	stops  int
}

func (o *fakeOutput) Play(payload []byte, done func(error)) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.playErr != nil {
		return o.playErr
	}
	o.played = append(o.played, payload)
	o.done = done
	return nil
}

func (o *fakeOutput) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stops++
}

func (o *fakeOutput) finish(err error) {
	o.mu.Lock()
	done := o.done
	o.mu.Unlock()
	go done(err)
}

type fakeSynth struct {
	speakErr error

	mu      sync.Mutex
	spoken  []string
	dones   []func(error)
	active  bool
	cancels int
}

func (s *fakeSynth) Speak(text string, done func(error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.speakErr != nil {
		return s.speakErr
	}
	s.spoken = append(s.spoken, text)
	s.dones = append(s.dones, done)
	s.active = true
	return nil
}

func (s *fakeSynth) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancels++
	s.active = false
}

func (s *fakeSynth) state() (spoken []string, active bool, cancels int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.spoken...), s.active, s.cancels
}

func (s *fakeSynth) finish(i int, err error) {
	s.mu.Lock()
	done := s.dones[i]
	s.active = false
	s.mu.Unlock()
	go done(err)
}

type event struct {
	kind string
	id   uint64
	err  error
}

type recordingListener struct {
	events chan event
}

func newRecordingListener() *recordingListener {
	return &recordingListener{events: make(chan event, 16)}
}

func (l *recordingListener) SpeechStarted(id uint64)  { l.events <- event{kind: "started", id: id} }
func (l *recordingListener) SpeechFinished(id uint64) { l.events <- event{kind: "finished", id: id} }
func (l *recordingListener) SpeechFailed(id uint64, err error) {
	l.events <- event{kind: "failed", id: id, err: err}
}

func (l *recordingListener) next(t *testing.T) event {
	t.Helper()
	select {
	case e := <-l.events:
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for listener event")
		return event{}
	}
}

func (l *recordingListener) expectNone(t *testing.T) {
	t.Helper()
	select {
	case e := <-l.events:
		t.Fatalf("unexpected listener event %#v", e)
	case <-time.After(40 * time.Millisecond):
	}
}

func TestPlayerFallsBackWhenRemoteReturns500(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "engine down", http.StatusInternalServerError)
	}))
	defer server.Close()

	output := &fakeOutput{}
	synth := &fakeSynth{}
	var backends []string
	var backendsMu sync.Mutex
	p := NewPlayer(PlayerConfig{
		Remote: NewRemote(RemoteConfig{URL: server.URL}),
		Output: output,
		Local:  synth,
		OnBackend: func(b string) {
			backendsMu.Lock()
			backends = append(backends, b)
			backendsMu.Unlock()
		},
	})
	listener := newRecordingListener()
	p.SetListener(listener)

	id := p.Speak("Halo, ada yang bisa dibantu?")

	e := listener.next(t)
	if e.kind != "started" || e.id != id {
		t.Fatalf("expected started(%d), got %#v", id, e)
	}
	spoken, active, _ := synth.state()
	if len(spoken) != 1 || spoken[0] != "Halo, ada yang bisa dibantu?" || !active {
		t.Fatalf("expected on-device synthesis of the reply, got %v active=%v", spoken, active)
	}
	if len(output.played) != 0 {
		t.Fatalf("remote payload must not be played after a 500, got %d plays", len(output.played))
	}
	backendsMu.Lock()
	if len(backends) != 1 || backends[0] != BackendLocal {
		t.Fatalf("expected local backend reported, got %v", backends)
	}
	backendsMu.Unlock()

	synth.finish(0, nil)
	if e := listener.next(t); e.kind != "finished" || e.id != id {
		t.Fatalf("expected finished(%d), got %#v", id, e)
	}
	if p.active() {
		t.Fatal("player must be idle after completion")
	}
}

func TestPlayerPlaysRemotePayload(t *testing.T) {
	output := &fakeOutput{}
	synth := &fakeSynth{}
	p := NewPlayer(PlayerConfig{Remote: &fakeFetcher{payload: []byte("mp3")}, Output: output, Local: synth})
	listener := newRecordingListener()
	p.SetListener(listener)

	id := p.Speak("halo")
	if e := listener.next(t); e.kind != "started" || e.id != id {
		t.Fatalf("expected started(%d), got %#v", id, e)
	}
	if spoken, _, _ := synth.state(); len(spoken) != 0 {
		t.Fatalf("on-device synthesizer must stay silent, spoke %v", spoken)
	}

	output.finish(nil)
	if e := listener.next(t); e.kind != "finished" || e.id != id {
		t.Fatalf("expected finished(%d), got %#v", id, e)
	}
}

func TestPlayerFallsBackWhenPlaybackCannotStart(t *testing.T) {
	output := &fakeOutput{playErr: errors.New("bad mp3")}
	synth := &fakeSynth{}
	p := NewPlayer(PlayerConfig{Remote: &fakeFetcher{payload: []byte("junk")}, Output: output, Local: synth})
	listener := newRecordingListener()
	p.SetListener(listener)

	id := p.Speak("halo")
	if e := listener.next(t); e.kind != "started" || e.id != id {
		t.Fatalf("expected started(%d), got %#v", id, e)
	}
	if spoken, _, _ := synth.state(); len(spoken) != 1 {
		t.Fatalf("expected fallback synthesis, got %v", spoken)
	}
}

func TestPlayerSpeakSilencesActiveSynthesis(t *testing.T) {
	synth := &fakeSynth{}
	output := &fakeOutput{}
	p := NewPlayer(PlayerConfig{Output: output, Local: synth})
	listener := newRecordingListener()
	p.SetListener(listener)

	first := p.Speak("pertama")
	if e := listener.next(t); e.id != first {
		t.Fatalf("expected started(%d), got %#v", first, e)
	}
	_, _, cancelsBefore := synth.state()

	second := p.Speak("kedua")
	if second == first {
		t.Fatal("expected a new speech id")
	}
	spoken, active, cancels := synth.state()
	if cancels != cancelsBefore+1 {
		t.Fatalf("expected active synthesis cancelled before the next utterance, cancels=%d", cancels)
	}
	if len(spoken) != 2 || !active {
		t.Fatalf("expected second utterance speaking, got %v active=%v", spoken, active)
	}
	if e := listener.next(t); e.kind != "started" || e.id != second {
		t.Fatalf("expected started(%d), got %#v", second, e)
	}

	// The superseded utterance's completion is stale.
	synth.finish(0, nil)
	listener.expectNone(t)
}

func TestPlayerStopIsIdempotent(t *testing.T) {
	p := NewPlayer(PlayerConfig{Output: &fakeOutput{}, Local: &fakeSynth{}})
	p.Stop()
	p.Stop()
	if p.active() {
		t.Fatal("expected idle player")
	}

	var nilDeps Player
	nilDeps.Stop()
}

func TestPlayerStopDuringFetchDropsUtterance(t *testing.T) {
	calls := make(chan string, 1)
	synth := &fakeSynth{}
	p := NewPlayer(PlayerConfig{Remote: &fakeFetcher{block: true, calls: calls}, Output: &fakeOutput{}, Local: synth})
	listener := newRecordingListener()
	p.SetListener(listener)

	p.Speak("halo")
	<-calls
	p.Stop()

	listener.expectNone(t)
	if spoken, _, _ := synth.state(); len(spoken) != 0 {
		t.Fatalf("stopped utterance must not fall back, spoke %v", spoken)
	}
}

func TestPlayerReportsOnDeviceFailure(t *testing.T) {
	synth := &fakeSynth{speakErr: errors.New("espeak-ng missing")}
	p := NewPlayer(PlayerConfig{Remote: &fakeFetcher{err: errors.New("connection refused")}, Output: &fakeOutput{}, Local: synth})
	listener := newRecordingListener()
	p.SetListener(listener)

	id := p.Speak("halo")
	e := listener.next(t)
	if e.kind != "failed" || e.id != id || e.err == nil {
		t.Fatalf("expected failed(%d), got %#v", id, e)
	}
	if p.active() {
		t.Fatal("failed utterance must not stay active")
	}
}

func TestPlayerReportsPlaybackBreak(t *testing.T) {
	synth := &fakeSynth{}
	p := NewPlayer(PlayerConfig{Local: synth})
	listener := newRecordingListener()
	p.SetListener(listener)

	id := p.Speak("halo")
	listener.next(t)
	synth.finish(0, errors.New("audio device lost"))

	if e := listener.next(t); e.kind != "failed" || e.id != id {
		t.Fatalf("expected failed(%d), got %#v", id, e)
	}
}
