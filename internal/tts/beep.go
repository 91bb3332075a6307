package tts

import (
	"bytes"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/faiface/beep"
	"github.com/faiface/beep/mp3"
	"github.com/faiface/beep/speaker"
)

// BeepOutput plays MP3 payloads on the default audio device.
type BeepOutput struct {
	mu         sync.Mutex
	sampleRate beep.SampleRate
	ctrl       *beep.Ctrl
	stream     beep.StreamSeekCloser
}

func NewBeepOutput() *BeepOutput {
	return &BeepOutput{}
}

func (o *BeepOutput) Play(payload []byte, done func(error)) error {
	streamer, format, err := mp3.Decode(io.NopCloser(bytes.NewReader(payload)))
	if err != nil {
		return fmt.Errorf("decode mp3 payload: %w", err)
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	o.stopLocked()
	if o.sampleRate != format.SampleRate {
		if err := speaker.Init(format.SampleRate, format.SampleRate.N(time.Second/10)); err != nil {
			_ = streamer.Close()
			return fmt.Errorf("initialize speaker: %w", err)
		}
		o.sampleRate = format.SampleRate
	}

	ctrl := &beep.Ctrl{}
	ctrl.Streamer = beep.Seq(streamer, beep.Callback(func() {
		// Runs on the speaker goroutine with the speaker locked.
		go o.complete(ctrl, done)
	}))
	o.ctrl = ctrl
	o.stream = streamer
	speaker.Play(ctrl)
	return nil
}

func (o *BeepOutput) complete(ctrl *beep.Ctrl, done func(error)) {
	o.mu.Lock()
	if o.ctrl != ctrl {
		o.mu.Unlock()
		return
	}
	o.ctrl = nil
	if o.stream != nil {
		_ = o.stream.Close()
		o.stream = nil
	}
	o.mu.Unlock()
	done(nil)
}

func (o *BeepOutput) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stopLocked()
}

func (o *BeepOutput) stopLocked() {
	if o.ctrl == nil {
		return
	}
	speaker.Lock()
	o.ctrl.Streamer = nil
	o.ctrl.Paused = true
	speaker.Unlock()
	speaker.Clear()

	o.ctrl = nil
	if o.stream != nil {
		_ = o.stream.Close()
		o.stream = nil
	}
}
