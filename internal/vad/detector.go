// Package vad detects speech onset and offset from raw microphone energy.
package vad

import "math"

// Config tunes the RMS hysteresis. Defaults suit 16 kHz audio in ~20 ms frames.
type Config struct {
	SpeechThreshold  float64
	SilenceThreshold float64
	SpeechFrames     int
	SilenceFrames    int
}

func DefaultConfig() Config {
	return Config{
		SpeechThreshold:  0.015,
		SilenceThreshold: 0.008,
		SpeechFrames:     3,
		SilenceFrames:    30,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.SpeechThreshold <= 0 {
		c.SpeechThreshold = d.SpeechThreshold
	}
	if c.SilenceThreshold <= 0 {
		c.SilenceThreshold = d.SilenceThreshold
	}
	if c.SpeechFrames <= 0 {
		c.SpeechFrames = d.SpeechFrames
	}
	if c.SilenceFrames <= 0 {
		c.SilenceFrames = d.SilenceFrames
	}
	return c
}

// Detector is an energy-based voice activity detector. It needs SpeechFrames
// consecutive loud frames to enter speech and SilenceFrames consecutive quiet
// frames to leave it, so short noises and pauses do not flicker the state.
type Detector struct {
	cfg          Config
	inSpeech     bool
	speechCount  int
	silenceCount int
}

func NewDetector(cfg Config) *Detector {
	return &Detector{cfg: cfg.withDefaults()}
}

// Observe feeds one frame and reports whether the detector is in speech.
func (d *Detector) Observe(pcm []int16) bool {
	level := RMS(pcm)

	if d.inSpeech {
		if level < d.cfg.SilenceThreshold {
			d.silenceCount++
			if d.silenceCount >= d.cfg.SilenceFrames {
				d.inSpeech = false
				d.silenceCount = 0
			}
		} else {
			d.silenceCount = 0
		}
		return d.inSpeech
	}

	if level >= d.cfg.SpeechThreshold {
		d.speechCount++
		if d.speechCount >= d.cfg.SpeechFrames {
			d.inSpeech = true
			d.speechCount = 0
		}
	} else {
		d.speechCount = 0
	}
	return d.inSpeech
}

func (d *Detector) InSpeech() bool { return d.inSpeech }

func (d *Detector) Reset() {
	d.inSpeech = false
	d.speechCount = 0
	d.silenceCount = 0
}

// RMS returns the root-mean-square level of pcm normalized to [0, 1].
func RMS(pcm []int16) float64 {
	if len(pcm) == 0 {
		return 0
	}
	var sum float64
	for _, s := range pcm {
		v := float64(s) / 32768
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(pcm)))
}
