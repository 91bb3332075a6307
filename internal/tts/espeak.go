package tts

import (
	"bufio"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
)

const (
	espeakBaseRate  = 175
	espeakBasePitch = 50
	espeakBaseAmp   = 100
)

type EspeakConfig struct {
	// Command is the synthesizer binary, espeak-ng by default.
	Command string
	// Locale picks the voice, e.g. "id" or "id-ID".
	Locale string
	// Rate, Pitch and Volume are multipliers of the engine defaults; 1.0
	// keeps the default.
	Rate   float64
	Pitch  float64
	Volume float64
	Logger *slog.Logger
}

// Voice is one installed synthesizer voice.
type Voice struct {
	Language string
	Name     string
}

// Espeak speaks through the espeak-ng command line synthesizer.
type Espeak struct {
	command string
	locale  string
	rate    int
	pitch   int
	amp     int
	logger  *slog.Logger

	listVoices func() ([]Voice, error)
	voiceOnce  sync.Once
	voice      string

	mu  sync.Mutex
	gen uint64
	cmd *exec.Cmd
}

func NewEspeak(cfg EspeakConfig) *Espeak {
	if cfg.Command == "" {
		cfg.Command = "espeak-ng"
	}
	if cfg.Locale == "" {
		cfg.Locale = "id-ID"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	e := &Espeak{
		command: cfg.Command,
		locale:  cfg.Locale,
		rate:    scale(espeakBaseRate, cfg.Rate),
		pitch:   scale(espeakBasePitch, cfg.Pitch),
		amp:     scale(espeakBaseAmp, cfg.Volume),
		logger:  logger,
	}
	e.listVoices = e.installedVoices
	return e
}

func scale(base int, factor float64) int {
	if factor <= 0 {
		return base
	}
	return int(float64(base)*factor + 0.5)
}

// Speak starts the synthesizer process for text.
func (e *Espeak) Speak(text string, done func(error)) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.cancelLocked()
	cmd := exec.Command(e.command, e.args(text)...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", e.command, err)
	}

	e.gen++
	gen := e.gen
	e.cmd = cmd
	go func() {
		err := cmd.Wait()

		e.mu.Lock()
		if e.gen != gen {
			e.mu.Unlock()
			return
		}
		e.cmd = nil
		e.mu.Unlock()

		if err != nil {
			err = fmt.Errorf("%s: %w", e.command, err)
		}
		done(err)
	}()
	return nil
}

// Cancel kills any running synthesis. Its done callback is not invoked.
func (e *Espeak) Cancel() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cancelLocked()
}

func (e *Espeak) cancelLocked() {
	e.gen++
	if e.cmd != nil && e.cmd.Process != nil {
		_ = e.cmd.Process.Kill()
	}
	e.cmd = nil
}

func (e *Espeak) args(text string) []string {
	return []string{
		"-v", e.voiceFor(),
		"-s", strconv.Itoa(e.rate),
		"-p", strconv.Itoa(e.pitch),
		"-a", strconv.Itoa(e.amp),
		"--", text,
	}
}

// voiceFor prefers an installed voice for the locale and otherwise passes
// the locale's language through to the engine.
func (e *Espeak) voiceFor() string {
	e.voiceOnce.Do(func() {
		lang := baseLanguage(e.locale)
		e.voice = lang
		voices, err := e.listVoices()
		if err != nil {
			e.logger.Warn("tts: list voices failed", "command", e.command, "error", err)
			return
		}
		if v, ok := pickVoice(voices, e.locale); ok {
			e.voice = v.Language
			e.logger.Info("tts: using on-device voice", "voice", v.Name, "language", v.Language)
		}
	})
	return e.voice
}

func (e *Espeak) installedVoices() ([]Voice, error) {
	out, err := exec.Command(e.command, "--voices").Output()
	if err != nil {
		return nil, err
	}
	return parseVoices(string(out)), nil
}

// parseVoices reads the table printed by `espeak-ng --voices`.
func parseVoices(out string) []Voice {
	var voices []Voice
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) < 4 || fields[0] == "Pty" {
			continue
		}
		voices = append(voices, Voice{Language: fields[1], Name: fields[3]})
	}
	return voices
}

// pickVoice returns the best voice for locale: an exact match first, then
// any voice of the same base language.
func pickVoice(voices []Voice, locale string) (Voice, bool) {
	want := strings.ToLower(locale)
	base := baseLanguage(want)
	for _, v := range voices {
		if strings.ToLower(v.Language) == want {
			return v, true
		}
	}
	for _, v := range voices {
		if baseLanguage(strings.ToLower(v.Language)) == base {
			return v, true
		}
	}
	return Voice{}, false
}

func baseLanguage(locale string) string {
	if i := strings.IndexAny(locale, "-_"); i > 0 {
		return strings.ToLower(locale[:i])
	}
	return strings.ToLower(locale)
}
