package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/uterokreatif/caruba-voice/internal/chat"
	"github.com/uterokreatif/caruba-voice/internal/session"
)

// EnvPrefix is the namespace prefix for all caruba-voice environment variables.
const EnvPrefix = "CARUBA_"

// Chat modes.
const (
	ChatModeHTTP   = "http"
	ChatModeDirect = "direct"
	// ChatModeHybrid calls the HTTP endpoint and falls back to the in-process
	// relay when it fails.
	ChatModeHybrid = "hybrid"
)

// Config holds all application configuration. Secrets (API keys) are loaded
// exclusively from environment variables and never appear in the config file.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	LogLevel   string `yaml:"log_level"`

	Chat    ChatConfig            `yaml:"chat"`
	Session SessionConfig         `yaml:"session"`
	Models  []session.ModelOption `yaml:"models"`
	STT     STTConfig             `yaml:"stt"`
	TTS     TTSConfig             `yaml:"tts"`
	VAD     VADConfig             `yaml:"vad"`

	// Secrets, env vars only.
	DeepgramAPIKey   string `yaml:"-"`
	OpenAIAPIKey     string `yaml:"-"`
	OpenRouterAPIKey string `yaml:"-"`
	AnthropicAPIKey  string `yaml:"-"`
	GeminiAPIKey     string `yaml:"-"`
	SentryDSN        string `yaml:"-"`
}

type ChatConfig struct {
	Mode             string        `yaml:"mode"`
	URL              string        `yaml:"url"`
	RequestTimeout   string        `yaml:"request_timeout"`
	HistoryWindow    int           `yaml:"history_window"`
	PersonaFile      string        `yaml:"persona_file"`
	FallbackModels   []chat.Target `yaml:"fallback_models"`
	FallbackCooldown string        `yaml:"fallback_cooldown"`
	MaxTokens        int           `yaml:"max_tokens"`
}

type SessionConfig struct {
	DefaultModel      string `yaml:"default_model"`
	DefaultProvider   string `yaml:"default_provider"`
	FinalizeDelay     string `yaml:"finalize_delay"`
	MaxNetworkRetries int    `yaml:"max_network_retries"`
	RetryBaseDelay    string `yaml:"retry_base_delay"`
}

type STTConfig struct {
	Model          string `yaml:"model"`
	Language       string `yaml:"language"`
	MicSampleRate  int    `yaml:"mic_sample_rate"`
	MicSampleRates []int  `yaml:"mic_sample_rates"`
}

type TTSConfig struct {
	RemoteEnabled bool         `yaml:"remote_enabled"`
	RemoteURL     string       `yaml:"remote_url"`
	Lang          string       `yaml:"lang"`
	Slow          bool         `yaml:"slow"`
	Timeout       string       `yaml:"timeout"`
	Espeak        EspeakConfig `yaml:"espeak"`
}

type EspeakConfig struct {
	Command string  `yaml:"command"`
	Locale  string  `yaml:"locale"`
	Rate    float64 `yaml:"rate"`
	Pitch   float64 `yaml:"pitch"`
	Volume  float64 `yaml:"volume"`
}

type VADConfig struct {
	SpeechThreshold  float64 `yaml:"speech_threshold"`
	SilenceThreshold float64 `yaml:"silence_threshold"`
	SpeechFrames     int     `yaml:"speech_frames"`
	SilenceFrames    int     `yaml:"silence_frames"`
	FrameSize        int     `yaml:"frame_size"`
}

func defaults() Config {
	return Config{
		ListenAddr: "127.0.0.1:8080",
		LogLevel:   "info",
		Chat: ChatConfig{
			Mode:           ChatModeHTTP,
			URL:            "http://localhost:3001/api/chat",
			RequestTimeout: "15s",
			HistoryWindow:  10,
			FallbackModels: []chat.Target{
				{Provider: "openrouter", Model: "meta-llama/llama-3.3-70b-instruct:free"},
				{Provider: "openrouter", Model: "mistralai/mistral-7b-instruct:free"},
			},
			FallbackCooldown: "1m",
			MaxTokens:        500,
		},
		Session: SessionConfig{
			DefaultModel:      "google/gemma-3-27b-it:free",
			DefaultProvider:   "openrouter",
			FinalizeDelay:     "2500ms",
			MaxNetworkRetries: 3,
			RetryBaseDelay:    "1s",
		},
		Models: []session.ModelOption{
			{ID: "google/gemma-3-27b-it:free", Name: "Gemma 3 27B", Provider: "openrouter"},
			{ID: "meta-llama/llama-3.3-70b-instruct:free", Name: "Llama 3.3 70B", Provider: "openrouter"},
			{ID: "gpt-4o-mini", Name: "GPT-4o mini", Provider: "openai"},
			{ID: "claude-3-5-haiku-latest", Name: "Claude 3.5 Haiku", Provider: "anthropic"},
			{ID: "gemini-2.0-flash", Name: "Gemini 2.0 Flash", Provider: "gemini"},
		},
		STT: STTConfig{
			Model:          "nova-2",
			Language:       "id",
			MicSampleRate:  16000,
			MicSampleRates: []int{48000, 44100, 32000, 24000},
		},
		TTS: TTSConfig{
			RemoteEnabled: true,
			RemoteURL:     "http://localhost:5000",
			Lang:          "id",
			Timeout:       "15s",
			Espeak: EspeakConfig{
				Command: "espeak-ng",
				Locale:  "id-ID",
				Rate:    0.9,
				Pitch:   1.0,
				Volume:  1.0,
			},
		},
		VAD: VADConfig{
			SpeechThreshold:  0.015,
			SilenceThreshold: 0.008,
			SpeechFrames:     3,
			SilenceFrames:    30,
			FrameSize:        1024,
		},
	}
}

// Load reads configuration from a YAML file (if it exists), applies
// environment variable overrides, loads secrets, and validates the result.
// It returns the config, any validation warnings, and an error if the file
// exists but cannot be read or parsed.
func Load(path string) (Config, []string, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, nil, fmt.Errorf("read config file: %w", err)
			}
		} else {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	applyEnvOverrides(&cfg)
	loadSecrets(&cfg)

	warnings := validate(&cfg)
	return cfg, warnings, nil
}

// RequestTimeout bounds one chat request, 15s when unset or invalid.
func (c *Config) RequestTimeout() time.Duration {
	return parseDuration(c.Chat.RequestTimeout, 15*time.Second)
}

func (c *Config) FallbackCooldown() time.Duration {
	return parseDuration(c.Chat.FallbackCooldown, time.Minute)
}

// FinalizeDelay is the quiet period after a final result before the
// utterance is sent.
func (c *Config) FinalizeDelay() time.Duration {
	return parseDuration(c.Session.FinalizeDelay, 2500*time.Millisecond)
}

func (c *Config) RetryBaseDelay() time.Duration {
	return parseDuration(c.Session.RetryBaseDelay, time.Second)
}

func (c *Config) TTSTimeout() time.Duration {
	return parseDuration(c.TTS.Timeout, 15*time.Second)
}

// SlogLevel maps LogLevel onto a slog level, info by default.
func (c *Config) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(c.LogLevel))); err != nil {
		return slog.LevelInfo
	}
	return level
}

// SampleRateCandidates returns a deduplicated ordered list of sample rates
// to try: preferred rate first, then configured alternatives, then defaults.
func (c *Config) SampleRateCandidates() []int {
	hardcoded := []int{16000, 48000, 44100, 32000, 24000}

	combined := make([]int, 0, 1+len(c.STT.MicSampleRates)+len(hardcoded))
	combined = append(combined, c.STT.MicSampleRate)
	combined = append(combined, c.STT.MicSampleRates...)
	combined = append(combined, hardcoded...)

	seen := make(map[int]struct{}, len(combined))
	result := make([]int, 0, len(combined))
	for _, rate := range combined {
		if rate <= 0 {
			continue
		}
		if _, ok := seen[rate]; ok {
			continue
		}
		seen[rate] = struct{}{}
		result = append(result, rate)
	}
	return result
}

// APIKey returns the secret for an LLM provider. OpenRouter falls back to
// the OpenAI key when it has none of its own.
func (c *Config) APIKey(provider string) string {
	switch provider {
	case "openai":
		return c.OpenAIAPIKey
	case "openrouter":
		if c.OpenRouterAPIKey != "" {
			return c.OpenRouterAPIKey
		}
		return c.OpenAIAPIKey
	case "anthropic":
		return c.AnthropicAPIKey
	case "gemini":
		return c.GeminiAPIKey
	default:
		return ""
	}
}

func applyEnvOverrides(cfg *Config) {
	setString(&cfg.ListenAddr, "LISTEN_ADDR")
	setString(&cfg.LogLevel, "LOG_LEVEL")

	setString(&cfg.Chat.Mode, "CHAT_MODE")
	setString(&cfg.Chat.URL, "CHAT_URL")
	setString(&cfg.Chat.RequestTimeout, "REQUEST_TIMEOUT")
	setInt(&cfg.Chat.HistoryWindow, "HISTORY_WINDOW")
	setString(&cfg.Chat.PersonaFile, "PERSONA_FILE")
	setString(&cfg.Chat.FallbackCooldown, "FALLBACK_COOLDOWN")
	if v := os.Getenv(EnvPrefix + "FALLBACK_MODELS"); v != "" {
		cfg.Chat.FallbackModels = parseTargets(v)
	}

	setString(&cfg.Session.DefaultModel, "DEFAULT_MODEL")
	setString(&cfg.Session.DefaultProvider, "DEFAULT_PROVIDER")
	setString(&cfg.Session.FinalizeDelay, "FINALIZE_DELAY")
	setString(&cfg.Session.RetryBaseDelay, "RETRY_BASE_DELAY")
	if v := os.Getenv(EnvPrefix + "MAX_NETWORK_RETRIES"); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			cfg.Session.MaxNetworkRetries = n
		}
	}

	setString(&cfg.STT.Model, "DEEPGRAM_MODEL")
	setString(&cfg.STT.Language, "DEEPGRAM_LANGUAGE")
	setInt(&cfg.STT.MicSampleRate, "MIC_SAMPLE_RATE")
	if v := os.Getenv(EnvPrefix + "MIC_SAMPLE_RATES"); v != "" {
		cfg.STT.MicSampleRates = parseSampleRates(v)
	}

	if v := os.Getenv(EnvPrefix + "TTS_REMOTE_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.TTS.RemoteEnabled = b
		}
	}
	setString(&cfg.TTS.RemoteURL, "TTS_URL")
	setString(&cfg.TTS.Lang, "TTS_LANG")
	setString(&cfg.TTS.Timeout, "TTS_TIMEOUT")
	setString(&cfg.TTS.Espeak.Command, "ESPEAK_COMMAND")
	setString(&cfg.TTS.Espeak.Locale, "ESPEAK_LOCALE")
}

func loadSecrets(cfg *Config) {
	cfg.DeepgramAPIKey = os.Getenv(EnvPrefix + "DEEPGRAM_API_KEY")
	cfg.OpenAIAPIKey = os.Getenv(EnvPrefix + "OPENAI_API_KEY")
	cfg.OpenRouterAPIKey = os.Getenv(EnvPrefix + "OPENROUTER_API_KEY")
	cfg.AnthropicAPIKey = os.Getenv(EnvPrefix + "ANTHROPIC_API_KEY")
	cfg.GeminiAPIKey = os.Getenv(EnvPrefix + "GEMINI_API_KEY")
	cfg.SentryDSN = os.Getenv(EnvPrefix + "SENTRY_DSN")
}

func validate(cfg *Config) []string {
	var warnings []string

	if cfg.DeepgramAPIKey == "" {
		warnings = append(warnings, "Deepgram API key not configured, speech recognition is disabled. Set "+EnvPrefix+"DEEPGRAM_API_KEY.")
	}

	switch cfg.Chat.Mode {
	case ChatModeHTTP:
	case ChatModeDirect, ChatModeHybrid:
		if cfg.APIKey(cfg.Session.DefaultProvider) == "" {
			warnings = append(warnings, fmt.Sprintf("No API key for default provider %q, direct chat calls will fail.", cfg.Session.DefaultProvider))
		}
	default:
		warnings = append(warnings, fmt.Sprintf("Unknown chat mode %q, using %q.", cfg.Chat.Mode, ChatModeHTTP))
		cfg.Chat.Mode = ChatModeHTTP
	}

	for name, raw := range map[string]string{
		"chat.request_timeout":     cfg.Chat.RequestTimeout,
		"chat.fallback_cooldown":   cfg.Chat.FallbackCooldown,
		"session.finalize_delay":   cfg.Session.FinalizeDelay,
		"session.retry_base_delay": cfg.Session.RetryBaseDelay,
		"tts.timeout":              cfg.TTS.Timeout,
	} {
		if d, err := time.ParseDuration(raw); err != nil || d <= 0 {
			warnings = append(warnings, fmt.Sprintf("Invalid %s %q, using the default.", name, raw))
		}
	}

	if cfg.Chat.HistoryWindow <= 0 {
		warnings = append(warnings, fmt.Sprintf("Invalid chat.history_window %d, using 10.", cfg.Chat.HistoryWindow))
		cfg.Chat.HistoryWindow = 10
	}

	if cfg.VAD.FrameSize <= 0 {
		cfg.VAD.FrameSize = 1024
	}

	if !inCatalog(cfg.Models, cfg.Session.DefaultModel) {
		warnings = append(warnings, fmt.Sprintf("Default model %q is not in the model catalog.", cfg.Session.DefaultModel))
	}

	return warnings
}

func inCatalog(models []session.ModelOption, id string) bool {
	for _, m := range models {
		if m.ID == id {
			return true
		}
	}
	return false
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func setString(dst *string, key string) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(EnvPrefix + key); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
			*dst = n
		}
	}
}

// parseTargets reads a comma separated list of provider/model entries.
// Malformed entries are skipped.
func parseTargets(raw string) []chat.Target {
	var result []chat.Target
	for _, part := range strings.Split(raw, ",") {
		provider, model, ok := strings.Cut(strings.TrimSpace(part), "/")
		if !ok || provider == "" || model == "" {
			continue
		}
		result = append(result, chat.Target{Provider: provider, Model: model})
	}
	return result
}

func parseSampleRates(raw string) []int {
	parts := strings.Split(raw, ",")
	seen := make(map[int]struct{}, len(parts))
	result := make([]int, 0, len(parts))

	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		rate, err := strconv.Atoi(trimmed)
		if err != nil || rate <= 0 {
			continue
		}
		if _, ok := seen[rate]; ok {
			continue
		}
		seen[rate] = struct{}{}
		result = append(result, rate)
	}

	return result
}
