package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/uterokreatif/caruba-voice/internal/audio"
	"github.com/uterokreatif/caruba-voice/internal/chat"
	"github.com/uterokreatif/caruba-voice/internal/config"
	"github.com/uterokreatif/caruba-voice/internal/conversation"
	"github.com/uterokreatif/caruba-voice/internal/llm"
	"github.com/uterokreatif/caruba-voice/internal/metrics"
	"github.com/uterokreatif/caruba-voice/internal/server"
	"github.com/uterokreatif/caruba-voice/internal/session"
	"github.com/uterokreatif/caruba-voice/internal/stt"
	"github.com/uterokreatif/caruba-voice/internal/tts"
	"github.com/uterokreatif/caruba-voice/internal/vad"
)

func main() {
	_ = godotenv.Load()

	configPath := os.Getenv(config.EnvPrefix + "CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, warnings, err := config.Load(configPath)
	if err != nil {
		slog.Error("caruba-voice: config load failed", "path", configPath, "error", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)
	slog.Info("caruba-voice: starting", "chat_mode", cfg.Chat.Mode)
	for _, w := range warnings {
		slog.Warn("caruba-voice: config", "warning", w)
	}

	reportError := func(error) {}
	if cfg.SentryDSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.SentryDSN,
			Environment: os.Getenv(config.EnvPrefix + "ENV"),
		})
		if err != nil {
			slog.Warn("caruba-voice: sentry init failed", "error", err)
		} else {
			slog.Info("caruba-voice: sentry initialized")
			defer sentry.Flush(2 * time.Second)
			reportError = func(err error) {
				if shouldReport(err) {
					sentry.CaptureException(err)
				}
			}
		}
	}

	m := metrics.New("")
	hub := server.NewHub()

	player := tts.NewPlayer(tts.PlayerConfig{
		Remote:    remoteSynth(cfg),
		Output:    tts.NewBeepOutput(),
		Local:     espeak(cfg, logger),
		Timeout:   cfg.TTSTimeout(),
		Logger:    logger,
		OnBackend: m.Backend,
	})

	var (
		recognizer stt.Recognizer
		monitor    session.VoiceMonitor
	)
	if terminate, err := audio.Init(); err != nil {
		slog.Warn("caruba-voice: audio unavailable, running API/UI only", "error", err)
	} else {
		defer terminate()
		if rate, ok := probeSampleRate(cfg.SampleRateCandidates(), cfg.VAD.FrameSize); ok {
			slog.Info("caruba-voice: microphone available", "sample_rate", rate)
			recognizer = deepgram(cfg, rate, logger)
			monitor = voiceMonitor(cfg, rate, logger)
		} else {
			slog.Warn("caruba-voice: microphone unavailable, running API/UI only")
		}
	}

	dispatcher := conversation.New(chatEndpoint(cfg), conversation.Config{
		HistoryWindow: cfg.Chat.HistoryWindow,
		Timeout:       cfg.RequestTimeout(),
	})

	sess := session.New(session.Config{
		FinalizeDelay:     cfg.FinalizeDelay(),
		MaxNetworkRetries: cfg.Session.MaxNetworkRetries,
		RetryBaseDelay:    cfg.RetryBaseDelay(),
		Model:             cfg.Session.DefaultModel,
		Provider:          cfg.Session.DefaultProvider,
		Catalog:           cfg.Models,
	}, session.Deps{
		Recognizer: recognizer,
		Speaker:    player,
		Monitor:    monitor,
		Dispatcher: dispatcher,
		Sink:       hub,
		Metrics:    m,
		OnError:    reportError,
	})
	player.SetListener(sess)
	hub.SetSessionID(sess.ID())

	srv := &http.Server{
		Addr: cfg.ListenAddr,
		Handler: server.Handler(hub, sess, server.Options{
			Warnings: func() []string { return warnings },
			Metrics:  m.Handler(),
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("caruba-voice: web UI", "url", "http://"+cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		slog.Info("caruba-voice: shutting down")

		if err := sess.Close(); err != nil {
			slog.Warn("caruba-voice: session close failed", "error", err)
		}
		player.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("caruba-voice: exited with error", "error", err)
		reportError(err)
	}
}

// shouldReport filters what reaches Sentry. An exhausted quota is an
// expected condition with its own spoken apology.
func shouldReport(err error) bool {
	return err != nil && conversation.KindOf(err) != conversation.KindQuota
}

// chatEndpoint builds the endpoint for the configured chat mode.
func chatEndpoint(cfg config.Config) chat.Endpoint {
	httpClient := chat.NewClient(cfg.Chat.URL, cfg.RequestTimeout())
	if cfg.Chat.Mode == config.ChatModeHTTP {
		return httpClient
	}

	persona, err := chat.LoadPersona(cfg.Chat.PersonaFile)
	if err != nil {
		slog.Warn("caruba-voice: persona not loaded, using default", "error", err)
		persona = ""
	}
	relay := chat.NewRelay(chat.RelayConfig{
		Persona:   persona,
		Default:   chat.Target{Provider: cfg.Session.DefaultProvider, Model: cfg.Session.DefaultModel},
		Fallbacks: cfg.Chat.FallbackModels,
		Cooldown:  cfg.FallbackCooldown(),
	}, func(provider, model string) (llm.Client, error) {
		return llm.NewClient(provider, cfg.APIKey(provider), model, llm.WithMaxTokens(cfg.Chat.MaxTokens))
	})

	if cfg.Chat.Mode == config.ChatModeDirect {
		return relay
	}
	return &chat.Chain{Primary: httpClient, Secondary: relay, Via: "http"}
}

func remoteSynth(cfg config.Config) tts.Fetcher {
	if !cfg.TTS.RemoteEnabled {
		return nil
	}
	return tts.NewRemote(tts.RemoteConfig{
		URL:     cfg.TTS.RemoteURL,
		Lang:    cfg.TTS.Lang,
		Slow:    cfg.TTS.Slow,
		Timeout: cfg.TTSTimeout(),
	})
}

func espeak(cfg config.Config, logger *slog.Logger) *tts.Espeak {
	return tts.NewEspeak(tts.EspeakConfig{
		Command: cfg.TTS.Espeak.Command,
		Locale:  cfg.TTS.Espeak.Locale,
		Rate:    cfg.TTS.Espeak.Rate,
		Pitch:   cfg.TTS.Espeak.Pitch,
		Volume:  cfg.TTS.Espeak.Volume,
		Logger:  logger,
	})
}

// probeSampleRate returns the first rate the default input device accepts.
func probeSampleRate(candidates []int, frameSize int) (int, bool) {
	for _, rate := range candidates {
		mic, err := audio.NewMic(rate, frameSize)
		if err != nil {
			slog.Debug("caruba-voice: microphone rejected sample rate", "sample_rate", rate, "error", err)
			continue
		}
		_ = mic.Close()
		return rate, true
	}
	return 0, false
}

func deepgram(cfg config.Config, rate int, logger *slog.Logger) stt.Recognizer {
	if cfg.DeepgramAPIKey == "" {
		return nil
	}
	return stt.NewDeepgram(stt.DeepgramConfig{
		APIKey:     cfg.DeepgramAPIKey,
		Model:      cfg.STT.Model,
		Language:   cfg.STT.Language,
		SampleRate: rate,
		Logger:     logger,
	}, func(sampleRate int) (stt.Microphone, error) {
		mic, err := audio.NewMic(sampleRate, cfg.VAD.FrameSize)
		if err != nil {
			return nil, err
		}
		return mic, nil
	})
}

func voiceMonitor(cfg config.Config, rate int, logger *slog.Logger) session.VoiceMonitor {
	return vad.NewMonitor(func() (vad.FrameSource, error) {
		mic, err := audio.NewMic(rate, cfg.VAD.FrameSize)
		if err != nil {
			return nil, err
		}
		return mic, nil
	}, vad.Config{
		SpeechThreshold:  cfg.VAD.SpeechThreshold,
		SilenceThreshold: cfg.VAD.SilenceThreshold,
		SpeechFrames:     cfg.VAD.SpeechFrames,
		SilenceFrames:    cfg.VAD.SilenceFrames,
	}, logger)
}
