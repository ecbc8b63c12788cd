// Package app assembles the voice chat client from its configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/skypro1111/voice-chat-client/internal/capture"
	"github.com/skypro1111/voice-chat-client/internal/config"
	"github.com/skypro1111/voice-chat-client/internal/device"
	"github.com/skypro1111/voice-chat-client/internal/metrics"
	"github.com/skypro1111/voice-chat-client/internal/payload"
	"github.com/skypro1111/voice-chat-client/internal/playback"
	"github.com/skypro1111/voice-chat-client/internal/server"
	"github.com/skypro1111/voice-chat-client/internal/transport"
	"github.com/skypro1111/voice-chat-client/internal/vad"
	"github.com/skypro1111/voice-chat-client/internal/voicechat"
)

// Options overrides parts of the assembly
type Options struct {
	// CaptureFile replaces the microphone with an audio file
	CaptureFile string
	// OnMessage is passed to the conversation
	OnMessage func(voicechat.Message)
	// InputOpener and SinkOpener replace the default audio devices
	InputOpener device.InputOpener
	SinkOpener  device.SinkOpener
}

// App holds the wired client components
type App struct {
	Config       *config.Config
	Logger       *slog.Logger
	Metrics      *metrics.Metrics
	Client       *transport.Client
	Gestures     *playback.GestureBus
	Speaker      *device.Speaker
	Player       *playback.Controller
	Capture      *capture.Session
	Conversation *voicechat.Conversation
	HTTP         *server.HTTPServer
	// Detector is set in hands-free mode
	Detector *vad.Detector

	autoStop  chan struct{}
	terminate func() error
}

// New wires the client. Close must be called on every exit path.
func New(cfg *config.Config, logger *slog.Logger, opts Options) (*App, error) {
	terminate, err := device.Initialize()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audio devices: %w", err)
	}

	a := &App{
		Config:    cfg,
		Logger:    logger,
		Metrics:   metrics.NewMetrics(),
		Gestures:  playback.NewGestureBus(),
		autoStop:  make(chan struct{}, 1),
		terminate: terminate,
	}

	a.Client, err = transport.NewClient(transport.Config{
		BaseURL:   cfg.Backend.BaseURL,
		Token:     cfg.Backend.Token,
		Timeout:   cfg.Backend.GetTimeoutDuration(),
		UserAgent: cfg.Backend.UserAgent,
	}, logger, a.Metrics)
	if err != nil {
		_ = terminate()
		return nil, fmt.Errorf("failed to create backend client: %w", err)
	}

	store := playback.NewObjectStore(a.Metrics)

	// The speaker subscribes to gestures first so that it is unlocked before
	// the controller retries a blocked playback
	a.Speaker = device.NewSpeaker(device.SpeakerConfig{
		FramesPerBuffer:    cfg.Playback.FramesPerBuffer,
		RequireUserGesture: cfg.Playback.RequireUserGesture,
	}, opts.SinkOpener, &playback.Resolver{
		Store:   store,
		BaseURL: cfg.Backend.BaseURL,
		Token:   cfg.Backend.Token,
	}, a.Gestures, logger)

	a.Player, err = playback.NewController(playback.Options{
		Output:   a.Speaker,
		Store:    store,
		Gestures: a.Gestures,
		Decode: payload.DecodeOptions{
			MinBase64Length: cfg.Playback.MinBase64Length,
			DefaultMimeType: cfg.Playback.DefaultMimeType,
		},
		Volume:  cfg.Playback.Volume,
		Muted:   cfg.Playback.Muted,
		Logger:  logger,
		Metrics: a.Metrics,
	})
	if err != nil {
		_ = a.Speaker.Close()
		_ = terminate()
		return nil, fmt.Errorf("failed to create playback controller: %w", err)
	}

	source, err := a.captureSource(opts)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Capture = capture.NewSession(source, capture.Options{
		Logger:  logger,
		Metrics: a.Metrics,
		OnFinalize: func(*capture.Recording) {
			if a.Detector != nil {
				a.Detector.Reset()
			}
		},
	})

	a.Conversation, err = voicechat.NewConversation(voicechat.Config{
		SessionID: cfg.Backend.SessionID,
		VoiceID:   cfg.Backend.VoiceID,
	}, a.Capture, a.Client, a.Player, voicechat.Options{
		Logger:    logger,
		Metrics:   a.Metrics,
		OnMessage: opts.OnMessage,
	})
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}

	if cfg.HTTP.Enabled {
		a.HTTP = server.NewHTTPServer(cfg.HTTP, logger, cfg, server.Components{
			Conversation: a.Conversation,
			Playback:     a.Player,
			Capture:      a.Capture,
			Backend:      a.Client,
		}, a.Metrics)
	}

	return a, nil
}

func (a *App) captureSource(opts Options) (capture.Source, error) {
	cfg := a.Config.Capture
	if opts.CaptureFile != "" {
		return &capture.FileSource{Path: opts.CaptureFile, ChunkSize: cfg.FileChunkSize}, nil
	}

	micConfig := device.MicrophoneConfig{
		SampleRate:      cfg.SampleRate,
		Channels:        cfg.Channels,
		FramesPerBuffer: cfg.FramesPerBuffer,
	}

	if cfg.AutoStopSilence > 0 {
		detector, err := vad.NewDetector(vad.Config{
			Threshold:      float32(cfg.VADThreshold),
			SampleRate:     cfg.SampleRate * cfg.Channels,
			MinSpeech:      cfg.GetMinSpeech(),
			SilenceTimeout: cfg.GetAutoStopSilence(),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create voice activity detector: %w", err)
		}
		a.Detector = detector
		micConfig.OnFrame = a.detectEndOfSpeech
		a.Logger.Info("Hands-free mode enabled",
			slog.Duration("silence_timeout", cfg.GetAutoStopSilence()),
		)
	}

	return device.NewMicrophone(micConfig, opts.InputOpener, a.Logger), nil
}

// detectEndOfSpeech runs on the microphone goroutine
func (a *App) detectEndOfSpeech(frame []int16) {
	if a.Detector.Process(frame).Event != vad.EventSpeechEnd {
		return
	}
	a.Logger.Debug("End of speech detected")
	select {
	case a.autoStop <- struct{}{}:
	default:
	}
}

// AutoStop delivers a signal when hands-free mode hears the end of an
// utterance. The receiver decides whether a recording is still active.
func (a *App) AutoStop() <-chan struct{} {
	return a.autoStop
}

// Start starts the monitoring server when it is enabled
func (a *App) Start() error {
	if a.HTTP == nil {
		return nil
	}
	return a.HTTP.Start()
}

// WaitForPlayback blocks until the current playback ends. A playback waiting
// for user interaction counts as ended.
func (a *App) WaitForPlayback(ctx context.Context) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for a.Player.State() == playback.StatePlaying {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// Close stops the monitoring server and releases every device
func (a *App) Close() error {
	var errs []error

	if a.HTTP != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		errs = append(errs, a.HTTP.Stop(ctx))
		cancel()
	}

	switch {
	case a.Conversation != nil:
		errs = append(errs, a.Conversation.Close())
	default:
		if a.Capture != nil {
			errs = append(errs, a.Capture.Close())
		}
		if a.Player != nil {
			errs = append(errs, a.Player.Close())
		}
	}

	if a.Speaker != nil {
		errs = append(errs, a.Speaker.Close())
	}
	if a.terminate != nil {
		errs = append(errs, a.terminate())
		a.terminate = nil
	}

	return errors.Join(errs...)
}
