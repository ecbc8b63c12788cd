package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/skypro1111/voice-chat-client/internal/audio"
	"github.com/skypro1111/voice-chat-client/internal/playback"
)

// ErrUnsupportedMedia is reported for sources the speaker cannot decode
var ErrUnsupportedMedia = errors.New("device: unsupported media type")

// SpeakerConfig contains output device parameters
type SpeakerConfig struct {
	FramesPerBuffer int
	// RequireUserGesture rejects playback with playback.ErrAutoplayBlocked
	// until the first user interaction
	RequireUserGesture bool
}

// Speaker is a playback.Output writing decoded WAV or MP3 to an output
// device. Play returns once the audio has started; the end of the media is
// reported through OnEnded.
type Speaker struct {
	config   SpeakerConfig
	open     SinkOpener
	resolver *playback.Resolver
	logger   *slog.Logger

	source   string
	pcm      *audio.PCM
	samples  []int16
	position int
	playing  bool
	unlocked bool

	// preloaded is a source decoded ahead of Play by Preload
	preloaded    string
	preloadedPCM *audio.PCM

	gain    atomic.Uint64
	stop    chan struct{}
	done    chan struct{}
	onEnded func(source string)
	onError func(error)

	unsubscribe func()
	mu          sync.Mutex
}

// NewSpeaker creates a speaker output. When gestures is non-nil the speaker
// unlocks itself on the first interaction; it must be created before the
// playback controller so that it sees each interaction first.
func NewSpeaker(config SpeakerConfig, open SinkOpener, resolver *playback.Resolver, gestures *playback.GestureBus, logger *slog.Logger) *Speaker {
	if config.FramesPerBuffer <= 0 {
		config.FramesPerBuffer = 2048
	}
	if open == nil {
		open = OpenDefaultOutput
	}
	if resolver == nil {
		resolver = &playback.Resolver{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Speaker{
		config:   config,
		open:     open,
		resolver: resolver,
		logger:   logger.With(slog.String("component", "speaker")),
		unlocked: !config.RequireUserGesture,
	}
	s.gain.Store(math.Float64bits(1))

	if gestures != nil && config.RequireUserGesture {
		s.unsubscribe = gestures.Subscribe(playback.ResumeGestures, func(playback.GestureKind) {
			s.Unlock()
		})
	}

	return s
}

// Unlock allows playback to start without further interaction
func (s *Speaker) Unlock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.unlocked {
		s.unlocked = true
		s.logger.Debug("Audio output unlocked by user interaction")
	}
}

// OnEnded registers the end-of-media callback. It receives the source that
// ended, which may no longer be current when the callback runs.
func (s *Speaker) OnEnded(fn func(source string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEnded = fn
}

// OnError registers the media error callback
func (s *Speaker) OnError(fn func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onError = fn
}

// Source returns the current source URL
func (s *Speaker) Source() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.source
}

// SetSource stops playback and points the speaker at url
func (s *Speaker) SetSource(url string) error {
	s.halt()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.source = url
	s.pcm = nil
	s.samples = nil
	s.position = 0
	return nil
}

// Playing reports whether audio is being written to the device
func (s *Speaker) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playing
}

// SetVolume sets the output gain in [0, 1]
func (s *Speaker) SetVolume(volume float64) {
	s.gain.Store(math.Float64bits(min(max(volume, 0), 1)))
}

// Play starts or resumes the current source. Remote sources are fetched
// without holding the speaker lock.
func (s *Speaker) Play(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.unlocked {
		return playback.ErrAutoplayBlocked
	}
	if s.source == "" {
		return fmt.Errorf("no audio source set")
	}
	if s.playing {
		return nil
	}

	if s.samples == nil {
		if err := s.ensureLoadedLocked(ctx); err != nil {
			return err
		}
		// a concurrent Play may have started while the lock was released
		if s.playing {
			return nil
		}
	}
	if s.position >= len(s.samples) {
		s.position = 0
	}

	sink, err := s.open(s.pcm.SampleRate, s.pcm.Channels, s.config.FramesPerBuffer)
	if err != nil {
		return fmt.Errorf("failed to open output device: %w", err)
	}

	s.playing = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	go s.pump(sink, s.source, s.samples, s.position, s.pcm.Channels, s.stop, s.done)

	return nil
}

// Preload fetches and decodes url ahead of Play so that starting it later
// needs no network access while locks are held
func (s *Speaker) Preload(ctx context.Context, url string) error {
	pcm, err := s.load(ctx, url)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.preloaded = url
	s.preloadedPCM = pcm
	return nil
}

// ensureLoadedLocked decodes the current source. It releases s.mu while
// fetching and fails if the source was replaced meanwhile.
func (s *Speaker) ensureLoadedLocked(ctx context.Context) error {
	source := s.source

	pcm := s.preloadedPCM
	if s.preloaded == source && pcm != nil {
		s.preloaded, s.preloadedPCM = "", nil
	} else {
		s.mu.Unlock()
		loaded, err := s.load(ctx, source)
		s.mu.Lock()
		if err != nil {
			return err
		}
		pcm = loaded
	}

	if s.source != source {
		return fmt.Errorf("audio source changed while loading")
	}
	if s.samples != nil {
		return nil
	}

	s.pcm = pcm
	s.samples = pcm.Int16Samples(1)
	s.position = 0
	return nil
}

// load resolves and decodes source without touching speaker state
func (s *Speaker) load(ctx context.Context, source string) (*audio.PCM, error) {
	blob, err := s.resolver.Resolve(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("failed to load audio source: %w", err)
	}
	if !audio.IsWAV(blob.Data) && !audio.IsMP3(blob.Data) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMedia, blob.MimeType)
	}

	pcm, err := audio.Decode(blob.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedMedia, err)
	}
	if pcm.Channels <= 0 || pcm.SampleRate <= 0 {
		return nil, fmt.Errorf("%w: invalid audio format", ErrUnsupportedMedia)
	}
	return pcm, nil
}

// pump writes frames until the media ends or stop is closed
func (s *Speaker) pump(sink Sink, source string, samples []int16, position, channels int, stop, done chan struct{}) {
	frameLen := s.config.FramesPerBuffer * channels
	frame := make([]int16, frameLen)

	for position < len(samples) {
		select {
		case <-stop:
			s.finish(sink, source, position, done, false, nil)
			return
		default:
		}

		n := copy(frame, samples[position:])
		clear(frame[n:])
		applyGain(frame[:n], math.Float64frombits(s.gain.Load()))

		if err := sink.Write(frame); err != nil {
			s.finish(sink, source, position, done, false, err)
			return
		}
		position += n
	}

	s.finish(sink, source, position, done, true, nil)
}

// finish releases the device and records the position. done is closed before
// the callbacks run so that a concurrent Pause never waits on them.
func (s *Speaker) finish(sink Sink, source string, position int, done chan struct{}, ended bool, writeErr error) {
	if err := sink.Close(); err != nil {
		s.logger.Warn("Failed to close output device", slog.String("error", err.Error()))
	}

	s.mu.Lock()
	s.playing = false
	if ended {
		s.position = 0
	} else {
		s.position = position
	}
	onEnded := s.onEnded
	onError := s.onError
	s.mu.Unlock()

	close(done)

	switch {
	case writeErr != nil:
		s.logger.Warn("Audio output failed", slog.String("error", writeErr.Error()))
		if onError != nil {
			onError(writeErr)
		}
	case ended && onEnded != nil:
		onEnded(source)
	}
}

// Pause stops writing and keeps the position for the next Play
func (s *Speaker) Pause() error {
	s.halt()
	return nil
}

// halt stops the pump and waits for it to exit
func (s *Speaker) halt() {
	s.mu.Lock()
	stop, done := s.stop, s.done
	s.stop, s.done = nil, nil
	if stop != nil {
		close(stop)
	}
	s.mu.Unlock()

	if done != nil {
		<-done
	}
}

// Close stops playback and drops the gesture subscription
func (s *Speaker) Close() error {
	s.halt()

	s.mu.Lock()
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	return nil
}

func applyGain(frame []int16, gain float64) {
	if gain >= 1 {
		return
	}
	for i, v := range frame {
		frame[i] = int16(float64(v) * gain)
	}
}
