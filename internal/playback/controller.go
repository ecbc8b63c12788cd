package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/skypro1111/voice-chat-client/internal/metrics"
	"github.com/skypro1111/voice-chat-client/internal/payload"
)

var (
	// ErrAutoplayBlocked is returned by an Output that refuses to start
	// before the user has interacted with the client
	ErrAutoplayBlocked = errors.New("playback: autoplay blocked until user interaction")
	// ErrClosed is returned after Close
	ErrClosed = errors.New("playback: controller closed")
)

// Output is the single shared audio output. Play starts playback and returns
// without waiting for it to finish.
type Output interface {
	Source() string
	SetSource(url string) error
	Play(ctx context.Context) error
	Pause() error
	Playing() bool
	SetVolume(volume float64)
}

// EventSource is implemented by outputs that report the end of playback and
// media errors. Callbacks run on the output's own goroutine, never from
// inside an Output method call and never while the output holds its locks.
// OnEnded receives the source that reached its end; by the time it runs the
// output may already be playing something else.
type EventSource interface {
	OnEnded(fn func(source string))
	OnError(fn func(error))
}

// Preloader is implemented by outputs that can fetch and decode a source
// before Play, so that slow sources do not hold the controller lock
type Preloader interface {
	Preload(ctx context.Context, url string) error
}

// State is the controller playback state
type State int

const (
	StateIdle State = iota
	StatePlaying
	StatePausedOrStopped
)

func (s State) String() string {
	switch s {
	case StatePlaying:
		return "playing"
	case StatePausedOrStopped:
		return "paused"
	default:
		return "idle"
	}
}

// Options configures a Controller
type Options struct {
	Output   Output
	Store    *ObjectStore
	Gestures *GestureBus
	Decode   payload.DecodeOptions
	// Volume is 0-100
	Volume  int
	Muted   bool
	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// Status is a snapshot of the controller state
type Status struct {
	State         string  `json:"state"`
	NowPlaying    string  `json:"now_playing,omitempty"`
	OwnedURL      string  `json:"owned_url,omitempty"`
	PendingResume bool    `json:"pending_resume"`
	Volume        int     `json:"volume"`
	Muted         bool    `json:"muted"`
	Effective     float64 `json:"effective_volume"`
	LiveObjects   int     `json:"live_object_urls"`
}

// Controller drives the shared output. It owns at most one object URL and
// holds at most one pending resume listener.
type Controller struct {
	output   Output
	store    *ObjectStore
	gestures *GestureBus
	decode   payload.DecodeOptions
	logger   *slog.Logger
	metrics  *metrics.Metrics

	state      State
	nowPlaying string
	ownedURL   string
	volume     int
	muted      bool
	closed     bool

	pendingResume func()
	resumeGen     uint64

	mu sync.Mutex
}

// NewController creates a controller around the shared output
func NewController(opts Options) (*Controller, error) {
	if opts.Output == nil {
		return nil, fmt.Errorf("output cannot be nil")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	store := opts.Store
	if store == nil {
		store = NewObjectStore(opts.Metrics)
	}
	gestures := opts.Gestures
	if gestures == nil {
		gestures = NewGestureBus()
	}

	c := &Controller{
		output:   opts.Output,
		store:    store,
		gestures: gestures,
		decode:   opts.Decode,
		logger:   logger.With(slog.String("component", "playback")),
		metrics:  opts.Metrics,
		volume:   clampVolume(opts.Volume),
		muted:    opts.Muted,
	}

	if events, ok := opts.Output.(EventSource); ok {
		events.OnEnded(c.HandleEnded)
		events.OnError(c.handleMediaError)
	}

	return c, nil
}

// Store returns the object URL store used by the controller
func (c *Controller) Store() *ObjectStore {
	return c.store
}

// Gestures returns the bus the controller listens on for resume interactions
func (c *Controller) Gestures() *GestureBus {
	return c.gestures
}

// PlayPayload decodes reply audio and plays it. Binary audio is registered as
// a new object URL after the previously owned one is revoked. It returns the
// URL that was handed to the output.
func (c *Controller) PlayPayload(ctx context.Context, p *payload.AudioPayload) (string, error) {
	decoded, err := payload.Decode(p, c.decode)
	if err != nil {
		if c.metrics != nil {
			c.metrics.RecordDecodeFailure()
		}
		return "", err
	}
	if c.metrics != nil {
		c.metrics.RecordDecoded(decoded.Kind.String())
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return "", ErrClosed
	}

	url := decoded.URL
	if decoded.NeedsObjectURL() {
		c.revokeOwnedLocked()
		url = c.store.Create(decoded.Blob)
		c.ownedURL = url
	}

	c.logger.Debug("Playing reply audio",
		slog.String("kind", decoded.Kind.String()),
		slog.String("source", url),
	)

	return url, c.playLocked(ctx, url)
}

// Play points the output at url and starts it. It is a no-op when url is
// already playing. An autoplay block is not an error: playback resumes on
// the next user interaction.
func (c *Controller) Play(ctx context.Context, url string) error {
	c.preload(ctx, url)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	return c.playLocked(ctx, url)
}

func (c *Controller) playLocked(ctx context.Context, url string) error {
	if url == "" {
		return fmt.Errorf("playback: empty source")
	}

	if c.output.Source() == url && c.output.Playing() {
		return nil
	}

	if c.ownedURL != "" && c.ownedURL != url {
		c.revokeOwnedLocked()
	}

	if c.output.Source() != url {
		if err := c.output.SetSource(url); err != nil {
			c.recordError()
			return fmt.Errorf("failed to set audio source: %w", err)
		}
	}
	c.output.SetVolume(c.effectiveVolumeLocked())
	c.nowPlaying = url

	if c.metrics != nil {
		c.metrics.RecordPlayAttempt()
	}

	err := c.output.Play(ctx)
	switch {
	case err == nil:
		c.state = StatePlaying
		return nil
	case errors.Is(err, ErrAutoplayBlocked):
		c.state = StatePausedOrStopped
		if c.metrics != nil {
			c.metrics.RecordAutoplayBlocked()
		}
		c.logger.Info("Autoplay blocked, waiting for user interaction", slog.String("source", url))
		c.registerResumeLocked(url)
		return nil
	default:
		c.state = StatePausedOrStopped
		c.recordError()
		return fmt.Errorf("failed to start playback: %w", err)
	}
}

// preload fetches a new remote source outside the controller lock. Object
// URLs resolve from memory and need no preloading. A failure is reported
// again by Play.
func (c *Controller) preload(ctx context.Context, url string) {
	p, ok := c.output.(Preloader)
	if !ok || url == "" || IsObjectURL(url) || c.output.Source() == url {
		return
	}
	if err := p.Preload(ctx, url); err != nil {
		c.logger.Debug("Preloading audio source failed",
			slog.String("source", url),
			slog.String("error", err.Error()),
		)
	}
}

// registerResumeLocked installs the single resume listener, replacing any
// pending one
func (c *Controller) registerResumeLocked(url string) {
	if c.pendingResume != nil {
		c.pendingResume()
		c.pendingResume = nil
	}

	c.resumeGen++
	gen := c.resumeGen
	c.pendingResume = c.gestures.Subscribe(ResumeGestures, func(kind GestureKind) {
		c.resume(gen, url, kind)
	})
}

// resume removes the listener, then retries playback once. Both happen in
// one critical section so a block registered meanwhile keeps its listener.
func (c *Controller) resume(gen uint64, url string, kind GestureKind) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// a newer block or Close bumps the generation
	if gen != c.resumeGen || c.pendingResume == nil {
		return
	}

	// the bus calls listeners outside its lock
	c.pendingResume()
	c.pendingResume = nil

	if c.closed || c.output.Source() != url {
		return
	}

	if c.metrics != nil {
		c.metrics.RecordPlaybackResume()
	}

	if err := c.output.Play(context.Background()); err != nil {
		c.state = StatePausedOrStopped
		c.logger.Warn("Playback retry after user interaction failed",
			slog.String("gesture", string(kind)),
			slog.String("error", err.Error()),
		)
		return
	}

	c.state = StatePlaying
	c.logger.Debug("Playback resumed", slog.String("gesture", string(kind)))
}

// TogglePlay switches to url, or toggles play and pause when url is the
// current source
func (c *Controller) TogglePlay(ctx context.Context, url string) error {
	c.preload(ctx, url)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}

	if c.output.Source() != url {
		return c.playLocked(ctx, url)
	}

	if c.output.Playing() {
		if err := c.output.Pause(); err != nil {
			return fmt.Errorf("failed to pause playback: %w", err)
		}
		c.state = StatePausedOrStopped
		return nil
	}

	return c.playLocked(ctx, url)
}

// Pause pauses the output without changing the source
func (c *Controller) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.output.Pause(); err != nil {
		return fmt.Errorf("failed to pause playback: %w", err)
	}
	if c.state == StatePlaying {
		c.state = StatePausedOrStopped
	}
	return nil
}

// HandleEnded is called when the output reaches the end of source. A late
// report for a source that is no longer current, or that is playing again,
// is ignored. The owned object URL is revoked only if it is still the
// output's source.
func (c *Controller) HandleEnded(source string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || source != c.output.Source() || c.output.Playing() {
		c.logger.Debug("Ignoring end of a replaced source", slog.String("source", source))
		return
	}

	c.state = StatePausedOrStopped
	c.nowPlaying = ""

	if c.ownedURL != "" && c.output.Source() == c.ownedURL {
		c.revokeOwnedLocked()
	}
}

func (c *Controller) handleMediaError(err error) {
	c.mu.Lock()
	c.state = StatePausedOrStopped
	c.nowPlaying = ""
	c.mu.Unlock()

	c.recordError()
	c.logger.Warn("Audio output reported an error", slog.String("error", err.Error()))
}

// SetVolume sets the volume on a 0-100 scale
func (c *Controller) SetVolume(volume int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.volume = clampVolume(volume)
	c.output.SetVolume(c.effectiveVolumeLocked())
}

// SetMuted mutes or unmutes without losing the volume setting
func (c *Controller) SetMuted(muted bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.muted = muted
	c.output.SetVolume(c.effectiveVolumeLocked())
}

func (c *Controller) effectiveVolumeLocked() float64 {
	if c.muted {
		return 0
	}
	return float64(c.volume) / 100
}

// Close removes any pending resume listener, pauses the output and revokes
// the owned object URL
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	unsubscribe := c.pendingResume
	c.pendingResume = nil
	c.resumeGen++

	pauseErr := c.output.Pause()
	c.revokeOwnedLocked()
	c.state = StateIdle
	c.nowPlaying = ""
	c.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}

	if pauseErr != nil {
		return fmt.Errorf("failed to pause playback: %w", pauseErr)
	}
	return nil
}

// State returns the current playback state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Source returns the output's current source, which survives the end of playback
func (c *Controller) Source() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.output.Source()
}

// NowPlaying returns the source of the current playback, empty when none
func (c *Controller) NowPlaying() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nowPlaying
}

// HasPendingResume reports whether a resume listener is registered
func (c *Controller) HasPendingResume() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingResume != nil
}

// GetStatus returns a snapshot for monitoring
func (c *Controller) GetStatus() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Status{
		State:         c.state.String(),
		NowPlaying:    c.nowPlaying,
		OwnedURL:      c.ownedURL,
		PendingResume: c.pendingResume != nil,
		Volume:        c.volume,
		Muted:         c.muted,
		Effective:     c.effectiveVolumeLocked(),
		LiveObjects:   c.store.Live(),
	}
}

func (c *Controller) revokeOwnedLocked() {
	if c.ownedURL == "" {
		return
	}
	c.store.Revoke(c.ownedURL)
	c.ownedURL = ""
}

func (c *Controller) recordError() {
	if c.metrics != nil {
		c.metrics.RecordPlaybackError()
	}
}

func clampVolume(volume int) int {
	return min(max(volume, 0), 100)
}
