package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is prepended to every environment override, e.g. VOICECHAT_BACKEND_TOKEN.
const EnvPrefix = "VOICECHAT_"

// Config represents the complete client configuration
type Config struct {
	Backend  BackendConfig  `yaml:"backend" envPrefix:"BACKEND_"`
	Capture  CaptureConfig  `yaml:"capture" envPrefix:"CAPTURE_"`
	Playback PlaybackConfig `yaml:"playback" envPrefix:"PLAYBACK_"`
	HTTP     HTTPConfig     `yaml:"http" envPrefix:"HTTP_"`
	Logging  LoggingConfig  `yaml:"logging" envPrefix:"LOGGING_"`
}

// BackendConfig contains the REST backend connection parameters
type BackendConfig struct {
	BaseURL   string `yaml:"base_url" env:"BASE_URL"`
	Token     string `yaml:"token" env:"TOKEN"`
	Timeout   int    `yaml:"timeout" env:"TIMEOUT"` // seconds
	VoiceID   string `yaml:"voice_id" env:"VOICE_ID"`
	SessionID string `yaml:"session_id" env:"SESSION_ID"`
	UserAgent string `yaml:"user_agent" env:"USER_AGENT"`
}

// CaptureConfig contains microphone capture parameters
type CaptureConfig struct {
	Source          string `yaml:"source" env:"SOURCE"` // "portaudio" or "file"
	SampleRate      int    `yaml:"sample_rate" env:"SAMPLE_RATE"`
	Channels        int    `yaml:"channels" env:"CHANNELS"`
	FramesPerBuffer int    `yaml:"frames_per_buffer" env:"FRAMES_PER_BUFFER"`
	FileChunkSize   int    `yaml:"file_chunk_size" env:"FILE_CHUNK_SIZE"` // bytes
	// AutoStopSilence ends a microphone recording after this much silence
	// following speech; 0 disables hands-free mode
	AutoStopSilence int     `yaml:"auto_stop_silence_ms" env:"AUTO_STOP_SILENCE_MS"`
	MinSpeech       int     `yaml:"min_speech_ms" env:"MIN_SPEECH_MS"`
	VADThreshold    float64 `yaml:"vad_threshold" env:"VAD_THRESHOLD"`
}

// PlaybackConfig contains audio output parameters
type PlaybackConfig struct {
	Volume             int    `yaml:"volume" env:"VOLUME"` // 0-100
	Muted              bool   `yaml:"muted" env:"MUTED"`
	RequireUserGesture bool   `yaml:"require_user_gesture" env:"REQUIRE_USER_GESTURE"`
	MinBase64Length    int    `yaml:"min_base64_length" env:"MIN_BASE64_LENGTH"`
	DefaultMimeType    string `yaml:"default_mime_type" env:"DEFAULT_MIME_TYPE"`
	FramesPerBuffer    int    `yaml:"frames_per_buffer" env:"FRAMES_PER_BUFFER"`
}

// HTTPConfig contains the monitoring HTTP server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port" env:"PORT"`
	Address string `yaml:"address" env:"ADDRESS"`
	Enabled bool   `yaml:"enabled" env:"ENABLED"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" env:"LEVEL"`
	Format string `yaml:"format" env:"FORMAT"`
	Output string `yaml:"output" env:"OUTPUT"`
}

// Default returns a configuration suitable for a local backend
func Default() *Config {
	return &Config{
		Backend: BackendConfig{
			BaseURL:   "http://localhost:8000/api",
			Timeout:   60,
			VoiceID:   "default",
			UserAgent: "voice-chat-client/1.0",
		},
		Capture: CaptureConfig{
			Source:          "portaudio",
			SampleRate:      16000,
			Channels:        1,
			FramesPerBuffer: 1024,
			FileChunkSize:   4096,
			MinSpeech:       250,
			VADThreshold:    0.05,
		},
		Playback: PlaybackConfig{
			Volume:             80,
			RequireUserGesture: true,
			MinBase64Length:    100,
			DefaultMimeType:    "audio/mpeg",
			FramesPerBuffer:    2048,
		},
		HTTP: HTTPConfig{
			Port:    9090,
			Address: "127.0.0.1",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// Load reads the configuration file, applies environment overrides and validates the result.
// Keys missing from the file keep their Default values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.ApplyEnv(); err != nil {
		return nil, err
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// LoadOrDefault behaves like Load, but falls back to Default plus environment
// overrides when path does not exist.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		config := Default()
		if err := config.ApplyEnv(); err != nil {
			return nil, err
		}
		if err := config.Validate(); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
		return config, nil
	}
	return Load(path)
}

// ApplyEnv overrides fields from VOICECHAT_* environment variables
func (c *Config) ApplyEnv() error {
	if err := env.ParseWithOptions(c, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("failed to apply environment overrides: %w", err)
	}
	return nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Backend.Validate(); err != nil {
		return fmt.Errorf("backend config: %w", err)
	}

	if err := c.Capture.Validate(); err != nil {
		return fmt.Errorf("capture config: %w", err)
	}

	if err := c.Playback.Validate(); err != nil {
		return fmt.Errorf("playback config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates backend configuration
func (b *BackendConfig) Validate() error {
	if b.BaseURL == "" {
		return fmt.Errorf("base_url cannot be empty")
	}

	u, err := url.Parse(b.BaseURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("base_url must be an absolute http(s) URL, got '%s'", b.BaseURL)
	}

	if b.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", b.Timeout)
	}

	if b.VoiceID == "" {
		return fmt.Errorf("voice_id cannot be empty")
	}

	return nil
}

// Validate validates capture configuration
func (c *CaptureConfig) Validate() error {
	validSources := map[string]bool{"portaudio": true, "file": true}
	if !validSources[c.Source] {
		return fmt.Errorf("source must be 'portaudio' or 'file', got '%s'", c.Source)
	}

	if c.SampleRate < 8000 || c.SampleRate > 48000 {
		return fmt.Errorf("sample_rate must be between 8000 and 48000 Hz, got %d", c.SampleRate)
	}

	if c.Channels != 1 && c.Channels != 2 {
		return fmt.Errorf("channels must be 1 or 2, got %d", c.Channels)
	}

	if c.FramesPerBuffer < 64 {
		return fmt.Errorf("frames_per_buffer must be at least 64, got %d", c.FramesPerBuffer)
	}

	if c.FileChunkSize < 1 {
		return fmt.Errorf("file_chunk_size must be positive, got %d", c.FileChunkSize)
	}

	if c.AutoStopSilence < 0 {
		return fmt.Errorf("auto_stop_silence_ms cannot be negative, got %d", c.AutoStopSilence)
	}

	if c.MinSpeech < 0 {
		return fmt.Errorf("min_speech_ms cannot be negative, got %d", c.MinSpeech)
	}

	if c.VADThreshold < 0 || c.VADThreshold > 1 {
		return fmt.Errorf("vad_threshold must be between 0 and 1, got %f", c.VADThreshold)
	}

	return nil
}

// Validate validates playback configuration
func (p *PlaybackConfig) Validate() error {
	if p.Volume < 0 || p.Volume > 100 {
		return fmt.Errorf("volume must be between 0 and 100, got %d", p.Volume)
	}

	if p.MinBase64Length < 0 {
		return fmt.Errorf("min_base64_length cannot be negative, got %d", p.MinBase64Length)
	}

	if p.DefaultMimeType == "" {
		return fmt.Errorf("default_mime_type cannot be empty")
	}

	if p.FramesPerBuffer < 64 {
		return fmt.Errorf("frames_per_buffer must be at least 64, got %d", p.FramesPerBuffer)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	// Anything other than stdout/stderr is treated as a file path.
	return nil
}

// GetTimeoutDuration returns the backend request timeout as a time.Duration
func (b *BackendConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(b.Timeout) * time.Second
}

// GetAutoStopSilence returns the hands-free silence timeout, 0 when disabled
func (c *CaptureConfig) GetAutoStopSilence() time.Duration {
	return time.Duration(c.AutoStopSilence) * time.Millisecond
}

// GetMinSpeech returns the shortest sound counted as speech
func (c *CaptureConfig) GetMinSpeech() time.Duration {
	return time.Duration(c.MinSpeech) * time.Millisecond
}

// GetVolumeFraction returns the effective output gain in [0, 1]
func (p *PlaybackConfig) GetVolumeFraction() float64 {
	if p.Muted {
		return 0
	}
	return float64(p.Volume) / 100
}
