package vad

import (
	"fmt"
	"math"
	"sync"
	"time"
)

// fullScaleRMS is the RMS energy mapped to a voice probability of 1
const fullScaleRMS = 10000.0

// Event marks a transition reported by Process
type Event int

const (
	EventNone Event = iota
	// EventSpeechStart fires once speech has lasted MinSpeech
	EventSpeechStart
	// EventSpeechEnd fires once speech is followed by SilenceTimeout of silence
	EventSpeechEnd
)

func (e Event) String() string {
	switch e {
	case EventSpeechStart:
		return "speech_start"
	case EventSpeechEnd:
		return "speech_end"
	default:
		return "none"
	}
}

// Config contains detector parameters
type Config struct {
	// Threshold is the voice probability in [0, 1] above which a frame is speech
	Threshold      float32
	SampleRate     int
	MinSpeech      time.Duration
	SilenceTimeout time.Duration
}

// Result is the outcome of processing one frame
type Result struct {
	Probability float32 `json:"probability"`
	HasVoice    bool    `json:"has_voice"`
	Event       Event   `json:"event"`
}

// Stats represents detector statistics
type Stats struct {
	TotalFrames     uint64  `json:"total_frames"`
	VoiceFrames     uint64  `json:"voice_frames"`
	VoicePercentage float64 `json:"voice_percentage"`
	Speaking        bool    `json:"speaking"`
	Utterances      uint64  `json:"utterances"`
	Threshold       float32 `json:"threshold"`
}

// Detector is an energy-based voice activity detector that reports the end
// of an utterance. Durations are measured in samples, so results do not
// depend on how fast frames arrive.
type Detector struct {
	threshold      float32
	sampleRate     int
	minSpeech      int // samples
	silenceTimeout int // samples
	smoothing      float32

	lastResult     float32
	speaking       bool
	speechSamples  int
	silenceSamples int

	totalFrames uint64
	voiceFrames uint64
	utterances  uint64

	mu sync.Mutex
}

// NewDetector creates a detector
func NewDetector(config Config) (*Detector, error) {
	if config.Threshold < 0 || config.Threshold > 1 {
		return nil, fmt.Errorf("threshold must be between 0 and 1, got %f", config.Threshold)
	}
	if config.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", config.SampleRate)
	}
	if config.SilenceTimeout <= 0 {
		return nil, fmt.Errorf("silence timeout must be positive, got %s", config.SilenceTimeout)
	}

	return &Detector{
		threshold:      config.Threshold,
		sampleRate:     config.SampleRate,
		minSpeech:      durationToSamples(config.MinSpeech, config.SampleRate),
		silenceTimeout: durationToSamples(config.SilenceTimeout, config.SampleRate),
		smoothing:      0.5,
	}, nil
}

// Process classifies a frame of mono PCM-16 samples
func (d *Detector) Process(samples []int16) Result {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(samples) == 0 {
		return Result{Probability: d.lastResult, HasVoice: d.lastResult >= d.threshold}
	}

	probability := frameProbability(samples)
	if d.totalFrames > 0 {
		probability = d.smoothing*probability + (1-d.smoothing)*d.lastResult
	}
	d.lastResult = probability

	hasVoice := probability >= d.threshold
	d.totalFrames++
	result := Result{Probability: probability, HasVoice: hasVoice}

	if hasVoice {
		d.voiceFrames++
		d.silenceSamples = 0
		d.speechSamples += len(samples)
		if !d.speaking && d.speechSamples >= d.minSpeech {
			d.speaking = true
			result.Event = EventSpeechStart
		}
		return result
	}

	d.speechSamples = 0
	if !d.speaking {
		return result
	}

	d.silenceSamples += len(samples)
	if d.silenceSamples >= d.silenceTimeout {
		d.speaking = false
		d.silenceSamples = 0
		d.utterances++
		result.Event = EventSpeechEnd
	}
	return result
}

// Reset clears the utterance state, keeping the counters
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.lastResult = 0
	d.speaking = false
	d.speechSamples = 0
	d.silenceSamples = 0
}

// Speaking reports whether an utterance is in progress
func (d *Detector) Speaking() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.speaking
}

// GetStats returns detector statistics
func (d *Detector) GetStats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()

	voicePercentage := float64(0)
	if d.totalFrames > 0 {
		voicePercentage = float64(d.voiceFrames) / float64(d.totalFrames) * 100
	}

	return Stats{
		TotalFrames:     d.totalFrames,
		VoiceFrames:     d.voiceFrames,
		VoicePercentage: voicePercentage,
		Speaking:        d.speaking,
		Utterances:      d.utterances,
		Threshold:       d.threshold,
	}
}

// frameProbability maps the RMS energy of a frame to [0, 1]
func frameProbability(samples []int16) float32 {
	var energy float64
	for _, sample := range samples {
		energy += float64(sample) * float64(sample)
	}
	energy = math.Sqrt(energy / float64(len(samples)))

	return float32(math.Min(energy/fullScaleRMS, 1))
}

func durationToSamples(d time.Duration, sampleRate int) int {
	return int(d.Seconds() * float64(sampleRate))
}
