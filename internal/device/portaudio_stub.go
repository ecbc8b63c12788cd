//go:build !portaudio

package device

// Initialize is a no-op without PortAudio
func Initialize() (terminate func() error, err error) {
	return func() error { return nil }, nil
}

// OpenDefaultInput always fails without PortAudio
func OpenDefaultInput(sampleRate, channels, framesPerBuffer int) (InputStream, error) {
	return nil, ErrUnavailable
}

// OpenDefaultOutput always fails without PortAudio
func OpenDefaultOutput(sampleRate, channels, framesPerBuffer int) (Sink, error) {
	return nil, ErrUnavailable
}
