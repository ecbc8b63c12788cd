// Package audio handles fragment buffering and format conversion for recorded audio.
// It keeps captured fragments in arrival order and wraps raw PCM as WAV for upload.
package audio
