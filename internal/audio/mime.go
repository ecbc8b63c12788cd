package audio

import (
	"mime"
	"path/filepath"
	"strings"
)

// MimeMPEG is assumed for decoded reply audio whose type the backend does not state
const MimeMPEG = "audio/mpeg"

var extensionsByMime = map[string]string{
	"audio/webm":   "webm",
	"audio/wav":    "wav",
	"audio/wave":   "wav",
	"audio/x-wav":  "wav",
	"audio/mpeg":   "mp3",
	"audio/mp3":    "mp3",
	"audio/ogg":    "ogg",
	"audio/mp4":    "m4a",
	"audio/x-m4a":  "m4a",
	"audio/flac":   "flac",
	"audio/x-flac": "flac",
}

var mimesByExtension = map[string]string{
	"webm": "audio/webm",
	"wav":  MimeWAV,
	"mp3":  MimeMPEG,
	"ogg":  "audio/ogg",
	"m4a":  "audio/mp4",
	"flac": "audio/flac",
}

// BaseMimeType strips parameters such as ";codecs=opus" and lower-cases the type
func BaseMimeType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType, _, _ = strings.Cut(contentType, ";")
	}
	return strings.ToLower(strings.TrimSpace(mediaType))
}

// ExtensionForMime returns the file extension (without dot) for an audio content type
func ExtensionForMime(contentType string) string {
	if ext, ok := extensionsByMime[BaseMimeType(contentType)]; ok {
		return ext
	}
	return "bin"
}

// MimeForFilename guesses an audio content type from a file name
func MimeForFilename(name string) string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	if m, ok := mimesByExtension[ext]; ok {
		return m
	}
	return "application/octet-stream"
}

// SniffMimeType inspects magic bytes and falls back to the given type
func SniffMimeType(data []byte, fallback string) string {
	switch {
	case IsWAV(data):
		return MimeWAV
	case len(data) >= 4 && string(data[:4]) == "OggS":
		return "audio/ogg"
	case len(data) >= 4 && string(data[:4]) == "fLaC":
		return "audio/flac"
	case len(data) >= 4 && data[0] == 0x1A && data[1] == 0x45 && data[2] == 0xDF && data[3] == 0xA3:
		return "audio/webm"
	case IsMP3(data):
		return MimeMPEG
	}
	return fallback
}
