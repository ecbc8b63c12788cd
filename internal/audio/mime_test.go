package audio

import "testing"

func TestExtensionForMime(t *testing.T) {
	tests := map[string]string{
		"audio/webm":             "webm",
		"audio/webm;codecs=opus": "webm",
		"audio/WAV":              "wav",
		"audio/mpeg":             "mp3",
		"video/mp4":              "bin",
		"":                       "bin",
	}

	for in, want := range tests {
		if got := ExtensionForMime(in); got != want {
			t.Errorf("ExtensionForMime(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMimeForFilename(t *testing.T) {
	tests := map[string]string{
		"reply.mp3":          "audio/mpeg",
		"/tmp/Recording.WAV": "audio/wav",
		"clip.webm":          "audio/webm",
		"notes.txt":          "application/octet-stream",
	}

	for in, want := range tests {
		if got := MimeForFilename(in); got != want {
			t.Errorf("MimeForFilename(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestSniffMimeType(t *testing.T) {
	wav, err := EncodeWAV([]byte{0, 0, 1, 0}, 8000, 1)
	if err != nil {
		t.Fatalf("Failed to encode WAV: %v", err)
	}

	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"wav", wav, "audio/wav"},
		{"id3 mp3", []byte("ID3\x04\x00"), "audio/mpeg"},
		{"mpeg frame sync", []byte{0xFF, 0xFB, 0x90, 0x00}, "audio/mpeg"},
		{"ogg", []byte("OggS\x00\x02"), "audio/ogg"},
		{"webm", []byte{0x1A, 0x45, 0xDF, 0xA3, 0x01}, "audio/webm"},
		{"unknown", []byte("hello"), "fallback/type"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SniffMimeType(tt.data, "fallback/type"); got != tt.want {
				t.Errorf("SniffMimeType = %q, want %q", got, tt.want)
			}
		})
	}
}
