package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/skypro1111/voice-chat-client/internal/audio"
)

// FileSource replays an audio file as a capture stream. The whole file is
// delivered as fixed-size fragments when the stream starts.
type FileSource struct {
	Path      string
	ChunkSize int
	// MimeType overrides the type guessed from the file name and contents
	MimeType string
}

// Open opens the file. A missing file is reported as ErrNoDevice.
func (f *FileSource) Open(ctx context.Context) (Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	file, err := os.Open(f.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNoDevice, f.Path)
		}
		if errors.Is(err, os.ErrPermission) {
			return nil, fmt.Errorf("%w: %s", ErrPermissionDenied, f.Path)
		}
		return nil, fmt.Errorf("failed to open %s: %w", f.Path, err)
	}

	chunkSize := f.ChunkSize
	if chunkSize <= 0 {
		chunkSize = 4096
	}

	mimeType := f.MimeType
	if mimeType == "" {
		mimeType = f.detectMimeType(file)
	}

	return &fileStream{file: file, chunkSize: chunkSize, mimeType: mimeType}, nil
}

func (f *FileSource) detectMimeType(file *os.File) string {
	guess := audio.MimeForFilename(f.Path)
	if guess != "application/octet-stream" {
		return guess
	}

	head := make([]byte, 16)
	n, _ := io.ReadFull(file, head)
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return DefaultMimeType
	}
	return audio.SniffMimeType(head[:n], DefaultMimeType)
}

type fileStream struct {
	file      *os.File
	chunkSize int
	mimeType  string

	closeOnce sync.Once
	closeErr  error
}

func (s *fileStream) MimeType() string { return s.mimeType }

func (s *fileStream) Start(onData func([]byte)) error {
	buf := make([]byte, s.chunkSize)
	for {
		n, err := s.file.Read(buf)
		if n > 0 {
			onData(buf[:n])
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read audio file: %w", err)
		}
	}
}

func (s *fileStream) Stop() error { return nil }

func (s *fileStream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.file.Close()
	})
	return s.closeErr
}
