package capture

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStream emits the configured fragments when started
type fakeStream struct {
	mimeType  string
	fragments [][]byte
	startErr  error
	encode    func([]byte) ([]byte, error)

	mu      sync.Mutex
	onData  func([]byte)
	started bool
	stopped int
	closed  int
}

func (f *fakeStream) MimeType() string { return f.mimeType }

func (f *fakeStream) Start(onData func([]byte)) error {
	if f.startErr != nil {
		return f.startErr
	}
	f.mu.Lock()
	f.started = true
	f.onData = onData
	f.mu.Unlock()
	for _, fragment := range f.fragments {
		onData(fragment)
	}
	return nil
}

// push delivers a fragment after Start, like a device callback
func (f *fakeStream) push(fragment []byte) {
	f.mu.Lock()
	onData := f.onData
	f.mu.Unlock()
	onData(fragment)
}

func (f *fakeStream) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
	return nil
}

func (f *fakeStream) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeStream) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type encodingStream struct {
	*fakeStream
}

func (e encodingStream) Encode(data []byte) ([]byte, error) {
	return e.encode(data)
}

type fakeSource struct {
	streams []Stream
	err     error
	opens   int
}

func (s *fakeSource) Open(ctx context.Context) (Stream, error) {
	s.opens++
	if s.err != nil {
		return nil, s.err
	}
	stream := s.streams[0]
	if len(s.streams) > 1 {
		s.streams = s.streams[1:]
	}
	return stream, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRecordThreeChunksEndToEnd(t *testing.T) {
	stream := &fakeStream{
		mimeType: "audio/webm",
		fragments: [][]byte{
			bytes.Repeat([]byte{1}, 100),
			bytes.Repeat([]byte{2}, 200),
			bytes.Repeat([]byte{3}, 50),
		},
	}
	session := NewSession(&fakeSource{streams: []Stream{stream}}, Options{Logger: testLogger()})

	require.NoError(t, session.Start(context.Background()))
	assert.True(t, session.Active())

	rec, err := session.Stop()
	require.NoError(t, err)
	require.NotNil(t, rec)

	assert.Equal(t, 350, rec.Len())
	assert.Equal(t, "audio/webm", rec.MimeType)
	assert.Equal(t, 3, rec.Fragments)
	assert.Regexp(t, `^recording_\d+\.webm$`, rec.Filename)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, byte(1), rec.Data[0])
	assert.Equal(t, byte(2), rec.Data[100])
	assert.Equal(t, byte(3), rec.Data[349])

	assert.False(t, session.Active())
	assert.Equal(t, 1, stream.closeCount(), "device must be released on stop")
	assert.Equal(t, 0, session.GetStats().Buffer.TotalBytes, "fragments must be cleared after assembly")
}

func TestFragmentsAfterStartAreIncluded(t *testing.T) {
	stream := &fakeStream{mimeType: "audio/ogg"}
	session := NewSession(&fakeSource{streams: []Stream{stream}}, Options{Logger: testLogger()})

	require.NoError(t, session.Start(context.Background()))
	stream.push([]byte("abc"))
	stream.push(nil)
	stream.push([]byte("de"))

	rec, err := session.Stop()
	require.NoError(t, err)
	assert.Equal(t, []byte("abcde"), rec.Data)
	assert.Equal(t, 2, rec.Fragments)
}

func TestStartWhileActiveFails(t *testing.T) {
	stream := &fakeStream{mimeType: "audio/webm", fragments: [][]byte{{1}}}
	source := &fakeSource{streams: []Stream{stream}}
	session := NewSession(source, Options{Logger: testLogger()})

	require.NoError(t, session.Start(context.Background()))
	err := session.Start(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRecording)
	assert.Equal(t, 1, source.opens, "second start must not touch the device")
	assert.True(t, session.Active())
}

func TestStopWhenInactiveIsNoop(t *testing.T) {
	session := NewSession(&fakeSource{}, Options{Logger: testLogger()})

	rec, err := session.Stop()
	assert.NoError(t, err)
	assert.Nil(t, rec)

	stream := &fakeStream{mimeType: "audio/webm", fragments: [][]byte{{1}}}
	session = NewSession(&fakeSource{streams: []Stream{stream}}, Options{Logger: testLogger()})
	require.NoError(t, session.Start(context.Background()))
	_, err = session.Stop()
	require.NoError(t, err)

	rec, err = session.Stop()
	assert.NoError(t, err)
	assert.Nil(t, rec)
	assert.Equal(t, 1, stream.closeCount())
}

func TestAtMostOneActiveAcrossSequences(t *testing.T) {
	streams := make([]Stream, 0, 4)
	for i := 0; i < 4; i++ {
		streams = append(streams, &fakeStream{mimeType: "audio/webm", fragments: [][]byte{{byte(i)}}})
	}
	session := NewSession(&fakeSource{streams: streams}, Options{Logger: testLogger()})
	ctx := context.Background()

	ops := []string{"start", "start", "stop", "stop", "start", "stop", "start", "start", "stop"}
	finalized := 0
	for _, op := range ops {
		switch op {
		case "start":
			err := session.Start(ctx)
			if err != nil {
				assert.ErrorIs(t, err, ErrAlreadyRecording)
			}
			assert.True(t, session.Active())
		case "stop":
			rec, err := session.Stop()
			require.NoError(t, err)
			if rec != nil {
				finalized++
			}
			assert.False(t, session.Active())
		}
	}

	assert.Equal(t, 3, finalized)
	assert.Equal(t, uint64(3), session.GetStats().Recordings)
}

func TestPermissionErrorIsReported(t *testing.T) {
	tests := []struct {
		name  string
		cause error
	}{
		{"denied", ErrPermissionDenied},
		{"no device", ErrNoDevice},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			session := NewSession(&fakeSource{err: tt.cause}, Options{Logger: testLogger()})

			err := session.Start(context.Background())
			var permErr *PermissionError
			require.ErrorAs(t, err, &permErr)
			assert.ErrorIs(t, err, tt.cause)
			assert.False(t, session.Active())
			assert.Equal(t, uint64(1), session.GetStats().Failures)

			// The pipeline must accept a later attempt
			session.source = &fakeSource{streams: []Stream{&fakeStream{mimeType: "audio/webm", fragments: [][]byte{{1}}}}}
			assert.NoError(t, session.Start(context.Background()))
		})
	}
}

func TestStreamStartFailureReleasesDevice(t *testing.T) {
	stream := &fakeStream{mimeType: "audio/webm", startErr: errors.New("device busy")}
	session := NewSession(&fakeSource{streams: []Stream{stream}}, Options{Logger: testLogger()})

	err := session.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, 1, stream.closeCount())
	assert.False(t, session.Active())
}

func TestEmptyRecordingReleasesDevice(t *testing.T) {
	stream := &fakeStream{mimeType: "audio/webm"}
	session := NewSession(&fakeSource{streams: []Stream{stream}}, Options{Logger: testLogger()})

	require.NoError(t, session.Start(context.Background()))
	rec, err := session.Stop()
	assert.ErrorIs(t, err, ErrEmptyRecording)
	assert.Nil(t, rec)
	assert.Equal(t, 1, stream.closeCount())
	assert.False(t, session.Active())
}

func TestEncoderWrapsAssembledData(t *testing.T) {
	base := &fakeStream{
		mimeType:  "audio/wav",
		fragments: [][]byte{{1, 2}, {3, 4}},
		encode: func(data []byte) ([]byte, error) {
			return append([]byte("HDR"), data...), nil
		},
	}
	session := NewSession(&fakeSource{streams: []Stream{encodingStream{base}}}, Options{Logger: testLogger()})

	require.NoError(t, session.Start(context.Background()))
	rec, err := session.Stop()
	require.NoError(t, err)
	assert.Equal(t, []byte("HDR\x01\x02\x03\x04"), rec.Data)
	assert.Regexp(t, `\.wav$`, rec.Filename)
}

func TestOnFinalizeRunsOncePerRecording(t *testing.T) {
	var finalized []*Recording
	stream := &fakeStream{mimeType: "audio/webm", fragments: [][]byte{{1}}}
	session := NewSession(&fakeSource{streams: []Stream{stream}}, Options{
		Logger:     testLogger(),
		OnFinalize: func(r *Recording) { finalized = append(finalized, r) },
	})

	require.NoError(t, session.Start(context.Background()))
	rec, err := session.Stop()
	require.NoError(t, err)
	_, _ = session.Stop()

	require.Len(t, finalized, 1)
	assert.Same(t, rec, finalized[0])
}

func TestCloseReleasesActiveRecording(t *testing.T) {
	stream := &fakeStream{mimeType: "audio/webm", fragments: [][]byte{{1}}}
	session := NewSession(&fakeSource{streams: []Stream{stream}}, Options{Logger: testLogger()})

	require.NoError(t, session.Start(context.Background()))
	require.NoError(t, session.Close())

	assert.False(t, session.Active())
	assert.Equal(t, 1, stream.closeCount())
	assert.ErrorIs(t, session.Start(context.Background()), ErrClosed)

	// Idempotent
	assert.NoError(t, session.Close())
}

func TestFileSourceDeliversWholeFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "question.mp3")
	content := bytes.Repeat([]byte("0123456789"), 100)
	require.NoError(t, os.WriteFile(path, content, 0644))

	session := NewSession(&FileSource{Path: path, ChunkSize: 64}, Options{Logger: testLogger()})
	require.NoError(t, session.Start(context.Background()))
	rec, err := session.Stop()
	require.NoError(t, err)

	assert.Equal(t, content, rec.Data)
	assert.Equal(t, "audio/mpeg", rec.MimeType)
	assert.Equal(t, 16, rec.Fragments) // ceil(1000/64)
}

func TestFileSourceMissingFile(t *testing.T) {
	session := NewSession(&FileSource{Path: filepath.Join(t.TempDir(), "missing.webm")}, Options{Logger: testLogger()})

	err := session.Start(context.Background())
	var permErr *PermissionError
	require.ErrorAs(t, err, &permErr)
	assert.ErrorIs(t, err, ErrNoDevice)
}
