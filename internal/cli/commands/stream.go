package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/skypro1111/voice-chat-client/internal/cli/ui"
	"github.com/skypro1111/voice-chat-client/internal/transport"
)

var streamOpts struct {
	file      string
	sessionID string
	wait      time.Duration
}

// streamCmd pushes an audio file through the real-time voice stream
var streamCmd = &cobra.Command{
	Use:   "stream",
	Short: "send an audio file over the real-time voice stream",
	Example: `  $ voicechat stream --file question.wav
  $ voicechat stream --file question.wav --session voice_1234`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		client, err := newBackendClient()
		if err != nil {
			return err
		}

		sessionID := streamOpts.sessionID
		if sessionID == "" {
			sessionID = cfg.Backend.SessionID
		}
		if sessionID == "" {
			sessionID = "voice_" + uuid.NewString()
		}

		file, err := os.Open(streamOpts.file)
		if err != nil {
			return fmt.Errorf("failed to open audio file: %w", err)
		}
		defer file.Close()

		events, err := streamAudio(ctx, client, sessionID, file, cfg.Capture.FileChunkSize, streamOpts.wait)
		for _, e := range events {
			ui.PrintInfo("%s %s", e.Type, string(e.Raw))
		}
		if err != nil {
			printChatError(err)
			return err
		}
		ui.PrintSuccess("streamed %s in session %s", streamOpts.file, sessionID)
		return nil
	},
}

func init() {
	streamCmd.Flags().StringVarP(&streamOpts.file, "file", "f", "", "audio file to stream")
	streamCmd.Flags().StringVar(&streamOpts.sessionID, "session", "", "session id (default: configured or new)")
	streamCmd.Flags().DurationVar(&streamOpts.wait, "wait", 2*time.Second, "how long to collect events after the last fragment")
	_ = streamCmd.MarkFlagRequired("file")
}

// streamAudio sends r in fragments of chunkSize bytes, marks the end of the
// audio and collects the events the backend pushes until it completes the
// stream or has been quiet for wait.
func streamAudio(ctx context.Context, client *transport.Client, sessionID string, r io.Reader, chunkSize int, wait time.Duration) ([]transport.StreamEvent, error) {
	stream, err := client.DialStream(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	buf := make([]byte, chunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if sendErr := stream.SendAudio(buf[:n]); sendErr != nil {
				return nil, sendErr
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read audio: %w", err)
		}
	}

	if err := stream.SendJSON(map[string]string{"type": transport.StreamEndOfAudio}); err != nil {
		return nil, err
	}

	var events []transport.StreamEvent
	timer := time.NewTimer(wait)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return events, ctx.Err()
		case <-timer.C:
			return events, nil
		case e, ok := <-stream.Events():
			if !ok {
				return events, nil
			}
			events = append(events, e)
			if e.Type == transport.StreamComplete {
				return events, nil
			}
			timer.Reset(wait)
		}
	}
}
