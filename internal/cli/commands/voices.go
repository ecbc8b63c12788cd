package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/skypro1111/voice-chat-client/internal/app"
	"github.com/skypro1111/voice-chat-client/internal/cli/ui"
	"github.com/skypro1111/voice-chat-client/internal/transport"
)

// voicesCmd lists the voices the backend offers
var voicesCmd = &cobra.Command{
	Use:   "voices",
	Short: "list available voices",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newBackendClient()
		if err != nil {
			return err
		}

		voices, err := client.ListVoices(cmd.Context())
		if err != nil {
			ui.PrintError("failed to list voices: %v", err)
			return err
		}
		if len(voices) == 0 {
			ui.PrintInfo("the backend offers no voices")
			return nil
		}

		rows := make([][]string, 0, len(voices))
		for _, v := range voices {
			id := v.ID
			if id == cfg.Backend.VoiceID {
				id += " *"
			}
			rows = append(rows, []string{id, v.Name, v.Language, v.Gender, v.Description})
		}
		return ui.Table(os.Stdout, []string{"ID", "NAME", "LANGUAGE", "GENDER", "DESCRIPTION"}, rows)
	},
}

var testVoiceOpts struct {
	text string
}

// testVoiceCmd plays a sample sentence in a voice
var testVoiceCmd = &cobra.Command{
	Use:   "test-voice [VOICE_ID]",
	Short: "play a sample sentence with a voice",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		voiceID := cfg.Backend.VoiceID
		if len(args) == 1 {
			voiceID = args[0]
		}

		a, err := app.New(cfg, logger, app.Options{})
		if err != nil {
			return err
		}
		defer a.Close()
		a.Speaker.Unlock()

		sample, err := a.Client.TestVoice(ctx, voiceID, testVoiceOpts.text)
		if err != nil {
			ui.PrintError("failed to synthesize a sample: %v", err)
			return err
		}
		if _, err := a.Player.PlayPayload(ctx, sample); err != nil {
			ui.PrintError("failed to play the sample: %v", err)
			return err
		}
		ui.PrintSuccess("playing voice %s", voiceID)

		waitCtx, cancel := context.WithTimeout(ctx, time.Minute)
		defer cancel()
		return a.WaitForPlayback(waitCtx)
	},
}

func init() {
	testVoiceCmd.Flags().StringVar(&testVoiceOpts.text, "text", "Hello! This is how I sound.", "sentence to synthesize")
}

func newBackendClient() (*transport.Client, error) {
	client, err := transport.NewClient(transport.Config{
		BaseURL:   cfg.Backend.BaseURL,
		Token:     cfg.Backend.Token,
		Timeout:   cfg.Backend.GetTimeoutDuration(),
		UserAgent: cfg.Backend.UserAgent,
	}, logger, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create backend client: %w", err)
	}
	return client, nil
}
