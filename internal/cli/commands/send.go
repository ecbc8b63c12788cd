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
	"github.com/skypro1111/voice-chat-client/internal/voicechat"
)

var sendOpts struct {
	file   string
	noPlay bool
	wait   time.Duration
}

// sendCmd sends one prerecorded voice message
var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "send an audio file as a voice message",
	Example: `  $ voicechat send --file question.webm
  $ voicechat send --file question.wav --no-play`,
	Args: cobra.NoArgs,
	RunE: runSend,
}

func init() {
	sendCmd.Flags().StringVarP(&sendOpts.file, "file", "f", "", "audio file to send")
	sendCmd.Flags().BoolVar(&sendOpts.noPlay, "no-play", false, "do not play the reply audio")
	sendCmd.Flags().DurationVar(&sendOpts.wait, "wait", 2*time.Minute, "maximum time to wait for the reply audio to finish")
	_ = sendCmd.MarkFlagRequired("file")
}

func runSend(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if sendOpts.noPlay {
		cfg.Playback.Muted = true
	}

	var a *app.App
	a, err := app.New(cfg, logger, app.Options{
		CaptureFile: sendOpts.file,
		OnMessage: func(msg voicechat.Message) {
			ui.PrintMessage(len(a.Conversation.Messages()), msg)
		},
	})
	if err != nil {
		return err
	}
	defer a.Close()

	// running the command is the user interaction
	a.Speaker.Unlock()

	if _, err := a.Conversation.Start(ctx); err != nil {
		return err
	}
	if err := a.Conversation.StartRecording(ctx); err != nil {
		printChatError(err)
		return err
	}
	exchange, err := a.Conversation.StopRecording(ctx)
	if err != nil {
		printChatError(err)
		return err
	}
	if exchange == nil {
		return fmt.Errorf("nothing was recorded from %s", sendOpts.file)
	}
	if exchange.Warning != "" {
		ui.PrintWarning("%s", exchange.Warning)
	}

	if exchange.AIMessage == nil || exchange.AIMessage.AudioURL == "" || sendOpts.noPlay {
		return nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, sendOpts.wait)
	defer cancel()
	return a.WaitForPlayback(waitCtx)
}
