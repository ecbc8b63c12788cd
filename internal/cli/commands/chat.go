package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/skypro1111/voice-chat-client/internal/app"
	"github.com/skypro1111/voice-chat-client/internal/capture"
	"github.com/skypro1111/voice-chat-client/internal/cli/ui"
	"github.com/skypro1111/voice-chat-client/internal/playback"
	"github.com/skypro1111/voice-chat-client/internal/transport"
	"github.com/skypro1111/voice-chat-client/internal/voicechat"
)

var chatFile string

// chatCmd is the interactive conversation
var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "start an interactive voice conversation",
	Long: `Start an interactive voice conversation.

Press Enter to start recording and Enter again to send the message.
Type a line of text to send it as a typed message.

Commands:
  /replay N   play the audio of message N again
  /new        start a new conversation
  /load ID SESSION  load a stored conversation
  /volume N   set the volume (0-100)
  /mute       toggle mute
  /quit       leave`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	chatCmd.Flags().StringVarP(&chatFile, "file", "f", "", "use an audio file instead of the microphone")
}

func runChat(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var a *app.App
	a, err := app.New(cfg, logger, app.Options{
		CaptureFile: chatFile,
		OnMessage: func(msg voicechat.Message) {
			// numbered as /replay addresses it
			ui.PrintMessage(len(a.Conversation.Messages()), msg)
		},
	})
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Start(); err != nil {
		return err
	}

	sessionID, err := a.Conversation.Start(ctx)
	if err != nil {
		ui.PrintError("could not start the conversation: %v", err)
		return err
	}
	ui.PrintChatBanner(sessionID)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	muted := cfg.Playback.Muted
	for {
		select {
		case <-ctx.Done():
			fmt.Println()
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			// every keypress counts as a user interaction
			a.Gestures.Dispatch(playback.GestureKeyDown)

			quit, err := handleChatLine(ctx, a, strings.TrimSpace(line), &muted)
			if err != nil {
				printChatError(err)
			}
			if quit {
				return nil
			}
		case <-a.AutoStop():
			if !a.Conversation.Recording() {
				continue
			}
			ui.PrintInfo("silence detected, sending")
			exchange, err := a.Conversation.StopRecording(ctx)
			if err != nil {
				printChatError(err)
				continue
			}
			if exchange != nil && exchange.Warning != "" {
				ui.PrintWarning("%s", exchange.Warning)
			}
		}
	}
}

func handleChatLine(ctx context.Context, a *app.App, line string, muted *bool) (bool, error) {
	conv := a.Conversation

	switch {
	case line == "":
		wasRecording := conv.Recording()
		exchange, err := conv.ToggleRecording(ctx)
		if err != nil {
			return false, err
		}
		if !wasRecording {
			ui.PrintBold("● recording, press Enter to send")
			return false, nil
		}
		if exchange != nil && exchange.Warning != "" {
			ui.PrintWarning("%s", exchange.Warning)
		}
		return false, nil

	case line == "/quit" || line == "/exit":
		return true, nil

	case line == "/new":
		sessionID, err := conv.NewChat(ctx)
		if err == nil {
			ui.PrintInfo("new session %s", sessionID)
		}
		return false, err

	case strings.HasPrefix(line, "/load "):
		parts := strings.Fields(line)
		if len(parts) != 3 {
			return false, fmt.Errorf("usage: /load CONVERSATION_ID SESSION_ID")
		}
		if err := conv.LoadConversation(ctx, parts[1], parts[2]); err != nil {
			return false, err
		}
		for i, msg := range conv.Messages() {
			ui.PrintMessage(i+1, msg)
		}
		return false, nil

	case strings.HasPrefix(line, "/replay "):
		n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "/replay ")))
		messages := conv.Messages()
		if err != nil || n < 1 || n > len(messages) {
			return false, fmt.Errorf("usage: /replay N with N between 1 and %d", len(messages))
		}
		return false, conv.Replay(ctx, messages[n-1].ID)

	case strings.HasPrefix(line, "/volume "):
		v, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "/volume ")))
		if err != nil {
			return false, fmt.Errorf("usage: /volume 0-100")
		}
		a.Player.SetVolume(v)
		return false, nil

	case line == "/mute":
		*muted = !*muted
		a.Player.SetMuted(*muted)
		return false, nil

	case strings.HasPrefix(line, "/"):
		return false, fmt.Errorf("unknown command %s", line)

	default:
		_, err := conv.SendText(ctx, line)
		return false, err
	}
}

func printChatError(err error) {
	var terr *transport.TransportError
	switch {
	case errors.As(err, &terr) && terr.IsUnauthorized():
		ui.PrintError("the backend rejected the token, check VOICECHAT_BACKEND_TOKEN")
	case errors.As(err, &terr):
		ui.PrintError("Failed to send voice message. Please try again. (%v)", err)
	case errors.Is(err, capture.ErrPermissionDenied):
		ui.PrintError("microphone access was denied: %v", err)
	case errors.Is(err, capture.ErrNoDevice):
		ui.PrintError("no microphone available: %v", err)
	default:
		ui.PrintError("%v", err)
	}
}
