package commands

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	"github.com/skypro1111/voice-chat-client/internal/cli/ui"
)

// historyCmd shows stored conversations
var historyCmd = &cobra.Command{
	Use:   "history [CONVERSATION_ID]",
	Short: "show past voice conversations, or the messages of one",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newBackendClient()
		if err != nil {
			return err
		}

		if len(args) == 1 {
			messages, err := client.ConversationHistory(cmd.Context(), args[0])
			if err != nil {
				ui.PrintError("failed to load conversation %s: %v", args[0], err)
				return err
			}
			rows := make([][]string, 0, len(messages))
			for _, m := range messages {
				rows = append(rows, []string{m.CreatedAt, m.Sender, m.Content, m.AudioURL})
			}
			return ui.Table(os.Stdout, []string{"TIME", "SENDER", "CONTENT", "AUDIO"}, rows)
		}

		entries, err := client.VoiceHistory(cmd.Context())
		if err != nil {
			ui.PrintError("failed to load voice history: %v", err)
			return err
		}
		if len(entries) == 0 {
			ui.PrintInfo("no voice conversations yet")
			return nil
		}

		// entries are loosely typed; print the union of their keys
		keySet := map[string]bool{}
		for _, e := range entries {
			for k := range e {
				keySet[k] = true
			}
		}
		keys := make([]string, 0, len(keySet))
		for k := range keySet {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		rows := make([][]string, 0, len(entries))
		for _, e := range entries {
			row := make([]string, len(keys))
			for i, k := range keys {
				if v, ok := e[k]; ok && v != nil {
					row[i] = fmt.Sprint(v)
				}
			}
			rows = append(rows, row)
		}
		return ui.Table(os.Stdout, keys, rows)
	},
}
