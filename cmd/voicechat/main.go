package main

import (
	"os"

	"github.com/skypro1111/voice-chat-client/internal/cli/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
