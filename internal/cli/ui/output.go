package ui

import (
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/fatih/color"

	"github.com/skypro1111/voice-chat-client/internal/voicechat"
)

var (
	successColor = color.New(color.FgGreen, color.Bold)
	errorColor   = color.New(color.FgRed, color.Bold)
	warningColor = color.New(color.FgYellow, color.Bold)
	infoColor    = color.New(color.FgCyan)
	boldColor    = color.New(color.Bold)
	userColor    = color.New(color.FgBlue, color.Bold)
	aiColor      = color.New(color.FgMagenta, color.Bold)
	dimColor     = color.New(color.Faint)
)

// PrintSuccess prints a success message
func PrintSuccess(format string, args ...any) {
	successColor.Printf("✓ %s\n", fmt.Sprintf(format, args...))
}

// PrintError prints an error message to stderr
func PrintError(format string, args ...any) {
	errorColor.Fprintf(os.Stderr, "✗ %s\n", fmt.Sprintf(format, args...))
}

// PrintWarning prints a warning message
func PrintWarning(format string, args ...any) {
	warningColor.Printf("⚠ %s\n", fmt.Sprintf(format, args...))
}

// PrintInfo prints an info message
func PrintInfo(format string, args ...any) {
	infoColor.Printf("ℹ %s\n", fmt.Sprintf(format, args...))
}

// PrintBold prints a bold message
func PrintBold(format string, args ...any) {
	boldColor.Println(fmt.Sprintf(format, args...))
}

// PrintMessage renders one conversation message
func PrintMessage(index int, msg voicechat.Message) {
	label := aiColor
	if msg.Sender == voicechat.SenderUser {
		label = userColor
	}

	dimColor.Printf("[%d %s] ", index, msg.Timestamp.Format("15:04:05"))
	label.Printf("%s: ", msg.User)
	fmt.Print(msg.Content)
	if msg.AudioURL != "" {
		dimColor.Print("  ♪")
	}
	fmt.Println()
}

// PrintChatBanner prints the banner shown when chat mode starts
func PrintChatBanner(sessionID string) {
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("86")).
		Align(lipgloss.Center).
		Width(56)

	bannerStyle := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("86")).
		Padding(1, 2).
		Align(lipgloss.Center)

	body := titleStyle.Render("Voice Chat") + "\n\n" +
		"Enter to talk, Enter again to send\n" +
		"type text to chat, /quit to leave\n\n" +
		dimColor.Sprintf("session %s", sessionID)

	fmt.Println(bannerStyle.Render(body))
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
)

// Table writes rows as a bordered table
func Table(w io.Writer, header []string, rows [][]string) error {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(lipgloss.Color("240"))).
		Headers(header...).
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})

	_, err := fmt.Fprintln(w, t.Render())
	return err
}
