package commands

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/skypro1111/voice-chat-client/internal/config"
)

const version = "1.0.0"

const defaultConfigPath = "configs/config.yaml"

// globalFlags are shared by every subcommand
type globalFlags struct {
	configPath string
	envFile    string
	baseURL    string
	token      string
	logLevel   string
}

var (
	flags globalFlags

	// set by loadConfig before any subcommand runs
	cfg         *config.Config
	logger      *slog.Logger
	closeLogger = func() error { return nil }
)

// rootCmd is the root command
var rootCmd = &cobra.Command{
	Use:     "voicechat",
	Short:   "Voice chat client for the AI assistant backend",
	Version: version,
	Long: `A terminal client for the AI voice assistant. Records a voice message,
sends it to the backend in a single request, prints the transcript and the
assistant's reply and plays the reply audio.`,
	Example: `  # Start an interactive voice conversation
  $ voicechat chat

  # Send a prerecorded message
  $ voicechat send --file question.webm

  # List the available voices
  $ voicechat voices`,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		return closeLogger()
	},
}

// Execute executes the root command
func Execute() error {
	rootCmd.SetVersionTemplate(fmt.Sprintf("voicechat version %s\n", version))
	return rootCmd.Execute()
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&flags.configPath, "config", "c", defaultConfigPath, "path to configuration file")
	pf.StringVar(&flags.envFile, "env-file", ".env", "dotenv file loaded before the environment overrides")
	pf.StringVar(&flags.baseURL, "base-url", "", "backend API base URL, e.g. http://localhost:8000/api")
	pf.StringVar(&flags.token, "token", "", "backend auth token")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(voicesCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(testVoiceCmd)
	rootCmd.AddCommand(streamCmd)
}

// loadConfig reads the dotenv file, the config file and the flag overrides
func loadConfig(cmd *cobra.Command, args []string) error {
	if flags.envFile != "" {
		if err := godotenv.Load(flags.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", flags.envFile, err)
		}
	}

	loaded, err := config.LoadOrDefault(flags.configPath)
	if err != nil {
		return err
	}

	if flags.baseURL != "" {
		loaded.Backend.BaseURL = flags.baseURL
	}
	if flags.token != "" {
		loaded.Backend.Token = flags.token
	}
	if flags.logLevel != "" {
		loaded.Logging.Level = flags.logLevel
	}
	if err := loaded.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	cfg = loaded
	logger, closeLogger = initLogger(cfg.Logging)
	slog.SetDefault(logger)

	logger.Debug("Configuration loaded",
		slog.String("config_path", flags.configPath),
		slog.String("base_url", cfg.Backend.BaseURL),
		slog.String("voice_id", cfg.Backend.VoiceID),
		slog.String("capture_source", cfg.Capture.Source),
		slog.Bool("http_enabled", cfg.HTTP.Enabled),
	)
	return nil
}
