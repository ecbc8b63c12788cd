package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/skypro1111/voice-chat-client/internal/mockbackend"
)

func main() {
	var (
		addr    string
		token   string
		latency time.Duration
		tone    time.Duration
	)

	cmd := &cobra.Command{
		Use:          "mockbackend",
		Short:        "In-memory voice chat backend for local development",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

			backend := mockbackend.New(mockbackend.Config{
				Token:        token,
				Latency:      latency,
				ToneDuration: tone,
			}, logger)

			server := &http.Server{
				Addr:         addr,
				Handler:      backend.Handler(),
				ReadTimeout:  30 * time.Second,
				WriteTimeout: 30 * time.Second,
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = server.Shutdown(shutdownCtx)
			}()

			logger.Info("Mock backend listening",
				slog.String("address", addr),
				slog.String("base_url", "http://"+addr+"/api"),
			)
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			logger.Info("Mock backend stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "localhost:8000", "listen address")
	cmd.Flags().StringVar(&token, "token", "", "require this auth token")
	cmd.Flags().DurationVar(&latency, "latency", 200*time.Millisecond, "simulated processing time")
	cmd.Flags().DurationVar(&tone, "tone", 500*time.Millisecond, "length of the synthesized reply audio")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
