// Command auriance runs the Auriance health agent: an HTTP/WebSocket API with an
// optional WhatsApp or Twilio channel, and a terminal chat for local testing.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	// Initialize structured logger
	initializeLogger(false)

	// Load environment configuration
	config := loadEnvironmentConfig()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(&config).ExecuteContext(ctx); err != nil {
		slog.Error("Auriance failed to run", "error", err)
		stop()
		os.Exit(1)
	}
}

// newRootCmd builds the command tree over cfg, whose current values become flag defaults.
func newRootCmd(cfg *Config) *cobra.Command {
	root := &cobra.Command{
		Use:           "auriance",
		Short:         "Conversational health agent",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cfg.Debug {
				initializeLogger(true)
			}
			return cfg.finalize()
		},
	}
	bindFlags(root, cfg)

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the configured messaging channel",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), *cfg)
		},
	}
	bindServeFlags(serve, cfg)

	chat := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the agent in the terminal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := cmd.Flags().GetString("user")
			if err != nil {
				return err
			}
			return runChat(cmd.Context(), *cfg, cmd.InOrStdin(), cmd.OutOrStdout(), userID)
		},
	}
	chat.Flags().StringP("user", "u", "terminal", "user id the conversation is stored under")

	root.AddCommand(serve, chat)
	return root
}
