package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dwizi/rapport/internal/app"
	"github.com/dwizi/rapport/internal/config"
)

func NewRoot(logger *slog.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:           "rapport",
		Short:         "Rapport is an adaptive conversational agent runtime",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newServeCommand(logger))
	root.AddCommand(newMCPCommand())
	root.AddCommand(newChatCommand(logger))
	root.AddCommand(newClassifyCommand(logger))
	root.AddCommand(newProfileCommand())
	root.AddCommand(newDecayCommand())
	root.AddCommand(newStatusCommand())
	root.AddCommand(newVersionCommand())

	return root
}

func newServeCommand(logger *slog.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, summary workers and decay scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.FromEnv()
			runtime, err := app.New(cfg, logger)
			if err != nil {
				return err
			}
			defer runtime.Close()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return runtime.Run(ctx)
		},
	}
}

// newMCPCommand logs to stderr because stdout carries the protocol.
func newMCPCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the conversation pipeline as MCP tools over stdio",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.FromEnv()
			logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: ParseLevel(cfg.LogLevel)}))
			runtime, err := app.New(cfg, logger)
			if err != nil {
				return err
			}
			defer runtime.Close()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return runtime.ServeMCP(ctx)
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print CLI version",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println(app.Version)
		},
	}
}

// ParseLevel maps a configured level name onto slog, defaulting to info.
func ParseLevel(value string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(value)); err != nil {
		return slog.LevelInfo
	}
	return level
}
