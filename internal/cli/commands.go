package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dwizi/rapport/internal/adminclient"
	"github.com/dwizi/rapport/internal/classifier"
	"github.com/dwizi/rapport/internal/config"
)

func newClassifyCommand(logger *slog.Logger) *cobra.Command {
	var (
		previous string
		hour     int
		ordinal  int
		offline  bool
	)
	cmd := &cobra.Command{
		Use:   "classify <message>",
		Short: "Classify one message",
		Long:  "Classify a message through the running server, or locally with the rule and heuristic stages when --offline is set.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input := classifier.Input{
				Message:          strings.TrimSpace(strings.Join(args, " ")),
				PreviousQuestion: strings.TrimSpace(previous),
				MessageOrdinal:   ordinal,
				HourOfDay:        hour,
			}
			if input.HourOfDay < 0 {
				input.HourOfDay = time.Now().Hour()
			}
			if offline {
				return printJSON(cmd, classifier.New(nil, nil, classifier.Config{}, logger).Classify(commandContext(cmd), input))
			}
			client, err := adminclient.New(config.FromEnv())
			if err != nil {
				return err
			}
			result, err := client.Classify(commandContext(cmd), input)
			if err != nil {
				return err
			}
			return printJSON(cmd, result)
		},
	}
	cmd.Flags().StringVar(&previous, "previous", "", "question the message answers")
	cmd.Flags().IntVar(&hour, "hour", -1, "visitor local hour (defaults to now)")
	cmd.Flags().IntVar(&ordinal, "ordinal", 1, "position of the message in the conversation")
	cmd.Flags().BoolVar(&offline, "offline", false, "classify locally without the server or an llm")
	return cmd
}

func newProfileCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "profile <visitor-id>",
		Short: "Show a visitor's profile and strategy summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := adminclient.New(config.FromEnv())
			if err != nil {
				return err
			}
			view, err := client.Profile(commandContext(cmd), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, view)
		},
	}
}

func newDecayCommand() *cobra.Command {
	var last bool
	cmd := &cobra.Command{
		Use:   "decay",
		Short: "Run memory decay now, or show the last run",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := adminclient.New(config.FromEnv())
			if err != nil {
				return err
			}
			if last {
				run, err := client.LastDecay(commandContext(cmd))
				if err != nil {
					return err
				}
				return printJSON(cmd, run)
			}
			report, err := client.WithTimeout(10*time.Minute).Decay(commandContext(cmd))
			if err != nil {
				return err
			}
			cmd.Printf("scanned=%d tombstoned=%d kept=%d\n", report.Scanned, report.Tombstoned, report.Kept)
			return nil
		},
	}
	cmd.Flags().BoolVar(&last, "last", false, "show the most recent run instead of starting one")
	return cmd
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show component heartbeats",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := adminclient.New(config.FromEnv())
			if err != nil {
				return err
			}
			snapshot, err := client.Heartbeat(commandContext(cmd))
			if err != nil {
				return err
			}
			cmd.Printf("overall: %s\n", snapshot.Overall)
			writer := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(writer, "COMPONENT\tSTATE\tMESSAGE")
			for _, item := range snapshot.Components {
				message := item.Message
				if item.Error != "" {
					message = strings.TrimSpace(message + " (" + item.Error + ")")
				}
				fmt.Fprintf(writer, "%s\t%s\t%s\n", item.Name, item.State, message)
			}
			return writer.Flush()
		},
	}
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func printJSON(cmd *cobra.Command, payload any) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(payload)
}
