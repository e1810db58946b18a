package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	flagServer  string
	flagVerbose bool
)

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "roomcast",
		Short:         "Terminal client for roomcast conference rooms",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRun: func(*cobra.Command, []string) {
			level := slog.LevelWarn
			if flagVerbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		},
	}

	cmd.PersistentFlags().StringVar(&flagServer, "server", "ws://127.0.0.1:8080/ws", "signaling server websocket URL")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "debug logging")

	cmd.AddCommand(joinCmd())
	cmd.AddCommand(roomsCmd())
	return cmd
}
