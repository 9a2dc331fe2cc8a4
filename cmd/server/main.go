package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	var configPath string

	rootCmd := &cobra.Command{
		Use:   "openchatroom",
		Short: "Multi-room real-time chat server",
		Long: `OpenChatRoom serves the chat REST API and the room WebSocket endpoint.

Run several instances against the same Redis to share rooms, presence
and rate limits across processes.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file (default ./config.yaml if present)")

	rootCmd.AddCommand(
		serveCmd(&configPath),
		migrateCmd(&configPath),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
