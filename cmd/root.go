package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "abstream",
	Short: "abstream transcodes audiobook chapters to HLS and serves them.",
	Run: func(cmd *cobra.Command, args []string) {
		// Default to the streaming server.
		runServer()
	},
}

// Execute executes the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
