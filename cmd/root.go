package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var version = "dev"

var (
	configPath string
	logLevel   string
	sessionID  string
)

var rootCmd = &cobra.Command{
	Use:   "medrag",
	Short: "medrag - Patient report question answering",
	Long: `medrag answers questions about a patient's uploaded lab and clinical reports.

Each answer is grounded first in the session's own documents and then in a
shared medical helpbook, with citations tagged [patient] or [helpbook].
Every turn is measured, and a session summary can be appended to a CSV
file for offline evaluation.`,
	Version:      version,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&sessionID, "session", "", "Session id (default: a new UUID)")
}

// Execute runs the root command
func Execute() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
