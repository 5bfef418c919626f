// Package cmd provides the command-line interface for simbridge.
package cmd

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "simbridge",
	Short: "Simbridge drives traffic simulators over the bridge protocol.",
	Long: `Simbridge drives traffic simulators over the bridge protocol. ` +
		`The run command plays a control episode against the built-in ` +
		`microscopic simulation and can record transitions to SQLite.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// A .env in the working directory may carry flag defaults.
		_ = godotenv.Load()
	},
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

// envOr reads an environment variable with a fallback default.
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}
