package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Version is stamped at build time through -ldflags.
var Version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the simbridge version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("simbridge", Version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
