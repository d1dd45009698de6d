package cli

import (
	"github.com/spf13/cobra"
)

// version is overridden at build time via -ldflags.
var version = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the credproxy version",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Println("credproxy " + version)
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
