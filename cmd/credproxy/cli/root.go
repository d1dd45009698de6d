// Package cli implements the credproxy command-line interface using Cobra.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/JohnPreston/credproxy/internal/config"
	"github.com/JohnPreston/credproxy/internal/log"
)

var (
	configPath string
	verbose    bool
	jsonOut    bool
)

var rootCmd = &cobra.Command{
	Use:   "credproxy",
	Short: "Sidecar serving short-lived AWS credentials over loopback HTTP",
	Long: `credproxy issues short-lived assumed-role AWS credentials to local
applications through the ECS container credential endpoint contract.
Services are defined statically in the configuration file or discovered
dynamically from watched directories; credentials are refreshed in the
background and served from memory.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		log.Init(log.Options{
			Verbose:    verbose,
			JSONFormat: jsonOut,
		})
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultConfigFile,
		"path to configuration file (env: CREDPROXY_CONFIG_FILE)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "log in JSON format")
}
