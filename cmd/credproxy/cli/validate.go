package cli

import (
	"github.com/spf13/cobra"

	"github.com/JohnPreston/credproxy/internal/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cmd.Printf("configuration is valid: %d static service(s)\n", len(cfg.Services))
		if cfg.DynamicServices != nil && cfg.DynamicServices.Enabled {
			cmd.Printf("dynamic services enabled: %d director(ies)\n", len(cfg.DynamicServices.Directories))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
