package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/hdrcam/capture-shot/pkg/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Validate the configuration and print it as YAML.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "# %s\n%s", cfg.File, out)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
}
