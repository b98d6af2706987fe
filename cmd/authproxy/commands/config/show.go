package config

import (
	"github.com/spf13/cobra"

	"github.com/marmos91/authproxy/pkg/config"
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration",
	Long:  `Print the configuration after defaults and environment overrides are applied.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(ConfigFile())
		if err != nil {
			return err
		}
		data, err := config.GenerateYAMLWithComments(cfg)
		if err != nil {
			return err
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}
