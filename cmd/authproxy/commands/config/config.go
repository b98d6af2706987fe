// Package config implements the configuration management subcommands.
package config

import (
	"github.com/spf13/cobra"
)

// ConfigFile returns the --config flag of the root command.
var ConfigFile = func() string { return "" }

// Cmd is the config subcommand.
var Cmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
	Long: `Manage authproxy configuration files.

Subcommands:
  init      Write a commented default configuration
  validate  Load and validate a configuration file
  show      Print the effective configuration`,
}

func init() {
	Cmd.AddCommand(initCmd)
	Cmd.AddCommand(validateCmd)
	Cmd.AddCommand(showCmd)
}
