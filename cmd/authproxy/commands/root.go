// Package commands implements the authproxy command line.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	configcmd "github.com/marmos91/authproxy/cmd/authproxy/commands/config"
	fscmd "github.com/marmos91/authproxy/cmd/authproxy/commands/fs"
)

// Build information, set with -ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "authproxy",
	Short: "Authenticated filesystem RPC proxy",
	Long: `authproxy relays native filesystem calls from an edge process to a
manager process over a signed RPC link.

The manager owns the namespace (metadata and content stores) and executes
requests with a pool of workers. Edge processes talk to it through the proxy
client, which speaks the same filesystem interface as the namespace.

Use "authproxy [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/authproxy/config.yaml)")

	configcmd.ConfigFile = GetConfigFile
	fscmd.ConfigFile = GetConfigFile

	rootCmd.AddCommand(managerCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configcmd.Cmd)
	rootCmd.AddCommand(fscmd.Cmd)
}

// GetConfigFile returns the value of the --config flag.
func GetConfigFile() string {
	return cfgFile
}
