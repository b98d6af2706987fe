package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/authproxy/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Long: `Write a commented default configuration file.

By default the file is created at $XDG_CONFIG_HOME/authproxy/config.yaml.
Use --config to choose another path.

Examples:
  # Initialize at the default location
  authproxy config init

  # Initialize at a custom path, replacing an existing file
  authproxy config init --config /etc/authproxy/config.yaml --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite an existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	path := ConfigFile()

	var err error
	if path != "" {
		err = config.InitConfigToPath(path, initForce)
	} else {
		path, err = config.InitConfig(initForce)
	}
	if err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Configuration file created at: %s\n", path)
	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintln(out, "  1. Point integrity.key_file at the keytab shared with the edge hosts")
	fmt.Fprintln(out, "  2. Choose the metadata and content stores")
	fmt.Fprintf(out, "  3. Start the manager with: authproxy manager --config %s\n", path)
	return nil
}
