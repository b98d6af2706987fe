package config

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/authproxy/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Load a configuration file, apply defaults and run every validation rule.
The integrity key is loaded as well so an unreadable keytab is reported.`,
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(ConfigFile())
	if err != nil {
		return err
	}

	signer, err := config.CreateSigner(&cfg.Integrity)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Configuration is valid")
	fmt.Fprintf(out, "  broker:    %s\n", cfg.Broker.Listen)
	fmt.Fprintf(out, "  integrity: %s\n", signer.Algorithm())
	fmt.Fprintf(out, "  metadata:  %s\n", cfg.Metadata.Type)
	fmt.Fprintf(out, "  content:   %s\n", cfg.Content.Type)
	return nil
}
