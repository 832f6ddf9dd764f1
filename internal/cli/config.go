package cli

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/gamesincommon/internal/config"
)

// NewConfigCommand creates the config command group.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Check and print configuration",
	}
	cmd.AddCommand(newConfigValidateCommand(rootOpts))
	cmd.AddCommand(newConfigShowCommand(rootOpts))
	return cmd
}

func newConfigValidateCommand(rootOpts *RootOptions) *cobra.Command {
	var credentials bool
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the config file and environment",
		Long: `Validate the config file and environment.

Every problem is reported, not just the first. With --credentials the
secrets "serve" needs must be set too.

Exit codes:
  0 - Configuration valid
  1 - Configuration invalid`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := formatter(rootOpts, cmd)
			cfg, err := config.Load(rootOpts.ConfigPath)
			if err == nil && credentials {
				err = cfg.RequireCredentials()
			}
			if err != nil {
				return out.Reject("E_CONFIG", err.Error(), nil)
			}
			return out.Success("Configuration valid")
		},
	}
	cmd.Flags().BoolVar(&credentials, "credentials", false, "also require platform credentials")
	return cmd
}

func newConfigShowCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "show",
		Short:         "Print the effective configuration with secrets masked",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(rootOpts)
			if err != nil {
				return err
			}
			redacted := cfg.Redacted()
			if rootOpts.Format == "json" {
				return formatter(rootOpts, cmd).Success(redacted)
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(redacted); err != nil {
				return err
			}
			return enc.Close()
		},
	}
}
