package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/roach88/gamesincommon/internal/command"
	"github.com/roach88/gamesincommon/internal/dispatch"
)

// Registrar installs the slash command definition.
type Registrar interface {
	RegisterCommand(ctx context.Context, guildID string, definition []byte) error
}

// NewRegisterCommand creates the register command.
func NewRegisterCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		guild  string
		dryRun bool
	)
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Install the /gamesincommon slash command",
		Long: `Install the /gamesincommon slash command.

Registers globally by default. Guild registration with --guild takes effect
immediately and is handy while testing.

Example:
  gamesincommon register
  gamesincommon register --guild 123456789012345678
  gamesincommon register --dry-run`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := formatter(rootOpts, cmd)
			if dryRun {
				_, err := cmd.OutOrStdout().Write(command.Definition())
				return err
			}

			cfg, err := loadConfig(rootOpts)
			if err != nil {
				return err
			}
			if cfg.Discord.AppID == "" || cfg.Discord.BotToken == "" {
				return NewExitError(ExitCommandError, "DISCORD_APP_ID and DISCORD_BOT_TOKEN are required")
			}

			r := rootOpts.Registrar
			if r == nil {
				r = dispatch.NewDiscordClient(cfg.Discord.AppID, cfg.Discord.BotToken,
					dispatch.WithBaseURL(cfg.Discord.APIBase))
			}
			if err := r.RegisterCommand(cmd.Context(), guild, command.Definition()); err != nil {
				return WrapExitError(ExitFailure, "registration failed", err)
			}

			scope := "globally"
			if guild != "" {
				scope = "in guild " + guild
			}
			return out.Success("Registered /" + command.Name + " " + scope)
		},
	}
	cmd.Flags().StringVar(&guild, "guild", "", "register for one guild only")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the definition instead of sending it")
	return cmd
}
