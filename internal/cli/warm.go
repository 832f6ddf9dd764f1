package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

type warmResult struct {
	Games int `json:"games"`
}

func (r warmResult) String() string {
	return fmt.Sprintf("Warmed %d game(s)", r.Games)
}

// NewWarmCommand creates the warm command.
func NewWarmCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "warm",
		Short: "Prefetch metadata for the most played games",
		Long: `Prefetch metadata for the most played games.

Game details and achievement counts are stored in the shared cache so the
first requests after a deploy do not wait on the upstream API.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), rootOpts, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.Warm(cmd.Context())
			if err != nil {
				return WrapExitError(ExitFailure, "warm failed", err)
			}
			return formatter(rootOpts, cmd).Success(warmResult{Games: n})
		},
	}
}
