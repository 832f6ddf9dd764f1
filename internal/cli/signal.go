package cli

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/gamesincommon/internal/lifecycle"
	"github.com/roach88/gamesincommon/internal/signal"
)

// NewSignalCommand creates the signal command group. Operators use it to
// replay events the HTTP endpoints would normally receive.
func NewSignalCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "signal",
		Short: "Inject presence, authorization and reaction events",
	}
	cmd.AddCommand(newPresenceCommand(rootOpts))
	cmd.AddCommand(newAuthorizeCommand(rootOpts))
	cmd.AddCommand(newRevokeCommand(rootOpts))
	cmd.AddCommand(newReactCommand(rootOpts))
	return cmd
}

type rerunResult struct {
	Rerun []string `json:"rerun"`
}

func (r rerunResult) String() string {
	if len(r.Rerun) == 0 {
		return "No interactions rerun."
	}
	return "Rerun: " + strings.Join(r.Rerun, ", ")
}

func newPresenceCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "presence <user-id>...",
		Short:         "Mark users as present",
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), rootOpts, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			tokens, err := a.Signals.Presence(cmd.Context(), args...)
			if err != nil {
				return WrapExitError(ExitCommandError, "presence failed", err)
			}
			return formatter(rootOpts, cmd).Success(rerunResult{Rerun: nonNil(tokens)})
		},
	}
}

func newAuthorizeCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		account   string
		expiresIn time.Duration
	)
	cmd := &cobra.Command{
		Use:           "authorize <user-id>",
		Short:         "Record a completed authorization",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), rootOpts, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			tokens, err := a.Signals.Authorized(cmd.Context(), signal.Authorization{
				UserID:    args[0],
				AccountID: account,
				ExpiresIn: expiresIn,
			})
			if err != nil {
				return WrapExitError(ExitCommandError, "authorize failed", err)
			}
			return formatter(rootOpts, cmd).Success(rerunResult{Rerun: nonNil(tokens)})
		},
	}
	cmd.Flags().StringVar(&account, "account", "", "linked game-library account id")
	cmd.Flags().DurationVar(&expiresIn, "expires-in", 0, "authorization lifetime (default 7 days)")
	return cmd
}

func newRevokeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "revoke <user-id>",
		Short:         "Forget a user's authorization and linked account",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), rootOpts, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.Signals.Revoke(cmd.Context(), args[0]); err != nil {
				return WrapExitError(ExitCommandError, "revoke failed", err)
			}
			return formatter(rootOpts, cmd).Success(fmt.Sprintf("Revoked %s", args[0]))
		},
	}
}

type reactResult struct {
	Deleted bool `json:"deleted"`
}

func (r reactResult) String() string {
	if r.Deleted {
		return "Results deleted."
	}
	return "Nothing deleted."
}

func newReactCommand(rootOpts *RootOptions) *cobra.Command {
	var emoji string
	cmd := &cobra.Command{
		Use:           "react <message-id> <user-id>",
		Short:         "Deliver a reaction added to a results message",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), rootOpts, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			deleted, err := a.Signals.Reaction(cmd.Context(), args[0], args[1], emoji)
			if errors.Is(err, lifecycle.ErrNotInvolved) {
				return WrapExitError(ExitFailure, "reaction refused", err)
			}
			if err != nil {
				return WrapExitError(ExitCommandError, "reaction failed", err)
			}
			return formatter(rootOpts, cmd).Success(reactResult{Deleted: deleted})
		},
	}
	cmd.Flags().StringVar(&emoji, "emoji", lifecycle.DeleteEmoji, "reaction emoji")
	return cmd
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
