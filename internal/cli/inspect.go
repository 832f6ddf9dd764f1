package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/gamesincommon/internal/engine"
)

// NewInspectCommand creates the inspect command.
func NewInspectCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect [token]",
		Short: "Show the stored state of an interaction",
		Long: `Show the stored state of an interaction.

With a token, prints the session, claim, delivery and current gate verdict.
Without one, lists the tokens of every live session.

Example:
  gamesincommon inspect
  gamesincommon inspect aW50ZXJhY3Rpb24 --format json`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), rootOpts, cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			out := formatter(rootOpts, cmd)
			if len(args) == 0 {
				tokens, err := a.Engine.Sessions(cmd.Context())
				if err != nil {
					return WrapExitError(ExitCommandError, "failed to list sessions", err)
				}
				return out.Success(sessionList(tokens))
			}

			snap, err := a.Engine.Inspect(cmd.Context(), args[0])
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to inspect", err)
			}
			if snap.Session == nil && !snap.Claimed && snap.Delivered == nil {
				return out.Reject("E_NOT_FOUND", "no state stored for "+args[0], nil)
			}
			return out.Success(snapshotView{snap})
		},
	}
	return cmd
}

type sessionList []string

func (l sessionList) String() string {
	if len(l) == 0 {
		return "No live sessions."
	}
	return strings.Join(l, "\n")
}

type snapshotView struct {
	*engine.Snapshot
}

func (v snapshotView) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Token:        %s\n", v.Token)
	if v.Session != nil {
		fmt.Fprintf(&b, "Participants: %s\n", strings.Join(v.Session.Participants, ", "))
		fmt.Fprintf(&b, "Created:      %s\n", v.Session.CreatedAt.Format(time.RFC3339))
		fmt.Fprintf(&b, "Verdict:      %s", v.Verdict)
		if v.Reason != "" {
			fmt.Fprintf(&b, " (%s: %s)", v.Reason, strings.Join(v.Blocking, ", "))
		}
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "Claimed:      %t\n", v.Claimed)
	fmt.Fprintf(&b, "Delivered:    %t\n", v.Delivered != nil)
	fmt.Fprintf(&b, "Deleted:      %t", v.SoftDeleted)
	return b.String()
}
