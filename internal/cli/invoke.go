package cli

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/roach88/gamesincommon/internal/command"
	"github.com/roach88/gamesincommon/internal/model"
)

// InvokeOptions holds flags for the invoke command.
type InvokeOptions struct {
	*RootOptions
	Descriptor string
	File       string
}

// NewInvokeCommand creates the invoke command.
func NewInvokeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InvokeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "invoke",
		Short: "Admit a command request without the chat platform",
		Long: `Admit a command request without the chat platform.

The descriptor is validated exactly like a slash command and its attempt
plan is scheduled. A worker then publishes to the interaction token named
in the descriptor.

Example:
  gamesincommon invoke --descriptor '{"token":"t","requester":{"id":"u1"},"participants":["u1","u2"],"top_n":5,"sort_metric":"most-playtime"}'
  gamesincommon invoke --file request.json --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return invoke(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Descriptor, "descriptor", "", "request descriptor as JSON")
	cmd.Flags().StringVarP(&opts.File, "file", "f", "", "read the descriptor from a file")
	cmd.MarkFlagsMutuallyExclusive("descriptor", "file")
	cmd.MarkFlagsOneRequired("descriptor", "file")

	return cmd
}

func invoke(opts *InvokeOptions, cmd *cobra.Command) error {
	raw := []byte(opts.Descriptor)
	if opts.File != "" {
		data, err := os.ReadFile(opts.File)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to read descriptor", err)
		}
		raw = data
	}

	var d command.Descriptor
	if err := json.Unmarshal(raw, &d); err != nil {
		return WrapExitError(ExitCommandError, "invalid descriptor JSON", err)
	}
	if d.TopN == 0 {
		d.TopN = model.DefaultTopN
	}
	if d.Metric == "" {
		d.Metric = model.DefaultMetric
	}

	a, err := openApp(cmd.Context(), opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	out := formatter(opts.RootOptions, cmd)
	sess, err := a.AdmitDescriptor(cmd.Context(), &d)
	var invalid *command.InvalidError
	if errors.As(err, &invalid) {
		return out.Reject("E_INVALID", invalid.Error(), invalid.Errors)
	}
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to admit", err)
	}
	return out.Success(admitted{Token: sess.Token, Participants: sess.Participants, CreatedAt: sess.CreatedAt.Format(time.RFC3339)})
}

type admitted struct {
	Token        string   `json:"token"`
	Participants []string `json:"participants"`
	CreatedAt    string   `json:"created_at"`
}

func (a admitted) String() string {
	return fmt.Sprintf("Admitted %s for %d participant(s)", a.Token, len(a.Participants))
}
