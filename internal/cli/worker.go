package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// WorkerOptions holds flags for the worker command.
type WorkerOptions struct {
	*RootOptions
	Once bool
}

// NewWorkerCommand creates the worker command.
func NewWorkerCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WorkerOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Process scheduled attempts, countdowns and deletions",
		Long: `Process scheduled attempts, countdowns and deletions.

The worker claims due tasks from the shared queue. Any number of workers
may run against one store; each task is claimed by exactly one of them.
Expired records are purged from a sqlite store every
worker.purge_interval, and once after "--once" drains the queue.

Example:
  gamesincommon worker --config ./gamesincommon.yaml
  gamesincommon worker --once`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runWorker(ctx, opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Once, "once", false, "run due tasks until none remain, then exit")

	return cmd
}

func runWorker(ctx context.Context, opts *WorkerOptions, cmd *cobra.Command) error {
	a, err := openApp(ctx, opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if !opts.Once {
		return work(ctx, a)
	}

	total := 0
	for {
		n, err := a.Runner.RunOnce(ctx)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to run tasks", err)
		}
		if n == 0 {
			break
		}
		total += n
	}
	purged, err := a.Purge(ctx)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to purge expired records", err)
	}
	return formatter(opts.RootOptions, cmd).Success(workerSummary{Ran: total, Purged: purged})
}

type workerSummary struct {
	Ran    int   `json:"ran"`
	Purged int64 `json:"purged"`
}

func (s workerSummary) String() string {
	return fmt.Sprintf("Ran %d task(s), purged %d expired record(s)", s.Ran, s.Purged)
}
