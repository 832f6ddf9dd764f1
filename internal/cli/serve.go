package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/gamesincommon/internal/api"
	"github.com/roach88/gamesincommon/internal/app"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Addr     string
	NoWorker bool
	Insecure bool
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the interactions webhook and signal endpoints",
		Long: `Serve the interactions webhook and signal endpoints.

Unless --no-worker is set, the attempt queue is processed in the same
process. Run "gamesincommon worker" separately when the store is shared.

The platform public key and the signal secret are required. --insecure
(or server.insecure) waives both for local development.

Example:
  gamesincommon serve --config ./gamesincommon.yaml
  gamesincommon serve --addr :9090 --no-worker`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Addr, "addr", "", "listen address (overrides config)")
	cmd.Flags().BoolVar(&opts.NoWorker, "no-worker", false, "do not process the attempt queue")
	cmd.Flags().BoolVar(&opts.Insecure, "insecure", false, "accept unsigned interactions and unauthenticated signals (development only)")

	return cmd
}

func runServe(ctx context.Context, opts *ServeOptions, cmd *cobra.Command) error {
	a, err := openApp(ctx, opts.RootOptions, cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if opts.Insecure {
		a.Config.Server.Insecure = true
	}
	if a.Config.Server.Insecure {
		a.Logger.Warn("serving insecurely: interaction signatures and signal secrets are not enforced")
	}
	if err := a.Config.RequireCredentials(); err != nil {
		return WrapExitError(ExitCommandError, "missing credentials", err)
	}
	if opts.Addr != "" {
		a.Config.Server.Addr = opts.Addr
	}

	srv, err := api.NewServer(a)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build server", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.ListenAndServe(ctx) })
	if !opts.NoWorker {
		g.Go(func() error { return work(ctx, a) })
	}
	return g.Wait()
}

// work warms the cache when configured, then runs the queue and the
// expired-record purge until ctx is done.
func work(ctx context.Context, a *app.App) error {
	if a.Config.Steam.WarmOnStart {
		go func() {
			n, err := a.Warm(ctx)
			if err != nil {
				a.Logger.Warn("cache warm failed", "error", err)
				return
			}
			a.Logger.Info("cache warmed", "games", n)
		}()
	}
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.Runner.Run(ctx) })
	g.Go(func() error { return a.Janitor(ctx) })
	return g.Wait()
}
