package cli

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getpup/configsync/actions"
	"github.com/getpup/configsync/metrics"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// Built-in actions registered by serve.
const (
	ActionPing          = "ping"
	ActionPruneProfiles = "prune_profiles"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	ShutdownTimeout time.Duration
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a configsync process until interrupted",
		Long: `Run a configsync process: publish its profile, pull actions and alternative
configurations at the configured interval and expose metrics when enabled.

Built-in actions:
  ping            logs a line on every process it reaches
  prune_profiles  unique; removes profiles silent for three heartbeat intervals`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(cmd.Context(), opts)
		},
	}

	cmd.Flags().DurationVar(&opts.ShutdownTimeout, "shutdown-timeout", 10*time.Second, "time allowed for a graceful shutdown")

	return cmd
}

func serve(ctx context.Context, opts *ServeOptions) (err error) {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess, err := openSession(ctx, opts.RootOptions, true)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, sess.Close())
	}()

	svc, cfg, logger := sess.svc, sess.cfg, sess.logger

	if err := svc.RegisterAction(ActionPing, func(ctx context.Context) error {
		logger.Info(ctx, "pong", "processID", svc.ProcessID())
		return nil
	}); err != nil {
		return err
	}
	ttl := 3 * cfg.HeartbeatInterval
	if err := svc.RegisterAction(ActionPruneProfiles, func(ctx context.Context) error {
		_, err := svc.PruneProfiles(ctx, ttl)
		return err
	}, actions.Unique()); err != nil {
		return err
	}

	if err := svc.Start(ctx); err != nil {
		return err
	}

	var server *metrics.Server
	if cfg.Metrics.Enabled {
		server = metrics.NewServer(cfg.Metrics.Addr, metrics.WithHealthCheck(func(context.Context) error {
			if !svc.Started() {
				return errors.New("sync loop is not running")
			}
			return nil
		}))
		server.Start()
		logger.Info(ctx, "metrics server listening", "addr", server.Addr())
	}

	g, gctx := errgroup.WithContext(ctx)
	if server != nil {
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return nil
			case err := <-server.Errors():
				return err
			}
		})
	}
	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), opts.ShutdownTimeout)
		defer cancel()

		err := svc.Stop(shutdownCtx)
		if server != nil {
			err = multierr.Append(err, server.Shutdown(shutdownCtx))
		}
		logger.Info(shutdownCtx, "configsync process stopped", "processID", svc.ProcessID())
		return err
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
