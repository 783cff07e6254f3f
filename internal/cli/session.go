package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	rootpkg "github.com/getpup/configsync"
	"github.com/getpup/configsync/config"
	"github.com/getpup/configsync/logging"
	"github.com/getpup/configsync/pkg/configsync"
	"github.com/getpup/configsync/selection"
	"github.com/getpup/configsync/store"
	"go.uber.org/multierr"
)

// session is an opened store and the service built on it.
type session struct {
	cfg     *config.Config
	store   store.Store
	svc     *configsync.Service
	logger  *logging.Zap
	closers []io.Closer
}

// openSession loads the configuration, opens the store and builds a service
// that is not started. Logs go to stderr unless the configuration names a file.
func openSession(ctx context.Context, opts *RootOptions, metricsEnabled bool) (*session, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}

	sess := &session{cfg: cfg}
	logger, closer, err := newLogger(cfg.Log, os.Stderr)
	if err != nil {
		return nil, err
	}
	sess.logger = logger
	if closer != nil {
		sess.closers = append(sess.closers, closer)
	}

	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		_ = sess.Close()
		return nil, err
	}
	sess.store = st
	sess.closers = append(sess.closers, st)

	svc, err := configsync.New(
		configsync.WithStore(st),
		configsync.WithProcessID(cfg.ProcessID),
		configsync.WithPullInterval(cfg.PullInterval),
		configsync.WithHeartbeatInterval(cfg.HeartbeatInterval),
		configsync.WithLogger(logger),
		configsync.WithMetricsEnabled(metricsEnabled),
		configsync.WithEndpoints(endpoints(cfg.Endpoints)),
		configsync.WithParamTypes(selection.ParamTypes()...),
	)
	if err != nil {
		_ = sess.Close()
		return nil, err
	}
	sess.svc = svc
	return sess, nil
}

// Close closes the store and the log file, in reverse opening order.
func (s *session) Close() error {
	if s.logger != nil {
		_ = s.logger.Sync()
	}
	var err error
	for i := len(s.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, s.closers[i].Close())
	}
	return err
}

func endpoints(cfgs []config.EndpointConfig) map[string]rootpkg.Endpoint {
	out := make(map[string]rootpkg.Endpoint, len(cfgs))
	for _, ep := range cfgs {
		out[ep.ID] = selection.NewEndpoint(ep.Alternatives, rootpkg.Config(ep.Defaults), ep.Methods...)
	}
	return out
}

func newLogger(cfg config.LogConfig, fallback io.Writer) (*logging.Zap, io.Closer, error) {
	if cfg.Path == "" {
		logger, err := logging.New(cfg.Level, cfg.Format, fallback)
		return logger, nil, err
	}

	f, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	logger, err := logging.New(cfg.Level, cfg.Format, f)
	if err != nil {
		_ = f.Close()
		return nil, nil, err
	}
	return logger, f, nil
}
