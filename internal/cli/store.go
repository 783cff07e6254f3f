package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/flowchartsman/retry"
	"github.com/getpup/configsync/config"
	"github.com/getpup/configsync/pkg/migrations"
	"github.com/getpup/configsync/store"
	"github.com/getpup/configsync/store/boltstore"
	"github.com/getpup/configsync/store/etcdstore"
	"github.com/getpup/configsync/store/memory"
	"github.com/getpup/configsync/store/mongostore"
	"github.com/getpup/configsync/store/redisstore"
	"github.com/getpup/configsync/store/sqlstore"
)

// openStore connects to the configured store, retrying while it is unreachable.
func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	var s store.Store
	retrier := retry.NewRetrier(5, 100*time.Millisecond, 2*time.Second)
	err := retrier.RunContext(ctx, func(ctx context.Context) error {
		if cfg.ConnectTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
			defer cancel()
		}

		opened, err := dial(ctx, cfg)
		if err != nil {
			return err
		}
		s = opened
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Driver, err)
	}

	if cfg.Migrate {
		if err := migrate(ctx, s); err != nil {
			_ = s.Close()
			return nil, err
		}
	}
	return s, nil
}

func dial(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return memory.New(), nil
	case config.DriverPostgres, config.DriverMySQL, config.DriverSQLite:
		dialect, err := migrations.ParseDialect(cfg.Driver)
		if err != nil {
			return nil, err
		}
		return sqlstore.Open(ctx, dialect, cfg.DSN)
	case config.DriverMongoDB:
		mcfg := mongostore.DefaultConfig()
		if cfg.Database != "" {
			mcfg.Database = cfg.Database
		}
		return mongostore.Open(ctx, cfg.DSN, mcfg)
	case config.DriverRedis:
		return redisstore.Open(ctx, cfg.DSN, cfg.Prefix)
	case config.DriverEtcd:
		ecfg := etcdstore.DefaultConfig()
		ecfg.Endpoints = cfg.Endpoints
		ecfg.DialTimeout = cfg.ConnectTimeout
		if cfg.Namespace != "" {
			ecfg.Namespace = cfg.Namespace
		}
		return etcdstore.Open(ctx, ecfg)
	case config.DriverBolt:
		return boltstore.Open(cfg.Path)
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Driver)
	}
}

// migrate creates tables or collections for stores that need them.
func migrate(ctx context.Context, s store.Store) error {
	switch st := s.(type) {
	case *sqlstore.Store:
		return st.Migrate(ctx)
	case *mongostore.Store:
		return st.EnsureCollections(ctx)
	default:
		return nil
	}
}
