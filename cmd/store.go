package main

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/governance-engine/internal/metrics"
	"github.com/sells-group/governance-engine/internal/store"
)

func initStore(ctx context.Context) (store.Store, error) {
	var (
		st  store.Store
		err error
	)
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "governor.db"
		}
		st, err = store.NewSQLite(dsn)
	case "postgres":
		st, err = store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}

	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initMetricSource picks the sample backend for the window reader. The
// returned close func is never nil.
func initMetricSource(st store.Store) (metrics.Source, func(), error) {
	switch cfg.Metrics.Source {
	case "", "store":
		return metrics.NewStoreSource(st), func() {}, nil
	case "influx":
		src, err := metrics.NewInfluxSource(cfg.Influx)
		if err != nil {
			return nil, nil, err
		}
		zap.L().Info("metric source: influx", zap.String("bucket", cfg.Influx.Bucket))
		return src, src.Close, nil
	default:
		return nil, nil, eris.Errorf("unsupported metrics source: %s", cfg.Metrics.Source)
	}
}
