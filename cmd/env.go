package main

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/quakeloss/internal/alert"
	"github.com/sells-group/quakeloss/internal/combine"
	"github.com/sells-group/quakeloss/internal/engine"
	"github.com/sells-group/quakeloss/internal/fetcher"
	"github.com/sells-group/quakeloss/internal/grid"
	"github.com/sells-group/quakeloss/internal/gridio"
	"github.com/sells-group/quakeloss/internal/store"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		return store.NewSQLite(cfg.Store.SQLitePath)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// engineEnv bundles the engine with the reference data and store it was
// built from.
type engineEnv struct {
	Engine *engine.Engine
	Data   engine.Data
	Store  store.Store
}

func (e *engineEnv) Close() {
	if e.Store == nil {
		return
	}
	if err := e.Store.Close(); err != nil {
		zap.L().Warn("close store", zap.Error(err))
	}
}

// initEngine loads reference data and builds the engine. Results are
// persisted only when persist is set.
func initEngine(ctx context.Context, persist bool) (*engineEnv, error) {
	if err := cfg.Validate("run"); err != nil {
		return nil, err
	}

	env := &engineEnv{}
	if persist {
		st, err := initStore(ctx)
		if err != nil {
			return nil, eris.Wrap(err, "init store")
		}
		if err := st.Migrate(ctx); err != nil {
			st.Close() //nolint:errcheck
			return nil, eris.Wrap(err, "migrate store")
		}
		env.Store = st
	}

	data, _, err := engine.LoadData(ctx, cfg.Data, cfg.Engine, nil)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.Data = data

	models, err := engine.BuildModels(cfg.Engine.Models, data.GDP)
	if err != nil {
		env.Close()
		return nil, err
	}

	eng, err := engine.New(data, engine.Options{
		Models:              models,
		Weights:             combine.Weights(cfg.Engine.Weights),
		Classifier:          alert.New(cfg.Engine.AlertThreshold),
		MaxConcurrentEvents: cfg.Engine.MaxConcurrentEvents,
	}, env.Store)
	if err != nil {
		env.Close()
		return nil, err
	}
	env.Engine = eng
	return env, nil
}

// createOutput opens path for writing, or returns stdout for "" and "-".
func createOutput(path string, stdout io.Writer) (io.Writer, func() error, error) {
	if path == "" || path == "-" {
		return stdout, func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "create %s", path)
	}
	return f, f.Close, nil
}

func newResolver() *fetcher.Resolver {
	return fetcher.NewResolver(fetcher.Options{
		Dir:           cfg.Fetch.Dir,
		UserAgent:     cfg.Fetch.UserAgent,
		Timeout:       time.Duration(cfg.Fetch.TimeoutSecs) * time.Second,
		RatePerSecond: cfg.Fetch.RatePerSecond,
		MaxRetries:    cfg.Fetch.MaxRetries,
		GridName:      cfg.Fetch.GridName,
	})
}

// loadShakeMaps fetches and parses grid sources concurrently, keeping
// input order. Sources may be local files, http(s) or ftp URLs, or zip
// bundles.
func loadShakeMaps(ctx context.Context, sources []string) ([]grid.ShakeGrid, error) {
	res := newResolver()
	defer func() {
		if err := res.Cleanup(); err != nil {
			zap.L().Warn("remove downloaded grids", zap.Error(err))
		}
	}()

	events := make([]grid.ShakeGrid, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, src := range sources {
		g.Go(func() error {
			path, err := res.Resolve(gctx, src)
			if err != nil {
				return eris.Wrapf(err, "load shakemap %s", src)
			}
			sg, err := gridio.LoadShakeMap(path)
			if err != nil {
				return eris.Wrapf(err, "load shakemap %s", src)
			}
			events[i] = sg
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return events, nil
}
