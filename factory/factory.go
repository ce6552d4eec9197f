/*
Package factory wires the application from configuration.

PURPOSE:
  Turns a config.Config into a running object graph: the ledger store
  selected by store.driver, the optional Redis summary cache, the optional
  Kafka event publisher, the session service and the HTTP handler.

STORE DRIVERS:
  memory:    In-process, lost on restart (dev and tests)
  sqlite:    Single file, schema migrated on open
  postgres:  pgx pool, RunMigrations on open

USAGE:
  app, err := factory.New(ctx, cfg, logger)
  if err != nil { ... }
  defer app.Close()
  http.ListenAndServe(addr, app.Router)

SEE ALSO:
  - config/config.go: configuration schema
  - cli/serve.go: server startup
*/
package factory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/warp/cashgame-ledger/api"
	rediscache "github.com/warp/cashgame-ledger/cache/redis"
	"github.com/warp/cashgame-ledger/config"
	"github.com/warp/cashgame-ledger/events"
	"github.com/warp/cashgame-ledger/ledger/store"
	"github.com/warp/cashgame-ledger/session"
	"github.com/warp/cashgame-ledger/store/postgres"
	"github.com/warp/cashgame-ledger/store/sqlite"
)

// App contains all wired application components.
type App struct {
	Store   session.Store
	Service *session.Service
	Handler *api.Handler
	Router  http.Handler

	closers []io.Closer
}

// New builds the application. Every component opened before a failure is
// closed again.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (app *App, err error) {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}

	app = &App{}
	defer func() {
		if err != nil {
			_ = app.Close()
			app = nil
		}
	}()

	st, closer, err := OpenStore(ctx, &cfg.Store, logger)
	if err != nil {
		return nil, err
	}
	app.Store = st
	app.track(closer)

	opts := []session.Option{session.WithLogger(logger)}

	var flusher api.CacheFlusher
	if cfg.Redis.Enabled {
		cache, err := rediscache.New(&cfg.Redis, logger)
		if err != nil {
			return nil, err
		}
		app.track(cache)
		opts = append(opts, session.WithCache(cache))
		flusher = cache
		logger.Info("summary cache enabled", slog.String("addr", cfg.Redis.Addr))
	}

	if cfg.Kafka.Enabled {
		pub, err := events.NewKafkaPublisher(&cfg.Kafka, logger)
		if err != nil {
			return nil, err
		}
		app.track(pub)
		opts = append(opts, session.WithPublisher(pub))
		logger.Info("event publishing enabled", slog.String("topic", cfg.Kafka.Topic))
	}

	app.Service = session.NewService(st, opts...)

	var resetter api.Resetter
	if cfg.Server.EnableScenarios {
		r, ok := st.(api.Resetter)
		if !ok {
			return nil, fmt.Errorf("store driver %q cannot load scenarios", cfg.Store.Driver)
		}
		resetter = r
		logger.Warn("demo scenarios enabled; loading one wipes the store")
	}

	app.Handler = api.NewHandler(app.Service, resetter, logger)
	app.Handler.Cache = flusher
	app.Router = api.NewRouter(app.Handler, cfg.Server.AllowedOrigins)
	return app, nil
}

// OpenStore opens the configured store with its schema in place. The
// returned closer is nil for the memory driver.
func OpenStore(ctx context.Context, cfg *config.StoreConfig, logger *slog.Logger) (session.Store, io.Closer, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return store.NewMemory(), nil, nil

	case config.DriverSQLite:
		st, err := sqlite.New(cfg.SQLite.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("opening sqlite store: %w", err)
		}
		logger.Info("using sqlite store", slog.String("path", cfg.SQLite.Path))
		return st, st, nil

	case config.DriverPostgres:
		st, err := postgres.New(ctx, &cfg.Postgres, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("opening postgres store: %w", err)
		}
		if err := st.RunMigrations(ctx); err != nil {
			_ = st.Close()
			return nil, nil, fmt.Errorf("running migrations: %w", err)
		}
		logger.Info("using postgres store",
			slog.String("host", cfg.Postgres.Host),
			slog.String("database", cfg.Postgres.Database),
		)
		return st, st, nil

	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

func (a *App) track(c io.Closer) {
	if c != nil {
		a.closers = append(a.closers, c)
	}
}

// Close releases components in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
