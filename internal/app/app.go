// Package app wires settings into a running store, service clients, session
// manager and fetcher. Every CLI command builds one App.
package app

import (
	"context"
	"log/slog"

	"github.com/tphakala/farmdash/internal/auth"
	"github.com/tphakala/farmdash/internal/backend"
	"github.com/tphakala/farmdash/internal/buildinfo"
	"github.com/tphakala/farmdash/internal/conf"
	"github.com/tphakala/farmdash/internal/errors"
	"github.com/tphakala/farmdash/internal/fetch"
	"github.com/tphakala/farmdash/internal/logging"
	"github.com/tphakala/farmdash/internal/observability"
	"github.com/tphakala/farmdash/internal/snapshot"
	"github.com/tphakala/farmdash/internal/store"
)

// Options carries the global command line flags.
type Options struct {
	ConfigPath string
	Debug      bool

	// ClientOptions are appended to the service client options.
	ClientOptions []backend.ClientOption
}

// App holds the wired components.
type App struct {
	Settings *conf.Settings
	Metrics  *observability.Metrics
	Store    *store.Store
	Services *backend.Services
	Sessions *auth.Manager
	Fetcher  *fetch.Fetcher

	persister snapshot.Persister
	logger    *slog.Logger
}

// Open loads settings named by opts and builds an App from them.
func Open(ctx context.Context, opts Options) (*App, error) {
	settings, err := conf.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if opts.Debug {
		settings.Debug = true
	}
	return New(ctx, settings, opts.ClientOptions...)
}

// New builds an App and restores the persisted snapshot. A snapshot that
// cannot be read is logged and the app starts empty.
func New(ctx context.Context, settings *conf.Settings, clientOpts ...backend.ClientOption) (*App, error) {
	logging.ConfigureFiles(settings.LogFiles())
	if settings.Debug {
		logging.SetLevel(slog.LevelDebug)
	}
	logger := logging.ForService("app")

	if settings.Sentry.Enabled {
		if err := errors.InitSentry(settings.Sentry.DSN, settings.Sentry.Environment, buildinfo.Get().Version); err != nil {
			logger.Warn("sentry disabled", "error", err)
		}
	}

	m, err := observability.NewMetrics()
	if err != nil {
		return nil, errors.New(err).
			Component("app").
			Category(errors.CategoryConfiguration).
			Context("operation", "init_metrics").
			Build()
	}

	persister, err := snapshot.Open(settings.SnapshotConfig(), logging.ForService("snapshot"))
	if err != nil {
		return nil, err
	}

	st := store.New(
		store.WithPolicy(settings.Policy()),
		store.WithPersister(persister),
		store.WithMetrics(m.Store),
	)
	if restored, err := st.Restore(ctx); err != nil {
		logger.Warn("ignoring unreadable snapshot", "backend", persister.Name(), "error", err)
	} else if restored {
		logger.Debug("restored snapshot", "backend", persister.Name())
	}

	clientOpts = append([]backend.ClientOption{
		backend.WithToken(st.Token),
		backend.WithMetrics(m.Backend),
	}, clientOpts...)
	services, err := backend.NewServices(settings.Services(), clientOpts...)
	if err != nil {
		st.Close()
		_ = persister.Close()
		return nil, err
	}

	sessions := auth.NewManager(st, services.User)
	fetcher := fetch.New(st, services, sessions, fetch.WithMetrics(m.Fetch))

	return &App{
		Settings:  settings,
		Metrics:   m,
		Store:     st,
		Services:  services,
		Sessions:  sessions,
		Fetcher:   fetcher,
		persister: persister,
		logger:    logger,
	}, nil
}

// Close saves pending state and releases the snapshot backend.
func (a *App) Close() error {
	a.Store.Close()
	if err := a.persister.Close(); err != nil {
		a.logger.Warn("failed to close snapshot backend", "error", err)
		return err
	}
	return nil
}
