package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/cyberlens/cyber-lens/internal/bus"
	"github.com/cyberlens/cyber-lens/internal/logging"
	"github.com/cyberlens/cyber-lens/internal/lookup"
	"github.com/cyberlens/cyber-lens/internal/metrics"
	"github.com/cyberlens/cyber-lens/internal/orchestrator"
	"github.com/cyberlens/cyber-lens/internal/provider"
	"github.com/cyberlens/cyber-lens/internal/store"
)

// app bundles the collaborators shared by serve, lookup and ingest.
type app struct {
	config  Config
	logger  *zap.SugaredLogger
	store   *store.Store
	bus     bus.Bus
	metrics *metrics.Metrics
	orch    *orchestrator.Orchestrator
	lookups *lookup.Service
}

type appOptions struct {
	withStore bool
	withBus   bool
}

func newLogger(config Config) (*zap.SugaredLogger, error) {
	logger, err := logging.New(config.Log.Level, config.Log.JSON)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}

func newApp(config Config, opts appOptions) (*app, error) {
	logger, err := newLogger(config)
	if err != nil {
		return nil, err
	}
	a := &app{config: config, logger: logger, metrics: metrics.New()}

	providers, err := provider.Build(config.Providers, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to build providers: %w", err)
	}
	if len(providers) == 0 {
		logger.Warn("No providers configured; every lookup will score 0/clean. Set API keys or use --dry-run")
	}

	a.orch = orchestrator.New(providers,
		orchestrator.WithTimeout(config.Lookup.Timeout),
		orchestrator.WithLogger(logger),
		orchestrator.WithObserver(a.metrics.ObserveProvider),
	)

	serviceOpts := []lookup.Option{lookup.WithLogger(logger), lookup.WithMetrics(a.metrics)}
	if opts.withStore {
		path := resolvePathRelativeToBase(getWorkingDir(), config.Database.Path)
		logger.Debugf("Using database at %s", path)
		st, err := store.NewStore(path)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize store: %w", err)
		}
		a.store = st
		serviceOpts = append(serviceOpts, lookup.WithHistory(st))
	}
	if opts.withBus {
		a.bus = bus.NewBus(config.Redis.URL, logger)
		serviceOpts = append(serviceOpts, lookup.WithBus(a.bus))
	}
	a.lookups = lookup.NewService(a.orch, serviceOpts...)
	return a, nil
}

func (a *app) Close() {
	if a.bus != nil {
		a.bus.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
	_ = a.logger.Sync()
}

// getWorkingDir returns the current working directory or "." on error.
func getWorkingDir() string {
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}

// resolvePathRelativeToBase resolves p against base unless it is absolute or in-memory.
func resolvePathRelativeToBase(base, p string) string {
	if p == "" || p == ":memory:" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(base, p)
}
