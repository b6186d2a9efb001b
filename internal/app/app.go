// Package app wires configuration, storage, the oracle and the scan service
// together for the lorekeeper binaries.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/raphaelgruber/lorekeeper/internal/config"
	"github.com/raphaelgruber/lorekeeper/internal/db"
	"github.com/raphaelgruber/lorekeeper/internal/extract"
	"github.com/raphaelgruber/lorekeeper/internal/filter"
	"github.com/raphaelgruber/lorekeeper/internal/llm"
	"github.com/raphaelgruber/lorekeeper/internal/metrics"
	"github.com/raphaelgruber/lorekeeper/internal/service"
	"github.com/raphaelgruber/lorekeeper/internal/source"
	"github.com/raphaelgruber/lorekeeper/internal/store"
)

// App holds the wired components.
type App struct {
	Config  config.Config
	Store   store.Store
	Source  *source.Directory
	Scans   *service.ScanService
	Metrics *metrics.Collector
}

// Options customizes wiring.
type Options struct {
	// Observer receives progress events of every scan.
	Observer service.Observer
	// Oracle replaces the language model, mainly for tests.
	Oracle extract.Oracle
	Logger *slog.Logger
}

// New validates cfg and builds the application. The language model is only
// created when the first chunk needs it, so read-only commands work without
// provider credentials.
func New(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	mc := metrics.NewCollector()

	st, err := OpenStore(ctx, cfg, opts.Logger)
	if err != nil {
		return nil, err
	}

	oracle := opts.Oracle
	if oracle == nil {
		oracle = &lazyOracle{cfg: cfg, metrics: mc}
	}

	src := source.NewDirectory(cfg.ChatsDir, cfg.ChatMappings)
	scans, err := service.NewScanService(service.ScanDeps{
		Source:   src,
		Store:    st,
		Oracle:   oracle,
		Filter:   filter.New(cfg.Filter),
		Metrics:  mc,
		Observer: opts.Observer,
	}, cfg.Scan)
	if err != nil {
		st.Close()
		return nil, err
	}

	return &App{
		Config:  cfg,
		Store:   st,
		Source:  src,
		Scans:   scans,
		Metrics: mc,
	}, nil
}

// Close releases the store.
func (a *App) Close() error {
	return a.Store.Close()
}

// OpenStore opens the configured persistence backend.
func OpenStore(ctx context.Context, cfg config.Config, logger *slog.Logger) (store.Store, error) {
	switch cfg.Store {
	case config.StoreSQLite:
		st, err := store.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return st, nil

	case config.StoreMemory:
		return store.NewMemoryStore(), nil

	case config.StoreSurrealDB:
		client, err := db.NewClient(ctx, db.ConfigFrom(cfg), logger)
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		if err := client.InitSchema(ctx); err != nil {
			client.Close()
			return nil, fmt.Errorf("initialize schema: %w", err)
		}
		return client, nil

	default:
		return nil, fmt.Errorf("unsupported store backend: %q", cfg.Store)
	}
}

// lazyOracle creates the language model on first use.
type lazyOracle struct {
	cfg     config.Config
	metrics *metrics.Collector

	once   sync.Once
	oracle extract.Oracle
	err    error
}

func (o *lazyOracle) Extract(ctx context.Context, text string) (extract.Result, error) {
	o.once.Do(func() {
		model, err := llm.NewModel(ctx, o.cfg)
		if err != nil {
			// Misconfiguration aborts the scan instead of skipping every chunk.
			o.err = fmt.Errorf("%w: %w", llm.ErrFatalAPI, err)
			return
		}
		slog.Info("language model initialized", "provider", o.cfg.LLMProvider, "model", model.Model())
		o.oracle = extract.NewLLMOracle(model, o.cfg.Scan.OracleTimeout, o.metrics)
	})
	if o.err != nil {
		return nil, o.err
	}
	return o.oracle.Extract(ctx, text)
}
