package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aretw0/pergola"
	"github.com/aretw0/pergola/internal/config"
	"github.com/aretw0/pergola/internal/logging"
	"github.com/aretw0/pergola/internal/report"
	"github.com/aretw0/pergola/pkg/adapters/file"
	pergolaloam "github.com/aretw0/pergola/pkg/adapters/loam"
	"github.com/aretw0/pergola/pkg/adapters/memory"
	"github.com/aretw0/pergola/pkg/adapters/process"
	"github.com/aretw0/pergola/pkg/adapters/redis"
	"github.com/aretw0/pergola/pkg/graph"
	"github.com/aretw0/pergola/pkg/observability"
	"github.com/aretw0/pergola/pkg/persistence/middleware"
	"github.com/aretw0/pergola/pkg/ports"
	"github.com/aretw0/pergola/pkg/registry"
)

// Options are the command-line overrides layered over the config file.
type Options struct {
	ConfigPath string
	Graph      string
	Topology   string
	Debug      bool
}

// App bundles an engine with the resources it was built from.
type App struct {
	Config   config.Config
	Logger   *slog.Logger
	Engine   *pergola.Engine
	Registry *registry.Registry
	// Loader is set when the graph comes from a topology directory.
	Loader *pergolaloam.Loader
	// Metrics is the Prometheus registry the engine reports to.
	Metrics *prometheus.Registry

	closers []io.Closer
}

// Close releases the store connections.
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// NewApp loads the configuration and wires an engine with standard CLI
// conventions.
func NewApp(ctx context.Context, opts Options) (*App, error) {
	path := opts.ConfigPath
	if path == "" {
		path = config.DefaultPath
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if opts.Graph != "" {
		cfg.Graph = opts.Graph
	}
	if opts.Topology != "" {
		cfg.Topology = opts.Topology
	}
	if opts.Debug {
		cfg.Log.Level = "debug"
	}
	return NewAppFromConfig(ctx, cfg)
}

// NewAppFromConfig wires an engine from an already loaded configuration.
func NewAppFromConfig(ctx context.Context, cfg config.Config) (*App, error) {
	logger, err := createLogger(cfg.Log)
	if err != nil {
		return nil, err
	}
	app := &App{Config: cfg, Logger: logger}

	// 1. Workflows
	app.Registry, err = report.Builtin(report.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	if err := app.registerProcesses(); err != nil {
		return nil, err
	}
	g, err := app.loadGraph(ctx)
	if err != nil {
		return nil, err
	}

	// 2. Persistence
	store, locker := app.createStore(cfg.Store)

	// 3. Observability
	app.Metrics = prometheus.NewRegistry()
	metrics := observability.NewMetrics(app.Metrics)
	hooks := metrics.Hooks()
	if cfg.Log.Level == "debug" {
		hooks = hooks.Merge(observability.LogHooks(logger))
	}

	// 4. Engine
	engineOpts := []pergola.Option{
		pergola.WithLogger(logger),
		pergola.WithStore(store),
		pergola.WithLifecycleHooks(hooks),
	}
	if mws := createMiddleware(cfg); len(mws) > 0 {
		engineOpts = append(engineOpts, pergola.WithMiddleware(mws...))
	}
	if locker != nil {
		engineOpts = append(engineOpts, pergola.WithLocker(locker))
	}
	if n := cfg.Engine.MaxConcurrency; n > 0 {
		engineOpts = append(engineOpts, pergola.WithMaxConcurrency(n))
	}
	if n := cfg.Engine.RecursionLimit; n > 0 {
		engineOpts = append(engineOpts, pergola.WithRecursionLimit(n))
	}
	if cfg.Engine.HistoryLimit != nil {
		engineOpts = append(engineOpts, pergola.WithHistoryLimit(*cfg.Engine.HistoryLimit))
	}
	if len(cfg.Engine.InterruptBefore) > 0 {
		engineOpts = append(engineOpts, pergola.WithInterruptBefore(cfg.Engine.InterruptBefore...))
	}
	if len(cfg.Engine.InterruptAfter) > 0 {
		engineOpts = append(engineOpts, pergola.WithInterruptAfter(cfg.Engine.InterruptAfter...))
	}

	app.Engine, err = pergola.New(g, engineOpts...)
	if err != nil {
		_ = app.Close()
		return nil, fmt.Errorf("error initializing engine: %w", err)
	}
	logger.Debug("engine ready", "graph", g.Name(), "store", cfg.Store.Type)
	return app, nil
}

func createLogger(cfg config.LogConfig) (*slog.Logger, error) {
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	return logging.NewWithFormat(cfg.Format, level)
}

// loadGraph compiles the topology directory when one is configured and
// otherwise picks a built-in workflow by name.
func (a *App) loadGraph(ctx context.Context) (*graph.Graph, error) {
	if a.Config.Topology == "" {
		return a.Registry.Graph(a.Config.Graph)
	}
	loader, err := pergolaloam.Open(a.Config.Topology, a.Registry)
	if err != nil {
		return nil, err
	}
	a.Loader = loader
	g, err := loader.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load topology %s: %w", a.Config.Topology, err)
	}
	return g, nil
}

// registerProcesses adds the configured external commands to the registry.
func (a *App) registerProcesses() error {
	if a.Config.Processes == "" {
		return nil
	}
	procs, err := process.LoadProcesses(a.Config.Processes)
	if err != nil {
		return err
	}
	runner := process.NewRunner(
		process.WithRegistry(procs),
		process.WithBaseDir(a.Config.Topology),
		process.WithLogger(a.Logger),
	)
	runner.Install(a.Registry)
	a.Logger.Debug("process nodes registered", "nodes", runner.Names())
	return nil
}

func (a *App) createStore(cfg config.StoreConfig) (ports.CheckpointStore, ports.DistributedLocker) {
	switch cfg.Type {
	case config.StoreFile:
		return file.New(cfg.Path), nil
	case config.StoreRedis:
		opts := []redis.Option{redis.WithPrefix(cfg.Prefix + "thread:")}
		if cfg.TTL > 0 {
			opts = append(opts, redis.WithTTL(cfg.TTL))
		}
		store := redis.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, opts...)
		a.closers = append(a.closers, store)
		if !cfg.Lock {
			return store, nil
		}
		return store, redis.NewLocker(store.Client(), cfg.Prefix)
	default:
		return memory.NewStore(), nil
	}
}

// createMiddleware orders PII redaction before encryption so masking sees
// plaintext.
func createMiddleware(cfg config.Config) []middleware.Middleware {
	var mws []middleware.Middleware
	if len(cfg.Redact) > 0 {
		mws = append(mws, middleware.NewPIIMiddleware(cfg.Redact))
	}
	if cfg.EncryptionKey != nil {
		mws = append(mws, middleware.NewEncryptionMiddleware(middleware.EncryptionConfig{ActiveKey: cfg.EncryptionKey}))
	}
	return mws
}
