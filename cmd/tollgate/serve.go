package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"mercator-hq/tollgate/pkg/cli"
	"mercator-hq/tollgate/pkg/config"
	"mercator-hq/tollgate/pkg/database"
	"mercator-hq/tollgate/pkg/limits/ratelimit"
	"mercator-hq/tollgate/pkg/limits/storage"
	"mercator-hq/tollgate/pkg/notify"
	"mercator-hq/tollgate/pkg/proxy/middleware"
	"mercator-hq/tollgate/pkg/server"
	"mercator-hq/tollgate/pkg/telemetry/errortrack"
	"mercator-hq/tollgate/pkg/telemetry/health"
	"mercator-hq/tollgate/pkg/telemetry/logging"
	"mercator-hq/tollgate/pkg/telemetry/metrics"
	"mercator-hq/tollgate/pkg/telemetry/retention"
	"mercator-hq/tollgate/pkg/telemetry/tracing"
)

var serveFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the Tollgate server",
	Long: `Start the Tollgate server with the specified configuration.

The server listens on the configured address, admits application requests
through the rate limiter and serves the metrics, health, error statistics
and admin routes.

Examples:
  # Start with built-in defaults
  tollgate serve

  # Start with a configuration file
  tollgate serve --config /etc/tollgate/config.yaml

  # Override listen address
  tollgate serve --listen 0.0.0.0:8080

  # Validate config and wire components without listening
  tollgate serve --dry-run`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&serveFlags.listenAddress, "listen", "l", "", "override listen address")
	serveCmd.Flags().StringVar(&serveFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	serveCmd.Flags().BoolVar(&serveFlags.dryRun, "dry-run", false, "wire all components without starting the server")
}

// app holds every long-lived component of a running server.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	tracer    *tracing.Tracer
	sink      notify.Sink
	store     storage.Store
	db        *database.DB
	registry  *metrics.Registry
	collector *metrics.Collector
	tracker   *errortrack.Tracker
	limiter   *ratelimit.Limiter
	admission *middleware.Admission
	checker   *health.Checker
	cleanup   *retention.Scheduler
	server    *server.Server
}

// newApp opens the dependencies named by cfg and wires them together. On
// error everything opened so far is closed.
func newApp(ctx context.Context, cfg *config.Config, logger *logging.Logger) (a *app, err error) {
	a = &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.close(context.Background())
			a = nil
		}
	}()

	a.tracer, err = tracing.New(&cfg.Telemetry.Tracing, tracing.WithVersion(Version))
	if err != nil {
		return a, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	a.sink, err = notify.New(cfg.Notify, logger.Logger)
	if err != nil {
		return a, fmt.Errorf("failed to initialize notify sink: %w", err)
	}

	a.store, err = storage.Open(ctx, storage.OptionsFrom(cfg.CounterStore))
	if err != nil {
		return a, fmt.Errorf("failed to open counter store: %w", err)
	}
	logger.Info("counter store opened", "backend", cfg.CounterStore.Backend)

	if cfg.Database.Enabled {
		a.db, err = database.Open(ctx, cfg.Database)
		if err != nil {
			return a, fmt.Errorf("failed to open database: %w", err)
		}
		logger.Info("database opened", "driver", cfg.Database.Driver, "tables", len(cfg.Database.Tables))
	}

	a.registry = metrics.NewRegistry(metrics.WithHistogramSize(cfg.Telemetry.Metrics.HistogramSize))

	collectorOpts := []metrics.CollectorOption{
		metrics.WithCounterStore(a.store),
		metrics.WithLogger(logger.Logger),
	}
	if a.db != nil {
		collectorOpts = append(collectorOpts, metrics.WithDatabase(a.db), metrics.WithBusinessStore(a.db))
	}
	a.collector = metrics.NewCollector(a.registry, metrics.CollectorConfigFrom(cfg.Telemetry.Metrics), collectorOpts...)

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		metrics.NewBridge(a.registry),
	)

	a.tracker = errortrack.New(errortrack.ConfigFrom(cfg.Telemetry.Errors),
		errortrack.WithRegistry(a.registry),
		errortrack.WithSink(a.sink),
		errortrack.WithRedactor(logger.Redactor()),
		errortrack.WithLogger(logger.Logger),
	)

	a.limiter = ratelimit.New(a.store, ratelimit.Config{
		Prefix:       cfg.RateLimit.KeyPrefix,
		StoreTimeout: cfg.RateLimit.StoreTimeout,
		Metrics:      ratelimit.NewMetrics(promRegistry),
		Logger:       logger.Logger,
	})

	if cfg.RateLimit.Enabled {
		admissionCfg := middleware.AdmissionConfigFrom(cfg.RateLimit)
		admissionCfg.Logger = logger.Logger
		a.admission = middleware.NewAdmission(a.limiter, admissionCfg)
	}

	a.checker = health.New(cfg.Telemetry.Health.CheckTimeout)
	a.checker.Register("counter_store", health.PingCheck(a.store), false)
	if a.db != nil {
		a.checker.Register("database", health.PingCheck(a.db), true)
	}

	a.cleanup = retention.NewScheduler(cfg.Telemetry.Cleanup.Schedule,
		retention.MetricsTask(a.collector),
		retention.ErrorsTask(a.tracker),
	)

	a.server = server.NewServer(cfg, server.Deps{
		Limiter:   a.limiter,
		Admission: a.admission,
		Registry:  a.registry,
		Collector: a.collector,
		Tracker:   a.tracker,
		Health:    a.checker,
		Gatherer:  promRegistry,
		Version:   Version,
		Commit:    GitCommit,
		BuildDate: BuildDate,
		Logger:    logger.Logger,
	})

	return a, nil
}

// applyReload pushes the parts of cfg that can change at runtime into the
// running components.
func (a *app) applyReload(cfg *config.Config) {
	if err := a.logger.SetLevel(cfg.Telemetry.Logging.Level); err != nil {
		a.logger.Warn("ignoring reloaded log level", "error", err)
	}
	a.tracker.SetThresholds(cfg.Telemetry.Errors.Alerts)
	if a.admission != nil {
		admissionCfg := middleware.AdmissionConfigFrom(cfg.RateLimit)
		admissionCfg.Logger = a.logger.Logger
		a.admission.Update(admissionCfg)
	}
	a.logger.Info("configuration reloaded",
		"max_requests", cfg.RateLimit.Default.MaxRequests,
		"window", cfg.RateLimit.Default.Window,
		"route_quotas", len(cfg.RateLimit.Routes),
	)
}

// start launches the background loops. The server itself is started by runServe.
func (a *app) start(ctx context.Context) error {
	if a.cfg.Telemetry.Metrics.Enabled {
		if err := a.collector.Start(ctx); err != nil {
			return fmt.Errorf("failed to start metrics collector: %w", err)
		}
	}
	if err := a.cleanup.Start(ctx); err != nil {
		return fmt.Errorf("failed to start cleanup scheduler: %w", err)
	}
	if next := a.cleanup.NextRun(); next != nil {
		a.logger.Debug("cleanup scheduled", "next_run", next)
	}
	return nil
}

// close releases everything newApp opened, in reverse order.
func (a *app) close(ctx context.Context) {
	if a.cleanup != nil {
		a.cleanup.Stop()
	}
	if a.collector != nil {
		a.collector.Stop()
	}
	// The tracker owns the sink once created.
	if a.tracker != nil {
		if err := a.tracker.Close(); err != nil {
			a.logger.Warn("failed to close error tracker", "error", err)
		}
	} else if a.sink != nil {
		if err := a.sink.Close(); err != nil {
			a.logger.Warn("failed to close notify sink", "error", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("failed to close database", "error", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("failed to close counter store", "error", err)
		}
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(ctx); err != nil {
			a.logger.Warn("failed to flush traces", "error", err)
		}
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := config.Initialize(cfgFile); err != nil {
		return cli.WrapConfigError(err)
	}
	cfg := config.GetConfig()

	// Apply flag overrides
	if serveFlags.listenAddress != "" {
		cfg.Server.ListenAddress = serveFlags.listenAddress
	}
	if serveFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = serveFlags.logLevel
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}

	logger, err := logging.New(logging.FromConfig(cfg.Telemetry.Logging))
	if err != nil {
		return cli.NewConfigError("telemetry.logging", err.Error())
	}
	slog.SetDefault(logger.Logger)

	ctx, stop := cli.SetupSignalHandler(context.Background())
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return cli.NewCommandError("serve", err)
	}

	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
		defer cancel()
		a.close(closeCtx)
	}()

	if serveFlags.dryRun {
		fmt.Fprintln(cmd.OutOrStdout(), "✓ Configuration valid, components wired")
		return nil
	}

	config.OnReload(a.applyReload)
	if cfg.Watch.Enabled && cfgFile != "" {
		watcher, err := config.NewWatcher(cfgFile, cfg.Watch.Debounce, logger.Logger)
		if err != nil {
			return cli.NewCommandError("serve", err)
		}
		defer watcher.Stop()
		go func() {
			err := watcher.Watch(ctx, func() error { return config.ReloadConfig(cfgFile) })
			if err != nil {
				logger.Error("config watcher stopped", "error", err)
			}
		}()
	}

	if err := a.start(ctx); err != nil {
		return cli.NewCommandError("serve", err)
	}

	fmt.Fprintf(os.Stderr, "Tollgate v%s listening on %s\n", Version, cfg.Server.ListenAddress)
	if err := a.server.Start(ctx); err != nil {
		return cli.NewCommandError("serve", err)
	}

	logger.Info("server stopped")
	return nil
}
