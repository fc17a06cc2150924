package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mindpalace/internal/annotator"
	"github.com/fyrsmithlabs/mindpalace/internal/config"
	"github.com/fyrsmithlabs/mindpalace/internal/feed"
	httpserver "github.com/fyrsmithlabs/mindpalace/internal/http"
	"github.com/fyrsmithlabs/mindpalace/internal/liveview"
	"github.com/fyrsmithlabs/mindpalace/internal/logging"
	"github.com/fyrsmithlabs/mindpalace/internal/store"
	"github.com/fyrsmithlabs/mindpalace/internal/submission"
	"github.com/fyrsmithlabs/mindpalace/internal/telemetry"
)

const instrumentationName = "github.com/fyrsmithlabs/mindpalace"

func newServeCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the mindpalace HTTP service",
		Long: `Start the mindpalace HTTP service with the record store, change feed
and annotator.

Configuration is read from the config file and environment variables.
Edits to the config file reach the annotator without a restart.

Examples:
  # Start with defaults (embedded change feed, port 3000)
  mindpalace serve

  # Use an external NATS server and a different port
  FEED_URL=nats://localhost:4222 SERVER_HTTP_PORT=8080 mindpalace serve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd, opts)
		},
	}
}

func runServe(cmd *cobra.Command, opts *options) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := run(ctx, opts.configPath)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// run starts the service and blocks until ctx is cancelled.
//
// Startup order:
//  1. Load configuration
//  2. Initialize telemetry and logger
//  3. Start or connect to the change feed
//  4. Open the record store
//  5. Build the annotator and watch the config file
//  6. Build the submission flow
//  7. Serve HTTP
//
// Returns http.ErrServerClosed on graceful shutdown, after in-flight
// annotations have drained.
func run(ctx context.Context, path string) error {
	cfg, err := config.LoadWithFile(path)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	tel, err := telemetry.New(ctx, telemetry.FromAppConfig(cfg.Otel, version))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		_ = tel.Shutdown(shutdownCtx)
	}()

	logger, err := initLogger(cfg, tel)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()
	zl := logger.Underlying()

	if health := tel.Health(); health.Degraded {
		zl.Warn("telemetry degraded", zap.Strings("reasons", health.Reasons))
	}

	logger.Info(ctx, "starting mindpalace",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("store", cfg.Store.Path),
		zap.Bool("embedded_feed", cfg.Feed.Embedded()),
		logging.Secret("ai_api_key", cfg.AI.APIKey))

	deps, err := initDependencies(cfg, zl)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.Close()

	annotatorLog := logger.Named("annotator").Underlying()
	llm := annotator.NewLLMClient(func() (annotator.LLMConfig, error) {
		current, err := config.LoadWithFile(path)
		if err != nil {
			return annotator.LLMConfig{}, err
		}
		return annotator.LLMConfigFromApp(current.AI), nil
	}, annotatorLog)
	stopWatch := watchConfig(ctx, path, llm, logger.Named("config").Underlying())
	defer stopWatch()

	ann, err := annotator.New(llm, deps.store, annotator.ConfigFromApp(cfg.AI),
		annotator.WithLogger(annotatorLog),
		annotator.WithTracer(tel.Tracer(instrumentationName)))
	if err != nil {
		return fmt.Errorf("failed to create annotator: %w", err)
	}

	submitLog := logger.Named("submission").Underlying()
	dispatcher := newDispatcher(cfg, ann, submitLog)
	defer func() {
		drainCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := submission.Drain(drainCtx, dispatcher); err != nil {
			zl.Warn("annotations still running at shutdown", zap.Error(err))
		}
	}()

	srv, err := httpserver.NewServer(httpserver.Deps{
		Thoughts:  deps.store,
		Submitter: submission.NewFlow(deps.store, dispatcher, submitLog),
		Annotator: ann,
		Changes:   liveview.FeedSubscriber(deps.feed),
		Meter:     tel.Meter(instrumentationName),
	}, zl, &httpserver.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create http server: %w", err)
	}

	logger.Info(ctx, "server configured",
		zap.String("health_endpoint", fmt.Sprintf("http://%s:%d/health", cfg.Server.Host, cfg.Server.Port)),
		zap.String("metrics_endpoint", "/metrics"),
		zap.Bool("remote_annotator", cfg.AI.Endpoint != ""))

	return srv.Start(ctx)
}

// watchConfig drops the cached Annotation Service client whenever the
// config file changes, so the next annotation reloads settings such as a
// rotated API key. A missing config directory only disables the watch.
func watchConfig(ctx context.Context, path string, llm *annotator.LLMClient, logger *zap.Logger) func() {
	resolved, err := config.ResolvePath(path)
	if err != nil {
		logger.Warn("config watch disabled", zap.Error(err))
		return func() {}
	}
	w, err := config.NewWatcher(resolved, logger)
	if err != nil {
		logger.Warn("config watch disabled", zap.Error(err))
		return func() {}
	}
	if err := w.Start(ctx, llm.Reset); err != nil {
		w.Stop()
		logger.Warn("config watch disabled", zap.String("path", resolved), zap.Error(err))
		return func() {}
	}
	return w.Stop
}

func initLogger(cfg *config.Config, tel *telemetry.Telemetry) (*logging.Logger, error) {
	lcfg, err := logging.FromAppConfig(cfg.Log)
	if err != nil {
		return nil, err
	}
	lcfg.Output.OTEL = tel.IsEnabled()
	return logging.NewLogger(lcfg, tel.LoggerProvider())
}

// newDispatcher annotates in-process unless ai.endpoint names a remote
// analyze endpoint.
func newDispatcher(cfg *config.Config, ann *annotator.Annotator, logger *zap.Logger) submission.Dispatcher {
	if cfg.AI.Endpoint != "" {
		return submission.NewHTTPDispatcher(cfg.AI.Endpoint, nil, logger)
	}
	return submission.NewAsyncDispatcher(ann, logger)
}

// dependencies holds the infrastructure behind the service.
type dependencies struct {
	nats  *natsserver.Server
	feed  *feed.Feed
	store *store.Store
}

// Close releases resources in reverse start order.
func (d *dependencies) Close() {
	if d.store != nil {
		_ = d.store.Close()
	}
	if d.feed != nil {
		_ = d.feed.Close()
	}
	if d.nats != nil {
		d.nats.Shutdown()
		d.nats.WaitForShutdown()
	}
}

func initDependencies(cfg *config.Config, logger *zap.Logger) (*dependencies, error) {
	deps := &dependencies{}

	url := cfg.Feed.URL
	if cfg.Feed.Embedded() {
		ns, err := feed.StartEmbedded(feed.EmbeddedOptions{
			Host:  cfg.Feed.EmbeddedHost,
			Port:  cfg.Feed.EmbeddedPort,
			Token: cfg.Feed.Token,
		})
		if err != nil {
			return nil, err
		}
		deps.nats = ns
		url = ns.ClientURL()
	}

	f, err := feed.Connect(url, cfg.Feed.Token, logger)
	if err != nil {
		deps.Close()
		return nil, err
	}
	deps.feed = f

	st, err := store.Open(cfg.Store.Path, store.WithNotifier(f), store.WithLogger(logger))
	if err != nil {
		deps.Close()
		return nil, err
	}
	deps.store = st

	return deps, nil
}
