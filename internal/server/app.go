// Package server assembles the harvester's dependencies and runs the HTTP
// server and background workers until shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/qa-harvester/internal/account"
	"github.com/JakeFAU/qa-harvester/internal/answer"
	"github.com/JakeFAU/qa-harvester/internal/api"
	"github.com/JakeFAU/qa-harvester/internal/auth"
	"github.com/JakeFAU/qa-harvester/internal/clock/system"
	"github.com/JakeFAU/qa-harvester/internal/config"
	"github.com/JakeFAU/qa-harvester/internal/dispatcher"
	"github.com/JakeFAU/qa-harvester/internal/export"
	"github.com/JakeFAU/qa-harvester/internal/export/pdf"
	"github.com/JakeFAU/qa-harvester/internal/harvest"
	"github.com/JakeFAU/qa-harvester/internal/hash/sha256"
	"github.com/JakeFAU/qa-harvester/internal/id/uuid"
	"github.com/JakeFAU/qa-harvester/internal/logging"
	"github.com/JakeFAU/qa-harvester/internal/manager"
	"github.com/JakeFAU/qa-harvester/internal/metrics"
	"github.com/JakeFAU/qa-harvester/internal/policy/ratelimit"
	"github.com/JakeFAU/qa-harvester/internal/progress"
	progresssinks "github.com/JakeFAU/qa-harvester/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/qa-harvester/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/qa-harvester/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/qa-harvester/internal/queue/memory"
	collyscraper "github.com/JakeFAU/qa-harvester/internal/scraper/colly"
	"github.com/JakeFAU/qa-harvester/internal/scraper/headless"
	"github.com/JakeFAU/qa-harvester/internal/scraper/process"
	"github.com/JakeFAU/qa-harvester/internal/scraper/template"
	gcsstorage "github.com/JakeFAU/qa-harvester/internal/storage/gcs"
	localstorage "github.com/JakeFAU/qa-harvester/internal/storage/local"
	memoryStorage "github.com/JakeFAU/qa-harvester/internal/storage/memory"
	pgstore "github.com/JakeFAU/qa-harvester/internal/storage/postgres"
	"github.com/JakeFAU/qa-harvester/internal/telemetry"
	"github.com/JakeFAU/qa-harvester/internal/vault"
)

const serviceName = "qa-harvester"

// App holds the application's dependencies.
type App struct {
	cfg       config.Config
	version   string
	logger    *zap.Logger
	apiServer *api.Server
	manager   *manager.Manager
	dispatch  *dispatcher.Dispatcher
	queue     *queueMemory.Queue

	store          harvest.Store
	pgStore        *pgstore.Store
	progressHub    *progress.Hub
	pubsub         *gcppublisher.Publisher
	storage        *storage.Client
	headless       *headless.Scraper
	tracerShutdown func(context.Context) error
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config, version string) (*App, error) {
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)

	app := &App{cfg: cfg, version: version, logger: logger}
	logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("db_provider", cfg.DB.Provider),
		zap.String("scraper", cfg.Scraper.Provider),
		zap.String("generator", cfg.Generator.Provider),
		zap.String("export_archive", cfg.Export.Archive),
	)

	tp, err := telemetry.InitTracerProvider(ctx, serviceName, version)
	if err != nil {
		return nil, fmt.Errorf("tracer init failed: %w", err)
	}
	app.tracerShutdown = tp.Shutdown
	metrics.Init()

	if err = app.setupStore(ctx); err != nil {
		app.Close(ctx)
		return nil, err
	}
	if err = app.wire(ctx); err != nil {
		app.Close(ctx)
		return nil, err
	}
	return app, nil
}

func (a *App) wire(ctx context.Context) error {
	clock := system.New()
	ids := uuid.New()

	secrets, err := vault.New(a.cfg.Vault.Secret)
	if err != nil {
		return fmt.Errorf("vault init failed: %w", err)
	}
	tokens, err := auth.NewTokenService(auth.TokenConfig{
		Secret: a.cfg.Auth.JWTSecret,
		Issuer: a.cfg.Auth.Issuer,
		TTL:    a.cfg.Auth.TokenTTL,
		Clock:  clock,
	})
	if err != nil {
		return fmt.Errorf("token service init failed: %w", err)
	}
	accounts, err := account.New(account.Config{
		Users:     a.store,
		Passwords: auth.NewPasswordService(a.cfg.Auth.PasswordCost),
		Tokens:    tokens,
		Vault:     secrets,
		IDs:       ids,
		Clock:     clock,
		Logger:    a.logger,
	})
	if err != nil {
		return fmt.Errorf("account service init failed: %w", err)
	}

	scraper, err := a.setupScraper()
	if err != nil {
		return err
	}
	emitter, err := a.setupProgress(ctx)
	if err != nil {
		return err
	}

	factory, err := answer.NewFactory(answer.FactoryConfig{
		Provider:    a.cfg.Generator.Provider,
		Model:       a.cfg.Generator.Model,
		APIKey:      a.cfg.Generator.APIKey,
		BaseURL:     a.cfg.Generator.BaseURL,
		Timeout:     a.cfg.Generator.Timeout,
		Temperature: a.cfg.Generator.Temperature,
		MaxTokens:   a.cfg.Generator.MaxTokens,
	})
	if err != nil {
		return fmt.Errorf("generator factory init failed: %w", err)
	}
	pipeline, err := answer.NewPipeline(answer.Config{
		Store:       a.store,
		Limiter:     ratelimit.New(generatorPacing(a.cfg.Generator)),
		LimitKey:    factory.Provider(),
		IDs:         ids,
		Clock:       clock,
		Emitter:     emitter,
		ItemTimeout: a.cfg.Generator.Timeout,
		Logger:      a.logger,
	})
	if err != nil {
		return fmt.Errorf("answer pipeline init failed: %w", err)
	}

	exporter, err := a.setupExport(ctx, clock)
	if err != nil {
		return err
	}

	a.queue = queueMemory.NewQueue(a.cfg.Jobs.QueueDepth)
	a.manager, err = manager.New(manager.Config{
		Store:          a.store,
		Queue:          a.queue,
		Vault:          secrets,
		Scraper:        scraper,
		Generators:     factory,
		Answers:        pipeline,
		Exporter:       exporter,
		IDs:            ids,
		Clock:          clock,
		Emitter:        emitter,
		ScraperName:    a.cfg.Scraper.Provider,
		DefaultLimit:   a.cfg.Jobs.DefaultLimit,
		MaxLimit:       a.cfg.Jobs.MaxLimit,
		EnqueueTimeout: a.cfg.Jobs.EnqueueTimeout,
		Logger:         a.logger,
	})
	if err != nil {
		return fmt.Errorf("job manager init failed: %w", err)
	}
	a.dispatch = dispatcher.NewPool(a.queue, a.manager, a.cfg.Jobs.Workers, a.logger)
	a.logger.Info("worker pool configured",
		zap.Int("workers", a.dispatch.Size()),
		zap.Int("queue_depth", a.cfg.Jobs.QueueDepth),
	)

	a.apiServer = api.NewServer(api.Deps{
		Jobs:           a.manager,
		Accounts:       accounts,
		Tokens:         tokens,
		Ready:          a.ready,
		RequestTimeout: a.cfg.Server.RequestTimeout,
		Logger:         a.logger,
	})
	return nil
}

// generatorPacing prefers a fixed delay between generation calls when one is configured.
func generatorPacing(gc config.GeneratorConfig) ratelimit.Config {
	if gc.Delay > 0 {
		return ratelimit.FromInterval(gc.Delay)
	}
	return ratelimit.Config{RatePerSecond: gc.RatePerSecond, Burst: gc.Burst}
}

func (a *App) setupStore(ctx context.Context) error {
	if a.cfg.DB.Provider != "postgres" {
		a.logger.Warn("using in-memory store; data is lost on restart")
		a.store = memoryStorage.NewStore()
		return nil
	}
	pg, err := pgstore.New(ctx, pgstore.Config{
		DSN:      a.cfg.DB.DSN,
		MaxConns: a.cfg.DB.MaxConns,
		MinConns: a.cfg.DB.MinConns,
	})
	if err != nil {
		return fmt.Errorf("postgres store init failed: %w", err)
	}
	a.pgStore, a.store = pg, pg
	if a.cfg.DB.Migrate {
		if err := pg.Migrate(ctx); err != nil {
			return fmt.Errorf("postgres migrate failed: %w", err)
		}
		a.logger.Info("postgres schema applied")
	}
	return nil
}

func (a *App) setupScraper() (harvest.Scraper, error) {
	sc := a.cfg.Scraper
	logger := a.logger.Named("scraper")
	switch sc.Provider {
	case "process":
		s, err := process.New(process.Config{
			Command: sc.Process.Command,
			Args:    sc.Process.Args,
			Timeout: sc.Process.Timeout,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("process scraper init failed: %w", err)
		}
		a.logger.Info("using process scraper", zap.String("command", sc.Process.Command))
		return s, nil
	case "headless":
		a.headless = headless.New(headless.Config{
			SearchURL:   sc.Headless.SearchURL,
			NavTimeout:  sc.Headless.NavTimeout,
			MaxScrolls:  sc.Headless.MaxScrolls,
			ScrollDelay: sc.Headless.ScrollDelay,
			UserAgent:   sc.Headless.UserAgent,
		}, logger)
		a.logger.Info("using headless scraper", zap.Int("max_scrolls", sc.Headless.MaxScrolls))
		return a.headless, nil
	case "colly":
		s, err := collyscraper.New(collyscraper.Config{
			SearchURL:   sc.Colly.SearchURL,
			LinkPattern: sc.Colly.LinkPattern,
			UserAgent:   sc.Colly.UserAgent,
			Timeout:     sc.Colly.Timeout,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("colly scraper init failed: %w", err)
		}
		a.logger.Info("using colly scraper", zap.String("search_url", sc.Colly.SearchURL))
		return s, nil
	default:
		a.logger.Warn("using template scraper; questions are synthesized locally")
		return template.New(sc.Template.Delay), nil
	}
}

func (a *App) setupProgress(ctx context.Context) (progress.Emitter, error) {
	sinkList := []progress.Sink{progresssinks.NewLogSink(a.logger.Named("progress_log"))}

	promSink, err := progresssinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		return nil, fmt.Errorf("progress metrics sink init failed: %w", err)
	}
	sinkList = append(sinkList, promSink)

	var publisher harvest.Publisher
	topic := a.cfg.PubSub.TopicName
	if topic == "" {
		a.logger.Info("no Pub/Sub topic configured, stage notifications stay in memory")
		publisher, topic = memorypublisher.New(), "stages"
	} else {
		a.pubsub, err = gcppublisher.New(ctx, a.cfg.PubSub.ProjectID, topic)
		if err != nil {
			return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
		}
		publisher = a.pubsub
		a.logger.Info("Pub/Sub publisher initialized",
			zap.String("project", a.cfg.PubSub.ProjectID),
			zap.String("topic", topic),
		)
	}
	pubSink, err := progresssinks.NewPublisherSink(publisher, topic, a.logger.Named("progress_publisher"))
	if err != nil {
		return nil, fmt.Errorf("progress publisher sink init failed: %w", err)
	}
	sinkList = append(sinkList, pubSink)

	hubCfg := progress.Config{
		BufferSize:     a.cfg.Progress.BufferSize,
		MaxBatchEvents: a.cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   a.cfg.Progress.MaxBatchWait,
		SinkTimeout:    a.cfg.Progress.SinkTimeout,
		BaseContext:    context.WithoutCancel(ctx),
		Logger:         a.logger.Named("progress_hub"),
	}
	a.progressHub = progress.NewHub(hubCfg, sinkList...)
	a.logger.Info("progress hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
	)
	return a.progressHub, nil
}

func (a *App) setupExport(ctx context.Context, clock harvest.Clock) (*export.Service, error) {
	ec := a.cfg.Export
	var archive harvest.BlobStore
	switch ec.Archive {
	case "gcs":
		var err error
		a.storage, err = storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		archive, err = gcsstorage.New(a.storage, gcsstorage.Config{Bucket: ec.Bucket})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.logger.Info("archiving exports to GCS", zap.String("bucket", ec.Bucket))
	case "local":
		store, err := localstorage.New(localstorage.Config{BaseDir: ec.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		archive = store
		a.logger.Info("archiving exports locally", zap.String("path", ec.BaseDir))
	case "memory":
		archive = memoryStorage.NewBlobStore()
		a.logger.Info("archiving exports in memory")
	default:
		a.logger.Info("export archiving disabled")
	}
	svc, err := export.New(export.Config{
		Renderer: pdf.New(clock),
		Archive:  archive,
		Hasher:   sha256.New(),
		Prefix:   ec.Prefix,
		Logger:   a.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("export service init failed: %w", err)
	}
	return svc, nil
}

func (a *App) ready(ctx context.Context) error {
	if a.pgStore == nil {
		return nil
	}
	if err := a.pgStore.Ping(ctx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	return nil
}

// Run starts the workers and the HTTP server and blocks until a signal
// arrives or ctx ends.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started", zap.String("version", a.version))
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	workersDone := make(chan struct{})
	go func() {
		defer close(workersDone)
		a.logger.Info("dispatcher started")
		a.dispatch.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: a.cfg.Server.ReadHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", zap.Error(err))
			serveErr <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}

	a.queue.Close()
	select {
	case <-workersDone:
	case <-shutdownCtx.Done():
		a.logger.Warn("workers did not stop before the shutdown deadline")
	}
	if pending := a.queue.Drain(); len(pending) > 0 {
		a.logger.Warn("failing queued tasks", zap.Int("count", len(pending)))
		a.manager.FailPending(shutdownCtx, pending)
	}

	a.Close(shutdownCtx)
	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}

func (a *App) shutdownTimeout() time.Duration {
	if a.cfg.Server.ShutdownTimeout > 0 {
		return a.cfg.Server.ShutdownTimeout
	}
	return 10 * time.Second
}

// Close releases infrastructure in reverse build order. Safe on a partially built App.
func (a *App) Close(ctx context.Context) {
	a.closeInfrastructure(ctx)
	a.closeObservability(ctx)
	a.logger.Info("shutdown complete")
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.pubsub != nil {
		if err := a.pubsub.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.headless != nil {
		a.headless.Close()
	}
	if a.store != nil {
		a.store.Close()
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
