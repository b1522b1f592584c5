// Package server builds the knowledge engine's dependency graph and runs the
// pipeline alongside the operator HTTP API.
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

	"github.com/JakeFAU/knowledge-engine/internal/api"
	"github.com/JakeFAU/knowledge-engine/internal/clock/system"
	"github.com/JakeFAU/knowledge-engine/internal/config"
	"github.com/JakeFAU/knowledge-engine/internal/crawl"
	"github.com/JakeFAU/knowledge-engine/internal/extractor"
	collyfetcher "github.com/JakeFAU/knowledge-engine/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/knowledge-engine/internal/fetcher/headless"
	"github.com/JakeFAU/knowledge-engine/internal/hash/sha256"
	"github.com/JakeFAU/knowledge-engine/internal/headless/detector"
	"github.com/JakeFAU/knowledge-engine/internal/id/uuid"
	"github.com/JakeFAU/knowledge-engine/internal/knowledge"
	"github.com/JakeFAU/knowledge-engine/internal/logging"
	"github.com/JakeFAU/knowledge-engine/internal/metrics"
	"github.com/JakeFAU/knowledge-engine/internal/pipeline"
	"github.com/JakeFAU/knowledge-engine/internal/policy/ratelimit"
	"github.com/JakeFAU/knowledge-engine/internal/policy/simple"
	"github.com/JakeFAU/knowledge-engine/internal/progress"
	progresssinks "github.com/JakeFAU/knowledge-engine/internal/progress/sinks"
	gcppublisher "github.com/JakeFAU/knowledge-engine/internal/publisher/pubsub"
	gcsstorage "github.com/JakeFAU/knowledge-engine/internal/storage/gcs"
	localstorage "github.com/JakeFAU/knowledge-engine/internal/storage/local"
	memorystorage "github.com/JakeFAU/knowledge-engine/internal/storage/memory"
	"github.com/JakeFAU/knowledge-engine/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

// App contains the application's dependencies.
type App struct {
	cfg            *config.Config
	logger         *zap.Logger
	stores         *Stores
	supervisor     *pipeline.Supervisor
	apiServer      *api.Server
	progressHub    *progress.Hub
	publisher      *gcppublisher.Publisher
	storage        *storage.Client
	renderer       *headlessfetcher.Fetcher
	tracerShutdown func(context.Context) error
}

// NewApp creates a new App with the given configuration.
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("creating application",
		zap.Bool("server_enabled", cfg.Server.Enabled),
		zap.Int("server_port", cfg.Server.Port),
		zap.String("graph_backend", cfg.Graph.Backend),
		zap.String("archive_backend", cfg.Archive.Backend),
		zap.Bool("headless", cfg.Headless.Enabled),
	)
	return &App{cfg: cfg, logger: logger}, nil
}

// Run starts the pipeline and, when enabled, the HTTP server. It blocks until
// ctx is canceled, SIGINT/SIGTERM arrives or a stage queue fails, then shuts
// everything down: pending retries are flushed first, then the HTTP server
// stops, then progress sinks, clients and stores are closed.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var srv *http.Server
	if a.apiServer != nil {
		srv = &http.Server{
			Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
			Handler:           a.apiServer.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error("http server error", zap.Error(err))
				stop()
			}
		}()
	}

	runErr := a.supervisor.Run(ctx)
	if runErr != nil {
		a.logger.Error("pipeline stopped with error", zap.Error(runErr))
	}
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if srv != nil {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown error", zap.Error(err))
		}
	}

	return errors.Join(runErr, a.Close(shutdownCtx))
}

// Close releases everything Build opened. It does not stop a running
// pipeline; cancel the context passed to Run for that.
func (a *App) Close(ctx context.Context) error {
	err := a.closeInfrastructure(ctx)
	a.closeObservability(ctx)
	a.logger.Info("shutdown complete")
	return err
}

func (a *App) closeInfrastructure(ctx context.Context) error {
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("pubsub publisher close failed", zap.Error(err))
		}
	}
	if a.renderer != nil {
		a.renderer.Close()
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.stores != nil {
		if err := a.stores.Close(); err != nil {
			a.logger.Error("stores close failed", zap.Error(err))
			return err
		}
	}
	return nil
}

func (a *App) closeObservability(ctx context.Context) {
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	// Sync on a console sink reports EINVAL on some platforms; nothing to do about it.
	_ = a.logger.Sync()
}

// Build creates the application's dependencies from cfg. The extractor
// configuration must be valid because Build always assembles the full
// pipeline.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("logger init failed: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return BuildWithLogger(ctx, cfg, logger)
}

// BuildWithLogger is Build with a caller-supplied logger.
func BuildWithLogger(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if err := cfg.ValidateExtractor(); err != nil {
		return nil, err
	}
	app, err := NewApp(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("app init failed: %w", err)
	}
	if err := app.build(ctx); err != nil {
		if cerr := app.Close(context.Background()); cerr != nil {
			app.logger.Warn("cleanup after failed build", zap.Error(cerr))
		}
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	metrics.Init()
	tp, err := telemetry.InitTracerProvider(ctx, a.cfg.Telemetry.ServiceName, a.cfg.Telemetry.StdoutTraces)
	if err != nil {
		return fmt.Errorf("tracer init failed: %w", err)
	}
	a.tracerShutdown = tp.Shutdown

	a.logger.Info("building application dependencies")
	if a.stores, err = OpenStores(ctx, a.cfg, a.logger); err != nil {
		return err
	}

	archive, err := setupArchive(ctx, a)
	if err != nil {
		return err
	}

	crawler, err := setupCrawler(a, archive)
	if err != nil {
		return err
	}

	extract, err := extractor.New(extractor.Config{
		APIKey:      a.cfg.Extractor.APIKey,
		BaseURL:     a.cfg.Extractor.BaseURL,
		Model:       a.cfg.Extractor.Model,
		MaxTokens:   a.cfg.Extractor.MaxTokens,
		Temperature: a.cfg.Extractor.Temperature,
		Timeout:     time.Duration(a.cfg.Extractor.TimeoutSeconds) * time.Second,
	}, a.logger)
	if err != nil {
		return fmt.Errorf("extractor init failed: %w", err)
	}
	a.logger.Info("extractor configured",
		zap.String("base_url", a.cfg.Extractor.BaseURL),
		zap.String("model", a.cfg.Extractor.Model),
	)

	emitter, err := setupProgress(ctx, a)
	if err != nil {
		return err
	}

	a.supervisor, err = pipeline.NewSupervisor(pipeline.Deps{
		Queues:    a.stores.Queues,
		Documents: a.stores.Documents,
		Crawler:   crawler,
		Extractor: extract,
		Graph:     a.stores.Graph,
		Clock:     system.New(),
	}, pipeline.Config{
		FetchPollInterval:      config.Seconds(a.cfg.Pipeline.FetchPollSeconds),
		ExtractPollInterval:    config.Seconds(a.cfg.Pipeline.ExtractPollSeconds),
		GraphMergePollInterval: config.Seconds(a.cfg.Pipeline.GraphMergePollSeconds),
		RetryDelay:             config.Seconds(a.cfg.Pipeline.RetryDelaySeconds),
		ItemTimeout:            time.Duration(a.cfg.Pipeline.ItemTimeoutSeconds) * time.Second,
		DrainTimeout:           time.Duration(a.cfg.Pipeline.DrainTimeoutSeconds) * time.Second,
	}, emitter, a.logger)
	if err != nil {
		return fmt.Errorf("pipeline init failed: %w", err)
	}

	if a.cfg.Server.Enabled {
		a.apiServer, err = api.NewServer(api.Deps{
			Submitter: a.supervisor,
			Documents: a.stores.Documents,
			Graph:     a.stores.Graph,
			IDs:       uuid.NewUUIDGenerator(),
			Ready:     a.stores.Ready,
		}, a.cfg.Auth, a.logger)
		if err != nil {
			return fmt.Errorf("api init failed: %w", err)
		}
	}

	return nil
}

func setupArchive(ctx context.Context, app *App) (knowledge.BlobStore, error) {
	cfg := app.cfg.Archive
	switch cfg.Backend {
	case config.ArchiveGCS:
		app.logger.Info("using GCS archive", zap.String("bucket", cfg.GCSBucket))
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		app.storage = client
		store, err := gcsstorage.New(client, gcsstorage.Config{Bucket: cfg.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("gcs archive init failed: %w", err)
		}
		return store, nil
	case config.ArchiveLocal:
		app.logger.Info("using local archive", zap.String("path", cfg.BaseDir))
		store, err := localstorage.New(localstorage.Config{BaseDir: cfg.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local archive init failed: %w", err)
		}
		return store, nil
	case config.ArchiveMemory:
		app.logger.Info("using in-memory archive")
		return memorystorage.NewBlobStore(), nil
	default:
		app.logger.Info("raw page archiving disabled")
		return nil, nil
	}
}

func setupCrawler(app *App, archive knowledge.BlobStore) (*crawl.Service, error) {
	cfg := app.cfg
	probe := collyfetcher.New(collyfetcher.Config{
		UserAgent:     cfg.Crawler.UserAgent,
		RespectRobots: cfg.Crawler.RespectRobots,
		Timeout:       time.Duration(cfg.Crawler.TimeoutSeconds) * time.Second,
		MaxBodyBytes:  cfg.Crawler.MaxBodyBytes,
	}, app.logger)
	app.logger.Info("using colly probe fetcher",
		zap.String("user_agent", cfg.Crawler.UserAgent),
		zap.Bool("respect_robots", cfg.Crawler.RespectRobots),
	)

	var policy knowledge.RateLimiter
	if cfg.Crawler.RateLimitRPS > 0 {
		policy = ratelimit.New(ratelimit.Config{
			RPS:   cfg.Crawler.RateLimitRPS,
			Burst: cfg.Crawler.RateLimitBurst,
		})
		app.logger.Info("rate limiter enabled",
			zap.Float64("rps", cfg.Crawler.RateLimitRPS),
			zap.Int("burst", cfg.Crawler.RateLimitBurst),
		)
	} else {
		policy = simple.New()
		app.logger.Info("rate limiter disabled, using simple policy")
	}
	opts := []crawl.Option{crawl.WithHasher(sha256.New()), crawl.WithRateLimiter(policy)}
	if archive != nil {
		opts = append(opts, crawl.WithArchive(archive))
	}
	if cfg.Headless.Enabled {
		renderer, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Crawler.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
		}, app.logger)
		if err != nil {
			return nil, fmt.Errorf("headless fetcher init failed: %w", err)
		}
		app.renderer = renderer
		opts = append(opts, crawl.WithRenderer(renderer, detector.NewHeuristic(cfg.Headless.PromotionThresh)))
		app.logger.Info("using headless fetcher", zap.Int("max_parallel", cfg.Headless.MaxParallel))
	}

	svc, err := crawl.New(crawl.Config{
		Headless:           cfg.Headless.Enabled,
		ArchivePrefix:      cfg.Archive.Prefix,
		ArchiveContentType: cfg.Archive.ContentType,
	}, probe, app.logger, opts...)
	if err != nil {
		return nil, fmt.Errorf("crawler init failed: %w", err)
	}
	return svc, nil
}

func setupProgress(ctx context.Context, app *App) (progress.Emitter, error) {
	cfg := app.cfg
	if !cfg.Progress.Enabled {
		app.logger.Info("progress tracking disabled")
		return nil, nil
	}
	var sinkList []progress.Sink
	if cfg.Progress.LogEnabled {
		sinkList = append(sinkList, progresssinks.NewLogSink(app.logger.Named("progress_log")))
	}
	promSink, err := progresssinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	var already prometheus.AlreadyRegisteredError
	switch {
	case err == nil:
		sinkList = append(sinkList, promSink)
	case errors.As(err, &already):
		app.logger.Warn("progress collectors already registered, skipping prometheus sink")
	default:
		return nil, err
	}
	if cfg.PubSub.TopicName != "" {
		app.publisher, err = gcppublisher.Open(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicName)
		if err != nil {
			return nil, err
		}
		sinkList = append(sinkList, progresssinks.NewPublishSink(app.publisher, "", app.logger.Named("progress_publish")))
		app.logger.Info("pub/sub publisher initialized",
			zap.String("project", cfg.PubSub.ProjectID),
			zap.String("topic", cfg.PubSub.TopicName),
		)
	}
	if len(sinkList) == 0 {
		app.logger.Warn("progress tracking enabled but no sinks configured")
		return nil, nil
	}
	hubCfg := progress.Config{
		BufferSize:     cfg.Progress.BufferSize,
		MaxBatchEvents: cfg.Progress.BatchMaxEvents,
		MaxBatchWait:   time.Duration(cfg.Progress.BatchMaxWaitMs) * time.Millisecond,
		SinkTimeout:    time.Duration(cfg.Progress.SinkTimeoutSeconds) * time.Second,
		BaseContext:    context.WithoutCancel(ctx),
		Logger:         app.logger.Named("progress_hub"),
	}
	app.progressHub = progress.NewHub(hubCfg, sinkList...)
	app.logger.Info("progress hub initialized",
		zap.Int("sinks", len(sinkList)),
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
	)
	return app.progressHub, nil
}
