// Package server builds the site map service from configuration and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-spider/internal/api"
	"github.com/JakeFAU/site-spider/internal/archive"
	"github.com/JakeFAU/site-spider/internal/clock/system"
	"github.com/JakeFAU/site-spider/internal/config"
	"github.com/JakeFAU/site-spider/internal/crawler"
	collyfetcher "github.com/JakeFAU/site-spider/internal/fetcher/colly"
	"github.com/JakeFAU/site-spider/internal/id/uuid"
	"github.com/JakeFAU/site-spider/internal/metrics"
	"github.com/JakeFAU/site-spider/internal/policy/ratelimit"
	memorypublisher "github.com/JakeFAU/site-spider/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/site-spider/internal/publisher/pubsub"
	gcsstorage "github.com/JakeFAU/site-spider/internal/storage/gcs"
	localstorage "github.com/JakeFAU/site-spider/internal/storage/local"
	memorystorage "github.com/JakeFAU/site-spider/internal/storage/memory"
)

const shutdownTimeout = 10 * time.Second

// App contains the application's dependencies.
type App struct {
	cfg          config.Config
	logger       *zap.Logger
	apiServer    *api.Server
	registry     *crawler.Registry
	pubsubClient *pubsub.Client
	publisher    *gcppublisher.Publisher
	storage      *storage.Client
}

// Build creates the application's dependencies. logger becomes the process
// global logger.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	app := &App{cfg: cfg, logger: logger}
	metrics.Init()

	app.logger.Info("building application dependencies", zap.Int("server_port", cfg.Server.Port))

	var hooks []crawler.CompletionHook
	hook, err := app.setupArchive(ctx)
	if err != nil {
		app.closeInfrastructure()
		return nil, err
	}
	if hook != nil {
		hooks = append(hooks, hook)
	}

	clock := system.New()
	engine := BuildEngine(cfg, clock, logger.Named("engine"))
	app.registry = crawler.NewRegistry(
		memorystorage.NewSiteMapStore(),
		engine,
		uuid.New(uuid.DefaultPrefix),
		clock,
		logger.Named("registry"),
		hooks...,
	)
	app.apiServer = api.NewServer(app.registry, cfg, logger.Named("api"))
	return app, nil
}

// BuildEngine wires the crawl engine: a colly fetcher paced by the
// per-domain limiter and a robots cache sharing the same transport.
func BuildEngine(cfg config.Config, clock crawler.Clock, logger *zap.Logger) *crawler.Engine {
	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.Crawler.RateLimitPerDomain,
		DefaultBurst: cfg.Crawler.RateLimitBurst,
	})
	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent:   cfg.Crawler.UserAgent,
		TextTimeout: cfg.Robots.Timeout,
	}, limiter)
	logger.Info("using colly fetcher",
		zap.String("user_agent", cfg.Crawler.UserAgent),
		zap.Float64("rate_limit_per_domain", cfg.Crawler.RateLimitPerDomain),
	)
	robots := crawler.NewRobotsCache(fetcher, logger.Named("robots"))
	return crawler.NewEngine(fetcher, robots, clock, logger, crawler.EngineConfig{
		IdleBackoff: cfg.Crawler.IdleBackoff,
	})
}

// Handler returns the HTTP handler of the API.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Registry returns the job registry.
func (a *App) Registry() *crawler.Registry {
	return a.registry
}

// Run serves the API and blocks until ctx is canceled or a termination
// signal arrives, then shuts down.
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("application started")
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
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

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	a.Close()

	select {
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}

// Close stops running crawls, waits for their completion hooks and releases
// cloud clients.
func (a *App) Close() {
	if a.registry != nil {
		a.registry.Close()
	}
	a.closeInfrastructure()
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
}

func (a *App) closeInfrastructure() {
	if a.publisher != nil {
		a.publisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
}

// setupArchive returns the completion hook, or nil when neither archiving nor
// notifications are configured.
func (a *App) setupArchive(ctx context.Context) (crawler.CompletionHook, error) {
	blobStore, err := a.setupStorage(ctx)
	if err != nil {
		return nil, err
	}
	publisher, err := a.setupPublisher(ctx)
	if err != nil {
		return nil, err
	}
	if blobStore == nil && publisher == nil {
		return nil, nil
	}
	return archive.New(blobStore, publisher, archive.Config{
		Prefix: a.cfg.Archive.Prefix,
		Topic:  a.cfg.Notify.Topic,
	}, a.logger.Named("archive")), nil
}

func (a *App) setupStorage(ctx context.Context) (crawler.BlobStore, error) {
	if !a.cfg.Archive.Enabled {
		a.logger.Info("export archive disabled")
		return nil, nil
	}
	switch a.cfg.Archive.Backend {
	case config.ArchiveGCS:
		a.logger.Info("using GCS archive backend")
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.storage = client
		blobStore, err := gcsstorage.New(client, gcsstorage.Config{
			Bucket:       a.cfg.Archive.GCSBucket,
			CacheControl: a.cfg.Archive.GCSCacheControl,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.logger.Debug("GCS archive backend", zap.String("bucket", a.cfg.Archive.GCSBucket))
		return blobStore, nil
	case config.ArchiveLocal:
		a.logger.Info("using local archive backend")
		blobStore, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Archive.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		a.logger.Debug("local archive backend", zap.String("path", a.cfg.Archive.BaseDir))
		return blobStore, nil
	default:
		a.logger.Info("using in-memory archive backend")
		return memorystorage.NewBlobStore(), nil
	}
}

func (a *App) setupPublisher(ctx context.Context) (crawler.Publisher, error) {
	switch a.cfg.Notify.Backend {
	case config.NotifyPubSub:
		client, err := pubsub.NewClient(ctx, a.cfg.Notify.ProjectID)
		if err != nil {
			return nil, fmt.Errorf("pubsub client init failed: %w", err)
		}
		a.pubsubClient = client
		a.publisher = gcppublisher.New(client)
		a.logger.Info(
			"Pub/Sub publisher initialized",
			zap.String("project", a.cfg.Notify.ProjectID),
			zap.String("topic", a.cfg.Notify.Topic),
		)
		return a.publisher, nil
	case config.NotifyMemory:
		a.logger.Info("using in-memory completion publisher", zap.String("topic", a.cfg.Notify.Topic))
		return memorypublisher.New(memorypublisher.WithLogger(a.logger.Named("notify"))), nil
	default:
		a.logger.Info("completion notifications disabled")
		return nil, nil
	}
}
