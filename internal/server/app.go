// Package server builds the application from configuration and runs it.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/storage"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/JakeFAU/webthumb/internal/api"
	"github.com/JakeFAU/webthumb/internal/archive"
	"github.com/JakeFAU/webthumb/internal/browser"
	"github.com/JakeFAU/webthumb/internal/config"
	"github.com/JakeFAU/webthumb/internal/imaging"
	"github.com/JakeFAU/webthumb/internal/logging"
	"github.com/JakeFAU/webthumb/internal/metrics"
	"github.com/JakeFAU/webthumb/internal/publisher"
	memorypublisher "github.com/JakeFAU/webthumb/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/webthumb/internal/publisher/pubsub"
	blobstore "github.com/JakeFAU/webthumb/internal/storage"
	gcsstorage "github.com/JakeFAU/webthumb/internal/storage/gcs"
	localstorage "github.com/JakeFAU/webthumb/internal/storage/local"
	memorystorage "github.com/JakeFAU/webthumb/internal/storage/memory"
	pgstore "github.com/JakeFAU/webthumb/internal/storage/postgres"
	"github.com/JakeFAU/webthumb/internal/telemetry"
	"github.com/JakeFAU/webthumb/internal/thumbnail"
)

// App contains the application's dependencies.
type App struct {
	cfg       *config.Config
	logger    *zap.Logger
	fs        afero.Fs
	pipeline  *thumbnail.Pipeline
	apiServer *api.Server
	recorder  *archive.Recorder
	storage   *storage.Client
	renders   *pgstore.RenderStore
	publisher *gcppublisher.Publisher
	telemetry *telemetry.Providers

	closeOnce sync.Once
	closeErr  error
}

// Option customizes Build.
type Option func(*App)

// WithLogger replaces the logger built from cfg.Logging.
func WithLogger(logger *zap.Logger) Option {
	return func(a *App) { a.logger = logger }
}

// WithFs replaces the OS filesystem used for executable discovery and the local archive.
func WithFs(fs afero.Fs) Option {
	return func(a *App) { a.fs = fs }
}

// Build creates the application's dependencies. On error everything already opened is closed.
func Build(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	app := &App{cfg: cfg, fs: afero.NewOsFs()}
	for _, opt := range opts {
		opt(app)
	}
	if app.logger == nil {
		logger, err := logging.New(cfg.Logging.Development)
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		app.logger = logger
		zap.ReplaceGlobals(logger)
	}
	app.logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.Bool("archive_enabled", cfg.Archive.Enabled),
	)
	metrics.Init()

	if err := app.build(ctx); err != nil {
		if cerr := app.Close(context.Background()); cerr != nil {
			app.logger.Warn("cleanup after failed build", zap.Error(cerr))
		}
		return nil, err
	}
	return app, nil
}

func (a *App) build(ctx context.Context) error {
	var err error
	a.telemetry, err = telemetry.Init(ctx, a.cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("telemetry init failed: %w", err)
	}

	capturer, err := a.setupBrowser()
	if err != nil {
		return err
	}

	pipelineOpts := []thumbnail.Option{thumbnail.WithMaxDimension(a.cfg.Thumbnail.MaxDimension)}
	if a.cfg.Archive.Enabled {
		a.recorder, err = a.setupArchive(ctx)
		if err != nil {
			return err
		}
		pipelineOpts = append(pipelineOpts, thumbnail.WithRecorder(a.recorder))
	} else {
		a.logger.Info("render archive disabled")
	}

	engine := imaging.NewEngine(imaging.WithLogger(a.logger.Named("imaging")))
	a.pipeline, err = thumbnail.NewPipeline(capturer, engine, a.logger.Named("pipeline"), pipelineOpts...)
	if err != nil {
		return fmt.Errorf("pipeline init failed: %w", err)
	}

	var serverOpts []api.Option
	if a.renders != nil {
		serverOpts = append(serverOpts, api.WithReadinessCheck("database", a.renders.Ping))
	}
	a.apiServer = api.NewServer(a.pipeline, *a.cfg, a.logger, serverOpts...)
	return nil
}

func (a *App) setupBrowser() (*browser.Manager, error) {
	resolver := browser.NewResolver(browser.ResolverConfig{
		ExecPath:    a.cfg.Headless.ExecPath,
		ManagedPath: a.cfg.Headless.ManagedPath,
		Fs:          a.fs,
	})
	// A missing browser surfaces per request as LaunchFailed.
	if res, err := resolver.Resolve(); err != nil {
		a.logger.Warn("no browser executable found", zap.Error(err))
	} else {
		a.logger.Info("browser executable resolved",
			zap.String("path", res.Path),
			zap.String("source", res.Source),
			zap.Bool("managed", res.Managed),
		)
	}

	manager, err := browser.NewManager(browser.Config{
		NavigationTimeout: a.cfg.Headless.NavigationTimeout(),
		CaptureTimeout:    a.cfg.Headless.CaptureTimeout(),
		Idle: &browser.IdlePolicy{
			Settle:      a.cfg.Headless.IdleSettle(),
			MaxInflight: a.cfg.Headless.IdleMaxInflight,
		},
		UserAgent: a.cfg.Headless.UserAgent,
	}, resolver, browser.NewChromedpDriver(a.logger.Named("chromedp")), a.logger.Named("browser"))
	if err != nil {
		return nil, fmt.Errorf("browser manager init failed: %w", err)
	}
	return manager, nil
}

func (a *App) setupArchive(ctx context.Context) (*archive.Recorder, error) {
	blobs, err := a.setupStorage(ctx)
	if err != nil {
		return nil, err
	}
	opts := []archive.Option{archive.WithBlobStore(blobs)}

	if err := a.setupDatabase(ctx); err != nil {
		return nil, err
	}
	if a.renders != nil {
		opts = append(opts, archive.WithRenderStore(a.renders))
	}

	pub, err := a.setupPublisher(ctx)
	if err != nil {
		return nil, err
	}
	opts = append(opts, archive.WithPublisher(pub))

	return archive.New(archive.Config{
		Prefix:  a.cfg.Archive.Prefix,
		Topic:   a.cfg.PubSub.TopicName,
		Timeout: a.cfg.Archive.ArchiveTimeout(),
	}, a.logger.Named("archive"), opts...), nil
}

func (a *App) setupStorage(ctx context.Context) (blobstore.BlobStore, error) {
	switch a.cfg.Archive.Backend {
	case config.BackendGCS:
		a.logger.Info("using GCS archive backend", zap.String("bucket", a.cfg.Archive.Bucket))
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.storage = client
		blobs, err := gcsstorage.New(client, gcsstorage.Config{
			Bucket:       a.cfg.Archive.Bucket,
			CacheControl: a.cfg.Archive.CacheControl,
		})
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		return blobs, nil
	case config.BackendLocal:
		a.logger.Info("using local archive backend", zap.String("path", a.cfg.Archive.Local.BaseDir))
		blobs, err := localstorage.New(localstorage.Config{BaseDir: a.cfg.Archive.Local.BaseDir}, a.fs)
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		return blobs, nil
	default:
		a.logger.Info("using in-memory archive backend")
		return memorystorage.NewBlobStore(), nil
	}
}

func (a *App) setupDatabase(ctx context.Context) error {
	if a.cfg.Database.DSN == "" {
		a.logger.Warn("no DSN specified for database, skipping render log")
		return nil
	}
	renders, err := pgstore.NewRenderStore(ctx, pgstore.RenderStoreConfig{
		DSN:             a.cfg.Database.DSN,
		Table:           a.cfg.Database.Table,
		MaxConns:        a.cfg.Database.MaxConns,
		MinConns:        a.cfg.Database.MinConns,
		MaxConnLifetime: a.cfg.Database.MaxConnLifetime,
	})
	if err != nil {
		return fmt.Errorf("render store init failed: %w", err)
	}
	a.renders = renders
	if err := renders.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("render store schema: %w", err)
	}
	a.logger.Info("render store initialized", zap.String("table", a.cfg.Database.Table))
	return nil
}

func (a *App) setupPublisher(ctx context.Context) (publisher.Publisher, error) {
	if a.cfg.PubSub.TopicName == "" || a.cfg.PubSub.ProjectID == "" {
		a.logger.Warn("no Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	pub, err := gcppublisher.Dial(ctx, a.cfg.PubSub.ProjectID, a.cfg.PubSub.TopicName)
	if err != nil {
		return nil, fmt.Errorf("pubsub publisher init failed: %w", err)
	}
	a.publisher = pub
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return pub, nil
}

// Generate runs one request through the pipeline outside of HTTP.
func (a *App) Generate(ctx context.Context, req thumbnail.Request) (thumbnail.Result, error) {
	return a.pipeline.Generate(ctx, req)
}

// Handler returns the HTTP handler.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Run serves HTTP until ctx is canceled or SIGINT/SIGTERM arrives, then shuts down gracefully.
func (a *App) Run(ctx context.Context) error {
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
			serveErr <- err
			stop()
		}
		close(serveErr)
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout())
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	closeErr := a.Close(shutdownCtx)
	if err := <-serveErr; err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	return closeErr
}

// Close drains the archive and releases every client. It is safe on a partially built App and
// only the first call does any work.
func (a *App) Close(ctx context.Context) error {
	a.closeOnce.Do(func() {
		if a.recorder != nil {
			if err := a.recorder.Close(ctx); err != nil {
				a.closeErr = fmt.Errorf("archive close: %w", err)
			}
		}
		a.closeInfrastructure()
		a.closeObservability(ctx)
		a.logger.Info("shutdown complete")
	})
	return a.closeErr
}

func (a *App) closeInfrastructure() {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.logger.Warn("pubsub publisher close failed", zap.Error(err))
		}
	}
	if a.storage != nil {
		if err := a.storage.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.renders != nil {
		a.renders.Close()
	}
}

func (a *App) closeObservability(ctx context.Context) {
	if err := a.telemetry.Shutdown(ctx); err != nil {
		a.logger.Warn("telemetry shutdown failed", zap.Error(err))
	}
	_ = a.logger.Sync()
}
